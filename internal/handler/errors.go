package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"trainingattend/internal/attendance"
)

// statusFor maps a domain error to an HTTP status.
func statusFor(de *attendance.Error) int {
	switch de.Kind {
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindInvalidInput:
		return http.StatusBadRequest
	case attendance.KindInvalidState:
		if de.Code == attendance.CodeSessionInPast {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case attendance.KindCapacityExceeded, attendance.KindAlreadyRegistered, attendance.KindDuplicateDeclaration:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	if de, ok := attendance.AsError(err); ok {
		c.JSON(statusFor(de), gin.H{"error": de.Message, "code": de.Code})
		return
	}
	log.Printf("[http] %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": attendance.CodeInvalidInput})
}
