package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DeclarationInput is what a participant submits after a session.
type DeclarationInput struct {
	Content   string `json:"content" validate:"required,max=20000"`
	Signature string `json:"signature" validate:"max=2048"`
	IPAddress string `json:"-" validate:"omitempty,ip"`
	UserAgent string `json:"-" validate:"max=512"`
	// NonCompliant lets a policy flag the declaration at submission time. The zero value
	// records a compliant declaration.
	NonCompliant    bool   `json:"-"`
	ComplianceNotes string `json:"-" validate:"max=4000"`
}

var validate = validator.New()

func validateDeclaration(in DeclarationInput) error {
	in.Content = strings.TrimSpace(in.Content)
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return invalidInput(fmt.Sprintf("declaration %s is invalid (%s)", strings.ToLower(verrs[0].Field()), verrs[0].Tag()))
		}
		return invalidInput("declaration is invalid")
	}
	return nil
}

// submitDeclaration runs inside an atomic unit: it checks ownership and uniqueness, stores
// the declaration and applies the declaration-side attendance transition. The returned
// record is the attendance after the transition.
func submitDeclaration(ctx context.Context, tx Tx, attendanceID, personID string, in DeclarationInput, now time.Time) (Declaration, Record, error) {
	rec, err := tx.AttendanceByID(ctx, attendanceID)
	if errors.Is(err, ErrNoRows) {
		return Declaration{}, Record{}, attendanceNotFound()
	}
	if err != nil {
		return Declaration{}, Record{}, fmt.Errorf("load attendance: %w", err)
	}
	// a record owned by someone else is reported as missing, not forbidden
	if rec.PersonID != personID {
		return Declaration{}, Record{}, attendanceNotFound()
	}

	if _, err := tx.DeclarationFor(ctx, attendanceID); err == nil {
		return Declaration{}, Record{}, duplicateDeclaration()
	} else if !errors.Is(err, ErrNoRows) {
		return Declaration{}, Record{}, fmt.Errorf("load declaration: %w", err)
	}

	d := Declaration{
		ID:              uuid.NewString(),
		AttendanceID:    attendanceID,
		Content:         strings.TrimSpace(in.Content),
		Signature:       in.Signature,
		SubmittedAt:     now,
		IPAddress:       in.IPAddress,
		UserAgent:       in.UserAgent,
		IsCompliant:     !in.NonCompliant,
		ComplianceNotes: in.ComplianceNotes,
	}
	if err := tx.InsertDeclaration(ctx, d); err != nil {
		return Declaration{}, Record{}, err
	}

	next, changed := declare(rec, now)
	if changed {
		if err := tx.UpdateAttendance(ctx, next); err != nil {
			return Declaration{}, Record{}, fmt.Errorf("update attendance: %w", err)
		}
	}
	return d, next, nil
}
