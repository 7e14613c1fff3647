package attendance

import "errors"

// Kind classifies domain errors so callers can pick a response without parsing messages.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInvalidState         Kind = "invalid_state"
	KindInvalidInput         Kind = "invalid_input"
	KindCapacityExceeded     Kind = "capacity_exceeded"
	KindAlreadyRegistered    Kind = "already_registered"
	KindDuplicateDeclaration Kind = "duplicate_declaration"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionInPast        Code = "SESSION_IN_PAST"
	CodeSessionClosed        Code = "SESSION_CLOSED"
	CodeSessionHasAttendance Code = "SESSION_HAS_ATTENDANCE"
	CodeCapacityExceeded     Code = "CAPACITY_EXCEEDED"
	CodeAlreadyRegistered    Code = "ALREADY_REGISTERED"
	CodeAttendanceNotFound   Code = "ATTENDANCE_NOT_FOUND"
	CodeDeclarationNotFound  Code = "DECLARATION_NOT_FOUND"
	CodeDuplicateDeclaration Code = "DUPLICATE_DECLARATION"
	CodePersonNotFound       Code = "PERSON_NOT_FOUND"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeInvalidStatus        Code = "INVALID_STATUS"
	CodeInvalidCheckInToken  Code = "INVALID_CHECKIN_TOKEN"
)

// Error is a domain error carrying a kind, a code and a user-facing message.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrCapacityExceeded) works for
// every capacity failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrCapacityExceeded     = &Error{Kind: KindCapacityExceeded}
	ErrAlreadyRegistered    = &Error{Kind: KindAlreadyRegistered}
	ErrDuplicateDeclaration = &Error{Kind: KindDuplicateDeclaration}
)

// Code-specific sentinels.
var (
	ErrSessionNotFound    = &Error{Kind: KindNotFound, Code: CodeSessionNotFound}
	ErrSessionInPast      = &Error{Kind: KindInvalidState, Code: CodeSessionInPast}
	ErrSessionClosed      = &Error{Kind: KindInvalidState, Code: CodeSessionClosed}
	ErrAttendanceNotFound = &Error{Kind: KindNotFound, Code: CodeAttendanceNotFound}
)

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func sessionNotFound() error {
	return newError(KindNotFound, CodeSessionNotFound, "training session not found")
}

func attendanceNotFound() error {
	return newError(KindNotFound, CodeAttendanceNotFound, "attendance record not found")
}

func alreadyRegistered() error {
	return newError(KindAlreadyRegistered, CodeAlreadyRegistered, "already registered for this training session")
}

func duplicateDeclaration() error {
	return newError(KindDuplicateDeclaration, CodeDuplicateDeclaration, "declaration form has already been submitted")
}

func invalidInput(msg string) error {
	return newError(KindInvalidInput, CodeInvalidInput, msg)
}

// AsError extracts a domain error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ErrNoRows is returned by Store lookups that match nothing.
var ErrNoRows = errors.New("attendance: no rows")
