package attendance

import (
	"context"
	"time"
)

// Tx is the store as seen from inside one atomic unit. Lookups that match nothing return
// ErrNoRows.
type Tx interface {
	Session(ctx context.Context, id string) (Session, error)
	Attendance(ctx context.Context, sessionID, personID string) (Record, error)
	AttendanceByID(ctx context.Context, id string) (Record, error)
	CountOccupied(ctx context.Context, sessionID string) (int, error)
	InsertAttendance(ctx context.Context, rec Record) error
	UpdateAttendance(ctx context.Context, rec Record) error
	DeclarationFor(ctx context.Context, attendanceID string) (Declaration, error)
	InsertDeclaration(ctx context.Context, d Declaration) error
}

// Store persists sessions, attendance and declarations.
//
// Atomic runs fn in one unit of work. Units that name the same sessionID are serialized, so
// a count followed by an insert inside fn cannot race another unit for the same session.
// If fn returns an error nothing it wrote is kept.
type Store interface {
	Atomic(ctx context.Context, sessionID string, fn func(Tx) error) error

	Session(ctx context.Context, id string) (Session, error)
	AttendanceByID(ctx context.Context, id string) (Record, error)
	Declaration(ctx context.Context, id string) (Declaration, error)

	InsertSession(ctx context.Context, s Session) error
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, at time.Time) error
	// DeleteSession removes a session that has no attendance records. It returns
	// ErrSessionHasAttendance when records exist.
	DeleteSession(ctx context.Context, id string) error
	AnnotateDeclaration(ctx context.Context, id string, compliant bool, notes string) error

	UpcomingSessions(ctx context.Context, from time.Time, mandatoryOnly bool, limit int) ([]Session, error)
	AttendanceForSession(ctx context.Context, sessionID string) ([]RecordView, error)
	AttendanceForPerson(ctx context.Context, personID string) ([]RecordView, error)

	ReminderSource
}

// ReminderSource is the read-only view used by the reminder sweeps.
type ReminderSource interface {
	// SessionsStartingBetween returns scheduled sessions with from <= start <= to.
	SessionsStartingBetween(ctx context.Context, from, to time.Time) ([]Session, error)
	// SessionAttendance returns every record for the session.
	SessionAttendance(ctx context.Context, sessionID string) ([]Record, error)
	// AttendedWithoutDeclaration returns attended records checked in within [from, to] that
	// have no declaration of any kind.
	AttendedWithoutDeclaration(ctx context.Context, from, to time.Time) ([]RecordView, error)
}

// Directory resolves people for notifications and ownership checks. Person returns
// ErrNoRows for unknown ids.
type Directory interface {
	Person(ctx context.Context, id string) (Person, error)
}

// People is a Directory that also records people.
type People interface {
	Directory
	UpsertPerson(ctx context.Context, p Person) error
}

// ErrSessionHasAttendance is returned by DeleteSession when records exist.
var ErrSessionHasAttendance = newError(KindInvalidState, CodeSessionHasAttendance,
	"cannot delete training with existing attendances; cancel it instead")
