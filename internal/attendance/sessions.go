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

// SessionInput describes a session to create.
type SessionInput struct {
	Title              string    `json:"title" validate:"required,max=255"`
	Description        string    `json:"description"`
	StartsAt           time.Time `json:"starts_at" validate:"required"`
	EndsAt             time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	Location           string    `json:"location" validate:"max=255"`
	IsVirtual          bool      `json:"is_virtual"`
	MeetingLink        string    `json:"meeting_link" validate:"omitempty,url"`
	Capacity           *int      `json:"capacity" validate:"omitempty,min=1"`
	IsMandatory        bool      `json:"is_mandatory"`
	FacilitatorName    string    `json:"facilitator_name" validate:"max=255"`
	FacilitatorContact string    `json:"facilitator_contact" validate:"max=255"`
}

// CreateSession schedules a new session.
func (s *Service) CreateSession(ctx context.Context, in SessionInput) (Session, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if verrs[0].Field() == "EndsAt" && verrs[0].Tag() == "gtfield" {
				return Session{}, invalidInput("end date must be after start date")
			}
			return Session{}, invalidInput(fmt.Sprintf("session %s is invalid (%s)", strings.ToLower(verrs[0].Field()), verrs[0].Tag()))
		}
		return Session{}, invalidInput("session is invalid")
	}
	now := s.clock()
	sess := Session{
		ID:                 uuid.NewString(),
		Title:              in.Title,
		Description:        in.Description,
		StartsAt:           in.StartsAt.UTC(),
		EndsAt:             in.EndsAt.UTC(),
		Location:           in.Location,
		IsVirtual:          in.IsVirtual,
		MeetingLink:        in.MeetingLink,
		Capacity:           in.Capacity,
		IsMandatory:        in.IsMandatory,
		FacilitatorName:    in.FacilitatorName,
		FacilitatorContact: in.FacilitatorContact,
		Status:             SessionScheduled,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	sess, err := s.store.Session(ctx, id)
	if errors.Is(err, ErrNoRows) {
		return Session{}, sessionNotFound()
	}
	return sess, err
}

// SessionDetail is a session with its remaining seats.
type SessionDetail struct {
	Session
	// SeatsLeft is -1 for sessions without a capacity.
	SeatsLeft int `json:"seats_left"`
}

// SessionDetail returns a session and its live seat count.
func (s *Service) SessionDetail(ctx context.Context, id string) (SessionDetail, error) {
	var d SessionDetail
	err := s.store.Atomic(ctx, id, func(tx Tx) error {
		sess, err := loadSession(ctx, tx, id)
		if err != nil {
			return err
		}
		occupied, err := tx.CountOccupied(ctx, id)
		if err != nil {
			return fmt.Errorf("count occupied: %w", err)
		}
		d = SessionDetail{Session: sess, SeatsLeft: SeatsLeft(sess, occupied)}
		return nil
	})
	return d, err
}

// SetSessionStatus moves a session through its lifecycle, e.g. to cancelled.
func (s *Service) SetSessionStatus(ctx context.Context, id string, status SessionStatus) (Session, error) {
	if !status.Valid() {
		return Session{}, newError(KindInvalidInput, CodeInvalidStatus, fmt.Sprintf("unknown session status %q", status))
	}
	err := s.store.UpdateSessionStatus(ctx, id, status, s.clock())
	if errors.Is(err, ErrNoRows) {
		return Session{}, sessionNotFound()
	}
	if err != nil {
		return Session{}, fmt.Errorf("update session status: %w", err)
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session without attendance. Sessions with records can only be
// cancelled.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	err := s.store.DeleteSession(ctx, id)
	if errors.Is(err, ErrNoRows) {
		return sessionNotFound()
	}
	return err
}

// UpcomingSessions lists the next scheduled sessions.
func (s *Service) UpcomingSessions(ctx context.Context) ([]Session, error) {
	return s.store.UpcomingSessions(ctx, s.clock(), false, 10)
}

// MandatorySessions lists upcoming mandatory sessions with personID's attendance state.
func (s *Service) MandatorySessions(ctx context.Context, personID string) ([]MandatorySession, error) {
	sessions, err := s.store.UpcomingSessions(ctx, s.clock(), true, 0)
	if err != nil {
		return nil, err
	}
	mine, err := s.store.AttendanceForPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	bySession := make(map[string]Record, len(mine))
	for _, v := range mine {
		bySession[v.SessionID] = v.Record
	}
	out := make([]MandatorySession, 0, len(sessions))
	for _, sess := range sessions {
		ms := MandatorySession{Session: sess}
		if rec, ok := bySession[sess.ID]; ok {
			status, id := rec.Status, rec.ID
			ms.AttendanceStatus = &status
			ms.AttendanceID = &id
		}
		out = append(out, ms)
	}
	return out, nil
}

// SessionAttendance lists every record of a session with people and declarations.
func (s *Service) SessionAttendance(ctx context.Context, sessionID string) ([]RecordView, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.AttendanceForSession(ctx, sessionID)
}

// PersonAttendance lists personID's attendance history, newest session first.
func (s *Service) PersonAttendance(ctx context.Context, personID string) ([]RecordView, error) {
	return s.store.AttendanceForPerson(ctx, personID)
}

// AnnotateDeclaration records an administrator's compliance finding on a declaration. The
// submitted content is never changed.
func (s *Service) AnnotateDeclaration(ctx context.Context, declarationID string, compliant bool, notes string) (Declaration, error) {
	err := s.store.AnnotateDeclaration(ctx, declarationID, compliant, notes)
	if errors.Is(err, ErrNoRows) {
		return Declaration{}, newError(KindNotFound, CodeDeclarationNotFound, "declaration not found")
	}
	if err != nil {
		return Declaration{}, fmt.Errorf("annotate declaration: %w", err)
	}
	return s.store.Declaration(ctx, declarationID)
}
