package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"trainingattend/internal/metrics"
	"trainingattend/internal/notify"
)

// Service coordinates registration, check-in, declarations and manual overrides. It adds
// no business rules of its own: validation errors from the ledger, state machine and
// declaration validator are returned unchanged.
type Service struct {
	store       Store
	people      People
	notifier    notify.Notifier
	now         func() time.Time
	sendTimeout time.Duration
	logger      *log.Logger
}

// NewService creates a service. now defaults to time.Now.
func NewService(store Store, people People, notifier notify.Notifier, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       store,
		people:      people,
		notifier:    notifier,
		now:         now,
		sendTimeout: 10 * time.Second,
		logger:      log.Default(),
	}
}

// WithLogger replaces the service logger.
func (s *Service) WithLogger(l *log.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithSendTimeout bounds the synchronous registration confirmation.
func (s *Service) WithSendTimeout(d time.Duration) *Service {
	if d > 0 {
		s.sendTimeout = d
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) person(ctx context.Context, id string) (Person, error) {
	p, err := s.people.Person(ctx, id)
	if errors.Is(err, ErrNoRows) {
		return Person{}, newError(KindNotFound, CodePersonNotFound, "person not found")
	}
	if err != nil {
		return Person{}, fmt.Errorf("load person: %w", err)
	}
	return p, nil
}

// SyncPerson records p in the directory from a verified identity. It writes only when the
// entry is missing or differs.
func (s *Service) SyncPerson(ctx context.Context, p Person) error {
	if strings.TrimSpace(p.ID) == "" {
		return invalidInput("person id is required")
	}
	cur, err := s.people.Person(ctx, p.ID)
	switch {
	case err == nil && cur == p:
		return nil
	case err != nil && !errors.Is(err, ErrNoRows):
		return fmt.Errorf("load person: %w", err)
	}
	if err := s.people.UpsertPerson(ctx, p); err != nil {
		return fmt.Errorf("upsert person: %w", err)
	}
	return nil
}

func loadSession(ctx context.Context, tx Tx, id string) (Session, error) {
	sess, err := tx.Session(ctx, id)
	if errors.Is(err, ErrNoRows) {
		return Session{}, sessionNotFound()
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// existingRecord returns the pair's record or nil when there is none.
func existingRecord(ctx context.Context, tx Tx, sessionID, personID string) (*Record, error) {
	rec, err := tx.Attendance(ctx, sessionID, personID)
	if errors.Is(err, ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	return &rec, nil
}

func save(ctx context.Context, tx Tx, existing *Record, next Record) error {
	if existing == nil {
		return tx.InsertAttendance(ctx, next)
	}
	return tx.UpdateAttendance(ctx, next)
}

// Register reserves a seat for personID and sends a confirmation once the registration is
// stored. A failed confirmation is logged and counted; it does not undo the registration.
func (s *Service) Register(ctx context.Context, sessionID, personID string) (Record, error) {
	p, err := s.person(ctx, personID)
	if err != nil {
		return Record{}, err
	}
	now := s.clock()

	var (
		rec  Record
		sess Session
	)
	err = s.store.Atomic(ctx, sessionID, func(tx Tx) error {
		var err error
		if sess, err = loadSession(ctx, tx, sessionID); err != nil {
			return err
		}
		existing, err := existingRecord(ctx, tx, sessionID, personID)
		if err != nil {
			return err
		}
		occupied, err := tx.CountOccupied(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("count occupied seats: %w", err)
		}
		if err := Reserve(sess, existing, occupied, now); err != nil {
			return err
		}
		rec = register(existing, sessionID, personID, now)
		return save(ctx, tx, existing, rec)
	})
	metrics.Registrations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return Record{}, err
	}

	s.send(ctx, p.Email, notify.TemplateRegistration, SessionTemplateData(sess, p))
	return rec, nil
}

// CheckIn marks personID present. Without a prior registration a walk-up record is created
// directly in attended, ignoring capacity. Checking in twice returns the existing record.
func (s *Service) CheckIn(ctx context.Context, sessionID, personID string, method Method) (Record, error) {
	if method != "" && !method.Valid() {
		return Record{}, invalidInput(fmt.Sprintf("unknown check-in method %q", method))
	}
	if _, err := s.person(ctx, personID); err != nil {
		return Record{}, err
	}
	now := s.clock()

	var (
		rec  Record
		path string
	)
	err := s.store.Atomic(ctx, sessionID, func(tx Tx) error {
		if _, err := loadSession(ctx, tx, sessionID); err != nil {
			return err
		}
		existing, err := existingRecord(ctx, tx, sessionID, personID)
		if err != nil {
			return err
		}
		next, changed := checkIn(existing, sessionID, personID, method, now)
		rec = next
		switch {
		case existing == nil:
			path = "walk_up"
		case !changed:
			path = "repeat"
			return nil
		default:
			path = "registered"
		}
		return save(ctx, tx, existing, next)
	})
	if err != nil {
		return Record{}, err
	}
	metrics.CheckIns.WithLabelValues(path).Inc()
	return rec, nil
}

// SubmitDeclaration records personID's declaration for an attendance they own and marks the
// attendance attended if it was not already.
func (s *Service) SubmitDeclaration(ctx context.Context, attendanceID, personID string, in DeclarationInput) (Declaration, error) {
	if err := validateDeclaration(in); err != nil {
		metrics.Declarations.WithLabelValues(outcome(err)).Inc()
		return Declaration{}, err
	}
	// the session id is needed to take the same lock as check-in and override
	rec, err := s.store.AttendanceByID(ctx, attendanceID)
	if errors.Is(err, ErrNoRows) || (err == nil && rec.PersonID != personID) {
		metrics.Declarations.WithLabelValues(string(CodeAttendanceNotFound)).Inc()
		return Declaration{}, attendanceNotFound()
	}
	if err != nil {
		return Declaration{}, fmt.Errorf("load attendance: %w", err)
	}

	var d Declaration
	err = s.store.Atomic(ctx, rec.SessionID, func(tx Tx) error {
		var err error
		d, _, err = submitDeclaration(ctx, tx, attendanceID, personID, in, s.clock())
		return err
	})
	metrics.Declarations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return Declaration{}, err
	}
	return d, nil
}

// MarkManually is the administrator override: it sets any status on the pair's record,
// creating the record when needed, and stamps the verifier. Prior state is not checked.
func (s *Service) MarkManually(ctx context.Context, sessionID, personID string, status Status, verifierID, notes string) (Record, error) {
	if !status.Valid() {
		return Record{}, newError(KindInvalidInput, CodeInvalidStatus, fmt.Sprintf("unknown attendance status %q", status))
	}
	if verifierID == "" {
		return Record{}, invalidInput("verifier is required")
	}
	if _, err := s.person(ctx, personID); err != nil {
		return Record{}, err
	}
	now := s.clock()

	var rec Record
	err := s.store.Atomic(ctx, sessionID, func(tx Tx) error {
		if _, err := loadSession(ctx, tx, sessionID); err != nil {
			return err
		}
		existing, err := existingRecord(ctx, tx, sessionID, personID)
		if err != nil {
			return err
		}
		rec = override(existing, sessionID, personID, status, verifierID, notes, now)
		return save(ctx, tx, existing, rec)
	})
	if err != nil {
		return Record{}, err
	}
	metrics.Overrides.WithLabelValues(string(status)).Inc()
	return rec, nil
}

// send dispatches one notification after a committed transition. Failures are soft.
func (s *Service) send(ctx context.Context, to, template string, data notify.Data) {
	if s.notifier == nil {
		return
	}
	if to == "" {
		s.logger.Printf("[attendance] %s skipped: no recipient address", template)
		return
	}
	// a client disconnect must not cancel the confirmation of a committed registration
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
	defer cancel()
	if err := s.notifier.Send(sendCtx, to, template, data); err != nil {
		metrics.Notifications.WithLabelValues(template, metrics.ResultFailed).Inc()
		s.logger.Printf("[attendance] %s to %s failed: %v", template, to, err)
		return
	}
	metrics.Notifications.WithLabelValues(template, metrics.ResultSent).Inc()
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	if de, ok := AsError(err); ok && de.Code != "" {
		return string(de.Code)
	}
	return "error"
}

// SessionTemplateData is the payload for the registration and reminder templates.
func SessionTemplateData(sess Session, p Person) notify.Data {
	location := sess.Location
	if location == "" {
		location = "Virtual"
	}
	link := ""
	if sess.IsVirtual {
		link = sess.MeetingLink
	}
	start := sess.StartsAt.UTC()
	return notify.Data{
		"userName":         p.DisplayName(),
		"trainingTitle":    sess.Title,
		"trainingDate":     start.Format("Monday, 2 January 2006"),
		"trainingTime":     start.Format("15:04 MST"),
		"trainingLocation": location,
		"trainingLink":     link,
	}
}
