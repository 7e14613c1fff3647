package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"trainingattend/internal/notify"
)

type sentNotification struct {
	to       string
	template string
	data     notify.Data
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, to, template string, data notify.Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{to: to, template: template, data: data})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	store    *MemoryStore
	notifier *fakeNotifier
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), notifier: &fakeNotifier{}, now: testNow}
	f.svc = NewService(f.store, f.store, f.notifier, func() time.Time { return f.now }).
		WithLogger(log.New(io.Discard, "", 0))
	for _, id := range []string{"alice", "bob", "carol"} {
		f.store.UpsertPerson(context.Background(), Person{ID: id, Email: id + "@example.com", FirstName: id, Role: "employee"})
	}
	return f
}

func (f *fixture) session(t *testing.T, capacity *int) Session {
	t.Helper()
	s, err := f.svc.CreateSession(context.Background(), SessionInput{
		Title:    "Site Safety",
		StartsAt: f.now.Add(24 * time.Hour),
		EndsAt:   f.now.Add(26 * time.Hour),
		Location: "Plant 4",
		Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestRegistrationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, intPtr(1))

	rec, err := f.svc.Register(ctx, sess.ID, "alice")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if rec.Status != StatusRegistered {
		t.Fatalf("status = %q, want registered", rec.Status)
	}
	if f.notifier.count() != 1 || f.notifier.sent[0].template != notify.TemplateRegistration {
		t.Fatalf("confirmations = %+v", f.notifier.sent)
	}
	if got := f.notifier.sent[0].data["trainingLocation"]; got != "Plant 4" {
		t.Fatalf("trainingLocation = %v", got)
	}

	if _, err := f.svc.Register(ctx, sess.ID, "bob"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("register bob = %v, want capacity exceeded", err)
	}
	if _, err := f.svc.Register(ctx, sess.ID, "alice"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("register alice again = %v, want already registered", err)
	}

	f.now = sess.StartsAt.Add(5 * time.Minute)
	checked, err := f.svc.CheckIn(ctx, sess.ID, "alice", MethodQRCode)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if checked.ID != rec.ID || checked.Status != StatusAttended || !checked.CheckInTime.Equal(f.now) {
		t.Fatalf("checked = %+v", checked)
	}

	f.now = f.now.Add(3 * time.Hour)
	d, err := f.svc.SubmitDeclaration(ctx, rec.ID, "alice", DeclarationInput{Content: "  I followed the procedure  "})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if d.Content != "I followed the procedure" || !d.IsCompliant {
		t.Fatalf("declaration = %+v", d)
	}

	_, err = f.svc.SubmitDeclaration(ctx, rec.ID, "alice", DeclarationInput{Content: "second"})
	if !errors.Is(err, ErrDuplicateDeclaration) {
		t.Fatalf("second declaration = %v, want duplicate", err)
	}
	stored, err := f.store.Declaration(ctx, d.ID)
	if err != nil || stored.Content != "I followed the procedure" {
		t.Fatalf("stored declaration = %+v, %v", stored, err)
	}

	after, _ := f.store.AttendanceByID(ctx, rec.ID)
	if *after.Method != MethodQRCode || !after.CheckInTime.Equal(sess.StartsAt.Add(5*time.Minute)) {
		t.Fatalf("declaration changed the check-in: %+v", after)
	}
}

func TestRegisterUnknownSessionAndPerson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, "nope", "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want session not found", err)
	}
	sess := f.session(t, nil)
	_, err := f.svc.Register(ctx, sess.ID, "ghost")
	de, ok := AsError(err)
	if !ok || de.Code != CodePersonNotFound {
		t.Fatalf("err = %v, want PERSON_NOT_FOUND", err)
	}
}

func TestRegisterClosedAndPastSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)

	f.now = sess.StartsAt.Add(time.Minute)
	if _, err := f.svc.Register(ctx, sess.ID, "alice"); !errors.Is(err, ErrSessionInPast) {
		t.Fatalf("err = %v, want session in past", err)
	}
	f.now = testNow
	if _, err := f.svc.SetSessionStatus(ctx, sess.ID, SessionCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Register(ctx, sess.ID, "alice"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want session closed", err)
	}
	if f.notifier.count() != 0 {
		t.Fatalf("confirmation sent for a failed registration")
	}
}

func TestConcurrentRegistrationsNeverExceedCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, intPtr(3))

	const people = 20
	for i := 0; i < people; i++ {
		f.store.UpsertPerson(context.Background(), Person{ID: fmt.Sprintf("p%d", i), Email: fmt.Sprintf("p%d@example.com", i)})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for i := 0; i < people; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Register(ctx, sess.ID, fmt.Sprintf("p%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrCapacityExceeded):
				full++
			default:
				t.Errorf("register p%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 3 || full != people-3 {
		t.Fatalf("ok=%d full=%d, want 3 and %d", ok, full, people-3)
	}
	recs, _ := f.store.SessionAttendance(ctx, sess.ID)
	if len(recs) != 3 {
		t.Fatalf("stored records = %d, want 3", len(recs))
	}
}

func TestConcurrentRegistrationSamePersonKeepsOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, sess.ID, "alice")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrAlreadyRegistered) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", succeeded)
	}
}

func TestWalkUpsIgnoreCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, intPtr(2))

	for _, id := range []string{"alice", "bob", "carol"} {
		rec, err := f.svc.CheckIn(ctx, sess.ID, id, MethodManual)
		if err != nil {
			t.Fatalf("check in %s: %v", id, err)
		}
		if rec.Status != StatusAttended {
			t.Fatalf("status = %q, want attended", rec.Status)
		}
	}
	recs, _ := f.store.SessionAttendance(ctx, sess.ID)
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	f.store.UpsertPerson(context.Background(), Person{ID: "dave", Email: "dave@example.com"})
	if _, err := f.svc.Register(ctx, sess.ID, "dave"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("register after walk-ups = %v, want capacity exceeded", err)
	}
}

func TestCheckInIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)

	first, err := f.svc.CheckIn(ctx, sess.ID, "alice", MethodVirtual)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	f.now = f.now.Add(time.Hour)
	second, err := f.svc.CheckIn(ctx, sess.ID, "alice", MethodQRCode)
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if second.ID != first.ID || !second.CheckInTime.Equal(*first.CheckInTime) || *second.Method != MethodVirtual {
		t.Fatalf("second = %+v, want unchanged %+v", second, first)
	}
	if _, err := f.svc.CheckIn(ctx, sess.ID, "alice", "teleport"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown method = %v, want invalid input", err)
	}
}

func TestDeclarationFlipsRegisteredToSelfDeclared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)

	rec, err := f.svc.Register(ctx, sess.ID, "bob")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.now = sess.EndsAt
	if _, err := f.svc.SubmitDeclaration(ctx, rec.ID, "bob", DeclarationInput{Content: "attended remotely"}); err != nil {
		t.Fatalf("declare: %v", err)
	}
	after, _ := f.store.AttendanceByID(ctx, rec.ID)
	if after.Status != StatusAttended || *after.Method != MethodSelfDeclared || !after.CheckInTime.Equal(sess.EndsAt) {
		t.Fatalf("after = %+v", after)
	}
}

func TestDeclarationOwnershipAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)
	rec, _ := f.svc.CheckIn(ctx, sess.ID, "alice", MethodManual)

	if _, err := f.svc.SubmitDeclaration(ctx, rec.ID, "bob", DeclarationInput{Content: "x"}); !errors.Is(err, ErrAttendanceNotFound) {
		t.Fatalf("foreign declaration = %v, want attendance not found", err)
	}
	if _, err := f.svc.SubmitDeclaration(ctx, "missing", "alice", DeclarationInput{Content: "x"}); !errors.Is(err, ErrAttendanceNotFound) {
		t.Fatalf("missing attendance = %v, want attendance not found", err)
	}
	if _, err := f.svc.SubmitDeclaration(ctx, rec.ID, "alice", DeclarationInput{Content: "   "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank content = %v, want invalid input", err)
	}
	if _, err := f.svc.SubmitDeclaration(ctx, rec.ID, "alice", DeclarationInput{Content: "ok", IPAddress: "not-an-ip"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad ip = %v, want invalid input", err)
	}
	d, err := f.svc.SubmitDeclaration(ctx, rec.ID, "alice", DeclarationInput{Content: "ok", IPAddress: "10.0.0.1", NonCompliant: true})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if d.IsCompliant {
		t.Fatal("declaration flagged non-compliant was stored as compliant")
	}
}

func TestConcurrentDeclarationsStoreOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)
	rec, _ := f.svc.CheckIn(ctx, sess.ID, "alice", MethodManual)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.SubmitDeclaration(ctx, rec.ID, "alice", DeclarationInput{Content: fmt.Sprintf("v%d", i)})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, ErrDuplicateDeclaration) {
				t.Errorf("declare: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}
}

func TestMarkManuallyReopensCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)
	rec, _ := f.svc.Register(ctx, sess.ID, "carol")

	if _, err := f.svc.MarkManually(ctx, sess.ID, "carol", StatusCanceled, "admin", "left early"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := f.svc.MarkManually(ctx, sess.ID, "carol", StatusAttended, "admin", "was on site")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if got.ID != rec.ID || got.Status != StatusAttended || got.Notes != "was on site" {
		t.Fatalf("override = %+v", got)
	}
	if got.VerifiedBy == nil || *got.VerifiedBy != "admin" {
		t.Fatalf("verified by = %v", got.VerifiedBy)
	}

	if _, err := f.svc.MarkManually(ctx, sess.ID, "carol", "gone", "admin", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown status = %v, want invalid input", err)
	}
	if _, err := f.svc.MarkManually(ctx, sess.ID, "carol", StatusMissed, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing verifier = %v, want invalid input", err)
	}
}

func TestCanceledFreesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, intPtr(1))
	if _, err := f.svc.Register(ctx, sess.ID, "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.MarkManually(ctx, sess.ID, "alice", StatusCanceled, "admin", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Register(ctx, sess.ID, "bob"); err != nil {
		t.Fatalf("register bob after cancel: %v", err)
	}
	if _, err := f.svc.Register(ctx, sess.ID, "alice"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("re-register alice = %v, want capacity exceeded", err)
	}
}

func TestConfirmationFailureKeepsRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)
	f.notifier.err = errors.New("gateway down")

	rec, err := f.svc.Register(ctx, sess.ID, "alice")
	if err != nil {
		t.Fatalf("register = %v, want success despite notifier failure", err)
	}
	stored, err := f.store.AttendanceByID(ctx, rec.ID)
	if err != nil || stored.Status != StatusRegistered {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestSessionAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, SessionInput{Title: "Bad", StartsAt: testNow.Add(2 * time.Hour), EndsAt: testNow.Add(time.Hour)})
	if de, ok := AsError(err); !ok || de.Message != "end date must be after start date" {
		t.Fatalf("err = %v, want end date error", err)
	}
	if _, err := f.svc.CreateSession(ctx, SessionInput{StartsAt: testNow, EndsAt: testNow.Add(time.Hour)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing title = %v, want invalid input", err)
	}
	if _, err := f.svc.CreateSession(ctx, SessionInput{Title: "x", StartsAt: testNow, EndsAt: testNow.Add(time.Hour), Capacity: intPtr(0)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero capacity = %v, want invalid input", err)
	}

	empty := f.session(t, nil)
	if err := f.svc.DeleteSession(ctx, empty.ID); err != nil {
		t.Fatalf("delete empty: %v", err)
	}
	if err := f.svc.DeleteSession(ctx, empty.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("delete twice = %v, want not found", err)
	}

	busy := f.session(t, nil)
	if _, err := f.svc.Register(ctx, busy.ID, "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.svc.DeleteSession(ctx, busy.ID); !errors.Is(err, ErrSessionHasAttendance) {
		t.Fatalf("delete busy = %v, want has attendance", err)
	}
	if _, err := f.svc.SetSessionStatus(ctx, busy.ID, "paused"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status = %v, want invalid input", err)
	}
}

func TestUpcomingAndMandatorySessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		in := SessionInput{
			Title:       fmt.Sprintf("Session %d", i),
			StartsAt:    testNow.Add(time.Duration(i+1) * time.Hour),
			EndsAt:      testNow.Add(time.Duration(i+2) * time.Hour),
			IsMandatory: i%4 == 0,
		}
		if _, err := f.svc.CreateSession(ctx, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	up, err := f.svc.UpcomingSessions(ctx)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(up) != 10 || up[0].Title != "Session 0" {
		t.Fatalf("upcoming = %d sessions, first %q", len(up), up[0].Title)
	}

	if _, err := f.svc.Register(ctx, up[0].ID, "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	mandatory, err := f.svc.MandatorySessions(ctx, "alice")
	if err != nil {
		t.Fatalf("mandatory: %v", err)
	}
	if len(mandatory) != 3 {
		t.Fatalf("mandatory = %d, want 3", len(mandatory))
	}
	if mandatory[0].AttendanceStatus == nil || *mandatory[0].AttendanceStatus != StatusRegistered {
		t.Fatalf("first mandatory status = %v", mandatory[0].AttendanceStatus)
	}
	if mandatory[1].AttendanceStatus != nil {
		t.Fatalf("second mandatory status = %v, want nil", *mandatory[1].AttendanceStatus)
	}
}

func TestListingsAndCompliance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, nil)
	rec, _ := f.svc.CheckIn(ctx, sess.ID, "alice", MethodManual)
	_, _ = f.svc.Register(ctx, sess.ID, "bob")
	d, err := f.svc.SubmitDeclaration(ctx, rec.ID, "alice", DeclarationInput{Content: "done"})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}

	views, err := f.svc.SessionAttendance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("session attendance: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}
	declared := 0
	for _, v := range views {
		if v.Person == nil {
			t.Fatalf("view without person: %+v", v)
		}
		if v.Declared() {
			declared++
		}
	}
	if declared != 1 {
		t.Fatalf("declared = %d, want 1", declared)
	}
	if _, err := f.svc.SessionAttendance(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session = %v", err)
	}

	mine, _ := f.svc.PersonAttendance(ctx, "alice")
	if len(mine) != 1 || mine[0].Declaration == nil || mine[0].Session == nil {
		t.Fatalf("alice history = %+v", mine)
	}

	annotated, err := f.svc.AnnotateDeclaration(ctx, d.ID, false, "signature missing")
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if annotated.IsCompliant || annotated.ComplianceNotes != "signature missing" || annotated.Content != "done" {
		t.Fatalf("annotated = %+v", annotated)
	}
	if _, err := f.svc.AnnotateDeclaration(ctx, "nope", true, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("annotate missing = %v, want not found", err)
	}
}

type countingPeople struct {
	*MemoryStore
	upserts int
}

func (c *countingPeople) UpsertPerson(ctx context.Context, p Person) error {
	c.upserts++
	return c.MemoryStore.UpsertPerson(ctx, p)
}

func TestSyncPerson(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	people := &countingPeople{MemoryStore: store}
	svc := NewService(store, people, nil, func() time.Time { return testNow }).WithLogger(log.New(io.Discard, "", 0))

	dave := Person{ID: "dave", Email: "dave@example.com", FirstName: "Dave", Role: "employee"}
	if err := svc.SyncPerson(ctx, dave); err != nil {
		t.Fatalf("sync new: %v", err)
	}
	if err := svc.SyncPerson(ctx, dave); err != nil {
		t.Fatalf("sync unchanged: %v", err)
	}
	if people.upserts != 1 {
		t.Fatalf("upserts = %d, want 1 for an unchanged entry", people.upserts)
	}
	dave.Email = "d.smith@example.com"
	if err := svc.SyncPerson(ctx, dave); err != nil {
		t.Fatalf("sync changed: %v", err)
	}
	if got, _ := store.Person(ctx, "dave"); got.Email != "d.smith@example.com" || people.upserts != 2 {
		t.Fatalf("person = %+v after %d upserts", got, people.upserts)
	}
	if err := svc.SyncPerson(ctx, Person{Email: "x@example.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("sync without id = %v, want invalid input", err)
	}
}

func TestSessionDetailSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limited := f.session(t, intPtr(2))
	if _, err := f.svc.Register(ctx, limited.ID, "alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	d, err := f.svc.SessionDetail(ctx, limited.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if d.ID != limited.ID || d.SeatsLeft != 1 {
		t.Fatalf("detail = %+v, want 1 seat left", d)
	}

	open := f.session(t, nil)
	if d, err := f.svc.SessionDetail(ctx, open.ID); err != nil || d.SeatsLeft != -1 {
		t.Fatalf("unlimited detail = %+v, %v", d, err)
	}
	if _, err := f.svc.SessionDetail(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing detail = %v, want session not found", err)
	}
}
