package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

type pairKey struct {
	sessionID string
	personID  string
}

// MemoryStore is an in-process Store and Directory for development and tests. Atomic units
// on the same session are serialized with a per-session mutex; writes are staged and applied
// only when the unit succeeds.
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]Session
	records      map[string]Record
	pairs        map[pairKey]string
	declarations map[string]Declaration
	byAttendance map[string]string
	people       map[string]Person

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]Session),
		records:      make(map[string]Record),
		pairs:        make(map[pairKey]string),
		declarations: make(map[string]Declaration),
		byAttendance: make(map[string]string),
		people:       make(map[string]Person),
		locks:        make(map[string]*sync.Mutex),
	}
}

// UpsertPerson implements People.
func (m *MemoryStore) UpsertPerson(_ context.Context, p Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[p.ID] = p
	return nil
}

// Person implements Directory.
func (m *MemoryStore) Person(_ context.Context, id string) (Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[id]
	if !ok {
		return Person{}, ErrNoRows
	}
	return p, nil
}

func (m *MemoryStore) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Atomic implements Store.
func (m *MemoryStore) Atomic(ctx context.Context, sessionID string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	tx := &memTx{
		store:        m,
		records:      make(map[string]Record),
		declarations: make(map[string]Declaration),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	store        *MemoryStore
	records      map[string]Record
	declarations map[string]Declaration
}

func (t *memTx) Session(_ context.Context, id string) (Session, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	s, ok := t.store.sessions[id]
	if !ok {
		return Session{}, ErrNoRows
	}
	return s, nil
}

func (t *memTx) Attendance(_ context.Context, sessionID, personID string) (Record, error) {
	for _, r := range t.records {
		if r.SessionID == sessionID && r.PersonID == personID {
			return r, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.pairs[pairKey{sessionID, personID}]
	if !ok {
		return Record{}, ErrNoRows
	}
	return t.store.records[id], nil
}

func (t *memTx) AttendanceByID(_ context.Context, id string) (Record, error) {
	if r, ok := t.records[id]; ok {
		return r, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.records[id]
	if !ok {
		return Record{}, ErrNoRows
	}
	return r, nil
}

func (t *memTx) CountOccupied(_ context.Context, sessionID string) (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	n := 0
	for id, r := range t.store.records {
		if staged, ok := t.records[id]; ok {
			r = staged
		}
		if r.SessionID == sessionID && r.Status.Occupies() {
			n++
		}
	}
	for id, r := range t.records {
		if _, ok := t.store.records[id]; ok {
			continue
		}
		if r.SessionID == sessionID && r.Status.Occupies() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertAttendance(ctx context.Context, rec Record) error {
	if _, err := t.Attendance(ctx, rec.SessionID, rec.PersonID); err == nil {
		return alreadyRegistered()
	}
	t.records[rec.ID] = rec
	return nil
}

func (t *memTx) UpdateAttendance(ctx context.Context, rec Record) error {
	if _, err := t.AttendanceByID(ctx, rec.ID); err != nil {
		return err
	}
	t.records[rec.ID] = rec
	return nil
}

func (t *memTx) DeclarationFor(_ context.Context, attendanceID string) (Declaration, error) {
	for _, d := range t.declarations {
		if d.AttendanceID == attendanceID {
			return d, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.byAttendance[attendanceID]
	if !ok {
		return Declaration{}, ErrNoRows
	}
	return t.store.declarations[id], nil
}

func (t *memTx) InsertDeclaration(ctx context.Context, d Declaration) error {
	if _, err := t.DeclarationFor(ctx, d.AttendanceID); err == nil {
		return duplicateDeclaration()
	}
	t.declarations[d.ID] = d
	return nil
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range t.records {
		if _, ok := s.sessions[r.SessionID]; !ok {
			return sessionNotFound()
		}
		key := pairKey{r.SessionID, r.PersonID}
		if other, ok := s.pairs[key]; ok && other != id {
			return alreadyRegistered()
		}
	}
	for _, d := range t.declarations {
		if _, ok := s.byAttendance[d.AttendanceID]; ok {
			return duplicateDeclaration()
		}
	}
	for id, r := range t.records {
		s.records[id] = r
		s.pairs[pairKey{r.SessionID, r.PersonID}] = id
	}
	for id, d := range t.declarations {
		s.declarations[id] = d
		s.byAttendance[d.AttendanceID] = id
	}
	return nil
}

// Session implements Store.
func (m *MemoryStore) Session(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNoRows
	}
	return s, nil
}

// AttendanceByID implements Store.
func (m *MemoryStore) AttendanceByID(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNoRows
	}
	return r, nil
}

// Declaration implements Store.
func (m *MemoryStore) Declaration(_ context.Context, id string) (Declaration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.declarations[id]
	if !ok {
		return Declaration{}, ErrNoRows
	}
	return d, nil
}

// InsertSession implements Store.
func (m *MemoryStore) InsertSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// UpdateSessionStatus implements Store.
func (m *MemoryStore) UpdateSessionStatus(_ context.Context, id string, status SessionStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNoRows
	}
	s.Status = status
	s.UpdatedAt = at
	m.sessions[id] = s
	return nil
}

// DeleteSession implements Store. It waits for any open unit on the session, so a unit
// that already read the session commits before the delete looks for records.
func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	l := m.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNoRows
	}
	for _, r := range m.records {
		if r.SessionID == id {
			return ErrSessionHasAttendance
		}
	}
	delete(m.sessions, id)
	return nil
}

// AnnotateDeclaration implements Store.
func (m *MemoryStore) AnnotateDeclaration(_ context.Context, id string, compliant bool, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.declarations[id]
	if !ok {
		return ErrNoRows
	}
	d.IsCompliant = compliant
	d.ComplianceNotes = notes
	m.declarations[id] = d
	return nil
}

// UpcomingSessions implements Store.
func (m *MemoryStore) UpcomingSessions(_ context.Context, from time.Time, mandatoryOnly bool, limit int) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status != SessionScheduled || s.StartsAt.Before(from) {
			continue
		}
		if mandatoryOnly && !s.IsMandatory {
			continue
		}
		out = append(out, s)
	}
	sortSessions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AttendanceForSession implements Store.
func (m *MemoryStore) AttendanceForSession(_ context.Context, sessionID string) ([]RecordView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RecordView
	for _, r := range m.records {
		if r.SessionID != sessionID {
			continue
		}
		v := m.viewLocked(r)
		if p, ok := m.people[r.PersonID]; ok {
			v.Person = &p
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AttendanceForPerson implements Store.
func (m *MemoryStore) AttendanceForPerson(_ context.Context, personID string) ([]RecordView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RecordView
	for _, r := range m.records {
		if r.PersonID == personID {
			out = append(out, m.viewLocked(r))
		}
	}
	// newest session first
	sort.Slice(out, func(i, j int) bool {
		if out[i].Session == nil || out[j].Session == nil {
			return out[i].Session != nil
		}
		return out[i].Session.StartsAt.After(out[j].Session.StartsAt)
	})
	return out, nil
}

// SessionsStartingBetween implements ReminderSource.
func (m *MemoryStore) SessionsStartingBetween(_ context.Context, from, to time.Time) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status != SessionScheduled {
			continue
		}
		if s.StartsAt.Before(from) || s.StartsAt.After(to) {
			continue
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

// SessionAttendance implements ReminderSource.
func (m *MemoryStore) SessionAttendance(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AttendedWithoutDeclaration implements ReminderSource.
func (m *MemoryStore) AttendedWithoutDeclaration(_ context.Context, from, to time.Time) ([]RecordView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RecordView
	for _, r := range m.records {
		if r.Status != StatusAttended || r.CheckInTime == nil {
			continue
		}
		if r.CheckInTime.Before(from) || r.CheckInTime.After(to) {
			continue
		}
		if _, declared := m.byAttendance[r.ID]; declared {
			continue
		}
		out = append(out, m.viewLocked(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckInTime.Before(*out[j].CheckInTime) })
	return out, nil
}

func (m *MemoryStore) viewLocked(r Record) RecordView {
	v := RecordView{Record: r}
	if s, ok := m.sessions[r.SessionID]; ok {
		v.Session = &s
	}
	if id, ok := m.byAttendance[r.ID]; ok {
		d := m.declarations[id]
		v.Declaration = &d
	}
	return v
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool { return s[i].StartsAt.Before(s[j].StartsAt) })
}
