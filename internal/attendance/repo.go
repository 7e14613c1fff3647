package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists sessions, attendance and declarations in Postgres. It implements
// Store and Directory.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const sessionColumns = `id, title, description, starts_at, ends_at, location, is_virtual, meeting_link,
	capacity, is_mandatory, facilitator_name, facilitator_contact, status, created_at, updated_at`

const recordColumns = `id, session_id, person_id, status, check_in_time, check_in_method,
	verified_by, verified_at, notes, created_at, updated_at`

const declarationColumns = `id, attendance_id, content, signature, submitted_at, ip_address,
	user_agent, is_compliant, compliance_notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var status string
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.StartsAt, &s.EndsAt, &s.Location, &s.IsVirtual,
		&s.MeetingLink, &s.Capacity, &s.IsMandatory, &s.FacilitatorName, &s.FacilitatorContact, &status,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Session{}, noRows(err)
	}
	s.Status = SessionStatus(status)
	return s, nil
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var status string
	var method *string
	err := row.Scan(&r.ID, &r.SessionID, &r.PersonID, &status, &r.CheckInTime, &method,
		&r.VerifiedBy, &r.VerifiedAt, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Record{}, noRows(err)
	}
	r.Status = Status(status)
	if method != nil {
		r.Method = methodPtr(Method(*method))
	}
	return r, nil
}

func scanDeclaration(row scanner) (Declaration, error) {
	var d Declaration
	err := row.Scan(&d.ID, &d.AttendanceID, &d.Content, &d.Signature, &d.SubmittedAt, &d.IPAddress,
		&d.UserAgent, &d.IsCompliant, &d.ComplianceNotes)
	if err != nil {
		return Declaration{}, noRows(err)
	}
	return d, nil
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

// mapUnique turns unique violations on the attendance pair or the declaration's
// attendance into domain errors.
func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "attendance_records_session_person_key":
		return alreadyRegistered()
	case "declarations_attendance_id_key":
		return duplicateDeclaration()
	}
	return err
}

func methodArg(m *Method) any {
	if m == nil {
		return nil
	}
	return string(*m)
}

// Atomic implements Store. The unit runs in one transaction that first locks the session
// row, so units on the same session queue behind each other until commit.
func (r *Repository) Atomic(ctx context.Context, sessionID string, fn func(Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM training_sessions WHERE id = $1 FOR UPDATE`, sessionID); err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapUnique(err))
	}
	return nil
}

type pgTx struct {
	q queryer
}

func (t *pgTx) Session(ctx context.Context, id string) (Session, error) {
	return getSession(ctx, t.q, id)
}

func (t *pgTx) Attendance(ctx context.Context, sessionID, personID string) (Record, error) {
	return scanRecord(t.q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 AND person_id = $2`,
		sessionID, personID))
}

func (t *pgTx) AttendanceByID(ctx context.Context, id string) (Record, error) {
	return getRecord(ctx, t.q, id)
}

func (t *pgTx) CountOccupied(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_records
		WHERE session_id = $1 AND status IN ('registered', 'attended')
	`, sessionID).Scan(&n)
	return n, err
}

func (t *pgTx) InsertAttendance(ctx context.Context, rec Record) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, rec.SessionID, rec.PersonID, string(rec.Status), rec.CheckInTime, methodArg(rec.Method),
		rec.VerifiedBy, rec.VerifiedAt, rec.Notes, rec.CreatedAt, rec.UpdatedAt)
	return mapUnique(err)
}

func (t *pgTx) UpdateAttendance(ctx context.Context, rec Record) error {
	// COALESCE keeps a stored check-in time if a caller ever passes nil
	res, err := t.q.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = $2,
			check_in_time = COALESCE(check_in_time, $3),
			check_in_method = $4,
			verified_by = $5,
			verified_at = $6,
			notes = $7,
			updated_at = $8
		WHERE id = $1
	`, rec.ID, string(rec.Status), rec.CheckInTime, methodArg(rec.Method), rec.VerifiedBy, rec.VerifiedAt,
		rec.Notes, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRows
	}
	return nil
}

func (t *pgTx) DeclarationFor(ctx context.Context, attendanceID string) (Declaration, error) {
	return scanDeclaration(t.q.QueryRowContext(ctx,
		`SELECT `+declarationColumns+` FROM declarations WHERE attendance_id = $1`, attendanceID))
}

func (t *pgTx) InsertDeclaration(ctx context.Context, d Declaration) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO declarations (`+declarationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, d.ID, d.AttendanceID, d.Content, d.Signature, d.SubmittedAt, d.IPAddress, d.UserAgent,
		d.IsCompliant, d.ComplianceNotes)
	return mapUnique(err)
}

func getSession(ctx context.Context, q queryer, id string) (Session, error) {
	return scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM training_sessions WHERE id = $1`, id))
}

func getRecord(ctx context.Context, q queryer, id string) (Record, error) {
	return scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id))
}

// Session implements Store.
func (r *Repository) Session(ctx context.Context, id string) (Session, error) {
	return getSession(ctx, r.db, id)
}

// AttendanceByID implements Store.
func (r *Repository) AttendanceByID(ctx context.Context, id string) (Record, error) {
	return getRecord(ctx, r.db, id)
}

// Declaration implements Store.
func (r *Repository) Declaration(ctx context.Context, id string) (Declaration, error) {
	return scanDeclaration(r.db.QueryRowContext(ctx, `SELECT `+declarationColumns+` FROM declarations WHERE id = $1`, id))
}

// Person implements Directory.
func (r *Repository) Person(ctx context.Context, id string) (Person, error) {
	var p Person
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, company, role FROM people WHERE id = $1
	`, id).Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Company, &p.Role)
	if err != nil {
		return Person{}, noRows(err)
	}
	return p, nil
}

// UpsertPerson implements People.
func (r *Repository) UpsertPerson(ctx context.Context, p Person) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO people (id, email, first_name, last_name, company, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			company = EXCLUDED.company,
			role = EXCLUDED.role
	`, p.ID, p.Email, p.FirstName, p.LastName, p.Company, p.Role)
	return err
}

// InsertSession implements Store.
func (r *Repository) InsertSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO training_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, s.ID, s.Title, s.Description, s.StartsAt, s.EndsAt, s.Location, s.IsVirtual, s.MeetingLink,
		s.Capacity, s.IsMandatory, s.FacilitatorName, s.FacilitatorContact, string(s.Status), s.CreatedAt, s.UpdatedAt)
	return err
}

// UpdateSessionStatus implements Store.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE training_sessions SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRows
	}
	return nil
}

// DeleteSession implements Store. The delete is conditional on the absence of attendance
// so a registration racing the delete cannot leave orphans.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM training_sessions s
		WHERE s.id = $1
		  AND NOT EXISTS (SELECT 1 FROM attendance_records a WHERE a.session_id = s.id)
	`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	if _, err := r.Session(ctx, id); err != nil {
		return err
	}
	return ErrSessionHasAttendance
}

// AnnotateDeclaration implements Store.
func (r *Repository) AnnotateDeclaration(ctx context.Context, id string, compliant bool, notes string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE declarations SET is_compliant = $2, compliance_notes = $3 WHERE id = $1
	`, id, compliant, notes)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRows
	}
	return nil
}

// UpcomingSessions implements Store.
func (r *Repository) UpcomingSessions(ctx context.Context, from time.Time, mandatoryOnly bool, limit int) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM training_sessions WHERE status = 'scheduled' AND starts_at >= $1`
	args := []any{from}
	if mandatoryOnly {
		query += ` AND is_mandatory`
	}
	query += ` ORDER BY starts_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	return r.listSessions(ctx, query, args...)
}

// SessionsStartingBetween implements ReminderSource.
func (r *Repository) SessionsStartingBetween(ctx context.Context, from, to time.Time) ([]Session, error) {
	return r.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM training_sessions
		WHERE status = 'scheduled' AND starts_at BETWEEN $1 AND $2
		ORDER BY starts_at ASC
	`, from, to)
}

func (r *Repository) listSessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SessionAttendance implements ReminderSource.
func (r *Repository) SessionAttendance(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// viewColumns selects a record joined with its session and optional declaration.
var viewColumns = prefixed("a", recordColumns) + `, ` + prefixed("s", sessionColumns) + `,
	d.id, d.attendance_id, d.content, d.signature, d.submitted_at, d.ip_address, d.user_agent,
	d.is_compliant, d.compliance_notes`

const viewFrom = `
	FROM attendance_records a
	JOIN training_sessions s ON s.id = a.session_id
	LEFT JOIN declarations d ON d.attendance_id = a.id`

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (r *Repository) listViews(ctx context.Context, query string, args ...any) ([]RecordView, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []RecordView
	for rows.Next() {
		var (
			v                  RecordView
			status, sessStatus string
			method             *string
			s                  Session
			dID, dAttendance   *string
			dContent, dSig     *string
			dSubmitted         *time.Time
			dIP, dUA, dNotes   *string
			dCompliant         *bool
		)
		err := rows.Scan(&v.ID, &v.SessionID, &v.PersonID, &status, &v.CheckInTime, &method,
			&v.VerifiedBy, &v.VerifiedAt, &v.Notes, &v.CreatedAt, &v.UpdatedAt,
			&s.ID, &s.Title, &s.Description, &s.StartsAt, &s.EndsAt, &s.Location, &s.IsVirtual,
			&s.MeetingLink, &s.Capacity, &s.IsMandatory, &s.FacilitatorName, &s.FacilitatorContact, &sessStatus,
			&s.CreatedAt, &s.UpdatedAt,
			&dID, &dAttendance, &dContent, &dSig, &dSubmitted, &dIP, &dUA, &dCompliant, &dNotes)
		if err != nil {
			return nil, err
		}
		v.Status = Status(status)
		if method != nil {
			v.Method = methodPtr(Method(*method))
		}
		s.Status = SessionStatus(sessStatus)
		v.Session = &s
		if dID != nil {
			v.Declaration = &Declaration{
				ID:              *dID,
				AttendanceID:    deref(dAttendance),
				Content:         deref(dContent),
				Signature:       deref(dSig),
				SubmittedAt:     *dSubmitted,
				IPAddress:       deref(dIP),
				UserAgent:       deref(dUA),
				IsCompliant:     dCompliant != nil && *dCompliant,
				ComplianceNotes: deref(dNotes),
			}
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// AttendanceForSession implements Store.
func (r *Repository) AttendanceForSession(ctx context.Context, sessionID string) ([]RecordView, error) {
	views, err := r.listViews(ctx, `SELECT `+viewColumns+viewFrom+`
		WHERE a.session_id = $1 ORDER BY a.created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range views {
		p, err := r.Person(ctx, views[i].PersonID)
		if errors.Is(err, ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		views[i].Person = &p
	}
	return views, nil
}

// AttendanceForPerson implements Store.
func (r *Repository) AttendanceForPerson(ctx context.Context, personID string) ([]RecordView, error) {
	return r.listViews(ctx, `SELECT `+viewColumns+viewFrom+`
		WHERE a.person_id = $1 ORDER BY s.starts_at DESC`, personID)
}

// AttendedWithoutDeclaration implements ReminderSource.
func (r *Repository) AttendedWithoutDeclaration(ctx context.Context, from, to time.Time) ([]RecordView, error) {
	return r.listViews(ctx, `SELECT `+viewColumns+viewFrom+`
		WHERE a.status = 'attended'
		  AND a.check_in_time BETWEEN $1 AND $2
		  AND d.id IS NULL
		ORDER BY a.check_in_time`, from, to)
}
