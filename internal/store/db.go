package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Client: db}, nil
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Migrate creates the schema if it does not exist. Statements are idempotent so every
// process may run it at startup.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS people (
		id          TEXT PRIMARY KEY,
		email       TEXT NOT NULL DEFAULT '',
		first_name  TEXT NOT NULL DEFAULT '',
		last_name   TEXT NOT NULL DEFAULT '',
		company     TEXT NOT NULL DEFAULT '',
		role        TEXT NOT NULL DEFAULT 'employee'
	)`,
	`CREATE TABLE IF NOT EXISTS training_sessions (
		id                  TEXT PRIMARY KEY,
		title               TEXT NOT NULL,
		description         TEXT NOT NULL DEFAULT '',
		starts_at           TIMESTAMPTZ NOT NULL,
		ends_at             TIMESTAMPTZ NOT NULL,
		location            TEXT NOT NULL DEFAULT '',
		is_virtual          BOOLEAN NOT NULL DEFAULT FALSE,
		meeting_link        TEXT NOT NULL DEFAULT '',
		capacity            INTEGER CHECK (capacity IS NULL OR capacity > 0),
		is_mandatory        BOOLEAN NOT NULL DEFAULT FALSE,
		facilitator_name    TEXT NOT NULL DEFAULT '',
		facilitator_contact TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL DEFAULT 'scheduled',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (ends_at > starts_at)
	)`,
	`CREATE INDEX IF NOT EXISTS training_sessions_starts_at_idx ON training_sessions (status, starts_at)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL REFERENCES training_sessions (id),
		person_id       TEXT NOT NULL,
		status          TEXT NOT NULL,
		check_in_time   TIMESTAMPTZ,
		check_in_method TEXT,
		verified_by     TEXT,
		verified_at     TIMESTAMPTZ,
		notes           TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT attendance_records_session_person_key UNIQUE (session_id, person_id)
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_records_person_idx ON attendance_records (person_id)`,
	`CREATE INDEX IF NOT EXISTS attendance_records_check_in_idx ON attendance_records (status, check_in_time)`,
	`CREATE TABLE IF NOT EXISTS declarations (
		id               TEXT PRIMARY KEY,
		attendance_id    TEXT NOT NULL REFERENCES attendance_records (id),
		content          TEXT NOT NULL,
		signature        TEXT NOT NULL DEFAULT '',
		submitted_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ip_address       TEXT NOT NULL DEFAULT '',
		user_agent       TEXT NOT NULL DEFAULT '',
		is_compliant     BOOLEAN NOT NULL DEFAULT TRUE,
		compliance_notes TEXT NOT NULL DEFAULT '',
		CONSTRAINT declarations_attendance_id_key UNIQUE (attendance_id)
	)`,
}
