// Package postgres implements goIdentity.UserStore and goIdentity.OTPStore on
// PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS identity_users (
	id            TEXT PRIMARY KEY,
	username      VARCHAR(150) NOT NULL UNIQUE,
	email         VARCHAR(254) UNIQUE,
	mobile        VARCHAR(32) UNIQUE,
	name          VARCHAR(500) NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	last_login    TIMESTAMP WITH TIME ZONE,
	date_joined   TIMESTAMP WITH TIME ZONE NOT NULL,
	updated_at    TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS identity_otp (
	destination        VARCHAR(254) PRIMARY KEY,
	code               VARCHAR(20) NOT NULL,
	kind               SMALLINT NOT NULL,
	is_validated       BOOLEAN NOT NULL DEFAULT FALSE,
	remaining_attempts INTEGER NOT NULL CHECK (remaining_attempts >= 0),
	send_counter       INTEGER NOT NULL DEFAULT 0,
	send_pending       BOOLEAN NOT NULL DEFAULT FALSE,
	reactive_at        TIMESTAMP WITH TIME ZONE NOT NULL,
	created_at         TIMESTAMP WITH TIME ZONE NOT NULL,
	updated_at         TIMESTAMP WITH TIME ZONE NOT NULL
);

DROP INDEX IF EXISTS idx_identity_otp_active_code;
CREATE UNIQUE INDEX IF NOT EXISTS idx_identity_otp_pending_code ON identity_otp(code) WHERE NOT is_validated;
`

// ErrUnavailable wraps database failures.
var ErrUnavailable = errors.New("postgres unavailable")

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create identity tables: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

// mapError translates driver errors into goIdentity sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return goIdentity.ErrUserNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return goIdentity.ErrDuplicateUser
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
