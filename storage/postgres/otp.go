package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/lib/pq"
)

const otpColumns = `destination, code, kind, is_validated, remaining_attempts, send_counter, send_pending, reactive_at, created_at, updated_at`

// OTPStore keeps one row per destination in identity_otp. Update serializes
// writers per destination with a transaction-scoped advisory lock, which
// also covers the first insert where no row exists to lock yet.
type OTPStore struct {
	db *sql.DB
}

func NewOTPStore(db *sql.DB) *OTPStore {
	return &OTPStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOTP(row rowScanner) (*goIdentity.OTPRecord, error) {
	var (
		rec  goIdentity.OTPRecord
		kind int16
	)
	err := row.Scan(
		&rec.Destination, &rec.Code, &kind, &rec.Validated, &rec.RemainingAttempts,
		&rec.SendCounter, &rec.SendPending, &rec.ReactivateAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rec.Kind = goIdentity.OTPKind(kind)
	return &rec, nil
}

// Get returns the record for destination, or nil when none exists.
func (s *OTPStore) Get(ctx context.Context, destination string) (*goIdentity.OTPRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+otpColumns+` FROM identity_otp WHERE destination = $1`, destination)
	return scanOTP(row)
}

// CodeActive reports whether code belongs to any unvalidated record.
func (s *OTPStore) CodeActive(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identity_otp WHERE code = $1 AND NOT is_validated)`, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return exists, nil
}

// Update runs fn against the current record inside a transaction. A non-nil
// result is upserted even when fn also returns an error; that error is
// returned after the commit. A nil result writes nothing. A pending code held
// by another destination violates idx_identity_otp_pending_code and yields
// goIdentity.ErrOTPCodeConflict.
func (s *OTPStore) Update(
	ctx context.Context,
	destination string,
	fn func(current *goIdentity.OTPRecord) (*goIdentity.OTPRecord, error),
) (*goIdentity.OTPRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, destination); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	current, err := scanOTP(tx.QueryRowContext(ctx,
		`SELECT `+otpColumns+` FROM identity_otp WHERE destination = $1 FOR UPDATE`, destination))
	if err != nil {
		return nil, err
	}

	next, fnErr := fn(current.Clone())
	if next == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return current, fnErr
	}

	now := time.Now().UTC()
	next.Destination = destination
	if next.RemainingAttempts < 0 {
		next.RemainingAttempts = 0
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identity_otp (`+otpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (destination) DO UPDATE SET
			code = EXCLUDED.code,
			kind = EXCLUDED.kind,
			is_validated = EXCLUDED.is_validated,
			remaining_attempts = EXCLUDED.remaining_attempts,
			send_counter = EXCLUDED.send_counter,
			send_pending = EXCLUDED.send_pending,
			reactive_at = EXCLUDED.reactive_at,
			updated_at = EXCLUDED.updated_at`,
		next.Destination, next.Code, int16(next.Kind), next.Validated, next.RemainingAttempts,
		next.SendCounter, next.SendPending, next.ReactivateAt, next.CreatedAt, next.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, goIdentity.ErrOTPCodeConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return next, fnErr
}
