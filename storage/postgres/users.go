package postgres

import (
	"context"
	"database/sql"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

const userColumns = `id, username, email, mobile, name, password_hash, is_active, last_login, date_joined, updated_at`

// UserStore keeps accounts in identity_users. Email and mobile uniqueness is
// backed by unique constraints, so a racing duplicate surfaces as
// goIdentity.ErrDuplicateUser.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*goIdentity.User, error) {
	return s.getOne(ctx, "id", id)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*goIdentity.User, error) {
	return s.getOne(ctx, "username", username)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*goIdentity.User, error) {
	return s.getOne(ctx, "email", email)
}

func (s *UserStore) GetByMobile(ctx context.Context, mobile string) (*goIdentity.User, error) {
	return s.getOne(ctx, "mobile", mobile)
}

// getOne looks a user up by column. column is always a constant from this
// file.
func (s *UserStore) getOne(ctx context.Context, column, value string) (*goIdentity.User, error) {
	query := `SELECT ` + userColumns + ` FROM identity_users WHERE ` + column + ` = $1`

	var (
		u         goIdentity.User
		email     sql.NullString
		mobile    sql.NullString
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&u.ID, &u.Username, &email, &mobile, &u.Name, &u.PasswordHash,
		&u.Active, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	u.Email = stringPtr(email)
	u.Mobile = stringPtr(mobile)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, u *goIdentity.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Username, nullString(u.Email), nullString(u.Mobile), u.Name, u.PasswordHash,
		u.Active, u.LastLogin, u.CreatedAt, u.UpdatedAt,
	)
	return mapError(err)
}

// Update writes the profile fields. The password hash and last login have
// their own methods.
func (s *UserStore) Update(ctx context.Context, u *goIdentity.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identity_users
		SET username = $2, email = $3, mobile = $4, name = $5, is_active = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Username, nullString(u.Email), nullString(u.Mobile), u.Name, u.Active, u.UpdatedAt,
	)
	return affectedOne(res, err)
}

func (s *UserStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, time.Now().UTC(),
	)
	return affectedOne(res, err)
}

func (s *UserStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_users SET last_login = $2 WHERE id = $1`,
		id, at,
	)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return goIdentity.ErrUserNotFound
	}
	return nil
}
