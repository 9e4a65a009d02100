// Package sqlite implements goIdentity.UserStore over a single SQLite file.
// It suits single-node deployments; OTP state stays in Redis or Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// ErrUnavailable wraps database failures.
var ErrUnavailable = errors.New("sqlite unavailable")

const migrationTable = "schema_migrations"

const userColumns = `id, username, email, mobile, name, password_hash, is_active, last_login, date_joined, updated_at`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements goIdentity.UserStore.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// DB returns the raw database handle.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// applyMigrations executes each embedded migration at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := extractUp(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := sqlDB.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
			file, toMillis(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// extractUp returns the SQL in the -- +migrate Up section.
func extractUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return goIdentity.ErrUserNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return goIdentity.ErrDuplicateUser
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Store) GetByID(ctx context.Context, id string) (*goIdentity.User, error) {
	return s.getOne(ctx, "id", id)
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*goIdentity.User, error) {
	return s.getOne(ctx, "username", username)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*goIdentity.User, error) {
	return s.getOne(ctx, "email", email)
}

func (s *Store) GetByMobile(ctx context.Context, mobile string) (*goIdentity.User, error) {
	return s.getOne(ctx, "mobile", mobile)
}

func (s *Store) getOne(ctx context.Context, column, value string) (*goIdentity.User, error) {
	var (
		u         goIdentity.User
		email     sql.NullString
		mobile    sql.NullString
		active    int64
		lastLogin sql.NullInt64
		joined    int64
		updated   int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM identity_users WHERE `+column+` = ?`, value,
	).Scan(&u.ID, &u.Username, &email, &mobile, &u.Name, &u.PasswordHash, &active, &lastLogin, &joined, &updated)
	if err != nil {
		return nil, mapError(err)
	}

	if email.Valid {
		u.Email = &email.String
	}
	if mobile.Valid {
		u.Mobile = &mobile.String
	}
	u.Active = active != 0
	if lastLogin.Valid {
		t := fromMillis(lastLogin.Int64)
		u.LastLogin = &t
	}
	u.CreatedAt = fromMillis(joined)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func (s *Store) Create(ctx context.Context, u *goIdentity.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO identity_users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, nullable(u.Email), nullable(u.Mobile), u.Name, u.PasswordHash,
		boolInt(u.Active), nullableTime(u.LastLogin), toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	return mapError(err)
}

func (s *Store) Update(ctx context.Context, u *goIdentity.User) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE identity_users SET username = ?, email = ?, mobile = ?, name = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		u.Username, nullable(u.Email), nullable(u.Mobile), u.Name, boolInt(u.Active), toMillis(u.UpdatedAt), u.ID,
	)
	return affectedOne(res, err)
}

func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE identity_users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(time.Now()), id,
	)
	return affectedOne(res, err)
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE identity_users SET last_login = ? WHERE id = ?`, toMillis(at), id)
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

func nullable(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
