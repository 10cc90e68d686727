package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tcgemporium/authcore"
)

const accountColumns = `id, email, username, password_hash, totp_enabled, totp_secret,
		 account_status, locked_until, last_login_at, created_at, updated_at`

// AccountRepository reads and patches the auth columns of one account table.
type AccountRepository struct {
	db    DBTX
	table string
}

// NewAdminRepository returns the repository for operator accounts.
func NewAdminRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db, table: "admin_users"}
}

// UserRepository adds registration queries for marketplace users.
type UserRepository struct {
	AccountRepository
}

// NewUserRepository returns the repository for marketplace users.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{AccountRepository{db: db, table: "users"}}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*authcore.Account, error) {
	var (
		a           authcore.Account
		username    sql.NullString
		secret      sql.NullString
		status      string
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &username, &a.PasswordHash, &a.TOTPEnabled, &secret,
		&status, &lockedUntil, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Username = username.String
	a.TOTPSecret = secret.String
	a.Status = authcore.AccountStatus(status)
	if lockedUntil.Valid {
		a.LockedUntil = lockedUntil.Time
	}
	if lastLogin.Valid {
		a.LastLoginAt = lastLogin.Time
	}
	return &a, nil
}

func (r *AccountRepository) findOne(ctx context.Context, where string, arg any) (*authcore.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		 WHERE %s`, accountColumns, r.table, where)

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*authcore.Account, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindByIdentifier matches the email case-insensitively.
func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*authcore.Account, error) {
	return r.findOne(ctx, "LOWER(email) = LOWER($1)", identifier)
}

// Update applies patch in one statement conditioned on its expectations.
func (r *AccountRepository) Update(ctx context.Context, id string, patch authcore.AccountPatch) error {
	query, args := buildAccountUpdate(r.table, id, patch)
	if query == "" {
		return nil
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		return nil
	}

	if patch.ExpectTOTPEnabled == nil && patch.ExpectTOTPSecret == nil {
		return authcore.ErrNotFound
	}
	exists, err := r.exists(ctx, "id = $1", id)
	if err != nil {
		return err
	}
	if !exists {
		return authcore.ErrNotFound
	}
	return authcore.ErrConflict
}

func (r *AccountRepository) exists(ctx context.Context, where string, arg any) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s)`, r.table, where)

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

// buildAccountUpdate renders the UPDATE for patch. It returns an empty query
// when the patch changes nothing.
func buildAccountUpdate(table, id string, patch authcore.AccountPatch) (string, []any) {
	args := []any{id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sets []string
	if patch.TOTPEnabled != nil {
		sets = append(sets, "totp_enabled = "+next(*patch.TOTPEnabled))
	}
	if patch.TOTPSecret != nil {
		sets = append(sets, "totp_secret = "+next(nullableString(*patch.TOTPSecret)))
	}
	if patch.PasswordHash != nil {
		sets = append(sets, "password_hash = "+next(*patch.PasswordHash))
	}
	if patch.LastLoginAt != nil {
		sets = append(sets, "last_login_at = "+next(*patch.LastLoginAt))
	}
	if len(sets) == 0 {
		return "", nil
	}
	sets = append(sets, "updated_at = NOW()")

	where := []string{"id = $1"}
	if patch.ExpectTOTPEnabled != nil {
		where = append(where, "totp_enabled = "+next(*patch.ExpectTOTPEnabled))
	}
	if patch.ExpectTOTPSecret != nil {
		where = append(where, "totp_secret IS NOT DISTINCT FROM "+next(nullableString(*patch.ExpectTOTPSecret)))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), strings.Join(where, " AND "))
	return query, args
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "LOWER(email) = LOWER($1)", email)
}

func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "LOWER(username) = LOWER($1)", username)
}

// Create inserts a new user. A unique violation maps to authcore.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, a *authcore.Account) error {
	query :=
		`INSERT INTO users (id, email, username, password_hash, totp_enabled, account_status, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Email, nullableString(a.Username), a.PasswordHash, a.TOTPEnabled, string(a.Status), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

var (
	_ authcore.AccountRepository = (*AccountRepository)(nil)
	_ authcore.UserRepository    = (*UserRepository)(nil)
)
