package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcgemporium/authcore"
)

var accountRowColumns = []string{
	"id", "email", "username", "password_hash", "totp_enabled", "totp_secret",
	"account_status", "locked_until", "last_login_at", "created_at", "updated_at",
}

func newUserRepoWithMock(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(db), mock
}

func TestFindByIdentifier_Found(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows(accountRowColumns).
		AddRow("u-1", "alice@example.com", "alice", "$argon2id$...", true, "SECRET",
			"active", nil, created, created, created)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*email,.*FROM\s+users\s+WHERE\s+LOWER\(email\)\s*=\s*LOWER\(\$1\)$`).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	got, err := repo.FindByIdentifier(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.TOTPEnabled)
	assert.Equal(t, "SECRET", got.TOTPSecret)
	assert.Equal(t, authcore.AccountActive, got.Status)
	assert.True(t, got.LockedUntil.IsZero())
	assert.Equal(t, created, got.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT .* FROM\s+users\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestFindByID_DBError(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT .* FROM\s+users`).
		WillReturnError(errors.New("db down"))

	_, err := repo.FindByID(context.Background(), "u-1")
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

func TestAdminRepositoryUsesAdminTable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewAdminRepository(db)

	mock.ExpectQuery(`(?s)FROM\s+admin_users\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("a-1").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByID(context.Background(), "a-1")
	assert.ErrorIs(t, err, authcore.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildAccountUpdate(t *testing.T) {
	enabled := true
	pending := false
	secret := "SECRET"

	query, args := buildAccountUpdate("users", "u-1", authcore.AccountPatch{
		ExpectTOTPEnabled: &pending,
		ExpectTOTPSecret:  &secret,
		TOTPEnabled:       &enabled,
	})
	assert.Equal(t,
		"UPDATE users SET totp_enabled = $2, updated_at = NOW() WHERE id = $1 AND totp_enabled = $3 AND totp_secret IS NOT DISTINCT FROM $4",
		query)
	assert.Equal(t, []any{"u-1", true, false, sql.NullString{String: "SECRET", Valid: true}}, args)

	cleared := ""
	_, args = buildAccountUpdate("users", "u-1", authcore.AccountPatch{TOTPSecret: &cleared})
	assert.Equal(t, sql.NullString{}, args[1])

	query, _ = buildAccountUpdate("users", "u-1", authcore.AccountPatch{ExpectTOTPEnabled: &enabled})
	assert.Empty(t, query)
}

func TestUpdate_Success(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1")).
		WithArgs("u-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), "u-1", authcore.AccountPatch{LastLoginAt: &at}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_ConflictWhenExpectationFails(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	notEnabled := false
	secret := "NEW"

	mock.ExpectExec(`^UPDATE users SET totp_secret = \$2`).
		WithArgs("u-1", "NEW", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE id = \$1\)`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Update(context.Background(), "u-1", authcore.AccountPatch{
		ExpectTOTPEnabled: &notEnabled,
		TOTPSecret:        &secret,
	})
	assert.ErrorIs(t, err, authcore.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_NotFound(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	notEnabled := false
	secret := "NEW"

	mock.ExpectExec(`^UPDATE users`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.Update(context.Background(), "u-1", authcore.AccountPatch{
		ExpectTOTPEnabled: &notEnabled,
		TOTPSecret:        &secret,
	})
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestExistsByEmailAndUsername(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE LOWER\(email\) = LOWER\(\$1\)\)`).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE LOWER\(username\) = LOWER\(\$1\)\)`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.ExistsByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExistsByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreate_UniqueViolationIsConflict(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users`).
		WithArgs("u-1", "a@example.com", "alice", "hash", false, "active", now, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &authcore.Account{
		ID: "u-1", Email: "a@example.com", Username: "alice", PasswordHash: "hash",
		Status: authcore.AccountActive, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, authcore.ErrConflict)
}

func TestCreate_Success(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users`).
		WithArgs("u-1", "a@example.com", "alice", "hash", false, "active", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &authcore.Account{
		ID: "u-1", Email: "a@example.com", Username: "alice", PasswordHash: "hash",
		Status: authcore.AccountActive, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
