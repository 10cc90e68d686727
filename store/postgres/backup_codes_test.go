package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcgemporium/authcore"
)

func newBackupRepoWithMock(t *testing.T) (*BackupCodeRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBackupCodeRepository(db), mock
}

func TestReplaceForOwnerCommits(t *testing.T) {
	repo, mock := newBackupRepoWithMock(t)
	now := time.Now().UTC()
	records := []authcore.BackupCodeRecord{
		{ID: "c-1", OwnerID: "u-1", Label: "Backup Code 1", Hash: "h1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "c-2", OwnerID: "u-1", Label: "Backup Code 2", Hash: "h2", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mfa_backup_codes WHERE user_id = \$1`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 8))
	for _, rec := range records {
		mock.ExpectExec(`(?s)^INSERT\s+INTO\s+mfa_backup_codes`).
			WithArgs(rec.ID, rec.OwnerID, rec.Hash, rec.Label, rec.CreatedAt, rec.ExpiresAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceForOwner(context.Background(), "u-1", records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceForOwnerRollsBackDeleteWhenInsertFails(t *testing.T) {
	repo, mock := newBackupRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM mfa_backup_codes`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 8))
	mock.ExpectExec(`INSERT INTO mfa_backup_codes`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := repo.ReplaceForOwner(context.Background(), "u-1", []authcore.BackupCodeRecord{
		{ID: "c-1", OwnerID: "u-1", Hash: "h", CreatedAt: now, ExpiresAt: now},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUnusedByOwner(t *testing.T) {
	repo, mock := newBackupRepoWithMock(t)
	now := time.Now().UTC()
	used := now.Add(-time.Minute)

	rows := sqlmock.NewRows([]string{"id", "user_id", "label", "code_hash", "used_at", "created_at", "expires_at"}).
		AddRow("c-1", "u-1", "Backup Code 1", "h1", nil, now, now.Add(time.Hour)).
		AddRow("c-2", "u-1", "Backup Code 2", "h2", used, now, now.Add(time.Hour))
	mock.ExpectQuery(`(?s)FROM mfa_backup_codes\s+WHERE user_id = \$1 AND used_at IS NULL AND expires_at > \$2`).
		WithArgs("u-1", now).
		WillReturnRows(rows)

	got, err := repo.FindUnusedByOwner(context.Background(), "u-1", now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].UsedAt)
	require.NotNil(t, got[1].UsedAt)
	assert.Equal(t, used, *got[1].UsedAt)
}

func TestMarkUsedConditional(t *testing.T) {
	repo, mock := newBackupRepoWithMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`(?s)UPDATE mfa_backup_codes SET used_at = \$2\s+WHERE id = \$1 AND used_at IS NULL`).
		WithArgs("c-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE mfa_backup_codes`).
		WithArgs("c-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkUsed(context.Background(), "c-1", at))
	assert.ErrorIs(t, repo.MarkUsed(context.Background(), "c-1", at), authcore.ErrConflict)
}

func TestDeleteByOwner(t *testing.T) {
	repo, mock := newBackupRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM mfa_backup_codes WHERE user_id = \$1`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 8))

	require.NoError(t, repo.DeleteByOwner(context.Background(), "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
