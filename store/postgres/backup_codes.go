package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tcgemporium/authcore"
)

// BackupCodeRepository stores hashed backup codes in mfa_backup_codes.
type BackupCodeRepository struct {
	db *sql.DB
}

func NewBackupCodeRepository(db *sql.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db}
}

// ReplaceForOwner deletes ownerID's codes and inserts records in one
// transaction, so a failed insert keeps the previous batch.
func (r *BackupCodeRepository) ReplaceForOwner(ctx context.Context, ownerID string, records []authcore.BackupCodeRecord) error {
	return withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, ownerID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		query :=
			`INSERT INTO mfa_backup_codes (id, user_id, code_hash, label, created_at, expires_at)
             VALUES ($1, $2, $3, $4, $5, $6)`
		for _, rec := range records {
			if _, err := tx.ExecContext(ctx, query,
				rec.ID, rec.OwnerID, rec.Hash, rec.Label, rec.CreatedAt, rec.ExpiresAt); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
}

func (r *BackupCodeRepository) FindUnusedByOwner(ctx context.Context, ownerID string, now time.Time) ([]authcore.BackupCodeRecord, error) {
	query :=
		`SELECT id, user_id, label, code_hash, used_at, created_at, expires_at FROM mfa_backup_codes
		 WHERE user_id = $1 AND used_at IS NULL AND expires_at > $2
		 ORDER BY created_at, label`
	return r.query(ctx, query, ownerID, now)
}

func (r *BackupCodeRepository) ListByOwner(ctx context.Context, ownerID string) ([]authcore.BackupCodeRecord, error) {
	query :=
		`SELECT id, user_id, label, code_hash, used_at, created_at, expires_at FROM mfa_backup_codes
		 WHERE user_id = $1
		 ORDER BY created_at, label`
	return r.query(ctx, query, ownerID)
}

func (r *BackupCodeRepository) query(ctx context.Context, query string, args ...any) ([]authcore.BackupCodeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []authcore.BackupCodeRecord
	for rows.Next() {
		var (
			rec    authcore.BackupCodeRecord
			usedAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Label, &rec.Hash, &usedAt, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if usedAt.Valid {
			t := usedAt.Time
			rec.UsedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// MarkUsed consumes a code only while it is unused.
func (r *BackupCodeRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	query :=
		`UPDATE mfa_backup_codes SET used_at = $2
		 WHERE id = $1 AND used_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authcore.ErrConflict
	}
	return nil
}

func (r *BackupCodeRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	query := `DELETE FROM mfa_backup_codes WHERE user_id = $1`

	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("db error: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

var _ authcore.BackupCodeRepository = (*BackupCodeRepository)(nil)
