package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BackupCodeStore generates, lists and redeems single-use recovery codes.
// Codes are short and numeric, so each is stored as a salted bcrypt hash at
// a low work factor; their expiry and single use bound the exposure.
type BackupCodeStore struct {
	repo   BackupCodeRepository
	config BackupCodeConfig
	now    func() time.Time
}

// NewBackupCodeStore wires a store to its repository. now may be nil.
func NewBackupCodeStore(repo BackupCodeRepository, cfg BackupCodeConfig, now func() time.Time) *BackupCodeStore {
	if now == nil {
		now = time.Now
	}
	return &BackupCodeStore{repo: repo, config: cfg, now: now}
}

// Generate replaces owner's codes with a fresh batch and returns the
// plaintexts. They are not retrievable afterwards.
func (s *BackupCodeStore) Generate(ctx context.Context, ownerID string) ([]BackupCode, error) {
	if s == nil || s.repo == nil {
		return nil, ErrEngineNotReady
	}

	now := s.now().UTC()
	expires := now.Add(s.config.TTL)
	records := make([]BackupCodeRecord, 0, s.config.Count)
	codes := make([]BackupCode, 0, s.config.Count)

	for i := 1; i <= s.config.Count; i++ {
		code, err := randomDigits(s.config.Digits)
		if err != nil {
			return nil, fmt.Errorf("backup codes: random: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.HashCost)
		if err != nil {
			return nil, fmt.Errorf("backup codes: hash: %w", err)
		}
		label := fmt.Sprintf("Backup Code %d", i)
		records = append(records, BackupCodeRecord{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Label:     label,
			Hash:      string(hash),
			CreatedAt: now,
			ExpiresAt: expires,
		})
		codes = append(codes, BackupCode{Label: label, Code: code, ExpiresAt: expires})
	}

	if err := s.repo.ReplaceForOwner(ctx, ownerID, records); err != nil {
		return nil, fmt.Errorf("backup codes: replace batch: %w", err)
	}
	return codes, nil
}

// Redeem consumes the first unused, unexpired code matching submitted.
// Every failure mode other than a repository error returns ErrInvalidCode.
func (s *BackupCodeStore) Redeem(ctx context.Context, ownerID, submitted string) error {
	if s == nil || s.repo == nil {
		return ErrEngineNotReady
	}
	code := canonicalizeBackupCode(submitted)
	if len(code) != s.config.Digits || !isDigits(code) {
		return ErrInvalidCode
	}

	now := s.now().UTC()
	candidates, err := s.repo.FindUnusedByOwner(ctx, ownerID, now)
	if err != nil {
		return fmt.Errorf("backup codes: load: %w", err)
	}

	for _, rec := range candidates {
		if rec.UsedAt != nil || !now.Before(rec.ExpiresAt) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(code)) != nil {
			continue
		}
		err := s.repo.MarkUsed(ctx, rec.ID, now)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrConflict):
			// A concurrent redemption got there first.
			return ErrInvalidCode
		default:
			return fmt.Errorf("backup codes: mark used: %w", err)
		}
	}
	return ErrInvalidCode
}

// Clear deletes every code owned by ownerID.
func (s *BackupCodeStore) Clear(ctx context.Context, ownerID string) error {
	if s == nil || s.repo == nil {
		return ErrEngineNotReady
	}
	if err := s.repo.DeleteByOwner(ctx, ownerID); err != nil {
		return fmt.Errorf("backup codes: clear: %w", err)
	}
	return nil
}

// List returns metadata for owner's codes. It never exposes plaintexts or hashes.
func (s *BackupCodeStore) List(ctx context.Context, ownerID string) ([]BackupCodeInfo, error) {
	if s == nil || s.repo == nil {
		return nil, ErrEngineNotReady
	}
	records, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("backup codes: list: %w", err)
	}
	out := make([]BackupCodeInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, BackupCodeInfo{
			ID:        rec.ID,
			Label:     rec.Label,
			Used:      rec.UsedAt != nil,
			UsedAt:    rec.UsedAt,
			CreatedAt: rec.CreatedAt,
			ExpiresAt: rec.ExpiresAt,
		})
	}
	return out, nil
}

func canonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(code))
}

func randomDigits(n int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
