package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcgemporium/authcore/internal/limiters"
	"github.com/tcgemporium/authcore/jwt"
	"go.uber.org/zap"
)

// SetupMFA starts enrollment by storing a fresh pending secret. Calling it
// again while pending replaces the secret; the previous one stops working.
func (e *Engine) SetupMFA(ctx context.Context, kind AccountKind, subject string) (*TOTPSetup, error) {
	b, account, err := e.loadAccount(ctx, kind, subject)
	if err != nil {
		return nil, err
	}
	if account.TOTPEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	setup, err := e.totp.Generate(accountLabel(account))
	if err != nil {
		return nil, fmt.Errorf("mfa setup: %w", err)
	}

	notEnabled := false
	err = b.repo.Update(ctx, account.ID, AccountPatch{
		ExpectTOTPEnabled: &notEnabled,
		TOTPSecret:        &setup.Secret,
	})
	if err != nil {
		return nil, mfaWriteError("mfa setup", err)
	}

	e.metricInc(MetricMFASetup)
	e.emitAudit(ctx, auditEventMFASetup, true, account.ID, nil, kindMetadata(kind))
	return setup, nil
}

// EnableMFA confirms a pending secret with a code from the authenticator and
// returns the first batch of backup codes. The plaintexts are not retrievable
// afterwards.
func (e *Engine) EnableMFA(ctx context.Context, kind AccountKind, subject, code string) ([]BackupCode, error) {
	b, account, err := e.loadAccount(ctx, kind, subject)
	if err != nil {
		return nil, err
	}
	switch account.MFAState() {
	case MFAEnabled:
		return nil, ErrMFAAlreadyEnabled
	case MFADisabled:
		return nil, ErrMFANotPending
	}

	if err := e.checkSecondFactor(ctx, kind, account, code, false); err != nil {
		return nil, err
	}

	pending := false
	enabled := true
	secret := account.TOTPSecret
	err = b.repo.Update(ctx, account.ID, AccountPatch{
		ExpectTOTPEnabled: &pending,
		ExpectTOTPSecret:  &secret,
		TOTPEnabled:       &enabled,
	})
	if err != nil {
		return nil, mfaWriteError("mfa enable", err)
	}

	// Only the call that won the enable write generates codes. If that fails
	// the account goes back to pending so enrollment can be retried.
	codes, err := e.backupCodes.Generate(ctx, account.ID)
	if err != nil {
		e.logger.Error("mfa enable: backup codes not generated",
			zap.String("subject", account.ID), zap.Error(err))
		rerr := b.repo.Update(context.WithoutCancel(ctx), account.ID, AccountPatch{
			ExpectTOTPEnabled: &enabled,
			ExpectTOTPSecret:  &secret,
			TOTPEnabled:       &pending,
		})
		if rerr != nil {
			e.logger.Error("mfa enable: revert to pending failed",
				zap.String("subject", account.ID), zap.Error(rerr))
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}

	e.metricInc(MetricMFAEnabled)
	e.metricInc(MetricBackupCodesGenerated)
	e.emitAudit(ctx, auditEventMFAEnabled, true, account.ID, nil, kindMetadata(kind))
	return codes, nil
}

// DisableMFA turns MFA off after proving possession with a TOTP code or an
// unused backup code, then drops the secret and every backup code.
func (e *Engine) DisableMFA(ctx context.Context, kind AccountKind, subject, code string) error {
	b, account, err := e.loadAccount(ctx, kind, subject)
	if err != nil {
		return err
	}
	if !account.TOTPEnabled {
		return ErrMFANotEnabled
	}

	if err := e.checkSecondFactor(ctx, kind, account, code, e.looksLikeBackupCode(code)); err != nil {
		return err
	}

	enabled := true
	disabled := false
	secret := account.TOTPSecret
	cleared := ""
	err = b.repo.Update(ctx, account.ID, AccountPatch{
		ExpectTOTPEnabled: &enabled,
		ExpectTOTPSecret:  &secret,
		TOTPEnabled:       &disabled,
		TOTPSecret:        &cleared,
	})
	if err != nil {
		return mfaWriteError("mfa disable", err)
	}
	if err := e.backupCodes.Clear(ctx, account.ID); err != nil {
		return err
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, account.ID, nil, kindMetadata(kind))
	return nil
}

// VerifyMFA finishes a login that stopped at the MFA step. On success the
// account gets the full session token for its kind.
func (e *Engine) VerifyMFA(ctx context.Context, kind AccountKind, subject, code string, isBackup bool) (*LoginResult, error) {
	b, account, err := e.loadAccount(ctx, kind, subject)
	if err != nil {
		return nil, err
	}
	if !account.TOTPEnabled {
		return nil, ErrMFANotEnabled
	}
	now := e.now()
	if !account.canLogin(now) {
		return nil, ErrInvalidCredentials
	}

	if err := e.checkSecondFactor(ctx, kind, account, code, isBackup); err != nil {
		return nil, err
	}

	enabled := true
	err = b.repo.Update(ctx, account.ID, AccountPatch{
		ExpectTOTPEnabled: &enabled,
		LastLoginAt:       &now,
	})
	if err != nil {
		return nil, mfaWriteError("mfa verify", err)
	}

	result, err := e.issue(ctx, kind, account.ID, kind.SessionPurpose())
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, account.ID, nil, func() map[string]string {
		return map[string]string{"kind": kind.String(), "backup": fmt.Sprint(isBackup)}
	})
	return result, nil
}

// CompleteMFA is VerifyMFA driven by the claims of the temporary token the
// client presented. The temporary token is revoked once exchanged when
// revocation is configured.
func (e *Engine) CompleteMFA(ctx context.Context, claims *jwt.Claims, code string, isBackup bool) (*LoginResult, error) {
	if claims == nil || claims.Purpose != jwt.PurposeTemporary {
		return nil, ErrForbidden
	}
	kind, ok := KindOf(claims)
	if !ok {
		return nil, ErrUnauthenticated
	}
	result, err := e.VerifyMFA(ctx, kind, claims.Subject, code, isBackup)
	if err != nil {
		return nil, err
	}
	if e.config.Revocation.RevokeConsumedTemporary {
		if err := e.Revoke(ctx, claims, "consumed"); err != nil {
			e.logger.Warn("mfa verify: temporary token not revoked",
				zap.String("jti", claims.ID), zap.Error(err))
		}
	}
	return result, nil
}

// RegenerateBackupCodes replaces the backup code batch of an enrolled
// account. It requires a current TOTP code.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, kind AccountKind, subject, code string) ([]BackupCode, error) {
	_, account, err := e.loadAccount(ctx, kind, subject)
	if err != nil {
		return nil, err
	}
	if !account.TOTPEnabled {
		return nil, ErrMFANotEnabled
	}
	if err := e.checkSecondFactor(ctx, kind, account, code, false); err != nil {
		return nil, err
	}
	codes, err := e.backupCodes.Generate(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricBackupCodesGenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, account.ID, nil, kindMetadata(kind))
	return codes, nil
}

// ListBackupCodes returns metadata for the account's backup codes.
func (e *Engine) ListBackupCodes(ctx context.Context, kind AccountKind, subject string) ([]BackupCodeInfo, error) {
	_, account, err := e.loadAccount(ctx, kind, subject)
	if err != nil {
		return nil, err
	}
	if !account.TOTPEnabled {
		return nil, ErrMFANotEnabled
	}
	return e.backupCodes.List(ctx, account.ID)
}

// checkSecondFactor verifies a TOTP or backup code under the attempt limiter.
func (e *Engine) checkSecondFactor(ctx context.Context, kind AccountKind, account *Account, code string, isBackup bool) error {
	if err := e.mfaLimiter.Check(ctx, kind.String(), account.ID); err != nil {
		return e.limiterError(ctx, account.ID, err)
	}

	var err error
	if isBackup {
		err = e.backupCodes.Redeem(ctx, account.ID, code)
	} else {
		err = e.verifyTOTP(account, code)
	}

	switch {
	case err == nil:
		if rerr := e.mfaLimiter.Reset(ctx, kind.String(), account.ID); rerr != nil {
			e.logger.Warn("mfa: limiter reset failed", zap.String("subject", account.ID), zap.Error(rerr))
		}
		if isBackup {
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, account.ID, nil, kindMetadata(kind))
		}
		return nil
	case errors.Is(err, ErrInvalidCode):
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, account.ID, err, func() map[string]string {
			return map[string]string{"kind": kind.String(), "backup": fmt.Sprint(isBackup)}
		})
		if lerr := e.mfaLimiter.RecordFailure(ctx, kind.String(), account.ID); lerr != nil &&
			!errors.Is(lerr, limiters.ErrMFARateLimited) {
			e.logger.Warn("mfa: limiter record failed", zap.String("subject", account.ID), zap.Error(lerr))
		}
		return ErrInvalidCode
	default:
		return err
	}
}

// looksLikeBackupCode tells backup codes from TOTP codes by length. When both
// have six digits the code is treated as TOTP.
func (e *Engine) looksLikeBackupCode(code string) bool {
	n := e.config.BackupCodes.Digits
	return n != totpDigits && len(canonicalizeBackupCode(code)) == n
}

func (e *Engine) verifyTOTP(account *Account, code string) error {
	ok, err := e.totp.Verify(account.TOTPSecret, code, e.now())
	if err != nil {
		e.logger.Error("mfa: stored totp secret unusable", zap.String("subject", account.ID))
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

func (e *Engine) limiterError(ctx context.Context, subject string, err error) error {
	if errors.Is(err, limiters.ErrMFARateLimited) {
		e.metricInc(MetricMFARateLimited)
		e.emitAudit(ctx, auditEventMFARateLimited, false, subject, ErrMFARateLimited, nil)
		return ErrMFARateLimited
	}
	return fmt.Errorf("mfa limiter: %w", err)
}

func (e *Engine) loadAccount(ctx context.Context, kind AccountKind, subject string) (*kindBinding, *Account, error) {
	b, err := e.binding(kind)
	if err != nil {
		return nil, nil, err
	}
	if subject == "" {
		return nil, nil, ErrAccountNotFound
	}
	account, err := b.repo.FindByID(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrAccountNotFound
		}
		return nil, nil, fmt.Errorf("load account: %w", err)
	}
	if account.Status == AccountDeleted {
		return nil, nil, ErrAccountNotFound
	}
	return b, account, nil
}

func mfaWriteError(op string, err error) error {
	switch {
	case errors.Is(err, ErrConflict):
		return ErrMFAStateConflict
	case errors.Is(err, ErrNotFound):
		return ErrAccountNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func accountLabel(a *Account) string {
	switch {
	case a.Email != "":
		return a.Email
	case a.Username != "":
		return a.Username
	default:
		return a.ID
	}
}
