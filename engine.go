package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tcgemporium/authcore/internal/limiters"
	"github.com/tcgemporium/authcore/jwt"
	"github.com/tcgemporium/authcore/password"
	"go.uber.org/zap"
)

// Engine is the authentication orchestrator. It is built once by Builder
// and is safe for concurrent use.
type Engine struct {
	config      Config
	kinds       map[AccountKind]*kindBinding
	backupCodes *BackupCodeStore
	revocations RevocationStore
	mfaLimiter  *limiters.MFALimiter
	passwords   *password.Verifier
	validator   *inputValidator
	totp        *totpManager
	tokens      *jwt.Manager
	policy      RoutePolicy
	clock       func() time.Time
	logger      *zap.Logger
	audit       *auditDispatcher
	metrics     *Metrics
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Policy returns the route policy Gate applies.
func (e *Engine) Policy() RoutePolicy {
	return e.policy
}

// TokenTTL returns the lifetime of tokens issued with purpose.
func (e *Engine) TokenTTL(purpose jwt.Purpose) time.Duration {
	switch purpose {
	case jwt.PurposeTemporary:
		return e.config.JWT.TemporaryTTL
	case jwt.PurposeAdmin:
		return e.config.JWT.AdminTTL
	default:
		return e.config.JWT.AccessTTL
	}
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// Login authenticates a marketplace user by email and password.
func (e *Engine) Login(ctx context.Context, identifier, plaintext string) (*LoginResult, error) {
	return e.LoginAs(ctx, UserAccount, identifier, plaintext)
}

// AdminLogin authenticates an operator. A completed admin session carries an
// admin token instead of an access token.
func (e *Engine) AdminLogin(ctx context.Context, identifier, plaintext string) (*LoginResult, error) {
	return e.LoginAs(ctx, AdminAccount, identifier, plaintext)
}

// LoginAs runs the password step for an account of the given kind. Accounts
// without MFA receive a full session token; accounts with MFA enabled
// receive a temporary token and MFARequired, and must finish with VerifyMFA.
func (e *Engine) LoginAs(ctx context.Context, kind AccountKind, identifier, plaintext string) (*LoginResult, error) {
	b, err := e.binding(kind)
	if err != nil {
		return nil, err
	}

	identifier = normalizeEmail(identifier)
	if identifier == "" {
		return nil, invalidField("identifier", "required")
	}
	if plaintext == "" {
		return nil, invalidField("password", "required")
	}
	if err := e.validator.Email(identifier); err != nil {
		return nil, err
	}

	account, err := b.repo.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("login: load account: %w", err)
		}
		e.passwords.Burn(plaintext)
		return nil, e.loginFailed(ctx, kind, "")
	}

	if !e.passwords.Matches(plaintext, account.PasswordHash) {
		return nil, e.loginFailed(ctx, kind, account.ID)
	}
	now := e.now()
	if !account.canLogin(now) {
		e.logger.Info("login: account not eligible",
			zap.String("subject", account.ID),
			zap.String("status", string(account.Status)))
		return nil, e.loginFailed(ctx, kind, account.ID)
	}

	if account.TOTPEnabled {
		result, err := e.issue(ctx, kind, account.ID, jwt.PurposeTemporary)
		if err != nil {
			return nil, err
		}
		result.MFARequired = true
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, account.ID, nil, kindMetadata(kind))
		return result, nil
	}

	patch := AccountPatch{LastLoginAt: &now}
	if e.passwords.NeedsRehash(account.PasswordHash) {
		if upgraded, err := e.passwords.Hash(plaintext); err == nil {
			patch.PasswordHash = &upgraded
		} else {
			e.logger.Warn("login: rehash failed", zap.String("subject", account.ID), zap.Error(err))
		}
	}
	if err := b.repo.Update(ctx, account.ID, patch); err != nil {
		return nil, fmt.Errorf("login: record login: %w", err)
	}

	result, err := e.issue(ctx, kind, account.ID, kind.SessionPurpose())
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, nil, kindMetadata(kind))
	return result, nil
}

func (e *Engine) loginFailed(ctx context.Context, kind AccountKind, subject string) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, subject, ErrInvalidCredentials, kindMetadata(kind))
	return ErrInvalidCredentials
}

// issue mints a token once every preceding write has committed. A request
// cancelled before this point gets no token.
func (e *Engine) issue(ctx context.Context, kind AccountKind, subject string, purpose jwt.Purpose) (*LoginResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, claims, err := e.tokens.Issue(subject, purpose, kind.audience(), e.TokenTTL(purpose), e.now())
	if err != nil {
		return nil, fmt.Errorf("issue %s token: %w", purpose, err)
	}
	return &LoginResult{
		Token:     token,
		Purpose:   claims.Purpose,
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Logout revokes the presented token when a revocation store is configured.
// Tokens that no longer verify are ignored; the caller clears the cookie
// either way.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	claims, err := e.tokens.Parse(token, e.now())
	if err != nil {
		return nil
	}
	if err := e.Revoke(ctx, claims, "logout"); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, nil, nil)
	return nil
}

// Revoke records claims.ID as revoked until the token expires. It is a no-op
// without a revocation store.
func (e *Engine) Revoke(ctx context.Context, claims *jwt.Claims, reason string) error {
	if e.revocations == nil || claims == nil {
		return nil
	}
	if err := e.revocations.Revoke(ctx, claims.ID, claims.Subject, string(claims.Purpose), claims.ExpiresAt, reason); err != nil {
		return fmt.Errorf("revoke %s: %w", claims.ID, err)
	}
	return nil
}

// Me loads the account behind verified claims.
func (e *Engine) Me(ctx context.Context, claims *jwt.Claims) (*Account, error) {
	kind, ok := KindOf(claims)
	if !ok {
		return nil, ErrUnauthenticated
	}
	b, err := e.binding(kind)
	if err != nil {
		return nil, err
	}
	account, err := b.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("me: load account: %w", err)
	}
	return account, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func kindMetadata(kind AccountKind) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"kind": kind.String()}
	}
}
