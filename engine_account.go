package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Register creates a marketplace user. Input is validated before any
// repository call, so rejected requests write nothing. The returned account
// carries no password hash.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	b, err := e.binding(UserAccount)
	if err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, ErrEngineNotReady
	}

	req.Email = normalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := e.validator.Struct(req); err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", err, nil)
		return nil, err
	}

	if exists, err := b.users.ExistsByEmail(ctx, req.Email); err != nil {
		return nil, fmt.Errorf("register: email lookup: %w", err)
	} else if exists {
		return nil, e.registerDuplicate(ctx, "email")
	}
	if exists, err := b.users.ExistsByUsername(ctx, req.Username); err != nil {
		return nil, fmt.Errorf("register: username lookup: %w", err)
	} else if exists {
		return nil, e.registerDuplicate(ctx, "username")
	}

	hash, err := e.passwords.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("register: hash password: %w", err)
	}

	now := e.now().UTC()
	account := &Account{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		Status:       AccountActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.users.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, e.registerDuplicate(ctx, "unique")
		}
		return nil, fmt.Errorf("register: create: %w", err)
	}

	e.logger.Info("account registered", zap.String("subject", account.ID))
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, account.ID, nil, nil)

	out := *account
	out.PasswordHash = ""
	return &out, nil
}

func (e *Engine) registerDuplicate(ctx context.Context, field string) error {
	e.metricInc(MetricRegisterDuplicate)
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", ErrAccountExists, func() map[string]string {
		return map[string]string{"field": field}
	})
	return ErrAccountExists
}
