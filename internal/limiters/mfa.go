package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMFAMaxAttempts = 5
	defaultMFACooldown    = 5 * time.Minute
)

var (
	ErrMFARateLimited = errors.New("mfa rate limited")
	ErrMFAUnavailable = errors.New("mfa limiter unavailable")
)

// MFALimiterConfig holds the failure budget for second-factor attempts.
type MFALimiterConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
	Prefix      string
}

// MFALimiter counts failed TOTP and backup code attempts per subject in a
// fixed window that opens on the first failure.
type MFALimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	cooldown    time.Duration
	prefix      string
}

// NewMFALimiter creates an MFA limiter. Zero-value fields in cfg fall back
// to 5 attempts per 5 minutes under the "mfa" prefix.
func NewMFALimiter(redisClient redis.UniversalClient, cfg MFALimiterConfig) *MFALimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMFAMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultMFACooldown
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mfa"
	}
	return &MFALimiter{redis: redisClient, maxAttempts: int64(max), cooldown: cd, prefix: prefix}
}

func (l *MFALimiter) key(kind, subject string) string {
	return l.prefix + ":att:" + kind + ":" + subject
}

// Check returns ErrMFARateLimited once the subject has used its budget.
func (l *MFALimiter) Check(ctx context.Context, kind, subject string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(kind, subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrMFARateLimited
	}
	return nil
}

// RecordFailure counts one failed attempt and reports ErrMFARateLimited when
// it exhausted the budget.
func (l *MFALimiter) RecordFailure(ctx context.Context, kind, subject string) error {
	if l == nil {
		return nil
	}
	key := l.key(kind, subject)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrMFARateLimited
	}
	return nil
}

// Reset clears the counter after a successful attempt.
func (l *MFALimiter) Reset(ctx context.Context, kind, subject string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(kind, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	return nil
}
