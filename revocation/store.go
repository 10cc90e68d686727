package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrEmptyTokenID is returned when Revoke is called without a jti.
var ErrEmptyTokenID = errors.New("revocation: empty token id")

// Reasons recorded with an entry.
const (
	ReasonLogout   = "logout"
	ReasonConsumed = "consumed"
	ReasonRevoked  = "revoked"
)

const revokeScript = `
redis.call("HSET", KEYS[1], "sub", ARGV[1], "purpose", ARGV[2], "reason", ARGV[3], "at", ARGV[4], "exp", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Entry is a stored revocation.
type Entry struct {
	TokenID   string
	Subject   string
	Purpose   string
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// Store keeps revoked jti values under prefix:jti keys.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a revocation Store. An empty prefix defaults to "rvk".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "rvk"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

// WithClock returns a copy of s that reads time from now.
func (s *Store) WithClock(now func() time.Time) *Store {
	out := *s
	out.now = now
	return &out
}

func (s *Store) key(jti string) string {
	return s.prefix + ":" + jti
}

// Revoke records jti until expiresAt. Tokens that have already expired are
// not recorded since they can no longer verify.
func (s *Store) Revoke(ctx context.Context, jti, subject, purpose string, expiresAt time.Time, reason string) error {
	if jti == "" {
		return ErrEmptyTokenID
	}
	now := s.now()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	err := revokeLua.Run(ctx, s.redis, []string{s.key(jti)},
		subject,
		purpose,
		reason,
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(expiresAt.Unix(), 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether jti has a live entry.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Lookup returns the entry for jti, or nil when none is live.
func (s *Store) Lookup(ctx context.Context, jti string) (*Entry, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(jti)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &Entry{
		TokenID:   jti,
		Subject:   fields["sub"],
		Purpose:   fields["purpose"],
		Reason:    fields["reason"],
		RevokedAt: unixField(fields["at"]),
		ExpiresAt: unixField(fields["exp"]),
	}, nil
}

func unixField(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
