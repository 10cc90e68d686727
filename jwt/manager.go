package jwt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSigningKeyLength is the shortest HS256 secret NewManager accepts.
const MinSigningKeyLength = 32

var (
	// ErrMissingSigningKey is returned by NewManager when no secret is configured.
	ErrMissingSigningKey = errors.New("jwt signing key missing")
	// ErrWeakSigningKey is returned by NewManager for secrets below MinSigningKeyLength.
	ErrWeakSigningKey = errors.New("jwt signing key too short")

	// ErrMalformed covers undecodable tokens and tokens whose claims are inconsistent.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid covers signature mismatches and unexpected algorithms.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired is returned once the expiry instant has been reached.
	ErrExpired = errors.New("token expired")
)

// Config holds the signing context. SigningKey is loaded once at startup.
type Config struct {
	SigningKey []byte
	Issuer     string
}

// Manager mints and verifies tokens. It is immutable after NewManager and
// safe for concurrent use.
type Manager struct {
	key    []byte
	issuer string
}

// NewManager validates cfg and returns a Manager. A missing or short key is a
// startup error; there is no fallback secret.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, ErrMissingSigningKey
	}
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, ErrWeakSigningKey
	}

	return &Manager{
		key:    slices.Clone(cfg.SigningKey),
		issuer: strings.TrimSpace(cfg.Issuer),
	}, nil
}

// Issue signs a new token for subject. audience selects the account kind;
// admin-purpose tokens always get the admin audience and scope.
func (m *Manager) Issue(subject string, purpose Purpose, audience string, ttl time.Duration, now time.Time) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("jwt: empty subject")
	}
	if !purpose.Known() {
		return "", nil, fmt.Errorf("jwt: unknown purpose %q", purpose)
	}
	if ttl <= 0 {
		return "", nil, errors.New("jwt: ttl must be positive")
	}

	var scope []string
	switch purpose {
	case PurposeAdmin:
		audience = AudienceAdmin
		scope = []string{ScopeAdmin}
	case PurposeAccess:
		audience = AudienceUser
	default:
		if audience != AudienceAdmin {
			audience = AudienceUser
		}
	}

	tc := tokenClaims{
		Purpose: purpose,
		Scope:   scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(m.key)
	if err != nil {
		return "", nil, fmt.Errorf("jwt: sign: %w", err)
	}

	return signed, tc.decoded(), nil
}

// Parse verifies raw against the signing key and the clock value now.
// Expiry is checked without leeway.
func (m *Manager) Parse(raw string, now time.Time) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}

	tc := &tokenClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(raw, tc, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrMalformed
	}

	claims := tc.decoded()
	if err := checkConsistency(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Admin and user tokens share a key, so the purpose, audience and scope must
// agree before a token is trusted.
func checkConsistency(c *Claims) error {
	if c.Subject == "" || c.ID == "" {
		return fmt.Errorf("%w: missing sub or jti", ErrMalformed)
	}

	admin := c.Audience == AudienceAdmin
	switch c.Purpose {
	case PurposeAdmin:
		if !admin || !c.HasScope(ScopeAdmin) {
			return fmt.Errorf("%w: admin purpose outside admin context", ErrMalformed)
		}
	case PurposeAccess:
		if admin || c.HasScope(ScopeAdmin) {
			return fmt.Errorf("%w: access purpose inside admin context", ErrMalformed)
		}
	case PurposeTemporary:
		if c.HasScope(ScopeAdmin) {
			return fmt.Errorf("%w: temporary token with admin scope", ErrMalformed)
		}
	}
	return nil
}
