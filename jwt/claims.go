package jwt

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose fixes what a token may be used for.
type Purpose string

const (
	// PurposeAccess is a full user session token.
	PurposeAccess Purpose = "access"
	// PurposeTemporary only allows completing a pending MFA challenge.
	PurposeTemporary Purpose = "temporary"
	// PurposeAdmin is a full administrator session token.
	PurposeAdmin Purpose = "admin"
)

// Known reports whether p is one of the purposes this package issues.
func (p Purpose) Known() bool {
	switch p {
	case PurposeAccess, PurposeTemporary, PurposeAdmin:
		return true
	default:
		return false
	}
}

const (
	// AudienceUser marks tokens minted for regular marketplace accounts.
	AudienceUser = "user"
	// AudienceAdmin marks tokens minted for administrator accounts.
	AudienceAdmin = "admin"

	// ScopeAdmin is always present on admin-purpose tokens.
	ScopeAdmin = "admin"
)

// Claims is the verified, decoded form of a token.
type Claims struct {
	Subject   string
	Purpose   Purpose
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
	Scope     []string
}

// HasScope reports whether s is present in the token scope.
func (c *Claims) HasScope(s string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Scope, s)
}

type tokenClaims struct {
	Purpose Purpose  `json:"purpose"`
	Scope   []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func (tc *tokenClaims) decoded() *Claims {
	c := &Claims{
		Subject: tc.Subject,
		Purpose: tc.Purpose,
		ID:      tc.ID,
		Scope:   slices.Clone(tc.Scope),
	}
	if len(tc.Audience) > 0 {
		c.Audience = tc.Audience[0]
	}
	if tc.IssuedAt != nil {
		c.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c
}
