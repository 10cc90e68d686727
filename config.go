package authcore

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/tcgemporium/authcore/password"
	"golang.org/x/crypto/bcrypt"
)

// Config is built once at startup and handed to the Builder. The Engine keeps
// its own copy; later changes to the caller's value have no effect.
type Config struct {
	JWT          JWTConfig
	TOTP         TOTPConfig
	BackupCodes  BackupCodeConfig
	Password     password.Config
	Registration RegistrationConfig
	Routes       RouteConfig
	MFALimiter   MFALimiterConfig
	Revocation   RevocationConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds the signing secret and per-purpose lifetimes.
type JWTConfig struct {
	SigningKey   []byte
	Issuer       string
	AccessTTL    time.Duration
	TemporaryTTL time.Duration
	AdminTTL     time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// TOTPConfig controls code generation. Digits and algorithm are fixed at six
// and SHA1 for authenticator app compatibility.
type TOTPConfig struct {
	Issuer string
	Period uint
	Skew   uint
}

// BackupCodeConfig controls backup code batches.
type BackupCodeConfig struct {
	Count    int
	Digits   int
	TTL      time.Duration
	HashCost int
}

// MFALimiterConfig bounds failed verify attempts per subject. It only takes
// effect when the Builder has a Redis client.
type MFALimiterConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig holds the local password policy.
type RegistrationConfig struct {
	MinPasswordLength int
	MaxPasswordLength int
}

/*
====================================
ROUTE CONFIG
====================================
*/

// RouteConfig names the two destinations the purpose policy singles out.
type RouteConfig struct {
	MFAVerifyPath string
	AdminPrefix   string
}

/*
====================================
REVOCATION / AUDIT / METRICS
====================================
*/

// RevocationConfig controls jti revocation when a store is configured.
type RevocationConfig struct {
	RedisPrefix string
	// RevokeConsumedTemporary revokes the temporary token once VerifyMFA
	// has exchanged it.
	RevokeConsumedTemporary bool
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. The signing key is left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:       "tcgemporium",
			AccessTTL:    3 * time.Hour,
			TemporaryTTL: 5 * time.Minute,
			AdminTTL:     3 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer: "TCGEmporium",
			Period: 30,
			Skew:   1,
		},
		BackupCodes: BackupCodeConfig{
			Count:    8,
			Digits:   8,
			TTL:      90 * 24 * time.Hour,
			HashCost: 6,
		},
		Password: password.DefaultConfig(),
		Registration: RegistrationConfig{
			MinPasswordLength: 10,
			MaxPasswordLength: 128,
		},
		Routes: RouteConfig{
			MFAVerifyPath: "/api/v1/private/mfa/verify",
			AdminPrefix:   "/api/v1/admin",
		},
		MFALimiter: MFALimiterConfig{
			MaxAttempts: 5,
			Cooldown:    5 * time.Minute,
		},
		Revocation: RevocationConfig{
			RedisPrefix:             "rvk",
			RevokeConsumedTemporary: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if len(cfg.JWT.SigningKey) > 0 {
		out.JWT.SigningKey = append([]byte(nil), cfg.JWT.SigningKey...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.SigningKey) == 0 {
		return errors.New("JWT SigningKey is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.TemporaryTTL <= 0 || c.JWT.AdminTTL <= 0 {
		return errors.New("JWT TTLs must be > 0")
	}
	if c.JWT.TemporaryTTL > 15*time.Minute {
		return errors.New("JWT TemporaryTTL must be <= 15m")
	}
	if c.JWT.TemporaryTTL >= c.JWT.AccessTTL {
		return errors.New("JWT TemporaryTTL must be shorter than AccessTTL")
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer is required")
	}
	if strings.Contains(c.TOTP.Issuer, ":") {
		return errors.New("TOTP Issuer must not contain ':'")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("TOTP Period must be within [15,120] seconds")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 20 {
		return errors.New("BackupCodes Count must be within [1,20]")
	}
	if c.BackupCodes.Digits < 6 || c.BackupCodes.Digits > 12 {
		return errors.New("BackupCodes Digits must be within [6,12]")
	}
	if c.BackupCodes.TTL <= 0 {
		return errors.New("BackupCodes TTL must be > 0")
	}
	if c.BackupCodes.HashCost < bcrypt.MinCost || c.BackupCodes.HashCost > bcrypt.MaxCost {
		return errors.New("BackupCodes HashCost out of bcrypt range")
	}

	// Registration
	if c.Registration.MinPasswordLength < 8 {
		return errors.New("Registration MinPasswordLength must be >= 8")
	}
	if c.Registration.MaxPasswordLength < c.Registration.MinPasswordLength {
		return errors.New("Registration MaxPasswordLength must be >= MinPasswordLength")
	}

	// Routes
	if !isCleanAbsPath(c.Routes.MFAVerifyPath) {
		return errors.New("Routes MFAVerifyPath must be a clean absolute path")
	}
	if !isCleanAbsPath(c.Routes.AdminPrefix) || c.Routes.AdminPrefix == "/" {
		return errors.New("Routes AdminPrefix must be a clean absolute path other than /")
	}
	if underPrefix(c.Routes.MFAVerifyPath, c.Routes.AdminPrefix) {
		return errors.New("Routes MFAVerifyPath must not sit under AdminPrefix")
	}

	// Limiter
	if c.MFALimiter.MaxAttempts <= 0 {
		return errors.New("MFALimiter MaxAttempts must be > 0")
	}
	if c.MFALimiter.Cooldown <= 0 {
		return errors.New("MFALimiter Cooldown must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

func isCleanAbsPath(p string) bool {
	return strings.HasPrefix(p, "/") && path.Clean(p) == p
}
