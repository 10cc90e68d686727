package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tcgemporium/authcore/internal/limiters"
	"github.com/tcgemporium/authcore/jwt"
	"github.com/tcgemporium/authcore/password"
	"github.com/tcgemporium/authcore/revocation"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       UserRepository
	admins      AccountRepository
	backupCodes BackupCodeRepository
	revocations RevocationStore

	logger    *zap.Logger
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSigningKey sets the HS256 secret.
func (b *Builder) WithSigningKey(key []byte) *Builder {
	b.config.JWT.SigningKey = append([]byte(nil), key...)
	return b
}

// WithRedis enables the MFA attempt limiter and, unless WithRevocationStore
// was called, a Redis revocation store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserRepository binds UserAccount flows and registration.
func (b *Builder) WithUserRepository(repo UserRepository) *Builder {
	b.users = repo
	return b
}

// WithAdminRepository binds AdminAccount flows.
func (b *Builder) WithAdminRepository(repo AccountRepository) *Builder {
	b.admins = repo
	return b
}

func (b *Builder) WithBackupCodeRepository(repo BackupCodeRepository) *Builder {
	b.backupCodes = repo
	return b
}

func (b *Builder) WithRevocationStore(store RevocationStore) *Builder {
	b.revocations = store
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock injects the time source used for token timestamps, TOTP steps
// and backup code expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every collaborator.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil && b.admins == nil {
		return nil, errors.New("at least one account repository required")
	}
	if b.backupCodes == nil {
		return nil, errors.New("backup code repository required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tokens, err := jwt.NewManager(jwt.Config{
		SigningKey: cfg.JWT.SigningKey,
		Issuer:     cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, err
	}

	passwords, err := password.NewVerifier(cfg.Password)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		kinds:       make(map[AccountKind]*kindBinding, 2),
		backupCodes: NewBackupCodeStore(b.backupCodes, cfg.BackupCodes, clock),
		revocations: b.revocations,
		passwords:   passwords,
		validator:   newInputValidator(cfg.Registration),
		totp:        newTOTPManager(cfg.TOTP),
		tokens:      tokens,
		policy: RoutePolicy{
			MFAVerifyPath: cfg.Routes.MFAVerifyPath,
			AdminPrefix:   cfg.Routes.AdminPrefix,
		},
		clock:   clock,
		logger:  logger.Named("authcore"),
		metrics: NewMetrics(cfg.Metrics),
	}

	if b.users != nil {
		engine.kinds[UserAccount] = &kindBinding{kind: UserAccount, repo: b.users, users: b.users}
	}
	if b.admins != nil {
		engine.kinds[AdminAccount] = &kindBinding{kind: AdminAccount, repo: b.admins}
	}

	if b.redis != nil {
		engine.mfaLimiter = limiters.NewMFALimiter(b.redis, limiters.MFALimiterConfig{
			MaxAttempts: cfg.MFALimiter.MaxAttempts,
			Cooldown:    cfg.MFALimiter.Cooldown,
		})
		if engine.revocations == nil {
			engine.revocations = revocation.NewStore(b.redis, cfg.Revocation.RedisPrefix).WithClock(clock)
		}
	}

	sink := b.auditSink
	if sink == nil {
		sink = NewZapSink(logger)
	}
	engine.audit = newAuditDispatcher(cfg.Audit, sink)

	b.built = true

	return engine, nil
}
