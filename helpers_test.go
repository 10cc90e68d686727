package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcgemporium/authcore/password"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

// memAccounts is an in-memory UserRepository with the same conditional
// update semantics as store/postgres.
type memAccounts struct {
	mu       sync.Mutex
	byID     map[string]*Account
	creates  int
	lookups  int
	updates  int
	failNext error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]*Account)}
}

func (m *memAccounts) put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[a.ID] = &a
}

func (m *memAccounts) get(id string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *memAccounts) FindByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) FindByIdentifier(_ context.Context, identifier string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if strings.EqualFold(a.Email, identifier) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccounts) Update(_ context.Context, id string, patch AccountPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !patch.Matches(a) {
		return ErrConflict
	}
	patch.Apply(a)
	m.updates++
	return nil
}

func (m *memAccounts) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, a := range m.byID {
		if strings.EqualFold(a.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAccounts) ExistsByUsername(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, a := range m.byID {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAccounts) Create(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if strings.EqualFold(a.Email, account.Email) || a.Username == account.Username {
			return ErrConflict
		}
	}
	cp := *account
	m.byID[account.ID] = &cp
	m.creates++
	return nil
}

func (m *memAccounts) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates + m.updates
}

type memBackupCodes struct {
	mu          sync.Mutex
	records     map[string]*BackupCodeRecord
	failReplace error
}

func newMemBackupCodes() *memBackupCodes {
	return &memBackupCodes{records: make(map[string]*BackupCodeRecord)}
}

func (m *memBackupCodes) ReplaceForOwner(_ context.Context, ownerID string, records []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReplace != nil {
		return m.failReplace
	}
	for id, rec := range m.records {
		if rec.OwnerID == ownerID {
			delete(m.records, id)
		}
	}
	for i := range records {
		rec := records[i]
		m.records[rec.ID] = &rec
	}
	return nil
}

func (m *memBackupCodes) FindUnusedByOwner(_ context.Context, ownerID string, now time.Time) ([]BackupCodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackupCodeRecord
	for _, rec := range m.records {
		if rec.OwnerID == ownerID && rec.UsedAt == nil && now.Before(rec.ExpiresAt) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memBackupCodes) ListByOwner(_ context.Context, ownerID string) ([]BackupCodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackupCodeRecord
	for _, rec := range m.records {
		if rec.OwnerID == ownerID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memBackupCodes) MarkUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.UsedAt != nil {
		return ErrConflict
	}
	rec.UsedAt = &at
	return nil
}

func (m *memBackupCodes) DeleteByOwner(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.OwnerID == ownerID {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memBackupCodes) failReplaceWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReplace = err
}

func (m *memBackupCodes) count(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.OwnerID == ownerID {
			n++
		}
	}
	return n
}

type memRevocations struct {
	mu      sync.Mutex
	revoked map[string]string
}

func newMemRevocations() *memRevocations {
	return &memRevocations{revoked: make(map[string]string)}
}

func (m *memRevocations) Revoke(_ context.Context, jti, _, _ string, _ time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = reason
	return nil
}

func (m *memRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEpoch sits 15 seconds into a 30 second TOTP step.
var testEpoch = time.Unix(1700000025, 0).UTC()

type testEnv struct {
	engine      *Engine
	users       *memAccounts
	admins      *memAccounts
	codes       *memBackupCodes
	revocations *memRevocations
	clock       *testClock
	sink        *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.BackupCodes.HashCost = 4
	cfg.Audit.DropIfFull = false
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		users:       newMemAccounts(),
		admins:      newMemAccounts(),
		codes:       newMemBackupCodes(),
		revocations: newMemRevocations(),
		clock:       &testClock{now: testEpoch},
		sink:        NewChannelSink(1024),
	}
	engine, err := New().
		WithConfig(cfg).
		WithSigningKey([]byte(testSigningKey)).
		WithUserRepository(env.users).
		WithAdminRepository(env.admins).
		WithBackupCodeRepository(env.codes).
		WithRevocationStore(env.revocations).
		WithAuditSink(env.sink).
		WithClock(env.clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// seed stores an active account with an Argon2id hash of plaintext.
func (env *testEnv) seed(t *testing.T, repo *memAccounts, id, email, plaintext string) Account {
	t.Helper()
	hash, err := env.engine.passwords.Hash(plaintext)
	require.NoError(t, err)
	a := Account{
		ID:           id,
		Email:        email,
		Username:     strings.Split(email, "@")[0],
		PasswordHash: hash,
		Status:       AccountActive,
		CreatedAt:    testEpoch,
	}
	repo.put(a)
	return a
}

// enroll walks an account through setup and enable and returns the secret
// and the first batch of backup codes.
func (env *testEnv) enroll(t *testing.T, kind AccountKind, id string) (string, []BackupCode) {
	t.Helper()
	ctx := context.Background()
	setup, err := env.engine.SetupMFA(ctx, kind, id)
	require.NoError(t, err)
	codes, err := env.engine.EnableMFA(ctx, kind, id, env.code(t, setup.Secret, 0))
	require.NoError(t, err)
	return setup.Secret, codes
}

// code is the TOTP code an authenticator shows at the current test time
// shifted by offset.
func (env *testEnv) code(t *testing.T, secret string, offset time.Duration) string {
	t.Helper()
	c, err := env.engine.totp.codeAt(secret, env.clock.Now().Add(offset))
	require.NoError(t, err)
	return c
}

// drainEvents returns the audit events emitted so far. Close flushes the
// dispatcher first.
func (env *testEnv) drainEvents() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []AuditEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

var errStorageDown = errors.New("storage down")
