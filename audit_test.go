package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	seen    []AuditEvent
}

func (s *blockingSink) Emit(_ context.Context, event AuditEvent) {
	<-s.release
	s.mu.Lock()
	s.seen = append(s.seen, event)
	s.mu.Unlock()
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLoginFailure})
	}
	// One event may be held by the sink and one by the buffer.
	assert.GreaterOrEqual(t, d.Dropped(), uint64(8))

	close(sink.release)
	d.Close()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, uint64(10), uint64(len(sink.seen))+d.Dropped())
}

func TestAuditDispatcherDisabledIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	assert.Nil(t, d)
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestAuditDispatcherFlushesOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
	}
	d.Close()
	assert.Len(t, sink.Events(), 5)

	d.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})
	assert.Len(t, sink.Events(), 5, "emit after close is ignored")
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: testEpoch,
		EventType: auditEventMFAFailure,
		Subject:   "u-1",
		Error:     string(auditErrInvalidCode),
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var decoded AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "mfa_failure", decoded.EventType)
	assert.Equal(t, "invalid_code", decoded.Error)
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{Timestamp: time.Now(), EventType: auditEventLoginSuccess, Success: true, Subject: "u-1"})
	sink.Emit(context.Background(), AuditEvent{Timestamp: time.Now(), EventType: auditEventLoginFailure, Error: "invalid_credentials", Metadata: map[string]string{"kind": "user"}})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "login_success", entries[0].Message)
	assert.Equal(t, "audit", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "user", entries[1].ContextMap()["meta.kind"])
}

func TestAuditErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{ErrInvalidCode, auditErrInvalidCode},
		{ErrMFARateLimited, auditErrRateLimited},
		{invalidField("email", "invalid format"), auditErrValidation},
		{ErrAccountExists, auditErrDuplicate},
		{ErrForbidden, auditErrForbidden},
		{ErrMFAStateConflict, auditErrMFAState},
		{errStorageDown, auditErrInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, auditErrorCode(tt.err))
	}
}

func TestMFAAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, env.users, "u-1", "buyer@example.com", "Sleeve4Charizard")
	_, codes := env.enroll(t, UserAccount, "u-1")

	_, err := env.engine.VerifyMFA(context.Background(), UserAccount, "u-1", codes[0].Code, true)
	require.NoError(t, err)

	events := env.drainEvents()
	assert.Equal(t, []string{
		auditEventMFASetup,
		auditEventMFAEnabled,
		auditEventBackupCodeUsed,
		auditEventMFASuccess,
	}, eventTypes(events))
	for _, ev := range events {
		for _, v := range ev.Metadata {
			assert.NotEqual(t, codes[0].Code, v)
		}
	}
}
