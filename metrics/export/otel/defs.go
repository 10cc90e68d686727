package otel

import (
	"github.com/tcgemporium/authcore"
)

type counterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

type histogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var counterDefs = []counterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Password logins that issued a full session token."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Password logins rejected as invalid credentials."},
	{ID: authcore.MetricMFARequired, Name: "authcore_mfa_required_total", Help: "Password logins that stopped at the MFA step."},
	{ID: authcore.MetricMFASuccess, Name: "authcore_mfa_success_total", Help: "Completed MFA verifications."},
	{ID: authcore.MetricMFAFailure, Name: "authcore_mfa_failure_total", Help: "Rejected TOTP or backup codes."},
	{ID: authcore.MetricMFARateLimited, Name: "authcore_mfa_rate_limited_total", Help: "MFA attempts refused by the attempt limiter."},
	{ID: authcore.MetricMFASetup, Name: "authcore_mfa_setup_total", Help: "MFA enrollments started."},
	{ID: authcore.MetricMFAEnabled, Name: "authcore_mfa_enabled_total", Help: "MFA enrollments confirmed."},
	{ID: authcore.MetricMFADisabled, Name: "authcore_mfa_disabled_total", Help: "MFA disable operations."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Redeemed backup codes."},
	{ID: authcore.MetricBackupCodesGenerated, Name: "authcore_backup_codes_generated_total", Help: "Backup code batches generated."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts that revoked a token."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Registered accounts."},
	{ID: authcore.MetricRegisterFailure, Name: "authcore_register_failure_total", Help: "Registrations rejected by input validation."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricGateAllowed, Name: "authcore_gate_allowed_total", Help: "Requests admitted by the gate."},
	{ID: authcore.MetricGateForbidden, Name: "authcore_gate_forbidden_total", Help: "Requests whose token purpose may not reach the path."},
	{ID: authcore.MetricGateUnauthenticated, Name: "authcore_gate_unauthenticated_total", Help: "Requests with missing, invalid or revoked tokens."},
}

var histogramDefs = []histogramDef{
	{ID: authcore.MetricGateLatency, Name: "authcore_gate_latency_seconds", Help: "Gate latency histogram."},
}

var histogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

func normalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func cumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
