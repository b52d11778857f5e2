package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef binds a snapshot counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds a snapshot histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for bad credentials or disabled accounts."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins rejected because the identifier was locked out."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins rejected by the rate limiter."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Accounts created."},
	{ID: authcore.MetricRegisterConflict, Name: "authcore_register_conflict_total", Help: "Registrations rejected because the identifier was taken."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshReuse, Name: "authcore_refresh_reuse_total", Help: "Rotated refresh tokens presented again."},
	{ID: authcore.MetricRefreshExpired, Name: "authcore_refresh_expired_total", Help: "Expired refresh tokens presented."},
	{ID: authcore.MetricRefreshInvalid, Name: "authcore_refresh_invalid_total", Help: "Unknown or malformed refresh tokens presented."},
	{ID: authcore.MetricRateLimited, Name: "authcore_rate_limited_total", Help: "Requests rejected by any rate limit class."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricPasswordChange, Name: "authcore_password_change_total", Help: "Successful secret changes."},
	{ID: authcore.MetricLockoutTriggered, Name: "authcore_lockout_triggered_total", Help: "Identifiers that crossed the lockout threshold."},
	{ID: authcore.MetricAuditDropped, Name: "authcore_audit_dropped_total", Help: "Security events the engine failed to enqueue."},
	{ID: authcore.MetricTokensCleanedUp, Name: "authcore_tokens_cleaned_up_total", Help: "Refresh records removed by cleanup."},
	{ID: authcore.MetricUnauthorizedAdmin, Name: "authcore_unauthorized_admin_total", Help: "Administrative calls rejected for lack of privilege."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
}

// QueueDroppedName is the counter fed by the dispatcher's own drop count.
const QueueDroppedName = "authcore_audit_queue_dropped_total"

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, n := range raw {
		running += n
		out[i] = running
	}
	return out
}
