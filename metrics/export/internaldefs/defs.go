package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricOTPGenerated, Name: "goidentity_otp_generated_total", Help: "OTP records created or regenerated."},
	{ID: goIdentity.MetricOTPGenerateCooldown, Name: "goidentity_otp_generate_cooldown_total", Help: "OTP generation requests answered with the existing record during cooling."},
	{ID: goIdentity.MetricOTPSendSuccess, Name: "goidentity_otp_send_success_total", Help: "OTP messages accepted by the gateway."},
	{ID: goIdentity.MetricOTPSendFailure, Name: "goidentity_otp_send_failure_total", Help: "OTP messages the gateway failed to deliver."},
	{ID: goIdentity.MetricOTPRateLimited, Name: "goidentity_otp_rate_limited_total", Help: "OTP sends refused during the cooling period."},
	{ID: goIdentity.MetricOTPValidateSuccess, Name: "goidentity_otp_validate_success_total", Help: "Successful OTP validations."},
	{ID: goIdentity.MetricOTPValidateFailure, Name: "goidentity_otp_validate_failure_total", Help: "Failed OTP validations."},
	{ID: goIdentity.MetricOTPAttemptsExhausted, Name: "goidentity_otp_attempts_exhausted_total", Help: "OTP records reset after running out of attempts."},
	{ID: goIdentity.MetricLoginSuccess, Name: "goidentity_login_success_total", Help: "Successful password logins."},
	{ID: goIdentity.MetricLoginFailure, Name: "goidentity_login_failure_total", Help: "Failed password logins."},
	{ID: goIdentity.MetricLoginRateLimited, Name: "goidentity_login_rate_limited_total", Help: "Throttled password logins."},
	{ID: goIdentity.MetricOTPLoginSuccess, Name: "goidentity_otp_login_success_total", Help: "Successful OTP logins."},
	{ID: goIdentity.MetricRegisterSuccess, Name: "goidentity_register_success_total", Help: "Created accounts."},
	{ID: goIdentity.MetricRegisterRejected, Name: "goidentity_register_rejected_total", Help: "Registrations rejected by validation."},
	{ID: goIdentity.MetricProfileUpdated, Name: "goidentity_profile_updated_total", Help: "Profile updates applied."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Access tokens issued from a refresh token."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: goIdentity.MetricRefreshRateLimited, Name: "goidentity_refresh_rate_limited_total", Help: "Throttled refresh requests."},
	{ID: goIdentity.MetricWelcomeFailure, Name: "goidentity_welcome_failure_total", Help: "Welcome messages that could not be delivered."},
}

var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricDeliveryLatency, Name: "goidentity_delivery_latency_seconds", Help: "Messaging gateway round-trip latency."},
}

// HistogramBounds are the upper bounds of the engine latency buckets in
// seconds. The last bucket is open.
var HistogramBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 10}

// BucketLabels renders each bucket's upper bound as an le label value.
var BucketLabels = []string{"0.05", "0.1", "0.25", "0.5", "1", "2.5", "10", "+Inf"}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
