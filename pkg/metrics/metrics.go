package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts tracks total login attempts by result
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbridge_login_attempts_total",
			Help: "Total number of login attempts by result (success/failure)",
		},
		[]string{"result", "reason"},
	)

	// CallbackRejections tracks rejected auth callbacks by cause. CSRF causes
	// are split (state_mismatch vs state_expired) so tampering and slow logins
	// stay distinguishable in telemetry.
	CallbackRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbridge_callback_rejections_total",
			Help: "Total number of rejected auth callbacks by cause",
		},
		[]string{"cause"},
	)

	// TokenVerifications tracks token verification outcomes by failed check
	TokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbridge_token_verifications_total",
			Help: "Total number of token verifications by result and failed check",
		},
		[]string{"result", "check"},
	)

	// KeySetFetches tracks outbound JWKS fetches by outcome
	KeySetFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbridge_keyset_fetches_total",
			Help: "Total number of JWKS fetches by outcome",
		},
		[]string{"outcome"},
	)

	// SessionRestores tracks session restore attempts at process start
	SessionRestores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbridge_session_restores_total",
			Help: "Total number of session restore attempts by result",
		},
		[]string{"result"},
	)
)

// RecordLoginSuccess records a successful login
func RecordLoginSuccess() {
	LoginAttempts.WithLabelValues("success", "").Inc()
}

// RecordLoginFailure records a failed login with reason
func RecordLoginFailure(reason string) {
	LoginAttempts.WithLabelValues("failure", reason).Inc()
}

// RecordCallbackRejection records a rejected callback with its cause
func RecordCallbackRejection(cause string) {
	CallbackRejections.WithLabelValues(cause).Inc()
}

// RecordVerificationSuccess records a successful token verification
func RecordVerificationSuccess() {
	TokenVerifications.WithLabelValues("success", "").Inc()
}

// RecordVerificationFailure records a failed token verification with the check that failed
func RecordVerificationFailure(check string) {
	TokenVerifications.WithLabelValues("failure", check).Inc()
}

// RecordKeySetFetch records a JWKS fetch outcome
func RecordKeySetFetch(outcome string) {
	KeySetFetches.WithLabelValues(outcome).Inc()
}

// RecordRestore records a session restore attempt result
func RecordRestore(result string) {
	SessionRestores.WithLabelValues(result).Inc()
}
