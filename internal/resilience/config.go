package resilience

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/config"
)

// FromRetryConfig builds a RetryConfig from the retry section, logging each
// retry under the given service name.
func FromRetryConfig(rc config.RetryConfig, service string) RetryConfig {
	cfg := DefaultRetryConfig()
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(rc.InitialBackoffMs) * time.Millisecond
	}
	if rc.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(rc.MaxBackoffMs) * time.Millisecond
	}
	cfg.OnRetry = RetryLogger(service, "request")
	return cfg
}

// FromCircuitConfig builds the geocoder breaker from its threshold and reset
// settings. State changes are logged.
func FromCircuitConfig(threshold, resetSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if threshold > 0 {
		cfg.FailureThreshold = threshold
	}
	if resetSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetSecs) * time.Second
	}
	cfg.OnStateChange = func(from, to CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return cfg
}
