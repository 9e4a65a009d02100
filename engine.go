package goIdentity

import (
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"go.uber.org/zap"
)

// errStoreUnavailable wraps failures of the user or OTP store.
var errStoreUnavailable = childError(ErrServer, "store unavailable")

// Engine runs the OTP, login, registration and token flows. It is safe for
// concurrent use; all per-request state lives in the stores.
type Engine struct {
	config       Config
	userStore    UserStore
	otpStore     OTPStore
	gateway      MessagingGateway
	rateLimiter  *rate.Limiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	passwordHash PasswordHasher
	policy       password.Policy
	jwtManager   *jwt.Manager
	logger       *zap.Logger
	now          func() time.Time
}

// Close flushes buffered audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Engine) ready() error {
	if e == nil || e.userStore == nil || e.otpStore == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	return nil
}

// storeError maps a raw store failure onto the public taxonomy. Not-found and
// duplicate sentinels pass through unchanged.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrDuplicateUser):
		return err
	default:
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
}
