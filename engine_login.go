package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"go.uber.org/zap"
)

// Login signs a user in with a username, email or mobile number and a
// password. Failed attempts are counted per identifier, and per client IP
// when enabled; once the budget is spent Login returns ErrLoginRateLimited
// until the window expires.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, identifier, ip); err != nil {
			return nil, e.loginRateLimited(ctx, identifier, err)
		}
	}

	user, err := e.Authenticate(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if e.rateLimiter != nil {
			if err := e.rateLimiter.IncrementLogin(ctx, identifier, ip); err != nil {
				return nil, e.loginRateLimited(ctx, identifier, err)
			}
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrAuthenticationFailed, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, ErrAuthenticationFailed
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, identifier, ip); err != nil {
			e.logger.Warn("goIdentity: login counter reset failed", zap.Error(err))
		}
	}

	result, err := e.signIn(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"identifier_kind": ClassifyIdentifier(identifier).String()}
	})

	return result, nil
}

// loginRateLimited reports a throttled login. A throttling backend failure
// denies the login as a server error, the same as on refresh.
func (e *Engine) loginRateLimited(ctx context.Context, identifier string, cause error) error {
	if !errors.Is(cause, rate.ErrRateLimited) {
		e.logger.Warn("goIdentity: login throttle unavailable", zap.Error(cause))
		return storeError(cause)
	}
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, "", ErrLoginRateLimited, func() map[string]string {
		return map[string]string{"identifier": identifier}
	})
	return ErrLoginRateLimited
}

// signIn records the login time and issues a token pair.
func (e *Engine) signIn(ctx context.Context, user *User) (*LoginResult, error) {
	now := e.clock().UTC()
	if err := e.userStore.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, storeError(err)
	}
	user = user.Clone()
	user.LastLogin = &now

	pair, err := e.issueTokens(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{TokenPair: pair, User: user}, nil
}
