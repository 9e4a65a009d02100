package goIdentity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
)

func identityFor(user *User) jwt.Identity {
	id := jwt.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Mobile: user.Mobile,
	}
	if user.Name != "" {
		name := user.Name
		id.Name = &name
	}
	return id
}

func (e *Engine) issueTokens(user *User) (TokenPair, error) {
	access, refresh, err := e.jwtManager.CreatePair(identityFor(user))
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrServer, err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RefreshToken exchanges a refresh token for a new access token. The refresh
// token itself is returned unchanged. The owning user must still exist and be
// active.
func (e *Engine) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.jwtManager.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", ErrTokenInvalid, nil)
		return nil, ErrTokenInvalid
	}

	user, err := e.userStore.GetByID(ctx, claims.UID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, storeError(err)
	}
	if user == nil || !user.Active {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.UID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "user_unavailable"}
		})
		return nil, ErrTokenInvalid
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckRefresh(ctx, user.ID); err != nil {
			if !errors.Is(err, rate.ErrRateLimited) {
				return nil, storeError(err)
			}
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, user.ID, ErrRefreshRateLimited, nil)
			return nil, ErrRefreshRateLimited
		}
	}

	access, err := e.jwtManager.CreateAccess(identityFor(user))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, nil, nil)

	return &TokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}

// VerifyToken accepts any valid token, access or refresh.
func (e *Engine) VerifyToken(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.jwtManager.Parse(token); err != nil {
		return ErrTokenInvalid
	}
	return nil
}

// ValidateAccess parses an access token and returns its claims.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*Claims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
