package goIdentity

import (
	"context"
	"errors"
	"regexp"

	"github.com/MrEthical07/goIdentity/internal"
	"go.uber.org/zap"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ClassifyIdentifier decides which user attribute s is matched against. The
// order matters: an all-digit string is a mobile number even if it could be
// a username.
func ClassifyIdentifier(s string) IdentifierKind {
	switch {
	case internal.HasOnlyDigits(s):
		return IdentifierMobile
	case isEmail(s):
		return IdentifierEmail
	default:
		return IdentifierUsername
	}
}

func isEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ResolveIdentity finds the user identifier refers to. It returns nil, nil
// when no user matches.
func (e *Engine) ResolveIdentity(ctx context.Context, identifier string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if identifier == "" {
		return nil, nil
	}

	var (
		user *User
		err  error
	)
	switch ClassifyIdentifier(identifier) {
	case IdentifierMobile:
		user, err = e.userStore.GetByMobile(ctx, identifier)
	case IdentifierEmail:
		user, err = e.userStore.GetByEmail(ctx, identifier)
	default:
		user, err = e.userStore.GetByUsername(ctx, identifier)
	}
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	return user, nil
}

// Authenticate returns the active user identified by identifier whose
// password matches, or nil, nil. Errors are reserved for store failures.
func (e *Engine) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	if password == "" {
		return nil, nil
	}

	user, err := e.ResolveIdentity(ctx, identifier)
	if err != nil || user == nil {
		return nil, err
	}
	if !user.Active || user.PasswordHash == "" {
		return nil, nil
	}

	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, nil
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, password)
	}

	return user, nil
}

// upgradePasswordHash is best-effort: a failure never blocks the login.
func (e *Engine) upgradePasswordHash(ctx context.Context, user *User, password string) {
	needsUpgrade, err := e.passwordHash.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needsUpgrade {
		return
	}
	upgraded, err := e.passwordHash.Hash(password)
	if err != nil {
		e.logger.Warn("goIdentity: password hash upgrade generation failed", zap.String("user_id", user.ID))
		return
	}
	if err := e.userStore.SetPasswordHash(ctx, user.ID, upgraded); err != nil {
		e.logger.Warn("goIdentity: password hash upgrade update failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = upgraded
}

// userByDestination looks up the owner of an email address or mobile number.
func (e *Engine) userByDestination(ctx context.Context, kind OTPKind, destination string) (*User, error) {
	var (
		user *User
		err  error
	)
	if kind == OTPKindEmail {
		user, err = e.userStore.GetByEmail(ctx, destination)
	} else {
		user, err = e.userStore.GetByMobile(ctx, destination)
	}
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	return user, nil
}
