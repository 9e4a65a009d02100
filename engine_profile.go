package goIdentity

import (
	"context"
	"fmt"
	"strings"
)

// Profile returns the account userID.
func (e *Engine) Profile(ctx context.Context, userID string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	user, err := e.userStore.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of upd. A changed email or mobile
// must be unused by other accounts and proven through OTP, the same as at
// registration. A new password is checked against the policy and stored
// after the other fields.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	current, err := e.userStore.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	next := current.Clone()

	verr := newValidationError()
	if upd.Username != nil {
		username := strings.TrimSpace(*upd.Username)
		if username != current.Username {
			if err := e.checkUsername(ctx, verr, username, current.ID); err != nil {
				return nil, err
			}
		}
		next.Username = username
	}
	if upd.Name != nil {
		next.Name = strings.TrimSpace(*upd.Name)
	}

	var newEmail, newMobile string
	if upd.Email != nil {
		email := strings.TrimSpace(*upd.Email)
		if email == "" && e.config.Registration.RequireEmail {
			verr.Add("email", msgEmailRequired)
		}
		if email != "" && email != deref(current.Email) {
			newEmail = email
		}
		next.Email = optional(email)
	}
	if upd.Mobile != nil {
		mobile := strings.TrimSpace(*upd.Mobile)
		if mobile == "" && e.config.Registration.RequireMobile {
			verr.Add("mobile", msgMobileRequired)
		}
		if mobile != "" && mobile != deref(current.Mobile) {
			newMobile = mobile
		}
		next.Mobile = optional(mobile)
	}
	checkContactFormat(verr, newEmail, newMobile)
	if upd.Password != nil && *upd.Password == "" {
		verr.Add("password", msgRequired)
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	if newEmail != "" {
		taken, err := e.contactTaken(ctx, OTPKindEmail, newEmail, current.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fieldError("email", msgEmailTaken)
		}
	}
	if newMobile != "" {
		taken, err := e.contactTaken(ctx, OTPKindMobile, newMobile, current.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fieldError("mobile", msgMobileTaken)
		}
	}

	if err := e.requireValidatedContacts(ctx, newEmail, newMobile); err != nil {
		return nil, err
	}

	var newHash string
	if upd.Password != nil {
		problems := e.policy.Validate(*upd.Password, passwordAttrs(next.Username, next.Name, deref(next.Email)))
		if len(problems) > 0 {
			return nil, &ValidationError{Fields: map[string][]string{"password": problems}}
		}
		newHash, err = e.passwordHash.Hash(*upd.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServer, err)
		}
	}

	next.UpdatedAt = e.clock().UTC()
	if err := e.userStore.Update(ctx, next); err != nil {
		return nil, storeError(err)
	}

	if newHash != "" {
		if err := e.userStore.SetPasswordHash(ctx, next.ID, newHash); err != nil {
			return nil, storeError(err)
		}
		next.PasswordHash = newHash
	}

	e.metricInc(MetricProfileUpdated)
	e.emitAudit(ctx, auditEventProfileUpdated, true, next.ID, nil, func() map[string]string {
		return map[string]string{
			"email_changed":    boolString(newEmail != ""),
			"mobile_changed":   boolString(newMobile != ""),
			"password_changed": boolString(newHash != ""),
		}
	})

	return next, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
