package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/google/uuid"
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

const (
	msgRequired          = "This field is required."
	msgEmailRequired     = "Email is required."
	msgMobileRequired    = "Mobile is required."
	msgInvalidEmail      = "Enter a valid email address."
	msgInvalidMobile     = "Enter a valid mobile number."
	msgInvalidUsername   = "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	msgUsernameTaken     = "A user with that username already exists."
	msgEmailTaken        = "A user with that email already exists."
	msgMobileTaken       = "A user with that mobile already exists."
	msgEmailNotVerified  = "The email must be pre-validated via OTP."
	msgMobileNotVerified = "The mobile number must be pre-validated via OTP."
)

// Register creates an active account. Checks run in a fixed order and stop
// at the first step that reports problems: required contact fields, username,
// email uniqueness, mobile uniqueness, OTP proof of ownership for every
// contact field supplied, then password strength. Each failing step returns
// a single ValidationError listing all of its field messages.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.Mobile = strings.TrimSpace(req.Mobile)

	user, err := e.register(ctx, req)
	if err != nil {
		e.metricInc(MetricRegisterRejected)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", err, func() map[string]string {
			return map[string]string{"username": req.Username}
		})
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, user.ID, nil, nil)

	e.sendWelcome(ctx, user)

	return user, nil
}

func (e *Engine) register(ctx context.Context, req RegisterRequest) (*User, error) {
	if e.config.Registration.RequireEmail && req.Email == "" {
		return nil, fieldError("email", msgEmailRequired)
	}
	if e.config.Registration.RequireMobile && req.Mobile == "" {
		return nil, fieldError("mobile", msgMobileRequired)
	}

	verr := newValidationError()
	if err := e.checkUsername(ctx, verr, req.Username, ""); err != nil {
		return nil, err
	}
	checkContactFormat(verr, req.Email, req.Mobile)
	if req.Password == "" {
		verr.Add("password", msgRequired)
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	if req.Email != "" {
		taken, err := e.contactTaken(ctx, OTPKindEmail, req.Email, "")
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fieldError("email", msgEmailTaken)
		}
	}
	if req.Mobile != "" {
		taken, err := e.contactTaken(ctx, OTPKindMobile, req.Mobile, "")
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fieldError("mobile", msgMobileTaken)
		}
	}

	if err := e.requireValidatedContacts(ctx, req.Email, req.Mobile); err != nil {
		return nil, err
	}

	if problems := e.policy.Validate(req.Password, passwordAttrs(req.Username, req.Name, req.Email)); len(problems) > 0 {
		return nil, &ValidationError{Fields: map[string][]string{"password": problems}}
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}

	now := e.clock().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        optional(req.Email),
		Mobile:       optional(req.Mobile),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.userStore.Create(ctx, user); err != nil {
		return nil, storeError(err)
	}

	return user, nil
}

// checkUsername adds format and uniqueness problems for username to verr.
// selfID excludes the caller's own account from the uniqueness check.
func (e *Engine) checkUsername(ctx context.Context, verr *ValidationError, username, selfID string) error {
	switch {
	case username == "":
		verr.Add("username", msgRequired)
		return nil
	case utf8.RuneCountInString(username) > e.config.Identity.UsernameMaxLength:
		verr.Add("username", fmt.Sprintf("Ensure this field has no more than %d characters.", e.config.Identity.UsernameMaxLength))
		return nil
	case !usernamePattern.MatchString(username):
		verr.Add("username", msgInvalidUsername)
		return nil
	}

	existing, err := e.userStore.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil
	case err != nil:
		return storeError(err)
	case existing.ID != selfID:
		verr.Add("username", msgUsernameTaken)
	}
	return nil
}

func checkContactFormat(verr *ValidationError, email, mobile string) {
	if email != "" && !isEmail(email) {
		verr.Add("email", msgInvalidEmail)
	}
	if mobile != "" && !internal.HasOnlyDigits(mobile) {
		verr.Add("mobile", msgInvalidMobile)
	}
}

// contactTaken reports whether another account already owns value.
func (e *Engine) contactTaken(ctx context.Context, kind OTPKind, value, selfID string) (bool, error) {
	owner, err := e.userByDestination(ctx, kind, value)
	if err != nil {
		return false, err
	}
	return owner != nil && owner.ID != selfID, nil
}

// requireValidatedContacts checks the OTP proof of ownership for every
// non-empty contact value.
func (e *Engine) requireValidatedContacts(ctx context.Context, email, mobile string) error {
	verr := newValidationError()
	if email != "" {
		ok, err := e.OTPValidated(ctx, email)
		if err != nil {
			return err
		}
		if !ok {
			verr.Add("email", msgEmailNotVerified)
		}
	}
	if mobile != "" {
		ok, err := e.OTPValidated(ctx, mobile)
		if err != nil {
			return err
		}
		if !ok {
			verr.Add("mobile", msgMobileNotVerified)
		}
	}
	return verr.errOrNil()
}

func passwordAttrs(username, name, email string) map[string]string {
	return map[string]string{
		"username":      username,
		"name":          name,
		"email address": email,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
