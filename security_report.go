package goIdentity

import (
	"time"

	"github.com/MrEthical07/goIdentity/internal/security"
)

// SecurityReport summarizes the effective security posture of an Engine.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Argon2                PasswordConfigReport
	OTPLength             int
	OTPCodeSpace          uint64
	OTPAttempts           int
	OTPCoolingPeriod      time.Duration
	LoginThrottleActive   bool
	IPThrottleActive      bool
	RefreshThrottleActive bool
	PasswordPolicyActive  bool
	EmailRequired         bool
	MobileRequired        bool
	AuditEnabled          bool
	MetricsEnabled        bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	r := security.BuildReport(security.ReportInput{
		SigningAlgorithm: e.config.JWT.SigningMethod,
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.JWT.RefreshTTL,
		Password: security.PasswordReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		OTPLength:             e.config.OTP.Length,
		OTPAlphabet:           e.config.OTP.Alphabet,
		OTPAttempts:           e.config.OTP.ValidationAttempts,
		OTPCoolingPeriod:      e.config.OTP.CoolingPeriod,
		MaxLoginAttempts:      e.config.Security.MaxLoginAttempts,
		LoginCooldownDuration: e.config.Security.LoginCooldownDuration,
		EnableIPThrottle:      e.config.Security.EnableIPThrottle,
		EnableRefreshThrottle: e.config.Security.EnableRefreshThrottle,
		PasswordMinLength:     e.config.PasswordPolicy.MinLength,
		RejectCommon:          e.config.PasswordPolicy.RejectCommon,
		RejectNumeric:         e.config.PasswordPolicy.RejectNumeric,
		RequireEmail:          e.config.Registration.RequireEmail,
		RequireMobile:         e.config.Registration.RequireMobile,
		AuditEnabled:          e.config.Audit.Enabled,
	})

	return SecurityReport{
		SigningAlgorithm:      r.SigningAlgorithm,
		AccessTTL:             r.AccessTTL,
		RefreshTTL:            r.RefreshTTL,
		Argon2:                PasswordConfigReport(r.Argon2),
		OTPLength:             r.OTP.Length,
		OTPCodeSpace:          r.OTP.CodeSpace,
		OTPAttempts:           r.OTP.ValidationAttempts,
		OTPCoolingPeriod:      r.OTP.CoolingPeriod,
		LoginThrottleActive:   r.LoginThrottleActive,
		IPThrottleActive:      r.IPThrottleActive,
		RefreshThrottleActive: r.RefreshThrottleActive,
		PasswordPolicyActive:  r.PasswordPolicyActive,
		EmailRequired:         r.EmailRequired,
		MobileRequired:        r.MobileRequired,
		AuditEnabled:          r.AuditEnabled,
		MetricsEnabled:        e.config.Metrics.Enabled,
	}
}
