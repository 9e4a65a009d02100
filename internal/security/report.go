package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type OTPReport struct {
	Length             int
	AlphabetSize       int
	ValidationAttempts int
	CoolingPeriod      time.Duration
	// CodeSpace is AlphabetSize^Length, capped at 1<<62.
	CodeSpace uint64
}

type Report struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Argon2                PasswordReport
	OTP                   OTPReport
	LoginThrottleActive   bool
	IPThrottleActive      bool
	RefreshThrottleActive bool
	PasswordPolicyActive  bool
	EmailRequired         bool
	MobileRequired        bool
	AuditEnabled          bool
}

type ReportInput struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Password              PasswordReport
	OTPLength             int
	OTPAlphabet           string
	OTPAttempts           int
	OTPCoolingPeriod      time.Duration
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	PasswordMinLength     int
	RejectCommon          bool
	RejectNumeric         bool
	RequireEmail          bool
	RequireMobile         bool
	AuditEnabled          bool
}

func BuildReport(input ReportInput) Report {
	loginThrottle := input.MaxLoginAttempts > 0 &&
		input.LoginCooldownDuration > 0

	return Report{
		SigningAlgorithm: input.SigningAlgorithm,
		AccessTTL:        input.AccessTTL,
		RefreshTTL:       input.RefreshTTL,
		Argon2:           input.Password,
		OTP: OTPReport{
			Length:             input.OTPLength,
			AlphabetSize:       len(input.OTPAlphabet),
			ValidationAttempts: input.OTPAttempts,
			CoolingPeriod:      input.OTPCoolingPeriod,
			CodeSpace:          codeSpace(len(input.OTPAlphabet), input.OTPLength),
		},
		LoginThrottleActive:   loginThrottle,
		IPThrottleActive:      loginThrottle && input.EnableIPThrottle,
		RefreshThrottleActive: input.EnableRefreshThrottle,
		PasswordPolicyActive:  input.PasswordMinLength > 0 || input.RejectCommon || input.RejectNumeric,
		EmailRequired:         input.RequireEmail,
		MobileRequired:        input.RequireMobile,
		AuditEnabled:          input.AuditEnabled,
	}
}

func codeSpace(alphabet, length int) uint64 {
	const limit = uint64(1) << 62
	if alphabet <= 0 || length <= 0 {
		return 0
	}
	space := uint64(1)
	for i := 0; i < length; i++ {
		if space > limit/uint64(alphabet) {
			return limit
		}
		space *= uint64(alphabet)
	}
	return space
}
