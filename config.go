package goIdentity

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
)

// Config is the complete engine configuration. The Builder clones it, so a
// Config handed to WithConfig can be reused by the caller.
type Config struct {
	JWT            JWTConfig
	Password       PasswordConfig
	PasswordPolicy PasswordPolicyConfig
	OTP            OTPConfig
	Registration   RegistrationConfig
	Identity       IdentityConfig
	Messaging      MessagingConfig
	Security       SecurityConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	Redis          RedisConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte // optional for ed25519, derived from PrivateKey
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

// PasswordPolicyConfig holds the strength rules applied on registration and
// password change.
type PasswordPolicyConfig struct {
	MinLength       int
	RejectNumeric   bool
	RejectCommon    bool
	MaxSimilarity   float64
	CommonPasswords []string
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls code shape and the issuance/validation lifecycle.
type OTPConfig struct {
	Length             int
	Alphabet           string
	ValidationAttempts int
	// CoolingPeriod is the minimum gap between two sends to one destination.
	CoolingPeriod  time.Duration
	Subject        string
	MaxCodeRetries int
	RedisPrefix    string
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig controls required contact fields and the welcome
// messages sent after an account is created.
type RegistrationConfig struct {
	RequireEmail       bool
	RequireMobile      bool
	SendMail           bool
	SendMessage        bool
	WelcomeSubject     string
	WelcomeMailBody    string
	WelcomeMailHTML    string
	WelcomeMessageBody string
}

// IdentityConfig bounds usernames.
type IdentityConfig struct {
	UsernameMaxLength int
}

// MessagingConfig bounds gateway calls.
type MessagingConfig struct {
	Timeout time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls login and refresh throttling.
type SecurityConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RedisConfig holds the key prefix for throttling counters.
type RedisConfig struct {
	Prefix string
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the configuration the Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		PasswordPolicy: PasswordPolicyConfig{
			MinLength:     8,
			RejectNumeric: true,
			RejectCommon:  true,
			MaxSimilarity: 0.7,
		},
		OTP: OTPConfig{
			Length:             6,
			Alphabet:           internal.DefaultOTPAlphabet,
			ValidationAttempts: 3,
			CoolingPeriod:      3 * time.Minute,
			Subject:            "OTP for Verification",
			MaxCodeRetries:     16,
			RedisPrefix:        "aotp",
		},
		Registration: RegistrationConfig{
			RequireEmail:       false,
			RequireMobile:      false,
			SendMail:           false,
			SendMessage:        false,
			WelcomeSubject:     "Welcome to goIdentity",
			WelcomeMailBody:    "Your account has been created.",
			WelcomeMailHTML:    "<p>Your account has been created.</p>",
			WelcomeMessageBody: "Your account has been created.",
		},
		Identity: IdentityConfig{
			UsernameMaxLength: 150,
		},
		Messaging: MessagingConfig{
			Timeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			EnableIPThrottle:        false,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			Prefix: "gi",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.PasswordPolicy.CommonPasswords != nil {
		out.PasswordPolicy.CommonPasswords = append([]string(nil), cfg.PasswordPolicy.CommonPasswords...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}
	if c.PasswordPolicy.MinLength < 0 {
		return errors.New("PasswordPolicy MinLength must be >= 0")
	}
	if c.PasswordPolicy.MaxSimilarity < 0 || c.PasswordPolicy.MaxSimilarity > 1 {
		return errors.New("PasswordPolicy MaxSimilarity must be between 0 and 1")
	}

	// OTP
	if c.OTP.Length < internal.MinOTPLength || c.OTP.Length > internal.MaxOTPLength {
		return errors.New("OTP Length must be between 4 and 10")
	}
	if internal.ValidOTPAlphabet(c.OTP.Alphabet) != nil {
		return errors.New("OTP Alphabet must be at least 2 distinct printable ASCII characters")
	}
	if c.OTP.ValidationAttempts < 1 {
		return errors.New("OTP ValidationAttempts must be >= 1")
	}
	if c.OTP.CoolingPeriod < 0 {
		return errors.New("OTP CoolingPeriod must be >= 0")
	}
	if c.OTP.MaxCodeRetries < 1 {
		return errors.New("OTP MaxCodeRetries must be >= 1")
	}
	if strings.TrimSpace(c.OTP.RedisPrefix) == "" {
		return errors.New("OTP RedisPrefix must not be empty")
	}

	// Registration
	if c.Registration.SendMail && strings.TrimSpace(c.Registration.WelcomeSubject) == "" {
		return errors.New("Registration WelcomeSubject is required when SendMail is true")
	}
	if c.Identity.UsernameMaxLength <= 0 {
		return errors.New("Identity UsernameMaxLength must be > 0")
	}

	// Messaging
	if c.Messaging.Timeout <= 0 {
		return errors.New("Messaging Timeout must be > 0")
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 {
		return errors.New("Security MaxLoginAttempts must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security LoginCooldownDuration must be > 0 when MaxLoginAttempts is set")
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("Security MaxRefreshAttempts must be > 0 when EnableRefreshThrottle is true")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("Security RefreshCooldownDuration must be > 0 when EnableRefreshThrottle is true")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if strings.TrimSpace(c.Redis.Prefix) == "" {
		return errors.New("Redis Prefix must not be empty")
	}

	return nil
}
