package main

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/caarlos0/env/v11"
)

// serviceEnv holds the raw environment of the binary.
type serviceEnv struct {
	HTTPAddr        string        `env:"GOIDENTITY_HTTP_ADDR" envDefault:":8000"`
	ShutdownTimeout time.Duration `env:"GOIDENTITY_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	RequestTimeout  time.Duration `env:"GOIDENTITY_REQUEST_TIMEOUT" envDefault:"30s"`
	CORSOrigins     []string      `env:"GOIDENTITY_CORS_ORIGINS" envSeparator:","`
	LogDevelopment  bool          `env:"LOG_DEVELOPMENT"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	// UserStore is "sqlite" or "postgres". OTPStore is "redis" or "postgres".
	UserStore   string `env:"GOIDENTITY_USER_STORE" envDefault:"sqlite"`
	OTPStore    string `env:"GOIDENTITY_OTP_STORE" envDefault:"redis"`
	SQLitePath  string `env:"GOIDENTITY_SQLITE_PATH" envDefault:"goidentity.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWTSigningMethod string        `env:"JWT_SIGNING_METHOD" envDefault:"ed25519"`
	JWTPrivateKey    string        `env:"JWT_PRIVATE_KEY"`
	JWTIssuer        string        `env:"JWT_ISSUER"`
	JWTAudience      string        `env:"JWT_AUDIENCE"`
	JWTAccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"5m"`
	JWTRefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"24h"`

	OTPLength             int           `env:"OTP_LENGTH" envDefault:"6"`
	OTPValidationAttempts int           `env:"OTP_VALIDATION_ATTEMPTS" envDefault:"3"`
	OTPCoolingPeriod      time.Duration `env:"OTP_COOLING_PERIOD" envDefault:"3m"`
	OTPSubject            string        `env:"OTP_EMAIL_SUBJECT" envDefault:"OTP for Verification"`

	RequireEmail       bool `env:"REGISTRATION_REQUIRE_EMAIL"`
	RequireMobile      bool `env:"REGISTRATION_REQUIRE_MOBILE"`
	SendWelcomeMail    bool `env:"REGISTRATION_SEND_MAIL"`
	SendWelcomeMessage bool `env:"REGISTRATION_SEND_MESSAGE"`

	// Gateway is "log", "direct" (SMTP and SMS) or "kafka". GatewayLogCopy
	// also logs every message next to the chosen gateway.
	Gateway        string        `env:"GOIDENTITY_GATEWAY" envDefault:"log"`
	GatewayLogCopy bool          `env:"GOIDENTITY_GATEWAY_LOG_COPY"`
	GatewayTimeout time.Duration `env:"GOIDENTITY_GATEWAY_TIMEOUT" envDefault:"10s"`

	SMTPHost        string `env:"SMTP_HOST"`
	SMTPPort        int    `env:"SMTP_PORT"`
	SMTPUsername    string `env:"SMTP_USERNAME"`
	SMTPPassword    string `env:"SMTP_PASSWORD"`
	SMTPFrom        string `env:"SMTP_FROM"`
	SMTPImplicitTLS bool   `env:"SMTP_IMPLICIT_TLS"`

	SMSEndpoint string `env:"SMS_ENDPOINT"`
	SMSAPIKey   string `env:"SMS_API_KEY"`
	SMSUserID   string `env:"SMS_USER_ID"`
	SMSPassword string `env:"SMS_PASSWORD"`
	SMSSenderID string `env:"SMS_SENDER_ID"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"identity.notifications"`

	MetricsEnabled bool `env:"GOIDENTITY_METRICS_ENABLED" envDefault:"true"`
	AuditEnabled   bool `env:"GOIDENTITY_AUDIT_ENABLED"`

	// OTLPEndpoint is a collector host:port. Empty keeps metrics on the
	// Prometheus handler only.
	OTLPEndpoint string        `env:"GOIDENTITY_OTLP_ENDPOINT"`
	OTLPInsecure bool          `env:"GOIDENTITY_OTLP_INSECURE"`
	OTLPInterval time.Duration `env:"GOIDENTITY_OTLP_INTERVAL" envDefault:"10s"`
	ServiceName  string        `env:"GOIDENTITY_SERVICE_NAME" envDefault:"goidentity"`
}

// parseEnv reads the environment through lookup. A nil lookup reads the
// process environment.
func parseEnv(lookup map[string]string) (serviceEnv, error) {
	var cfg serviceEnv
	opts := env.Options{}
	if lookup != nil {
		opts.Environment = lookup
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return serviceEnv{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.UserStore = strings.ToLower(strings.TrimSpace(cfg.UserStore))
	cfg.OTPStore = strings.ToLower(strings.TrimSpace(cfg.OTPStore))
	cfg.Gateway = strings.ToLower(strings.TrimSpace(cfg.Gateway))

	switch cfg.UserStore {
	case "sqlite", "postgres":
	default:
		return serviceEnv{}, fmt.Errorf("unknown user store %q", cfg.UserStore)
	}
	switch cfg.OTPStore {
	case "redis", "postgres":
	default:
		return serviceEnv{}, fmt.Errorf("unknown otp store %q", cfg.OTPStore)
	}
	if (cfg.UserStore == "postgres" || cfg.OTPStore == "postgres") && cfg.DatabaseURL == "" {
		return serviceEnv{}, fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	switch cfg.Gateway {
	case "log", "direct":
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return serviceEnv{}, fmt.Errorf("KAFKA_BROKERS is required for the kafka gateway")
		}
	default:
		return serviceEnv{}, fmt.Errorf("unknown gateway %q", cfg.Gateway)
	}
	if cfg.OTLPEndpoint != "" {
		if !cfg.MetricsEnabled {
			return serviceEnv{}, fmt.Errorf("GOIDENTITY_OTLP_ENDPOINT needs GOIDENTITY_METRICS_ENABLED")
		}
		if cfg.OTLPInterval <= 0 {
			return serviceEnv{}, fmt.Errorf("GOIDENTITY_OTLP_INTERVAL must be positive")
		}
	}
	if cfg.JWTPrivateKey == "" {
		return serviceEnv{}, fmt.Errorf("JWT_PRIVATE_KEY is required")
	}

	return cfg, nil
}

// engineConfig maps the environment onto the library configuration.
func (s serviceEnv) engineConfig() (goIdentity.Config, error) {
	key, err := base64.StdEncoding.DecodeString(s.JWTPrivateKey)
	if err != nil {
		return goIdentity.Config{}, fmt.Errorf("JWT_PRIVATE_KEY must be base64: %w", err)
	}

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.SigningMethod = s.JWTSigningMethod
	cfg.JWT.PrivateKey = key
	cfg.JWT.Issuer = s.JWTIssuer
	cfg.JWT.Audience = s.JWTAudience
	cfg.JWT.AccessTTL = s.JWTAccessTTL
	cfg.JWT.RefreshTTL = s.JWTRefreshTTL

	cfg.OTP.Length = s.OTPLength
	cfg.OTP.ValidationAttempts = s.OTPValidationAttempts
	cfg.OTP.CoolingPeriod = s.OTPCoolingPeriod
	cfg.OTP.Subject = s.OTPSubject

	cfg.Registration.RequireEmail = s.RequireEmail
	cfg.Registration.RequireMobile = s.RequireMobile
	cfg.Registration.SendMail = s.SendWelcomeMail
	cfg.Registration.SendMessage = s.SendWelcomeMessage

	cfg.Messaging.Timeout = s.GatewayTimeout
	cfg.Metrics.Enabled = s.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = s.MetricsEnabled
	cfg.Audit.Enabled = s.AuditEnabled

	if err := cfg.Validate(); err != nil {
		return goIdentity.Config{}, err
	}
	return cfg, nil
}
