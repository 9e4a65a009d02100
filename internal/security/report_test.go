package security

import (
	"testing"
	"time"
)

func TestBuildReport(t *testing.T) {
	r := BuildReport(ReportInput{
		SigningAlgorithm:      "ed25519",
		OTPLength:             6,
		OTPAlphabet:           "0123456789",
		OTPAttempts:           3,
		OTPCoolingPeriod:      3 * time.Minute,
		MaxLoginAttempts:      5,
		LoginCooldownDuration: 15 * time.Minute,
		EnableIPThrottle:      true,
		PasswordMinLength:     8,
	})

	if r.OTP.CodeSpace != 1_000_000 {
		t.Fatalf("code space = %d, want 1000000", r.OTP.CodeSpace)
	}
	if !r.LoginThrottleActive || !r.IPThrottleActive {
		t.Fatalf("expected login and ip throttling active: %+v", r)
	}
	if r.RefreshThrottleActive {
		t.Fatal("refresh throttling should be inactive")
	}
	if !r.PasswordPolicyActive {
		t.Fatal("password policy should be active")
	}
}

func TestBuildReportThrottleNeedsCooldown(t *testing.T) {
	r := BuildReport(ReportInput{MaxLoginAttempts: 5, EnableIPThrottle: true})
	if r.LoginThrottleActive || r.IPThrottleActive {
		t.Fatalf("throttling without cooldown should be inactive: %+v", r)
	}
}

func TestCodeSpaceCaps(t *testing.T) {
	if got := codeSpace(62, 20); got != 1<<62 {
		t.Fatalf("expected cap, got %d", got)
	}
	if got := codeSpace(0, 6); got != 0 {
		t.Fatalf("empty alphabet = %d, want 0", got)
	}
	if got := codeSpace(2, 4); got != 16 {
		t.Fatalf("binary length 4 = %d, want 16", got)
	}
}
