package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/internal/stores"
)

func TestGenerateOTPIssuesFreshRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rec, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	if len(rec.Code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", rec.Code)
	}
	if rec.RemainingAttempts != 3 || rec.Validated || !rec.SendPending {
		t.Fatalf("unexpected record state: %+v", rec)
	}
	if rec.Kind != OTPKindEmail {
		t.Fatalf("expected email kind, got %v", rec.Kind)
	}

	active, err := env.engine.otpStore.CodeActive(ctx, rec.Code)
	if err != nil || !active {
		t.Fatalf("expected code to be active, got %v, %v", active, err)
	}
}

func TestGenerateOTPDuringCoolingPeriodIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.engine.GenerateOTP(ctx, OTPKindMobile, "9876543210")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	if _, err := env.engine.SendOTP(ctx, "9876543210", first); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	env.advance(time.Minute)
	again, err := env.engine.GenerateOTP(ctx, OTPKindMobile, "9876543210")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	if again.Code != first.Code {
		t.Fatalf("expected code to survive cooling period, got %q want %q", again.Code, first.Code)
	}

	env.advance(3 * time.Minute)
	fresh, err := env.engine.GenerateOTP(ctx, OTPKindMobile, "9876543210")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	if !fresh.SendPending || fresh.RemainingAttempts != 3 {
		t.Fatalf("expected a fresh pending record, got %+v", fresh)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricOTPGenerateCooldown] != 1 {
		t.Fatalf("expected one cooldown generate, got %d", snap.Counters[MetricOTPGenerateCooldown])
	}
}

func TestGenerateOTPRequiresDestination(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.GenerateOTP(context.Background(), OTPKindEmail, "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSendOTPClaimsAndStartsCoolingPeriod(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rec, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	result, err := env.engine.SendOTP(ctx, "a@example.com", rec)
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if !result.Success || result.Message != "Message sent successfully!" {
		t.Fatalf("unexpected result: %+v", result)
	}

	msg := env.gw.last(t)
	if msg.Recipient != "a@example.com" || msg.Subject != "OTP for Verification" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	want := fmt.Sprintf("OTP for verifying Email: a@example.com is %s. Don't share this with anyone!", rec.Code)
	if msg.Body != want {
		t.Fatalf("unexpected body %q", msg.Body)
	}

	stored, err := env.engine.otpStore.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.SendPending || stored.SendCounter != 1 {
		t.Fatalf("expected claimed record with one send, got %+v", stored)
	}
	if !stored.ReactivateAt.Equal(env.now.Add(3 * time.Minute)) {
		t.Fatalf("expected reactivation at now+3m, got %v", stored.ReactivateAt)
	}

	_, err = env.engine.SendOTP(ctx, "a@example.com", stored)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if !errors.Is(err, ErrOTPRateLimited) {
		t.Fatalf("expected ErrOTPRateLimited chain, got %v", err)
	}
	if !rl.Until.Equal(stored.ReactivateAt) {
		t.Fatalf("expected Until %v, got %v", stored.ReactivateAt, rl.Until)
	}
	if len(env.gw.messages()) != 1 {
		t.Fatalf("expected one delivery, got %d", len(env.gw.messages()))
	}

	env.advance(3*time.Minute + time.Second)
	if _, err := env.engine.SendOTP(ctx, "a@example.com", stored); err != nil {
		t.Fatalf("expected resend after cooling period, got %v", err)
	}
}

func TestSendOTPWithoutRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.SendOTP(ctx, "a@example.com", nil); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound for nil record, got %v", err)
	}
	if _, err := env.engine.SendOTP(ctx, "a@example.com", &OTPRecord{Code: "123456"}); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound for missing stored record, got %v", err)
	}
}

func TestSendOTPGatewayOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*fakeGateway)
		wantErr     error
		wantSuccess bool
		wantMessage string
	}{
		{
			name:        "transport failure",
			setup:       func(g *fakeGateway) { g.err = errors.New("connection refused") },
			wantMessage: "Message sending failed!",
		},
		{
			name:        "rejected",
			setup:       func(g *fakeGateway) { g.result = DeliveryResult{Success: false} },
			wantMessage: "Message sending failed!",
		},
		{
			name:    "misconfigured",
			setup:   func(g *fakeGateway) { g.err = fmt.Errorf("%w: smtp host missing", ErrGatewayMisconfigured) },
			wantErr: ErrServer,
		},
		{
			name:    "invalid recipient",
			setup:   func(g *fakeGateway) { g.err = ErrInvalidRecipient },
			wantErr: ErrValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			ctx := context.Background()
			tc.setup(env.gw)

			rec, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
			if err != nil {
				t.Fatalf("GenerateOTP failed: %v", err)
			}
			result, err := env.engine.SendOTP(ctx, "a@example.com", rec)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Success != tc.wantSuccess || result.Message != tc.wantMessage {
				t.Fatalf("unexpected result: %+v", result)
			}

			stored, _ := env.engine.otpStore.Get(ctx, "a@example.com")
			if stored.SendCounter != 0 {
				t.Fatalf("expected no send counted, got %d", stored.SendCounter)
			}
			if stored.SendPending {
				t.Fatal("expected failed send to still start the cooling period")
			}
		})
	}
}

func TestSendOTPTimeoutIsFailedDelivery(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Messaging.Timeout = 20 * time.Millisecond
	})
	env.gw.block = true
	ctx := context.Background()

	rec, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	result, err := env.engine.SendOTP(ctx, "a@example.com", rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected timed out send to fail")
	}
}

func TestValidateOTPSpendsAttempts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rec, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	ok, err := env.engine.ValidateOTP(ctx, "a@example.com", "wrong")
	var invalid *InvalidOTPError
	if ok || !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidOTPError, got %v, %v", ok, err)
	}
	if invalid.Remaining != 2 {
		t.Fatalf("expected 2 attempts left, got %d", invalid.Remaining)
	}
	if err.Error() != "OTP Validation failed! 2 attempts left!" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	ok, err = env.engine.ValidateOTP(ctx, "a@example.com", rec.Code)
	if err != nil || !ok {
		t.Fatalf("expected code to validate, got %v, %v", ok, err)
	}

	stored, _ := env.engine.otpStore.Get(ctx, "a@example.com")
	if !stored.Validated || stored.RemainingAttempts != 1 {
		t.Fatalf("expected validated record with 1 attempt left, got %+v", stored)
	}
	if active, _ := env.engine.otpStore.CodeActive(ctx, rec.Code); active {
		t.Fatal("expected validated code to release its pending code")
	}

	validated, err := env.engine.OTPValidated(ctx, "a@example.com")
	if err != nil || !validated {
		t.Fatalf("expected OTPValidated true, got %v, %v", validated, err)
	}

	if _, err := env.engine.ValidateOTP(ctx, "a@example.com", rec.Code); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound after validation, got %v", err)
	}
}

func TestValidateOTPExhaustionResetsCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rec, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	if _, err := env.engine.SendOTP(ctx, "a@example.com", rec); err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.engine.ValidateOTP(ctx, "a@example.com", "bad"); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("attempt %d: expected ErrInvalidOTP, got %v", i, err)
		}
	}
	_, err = env.engine.ValidateOTP(ctx, "a@example.com", "bad")
	if !errors.Is(err, ErrOTPAttemptsExhausted) {
		t.Fatalf("expected ErrOTPAttemptsExhausted, got %v", err)
	}

	stored, _ := env.engine.otpStore.Get(ctx, "a@example.com")
	if stored.Code == rec.Code {
		t.Fatal("expected code to be replaced")
	}
	if stored.RemainingAttempts != 3 || !stored.SendPending || stored.Validated {
		t.Fatalf("unexpected reset state: %+v", stored)
	}
	if active, _ := env.engine.otpStore.CodeActive(ctx, rec.Code); active {
		t.Fatal("expected exhausted code to release its pending code")
	}

	if ok, _ := env.engine.ValidateOTP(ctx, "a@example.com", rec.Code); ok {
		t.Fatal("expected old code to be rejected")
	}

	// The reset record is pending, so it can be sent straight away.
	if _, err := env.engine.SendOTP(ctx, "a@example.com", stored); err != nil {
		t.Fatalf("expected reset code to be sendable, got %v", err)
	}
}

func TestValidateOTPUnknownDestination(t *testing.T) {
	env := newTestEnv(t, nil)

	ok, err := env.engine.ValidateOTP(context.Background(), "nobody@example.com", "123456")
	if ok || !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound, got %v, %v", ok, err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ErrOTPNotFound to match ErrNotFound")
	}
}

func TestGenerateOTPAvoidsActiveCodes(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.OTP.Length = 4
		c.OTP.Alphabet = "01"
		c.OTP.MaxCodeRetries = 64
	})
	ctx := context.Background()

	seen := map[string]string{}
	for i := 0; i < 8; i++ {
		dest := fmt.Sprintf("user%d@example.com", i)
		rec, err := env.engine.GenerateOTP(ctx, OTPKindEmail, dest)
		if err != nil {
			t.Fatalf("GenerateOTP(%s) failed: %v", dest, err)
		}
		if other, ok := seen[rec.Code]; ok {
			t.Fatalf("code %s issued to both %s and %s", rec.Code, other, dest)
		}
		seen[rec.Code] = dest
	}
}

// racingOTPStore lets a rival destination take the first code the engine
// checks, between the collision check and the write.
type racingOTPStore struct {
	OTPStore
	mu        sync.Mutex
	raced     bool
	rivalCode string
}

func (s *racingOTPStore) CodeActive(ctx context.Context, code string) (bool, error) {
	active, err := s.OTPStore.CodeActive(ctx, code)
	if err != nil || active {
		return active, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raced {
		return false, nil
	}
	s.raced = true
	s.rivalCode = code
	_, err = s.OTPStore.Update(ctx, "rival@example.com", func(*OTPRecord) (*OTPRecord, error) {
		return &OTPRecord{Code: code, Kind: OTPKindEmail, RemainingAttempts: 3}, nil
	})
	return false, err
}

func TestGenerateOTPRedrawsCodeTakenDuringIssue(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := &racingOTPStore{OTPStore: stores.NewOTPStore(rdb, "aotp")}

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithOTPStore(store).
		WithUserStore(newMemUserStore()).
		WithMessagingGateway(newFakeGateway()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	ctx := context.Background()

	rec, err := engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	if rec.Code == store.rivalCode {
		t.Fatalf("code %s issued to two destinations", rec.Code)
	}

	rival, err := store.Get(ctx, "rival@example.com")
	if err != nil || rival == nil || rival.Code != store.rivalCode {
		t.Fatalf("expected rival record to keep its code, got %+v, %v", rival, err)
	}

	// Validating one destination must leave the other's code pending.
	if ok, err := engine.ValidateOTP(ctx, "a@example.com", rec.Code); !ok || err != nil {
		t.Fatalf("ValidateOTP failed: %v, %v", ok, err)
	}
	if active, _ := store.CodeActive(ctx, store.rivalCode); !active {
		t.Fatal("expected rival code to stay pending")
	}
}

func TestOTPRecordsStampedWithEngineClock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	start := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
	env.now = start

	if _, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com"); err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	env.advance(time.Minute)
	if _, err := env.engine.ValidateOTP(ctx, "a@example.com", "not-it"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}

	rec, err := env.engine.otpStore.Get(ctx, "a@example.com")
	if err != nil || rec == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.CreatedAt.Equal(start) {
		t.Fatalf("CreatedAt = %v, want %v", rec.CreatedAt, start)
	}
	if !rec.UpdatedAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("UpdatedAt = %v, want %v", rec.UpdatedAt, start.Add(time.Minute))
	}
}

func TestGenerateOTPCodeSpaceExhausted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.OTP.Length = 4
		c.OTP.Alphabet = "01"
		c.OTP.MaxCodeRetries = 4
	})
	ctx := context.Background()

	// Occupy all 16 codes.
	for i := 0; i < 16; i++ {
		code := fmt.Sprintf("%04b", i)
		if err := env.rdb.Set(ctx, "aotp:c:"+code, "other@example.com", 0).Err(); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	_, err := env.engine.GenerateOTP(ctx, OTPKindEmail, "a@example.com")
	if !errors.Is(err, ErrOTPCodeSpaceExhausted) {
		t.Fatalf("expected ErrOTPCodeSpaceExhausted, got %v", err)
	}
}

func TestOTPStoreFailureIsServerError(t *testing.T) {
	env := newTestEnv(t, nil)
	_ = env.rdb.Close()

	_, err := env.engine.GenerateOTP(context.Background(), OTPKindEmail, "a@example.com")
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
}
