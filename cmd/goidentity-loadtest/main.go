package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/storage/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const loadPassword = "Correct-Horse-9183"

// captureGateway records the last OTP sent to each recipient.
type captureGateway struct {
	mu    sync.Mutex
	codes map[string]string
}

func (g *captureGateway) Send(_ context.Context, msg goIdentity.Message) (goIdentity.DeliveryResult, error) {
	code := msg.Body
	if i := strings.LastIndex(code, " is "); i >= 0 {
		code = code[i+len(" is "):]
	}
	if j := strings.Index(code, "."); j >= 0 {
		code = code[:j]
	}
	g.mu.Lock()
	g.codes[msg.Recipient] = code
	g.mu.Unlock()
	return goIdentity.DeliverySucceeded(), nil
}

func (g *captureGateway) code(recipient string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.codes[recipient]
}

func main() {
	var (
		users       = flag.Int("users", 500, "number of accounts to seed for the login phase")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase (otp + login)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		argonMemory = flag.Uint("argon-memory", 8*1024, "argon2 memory in KiB")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	dir, err := os.MkdirTemp("", "goidentity-loadtest-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	store, err := sqlite.Open(filepath.Join(dir, "identity.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "signing key: %v\n", err)
		os.Exit(1)
	}

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = key
	cfg.Password.Memory = uint32(*argonMemory)
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.MaxLoginAttempts = 0

	gateway := &captureGateway{codes: make(map[string]string)}
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(store).
		WithMessagingGateway(gateway).
		WithLogger(zap.NewNop()).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		_, err := engine.Register(ctx, goIdentity.RegisterRequest{
			Username: usernameFor(i),
			Name:     "Load User",
			Password: loadPassword,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "register failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	otpStats := runPhase(*ops, *concurrency, func(i int) error {
		dest := fmt.Sprintf("9%09d", i)
		if _, err := engine.RequestOTP(ctx, goIdentity.OTPRequest{Destination: dest}); err != nil {
			return err
		}
		_, err := engine.VerifyOTP(ctx, goIdentity.OTPVerification{
			Destination: dest,
			Code:        gateway.code(dest),
		})
		return err
	})
	loginStats := runPhase(*ops, *concurrency, func(i int) error {
		_, err := engine.Login(ctx, usernameFor(i%*users), loadPassword)
		return err
	})

	fmt.Println("---- results ----")
	printStats("otp", otpStats)
	printStats("login", loginStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: otp_validated=%d login_success=%d login_failure=%d\n",
		snap.Counters[goIdentity.MetricOTPValidateSuccess],
		snap.Counters[goIdentity.MetricLoginSuccess],
		snap.Counters[goIdentity.MetricLoginFailure],
	)
}

func usernameFor(i int) string {
	return fmt.Sprintf("load_user_%d", i)
}

// runPhase runs op for indexes [0, ops) across concurrency workers.
func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
