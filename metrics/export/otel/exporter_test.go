package otel

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/messaging"
	"github.com/MrEthical07/goIdentity/storage/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goIdentity.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goIdentity.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goIdentity.MetricsSnapshot{
		Counters:   make(map[goIdentity.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goIdentity.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// findInt64 returns the value of the named series. A non-empty le selects
// the bucket point carrying that attribute.
func findInt64(rm metricdata.ResourceMetrics, name, le string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			}
			for _, dp := range points {
				if le == "" {
					return dp.Value, true
				}
				if v, ok := dp.Attributes.Value("le"); ok && v.AsString() == le {
					return dp.Value, true
				}
			}
		}
	}
	return 0, false
}

func newMetricsEngine(t *testing.T) *goIdentity.Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users, err := sqlite.Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = users.Close() })

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Metrics.Enabled = true

	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithMessagingGateway(messaging.NewLogGateway(zap.NewNop())).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("goidentity-test")

	src := &fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricOTPValidateSuccess: 3,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricDeliveryLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := Register(meter, src)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	cases := []struct {
		name string
		le   string
		want int64
	}{
		{"goidentity_otp_validate_success_total", "", 3},
		{"goidentity_login_success_total", "", 0},
		{"goidentity_delivery_latency_seconds_bucket", "0.05", 1},
		{"goidentity_delivery_latency_seconds_bucket", "0.5", 4},
		{"goidentity_delivery_latency_seconds_bucket", "+Inf", 8},
		{"goidentity_delivery_latency_seconds_count", "", 8},
		{"goidentity_audit_dropped_total", "", 1},
	}
	for _, tc := range cases {
		got, ok := findInt64(rm, tc.name, tc.le)
		if !ok {
			t.Fatalf("metric %s{le=%q} not collected", tc.name, tc.le)
		}
		if got != tc.want {
			t.Fatalf("%s{le=%q} = %d, want %d", tc.name, tc.le, got, tc.want)
		}
	}
}

func TestExporterBindsEngine(t *testing.T) {
	reader, provider := newReader()
	engine := newMetricsEngine(t)

	exp, err := Register(provider.Meter("goidentity-test"), engine)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := findInt64(rm, "goidentity_otp_generated_total", ""); !ok {
		t.Fatal("engine counters not collected")
	}
	if got, ok := findInt64(rm, "goidentity_delivery_latency_seconds_bucket", "+Inf"); !ok || got != 0 {
		t.Fatalf("idle engine +Inf bucket = %d, %v", got, ok)
	}
}

func TestClampSaturates(t *testing.T) {
	if got := clamp(math.MaxUint64); got != math.MaxInt64 {
		t.Fatalf("clamp(MaxUint64) = %d", got)
	}
	if got := clamp(42); got != 42 {
		t.Fatalf("clamp(42) = %d", got)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("goidentity-test")

	if _, err := Register(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := Register(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterCloseStopsObservation(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: goIdentity.MetricsSnapshot{
		Counters: map[goIdentity.MetricID]uint64{goIdentity.MetricLoginSuccess: 5},
	}}

	exp, err := Register(provider.Meter("goidentity-test"), src)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if _, ok := findInt64(rm, "goidentity_login_success_total", ""); ok {
		t.Fatal("expected no observation after Close")
	}

	var nilExp *Exporter
	if err := nilExp.Close(); err != nil {
		t.Fatalf("nil Close returned %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("goidentity-test")

	src := &fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricLoginSuccess: 1,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricDeliveryLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := Register(meter, src)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goIdentity.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
