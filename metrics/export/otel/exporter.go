package otel

import (
	"context"
	"errors"
	"fmt"
	"math"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("otel: nil meter")
	ErrNilSource = errors.New("otel: nil metrics source")
)

// Source supplies the values read on every collection. *goIdentity.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
}

type latencySeries struct {
	id     goIdentity.MetricID
	bucket metric.Int64ObservableGauge
	count  metric.Int64ObservableGauge
}

// Exporter holds the callback that binds one source to one meter.
type Exporter struct {
	registration metric.Registration
}

// bucketOptions tags each cumulative bucket observation with its le bound.
var bucketOptions = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, len(internaldefs.BucketLabels))
	for i, le := range internaldefs.BucketLabels {
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}()

// Register creates the engine instruments on meter and observes source
// whenever the meter's reader collects. Counters keep their Prometheus
// names. A histogram becomes a <name>_bucket gauge keyed by le plus a
// <name>_count gauge.
func Register(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	counters := make(map[goIdentity.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs))
	observed := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+2*len(internaldefs.HistogramDefs)+1)
	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		counters[def.ID] = c
		observed = append(observed, c)
	}

	series := make([]latencySeries, 0, len(internaldefs.HistogramDefs))
	for _, def := range internaldefs.HistogramDefs {
		bucket, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative samples at or below le."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}
		series = append(series, latencySeries{id: def.ID, bucket: bucket, count: count})
		observed = append(observed, bucket, count)
	}

	dropped, err := meter.Int64ObservableCounter("goidentity_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."))
	if err != nil {
		return nil, fmt.Errorf("otel: audit dropped counter: %w", err)
	}
	observed = append(observed, dropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		for id, c := range counters {
			o.ObserveInt64(c, clamp(snap.Counters[id]))
		}
		for _, s := range series {
			cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[s.id]))
			for i, n := range cum {
				o.ObserveInt64(s.bucket, clamp(n), bucketOptions[i])
			}
			o.ObserveInt64(s.count, clamp(cum[len(cum)-1]))
		}
		o.ObserveInt64(dropped, clamp(source.AuditDropped()))
		return nil
	}, observed...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return &Exporter{registration: reg}, nil
}

// Close stops observation. The meter's instruments stay registered but
// report nothing afterwards.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
