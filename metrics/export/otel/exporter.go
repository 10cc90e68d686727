package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcgemporium/authcore"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const auditDroppedName = "authcore_audit_dropped_total"

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// bucketGauges exposes one engine histogram as cumulative per-bound gauges
// plus a sample count, the layout Prometheus-style backends expect.
type bucketGauges struct {
	id    authcore.MetricID
	le    []metric.Int64ObservableGauge
	count metric.Int64ObservableGauge
}

// Exporter publishes Engine counters as OpenTelemetry observable
// instruments. Values are read from the Engine at collection time.
type Exporter struct {
	source       metricsSource
	counters     map[authcore.MetricID]metric.Int64ObservableCounter
	histograms   []bucketGauges
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

// NewExporter registers instruments for every Engine metric on meter.
// Close unregisters them.
func NewExporter(meter metric.Meter, engine *authcore.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return newExporterFromSource(meter, engine)
}

func newExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make(map[authcore.MetricID]metric.Int64ObservableCounter, len(counterDefs)),
	}
	var instruments []metric.Observable

	for _, def := range counterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		instruments = append(instruments, c)
	}

	for _, def := range histogramDefs {
		g, err := newBucketGauges(meter, def)
		if err != nil {
			return nil, err
		}
		e.histograms = append(e.histograms, g)
		instruments = append(instruments, g.count)
		for _, le := range g.le {
			instruments = append(instruments, le)
		}
	}

	dropped, err := meter.Int64ObservableCounter(auditDroppedName,
		metric.WithDescription("Audit events dropped under dispatcher backpressure."))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", auditDroppedName, err)
	}
	e.auditDropped = dropped
	instruments = append(instruments, dropped)

	reg, err := meter.RegisterCallback(e.observe, instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func newBucketGauges(meter metric.Meter, def histogramDef) (bucketGauges, error) {
	g := bucketGauges{id: def.ID, le: make([]metric.Int64ObservableGauge, len(histogramBoundSuffix))}
	for i, suffix := range histogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		le, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative bucket."))
		if err != nil {
			return g, fmt.Errorf("gauge %s: %w", name, err)
		}
		g.le[i] = le
	}
	count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
	if err != nil {
		return g, fmt.Errorf("gauge %s_count: %w", def.Name, err)
	}
	g.count = count
	return g, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	for _, g := range e.histograms {
		cumulative := cumulativeBuckets(normalizeBuckets(snap.Histograms[g.id]))
		for i, le := range g.le {
			o.ObserveInt64(le, int64(cumulative[i]))
		}
		o.ObserveInt64(g.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
