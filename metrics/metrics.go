// Package metrics exports satchel lifecycle signals as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/satchel"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
)

// Observer hooks satchel signals and records them in Prometheus collectors.
type Observer struct {
	duration       *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	conflicts      prometheus.Counter
	mirrorFailures *prometheus.CounterVec

	listeners []*capitan.Listener
}

type binding struct {
	signal    capitan.Signal
	operation string
	outcome   string
}

var bindings = []binding{
	{satchel.AssignCompleted, "assign", OutcomeOK},
	{satchel.AssignFailed, "assign", OutcomeError},
	{satchel.PromoteCompleted, "promote", OutcomeOK},
	{satchel.PromoteFailed, "promote", OutcomeError},
	{satchel.PromoteConflict, "promote", OutcomeConflict},
	{satchel.DestroyCompleted, "destroy", OutcomeOK},
	{satchel.DestroyFailed, "destroy", OutcomeError},
	{satchel.UploadCompleted, "upload", OutcomeOK},
	{satchel.MirrorCompleted, "mirror", OutcomeOK},
	{satchel.MirrorFailed, "mirror", OutcomeError},
	{satchel.BackupCompleted, "backup", OutcomeOK},
	{satchel.BackupFailed, "backup", OutcomeError},
	{satchel.BatchFailed, "batch", OutcomeError},
	{satchel.DispatchFailed, "dispatch", OutcomeError},
	{satchel.CleanupIncomplete, "cleanup", OutcomeError},
}

// NewObserver registers the collectors with reg and starts listening.
// Collectors already registered under the same names are reused, so an
// observer can be recreated on a registry after Close.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "satchel"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of attachment operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed attachment operations.",
		}, []string{"operation"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_conflicts_total",
			Help:      "Promotions abandoned because the record changed.",
		}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_failures_total",
			Help:      "Failed mirror and backup operations by target storage.",
		}, []string{"op", "mirror"}),
	}

	var err error
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, fmt.Errorf("register duration histogram: %w", err)
	}
	if o.errors, err = register(reg, o.errors); err != nil {
		return nil, fmt.Errorf("register error counter: %w", err)
	}
	if o.conflicts, err = register(reg, o.conflicts); err != nil {
		return nil, fmt.Errorf("register conflict counter: %w", err)
	}
	if o.mirrorFailures, err = register(reg, o.mirrorFailures); err != nil {
		return nil, fmt.Errorf("register mirror failure counter: %w", err)
	}

	for _, b := range bindings {
		o.listeners = append(o.listeners, capitan.Hook(b.signal, o.record(b)))
	}
	return o, nil
}

// register registers c, or returns the collector already registered in its place.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (o *Observer) record(b binding) capitan.EventCallback {
	return func(_ context.Context, e *capitan.Event) {
		fields := e.Fields()
		if d := satchel.FieldDuration.ExtractFromFields(fields); d > 0 {
			o.duration.WithLabelValues(b.operation, b.outcome).Observe(d.Seconds())
		}
		switch b.outcome {
		case OutcomeConflict:
			o.conflicts.Inc()
		case OutcomeError:
			o.errors.WithLabelValues(b.operation).Inc()
			if b.operation == "mirror" || b.operation == "backup" {
				o.mirrorFailures.WithLabelValues(
					satchel.FieldOp.ExtractFromFields(fields),
					satchel.FieldMirror.ExtractFromFields(fields),
				).Inc()
			}
		}
	}
}

// Drain waits until every event emitted so far has been recorded.
func (o *Observer) Drain(ctx context.Context) error {
	for _, l := range o.listeners {
		if err := l.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops listening. Collected values stay registered.
func (o *Observer) Close() {
	for _, l := range o.listeners {
		l.Close()
	}
	o.listeners = nil
}
