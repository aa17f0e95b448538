// Package metrics exposes the Prometheus collectors and OpenTelemetry
// tracer devpipe uses around the two subprocess-bound stages of a task's
// lifecycle: Validator checks and Foreman phases (SPEC_FULL.md's Ambient
// stack / Observability section). Grounded on
// kadirpekel-hector/pkg/metrics's package-level-collector idiom: a handful
// of vector metrics registered once in an init(), consumed through small
// free functions rather than threading a recorder type through every
// caller.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/oakforge/devpipe")

var (
	validatorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devpipe",
		Subsystem: "validator",
		Name:      "check_duration_seconds",
		Help:      "Wall-clock duration of a full Validator.Run pass.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	foremanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devpipe",
		Subsystem: "foreman",
		Name:      "phase_duration_seconds",
		Help:      "Wall-clock duration of a full Foreman.Run sandbox pass.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
)

// ObserveValidator wraps a Validator.Run call with a span and a duration
// histogram bucketed by the resulting verdict status.
func ObserveValidator(ctx context.Context, taskID string, run func(context.Context) string) string {
	ctx, span := tracer.Start(ctx, "validator.Run", trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	start := time.Now()
	status := run(ctx)
	validatorDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("verdict.status", status))
	if status != "passed" {
		span.SetStatus(codes.Error, status)
	}
	return status
}

// ObserveForeman wraps a Foreman.Run call the same way ObserveValidator
// wraps Validator.Run.
func ObserveForeman(ctx context.Context, taskID string, run func(context.Context) (string, bool)) (string, bool) {
	ctx, span := tracer.Start(ctx, "foreman.Run", trace.WithAttributes(attribute.String("task_id", taskID)))
	defer span.End()

	start := time.Now()
	summary, success := run(ctx)
	status := "passed"
	if !success {
		status = "failed"
	}
	foremanDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if !success {
		span.SetStatus(codes.Error, summary)
	}
	return summary, success
}
