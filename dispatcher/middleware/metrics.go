package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/dispatcher"
)

var _ dispatcher.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     dispatcher.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc dispatcher.Service) dispatcher.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) LoadVolume(ctx context.Context, raw []byte) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "load-volume").Add(1)
		mm.latency.With("method", "load-volume").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.LoadVolume(ctx, raw)
}

func (mm *metricsMiddleware) Dispatch(ctx context.Context) (dispatcher.Report, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "dispatch").Add(1)
		mm.latency.With("method", "dispatch").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Dispatch(ctx)
}

func (mm *metricsMiddleware) Modules(ctx context.Context) []dispatcher.Status {
	defer func(begin time.Time) {
		mm.counter.With("method", "modules").Add(1)
		mm.latency.With("method", "modules").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Modules(ctx)
}

func (mm *metricsMiddleware) Tokens(ctx context.Context) []uuid.UUID {
	defer func(begin time.Time) {
		mm.counter.With("method", "tokens").Add(1)
		mm.latency.With("method", "tokens").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Tokens(ctx)
}
