package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firmkit/fwdispatch/dispatcher"
)

var _ dispatcher.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    dispatcher.Service
}

func Logging(logger *slog.Logger, svc dispatcher.Service) dispatcher.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) LoadVolume(ctx context.Context, raw []byte) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("bytes", len(raw)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Load volume failed", args...)

			return
		}
		lm.logger.Info("Load volume completed successfully", args...)
	}(time.Now())

	return lm.svc.LoadVolume(ctx, raw)
}

func (lm *loggingMiddleware) Dispatch(ctx context.Context) (r dispatcher.Report, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("report",
				slog.Int("dispatched", len(r.Dispatched)),
				slog.Int("blocked", len(r.Blocked)),
				slog.Int("malformed", len(r.Malformed)),
				slog.Int("rounds", r.Rounds),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Dispatch failed", args...)

			return
		}
		lm.logger.Info("Dispatch completed successfully", args...)
	}(time.Now())

	return lm.svc.Dispatch(ctx)
}

func (lm *loggingMiddleware) Modules(ctx context.Context) []dispatcher.Status {
	return lm.svc.Modules(ctx)
}

func (lm *loggingMiddleware) Tokens(ctx context.Context) []uuid.UUID {
	return lm.svc.Tokens(ctx)
}
