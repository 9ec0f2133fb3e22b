package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/firmkit/fwdispatch/cli"
	"github.com/firmkit/fwdispatch/dispatcher"
	"github.com/firmkit/fwdispatch/dispatcher/middleware"
	"github.com/firmkit/fwdispatch/runtimes"
)

const (
	svcName = "fwdispatch"
	pathEnv = ".env"
)

type envConfig struct {
	LogLevel    string `env:"FWDISPATCH_LOG_LEVEL"    envDefault:"info"`
	Runtime     string `env:"FWDISPATCH_RUNTIME"      envDefault:"noop"`
	MetricsAddr string `env:"FWDISPATCH_METRICS_ADDR"`
	InstanceID  string `env:"FWDISPATCH_INSTANCE_ID"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler).With(slog.String("instance_id", cfg.InstanceID))
	slog.SetDefault(logger)

	counter := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: svcName,
		Subsystem: "dispatcher",
		Name:      "request_count",
		Help:      "Number of dispatcher operations.",
	}, []string{"method"})
	latency := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: svcName,
		Subsystem: "dispatcher",
		Name:      "request_latency_microseconds",
		Help:      "Total duration of dispatcher operations in microseconds.",
	}, []string{"method"})

	cli.SetServiceFactory(func() dispatcher.Service {
		var invoker dispatcher.Invoker
		switch cfg.Runtime {
		case "wazero":
			invoker = runtimes.NewWazero(logger)
		default:
			invoker = runtimes.NewNoop(logger)
		}
		svc := dispatcher.NewService(invoker, logger)
		svc = middleware.Logging(logger, svc)
		svc = middleware.Metrics(counter, latency, svc)

		return svc
	})

	rootCmd := &cobra.Command{
		Use:   svcName,
		Short: "Firmware volume dispatch tool",
		Long:  `fwdispatch discovers modules inside firmware volumes and runs their entry points in dependency order.`,
	}
	rootCmd.AddCommand(cli.NewDispatchCmd())
	rootCmd.AddCommand(cli.NewInspectCmd())
	rootCmd.AddCommand(cli.NewPackCmd())

	if cfg.MetricsAddr != "" {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		g.Go(func() error {
			logger.Info("metrics server started", slog.String("address", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()

		return rootCmd.ExecuteContext(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s exited with error: %s", svcName, err))
		os.Exit(1)
	}
}
