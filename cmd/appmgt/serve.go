package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/appmgt/pkg/api"
	"github.com/platinummonkey/appmgt/pkg/audit"
	"github.com/platinummonkey/appmgt/pkg/observability"
)

const dbStatsInterval = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the application API with health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tel, err := observability.InitOTel(ctx, cfg.Telemetry(version), log)
			if err != nil {
				return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
			}

			metrics := observability.NewMetrics(prometheus.NewRegistry())
			e, err := buildEngine(ctx, cfg, log, metrics)
			if err != nil {
				return err
			}

			checker := observability.NewHealthChecker(e.db.DB, version)
			if e.files != nil {
				if err := e.files.Watch(ctx); err != nil {
					log.WithError(err).Warn("file registry changes will not be picked up")
				}
				checker.AddProbe("filereg", e.files)
			}

			router := mux.NewRouter()
			observability.RegisterHealthRoutes(router, checker, metrics)
			var searcher api.AuditSearcher
			if cfg.Audit.Database {
				searcher = audit.NewSQLLogger(e.db)
			}
			api.NewServer(e.svc, searcher, log).Register(router)
			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           otelhttp.NewHandler(router, "appmgt"),
				ReadHeaderTimeout: 10 * time.Second,
			}

			sm := observability.NewShutdownManager(log, srv, cfg.HTTP.ShutdownTimeout)
			sm.Register("engine", func(context.Context) error {
				return e.Close()
			})
			sm.Register("telemetry", func(ctx context.Context) error {
				return observability.ShutdownOTel(ctx, tel, log)
			})

			observability.Go(log, "db stats collector", func() {
				ticker := time.NewTicker(dbStatsInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						metrics.UpdateDBStats(e.db.Stats())
					}
				}
			})

			serveErr := make(chan error, 1)
			go func() {
				log.WithField("addr", srv.Addr).Info("serving application API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info("shutdown signal received")
			case err := <-serveErr:
				log.WithError(err).Error("http server failed")
				stop()
				_ = sm.Shutdown()
				return err
			}
			return sm.Shutdown()
		},
	}
}
