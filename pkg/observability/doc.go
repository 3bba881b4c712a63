// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure for the application
// management engine: logrus logging, metrics collection, health checks, and
// distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger, err := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("app_name", name).Info("application created")
//
// Context-aware logging:
//
//	observability.FromContext(ctx, logger).WithError(err).Warn("client removal failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveOperation("create", "success", time.Since(start))
//	metrics.RecordAuthenticatorSkipped("google", "not-found")
//
// All recorders are nil-safe.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, version)
//	checker.AddProbe("file_registry", reg)
//	observability.RegisterHealthRoutes(router, checker, metrics)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	tel, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:        true,
//		ServiceName:    "appmgt",
//		ServiceVersion: "v1.0.0",
//		Endpoint:       "otel-collector:4317",
//	}, logger)
//	defer tel.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/appmgt: Operation spans and metrics
package observability
