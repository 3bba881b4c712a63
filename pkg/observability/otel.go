package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerName is the instrumentation scope of the engine's spans.
const TracerName = "github.com/platinummonkey/appmgt"

const (
	exportTimeout  = 10 * time.Second
	metricInterval = 15 * time.Second
)

// Tracer returns the engine tracer from the global provider. It is a no-op
// tracer until InitOTel installs a provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// OTelConfig configures span and metric export to an OTLP collector.
type OTelConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	// SampleRatio is the fraction of root operations traced. Values outside
	// (0, 1) sample everything.
	SampleRatio float64
}

func (c OTelConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// Telemetry owns the installed providers and their collector connection.
type Telemetry struct {
	conn   *grpc.ClientConn
	tracer *sdktrace.TracerProvider
	meter  *metric.MeterProvider
}

// InitOTel installs global tracer and meter providers exporting to
// cfg.Endpoint over one gRPC connection. It returns nil when telemetry is
// disabled.
func InitOTel(ctx context.Context, cfg OTelConfig, logger logrus.FieldLogger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Debug("telemetry export disabled")
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var creds credentials.TransportCredentials = insecure.NewCredentials()
	if !cfg.Insecure {
		creds = credentials.NewTLS(nil)
	}
	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("collector connection %s: %w", cfg.Endpoint, err)
	}
	t := &Telemetry{conn: conn}

	exportCtx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	spans, err := otlptracegrpc.New(exportCtx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	t.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(cfg.sampler()),
	)

	points, err := otlpmetricgrpc.New(exportCtx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	t.meter = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(points, metric.WithInterval(metricInterval))),
	)

	otel.SetTracerProvider(t.tracer)
	otel.SetMeterProvider(t.meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.WithFields(logrus.Fields{
		"endpoint":     cfg.Endpoint,
		"sample_ratio": cfg.SampleRatio,
	}).Info("telemetry export enabled")
	return t, nil
}

// Shutdown flushes pending spans and metrics, then closes the collector
// connection. It is safe on a nil Telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var result *multierror.Error
	if t.tracer != nil {
		if err := t.tracer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if t.meter != nil {
		if err := t.meter.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("meter provider: %w", err))
		}
	}
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("collector connection: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// ShutdownOTel shuts down t and logs the outcome.
func ShutdownOTel(ctx context.Context, t *Telemetry, logger logrus.FieldLogger) error {
	if t == nil {
		return nil
	}
	if err := t.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("telemetry shutdown failed")
		return err
	}
	logger.Debug("telemetry flushed")
	return nil
}
