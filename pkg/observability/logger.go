package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/appmgt/pkg/contextkeys"
)

// NewLogger creates a logrus logger with the given level and format ("json" or "text")
func NewLogger(level, format string, output io.Writer) (*logrus.Logger, error) {
	if output == nil {
		output = os.Stdout
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q (must be json or text)", format)
	}

	return logger, nil
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// FromContext adds operation and trace identifiers from ctx to the logger
func FromContext(ctx context.Context, logger logrus.FieldLogger) logrus.FieldLogger {
	fields := logrus.Fields{}

	if opID := contextkeys.GetOperationID(ctx); opID != "" {
		fields["op_id"] = opID
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		fields["trace_id"] = spanCtx.TraceID().String()
		fields["span_id"] = spanCtx.SpanID().String()
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.WithFields(fields)
}
