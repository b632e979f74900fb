// Package logger wraps a zap SugaredLogger teed into the OpenTelemetry log
// bridge, with helpers for the scan, probe and HTTP events dhascan emits.
package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const serviceName = "dhascan"

type Logger struct {
	*zap.SugaredLogger
	tracer trace.Tracer
}

func New(cfg config.LoggerConfig) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	zc := buildConfig(cfg.Format)
	zc.Level = zap.NewAtomicLevelAt(level)
	// Reports may be rendered to stdout.
	zc.OutputPaths = []string{"stderr"}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	zc.InitialFields = map[string]interface{}{"service": serviceName}

	base, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	bridge := otelzap.NewCore(serviceName,
		otelzap.WithAttributes(attribute.String("service", serviceName)),
	)
	tee := zap.New(zapcore.NewTee(base.Core(), bridge),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	return &Logger{
		SugaredLogger: tee.Sugar(),
		tracer:        otel.Tracer(serviceName + "/scan"),
	}, nil
}

func buildConfig(format string) zap.Config {
	if strings.EqualFold(format, "console") {
		zc := zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zc
	}
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	return zc
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		tracer:        otel.Tracer(serviceName + "/nop"),
	}
}

func (l *Logger) with(fields ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.With(fields...), tracer: l.tracer}
}

func (l *Logger) WithComponent(component string) *Logger { return l.with("component", component) }
func (l *Logger) WithTarget(target string) *Logger       { return l.with("target", target) }
func (l *Logger) WithScanID(scanID string) *Logger       { return l.with("scan_id", scanID) }
func (l *Logger) WithProbe(probe string) *Logger         { return l.with("probe", probe) }

// traced adds the ids of the recording span in ctx, if any.
func (l *Logger) traced(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.with("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func spanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// StartOperation opens a span named operation. Close it with
// FinishOperation.
func (l *Logger) StartOperation(ctx context.Context, operation string, fields ...interface{}) (context.Context, trace.Span) {
	ctx, span := l.tracer.Start(ctx, operation)
	l.traced(ctx).Debugw("Operation started", append([]interface{}{"operation", operation}, fields...)...)
	return ctx, span
}

func (l *Logger) FinishOperation(ctx context.Context, span trace.Span, operation string, start time.Time, err error, fields ...interface{}) {
	defer span.End()

	all := append([]interface{}{
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
	}, fields...)

	if err != nil {
		l.LogError(ctx, err, operation, all...)
		return
	}
	l.traced(ctx).Debugw("Operation completed", all...)
	span.SetStatus(codes.Ok, "completed")
}

func (l *Logger) LogError(ctx context.Context, err error, operation string, fields ...interface{}) {
	if err == nil {
		return
	}
	all := append([]interface{}{
		"error", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
		"operation", operation,
	}, fields...)
	l.traced(ctx).Errorw("Operation failed", all...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// LogPanic records a value recovered from a probe goroutine.
func (l *Logger) LogPanic(ctx context.Context, recovered interface{}, operation string, fields ...interface{}) {
	msg := fmt.Sprintf("%v", recovered)
	all := append([]interface{}{
		"panic", msg,
		"panic_type", fmt.Sprintf("%T", recovered),
		"operation", operation,
	}, fields...)
	l.traced(ctx).Errorw("Panic recovered", all...)

	spanEvent(ctx, "panic_recovered", attribute.String("operation", operation), attribute.String("panic", msg))
	trace.SpanFromContext(ctx).SetStatus(codes.Error, "panic: "+msg)
}

// LogVulnerability logs a confirmed finding. High and critical findings
// are logged at warn, medium at info and the rest at debug.
func (l *Logger) LogVulnerability(ctx context.Context, v types.Vulnerability) {
	fields := []interface{}{
		"vuln_id", v.ID,
		"category", string(v.Category),
		"severity", string(v.Severity),
		"confidence", v.Confidence,
		"risk_score", v.RiskScore,
		"url", v.AffectedURL,
		"method", v.Method,
	}
	if v.Parameter != "" {
		fields = append(fields, "parameter", v.Parameter)
	}

	log := l.traced(ctx)
	switch v.Severity {
	case types.SeverityCritical, types.SeverityHigh:
		log.Warnw("Vulnerability confirmed", fields...)
	case types.SeverityMedium:
		log.Infow("Vulnerability confirmed", fields...)
	default:
		log.Debugw("Vulnerability confirmed", fields...)
	}

	spanEvent(ctx, "vulnerability_confirmed",
		attribute.String("category", string(v.Category)),
		attribute.String("severity", string(v.Severity)),
		attribute.Int("confidence", v.Confidence),
	)
}

// LogHTTPRequest logs one scanner request at debug. Error statuses are
// normal while probing.
func (l *Logger) LogHTTPRequest(ctx context.Context, method, url string, statusCode int, duration time.Duration, fields ...interface{}) {
	all := append([]interface{}{
		"http_method", method,
		"http_url", url,
		"http_status", statusCode,
		"duration_ms", duration.Milliseconds(),
	}, fields...)
	l.traced(ctx).Debugw("HTTP request completed", all...)

	spanEvent(ctx, "http_request",
		attribute.String("method", method),
		attribute.String("url", url),
		attribute.Int("status_code", statusCode),
	)
}

// Sync flushes buffered entries, ignoring the EINVAL that Linux returns
// for stdout and stderr.
func (l *Logger) Sync() error {
	err := l.SugaredLogger.Sync()
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.HasSuffix(msg, "/dev/stdout: invalid argument") || strings.HasSuffix(msg, "/dev/stderr: invalid argument") {
		return nil
	}
	return err
}
