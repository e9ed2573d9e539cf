package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface shared by every component.
// WithContext attaches the request ID and the active span's trace and span
// IDs, so verification failures can be joined with traces.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	Sync() error
}

// Field is a structured log field.
type Field = zap.Field

// Field constructors.
var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int64    = zap.Int64
	Bool     = zap.Bool
	Error    = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
	Time     = zap.Time
)

// Log field keys added by WithContext.
const (
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
)

// LogConfig selects the level, the encoding (json or console) and the
// output, which is stdout, stderr or a file path.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// DefaultLogConfig logs info and above as JSON to stdout.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "json", Output: "stdout"}
}

// NewLogger builds a zap logger from cfg.
func NewLogger(cfg LogConfig) (Logger, error) {
	zcfg, err := zapConfig(cfg)
	if err != nil {
		return nil, err
	}

	z, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &logger{z: z}, nil
}

func zapConfig(cfg LogConfig) (zap.Config, error) {
	var zcfg zap.Config
	switch cfg.Format {
	case "", "json":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.MessageKey = "message"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zcfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	case "console":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return zap.Config{}, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		var err error
		if level, err = zap.ParseAtomicLevel(cfg.Level); err != nil {
			return zap.Config{}, err
		}
	}
	zcfg.Level = level

	// Token verification failures are expected traffic; sampling would hide
	// bursts from a single misbehaving client.
	zcfg.Sampling = nil

	if cfg.Output != "" {
		zcfg.OutputPaths = []string{cfg.Output}
	} else {
		zcfg.OutputPaths = []string{"stdout"}
	}
	return zcfg, nil
}

// NewLoggerFromZap wraps an existing zap logger. Nil yields NopLogger.
func NewLoggerFromZap(z *zap.Logger) Logger {
	if z == nil {
		return NopLogger()
	}
	return &logger{z: z}
}

// NopLogger returns a logger that discards all output.
func NopLogger() Logger {
	return &logger{z: zap.NewNop()}
}

type logger struct {
	z *zap.Logger
}

func (l *logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }
func (l *logger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, fields...) }
func (l *logger) Sync() error                       { return l.z.Sync() }

func (l *logger) With(fields ...Field) Logger {
	return &logger{z: l.z.With(fields...)}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, String(FieldRequestID, id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			String(FieldTraceID, sc.TraceID().String()),
			String(FieldSpanID, sc.SpanID().String()))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

type requestIDKey struct{}

// ContextWithRequestID stores the request ID for WithContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request ID stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
