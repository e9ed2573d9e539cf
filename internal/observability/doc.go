// Package observability provides structured logging and distributed tracing
// for the bearer verification components and the avabearer binary.
//
// # Logging
//
// The Logger interface wraps zap. Library components default to NopLogger
// and accept a logger through functional options:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// # Tracing
//
// NewTracer installs an OpenTelemetry SDK provider with an OTLP gRPC exporter
// when enabled. Library packages start spans through the global provider, so
// they emit nothing until a provider is installed.
package observability
