package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/persona-notes/internal/logutil"
)

type correlationContextKey struct{}

// Correlation carries per-request correlation identifiers.
type Correlation struct {
	RequestID          string
	TraceID            string
	Traceparent        string
	Tracestate         string
	RPCService         string
	RPCMethod          string
	Caller             string
	MCPProtocolVersion string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return logutil.RedactAttr(groups, attr)
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	corr := CorrelationFromContext(ctx)
	attrs := correlationAttrs(corr)
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithRPC stores the RPC service and method being served in context.
func WithRPC(ctx context.Context, service, method string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.RPCService = strings.TrimSpace(service)
	corr.RPCMethod = strings.TrimSpace(method)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithCaller stores the resolved caller label in context.
func WithCaller(ctx context.Context, caller string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.Caller = strings.TrimSpace(caller)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithCorrelation stores request correlation fields in context.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	existing := CorrelationFromContext(ctx)
	if corr.RequestID != "" {
		existing.RequestID = corr.RequestID
	}
	if corr.TraceID != "" {
		existing.TraceID = corr.TraceID
	}
	if corr.Traceparent != "" {
		existing.Traceparent = corr.Traceparent
	}
	if corr.Tracestate != "" {
		existing.Tracestate = corr.Tracestate
	}
	if corr.RPCService != "" {
		existing.RPCService = corr.RPCService
	}
	if corr.RPCMethod != "" {
		existing.RPCMethod = corr.RPCMethod
	}
	if corr.Caller != "" {
		existing.Caller = corr.Caller
	}
	if corr.MCPProtocolVersion != "" {
		existing.MCPProtocolVersion = corr.MCPProtocolVersion
	}
	return context.WithValue(ctx, correlationContextKey{}, existing)
}

// CorrelationFromContext returns request correlation fields from context.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, ok := ctx.Value(correlationContextKey{}).(Correlation)
	if !ok {
		return Correlation{}
	}
	return corr
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 16)
	if corr.RequestID != "" {
		attrs = append(attrs, "request_id", corr.RequestID)
	}
	if corr.TraceID != "" {
		attrs = append(attrs, "trace_id", corr.TraceID)
	}
	if corr.Traceparent != "" {
		attrs = append(attrs, "traceparent", corr.Traceparent)
	}
	if corr.Tracestate != "" {
		attrs = append(attrs, "tracestate", corr.Tracestate)
	}
	if corr.RPCService != "" {
		attrs = append(attrs, "rpc_service", corr.RPCService)
	}
	if corr.RPCMethod != "" {
		attrs = append(attrs, "rpc_method", corr.RPCMethod)
	}
	if corr.Caller != "" {
		attrs = append(attrs, "caller", corr.Caller)
	}
	if corr.MCPProtocolVersion != "" {
		attrs = append(attrs, "mcp_protocol_version", corr.MCPProtocolVersion)
	}
	return attrs
}

// RequestIDFromContext returns the request id from context, if any.
func RequestIDFromContext(ctx context.Context) string {
	return CorrelationFromContext(ctx).RequestID
}

func newRequestID() string {
	return uuid.NewString()
}
