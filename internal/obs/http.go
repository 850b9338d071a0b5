package obs

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RequestIDHeader is read from inbound requests, echoed on responses and
// forwarded on peer RPC calls.
const RequestIDHeader = "X-Request-Id"

// ResponseRecorder tracks response status and bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode  int
	respBytes   int64
	wroteHeader bool
}

type flushingRecorder struct {
	*ResponseRecorder
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	n, err := r.ResponseWriter.Write(p)
	r.respBytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *ResponseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *flushingRecorder) Flush() {
	r.ResponseWriter.(http.Flusher).Flush()
}

func (r *ResponseRecorder) StatusCode() int {
	return r.statusCode
}

func (r *ResponseRecorder) RespBytes() int64 {
	return r.respBytes
}

// NewResponseRecorder wraps w. The returned writer implements http.Flusher
// whenever w does, which the streamable MCP transport relies on.
func NewResponseRecorder(w http.ResponseWriter) (http.ResponseWriter, *ResponseRecorder) {
	recorder := &ResponseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	if _, ok := w.(http.Flusher); ok {
		return &flushingRecorder{ResponseRecorder: recorder}, recorder
	}
	return recorder, recorder
}

// RequestContextMiddleware assigns every request a request id (reusing an
// inbound X-Request-Id or W3C trace id when present) and stores the
// correlation fields in the request context.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
		traceID := extractTraceID(traceparent)

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		switch {
		case requestID != "":
		case traceID != "":
			requestID = traceID
		default:
			requestID = newRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := WithCorrelation(r.Context(), Correlation{
			RequestID:          requestID,
			TraceID:            traceID,
			Traceparent:        traceparent,
			Tracestate:         strings.TrimSpace(r.Header.Get("tracestate")),
			MCPProtocolVersion: strings.TrimSpace(r.Header.Get("mcp-protocol-version")),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// quietPaths are polled by infrastructure and only logged at debug level.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// AccessLogMiddleware emits one "http_access" event per request. Server
// errors log at error level, probes at debug and everything else at info.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, recorder := NewResponseRecorder(w)
		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		switch {
		case recorder.StatusCode() >= http.StatusInternalServerError:
			level = slog.LevelError
		case quietPaths[r.URL.Path]:
			level = slog.LevelDebug
		}

		From(r.Context()).Log(r.Context(), level, "http_access",
			"pkg", pkg,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.StatusCode(),
			"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
			"req_bytes", max(r.ContentLength, 0),
			"resp_bytes", recorder.RespBytes(),
		)
	})
}

// extractTraceID returns the trace id of a W3C traceparent header, or ""
// when the header is malformed or carries the all-zero id.
func extractTraceID(traceparent string) string {
	parts := strings.Split(strings.TrimSpace(traceparent), "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(strings.TrimSpace(parts[1]))
	if len(traceID) != 32 || strings.Trim(traceID, "0") == "" {
		return ""
	}
	if strings.Trim(traceID, "0123456789abcdef") != "" {
		return ""
	}
	return traceID
}
