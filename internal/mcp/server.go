package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/logutil"
	"github.com/kuitang/persona-notes/internal/notes"
	"github.com/kuitang/persona-notes/internal/obs"
)

const mcpDebugBodyLogLimitBytes = 8 * 1024

// Server serves the note tools at a single Streamable HTTP endpoint.
type Server struct {
	handler     *Handler
	httpHandler http.Handler
}

// NewServer creates the MCP endpoint. It must sit behind auth middleware;
// every request gets its own MCP server bound to the request's caller.
func NewServer(notesSvc *notes.Service) *Server {
	s := &Server{handler: NewHandler(notesSvc)}
	s.httpHandler = mcp.NewStreamableHTTPHandler(s.serverFor, &mcp.StreamableHTTPOptions{
		// Each request is authenticated independently, so nothing needs to
		// persist between them and the initialize handshake is skipped.
		Stateless:    true,
		JSONResponse: true,
	})
	return s
}

func (s *Server) serverFor(r *http.Request) *mcp.Server {
	caller, _ := auth.CallerFromContext(r.Context())
	corr := obs.CorrelationFromContext(r.Context())
	bind := func(ctx context.Context) context.Context {
		ctx = obs.WithCorrelation(ctx, corr)
		if caller != nil {
			ctx = auth.WithCaller(ctx, caller)
		}
		return ctx
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "persona-notes",
		Version: "1.0.0",
	}, nil)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(server, tool, s.handler.createToolHandler(tool.Name, bind))
	}
	return server
}

type mcpResponseLogger struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        []byte
	truncated   bool
}

func newMCPResponseLogger(w http.ResponseWriter) *mcpResponseLogger {
	return &mcpResponseLogger{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           make([]byte, 0, 512),
	}
}

func (w *mcpResponseLogger) WriteHeader(code int) {
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *mcpResponseLogger) Write(p []byte) (int, error) {
	w.wroteHeader = true
	if len(w.body) < mcpDebugBodyLogLimitBytes {
		remaining := mcpDebugBodyLogLimitBytes - len(w.body)
		if len(p) <= remaining {
			w.body = append(w.body, p...)
		} else {
			w.body = append(w.body, p[:remaining]...)
			w.truncated = true
		}
	} else {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *mcpResponseLogger) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func mcpDebugEnabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("DEBUG")))
	switch v {
	case "1", "true", "yes", "on", "debug":
		return true
	default:
		return false
	}
}

// ServeHTTP implements http.Handler for the Streamable HTTP transport.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Last-Event-ID, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	logger := obs.From(r.Context()).With("pkg", "mcp")
	debug := mcpDebugEnabled()

	if debug && r.Body != nil && r.Method == http.MethodPost {
		reqBody, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("mcp_request_body_read_failed", "error", err)
		} else {
			r.Body = io.NopCloser(bytes.NewReader(reqBody))
			logger.Debug("mcp_request",
				"headers", logutil.FormatHeaders(r.Header),
				"body", logutil.FormatBody(r.Header.Get("Content-Type"), reqBody, mcpDebugBodyLogLimitBytes, false),
			)
		}
	}

	respLogger := newMCPResponseLogger(w)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("mcp_handler_panic", "panic", fmt.Sprint(rec))
				if !respLogger.wroteHeader {
					http.Error(respLogger, "Internal server error", http.StatusInternalServerError)
				}
			}
		}()
		s.httpHandler.ServeHTTP(respLogger, r)
	}()

	if !respLogger.wroteHeader {
		http.Error(respLogger, "MCP handler returned without writing response", http.StatusInternalServerError)
	}

	body := logutil.FormatBody(respLogger.Header().Get("Content-Type"), respLogger.body, mcpDebugBodyLogLimitBytes, respLogger.truncated)
	if debug {
		logger.Debug("mcp_response", "status", respLogger.statusCode, "body", body)
	}
	if respLogger.statusCode >= http.StatusBadRequest {
		logger.Error("mcp_request_failed", "method", r.Method, "status", respLogger.statusCode, "response", body)
	}
}
