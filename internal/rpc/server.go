package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/metrics"
	"github.com/kuitang/persona-notes/internal/obs"
	"github.com/kuitang/persona-notes/internal/ratelimit"
)

// BeforeFunc authenticates a call before dispatch and returns the context
// the method runs with.
type BeforeFunc func(ctx context.Context, cc auth.CallerContext, internalKey string) (context.Context, error)

// Server dispatches calls to registered services.
type Server struct {
	services map[string]map[string]Method
	before   BeforeFunc
	limiter  *ratelimit.RateLimiter
	metrics  *metrics.RPCMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimiter limits calls per authenticated caller.
func WithRateLimiter(limiter *ratelimit.RateLimiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *metrics.RPCMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a Server that runs before ahead of every method.
func NewServer(before BeforeFunc, opts ...Option) *Server {
	s := &Server{
		services: make(map[string]map[string]Method),
		before:   before,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs the dispatch table for service. The table is copied.
func (s *Server) Register(service string, methods map[string]Method) {
	table := make(map[string]Method, len(methods))
	for name, method := range methods {
		table[name] = method
	}
	s.services[service] = table
}

// RegisterRoutes mounts the server on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /rpc/{service}", s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	service := r.PathValue("service")
	serviceLabel, methodLabel := "unknown", "unknown"

	result, err := func() (any, error) {
		methods, ok := s.services[service]
		if !ok {
			return nil, errs.New(errs.NotFound, "unknown service")
		}
		serviceLabel = service

		var req Request
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, errs.Wrap(errs.InvalidArgument, "request body too large", err)
			}
			return nil, errs.Wrap(errs.InvalidArgument, "malformed request body", err)
		}

		method, ok := methods[req.Method]
		if ok {
			methodLabel = req.Method
		}

		r = r.WithContext(obs.WithRPC(r.Context(), service, req.Method))
		ctx, err := s.before(r.Context(), req.Context, r.Header.Get(auth.InternalKeyHeader))
		if err != nil {
			return nil, err
		}
		r = r.WithContext(ctx)
		if err := s.allow(ctx); err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(ratelimit.DefaultRetryAfterSeconds))
			return nil, err
		}
		if !ok {
			return nil, errs.New(errs.NotFound, "unknown method")
		}

		return method(ctx, req.Params)
	}()

	s.after(r, serviceLabel, methodLabel, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultBody{Result: result})
}

func (s *Server) allow(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil
	}
	if !s.limiter.Allow(caller.LogValue(), caller.System) {
		return errs.New(errs.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func (s *Server) after(r *http.Request, service, method string, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = string(errs.CodeOf(err))
	}
	elapsed := time.Since(start)
	s.metrics.RecordRequest(service, method, code, elapsed)

	logger := obs.From(r.Context()).With("pkg", "rpc")
	attrs := []any{
		"service", service,
		"method", method,
		"code", code,
		"dur_ms", float64(elapsed.Microseconds()) / 1000.0,
	}
	switch {
	case err == nil:
		logger.Info("rpc_request", attrs...)
	case errs.CodeOf(err) == errs.Internal || errs.CodeOf(err) == errs.Unavailable:
		logger.Error("rpc_request", append(attrs, "error", err)...)
	default:
		logger.Info("rpc_request", append(attrs, "error", err)...)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	detail := detailOf(err)
	writeJSON(w, errs.HTTPStatus(detail.Code), errorBody{Error: detail})
}
