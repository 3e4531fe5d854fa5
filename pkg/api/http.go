package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds unary HTTP requests
const DefaultRequestTimeout = 30 * time.Second

// maxBodyBytes bounds POST bodies
const maxBodyBytes = 4 << 20

// HTTPServer exposes a Gateway over HTTP with JSON bodies, next to the
// metrics and health endpoints
type HTTPServer struct {
	http    *http.Server
	gateway *Gateway
	auth    *Authenticator
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHTTPServer builds the router. timeout bounds unary requests, streams run
// until the client disconnects.
func NewHTTPServer(addr string, gateway *Gateway, auth *Authenticator, timeout time.Duration) *HTTPServer {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	s := &HTTPServer{
		gateway: gateway,
		auth:    auth,
		timeout: timeout,
		logger:  log.WithComponent("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/routes", s.handleRoutes)
		r.Get("/{action}", s.handleAction)
		r.Post("/{action}", s.handleAction)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Stop
func (s *HTTPServer) Start() error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *HTTPServer) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP gateway listening")
	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server within the ctx deadline
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("HTTP gateway shutting down")
	return s.http.Shutdown(ctx)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote_ip", r.RemoteAddr).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http_request")
	})
}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.auth.Authenticate(BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (s *HTTPServer) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": s.gateway.Registry().Routes()})
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request) {
	req, err := decodeHTTPRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := CallerFrom(r.Context())

	route, err := s.gateway.Registry().Lookup(req.Method, req.Action)
	if err == nil && route.Stream {
		s.stream(w, r, caller, req)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	result, err := s.gateway.Call(ctx, caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}

// stream writes one JSON document per line, flushing after each
func (s *HTTPServer) stream(w http.ResponseWriter, r *http.Request, caller *Caller, req *Request) {
	sink := &ndjsonSink{w: w}
	err := s.gateway.Stream(r.Context(), caller, req, sink)
	if err == nil || r.Context().Err() != nil {
		return
	}
	if !sink.started {
		writeError(w, err)
		return
	}
	// headers are gone, report the failure in band
	_ = sink.Send(errorBody(err))
}

type ndjsonSink struct {
	w       http.ResponseWriter
	started bool
}

func (n *ndjsonSink) Send(v interface{}) error {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if err := json.NewEncoder(n.w).Encode(map[string]interface{}{"data": v}); err != nil {
		return err
	}
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// decodeHTTPRequest reads the parameters from the query string of GET
// requests and from the JSON object body of POST requests
func decodeHTTPRequest(r *http.Request) (*Request, error) {
	req := &Request{
		Method: r.Method,
		Action: chi.URLParam(r, "action"),
		Params: make(map[string]interface{}),
	}
	if r.Method == http.MethodHead {
		req.Method = http.MethodGet
	}

	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, apierrors.BadRequest("", "read body: %v", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req.Params); err != nil {
				return nil, apierrors.BadRequest("", "body must be a JSON object: %v", err)
			}
		}
		return req, nil
	}

	for name, values := range r.URL.Query() {
		if len(values) == 1 {
			req.Params[name] = values[0]
		} else {
			req.Params[name] = values
		}
	}
	return req, nil
}

func errorBody(err error) map[string]interface{} {
	body := map[string]interface{}{
		"kind":  string(apierrors.KindOf(err)),
		"error": err.Error(),
	}
	var e *apierrors.Error
	if errors.As(err, &e) {
		if e.Field != "" {
			body["field"] = e.Field
		}
		if e.RID != "" {
			body["rid"] = e.RID
		}
	}
	return body
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierrors.HTTPStatus(err), errorBody(err))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
