// Package server implements the request router: WebSocket upgrade, HTTP
// OPTIONS preflight, and HTTP POST single/batch invocation, each composed
// in front of the dispatch engine and connection manager (spec.md §4.5).
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/code"
	"github.com/edgerpc/edgerpc/discovery"
	"github.com/edgerpc/edgerpc/dispatch"
	"github.com/edgerpc/edgerpc/hibernate"
	"github.com/edgerpc/edgerpc/registry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// A Server is the composition root binding a Registry, a dispatch Engine, a
// connection Manager, and a discovery Handler behind one net/http.Handler
// (spec.md §4.5, mirroring how appilon-jrpc2/server.go's Server.Start is the
// single place a Channel is bound to an Assigner).
type Server struct {
	reg  *registry.Registry
	disp *dispatch.Engine
	hib  *hibernate.Manager
	disc *discovery.Handler
	opts *Options

	upgrader websocket.Upgrader
	limiter  *rateLimiter
}

// New returns a Server dispatching through reg.
func New(reg *registry.Registry, opts *Options) *Server {
	disp := dispatch.New(reg, &dispatch.Options{
		MethodTimeout:  opts.methodTimeoutOrZero(),
		Concurrency:    opts.concurrencyOrZero(),
		ProductionMode: opts.ProductionMode,
		Metrics:        opts.Metrics,
		Logger:         opts.Logger,
	})
	disc := discovery.New(reg, disp, &discovery.Options{
		Root: opts.root(), Logger: opts.Logger, Metrics: opts.Metrics,
	})

	s := &Server{
		reg:  reg,
		disp: disp,
		disc: disc,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.hib = hibernate.NewManager(s.dispatchInbound, &hibernate.Options{
		Logger: opts.Logger, IdleTimeout: opts.IdleTimeout,
		MaxHibernation: opts.MaxHibernation, Metrics: opts.Metrics,
	})
	if policy := opts.rateLimit(); policy != nil {
		s.limiter = newRateLimiter(policy)
	}
	return s
}

func (o *Options) methodTimeoutOrZero() time.Duration {
	if o == nil {
		return 0
	}
	return o.MethodTimeout
}

func (o *Options) concurrencyOrZero() int {
	if o == nil {
		return 0
	}
	return o.Concurrency
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if isWebSocketUpgrade(r) {
		s.serveUpgrade(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.disc.ServeHTTP(w, r)
	case http.MethodPost:
		s.servePost(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) applyCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && containsToken(r.Header.Get("Connection"), "upgrade") &&
		equalFoldTrim(r.Header.Get("Upgrade"), "websocket")
}

// servePost runs the precondition chain of spec.md §4.5, in order, each
// yielding a distinct HTTP status on failure.
func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	if !containsToken(r.Header.Get("Content-Type"), "application/json") {
		s.writeResponse(w, http.StatusUnsupportedMediaType, edgerpc.NewErrorUnknownID(edgerpc.ErrParse))
		return
	}

	if s.limiter != nil {
		key := s.clientKey(r)
		if !s.limiter.Allow(key, time.Now()) {
			s.opts.metrics().Count("server.rate_limited", 1)
			s.writeResponse(w, http.StatusTooManyRequests,
				edgerpc.NewErrorUnknownID(edgerpc.Errorf(code.RateLimited, "rate limit exceeded")))
			return
		}
	}

	defer r.Body.Close()

	max := s.opts.maxPayloadSize()
	var body []byte
	var err error
	if max > 0 {
		limited := io.LimitReader(r.Body, max+1)
		body, err = io.ReadAll(limited)
		if err == nil && int64(len(body)) > max {
			s.writeResponse(w, http.StatusRequestEntityTooLarge,
				edgerpc.NewErrorUnknownID(edgerpc.Errorf(code.InvalidRequest, "payload exceeds maximum size")))
			return
		}
	} else {
		body, err = io.ReadAll(r.Body)
	}
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, edgerpc.NewErrorUnknownID(edgerpc.ErrParse))
		return
	}

	if isBatchEnvelope(body) {
		s.dispatchBatchHTTP(w, r, body)
		return
	}
	s.dispatchSingleHTTP(w, r, body)
}

// isBatchEnvelope reports whether body's JSON object carries a "requests"
// key, distinguishing a batch request from a single one before decode.
func isBatchEnvelope(body []byte) bool {
	var probe map[string]json.RawMessage
	if json.Unmarshal(body, &probe) != nil {
		return false
	}
	_, ok := probe["requests"]
	return ok
}

func (s *Server) dispatchSingleHTTP(w http.ResponseWriter, r *http.Request, body []byte) {
	req, err := edgerpc.DecodeRequest(body)
	if err != nil {
		status, rsp := shapeDecodeError(err)
		s.writeResponse(w, status, rsp)
		return
	}
	rsp := s.disp.DispatchSingle(r.Context(), req, &edgerpc.ExecContext{})
	s.writeResponse(w, http.StatusOK, rsp)
}

func (s *Server) dispatchBatchHTTP(w http.ResponseWriter, r *http.Request, body []byte) {
	br, err := edgerpc.DecodeBatchRequest(body)
	if err != nil {
		status, rsp := shapeDecodeError(err)
		s.writeResponse(w, status, rsp)
		return
	}
	if max := s.opts.maxBatchSize(); max > 0 && len(br.Requests) > max {
		s.writeResponse(w, http.StatusBadRequest,
			edgerpc.NewError(br.ID, edgerpc.Errorf(code.InvalidRequest, "batch exceeds maximum size of %d", max)))
		return
	}
	rsp := s.disp.DispatchBatch(r.Context(), br, &edgerpc.ExecContext{})
	s.writeResponse(w, http.StatusOK, rsp)
}

// shapeDecodeError maps a codec decode failure to its HTTP status: malformed
// JSON is a parse error (400); every other validation failure is an
// invalid-request (400). Both are 400 per spec.md §6's status table, but are
// kept distinct in the response body's error code. The request's id could
// not be recovered (decoding failed before it could be read), so the
// response id is wire-encoded as null, per spec.md §7's concrete parse-error
// scenario.
func shapeDecodeError(err error) (int, *edgerpc.Response) {
	if rerr, ok := err.(*edgerpc.Error); ok {
		return http.StatusBadRequest, edgerpc.NewErrorUnknownID(rerr)
	}
	return http.StatusBadRequest, edgerpc.NewErrorUnknownID(edgerpc.ErrParse)
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) clientKey(r *http.Request) string {
	if header := s.opts.clientKeyHeader(); header != "" {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	return r.RemoteAddr
}

func containsToken(header, token string) bool {
	return containsFold(header, token)
}
