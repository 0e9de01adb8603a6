// Package control implements the HTTP surface that toggles tracing on
// a running host input: create a context, set its limit, destroy it,
// and query whether its limit has been hit. Routing and middleware
// follow the teacher's handlers.go: a gorilla/mux router, a response
// time middleware wrapping every trace endpoint, and JSON bodies for
// anything beyond a bare status code.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"tracepipe/internal/engine"
	"tracepipe/internal/metrics"
	"tracepipe/internal/tracecontext"
)

// Server owns the control-surface HTTP listener. enabledFunc reports
// the outer engine's global enable_trace flag at request time, so
// toggling it in config does not require restarting the listener.
type Server struct {
	httpServer  *http.Server
	logger      *logrus.Logger
	registry    *Registry
	outer       *engine.Engine
	enabledFunc func() bool
}

// New builds a Server. outer is the process-wide engine whose outputs
// are consulted for credential propagation when a context is created
// against the recognized telemetry sink kind.
func New(addr string, registry *Registry, outer *engine.Engine, enabledFunc func() bool, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := mux.NewRouter()
	s := &Server{
		logger:      logger,
		registry:    registry,
		outer:       outer,
		enabledFunc: enabledFunc,
	}
	s.registerRoutes(router)

	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

func (s *Server) registerRoutes(router *mux.Router) {
	router.Handle("/api/v1/trace/{input}", s.timed("context_new", http.HandlerFunc(s.createContext))).Methods(http.MethodPost)
	router.Handle("/api/v1/trace/{input}/limit", s.timed("set_limit", http.HandlerFunc(s.setLimit))).Methods(http.MethodPost)
	router.Handle("/api/v1/trace/{input}", s.timed("destroy", http.HandlerFunc(s.destroyContext))).Methods(http.MethodDelete)
	router.Handle("/api/v1/trace/{input}/hit_limit", s.timed("hit_limit", http.HandlerFunc(s.hitLimit))).Methods(http.MethodGet)
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
}

// timed wraps next with the response-time instrumentation every
// control endpoint reports through, regardless of outcome.
func (s *Server) timed(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.RecordHTTPResponseTime(name, r.Method, time.Since(start))
	})
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting trace control server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("trace control server error")
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping trace control server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type createContextRequest struct {
	OutputKind  string            `json:"output_kind"`
	TracePrefix string            `json:"trace_prefix"`
	Properties  map[string]string `json:"properties"`
}

// createContext implements context_new (spec.md §6): POST
// /api/v1/trace/{input}. Responds 503 when tracing is disabled
// globally, 409 when the input already has a context installed, 500
// on any other construction failure, 201 on success.
func (s *Server) createContext(w http.ResponseWriter, r *http.Request) {
	inputName := mux.Vars(r)["input"]

	var req createContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.OutputKind == "" {
		http.Error(w, "missing required field: output_kind", http.StatusBadRequest)
		return
	}
	if req.TracePrefix == "" {
		req.TracePrefix = inputName + "-"
	}

	gate := s.registry.GateFor(inputName)

	ctx, err := tracecontext.New(gate, s.outer, tracecontext.Options{
		Enabled:          s.enabledFunc(),
		OutputKind:       req.OutputKind,
		TracePrefix:      req.TracePrefix,
		OutputProperties: req.Properties,
		Logger:           s.logger,
	})
	if err != nil {
		if errors.Is(err, tracecontext.ErrAlreadyInstalled) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.WithError(err).WithField("input", inputName).Warn("trace control: context_new failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ctx == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "disabled"})
		return
	}

	metrics.RecordContextCreated(inputName, req.OutputKind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "created", "input": inputName})
}

type setLimitRequest struct {
	Kind string `json:"kind"` // "time" or "count"
	Arg  int64  `json:"arg"`
}

// setLimit implements context_set_limit: POST
// /api/v1/trace/{input}/limit.
func (s *Server) setLimit(w http.ResponseWriter, r *http.Request) {
	inputName := mux.Vars(r)["input"]

	var req setLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var kind tracecontext.LimitKind
	switch req.Kind {
	case "time":
		kind = tracecontext.LimitTime
	case "count":
		kind = tracecontext.LimitCount
	default:
		http.Error(w, fmt.Sprintf("unknown limit kind %q", req.Kind), http.StatusBadRequest)
		return
	}

	gate := s.registry.GateFor(inputName)
	if err := gate.SetLimit(kind, req.Arg); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// destroyContext implements context_destroy: DELETE
// /api/v1/trace/{input}.
func (s *Server) destroyContext(w http.ResponseWriter, r *http.Request) {
	inputName := mux.Vars(r)["input"]
	gate := s.registry.GateFor(inputName)
	gate.Destroy()
	metrics.RecordContextDestroyed(inputName)
	w.WriteHeader(http.StatusNoContent)
}

// hitLimit implements context_hit_limit: GET
// /api/v1/trace/{input}/hit_limit.
func (s *Server) hitLimit(w http.ResponseWriter, r *http.Request) {
	inputName := mux.Vars(r)["input"]
	gate := s.registry.GateFor(inputName)

	hit := gate.LimitHit()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"hit": hit})
}
