package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/metrics"
	"github.com/cuemby/rover/pkg/module"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/supervisor"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
)

// Supervisor is the part of the supervisor the operator API drives
type Supervisor interface {
	Snapshot() map[string]types.ModuleHealth
	Health(name string) (types.ModuleHealth, bool)
	ForceRecovery(name string, strategy types.RecoveryStrategy) (types.FailureEvent, error)
	FailureHistory() []types.FailureEvent
	Report() types.SystemHealthReport
}

// ModuleView combines the supervisor's evaluation of a module with the
// runtime's own view of itself
type ModuleView struct {
	Health  *types.ModuleHealth `json:"health,omitempty"`
	Runtime *module.Status      `json:"runtime,omitempty"`
}

// Server is the operator HTTP API
type Server struct {
	sup      Supervisor
	bus      *statebus.Bus
	runtimes map[string]*module.Runtime
	mux      *http.ServeMux
	server   *http.Server
	logger   zerolog.Logger
}

// NewServer creates the operator API. Runtimes are optional and add the
// runtime status to module responses.
func NewServer(sup Supervisor, bus *statebus.Bus, runtimes ...*module.Runtime) *Server {
	s := &Server{
		sup:      sup,
		bus:      bus,
		runtimes: make(map[string]*module.Runtime, len(runtimes)),
		mux:      http.NewServeMux(),
		logger:   log.WithComponent("api"),
	}
	for _, r := range runtimes {
		s.runtimes[r.Name()] = r
	}

	s.mux.HandleFunc("GET /health", metrics.HealthHandler())
	s.mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	s.mux.HandleFunc("GET /live", metrics.LivenessHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("GET /report", s.report)
	s.mux.HandleFunc("GET /modules", s.listModules)
	s.mux.HandleFunc("GET /modules/{name}", s.getModule)
	s.mux.HandleFunc("POST /modules/{name}/recover", s.recoverModule)
	s.mux.HandleFunc("GET /failures", s.failures)
	s.mux.HandleFunc("GET /state", s.namespaces)
	s.mux.HandleFunc("GET /state/{namespace}", s.state)
	s.mux.HandleFunc("POST /emergency-stop", s.triggerEmergencyStop)
	s.mux.HandleFunc("DELETE /emergency-stop", s.clearEmergencyStop)

	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return logRequests(s.logger, s.mux)
}

// Start listens on addr and serves until Shutdown. It returns once the
// listener is bound.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Operator API listening")
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Report())
}

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	views := make(map[string]ModuleView)
	for name, h := range s.sup.Snapshot() {
		h := h
		views[name] = ModuleView{Health: &h}
	}
	for name, rt := range s.runtimes {
		st := rt.Status()
		v := views[name]
		v.Runtime = &st
		views[name] = v
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var view ModuleView
	if h, ok := s.sup.Health(name); ok {
		view.Health = &h
	}
	if rt, ok := s.runtimes[name]; ok {
		st := rt.Status()
		view.Runtime = &st
	}
	if view.Health == nil && view.Runtime == nil {
		writeError(w, http.StatusNotFound, "module not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) recoverModule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	strategy, err := types.ParseRecoveryStrategy(r.URL.Query().Get("strategy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := s.sup.ForceRecovery(name, strategy)
	switch {
	case errors.Is(err, supervisor.ErrModuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Warn().
		Str("module", name).
		Str("strategy", string(strategy)).
		Bool("successful", event.RecoverySuccessful).
		Msg("Operator forced recovery")
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) failures(w http.ResponseWriter, r *http.Request) {
	history := s.sup.FailureHistory()
	if history == nil {
		history = []types.FailureEvent{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) namespaces(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	for _, ns := range s.bus.Namespaces() {
		counts[ns] = s.bus.Len(ns)
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	known := s.bus.Namespaces()
	if i := sort.SearchStrings(known, ns); i == len(known) || known[i] != ns {
		writeError(w, http.StatusNotFound, "namespace not found: "+ns)
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("history") == "true":
		writeJSON(w, http.StatusOK, s.bus.History(ns))
	case q.Get("key") != "":
		v, ok := s.bus.Lookup(ns, q.Get("key"))
		if !ok {
			writeError(w, http.StatusNotFound, "key not found: "+q.Get("key"))
			return
		}
		writeJSON(w, http.StatusOK, v)
	default:
		writeJSON(w, http.StatusOK, s.bus.Snapshot(ns))
	}
}

func (s *Server) triggerEmergencyStop(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "operator request"
	}
	s.bus.TriggerEmergencyStop("api", reason)
	es, _ := s.bus.EmergencyStop()
	writeJSON(w, http.StatusOK, es)
}

func (s *Server) clearEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.bus.ClearEmergencyStop("api")
	es, _ := s.bus.EmergencyStop()
	writeJSON(w, http.StatusOK, es)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
