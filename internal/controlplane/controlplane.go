// Package controlplane implements the HTTP surface from spec.md §4.11:
// per-host telemetry and a reserved waves endpoint, routed the way rclone's
// fs/rc/rcserver wires go-chi. There is no dedicated liveness route.
package controlplane

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Server owns the chi router and per-hostname telemetry baselines used for
// delta-from-baseline queries.
type Server struct {
	Service string
	Version string
	log     *logrus.Entry

	mu         sync.Mutex
	baselines  map[string]Snapshot
	router     chi.Router
}

// NewServer builds a Server for the given service/version path prefix
// (spec.md §4.11: "/{service}/{version}/{resource}/{id?}").
func NewServer(service, version string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		Service:   service,
		Version:   version,
		log:       log.WithField("component", "controlplane"),
		baselines: make(map[string]Snapshot),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the configured http.Handler.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	prefix := "/" + s.Service + "/" + s.Version
	r.Get(prefix+"/servers/{hostname}", s.handleServers)
	r.Get(prefix+"/waves/{id}", s.handleWaves)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusNotAcceptable)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	return r
}

// handleServers implements
// GET /{service}/{version}/servers/{hostname}?q={cpu|memory|disk|network}&v=...
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	query := r.URL.Query().Get("q")
	prev := r.URL.Query().Get("v")

	var snap Snapshot
	var err error
	switch query {
	case "cpu":
		snap, err = sampleCPU()
	case "memory":
		snap, err = sampleMemory()
	case "disk":
		snap, err = sampleDisk()
	case "network":
		snap, err = sampleNetwork()
	default:
		http.Error(w, "malformed query: unknown q", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("hostname", hostname).Warn("controlplane: telemetry sample failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	key := hostname + ":" + query
	s.mu.Lock()
	baseline, hasBaseline := s.baselines[key]
	s.baselines[key] = snap
	s.mu.Unlock()

	result := snap
	if prev != "" && hasBaseline {
		result = snap.Delta(baseline)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleWaves is reserved (spec.md §4.11: "returns 405 today").
func (s *Server) handleWaves(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented", http.StatusMethodNotAllowed)
}
