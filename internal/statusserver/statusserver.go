// Package statusserver exposes a local-only HTTP surface for liveness and
// runtime introspection: /healthz for a bare liveness probe and /status for
// live worker counts, watched-log offsets, and per-rule match counters. It
// never serves configuration contents or command output; it is pure
// observability, bound to localhost by default.
package statusserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tripwire/logactiond/internal/logfile"
)

// RunningWorkers is the subset of worker.Manager this package depends on,
// kept as an interface so statusserver never imports internal/worker (and
// so tests can supply a fake count without starting real processes).
type RunningWorkers interface {
	Running() int
}

// Server holds the dependencies needed by the status handlers.
type Server struct {
	set     *logfile.Set
	workers RunningWorkers
}

// NewServer creates a Server reporting on set's logs and workers' live
// process count.
func NewServer(set *logfile.Set, workers RunningWorkers) *Server {
	return &Server{set: set, workers: workers}
}

// NewRouter returns a configured chi.Router serving:
//
//	GET /healthz  – liveness probe, no body beyond {"status":"ok"}
//	GET /status   – worker count, watched logs, and per-rule hit counters
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ruleStatus is one ActionRule's reported match count.
type ruleStatus struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Command string `json:"command"`
	Hits    uint64 `json:"hits"`
}

// logStatus is one watched LogFile's reported state.
type logStatus struct {
	Path   string       `json:"path"`
	Offset int64        `json:"offset"`
	Open   bool         `json:"open"`
	Rules  []ruleStatus `json:"rules"`
}

// statusResponse is the full body of GET /status.
type statusResponse struct {
	RunningWorkers int         `json:"running_workers"`
	WatchedLogs    int         `json:"watched_logs"`
	Logs           []logStatus `json:"logs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	files := s.set.Files()
	logs := make([]logStatus, 0, len(files))
	for _, lf := range files {
		rules := lf.Chain.Rules()
		rs := make([]ruleStatus, 0, len(rules))
		for _, rule := range rules {
			rs = append(rs, ruleStatus{
				Name:    rule.Name,
				Pattern: rule.Pattern,
				Command: rule.Command,
				Hits:    rule.Hits(),
			})
		}
		logs = append(logs, logStatus{
			Path:   lf.CanonicalPath,
			Offset: lf.Offset(),
			Open:   lf.IsOpen(),
			Rules:  rs,
		})
	}

	resp := statusResponse{
		RunningWorkers: s.workers.Running(),
		WatchedLogs:    len(files),
		Logs:           logs,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
