package ops

import (
	"context"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"

	"schedkit/internal/storage"
	"schedkit/internal/task/scheduler"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 1000
)

// SnapshotSource is implemented by *scheduler.Scheduler.
type SnapshotSource interface {
	Snapshot() scheduler.Snapshot
}

// HistorySource is implemented by storage.Store.
type HistorySource interface {
	RecentRuns(ctx context.Context, job string, limit int) ([]storage.RunRecord, error)
}

// Sources feed the endpoints. Nil members turn their endpoints into 404s.
type Sources struct {
	Scheduler SnapshotSource
	History   HistorySource
	Metrics   http.Handler
}

// Handler returns the routes for the current config. It is what the
// server mounts and can be served directly in tests.
func (s *Server) Handler() http.Handler { return s.handler(s.config()) }

func (s *Server) handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux.HandleFunc("GET /healthz", wrap(s.healthz))
	mux.HandleFunc("GET /jobs", wrap(s.jobs))
	mux.HandleFunc("GET /jobs/{id}", wrap(s.job))
	mux.HandleFunc("GET /runs", wrap(s.runs))
	if s.src.Metrics != nil {
		mux.Handle("GET /metrics", wrap(s.src.Metrics.ServeHTTP))
	}
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if src := s.src.Scheduler; src != nil && !src.Snapshot().Running {
		http.Error(w, "scheduler stopped", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// jobs serves the scheduler snapshot. ?tag= and ?kind= narrow the job list.
func (s *Server) jobs(w http.ResponseWriter, r *http.Request) {
	if s.src.Scheduler == nil {
		http.NotFound(w, r)
		return
	}
	snap := s.src.Scheduler.Snapshot()
	tag, kind := r.URL.Query().Get("tag"), r.URL.Query().Get("kind")
	if tag != "" || kind != "" {
		kept := make([]scheduler.JobInfo, 0, len(snap.Jobs))
		for _, j := range snap.Jobs {
			if (kind == "" || strings.EqualFold(j.Kind, kind)) && (tag == "" || hasTag(j.Tags, tag)) {
				kept = append(kept, j)
			}
		}
		snap.Jobs = kept
	}
	writeJSON(w, http.StatusOK, snap)
}

// job looks a job up by id, then by name.
func (s *Server) job(w http.ResponseWriter, r *http.Request) {
	if s.src.Scheduler == nil {
		http.NotFound(w, r)
		return
	}
	key := r.PathValue("id")
	jobs := s.src.Scheduler.Snapshot().Jobs
	for _, j := range jobs {
		if j.ID == key {
			writeJSON(w, http.StatusOK, j)
			return
		}
	}
	for _, j := range jobs {
		if j.Name == key {
			writeJSON(w, http.StatusOK, j)
			return
		}
	}
	http.Error(w, "job not found", http.StatusNotFound)
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	if s.src.History == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunsLimit)
	}
	recs, err := s.src.History.RecentRuns(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
