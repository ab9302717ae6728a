// Package server exposes a host app over HTTP: the sample page, lens.js, the
// websocket bridge and a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/lens/internal/host"
	"github.com/petervdpas/lens/internal/logbuf"
	"github.com/petervdpas/lens/internal/script"
	"github.com/petervdpas/lens/internal/sdk"
	"github.com/petervdpas/lens/internal/storage"
	"github.com/petervdpas/lens/internal/tasks"
	"github.com/petervdpas/lens/internal/wsbridge"
)

var log = logging.Logger("server")

const (
	shutdownTimeout = 2 * time.Second
	historyLimit    = 50
)

// Deps are the parts of a running host the server reports on. App and Hub
// are required; the rest may be nil.
type Deps struct {
	App     *host.App
	Hub     *wsbridge.Hub
	Tasks   *tasks.Manager
	DB      *storage.DB
	Logs    *logbuf.Buffer
	Scripts *script.Engine
	Version string
}

type Status struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Uptime   string   `json:"uptime"`
	Clients  int      `json:"clients"`
	Running  int      `json:"running"`
	Pending  int      `json:"pending"`
	Scripts  []string `json:"scripts"`
	Database string   `json:"database,omitempty"`
}

type Server struct {
	addr    string
	deps    Deps
	started time.Time

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps, started: time.Now()}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/", sdk.Handler())
	mux.Handle(wsbridge.Path, s.deps.Hub)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleCancelTask)

	if s.deps.Logs != nil {
		mux.HandleFunc("/api/logs", s.deps.Logs.ServeJSON)
		mux.HandleFunc("/api/logs/stream", s.deps.Logs.ServeSSE)
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Name:    s.deps.App.Name(),
		Version: s.deps.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Clients: s.deps.Hub.Clients(),
		Scripts: []string{},
	}
	if s.deps.Tasks != nil {
		st.Running = s.deps.Tasks.Running()
		st.Pending = s.deps.Tasks.Pending()
	}
	if s.deps.Scripts != nil {
		st.Scripts = s.deps.Scripts.Commands()
	}
	if s.deps.DB != nil {
		st.Database = s.deps.DB.Path()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Active  []tasks.Info         `json:"active"`
		History []storage.TaskRecord `json:"history"`
	}{
		Active:  []tasks.Info{},
		History: []storage.TaskRecord{},
	}
	if s.deps.Tasks != nil {
		resp.Active = s.deps.Tasks.List()
	}
	if s.deps.DB != nil {
		limit := historyLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		hist, err := s.deps.DB.ListTasks(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if hist != nil {
			resp.History = hist
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil || !s.deps.Tasks.Cancel(r.PathValue("id")) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start listens and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.deps.Hub.Close()
		shctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shctx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server error: %v", err)
		}
	}()

	log.Infof("serving on %s", s.URL())
	return nil
}

// URL is the base URL of the running server, or of the configured address
// before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return "http://" + s.ln.Addr().String()
	}
	return "http://" + s.addr
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
