// Package httpapi is the HTTP/WS facade: a thin boundary to clients where
// every handler calls exactly one coordinator and contains no domain logic
// of its own. Grounded on the teacher's serve package (server.go,
// handlers_api.go): http.ServeMux method-pattern routing, a writeJSON
// helper, and a permissive corsMiddleware for a single-operator daemon
// rather than a public multi-tenant service.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dere-run/dered/bond"
	"github.com/dere-run/dered/container"
	"github.com/dere-run/dered/emotion"
	"github.com/dere-run/dered/eventbus"
	"github.com/dere-run/dered/llm"
	"github.com/dere-run/dered/mission"
	"github.com/dere-run/dered/rareevent"
	"github.com/dere-run/dered/session"
	"github.com/dere-run/dered/store"
	"github.com/dere-run/dered/swarm"
	"github.com/dere-run/dered/workqueue"
)

// Config configures the facade.
type Config struct {
	Addr string
}

// Server wires every coordinator into the daemon's HTTP/WS surface.
type Server struct {
	cfg Config

	store      store.Store
	tasks      *workqueue.Coordinator
	scheduler  *mission.Scheduler
	executor   *mission.SessionExecutor
	swarms     *swarm.Coordinator
	sessions   *session.Service
	bonds      *bond.Manager
	emotions   *emotion.Manager
	rare       *rareevent.Generator
	bus        *eventbus.Bus
	containers *container.Manager
	model      llm.LLM

	httpServer *http.Server
}

// New constructs a Server. Any coordinator left nil simply has its routes
// fail closed with 503, so a partially-wired daemon (e.g. in a test) can
// still serve the routes it does support. containers may be nil when
// Docker was never reachable at startup; the sandbox routes report 503
// rather than panicking in that case. model is the shared LLM client used
// for one-off calls outside an agent session (natural-schedule parsing);
// it may be nil in a test server that never exercises those routes.
func New(cfg Config, st store.Store, tasks *workqueue.Coordinator, sched *mission.Scheduler, exec *mission.SessionExecutor, swarms *swarm.Coordinator, sessions *session.Service, bonds *bond.Manager, emotions *emotion.Manager, rare *rareevent.Generator, bus *eventbus.Bus, containers *container.Manager, model llm.LLM) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		tasks:      tasks,
		scheduler:  sched,
		executor:   exec,
		swarms:     swarms,
		sessions:   sessions,
		bonds:      bonds,
		emotions:   emotions,
		rare:       rare,
		bus:        bus,
		containers: containers,
		model:      model,
	}
}

// Start builds the route table and listens until ctx is cancelled, then
// shuts down gracefully with a bounded timeout.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: corsMiddleware(tracingMiddleware(mux)),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi: listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("httpapi: shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware adds permissive CORS headers; the daemon's clients are a
// CLI wrapper, a chat bridge, editor hooks, and MCP tool servers, none of
// which are browser-origin constrained, but the dashboard UI is.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
