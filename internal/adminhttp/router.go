// Package adminhttp serves Kairoi's read-only operator surface: health,
// metrics, job/rule inspection, and a Server-Sent Events tail of status
// transitions. It never writes to the Engine — every mutation goes
// through the Controller Front's KCP protocol instead.
package adminhttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogGin "github.com/samber/slog-gin"

	"github.com/emerick42/kairoi/internal/adminhttp/middleware"
	"github.com/emerick42/kairoi/internal/engine"
	"github.com/emerick42/kairoi/internal/health"
)

// EngineReader is the subset of the Engine the admin surface reads.
type EngineReader interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	Events() <-chan engine.EventMsg
}

// Server is the Admin HTTP surface: a *http.Server wrapping a gin router.
type Server struct {
	httpServer *http.Server
	hub        *hub
	logger     *slog.Logger
}

// New builds the Admin HTTP surface. It starts the event hub immediately
// (subscribing to eng.Events()) but does not bind a listener until Run.
func New(listen string, eng EngineReader, checker *health.Checker, logger *slog.Logger) *Server {
	logger = logger.With("component", "adminhttp")

	h := newHub()
	go h.run(eng.Events())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(slogGin.New(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(middleware.Metrics())

	handlers := &handlerSet{eng: eng, checker: checker, hub: h, logger: logger}
	r.GET("/healthz", handlers.liveness)
	r.GET("/readyz", handlers.readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/jobs", handlers.listJobs)
	r.GET("/jobs/:id", handlers.getJob)
	r.GET("/rules", handlers.listRules)
	r.GET("/events", handlers.events)

	return &Server{
		httpServer: &http.Server{Addr: listen, Handler: r},
		hub:        h,
		logger:     logger,
	}
}

// Run serves until ctx is cancelled, then shuts down with a 10 second
// deadline — the same ordering and timeout the teacher's metrics server
// uses in cmd/scheduler/main.go.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin http listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("admin http shutdown", "error", err)
		return err
	}
	return <-errCh
}
