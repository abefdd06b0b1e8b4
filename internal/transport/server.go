// Package transport implements Labtasker's chi-based HTTP mapping of the
// wire protocol in spec.md §6: create/get/delete-queue, submit/fetch/
// heartbeat/report/update/ls-tasks, register/update/delete/ls-workers,
// subscribe-events/next-event, and health. Grounded on the teacher's
// internal/api/{routes.go,handlers,websocket} — same chi router/
// middleware-stack shape, same JSON request/response and error-envelope
// conventions, adapted from a single global Redis queue to Labtasker's
// per-queue dispatch engine.
package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/infinity086/labtasker/internal/admin"
	"github.com/infinity086/labtasker/internal/config"
	"github.com/infinity086/labtasker/internal/dispatch"
	tmw "github.com/infinity086/labtasker/internal/transport/middleware"
	"github.com/infinity086/labtasker/internal/transport/wsevents"
)

// Server is the HTTP entry point wrapping an admin.Admin/dispatch.Engine
// pair behind the wire protocol.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	engine  *dispatch.Engine
	admin   *admin.Admin
	wsHub   *wsevents.Hub
	streams *eventStreams
}

// NewServer builds the router and wires every handler.
func NewServer(cfg *config.Config, engine *dispatch.Engine, a *admin.Admin) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		engine:  engine,
		admin:   a,
		wsHub:   wsevents.NewHub(engine.Bus()),
		streams: newEventStreams(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(tmw.RequestLogger())
	s.router.Use(chimw.Recoverer)
}

// requireAdmin wraps the admin-only subset of the queue-scoped surface
// (destructive/bulk/ls operations) with the optional JWT guard.
func (s *Server) requireAdmin() func(http.Handler) http.Handler {
	return tmw.RequireAdmin(s.cfg.Auth.AdminEnabled, s.cfg.Auth.AdminJWTSecret)
}

func (s *Server) setupRoutes() {
	s.router.Route("/v1/queues", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))

		r.Post("/", s.createQueue)

		r.Route("/{queueName}", func(r chi.Router) {
			r.Get("/", s.getQueue)

			r.Group(func(r chi.Router) {
				r.Use(tmw.QueueAuth(s.admin, "queueName"))

				r.With(s.requireAdmin()).Delete("/", s.deleteQueue)

				r.Post("/tasks", s.submitTask)
				r.Post("/tasks/fetch", s.fetchTask)
				r.Get("/tasks/{taskID}", s.getTask)
				r.Post("/tasks/{taskID}/heartbeat", s.refreshHeartbeat)
				r.Post("/tasks/{taskID}/report", s.reportTask)
				r.With(s.requireAdmin()).Get("/tasks", s.listTasks)
				r.With(s.requireAdmin()).Patch("/tasks", s.bulkUpdateTasks)

				r.Post("/workers", s.registerWorker)
				r.Get("/workers/{workerID}", s.getWorker)
				r.With(s.requireAdmin()).Patch("/workers/{workerID}", s.updateWorker)
				r.With(s.requireAdmin()).Delete("/workers/{workerID}", s.deleteWorker)
				r.With(s.requireAdmin()).Get("/workers", s.listWorkers)

				r.Post("/events/subscribe", s.subscribeEvents)
				r.Post("/events/next", s.nextEvent)
				r.Get("/events/ws", s.wsHub.ServeWS())
			})
		})
	})

	s.router.Get("/health", s.health)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Start launches the websocket hub's background loop, which runs until
// ctx is cancelled. Run itself is non-blocking.
func (s *Server) Start(ctx context.Context) {
	s.wsHub.Run(ctx)
}

// Stop shuts the websocket hub down.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router, for cmd/api-server to hand to http.Server.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
