// Package adminapi exposes the engine's HTTP control surface: health and
// task introspection, per-task and engine-wide pause/resume/stop/start,
// a websocket event stream, and Prometheus metrics. It wraps a
// manager.Manager the way the original's admin console wraps a
// TaskManager, minus the GUI.
package adminapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nrlund/macrocore/internal/adminapi/handlers"
	apiMiddleware "github.com/nrlund/macrocore/internal/adminapi/middleware"
	"github.com/nrlund/macrocore/internal/adminapi/websocket"
	"github.com/nrlund/macrocore/internal/config"
	"github.com/nrlund/macrocore/internal/events"
	"github.com/nrlund/macrocore/internal/manager"
)

// Server is the engine's admin HTTP server.
type Server struct {
	router        *chi.Mux
	mgr           *manager.Manager
	config        *config.Config
	taskHandler   *handlers.TaskHandler
	engineHandler *handlers.EngineHandler
	wsHub         *websocket.Hub
	wsHandler     *websocket.Handler
	publisher     events.Publisher
}

// NewServer creates a new admin HTTP server wrapping mgr.
func NewServer(cfg *config.Config, mgr *manager.Manager, publisher events.Publisher) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:        chi.NewRouter(),
		mgr:           mgr,
		config:        cfg,
		taskHandler:   handlers.NewTaskHandler(mgr),
		engineHandler: handlers.NewEngineHandler(mgr),
		wsHub:         wsHub,
		wsHandler:     websocket.NewHandler(wsHub),
		publisher:     publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		if s.config.Admin.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Admin.RateLimitRPS))
		}

		if s.config.Auth.Enabled {
			r.Use(apiMiddleware.Auth(&apiMiddleware.AuthConfig{
				Enabled:   s.config.Auth.Enabled,
				JWTSecret: s.config.Auth.JWTSecret,
				APIKeys:   apiKeySet(s.config.Auth.APIKeys),
			}))
		}

		r.Get("/health", s.engineHandler.Health)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.taskHandler.List)
			r.Get("/{name}", s.taskHandler.Get)
			r.Post("/{name}/pause", s.taskHandler.Pause)
			r.Post("/{name}/resume", s.taskHandler.Resume)
			r.Post("/{name}/stop", s.taskHandler.Stop)
			r.Post("/{name}/restart", s.taskHandler.Restart)
			r.Post("/{name}/enable", s.taskHandler.Enable)
		})

		r.Route("/engine", func(r chi.Router) {
			r.Post("/start", s.engineHandler.Start)
			r.Post("/stop", s.engineHandler.Stop)
			r.Post("/pause", s.engineHandler.Pause)
			r.Post("/resume", s.engineHandler.Resume)
		})
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

func apiKeySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Publisher returns the event publisher.
func (s *Server) Publisher() events.Publisher {
	return s.publisher
}
