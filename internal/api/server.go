package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/heron/internal/domain"
)

// maxSimulationBody bounds a single simulation request.
const maxSimulationBody = 64 << 10

// Server is the Heron HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the handlers into a chi router.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	h := NewHandler(deps)
	r := chi.NewRouter()

	r.Use(
		CORSMiddleware,
		RecoverMiddleware,
		TracingMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(deps.Metrics),
		middleware.RealIP,
		middleware.Compress(5),
	)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.With(middleware.RequestSize(maxSimulationBody)).Post("/simulate", h.Simulate)
	r.Route("/simulations", func(r chi.Router) {
		r.Get("/", h.ListSimulations)
		r.Get("/{id}", h.GetSimulation)
	})

	r.Get("/routes/classify", h.ClassifyRoute)
	r.Get("/regions", h.ListRegions)
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.ListCategories)
		r.Post("/reload", h.ReloadCategories)
	})

	r.Route("/model", func(r chi.Router) {
		r.Get("/", h.GetModel)
		r.Post("/reload", h.ReloadModel)
	})

	r.Post("/orders", h.IngestOrders)
	r.Route("/kpis", func(r chi.Router) {
		r.Get("/", h.GetKPIs)
		r.Get("/options", h.GetKPIOptions)
	})

	return &Server{router: r, handler: h, config: cfg}
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the router to tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the request handlers.
func (s *Server) Handler() *Handler {
	return s.handler
}
