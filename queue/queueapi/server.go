// Package queueapi exposes the queue admin service over HTTP. All management
// routes sit behind a static bearer token; the health endpoint is open so
// orchestrators can probe liveness without credentials.
package queueapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/jobflow/pkg/httpserver"
	"github.com/dmitrymomot/jobflow/queue"
)

// Config holds the admin API settings.
type Config struct {
	Addr  string `env:"ADMIN_ADDR" envDefault:":8081"` // Addr is the listen address of the admin API.
	Token string `env:"ADMIN_TOKEN,required"`          // Token is the static bearer token guarding management routes.
}

// Server is the HTTP layer over the queue admin service.
type Server struct {
	admin  *queue.Admin
	token  string
	checks []httpserver.HealthCheck
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithHealthChecks registers dependency probes served by GET /healthz.
func WithHealthChecks(checks ...httpserver.HealthCheck) Option {
	return func(s *Server) {
		s.checks = append(s.checks, checks...)
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the admin API server.
func NewServer(admin *queue.Admin, token string, opts ...Option) (*Server, error) {
	if admin == nil {
		return nil, queue.ErrStorageNil
	}
	if token == "" {
		return nil, ErrEmptyToken
	}

	s := &Server{
		admin:  admin,
		token:  token,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/healthz", httpserver.HealthHandler(s.logger, s.checks...))

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearerToken)

		r.Get("/queues", s.listQueues)
		r.Route("/queues/{queue}", func(r chi.Router) {
			r.Get("/jobs", s.listJobs)
			r.Delete("/jobs", s.purgeQueue)
		})

		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Delete("/", s.deleteJob)
			r.Post("/retry", s.retryJob)
		})

		r.Get("/deadletters", s.listDeadLetters)
		r.Post("/deadletters/{id}/replay", s.replayDeadLetter)
	})

	return r
}
