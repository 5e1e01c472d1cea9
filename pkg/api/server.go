package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/broker"
	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/security"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// Deleter is the teardown half of the reconciler the handlers call into:
// backend resources go first, rows second.
type Deleter interface {
	DeleteContainer(ctx context.Context, c *types.Container) error
	DeleteProcessor(ctx context.Context, p *types.Processor) error
}

// Server is the HTTP API.
type Server struct {
	store     storage.Store
	deleter   Deleter
	broker    broker.Broker
	secrets   *security.SecretsManager
	authn     auth.Authenticator
	rootOwner string

	validate *validator.Validate
	router   chi.Router
	http     *http.Server
}

// NewServer wires the API against its collaborators.
func NewServer(store storage.Store, deleter Deleter, brk broker.Broker,
	secrets *security.SecretsManager, authn auth.Authenticator, rootOwner string) *Server {
	s := &Server{
		store:     store,
		deleter:   deleter,
		broker:    brk,
		secrets:   secrets,
		authn:     authn,
		rootOwner: rootOwner,
		validate:  validator.New(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/containers", func(r chi.Router) {
			r.Post("/", s.handleCreateContainer)
			r.Get("/", s.handleListContainers)
			r.Get("/{id}", s.handleGetContainerByID)
			r.Get("/{namespace}/{name}", s.handleGetContainer)
			r.Delete("/{namespace}/{name}", s.handleDeleteContainer)
			r.Patch("/{namespace}/{name}", s.handlePatchContainer)
		})

		r.Route("/processors", func(r chi.Router) {
			r.Post("/", s.handleCreateProcessor)
			r.Get("/", s.handleListProcessors)
			r.Get("/{namespace}/{name}", s.handleGetProcessor)
			r.Delete("/{namespace}/{name}", s.handleDeleteProcessor)
			r.Patch("/{namespace}/{name}", s.handlePatchProcessor)
			r.Post("/{namespace}/{name}/scale", s.handleScaleProcessor)
		})

		r.Route("/secrets", func(r chi.Router) {
			r.Post("/", s.handleCreateSecret)
			r.Get("/{namespace}", s.handleListSecrets)
			r.Get("/{namespace}/{name}", s.handleGetSecret)
			r.Delete("/{namespace}/{name}", s.handleDeleteSecret)
		})

		r.Route("/namespaces", func(r chi.Router) {
			r.Post("/", s.handleCreateNamespace)
			r.Get("/", s.handleListNamespaces)
			r.Get("/{name}", s.handleGetNamespace)
			r.Delete("/{name}", s.handleDeleteNamespace)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/{namespace}", s.handleListCacheKeys)
			r.Get("/{namespace}/{key}", s.handleGetCacheKey)
			r.Delete("/{namespace}/{key}", s.handleDeleteCacheKey)
		})
	})
	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("http api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// observe records request metrics and logs.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(r.Method))
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(ww.Status())).Inc()
		logger := log.WithComponent("api")
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Msg("request")
	})
}

// authenticate resolves the principal and stores it in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authn.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "broker unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
