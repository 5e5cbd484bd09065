package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/config"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/handlers"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/middleware"
	stripeClient "github.com/PortNumber53/enrollment-checkout/backend/internal/stripe"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/worker"
)

// Checkout is the workflow served over HTTP, including payment confirmation.
type Checkout interface {
	handlers.CheckoutService
	handlers.CheckoutCompleter
}

// Deps are the collaborators the server routes to. Store, Sweeper and
// Subscriptions are optional.
type Deps struct {
	Checkout      Checkout
	Store         handlers.Pinger
	Sweeper       *worker.Sweeper
	Webhooks      *stripeClient.WebhookVerifier
	Subscriptions handlers.SubscriptionScheduler
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	sweeper    *worker.Sweeper
	logger     *zap.Logger

	// ctx scopes background work; cancel ends it on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", handlers.Health(deps.Store))

	stripeHandler := handlers.NewStripeHandler(deps.Checkout, deps.Webhooks, logger)
	stripeHandler.Subscriptions = deps.Subscriptions
	stripeHandler.RegisterRoutes(router)

	checkoutHandler := handlers.NewCheckoutHandler(deps.Checkout, logger)
	router.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(middleware.ParentAuth(cfg.JWTSecret, logger))
		checkoutHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{httpServer: srv, sweeper: deps.Sweeper, logger: logger.Named("server"), ctx: ctx, cancel: cancel}
}

// Start begins serving HTTP traffic and starts the session sweeper.
func (s *Server) Start() error {
	if s.sweeper != nil {
		s.logger.Info("starting session sweeper")
		s.sweeper.Start(s.ctx)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sweeper != nil {
		s.logger.Info("shutting down session sweeper")
		if err := s.sweeper.Stop(ctx); err != nil {
			s.logger.Warn("sweeper shutdown error", zap.Error(err))
		}
	}
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
