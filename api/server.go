// Package api exposes the credit ledger over HTTP. Clients emit labels
// and read their own balance; administrators manage accounts, settings and
// adjustments.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/credit"
	"github.com/xraph/credit/label"
)

// Server is the credit ledger HTTP API.
type Server struct {
	ledger   *credit.Ledger
	workflow *label.Workflow
	auth     *Authenticator
	logger   *slog.Logger

	allowedOrigins []string
	registry       *prometheus.Registry
	latency        *prometheus.HistogramVec
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithMetrics serves reg at /metrics and records request latency in it.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// NewServer creates a Server.
func NewServer(l *credit.Ledger, w *label.Workflow, auth *Authenticator, opts ...Option) *Server {
	s := &Server{
		ledger:   l,
		workflow: w,
		auth:     auth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry != nil {
		s.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"})
		if err := s.registry.Register(s.latency); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				s.latency = are.ExistingCollector.(*prometheus.HistogramVec)
			} else {
				s.logger.Warn("http latency metric not registered", "error", err)
				s.latency = nil
			}
		}
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recoverer(s.logger))
	r.Use(accessLog(s.logger, s.latency))
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", RequestIDHeader},
			ExposedHeaders:   []string{RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/me", func(r chi.Router) {
			r.Get("/balance", s.handleMyBalance)
			r.Get("/transactions", s.handleMyTransactions)
			r.Post("/quotes", s.handleMyQuote)
			r.Post("/labels", s.handleMyLabel)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.auth.RequireAdmin)

			r.Get("/clients", s.handleListClients)
			r.Post("/clients", s.handleProvisionClient)
			r.Route("/clients/{clientID}", func(r chi.Router) {
				r.Get("/", s.handleGetClient)
				r.Put("/", s.handleRenameClient)
				r.Post("/credits", s.handleCredit)
				r.Post("/debits", s.handleDebit)
				r.Get("/transactions", s.handleClientTransactions)
				r.Get("/reconcile", s.handleReconcile)
				r.Get("/pricing", s.handleGetPricing)
				r.Put("/pricing", s.handlePutPricing)
				r.Post("/price", s.handlePrice)
			})
			r.Get("/transactions/{transactionID}", s.handleGetTransaction)
			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)
			r.Get("/adjustments", s.handleListAdjustments)
			r.Post("/adjustments", s.handleRecordAdjustment)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Store().Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
