package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/better-wallet/smart-account/internal/config"
	"github.com/better-wallet/smart-account/internal/logger"
	"github.com/better-wallet/smart-account/internal/metrics"
	"github.com/better-wallet/smart-account/internal/middleware"
	"github.com/better-wallet/smart-account/internal/storage"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	service     AccountService
	accounts    storage.AccountStore
	metrics     *metrics.Metrics
	rateLimiter *middleware.RateLimiter
	apiKeyAuth  *middleware.APIKeyAuth
	pinger      Pinger
	httpServer  *http.Server
}

// NewServer creates a new API server. pinger may be nil when no database is configured.
func NewServer(
	cfg *config.Config,
	service AccountService,
	accounts storage.AccountStore,
	m *metrics.Metrics,
	rateLimiter *middleware.RateLimiter,
	pinger Pinger,
) *Server {
	return &Server{
		config:      cfg,
		service:     service,
		accounts:    accounts,
		metrics:     m,
		rateLimiter: rateLimiter,
		apiKeyAuth:  middleware.NewAPIKeyAuth(cfg.APIKeyHash),
		pinger:      pinger,
	}
}

// Handler builds the routed handler with the full middleware chain
func (s *Server) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("POST /v1/accounts", s.handleCreateAccount)
	v1.HandleFunc("GET /v1/accounts", s.handleListAccounts)
	v1.HandleFunc("GET /v1/accounts/{address}", s.handleGetAccount)
	v1.HandleFunc("DELETE /v1/accounts/{address}", s.handleForgetAccount)
	v1.HandleFunc("POST /v1/accounts/{address}/permissions", s.handleGrantPermissions)
	v1.HandleFunc("DELETE /v1/accounts/{address}/permissions/{keyId}", s.handleRevokePermissions)
	v1.HandleFunc("POST /v1/accounts/{address}/admins", s.handleGrantAdmin)
	v1.HandleFunc("DELETE /v1/accounts/{address}/admins/{keyId}", s.handleRevokeAdmin)
	v1.HandleFunc("POST /v1/accounts/{address}/calls/prepare", s.handlePrepareCalls)
	v1.HandleFunc("POST /v1/accounts/{address}/calls", s.handleSendCalls)
	v1.HandleFunc("POST /v1/accounts/{address}/update", s.handleUpdateAccount)
	v1.HandleFunc("POST /v1/accounts/{address}/sign/personal", s.handleSignPersonal)
	v1.HandleFunc("POST /v1/accounts/{address}/sign/typed-data", s.handleSignTypedData)
	v1.HandleFunc("GET /v1/accounts/{address}/precalls", s.handleGetPreCalls)
	v1.HandleFunc("DELETE /v1/accounts/{address}/precalls", s.handleClearPreCalls)

	mux := http.NewServeMux()
	// no auth on health and scrape endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("/v1/", middleware.Chain(v1,
		s.apiKeyAuth.Authenticate,
		middleware.Metrics(s.metrics),
	))

	return middleware.Chain(mux,
		middleware.RequestID,
		s.rateLimiter.Limit,
		middleware.LimitBody(middleware.MaxBodySize),
		s.loggingMiddleware,
	)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.ConfirmTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting server", "port", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewStatusRecorder(w)

		next.ServeHTTP(rec, r)

		logger.Debug(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.StatusCode,
			"duration", time.Since(start),
		)
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			logger.Error(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
