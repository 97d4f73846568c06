// Package api exposes read-only store snapshots and sync controls over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dvloznov/walletsync/internal/api/handlers"
	"github.com/dvloznov/walletsync/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterOption customizes NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	jwtSecret []byte
}

// WithAuth requires a bearer token signed with secret on every /api route.
func WithAuth(secret string) RouterOption {
	return func(c *routerConfig) { c.jwtSecret = []byte(secret) }
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(entities handlers.EntityReader, sync handlers.SyncController, log zerolog.Logger, opts ...RouterOption) *gin.Engine {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(log))
	engine.Use(middleware.CORS())

	accountsHandler := handlers.NewAccountsHandler(entities)
	transactionsHandler := handlers.NewTransactionsHandler(entities)
	syncHandler := handlers.NewSyncHandler(sync)
	eventsHandler := handlers.NewEventsHandler(entities)

	api := engine.Group("/api")
	if len(cfg.jwtSecret) > 0 {
		api.Use(middleware.Auth(cfg.jwtSecret))
	}
	api.GET("/accounts", accountsHandler.ListAccounts)
	api.GET("/accounts/:id", accountsHandler.GetAccount)
	api.GET("/transactions", transactionsHandler.ListTransactions)
	api.GET("/status", syncHandler.GetStatus)
	api.POST("/authorization", syncHandler.RequestAuthorization)
	api.GET("/events", eventsHandler.Stream)

	engine.GET("/health", func(c *gin.Context) {
		middleware.WriteJSON(c, http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return engine
}

// Server runs the HTTP API until its context is done.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewServer creates an HTTP server on addr.
func NewServer(addr string, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 15 * time.Second,
			// No write timeout: /api/events is long lived.
			IdleTimeout: 60 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Request contexts end with ctx so event streams do not hold up shutdown.
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("Starting API server")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
