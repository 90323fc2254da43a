package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/search"
)

// ErrRetrieverRequired is returned when a server is created without a retriever.
var ErrRetrieverRequired = errors.New("retriever is required")

const shutdownTimeout = 5 * time.Second

// Retriever answers retrieval requests. *clearance.Engine implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, requester core.Requester, topN int) (*search.Response, error)
}

// Server is the HTTP front end.
type Server struct {
	retriever Retriever
	logger    *slog.Logger
	router    *gin.Engine
}

// NewServer creates a server for retriever.
func NewServer(retriever Retriever, logger *slog.Logger) (*Server, error) {
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{retriever: retriever, logger: logger.With("component", "api")}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.logRequests(), gin.Recovery())
	router.GET("/healthz", s.health)
	v1 := router.Group("/v1")
	v1.POST("/retrieve", s.retrieve)
	s.router = router
	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
