package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"netfixture/internal/journal"
)

const defaultExchangeLimit = 50

// Server exposes the exchange journal of one fixture process over HTTP.
type Server struct {
	fixture   string
	memory    *journal.Memory
	jwtSecret string
	startedAt time.Time
	logger    *slog.Logger
}

// NewServer serves memory for the named fixture. An empty jwtSecret leaves
// every route open.
func NewServer(fixture string, memory *journal.Memory, jwtSecret string) *Server {
	return &Server{
		fixture:   fixture,
		memory:    memory,
		jwtSecret: jwtSecret,
		startedAt: time.Now(),
		logger:    slog.Default(),
	}
}

func (s *Server) WithLogger(logger *slog.Logger) *Server {
	s.logger = logger
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	api := r.Group("/")
	if s.jwtSecret != "" {
		api.Use(AuthMiddleware(s.jwtSecret))
	}
	api.GET("/stats", s.stats)
	api.GET("/exchanges", s.exchanges)
	return r
}

// ListenAndServe runs the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start status API: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the API on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()
	s.logger.Info("status_api_listening", "addr", ln.Addr().String())

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status API shutdown: %w", err)
		}
		s.logger.Info("status_api_stopped")
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"fixture": s.fixture,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fixture": s.fixture,
		"stats":   s.memory.Snapshot(),
	})
}

func (s *Server) exchanges(c *gin.Context) {
	limit := defaultExchangeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > s.memory.Capacity() {
		limit = s.memory.Capacity()
	}

	items := s.memory.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"fixture":   s.fixture,
		"count":     len(items),
		"exchanges": items,
	})
}
