package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the admin routes with recovery and request logging.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.logger))
	h.RegisterRoutes(&r.RouterGroup)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("admin_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Server serves the admin API over HTTP.
type Server struct {
	http     *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// Listen binds addr; Serve must be called to start handling requests.
func Listen(addr string, h *Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for admin API on %s: %w", addr, err)
	}
	return &Server{
		http: &http.Server{
			Handler:           NewRouter(h),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   h.logger,
	}, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.logger.Info("admin_api_started", "addr", s.listener.Addr().String())
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
