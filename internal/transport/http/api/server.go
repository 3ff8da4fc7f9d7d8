// Package apihttp exposes the fetch surface as a small JSON/CSV HTTP API.
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sanmetrics/internal/fetch"
	"sanmetrics/internal/logger"

	"github.com/gin-gonic/gin"
)

// Service is what the API serves.
type Service interface {
	Get(ctx context.Context, metric, asset, interval string, from, to time.Time) (*fetch.Result, error)
	GetMany(ctx context.Context, metric string, assets []string, interval string, from, to time.Time) (*fetch.Result, error)
	GetMetrics(ctx context.Context, metrics []string, asset, interval string, from, to time.Time) (*fetch.Result, error)
	AvailableMetrics(ctx context.Context) ([]string, error)
	AvailableMetricsFor(ctx context.Context, asset string) ([]string, error)
	InvalidateCatalog()
}

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr    string
	Service Service
	// RequestTimeout bounds each fetch; 0 leaves it to the client.
	RequestTimeout time.Duration
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("api http server requires a service")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	NewRouter(cfg.Service, cfg.RequestTimeout).Register(router.Group("/api"))
	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
