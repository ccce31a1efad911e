// Package health exposes a tiny liveness endpoint on a side HTTP port,
// independent of a process's CoAP/DTLS listener — the same dual-listener
// shape used across the corpus for container orchestration probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Server is a minimal GET /healthz listener.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
}

// NewServer builds a Server reporting ready() as the health predicate.
func NewServer(addr string, ready func() bool, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/healthz", func(c echo.Context) error {
		if ready != nil && !ready() {
			return c.String(http.StatusServiceUnavailable, "not ready")
		}
		return c.String(http.StatusOK, "ok")
	})

	s := &Server{echo: e, logger: logger}

	go func() {
		logger.Info("health listener starting", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("health listener failed", zap.Error(err))
		}
	}()

	return s
}

// Shutdown drains the listener within ctx's deadline (defaulting to 5s
// if ctx carries none).
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
