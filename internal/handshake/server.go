package handshake

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Inbound is answered by a node's handshake server for each incoming
// connection attempt. It returns the local node's devices, or an error to
// reject the handshake (e.g. protocol version mismatch).
type Inbound func(req Request) (Response, error)

// Server is the Echo application exposing /network/handshake.
type Server struct {
	echo    *echo.Echo
	inbound Inbound
}

// New constructs an Echo app serving the handshake endpoint. inbound is
// invoked once per POST /network/handshake.
func New(inbound Inbound) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, inbound: inbound}
	e.POST("/network/handshake", s.handleHandshake)
	e.GET("/health", s.handleHealth)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Debug("handshake request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", c.RealIP(),
			)
			return nil
		}
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHandshake(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed handshake request"})
	}
	if req.NodeID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing node_id"})
	}
	if _, err := uuid.Parse(req.NodeID); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "node_id is not a valid uuid"})
	}

	resp, err := s.inbound(req)
	if err != nil {
		slog.Warn("handshake rejected", "node_id", req.NodeID, "error", err)
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Start runs the handshake server on addr. It blocks until the server stops
// or fails to start; callers typically run it in its own goroutine.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the handshake server.
func (s *Server) Shutdown() error {
	return s.echo.Close()
}
