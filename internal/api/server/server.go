package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bz888/studyhelper/internal/logger"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	echo     *echo.Echo
	session  Session
	events   Events
	catalog  Catalog
	model    func() string
	upgrader websocket.Upgrader
	log      *logger.Logger
}

type Option func(*Server)

// WithModel reports the active model on /health.
func WithModel(model func() string) Option {
	return func(s *Server) {
		s.model = model
	}
}

func WithCatalog(c Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

func New(session Session, events Events, options ...Option) *Server {
	s := &Server{
		echo:    echo.New(),
		session: session,
		events:  events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.NewLogger("server"),
	}
	for _, o := range options {
		o(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("server started")
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("shutting down")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown failed")
	}
	return nil
}
