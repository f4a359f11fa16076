package broker

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/stashbox/stashbox/internal/api"
	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/logging"
	"github.com/stashbox/stashbox/internal/version"
)

// maxRequestBody bounds a broker request; every action is a few fields.
const maxRequestBody = "64K"

// Server exposes a Service over HTTP.
type Server struct {
	echo   *echo.Echo
	svc    *Service
	secret []byte
	logger *logging.Logger
}

// NewServer builds the echo instance and routes.
func NewServer(svc *Service, secret []byte, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{
		echo:   echo.New(),
		svc:    svc,
		secret: secret,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	}))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods: []string{nethttp.MethodPost, nethttp.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))
	s.echo.Use(middleware.BodyLimit(maxRequestBody))

	s.echo.GET("/healthz", s.health)
	s.echo.POST(constants.BrokerEndpointPath, s.fileOperations, s.requireBearer)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() nethttp.Handler {
	return s.echo
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", addr).
			Str("version", version.Version).
			Msg("Starting broker")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Shutting down broker...")

	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Broker shutdown failed")
		return err
	}
	s.logger.Info().Msg("Broker stopped")
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(nethttp.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// fileOperations handles POST /functions/v1/file-operations.
func (s *Server) fileOperations(c echo.Context) error {
	var env api.Envelope
	if err := json.NewDecoder(c.Request().Body).Decode(&env); err != nil {
		return writeError(c, badRequest("invalid JSON body: %v", err))
	}
	req, err := env.Decode()
	if err != nil {
		return writeError(c, badRequest("%v", err))
	}

	owner := ownerFrom(c)
	resp, err := s.svc.Handle(c.Request().Context(), owner, req)
	if err != nil {
		e := asError(err)
		if e.Code == api.CodeInternal {
			s.logger.Error().Err(err).Str("action", env.Action).Str("owner", owner).Msg("Broker action failed")
		} else {
			s.logger.Debug().Str("action", env.Action).Str("code", e.Code).Msg(e.Message)
		}
		return writeError(c, e)
	}
	return c.JSON(nethttp.StatusOK, resp)
}
