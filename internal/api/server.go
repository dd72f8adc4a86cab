package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/claimflow/internal/clock"
	"github.com/claimflow/internal/workflow"
)

// Options tunes the API server.
type Options struct {
	// GuestRatePerSecond limits guest responses per claim and client.
	// Zero disables the limit.
	GuestRatePerSecond float64
	GuestBurst         int
}

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	port   int
	engine *workflow.Engine
	clock  clock.Clock
}

// NewServer creates a new API server
func NewServer(port int, engine *workflow.Engine, clk clock.Clock, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(middleware.CORS())

	server := &Server{
		echo:   e,
		port:   port,
		engine: engine,
		clock:  clk,
	}

	server.setupRoutes(opts)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(opts Options) {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/claims", s.fileClaim)
	v1.GET("/claims/:id", s.getClaim)
	v1.GET("/claims/:id/events", s.getClaimEvents)
	v1.POST("/claims/:id/review", s.startReview)
	v1.POST("/claims/:id/fleet-decision", s.fleetDecision)
	v1.POST("/claims/:id/final-decision", s.finalDecision)

	var guestMW []echo.MiddlewareFunc
	if opts.GuestRatePerSecond > 0 {
		guestMW = append(guestMW, guestRateLimiter(opts.GuestRatePerSecond, opts.GuestBurst))
	}
	v1.POST("/claims/:id/guest-response", s.guestResponse, guestMW...)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start begins the API server and blocks until it stops.
func (s *Server) Start() error {
	log.Info().Int("port", s.port).Msg("API server listening")
	if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= 500 {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	})
}

func guestRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = 1
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.Param("id") + "|" + c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many responses, slow down")
		},
	})
}
