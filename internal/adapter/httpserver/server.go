// Package httpserver exposes the producer ingestion API, operator stats, health
// probes and the WebSocket endpoint over echo.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/app"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/config"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/pool"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/stream"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/subscription"
)

type distributor interface {
	Distribute(ctx context.Context, u domain.DataUpdate) (app.Result, error)
}

type updateReader interface {
	Latest(ctx context.Context, topic string) (*domain.DataUpdate, bool)
	History(ctx context.Context, topic string, q stream.HistoryQuery) []domain.DataUpdate
	Stats(ctx context.Context, day time.Time) stream.Stats
	UpdatesPerSecond(ctx context.Context) float64
}

type messenger interface {
	SendToUser(ctx context.Context, userID, msgType string, payload any, opts mailbox.EnqueueOptions) realtime.SendResult
	PurgeUser(ctx context.Context, userID string) error
	Stats() realtime.Stats
}

type poolReader interface {
	Metrics() pool.Metrics
}

type subscriptionReader interface {
	Stats(ctx context.Context) (subscription.Stats, error)
}

type mailboxReader interface {
	GlobalStats(ctx context.Context) mailbox.GlobalStats
	StatsFor(ctx context.Context, userID string) mailbox.UserStats
}

// Services are the domain components the HTTP surface reads from and writes to.
type Services struct {
	Distributor   distributor
	Updates       updateReader
	Messenger     messenger
	Pool          poolReader
	Subscriptions subscriptionReader
	Mailbox       mailboxReader
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	services Services

	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMiddleware   echo.MiddlewareFunc

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer builds the echo instance and registers every route. httpMiddleware
// records request metrics and may be nil.
func NewServer(cfg *config.Config, services Services, websocketHandler, metricsHandler http.Handler, httpMiddleware echo.MiddlewareFunc, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		services:         services,
		websocketHandler: websocketHandler,
		metricsHandler:   metricsHandler,
		httpMiddleware:   httpMiddleware,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
