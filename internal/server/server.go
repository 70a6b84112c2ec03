package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/afritokeni/afritokeni/internal/config"
	"github.com/afritokeni/afritokeni/internal/routes"
	"github.com/afritokeni/afritokeni/internal/scheduler"
)

// Server wraps the Fiber application, the background scheduler and shared
// dependencies.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
	cron     *scheduler.Scheduler
	logger   *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// bus may be nil when no event broker is configured.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, bus *amqp091.Channel, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	services, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Bus: bus, Logger: logger})
	if err != nil {
		return nil, err
	}

	jobs := &scheduler.Jobs{
		Codes:    services.Agents,
		Rates:    services.Rates,
		Sweepers: services.Sweepers,
		Logger:   logger,
	}
	return &Server{
		app:      app,
		cfg:      cfg,
		services: services,
		cron:     scheduler.New(jobs, logger, cfg.Cron),
		logger:   logger,
	}, nil
}

// App exposes the Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the scheduler and then the HTTP server.
func (s *Server) Listen() error {
	if err := s.cron.Start(); err != nil {
		return err
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, waits for scheduled jobs and queued SMS
// replies, then returns.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler did not stop before deadline")
	}

	done := make(chan struct{})
	go func() {
		s.services.SMS.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("sms replies still in flight at shutdown")
	}
	return err
}
