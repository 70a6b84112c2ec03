package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/afritokeni/afritokeni/internal/infra"
	"github.com/afritokeni/afritokeni/internal/logging"
	"github.com/afritokeni/afritokeni/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway and the background scheduler",
	RunE:  runServe,
}

// backends holds the optional external connections. Any of them may be nil
// in development.
type backends struct {
	db    *pgxpool.Pool
	cache *redis.Client
	conn  *amqp091.Connection
	bus   *amqp091.Channel
}

func connect(ctx context.Context, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.db = db
	}
	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		b.cache = cache
	}
	if cfg.RabbitMQURL != "" {
		conn, err := infra.NewRabbitMQConnection(cfg.RabbitMQURL)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		b.conn = conn
		ch, err := conn.Channel()
		if err != nil {
			b.close(logger)
			return nil, fmt.Errorf("open rabbitmq channel: %w", err)
		}
		b.bus = ch
	}
	return b, nil
}

func (b *backends) close(logger *slog.Logger) {
	if b.bus != nil {
		if err := b.bus.Close(); err != nil {
			logger.Warn("close rabbitmq channel", "error", err)
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			logger.Warn("close rabbitmq", "error", err)
		}
	}
	if b.cache != nil {
		if err := b.cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if b.db != nil {
		b.db.Close()
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	b, err := connect(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer b.close(logger)

	if b.db == nil || b.cache == nil {
		logger.Warn("running with in-memory backends", "postgres", b.db != nil, "redis", b.cache != nil)
	}

	srv, err := server.New(cfg, b.db, b.cache, b.bus, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server exited cleanly")
	return nil
}
