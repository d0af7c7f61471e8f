package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tokenmart/tokenmart/internal/config"
	"github.com/tokenmart/tokenmart/internal/gateway"
	"github.com/tokenmart/tokenmart/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	db     *pgxpool.Pool
	cache  *redis.Client
	gw     *gateway.Gateway
	logger *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	gw, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache, gw: gw, logger: logger}, nil
}

// Listen establishes the ledger session and starts the HTTP server.
func (s *Server) Listen() error {
	if s.gw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.gw.Connect(ctx)
		cancel()
		if err != nil {
			// The gateway reconnects lazily; a cold ledger at boot is
			// not fatal.
			s.logger.Warn("ledger session not established at boot", "error", err)
		}
	}
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server and closes the ledger session.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	if s.gw != nil {
		if err := s.gw.Disconnect(); err != nil {
			s.logger.Warn("ledger session close failed", "error", err)
		}
	}
	return nil
}
