package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tokenmart/tokenmart/internal/audit"
	"github.com/tokenmart/tokenmart/internal/auth"
	"github.com/tokenmart/tokenmart/internal/config"
	"github.com/tokenmart/tokenmart/internal/gateway"
	"github.com/tokenmart/tokenmart/internal/identity"
	"github.com/tokenmart/tokenmart/internal/middleware"
	"github.com/tokenmart/tokenmart/internal/notification"
	"github.com/tokenmart/tokenmart/internal/token"
	"github.com/tokenmart/tokenmart/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. It returns the
// ledger gateway so the server can close the session on shutdown. Without a
// database the service runs against in-memory stores and an in-memory
// ledger, which is only acceptable in dev.
func Setup(app *fiber.App, d Deps) (*gateway.Gateway, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Stores
	var invocations audit.InvocationStore
	var security audit.SecurityStore
	var walletRepo wallet.Repository
	var identityRepo identity.Repository
	if d.DB != nil {
		invocations = audit.NewPostgresInvocationStore(d.DB)
		security = audit.NewPostgresSecurityStore(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		invocations = audit.NewMemoryInvocationStore()
		security = audit.NewMemorySecurityStore()
		walletRepo = wallet.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
	}

	// Ledger gateway and token client
	var gw *gateway.Gateway
	var ledgerBackend token.Ledger
	if d.Cfg.LedgerPeerURL != "" {
		transport := gateway.NewHTTPTransport(d.Cfg.LedgerPeerURL)
		gw = gateway.New(transport, invocations, d.Logger, gateway.Options{
			Identity:        d.Cfg.LedgerIdentity,
			EvaluateTimeout: d.Cfg.EvaluateTimeout,
			InvokeTimeout:   d.Cfg.InvokeTimeout,
		})
		ledgerBackend = token.NewClient(gw, d.Cfg.RetryMax, d.Cfg.RetryBaseDelay)
	} else {
		ledgerBackend = token.NewInMemory()
	}

	// Services and handlers
	identitySvc := identity.NewService(identityRepo)
	notifier := notification.NewLoggerNotifier(d.Logger)
	walletSvc := wallet.NewService(walletRepo, ledgerBackend, identitySvc, notifier, security, d.Logger, wallet.Policy{
		Currency:             d.Cfg.Currency,
		DailyWithdrawalLimit: d.Cfg.DailyWithdrawalLimit,
	})
	authSvc := auth.NewService(d.Cfg, identityRepo)
	authHandler := auth.NewHandler(identitySvc, authSvc)
	walletHandler := wallet.NewHandler(walletSvc)

	// Health
	RegisterHealthRoutes(app, d, gw)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	rateLimiter := middleware.LoginRateLimit(d.Cache, 5)
	RegisterAuthRoutes(api, authHandler, rateLimiter)

	// Protected routes
	jwtmw := middleware.JWTAuth(d.Cfg, identityRepo)
	protected := api.Group("", jwtmw)
	protected.Post("/auth/logout", authHandler.Logout)
	protected.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		owner, err := identityRepo.FindByID(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "owner not found")
		}
		return c.JSON(fiber.Map{
			"user_id":        owner.ID,
			"name":           owner.Name,
			"email":          owner.Email,
			"role":           owner.Role,
			"ledger_address": owner.LedgerAddress,
			"token_version":  owner.TokenVersion,
			"created_at":     owner.CreatedAt,
			"last_login":     owner.LastLogin,
		})
	})
	RegisterWalletRoutes(protected, walletHandler)

	// Admin routes
	admin := protected.Group("/admin", middleware.RequireRole(identity.RoleAdmin))
	RegisterAdminRoutes(admin, walletHandler, invocations, security)

	return gw, nil
}
