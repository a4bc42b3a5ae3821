package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/handlers"
	"github.com/rbelkhiri/signalement-backend/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	signalementHandler *handlers.SignalementHandler,
	syncHandler *handlers.SyncHandler,
	healthHandler *handlers.HealthHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)

	// Auth endpoints are public, with a stricter limit: 10 req/min per IP
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/reset-password", authHandler.ResetPassword)

	api.Post("/auth/logout", middleware.JWTProtected(cfg), authHandler.Logout)

	// Signalements (JWT required)
	sig := api.Group("/signalements", middleware.JWTProtected(cfg))
	sig.Post("/", signalementHandler.Create)
	sig.Get("/", signalementHandler.List)
	sig.Get("/:id", signalementHandler.Get)
	sig.Put("/:id", signalementHandler.Update)
	sig.Delete("/:id", signalementHandler.Delete)

	// Operational surface (admin token required)
	admin := api.Group("/admin", middleware.AdminRequired(cfg))
	admin.Get("/users", authHandler.ListUsers)
	admin.Post("/users/block", syncHandler.Block)
	admin.Post("/users/unblock", syncHandler.Unblock)
	admin.Post("/sync/drain", syncHandler.Drain)
	admin.Post("/sync/requeue", syncHandler.Requeue)
	admin.Post("/sync/pull", syncHandler.PullRecords)
	admin.Post("/sync/photos/pull", syncHandler.PullPhotos)
	admin.Post("/sync/photos/push", syncHandler.PushPhotos)
	admin.Post("/sync/users", syncHandler.SyncUsers)
}
