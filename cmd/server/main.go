package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/connectivity"
	"github.com/rbelkhiri/signalement-backend/internal/database"
	"github.com/rbelkhiri/signalement-backend/internal/handlers"
	"github.com/rbelkhiri/signalement-backend/internal/logging"
	"github.com/rbelkhiri/signalement-backend/internal/middleware"
	"github.com/rbelkhiri/signalement-backend/internal/remote"
	"github.com/rbelkhiri/signalement-backend/internal/routes"
	"github.com/rbelkhiri/signalement-backend/internal/services"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.DBPassword == "" && cfg.Env == "production" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Database log handler (ERROR+ async batch) teed with stdout
	dbLogHandler := logging.AttachDB(db)

	// Log cleanup
	cleanupDone := make(chan struct{})
	logging.StartCleanup(db, cfg.LogRetention, cleanupDone)

	// Connectivity probe against the provider and generic internet
	probe := connectivity.NewProbe(cfg.RemoteBaseURL, cfg.InternetProbeURL,
		cfg.RemoteTimeout, cfg.InternetTimeout)

	// Remote provider: REST gateway in real deployments, in-memory otherwise
	var identity remote.IdentityProvider
	var docs remote.DocumentStore
	var blobs remote.BlobStorage
	if cfg.RemoteBaseURL != "" {
		rest := remote.NewRESTClient(cfg.RemoteBaseURL, cfg.RemoteAPIKey, cfg.RemoteTimeout)
		identity = rest
		docs = rest
	} else {
		slog.Warn("REMOTE_BASE_URL not set, using in-memory remote provider")
		mem := remote.NewMemoryProvider()
		identity = mem
		docs = mem
		blobs = mem
	}
	if cfg.S3Bucket != "" {
		s3store, err := remote.NewS3Storage(context.Background(), remote.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			slog.Error("s3 storage init failed", "error", err)
			os.Exit(1)
		}
		blobs = s3store
	}

	// Services
	tracker := services.NewAttemptTracker(db, cfg, identity, docs)
	syncService := services.NewSyncService(db, cfg, identity, docs)
	reconciler := services.NewReconciler(db, cfg, identity, docs, blobs)
	reconcileCh := make(chan string, 16)
	authService := services.NewAuthService(db, cfg, probe, identity, tracker, reconcileCh)
	signalementService := services.NewSignalementService(db, syncService)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())

	// Login-triggered reconciliation: best-effort, never touches the request
	go consumeReconcile(workerCtx, reconcileCh, func(string) {
		if _, err := reconciler.PullRemoteToLocal(workerCtx, cfg.SyncBatchSize); err != nil {
			slog.Warn("login-triggered pull failed", "error", err)
			return
		}
		if _, err := reconciler.PullPhotos(workerCtx, cfg.SyncBatchSize); err != nil {
			slog.Warn("login-triggered photo pull failed", "error", err)
		}
	})

	// Periodic drain plus full reconciliation when the provider comes back
	go func() {
		lastMode := connectivity.ModeOffline
		probe.Watch(workerCtx, cfg.SyncInterval, func(mode connectivity.Mode) {
			if mode == connectivity.ModeOnline {
				if lastMode != connectivity.ModeOnline {
					slog.Info("remote provider reachable again, reconciling")
					if err := reconciler.SyncBidirectional(workerCtx); err != nil {
						slog.Warn("bidirectional user sync failed", "error", err)
					}
				}
				syncService.ProcessQueue(workerCtx, cfg.SyncBatchSize)
			}
			lastMode = mode
		})
	}()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	signalementHandler := handlers.NewSignalementHandler(signalementService)
	syncHandler := handlers.NewSyncHandler(syncService, reconciler, authService)
	healthHandler := handlers.NewHealthHandler(db, probe)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Env,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    8 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))

	routes.Setup(app, cfg, authHandler, signalementHandler, syncHandler, healthHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	// Stop accepting requests before workers go away: in-flight logins still
	// send on reconcileCh, which is why it is never closed.
	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	stopWorkers()
	close(cleanupDone)
	dbLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := database.Close(db); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}

// consumeReconcile drains login-triggered reconcile requests until the
// context is cancelled. The channel stays open for the process lifetime so a
// send can never panic.
func consumeReconcile(ctx context.Context, ch <-chan string, fn func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case email := <-ch:
			fn(email)
		}
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{"error": true, "message": message})
}
