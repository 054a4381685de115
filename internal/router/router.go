package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/coordinator"
	"github.com/quiltdb/quilt/internal/handlers"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/middleware"
)

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, store metadata.Store,
	writer *coordinator.WriteTargetRouter, records *coordinator.RecordCoordinator,
	prober *coordinator.HealthProber, cfg config.Config,
) *handlers.Handler {
	h := handlers.New(logger, store, writer, records, prober, cfg.Router)

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID,X-Actor",
	}))
	app.Use(logging.FiberMiddleware(logger))

	// Health check (no auth required)
	app.Get("/health", h.Health)

	authMiddleware := middleware.APIKeyAuth(logger, cfg.Auth.APIKeys, cfg.Auth.Enabled)

	// API v1 routes (protected by API key)
	v1 := app.Group("/v1", authMiddleware)

	// Node management
	v1.Post("/nodes", h.AddNode)
	v1.Get("/nodes", h.ListNodes)
	v1.Post("/nodes/ping", h.PingNodes)
	v1.Get("/nodes/:id", h.GetNode)
	v1.Delete("/nodes/:id", h.RemoveNode)

	// Record routing
	v1.Post("/records", h.WriteRecord)
	v1.Get("/records", h.SearchRecords)
	v1.Get("/records/:key", h.ReadRecord)
	v1.Delete("/records/:key", h.DeleteRecord)

	// Fleet stats
	v1.Get("/stats", h.Stats)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, store metadata.Store, writer *coordinator.WriteTargetRouter,
	records *coordinator.RecordCoordinator, prober *coordinator.HealthProber, cfg config.Config,
) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Quilt Router",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, store, writer, records, prober, cfg)

	return app
}
