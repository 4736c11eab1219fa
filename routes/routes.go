package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "donorflow/controllers"
	"donorflow/middleware"
	"donorflow/services/progress"
	"donorflow/services/roster"
	"donorflow/worker"
)

// Dependencies are the shared services the handlers are built from.
type Dependencies struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Store  progress.Store
	Runner *worker.ImportRunner
	Roster *roster.Service

	// ImportRateLimit is the number of imports per caller per minute.
	// RateLimitStorage is nil for in-memory counting.
	ImportRateLimit  int
	RateLimitStorage fiber.Storage
}

var requestLogFormat = logger.Config{
	Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
}

func SetupProgressRoutes(app *fiber.App, deps Dependencies) {
	progressController := controller.NewProgressController(deps.DB, deps.Store, deps.Runner, deps.Logger)

	prog := app.Group("/progress", middleware.Protected(), logger.New(requestLogFormat))
	prog.Get("/:operationId", progressController.GetProgress)
	prog.Delete("/:operationId", progressController.CancelProgress)

	// WebSocket route for import progress
	ws := app.Group("/ws", middleware.Protected(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/progress/:operationId", websocket.New(controller.HandleProgressWS(deps.Store, deps.Logger)))
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	donorController := controller.NewDonorController(deps.DB, deps.Runner, deps.Logger)
	eventController := controller.NewEventController(deps.Roster, deps.Logger)
	donorListController := controller.NewDonorListController(deps.Roster, deps.Logger)
	dashboardController := controller.NewDashboardController(deps.DB, deps.Logger)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(requestLogFormat))

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", dashboardController.GetDashboardStats)
	dashboard.Get("/recent-imports", dashboardController.GetRecentImports)

	// Donor routes
	donor := api.Group("/donors")
	donor.Post("/import", middleware.ImportRateLimiter(deps.ImportRateLimit, deps.RateLimitStorage), donorController.ImportDonors)
	donor.Get("/", donorController.GetDonors)
	donor.Get("/:id", donorController.GetDonor)
	donor.Patch("/:id", donorController.UpdateDonor)

	// Event routes
	event := api.Group("/events")
	event.Post("/", eventController.CreateEvent)
	event.Get("/:id", eventController.GetEvent)
	event.Post("/:id/status", eventController.AdvanceEvent)
	event.Post("/:id/donor-list", donorListController.GenerateList)
	event.Get("/:id/donor-list", donorListController.GetList)

	// Donor list review routes
	list := api.Group("/donor-lists/:listId")
	list.Get("/memberships", donorListController.GetMemberships)
	list.Put("/memberships/:id", donorListController.UpdateMembership)
	list.Post("/memberships/:id/reopen", donorListController.ReopenMembership)
	list.Post("/auto-exclude", donorListController.RunAutoExclusion)

	deps.Logger.Info("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupProgressRoutes(app, deps)
	SetupAPIRoutes(app, deps)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
