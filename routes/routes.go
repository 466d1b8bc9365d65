package routes

import (
	controller "dripline/controllers"
	"dripline/metrics"
	"dripline/middleware"
	"dripline/sequence"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies are the handles the HTTP layer is built from
type Dependencies struct {
	Sequencer        *sequence.Sequencer
	Leads            controller.LeadStore
	Logger           logrus.FieldLogger
	JWTSecret        string
	Metrics          *metrics.Metrics
	Gatherer         prometheus.Gatherer
	RateLimit        int
	RateLimitStorage fiber.Storage
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	if deps.Metrics != nil {
		app.Use(middleware.Metrics(deps.Metrics))
	}

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	SetupAPIRoutes(app, deps)
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	leadController := controller.NewLeadController(deps.Leads, deps.Logger.WithField("component", "lead"))
	sequenceController := controller.NewSequenceController(deps.Sequencer, deps.Logger.WithField("component", "sequence"))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(deps.JWTSecret), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	leads := api.Group("/leads")
	leads.Post("/", leadController.CreateLead)
	leads.Get("/", leadController.GetLeads)
	leads.Get("/:id", leadController.GetLead)

	// Email sequence routes, rate limited per lead
	limited := middleware.ActionRateLimiter(deps.RateLimit, deps.RateLimitStorage, deps.Logger)
	leads.Get("/:id/sequence", sequenceController.GetStatus)
	leads.Post("/:id/sequence", limited, sequenceController.HandleAction)
	leads.Post("/:id/emails", limited, sequenceController.SendManualEmail)

	deps.Logger.Info("API routes initialized successfully")
}
