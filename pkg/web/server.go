package web

import (
	"log/slog"

	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies wire the HTTP surface to the engine. Inbound, Health,
// Channels and Gatherer are optional.
type Dependencies struct {
	Submitter     Submitter
	Inbound       eventbus.InboundBus
	Catalog       *flowgraph.Catalog
	Conversations persistence.ConversationStore
	Health        HealthChecker
	Channels      *adapter.Registry
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

type API struct {
	deps     Dependencies
	validate *validator.Validate
}

func NewAPI(deps Dependencies) *API {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	deps.Logger = deps.Logger.With("module", "web")

	return &API{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := NewAPIHandlers(a.deps, a.validate)

	app := fiber.New()
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("convoflow")
	})

	app.Post("/channels/:channelId/events", handlers.ReceiveEvent)

	conv := app.Group("/conversations")
	conv.Get("/:id", handlers.GetConversation)
	conv.Get("/:id/messages", handlers.GetConversationMessages)

	flows := app.Group("/flows")
	flows.Get("/:id", handlers.GetFlow)
	flows.Post("/:id/reload", handlers.ReloadFlow)

	app.Get("/health", handlers.HealthCheck)

	if a.deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	return app
}
