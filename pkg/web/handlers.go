// Package web exposes the HTTP surface: inbound channel events, conversation
// inspection and flow reloads.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/convoflow/pkg/adapter"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/flowgraph"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// Submitter queues an inbound event for the engine.
type Submitter interface {
	Submit(ctx context.Context, event *models.InboundEvent)
}

// HealthChecker reports whether a backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	submitter     Submitter
	inbound       eventbus.InboundBus
	catalog       *flowgraph.Catalog
	conversations persistence.ConversationStore
	health        HealthChecker
	channels      *adapter.Registry
	validator     *validator.Validate
	logger        *slog.Logger
}

func NewAPIHandlers(deps Dependencies, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		submitter:     deps.Submitter,
		inbound:       deps.Inbound,
		catalog:       deps.Catalog,
		conversations: deps.Conversations,
		health:        deps.Health,
		channels:      deps.Channels,
		validator:     validator,
		logger:        deps.Logger,
	}
}

// ReceiveEvent accepts an inbound channel event. With an inbound bus the event
// is published for the engine consumers, otherwise it is queued in process.
func (h *APIHandlers) ReceiveEvent(c fiber.Ctx) error {
	channelID := c.Params("channelId")
	if channelID == "" {
		return badRequest(c, "Channel ID is required")
	}

	var req InboundEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	event := req.Event(channelID, time.Now().UTC())

	if h.inbound != nil {
		if err := h.inbound.PublishInbound(c.Context(), event); err != nil {
			return internalError(c, err)
		}
	} else {
		h.submitter.Submit(c.Context(), event)
	}

	h.logger.Debug("inbound event accepted", "event_id", event.ID, "kind", event.Kind, "channel_id", channelID)

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{ID: event.ID, Status: "accepted"})
}

func (h *APIHandlers) GetConversation(c fiber.Ctx) error {
	conversation, err := h.conversations.LoadConversation(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(conversation)
}

func (h *APIHandlers) GetConversationMessages(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.conversations.LoadConversation(c.Context(), id); err != nil {
		return handleStoreError(c, err)
	}

	messages, err := h.conversations.Messages(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversation_id": id,
		"messages":        messages,
	})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	graph, err := h.catalog.Active(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(newFlowResponse(graph.Flow(), graph.EntryNode().ID))
}

// ReloadFlow swaps in the latest stored version of a flow. Conversations
// already running keep their version.
func (h *APIHandlers) ReloadFlow(c fiber.Ctx) error {
	graph, err := h.catalog.Reload(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	h.logger.Info("flow reloaded", "flow_id", graph.ID(), "version", graph.Version())

	return c.JSON(newFlowResponse(graph.Flow(), graph.EntryNode().ID))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeCheck, storeOk := "ok", true

	if h.health != nil {
		if err := h.health.HealthCheck(c.Context()); err != nil {
			storeCheck, storeOk = err.Error(), false
		}
	}

	channels := []models.ChannelType{}
	if h.channels != nil {
		channels = h.channels.Channels()
	}

	status := "unhealthy"
	message := "convoflow is unhealthy"
	httpStatus := http.StatusInternalServerError

	if storeOk {
		status = "healthy"
		message = "convoflow is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": storeCheck,
			"channels":    channels,
		},
		"timestamp": time.Now().UTC(),
	})
}
