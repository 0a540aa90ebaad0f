package channel

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/P2PSP/crossroads/internal/auth"
	"github.com/P2PSP/crossroads/internal/engine"
)

type Handler struct {
	store Store
	orch  engine.Orchestrator
}

func NewHandler(store Store, orch engine.Orchestrator) *Handler {
	return &Handler{store: store, orch: orch}
}

// Register mounts the channel routes on r.
func (h *Handler) Register(r fiber.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Put("/", PasswordMiddleware(h.store), h.Edit)
	r.Delete("/", PasswordMiddleware(h.store), h.Delete)
	r.Get("/:channelUrl", h.Get)
}

type editRequest struct {
	ChannelNewName        *string `json:"channelNewName"`
	ChannelNewDescription *string `json:"channelNewDescription"`
}

func summary(ch *Channel) fiber.Map {
	return fiber.Map{
		"name":            ch.Name,
		"url":             ch.URL,
		"description":     ch.Description,
		"splitterAddress": ch.SplitterAddress,
		"monitorAddress":  ch.MonitorAddress,
	}
}

func (h *Handler) List(c *fiber.Ctx) error {
	limit, offset := listWindow(c)
	channels, err := h.store.ListChannels(limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list channels"})
	}

	result := make([]fiber.Map, len(channels))
	for i := range channels {
		result[i] = summary(&channels[i])
	}
	return c.JSON(result)
}

func (h *Handler) Get(c *fiber.Ctx) error {
	ch, err := h.store.GetChannel(c.Params("channelUrl"))
	if errors.Is(err, ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "channel not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load channel"})
	}
	return c.JSON(summary(ch))
}

// Create stores a new channel and launches its workers. If the launch
// fails the record is removed again.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := req.validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ch := &Channel{
		URL:                 uuid.NewString(),
		Name:                *req.ChannelName,
		Description:         *req.ChannelDescription,
		SourceAddress:       *req.SourceAddress,
		SourcePort:          *req.SourcePort,
		HeaderSize:          *req.HeaderSize,
		IsSmartSourceClient: *req.IsSmartSourceClient,
		SplitterPort:        req.SplitterPort,
		MonitorPort:         req.MonitorPort,
	}
	launch := ch.Launch()
	if err := launch.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	password, err := auth.GeneratePassword()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if ch.PasswordHash, err = auth.HashPassword(password); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if err := h.store.InsertChannel(ch); err != nil {
		log.Error().Err(err).Msg("failed to insert channel")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create channel"})
	}

	addrs, err := h.orch.Launch(c.Context(), launch)
	if err != nil {
		log.Error().Err(err).Str("channel", ch.URL).Msg("launch failed, removing channel")
		if rerr := h.store.RemoveChannel(ch.URL); rerr != nil {
			log.Error().Err(rerr).Str("channel", ch.URL).Msg("failed to remove channel")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	ch.SplitterAddress = addrs.Splitter
	ch.MonitorAddress = addrs.Monitor
	if err := h.store.UpdateChannel(ch); err != nil {
		if errors.Is(err, ErrNotFound) {
			// a worker already exited and its channel was removed
			log.Warn().Str("channel", ch.URL).Msg("channel gone before its addresses were stored")
			h.orch.Stop(ch.URL)
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "channel workers exited during creation"})
		}
		log.Error().Err(err).Str("channel", ch.URL).Msg("failed to store channel addresses")
	}

	resp := fiber.Map{
		"channelUrl":      ch.URL,
		"channelPassword": password,
		"splitterAddress": addrs.Splitter,
		"monitorAddress":  addrs.Monitor,
	}
	if addrs.Source != "" {
		resp["sourceAddress"] = addrs.Source
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *Handler) Edit(c *fiber.Ctx) error {
	url := c.Locals("channelUrl").(string)

	var req editRequest
	if err := c.BodyParser(&req); err != nil || req.ChannelNewName == nil || req.ChannelNewDescription == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "channelNewName and channelNewDescription are required"})
	}

	ch, err := h.store.GetChannel(url)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "channel not found"})
	}

	ch.Name = *req.ChannelNewName
	ch.Description = *req.ChannelNewDescription
	if err := h.store.UpdateChannel(ch); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update channel"})
	}

	return c.JSON(summary(ch))
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	url := c.Locals("channelUrl").(string)

	h.orch.Stop(url)
	if err := h.store.RemoveChannel(url); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to remove channel"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
