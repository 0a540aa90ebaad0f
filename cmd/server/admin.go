package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/P2PSP/crossroads/internal/engine"
	"github.com/P2PSP/crossroads/internal/remote"
)

// engineStatus reports how channels are being run: the local process table,
// or the state of the link to the remote engine.
func engineStatus(sup *engine.Supervisor, comm *remote.Communicator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if comm != nil {
			return c.JSON(fiber.Map{
				"mode":    modeName(comm),
				"link":    comm.State().String(),
				"pending": comm.PendingCount(),
			})
		}
		return c.JSON(fiber.Map{
			"mode":     modeName(comm),
			"channels": sup.List(),
		})
	}
}

// stopChannel stops the workers of a channel without touching its record.
func stopChannel(orch engine.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		url := c.Params("channelUrl")
		log.Info().Str("channel", url).Msg("operator stop")
		orch.Stop(url)
		return c.SendStatus(fiber.StatusAccepted)
	}
}
