package remote

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Route is where the engine connects.
const Route = "/engine"

type Handler struct {
	comm *Communicator
	key  string
}

func NewHandler(comm *Communicator, key string) *Handler {
	return &Handler{comm: comm, key: key}
}

// Register mounts the engine route on app.
func (h *Handler) Register(app *fiber.App) {
	app.Use(Route, h.UpgradeMiddleware())
	app.Get(Route, h.WSHandler())
	h.comm.Listening()
}

// UpgradeMiddleware validates the engine token from the query before the
// WebSocket upgrade.
func (h *Handler) UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}
		if err := verifyEngineToken(tokenStr, h.key); err != nil {
			log.Warn().Err(err).Str("remote", c.IP()).Msg("engine token rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// WSHandler hands the upgraded connection to the Communicator.
func (h *Handler) WSHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		remote := c.RemoteAddr().String()
		log.Info().Str("remote", remote).Msg("engine connected")

		if err := h.comm.Serve(c); err != nil {
			log.Error().Err(err).Str("remote", remote).Msg("engine link ended")
		}
	})
}
