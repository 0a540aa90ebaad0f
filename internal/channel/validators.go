package channel

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/P2PSP/crossroads/internal/auth"
)

// MaxListLimit caps how many channels one list request returns.
const MaxListLimit = 50

// listWindow reads limit and offset from the query. Values that are not
// positive integers fall back to the defaults.
func listWindow(c *fiber.Ctx) (limit, offset int) {
	limit, offset = MaxListLimit, 0
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		limit = min(n, MaxListLimit)
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}

type createRequest struct {
	ChannelName         *string `json:"channelName"`
	ChannelDescription  *string `json:"channelDescription"`
	SourceAddress       *string `json:"sourceAddress"`
	SourcePort          *int    `json:"sourcePort"`
	HeaderSize          *int    `json:"headerSize"`
	IsSmartSourceClient *bool   `json:"isSmartSourceClient"`
	SplitterPort        int     `json:"splitterPort"`
	MonitorPort         int     `json:"monitorPort"`
}

func (r createRequest) validate() error {
	switch {
	case r.ChannelName == nil || *r.ChannelName == "":
		return errors.New("channelName is required")
	case r.ChannelDescription == nil:
		return errors.New("channelDescription is required")
	case r.SourceAddress == nil:
		return errors.New("sourceAddress is required")
	case r.SourcePort == nil || *r.SourcePort < 0 || *r.SourcePort > 65535:
		return errors.New("sourcePort must be between 0 and 65535")
	case r.HeaderSize == nil || *r.HeaderSize < 0:
		return errors.New("headerSize must not be negative")
	case r.IsSmartSourceClient == nil:
		return errors.New("isSmartSourceClient is required")
	}
	return nil
}

type credentials struct {
	ChannelURL      string `json:"channelUrl"`
	ChannelPassword string `json:"channelPassword"`
}

// PasswordMiddleware lets the request through only when the body carries
// the url and password of an existing channel. The url is stored in locals
// under "channelUrl".
func PasswordMiddleware(store Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var cred credentials
		if err := c.BodyParser(&cred); err != nil || cred.ChannelURL == "" || cred.ChannelPassword == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "channelUrl and channelPassword are required"})
		}

		hash, err := store.GetChannelHash(cred.ChannelURL)
		if errors.Is(err, ErrNotFound) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no channel found with given url"})
		}
		if err != nil {
			log.Error().Err(err).Str("channel", cred.ChannelURL).Msg("failed to load channel hash")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}

		if !auth.CheckPassword(cred.ChannelPassword, hash) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid channel password"})
		}

		c.Locals("channelUrl", cred.ChannelURL)
		return c.Next()
	}
}
