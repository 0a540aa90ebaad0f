package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// AdminSubject is the subject of operator tokens.
const AdminSubject = "admin"

// Handler logs the operator in with the password from the environment.
type Handler struct {
	passwordHash string
	secret       string
}

// NewHandler hashes password once so every login goes through bcrypt.
func NewHandler(password, secret string) (*Handler, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Handler{passwordHash: hash, secret: secret}, nil
}

type loginRequest struct {
	Password string `json:"password"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Password == "" || !CheckPassword(req.Password, h.passwordHash) {
		log.Warn().Str("remote", c.IP()).Msg("operator login rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}

	token, err := GenerateAccessToken(AdminSubject, h.secret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate token"})
	}

	return c.JSON(token)
}
