package handlers

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/prasetyowira/tokoar_be/internal/chat"
	"github.com/prasetyowira/tokoar_be/internal/models"
)

func getUserUUID(c *fiber.Ctx) (uuid.UUID, error) {
	v := c.Locals("userId")
	if v == nil {
		return uuid.Nil, fmt.Errorf("unauthorized")
	}

	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case string:
		return uuid.Parse(t)
	case []byte:
		return uuid.ParseBytes(t)
	default:
		return uuid.Nil, fmt.Errorf("invalid userId type: %T", v)
	}
}

func getIdentity(c *fiber.Ctx) (chat.Identity, error) {
	uid, err := getUserUUID(c)
	if err != nil {
		return chat.Identity{}, err
	}
	role, _ := c.Locals("role").(string)
	return chat.Identity{UserID: uid, Role: models.Role(role)}, nil
}

func pagination(c *fiber.Ctx) (page, limit int) {
	page = c.QueryInt("page", 1)
	limit = c.QueryInt("limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// ErrorHandler renders middleware and router errors with the same envelope
// the handlers use, so a middleware 401/403 is not a plain-text outlier.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}

// fail maps a chat operation error to the uniform error envelope.
func fail(c *fiber.Ctx, err error) error {
	if chat.KindOf(err) == chat.KindPersistence {
		log.Println("handler error:", err)
	}
	return c.Status(chat.HTTPStatus(err)).JSON(fiber.Map{
		"success": false,
		"message": chat.PublicMessage(err),
	})
}
