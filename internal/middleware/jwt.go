package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/prasetyowira/tokoar_be/internal/models"
	"github.com/prasetyowira/tokoar_be/internal/utils"
)

// JWTBearer reads "Authorization: Bearer <token>", verifies it, re-checks
// the account's active flag and stores the claims in locals for the handlers
// behind it. A disabled account loses REST access immediately, token expiry
// notwithstanding.
func JWTBearer(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			return fiber.ErrUnauthorized
		}

		claims, err := utils.ParseJWT(secret, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return fiber.ErrUnauthorized
		}

		uid := strings.TrimSpace(claims.UserID)
		if uid == "" {
			return fiber.ErrUnauthorized
		}

		var user models.User
		if err := db.Select("id", "is_active").First(&user, "id = ?", uid).Error; err != nil || !user.IsActive {
			return fiber.ErrUnauthorized
		}

		c.Locals("userId", uid)
		c.Locals("role", strings.ToLower(strings.TrimSpace(claims.Role)))
		return c.Next()
	}
}
