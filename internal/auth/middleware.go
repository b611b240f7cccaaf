package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LocalUserID is the fiber.Ctx.Locals key the middleware stores the
// authenticated user's ID under.
const LocalUserID = "user_id"

// Middleware returns a Fiber handler that requires a valid bearer token and
// attaches the subject user ID to the request context.
func Middleware(verifier *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}

		userID, err := verifier.VerifySubject(strings.TrimSpace(token))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals(LocalUserID, userID)
		return c.Next()
	}
}

// UserID returns the authenticated user ID attached by Middleware, or the
// empty string when the request is unauthenticated.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}
