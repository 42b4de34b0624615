package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/omniai/payments/app/models"
	"github.com/omniai/payments/internal/pkg/auth"
	icuser "github.com/omniai/payments/internal/pkg/usercontext"
)

// TokenParser verifies bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// BearerAuth resolves an optional bearer token into the request's user
// context. Requests without a token pass through as anonymous; requests with
// a bad token are rejected.
func BearerAuth(tokens TokenParser, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractToken(c)
		if token == "" {
			return c.Next()
		}
		claims, err := tokens.Parse(token)
		if err != nil {
			log.Debug("bearer token rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid or expired token",
			})
		}
		icuser.SetUserContext(c, icuser.UserContext{
			UserID:     claims.UserID,
			Email:      claims.Email,
			UserType:   claims.UserType,
			IsLoggedIn: true,
			IsAdmin:    claims.IsAdmin(),
		})
		return c.Next()
	}
}

// RequireAuth returns JSON 401 when no authenticated user is present.
func RequireAuth(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdmin returns 401 for anonymous callers and 403 for non-admins.
func RequireAdmin(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if !icuser.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin role required",
		})
	}
	return c.Next()
}

// UserLookup loads the current account state.
type UserLookup interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// RequireActiveAdmin is RequireAdmin plus a lookup of the stored account, so
// a demoted or disabled admin loses access before the token expires.
func RequireActiveAdmin(users UserLookup, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !icuser.IsLoggedIn(c) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "login required",
			})
		}
		uc := icuser.GetUserContext(c)
		user, err := users.GetByID(c.UserContext(), uc.UserID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "account no longer exists",
			})
		}
		if err != nil {
			log.Error("admin lookup failed", zap.Uint("user_id", uc.UserID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_error",
				"message": "could not verify account",
			})
		}
		if !user.IsActive() || !user.IsAdmin() {
			log.Warn("admin access denied by account state",
				zap.Uint("user_id", user.ID),
				zap.String("role", user.Role),
				zap.String("status", user.Status),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "admin role required",
			})
		}
		uc.IsAdmin = true
		icuser.SetUserContext(c, uc)
		return c.Next()
	}
}

func extractToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
