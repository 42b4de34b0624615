package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/omniai/payments/app/models"
	"github.com/omniai/payments/app/repository"
)

type TokenIssuer interface {
	Issue(user *models.User) (string, time.Time, error)
}

type AuthController struct {
	users  repository.UserRepository
	tokens TokenIssuer
	log    *zap.Logger
}

func NewAuthController(users repository.UserRepository, tokens TokenIssuer, log *zap.Logger) *AuthController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthController{users: users, tokens: tokens, log: log}
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=150"`
	Email    string `json:"email" validate:"required,email,max=200"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	UserType string `json:"user_type" validate:"omitempty,oneof=individual company"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (ac *AuthController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "request body must be JSON")
	}
	if err := requestValidator.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	ctx := c.UserContext()
	if _, err := ac.users.GetByEmail(ctx, req.Email); err == nil {
		return emailTaken(c)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		ac.log.Error("user lookup failed", zap.Error(err))
		return internalError(c)
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password, req.UserType)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := ac.users.Create(ctx, user); err != nil {
		if isDuplicateKey(err) {
			return emailTaken(c)
		}
		ac.log.Error("user create failed", zap.Error(err))
		return internalError(c)
	}

	token, exp, err := ac.tokens.Issue(user)
	if err != nil {
		ac.log.Error("token issue failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return internalError(c)
	}

	ac.log.Info("user registered", zap.Uint("user_id", user.ID), zap.String("user_type", user.UserType))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":       userView(user),
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "request body must be JSON")
	}
	if err := requestValidator.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	ctx := c.UserContext()
	user, err := ac.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		ac.log.Error("user lookup failed", zap.Error(err))
		return internalError(c)
	}
	// one message for every failure so accounts cannot be enumerated
	if user == nil || !user.CheckPassword(req.Password) || !user.IsActive() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "invalid email or password",
		})
	}

	token, exp, err := ac.tokens.Issue(user)
	if err != nil {
		ac.log.Error("token issue failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return internalError(c)
	}
	ac.touchLastLogin(ctx, user.ID)

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
		"user":       userView(user),
	})
}

func (ac *AuthController) touchLastLogin(ctx context.Context, id uint) {
	if err := ac.users.TouchLastLogin(ctx, id); err != nil {
		ac.log.Warn("last login not recorded", zap.Uint("user_id", id), zap.Error(err))
	}
}

func userView(u *models.User) fiber.Map {
	return fiber.Map{
		"id":        u.ID,
		"name":      u.Name,
		"email":     u.Email,
		"user_type": u.UserType,
		"is_admin":  u.IsAdmin(),
	}
}

func emailTaken(c *fiber.Ctx) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"error":   "conflict",
		"message": "email is already registered",
	})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": "internal error",
	})
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
