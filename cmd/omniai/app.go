package main

import (
	"errors"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/omniai/payments/internal/pkg/billing"
	"github.com/omniai/payments/internal/pkg/metrics"
	"github.com/omniai/payments/internal/pkg/middleware"
	"github.com/omniai/payments/internal/pkg/router"
)

// webhook payloads are small; anything larger is not from the provider
const bodyLimit = 1 << 20

type AppConfig struct {
	CORSOrigins     []string
	MetricsUser     string
	MetricsPassword string
	// BasePath is where public/docs lives; empty disables Swagger UI.
	BasePath string
}

// NewApplication builds the fiber app with the global middleware stack and
// the given routers.
func NewApplication(cfg AppConfig, log *zap.Logger, routers ...router.Router) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "omniai-payments",
		BodyLimit:    bodyLimit,
		ErrorHandler: errorHandler(log),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(middleware.SecurityHeaders(), middleware.HSTS, middleware.CORS(cfg.CORSOrigins))
	app.Use(metrics.Middleware())

	if cfg.MetricsUser != "" && cfg.MetricsPassword != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.MetricsUser: cfg.MetricsPassword,
			},
		}), metrics.Handler())
	} else {
		log.Warn("METRICS_USER/METRICS_PASSWORD not set, /metrics disabled")
	}

	// SWAGGER / OPENAPI
	if cfg.BasePath != "" {
		docPath := cfg.BasePath + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(docPath); err == nil {
			app.Use(swagger.New(swagger.Config{
				BasePath: "/docs/api/",
				FilePath: docPath,
				Path:     "v1",
			}))
		}
	}

	// ROUTER
	router.InstallRouter(app, routers...)

	return app
}

// errorHandler renders unhandled errors as {error, message}.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error":   errorCode(fe.Code),
				"message": fe.Message,
			})
		}
		var be *billing.Error
		if errors.As(err, &be) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   string(be.Kind),
				"message": billing.MessageOf(be),
			})
		}
		log.Error("unhandled request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": "internal error",
		})
	}
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= fiber.StatusInternalServerError {
		return "internal_error"
	}
	return "bad_request"
}

// findBasePath locates the project root from the usual working directories.
func findBasePath() string {
	for _, path := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(path + "public/docs"); err == nil {
			return path
		}
	}
	return ""
}
