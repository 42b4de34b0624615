package controllers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/omniai/payments/internal/pkg/monitoring"
)

// MonitoringController serves the admin monitoring reports. Every reply is
// {success, data}.
type MonitoringController struct {
	mon *monitoring.Monitor
	log *zap.Logger
}

func NewMonitoringController(mon *monitoring.Monitor, log *zap.Logger) *MonitoringController {
	if log == nil {
		log = zap.NewNop()
	}
	return &MonitoringController{mon: mon, log: log}
}

func (mc *MonitoringController) HandleStatus(c *fiber.Ctx) error {
	return success(c, mc.mon.Status())
}

func (mc *MonitoringController) HandleHealth(c *fiber.Ctx) error {
	report := mc.mon.Health(c.UserContext())
	if report.Status != monitoring.StatusHealthy {
		mc.log.Warn("system health degraded",
			zap.String("status", report.Status),
			zap.Int("health_score", report.HealthScore),
		)
	}
	return success(c, report)
}

func (mc *MonitoringController) HandleMetrics(c *fiber.Ctx) error {
	return success(c, mc.mon.Metrics(c.UserContext()))
}

func (mc *MonitoringController) HandleAlerts(c *fiber.Ctx) error {
	ctx := c.UserContext()
	alerts := mc.mon.Alerts(ctx, mc.mon.Health(ctx))
	return success(c, fiber.Map{"alerts": alerts, "count": len(alerts)})
}

func (mc *MonitoringController) HandleDashboard(c *fiber.Ctx) error {
	return success(c, mc.mon.Dashboard(c.UserContext()))
}

func success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}
