package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omniai/payments/internal/pkg/billing"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	paymentProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_processed_total",
			Help: "Total number of payment state transitions",
		},
		[]string{"event_type", "status"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(paymentProcessedTotal)
	prometheus.MustRegister(webhookEventsTotal)
}

// Middleware records request count and latency per route template.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = "unmatched"
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		httpRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		return err
	}
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func RecordPaymentProcessed(eventType, status string) {
	paymentProcessedTotal.WithLabelValues(eventType, status).Inc()
}

type instrumentedPublisher struct {
	next billing.Publisher
}

// InstrumentPublisher counts every payment event before handing it on.
func InstrumentPublisher(next billing.Publisher) billing.Publisher {
	return instrumentedPublisher{next: next}
}

func (p instrumentedPublisher) Publish(ctx context.Context, ev billing.PaymentEvent) error {
	RecordPaymentProcessed(ev.EventType, ev.Status)
	return p.next.Publish(ctx, ev)
}

type instrumentedStats struct {
	next billing.Stats
}

// InstrumentStats mirrors webhook outcome counters into Prometheus.
func InstrumentStats(next billing.Stats) billing.Stats {
	return instrumentedStats{next: next}
}

func (s instrumentedStats) Incr(ctx context.Context, field string) error {
	webhookEventsTotal.WithLabelValues(field).Inc()
	return s.next.Incr(ctx, field)
}
