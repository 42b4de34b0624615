package monitoring

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/omniai/payments/internal/pkg/billing"
	"github.com/omniai/payments/internal/pkg/metrics/counter"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	AlertCritical = "critical"
	AlertWarning  = "warning"

	defaultCheckTimeout = 2 * time.Second
)

// Check tests one dependency. Critical checks weigh three times as much
// in the health score and turn the overall status unhealthy when they fail.
type Check struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	Status      string        `json:"status"`
	HealthScore int           `json:"health_score"`
	Checks      []CheckResult `json:"checks"`
	CheckedAt   time.Time     `json:"checked_at"`
}

type Alert struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

type Status struct {
	MonitoringActive bool      `json:"monitoring_active"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	Checks           []string  `json:"checks"`
}

type Metrics struct {
	LatestMetrics map[string]float64 `json:"latest_metrics"`
	CollectedAt   time.Time          `json:"collected_at"`
}

type Dashboard struct {
	HealthSummary Report             `json:"health_summary"`
	RecentAlerts  []Alert            `json:"recent_alerts"`
	KeyMetrics    map[string]float64 `json:"key_metrics"`
}

// StatsSource is the webhook counter store.
type StatsSource interface {
	Snapshot(ctx context.Context) (*counter.Snapshot, error)
}

// Monitor runs dependency checks on demand and folds them together with
// the webhook counters and Prometheus values into admin reports.
type Monitor struct {
	checks   []Check
	stats    StatsSource
	gatherer prometheus.Gatherer
	families []string
	timeout  time.Duration
	started  time.Time
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Monitor)

func WithStats(stats StatsSource) Option {
	return func(m *Monitor) { m.stats = stats }
}

// WithGatherer replaces the default Prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(m *Monitor) { m.gatherer = g }
}

func WithCheckTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// KeyFamilies are the Prometheus metric families reported by Metrics.
var KeyFamilies = []string{
	"payment_processed_total",
	"payment_webhook_events_total",
	"http_requests_total",
}

func New(checks []Check, opts ...Option) *Monitor {
	m := &Monitor{
		checks:   checks,
		gatherer: prometheus.DefaultGatherer,
		families: KeyFamilies,
		timeout:  defaultCheckTimeout,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.now()
	return m
}

func (m *Monitor) Status() Status {
	names := make([]string, 0, len(m.checks))
	for _, c := range m.checks {
		names = append(names, c.Name)
	}
	return Status{
		MonitoringActive: true,
		StartedAt:        m.started.UTC(),
		UptimeSeconds:    int64(m.now().Sub(m.started).Seconds()),
		Checks:           names,
	}
}

// Health runs every check concurrently, each bounded by the check timeout.
func (m *Monitor) Health(ctx context.Context) Report {
	results := make([]CheckResult, len(m.checks))
	var wg sync.WaitGroup
	for i, c := range m.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = m.run(ctx, c)
		}(i, c)
	}
	wg.Wait()

	total, passed := 0, 0
	status := StatusHealthy
	for _, r := range results {
		weight := 1
		if r.Critical {
			weight = 3
		}
		total += weight
		if r.Healthy {
			passed += weight
			continue
		}
		if r.Critical {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}
	score := 100
	if total > 0 {
		score = passed * 100 / total
	}
	return Report{Status: status, HealthScore: score, Checks: results, CheckedAt: m.now().UTC()}
}

func (m *Monitor) run(ctx context.Context, c Check) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := c.Run(cctx)
	res := CheckResult{
		Name:      c.Name,
		Healthy:   err == nil,
		Critical:  c.Critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
		m.log.Warn("health check failed", zap.String("check", c.Name), zap.Error(err))
	}
	return res
}

// Metrics returns the webhook counters as "webhook.<field>" plus the key
// Prometheus series as "family{label=value,...}".
func (m *Monitor) Metrics(ctx context.Context) Metrics {
	out := map[string]float64{}
	if m.stats != nil {
		snap, err := m.stats.Snapshot(ctx)
		if err != nil {
			m.log.Warn("webhook stats unavailable", zap.Error(err))
		} else {
			for k, v := range snap.Counters {
				out["webhook."+k] = float64(v)
			}
		}
	}

	if m.gatherer != nil {
		mfs, err := m.gatherer.Gather()
		if err != nil {
			m.log.Warn("prometheus gather failed", zap.Error(err))
		}
		for _, mf := range mfs {
			if !contains(m.families, mf.GetName()) {
				continue
			}
			for _, metric := range mf.GetMetric() {
				labels := make([]string, 0, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					labels = append(labels, lp.GetName()+"="+lp.GetValue())
				}
				sort.Strings(labels)
				key := mf.GetName()
				if len(labels) > 0 {
					key += "{" + strings.Join(labels, ",") + "}"
				}
				switch {
				case metric.GetCounter() != nil:
					out[key] = metric.GetCounter().GetValue()
				case metric.GetGauge() != nil:
					out[key] = metric.GetGauge().GetValue()
				}
			}
		}
	}
	return Metrics{LatestMetrics: out, CollectedAt: m.now().UTC()}
}

// Alerts derives the current alerts from a health report and the webhook
// counters. Nothing is stored between calls.
func (m *Monitor) Alerts(ctx context.Context, report Report) []Alert {
	alerts := []Alert{}
	for _, r := range report.Checks {
		if r.Healthy {
			continue
		}
		level := AlertWarning
		if r.Critical {
			level = AlertCritical
		}
		alerts = append(alerts, Alert{Level: level, Component: r.Name, Message: r.Error})
	}

	if m.stats == nil {
		return alerts
	}
	snap, err := m.stats.Snapshot(ctx)
	if err != nil {
		return append(alerts, Alert{Level: AlertWarning, Component: "webhook_stats", Message: err.Error()})
	}
	if n := snap.Counters[billing.StatFailed]; n > 0 {
		alerts = append(alerts, Alert{Level: AlertWarning, Component: "webhooks",
			Message: pluralize(n, "webhook delivery failed", "webhook deliveries failed") + " and will be retried"})
	}
	if n := snap.Counters[billing.StatInvalidSignature]; n > 0 {
		alerts = append(alerts, Alert{Level: AlertWarning, Component: "webhooks",
			Message: pluralize(n, "webhook had an invalid signature", "webhooks had an invalid signature")})
	}
	return alerts
}

func (m *Monitor) Dashboard(ctx context.Context) Dashboard {
	report := m.Health(ctx)
	return Dashboard{
		HealthSummary: report,
		RecentAlerts:  m.Alerts(ctx, report),
		KeyMetrics:    m.Metrics(ctx).LatestMetrics,
	}
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func DatabaseCheck(db Pinger) Check {
	return Check{Name: "database", Critical: true, Run: func(ctx context.Context) error {
		if db == nil {
			return errors.New("database not connected")
		}
		return db.PingContext(ctx)
	}}
}

func RedisCheck(rdb redis.Cmdable) Check {
	return Check{Name: "redis", Run: func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("cache not connected")
		}
		return rdb.Ping(ctx).Err()
	}}
}

// ConfiguredCheck reports a static configuration flag.
func ConfiguredCheck(name string, configured bool, missing string) Check {
	return Check{Name: name, Run: func(context.Context) error {
		if !configured {
			return errors.New(missing)
		}
		return nil
	}}
}

// ProducerCheck reports the event producer state. enabled is whether Kafka
// was configured, err whether connecting to it failed.
func ProducerCheck(enabled bool, err error) Check {
	return Check{Name: "events", Run: func(context.Context) error {
		if enabled && err != nil {
			return errors.New("kafka unavailable, payment events are only logged: " + err.Error())
		}
		return nil
	}}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func pluralize(n int64, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.FormatInt(n, 10) + " " + many
}
