package counter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	webhookStatsKey  = "billing:webhook:stats"
	fieldLastEventAt = "last_event_at"
	fieldLastResetAt = "last_reset_at"
)

// WebhookStats keeps webhook outcome counters in one Redis hash so every
// instance behind the load balancer reports the same numbers.
type WebhookStats struct {
	rdb redis.Cmdable
	key string
}

func NewWebhookStats(rdb redis.Cmdable) *WebhookStats {
	return &WebhookStats{rdb: rdb, key: webhookStatsKey}
}

// Incr bumps a counter field and records the time of the latest event.
func (s *WebhookStats) Incr(ctx context.Context, field string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, s.key, field, 1)
	pipe.HSet(ctx, s.key, fieldLastEventAt, time.Now().UTC().Format(time.RFC3339))
	_, err := pipe.Exec(ctx)
	return err
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Counters    map[string]int64 `json:"counters"`
	LastEventAt string           `json:"last_event_at,omitempty"`
	LastResetAt string           `json:"last_reset_at,omitempty"`
}

func (s *WebhookStats) Snapshot(ctx context.Context) (*Snapshot, error) {
	data, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	snap := &Snapshot{Counters: make(map[string]int64, len(data))}
	for k, v := range data {
		switch k {
		case fieldLastEventAt:
			snap.LastEventAt = v
		case fieldLastResetAt:
			snap.LastResetAt = v
		default:
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				continue
			}
			snap.Counters[k] = n
		}
	}
	return snap, nil
}

// Reset clears all counters and stamps the reset time.
func (s *WebhookStats) Reset(ctx context.Context) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key)
	pipe.HSet(ctx, s.key, fieldLastResetAt, time.Now().UTC().Format(time.RFC3339))
	_, err := pipe.Exec(ctx)
	return err
}
