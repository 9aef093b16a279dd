package counter

import (
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const webhookOutcomesKey = "billing:counters:webhooks"

// Webhooks counts webhook deliveries per provider and outcome in a redis hash.
type Webhooks struct {
	rdb *redis.Client
	key string
}

func New(rdb *redis.Client) *Webhooks {
	return &Webhooks{rdb: rdb, key: webhookOutcomesKey}
}

// RecordWebhookOutcome increments provider:outcome.
func (w *Webhooks) RecordWebhookOutcome(ctx context.Context, provider, outcome string) error {
	return w.rdb.HIncrBy(ctx, w.key, provider+":"+outcome, 1).Err()
}

// Snapshot returns the counters grouped by provider.
func (w *Webhooks) Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	data, err := w.rdb.HGetAll(ctx, w.key).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]int64)
	for field, raw := range data {
		provider, outcome, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if out[provider] == nil {
			out[provider] = make(map[string]int64)
		}
		out[provider][outcome] = n
	}
	return out, nil
}

// Reset drops all counters.
func (w *Webhooks) Reset(ctx context.Context) error {
	return w.rdb.Del(ctx, w.key).Err()
}
