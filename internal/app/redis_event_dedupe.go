package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper suppresses duplicate broker deliveries of the same payment
// event. It is an optimization in front of the transfer ledger's claim, not a
// correctness requirement.
type EventDeduper interface {
	// MarkProcessed records the event id and reports whether this was the
	// first time it was seen.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// RedisEventDeduper implements distributed event de-duplication with a
// TTL-bounded SET NX per event id.
type RedisEventDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisEventDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventDeduper {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "giveflow:disbursement:event"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisEventDeduper{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (d *RedisEventDeduper) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if d == nil || d.client == nil {
		return true, nil
	}

	normalized := strings.TrimSpace(eventID)
	if normalized == "" {
		return true, nil
	}

	key := fmt.Sprintf("%s:%s", d.prefix, normalized)
	firstDelivery, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return firstDelivery, nil
}
