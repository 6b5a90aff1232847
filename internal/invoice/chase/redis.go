package chase

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "pandi/pkg/domain"
)

// Redis key holding the chase index as a sorted set of invoice IDs scored by
// chasing date (unix seconds).
const chaseKey = "chase:due"

// RedisIndex is the Redis-backed chase index for distributed deployments
// where multiple instances share the reminder queue.
type RedisIndex struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

func (r *RedisIndex) Schedule(ctx context.Context, invoiceID id.InvoiceID, due time.Time) error {
	return r.client.ZAdd(ctx, chaseKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: invoiceID.String(),
	}).Err()
}

func (r *RedisIndex) Clear(ctx context.Context, invoiceID id.InvoiceID) error {
	return r.client.ZRem(ctx, chaseKey, invoiceID.String()).Err()
}

func (r *RedisIndex) DueBefore(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	results, err := r.client.ZRangeByScoreWithScores(ctx, chaseKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range chase index: %w", err)
	}
	out := make([]Entry, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		invoiceID, err := id.ParseInvoiceID(member)
		if err != nil {
			continue
		}
		out = append(out, Entry{
			InvoiceID: invoiceID,
			Due:       time.Unix(int64(z.Score), 0).UTC(),
		})
	}
	return out, nil
}
