package streams

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

const (
	retryBaseDelay = 10 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// RetryQueue parks failed deliveries in a sorted set scored by due time.
type RetryQueue struct {
	client *redis.Client
	key    string
}

func NewRetryQueue(client *redis.Client, prefix string) *RetryQueue {
	return &RetryQueue{client: client, key: prefix + ":retries"}
}

// Schedule parks env until at.
func (q *RetryQueue) Schedule(ctx context.Context, env Envelope, at time.Time) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	err = q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(at.Unix()), Member: raw}).Err()
	return errors.Upstream(err, "schedule retry")
}

// Due removes and returns the envelopes due at or before now. An entry
// claimed by another relay between the range and the removal is skipped.
func (q *RetryQueue) Due(ctx context.Context, now time.Time) ([]Envelope, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Upstream(err, "load due retries")
	}
	var out []Envelope
	for _, m := range members {
		n, err := q.client.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return out, errors.Upstream(err, "claim retry")
		}
		if n == 0 {
			continue
		}
		env, err := UnmarshalEnvelope([]byte(m))
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// backoff is the delay before the given retry attempt (1-based): 10s doubling, capped at 5m.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}
