package streams

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// Message is one delivery read from the stream, decoded and schema-checked.
type Message struct {
	ID       string
	Envelope Envelope
	Delivery Delivery
}

// Consumer is one member of the relay's consumer group on the delivery stream.
type Consumer struct {
	client  *redis.Client
	schemas *PayloadSchemas
	stream  string
	group   string
	name    string
	logger  *zap.Logger
}

func NewConsumer(client *redis.Client, schemas *PayloadSchemas, stream, group, name string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, schemas: schemas, stream: stream, group: group, name: name, logger: logger.Named("consumer")}
}

// EnsureGroup creates the consumer group and the stream when missing. A new
// group starts at the head of the stream so deliveries published before the
// first relay start are still served.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c.stream == "" || c.group == "" || c.name == "" {
		return errors.Misconfigured("relay stream, group and consumer name are required")
	}
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Upstream(err, "xgroup create")
	}
	return nil
}

// Read waits up to block for new deliveries, at most count of them.
func (c *Consumer) Read(ctx context.Context, block time.Duration, count int64) ([]Message, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Block:    block,
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Upstream(err, "xreadgroup")
	}
	var out []Message
	for _, st := range res {
		out = append(out, c.decode(ctx, st.Messages)...)
	}
	return out, nil
}

// Reclaim takes over deliveries another consumer left pending for longer
// than minIdle, starting at stream id start. It returns the id to continue
// from; "0-0" means the pending list was exhausted.
func (c *Consumer) Reclaim(ctx context.Context, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", errors.Upstream(err, "xautoclaim")
	}
	return c.decode(ctx, msgs), next, nil
}

func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return errors.Upstream(err, "xack")
	}
	return nil
}

// decode acks and drops entries that can never be delivered.
func (c *Consumer) decode(ctx context.Context, entries []redis.XMessage) []Message {
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		msg, err := c.decodeEntry(entry)
		if err != nil {
			c.logger.Warn("dropping undeliverable stream entry", zap.String("id", entry.ID), zap.Error(err))
			_ = c.client.XAck(ctx, c.stream, c.group, entry.ID).Err()
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (c *Consumer) decodeEntry(entry redis.XMessage) (Message, error) {
	raw, ok := entry.Values["envelope"].(string)
	if !ok {
		return Message{}, errors.Invalid("entry has no envelope field")
	}
	env, err := UnmarshalEnvelope([]byte(raw))
	if err != nil {
		return Message{}, err
	}
	if c.schemas != nil {
		if err := c.schemas.Check(env); err != nil {
			return Message{}, err
		}
	}
	d, err := env.Delivery()
	if err != nil {
		return Message{}, err
	}
	return Message{ID: entry.ID, Envelope: env, Delivery: d}, nil
}
