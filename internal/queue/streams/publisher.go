package streams

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// Publisher appends schema-checked delivery envelopes to the delivery stream.
type Publisher struct {
	client  *redis.Client
	schemas *PayloadSchemas
	stream  string
	// maxLen trims the stream approximately; 0 keeps everything.
	maxLen int64
}

func NewPublisher(client *redis.Client, schemas *PayloadSchemas, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, schemas: schemas, stream: stream, maxLen: maxLen}
}

// Enqueue publishes the first attempt of d. The returned delivery carries
// the message id assigned here when d had none.
func (p *Publisher) Enqueue(ctx context.Context, d Delivery) (Delivery, error) {
	if d.MessageID == "" {
		d.MessageID = newMessageID()
	}
	env, err := NewDeliveryEnvelope(d, 0)
	if err != nil {
		return Delivery{}, err
	}
	if err := p.Requeue(ctx, env); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// Requeue publishes env as is, attempt count included.
func (p *Publisher) Requeue(ctx context.Context, env Envelope) error {
	if p.stream == "" {
		return errors.Misconfigured("delivery stream name is empty")
	}
	if p.schemas != nil {
		if err := p.schemas.Check(env); err != nil {
			return err
		}
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Upstream(err, "xadd")
	}
	return nil
}
