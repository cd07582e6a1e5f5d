package streams

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/queue"
)

// Signer signs an outbound webhook body for its destination.
type Signer interface {
	Ready() error
	Sign(body []byte, url string) (string, error)
}

// Deliverer reads deliveries from the stream and POSTs them to their
// destination. Failed deliveries are parked on the retry queue until their
// retries are exhausted.
type Deliverer struct {
	consumer  *Consumer
	retries   *RetryQueue
	signer    Signer
	http      *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	claimIdle time.Duration
	block     time.Duration
	batch     int64
	logger    *zap.Logger
	now       func() time.Time
}

func (d *Deliverer) Run(ctx context.Context) error {
	if err := d.consumer.EnsureGroup(ctx); err != nil {
		return err
	}
	d.logger.Info("deliverer started", zap.String("stream", d.consumer.stream), zap.String("consumer", d.consumer.name))

	var lastClaim time.Time
	for ctx.Err() == nil {
		if d.claimIdle > 0 && d.now().Sub(lastClaim) >= d.claimIdle/2 {
			d.reclaim(ctx)
			lastClaim = d.now()
		}
		msgs, err := d.consumer.Read(ctx, d.block, d.batch)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			d.logger.Error("read deliveries", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			d.handle(ctx, msg)
		}
	}
	return nil
}

// reclaim takes over deliveries left pending by a relay that died mid-flight.
func (d *Deliverer) reclaim(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := d.consumer.Reclaim(ctx, d.claimIdle, start, d.batch)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("reclaim pending deliveries", zap.Error(err))
			}
			return
		}
		for _, msg := range msgs {
			d.handle(ctx, msg)
		}
		if next == "" || next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func (d *Deliverer) handle(ctx context.Context, msg Message) {
	delivery := msg.Delivery
	log := d.logger.With(
		zap.String("stream_id", msg.ID),
		zap.Int("attempt", msg.Envelope.Attempt),
		zap.String("message_id", delivery.MessageID),
		zap.String("destination", delivery.Destination),
	)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			// Left pending; reclaimed after restart.
			return
		}
	}

	sendErr := d.send(ctx, delivery, msg.Envelope.Attempt)
	if ctx.Err() != nil {
		return
	}
	if err := d.settle(ctx, msg.Envelope, delivery, sendErr, log); err != nil {
		log.Error("settle delivery", zap.Error(err))
		return
	}
	if err := d.consumer.Ack(ctx, msg.ID); err != nil {
		log.Error("ack delivery", zap.Error(err))
	}
}

// settle decides the outcome of one attempt. It returns an error only when
// the outcome could not be recorded, in which case the entry stays pending.
func (d *Deliverer) settle(ctx context.Context, env Envelope, delivery Delivery, sendErr error, log *zap.Logger) error {
	if sendErr == nil {
		relayDeliveriesTotal.WithLabelValues(deliveryDelivered).Inc()
		log.Info("delivered")
		return nil
	}
	if env.Attempt >= delivery.Retries || errors.Is(sendErr, errors.ErrMisconfigured) {
		relayDeliveriesTotal.WithLabelValues(deliveryFailed).Inc()
		log.Error("delivery failed, giving up", zap.Error(sendErr))
		return nil
	}
	next, err := NewDeliveryEnvelope(delivery, env.Attempt+1)
	if err != nil {
		return err
	}
	at := d.now().Add(backoff(next.Attempt))
	if err := d.retries.Schedule(ctx, next, at); err != nil {
		return err
	}
	relayDeliveriesTotal.WithLabelValues(deliveryRetried).Inc()
	log.Warn("delivery failed, retry scheduled", zap.Time("retry_at", at), zap.Error(sendErr))
	return nil
}

// send performs one signed POST. Any non-2xx response is a failure.
func (d *Deliverer) send(ctx context.Context, delivery Delivery, attempt int) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	body := []byte(delivery.Body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.Destination, bytes.NewReader(body))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "build delivery request"), errors.ErrMisconfigured)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(queue.HeaderMessageID, delivery.MessageID)
	req.Header.Set(queue.HeaderRetried, strconv.Itoa(attempt))
	if delivery.ScheduleID != "" {
		req.Header.Set(queue.HeaderScheduleID, delivery.ScheduleID)
	}
	if d.signer == nil {
		return errors.Misconfigured("relay has no webhook signer")
	}
	sig, err := d.signer.Sign(body, delivery.Destination)
	if err != nil {
		return err
	}
	req.Header.Set(queue.HeaderSignature, sig)

	resp, err := d.http.Do(req)
	if err != nil {
		return errors.Upstream(err, "deliver")
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Mark(errors.Newf("destination responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)), errors.ErrUpstream)
	}
	return nil
}
