package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dispatcher fires due cron schedules onto the delivery stream and promotes
// due retries. Several dispatchers may run against one Redis; a per-slot
// SETNX lock keeps each cron slot to a single fire.
type Dispatcher struct {
	client    *redis.Client
	schedules *ScheduleStore
	retries   *RetryQueue
	publisher *Publisher
	stream    string
	group     string
	lockKey   string
	tick      time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	d.logger.Info("dispatcher started", zap.Duration("tick", d.tick))
	for {
		d.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one dispatch pass. Failures are logged; the next tick retries.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now().UTC()
	if err := d.fireDue(ctx, now); err != nil && ctx.Err() == nil {
		d.logger.Error("fire schedules", zap.Error(err))
	}
	if err := d.promoteRetries(ctx, now); err != nil && ctx.Err() == nil {
		d.logger.Error("promote retries", zap.Error(err))
	}
	if b, err := sampleBacklog(ctx, d.client, d.stream, d.group); err == nil {
		b.record()
	}
}

func (d *Dispatcher) fireDue(ctx context.Context, now time.Time) error {
	scheds, err := d.schedules.List(ctx)
	if err != nil {
		return err
	}
	fired, err := d.schedules.LastFired(ctx)
	if err != nil {
		return err
	}
	for _, s := range scheds {
		last, ok := fired[s.ScheduleID]
		if !ok {
			last = s.CreatedAt
		}
		slot, due, err := dueAt(s.Cron, last, now)
		if err != nil {
			d.logger.Warn("skipping schedule with invalid cron", zap.String("schedule_id", s.ScheduleID), zap.String("cron", s.Cron), zap.Error(err))
			continue
		}
		if !due {
			continue
		}

		lock := fmt.Sprintf("%s:%s:%d", d.lockKey, s.ScheduleID, slot.Unix())
		ok, err = d.client.SetNX(ctx, lock, "1", 2*d.tick+time.Minute).Result()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		delivery, err := d.publisher.Enqueue(ctx, Delivery{
			Destination: s.Destination,
			Body:        s.Body,
			Retries:     s.Retries,
			ScheduleID:  s.ScheduleID,
		})
		if err != nil {
			d.client.Del(ctx, lock)
			d.logger.Error("enqueue scheduled delivery", zap.String("schedule_id", s.ScheduleID), zap.Error(err))
			continue
		}
		if err := d.schedules.MarkFired(ctx, s.ScheduleID, now); err != nil {
			return err
		}
		relayScheduleFiresTotal.Inc()
		d.logger.Info("schedule fired", zap.String("schedule_id", s.ScheduleID), zap.Time("slot", slot), zap.String("message_id", delivery.MessageID))
	}
	return nil
}

func (d *Dispatcher) promoteRetries(ctx context.Context, now time.Time) error {
	due, err := d.retries.Due(ctx, now)
	for _, env := range due {
		if perr := d.publisher.Requeue(ctx, env); perr != nil {
			d.logger.Error("requeue retry", zap.String("event_id", env.EventID), zap.Error(perr))
		}
	}
	return err
}

// dueAt reports whether the first cron slot after last has arrived.
// Missed slots collapse: the caller records now, not the slot, as the fire time.
func dueAt(cron string, last, now time.Time) (time.Time, bool, error) {
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return time.Time{}, false, err
	}
	if last.IsZero() {
		last = now
	}
	next := expr.Next(last)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, !next.After(now), nil
}
