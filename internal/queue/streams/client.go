package streams

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/queue"
	"github.com/mohammad-safakhou/seshat/models"
)

// Client is a queue.Client backed by Redis: publishes go onto the delivery
// stream and schedules into the schedule store, both served by the relay.
type Client struct {
	rdb       *redis.Client
	publisher *Publisher
	schedules *ScheduleStore
	now       func() time.Time
}

var _ queue.Client = (*Client)(nil)

func NewClient(rdb *redis.Client, publisher *Publisher, schedules *ScheduleStore) *Client {
	return &Client{rdb: rdb, publisher: publisher, schedules: schedules, now: time.Now}
}

func (c *Client) Ready() error {
	if c.rdb == nil {
		return errors.Misconfigured("redis queue has no connection")
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, req queue.PublishRequest) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	d, err := c.publisher.Enqueue(ctx, Delivery{
		Destination: req.Destination,
		Body:        string(req.Body),
		Retries:     req.Retries,
	})
	if err != nil {
		return "", errors.Wrapf(err, "publish to %s", req.Destination)
	}
	return d.MessageID, nil
}

func (c *Client) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	return c.schedules.List(ctx)
}

func (c *Client) CreateSchedule(ctx context.Context, req queue.ScheduleRequest) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	if _, err := cronexpr.Parse(req.Cron); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "invalid cron %q", req.Cron), errors.ErrInvalidRequest)
	}
	id := req.ScheduleID
	if id == "" {
		id = "scd_" + uuid.NewString()
	}
	err := c.schedules.Put(ctx, models.Schedule{
		ScheduleID:  id,
		Destination: req.Destination,
		Cron:        req.Cron,
		Body:        string(req.Body),
		Retries:     req.Retries,
		CreatedAt:   c.now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if err := c.Ready(); err != nil {
		return err
	}
	ok, err := c.schedules.Delete(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Mark(errors.Newf("schedule %s not found", scheduleID), errors.ErrNotFound)
	}
	return nil
}
