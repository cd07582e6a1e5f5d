// Package queue talks to the message queue and cron scheduler that deliver
// signed webhooks to the generation worker.
package queue

import (
	"context"

	"github.com/mohammad-safakhou/seshat/models"
)

// Header names shared with the hosted queue.
const (
	HeaderSignature  = "Upstash-Signature"
	HeaderRetries    = "Upstash-Retries"
	HeaderRetried    = "Upstash-Retried"
	HeaderCron       = "Upstash-Cron"
	HeaderScheduleID = "Upstash-Schedule-Id"
	HeaderMessageID  = "Upstash-Message-Id"
)

// PublishRequest asks the queue to deliver Body to Destination once, retrying on failure.
type PublishRequest struct {
	Destination string
	Body        []byte
	Retries     int
}

// ScheduleRequest registers a cron delivery of Body to Destination.
// Creating a schedule with an existing id replaces it.
type ScheduleRequest struct {
	ScheduleID  string
	Destination string
	Cron        string
	Body        []byte
	Retries     int
}

// Publisher enqueues one-off deliveries.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (string, error)
}

// Scheduler manages cron deliveries.
type Scheduler interface {
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	CreateSchedule(ctx context.Context, req ScheduleRequest) (string, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error
}

// Client is a full queue backend.
type Client interface {
	Publisher
	Scheduler
	// Ready reports a configuration fault, such as a missing token, without calling out.
	Ready() error
}
