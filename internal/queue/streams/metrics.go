package streams

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// Delivery outcomes.
const (
	deliveryDelivered = "delivered"
	deliveryRetried   = "retried"
	deliveryFailed    = "failed"
)

var (
	relayDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seshat_relay_deliveries_total",
			Help: "Webhook deliveries attempted by the relay, by outcome.",
		},
		[]string{"status"},
	)
	relayScheduleFiresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seshat_relay_schedule_fires_total",
			Help: "Cron schedules fired by the relay dispatcher.",
		},
	)
	relayPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seshat_relay_pending",
			Help: "Deliveries read by the relay but not yet acknowledged.",
		},
	)
	relayLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seshat_relay_lag",
			Help: "Deliveries on the stream not yet read by the relay group.",
		},
	)
	relayOldestPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seshat_relay_oldest_pending_seconds",
			Help: "Idle time of the oldest unacknowledged delivery.",
		},
	)
)


// backlog is the relay group's view of the delivery stream.
type backlog struct {
	pending    int64
	unread     int64
	oldestIdle time.Duration
}

func sampleBacklog(ctx context.Context, client *redis.Client, stream, group string) (backlog, error) {
	var b backlog
	summary, err := client.XPending(ctx, stream, group).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return b, errors.Upstream(err, "xpending")
	}
	if summary != nil {
		b.pending = summary.Count
	}
	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return b, errors.Upstream(err, "xinfo groups")
	}
	for _, g := range groups {
		if g.Name == group {
			b.unread = g.Lag
		}
	}
	if b.pending > 0 {
		oldest, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{Stream: stream, Group: group, Start: "-", End: "+", Count: 1}).Result()
		if err == nil && len(oldest) > 0 {
			b.oldestIdle = oldest[0].Idle
		}
	}
	return b, nil
}

func (b backlog) record() {
	relayPending.Set(float64(b.pending))
	relayLag.Set(float64(b.unread))
	relayOldestPending.Set(b.oldestIdle.Seconds())
}
