// Package streams is a self-hosted stand-in for the hosted queue: a Redis
// Streams relay that stores cron schedules, fires them, and delivers signed
// webhooks with retries.
package streams

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// Options configures a Relay. Zero values fall back to sensible defaults.
type Options struct {
	KeyPrefix           string
	Stream              string
	Group               string
	Consumer            string
	TickInterval        time.Duration
	DeliveriesPerSecond float64
	DeliveryTimeout     time.Duration
	ClaimIdle           time.Duration
	MaxLen              int64
	HTTPClient          *http.Client
}

func (o *Options) defaults() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "seshat"
	}
	if o.Stream == "" {
		o.Stream = o.KeyPrefix + ".deliveries"
	}
	if o.Group == "" {
		o.Group = o.KeyPrefix + "-relay"
	}
	if o.Consumer == "" {
		host, _ := os.Hostname()
		o.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 15 * time.Second
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 5 * time.Minute
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = 10 * time.Minute
	}
	if o.MaxLen == 0 {
		o.MaxLen = 10000
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
}

// Relay bundles the queue client with the loops that serve it.
type Relay struct {
	Client     *Client
	Dispatcher *Dispatcher
	Deliverer  *Deliverer
}

// New wires a relay over rdb. Deliveries are signed with signer; Run refuses
// to start while it is missing or keyless.
func New(rdb *redis.Client, signer Signer, opts Options, logger *zap.Logger) (*Relay, error) {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("relay")

	schemas, err := CompileSchemas()
	if err != nil {
		return nil, err
	}
	publisher := NewPublisher(rdb, schemas, opts.Stream, opts.MaxLen)
	schedules := NewScheduleStore(rdb, opts.KeyPrefix)
	retries := NewRetryQueue(rdb, opts.KeyPrefix)

	var limiter *rate.Limiter
	if opts.DeliveriesPerSecond > 0 {
		burst := int(opts.DeliveriesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.DeliveriesPerSecond), burst)
	}

	return &Relay{
		Client: NewClient(rdb, publisher, schedules),
		Dispatcher: &Dispatcher{
			client:    rdb,
			schedules: schedules,
			retries:   retries,
			publisher: publisher,
			stream:    opts.Stream,
			group:     opts.Group,
			lockKey:   opts.KeyPrefix + ":schedules:lock",
			tick:      opts.TickInterval,
			logger:    logger.Named("dispatcher"),
			now:       time.Now,
		},
		Deliverer: &Deliverer{
			consumer:  NewConsumer(rdb, schemas, opts.Stream, opts.Group, opts.Consumer, logger),
			retries:   retries,
			signer:    signer,
			http:      opts.HTTPClient,
			limiter:   limiter,
			timeout:   opts.DeliveryTimeout,
			claimIdle: opts.ClaimIdle,
			block:     5 * time.Second,
			batch:     10,
			logger:    logger.Named("deliverer"),
			now:       time.Now,
		},
	}, nil
}

// Run serves schedules and deliveries until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.Deliverer.signer == nil {
		return errors.Misconfigured("relay has no webhook signer")
	}
	if err := r.Deliverer.signer.Ready(); err != nil {
		return errors.Wrap(err, "relay cannot sign deliveries")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Dispatcher.Run(ctx) })
	g.Go(func() error { return r.Deliverer.Run(ctx) })
	return g.Wait()
}
