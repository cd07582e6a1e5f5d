package runtime

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/config"
	"github.com/mohammad-safakhou/seshat/internal/cms"
	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/generator"
	"github.com/mohammad-safakhou/seshat/internal/pipeline"
	"github.com/mohammad-safakhou/seshat/internal/queue"
	"github.com/mohammad-safakhou/seshat/internal/queue/streams"
	"github.com/mohammad-safakhou/seshat/provider"
)

// Service holds the wired pipeline for one process.
type Service struct {
	Config   *config.Config
	Logger   *zap.Logger
	Queue    queue.Client
	Relay    *streams.Relay
	CMS      cms.Store
	Signer   *queue.Signer
	Verifier *queue.Verifier
	Syncer   *pipeline.Syncer
	Trigger  *pipeline.Trigger
	Worker   *pipeline.Worker

	closers []func() error
}

// NewService builds every dependency from cfg. Missing secrets do not fail
// here; each component reports them when first used. Unreachable Redis or
// Postgres does.
func NewService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		Config:   cfg,
		Logger:   logger,
		Signer:   queue.NewSigner(cfg.Queue.CurrentSigningKey),
		Verifier: queue.NewVerifier(cfg.Queue.CurrentSigningKey, cfg.Queue.NextSigningKey),
	}

	if err := s.buildQueue(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.buildCMS(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	llm, err := provider.NewProvider(provider.OpenAI, provider.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	gen, err := generator.New(llm, s.CMS, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	workerURL := cfg.WorkerURL()
	s.Syncer = pipeline.NewSyncer(s.CMS, s.Queue, workerURL, cfg.Queue.Retries, logger)
	s.Trigger = pipeline.NewTrigger(pipeline.TriggerConfig{
		Queue:      s.Queue,
		WorkerURL:  workerURL,
		LocalURL:   cfg.LocalWorkerURL(),
		Retries:    cfg.Queue.Retries,
		Signer:     s.Signer,
		HTTPClient: &http.Client{Timeout: cfg.Server.RequestTimeout},
	}, logger)
	s.Worker = pipeline.NewWorker(pipeline.WorkerConfig{
		Verifier:     s.Verifier,
		Generator:    gen,
		Topics:       s.CMS,
		WorkerURL:    workerURL,
		PatchTimeout: cfg.CMS.PatchTimeout,
	}, logger)
	return s, nil
}

func (s *Service) buildQueue(ctx context.Context) error {
	cfg := s.Config
	switch cfg.Queue.Provider {
	case config.QueueRedis:
		opts, err := BuildRedisOptions(cfg)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		s.closers = append(s.closers, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return errors.Wrapf(err, "redis connection failed (%s)", opts.Addr)
		}
		relay, err := streams.New(rdb, s.Signer, streams.Options{
			KeyPrefix:           cfg.Relay.KeyPrefix,
			Stream:              cfg.Relay.Stream,
			Group:               cfg.Relay.Group,
			TickInterval:        cfg.Relay.TickInterval,
			DeliveriesPerSecond: cfg.Relay.DeliveriesPerSecond,
			DeliveryTimeout:     cfg.Relay.DeliveryTimeout,
			ClaimIdle:           cfg.Relay.ClaimIdle,
		}, s.Logger)
		if err != nil {
			return err
		}
		s.Relay = relay
		s.Queue = relay.Client
	default:
		s.Queue = queue.NewQStash(cfg.Queue.BaseURL, cfg.Queue.Token, &http.Client{Timeout: 30 * time.Second}, s.Logger)
	}
	return nil
}

func (s *Service) buildCMS(ctx context.Context) error {
	cfg := s.Config
	switch cfg.CMS.Backend {
	case config.CMSPostgres:
		dsn, err := BuildPostgresDSN(cfg)
		if err != nil {
			return err
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return errors.Wrap(err, "open postgres")
		}
		s.closers = append(s.closers, db.Close)
		timeout := cfg.Storage.Postgres.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return errors.Wrap(err, "postgres connection failed")
		}
		s.CMS = cms.NewPostgres(db)
	default:
		s.CMS = cms.NewSanity(cms.SanityConfig{
			ProjectID:  cfg.CMS.ProjectID,
			Dataset:    cfg.CMS.Dataset,
			APIVersion: cfg.CMS.APIVersion,
			Token:      cfg.CMS.WriteToken,
			BaseURL:    cfg.CMS.BaseURL,
		}, s.Logger)
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (s *Service) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
