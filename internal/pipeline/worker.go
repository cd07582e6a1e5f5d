package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/cms"
	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

// Generator writes one post.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)
	Ready() error
}

// TopicStore is the part of the CMS the worker reads and patches.
type TopicStore interface {
	GetTopic(ctx context.Context, id string) (models.ContentTopic, error)
	cms.TopicPatcher
	Ready() error
}

// SignatureVerifier checks the webhook signature header.
type SignatureVerifier interface {
	Verify(signature string, body []byte, url string) error
}

// GenerationFailure is a failure after the request was accepted: loading the
// topic, generating, or writing bookkeeping. It always maps to a 500.
type GenerationFailure struct {
	Cause error
}

func (f *GenerationFailure) Error() string { return f.Cause.Error() }
func (f *GenerationFailure) Unwrap() error { return f.Cause }

// Worker handles a signed generation webhook.
type Worker struct {
	verifier     SignatureVerifier
	generator    Generator
	topics       TopicStore
	workerURL    string
	patchTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// WorkerConfig wires a Worker. WorkerURL is the signed destination; empty
// skips the destination check.
type WorkerConfig struct {
	Verifier     SignatureVerifier
	Generator    Generator
	Topics       TopicStore
	WorkerURL    string
	PatchTimeout time.Duration
}

func NewWorker(cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.PatchTimeout <= 0 {
		cfg.PatchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		verifier:     cfg.Verifier,
		generator:    cfg.Generator,
		topics:       cfg.Topics,
		workerURL:    cfg.WorkerURL,
		patchTimeout: cfg.PatchTimeout,
		logger:       logger.Named("worker"),
		now:          time.Now,
	}
}

// Process verifies, decodes and runs one delivery. Errors before generation
// carry their own class (unauthorized, invalid, misconfigured); everything
// after is a *GenerationFailure, recorded on the topic when there is one.
func (w *Worker) Process(ctx context.Context, signature string, body []byte) (models.GenerationResult, error) {
	if err := w.verifier.Verify(signature, body, w.workerURL); err != nil {
		return models.GenerationResult{}, err
	}
	payload, err := models.DecodeGenerationPayload(body)
	if err != nil {
		return models.GenerationResult{}, err
	}
	if err := w.generator.Ready(); err != nil {
		return models.GenerationResult{}, err
	}
	if err := w.topics.Ready(); err != nil {
		return models.GenerationResult{}, err
	}
	if err := payload.Validate(); err != nil {
		return models.GenerationResult{}, err
	}

	mode := payload.Mode()
	start := time.Now()
	var res models.GenerationResult
	if payload.TopicID != "" {
		res, err = w.generateForTopic(ctx, payload.TopicID)
	} else {
		res, err = w.generator.Generate(ctx, models.GenerationRequest{Subject: payload.Topic})
	}
	generationDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	if err != nil {
		generationsTotal.WithLabelValues(mode, "error").Inc()
		w.logger.Error("generation failed", zap.String("mode", mode), zap.String("topic_id", payload.TopicID), zap.Error(err))
		if payload.TopicID != "" {
			w.recordError(ctx, payload.TopicID, err)
		}
		return models.GenerationResult{}, &GenerationFailure{Cause: err}
	}
	generationsTotal.WithLabelValues(mode, "success").Inc()
	w.logger.Info("generation succeeded", zap.String("mode", mode), zap.String("topic_id", payload.TopicID), zap.String("post_id", res.PostID))
	return res, nil
}

func (w *Worker) generateForTopic(ctx context.Context, topicID string) (models.GenerationResult, error) {
	topic, err := w.topics.GetTopic(ctx, topicID)
	if err != nil {
		return models.GenerationResult{}, err
	}
	subject := topic.Topic
	if subject == "" {
		subject = topic.Name
	}
	res, err := w.generator.Generate(ctx, models.GenerationRequest{TopicID: topicID, Subject: subject, Options: topic.Options})
	if err != nil {
		return models.GenerationResult{}, err
	}

	err = w.topics.PatchTopic(ctx, topicID, cms.Patch{
		Set:          map[string]interface{}{models.FieldLastGeneratedAt: w.now().UTC()},
		SetIfMissing: map[string]interface{}{models.FieldTotalGenerated: 0},
		Inc:          map[string]int{models.FieldTotalGenerated: 1},
		Unset:        []string{models.FieldLastError},
	})
	if err != nil {
		return res, errors.Wrap(err, "record generation")
	}
	if res.PostID != "" {
		err = w.topics.PatchTopic(ctx, topicID, cms.Patch{
			Set: map[string]interface{}{models.FieldLastGeneratedPostID: models.NewReference(res.PostID)},
		})
		if err != nil {
			return res, errors.Wrap(err, "link generated post")
		}
	}
	return res, nil
}

// recordError writes cause onto the topic. It runs detached from the request
// so a cancelled request still records, and its own failure is only logged.
func (w *Worker) recordError(ctx context.Context, topicID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.patchTimeout)
	defer cancel()
	err := w.topics.PatchTopic(ctx, topicID, cms.Patch{
		Set: map[string]interface{}{models.FieldLastError: cause.Error()},
	})
	if err != nil {
		w.logger.Warn("failed to record generation error on topic",
			zap.String("topic_id", topicID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}
