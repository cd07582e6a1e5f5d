package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/queue"
	"github.com/mohammad-safakhou/seshat/models"
)

const maxRelayedBody = 1 << 20

// TriggerResult is either a queued message or the worker's own response.
type TriggerResult struct {
	Queued      bool
	MessageID   string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Trigger starts one generation. With a public worker URL it enqueues a
// message for the queue to deliver; without one it calls the local worker
// directly and hands back whatever the worker answered.
type Trigger struct {
	queue     queue.Client
	workerURL string
	localURL  string
	retries   int
	signer    *queue.Signer
	http      *http.Client
	logger    *zap.Logger
}

// TriggerConfig wires a Trigger.
type TriggerConfig struct {
	Queue     queue.Client
	WorkerURL string
	LocalURL  string
	Retries   int
	// Signer signs direct calls. A keyless signer sends them unsigned.
	Signer     *queue.Signer
	HTTPClient *http.Client
}

func NewTrigger(cfg TriggerConfig, logger *zap.Logger) *Trigger {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		queue:     cfg.Queue,
		workerURL: cfg.WorkerURL,
		localURL:  cfg.LocalURL,
		retries:   cfg.Retries,
		signer:    cfg.Signer,
		http:      cfg.HTTPClient,
		logger:    logger.Named("trigger"),
	}
}

// Trigger validates raw and dispatches it. Invalid bodies fail before any
// queue or worker call.
func (t *Trigger) Trigger(ctx context.Context, raw []byte) (TriggerResult, error) {
	payload, err := models.DecodeGenerationPayload(raw)
	if err != nil {
		return TriggerResult{}, err
	}
	if err := payload.Validate(); err != nil {
		return TriggerResult{}, err
	}
	if t.workerURL != "" {
		return t.enqueue(ctx, payload)
	}
	return t.callWorker(ctx, payload)
}

func (t *Trigger) enqueue(ctx context.Context, payload models.GenerationPayload) (TriggerResult, error) {
	if err := t.queue.Ready(); err != nil {
		return TriggerResult{}, err
	}
	id, err := t.queue.Publish(ctx, queue.PublishRequest{
		Destination: t.workerURL,
		Body:        payload.Encode(),
		Retries:     t.retries,
	})
	if err != nil {
		return TriggerResult{}, err
	}
	t.logger.Info("generation queued", zap.String("mode", payload.Mode()), zap.String("topic_id", payload.TopicID), zap.String("message_id", id))
	return TriggerResult{Queued: true, MessageID: id, StatusCode: http.StatusAccepted}, nil
}

func (t *Trigger) callWorker(ctx context.Context, payload models.GenerationPayload) (TriggerResult, error) {
	body := payload.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.localURL, bytes.NewReader(body))
	if err != nil {
		return TriggerResult{}, errors.Wrap(err, "build worker request")
	}
	req.Header.Set("Content-Type", "application/json")
	if t.signer != nil {
		sig, err := t.signer.Sign(body, t.localURL)
		switch {
		case err == nil:
			req.Header.Set(queue.HeaderSignature, sig)
		case !errors.Is(err, errors.ErrMisconfigured):
			return TriggerResult{}, err
		}
	}

	t.logger.Info("calling worker directly", zap.String("mode", payload.Mode()), zap.String("url", t.localURL))
	resp, err := t.http.Do(req)
	if err != nil {
		return TriggerResult{}, errors.Upstream(err, "call worker")
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayedBody))
	if err != nil {
		return TriggerResult{}, errors.Upstream(err, "read worker response")
	}
	return TriggerResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        out,
	}, nil
}
