package openai_provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

const defaultModel = "gpt-4o-mini"

var (
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seshat_llm_requests_total",
			Help: "Total number of chat completion requests.",
		},
		[]string{"model", "status"},
	)
	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seshat_llm_request_duration_seconds",
			Help:    "Histogram of chat completion latencies.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"model"},
	)
	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seshat_llm_tokens_total",
			Help: "Tokens consumed by chat completions.",
		},
		[]string{"model", "kind"},
	)
)

// Options configures the OpenAI client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client implements the provider interface using OpenAI's chat completions API
type Client struct {
	api         *openaigo.Client
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIClient(opts Options, logger *zap.Logger) *Client {
	cfg := openaigo.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:         openaigo.NewClientWithConfig(cfg),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		logger:      logger.Named("openai"),
	}
}

func (c *Client) Ready() error {
	if c.apiKey == "" {
		return errors.Misconfigured("OPENAI_API_KEY is not configured")
	}
	return nil
}

// Complete runs one chat completion bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	if err := c.Ready(); err != nil {
		return models.Completion{}, err
	}
	if strings.TrimSpace(req.System) == "" && strings.TrimSpace(req.User) == "" {
		return models.Completion{}, errors.Invalid("empty prompt")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var messages []openaigo.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleSystem, Content: req.System})
	}
	if req.User != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: req.User})
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	chatReq := openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openaigo.ChatCompletionResponseFormat{Type: openaigo.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	llmRequestDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
	if err != nil {
		llmRequestsTotal.WithLabelValues(c.model, "error").Inc()
		c.logger.Warn("chat completion failed", zap.String("model", c.model), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return models.Completion{}, errors.Upstream(err, "chat completion")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		llmRequestsTotal.WithLabelValues(c.model, "empty").Inc()
		return models.Completion{}, errors.Mark(errors.New("chat completion returned an empty response"), errors.ErrUpstream)
	}
	llmRequestsTotal.WithLabelValues(c.model, "success").Inc()
	llmTokensTotal.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	llmTokensTotal.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

	model := resp.Model
	if model == "" {
		model = c.model
	}
	c.logger.Debug("chat completion finished",
		zap.String("model", model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return models.Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
