package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

const (
	topicType    = "contentTopic"
	postType     = "post"
	draftsPrefix = "drafts."
)

const topicProjection = `{
  _id, name, active, topic, cronSchedule,
  "options": {targetWordCount, tone, audience, includeCodeExamples, autoPublish, tags},
  lastGeneratedAt, totalGenerated,
  "lastGeneratedPostId": lastGeneratedPostId._ref,
  lastError
}`

var (
	activeTopicsQuery = `*[_type == "` + topicType + `" && active == true && !(_id in path("drafts.**"))] | order(_id asc) ` + topicProjection
	topicByIDQuery    = `*[_type == "` + topicType + `" && _id == $id][0] ` + topicProjection
)

// SanityConfig addresses one Sanity project dataset.
type SanityConfig struct {
	ProjectID  string
	Dataset    string
	APIVersion string
	Token      string
	// BaseURL overrides https://<project>.api.sanity.io.
	BaseURL    string
	HTTPClient *http.Client
}

// Sanity is a Store over the Sanity HTTP query and mutation API.
type Sanity struct {
	cfg    SanityConfig
	base   string
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewSanity(cfg SanityConfig, logger *zap.Logger) *Sanity {
	if cfg.Dataset == "" {
		cfg.Dataset = "production"
	}
	cfg.APIVersion = strings.TrimPrefix(cfg.APIVersion, "v")
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01-01"
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" && cfg.ProjectID != "" {
		base = fmt.Sprintf("https://%s.api.sanity.io", cfg.ProjectID)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sanity{cfg: cfg, base: base, http: httpClient, logger: logger.Named("sanity"), now: time.Now}
}

func (s *Sanity) Ready() error {
	if s.cfg.ProjectID == "" && s.cfg.BaseURL == "" {
		return errors.Misconfigured("SANITY_PROJECT_ID is not configured")
	}
	if s.cfg.Token == "" {
		return errors.Misconfigured("SANITY_API_WRITE_TOKEN is not configured")
	}
	return nil
}

type sanityTopic struct {
	ID                  string                   `json:"_id"`
	Name                string                   `json:"name"`
	Active              bool                     `json:"active"`
	Topic               string                   `json:"topic"`
	CronSchedule        string                   `json:"cronSchedule"`
	Options             models.GenerationOptions `json:"options"`
	LastGeneratedAt     *time.Time               `json:"lastGeneratedAt"`
	TotalGenerated      int                      `json:"totalGenerated"`
	LastGeneratedPostID string                   `json:"lastGeneratedPostId"`
	LastError           string                   `json:"lastError"`
}

func (t sanityTopic) model() models.ContentTopic {
	return models.ContentTopic{
		ID:                  t.ID,
		Name:                t.Name,
		Active:              t.Active,
		Topic:               t.Topic,
		CronSchedule:        t.CronSchedule,
		Options:             t.Options,
		LastGeneratedAt:     t.LastGeneratedAt,
		TotalGenerated:      t.TotalGenerated,
		LastGeneratedPostID: t.LastGeneratedPostID,
		LastError:           t.LastError,
	}
}

func (s *Sanity) ListActiveTopics(ctx context.Context) ([]models.ContentTopic, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}
	var raw []sanityTopic
	if err := s.query(ctx, activeTopicsQuery, nil, &raw); err != nil {
		return nil, errors.Wrap(err, "list active topics")
	}
	out := make([]models.ContentTopic, 0, len(raw))
	for _, t := range raw {
		out = append(out, t.model())
	}
	return out, nil
}

func (s *Sanity) GetTopic(ctx context.Context, id string) (models.ContentTopic, error) {
	if err := s.Ready(); err != nil {
		return models.ContentTopic{}, err
	}
	var raw *sanityTopic
	if err := s.query(ctx, topicByIDQuery, map[string]interface{}{"id": id}, &raw); err != nil {
		return models.ContentTopic{}, errors.Wrapf(err, "get topic %s", id)
	}
	if raw == nil {
		return models.ContentTopic{}, errors.Mark(errors.Newf("content topic %s not found", id), errors.ErrNotFound)
	}
	return raw.model(), nil
}

func (s *Sanity) PatchTopic(ctx context.Context, id string, patch Patch) error {
	if err := s.Ready(); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	p := map[string]interface{}{"id": id}
	if len(patch.Set) > 0 {
		p["set"] = patch.Set
	}
	if len(patch.SetIfMissing) > 0 {
		p["setIfMissing"] = patch.SetIfMissing
	}
	if len(patch.Inc) > 0 {
		p["inc"] = patch.Inc
	}
	if len(patch.Unset) > 0 {
		p["unset"] = patch.Unset
	}
	if _, err := s.mutate(ctx, map[string]interface{}{"patch": p}); err != nil {
		return errors.Wrapf(err, "patch topic %s", id)
	}
	return nil
}

// CreatePost writes the post as a published document when post.Published is
// set, otherwise as a draft (id prefixed with "drafts.").
func (s *Sanity) CreatePost(ctx context.Context, post models.Post) (models.Post, error) {
	if err := s.Ready(); err != nil {
		return models.Post{}, err
	}
	id := post.ID
	if id == "" {
		id = uuid.NewString()
	}
	if !post.Published && !strings.HasPrefix(id, draftsPrefix) {
		id = draftsPrefix + id
	}
	doc := map[string]interface{}{
		"_id":     id,
		"_type":   postType,
		"title":   post.Title,
		"slug":    map[string]string{"_type": "slug", "current": post.Slug},
		"excerpt": post.Excerpt,
		"body":    post.Body,
	}
	if len(post.Tags) > 0 {
		doc["tags"] = post.Tags
	}
	if post.TopicID != "" {
		doc["topic"] = models.NewReference(post.TopicID)
	}
	if post.Published {
		at := s.now().UTC()
		if post.PublishedAt != nil {
			at = post.PublishedAt.UTC()
		}
		doc["publishedAt"] = at.Format(time.RFC3339)
	}
	ids, err := s.mutate(ctx, map[string]interface{}{"create": doc})
	if err != nil {
		return models.Post{}, errors.Wrap(err, "create post")
	}
	if len(ids) > 0 && ids[0] != "" {
		id = ids[0]
	}
	s.logger.Info("post created", zap.String("post_id", id), zap.String("slug", post.Slug), zap.Bool("published", post.Published))
	post.ID = id
	return post, nil
}

func (s *Sanity) query(ctx context.Context, groq string, params map[string]interface{}, out interface{}) error {
	q := url.Values{}
	q.Set("query", groq)
	for k, v := range params {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "encode param %s", k)
		}
		q.Set("$"+k, string(b))
	}
	endpoint := fmt.Sprintf("%s/v%s/data/query/%s?%s", s.base, s.cfg.APIVersion, s.cfg.Dataset, q.Encode())
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &envelope); err != nil {
		return err
	}
	if len(envelope.Result) == 0 {
		envelope.Result = json.RawMessage("null")
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return errors.Upstream(err, "decode query result")
	}
	return nil
}

func (s *Sanity) mutate(ctx context.Context, mutations ...map[string]interface{}) ([]string, error) {
	body, err := json.Marshal(map[string]interface{}{"mutations": mutations})
	if err != nil {
		return nil, errors.Wrap(err, "encode mutations")
	}
	endpoint := fmt.Sprintf("%s/v%s/data/mutate/%s?returnIds=true", s.base, s.cfg.APIVersion, s.cfg.Dataset)
	var resp struct {
		TransactionID string `json:"transactionId"`
		Results       []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := s.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.ID)
	}
	s.logger.Debug("mutation committed", zap.String("transaction_id", resp.TransactionID), zap.Strings("ids", ids))
	return ids, nil
}

func (s *Sanity) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Upstream(err, "sanity request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		err := errors.Newf("sanity %s: %d %s", method, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusNotFound {
			return errors.Mark(err, errors.ErrNotFound)
		}
		return errors.Mark(err, errors.ErrUpstream)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Upstream(err, "decode sanity response")
	}
	return nil
}
