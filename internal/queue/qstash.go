package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

// DefaultQStashURL is the hosted QStash endpoint.
const DefaultQStashURL = "https://qstash.upstash.io"

const maxErrorBody = 4 << 10

// QStash is a Client backed by the QStash v2 HTTP API.
type QStash struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewQStash builds a QStash client. An empty baseURL selects DefaultQStashURL
// and a nil httpClient a client with a 30s timeout.
func NewQStash(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *QStash {
	if baseURL == "" {
		baseURL = DefaultQStashURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QStash{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger.Named("qstash"),
	}
}

func (q *QStash) Ready() error {
	if q.token == "" {
		return errors.Misconfigured("QSTASH_TOKEN is not configured")
	}
	return nil
}

func (q *QStash) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if err := q.Ready(); err != nil {
		return "", err
	}
	headers := http.Header{}
	headers.Set(HeaderRetries, strconv.Itoa(req.Retries))
	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := q.do(ctx, http.MethodPost, "/v2/publish/"+req.Destination, headers, req.Body, &out); err != nil {
		return "", errors.Wrapf(err, "publish to %s", req.Destination)
	}
	q.logger.Debug("message published", zap.String("destination", req.Destination), zap.String("message_id", out.MessageID))
	return out.MessageID, nil
}

type qstashSchedule struct {
	ScheduleID  string `json:"scheduleId"`
	Cron        string `json:"cron"`
	Destination string `json:"destination"`
	Body        string `json:"body"`
	Retries     int    `json:"retries"`
	CreatedAt   int64  `json:"createdAt"`
}

func (q *QStash) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	if err := q.Ready(); err != nil {
		return nil, err
	}
	var raw []qstashSchedule
	if err := q.do(ctx, http.MethodGet, "/v2/schedules", nil, nil, &raw); err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}
	out := make([]models.Schedule, 0, len(raw))
	for _, s := range raw {
		sched := models.Schedule{
			ScheduleID:  s.ScheduleID,
			Destination: s.Destination,
			Cron:        s.Cron,
			Body:        s.Body,
			Retries:     s.Retries,
		}
		if s.CreatedAt > 0 {
			sched.CreatedAt = time.UnixMilli(s.CreatedAt).UTC()
		}
		out = append(out, sched)
	}
	return out, nil
}

func (q *QStash) CreateSchedule(ctx context.Context, req ScheduleRequest) (string, error) {
	if err := q.Ready(); err != nil {
		return "", err
	}
	headers := http.Header{}
	headers.Set(HeaderCron, req.Cron)
	headers.Set(HeaderRetries, strconv.Itoa(req.Retries))
	if req.ScheduleID != "" {
		headers.Set(HeaderScheduleID, req.ScheduleID)
	}
	var out struct {
		ScheduleID string `json:"scheduleId"`
	}
	if err := q.do(ctx, http.MethodPost, "/v2/schedules/"+req.Destination, headers, req.Body, &out); err != nil {
		return "", errors.Wrapf(err, "create schedule %s", req.ScheduleID)
	}
	if out.ScheduleID == "" {
		out.ScheduleID = req.ScheduleID
	}
	return out.ScheduleID, nil
}

func (q *QStash) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if err := q.Ready(); err != nil {
		return err
	}
	if err := q.do(ctx, http.MethodDelete, "/v2/schedules/"+url.PathEscape(scheduleID), nil, nil, nil); err != nil {
		return errors.Wrapf(err, "delete schedule %s", scheduleID)
	}
	return nil
}

func (q *QStash) do(ctx context.Context, method, path string, headers http.Header, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+q.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return errors.Upstream(err, "qstash request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := errors.Newf("qstash %s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusNotFound {
			return errors.Mark(err, errors.ErrNotFound)
		}
		return errors.Mark(err, errors.ErrUpstream)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Upstream(err, fmt.Sprintf("decode qstash %s response", path))
	}
	return nil
}
