// Package pipeline holds the three entry points of blog generation: schedule
// sync, trigger and the webhook worker.
package pipeline

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/queue"
	"github.com/mohammad-safakhou/seshat/models"
)

// TopicLister is the read side of the CMS used by sync.
type TopicLister interface {
	ListActiveTopics(ctx context.Context) ([]models.ContentTopic, error)
	Ready() error
}

// Syncer reconciles queue schedules with the active ContentTopics.
type Syncer struct {
	topics    TopicLister
	queue     queue.Client
	workerURL string
	retries   int
	logger    *zap.Logger
}

func NewSyncer(topics TopicLister, q queue.Client, workerURL string, retries int, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{topics: topics, queue: q, workerURL: workerURL, retries: retries, logger: logger.Named("sync")}
}

type desiredSchedule struct {
	topicID string
	id      string
	cron    string
	body    []byte
}

// Sync makes the owned schedules match the active topics: one schedule per
// active topic, keyed by schedule id and pointed at the worker. Per-topic
// failures are collected in the result and never abort the pass.
func (s *Syncer) Sync(ctx context.Context) (models.SyncResult, error) {
	res := models.NewSyncResult()
	if err := s.queue.Ready(); err != nil {
		return res, err
	}
	if s.workerURL == "" {
		return res, errors.Misconfigured("APP_URL is not configured; schedules need a public worker URL")
	}
	if err := s.topics.Ready(); err != nil {
		return res, err
	}

	// A 404 while listing means a wrong project or dataset, not a missing topic.
	topics, err := s.topics.ListActiveTopics(ctx)
	if err != nil {
		return res, errors.Upstream(err, "list active topics")
	}
	existing, err := s.queue.ListSchedules(ctx)
	if err != nil {
		return res, errors.Upstream(err, "list schedules")
	}
	byID := make(map[string]models.Schedule, len(existing))
	for _, sched := range existing {
		byID[sched.ScheduleID] = sched
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	active := make(map[string]bool, len(topics))
	for _, t := range topics {
		if t.ID == "" || active[t.ID] {
			continue
		}
		active[t.ID] = true
		want := desiredSchedule{
			topicID: t.ID,
			id:      models.ScheduleID(t.ID),
			cron:    strings.TrimSpace(t.CronSchedule),
			body:    models.GenerationPayload{TopicID: t.ID}.Encode(),
		}
		action, err := s.reconcile(ctx, want, byID)
		if err != nil {
			s.logger.Warn("schedule sync failed for topic", zap.String("topic_id", t.ID), zap.Error(err))
			res.Errors = append(res.Errors, models.SyncError{TopicID: t.ID, Error: err.Error()})
			continue
		}
		s.record(&res, action, t.ID)
	}

	for _, sched := range existing {
		topicID, owned := models.TopicIDFromSchedule(sched.ScheduleID)
		if !owned || sched.Destination != s.workerURL || active[topicID] {
			continue
		}
		if err := s.queue.DeleteSchedule(ctx, sched.ScheduleID); err != nil && !errors.Is(err, errors.ErrNotFound) {
			res.Errors = append(res.Errors, models.SyncError{TopicID: topicID, Error: err.Error()})
			continue
		}
		s.record(&res, "deleted", topicID)
	}

	sort.Strings(res.Created)
	sort.Strings(res.Updated)
	sort.Strings(res.Deleted)
	sort.Strings(res.Unchanged)
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].TopicID < res.Errors[j].TopicID })

	s.logger.Info("schedules synced",
		zap.Int("created", len(res.Created)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("deleted", len(res.Deleted)),
		zap.Int("unchanged", len(res.Unchanged)),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (s *Syncer) reconcile(ctx context.Context, want desiredSchedule, byID map[string]models.Schedule) (string, error) {
	if want.cron == "" {
		return "", errors.Invalid("topic has no cron schedule")
	}
	if _, err := cronexpr.Parse(want.cron); err != nil {
		return "", errors.Invalid("invalid cron expression %q: %v", want.cron, err)
	}

	action := "created"
	if cur, ok := byID[want.id]; ok {
		if s.matches(cur, want) {
			return "unchanged", nil
		}
		if err := s.queue.DeleteSchedule(ctx, want.id); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return "", err
		}
		action = "updated"
	}
	_, err := s.queue.CreateSchedule(ctx, queue.ScheduleRequest{
		ScheduleID:  want.id,
		Destination: s.workerURL,
		Cron:        want.cron,
		Body:        want.body,
		Retries:     s.retries,
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

func (s *Syncer) matches(cur models.Schedule, want desiredSchedule) bool {
	return cur.Cron == want.cron &&
		cur.Destination == s.workerURL &&
		cur.Retries == s.retries &&
		sameJSON(cur.Body, want.body)
}

func (s *Syncer) record(res *models.SyncResult, action, topicID string) {
	switch action {
	case "created":
		res.Created = append(res.Created, topicID)
	case "updated":
		res.Updated = append(res.Updated, topicID)
	case "deleted":
		res.Deleted = append(res.Deleted, topicID)
	case "unchanged":
		res.Unchanged = append(res.Unchanged, topicID)
		return
	}
	syncChangesTotal.WithLabelValues(action).Inc()
}

func sameJSON(a string, b []byte) bool {
	var x, y interface{}
	if json.Unmarshal([]byte(a), &x) != nil || json.Unmarshal(b, &y) != nil {
		return a == string(b)
	}
	return reflect.DeepEqual(x, y)
}
