package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/seshat/internal/cms"
	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/queue"
	"github.com/mohammad-safakhou/seshat/models"
)

type fakeQueue struct {
	mu        sync.Mutex
	ready     error
	schedules map[string]models.Schedule
	published []queue.PublishRequest
	created   []string
	deleted   []string
	createErr map[string]error
	listErr   error
	calls     int
}

func newFakeQueue(existing ...models.Schedule) *fakeQueue {
	q := &fakeQueue{schedules: map[string]models.Schedule{}, createErr: map[string]error{}}
	for _, s := range existing {
		q.schedules[s.ScheduleID] = s
	}
	return q
}

func (q *fakeQueue) Ready() error { return q.ready }

func (q *fakeQueue) Publish(_ context.Context, req queue.PublishRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.published = append(q.published, req)
	return "msg_1", nil
}

func (q *fakeQueue) ListSchedules(context.Context) ([]models.Schedule, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.listErr != nil {
		return nil, q.listErr
	}
	out := make([]models.Schedule, 0, len(q.schedules))
	for _, s := range q.schedules {
		out = append(out, s)
	}
	return out, nil
}

func (q *fakeQueue) CreateSchedule(_ context.Context, req queue.ScheduleRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if err := q.createErr[req.ScheduleID]; err != nil {
		return "", err
	}
	q.created = append(q.created, req.ScheduleID)
	q.schedules[req.ScheduleID] = models.Schedule{
		ScheduleID:  req.ScheduleID,
		Destination: req.Destination,
		Cron:        req.Cron,
		Body:        string(req.Body),
		Retries:     req.Retries,
	}
	return req.ScheduleID, nil
}

func (q *fakeQueue) DeleteSchedule(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if _, ok := q.schedules[id]; !ok {
		return errors.Mark(errors.Newf("schedule %s not found", id), errors.ErrNotFound)
	}
	q.deleted = append(q.deleted, id)
	delete(q.schedules, id)
	return nil
}

// fakeCMS applies patches to in-memory topics.
type fakeCMS struct {
	mu       sync.Mutex
	ready    error
	topics   map[string]*models.ContentTopic
	patches  []cms.Patch
	patchErr func(p cms.Patch) error
	listErr  error
	gets     int
}

func newFakeCMS(topics ...models.ContentTopic) *fakeCMS {
	f := &fakeCMS{topics: map[string]*models.ContentTopic{}}
	for i := range topics {
		t := topics[i]
		f.topics[t.ID] = &t
	}
	return f
}

func (f *fakeCMS) Ready() error { return f.ready }

func (f *fakeCMS) ListActiveTopics(context.Context) ([]models.ContentTopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.ContentTopic
	for _, t := range f.topics {
		if t.Active {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeCMS) GetTopic(_ context.Context, id string) (models.ContentTopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	t, ok := f.topics[id]
	if !ok {
		return models.ContentTopic{}, errors.Mark(errors.Newf("content topic %s not found", id), errors.ErrNotFound)
	}
	return *t, nil
}

func (f *fakeCMS) PatchTopic(_ context.Context, id string, p cms.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, p)
	if f.patchErr != nil {
		if err := f.patchErr(p); err != nil {
			return err
		}
	}
	t, ok := f.topics[id]
	if !ok {
		return errors.Mark(errors.Newf("content topic %s not found", id), errors.ErrNotFound)
	}
	for k, v := range p.Set {
		switch k {
		case models.FieldLastGeneratedAt:
			at := v.(time.Time)
			t.LastGeneratedAt = &at
		case models.FieldLastError:
			t.LastError = v.(string)
		case models.FieldLastGeneratedPostID:
			t.LastGeneratedPostID = v.(models.Reference).Ref
		}
	}
	for k, n := range p.Inc {
		if k == models.FieldTotalGenerated {
			t.TotalGenerated += n
		}
	}
	for _, k := range p.Unset {
		if k == models.FieldLastError {
			t.LastError = ""
		}
	}
	return nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	ready  error
	err    error
	postID string
	reqs   []models.GenerationRequest
}

func (g *fakeGenerator) Ready() error { return g.ready }

func (g *fakeGenerator) Generate(_ context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return models.GenerationResult{}, g.err
	}
	return models.GenerationResult{PostID: g.postID, Title: "T", Slug: "t"}, nil
}
