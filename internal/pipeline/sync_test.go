package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

const testWorkerURL = "https://blog.example.com/api/generate/worker"

func topic(id, cron string, active bool) models.ContentTopic {
	return models.ContentTopic{ID: id, Name: id, Topic: "subject " + id, CronSchedule: cron, Active: active}
}

func owned(id, cron, dest string) models.Schedule {
	return models.Schedule{ScheduleID: models.ScheduleID(id), Destination: dest, Cron: cron, Body: `{"topicId":"` + id + `"}`, Retries: 3}
}

func TestSyncReconcilesSchedules(t *testing.T) {
	store := newFakeCMS(
		topic("t1", "0 9 * * 1", true),
		topic("t2", "0 9 * * 2", true),
		topic("t3", "0 10 * * *", true),
		topic("t4", "every tuesday", true),
		topic("t5", "0 9 * * 5", false),
	)
	q := newFakeQueue(
		owned("t2", "0 9 * * 2", testWorkerURL),
		owned("t3", "0 8 * * *", testWorkerURL),
		owned("t5", "0 9 * * 5", testWorkerURL),
		owned("t9", "0 9 * * 1", testWorkerURL),
		owned("t8", "0 9 * * 1", "https://staging.example.com/api/generate/worker"),
		models.Schedule{ScheduleID: "newsletter-weekly", Destination: testWorkerURL, Cron: "0 7 * * 1"},
	)

	res, err := NewSyncer(store, q, testWorkerURL, 3, nil).Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"t1"}, res.Created)
	assert.Equal(t, []string{"t3"}, res.Updated)
	assert.Equal(t, []string{"t2"}, res.Unchanged)
	assert.Equal(t, []string{"t5", "t9"}, res.Deleted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "t4", res.Errors[0].TopicID)
	assert.Contains(t, res.Errors[0].Error, "invalid cron expression")

	// Owned schedules at the worker URL now match the active topics with valid crons.
	var ours []string
	for id, s := range q.schedules {
		if tid, ok := models.TopicIDFromSchedule(id); ok && s.Destination == testWorkerURL {
			ours = append(ours, tid)
		}
	}
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, ours)
	assert.Equal(t, "0 10 * * *", q.schedules["seshat-t3"].Cron)
	assert.JSONEq(t, `{"topicId":"t1"}`, q.schedules["seshat-t1"].Body)
	assert.Equal(t, 3, q.schedules["seshat-t1"].Retries)

	assert.Contains(t, q.schedules, "seshat-t8", "other deployments are left alone")
	assert.Contains(t, q.schedules, "newsletter-weekly", "foreign schedules are left alone")
}

func TestSyncIsIdempotent(t *testing.T) {
	store := newFakeCMS(topic("t1", "0 9 * * 1", true), topic("t2", "*/30 * * * *", true))
	q := newFakeQueue()
	s := NewSyncer(store, q, testWorkerURL, 3, nil)

	_, err := s.Sync(context.Background())
	require.NoError(t, err)
	res, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{"t1", "t2"}, res.Unchanged)
}

func TestSyncCollectsPerTopicFailures(t *testing.T) {
	store := newFakeCMS(topic("t1", "0 9 * * 1", true), topic("t2", "0 9 * * 2", true), topic("t3", "", true))
	q := newFakeQueue()
	q.createErr["seshat-t1"] = errors.Upstream(errors.New("qstash 500"), "create schedule")

	res, err := NewSyncer(store, q, testWorkerURL, 3, nil).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "t1", res.Errors[0].TopicID)
	assert.Equal(t, "t3", res.Errors[1].TopicID)
	assert.Contains(t, res.Errors[1].Error, "no cron schedule")
}

func TestSyncFailsFastWhenMisconfigured(t *testing.T) {
	store := newFakeCMS(topic("t1", "0 9 * * 1", true))

	q := newFakeQueue()
	q.ready = errors.Misconfigured("QSTASH_TOKEN is not configured")
	_, err := NewSyncer(store, q, testWorkerURL, 3, nil).Sync(context.Background())
	assert.True(t, errors.Is(err, errors.ErrMisconfigured))
	assert.Zero(t, q.calls)

	q = newFakeQueue()
	_, err = NewSyncer(store, q, "", 3, nil).Sync(context.Background())
	assert.True(t, errors.Is(err, errors.ErrMisconfigured))
	assert.Zero(t, q.calls)
}

func TestSyncListingNotFoundIsUpstream(t *testing.T) {
	notFound := errors.Mark(errors.New("sanity GET: 404 dataset not found"), errors.ErrNotFound)

	store := newFakeCMS(topic("t1", "0 9 * * 1", true))
	store.listErr = notFound
	_, err := NewSyncer(store, newFakeQueue(), testWorkerURL, 3, nil).Sync(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUpstream))
	assert.Equal(t, 500, errors.HTTPStatus(err))

	q := newFakeQueue()
	q.listErr = notFound
	_, err = NewSyncer(newFakeCMS(topic("t1", "0 9 * * 1", true)), q, testWorkerURL, 3, nil).Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, 500, errors.HTTPStatus(err))
	assert.Empty(t, q.created)
}
