package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mohammad-safakhou/seshat/internal/cms"
	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/queue"
	"github.com/mohammad-safakhou/seshat/models"
)

type workerFixture struct {
	worker *Worker
	store  *fakeCMS
	gen    *fakeGenerator
	signer *queue.Signer
}

func newWorkerFixture(t *testing.T, logger *zap.Logger) *workerFixture {
	t.Helper()
	store := newFakeCMS(models.ContentTopic{
		ID:             "t1",
		Name:           "Go",
		Active:         true,
		Topic:          "Go generics in practice",
		CronSchedule:   "0 9 * * 1",
		Options:        models.GenerationOptions{TargetWordCount: 900, Tone: "casual"},
		TotalGenerated: 4,
		LastError:      "previous failure",
	})
	gen := &fakeGenerator{postID: "drafts.p1"}
	w := NewWorker(WorkerConfig{
		Verifier:     queue.NewVerifier("current", "next"),
		Generator:    gen,
		Topics:       store,
		WorkerURL:    testWorkerURL,
		PatchTimeout: time.Second,
	}, logger)
	return &workerFixture{worker: w, store: store, gen: gen, signer: queue.NewSigner("current")}
}

func (f *workerFixture) process(t *testing.T, body string) (models.GenerationResult, error) {
	t.Helper()
	sig, err := f.signer.Sign([]byte(body), testWorkerURL)
	require.NoError(t, err)
	return f.worker.Process(context.Background(), sig, []byte(body))
}

func TestWorkerRejectsUnsignedDeliveries(t *testing.T) {
	f := newWorkerFixture(t, nil)
	body := []byte(`{"topicId":"t1"}`)

	forged, err := queue.NewSigner("attacker").Sign(body, testWorkerURL)
	require.NoError(t, err)
	for _, sig := range []string{"", "garbage", forged} {
		_, err := f.worker.Process(context.Background(), sig, body)
		require.Error(t, err)
		assert.Equal(t, 401, errors.HTTPStatus(err))
	}
	assert.Empty(t, f.gen.reqs, "no generation")
	assert.Empty(t, f.store.patches, "no CMS mutation")
	assert.Zero(t, f.store.gets)
}

func TestWorkerWithoutSigningKeys(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.worker.verifier = queue.NewVerifier("", "")
	_, err := f.worker.Process(context.Background(), "some-signature", []byte(`{"topicId":"t1"}`))
	assert.True(t, errors.Is(err, errors.ErrMisconfigured))
	assert.Equal(t, 500, errors.HTTPStatus(err))
}

func TestWorkerAcceptsNextKey(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.signer = queue.NewSigner("next")
	_, err := f.process(t, `{"topic":"Go"}`)
	require.NoError(t, err)
}

func TestWorkerRequestChecks(t *testing.T) {
	f := newWorkerFixture(t, nil)

	_, err := f.process(t, `{"topicId":`)
	assert.Equal(t, 400, errors.HTTPStatus(err))

	_, err = f.process(t, `{}`)
	assert.Equal(t, 400, errors.HTTPStatus(err))
	assert.Contains(t, err.Error(), "either topic or topicId is required")

	f.gen.ready = errors.Misconfigured("OPENAI_API_KEY is not configured")
	_, err = f.process(t, `{"topic":"Go"}`)
	assert.Equal(t, 500, errors.HTTPStatus(err))
	assert.True(t, errors.Is(err, errors.ErrMisconfigured))

	f.gen.ready = nil
	f.store.ready = errors.Misconfigured("SANITY_API_WRITE_TOKEN is not configured")
	_, err = f.process(t, `{"topic":"Go"}`)
	assert.True(t, errors.Is(err, errors.ErrMisconfigured))

	assert.Empty(t, f.gen.reqs)
	assert.Empty(t, f.store.patches)
}

func TestWorkerTopicSuccess(t *testing.T) {
	f := newWorkerFixture(t, nil)
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	f.worker.now = func() time.Time { return now }

	res, err := f.process(t, `{"topicId":"t1"}`)
	require.NoError(t, err)
	assert.Equal(t, "drafts.p1", res.PostID)

	require.Len(t, f.gen.reqs, 1)
	assert.Equal(t, "Go generics in practice", f.gen.reqs[0].Subject)
	assert.Equal(t, 900, f.gen.reqs[0].Options.TargetWordCount)

	got := f.store.topics["t1"]
	assert.Equal(t, 5, got.TotalGenerated)
	require.NotNil(t, got.LastGeneratedAt)
	assert.True(t, got.LastGeneratedAt.Equal(now))
	assert.Equal(t, "p1", got.LastGeneratedPostID)
	assert.Empty(t, got.LastError)

	require.Len(t, f.store.patches, 2)
	assert.Equal(t, cms.Patch{
		Set:          map[string]interface{}{models.FieldLastGeneratedAt: now},
		SetIfMissing: map[string]interface{}{models.FieldTotalGenerated: 0},
		Inc:          map[string]int{models.FieldTotalGenerated: 1},
		Unset:        []string{models.FieldLastError},
	}, f.store.patches[0])
	assert.Equal(t, models.Reference{Type: "reference", Ref: "p1", Weak: true},
		f.store.patches[1].Set[models.FieldLastGeneratedPostID])
}

func TestWorkerTopicSuccessWithoutPostID(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.gen.postID = ""
	_, err := f.process(t, `{"topicId":"t1"}`)
	require.NoError(t, err)
	assert.Len(t, f.store.patches, 1)
	assert.Empty(t, f.store.topics["t1"].LastGeneratedPostID)
}

func TestWorkerTopicFailureRecordsError(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.gen.err = errors.Upstream(errors.New("rate limited"), "chat completion")

	_, err := f.process(t, `{"topicId":"t1"}`)
	require.Error(t, err)
	var failure *GenerationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "chat completion: rate limited", failure.Error())

	got := f.store.topics["t1"]
	assert.Equal(t, "chat completion: rate limited", got.LastError)
	assert.Equal(t, 4, got.TotalGenerated)
	assert.Nil(t, got.LastGeneratedAt)
}

func TestWorkerMissingTopicIsAGenerationFailure(t *testing.T) {
	f := newWorkerFixture(t, nil)
	_, err := f.process(t, `{"topicId":"nope"}`)
	var failure *GenerationFailure
	require.True(t, errors.As(err, &failure))
	assert.Empty(t, f.gen.reqs)
}

func TestWorkerFailingErrorPatchOnlyLogs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newWorkerFixture(t, zap.New(core))
	f.gen.err = errors.New("model exploded")
	f.store.patchErr = func(cms.Patch) error { return errors.New("sanity down") }

	_, err := f.process(t, `{"topicId":"t1"}`)
	var failure *GenerationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "model exploded", failure.Error())

	entries := logs.FilterMessage("failed to record generation error on topic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].ContextMap()["topic_id"])
}

func TestWorkerRecordsErrorAfterCancellation(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.gen.err = context.Canceled

	body := []byte(`{"topicId":"t1"}`)
	sig, err := f.signer.Sign(body, testWorkerURL)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.worker.Process(ctx, sig, body)
	require.Error(t, err)
	assert.Equal(t, context.Canceled.Error(), f.store.topics["t1"].LastError)
}

func TestWorkerAdhocSkipsTopic(t *testing.T) {
	f := newWorkerFixture(t, nil)
	res, err := f.process(t, `{"topic":"GraphQL APIs"}`)
	require.NoError(t, err)
	assert.Equal(t, "drafts.p1", res.PostID)
	require.Len(t, f.gen.reqs, 1)
	assert.Equal(t, "GraphQL APIs", f.gen.reqs[0].Subject)
	assert.Empty(t, f.gen.reqs[0].TopicID)
	assert.Zero(t, f.store.gets)
	assert.Empty(t, f.store.patches)
}
