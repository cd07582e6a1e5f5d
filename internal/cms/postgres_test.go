package cms

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

var topicRowColumns = []string{"id", "name", "active", "topic", "cron_schedule", "target_word_count", "tone", "audience",
	"include_code_examples", "auto_publish", "tags", "last_generated_at", "total_generated", "last_generated_post_id", "last_error"}

func TestPostgresListActiveTopics(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM content_topics WHERE active = TRUE ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows(topicRowColumns).
			AddRow("t1", "Go", true, "Go generics", "0 9 * * 1", 900, "casual", "devs", true, false, "{go,generics}", at, 3, "p1", nil).
			AddRow("t2", "SQL", true, "Window functions", "", 0, "", "", false, true, "{}", nil, 0, nil, "boom"))

	topics, err := NewPostgres(db).ListActiveTopics(context.Background())
	if err != nil {
		t.Fatalf("ListActiveTopics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	first := topics[0]
	if first.Options.TargetWordCount != 900 || !first.Options.IncludeCodeExamples {
		t.Fatalf("options not scanned: %+v", first.Options)
	}
	if len(first.Options.Tags) != 2 || first.Options.Tags[1] != "generics" {
		t.Fatalf("tags not scanned: %v", first.Options.Tags)
	}
	if first.LastGeneratedAt == nil || !first.LastGeneratedAt.Equal(at) {
		t.Fatalf("lastGeneratedAt not scanned: %v", first.LastGeneratedAt)
	}
	if first.LastGeneratedPostID != "p1" || first.TotalGenerated != 3 {
		t.Fatalf("bookkeeping not scanned: %+v", first)
	}
	second := topics[1]
	if second.LastGeneratedAt != nil || second.LastError != "boom" || second.Options.Tags != nil {
		t.Fatalf("nullable columns not handled: %+v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetTopicNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM content_topics WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(topicRowColumns))

	_, err = NewPostgres(db).GetTopic(context.Background(), "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresPatchTopic(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta(`UPDATE content_topics SET last_generated_at = $1, last_generated_post_id = $2, total_generated = COALESCE(total_generated, $3) + $4, last_error = NULL, updated_at = NOW() WHERE id = $5`)
	mock.ExpectExec(query).
		WithArgs(at, "p1", 0, 1, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgres(db).PatchTopic(context.Background(), "t1", Patch{
		Set: map[string]interface{}{
			models.FieldLastGeneratedAt:     at,
			models.FieldLastGeneratedPostID: models.NewReference("drafts.p1"),
		},
		SetIfMissing: map[string]interface{}{models.FieldTotalGenerated: 0},
		Inc:          map[string]int{models.FieldTotalGenerated: 1},
		Unset:        []string{models.FieldLastError},
	})
	if err != nil {
		t.Fatalf("PatchTopic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPatchTopicMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE content_topics SET last_error = $1, updated_at = NOW() WHERE id = $2`)).
		WithArgs("boom", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgres(db).PatchTopic(context.Background(), "gone", Patch{Set: map[string]interface{}{models.FieldLastError: "boom"}})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresPatchTopicRejectsUnknownField(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	err = NewPostgres(db).PatchTopic(context.Background(), "t1", Patch{Set: map[string]interface{}{"name": "x"}})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestPostgresCreatePost(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO posts (id, topic_id, title, slug, excerpt, body, tags, published, published_at, created_at)`)).
		WithArgs(sqlmock.AnyArg(), "t1", "Hello", "hello", "", "# Hello", sqlmock.AnyArg(), false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	post, err := NewPostgres(db).CreatePost(context.Background(), models.Post{TopicID: "t1", Title: "Hello", Slug: "hello", Body: "# Hello"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if post.ID == "" || post.Slug != "hello" {
		t.Fatalf("unexpected stored post: %+v", post)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresCreatePostSuffixesTakenSlug(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	insert := regexp.QuoteMeta(`INSERT INTO posts`)
	taken := &pq.Error{Code: "23505", Constraint: "idx_posts_slug", Message: "duplicate key value violates unique constraint"}
	mock.ExpectExec(insert).
		WithArgs("0f8e2c1a-77aa-4b5e-9c1d-000000000001", "t1", "GraphQL APIs in Practice", "graphql-apis-in-practice", "", "body", sqlmock.AnyArg(), false, nil).
		WillReturnError(taken)
	mock.ExpectExec(insert).
		WithArgs("0f8e2c1a-77aa-4b5e-9c1d-000000000001", "t1", "GraphQL APIs in Practice", "graphql-apis-in-practice-0f8e2c1a", "", "body", sqlmock.AnyArg(), false, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	post, err := NewPostgres(db).CreatePost(context.Background(), models.Post{
		ID: "0f8e2c1a-77aa-4b5e-9c1d-000000000001", TopicID: "t1",
		Title: "GraphQL APIs in Practice", Slug: "graphql-apis-in-practice", Body: "body",
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if post.Slug != "graphql-apis-in-practice-0f8e2c1a" {
		t.Fatalf("slug = %q", post.Slug)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresCreatePostOtherConflictFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO posts`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "posts_pkey"})

	_, err = NewPostgres(db).CreatePost(context.Background(), models.Post{ID: "p1", Title: "Hello", Slug: "hello", Body: "b"})
	if !errors.Is(err, errors.ErrUpstream) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPatchTopicSeedsMissingField(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE content_topics SET total_generated = COALESCE(total_generated, $1), updated_at = NOW() WHERE id = $2`)).
		WithArgs(0, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgres(db).PatchTopic(context.Background(), "t1", Patch{
		SetIfMissing: map[string]interface{}{models.FieldTotalGenerated: 0},
	})
	if err != nil {
		t.Fatalf("PatchTopic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
