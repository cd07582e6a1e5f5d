package cms

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

// Postgres is a Store over the content_topics and posts tables.
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

// patchable maps CMS field names onto content_topics columns.
var patchable = map[string]string{
	models.FieldLastGeneratedAt:     "last_generated_at",
	models.FieldTotalGenerated:      "total_generated",
	models.FieldLastGeneratedPostID: "last_generated_post_id",
	models.FieldLastError:           "last_error",
	"active":                        "active",
	"cronSchedule":                  "cron_schedule",
}

const topicColumns = `id, name, active, topic, cron_schedule, target_word_count, tone, audience,
include_code_examples, auto_publish, tags, last_generated_at, total_generated, last_generated_post_id, last_error`

func (p *Postgres) Ready() error {
	if p.DB == nil {
		return errors.Misconfigured("postgres CMS has no database connection")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTopic(row rowScanner) (models.ContentTopic, error) {
	var (
		t        models.ContentTopic
		tags     pq.StringArray
		lastAt   sql.NullTime
		lastPost sql.NullString
		lastErr  sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &t.Active, &t.Topic, &t.CronSchedule, &t.Options.TargetWordCount,
		&t.Options.Tone, &t.Options.Audience, &t.Options.IncludeCodeExamples, &t.Options.AutoPublish,
		&tags, &lastAt, &t.TotalGenerated, &lastPost, &lastErr)
	if err != nil {
		return t, err
	}
	if len(tags) > 0 {
		t.Options.Tags = []string(tags)
	}
	if lastAt.Valid {
		at := lastAt.Time
		t.LastGeneratedAt = &at
	}
	t.LastGeneratedPostID = lastPost.String
	t.LastError = lastErr.String
	return t, nil
}

func (p *Postgres) ListActiveTopics(ctx context.Context) ([]models.ContentTopic, error) {
	if err := p.Ready(); err != nil {
		return nil, err
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT `+topicColumns+` FROM content_topics WHERE active = TRUE ORDER BY id`)
	if err != nil {
		return nil, errors.Upstream(err, "list active topics")
	}
	defer rows.Close()
	var out []models.ContentTopic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, errors.Upstream(err, "scan topic")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Upstream(err, "list active topics")
	}
	return out, nil
}

func (p *Postgres) GetTopic(ctx context.Context, id string) (models.ContentTopic, error) {
	if err := p.Ready(); err != nil {
		return models.ContentTopic{}, err
	}
	row := p.DB.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM content_topics WHERE id = $1`, id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ContentTopic{}, errors.Mark(errors.Newf("content topic %s not found", id), errors.ErrNotFound)
	}
	if err != nil {
		return models.ContentTopic{}, errors.Upstream(err, "get topic")
	}
	return t, nil
}

// PatchTopic translates the patch into one UPDATE. Columns are emitted in
// sorted field order so the statement text is stable.
func (p *Postgres) PatchTopic(ctx context.Context, id string, patch Patch) error {
	if err := p.Ready(); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	var (
		sets []string
		args []interface{}
	)
	bind := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, field := range sortedKeys(patch.Set) {
		col, ok := patchable[field]
		if !ok {
			return errors.Invalid("field %q cannot be patched", field)
		}
		sets = append(sets, col+" = "+bind(columnValue(patch.Set[field])))
	}
	// A seeded field that is also incremented folds into one assignment.
	for _, field := range sortedKeys(patch.SetIfMissing) {
		col, ok := patchable[field]
		if !ok {
			return errors.Invalid("field %q cannot be patched", field)
		}
		if _, inc := patch.Inc[field]; inc {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %s)", col, col, bind(columnValue(patch.SetIfMissing[field]))))
	}
	incFields := make([]string, 0, len(patch.Inc))
	for f := range patch.Inc {
		incFields = append(incFields, f)
	}
	sort.Strings(incFields)
	for _, field := range incFields {
		col, ok := patchable[field]
		if !ok {
			return errors.Invalid("field %q cannot be incremented", field)
		}
		base := col
		if seed, ok := patch.SetIfMissing[field]; ok {
			base = fmt.Sprintf("COALESCE(%s, %s)", col, bind(columnValue(seed)))
		}
		sets = append(sets, fmt.Sprintf("%s = %s + %s", col, base, bind(patch.Inc[field])))
	}
	unset := append([]string(nil), patch.Unset...)
	sort.Strings(unset)
	for _, field := range unset {
		col, ok := patchable[field]
		if !ok {
			return errors.Invalid("field %q cannot be unset", field)
		}
		sets = append(sets, col+" = NULL")
	}
	sets = append(sets, "updated_at = NOW()")

	q := fmt.Sprintf("UPDATE content_topics SET %s WHERE id = %s", strings.Join(sets, ", "), bind(id))
	res, err := p.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Upstream(err, "patch topic")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Mark(errors.Newf("content topic %s not found", id), errors.ErrNotFound)
	}
	return nil
}

// slugIndex is the unique index on posts.slug.
const slugIndex = "idx_posts_slug"

// CreatePost inserts the post. A slug already taken by another post gets a
// suffix from the new post's id.
func (p *Postgres) CreatePost(ctx context.Context, post models.Post) (models.Post, error) {
	if err := p.Ready(); err != nil {
		return models.Post{}, err
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	err := p.insertPost(ctx, post)
	if isUniqueViolation(err, slugIndex) {
		post.Slug = suffixSlug(post.Slug, post.ID)
		err = p.insertPost(ctx, post)
	}
	if err != nil {
		return models.Post{}, errors.Upstream(err, "create post")
	}
	return post, nil
}

func (p *Postgres) insertPost(ctx context.Context, post models.Post) error {
	var topicID sql.NullString
	if post.TopicID != "" {
		topicID = sql.NullString{String: post.TopicID, Valid: true}
	}
	tags := post.Tags
	if tags == nil {
		tags = []string{}
	}
	var publishedAt sql.NullTime
	if post.Published {
		at := time.Now().UTC()
		if post.PublishedAt != nil {
			at = post.PublishedAt.UTC()
		}
		publishedAt = sql.NullTime{Time: at, Valid: true}
	}
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO posts (id, topic_id, title, slug, excerpt, body, tags, published, published_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
`, post.ID, topicID, post.Title, post.Slug, post.Excerpt, post.Body, pq.Array(tags), post.Published, publishedAt)
	return err
}

// isUniqueViolation reports a 23505 on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraint
}

func suffixSlug(slug, id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	if slug == "" {
		return short
	}
	return slug + "-" + short
}

// columnValue unwraps values that have a richer shape in document stores.
func columnValue(v interface{}) interface{} {
	switch x := v.(type) {
	case models.Reference:
		return x.Ref
	case *models.Reference:
		if x == nil {
			return nil
		}
		return x.Ref
	default:
		return v
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
