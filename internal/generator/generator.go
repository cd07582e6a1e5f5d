// Package generator turns a subject into a blog post: it prompts the LLM for
// a structured draft, validates it and writes it to the CMS.
package generator

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/cms"
	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
	"github.com/mohammad-safakhou/seshat/provider"
)

const draftSchema = `{
  "type": "object",
  "required": ["title", "body"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "excerpt": {"type": "string"},
    "body": {"type": "string", "minLength": 1},
    "tags": {"type": "array", "items": {"type": "string"}}
  }
}`

const maxSlugLen = 96

var fence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// PostStore is the part of the CMS the generator writes to.
type PostStore interface {
	cms.PostWriter
	Ready() error
}

type draft struct {
	Title   string   `json:"title"`
	Excerpt string   `json:"excerpt"`
	Body    string   `json:"body"`
	Tags    []string `json:"tags"`
}

type Generator struct {
	llm    provider.Provider
	posts  PostStore
	schema *jsonschema.Schema
	logger *zap.Logger
}

func New(llm provider.Provider, posts PostStore, logger *zap.Logger) (*Generator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("draft.json", strings.NewReader(draftSchema)); err != nil {
		return nil, errors.Wrap(err, "add draft schema")
	}
	schema, err := compiler.Compile("draft.json")
	if err != nil {
		return nil, errors.Wrap(err, "compile draft schema")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: llm, posts: posts, schema: schema, logger: logger.Named("generator")}, nil
}

// Ready reports a missing LLM key or CMS token.
func (g *Generator) Ready() error {
	if err := g.llm.Ready(); err != nil {
		return err
	}
	return g.posts.Ready()
}

// Generate writes one post for req and returns its id.
func (g *Generator) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return models.GenerationResult{}, errors.Invalid("generation subject is empty")
	}
	opts := withDefaults(req.Options)
	log := g.logger.With(zap.String("topic_id", req.TopicID), zap.String("subject", subject))

	start := time.Now()
	completion, err := g.llm.Complete(ctx, models.CompletionRequest{
		System: systemPrompt(opts),
		User:   userPrompt(subject, opts),
		JSON:   true,
	})
	if err != nil {
		return models.GenerationResult{}, err
	}
	d, err := g.parseDraft(completion.Content)
	if err != nil {
		return models.GenerationResult{}, err
	}

	post := models.Post{
		TopicID:   req.TopicID,
		Title:     strings.TrimSpace(d.Title),
		Slug:      Slugify(d.Title),
		Excerpt:   strings.TrimSpace(d.Excerpt),
		Body:      strings.TrimSpace(d.Body),
		Tags:      mergeTags(opts.Tags, d.Tags),
		Published: opts.AutoPublish,
	}
	if post.Slug == "" {
		post.Slug = Slugify(subject)
	}
	stored, err := g.posts.CreatePost(ctx, post)
	if err != nil {
		return models.GenerationResult{}, err
	}
	post.ID, post.Slug = stored.ID, stored.Slug

	res := models.GenerationResult{PostID: post.ID, Title: post.Title, Slug: post.Slug, WordCount: WordCount(post.Body)}
	log.Info("post generated",
		zap.String("post_id", post.ID),
		zap.String("slug", post.Slug),
		zap.Int("words", res.WordCount),
		zap.String("model", completion.Model),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (g *Generator) parseDraft(content string) (draft, error) {
	content = strings.TrimSpace(content)
	if m := fence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return draft{}, errors.Mark(errors.Wrap(err, "model returned invalid JSON"), errors.ErrUpstream)
	}
	if err := g.schema.Validate(doc); err != nil {
		return draft{}, errors.Mark(errors.Wrap(err, "model output does not match the post schema"), errors.ErrUpstream)
	}
	var d draft
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return draft{}, errors.Mark(errors.Wrap(err, "decode draft"), errors.ErrUpstream)
	}
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Body) == "" {
		return draft{}, errors.Mark(errors.New("model returned an empty title or body"), errors.ErrUpstream)
	}
	return d, nil
}

// Slugify lowercases s and joins its letters and digits with single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

func mergeTags(sets ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, set := range sets {
		for _, t := range set {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
