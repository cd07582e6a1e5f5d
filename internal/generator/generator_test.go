package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
)

type fakeLLM struct {
	content string
	err     error
	ready   error
	got     models.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req models.CompletionRequest) (models.Completion, error) {
	f.got = req
	if f.err != nil {
		return models.Completion{}, f.err
	}
	return models.Completion{Content: f.content, Model: "test-model"}, nil
}

func (f *fakeLLM) Ready() error { return f.ready }

type fakePosts struct {
	posts []models.Post
	ready error
}

func (f *fakePosts) CreatePost(_ context.Context, p models.Post) (models.Post, error) {
	f.posts = append(f.posts, p)
	p.ID = "drafts.post-1"
	return p, nil
}

func (f *fakePosts) Ready() error { return f.ready }

const goodDraft = `{"title":"GraphQL APIs: A Practical Guide!","excerpt":"Why and how.","body":"GraphQL lets clients ask for exactly what they need.","tags":["GraphQL","api"]}`

func TestGenerate(t *testing.T) {
	llm := &fakeLLM{content: "```json\n" + goodDraft + "\n```"}
	posts := &fakePosts{}
	g, err := New(llm, posts, nil)
	require.NoError(t, err)

	res, err := g.Generate(context.Background(), models.GenerationRequest{
		TopicID: "t1",
		Subject: "  GraphQL APIs ",
		Options: models.GenerationOptions{Tone: "casual", IncludeCodeExamples: true, Tags: []string{"web", "graphql"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "drafts.post-1", res.PostID)
	assert.Equal(t, "graphql-apis-a-practical-guide", res.Slug)
	assert.Equal(t, 9, res.WordCount)

	require.Len(t, posts.posts, 1)
	p := posts.posts[0]
	assert.Equal(t, "t1", p.TopicID)
	assert.False(t, p.Published)
	assert.Equal(t, []string{"web", "graphql", "api"}, p.Tags)

	assert.True(t, llm.got.JSON)
	assert.Contains(t, llm.got.System, "casual tone")
	assert.Contains(t, llm.got.System, "code examples")
	assert.Contains(t, llm.got.User, "about 1200 words on: GraphQL APIs")
}

func TestGenerateRejectsBadModelOutput(t *testing.T) {
	for name, content := range map[string]string{
		"not json":     "Sure! Here is your post.",
		"missing body": `{"title":"Hi"}`,
		"blank title":  `{"title":"   ","body":"text"}`,
		"wrong type":   `{"title":"Hi","body":"text","tags":"go"}`,
	} {
		t.Run(name, func(t *testing.T) {
			posts := &fakePosts{}
			g, err := New(&fakeLLM{content: content}, posts, nil)
			require.NoError(t, err)
			_, err = g.Generate(context.Background(), models.GenerationRequest{Subject: "Go"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrUpstream))
			assert.Empty(t, posts.posts)
		})
	}
}

func TestGenerateEmptySubject(t *testing.T) {
	llm := &fakeLLM{content: goodDraft}
	g, err := New(llm, &fakePosts{}, nil)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), models.GenerationRequest{Subject: " "})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	assert.Empty(t, llm.got.User, "LLM not called")
}

func TestReady(t *testing.T) {
	g, err := New(&fakeLLM{ready: errors.Misconfigured("OPENAI_API_KEY is not configured")}, &fakePosts{}, nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(g.Ready(), errors.ErrMisconfigured))

	g, err = New(&fakeLLM{}, &fakePosts{ready: errors.Misconfigured("no token")}, nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(g.Ready(), errors.ErrMisconfigured))
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "Hello, World!", want: "hello-world"},
		{in: "  Go 1.22 -- what's new ", want: "go-1-22-what-s-new"},
		{in: "Café au lait", want: "caf-au-lait"},
		{in: "---", want: ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), tc.in)
	}
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("word ", 100))), maxSlugLen)
}
