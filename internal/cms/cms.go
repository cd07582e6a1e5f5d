// Package cms reads ContentTopics and writes generated posts and topic
// bookkeeping to the content store.
package cms

import (
	"context"

	"github.com/mohammad-safakhou/seshat/models"
)

// Patch is a partial update of one document. Fields are addressed by their
// CMS names (models.Field*). Nothing outside the named fields is touched.
//
// Operations apply in the order Set, SetIfMissing, Unset, Inc, so a counter
// seeded by SetIfMissing can be incremented in the same patch.
type Patch struct {
	Set          map[string]interface{}
	SetIfMissing map[string]interface{}
	Inc          map[string]int
	Unset        []string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.Set) == 0 && len(p.SetIfMissing) == 0 && len(p.Inc) == 0 && len(p.Unset) == 0
}

// TopicReader lists and loads ContentTopics.
type TopicReader interface {
	ListActiveTopics(ctx context.Context) ([]models.ContentTopic, error)
	GetTopic(ctx context.Context, id string) (models.ContentTopic, error)
}

// TopicPatcher applies partial updates to a ContentTopic.
type TopicPatcher interface {
	PatchTopic(ctx context.Context, id string, patch Patch) error
}

// PostWriter stores a generated post. The returned post carries the
// document id and the slug it was stored under.
type PostWriter interface {
	CreatePost(ctx context.Context, post models.Post) (models.Post, error)
}

// Store is a full CMS backend.
type Store interface {
	TopicReader
	TopicPatcher
	PostWriter
	// Ready reports a configuration fault, such as a missing write token, without calling out.
	Ready() error
}
