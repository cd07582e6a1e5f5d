package models

import (
	"strings"
	"time"
)

// SchedulePrefix namespaces every schedule this service owns on the queue.
const SchedulePrefix = "seshat-"

// ContentTopic field names as stored in the CMS. Patches address fields by these names.
const (
	FieldLastGeneratedAt     = "lastGeneratedAt"
	FieldTotalGenerated      = "totalGenerated"
	FieldLastGeneratedPostID = "lastGeneratedPostId"
	FieldLastError           = "lastError"
)

// ContentTopic is a CMS-resident configuration record describing one recurring
// or ad hoc subject for generated blog content.
type ContentTopic struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Active              bool              `json:"active"`
	Topic               string            `json:"topic"`
	CronSchedule        string            `json:"cronSchedule"`
	Options             GenerationOptions `json:"options"`
	LastGeneratedAt     *time.Time        `json:"lastGeneratedAt,omitempty"`
	TotalGenerated      int               `json:"totalGenerated"`
	LastGeneratedPostID string            `json:"lastGeneratedPostId,omitempty"`
	LastError           string            `json:"lastError,omitempty"`
}

// GenerationOptions tune a single generation.
type GenerationOptions struct {
	TargetWordCount     int      `json:"targetWordCount,omitempty"`
	Tone                string   `json:"tone,omitempty"`
	Audience            string   `json:"audience,omitempty"`
	IncludeCodeExamples bool     `json:"includeCodeExamples,omitempty"`
	AutoPublish         bool     `json:"autoPublish,omitempty"`
	Tags                []string `json:"tags,omitempty"`
}

// Reference points at another CMS document. Weak references may dangle,
// which is what draft posts need.
type Reference struct {
	Type string `json:"_type"`
	Ref  string `json:"_ref"`
	Weak bool   `json:"_weak,omitempty"`
}

// NewReference builds a weak reference to the published id of a document.
func NewReference(id string) Reference {
	return Reference{Type: "reference", Ref: strings.TrimPrefix(id, "drafts."), Weak: true}
}

// Schedule is a cron registration held by the queue service.
type Schedule struct {
	ScheduleID  string    `json:"scheduleId"`
	Destination string    `json:"destination"`
	Cron        string    `json:"cron"`
	Body        string    `json:"body,omitempty"`
	Retries     int       `json:"retries"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// ScheduleID returns the deterministic schedule id for a topic.
func ScheduleID(topicID string) string {
	return SchedulePrefix + topicID
}

// TopicIDFromSchedule extracts the topic id from a schedule id owned by this service.
func TopicIDFromSchedule(scheduleID string) (string, bool) {
	if !strings.HasPrefix(scheduleID, SchedulePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(scheduleID, SchedulePrefix)
	return id, id != ""
}

// Post is a generated blog post as written to the CMS.
type Post struct {
	ID          string     `json:"id"`
	TopicID     string     `json:"topicId,omitempty"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Excerpt     string     `json:"excerpt"`
	Body        string     `json:"body"`
	Tags        []string   `json:"tags,omitempty"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// GenerationRequest is what the generator needs to write one post.
type GenerationRequest struct {
	TopicID string
	Subject string
	Options GenerationOptions
}

// GenerationResult is the ephemeral outcome of one generation.
type GenerationResult struct {
	PostID    string `json:"postId,omitempty"`
	Title     string `json:"title,omitempty"`
	Slug      string `json:"slug,omitempty"`
	WordCount int    `json:"wordCount,omitempty"`
}

// SyncError records a per-topic failure during schedule sync.
type SyncError struct {
	TopicID string `json:"topicId"`
	Error   string `json:"error"`
}

// SyncResult summarises one schedule sync pass.
type SyncResult struct {
	Created   []string    `json:"created"`
	Updated   []string    `json:"updated"`
	Deleted   []string    `json:"deleted"`
	Unchanged []string    `json:"unchanged"`
	Errors    []SyncError `json:"errors"`
}

// NewSyncResult returns a result with empty, non-nil lists so it encodes as [] not null.
func NewSyncResult() SyncResult {
	return SyncResult{
		Created:   []string{},
		Updated:   []string{},
		Deleted:   []string{},
		Unchanged: []string{},
		Errors:    []SyncError{},
	}
}
