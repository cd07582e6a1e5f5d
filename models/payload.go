package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// GenerationPayload is the body shared by the trigger and the worker webhook.
type GenerationPayload struct {
	TopicID string `json:"topicId,omitempty"`
	Topic   string `json:"topic,omitempty"`
}

// DecodeGenerationPayload parses a request body. Malformed JSON and fields of
// the wrong type are rejected; a payload naming nothing is accepted here and
// rejected by Validate so callers can order their checks.
func DecodeGenerationPayload(raw []byte) (GenerationPayload, error) {
	var p GenerationPayload
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return p, errors.Invalid("invalid JSON body: empty")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return p, errors.Mark(errors.Wrap(err, "invalid JSON body"), errors.ErrInvalidRequest)
	}
	var err error
	if p.TopicID, err = stringField(fields, "topicId"); err != nil {
		return p, err
	}
	if p.Topic, err = stringField(fields, "topic"); err != nil {
		return p, err
	}
	return p, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	v, ok := fields[key]
	if !ok || string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", errors.Invalid("%s must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

// Validate requires at least one of topicId or topic.
func (p GenerationPayload) Validate() error {
	if p.TopicID == "" && p.Topic == "" {
		return errors.Invalid("either topic or topicId is required")
	}
	return nil
}

// Mode names the dispatch path: "topic" for a stored ContentTopic, "adhoc" for free text.
func (p GenerationPayload) Mode() string {
	if p.TopicID != "" {
		return "topic"
	}
	return "adhoc"
}

// Encode returns the canonical JSON body for the payload.
func (p GenerationPayload) Encode() []byte {
	b, _ := json.Marshal(p)
	return b
}
