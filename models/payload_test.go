package models

import (
	"testing"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGenerationPayload(t *testing.T) {
	p, err := DecodeGenerationPayload([]byte(`{"topicId":" abc123 "}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", p.TopicID)
	assert.Equal(t, "topic", p.Mode())
	require.NoError(t, p.Validate())

	p, err = DecodeGenerationPayload([]byte(`{"topic":"GraphQL APIs","topicId":null}`))
	require.NoError(t, err)
	assert.Equal(t, "GraphQL APIs", p.Topic)
	assert.Equal(t, "adhoc", p.Mode())
}

func TestDecodeGenerationPayloadRejects(t *testing.T) {
	for name, body := range map[string]string{
		"empty":         ``,
		"malformed":     `{"topic":`,
		"array":         `["topic"]`,
		"numeric id":    `{"topicId": 42}`,
		"object topic":  `{"topic": {"name":"x"}}`,
		"bool topic id": `{"topicId": true, "topic": "ok"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeGenerationPayload([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}

func TestValidateRequiresOneField(t *testing.T) {
	p, err := DecodeGenerationPayload([]byte(`{"topic":"   "}`))
	require.NoError(t, err)
	err = p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	assert.Contains(t, err.Error(), "either topic or topicId is required")
}

func TestScheduleIDRoundTrip(t *testing.T) {
	id := ScheduleID("topic-1")
	assert.Equal(t, "seshat-topic-1", id)
	got, ok := TopicIDFromSchedule(id)
	assert.True(t, ok)
	assert.Equal(t, "topic-1", got)

	_, ok = TopicIDFromSchedule("other-topic-1")
	assert.False(t, ok)
	_, ok = TopicIDFromSchedule("seshat-")
	assert.False(t, ok)
}

func TestNewReferenceStripsDraftPrefix(t *testing.T) {
	ref := NewReference("drafts.post-1")
	assert.Equal(t, "post-1", ref.Ref)
	assert.Equal(t, "reference", ref.Type)
	assert.True(t, ref.Weak)
}
