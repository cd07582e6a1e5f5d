package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid", Invalid("topic is required"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("missing signature"), http.StatusUnauthorized},
		{"misconfigured", Misconfigured("QSTASH_TOKEN is not set"), http.StatusInternalServerError},
		{"upstream", Upstream(New("boom"), "generate"), http.StatusInternalServerError},
		{"not found", Mark(New("topic t1"), ErrNotFound), http.StatusNotFound},
		{"upstream not found", Upstream(Mark(New("dataset missing"), ErrNotFound), "list topics"), http.StatusInternalServerError},
		{"plain", New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestMarksSurviveWrapping(t *testing.T) {
	err := Invalid("bad payload")
	wrapped := fmt.Errorf("handler: %w", Wrap(err, "decode"))

	assert.True(t, Is(wrapped, ErrInvalidRequest))
	assert.False(t, Is(wrapped, ErrUpstream))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(wrapped))
}

func TestUpstreamNil(t *testing.T) {
	assert.NoError(t, Upstream(nil, "noop"))
}
