package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "dial tcp: boom" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("x", nil))

	var te *TimeoutError
	require.ErrorAs(t, Classify("x", fmt.Errorf("wrap: %w", context.DeadlineExceeded)), &te)
	require.ErrorAs(t, Classify("x", fakeNetErr{timeout: true}), &te)

	var ne *NetworkError
	require.ErrorAs(t, Classify("x", fakeNetErr{}), &ne)

	var ae *APIError
	require.ErrorAs(t, Classify("x", errors.New("weird")), &ae)
	assert.Zero(t, ae.StatusCode)

	canceled := Classify("x", context.Canceled)
	assert.ErrorIs(t, canceled, context.Canceled)
	assert.False(t, errors.As(canceled, &ae))

	already := &APIError{Provider: "x", StatusCode: 503, Cause: errors.New("down")}
	assert.Same(t, already, Classify("x", already))
}

func TestUserMessages(t *testing.T) {
	cases := map[int]string{
		401: "API key is invalid",
		429: "Too many API requests",
		500: "temporarily unavailable",
		503: "overloaded",
		418: "API call failed",
	}
	for status, want := range cases {
		err := &APIError{Provider: "x", StatusCode: status, Cause: errors.New("teapot")}
		assert.Contains(t, err.UserMessage(), want, "status %d", status)
	}

	assert.Contains(t, (&TimeoutError{Timeout: 30 * time.Second}).UserMessage(), "30s")
	assert.Contains(t, UserMessage(&NetworkError{Cause: errors.New("x")}), "Network connection failed")
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
}
