package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llm: %s request timed out: %v", e.Provider, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// UserMessage returns a short explanation suitable for end users.
func (e *TimeoutError) UserMessage() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("The request timed out after %s, please try again later.", e.Timeout)
	}
	return "The request timed out, please try again later."
}

// NetworkError reports a transport failure before any API response.
type NetworkError struct {
	Provider string
	Cause    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("llm: %s network error: %v", e.Provider, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

func (e *NetworkError) UserMessage() string {
	return "Network connection failed, check your network settings and retry."
}

// APIError reports a non-success response from the provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: %s api error (HTTP %d): %v", e.Provider, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("llm: %s api error: %v", e.Provider, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func (e *APIError) UserMessage() string {
	switch e.StatusCode {
	case 401:
		return "The API key is invalid or expired, check your configuration."
	case 429:
		return "Too many API requests, please retry later."
	case 500:
		return "The API service is temporarily unavailable, please retry later."
	case 503, 529:
		return "The API service is overloaded, please retry later."
	}
	return fmt.Sprintf("API call failed: %v", e.Cause)
}

// UserMessage renders err for end users when it is a classified LLM error,
// falling back to err.Error().
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return err.Error()
}

// Classify maps an SDK or transport error into *TimeoutError, *NetworkError
// or *APIError. Cancellation is returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var (
		te *TimeoutError
		ne *NetworkError
		ae *APIError
	)
	if errors.As(err, &te) || errors.As(err, &ne) || errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return &APIError{Provider: provider, StatusCode: anthropicErr.StatusCode, Cause: err}
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return &APIError{Provider: provider, StatusCode: openaiErr.StatusCode, Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &TimeoutError{Provider: provider, Cause: err}
		}
		return &NetworkError{Provider: provider, Cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{Provider: provider, Cause: err}
	}
	return &APIError{Provider: provider, Cause: err}
}
