package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// classifyStatus picks the error code from an HTTP status, falling
// back to message heuristics when the status alone is ambiguous.
func classifyStatus(label string, status int, message string, cause error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ragerr.New(ragerr.ErrCodeAuth,
			fmt.Sprintf("%s rejected the API key: %s", label, message), cause).
			WithSuggestion("check the configured API key")
	case status == http.StatusNotFound:
		return ragerr.New(ragerr.ErrCodeModelUnknown,
			fmt.Sprintf("%s: %s", label, message), cause)
	case status == http.StatusTooManyRequests:
		return ragerr.New(ragerr.ErrCodeRateLimited,
			fmt.Sprintf("%s rate limit reached: %s", label, message), cause).
			WithSuggestion("wait a moment and retry")
	case status == http.StatusBadRequest && mentionsContextLength(message):
		return ragerr.New(ragerr.ErrCodeContextLength,
			fmt.Sprintf("%s: %s", label, message), cause).
			WithSuggestion("shorten the conversation or pick a model with a larger context window")
	case status >= 500:
		return ragerr.ConnectionError(
			fmt.Sprintf("%s server error %d: %s", label, status, message), cause)
	case status > 0:
		return ragerr.InternalError(
			fmt.Sprintf("%s request failed with status %d: %s", label, status, message), cause)
	default:
		return classifyMessage(label, cause)
	}
}

// classifyMessage is the last resort: sort an opaque error by the
// markers the backends put in their message text.
func classifyMessage(label string, err error) error {
	var ragError *ragerr.RagError
	if errors.As(err, &ragError) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return ragerr.New(ragerr.ErrCodeAuth,
			fmt.Sprintf("%s authentication failed", label), err).
			WithSuggestion("check the configured API key")
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return ragerr.New(ragerr.ErrCodeRateLimited,
			fmt.Sprintf("%s rate limit reached", label), err)
	case mentionsContextLength(msg):
		return ragerr.New(ragerr.ErrCodeContextLength,
			fmt.Sprintf("%s context window exceeded", label), err)
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return ragerr.New(ragerr.ErrCodeTimeout,
			fmt.Sprintf("%s request timed out", label), err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "failed to connect"):
		return ragerr.ConnectionError(fmt.Sprintf("cannot reach %s", label), err)
	default:
		return ragerr.InternalError(fmt.Sprintf("%s request failed", label), err)
	}
}

// mentionsContextLength matches the phrasings backends use when the
// prompt exceeds the model's window.
func mentionsContextLength(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "context window") ||
		strings.Contains(lower, "too many tokens")
}
