package translation

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind is the classification callers use to decide between retrying a
// unit, recovering via re-splitting, or aborting the whole job.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindContentSafety  ErrorKind = "content_safety"
	KindRateLimit      ErrorKind = "rate_limit"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindAPI            ErrorKind = "api"
	KindCancelled      ErrorKind = "cancelled"
)

// ContentSafetyError marks a provider-side refusal to generate output. An
// empty successful response to a non-empty prompt is reported as this too.
type ContentSafetyError struct {
	Message string
}

func (e *ContentSafetyError) Error() string { return "content safety block: " + e.Message }

// RateLimitError is fatal for the whole job, never retried in place.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Message }

// InvalidRequestError signals a configuration problem (bad key, model or
// arguments) that further retries will not fix.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Message }

// APIError is any other provider failure.
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return "api error: " + e.Message }

// ErrCancelled marks a user-initiated abort, distinct from all API errors.
var ErrCancelled = errors.New("translation cancelled")

var safetyKeywords = []string{
	"safety", "blocked", "block_reason", "recitation", "filtered",
	"prohibited_content", "content policy", "content_filter",
	"responsible ai",
}

var rateLimitKeywords = []string{
	"429", "rate limit", "rate_limit", "quota", "resource_exhausted",
	"resource has been exhausted", "too many requests", "overloaded",
	"overload",
}

var invalidRequestKeywords = []string{
	"api key", "api_key", "invalid argument", "invalid_argument",
	"unauthorized", "permission denied", "401", "403", "400",
	"model not found", "invalid model", "bad request",
}

// Classify maps any error onto the fixed taxonomy. Typed errors are honored
// first; everything else is matched case-insensitively against keyword sets,
// because most providers only expose failure detail through message text.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var safety *ContentSafetyError
	if errors.As(err, &safety) {
		return KindContentSafety
	}
	var rate *RateLimitError
	if errors.As(err, &rate) {
		return KindRateLimit
	}
	var invalid *InvalidRequestError
	if errors.As(err, &invalid) {
		return KindInvalidRequest
	}

	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range safetyKeywords {
		if strings.Contains(msg, kw) {
			return KindContentSafety
		}
	}
	for _, kw := range rateLimitKeywords {
		if strings.Contains(msg, kw) {
			return KindRateLimit
		}
	}
	for _, kw := range invalidRequestKeywords {
		if strings.Contains(msg, kw) {
			return KindInvalidRequest
		}
	}

	return KindAPI
}

// typedError converts an arbitrary provider error into its typed equivalent
// so later errors.As checks agree with Classify.
func typedError(err error) error {
	switch Classify(err) {
	case KindContentSafety:
		return &ContentSafetyError{Message: err.Error()}
	case KindRateLimit:
		return &RateLimitError{Message: err.Error()}
	case KindInvalidRequest:
		return &InvalidRequestError{Message: err.Error()}
	case KindCancelled:
		return ErrCancelled
	default:
		return &APIError{Message: err.Error()}
	}
}
