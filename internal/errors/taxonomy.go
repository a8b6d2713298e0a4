package errors

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Kind classifies an error by how the hot path should react to it, per the
// taxonomy the orchestrator and dispatcher use to decide between degrading
// gracefully and surfacing a failure.
type Kind string

const (
	// TransportTransient covers timeouts and connect errors to the control
	// plane: logged, the call proceeds in passthrough, service stays up.
	TransportTransient Kind = "transport_transient"
	// TransportPermanent covers 4xx/5xx or malformed responses from a hook
	// endpoint: logged, the hook is treated as "no change".
	TransportPermanent Kind = "transport_permanent"
	// PolicyMalformedOutput covers a policy-returned chunk that fails
	// validation: logged, replaced with the original chunk, event recorded.
	PolicyMalformedOutput Kind = "policy_malformed_output"
	// PolicyRaised covers a panic/error raised from inside policy code:
	// logged, ERROR sent downstream, passthrough engaged.
	PolicyRaised Kind = "policy_raised"
	// StreamIncompleteToolCall covers an upstream stream that ended with an
	// unterminated tool call: fail-closed, synthetic blocked response.
	StreamIncompleteToolCall Kind = "stream_incomplete_tool_call"
	// Fatal covers conditions with no safe degraded path (e.g. no database
	// pool for a required read). Never raised on the streaming hot path.
	Fatal Kind = "fatal"
)

// TaxonomyError wraps an underlying error with its Kind so callers on the
// hot path can switch on how to degrade without string-matching messages.
type TaxonomyError struct {
	Kind Kind
	Err  error
}

func (e *TaxonomyError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *TaxonomyError) Unwrap() error {
	return e.Err
}

// Wrap tags err with a Kind, for call sites that need to record which
// degraded path was taken without re-deriving it from the error message.
func Wrap(kind Kind, err error) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Err: err}
}

// RateLimitError is the standardized 429 body for §4.7's rate limiter.
type RateLimitError struct {
	Error    string    `json:"error"`
	Key      string    `json:"key"`
	Limit    int       `json:"limit"`
	Window   string    `json:"window"`
	ResetsAt time.Time `json:"resets_at,omitempty"`
}

// AbortWithRateLimit sends a 429 response and aborts the request.
func AbortWithRateLimit(c *gin.Context, key string, limit int, window time.Duration) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, &RateLimitError{
		Error:  "rate limit exceeded",
		Key:    key,
		Limit:  limit,
		Window: window.String(),
	})
}
