package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

// Stable reason codes for upstream failures.
const (
	ReasonTimeout      = "upstream_timeout"
	Reason4xx          = "upstream_4xx"
	Reason5xx          = "upstream_5xx"
	ReasonInvalidShape = "invalid_response_shape"
)

// Error is a classified upstream failure.
type Error struct {
	Code   string // One of the Reason* codes.
	Status int    // HTTP status when applicable.
	Msg    string // Human-readable detail.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream: %s (status %d): %s", e.Code, e.Status, e.Msg)
	}
	return fmt.Sprintf("upstream: %s: %s", e.Code, e.Msg)
}

// Reason extracts the stable reason code from an error chain.
func Reason(err error) string {
	var upstreamErr *Error
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return Reason5xx
}

// classifyStatus maps an HTTP status to a reason code.
func classifyStatus(status int) string {
	switch {
	case status >= 400 && status < 500:
		return Reason4xx
	default:
		return Reason5xx
	}
}

// Message is one chat turn in the upstream payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-agnostic upstream call description.
type Request struct {
	Model       string    // Upstream model name.
	System      string    // System message, may be empty.
	Messages    []Message // Conversation turns.
	MaxTokens   int       // 0 means provider default.
	Temperature float64   // 0 means provider default.
}

// Chunk is one streamed token delta from the upstream.
type Chunk struct {
	Text string // Decoded text delta.
	Raw  string // Unmodified upstream frame payload, for raw passthrough.
}

// StreamResult wraps a chunk or terminal error from streaming.
type StreamResult struct {
	Chunk Chunk
	Err   error
}

// Caller issues chat calls against one upstream provider.
type Caller interface {
	// Complete performs a non-streaming call and returns the full text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream performs a streaming call. The channel is closed after the
	// last chunk; a terminal error is delivered as the final result.
	Stream(ctx context.Context, req Request) (<-chan StreamResult, error)
}

// defaultTimeout bounds one upstream chat call.
const defaultTimeout = 120 * time.Second

// sendResult delivers one stream result unless the caller has gone away.
// Returns false when the context is done so the reader can stop.
func sendResult(ctx context.Context, out chan<- StreamResult, result StreamResult) bool {
	select {
	case out <- result:
		return true
	case <-ctx.Done():
		return false
	}
}

// ForEndpoint constructs the caller matching the endpoint's wire shape.
func ForEndpoint(endpoint models.Endpoint, httpClient *http.Client) (Caller, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	switch endpoint.Provider {
	case models.ProviderOpenAI, "":
		return NewOpenAIClient(endpoint.BaseURL, endpoint.APIKey, httpClient), nil
	case models.ProviderAnthropic:
		return NewAnthropicClient(endpoint.BaseURL, endpoint.APIKey, httpClient), nil
	default:
		return nil, fmt.Errorf("upstream: unsupported provider %q", endpoint.Provider)
	}
}
