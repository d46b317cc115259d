package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// anthropicVersion is the API version header required by the messages API.
const anthropicVersion = "2023-06-01"

// anthropicDefaultMaxTokens applies when the request does not set a cap;
// the messages API requires max_tokens.
const anthropicDefaultMaxTokens = 4096

// AnthropicClient speaks the Anthropic-style messages wire shape.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAnthropicClient constructs an Anthropic-style caller.
func NewAnthropicClient(baseURL, apiKey string, httpClient *http.Client) *AnthropicClient {
	return &AnthropicClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// messagesRequest is the messages API payload.
type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// messagesResponse is the non-streaming messages body.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// messagesEvent is one streaming messages SSE payload.
type messagesEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (c *AnthropicClient) buildPayload(req Request, stream bool) messagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return messagesRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *AnthropicClient) do(ctx context.Context, payload messagesRequest) (*http.Response, error) {
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", errMarshal)
	}
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if errReq != nil {
		return nil, fmt.Errorf("upstream: build request: %w", errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, errDo := c.httpClient.Do(httpReq)
	if errDo != nil {
		if ctx.Err() != nil {
			return nil, &Error{Code: ReasonTimeout, Msg: errDo.Error()}
		}
		return nil, &Error{Code: Reason5xx, Msg: errDo.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Code: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Msg: string(detail)}
	}
	return resp, nil
}

// Complete performs a non-streaming messages call.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, errDo := c.do(ctx, c.buildPayload(req, false))
	if errDo != nil {
		return "", errDo
	}
	defer func() { _ = resp.Body.Close() }()

	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return "", &Error{Code: Reason5xx, Msg: errRead.Error()}
	}
	var parsed messagesResponse
	if errUnmarshal := json.Unmarshal(body, &parsed); errUnmarshal != nil {
		return "", &Error{Code: ReasonInvalidShape, Msg: errUnmarshal.Error()}
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 && len(parsed.Content) == 0 {
		return "", &Error{Code: ReasonInvalidShape, Msg: "response has no content blocks"}
	}
	return text.String(), nil
}

// Stream performs a streaming messages call, yielding one chunk per
// content_block_delta event until message_stop.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan StreamResult, error) {
	resp, errDo := c.do(ctx, c.buildPayload(req, true))
	if errDo != nil {
		return nil, errDo
	}

	out := make(chan StreamResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *AnthropicClient) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event messagesEvent
		if errUnmarshal := json.Unmarshal([]byte(data), &event); errUnmarshal != nil {
			sendResult(ctx, out, StreamResult{Err: &Error{Code: ReasonInvalidShape, Msg: errUnmarshal.Error()}})
			return
		}
		switch event.Type {
		case "message_stop":
			return
		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			if !sendResult(ctx, out, StreamResult{Chunk: Chunk{Text: event.Delta.Text, Raw: data}}) {
				return
			}
		default:
			// message_start, content_block_start, ping, etc. carry no text.
		}
	}
	if errScan := scanner.Err(); errScan != nil {
		sendResult(ctx, out, StreamResult{Err: &Error{Code: Reason5xx, Msg: errScan.Error()}})
	}
}
