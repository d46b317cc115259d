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

// OpenAIClient speaks the OpenAI-compatible chat/completions wire shape.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient constructs an OpenAI-compatible caller.
func NewOpenAIClient(baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// chatMessage is one OpenAI wire message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the chat/completions payload.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// chatResponse is the non-streaming chat/completions body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chatChunk is one streaming chat/completions SSE payload.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAIClient) buildPayload(req Request, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	return chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func (c *OpenAIClient) do(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", errMarshal)
	}
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if errReq != nil {
		return nil, fmt.Errorf("upstream: build request: %w", errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
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

// Complete performs a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, errDo := c.do(ctx, c.buildPayload(req, false))
	if errDo != nil {
		return "", errDo
	}
	defer func() { _ = resp.Body.Close() }()

	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return "", &Error{Code: Reason5xx, Msg: errRead.Error()}
	}
	var parsed chatResponse
	if errUnmarshal := json.Unmarshal(body, &parsed); errUnmarshal != nil {
		return "", &Error{Code: ReasonInvalidShape, Msg: errUnmarshal.Error()}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Code: ReasonInvalidShape, Msg: "response has no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream performs a streaming chat completion, yielding one chunk per
// upstream SSE data frame until [DONE].
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan StreamResult, error) {
	resp, errDo := c.do(ctx, c.buildPayload(req, true))
	if errDo != nil {
		return nil, errDo
	}

	out := make(chan StreamResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *OpenAIClient) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
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
		if data == "[DONE]" {
			return
		}

		var chunk chatChunk
		if errUnmarshal := json.Unmarshal([]byte(data), &chunk); errUnmarshal != nil {
			sendResult(ctx, out, StreamResult{Err: &Error{Code: ReasonInvalidShape, Msg: errUnmarshal.Error()}})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if !sendResult(ctx, out, StreamResult{Chunk: Chunk{Text: delta, Raw: data}}) {
			return
		}
	}
	if errScan := scanner.Err(); errScan != nil {
		sendResult(ctx, out, StreamResult{Err: &Error{Code: Reason5xx, Msg: errScan.Error()}})
	}
}
