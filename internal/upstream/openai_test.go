package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer header")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello from upstream"}}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "sk-test", server.Client())
	text, err := client.Complete(context.Background(), Request{
		Model:    "grok-x",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "hello from upstream" {
		t.Fatalf("expected upstream text, got %q", text)
	}
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{"Hel", "lo ", "wor", "ld", "!"}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "sk-test", server.Client())
	stream, err := client.Stream(context.Background(), Request{
		Model:    "grok-x",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var got []string
	for result := range stream {
		if result.Err != nil {
			t.Fatalf("stream result: %v", result.Err)
		}
		got = append(got, result.Chunk.Text)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(got))
	}
	joined := ""
	for _, chunk := range got {
		joined += chunk
	}
	if joined != "Hello world!" {
		t.Fatalf("expected joined text, got %q", joined)
	}
}

func TestOpenAIStreamCancelReleasesReader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for {
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"rep\"}}]}\n\n")
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewOpenAIClient(server.URL, "sk-test", server.Client())
	stream, err := client.Stream(ctx, Request{
		Model:    "grok-x",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	// Take one chunk then walk away without draining the rest.
	result, ok := <-stream
	if !ok || result.Err != nil {
		t.Fatalf("first chunk: ok=%v err=%v", ok, result.Err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-stream:
			if !open {
				return
			}
		case <-deadline:
			t.Fatalf("stream channel still open after cancel")
		}
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, Reason4xx},
		{http.StatusUnauthorized, Reason4xx},
		{http.StatusBadGateway, Reason5xx},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, `{"error":{"message":"nope"}}`)
		}))

		client := NewOpenAIClient(server.URL, "sk-test", server.Client())
		_, err := client.Complete(context.Background(), Request{Model: "m"})
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		var upstreamErr *Error
		if !errors.As(err, &upstreamErr) {
			t.Fatalf("status %d: expected *Error, got %T", tc.status, err)
		}
		if upstreamErr.Code != tc.code {
			t.Fatalf("status %d: expected code %q, got %q", tc.status, tc.code, upstreamErr.Code)
		}
		if Reason(err) != tc.code {
			t.Fatalf("status %d: Reason mismatch %q", tc.status, Reason(err))
		}
	}
}

func TestOpenAIInvalidShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "sk-test", server.Client())
	_, err := client.Complete(context.Background(), Request{Model: "m"})
	if Reason(err) != ReasonInvalidShape {
		t.Fatalf("expected invalid_response_shape, got %v", err)
	}
}

func TestAnthropicStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Push\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" day\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	client := NewAnthropicClient(server.URL, "sk-ant", server.Client())
	stream, err := client.Stream(context.Background(), Request{
		Model:    "claude-x",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	joined := ""
	for result := range stream {
		if result.Err != nil {
			t.Fatalf("stream result: %v", result.Err)
		}
		joined += result.Chunk.Text
	}
	if joined != "Push day" {
		t.Fatalf("expected joined text, got %q", joined)
	}
}

func TestForEndpointUnsupportedProvider(t *testing.T) {
	_, err := ForEndpoint(models.Endpoint{Provider: "grpc"}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}
