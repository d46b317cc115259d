// Package agent runs backend-owned tools ahead of the upstream call.
// The model never issues function calls the server executes; the client
// names the tools it wants and the pipeline injects their output into
// the prompt.
package agent

import (
	"context"
	"fmt"
	"time"
)

// Tool names accepted on the message API.
const (
	ToolWebSearch      = "web_search"
	ToolExerciseLookup = "exercise_lookup"
)

// Result is one tool execution's output.
type Result struct {
	Tool    string   `json:"tool"`
	Detail  string   `json:"detail"`            // Context block injected into the prompt.
	Summary string   `json:"summary,omitempty"` // Short digest, surfaced as serp_summary.
	Queries []string `json:"queries,omitempty"` // Issued queries, surfaced as serp_queries.
}

// Tool executes one backend capability against a query string.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, query string) (Result, error)
}

var errUnknownTool = fmt.Errorf("agent: unknown tool")

// Runner dispatches tool invocations under a shared execution budget.
type Runner struct {
	tools   map[string]Tool
	timeout time.Duration
}

func NewRunner(timeout time.Duration, tools ...Tool) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &Runner{tools: make(map[string]Tool, len(tools)), timeout: timeout}
	for _, tool := range tools {
		r.tools[tool.Name()] = tool
	}
	return r
}

// Known reports whether a tool name is registered.
func (r *Runner) Known(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke runs one tool with the configured timeout applied.
func (r *Runner) Invoke(ctx context.Context, name, query string) (Result, error) {
	tool, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", errUnknownTool, name)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	result, err := tool.Invoke(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("agent: %s: %w", name, err)
	}
	result.Tool = name
	return result, nil
}
