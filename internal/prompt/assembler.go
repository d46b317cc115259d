package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Prompt assembly modes.
const (
	// ModeServer ignores client system content and injects the active prompts.
	ModeServer = "server"
	// ModePassthrough keeps client messages verbatim.
	ModePassthrough = "passthrough"
)

// builtinDefault is the fallback system prompt when server mode has no
// active prompt configured. Requests never fail for lack of a prompt.
const builtinDefault = "You are GymBro, a helpful fitness assistant. Answer concisely and accurately."

// Message is one chat turn sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the assembler inputs for one run.
type Request struct {
	Mode         string    // server or passthrough.
	SkipPrompt   bool      // When true, omit all server-side injection.
	ToolsEnabled bool      // Whether the tools prompt patch applies.
	SystemPrompt string    // Client-provided system content (passthrough).
	Messages     []Message // Client-provided conversation turns.
	ToolResults  []string  // Backend tool output blocks to inject as context.
}

// Assembled is the final upstream payload content.
type Assembled struct {
	System    string          // Final system message.
	Messages  []Message       // Final conversation turns.
	ToolsJSON json.RawMessage // Structured tool schema, if any.
}

// Assembler builds the final system message and tool schema for a run.
type Assembler struct {
	db *gorm.DB
}

// New constructs an Assembler.
func New(conn *gorm.DB) *Assembler {
	return &Assembler{db: conn}
}

// Assemble merges the active prompts with per-request overrides.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Assembled, error) {
	out := Assembled{Messages: req.Messages}

	if req.SkipPrompt {
		// Client fully owns the prompt.
		out.System = strings.TrimSpace(req.SystemPrompt)
		out.Messages = injectToolResults(out.Messages, req.ToolResults)
		return out, nil
	}

	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = ModeServer
	}

	switch mode {
	case ModeServer:
		system, errActive := a.activePromptContent(ctx, models.PromptTypeSystem)
		if errActive != nil {
			return Assembled{}, errActive
		}
		if system == "" {
			log.Debug("no active system prompt; using builtin default")
			system = builtinDefault
		}
		out.System = system
	case ModePassthrough:
		out.System = strings.TrimSpace(req.SystemPrompt)
	default:
		return Assembled{}, fmt.Errorf("prompt: unknown mode %q", mode)
	}

	if req.ToolsEnabled {
		patch, toolsJSON, errTools := a.activeToolsPrompt(ctx)
		if errTools != nil {
			return Assembled{}, errTools
		}
		if patch != "" {
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += patch
		}
		out.ToolsJSON = toolsJSON
	}

	out.Messages = injectToolResults(out.Messages, req.ToolResults)
	return out, nil
}

// activePromptContent returns the content of the single active prompt of
// the given type, or "" when none is active.
func (a *Assembler) activePromptContent(ctx context.Context, promptType string) (string, error) {
	var row models.Prompt
	errFind := a.db.WithContext(ctx).
		Where("prompt_type = ? AND is_active = ?", promptType, true).
		Order("updated_at DESC").
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("prompt: query active %s prompt: %w", promptType, errFind)
	}
	return strings.TrimSpace(row.Content), nil
}

// activeToolsPrompt returns the active tools patch text and schema.
func (a *Assembler) activeToolsPrompt(ctx context.Context) (string, json.RawMessage, error) {
	var row models.Prompt
	errFind := a.db.WithContext(ctx).
		Where("prompt_type = ? AND is_active = ?", models.PromptTypeTools, true).
		Order("updated_at DESC").
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("prompt: query active tools prompt: %w", errFind)
	}
	var schema json.RawMessage
	if len(row.ToolsJSON) > 0 {
		schema = json.RawMessage(row.ToolsJSON)
	}
	return strings.TrimSpace(row.Content), schema, nil
}

// injectToolResults prepends backend tool output as context blocks ahead
// of the final user turn. The model never executes tools itself; results
// arrive pre-computed from the agent path.
func injectToolResults(messages []Message, results []string) []Message {
	if len(results) == 0 {
		return messages
	}
	var block strings.Builder
	block.WriteString("Tool results:\n")
	for _, result := range results {
		trimmed := strings.TrimSpace(result)
		if trimmed == "" {
			continue
		}
		block.WriteString(trimmed)
		block.WriteString("\n")
	}

	out := make([]Message, 0, len(messages)+1)
	inserted := false
	for i, msg := range messages {
		if !inserted && i == len(messages)-1 && msg.Role == "user" {
			out = append(out, Message{Role: "user", Content: block.String()})
			inserted = true
		}
		out = append(out, msg)
	}
	if !inserted {
		out = append(out, Message{Role: "user", Content: block.String()})
	}
	return out
}
