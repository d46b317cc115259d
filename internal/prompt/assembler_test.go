package prompt

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openPromptDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "prompt-test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Prompt{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestAssemble_ServerModeUsesActivePrompt(t *testing.T) {
	conn := openPromptDB(t)
	if errCreate := conn.Create(&models.Prompt{
		Name:       "coach",
		PromptType: models.PromptTypeSystem,
		Content:    "You are a strength coach.",
		IsActive:   true,
	}).Error; errCreate != nil {
		t.Fatalf("create prompt: %v", errCreate)
	}

	out, err := New(conn).Assemble(context.Background(), Request{
		Mode:         ModeServer,
		SystemPrompt: "client-supplied system, must be ignored",
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if out.System != "You are a strength coach." {
		t.Fatalf("expected active prompt, got %q", out.System)
	}
}

func TestAssemble_ServerModeFallsBackToBuiltin(t *testing.T) {
	conn := openPromptDB(t)

	out, err := New(conn).Assemble(context.Background(), Request{Mode: ModeServer})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if out.System == "" {
		t.Fatalf("expected builtin default prompt, got empty system")
	}
}

func TestAssemble_PassthroughKeepsClientSystem(t *testing.T) {
	conn := openPromptDB(t)
	if errCreate := conn.Create(&models.Prompt{
		Name:       "coach",
		PromptType: models.PromptTypeSystem,
		Content:    "server prompt",
		IsActive:   true,
	}).Error; errCreate != nil {
		t.Fatalf("create prompt: %v", errCreate)
	}

	out, err := New(conn).Assemble(context.Background(), Request{
		Mode:         ModePassthrough,
		SystemPrompt: "client prompt",
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if out.System != "client prompt" {
		t.Fatalf("expected client prompt, got %q", out.System)
	}
}

func TestAssemble_ToolsPatchAppended(t *testing.T) {
	conn := openPromptDB(t)
	if errCreate := conn.Create(&models.Prompt{
		Name:       "tools",
		PromptType: models.PromptTypeTools,
		Content:    "Use tool results when present.",
		ToolsJSON:  datatypes.JSON(`[{"name":"web_search"}]`),
		IsActive:   true,
	}).Error; errCreate != nil {
		t.Fatalf("create tools prompt: %v", errCreate)
	}

	out, err := New(conn).Assemble(context.Background(), Request{
		Mode:         ModePassthrough,
		SystemPrompt: "base",
		ToolsEnabled: true,
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !strings.Contains(out.System, "Use tool results when present.") {
		t.Fatalf("expected tools patch in system, got %q", out.System)
	}
	if len(out.ToolsJSON) == 0 {
		t.Fatalf("expected tools schema to be carried")
	}
}

func TestAssemble_SkipPromptOmitsInjection(t *testing.T) {
	conn := openPromptDB(t)
	if errCreate := conn.Create(&models.Prompt{
		Name:       "coach",
		PromptType: models.PromptTypeSystem,
		Content:    "server prompt",
		IsActive:   true,
	}).Error; errCreate != nil {
		t.Fatalf("create prompt: %v", errCreate)
	}

	out, err := New(conn).Assemble(context.Background(), Request{
		Mode:       ModeServer,
		SkipPrompt: true,
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if out.System != "" {
		t.Fatalf("expected no server injection with skip_prompt, got %q", out.System)
	}
}

func TestAssemble_ToolResultsInjectedBeforeUserTurn(t *testing.T) {
	conn := openPromptDB(t)

	out, err := New(conn).Assemble(context.Background(), Request{
		Mode: ModePassthrough,
		Messages: []Message{
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "best chest exercise?"},
		},
		ToolResults: []string{"exercise_lookup: bench press, incline press"},
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out.Messages))
	}
	if !strings.Contains(out.Messages[1].Content, "exercise_lookup") {
		t.Fatalf("expected tool results injected ahead of the user turn")
	}
	if out.Messages[2].Content != "best chest exercise?" {
		t.Fatalf("expected user turn preserved last")
	}
}
