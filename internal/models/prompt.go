package models

import (
	"time"

	"gorm.io/datatypes"
)

// Prompt types stored in the prompts table.
const (
	// PromptTypeSystem is the base system prompt.
	PromptTypeSystem = "system"
	// PromptTypeTools is the tools-schema prompt patch.
	PromptTypeTools = "tools"
)

// Prompt stores a system or tools prompt managed via the admin UI.
// At most one prompt per type is active; the activate operation
// deactivates siblings in the same transaction.
type Prompt struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name       string `gorm:"type:text;not null"`                               // Display name.
	PromptType string `gorm:"type:varchar(32);not null;default:'system';index"` // system or tools.
	Content    string `gorm:"type:text;not null"`                               // Prompt text.

	ToolsJSON datatypes.JSON `gorm:"type:jsonb"` // Optional structured tool schema.

	IsActive bool `gorm:"not null;default:false;index"` // Whether this prompt is injected.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
