package models

import "time"

// Usage records one completed or failed message run for accounting.
type Usage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RunID          string `gorm:"type:varchar(64);not null;uniqueIndex"` // Message run identifier.
	ConversationID string `gorm:"type:varchar(64);not null;index"`       // Conversation identifier.

	ModelKey   string `gorm:"type:varchar(255);not null;index"` // Client-supplied model key.
	Provider   string `gorm:"type:varchar(64);not null"`        // Resolved provider shape.
	Model      string `gorm:"type:varchar(255);not null;index"` // Resolved upstream model.
	EndpointID uint64 `gorm:"not null;index"`                   // Resolved endpoint ID.

	Status     string `gorm:"type:varchar(16);not null"` // completed or error.
	ErrorCode  string `gorm:"type:varchar(64)"`          // Stable reason code on error.
	DurationMS int64  `gorm:"not null;default:0"`        // Wall time of the run.
	ChunkCount int    `gorm:"not null;default:0"`        // Delta events emitted.

	RequestedAt time.Time `gorm:"not null;index"`          // When the run started.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}
