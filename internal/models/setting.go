package models

import (
	"encoding/json"
	"time"
)

// Setting stores one runtime-tunable configuration value as JSON.
type Setting struct {
	Key   string          `gorm:"type:varchar(255);primaryKey"` // Setting key.
	Value json.RawMessage `gorm:"type:jsonb"`                   // JSON value payload.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
