package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Endpoint health states reported by the prober.
const (
	// EndpointStatusOnline means the last probe succeeded.
	EndpointStatusOnline = "online"
	// EndpointStatusOffline means the last probe failed.
	EndpointStatusOffline = "offline"
	// EndpointStatusUnknown means the endpoint was never probed.
	EndpointStatusUnknown = "unknown"
	// EndpointStatusChecking means a probe is in flight.
	EndpointStatusChecking = "checking"
)

// Provider wire shapes supported by the upstream caller.
const (
	// ProviderOpenAI speaks OpenAI-compatible chat/completions.
	ProviderOpenAI = "openai"
	// ProviderAnthropic speaks Anthropic-style messages.
	ProviderAnthropic = "anthropic"
)

// Endpoint stores an upstream AI provider connection.
type Endpoint struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name     string `gorm:"type:text;not null"`                               // Display name.
	Provider string `gorm:"type:varchar(64);not null;default:'openai';index"` // Wire shape (openai, anthropic).
	BaseURL  string `gorm:"type:text;not null"`                               // Upstream base URL.
	APIKey   string `gorm:"type:text"`                                        // Upstream credential; never echoed by read APIs.
	Model    string `gorm:"type:varchar(255);not null;index"`                 // Primary/default model name.

	ModelList datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Discovered upstream catalog.

	Status    string `gorm:"type:varchar(16);not null;default:'unknown';index"` // Health status.
	LatencyMS int64  `gorm:"not null;default:0"`                                // Last probe latency.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the endpoint is routable.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Models decodes the model_list column into a string slice.
func (e *Endpoint) Models() []string {
	if e == nil || len(e.ModelList) == 0 {
		return nil
	}
	var out []string
	if errUnmarshal := json.Unmarshal(e.ModelList, &out); errUnmarshal != nil {
		return nil
	}
	return out
}

// Serves reports whether the endpoint advertises the given model name.
func (e *Endpoint) Serves(model string) bool {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return false
	}
	if e.Model == trimmed {
		return true
	}
	for _, name := range e.Models() {
		if name == trimmed {
			return true
		}
	}
	return false
}

// MaskedAPIKey returns a redacted form safe for read APIs.
func (e *Endpoint) MaskedAPIKey() string {
	key := strings.TrimSpace(e.APIKey)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
