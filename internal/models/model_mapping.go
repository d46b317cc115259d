package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Mapping scope types understood by the resolver.
const (
	// ScopeTypeModel maps a business model key (e.g. "xai") to upstream models.
	ScopeTypeModel = "model"
	// ScopeTypeConversation pins a mapping to a single conversation.
	ScopeTypeConversation = "conversation"
)

// ModelMapping resolves a client-facing model key to upstream model candidates.
type ModelMapping struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ScopeType string `gorm:"type:varchar(64);not null;default:'model';uniqueIndex:idx_model_mappings_scope"` // Scope type.
	ScopeKey  string `gorm:"type:varchar(255);not null;uniqueIndex:idx_model_mappings_scope"`                // Client-facing key.
	Name      string `gorm:"type:text"`                                                                      // Display name.

	DefaultModel string         `gorm:"type:varchar(255);not null"`       // Model used when the caller picks none.
	Candidates   datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Ordered upstream model names.
	Metadata     datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Open side-table (preferred_endpoint_id, notes).

	IsEnabled bool `gorm:"not null;default:true"`  // Whether the mapping resolves.
	IsBlocked bool `gorm:"not null;default:false"` // Admin hard-block; resolution fails with blocked_model.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CandidateList decodes the candidates column into a string slice.
func (m *ModelMapping) CandidateList() []string {
	if m == nil || len(m.Candidates) == 0 {
		return nil
	}
	var out []string
	if errUnmarshal := json.Unmarshal(m.Candidates, &out); errUnmarshal != nil {
		return nil
	}
	return out
}

// SetCandidates normalizes and stores the candidate list.
// Entries are trimmed, empties dropped, duplicates removed, order preserved.
func (m *ModelMapping) SetCandidates(candidates []string) error {
	cleaned := NormalizeCandidates(candidates)
	data, errMarshal := json.Marshal(cleaned)
	if errMarshal != nil {
		return fmt.Errorf("model mapping: marshal candidates: %w", errMarshal)
	}
	m.Candidates = datatypes.JSON(data)
	return nil
}

// NormalizeCandidates trims, de-duplicates, and drops empty candidate names.
func NormalizeCandidates(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	cleaned := make([]string, 0, len(candidates))
	for _, name := range candidates {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}

// MetadataMap decodes the metadata column into a string-keyed map.
func (m *ModelMapping) MetadataMap() map[string]any {
	if m == nil || len(m.Metadata) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if errUnmarshal := json.Unmarshal(m.Metadata, &out); errUnmarshal != nil {
		return map[string]any{}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// PreferredEndpointID extracts metadata.preferred_endpoint_id if present.
func (m *ModelMapping) PreferredEndpointID() (uint64, bool) {
	meta := m.MetadataMap()
	raw, ok := meta["preferred_endpoint_id"]
	if !ok {
		return 0, false
	}
	switch typed := raw.(type) {
	case float64:
		if typed <= 0 {
			return 0, false
		}
		return uint64(typed), true
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false
		}
		var id uint64
		if _, errScan := fmt.Sscanf(trimmed, "%d", &id); errScan != nil || id == 0 {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

// ValidateDefaultModel enforces that a set default model appears in candidates.
func (m *ModelMapping) ValidateDefaultModel() error {
	defaultModel := strings.TrimSpace(m.DefaultModel)
	if defaultModel == "" {
		return nil
	}
	for _, candidate := range m.CandidateList() {
		if candidate == defaultModel {
			return nil
		}
	}
	return fmt.Errorf("model mapping: default_model %q is not in candidates", defaultModel)
}
