package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

// ModelMappingHandler manages admin CRUD endpoints for model mappings.
type ModelMappingHandler struct {
	db *gorm.DB // Database handle for model mapping records.
}

// NewModelMappingHandler constructs a model mapping handler.
func NewModelMappingHandler(db *gorm.DB) *ModelMappingHandler {
	return &ModelMappingHandler{db: db}
}

// createModelMappingRequest captures the payload for creating a model mapping.
type createModelMappingRequest struct {
	ScopeType    string         `json:"scope_type"`    // model or conversation; defaults to model.
	ScopeKey     string         `json:"scope_key"`     // Client-facing model key.
	Name         string         `json:"name"`          // Display name.
	DefaultModel string         `json:"default_model"` // Model used when the caller picks none.
	Candidates   []string       `json:"candidates"`    // Ordered upstream model names.
	Metadata     map[string]any `json:"metadata"`      // Optional side-table.
	IsEnabled    *bool          `json:"is_enabled"`    // Optional active flag.
}

// Create validates input and inserts a new model mapping. The default
// model must be one of the candidates.
func (h *ModelMappingHandler) Create(c *gin.Context) {
	var body createModelMappingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	scopeType := strings.TrimSpace(body.ScopeType)
	if scopeType == "" {
		scopeType = models.ScopeTypeModel
	}
	if scopeType != models.ScopeTypeModel && scopeType != models.ScopeTypeConversation {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_type must be model or conversation"})
		return
	}
	if strings.TrimSpace(body.ScopeKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_key is required"})
		return
	}
	if strings.TrimSpace(body.DefaultModel) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "default_model is required"})
		return
	}
	if len(models.NormalizeCandidates(body.Candidates)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "candidates are required"})
		return
	}

	isEnabled := true
	if body.IsEnabled != nil {
		isEnabled = *body.IsEnabled
	}

	mapping := models.ModelMapping{
		ScopeType:    scopeType,
		ScopeKey:     strings.TrimSpace(body.ScopeKey),
		Name:         strings.TrimSpace(body.Name),
		DefaultModel: strings.TrimSpace(body.DefaultModel),
		IsEnabled:    isEnabled,
	}
	if errSet := mapping.SetCandidates(body.Candidates); errSet != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid candidates"})
		return
	}
	if body.Metadata != nil {
		raw, errMarshal := marshalMetadata(body.Metadata)
		if errMarshal != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metadata"})
			return
		}
		mapping.Metadata = raw
	}
	if errValidate := mapping.ValidateDefaultModel(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "default_model must be one of candidates"})
		return
	}

	if errCreate := h.db.WithContext(c.Request.Context()).Create(&mapping).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create model mapping failed"})
		return
	}
	c.JSON(http.StatusCreated, h.formatMapping(&mapping))
}

// List returns model mappings filtered by query parameters.
func (h *ModelMappingHandler) List(c *gin.Context) {
	var (
		scopeTypeQ = strings.TrimSpace(c.Query("scope_type"))
		scopeKeyQ  = strings.TrimSpace(c.Query("scope_key"))
		enabledQ   = strings.TrimSpace(c.Query("is_enabled"))
		blockedQ   = strings.TrimSpace(c.Query("is_blocked"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.ModelMapping{})
	if scopeTypeQ != "" {
		q = q.Where("scope_type = ?", scopeTypeQ)
	}
	if scopeKeyQ != "" {
		q = q.Where("scope_key = ?", scopeKeyQ)
	}
	if value, ok := parseBoolQuery(enabledQ); ok {
		q = q.Where("is_enabled = ?", value)
	}
	if value, ok := parseBoolQuery(blockedQ); ok {
		q = q.Where("is_blocked = ?", value)
	}

	var rows []models.ModelMapping
	if errFind := q.Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list model mappings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, h.formatMapping(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"model_mappings": out})
}

// Get fetches a model mapping by ID.
func (h *ModelMappingHandler) Get(c *gin.Context) {
	mapping, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.formatMapping(mapping))
}

// updateModelMappingRequest captures optional fields for mapping updates.
type updateModelMappingRequest struct {
	Name         *string        `json:"name"`          // Optional display name.
	DefaultModel *string        `json:"default_model"` // Optional default model.
	Candidates   []string       `json:"candidates"`    // Optional candidate list replacement.
	Metadata     map[string]any `json:"metadata"`      // Optional metadata replacement.
	IsEnabled    *bool          `json:"is_enabled"`    // Optional active flag.
}

// Update validates and applies model mapping field updates. The default
// model and candidate invariant is checked against the merged state.
func (h *ModelMappingHandler) Update(c *gin.Context) {
	mapping, ok := h.load(c)
	if !ok {
		return
	}
	var body updateModelMappingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if body.Name != nil {
		mapping.Name = strings.TrimSpace(*body.Name)
	}
	if body.DefaultModel != nil {
		trimmed := strings.TrimSpace(*body.DefaultModel)
		if trimmed == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "default_model cannot be empty"})
			return
		}
		mapping.DefaultModel = trimmed
	}
	if body.Candidates != nil {
		if len(models.NormalizeCandidates(body.Candidates)) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "candidates cannot be empty"})
			return
		}
		if errSet := mapping.SetCandidates(body.Candidates); errSet != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid candidates"})
			return
		}
	}
	if body.Metadata != nil {
		raw, errMarshal := marshalMetadata(body.Metadata)
		if errMarshal != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metadata"})
			return
		}
		mapping.Metadata = raw
	}
	if body.IsEnabled != nil {
		mapping.IsEnabled = *body.IsEnabled
	}
	if errValidate := mapping.ValidateDefaultModel(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "default_model must be one of candidates"})
		return
	}

	mapping.UpdatedAt = time.Now().UTC()
	if errSave := h.db.WithContext(c.Request.Context()).Save(mapping).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatMapping(mapping))
}

// Delete removes a model mapping by ID.
func (h *ModelMappingHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.ModelMapping{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Enable marks a model mapping as enabled.
func (h *ModelMappingHandler) Enable(c *gin.Context) {
	h.setFlag(c, "is_enabled", true)
}

// Disable marks a model mapping as disabled.
func (h *ModelMappingHandler) Disable(c *gin.Context) {
	h.setFlag(c, "is_enabled", false)
}

// Block hard-blocks a mapping; resolution fails with blocked_model.
func (h *ModelMappingHandler) Block(c *gin.Context) {
	h.setFlag(c, "is_blocked", true)
}

// Unblock lifts an admin block.
func (h *ModelMappingHandler) Unblock(c *gin.Context) {
	h.setFlag(c, "is_blocked", false)
}

func (h *ModelMappingHandler) setFlag(c *gin.Context, column string, value bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).
		Model(&models.ModelMapping{}).
		Where("id = ?", id).
		Updates(map[string]any{column: value, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *ModelMappingHandler) load(c *gin.Context) (*models.ModelMapping, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return nil, false
	}
	var mapping models.ModelMapping
	if errFind := h.db.WithContext(c.Request.Context()).First(&mapping, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &mapping, true
}

func (h *ModelMappingHandler) formatMapping(mapping *models.ModelMapping) gin.H {
	return gin.H{
		"id":            mapping.ID,
		"scope_type":    mapping.ScopeType,
		"scope_key":     mapping.ScopeKey,
		"name":          mapping.Name,
		"default_model": mapping.DefaultModel,
		"candidates":    mapping.CandidateList(),
		"metadata":      mapping.MetadataMap(),
		"is_enabled":    mapping.IsEnabled,
		"is_blocked":    mapping.IsBlocked,
		"created_at":    mapping.CreatedAt,
		"updated_at":    mapping.UpdatedAt,
	}
}

func marshalMetadata(metadata map[string]any) (datatypes.JSON, error) {
	raw, errMarshal := json.Marshal(metadata)
	if errMarshal != nil {
		return nil, errMarshal
	}
	return datatypes.JSON(raw), nil
}

// parseIDParam parses the numeric :id path parameter.
func parseIDParam(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// parseBoolQuery interprets true/1/false/0 query values.
func parseBoolQuery(value string) (bool, bool) {
	switch value {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}
