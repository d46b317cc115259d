package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

// PromptHandler manages the prompt template library. At most one prompt
// per prompt_type is active at a time; Activate enforces that in a
// transaction.
type PromptHandler struct {
	db *gorm.DB
}

// NewPromptHandler constructs a prompt handler.
func NewPromptHandler(db *gorm.DB) *PromptHandler {
	return &PromptHandler{db: db}
}

type createPromptRequest struct {
	Name       string          `json:"name"`        // Display name.
	PromptType string          `json:"prompt_type"` // system or tools.
	Content    string          `json:"content"`     // Prompt body.
	ToolsJSON  json.RawMessage `json:"tools_json"`  // Optional tool schema.
	IsActive   *bool           `json:"is_active"`   // Optional; defaults false.
}

func validPromptType(t string) bool {
	return t == models.PromptTypeSystem || t == models.PromptTypeTools
}

// Create inserts a new prompt. Creating an active prompt deactivates
// any existing active prompt of the same type.
func (h *PromptHandler) Create(c *gin.Context) {
	var body createPromptRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if !validPromptType(body.PromptType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt_type must be system or tools"})
		return
	}
	if body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	prompt := models.Prompt{
		Name:       strings.TrimSpace(body.Name),
		PromptType: body.PromptType,
		Content:    body.Content,
		ToolsJSON:  datatypes.JSON(body.ToolsJSON),
		IsActive:   body.IsActive != nil && *body.IsActive,
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if prompt.IsActive {
			if errClear := tx.Model(&models.Prompt{}).
				Where("prompt_type = ? AND is_active = ?", prompt.PromptType, true).
				Update("is_active", false).Error; errClear != nil {
				return errClear
			}
		}
		return tx.Create(&prompt).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create prompt failed"})
		return
	}
	c.JSON(http.StatusCreated, formatPrompt(&prompt))
}

// List returns prompts, optionally filtered by type and active flag.
func (h *PromptHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Prompt{})
	if promptType := strings.TrimSpace(c.Query("prompt_type")); promptType != "" {
		q = q.Where("prompt_type = ?", promptType)
	}
	if value, ok := parseBoolQuery(c.Query("is_active")); ok {
		q = q.Where("is_active = ?", value)
	}

	var rows []models.Prompt
	if errFind := q.Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list prompts failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatPrompt(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"prompts": out})
}

// Get fetches a prompt by ID.
func (h *PromptHandler) Get(c *gin.Context) {
	prompt, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatPrompt(prompt))
}

type updatePromptRequest struct {
	Name      *string         `json:"name"`       // Optional display name.
	Content   *string         `json:"content"`    // Optional prompt body.
	ToolsJSON json.RawMessage `json:"tools_json"` // Optional tool schema replacement.
}

// Update edits a prompt's name or content. Activation state changes go
// through Activate so the single-active invariant stays in one place.
func (h *PromptHandler) Update(c *gin.Context) {
	prompt, ok := h.load(c)
	if !ok {
		return
	}
	var body updatePromptRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if body.Content != nil {
		if *body.Content == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content cannot be empty"})
			return
		}
		updates["content"] = *body.Content
	}
	if len(body.ToolsJSON) > 0 {
		updates["tools_json"] = datatypes.JSON(body.ToolsJSON)
	}

	if errSave := h.db.WithContext(c.Request.Context()).
		Model(&models.Prompt{}).
		Where("id = ?", prompt.ID).
		Updates(updates).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a prompt by ID.
func (h *PromptHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.Prompt{}, id)
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

// Activate marks a prompt active and deactivates every other prompt of
// the same type in one transaction.
func (h *PromptHandler) Activate(c *gin.Context) {
	prompt, ok := h.load(c)
	if !ok {
		return
	}
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errClear := tx.Model(&models.Prompt{}).
			Where("prompt_type = ? AND id <> ?", prompt.PromptType, prompt.ID).
			Update("is_active", false).Error; errClear != nil {
			return errClear
		}
		return tx.Model(&models.Prompt{}).
			Where("id = ?", prompt.ID).
			Update("is_active", true).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activate failed"})
		return
	}
	prompt.IsActive = true
	c.JSON(http.StatusOK, formatPrompt(prompt))
}

func (h *PromptHandler) load(c *gin.Context) (*models.Prompt, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return nil, false
	}
	var prompt models.Prompt
	if errFind := h.db.WithContext(c.Request.Context()).First(&prompt, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &prompt, true
}

func formatPrompt(prompt *models.Prompt) gin.H {
	return gin.H{
		"id":          prompt.ID,
		"name":        prompt.Name,
		"prompt_type": prompt.PromptType,
		"content":     prompt.Content,
		"tools_json":  prompt.ToolsJSON,
		"is_active":   prompt.IsActive,
		"created_at":  prompt.CreatedAt,
		"updated_at":  prompt.UpdatedAt,
	}
}
