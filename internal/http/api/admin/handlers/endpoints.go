package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/health"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

// EndpointHandler manages admin CRUD for upstream endpoints. API keys
// are write-only: every read path returns a masked form.
type EndpointHandler struct {
	db     *gorm.DB
	prober *health.Prober
}

// NewEndpointHandler constructs an endpoint handler.
func NewEndpointHandler(db *gorm.DB, prober *health.Prober) *EndpointHandler {
	return &EndpointHandler{db: db, prober: prober}
}

type createEndpointRequest struct {
	Name      string `json:"name"`       // Display name.
	Provider  string `json:"provider"`   // openai or anthropic.
	BaseURL   string `json:"base_url"`   // Upstream base URL.
	APIKey    string `json:"api_key"`    // Upstream credential.
	Model     string `json:"model"`      // Primary model name.
	IsEnabled *bool  `json:"is_enabled"` // Optional active flag.
}

// Create validates input and inserts a new endpoint.
func (h *EndpointHandler) Create(c *gin.Context) {
	var body createEndpointRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	provider := strings.TrimSpace(body.Provider)
	if provider == "" {
		provider = models.ProviderOpenAI
	}
	if provider != models.ProviderOpenAI && provider != models.ProviderAnthropic {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider must be openai or anthropic"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if strings.TrimSpace(body.BaseURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base_url is required"})
		return
	}
	if strings.TrimSpace(body.Model) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	isEnabled := true
	if body.IsEnabled != nil {
		isEnabled = *body.IsEnabled
	}

	endpoint := models.Endpoint{
		Name:      strings.TrimSpace(body.Name),
		Provider:  provider,
		BaseURL:   strings.TrimRight(strings.TrimSpace(body.BaseURL), "/"),
		APIKey:    strings.TrimSpace(body.APIKey),
		Model:     strings.TrimSpace(body.Model),
		Status:    models.EndpointStatusUnknown,
		IsEnabled: isEnabled,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&endpoint).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create endpoint failed"})
		return
	}
	c.JSON(http.StatusCreated, h.formatEndpoint(&endpoint))
}

// List returns endpoints filtered by query parameters.
func (h *EndpointHandler) List(c *gin.Context) {
	var (
		providerQ = strings.TrimSpace(c.Query("provider"))
		statusQ   = strings.TrimSpace(c.Query("status"))
		enabledQ  = strings.TrimSpace(c.Query("is_enabled"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.Endpoint{})
	if providerQ != "" {
		q = q.Where("provider = ?", providerQ)
	}
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}
	if value, ok := parseBoolQuery(enabledQ); ok {
		q = q.Where("is_enabled = ?", value)
	}

	var rows []models.Endpoint
	if errFind := q.Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list endpoints failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, h.formatEndpoint(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": out})
}

// Get fetches an endpoint by ID.
func (h *EndpointHandler) Get(c *gin.Context) {
	endpoint, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.formatEndpoint(endpoint))
}

type updateEndpointRequest struct {
	Name      *string `json:"name"`       // Optional display name.
	Provider  *string `json:"provider"`   // Optional provider.
	BaseURL   *string `json:"base_url"`   // Optional base URL.
	APIKey    *string `json:"api_key"`    // Optional credential replacement.
	Model     *string `json:"model"`      // Optional primary model.
	IsEnabled *bool   `json:"is_enabled"` // Optional active flag.
}

// Update applies endpoint field updates. Omitting api_key keeps the
// stored credential.
func (h *EndpointHandler) Update(c *gin.Context) {
	endpoint, ok := h.load(c)
	if !ok {
		return
	}
	var body updateEndpointRequest
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
	if body.Provider != nil {
		provider := strings.TrimSpace(*body.Provider)
		if provider != models.ProviderOpenAI && provider != models.ProviderAnthropic {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provider must be openai or anthropic"})
			return
		}
		updates["provider"] = provider
	}
	if body.BaseURL != nil {
		baseURL := strings.TrimRight(strings.TrimSpace(*body.BaseURL), "/")
		if baseURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "base_url cannot be empty"})
			return
		}
		updates["base_url"] = baseURL
	}
	if body.APIKey != nil {
		updates["api_key"] = strings.TrimSpace(*body.APIKey)
	}
	if body.Model != nil {
		model := strings.TrimSpace(*body.Model)
		if model == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model cannot be empty"})
			return
		}
		updates["model"] = model
	}
	if body.IsEnabled != nil {
		updates["is_enabled"] = *body.IsEnabled
	}

	res := h.db.WithContext(c.Request.Context()).
		Model(&models.Endpoint{}).
		Where("id = ?", endpoint.ID).
		Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes an endpoint by ID.
func (h *EndpointHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.Endpoint{}, id)
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

// Probe runs an immediate health probe against one endpoint.
func (h *EndpointHandler) Probe(c *gin.Context) {
	endpoint, ok := h.load(c)
	if !ok {
		return
	}
	if h.prober == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prober not running"})
		return
	}
	h.prober.ProbeEndpoint(c.Request.Context(), endpoint)
	c.JSON(http.StatusOK, h.formatEndpoint(endpoint))
}

func (h *EndpointHandler) load(c *gin.Context) (*models.Endpoint, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return nil, false
	}
	var endpoint models.Endpoint
	if errFind := h.db.WithContext(c.Request.Context()).First(&endpoint, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &endpoint, true
}

func (h *EndpointHandler) formatEndpoint(endpoint *models.Endpoint) gin.H {
	return gin.H{
		"id":         endpoint.ID,
		"name":       endpoint.Name,
		"provider":   endpoint.Provider,
		"base_url":   endpoint.BaseURL,
		"api_key":    endpoint.MaskedAPIKey(),
		"model":      endpoint.Model,
		"model_list": endpoint.Models(),
		"status":     endpoint.Status,
		"latency_ms": endpoint.LatencyMS,
		"is_enabled": endpoint.IsEnabled,
		"created_at": endpoint.CreatedAt,
		"updated_at": endpoint.UpdatedAt,
	}
}
