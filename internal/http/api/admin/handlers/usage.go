package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

const (
	usageDefaultPageSize = 50
	usageMaxPageSize     = 500
)

// UsageHandler exposes read-only run accounting.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a usage handler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// List returns usage rows newest first, with optional filters on
// conversation, model key, status, and a requested_at time window.
func (h *UsageHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Usage{})
	if conversationID := strings.TrimSpace(c.Query("conversation_id")); conversationID != "" {
		q = q.Where("conversation_id = ?", conversationID)
	}
	if modelKey := strings.TrimSpace(c.Query("model_key")); modelKey != "" {
		q = q.Where("model_key = ?", modelKey)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		q = q.Where("status = ?", status)
	}
	if since, ok := parseTimeQuery(c.Query("since")); ok {
		q = q.Where("requested_at >= ?", since)
	}
	if until, ok := parseTimeQuery(c.Query("until")); ok {
		q = q.Where("requested_at < ?", until)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count usage failed"})
		return
	}

	page, pageSize := parsePagination(c)
	var rows []models.Usage
	errFind := q.Order("requested_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list usage failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatUsage(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"usage":     out,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c *gin.Context) (page, pageSize int) {
	page = 1
	if raw := c.Query("page"); raw != "" {
		if value, errParse := strconv.Atoi(raw); errParse == nil && value > 0 {
			page = value
		}
	}
	pageSize = usageDefaultPageSize
	if raw := c.Query("page_size"); raw != "" {
		if value, errParse := strconv.Atoi(raw); errParse == nil && value > 0 {
			pageSize = value
		}
	}
	if pageSize > usageMaxPageSize {
		pageSize = usageMaxPageSize
	}
	return page, pageSize
}

func parseTimeQuery(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	parsed, errParse := time.Parse(time.RFC3339, raw)
	if errParse != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func formatUsage(row *models.Usage) gin.H {
	return gin.H{
		"id":              row.ID,
		"run_id":          row.RunID,
		"conversation_id": row.ConversationID,
		"model_key":       row.ModelKey,
		"provider":        row.Provider,
		"model":           row.Model,
		"endpoint_id":     row.EndpointID,
		"status":          row.Status,
		"error_code":      row.ErrorCode,
		"duration_ms":     row.DurationMS,
		"chunk_count":     row.ChunkCount,
		"requested_at":    row.RequestedAt,
	}
}
