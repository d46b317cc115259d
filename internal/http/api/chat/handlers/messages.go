package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/gymbro-app/gymbro-gateway/internal/config"
	"github.com/gymbro-app/gymbro-gateway/internal/pipeline"
	"github.com/gymbro-app/gymbro-gateway/internal/prompt"
	"github.com/gymbro-app/gymbro-gateway/internal/ratelimit"
	"github.com/gymbro-app/gymbro-gateway/internal/security"
)

// MessageHandler accepts client message runs.
type MessageHandler struct {
	pipe    *pipeline.Pipeline
	limiter *ratelimit.Manager
	jwtCfg  config.JWTConfig
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(pipe *pipeline.Pipeline, limiter *ratelimit.Manager, jwtCfg config.JWTConfig) *MessageHandler {
	return &MessageHandler{pipe: pipe, limiter: limiter, jwtCfg: jwtCfg}
}

type messageBody struct {
	ConversationID string              `json:"conversation_id"` // Optional; generated when empty.
	ModelKey       string              `json:"model_key"`       // Mapping key to resolve.
	SelectedModel  string              `json:"selected_model"`  // Optional explicit candidate.
	Mode           string              `json:"mode"`            // server or passthrough.
	SkipPrompt     bool                `json:"skip_prompt"`     // Omit server-side prompt injection.
	ToolsEnabled   bool                `json:"tools_enabled"`   // Apply the tools prompt patch.
	SystemPrompt   string              `json:"system_prompt"`   // Passthrough system content.
	Messages       []prompt.Message    `json:"messages"`        // Conversation turns.
	Tools          []pipeline.ToolCall `json:"tools"`           // Backend tool invocations.
	Stream         bool                `json:"stream"`          // Request upstream streaming.
	MaxTokens      int                 `json:"max_tokens"`      // Upstream token cap.
	Temperature    float64             `json:"temperature"`     // Upstream sampling temperature.
}

// Create accepts a message run. The response carries only identifiers;
// all run output arrives on the events stream.
func (h *MessageHandler) Create(c *gin.Context) {
	subject, ok := clientSubject(c, h.jwtCfg.Secret)
	if !ok {
		return
	}

	var body messageBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.ModelKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_key is required"})
		return
	}
	if len(body.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}

	result, errLimit := h.limiter.Allow(c.Request.Context(), ratelimit.Key(subject, body.ModelKey))
	if errLimit != nil {
		log.WithError(errLimit).Warn("chat: rate limit check failed")
	}
	if !result.Allowed {
		c.Header("Retry-After", "1")
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	accepted, errSubmit := h.pipe.Submit(c.Request.Context(), pipeline.MessageRequest{
		ConversationID: strings.TrimSpace(body.ConversationID),
		ModelKey:       strings.TrimSpace(body.ModelKey),
		SelectedModel:  strings.TrimSpace(body.SelectedModel),
		Mode:           body.Mode,
		SkipPrompt:     body.SkipPrompt,
		ToolsEnabled:   body.ToolsEnabled,
		SystemPrompt:   body.SystemPrompt,
		Messages:       body.Messages,
		Tools:          body.Tools,
		Stream:         body.Stream,
		MaxTokens:      body.MaxTokens,
		Temperature:    body.Temperature,
	})
	if errSubmit != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit failed"})
		return
	}
	c.JSON(http.StatusAccepted, accepted)
}

// clientSubject authenticates the client bearer token and returns its
// subject. Writes the error response itself on failure.
func clientSubject(c *gin.Context, secret string) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || strings.TrimSpace(token) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
		return "", false
	}
	subject, errParse := security.ParseClientToken(secret, strings.TrimSpace(token))
	if errParse != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return "", false
	}
	return subject, true
}
