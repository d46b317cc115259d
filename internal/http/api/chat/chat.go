// Package chat mounts the client-facing message API.
package chat

import (
	"github.com/gin-gonic/gin"

	"github.com/gymbro-app/gymbro-gateway/internal/config"
	handlers "github.com/gymbro-app/gymbro-gateway/internal/http/api/chat/handlers"
	"github.com/gymbro-app/gymbro-gateway/internal/pipeline"
	"github.com/gymbro-app/gymbro-gateway/internal/ratelimit"
)

// RegisterChatRoutes registers the message submit and event stream
// routes.
func RegisterChatRoutes(r *gin.Engine, pipe *pipeline.Pipeline, limiter *ratelimit.Manager, jwtCfg config.JWTConfig) {
	if r == nil || pipe == nil {
		return
	}

	messageHandler := handlers.NewMessageHandler(pipe, limiter, jwtCfg)
	r.POST("/v1/messages", messageHandler.Create)

	eventHandler := handlers.NewEventHandler(pipe.Broker(), jwtCfg)
	r.GET("/v1/messages/:id/events", eventHandler.Stream)
}
