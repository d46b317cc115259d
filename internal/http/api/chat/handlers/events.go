package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/gymbro-app/gymbro-gateway/internal/broker"
	"github.com/gymbro-app/gymbro-gateway/internal/config"
)

// EventHandler streams run events over SSE.
type EventHandler struct {
	events *broker.Broker
	jwtCfg config.JWTConfig
}

// NewEventHandler constructs an event stream handler.
func NewEventHandler(events *broker.Broker, jwtCfg config.JWTConfig) *EventHandler {
	return &EventHandler{events: events, jwtCfg: jwtCfg}
}

// Stream replays a run's history and follows it live until the run
// reaches a terminal state or the client disconnects. Disconnecting
// never cancels the run.
func (h *EventHandler) Stream(c *gin.Context) {
	if _, ok := clientSubject(c, h.jwtCfg.Secret); !ok {
		return
	}

	runID := strings.TrimSpace(c.Param("id"))
	run, found := h.events.Run(runID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown message"})
		return
	}

	events, cancel := run.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, open := <-events:
			if !open {
				return
			}
			if errWrite := writeEvent(c.Writer, event); errWrite != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeEvent(w io.Writer, event broker.Event) error {
	return sse.Encode(w, sse.Event{
		Id:    strconv.FormatInt(event.Seq, 10),
		Event: event.Type,
		Data:  string(event.Data),
	})
}
