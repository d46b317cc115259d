// Package pipeline orchestrates one message run: resolution, backend
// tools, prompt assembly, the upstream call, normalization, and event
// publication.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/agent"
	"github.com/gymbro-app/gymbro-gateway/internal/broker"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"github.com/gymbro-app/gymbro-gateway/internal/normalize"
	"github.com/gymbro-app/gymbro-gateway/internal/prompt"
	"github.com/gymbro-app/gymbro-gateway/internal/resolver"
	"github.com/gymbro-app/gymbro-gateway/internal/settings"
	"github.com/gymbro-app/gymbro-gateway/internal/upstream"
)

const (
	runBudget         = 5 * time.Minute
	heartbeatInterval = 15 * time.Second
)

// CallerFactory builds an upstream client for a resolved endpoint.
// Injectable so tests can fake the upstream.
type CallerFactory func(endpoint models.Endpoint, httpClient *http.Client) (upstream.Caller, error)

// ToolCall names one backend tool invocation requested by the client.
type ToolCall struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// MessageRequest is the parsed body of POST /v1/messages.
type MessageRequest struct {
	ConversationID string
	ModelKey       string
	SelectedModel  string

	Mode         string
	SkipPrompt   bool
	ToolsEnabled bool
	SystemPrompt string
	Messages     []prompt.Message
	Tools        []ToolCall

	Stream      bool
	MaxTokens   int
	Temperature float64
}

// MessageAccepted is returned to the client immediately; events arrive
// on the run's SSE stream.
type MessageAccepted struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// Pipeline wires the run stages together.
type Pipeline struct {
	conn       *gorm.DB
	resolver   *resolver.Resolver
	assembler  *prompt.Assembler
	broker     *broker.Broker
	agents     *agent.Runner
	httpClient *http.Client
	callerFor  CallerFactory
}

func New(conn *gorm.DB, events *broker.Broker, agents *agent.Runner, httpClient *http.Client) *Pipeline {
	return &Pipeline{
		conn:       conn,
		resolver:   resolver.New(conn),
		assembler:  prompt.New(conn),
		broker:     events,
		agents:     agents,
		httpClient: httpClient,
		callerFor:  upstream.ForEndpoint,
	}
}

// Broker exposes the event broker for the SSE layer.
func (p *Pipeline) Broker() *broker.Broker {
	return p.broker
}

// Submit resolves and launches one message run. The run always exists
// afterwards: resolution failures surface as an immediate error event on
// its stream, never as an HTTP failure.
func (p *Pipeline) Submit(ctx context.Context, req MessageRequest) (MessageAccepted, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	messageID := uuid.NewString()
	snap := settings.Current()
	requestedAt := time.Now()

	run := p.broker.CreateRun(messageID, conversationID)
	run.Publish(broker.EventStatus, map[string]string{
		"state":           "created",
		"message_id":      messageID,
		"conversation_id": conversationID,
	})

	resolution, errResolve := p.resolve(ctx, req)
	if errResolve != nil {
		code := resolver.Code(errResolve)
		if code == "" {
			code = "resolution_failed"
		}
		log.WithError(errResolve).WithField("model_key", req.ModelKey).Warn("pipeline: resolution failed")
		run.Fail(map[string]string{"code": code, "message": errResolve.Error()})
		p.recordUsage(models.Usage{
			RunID:          messageID,
			ConversationID: conversationID,
			ModelKey:       req.ModelKey,
			Status:         string(broker.RunFailed),
			ErrorCode:      code,
			RequestedAt:    requestedAt,
		})
		return MessageAccepted{MessageID: messageID, ConversationID: conversationID}, nil
	}

	// The run outlives the HTTP request on purpose: a disconnected
	// client can reconnect and replay the finished stream.
	go p.execute(run, req, resolution, snap, requestedAt)

	return MessageAccepted{MessageID: messageID, ConversationID: conversationID}, nil
}

// resolve tries a conversation-scoped mapping override first, then the
// model key itself.
func (p *Pipeline) resolve(ctx context.Context, req MessageRequest) (resolver.Resolution, error) {
	if req.ConversationID != "" {
		resolution, err := p.resolver.Resolve(ctx, resolver.Request{
			ModelKey:       req.ConversationID,
			SelectedModel:  req.SelectedModel,
			PreferredScope: models.ScopeTypeConversation,
		})
		if err == nil {
			return resolution, nil
		}
		if !errors.Is(err, resolver.ErrUnknownModelKey) {
			return resolver.Resolution{}, err
		}
	}
	return p.resolver.Resolve(ctx, resolver.Request{
		ModelKey:       req.ModelKey,
		SelectedModel:  req.SelectedModel,
		PreferredScope: models.ScopeTypeModel,
	})
}

func (p *Pipeline) execute(run *broker.Run, req MessageRequest, resolution resolver.Resolution, snap settings.Runtime, requestedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), runBudget)
	defer cancel()

	stopBeats := p.startHeartbeats(run)
	defer stopBeats()

	usage := models.Usage{
		RunID:          run.ID(),
		ConversationID: run.ConversationID(),
		ModelKey:       req.ModelKey,
		Provider:       resolution.Endpoint.Provider,
		Model:          resolution.Model,
		EndpointID:     resolution.Endpoint.ID,
		RequestedAt:    requestedAt,
	}
	fail := func(code, message string) {
		run.Fail(map[string]string{"code": code, "message": message})
		usage.Status = string(broker.RunFailed)
		usage.ErrorCode = code
		usage.DurationMS = time.Since(requestedAt).Milliseconds()
		p.recordUsage(usage)
	}

	norm := normalize.New(normalize.Options{
		Protocol:  snap.OutputProtocol,
		Mode:      snap.ResultMode,
		ChunkSize: snap.StreamChunkSize,
		Strict:    snap.StrictProtocol,
	}, run)

	toolResults, serpSummary, serpQueries := p.runTools(ctx, run, req.Tools)
	if serpSummary != "" || len(serpQueries) > 0 {
		norm.Serp(serpSummary, serpQueries)
	}

	assembled, errAssemble := p.assembler.Assemble(ctx, prompt.Request{
		Mode:         req.Mode,
		SkipPrompt:   req.SkipPrompt,
		ToolsEnabled: req.ToolsEnabled,
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		ToolResults:  toolResults,
	})
	if errAssemble != nil {
		log.WithError(errAssemble).Error("pipeline: prompt assembly failed")
		fail("prompt_assembly", errAssemble.Error())
		return
	}

	caller, errCaller := p.callerFor(resolution.Endpoint, p.httpClient)
	if errCaller != nil {
		log.WithError(errCaller).Error("pipeline: unsupported endpoint")
		fail("unsupported_provider", errCaller.Error())
		return
	}

	upstreamReq := upstream.Request{
		Model:       resolution.Model,
		System:      assembled.System,
		Messages:    toUpstreamMessages(assembled.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	errUpstream := p.callUpstream(ctx, caller, upstreamReq, req.Stream, norm)
	if errUpstream != nil {
		code := upstream.Reason(errUpstream)
		log.WithError(errUpstream).WithFields(log.Fields{
			"endpoint": resolution.Endpoint.Name,
			"model":    resolution.Model,
		}).Warn("pipeline: upstream call failed")
		fail(code, errUpstream.Error())
		return
	}

	if errFinish := norm.Finish(); errFinish != nil {
		fail("protocol_validation", errFinish.Error())
		return
	}

	run.Complete(map[string]string{
		"reply": norm.Reply(),
		"model": resolution.Model,
	})
	usage.Status = string(broker.RunCompleted)
	usage.DurationMS = time.Since(requestedAt).Milliseconds()
	usage.ChunkCount = norm.ChunkCount()
	p.recordUsage(usage)
}

func (p *Pipeline) callUpstream(ctx context.Context, caller upstream.Caller, req upstream.Request, stream bool, norm *normalize.Normalizer) error {
	if stream {
		results, errStream := caller.Stream(ctx, req)
		if errStream != nil {
			return errStream
		}
		return norm.ConsumeStream(ctx, results)
	}
	body, errComplete := caller.Complete(ctx, req)
	if errComplete != nil {
		return errComplete
	}
	norm.ConsumeBody(body)
	return nil
}

// runTools executes the requested backend tools. A failing tool degrades
// to a note in the event stream; it never aborts the run.
func (p *Pipeline) runTools(ctx context.Context, run *broker.Run, calls []ToolCall) (results []string, serpSummary string, serpQueries []string) {
	if p.agents == nil {
		return nil, "", nil
	}
	for _, call := range calls {
		if !p.agents.Known(call.Name) {
			run.Publish(broker.EventToolResult, map[string]string{
				"tool":  call.Name,
				"error": "unknown tool",
			})
			continue
		}
		run.Publish(broker.EventToolStart, map[string]string{
			"tool":  call.Name,
			"query": call.Query,
		})
		result, errInvoke := p.agents.Invoke(ctx, call.Name, call.Query)
		if errInvoke != nil {
			log.WithError(errInvoke).WithField("tool", call.Name).Warn("pipeline: tool failed")
			run.Publish(broker.EventToolResult, map[string]string{
				"tool":  call.Name,
				"error": errInvoke.Error(),
			})
			continue
		}
		run.Publish(broker.EventToolResult, map[string]any{
			"tool":    call.Name,
			"summary": result.Summary,
		})
		results = append(results, result.Detail)
		if call.Name == agent.ToolWebSearch {
			serpSummary = result.Summary
			serpQueries = append(serpQueries, result.Queries...)
		}
	}
	return results, serpSummary, serpQueries
}

func (p *Pipeline) startHeartbeats(run *broker.Run) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				run.Heartbeat()
			}
		}
	}()
	return func() { close(stop) }
}

func (p *Pipeline) recordUsage(usage models.Usage) {
	if errCreate := p.conn.Create(&usage).Error; errCreate != nil {
		log.WithError(errCreate).WithField("run", usage.RunID).Error("pipeline: record usage")
	}
}

func toUpstreamMessages(in []prompt.Message) []upstream.Message {
	out := make([]upstream.Message, 0, len(in))
	for _, message := range in {
		out = append(out, upstream.Message{Role: message.Role, Content: message.Content})
	}
	return out
}
