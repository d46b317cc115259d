package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/broker"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"github.com/gymbro-app/gymbro-gateway/internal/prompt"
	"github.com/gymbro-app/gymbro-gateway/internal/settings"
	"github.com/gymbro-app/gymbro-gateway/internal/upstream"
)

type fakeCaller struct {
	chunks []string
	body   string
	err    error
}

func (f *fakeCaller) Complete(_ context.Context, _ upstream.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.body, nil
}

func (f *fakeCaller) Stream(_ context.Context, _ upstream.Request) (<-chan upstream.StreamResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan upstream.StreamResult, len(f.chunks))
	for _, chunk := range f.chunks {
		out <- upstream.StreamResult{Chunk: upstream.Chunk{Text: chunk, Raw: chunk}}
	}
	close(out)
	return out, nil
}

func openPipelineDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "pipeline-test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	errMigrate := conn.AutoMigrate(
		&models.ModelMapping{},
		&models.Endpoint{},
		&models.Prompt{},
		&models.Setting{},
		&models.Usage{},
	)
	if errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func setResultMode(t *testing.T, conn *gorm.DB, mode string) {
	t.Helper()
	raw, _ := json.Marshal(mode)
	errSave := conn.Where("key = ?", settings.DefaultResultModeKey).
		Assign(models.Setting{Key: settings.DefaultResultModeKey, Value: raw}).
		FirstOrCreate(&models.Setting{}).Error
	if errSave != nil {
		t.Fatalf("save setting: %v", errSave)
	}
	if _, errRefresh := settings.Refresh(context.Background(), conn); errRefresh != nil {
		t.Fatalf("refresh settings: %v", errRefresh)
	}
}

func createMapping(t *testing.T, conn *gorm.DB, key, model string, endpointStatus string) models.Endpoint {
	t.Helper()
	endpoint := models.Endpoint{
		Name:     key + "-endpoint",
		Provider: models.ProviderOpenAI,
		BaseURL:  "http://upstream.invalid",
		APIKey:   "sk-test",
		Model:    model,
		Status:   endpointStatus,
	}
	if errCreate := conn.Create(&endpoint).Error; errCreate != nil {
		t.Fatalf("create endpoint: %v", errCreate)
	}
	candidates, _ := json.Marshal([]string{model})
	mapping := models.ModelMapping{
		ScopeType:    models.ScopeTypeModel,
		ScopeKey:     key,
		Name:         key,
		DefaultModel: model,
		Candidates:   datatypes.JSON(candidates),
		IsEnabled:    true,
	}
	if errCreate := conn.Create(&mapping).Error; errCreate != nil {
		t.Fatalf("create mapping: %v", errCreate)
	}
	return endpoint
}

func newPipeline(conn *gorm.DB, t *testing.T, caller upstream.Caller) *Pipeline {
	t.Helper()
	events := broker.New(broker.Options{})
	t.Cleanup(events.Close)
	p := New(conn, events, nil, http.DefaultClient)
	p.callerFor = func(models.Endpoint, *http.Client) (upstream.Caller, error) {
		return caller, nil
	}
	return p
}

func drainRun(t *testing.T, run *broker.Run) []broker.Event {
	t.Helper()
	ch, cancel := run.Subscribe()
	defer cancel()
	var out []broker.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatalf("run never reached a terminal event, got %d events", len(out))
		}
	}
}

func waitForUsage(t *testing.T, conn *gorm.DB, runID string) models.Usage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var usage models.Usage
		errFind := conn.Where("run_id = ?", runID).First(&usage).Error
		if errFind == nil {
			return usage
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage row for run %s never appeared: %v", runID, errFind)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSubmitFiveChunkStream(t *testing.T) {
	conn := openPipelineDB(t)
	setResultMode(t, conn, settings.ResultModeXMLPlaintext)
	createMapping(t, conn, "gymbro-stream", "grok-stream", models.EndpointStatusOnline)

	chunks := []string{"Push", " day", " is", " the", " best"}
	p := newPipeline(conn, t, &fakeCaller{chunks: chunks})

	accepted, err := p.Submit(context.Background(), MessageRequest{
		ModelKey: "gymbro-stream",
		Mode:     prompt.ModePassthrough,
		Messages: []prompt.Message{{Role: "user", Content: "leg day?"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if accepted.MessageID == "" || accepted.ConversationID == "" {
		t.Fatalf("accepted ids missing: %+v", accepted)
	}

	run, ok := p.Broker().Run(accepted.MessageID)
	if !ok {
		t.Fatalf("run not registered")
	}
	events := drainRun(t, run)

	var deltas []string
	var completed *broker.Event
	for i := range events {
		switch events[i].Type {
		case broker.EventContentDelta:
			var payload struct {
				Text string `json:"text"`
			}
			if errUnmarshal := json.Unmarshal(events[i].Data, &payload); errUnmarshal != nil {
				t.Fatalf("unmarshal delta: %v", errUnmarshal)
			}
			deltas = append(deltas, payload.Text)
		case broker.EventCompleted:
			completed = &events[i]
		case broker.EventError:
			t.Fatalf("unexpected error event: %s", events[i].Data)
		}
	}
	if len(deltas) != 5 {
		t.Fatalf("expected 5 content_delta events, got %d", len(deltas))
	}
	if completed == nil {
		t.Fatalf("missing completed event")
	}
	var final struct {
		Reply string `json:"reply"`
	}
	if errUnmarshal := json.Unmarshal(completed.Data, &final); errUnmarshal != nil {
		t.Fatalf("unmarshal completed: %v", errUnmarshal)
	}
	if final.Reply != "Push day is the best" {
		t.Fatalf("completed reply %q", final.Reply)
	}

	usage := waitForUsage(t, conn, accepted.MessageID)
	if usage.Status != string(broker.RunCompleted) {
		t.Fatalf("usage status %q", usage.Status)
	}
	if usage.ChunkCount != 5 {
		t.Fatalf("usage chunk count %d", usage.ChunkCount)
	}
	if usage.Model != "grok-stream" {
		t.Fatalf("usage model %q", usage.Model)
	}
}

func TestSubmitOfflineEndpointFailsFast(t *testing.T) {
	conn := openPipelineDB(t)
	setResultMode(t, conn, settings.ResultModeXMLPlaintext)
	createMapping(t, conn, "gymbro-offline", "grok-off", models.EndpointStatusOffline)

	p := newPipeline(conn, t, &fakeCaller{body: "never called"})

	accepted, err := p.Submit(context.Background(), MessageRequest{
		ModelKey: "gymbro-offline",
		Mode:     prompt.ModePassthrough,
		Messages: []prompt.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	run, ok := p.Broker().Run(accepted.MessageID)
	if !ok {
		t.Fatalf("run not registered")
	}
	events := drainRun(t, run)

	for _, event := range events {
		if event.Type == broker.EventContentDelta {
			t.Fatalf("no delta may precede the resolution error")
		}
	}
	last := events[len(events)-1]
	if last.Type != broker.EventError {
		t.Fatalf("terminal event %s", last.Type)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if errUnmarshal := json.Unmarshal(last.Data, &payload); errUnmarshal != nil {
		t.Fatalf("unmarshal error payload: %v", errUnmarshal)
	}
	if payload.Code != "no_healthy_endpoint" {
		t.Fatalf("error code %q", payload.Code)
	}

	usage := waitForUsage(t, conn, accepted.MessageID)
	if usage.ErrorCode != "no_healthy_endpoint" {
		t.Fatalf("usage error code %q", usage.ErrorCode)
	}
}

func TestSubmitNonStreamingBodyDegradesToChunks(t *testing.T) {
	conn := openPipelineDB(t)
	setResultMode(t, conn, settings.ResultModeXMLPlaintext)
	createMapping(t, conn, "gymbro-body", "grok-body", models.EndpointStatusOnline)

	long := ""
	for i := 0; i < 30; i++ {
		long += "Progressive overload builds strength. "
	}
	p := newPipeline(conn, t, &fakeCaller{body: long})

	accepted, err := p.Submit(context.Background(), MessageRequest{
		ModelKey: "gymbro-body",
		Mode:     prompt.ModePassthrough,
		Messages: []prompt.Message{{Role: "user", Content: "how to get strong?"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	run, _ := p.Broker().Run(accepted.MessageID)
	events := drainRun(t, run)

	var deltas int
	for _, event := range events {
		if event.Type == broker.EventContentDelta {
			deltas++
		}
	}
	if deltas < 2 {
		t.Fatalf("long body must degrade to at least 2 deltas, got %d", deltas)
	}
}

func TestSubmitUpstreamErrorCode(t *testing.T) {
	conn := openPipelineDB(t)
	setResultMode(t, conn, settings.ResultModeXMLPlaintext)
	createMapping(t, conn, "gymbro-err", "grok-err", models.EndpointStatusOnline)

	p := newPipeline(conn, t, &fakeCaller{
		err: &upstream.Error{Code: upstream.Reason5xx, Status: 502, Msg: "bad gateway"},
	})

	accepted, err := p.Submit(context.Background(), MessageRequest{
		ModelKey: "gymbro-err",
		Mode:     prompt.ModePassthrough,
		Messages: []prompt.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	run, _ := p.Broker().Run(accepted.MessageID)
	events := drainRun(t, run)
	last := events[len(events)-1]
	if last.Type != broker.EventError {
		t.Fatalf("terminal event %s", last.Type)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if errUnmarshal := json.Unmarshal(last.Data, &payload); errUnmarshal != nil {
		t.Fatalf("unmarshal error payload: %v", errUnmarshal)
	}
	if payload.Code != upstream.Reason5xx {
		t.Fatalf("error code %q", payload.Code)
	}
}
