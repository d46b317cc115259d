// Package broker keeps per-run event history in memory and fans events
// out to SSE subscribers. A run's producer is the single writer; any
// number of subscribers replay the stored history and then tail live
// events.
package broker

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event names delivered over SSE.
const (
	EventStatus       = "status"
	EventContentDelta = "content_delta"
	EventFinalDelta   = "final_delta"
	EventToolStart    = "tool_start"
	EventToolResult   = "tool_result"
	EventCompleted    = "completed"
	EventError        = "error"
	EventHeartbeat    = "heartbeat"
	EventUpstreamRaw  = "upstream_raw"
)

// RunState is the run lifecycle. Terminal states have no outgoing
// transitions.
type RunState string

const (
	RunCreated   RunState = "created"
	RunStreaming RunState = "streaming"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "error"
)

// Event is one sequenced frame of a run.
type Event struct {
	Seq  int64           `json:"seq"`
	Type string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	defaultSubBuffer = 64
	defaultIdleTTL   = 2 * time.Minute
	defaultRetention = 15 * time.Minute
	sweepInterval    = 30 * time.Second
)

// Broker owns all live runs.
type Broker struct {
	mu        sync.RWMutex
	runs      map[string]*Run
	subBuffer int
	idleTTL   time.Duration
	retention time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// Options tune run retention. Zero values select defaults.
type Options struct {
	SubscriberBuffer int           // Per-subscriber channel capacity.
	IdleTTL          time.Duration // Drop finished runs nobody ever watched.
	Retention        time.Duration // Drop finished runs after this window.
}

func New(opts Options) *Broker {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubBuffer
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	b := &Broker{
		runs:      make(map[string]*Run),
		subBuffer: opts.SubscriberBuffer,
		idleTTL:   opts.IdleTTL,
		retention: opts.Retention,
		stop:      make(chan struct{}),
	}
	go b.janitor()
	return b
}

// Close stops the retention sweeper.
func (b *Broker) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// CreateRun registers a new run in the created state.
func (b *Broker) CreateRun(id, conversationID string) *Run {
	run := &Run{
		broker:         b,
		id:             id,
		conversationID: conversationID,
		state:          RunCreated,
		subs:           make(map[int64]chan Event),
		createdAt:      time.Now(),
	}
	b.mu.Lock()
	b.runs[id] = run
	b.mu.Unlock()
	return run
}

// Run looks up a live run by message id.
func (b *Broker) Run(id string) (*Run, bool) {
	b.mu.RLock()
	run, ok := b.runs[id]
	b.mu.RUnlock()
	return run, ok
}

func (b *Broker) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.sweep(now)
		}
	}
}

func (b *Broker) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, run := range b.runs {
		if run.expired(now, b.idleTTL, b.retention) {
			delete(b.runs, id)
		}
	}
}

// Run is one message run: an append-only event history plus live
// subscribers. Publish, Heartbeat, Complete, and Fail belong to the
// producer goroutine; Subscribe may be called from any goroutine.
type Run struct {
	broker *Broker

	mu             sync.Mutex
	id             string
	conversationID string
	state          RunState
	seq            int64
	history        []Event
	subs           map[int64]chan Event
	nextSub        int64
	everSubscribed bool
	createdAt      time.Time
	doneAt         time.Time
}

func (r *Run) ID() string             { return r.id }
func (r *Run) ConversationID() string { return r.conversationID }

// State returns the current lifecycle state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Publish appends a sequenced event to the run and fans it out. Events
// published after a terminal state are dropped.
func (r *Run) Publish(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("broker: marshal event payload")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminalLocked() {
		return
	}
	if r.state == RunCreated && event != EventStatus {
		r.state = RunStreaming
	}
	r.appendLocked(event, raw, true)
}

// Heartbeat sends a keepalive frame to live subscribers. Heartbeats get
// their own sequence number but are not replayed from history.
func (r *Run) Heartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminalLocked() {
		return
	}
	r.appendLocked(EventHeartbeat, nil, false)
}

// Complete records the terminal completed event and freezes the run.
func (r *Run) Complete(data any) {
	r.terminate(RunCompleted, EventCompleted, data)
}

// Fail records the terminal error event and freezes the run.
func (r *Run) Fail(data any) {
	r.terminate(RunFailed, EventError, data)
}

func (r *Run) terminate(state RunState, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("broker: marshal terminal payload")
		raw = []byte("{}")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminalLocked() {
		return
	}
	r.state = state
	r.doneAt = time.Now()
	r.appendLocked(event, raw, true)
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

// Subscribe returns a channel that replays the run's history and then
// tails live events. The channel closes after the terminal event. The
// cancel function detaches the subscriber; it never cancels the run.
func (r *Run) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.everSubscribed = true
	ch := make(chan Event, len(r.history)+r.broker.subBuffer)
	for _, event := range r.history {
		ch <- event
	}
	if r.terminalLocked() {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if live, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(live)
		}
	}
	return ch, cancel
}

func (r *Run) terminalLocked() bool {
	return r.state == RunCompleted || r.state == RunFailed
}

func (r *Run) appendLocked(event string, raw json.RawMessage, store bool) {
	r.seq++
	e := Event{Seq: r.seq, Type: event, Data: raw}
	if store {
		r.history = append(r.history, e)
	}
	for id, ch := range r.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber: drop the connection, never the run.
			log.WithField("run", r.id).Warn("broker: dropping slow subscriber")
			delete(r.subs, id)
			close(ch)
		}
	}
}

func (r *Run) expired(now time.Time, idleTTL, retention time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.terminalLocked() {
		// Abandoned run nobody ever watched.
		return !r.everSubscribed && len(r.subs) == 0 && now.Sub(r.createdAt) > retention
	}
	if !r.everSubscribed {
		return now.Sub(r.doneAt) > idleTTL
	}
	return now.Sub(r.doneAt) > retention
}
