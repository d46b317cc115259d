package normalize

import "strings"

// JSONSeq v1 event names. These are wire events carried as-is through
// the broker to SSE subscribers.
const (
	EventThinkingStart = "thinking_start"
	EventPhaseStart    = "phase_start"
	EventPhaseDelta    = "phase_delta"
	EventThinkingEnd   = "thinking_end"
	EventFinalDelta    = "final_delta"
	EventSerpSummary   = "serp_summary"
	EventSerpQueries   = "serp_queries"
	EventFinalEnd      = "final_end"
)

// JSONSeq v1 event payloads.
type (
	PhaseStart struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	PhaseDelta struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
	}
	FinalDelta struct {
		Text string `json:"text"`
	}
	SerpSummary struct {
		Summary string `json:"summary"`
	}
	SerpQueries struct {
		Queries []string `json:"queries"`
	}
)

// titleHoldLimit bounds how much phase text is buffered while waiting
// for a first line that may carry a "## " heading.
const titleHoldLimit = 256

// JSONSeqEncoder serializes the protocol-agnostic delta stream as
// JSONSeq v1 typed events. Thinking text is split into phases at blank
// lines; a phase whose first line is a "## " markdown heading uses that
// heading as the phase title.
type JSONSeqEncoder struct {
	sink Sink

	thinkingOpen   bool
	thinkingClosed bool
	phaseID        int
	phaseStarted   bool
	hold           string
	holding        bool
}

func NewJSONSeqEncoder(sink Sink) *JSONSeqEncoder {
	return &JSONSeqEncoder{sink: sink}
}

// Thinking consumes a thinking-block text delta.
func (e *JSONSeqEncoder) Thinking(text string) {
	if !e.thinkingOpen {
		e.thinkingOpen = true
		e.sink.Publish(EventThinkingStart, struct{}{})
		e.beginPhase()
	}
	for text != "" {
		idx := strings.Index(text, "\n\n")
		if idx < 0 {
			e.phaseText(text)
			return
		}
		e.phaseText(text[:idx])
		text = text[idx+2:]
		e.beginPhase()
	}
}

// Final consumes a final-block text delta, closing the thinking section
// on first use.
func (e *JSONSeqEncoder) Final(text string) {
	e.closeThinking()
	if text == "" {
		return
	}
	e.sink.Publish(EventFinalDelta, FinalDelta{Text: text})
}

// Serp surfaces web-search agent output inside the sequence.
func (e *JSONSeqEncoder) Serp(summary string, queries []string) {
	if summary != "" {
		e.sink.Publish(EventSerpSummary, SerpSummary{Summary: summary})
	}
	if len(queries) > 0 {
		e.sink.Publish(EventSerpQueries, SerpQueries{Queries: queries})
	}
}

// End flushes pending text and terminates the sequence.
func (e *JSONSeqEncoder) End() {
	e.closeThinking()
	e.sink.Publish(EventFinalEnd, struct{}{})
}

func (e *JSONSeqEncoder) closeThinking() {
	if !e.thinkingOpen || e.thinkingClosed {
		return
	}
	e.flushHold()
	e.thinkingClosed = true
	e.sink.Publish(EventThinkingEnd, struct{}{})
}

func (e *JSONSeqEncoder) beginPhase() {
	e.flushHold()
	e.phaseID++
	e.phaseStarted = false
	e.holding = true
	e.hold = ""
}

// phaseText routes text into the current phase. The start of a phase is
// buffered until its first newline so a heading line can become the
// phase title instead of a delta.
func (e *JSONSeqEncoder) phaseText(text string) {
	if text == "" {
		return
	}
	if !e.holding {
		e.emitDelta(text)
		return
	}
	e.hold += text
	idx := strings.Index(e.hold, "\n")
	if idx < 0 {
		if len(e.hold) > titleHoldLimit {
			e.flushHold()
		}
		return
	}
	first := e.hold[:idx]
	rest := e.hold[idx+1:]
	e.hold = ""
	e.holding = false
	if title, ok := strings.CutPrefix(first, "## "); ok {
		e.startPhase(strings.TrimSpace(title))
	} else {
		e.startPhase("")
		e.emitDelta(first + "\n")
	}
	if rest != "" {
		e.emitDelta(rest)
	}
}

func (e *JSONSeqEncoder) flushHold() {
	if !e.holding {
		return
	}
	e.holding = false
	if e.hold != "" {
		e.startPhase("")
		e.emitDelta(e.hold)
		e.hold = ""
	}
}

func (e *JSONSeqEncoder) startPhase(title string) {
	if e.phaseStarted {
		return
	}
	e.phaseStarted = true
	e.sink.Publish(EventPhaseStart, PhaseStart{ID: e.phaseID, Title: title})
}

func (e *JSONSeqEncoder) emitDelta(text string) {
	e.startPhase("")
	e.sink.Publish(EventPhaseDelta, PhaseDelta{ID: e.phaseID, Text: text})
}
