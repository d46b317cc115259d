// Package normalize converts upstream provider output to the internal
// delta stream and encodes it under the configured output protocol.
package normalize

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/gymbro-app/gymbro-gateway/internal/settings"
	"github.com/gymbro-app/gymbro-gateway/internal/upstream"
)

// Delta is the payload of content_delta and final_delta frames.
type Delta struct {
	Text string `json:"text"`
}

// RawFrame is the payload of upstream_raw frames.
type RawFrame struct {
	Data string `json:"data"`
}

// Lifecycle event names shared with the broker vocabulary.
const (
	EventContentDelta = "content_delta"
	EventUpstreamRaw  = "upstream_raw"
)

// Sink receives normalized events in publish order.
type Sink interface {
	Publish(event string, data any)
}

// Options selects the output protocol and result mode for one run,
// captured from the settings snapshot at run start.
type Options struct {
	Protocol  string // settings.OutputProtocol* value.
	Mode      string // settings.ResultMode* value.
	ChunkSize int    // Synthetic chunk size for non-streaming bodies.
	Strict    bool   // Protocol validation failures abort the run.
}

// Normalizer drives one run's upstream output through protocol decoding
// and into a sink. It is used by a single goroutine.
type Normalizer struct {
	opts Options
	sink Sink

	dec      ThinkingMLDecoder
	seq      *JSONSeqEncoder
	reply    strings.Builder
	chunks   int
	protoErr *ProtocolValidationError
	degraded bool
}

func New(opts Options, sink Sink) *Normalizer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	n := &Normalizer{opts: opts, sink: sink}
	if opts.Mode == settings.ResultModeAuto && opts.Protocol == settings.OutputProtocolJSONSeq {
		n.seq = NewJSONSeqEncoder(sink)
	}
	return n
}

// ConsumeStream drains a streaming upstream call, emitting one event per
// upstream chunk. The returned error is the upstream's, not a protocol
// validation failure; those surface from Finish.
func (n *Normalizer) ConsumeStream(ctx context.Context, results <-chan upstream.StreamResult) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-results:
			if !ok {
				return nil
			}
			if result.Err != nil {
				return result.Err
			}
			n.feed(result.Chunk.Text, result.Chunk.Raw)
		}
	}
}

// ConsumeBody degrades a non-streaming body to chunked streaming.
func (n *Normalizer) ConsumeBody(body string) {
	for _, piece := range Chunks(body, n.opts.ChunkSize) {
		n.feed(piece, piece)
	}
}

// Finish completes protocol decoding. Under strict protocol a grammar
// violation is returned; otherwise it is logged and the undelivered raw
// text is flushed as plain deltas.
func (n *Normalizer) Finish() error {
	switch n.opts.Mode {
	case settings.ResultModeRawPassthrough, settings.ResultModeXMLPlaintext:
		return nil
	}
	if n.protoErr == nil {
		if err := n.dec.Close(); err != nil {
			n.protoErr = n.dec.err
		}
	}
	if n.protoErr != nil {
		if n.opts.Strict {
			return n.protoErr
		}
		log.WithField("reason", n.protoErr.Msg).Warn("normalize: reply failed protocol validation, delivering raw")
		n.flushPlain(n.dec.Drain())
		return nil
	}
	if n.seq != nil {
		n.seq.End()
	}
	return nil
}

// Reply returns the full raw upstream text accumulated so far.
func (n *Normalizer) Reply() string {
	return n.reply.String()
}

// ChunkCount returns the number of content-bearing frames published.
func (n *Normalizer) ChunkCount() int {
	return n.chunks
}

// Serp forwards web-search agent output to protocol-aware frames.
func (n *Normalizer) Serp(summary string, queries []string) {
	if n.seq != nil {
		n.seq.Serp(summary, queries)
		return
	}
	n.sink.Publish(EventSerpSummary, SerpSummary{Summary: summary})
	if len(queries) > 0 {
		n.sink.Publish(EventSerpQueries, SerpQueries{Queries: queries})
	}
}

func (n *Normalizer) feed(text, raw string) {
	n.reply.WriteString(text)
	switch n.opts.Mode {
	case settings.ResultModeRawPassthrough:
		n.publishContent(EventUpstreamRaw, RawFrame{Data: raw})
		return
	case settings.ResultModeXMLPlaintext:
		n.publishContent(EventContentDelta, Delta{Text: text})
		return
	}
	if n.degraded {
		n.publishContent(EventContentDelta, Delta{Text: text})
		return
	}
	if n.protoErr != nil {
		// Strict mode: the run is already doomed, swallow the tail.
		return
	}
	thinking, final, err := n.dec.Feed(text)
	if thinking != "" {
		if n.seq != nil {
			n.seq.Thinking(thinking)
			n.chunks++
		} else {
			n.publishContent(EventContentDelta, Delta{Text: thinking})
		}
	}
	if final != "" {
		if n.seq != nil {
			n.seq.Final(final)
			n.chunks++
		} else {
			n.publishContent(EventFinalDelta, Delta{Text: final})
		}
	}
	if err != nil {
		n.protoErr = n.dec.err
		if !n.opts.Strict {
			n.degraded = true
			n.flushPlain(n.dec.Drain())
		}
	}
}

func (n *Normalizer) flushPlain(pending string) {
	if pending == "" {
		return
	}
	n.publishContent(EventContentDelta, Delta{Text: pending})
}

func (n *Normalizer) publishContent(event string, data any) {
	n.sink.Publish(event, data)
	n.chunks++
}
