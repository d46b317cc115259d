package normalize

import "strings"

// ThinkingML v4.5 tag grammar. A well-formed reply is exactly one
// <thinking> block followed by one <final> block, with nothing but
// whitespace before, between, or after them, and no nested tags.
const (
	openThinking  = "<thinking>"
	closeThinking = "</thinking>"
	openFinal     = "<final>"
	closeFinal    = "</final>"
)

var thinkingMLTags = []string{openThinking, closeThinking, openFinal, closeFinal}

// ProtocolValidationError reports a reply that does not satisfy the
// configured output protocol grammar.
type ProtocolValidationError struct {
	Msg string
}

func (e *ProtocolValidationError) Error() string {
	return "normalize: protocol validation: " + e.Msg
}

type thinkingMLState int

const (
	stateLead thinkingMLState = iota // before <thinking>
	stateThinking
	stateGap // between </thinking> and <final>
	stateFinal
	stateDone
)

// ThinkingMLDecoder incrementally parses a ThinkingML reply from text
// deltas. Feed returns the thinking and final text recovered from each
// delta; text that may belong to a tag split across delta boundaries is
// withheld and released by a later Feed or rejected at Close.
type ThinkingMLDecoder struct {
	state thinkingMLState
	buf   string
	err   *ProtocolValidationError
}

func (d *ThinkingMLDecoder) fail(msg string) error {
	d.err = &ProtocolValidationError{Msg: msg}
	return d.err
}

// Pending returns buffered text not yet attributed to a block. After a
// validation error this is the unconsumed remainder of the reply.
func (d *ThinkingMLDecoder) Pending() string {
	return d.buf
}

// Drain clears and returns the pending buffer.
func (d *ThinkingMLDecoder) Drain() string {
	pending := d.buf
	d.buf = ""
	return pending
}

// Feed consumes one raw text delta.
func (d *ThinkingMLDecoder) Feed(text string) (thinking, final string, err error) {
	if d.err != nil {
		return "", "", d.err
	}
	d.buf += text
	for {
		switch d.state {
		case stateLead:
			advanced, done, err := d.expectTag(openThinking, "content before <thinking>")
			if err != nil {
				return thinking, final, err
			}
			if !advanced {
				return thinking, final, nil
			}
			if done {
				d.state = stateThinking
			}
		case stateThinking:
			seg, closed, err := d.blockText(closeThinking)
			if err != nil {
				return thinking, final, err
			}
			thinking += seg
			if !closed {
				return thinking, final, nil
			}
			d.state = stateGap
		case stateGap:
			advanced, done, err := d.expectTag(openFinal, "content between </thinking> and <final>")
			if err != nil {
				return thinking, final, err
			}
			if !advanced {
				return thinking, final, nil
			}
			if done {
				d.state = stateFinal
			}
		case stateFinal:
			seg, closed, err := d.blockText(closeFinal)
			if err != nil {
				return thinking, final, err
			}
			final += seg
			if !closed {
				return thinking, final, nil
			}
			d.state = stateDone
		case stateDone:
			if strings.TrimSpace(d.buf) != "" {
				return thinking, final, d.fail("content after </final>")
			}
			d.buf = ""
			return thinking, final, nil
		}
	}
}

// Close finishes the parse. It fails if the reply never produced both
// blocks in order or ends inside one.
func (d *ThinkingMLDecoder) Close() error {
	if d.err != nil {
		return d.err
	}
	if d.state != stateDone {
		switch d.state {
		case stateLead:
			return d.fail("missing <thinking> block")
		case stateThinking:
			return d.fail("unterminated <thinking> block")
		case stateGap:
			return d.fail("missing <final> block")
		default:
			return d.fail("unterminated <final> block")
		}
	}
	if strings.TrimSpace(d.buf) != "" {
		return d.fail("content after </final>")
	}
	return nil
}

// expectTag skips leading whitespace and consumes tag. It reports
// whether the buffer advanced at all and whether the full tag was seen;
// a partial match at the end of the buffer is held for the next Feed.
func (d *ThinkingMLDecoder) expectTag(tag, errMsg string) (advanced, done bool, err error) {
	trimmed := strings.TrimLeft(d.buf, " \t\r\n")
	if trimmed == "" {
		d.buf = ""
		return false, false, nil
	}
	if strings.HasPrefix(trimmed, tag) {
		d.buf = trimmed[len(tag):]
		return true, true, nil
	}
	if strings.HasPrefix(tag, trimmed) {
		d.buf = trimmed
		return false, false, nil
	}
	return false, false, d.fail(errMsg)
}

// blockText emits body text up to the closing tag, holding back any
// suffix that could be the start of a tag split across deltas.
func (d *ThinkingMLDecoder) blockText(closeTag string) (seg string, closed bool, err error) {
	if idx := strings.Index(d.buf, closeTag); idx >= 0 {
		seg = d.buf[:idx]
		if nested := nestedTag(seg); nested != "" {
			return "", false, d.fail("nested " + nested + " inside block")
		}
		d.buf = d.buf[idx+len(closeTag):]
		return seg, true, nil
	}
	if nested := nestedTag(d.buf); nested != "" && nested != closeTag {
		return "", false, d.fail("nested " + nested + " inside block")
	}
	hold := holdIndex(d.buf)
	seg = d.buf[:hold]
	d.buf = d.buf[hold:]
	return seg, false, nil
}

// nestedTag returns the first complete grammar tag found in s, if any.
func nestedTag(s string) string {
	first := ""
	firstIdx := len(s)
	for _, tag := range thinkingMLTags {
		if idx := strings.Index(s, tag); idx >= 0 && idx < firstIdx {
			first = tag
			firstIdx = idx
		}
	}
	return first
}

// holdIndex finds the position from which s could be the start of a tag
// cut off by a delta boundary. Text before it is safe to emit.
func holdIndex(s string) int {
	for i := len(s) - 1; i >= 0 && len(s)-i < len(closeThinking); i-- {
		if s[i] != '<' {
			continue
		}
		suffix := s[i:]
		for _, tag := range thinkingMLTags {
			if len(suffix) < len(tag) && strings.HasPrefix(tag, suffix) {
				return i
			}
		}
		return len(s)
	}
	return len(s)
}

// ValidateDocument checks a complete reply against the ThinkingML
// grammar and returns its thinking and final text.
func ValidateDocument(body string) (thinking, final string, err error) {
	var dec ThinkingMLDecoder
	thinking, final, err = dec.Feed(body)
	if err != nil {
		return "", "", err
	}
	if err := dec.Close(); err != nil {
		return "", "", err
	}
	return thinking, final, nil
}
