package normalize

import (
	"strings"
	"unicode/utf8"
)

const defaultChunkSize = 64

// Chunks splits a complete reply body into delta-sized pieces so that a
// non-streaming upstream response can still be delivered as a stream of
// deltas. Cuts prefer sentence boundaries inside the size window and fall
// back to a fixed-size cut. A body longer than size always yields at
// least two pieces.
func Chunks(body string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if body == "" {
		return nil
	}
	if len(body) <= size {
		return []string{body}
	}
	var out []string
	rest := body
	for len(rest) > size {
		cut := sentenceCut(rest, size)
		out = append(out, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

var sentenceMarks = []string{". ", "! ", "? ", "\n"}

func sentenceCut(s string, size int) int {
	window := s[:size]
	best := 0
	for _, mark := range sentenceMarks {
		if idx := strings.LastIndex(window, mark); idx >= 0 && idx+len(mark) > best {
			best = idx + len(mark)
		}
	}
	if best > 0 {
		return best
	}
	// No boundary in the window, cut at size without splitting a rune.
	cut := size
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		// The whole window sits inside one multibyte rune. Walk forward
		// instead and emit the rune whole.
		cut = size
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
	}
	return cut
}
