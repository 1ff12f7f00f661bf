// Package splitter performs incremental segmentation of streamed text into
// synthesis-sized chunks.
//
// Chat completions arrive as a stream of deltas, often only a handful of
// runes each. Synthesising whole sentences as soon as they complete keeps
// audio generation ahead of the reader, so the splitter cuts at sentence
// punctuation first and falls back to clause punctuation or a hard cut only
// once a segment grows past the configured maximum.
package splitter

import (
	"strings"
	"unicode"
)

// Default segment bounds, in runes.
const (
	DefaultMinLen = 5
	DefaultMaxLen = 40
)

// Splitter buffers streamed text and emits segments at sentence or clause
// boundaries. It is single-writer: each stream owns its own instance and no
// internal locking is performed.
type Splitter struct {
	minLen int
	maxLen int
	buf    []rune

	// strongEnd is the index of the last rune of a held sentence cut, or -1.
	// A cut at a strong terminator is held for one rune of lookahead so that
	// trailing closers (quotes, brackets) join the segment they close.
	// Invariant: when ≥ 0 it always names the last rune of buf.
	strongEnd int
}

// New returns a Splitter that cuts segments of at least minLen runes at
// sentence boundaries and at most maxLen runes overall. Non-positive bounds
// fall back to the defaults.
func New(minLen, maxLen int) *Splitter {
	if minLen <= 0 {
		minLen = DefaultMinLen
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Splitter{minLen: minLen, maxLen: maxLen, strongEnd: -1}
}

// Feed appends chunk to the pending buffer and returns the segments that
// completed, in text order. Chunk boundaries never affect the result:
// feeding a string rune by rune yields the same segments as feeding it
// whole.
func (s *Splitter) Feed(chunk string) []string {
	var segs []string
	for _, r := range chunk {
		if seg, ok := s.feedRune(r); ok {
			segs = append(segs, seg)
		}
	}
	return segs
}

// Flush emits whatever remains buffered as a final segment. Safe to call
// repeatedly; once drained it returns nothing.
func (s *Splitter) Flush() []string {
	s.strongEnd = -1
	if len(s.buf) == 0 {
		return nil
	}
	seg := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	if seg == "" {
		return nil
	}
	return []string{seg}
}

// Pending returns the number of runes buffered but not yet emitted.
func (s *Splitter) Pending() int {
	return len(s.buf)
}

// feedRune appends one rune and returns a completed segment, if any.
func (s *Splitter) feedRune(r rune) (string, bool) {
	s.buf = append(s.buf, r)

	var seg string
	var emitted bool

	if s.strongEnd >= 0 {
		if isCloser(r) {
			// Closers chain onto the held cut.
			s.strongEnd = len(s.buf) - 1
			if len(s.buf) >= s.maxLen {
				end := s.strongEnd + 1
				s.strongEnd = -1
				return s.emit(end)
			}
			return "", false
		}
		end := s.strongEnd + 1
		s.strongEnd = -1
		if end >= s.minLen {
			// The fresh rune survives the cut and is re-examined below.
			seg, emitted = s.emit(end)
		}
		// Below min_len the held cut is abandoned; the terminator stays in
		// the buffer and rides along into a later segment.
	}

	if isStrong(r) {
		s.strongEnd = len(s.buf) - 1
		return seg, emitted
	}

	if !emitted && len(s.buf) >= s.maxLen {
		return s.emit(s.weakCut())
	}

	return seg, emitted
}

// weakCut returns the cut length for an over-long buffer: one past the last
// weak breakpoint within the first maxLen runes, or maxLen if none exists.
func (s *Splitter) weakCut() int {
	for i := s.maxLen - 1; i >= 0; i-- {
		if s.isWeakAt(i) {
			return i + 1
		}
	}
	return s.maxLen
}

// isWeakAt reports whether buf[i] is a clause breakpoint: weak punctuation,
// or whitespace directly after a non-space rune.
func (s *Splitter) isWeakAt(i int) bool {
	r := s.buf[i]
	if isWeakPunct(r) {
		return true
	}
	return unicode.IsSpace(r) && i > 0 && !unicode.IsSpace(s.buf[i-1])
}

// emit cuts the first n runes off the buffer and returns them trimmed.
// Whitespace-only cuts are dropped.
func (s *Splitter) emit(n int) (string, bool) {
	seg := strings.TrimSpace(string(s.buf[:n]))
	s.buf = s.buf[:copy(s.buf, s.buf[n:])]
	if seg == "" {
		return "", false
	}
	return seg, true
}

// isStrong reports whether r terminates a sentence outright.
func isStrong(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…', '\n':
		return true
	}
	return false
}

// isCloser reports whether r is the closing half of a matched pair and may
// trail a strong terminator while staying attached to its segment.
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '»', '”', '’', '」', '』', '）', '】', '》', '〉':
		return true
	}
	return false
}

// isWeakPunct reports whether r is clause punctuation usable as a fallback
// cut once a segment exceeds max_len.
func isWeakPunct(r rune) bool {
	switch r {
	case ',', ';', ':', '、', '，', '；', '：':
		return true
	}
	return false
}
