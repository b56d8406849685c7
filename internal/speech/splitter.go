// Package speech turns a streaming text reply into spoken audio.
//
// A Splitter accumulates LLM token fragments into sentence chunks; the
// Pipeline synthesises chunks concurrently under a bounded lookahead and plays
// them back in strict enqueue order. Cancel implements barge-in: the speaker
// goes silent immediately and all unplayed chunks are dropped.
package speech

import (
	"strings"
	"unicode"
)

// defaultMinChunkLen is the minimum sentence-chunk length in bytes. Very
// short "sentences" ("Hi.", "Oh!") are held and merged with the following one
// so the synthesiser is not flooded with tiny requests.
const defaultMinChunkLen = 12

// Splitter accumulates streamed text fragments and emits complete sentences.
// Not safe for concurrent use; the orchestrator's token loop owns it.
type Splitter struct {
	buf      strings.Builder
	minChunk int
}

// NewSplitter creates a Splitter. minChunk <= 0 selects the default.
func NewSplitter(minChunk int) *Splitter {
	if minChunk <= 0 {
		minChunk = defaultMinChunkLen
	}
	return &Splitter{minChunk: minChunk}
}

// Feed appends a fragment and returns any complete sentence chunks it
// finished. A chunk ends at terminal punctuation ('.', '!', '?') followed by
// whitespace or end-of-buffer, and is only released once it reaches the
// minimum chunk length.
func (s *Splitter) Feed(fragment string) []string {
	s.buf.WriteString(fragment)

	var out []string
	for {
		text := s.buf.String()
		idx := sentenceBoundary(text, s.minChunk)
		if idx < 0 {
			break
		}
		chunk := strings.TrimSpace(text[:idx+1])
		s.buf.Reset()
		s.buf.WriteString(text[idx+1:])
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

// Flush returns whatever partial sentence remains, emptying the splitter.
// Called at end-of-stream so trailing text without terminal punctuation is
// still spoken.
func (s *Splitter) Flush() string {
	remaining := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return remaining
}

// sentenceBoundary returns the index of the first terminal punctuation that
// both ends a sentence (followed by whitespace or end-of-string) and leaves a
// chunk of at least minLen bytes. Returns -1 when no qualifying boundary
// exists. The whitespace requirement keeps "Dr." and "3.14" intact when more
// text follows on the same buffer.
func sentenceBoundary(s string, minLen int) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(s) && !unicode.IsSpace(rune(s[i+1])) {
			continue
		}
		if i+1 < minLen {
			continue
		}
		return i
	}
	return -1
}
