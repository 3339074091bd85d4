// Package chunker splits oversized text on sentence and word boundaries.
//
// DESIGN: sliding window with bounded overlap:
//  1. Prefer sentence terminators (. ! ?) in the last 20% of the window
//  2. Fall back to any whitespace in the same region
//  3. Hard cut at the window edge when neither exists
//  4. Keep 10% overlap between consecutive chunks for context preservation
//
// All positions are rune indices, so multi-byte text never splits inside a
// codepoint.
package chunker

import (
	"unicode"

	"github.com/rs/zerolog/log"
)

// Chunk splits text into pieces of at most maxLen runes.
// Empty input yields no chunks; input at or under the limit is returned as-is.
func Chunk(text string, maxLen int) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	log.Debug().
		Int("length", len(runes)).
		Int("max_len", maxLen).
		Msg("chunking oversized text")

	overlap := maxLen / 10

	var chunks []string
	start := 0
	prevEnd := 0

	for start < len(runes) {
		remaining := len(runes) - start

		// Remaining text fits in one final chunk.
		if remaining <= maxLen {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		end := start + findBreak(runes[start:start+maxLen], maxLen)
		chunks = append(chunks, string(runes[start:end]))

		// Keep the overlap, but never step back past the previous break.
		// Progress stays strictly positive so the loop terminates even when
		// no good boundary exists.
		next := end - overlap
		if next < prevEnd {
			next = prevEnd
		}
		if next <= start {
			next = start + 1
		}
		prevEnd = end
		start = next
	}

	log.Debug().Int("chunks", len(chunks)).Msg("chunking complete")
	return chunks
}

// findBreak returns the break position within window, preferring sentence
// terminators in the last 20%, then whitespace, then a hard cut at maxPos.
func findBreak(window []rune, maxPos int) int {
	if len(window) < maxPos {
		return len(window)
	}

	searchStart := maxPos * 8 / 10

	for i := maxPos - 1; i >= searchStart; i-- {
		switch window[i] {
		case '.', '!', '?':
			// A trailing space marks a proper sentence end; include it.
			if i+1 < len(window) && unicode.IsSpace(window[i+1]) {
				return i + 2
			}
			return i + 1
		}
	}

	for i := maxPos - 1; i >= searchStart; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}

	return maxPos
}
