package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arosboro/ollama-proxy/internal/chunker"
)

func TestChunkSmallInputs(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		maxLen int
		want  []string
	}{
		{
			name:   "empty input yields no chunks",
			text:   "",
			maxLen: 100,
			want:   nil,
		},
		{
			name:   "input at the limit is a single chunk",
			text:   strings.Repeat("x", 100),
			maxLen: 100,
			want:   []string{strings.Repeat("x", 100)},
		},
		{
			name:   "input below the limit is returned verbatim",
			text:   "hello world",
			maxLen: 100,
			want:   []string{"hello world"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunker.Chunk(tt.text, tt.maxLen))
		})
	}
}

func TestChunkSizeBounds(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	maxLen := 500

	chunks := chunker.Chunk(text, maxLen)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		runes := []rune(c)
		assert.LessOrEqual(t, len(runes), maxLen, "chunk %d exceeds the window", i)
		assert.Greater(t, len(runes), 0, "chunk %d is empty", i)
	}
}

func TestChunkPrefersSentenceBoundaries(t *testing.T) {
	// The terminator sits inside the last fifth of the window, so the break
	// should land just after it rather than at the hard limit.
	text := strings.Repeat("a", 85) + ". " + strings.Repeat("b", 200)
	chunks := chunker.Chunk(text, 100)

	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0], ". "), "first chunk should end at the sentence boundary, got %q", chunks[0])
}

func TestChunkBoundarySearchRunsOnEveryWindow(t *testing.T) {
	// Sentence-rich text must never be hard-cut mid-word: every non-final
	// chunk has a boundary candidate in its tail and must end on one.
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)
	chunks := chunker.Chunk(text, 200)
	require.Greater(t, len(chunks), 2)

	for i, c := range chunks[:len(chunks)-1] {
		last := c[len(c)-1]
		assert.Contains(t, []byte{' ', '.', '!', '?'}, last,
			"chunk %d ends mid-word: %q", i, c[len(c)-20:])
	}
}

func TestChunkFallsBackToWhitespace(t *testing.T) {
	text := strings.Repeat("a", 90) + " " + strings.Repeat("b", 200)
	chunks := chunker.Chunk(text, 100)

	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0], " "), "first chunk should end at the whitespace, got %q", chunks[0])
}

func TestChunkTerminatesOnUnbreakableText(t *testing.T) {
	// No terminators, no whitespace: every window is a hard cut and the
	// loop must still make strict forward progress.
	text := strings.Repeat("a", 10000)
	maxLen := 1000

	chunks := chunker.Chunk(text, maxLen)
	require.NotEmpty(t, chunks)

	total := 0
	for _, c := range chunks {
		total += len([]rune(c))
	}
	// Overlap means the chunks cover at least the whole input.
	assert.GreaterOrEqual(t, total, 10000)
}

func TestChunkOverlap(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := chunker.Chunk(text, 100)
	require.Greater(t, len(chunks), 1)

	// Overlap is a tenth of the window, so consecutive hard-cut chunks
	// advance by maxLen minus overlap.
	assert.Len(t, []rune(chunks[0]), 100)
	assert.Len(t, []rune(chunks[1]), 100)
}

func TestChunkMultibyteRunes(t *testing.T) {
	// Four bytes per rune; the limit counts runes, not bytes.
	text := strings.Repeat("\U0001F600", 150)
	chunks := chunker.Chunk(text, 100)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 100, "chunk %d exceeds the rune window", i)
	}
}
