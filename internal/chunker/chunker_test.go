// ABOUTME: Tests for outbound text chunking.
// ABOUTME: Validates limit passthrough, break-point selection, and chunk length bounds.

package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ShortTextUnchanged(t *testing.T) {
	chunks := Chunk("hello world", 4000)
	assert.Equal(t, []string{"hello world"}, chunks)
}

func TestChunk_ExactLimitUnchanged(t *testing.T) {
	text := strings.Repeat("x", 4000)
	chunks := Chunk(text, 4000)
	assert.Equal(t, []string{text}, chunks)
}

func TestChunk_HardCutWithoutBreakPoints(t *testing.T) {
	text := strings.Repeat("a", 5000)
	chunks := Chunk(text, 4000)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 4000), chunks[0])
	assert.Equal(t, strings.Repeat("a", 1000), chunks[1])
}

func TestChunk_PrefersNewlineBreak(t *testing.T) {
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	chunks := Chunk(text, 15)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 10), chunks[0])
	assert.Equal(t, strings.Repeat("b", 10), chunks[1])
}

func TestChunk_FallsBackToSpaceBreak(t *testing.T) {
	text := "aaaa bbbb cccc dddd"
	chunks := Chunk(text, 11)

	require.Len(t, chunks, 2)
	assert.Equal(t, "aaaa bbbb", chunks[0])
	assert.Equal(t, "cccc dddd", chunks[1])
}

func TestChunk_NewlinePreferredOverLaterSpace(t *testing.T) {
	// The window contains both a newline and a later space; the newline wins
	// even though the space would allow a longer first chunk.
	text := "line1\nword1 word2 word3 word4"
	chunks := Chunk(text, 20)

	require.NotEmpty(t, chunks)
	assert.Equal(t, "line1", chunks[0])
}

func TestChunk_NeverExceedsLimit(t *testing.T) {
	inputs := []string{
		strings.Repeat("a", 12345),
		strings.Repeat("word ", 3000),
		strings.Repeat("para\npara\n", 1500),
		"short",
	}

	for _, text := range inputs {
		for _, limit := range []int{10, 100, 4000} {
			for _, c := range Chunk(text, limit) {
				assert.LessOrEqual(t, len([]rune(c)), limit,
					"chunk exceeds limit %d", limit)
			}
		}
	}
}

func TestChunk_ContentPreserved(t *testing.T) {
	// Rejoining chunks with whitespace collapsed recovers the original
	// content (only whitespace at break points is trimmed).
	text := strings.Repeat("the quick brown fox ", 500)
	chunks := Chunk(text, 100)

	joined := strings.Join(chunks, " ")
	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	assert.Equal(t, normalize(text), normalize(joined))
}

func TestChunk_LeadingBreakPointIgnored(t *testing.T) {
	// A newline or space at position 0 must not produce an empty chunk.
	text := "\n" + strings.Repeat("a", 30)
	for _, c := range Chunk(text, 10) {
		assert.NotEmpty(t, c)
	}
}

func TestChunk_ZeroLimit(t *testing.T) {
	chunks := Chunk("anything", 0)
	assert.Equal(t, []string{"anything"}, chunks)
}
