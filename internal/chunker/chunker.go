// ABOUTME: Splits long outbound text into network-size-limited pieces.
// ABOUTME: Pure function, prefers breaking at newlines, then spaces, then hard cuts.

package chunker

import "strings"

// Chunk splits text into pieces of at most limit runes each.
// Text at or under the limit is returned unchanged as a single chunk.
// Break points are chosen in order of preference: the last newline in the
// window, the last space, then a hard cut exactly at the limit. Whitespace
// around a break point is trimmed so no chunk starts or ends mid-gap.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		window := runes[:limit]

		cut := lastIndexRune(window, '\n')
		if cut <= 0 {
			cut = lastIndexRune(window, ' ')
		}
		if cut <= 0 {
			cut = limit
		}

		piece := strings.TrimRight(string(runes[:cut]), " \n\t")
		if piece != "" {
			chunks = append(chunks, piece)
		}

		rest := strings.TrimLeft(string(runes[cut:]), " \n\t")
		runes = []rune(rest)
	}

	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}

	return chunks
}

// lastIndexRune returns the index of the last occurrence of r, or -1.
func lastIndexRune(window []rune, r rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == r {
			return i
		}
	}
	return -1
}
