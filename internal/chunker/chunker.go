package chunker

import (
	"strings"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/epub"
)

// sentenceEnders are the runes treated as sentence boundaries when no
// newline boundary is available inside a window.
var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '…': true,
}

// SplitIntoChunks splits text into ordered chunks of at most maxSize runes.
// Boundaries are chosen by priority: paragraph break (double newline),
// single newline, sentence-ending punctuation, then a hard cut. Joining the
// returned chunks with the empty string reproduces the input byte for byte.
func SplitIntoChunks(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = 1
	}

	runes := []rune(text)
	if len(runes) <= maxSize {
		return []string{text}
	}

	var chunks []string
	pos := 0

	for pos < len(runes) {
		remaining := len(runes) - pos
		if remaining <= maxSize {
			chunks = append(chunks, string(runes[pos:]))
			break
		}

		window := runes[pos : pos+maxSize]
		cut := findCut(window)
		if cut <= 0 {
			cut = maxSize
		}

		chunks = append(chunks, string(runes[pos:pos+cut]))
		pos += cut
	}

	return chunks
}

// findCut returns the rune offset to cut the window at, or 0 if no boundary
// was found. The cut always lands immediately after the boundary so the
// boundary characters stay with the earlier chunk.
func findCut(window []rune) int {
	s := string(window)

	if idx := strings.LastIndex(s, "\n\n"); idx >= 0 {
		return len([]rune(s[:idx])) + 2
	}

	if idx := strings.LastIndex(s, "\n"); idx >= 0 {
		return len([]rune(s[:idx])) + 1
	}

	for i := len(window) - 1; i > 0; i-- {
		if sentenceEnders[window[i]] {
			return i + 1
		}
	}

	return 0
}

// SplitChunkRecursively re-splits a chunk that failed as a whole, halving the
// target size at each level and re-applying the normal boundary priorities.
// Recursion stops once pieces are at or below minSize or maxDepth is reached.
// A chunk with no usable boundary falls back to a sentence split and finally
// a hard 50/50 cut, so the result always has at least two pieces unless the
// input was already small enough.
func SplitChunkRecursively(text string, targetSize, minSize, maxDepth, depth int) []string {
	runes := []rune(text)
	if len(runes) <= minSize || depth >= maxDepth {
		return []string{text}
	}

	half := targetSize / 2
	if half < minSize {
		half = minSize
	}

	pieces := SplitIntoChunks(text, half)
	if len(pieces) < 2 {
		pieces = sentenceForcedSplit(text)
	}
	if len(pieces) < 2 {
		pieces = hardHalve(text)
	}

	var out []string
	for _, p := range pieces {
		out = append(out, SplitChunkRecursively(p, half, minSize, maxDepth, depth+1)...)
	}
	return out
}

// Halve performs the single-level split used by the content-safety recovery
// path: boundary-aware split around the middle, then a sentence split, then
// a hard 50/50 cut.
func Halve(text string) []string {
	runes := []rune(text)
	if len(runes) < 2 {
		return []string{text}
	}

	target := (len(runes) + 1) / 2
	pieces := SplitIntoChunks(text, target)
	if len(pieces) >= 2 {
		return pieces
	}

	if pieces = sentenceForcedSplit(text); len(pieces) >= 2 {
		return pieces
	}

	return hardHalve(text)
}

// sentenceForcedSplit cuts the text in two at the sentence boundary closest
// to its midpoint. Returns nil when the text has no sentence boundary.
func sentenceForcedSplit(text string) []string {
	runes := []rune(text)
	mid := len(runes) / 2

	best := -1
	for i, r := range runes {
		if i == len(runes)-1 {
			break
		}
		if sentenceEnders[r] {
			if best == -1 || abs(i-mid) < abs(best-mid) {
				best = i
			}
		}
	}

	if best < 0 {
		return nil
	}
	return []string{string(runes[:best+1]), string(runes[best+1:])}
}

func hardHalve(text string) []string {
	runes := []rune(text)
	if len(runes) < 2 {
		return []string{text}
	}
	mid := len(runes) / 2
	return []string{string(runes[:mid]), string(runes[mid:])}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SplitNodes groups an ordered node list into translation units. Text nodes
// count toward the character budget; every node counts toward the node cap.
// Unit boundaries only ever fall between nodes.
func SplitNodes(nodes []epub.Node, maxChars, maxNodes int) [][]epub.Node {
	if maxChars <= 0 {
		maxChars = 1
	}
	if maxNodes <= 0 {
		maxNodes = 1
	}

	var units [][]epub.Node
	var current []epub.Node
	chars := 0

	for _, node := range nodes {
		nodeChars := 0
		if node.Type == epub.NodeText {
			nodeChars = len([]rune(node.Content))
		}

		if len(current) > 0 && (chars+nodeChars > maxChars || len(current)+1 > maxNodes) {
			units = append(units, current)
			current = nil
			chars = 0
		}

		current = append(current, node)
		chars += nodeChars
	}

	if len(current) > 0 {
		units = append(units, current)
	}

	return units
}
