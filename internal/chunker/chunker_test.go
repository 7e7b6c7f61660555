package chunker

import (
	"strings"
	"testing"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/epub"
)

func TestSplitIntoChunksBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		maxSize int
		want    []string
	}{
		{
			name:    "fits in one chunk",
			text:    "short text",
			maxSize: 100,
			want:    []string{"short text"},
		},
		{
			name:    "empty input",
			text:    "",
			maxSize: 10,
			want:    []string{""},
		},
		{
			name:    "paragraph break preferred",
			text:    "aaaa.\n\nbbbb",
			maxSize: 8,
			want:    []string{"aaaa.\n\n", "bbbb"},
		},
		{
			name:    "paragraph break beats later newline",
			text:    "aa\n\nbb\ncc ddd",
			maxSize: 10,
			want:    []string{"aa\n\n", "bb\ncc ddd"},
		},
		{
			name:    "newline beats earlier sentence end",
			text:    "aaaa.\nbbbbbb",
			maxSize: 8,
			want:    []string{"aaaa.\n", "bbbbbb"},
		},
		{
			name:    "sentence boundary fallback",
			text:    "Hello world. More text here",
			maxSize: 16,
			want:    []string{"Hello world.", " More text here"},
		},
		{
			name:    "hard cut with no boundary",
			text:    "abcdefghij",
			maxSize: 4,
			want:    []string{"abcd", "efgh", "ij"},
		},
		{
			name:    "cjk sentence ender",
			text:    "これは文です。続きの文章がここにあります",
			maxSize: 10,
			want:    []string{"これは文です。", "続きの文章がここにあ", "ります"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitIntoChunks(tt.text, tt.maxSize)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitIntoChunksLossless(t *testing.T) {
	inputs := []string{
		"para one.\n\npara two.\n\npara three with a much longer body of text.",
		"no boundaries at all " + strings.Repeat("x", 500),
		"mixed\nnewlines. And sentences! Plus questions? And\n\nparagraphs.",
		strings.Repeat("日本語のテキスト。", 100),
	}

	for _, text := range inputs {
		for _, maxSize := range []int{7, 25, 100} {
			chunks := SplitIntoChunks(text, maxSize)
			if joined := strings.Join(chunks, ""); joined != text {
				t.Errorf("maxSize %d: join does not reproduce input (len %d vs %d)",
					maxSize, len(joined), len(text))
			}
			for i, c := range chunks {
				if len([]rune(c)) > maxSize {
					t.Errorf("maxSize %d: chunk %d has %d runes", maxSize, i, len([]rune(c)))
				}
			}
		}
	}
}

func TestSplitChunkRecursivelyTerminates(t *testing.T) {
	// Worst case input: no usable boundaries anywhere.
	text := strings.Repeat("b", 1000)

	pieces := SplitChunkRecursively(text, 1000, 100, 10, 0)

	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}
	if joined := strings.Join(pieces, ""); joined != text {
		t.Error("join does not reproduce input")
	}
	for i, p := range pieces {
		if n := len([]rune(p)); n > 100 {
			t.Errorf("piece %d has %d runes, want <= 100", i, n)
		}
	}
}

func TestSplitChunkRecursivelySmallInput(t *testing.T) {
	pieces := SplitChunkRecursively("tiny", 1000, 100, 10, 0)
	if len(pieces) != 1 || pieces[0] != "tiny" {
		t.Errorf("got %q, want the input untouched", pieces)
	}
}

func TestHalve(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"plain halves", "abcdefgh"},
		{"sentence boundary", "One sentence. Another one here"},
		{"paragraph boundary", "first\n\nsecond part follows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			halves := Halve(tt.text)
			if len(halves) < 2 {
				t.Fatalf("got %d pieces, want at least 2", len(halves))
			}
			if strings.Join(halves, "") != tt.text {
				t.Error("join does not reproduce input")
			}
		})
	}

	if got := Halve("a"); len(got) != 1 || got[0] != "a" {
		t.Errorf("single rune: got %q", got)
	}
}

func textNode(id, content string) epub.Node {
	return epub.Node{ID: id, Type: epub.NodeText, Content: content}
}

func TestSplitNodesCharBudget(t *testing.T) {
	nodes := []epub.Node{
		textNode("a", "123456"),
		textNode("b", "123456"),
		textNode("c", "12"),
	}

	units := SplitNodes(nodes, 10, 100)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if len(units[0]) != 1 || units[0][0].ID != "a" {
		t.Errorf("unit 0 = %v", ids(units[0]))
	}
	if len(units[1]) != 2 || units[1][0].ID != "b" || units[1][1].ID != "c" {
		t.Errorf("unit 1 = %v", ids(units[1]))
	}
}

func TestSplitNodesNodeCap(t *testing.T) {
	nodes := []epub.Node{
		textNode("a", "x"),
		{ID: "img", Type: epub.NodeImage, HTML: "<img/>"},
		textNode("b", "y"),
	}

	units := SplitNodes(nodes, 1000, 2)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if got := ids(units[0]); len(got) != 2 {
		t.Errorf("unit 0 = %v, want a and img", got)
	}
}

func TestSplitNodesOversizedSingleNode(t *testing.T) {
	nodes := []epub.Node{textNode("big", strings.Repeat("x", 50))}
	units := SplitNodes(nodes, 10, 10)
	if len(units) != 1 || len(units[0]) != 1 {
		t.Fatalf("oversized node must still form its own unit, got %v", units)
	}
}

func TestSplitNodesImageDoesNotCount(t *testing.T) {
	// Image HTML can be huge; only text content counts toward chars.
	nodes := []epub.Node{
		{ID: "img", Type: epub.NodeImage, HTML: strings.Repeat("z", 10000)},
		textNode("a", "hello"),
	}
	units := SplitNodes(nodes, 10, 100)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
}

func ids(nodes []epub.Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}
