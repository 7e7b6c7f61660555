package translation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/epub"
)

// epubEcho answers a node batch prompt by translating every node to
// "T:"+text, unless reject returns an error for the batch.
func epubEcho(reject func(batch []nodePayload) error) func(string) (string, error) {
	return func(unit string) (string, error) {
		var batch []nodePayload
		if err := json.Unmarshal([]byte(unit), &batch); err != nil {
			return "", err
		}
		if reject != nil {
			if err := reject(batch); err != nil {
				return "", err
			}
		}
		out := make([]nodeTranslation, 0, len(batch))
		for _, n := range batch {
			out = append(out, nodeTranslation{ID: n.ID, TranslatedText: "T:" + n.Text})
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

func testBook() *epub.EPUB {
	return &epub.EPUB{
		Documents: []epub.Document{
			{
				ID: "doc1",
				Nodes: []epub.Node{
					{ID: "ch1_0", Type: epub.NodeText, Tag: "h1", Content: "Chapter One"},
					{ID: "ch1_1", Type: epub.NodeText, Tag: "p", Content: "First paragraph."},
					{ID: "ch1_2", Type: epub.NodeImage, Tag: "img", HTML: `<img src="a.png"/>`},
				},
			},
			{
				ID: "doc2",
				Nodes: []epub.Node{
					{ID: "ch2_0", Type: epub.NodeText, Tag: "p", Content: "Second chapter text."},
				},
			},
		},
	}
}

func epubSettings() Settings {
	s := baseSettings()
	s.EPUBChunkSize = 4000
	s.EPUBMaxNodes = 80
	return s
}

func TestTranslateEPUBWritesBackNodes(t *testing.T) {
	fake := &fakeGateway{respond: epubEcho(nil)}
	svc := NewService(fake, newTestLogger(), nil)
	book := testBook()

	results, err := svc.TranslateEPUB(context.Background(), book, epubSettings(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("TranslateEPUB: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 unit", len(results))
	}
	if !results[0].Success {
		t.Fatalf("unit failed: %s", results[0].Error)
	}
	if len(results[0].TranslatedSegments) != 3 {
		t.Errorf("got %d segments, want 3", len(results[0].TranslatedSegments))
	}

	if got := book.Documents[0].Nodes[0].Content; got != "T:Chapter One" {
		t.Errorf("node ch1_0 = %q", got)
	}
	if got := book.Documents[0].Nodes[1].Content; got != "T:First paragraph." {
		t.Errorf("node ch1_1 = %q", got)
	}
	if got := book.Documents[1].Nodes[0].Content; got != "T:Second chapter text." {
		t.Errorf("node ch2_0 = %q", got)
	}
	// Image nodes are never touched.
	if got := book.Documents[0].Nodes[2].HTML; got != `<img src="a.png"/>` {
		t.Errorf("image node mutated: %q", got)
	}
	if svc.State() != StateCompleted {
		t.Errorf("state = %s, want completed", svc.State())
	}
}

func TestTranslateEPUBUnitBoundaries(t *testing.T) {
	fake := &fakeGateway{respond: epubEcho(nil)}
	svc := NewService(fake, newTestLogger(), nil)
	book := testBook()

	settings := epubSettings()
	settings.EPUBMaxNodes = 2

	results, err := svc.TranslateEPUB(context.Background(), book, settings, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("TranslateEPUB: %v", err)
	}

	// 4 nodes at 2 per unit.
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 units", len(results))
	}
	if got := book.Documents[1].Nodes[0].Content; got != "T:Second chapter text." {
		t.Errorf("node ch2_0 = %q", got)
	}
}

func TestTranslateEPUBSkipsPriorUnits(t *testing.T) {
	fake := &fakeGateway{respond: epubEcho(nil)}
	svc := NewService(fake, newTestLogger(), nil)
	book := testBook()

	original := "Chapter One\nFirst paragraph.\nSecond chapter text."
	prior := map[int]Result{
		0: {
			ChunkIndex:         0,
			OriginalText:       original,
			TranslatedText:     "prior-a\nprior-b\nprior-c",
			Success:            true,
			TranslatedSegments: []string{"prior-a", "prior-b", "prior-c"},
		},
	}

	results, err := svc.TranslateEPUB(context.Background(), book, epubSettings(), nil, prior, nil, nil)
	if err != nil {
		t.Fatalf("TranslateEPUB: %v", err)
	}

	if fake.callCount() != 0 {
		t.Errorf("gateway called %d times, want 0", fake.callCount())
	}
	if results[0].TranslatedText != "prior-a\nprior-b\nprior-c" {
		t.Errorf("prior result not adopted: %q", results[0].TranslatedText)
	}
	if got := book.Documents[0].Nodes[1].Content; got != "prior-b" {
		t.Errorf("restored segment not applied: %q", got)
	}
}

func TestTranslateEPUBSafetySplitKeepsBlockedNode(t *testing.T) {
	reject := func(batch []nodePayload) error {
		for _, n := range batch {
			if strings.Contains(n.Text, "FORBIDDEN") {
				return &ContentSafetyError{Message: "blocked"}
			}
		}
		return nil
	}
	fake := &fakeGateway{respond: epubEcho(reject)}
	svc := NewService(fake, newTestLogger(), nil)

	book := &epub.EPUB{
		Documents: []epub.Document{{
			ID: "doc1",
			Nodes: []epub.Node{
				{ID: "n0", Type: epub.NodeText, Tag: "p", Content: "clean one"},
				{ID: "n1", Type: epub.NodeText, Tag: "p", Content: "FORBIDDEN text"},
				{ID: "n2", Type: epub.NodeText, Tag: "p", Content: "clean two"},
			},
		}},
	}

	results, err := svc.TranslateEPUB(context.Background(), book, epubSettings(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("TranslateEPUB: %v", err)
	}

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}

	if got := book.Documents[0].Nodes[0].Content; got != "T:clean one" {
		t.Errorf("node n0 = %q", got)
	}
	// The persistently blocked node keeps its original content instead of
	// sinking the whole unit.
	if got := book.Documents[0].Nodes[1].Content; got != "FORBIDDEN text" {
		t.Errorf("node n1 = %q, want original kept", got)
	}
	if got := book.Documents[0].Nodes[2].Content; got != "T:clean two" {
		t.Errorf("node n2 = %q", got)
	}
}

func TestTranslateEPUBMissingResponseIDKeepsOriginal(t *testing.T) {
	fake := &fakeGateway{
		respond: func(unit string) (string, error) {
			var batch []nodePayload
			if err := json.Unmarshal([]byte(unit), &batch); err != nil {
				return "", err
			}
			// Drop the first node from the response entirely.
			out := make([]nodeTranslation, 0, len(batch))
			for i, n := range batch {
				if i == 0 {
					continue
				}
				out = append(out, nodeTranslation{ID: n.ID, TranslatedText: "T:" + n.Text})
			}
			encoded, _ := json.Marshal(out)
			return string(encoded), nil
		},
	}
	svc := NewService(fake, newTestLogger(), nil)
	book := testBook()

	results, err := svc.TranslateEPUB(context.Background(), book, epubSettings(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("TranslateEPUB: %v", err)
	}

	if !results[0].Success {
		t.Fatalf("unit failed: %s", results[0].Error)
	}
	if got := book.Documents[0].Nodes[0].Content; got != "Chapter One" {
		t.Errorf("dropped node = %q, want original content kept", got)
	}
	if got := book.Documents[0].Nodes[1].Content; got != "T:First paragraph." {
		t.Errorf("node ch1_1 = %q", got)
	}
}

func TestTranslateEPUBRateLimitAborts(t *testing.T) {
	fake := &fakeGateway{
		respond: func(string) (string, error) {
			return "", &RateLimitError{Message: "quota"}
		},
	}
	svc := NewService(fake, newTestLogger(), nil)
	book := testBook()

	settings := epubSettings()
	settings.EPUBMaxNodes = 1
	settings.MaxWorkers = 1

	results, err := svc.TranslateEPUB(context.Background(), book, settings, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("TranslateEPUB: %v", err)
	}

	if len(results) >= 4 {
		t.Errorf("got %d results, want fewer than all 4 after abort", len(results))
	}
	if svc.State() != StateStopped {
		t.Errorf("state = %s, want stopped", svc.State())
	}
	if got := book.Documents[0].Nodes[0].Content; got != "Chapter One" {
		t.Errorf("aborted run must not mutate nodes: %q", got)
	}
}

func TestParseNodeTranslations(t *testing.T) {
	payload := `[{"id":"a","translated_text":"x"},{"id":"b","translated_text":"y"}]`

	tests := []struct {
		name  string
		input string
	}{
		{"bare json", payload},
		{"json code fence", "```json\n" + payload + "\n```"},
		{"plain code fence", "```\n" + payload + "\n```"},
		{"surrounding whitespace", "\n\n  " + payload + "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parseNodeTranslations(tt.input)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if len(parsed) != 2 || parsed[0].ID != "a" || parsed[1].TranslatedText != "y" {
				t.Errorf("parsed = %+v", parsed)
			}
		})
	}

	if _, err := parseNodeTranslations("I'm sorry, I can't do that"); err == nil {
		t.Error("prose response must fail to parse")
	}
}

func TestUnitOriginalText(t *testing.T) {
	unit := []epub.Node{
		{ID: "a", Type: epub.NodeText, Content: "one"},
		{ID: "b", Type: epub.NodeImage, HTML: "<img/>"},
		{ID: "c", Type: epub.NodeText, Content: "two"},
	}
	if got := unitOriginalText(unit); got != "one\ntwo" {
		t.Errorf("unitOriginalText = %q", got)
	}
}
