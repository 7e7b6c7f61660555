package translation

import (
	"fmt"
	"strings"
	"testing"
)

func TestBuildGlossaryContextRelevance(t *testing.T) {
	entries := []GlossaryEntry{
		{Keyword: "Aria", TranslatedKeyword: "아리아", OccurrenceCount: 5},
		{Keyword: "Citadel", TranslatedKeyword: "요새", OccurrenceCount: 9},
		{Keyword: "Unused", TranslatedKeyword: "미사용", OccurrenceCount: 100},
	}

	got := BuildGlossaryContext(entries, "Aria walked toward the citadel gates.", 10, 1000)

	if !strings.Contains(got, "Aria => 아리아") {
		t.Errorf("missing Aria entry: %q", got)
	}
	if !strings.Contains(got, "Citadel => 요새") {
		t.Errorf("matching must be case-insensitive: %q", got)
	}
	if strings.Contains(got, "Unused") {
		t.Errorf("irrelevant entry leaked in: %q", got)
	}

	// Higher occurrence count comes first.
	if strings.Index(got, "Citadel") > strings.Index(got, "Aria") {
		t.Errorf("entries not ordered by occurrence count: %q", got)
	}
}

func TestBuildGlossaryContextNoMatches(t *testing.T) {
	entries := []GlossaryEntry{
		{Keyword: "Dragon", TranslatedKeyword: "용", OccurrenceCount: 3},
	}

	if got := BuildGlossaryContext(entries, "nothing relevant here", 10, 1000); got != NoGlossaryContext {
		t.Errorf("got %q, want sentinel", got)
	}
	if got := BuildGlossaryContext(nil, "any text", 10, 1000); got != NoGlossaryContext {
		t.Errorf("empty glossary: got %q, want sentinel", got)
	}
}

func TestBuildGlossaryContextEntryCap(t *testing.T) {
	var entries []GlossaryEntry
	var text strings.Builder
	for i := 0; i < 50; i++ {
		kw := fmt.Sprintf("term%02d", i)
		entries = append(entries, GlossaryEntry{
			Keyword:           kw,
			TranslatedKeyword: fmt.Sprintf("tr%02d", i),
			OccurrenceCount:   i,
		})
		text.WriteString(kw + " ")
	}

	got := BuildGlossaryContext(entries, text.String(), 3, 10000)

	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), got)
	}
	// The three highest occurrence counts win.
	for _, want := range []string{"term49", "term48", "term47"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %s in %q", want, got)
		}
	}
}

func TestBuildGlossaryContextCharCap(t *testing.T) {
	entries := []GlossaryEntry{
		{Keyword: "alpha", TranslatedKeyword: "first", OccurrenceCount: 10},
		{Keyword: "beta", TranslatedKeyword: "second", OccurrenceCount: 5},
	}
	text := "alpha and beta appear"

	got := BuildGlossaryContext(entries, text, 10, 15)
	if strings.Contains(got, "beta") {
		t.Errorf("char cap not enforced: %q", got)
	}
	if !strings.Contains(got, "alpha") {
		t.Errorf("first relevant entry must always be included: %q", got)
	}
}

func TestBuildGlossaryContextFirstEntryExceedsCap(t *testing.T) {
	entries := []GlossaryEntry{
		{Keyword: "extraordinarily-long-keyword", TranslatedKeyword: "translation", OccurrenceCount: 1},
	}
	text := "the extraordinarily-long-keyword appears"

	got := BuildGlossaryContext(entries, text, 10, 5)
	if got == NoGlossaryContext || !strings.Contains(got, "extraordinarily-long-keyword") {
		t.Errorf("oversized first entry must still be included: %q", got)
	}
}
