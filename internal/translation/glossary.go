package translation

import (
	"fmt"
	"sort"
	"strings"
)

// GlossaryEntry is supplied by the caller and read-only to the pipeline.
type GlossaryEntry struct {
	Keyword           string `json:"keyword"`
	TranslatedKeyword string `json:"translated_keyword"`
	TargetLanguage    string `json:"target_language"`
	OccurrenceCount   int    `json:"occurrence_count"`
}

// NoGlossaryContext is substituted when no entry is relevant to a unit, so
// the prompt placeholder never renders as silent emptiness.
const NoGlossaryContext = "(no relevant glossary entries)"

// BuildGlossaryContext renders the glossary lines injected into one unit's
// prompt. Only entries whose keyword appears in the unit text qualify;
// candidates are ordered by descending occurrence count and added greedily
// under both an entry cap and a character cap. At least one relevant entry
// is always included, even if it alone exceeds the character cap.
func BuildGlossaryContext(entries []GlossaryEntry, unitText string, maxEntries, maxChars int) string {
	if len(entries) == 0 {
		return NoGlossaryContext
	}

	lowerText := strings.ToLower(unitText)

	var relevant []GlossaryEntry
	for _, e := range entries {
		if e.Keyword == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(e.Keyword)) {
			relevant = append(relevant, e)
		}
	}

	if len(relevant) == 0 {
		return NoGlossaryContext
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].OccurrenceCount > relevant[j].OccurrenceCount
	})

	var lines []string
	chars := 0
	for _, e := range relevant {
		if maxEntries > 0 && len(lines) >= maxEntries {
			break
		}
		line := fmt.Sprintf("%s => %s", e.Keyword, e.TranslatedKeyword)
		if maxChars > 0 && chars+len(line) > maxChars && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
		chars += len(line) + 1
	}

	return strings.Join(lines, "\n")
}
