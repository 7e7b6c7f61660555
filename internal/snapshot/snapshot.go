package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/chunker"
	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/epub"
	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/translation"
)

// Kind distinguishes what the snapshot's source field holds.
const (
	KindText = "text"
	KindEPUB = "epub"
)

// Granularity records what the stored segments correspond to. Older
// snapshots omitted this and forced a fragile count-comparison heuristic, so
// it is now stored explicitly; the heuristic remains only as a legacy
// fallback.
const (
	GranularityTextNodes = "text_nodes"
	GranularityAllNodes  = "all_nodes"
)

// SavedResult is the persisted projection of one successful unit.
type SavedResult struct {
	OriginalText   string   `json:"original_text"`
	TranslatedText string   `json:"translated_text"`
	Segments       []string `json:"segments,omitempty"`
}

// Snapshot is the serializable capture of a job: the configuration needed to
// re-derive identical chunk boundaries, the unmodified original source, and
// a sparse map of completed results. Failed units are omitted so a fresh
// attempt is forced on resume. JSON keys of Results are unit indices.
type Snapshot struct {
	Version     int                    `json:"version"`
	Kind        string                 `json:"kind"`
	SourceText  string                 `json:"source_text,omitempty"`
	SourceFile  string                 `json:"source_file,omitempty"`
	Granularity string                 `json:"segment_granularity,omitempty"`
	Settings    translation.Settings   `json:"settings"`
	Results     map[string]SavedResult `json:"results"`
}

// RestoredJob is what Import hands back to the caller: enough to resume a
// run without the core ever touching persistent storage itself.
type RestoredJob struct {
	Kind       string
	SourceText string
	SourceFile string
	Settings   translation.Settings
	Prior      map[int]translation.Result
	Progress   translation.Progress
}

// Export captures a job's successful results keyed by unit index. The
// original source is stored, not the chunk boundaries: boundaries are
// recomputed deterministically from settings at import time.
func Export(kind, sourceText, sourceFile string, results []translation.Result, settings translation.Settings) *Snapshot {
	snap := &Snapshot{
		Version:    1,
		Kind:       kind,
		SourceText: sourceText,
		SourceFile: sourceFile,
		Settings:   settings,
		Results:    make(map[string]SavedResult),
	}
	if kind == KindEPUB {
		snap.Granularity = GranularityTextNodes
	}

	for _, res := range results {
		if !res.Success {
			continue
		}
		snap.Results[strconv.Itoa(res.ChunkIndex)] = SavedResult{
			OriginalText:   res.OriginalText,
			TranslatedText: res.TranslatedText,
			Segments:       res.TranslatedSegments,
		}
	}

	return snap
}

// Import validates a snapshot and rebuilds a resumable job. Settings fall
// back to the current in-memory configuration field-by-field wherever the
// snapshot omits a value, so partial or old-format snapshots never crash.
func Import(snap *Snapshot, current translation.Settings) (*RestoredJob, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is nil")
	}
	if snap.Kind == KindEPUB {
		if snap.SourceFile == "" {
			return nil, fmt.Errorf("snapshot has no source file")
		}
	} else if snap.SourceText == "" {
		return nil, fmt.Errorf("snapshot has no source text")
	}
	if snap.Settings.ChunkSize <= 0 && current.ChunkSize <= 0 {
		return nil, fmt.Errorf("snapshot has no chunk size")
	}

	effective := mergeSettings(snap.Settings, current)

	job := &RestoredJob{
		Kind:       snap.Kind,
		SourceText: snap.SourceText,
		SourceFile: snap.SourceFile,
		Settings:   effective,
		Prior:      make(map[int]translation.Result),
	}
	if job.Kind == "" {
		job.Kind = KindText
	}

	if job.Kind == KindText {
		restoreText(snap, job)
	}
	// EPUB restoration additionally needs the re-parsed book; see
	// RestoreEPUB.

	return job, nil
}

// restoreText re-chunks the stored original under the effective settings and
// adopts stored results index by index. A changed chunk size means indices
// beyond the divergence point simply come back untranslated; no boundary
// realignment is attempted for plain text.
func restoreText(snap *Snapshot, job *RestoredJob) {
	chunks := chunker.SplitIntoChunks(job.SourceText, job.Settings.ChunkSize)

	job.Progress.TotalChunks = len(chunks)

	for i := range chunks {
		saved, ok := snap.Results[strconv.Itoa(i)]
		if !ok {
			continue
		}
		job.Prior[i] = translation.Result{
			ChunkIndex:         i,
			OriginalText:       saved.OriginalText,
			TranslatedText:     saved.TranslatedText,
			Success:            true,
			TranslatedSegments: saved.Segments,
		}
		// Diverged entries stay in the prior map for the run-time length
		// check to reject, but they are not progress: counting them would
		// overstate how much of the job the next run can skip.
		if utf8.RuneCountInString(saved.OriginalText) == utf8.RuneCountInString(chunks[i]) {
			job.Progress.ProcessedChunks++
			job.Progress.SuccessfulChunks++
		}
	}

	job.Progress.CurrentStatusMessage = fmt.Sprintf("restored %d/%d chunks",
		job.Progress.ProcessedChunks, job.Progress.TotalChunks)
}

// RestoreEPUB maps a snapshot's stored segments onto a freshly parsed and
// re-chunked book. Node ids, not character offsets, are the unit of truth:
// segments are collected in strict index order up to the first gap, then
// redistributed across the new unit boundaries until the pool runs dry.
func RestoreEPUB(snap *Snapshot, book *epub.EPUB, job *RestoredJob) error {
	if snap.Kind != KindEPUB {
		return fmt.Errorf("snapshot is not an epub snapshot")
	}

	maxChars := job.Settings.EPUBChunkSize
	if maxChars <= 0 {
		maxChars = 4000
	}
	maxNodes := job.Settings.EPUBMaxNodes
	if maxNodes <= 0 {
		maxNodes = 80
	}

	units := chunker.SplitNodes(book.AllNodes(), maxChars, maxNodes)
	job.Progress = translation.Progress{TotalChunks: len(units)}

	pool, firstSaved := collectSegments(snap)
	if len(pool) == 0 {
		job.Progress.CurrentStatusMessage = "no reusable segments in snapshot"
		return nil
	}

	perTextNode := resolveGranularity(snap, firstSaved, units)

	cursor := 0
	for i, unit := range units {
		need := segmentRequirement(unit, perTextNode)
		if need == 0 {
			continue
		}
		if cursor+need > len(pool) {
			// Pool exhausted before this unit could be filled
			// completely; everything from here stays untranslated.
			break
		}

		segments := normalizeSegments(unit, pool[cursor:cursor+need], perTextNode)
		cursor += need

		original := unitText(unit)
		job.Prior[i] = translation.Result{
			ChunkIndex:         i,
			OriginalText:       original,
			TranslatedText:     strings.Join(segments, "\n"),
			Success:            true,
			TranslatedSegments: segments,
		}
		job.Progress.ProcessedChunks++
		job.Progress.SuccessfulChunks++
	}

	job.Progress.CurrentStatusMessage = fmt.Sprintf("restored %d/%d epub units",
		job.Progress.ProcessedChunks, job.Progress.TotalChunks)
	return nil
}

// collectSegments gathers stored segments in strict unit-index order,
// stopping at the first gap or at a legacy result without per-node segments:
// non-contiguous recovery is unsafe because redistribution needs an
// unbroken prefix.
func collectSegments(snap *Snapshot) ([]string, *SavedResult) {
	var pool []string
	var first *SavedResult

	for i := 0; ; i++ {
		saved, ok := snap.Results[strconv.Itoa(i)]
		if !ok || len(saved.Segments) == 0 {
			break
		}
		if first == nil {
			s := saved
			first = &s
		}
		pool = append(pool, saved.Segments...)
	}

	return pool, first
}

// resolveGranularity decides whether stored segments are one-per-text-node
// or one-per-node. The stored field wins; for legacy snapshots the first
// available unit's segment count is compared against both node counts.
func resolveGranularity(snap *Snapshot, first *SavedResult, units [][]epub.Node) bool {
	switch snap.Granularity {
	case GranularityTextNodes:
		return true
	case GranularityAllNodes:
		return false
	}

	if first == nil || len(units) == 0 {
		return true
	}

	firstUnit := units[0]
	textCount := 0
	for _, node := range firstUnit {
		if node.Type == epub.NodeText {
			textCount++
		}
	}

	if len(first.Segments) == textCount {
		return true
	}
	if len(first.Segments) == len(firstUnit) {
		return false
	}
	return true
}

func segmentRequirement(unit []epub.Node, perTextNode bool) int {
	if !perTextNode {
		return len(unit)
	}
	count := 0
	for _, node := range unit {
		if node.Type == epub.NodeText {
			count++
		}
	}
	return count
}

// normalizeSegments converts an all-nodes slice to text-node granularity so
// the rest of the pipeline only ever sees one segment per text node.
func normalizeSegments(unit []epub.Node, segments []string, perTextNode bool) []string {
	if perTextNode {
		out := make([]string, len(segments))
		copy(out, segments)
		return out
	}

	var out []string
	for i, node := range unit {
		if i >= len(segments) {
			break
		}
		if node.Type == epub.NodeText {
			out = append(out, segments[i])
		}
	}
	return out
}

func unitText(unit []epub.Node) string {
	var parts []string
	for _, node := range unit {
		if node.Type == epub.NodeText {
			parts = append(parts, node.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// mergeSettings overlays snapshot settings onto the current configuration
// field by field, keeping the current value wherever the snapshot omits one.
func mergeSettings(saved, current translation.Settings) translation.Settings {
	out := current

	if saved.ChunkSize > 0 {
		out.ChunkSize = saved.ChunkSize
	}
	if saved.MaxWorkers > 0 {
		out.MaxWorkers = saved.MaxWorkers
	}
	if saved.RequestsPerMinute > 0 {
		out.RequestsPerMinute = saved.RequestsPerMinute
	}
	if saved.Model != "" {
		out.Model = saved.Model
	}
	if saved.Temperature > 0 {
		out.Temperature = saved.Temperature
	}
	if saved.TopP > 0 {
		out.TopP = saved.TopP
	}
	if saved.MaxTokens > 0 {
		out.MaxTokens = saved.MaxTokens
	}
	if saved.PromptTemplate != "" {
		out.PromptTemplate = saved.PromptTemplate
	}
	if saved.SystemInstruction != "" {
		out.SystemInstruction = saved.SystemInstruction
	}
	if saved.MinSafetyChunkSize > 0 {
		out.MinSafetyChunkSize = saved.MinSafetyChunkSize
	}
	if saved.MaxSafetyAttempts > 0 {
		out.MaxSafetyAttempts = saved.MaxSafetyAttempts
	}
	if saved.GlossaryMaxEntries > 0 {
		out.GlossaryMaxEntries = saved.GlossaryMaxEntries
	}
	if saved.GlossaryMaxChars > 0 {
		out.GlossaryMaxChars = saved.GlossaryMaxChars
	}
	if saved.EPUBChunkSize > 0 {
		out.EPUBChunkSize = saved.EPUBChunkSize
	}
	if saved.EPUBMaxNodes > 0 {
		out.EPUBMaxNodes = saved.EPUBMaxNodes
	}

	return out
}
