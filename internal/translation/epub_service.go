package translation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/chunker"
	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/epub"
)

// epubBatchInstruction frames the structured request: many small text nodes
// travel as one JSON array instead of one prose blob, and come back keyed by
// node id so they can be re-attached even if the provider reorders them.
const epubBatchInstruction = `The input below is a JSON array of objects with "id" and "text" fields. Translate each "text" value. Respond with ONLY a JSON array of objects with "id" and "translated_text" fields, one per input object, preserving the ids exactly.`

type nodePayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type nodeTranslation struct {
	ID             string `json:"id"`
	TranslatedText string `json:"translated_text"`
}

// TranslateEPUB runs the pipeline over a flattened EPUB. Units are node
// sub-lists rather than substrings; recovery from content-safety blocks
// splits the node list in half rather than the characters, down to a single
// node, which is then left untranslated rather than aborting the document.
// Translated content is written back into the book's nodes in place.
func (s *Service) TranslateEPUB(ctx context.Context, book *epub.EPUB, settings Settings, glossary []GlossaryEntry, prior map[int]Result, onProgress ProgressFunc, onResult ResultFunc) ([]Result, error) {
	maxChars := settings.EPUBChunkSize
	if maxChars <= 0 {
		maxChars = 4000
	}
	maxNodes := settings.EPUBMaxNodes
	if maxNodes <= 0 {
		maxNodes = 80
	}

	units := chunker.SplitNodes(book.AllNodes(), maxChars, maxNodes)
	r := s.newRun(ctx, len(units), settings, glossary, onProgress, onResult)

	maxWorkers := settings.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	translated := make(map[string]string)
	var translatedMu sync.Mutex

	adopt := func(unit []epub.Node, segments []string) {
		translatedMu.Lock()
		defer translatedMu.Unlock()
		i := 0
		for _, node := range unit {
			if node.Type != epub.NodeText {
				continue
			}
			if i < len(segments) {
				translated[node.ID] = segments[i]
			}
			i++
		}
	}

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

submit:
	for i, unit := range units {
		if r.stopped() {
			break
		}

		original := unitOriginalText(unit)

		if p, ok := prior[i]; ok && p.Success && runeLen(p.OriginalText) == runeLen(original) {
			s.logger.Debugf("Skipping EPUB unit %d: already translated", i)
			adopt(unit, p.TranslatedSegments)
			r.complete(Result{
				ChunkIndex:         i,
				OriginalText:       original,
				TranslatedText:     p.TranslatedText,
				Success:            true,
				TranslatedSegments: p.TranslatedSegments,
			})
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-r.ctx.Done():
			break submit
		}

		wg.Add(1)
		go func(index int, unit []epub.Node, original string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, fatal := s.translateNodeUnit(r, index, unit, true)
			if fatal {
				r.halt(res.Error)
			}
			if res.Success {
				adopt(unit, res.TranslatedSegments)
			}
			r.complete(res)
		}(i, unit, original)
	}

	wg.Wait()

	applyTranslations(book, translated)

	results := r.finish()
	return results, nil
}

// translateNodeUnit sends one unit's text nodes as a structured JSON batch
// and re-attaches the response by id.
func (s *Service) translateNodeUnit(r *run, index int, unit []epub.Node, allowSafetyRetry bool) (Result, bool) {
	textNodes := filterTextNodes(unit)
	original := unitOriginalText(unit)

	if len(textNodes) == 0 {
		return Result{
			ChunkIndex:   index,
			OriginalText: original,
			Success:      true,
		}, false
	}

	segments, err := s.translateNodeBatch(r, textNodes)
	if err == nil {
		return Result{
			ChunkIndex:         index,
			OriginalText:       original,
			TranslatedText:     strings.Join(segments, "\n"),
			Success:            true,
			TranslatedSegments: segments,
		}, false
	}

	switch Classify(err) {
	case KindCancelled:
		return Result{
			ChunkIndex:   index,
			OriginalText: original,
			Success:      false,
			Error:        "cancelled",
			Cancelled:    true,
		}, false

	case KindRateLimit:
		s.logger.Errorf("Rate limit hit on EPUB unit %d, stopping job: %v", index, err)
		return Result{
			ChunkIndex:   index,
			OriginalText: original,
			Success:      false,
			Error:        err.Error(),
		}, true

	case KindContentSafety:
		if allowSafetyRetry && r.settings.EnableSafetyRetry {
			s.logger.Warnf("Content safety block on EPUB unit %d, splitting node batch", index)
			segments, fatal, cancelled := s.retryNodesWithSmallerBatches(r, unit, 1)
			if fatal {
				return Result{
					ChunkIndex:   index,
					OriginalText: original,
					Success:      false,
					Error:        "rate limited during batch split recovery",
				}, true
			}
			if cancelled {
				return Result{
					ChunkIndex:   index,
					OriginalText: original,
					Success:      false,
					Error:        "cancelled",
					Cancelled:    true,
				}, false
			}
			return Result{
				ChunkIndex:         index,
				OriginalText:       original,
				TranslatedText:     strings.Join(segments, "\n"),
				Success:            true,
				TranslatedSegments: segments,
			}, false
		}
		return Result{
			ChunkIndex:   index,
			OriginalText: original,
			Success:      false,
			Error:        err.Error(),
		}, false

	default:
		return Result{
			ChunkIndex:   index,
			OriginalText: original,
			Success:      false,
			Error:        err.Error(),
		}, false
	}
}

// retryNodesWithSmallerBatches is the EPUB analogue of the character-level
// recursive split: halve the node list until a single text node is isolated.
// An unrecoverable single node keeps its original, untranslated content.
func (s *Service) retryNodesWithSmallerBatches(r *run, unit []epub.Node, attempt int) (segments []string, fatal bool, cancelled bool) {
	textNodes := filterTextNodes(unit)
	if len(textNodes) == 0 {
		return nil, false, false
	}

	if len(textNodes) == 1 {
		maxAttempts := r.settings.MaxSafetyAttempts
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		if attempt <= maxAttempts {
			segs, err := s.translateNodeBatch(r, textNodes)
			if err == nil {
				return segs, false, false
			}
			switch Classify(err) {
			case KindRateLimit:
				return nil, true, false
			case KindCancelled:
				return nil, false, true
			}
		}
		s.logger.Warnf("Node %s kept untranslated after safety block", textNodes[0].ID)
		return []string{textNodes[0].Content}, false, false
	}

	mid := len(unit) / 2
	halves := [][]epub.Node{unit[:mid], unit[mid:]}

	for _, half := range halves {
		halfText := filterTextNodes(half)
		if len(halfText) == 0 {
			continue
		}

		segs, err := s.translateNodeBatch(r, halfText)
		if err == nil {
			segments = append(segments, segs...)
			continue
		}

		switch Classify(err) {
		case KindRateLimit:
			return nil, true, false
		case KindCancelled:
			return nil, false, true
		case KindContentSafety:
			subSegs, subFatal, subCancelled := s.retryNodesWithSmallerBatches(r, half, attempt+1)
			if subFatal || subCancelled {
				return nil, subFatal, subCancelled
			}
			segments = append(segments, subSegs...)
		default:
			// Non-safety failure: keep originals so no content vanishes.
			for _, node := range halfText {
				segments = append(segments, node.Content)
			}
		}
	}

	return segments, false, false
}

// translateNodeBatch performs one structured gateway call for the given
// text nodes and returns the per-node translations in input order.
func (s *Service) translateNodeBatch(r *run, textNodes []epub.Node) ([]string, error) {
	payload := make([]nodePayload, 0, len(textNodes))
	for _, node := range textNodes {
		payload = append(payload, nodePayload{ID: node.ID, Text: node.Content})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node batch: %w", err)
	}

	prompt := epubBatchInstruction + "\n\n" + buildPrompt(r.settings, r.glossary, string(encoded))

	response, err := s.gateway.Generate(r.ctx, prompt, generationOptions(r.settings))
	if err != nil {
		return nil, err
	}

	parsed, err := parseNodeTranslations(response)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("unparsable batch response: %v", err)}
	}

	byID := make(map[string]string, len(parsed))
	for _, t := range parsed {
		byID[t.ID] = t.TranslatedText
	}

	segments := make([]string, 0, len(textNodes))
	for _, node := range textNodes {
		if translated, ok := byID[node.ID]; ok && translated != "" {
			segments = append(segments, translated)
		} else {
			// Missing id in the response: keep the original content
			// rather than dropping the node.
			segments = append(segments, node.Content)
		}
	}

	return segments, nil
}

// parseNodeTranslations tolerates markdown code fences around the JSON the
// provider returns.
func parseNodeTranslations(response string) ([]nodeTranslation, error) {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var parsed []nodeTranslation
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func filterTextNodes(nodes []epub.Node) []epub.Node {
	var out []epub.Node
	for _, node := range nodes {
		if node.Type == epub.NodeText {
			out = append(out, node)
		}
	}
	return out
}

// unitOriginalText is the unit's translatable content, used for skip-set
// length matching and snapshot storage.
func unitOriginalText(unit []epub.Node) string {
	var parts []string
	for _, node := range unit {
		if node.Type == epub.NodeText {
			parts = append(parts, node.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func applyTranslations(book *epub.EPUB, translated map[string]string) {
	for d := range book.Documents {
		for n := range book.Documents[d].Nodes {
			node := &book.Documents[d].Nodes[n]
			if node.Type != epub.NodeText {
				continue
			}
			if text, ok := translated[node.ID]; ok && text != "" {
				node.Content = text
			}
		}
	}
}
