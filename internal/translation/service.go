package translation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/chunker"

	"github.com/sirupsen/logrus"
)

// DefaultPromptTemplate is used when the configured template is missing or
// has no content slot.
const DefaultPromptTemplate = `Translate the following text. Preserve the original tone, style and paragraph structure. Return only the translated text.

Glossary:
{{glossary_context}}

Text:
{{slot}}`

const (
	slotPlaceholder     = "{{slot}}"
	glossaryPlaceholder = "{{glossary_context}}"
)

// Generator is the capability the orchestrator schedules against. The
// production implementation is *Gateway; tests substitute a fake.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerationOptions) (string, error)
}

// Service drives the chunked translation pipeline: it partitions input,
// schedules units onto a bounded worker pool, recovers from content-safety
// rejections by recursive re-splitting, and emits progress and per-unit
// results as they become known.
type Service struct {
	gateway Generator
	logger  *logrus.Logger
	wsHub   Broadcaster

	mu     sync.Mutex
	state  JobState
	cancel context.CancelFunc
}

func NewService(gateway Generator, logger *logrus.Logger, wsHub Broadcaster) *Service {
	return &Service{
		gateway: gateway,
		logger:  logger,
		wsHub:   wsHub,
		state:   StateIdle,
	}
}

// State returns the current job state.
func (s *Service) State() JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop requests cooperative cancellation of the running job. Units not yet
// submitted will never start; in-flight calls are asked to abandon but are
// not guaranteed to stop instantly.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning && s.cancel != nil {
		s.cancel()
		s.state = StateStopped
	}
}

func (s *Service) setState(state JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A stop requested mid-run wins over the natural completion state.
	if s.state == StateStopped && state == StateCompleted {
		return
	}
	s.state = state
}

// run holds the mutable state of one translation job.
type run struct {
	svc        *Service
	ctx        context.Context
	cancelFunc context.CancelFunc
	settings   Settings
	glossary   []GlossaryEntry
	onProgress ProgressFunc
	onResult   ResultFunc
	start      time.Time

	mu       sync.Mutex
	progress Progress
	results  []Result
	halted   bool
}

func (s *Service) newRun(ctx context.Context, total int, settings Settings, glossary []GlossaryEntry, onProgress ProgressFunc, onResult ResultFunc) *run {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.state = StateRunning
	s.cancel = cancel
	s.mu.Unlock()

	r := &run{
		svc:        s,
		ctx:        runCtx,
		cancelFunc: cancel,
		settings:   settings,
		glossary:   glossary,
		onProgress: onProgress,
		onResult:   onResult,
		start:      time.Now(),
		progress: Progress{
			TotalChunks:          total,
			CurrentStatusMessage: fmt.Sprintf("translating %d chunks", total),
		},
	}
	r.emitProgress()
	return r
}

func (r *run) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted || r.ctx.Err() != nil
}

// halt stops scheduling new units. Used for rate-limit abort; the reason is
// surfaced through the progress sink rather than an error return.
func (r *run) halt(reason string) {
	r.mu.Lock()
	r.halted = true
	r.progress.LastErrorMessage = reason
	r.progress.CurrentStatusMessage = "job stopped: " + reason
	r.mu.Unlock()
	r.cancelFunc()
	r.svc.setState(StateStopped)
	r.emitProgress()
}

// complete records one unit's outcome, updates the counters exactly once,
// and fires both the per-unit result callback and a progress snapshot.
func (r *run) complete(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.progress.ProcessedChunks++
	if res.Success {
		r.progress.SuccessfulChunks++
	} else {
		r.progress.FailedChunks++
		if res.Error != "" {
			r.progress.LastErrorMessage = res.Error
		}
	}
	r.progress.CurrentChunkProcessing = res.ChunkIndex
	r.progress.CurrentStatusMessage = fmt.Sprintf("processed chunk %d/%d",
		r.progress.ProcessedChunks, r.progress.TotalChunks)

	elapsed := time.Since(r.start).Seconds()
	if r.progress.ProcessedChunks > 0 {
		remaining := r.progress.TotalChunks - r.progress.ProcessedChunks
		avg := elapsed / float64(r.progress.ProcessedChunks)
		r.progress.ETASeconds = int(math.Ceil(avg * float64(remaining)))
	}
	r.mu.Unlock()

	if r.onResult != nil {
		r.onResult(res)
	}
	if r.svc.wsHub != nil {
		r.svc.wsHub.BroadcastMessage("chunk_result", res)
	}
	r.emitProgress()
}

func (r *run) emitProgress() {
	r.mu.Lock()
	snapshot := r.progress
	r.mu.Unlock()

	if r.onProgress != nil {
		r.onProgress(snapshot)
	}
	if r.svc.wsHub != nil {
		r.svc.wsHub.BroadcastMessage("translation_progress", snapshot)
	}
}

func (r *run) snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// TranslateAll runs the full-job translate algorithm over plain text. Prior
// results are consulted as a skip-set: a unit is copied through unchanged
// only when a prior successful result exists for its index and the stored
// original length matches the freshly computed unit exactly. The call always
// resolves with whatever partial result set accumulated; job-ending errors
// surface through the progress sink.
func (s *Service) TranslateAll(ctx context.Context, text string, settings Settings, glossary []GlossaryEntry, prior map[int]Result, onProgress ProgressFunc, onResult ResultFunc) ([]Result, error) {
	chunks := chunker.SplitIntoChunks(text, settings.ChunkSize)
	r := s.newRun(ctx, len(chunks), settings, glossary, onProgress, onResult)

	maxWorkers := settings.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

submit:
	for i, unit := range chunks {
		if r.stopped() {
			break
		}

		if p, ok := prior[i]; ok && p.Success && runeLen(p.OriginalText) == runeLen(unit) {
			s.logger.Debugf("Skipping chunk %d: already translated", i)
			r.complete(Result{
				ChunkIndex:         i,
				OriginalText:       unit,
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
		go func(index int, unitText string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, fatal := s.translateUnit(r, index, unitText, true)
			if fatal {
				r.halt(res.Error)
			}
			r.complete(res)
		}(i, unit)
	}

	wg.Wait()

	results := r.finish()
	return results, nil
}

// finish sorts the accumulated results into index order and settles the job
// state.
func (r *run) finish() []Result {
	r.mu.Lock()
	results := make([]Result, len(r.results))
	copy(results, r.results)
	halted := r.halted
	r.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if halted || r.ctx.Err() != nil {
		r.svc.setState(StateStopped)
		if r.svc.wsHub != nil {
			r.svc.wsHub.BroadcastMessage("translation_error", r.snapshot())
		}
	} else {
		r.svc.setState(StateCompleted)
		r.mu.Lock()
		r.progress.CurrentStatusMessage = "translation complete"
		r.mu.Unlock()
		r.emitProgress()
		if r.svc.wsHub != nil {
			r.svc.wsHub.BroadcastMessage("translation_complete", r.snapshot())
		}
	}

	return results
}

// translateUnit translates one unit. The second return value reports a
// job-fatal condition (rate limit) that must stop all further scheduling.
func (s *Service) translateUnit(r *run, index int, text string, allowSafetyRetry bool) (Result, bool) {
	out, err := s.translatePiece(r, text)
	if err == nil {
		return Result{
			ChunkIndex:     index,
			OriginalText:   text,
			TranslatedText: out,
			Success:        true,
		}, false
	}

	switch Classify(err) {
	case KindCancelled:
		return Result{
			ChunkIndex:   index,
			OriginalText: text,
			Success:      false,
			Error:        "cancelled",
			Cancelled:    true,
		}, false

	case KindRateLimit:
		s.logger.Errorf("Rate limit hit on chunk %d, stopping job: %v", index, err)
		s.broadcastLog("error", fmt.Sprintf("Rate limit on chunk %d: translation stopped", index))
		return Result{
			ChunkIndex:   index,
			OriginalText: text,
			Success:      false,
			Error:        err.Error(),
		}, true

	case KindContentSafety:
		if allowSafetyRetry && r.settings.EnableSafetyRetry {
			s.logger.Warnf("Content safety block on chunk %d, retrying with smaller chunks", index)
			s.broadcastLog("warning", fmt.Sprintf("Chunk %d blocked, splitting and retrying", index))
			return s.retryWithSmallerChunks(r, index, text, 1)
		}
		return Result{
			ChunkIndex:   index,
			OriginalText: text,
			Success:      false,
			Error:        err.Error(),
		}, false

	default:
		return Result{
			ChunkIndex:   index,
			OriginalText: text,
			Success:      false,
			Error:        err.Error(),
		}, false
	}
}

// retryWithSmallerChunks recovers a content-safety-blocked unit by halving
// it and translating each half independently, recursing on halves that fail
// again. Sub-pieces that exhaust retries contribute a diagnostic placeholder
// instead of vanishing; the unit reports success as long as every sub-piece
// produced some text.
func (s *Service) retryWithSmallerChunks(r *run, index int, text string, attempt int) (Result, bool) {
	maxAttempts := r.settings.MaxSafetyAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	minSize := r.settings.MinSafetyChunkSize
	if minSize <= 0 {
		minSize = 100
	}

	if attempt > maxAttempts || runeLen(strings.TrimSpace(text)) <= minSize {
		return Result{
			ChunkIndex:     index,
			OriginalText:   text,
			TranslatedText: safetyPlaceholder(text),
			Success:        false,
			Error:          "content safety retries exhausted",
		}, false
	}

	halves := chunker.Halve(text)
	if len(halves) < 2 {
		return Result{
			ChunkIndex:     index,
			OriginalText:   text,
			TranslatedText: safetyPlaceholder(text),
			Success:        false,
			Error:          "chunk could not be split further",
		}, false
	}

	parts := make([]string, 0, len(halves))
	allProduced := true
	var lastErr string

	for _, half := range halves {
		out, err := s.translatePiece(r, half)
		if err == nil {
			parts = append(parts, out)
			continue
		}

		switch Classify(err) {
		case KindRateLimit:
			return Result{
				ChunkIndex:   index,
				OriginalText: text,
				Success:      false,
				Error:        err.Error(),
			}, true

		case KindCancelled:
			return Result{
				ChunkIndex:   index,
				OriginalText: text,
				Success:      false,
				Error:        "cancelled",
				Cancelled:    true,
			}, false

		case KindContentSafety:
			sub, fatal := s.retryWithSmallerChunks(r, index, half, attempt+1)
			if fatal {
				return sub, true
			}
			if sub.Cancelled {
				return sub, false
			}
			parts = append(parts, sub.TranslatedText)
			if sub.TranslatedText == "" {
				allProduced = false
			}
			if !sub.Success {
				lastErr = sub.Error
			}

		default:
			parts = append(parts, "")
			allProduced = false
			lastErr = err.Error()
		}
	}

	res := Result{
		ChunkIndex:     index,
		OriginalText:   text,
		TranslatedText: strings.Join(parts, "\n"),
		Success:        allProduced,
	}
	if !allProduced {
		res.Error = lastErr
	}
	return res, false
}

// translatePiece performs one gateway call with the run's prompt settings.
func (s *Service) translatePiece(r *run, text string) (string, error) {
	prompt := buildPrompt(r.settings, r.glossary, text)
	return s.gateway.Generate(r.ctx, prompt, generationOptions(r.settings))
}

// RetryChunk re-translates a single failed unit outside a full job run.
func (s *Service) RetryChunk(ctx context.Context, index int, text string, settings Settings, glossary []GlossaryEntry) Result {
	r := s.newRun(ctx, 1, settings, glossary, nil, nil)
	res, fatal := s.translateUnit(r, index, text, true)
	if fatal {
		r.halt(res.Error)
	}
	r.complete(res)
	r.finish()
	return res
}

func buildPrompt(settings Settings, glossary []GlossaryEntry, unitText string) string {
	template := settings.PromptTemplate
	if !strings.Contains(template, slotPlaceholder) {
		template = DefaultPromptTemplate
	}

	prompt := strings.ReplaceAll(template, slotPlaceholder, unitText)

	if strings.Contains(prompt, glossaryPlaceholder) {
		glossaryContext := NoGlossaryContext
		if settings.EnableGlossary {
			glossaryContext = BuildGlossaryContext(glossary, unitText,
				settings.GlossaryMaxEntries, settings.GlossaryMaxChars)
		}
		prompt = strings.ReplaceAll(prompt, glossaryPlaceholder, glossaryContext)
	}

	return prompt
}

func generationOptions(settings Settings) GenerationOptions {
	return GenerationOptions{
		Model:             settings.Model,
		SystemInstruction: settings.SystemInstruction,
		Temperature:       settings.Temperature,
		TopP:              settings.TopP,
		MaxTokens:         settings.MaxTokens,
	}
}

func safetyPlaceholder(text string) string {
	return fmt.Sprintf("[untranslatable content: %s]", truncateText(strings.TrimSpace(text), 80))
}

func (s *Service) broadcastLog(level, message string) {
	if s.wsHub != nil {
		s.wsHub.BroadcastLog(level, message, "translation")
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}
