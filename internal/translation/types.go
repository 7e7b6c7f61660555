package translation

// JobState is the process-wide lifecycle of one translation run.
type JobState string

const (
	StateIdle      JobState = "idle"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateStopped   JobState = "stopped"
	StateErrored   JobState = "errored"
)

// Result is the outcome of one translation unit. Failed results retain the
// original text so they can be reviewed and retried; TranslatedSegments is
// the ordered per-node output kept for EPUB reconstruction and resume.
type Result struct {
	ChunkIndex         int      `json:"chunk_index"`
	OriginalText       string   `json:"original_text"`
	TranslatedText     string   `json:"translated_text"`
	Success            bool     `json:"success"`
	Error              string   `json:"error,omitempty"`
	Cancelled          bool     `json:"cancelled,omitempty"`
	TranslatedSegments []string `json:"translated_segments,omitempty"`
}

// Progress is the aggregate job snapshot delivered through the progress
// sink. Counters are monotonically non-decreasing within one run.
type Progress struct {
	TotalChunks            int    `json:"total_chunks"`
	ProcessedChunks        int    `json:"processed_chunks"`
	SuccessfulChunks       int    `json:"successful_chunks"`
	FailedChunks           int    `json:"failed_chunks"`
	CurrentStatusMessage   string `json:"current_status_message"`
	CurrentChunkProcessing int    `json:"current_chunk_processing"`
	LastErrorMessage       string `json:"last_error_message,omitempty"`
	ETASeconds             int    `json:"eta_seconds,omitempty"`
}

// Settings is the configuration subset the pipeline consumes. It is treated
// as a read-mostly snapshot: a change mid-run only affects units not yet
// submitted.
type Settings struct {
	ChunkSize          int     `json:"chunk_size"`
	MaxWorkers         int     `json:"max_workers"`
	RequestsPerMinute  int     `json:"requests_per_minute"`
	Model              string  `json:"model"`
	Temperature        float32 `json:"temperature"`
	TopP               float32 `json:"top_p"`
	MaxTokens          int     `json:"max_tokens"`
	PromptTemplate     string  `json:"prompt_template"`
	SystemInstruction  string  `json:"system_instruction"`
	EnableSafetyRetry  bool    `json:"enable_safety_retry"`
	MinSafetyChunkSize int     `json:"min_safety_chunk_size"`
	MaxSafetyAttempts  int     `json:"max_safety_attempts"`
	EnableGlossary     bool    `json:"enable_glossary"`
	GlossaryMaxEntries int     `json:"glossary_max_entries"`
	GlossaryMaxChars   int     `json:"glossary_max_chars"`
	EPUBChunkSize      int     `json:"epub_chunk_size"`
	EPUBMaxNodes       int     `json:"epub_max_nodes"`
}

// ProgressFunc receives aggregate snapshots after every unit completion.
type ProgressFunc func(Progress)

// ResultFunc receives each unit's result the moment it is known, in
// completion order, including skipped units.
type ResultFunc func(Result)
