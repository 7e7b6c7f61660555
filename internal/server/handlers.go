package server

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/snapshot"
	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/translation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleCreateTextJob(c *gin.Context) {
	var text, name string

	// Accepts either a multipart .txt upload or a JSON body with the text
	// inline.
	if file, err := c.FormFile("file"); err == nil {
		if filepath.Ext(file.Filename) != ".txt" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File must be a .txt"})
			return
		}
		if file.Size > 50*1024*1024 { // 50MB limit
			c.JSON(http.StatusBadRequest, gin.H{"error": "File too large (max 50MB)"})
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
			return
		}
		text = string(data)
		name = file.Filename
	} else {
		var request struct {
			Text string `json:"text" binding:"required"`
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		text = request.Text
		name = request.Name
	}

	job := &Job{
		ID:         uuid.New().String(),
		Kind:       snapshot.KindText,
		SourceName: name,
		SourceText: text,
		Service:    translation.NewService(s.gateway, s.logger, s.wsHub),
		Prior:      make(map[int]translation.Result),
	}
	s.putJob(job)

	s.logger.Infof("Created text job %s (%d characters)", job.ID, len(text))

	c.JSON(http.StatusOK, gin.H{
		"id":   job.ID,
		"kind": job.Kind,
	})
}

func (s *Server) handleCreateEPUBJob(c *gin.Context) {
	file, err := c.FormFile("epub")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	if filepath.Ext(file.Filename) != ".epub" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be an EPUB"})
		return
	}

	if file.Size > 50*1024*1024 { // 50MB limit
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large (max 50MB)"})
		return
	}

	tempPath := filepath.Join(s.config.App.TempDir, file.Filename)
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		s.logger.Errorf("Failed to save uploaded file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	book, err := s.epubParser.Extract(tempPath)
	if err != nil {
		s.logger.Errorf("Failed to extract EPUB: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process EPUB file"})
		return
	}

	if err := s.epubParser.Validate(book); err != nil {
		s.logger.Errorf("EPUB validation failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid EPUB file"})
		return
	}

	job := &Job{
		ID:         uuid.New().String(),
		Kind:       snapshot.KindEPUB,
		SourceName: file.Filename,
		Book:       book,
		Service:    translation.NewService(s.gateway, s.logger, s.wsHub),
		Prior:      make(map[int]translation.Result),
	}
	s.putJob(job)

	s.logger.Infof("Created EPUB job %s: %s (%d documents)", job.ID, file.Filename, len(book.Documents))

	c.JSON(http.StatusOK, gin.H{
		"id":        job.ID,
		"kind":      job.Kind,
		"title":     book.Package.Metadata.Title,
		"documents": len(book.Documents),
	})
}

func (s *Server) handleTranslate(c *gin.Context) {
	job, ok := s.getJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	if job.Service.State() == translation.StateRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "Job already running"})
		return
	}

	settings := s.config.Translation
	glossary := s.currentGlossary()

	go func() {
		onProgress := func(p translation.Progress) {
			s.mu.Lock()
			job.Progress = p
			s.mu.Unlock()
		}

		var results []translation.Result
		var err error

		switch job.Kind {
		case snapshot.KindEPUB:
			results, err = job.Service.TranslateEPUB(context.Background(), job.Book,
				settings, glossary, job.Prior, onProgress, nil)
			if err == nil && job.Service.State() == translation.StateCompleted {
				s.finishEPUBJob(job)
			}
		default:
			results, err = job.Service.TranslateAll(context.Background(), job.SourceText,
				settings, glossary, job.Prior, onProgress, nil)
		}

		if err != nil {
			s.logger.Errorf("Translation job %s failed: %v", job.ID, err)
		}

		s.mu.Lock()
		job.Results = results
		for _, res := range results {
			if res.Success {
				job.Prior[res.ChunkIndex] = res
			}
		}
		s.mu.Unlock()
	}()

	c.JSON(http.StatusOK, gin.H{"status": "started", "id": job.ID})
}

// finishEPUBJob writes translated nodes back into the extracted files and
// repackages the book.
func (s *Server) finishEPUBJob(job *Job) {
	for i := range job.Book.Documents {
		doc := &job.Book.Documents[i]
		if err := s.epubParser.SaveTranslatedDocument(job.Book, doc, doc.Nodes); err != nil {
			s.logger.Errorf("Failed to save translated document %s: %v", doc.RelativePath, err)
			return
		}
	}

	targetLang := job.Book.Package.Metadata.Language
	if targetLang == "" {
		targetLang = "translated"
	}

	outputPath, err := s.epubBuilder.CreateTranslated(job.Book, targetLang, s.config.App.OutputDir)
	if err != nil {
		s.logger.Errorf("Failed to build translated EPUB: %v", err)
		return
	}

	s.mu.Lock()
	job.OutputPath = outputPath
	s.mu.Unlock()
}

func (s *Server) handleStop(c *gin.Context) {
	job, ok := s.getJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	job.Service.Stop()
	s.logger.Infof("Stop requested for job %s", job.ID)

	c.JSON(http.StatusOK, gin.H{"status": "stopping", "id": job.ID})
}

func (s *Server) handleRetry(c *gin.Context) {
	job, ok := s.getJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	if job.Service.State() == translation.StateRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "Job already running"})
		return
	}

	var request struct {
		ChunkIndex int `json:"chunk_index"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.RLock()
	var target *translation.Result
	for i := range job.Results {
		if job.Results[i].ChunkIndex == request.ChunkIndex {
			target = &job.Results[i]
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No result for that chunk index"})
		return
	}

	res := job.Service.RetryChunk(context.Background(), request.ChunkIndex,
		target.OriginalText, s.config.Translation, s.currentGlossary())

	s.mu.Lock()
	for i := range job.Results {
		if job.Results[i].ChunkIndex == res.ChunkIndex {
			job.Results[i] = res
			break
		}
	}
	if res.Success {
		job.Prior[res.ChunkIndex] = res
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, ok := s.getJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	s.mu.RLock()
	progress := job.Progress
	outputPath := job.OutputPath
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"id":          job.ID,
		"kind":        job.Kind,
		"source_name": job.SourceName,
		"state":       job.Service.State(),
		"progress":    progress,
		"output_path": outputPath,
	})
}

func (s *Server) handleJobResults(c *gin.Context) {
	job, ok := s.getJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	s.mu.RLock()
	results := make([]translation.Result, len(job.Results))
	copy(results, job.Results)
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{"id": job.ID, "results": results})
}

func (s *Server) handleExportSnapshot(c *gin.Context) {
	job, ok := s.getJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	s.mu.RLock()
	results := make([]translation.Result, len(job.Results))
	copy(results, job.Results)
	s.mu.RUnlock()

	snap := snapshot.Export(job.Kind, job.SourceText, job.SourceName, results, s.config.Translation)

	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleImportSnapshot(c *gin.Context) {
	var request struct {
		Snapshot  snapshot.Snapshot `json:"snapshot" binding:"required"`
		EPUBJobID string            `json:"epub_job_id"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	restored, err := snapshot.Import(&request.Snapshot, s.config.Translation)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := &Job{
		ID:         uuid.New().String(),
		Kind:       restored.Kind,
		SourceName: restored.SourceFile,
		SourceText: restored.SourceText,
		Service:    translation.NewService(s.gateway, s.logger, s.wsHub),
		Prior:      restored.Prior,
		Progress:   restored.Progress,
	}

	if restored.Kind == snapshot.KindEPUB {
		// An EPUB snapshot stores segments, not the book itself; the
		// book must be re-uploaded and referenced here.
		source, ok := s.getJob(request.EPUBJobID)
		if !ok || source.Book == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "epub_job_id must reference an uploaded EPUB job"})
			return
		}
		job.Book = source.Book
		if err := snapshot.RestoreEPUB(&request.Snapshot, job.Book, restored); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job.Prior = restored.Prior
		job.Progress = restored.Progress
	}

	s.putJob(job)

	s.logger.Infof("Imported snapshot into job %s (%d restored chunks)", job.ID, len(job.Prior))

	c.JSON(http.StatusOK, gin.H{
		"id":              job.ID,
		"kind":            job.Kind,
		"restored_chunks": len(job.Prior),
	})
}

func (s *Server) handleSetGlossary(c *gin.Context) {
	var entries []translation.GlossaryEntry
	if err := c.ShouldBindJSON(&entries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	valid := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e.Keyword) != "" {
			valid = append(valid, e)
		}
	}

	s.mu.Lock()
	s.glossary = valid
	s.mu.Unlock()

	s.logger.Infof("Glossary updated: %d entries", len(valid))
	c.JSON(http.StatusOK, gin.H{"count": len(valid)})
}

func (s *Server) handleGetGlossary(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentGlossary())
}
