package server

import (
	"sync"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/config"
	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/epub"
	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/translation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Job is one translation job tracked by the server: its source, its live
// service, and the accumulated results. Persistence of snapshots is the
// client's responsibility; the server only hands them out and takes them in.
type Job struct {
	ID         string                     `json:"id"`
	Kind       string                     `json:"kind"`
	SourceName string                     `json:"source_name"`
	SourceText string                     `json:"-"`
	Book       *epub.EPUB                 `json:"-"`
	Service    *translation.Service       `json:"-"`
	Prior      map[int]translation.Result `json:"-"`
	Results    []translation.Result       `json:"-"`
	Progress   translation.Progress       `json:"progress"`
	OutputPath string                     `json:"output_path,omitempty"`
}

type Server struct {
	config      *config.Config
	logger      *logrus.Logger
	epubParser  *epub.Parser
	epubBuilder *epub.Builder
	gateway     *translation.Gateway
	router      *gin.Engine
	wsHub       *Hub

	mu       sync.RWMutex
	jobs     map[string]*Job
	glossary []translation.GlossaryEntry
}

func New(cfg *config.Config, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	epubParser := epub.NewParser(logger, cfg.App.TempDir)
	epubBuilder := epub.NewBuilder(logger)

	gateway := translation.NewGateway(cfg.API.Key, cfg.API.BaseURL, cfg.Translation.RequestsPerMinute, logger)

	// Create WebSocket hub
	wsHub := NewHub(logger)
	go wsHub.Run()

	// Mirror LLM traffic to connected clients for the log viewer
	gateway.SetBroadcaster(wsHub)

	s := &Server{
		config:      cfg,
		logger:      logger,
		epubParser:  epubParser,
		epubBuilder: epubBuilder,
		gateway:     gateway,
		wsHub:       wsHub,
		jobs:        make(map[string]*Job),
	}

	s.setupRoutes()
	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router = gin.New()

	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api")
	{
		api.POST("/jobs/text", s.handleCreateTextJob)
		api.POST("/jobs/epub", s.handleCreateEPUBJob)
		api.GET("/jobs/:id", s.handleJobStatus)
		api.GET("/jobs/:id/results", s.handleJobResults)
		api.POST("/jobs/:id/translate", s.handleTranslate)
		api.POST("/jobs/:id/stop", s.handleStop)
		api.POST("/jobs/:id/retry", s.handleRetry)
		api.GET("/jobs/:id/snapshot", s.handleExportSnapshot)
		api.POST("/jobs/import", s.handleImportSnapshot)
		api.POST("/glossary", s.handleSetGlossary)
		api.GET("/glossary", s.handleGetGlossary)
	}

	s.router.GET("/ws", s.HandleWebSocket)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "websocket_clients": s.wsHub.GetClientCount()})
	})
}

func (s *Server) getJob(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

func (s *Server) putJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *Server) currentGlossary() []translation.GlossaryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]translation.GlossaryEntry, len(s.glossary))
	copy(out, s.glossary)
	return out
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debugf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
