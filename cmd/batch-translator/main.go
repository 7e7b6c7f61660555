package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/config"
	"github.com/Gotti0/BTG-Batch-Translator-with-Google-AI-Studio-Build-sub000/internal/server"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	logger  *logrus.Logger
)

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "batch-translator",
	Short: "A web-based batch translation tool for plain text and EPUB files",
	Long: `Batch Translator launches a web server that splits large texts and EPUB
books into chunks, translates them through an OpenAI-compatible API with
rate limiting and parallel workers, and reassembles the results.`,
	Run: runServer,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the web server",
	Run:   runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Batch Translator v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Manage application configuration including viewing current settings and setting up API keys.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		showConfig(cmd)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		initConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().IntP("port", "p", 8080, "Port to run the web server on")
	rootCmd.PersistentFlags().StringP("api-key", "k", "", "API key for the translation backend")
	rootCmd.PersistentFlags().StringP("output-dir", "o", "output", "Output directory for translated files")
	rootCmd.PersistentFlags().StringP("temp-dir", "t", "tmp", "Temporary directory for processing files")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path (default: config.json beside executable)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runServer(cmd *cobra.Command, _ []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cmd)

	if cfg.API.Key == "" {
		logger.Fatal("API key is required but not found in configuration")
	}

	if err := os.MkdirAll(cfg.App.TempDir, 0755); err != nil {
		logger.Fatalf("Failed to create temp directory: %v", err)
	}

	if err := os.MkdirAll(cfg.App.OutputDir, 0755); err != nil {
		logger.Fatalf("Failed to create output directory: %v", err)
	}

	srv := server.New(cfg, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	go func() {
		logger.Infof("Starting Batch Translator server on port %d", cfg.Server.Port)
		logger.Infof("Model: %s, workers: %d, rate limit: %d rpm",
			cfg.Translation.Model, cfg.Translation.MaxWorkers, cfg.Translation.RequestsPerMinute)
		logger.Infof("Temp directory: %s", cfg.App.TempDir)
		logger.Infof("Output directory: %s", cfg.App.OutputDir)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited gracefully")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	logger.Debugf("Loading configuration from: %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// Override with command line flags
	if port, _ := cmd.Flags().GetInt("port"); port != 8080 {
		cfg.Server.Port = port
		logger.Debugf("Port overridden by flag: %d", port)
	}

	if apiKey, _ := cmd.Flags().GetString("api-key"); apiKey != "" {
		cfg.API.Key = apiKey
		logger.Debug("API key overridden by flag")
	}

	if outputDir, _ := cmd.Flags().GetString("output-dir"); outputDir != "output" {
		cfg.App.OutputDir = outputDir
		logger.Debugf("Output directory overridden by flag: %s", outputDir)
	}

	if tempDir, _ := cmd.Flags().GetString("temp-dir"); tempDir != "tmp" {
		cfg.App.TempDir = tempDir
		logger.Debugf("Temp directory overridden by flag: %s", tempDir)
	}

	return cfg, nil
}

func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func showConfig(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	fmt.Printf("Batch Translator Configuration\n")
	fmt.Printf("Configuration file: %s\n\n", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("Configuration file does not exist\n")
		fmt.Printf("Run 'batch-translator config init' to create one\n")
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return
	}

	fmt.Printf("Server Settings:\n")
	fmt.Printf("  Port: %d\n", cfg.Server.Port)
	fmt.Printf("  Read Timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Printf("  Write Timeout: %s\n", cfg.Server.WriteTimeout)
	fmt.Printf("\n")

	fmt.Printf("API Settings:\n")
	if len(cfg.API.Key) > 10 {
		maskedKey := cfg.API.Key[:6] + "..." + cfg.API.Key[len(cfg.API.Key)-4:]
		fmt.Printf("  API Key: %s\n", maskedKey)
	} else if cfg.API.Key != "" {
		fmt.Printf("  API Key: (set)\n")
	} else {
		fmt.Printf("  API Key: not set\n")
	}
	if cfg.API.BaseURL != "" {
		fmt.Printf("  Base URL: %s\n", cfg.API.BaseURL)
	}
	fmt.Printf("\n")

	fmt.Printf("Translation Settings:\n")
	fmt.Printf("  Model: %s\n", cfg.Translation.Model)
	fmt.Printf("  Chunk Size: %d\n", cfg.Translation.ChunkSize)
	fmt.Printf("  Max Workers: %d\n", cfg.Translation.MaxWorkers)
	fmt.Printf("  Requests Per Minute: %d\n", cfg.Translation.RequestsPerMinute)
	fmt.Printf("  Temperature: %.1f\n", cfg.Translation.Temperature)
	fmt.Printf("  Max Tokens: %d\n", cfg.Translation.MaxTokens)
	fmt.Printf("\n")

	fmt.Printf("Application Settings:\n")
	fmt.Printf("  Temp Directory: %s\n", cfg.App.TempDir)
	fmt.Printf("  Output Directory: %s\n", cfg.App.OutputDir)
}

func initConfig(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	fmt.Printf("Initializing Batch Translator configuration\n")
	fmt.Printf("Configuration file: %s\n\n", configPath)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Configuration file already exists\n")
		return
	}

	if _, err := config.Load(configPath); err != nil {
		fmt.Printf("Failed to initialize configuration: %v\n", err)
		return
	}

	fmt.Printf("Configuration initialized successfully\n")
	fmt.Printf("Set TRANSLATOR_API_KEY (or OPENAI_API_KEY) and run 'batch-translator' to start the server\n")
}
