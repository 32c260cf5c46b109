package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expiry-tracker/internal/metrics"
	"github.com/zombor/expiry-tracker/internal/pantry"
	"github.com/zombor/expiry-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	defaults := scanning.DefaultConfig()

	fs := ff.NewFlagSet("expiry-tracker")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "expiry-tracker.db", "Database file path")
		databaseURL = fs.StringLong("database-url", "", "PostgreSQL connection string. Overrides --db when set")
		storagePath = fs.StringLong("storage", "./receipts", "Storage directory path")
		scannerType = fs.StringLong("scanner", "ollama", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-1.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", defaults.Model, "Ollama model name (e.g., llama3.2-vision, llava, qwen2-vl)")
		numCtx      = fs.IntLong("num-ctx", defaults.ContextTokens, "Ollama context tokens")
		temperature = fs.Float64Long("temperature", float64(defaults.Temperature), "Sampling temperature")
		maxSide     = fs.IntLong("max-side", defaults.MaxSide, "Downscale images whose longest side exceeds this")
		timeout     = fs.DurationLong("timeout", defaults.Timeout, "Vision model timeout per request")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPIRY_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	db, err := openDB(*dbPath, *databaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := scanning.Config{
		MaxSide:       *maxSide,
		Temperature:   float32(*temperature),
		ContextTokens: *numCtx,
		Timeout:       *timeout,
	}
	var model scanning.Model
	switch *scannerType {
	case "gemini":
		cfg.Model = *geminiModel
		model, err = newGemini(*geminiKey, cfg)
	case "ollama":
		cfg.Model = *ollamaModel
		slog.Info("Using Ollama", "url", *ollamaURL, "model", cfg.Model)
		model, err = scanning.NewOllama(*ollamaURL, cfg)
	default:
		err = fmt.Errorf("invalid scanner type %q, want gemini or ollama", *scannerType)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}
	scanner := scanning.NewVisionScanner(model, cfg)
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := pantry.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	metrics.Register()

	service := pantry.NewService(db, scanner, store)

	basicAuth := pantry.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := pantry.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// openDB opens Postgres when a connection string is given and the bolt file otherwise
func openDB(path, databaseURL string) (pantry.DB, error) {
	if databaseURL != "" {
		slog.Info("Using PostgreSQL")
		return pantry.NewPostgresDB(databaseURL)
	}
	slog.Info("Using bolt database", "path", path)
	return pantry.NewBoltDB(path)
}

// newGemini builds the Gemini model, taking the key from GEMINI_API_KEY when the flag is empty
func newGemini(apiKey string, cfg scanning.Config) (scanning.Model, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required, set --gemini-key or GEMINI_API_KEY")
	}
	slog.Info("Using Gemini", "model", cfg.Model)
	return scanning.NewGemini(apiKey, cfg)
}
