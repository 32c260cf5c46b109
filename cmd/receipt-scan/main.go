package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

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
	defaultFolder := "Downloads"
	if home, err := os.UserHomeDir(); err == nil {
		defaultFolder = filepath.Join(home, "Downloads")
	}

	fs := ff.NewFlagSet("receipt-scan")
	var (
		folder      = fs.StringLong("folder", defaultFolder, "Folder to scan")
		model       = fs.StringLong("model", defaults.Model, "Ollama model name (e.g., llama3.2-vision or llava)")
		numCtx      = fs.IntLong("num-ctx", defaults.ContextTokens, "Ollama context tokens")
		temperature = fs.Float64Long("temperature", float64(defaults.Temperature), "Sampling temperature")
		maxSide     = fs.IntLong("max-side", defaults.MaxSide, "Downscale images whose longest side exceeds this")
		limit       = fs.IntLong("limit", 0, "Process only N images. 0 means no limit")
		outJSONL    = fs.StringLong("out-jsonl", "receipts_scan.jsonl", "Output file, one JSON record per image. Use - for stdout")
		concurrency = fs.IntLong("concurrency", 1, "Number of images probed at once")
		timeout     = fs.DurationLong("timeout", defaults.Timeout, "Per-image model timeout")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_SCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	err := run(options{
		Folder:      *folder,
		OutJSONL:    *outJSONL,
		OllamaURL:   *ollamaURL,
		Limit:       *limit,
		Concurrency: *concurrency,
		Config: scanning.Config{
			Model:         *model,
			MaxSide:       *maxSide,
			Temperature:   float32(*temperature),
			ContextTokens: *numCtx,
			Timeout:       *timeout,
		},
	}, os.Stdout)
	if errors.Is(err, errFolderNotFound) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Batch scan failed", "error", err)
		os.Exit(1)
	}
}

var errFolderNotFound = errors.New("folder not found")

// options are the parsed command line settings for one batch run
type options struct {
	Folder      string
	OutJSONL    string
	OllamaURL   string
	Limit       int
	Concurrency int
	Config      scanning.Config
}

// run probes the folder, writes the JSONL records and prints the summary to stdout
func run(opts options, stdout io.Writer) (err error) {
	root := opts.Folder
	if strings.HasPrefix(root, "~/") {
		if home, homeErr := os.UserHomeDir(); homeErr == nil {
			root = filepath.Join(home, root[2:])
		}
	}
	if _, statErr := os.Stat(root); statErr != nil {
		return fmt.Errorf("%w: %s", errFolderNotFound, root)
	}

	ollama, err := scanning.NewOllama(opts.OllamaURL, opts.Config)
	if err != nil {
		return fmt.Errorf("initializing ollama: %w", err)
	}
	scanner := scanning.NewVisionScanner(ollama, opts.Config)
	defer scanner.Close()

	out := stdout
	if opts.OutJSONL != "-" {
		f, createErr := os.Create(opts.OutJSONL)
		if createErr != nil {
			return fmt.Errorf("creating output file: %w", createErr)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("closing output file: %w", closeErr)
			}
		}()
		out = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Scanning folder", "folder", root, "model", opts.Config.Model, "concurrency", opts.Concurrency)
	batch := &scanning.Batch{
		Scanner:     scanner,
		Limit:       opts.Limit,
		Concurrency: opts.Concurrency,
		Timeout:     opts.Config.Timeout,
	}
	summary, err := batch.Run(ctx, root, out)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\nScanned %d images in %s\n", summary.Scanned, root)
	fmt.Fprintf(stdout, "Receipts detected: %d\n", summary.Receipts)
	if len(summary.Sample) > 0 {
		fmt.Fprintln(stdout, "Sample:")
		for _, rec := range summary.Sample {
			fmt.Fprintf(stdout, "- %s: vendor=%s date=%s total=%s\n",
				filepath.Base(rec.Path), orNone(rec.Vendor), orNone(rec.Date), orNone(rec.Total))
		}
	}
	return nil
}

func orNone(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}
