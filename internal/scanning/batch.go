package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/expiry-tracker/internal/metrics"
)

// supportedExts are the only extensions a batch run picks up
var supportedExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

const unreadableNote = "Unreadable or not an image"

// ProbeRecord is one line of batch output
type ProbeRecord struct {
	Path string `json:"path"`
	ImageProbeResult
}

// BatchSummary describes a finished batch run
type BatchSummary struct {
	Scanned  int
	Receipts int
	// Sample holds up to five detected receipts, ordered by path
	Sample []ProbeRecord
}

// Batch probes every image under a folder
type Batch struct {
	Scanner Scanner
	// Limit caps the number of images probed. Zero means no limit.
	Limit int
	// Concurrency bounds the number of simultaneous model calls. Values below one mean sequential.
	Concurrency int
	// Timeout aborts a single image's probe. Zero means no per-image timeout.
	Timeout time.Duration
}

// IterImages returns supported image files below root in lexical order, skipping dot files
func IterImages(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if _, ok := supportedExts[strings.ToLower(filepath.Ext(path))]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Run probes the images under root and writes one JSON record per image to w.
// Per-image failures are recorded as non-receipts and never stop the run.
func (b *Batch) Run(ctx context.Context, root string, w io.Writer) (*BatchSummary, error) {
	paths, err := IterImages(root)
	if err != nil {
		return nil, err
	}
	if b.Limit > 0 && len(paths) > b.Limit {
		paths = paths[:b.Limit]
	}

	concurrency := b.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		mu      sync.Mutex
		enc     = json.NewEncoder(w)
		records = make([]ProbeRecord, 0, len(paths))
	)
	enc.SetEscapeHTML(false)

	for _, path := range paths {
		g.Go(func() error {
			rec := b.ProbeOne(gctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("writing record for %s: %w", path, err)
			}
			records = append(records, rec)
			slog.Info("Probed image",
				"count", len(records),
				"path", filepath.Base(path),
				"is_receipt", rec.IsReceipt,
				"vendor", deref(rec.Vendor),
				"date", deref(rec.Date),
				"total", deref(rec.Total),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	summary := &BatchSummary{Scanned: len(records)}
	for _, rec := range records {
		if !rec.IsReceipt {
			continue
		}
		summary.Receipts++
		if len(summary.Sample) < 5 {
			summary.Sample = append(summary.Sample, rec)
		}
	}
	return summary, nil
}

// ProbeOne probes a single image file. Failures become non-receipt records with an explanatory note.
func (b *Batch) ProbeOne(ctx context.Context, path string) ProbeRecord {
	start := time.Now()
	defer func() { metrics.ProbeDurationSeconds.Observe(time.Since(start).Seconds()) }()

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read image", "path", path, "error", err)
		metrics.ProbesTotal.WithLabelValues(metrics.ResultUnreadable).Inc()
		return failedRecord(path, unreadableNote)
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	probe, err := b.Scanner.ProbeImage(ctx, data, supportedExts[strings.ToLower(filepath.Ext(path))])
	if err != nil {
		if errors.Is(err, ErrUnreadableImage) {
			slog.Warn("Unreadable image", "path", path, "error", err)
			metrics.ProbesTotal.WithLabelValues(metrics.ResultUnreadable).Inc()
			return failedRecord(path, unreadableNote)
		}
		slog.Error("Failed to probe image", "path", path, "error", err)
		metrics.ProbesTotal.WithLabelValues(metrics.ResultModelError).Inc()
		return failedRecord(path, fmt.Sprintf("LLM error: %v", err))
	}

	if probe.IsReceipt {
		metrics.ProbesTotal.WithLabelValues(metrics.ResultReceipt).Inc()
	} else {
		metrics.ProbesTotal.WithLabelValues(metrics.ResultNotReceipt).Inc()
	}
	return ProbeRecord{Path: path, ImageProbeResult: *probe}
}

func failedRecord(path, note string) ProbeRecord {
	return ProbeRecord{
		Path:             path,
		ImageProbeResult: ImageProbeResult{IsReceipt: false, Notes: &note},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
