package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/expiry-tracker/internal/metrics"
)

// VisionScanner implements Scanner on top of a vision Model
type VisionScanner struct {
	model Model
	cfg   Config
}

// NewVisionScanner creates a Scanner that sends prompts to model
func NewVisionScanner(model Model, cfg Config) *VisionScanner {
	return &VisionScanner{model: model, cfg: cfg}
}

// ScanReceipt extracts items and the total from a receipt image
func (s *VisionScanner) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptExtraction, error) {
	finalImageData, mimeType, err := prepareImageData(imageData, contentType, s.cfg.MaxSide)
	if err != nil {
		metrics.ScansTotal.WithLabelValues(metrics.ResultUnreadable).Inc()
		return nil, err
	}

	text, err := s.generate(ctx, Request{
		System:   receiptItemsSystemPrompt,
		Prompt:   receiptItemsPrompt,
		Image:    finalImageData,
		MimeType: mimeType,
	})
	if err != nil {
		metrics.ScansTotal.WithLabelValues(metrics.ResultModelError).Inc()
		return nil, err
	}

	ex := Normalize(ParseItemLines(text))
	if len(ex.Items) == 0 {
		slog.Warn("No item lines recovered from model response", "response", truncateRunes(text, maxNotesLength))
		metrics.ScansTotal.WithLabelValues(metrics.ResultEmpty).Inc()
	} else {
		metrics.ScansTotal.WithLabelValues(metrics.ResultParsed).Inc()
	}
	return &ex, nil
}

// ProbeImage asks the model whether the image is a receipt
func (s *VisionScanner) ProbeImage(ctx context.Context, imageData []byte, contentType string) (*ImageProbeResult, error) {
	finalImageData, mimeType, err := prepareImageData(imageData, contentType, s.cfg.MaxSide)
	if err != nil {
		return nil, err
	}

	text, err := s.generate(ctx, Request{
		System:   probeSystemPrompt,
		Prompt:   probeUserPrompt,
		Image:    finalImageData,
		MimeType: mimeType,
	})
	if err != nil {
		return nil, err
	}

	probe := ParseProbe(text)
	return &probe, nil
}

func (s *VisionScanner) generate(ctx context.Context, req Request) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	text, err := s.model.Generate(ctx, req)
	if err != nil {
		if !errors.Is(err, ErrModelInvocation) {
			err = fmt.Errorf("%w: %w", ErrModelInvocation, err)
		}
		return "", err
	}
	return text, nil
}

// Close closes the underlying model
func (s *VisionScanner) Close() error {
	return s.model.Close()
}
