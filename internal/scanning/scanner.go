package scanning

import (
	"context"
	"errors"
	"time"
)

// Sentinel values used by the model output contract in place of null
const (
	NotFound  = "NOT FOUND"
	Unlimited = "unlimited"
)

// DateLayout is the MM/DD/YYYY layout used for purchase and expiration dates
const DateLayout = "01/02/2006"

var (
	// ErrUnreadableImage is returned when an image cannot be decoded
	ErrUnreadableImage = errors.New("unreadable image")
	// ErrModelInvocation is returned when the vision model call fails or times out
	ErrModelInvocation = errors.New("model invocation failed")
)

// ExtractedItem is a single purchased item recovered from a receipt
type ExtractedItem struct {
	FullName       string `json:"full_name"`
	PurchaseDate   string `json:"purchase_date"`   // MM/DD/YYYY or NOT FOUND
	ShelfLife      string `json:"shelf_life"`      // "N days" or unlimited
	ExpirationDate string `json:"expiration_date"` // MM/DD/YYYY or unlimited
}

// ReceiptExtraction is the structured result of one line-format model response
type ReceiptExtraction struct {
	Items    []ExtractedItem `json:"items"`
	Total    string          `json:"total"`
	RawLines []string        `json:"raw_output"`
}

// ImageProbeResult is the structured result of a receipt detection probe
type ImageProbeResult struct {
	IsReceipt bool    `json:"is_receipt"`
	Vendor    *string `json:"vendor"`
	Date      *string `json:"date"`
	Total     *string `json:"total"`
	Notes     *string `json:"notes"`
}

// Config holds the model and image settings shared by every scan
type Config struct {
	Model         string
	MaxSide       int
	Temperature   float32
	ContextTokens int
	Timeout       time.Duration
}

// DefaultConfig returns the settings used when none are supplied
func DefaultConfig() Config {
	return Config{
		Model:         "llama3.2-vision",
		MaxSide:       2200,
		Temperature:   0,
		ContextTokens: 4096,
		Timeout:       120 * time.Second,
	}
}

// Request is a single prompt sent to a vision model
type Request struct {
	System string
	Prompt string
	Image  []byte // normalized image bytes
	// MimeType of Image, e.g. image/png
	MimeType string
}

// Model is an opaque text generation service that accepts an image and a prompt
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt extracts purchased items and the total from a receipt image
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptExtraction, error)
	// ProbeImage decides whether an image is a receipt and pulls out the header fields
	ProbeImage(ctx context.Context, imageData []byte, contentType string) (*ImageProbeResult, error)
	// Close closes the scanner and releases resources
	Close() error
}
