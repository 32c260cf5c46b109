package pantry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/expiry-tracker/internal/scanning"
)

// inputDateLayout is the YYYY-MM-DD layout used by API clients
const inputDateLayout = "2006-01-02"

// expiringSoonDays is the window used by Analytics for items about to expire
const expiringSoonDays = 3

// IDGenerator generates unique IDs for receipts and items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt and item operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID identifiers and the wall clock
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	filenameSpecialChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces       = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = filenameSpecialChars.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phones generate very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ScanReceipt runs the upload through the scanner and returns a draft for review.
// Items without a purchase date get the upload's purchase date and their
// expiration date is recomputed from it.
func (s *Service) ScanReceipt(ctx context.Context, upload Upload) (*Draft, error) {
	fallback := strings.TrimSpace(upload.PurchaseDate)
	if fallback != "" {
		if _, err := time.Parse(scanning.DateLayout, fallback); err != nil {
			return nil, fmt.Errorf("%w: purchase date %q is not MM/DD/YYYY", ErrInvalidInput, fallback)
		}
	}

	ex, err := s.scanner.ScanReceipt(ctx, upload.Data, upload.ContentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	normalized := scanning.Normalize(scanning.ApplyFallbackDate(*ex, fallback))
	draft := &Draft{
		StoreName:    strings.TrimSpace(upload.StoreName),
		PurchaseDate: receiptPurchaseDate(normalized.Items, fallback),
		Total:        normalized.Total,
		Items:        normalized.Items,
		RawLines:     normalized.RawLines,
	}
	slog.Info("Scanned receipt", "filename", upload.Filename, "items", len(draft.Items), "total", draft.Total)
	return draft, nil
}

// receiptPurchaseDate picks the first item date the model found, then the fallback
func receiptPurchaseDate(items []scanning.ExtractedItem, fallback string) string {
	for _, item := range items {
		if item.PurchaseDate != scanning.NotFound {
			return item.PurchaseDate
		}
	}
	if fallback != "" {
		return fallback
	}
	return scanning.NotFound
}

// ProcessReceipt stores the upload, scans it and saves the receipt with its items
func (s *Service) ProcessReceipt(ctx context.Context, upload Upload) (*Receipt, []*Item, error) {
	id := s.idGenerator.Generate()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(upload.Filename)), upload.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("saving file: %w", err)
	}

	draft, err := s.ScanReceipt(ctx, upload)
	if err != nil {
		s.removeFile(savedPath)
		return nil, nil, err
	}

	receipt, items, err := s.saveDraft(draft, id, savedPath, upload.ContentType)
	if err != nil {
		s.removeFile(savedPath)
		return nil, nil, err
	}
	return receipt, items, nil
}

// SaveReceipt persists a reviewed draft without an image
func (s *Service) SaveReceipt(draft *Draft) (*Receipt, []*Item, error) {
	if draft == nil {
		return nil, nil, fmt.Errorf("%w: empty draft", ErrInvalidInput)
	}
	return s.saveDraft(draft, s.idGenerator.Generate(), "", "")
}

func (s *Service) saveDraft(draft *Draft, receiptID, filename, contentType string) (*Receipt, []*Item, error) {
	now := s.timeSource.Now()

	var purchaseDate *time.Time
	if d, err := time.Parse(scanning.DateLayout, draft.PurchaseDate); err == nil {
		purchaseDate = &d
	}

	total := draft.Total
	if total == "" {
		total = scanning.NotFound
	}
	totalCents, _ := scanning.ParseAmountCents(total)

	receipt := &Receipt{
		ID:           receiptID,
		StoreName:    draft.StoreName,
		PurchaseDate: purchaseDate,
		Total:        total,
		TotalCents:   totalCents,
		Filename:     filename,
		ContentType:  contentType,
		ItemIDs:      make([]string, 0, len(draft.Items)),
		RawLines:     draft.RawLines,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	items := make([]*Item, 0, len(draft.Items))
	for _, extracted := range draft.Items {
		name := strings.TrimSpace(extracted.FullName)
		if name == "" {
			continue
		}
		item := itemFromExtraction(extracted, purchaseDate, now)
		item.ID = s.idGenerator.Generate()
		item.ReceiptID = receiptID
		item.ProductName = name

		if err := s.db.SaveItem(item); err != nil {
			s.rollbackItems(items)
			return nil, nil, fmt.Errorf("saving item %q: %w", name, err)
		}
		items = append(items, item)
		receipt.ItemIDs = append(receipt.ItemIDs, item.ID)
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.rollbackItems(items)
		return nil, nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, items, nil
}

// itemFromExtraction resolves the item's dates. A missing purchase date falls
// back to the receipt's date, then to today. Expirations are only computed from
// a known purchase date, so an item dated today by substitution keeps only an
// expiration the model gave explicitly.
func itemFromExtraction(extracted scanning.ExtractedItem, receiptDate *time.Time, now time.Time) *Item {
	purchased := dateOf(now)
	known := true
	if d, err := time.Parse(scanning.DateLayout, extracted.PurchaseDate); err == nil {
		purchased = d
	} else if receiptDate != nil {
		purchased = *receiptDate
	} else {
		known = false
		slog.Warn("No purchase date for item, using today", "item", extracted.FullName)
	}

	item := &Item{
		PurchaseDate: purchased,
		ShelfLife:    extracted.ShelfLife,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	expiration := extracted.ExpirationDate
	if _, err := time.Parse(scanning.DateLayout, expiration); err != nil && known && !strings.EqualFold(expiration, scanning.Unlimited) {
		if computed, ok := scanning.ComputeExpiration(purchased.Format(scanning.DateLayout), extracted.ShelfLife); ok {
			expiration = computed
		}
	}
	if d, err := time.Parse(scanning.DateLayout, expiration); err == nil {
		item.ExpirationDate = &d
	}
	return item
}

func (s *Service) rollbackItems(items []*Item) {
	for _, item := range items {
		if err := s.db.DeleteItem(item.ID); err != nil {
			slog.Warn("Failed to roll back item", "id", item.ID, "error", err)
		}
	}
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// ProbeImage asks the scanner whether the upload is a receipt
func (s *Service) ProbeImage(ctx context.Context, upload Upload) (*scanning.ImageProbeResult, error) {
	probe, err := s.scanner.ProbeImage(ctx, upload.Data, upload.ContentType)
	if err != nil {
		return nil, fmt.Errorf("probing image: %w", err)
	}
	return probe, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// GetReceiptWithItems retrieves a receipt and the items still attached to it
func (s *Service) GetReceiptWithItems(id string) (*Receipt, []*Item, error) {
	receipt, err := s.GetReceipt(id)
	if err != nil {
		return nil, nil, err
	}

	items := make([]*Item, 0, len(receipt.ItemIDs))
	for _, itemID := range receipt.ItemIDs {
		item, err := s.db.GetItem(itemID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("getting item %s: %w", itemID, err)
		}
		items = append(items, item)
	}
	return receipt, items, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt, its items and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	for _, itemID := range receipt.ItemIDs {
		if err := s.db.DeleteItem(itemID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("deleting item %s: %w", itemID, err)
		}
	}

	if receipt.Filename != "" {
		// Log error but continue with database deletion
		s.removeFile(receipt.Filename)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the original image for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("receipt %s has no file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

// applyInput validates input and copies it onto item
func applyInput(item *Item, input ItemInput, now time.Time) error {
	name := strings.TrimSpace(input.ProductName)
	if name == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}

	purchased := dateOf(now)
	if input.PurchaseDate != "" {
		d, err := time.Parse(inputDateLayout, input.PurchaseDate)
		if err != nil {
			return fmt.Errorf("%w: purchase date %q is not YYYY-MM-DD", ErrInvalidInput, input.PurchaseDate)
		}
		purchased = d
	}

	var expiration *time.Time
	if input.ExpirationDate != "" {
		d, err := time.Parse(inputDateLayout, input.ExpirationDate)
		if err != nil {
			return fmt.Errorf("%w: expiration date %q is not YYYY-MM-DD", ErrInvalidInput, input.ExpirationDate)
		}
		expiration = &d
	}

	var priceCents int64
	if strings.TrimSpace(input.Price) != "" {
		cents, ok := scanning.ParseAmountCents(input.Price)
		if !ok || cents < 0 {
			return fmt.Errorf("%w: price %q is not a valid amount", ErrInvalidInput, input.Price)
		}
		priceCents = cents
	}

	item.ProductName = name
	item.PurchaseDate = purchased
	item.ExpirationDate = expiration
	item.PriceCents = priceCents
	item.ReceiptID = strings.TrimSpace(input.ReceiptID)
	item.UpdatedAt = now
	return nil
}

// AddItem creates an item from user input
func (s *Service) AddItem(input ItemInput) (*Item, error) {
	now := s.timeSource.Now()
	item := &Item{ID: s.idGenerator.Generate(), CreatedAt: now}
	if err := applyInput(item, input, now); err != nil {
		return nil, err
	}

	if err := s.db.SaveItem(item); err != nil {
		return nil, fmt.Errorf("saving item: %w", err)
	}
	return item, nil
}

// UpdateItem replaces the user-editable fields of an item
func (s *Service) UpdateItem(id string, input ItemInput) (*Item, error) {
	item, err := s.db.GetItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	if input.ReceiptID == "" {
		input.ReceiptID = item.ReceiptID
	}
	if err := applyInput(item, input, s.timeSource.Now()); err != nil {
		return nil, err
	}

	if err := s.db.SaveItem(item); err != nil {
		return nil, fmt.Errorf("saving item: %w", err)
	}
	return item, nil
}

// GetItem retrieves an item by ID
func (s *Service) GetItem(id string) (*Item, error) {
	item, err := s.db.GetItem(id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// DeleteItem removes an item and detaches it from its receipt
func (s *Service) DeleteItem(id string) error {
	item, err := s.db.GetItem(id)
	if err != nil {
		return fmt.Errorf("getting item for deletion: %w", err)
	}

	if err := s.db.DeleteItem(id); err != nil {
		return fmt.Errorf("deleting item from database: %w", err)
	}

	if item.ReceiptID == "" {
		return nil
	}
	receipt, err := s.db.GetReceipt(item.ReceiptID)
	if err != nil {
		slog.Warn("Deleted item references missing receipt", "item", id, "receipt", item.ReceiptID, "error", err)
		return nil
	}
	kept := receipt.ItemIDs[:0]
	for _, itemID := range receipt.ItemIDs {
		if itemID != id {
			kept = append(kept, itemID)
		}
	}
	receipt.ItemIDs = kept
	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return fmt.Errorf("updating receipt %s: %w", receipt.ID, err)
	}
	return nil
}

// ListItems returns all items ordered by expiration date. Items that never expire come last.
func (s *Service) ListItems() ([]*Item, error) {
	items, err := s.db.ListItems()
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	sortByExpiration(items)
	return items, nil
}

func sortByExpiration(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].ExpirationDate, items[j].ExpirationDate
		switch {
		case a == nil && b == nil:
			return items[i].ProductName < items[j].ProductName
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return items[i].ProductName < items[j].ProductName
		}
	})
}

// ExpiringSoon returns items that expire between today and days from now, inclusive
func (s *Service) ExpiringSoon(days int) ([]*Item, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", ErrInvalidInput)
	}
	items, err := s.ListItems()
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	expiring := make([]*Item, 0)
	for _, item := range items {
		if d, ok := item.DaysUntilExpiration(now); ok && d >= 0 && d <= days {
			expiring = append(expiring, item)
		}
	}
	return expiring, nil
}

// Analytics counts items by expiration state and sums their value
func (s *Service) Analytics() (*Analytics, error) {
	items, err := s.db.ListItems()
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	now := s.timeSource.Now()
	a := &Analytics{TotalItems: len(items)}
	for _, item := range items {
		a.TotalValueCents += item.PriceCents
		d, ok := item.DaysUntilExpiration(now)
		if !ok {
			continue
		}
		switch {
		case d < 0:
			a.ExpiredCount++
		case d <= expiringSoonDays:
			a.ExpiringSoonCount++
		}
	}
	a.TotalValue = decimal.New(a.TotalValueCents, -2).StringFixed(2)
	return a, nil
}

// Views attaches today's status to each item
func (s *Service) Views(items []*Item) []ItemView {
	now := s.timeSource.Now()
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item, now))
	}
	return views
}
