package pantry

import (
	"errors"
	"time"

	"github.com/zombor/expiry-tracker/internal/scanning"
)

var (
	// ErrNotFound is returned when a receipt or item does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when user supplied fields fail validation
	ErrInvalidInput = errors.New("invalid input")
)

// Status describes how close an item is to its expiration date
type Status string

const (
	StatusExpired          Status = "expired"
	StatusExpiringSoon     Status = "expiring_soon"
	StatusExpiringThisWeek Status = "expiring_this_week"
	StatusFresh            Status = "fresh"
	StatusNoExpiration     Status = "no_expiration"
)

// Item is a single grocery item tracked for expiration
type Item struct {
	ID           string    `json:"id"`
	ReceiptID    string    `json:"receipt_id,omitempty"`
	ProductName  string    `json:"product_name"`
	PurchaseDate time.Time `json:"purchase_date"`
	ShelfLife    string    `json:"shelf_life,omitempty"`
	// ExpirationDate is nil for items that do not expire
	ExpirationDate *time.Time `json:"expiration_date"`
	PriceCents     int64      `json:"price_cents"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DaysUntilExpiration returns the number of calendar days between now and the
// expiration date. ok is false when the item does not expire.
func (i *Item) DaysUntilExpiration(now time.Time) (days int, ok bool) {
	if i.ExpirationDate == nil {
		return 0, false
	}
	return int(dateOf(*i.ExpirationDate).Sub(dateOf(now)).Hours() / 24), true
}

// Status buckets the item by days until expiration
func (i *Item) Status(now time.Time) Status {
	days, ok := i.DaysUntilExpiration(now)
	switch {
	case !ok:
		return StatusNoExpiration
	case days < 0:
		return StatusExpired
	case days <= 3:
		return StatusExpiringSoon
	case days <= 7:
		return StatusExpiringThisWeek
	default:
		return StatusFresh
	}
}

// ItemView is an item as returned by the API, with its status computed for today
type ItemView struct {
	*Item
	Status              Status `json:"status"`
	DaysUntilExpiration *int   `json:"days_until_expiration"`
}

func newItemView(item *Item, now time.Time) ItemView {
	view := ItemView{Item: item, Status: item.Status(now)}
	if days, ok := item.DaysUntilExpiration(now); ok {
		view.DaysUntilExpiration = &days
	}
	return view
}

// Receipt represents an uploaded grocery receipt
type Receipt struct {
	ID        string `json:"id"`
	StoreName string `json:"store_name"`
	// PurchaseDate is nil when neither the receipt nor the user supplied one
	PurchaseDate *time.Time `json:"purchase_date"`
	// Total is the total exactly as read from the receipt, or NOT FOUND
	Total       string    `json:"total"`
	TotalCents  int64     `json:"total_cents"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	ItemIDs     []string  `json:"item_ids"`
	RawLines    []string  `json:"raw_output,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Draft is a scanned receipt awaiting review. Nothing in a draft is persisted.
type Draft struct {
	StoreName string `json:"store_name"`
	// PurchaseDate is MM/DD/YYYY or NOT FOUND
	PurchaseDate string                   `json:"purchase_date"`
	Total        string                   `json:"total"`
	Items        []scanning.ExtractedItem `json:"items"`
	RawLines     []string                 `json:"raw_output"`
}

// Upload is a receipt image submitted for scanning
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
	StoreName   string
	// PurchaseDate is an optional MM/DD/YYYY date used for items the model found no date for
	PurchaseDate string
}

// ItemInput is the user-editable part of an item
type ItemInput struct {
	ProductName string `json:"product_name"`
	// PurchaseDate and ExpirationDate are YYYY-MM-DD. An empty expiration date means the item does not expire.
	PurchaseDate   string `json:"purchase_date"`
	ExpirationDate string `json:"expiration_date"`
	// Price is a decimal amount such as "2.99"
	Price     string `json:"price"`
	ReceiptID string `json:"receipt_id"`
}

// Analytics summarizes the tracked items
type Analytics struct {
	TotalItems        int    `json:"total_items"`
	ExpiredCount      int    `json:"expired_count"`
	ExpiringSoonCount int    `json:"expiring_soon_count"`
	TotalValueCents   int64  `json:"total_value_cents"`
	TotalValue        string `json:"total_value"`
}

// dateOf truncates t to midnight UTC of its calendar date
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
