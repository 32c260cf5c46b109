package pantry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register the pgx database/sql driver
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		store_name TEXT NOT NULL DEFAULT '',
		purchase_date DATE NULL,
		total TEXT NOT NULL DEFAULT '',
		total_cents BIGINT NOT NULL DEFAULT 0,
		filename TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		item_ids JSONB NOT NULL DEFAULT '[]',
		raw_lines JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		receipt_id TEXT NOT NULL DEFAULT '',
		product_name TEXT NOT NULL,
		purchase_date DATE NOT NULL,
		shelf_life TEXT NOT NULL DEFAULT '',
		expiration_date DATE NULL,
		price_cents BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS items_expiration_date_idx ON items (expiration_date)`,
	`CREATE INDEX IF NOT EXISTS items_receipt_id_idx ON items (receipt_id)`,
}

const (
	receiptColumns = `id, store_name, purchase_date, total, total_cents, filename, content_type, item_ids, raw_lines, created_at, updated_at`
	itemColumns    = `id, receipt_id, product_name, purchase_date, shelf_life, expiration_date, price_cents, created_at, updated_at`
)

// PostgresDB implements the DB interface on PostgreSQL
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB connects to the database at dsn and creates the schema
func NewPostgresDB(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	p, err := NewPostgresDBWithConn(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Connected to postgres")
	return p, nil
}

// NewPostgresDBWithConn wraps an open connection and creates the schema
func NewPostgresDBWithConn(db *sql.DB) (*PostgresDB, error) {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &PostgresDB{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SaveReceipt inserts or replaces a receipt
func (p *PostgresDB) SaveReceipt(receipt *Receipt) error {
	itemIDs, err := json.Marshal(nonNil(receipt.ItemIDs))
	if err != nil {
		return fmt.Errorf("marshaling item ids: %w", err)
	}
	rawLines, err := json.Marshal(nonNil(receipt.RawLines))
	if err != nil {
		return fmt.Errorf("marshaling raw lines: %w", err)
	}

	_, err = p.db.Exec(`INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			store_name = EXCLUDED.store_name,
			purchase_date = EXCLUDED.purchase_date,
			total = EXCLUDED.total,
			total_cents = EXCLUDED.total_cents,
			filename = EXCLUDED.filename,
			content_type = EXCLUDED.content_type,
			item_ids = EXCLUDED.item_ids,
			raw_lines = EXCLUDED.raw_lines,
			updated_at = EXCLUDED.updated_at`,
		receipt.ID, receipt.StoreName, nullTime(receipt.PurchaseDate), receipt.Total, receipt.TotalCents,
		receipt.Filename, receipt.ContentType, itemIDs, rawLines, receipt.CreatedAt, receipt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving receipt: %w", err)
	}
	return nil
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		receipt      Receipt
		purchaseDate sql.NullTime
		itemIDs      []byte
		rawLines     []byte
	)
	err := row.Scan(&receipt.ID, &receipt.StoreName, &purchaseDate, &receipt.Total, &receipt.TotalCents,
		&receipt.Filename, &receipt.ContentType, &itemIDs, &rawLines, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if purchaseDate.Valid {
		receipt.PurchaseDate = &purchaseDate.Time
	}
	if err := json.Unmarshal(itemIDs, &receipt.ItemIDs); err != nil {
		return nil, fmt.Errorf("unmarshaling item ids: %w", err)
	}
	if err := json.Unmarshal(rawLines, &receipt.RawLines); err != nil {
		return nil, fmt.Errorf("unmarshaling raw lines: %w", err)
	}
	return &receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (p *PostgresDB) GetReceipt(id string) (*Receipt, error) {
	row := p.db.QueryRow(`SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (p *PostgresDB) ListReceipts() ([]*Receipt, error) {
	rows, err := p.db.Query(`SELECT ` + receiptColumns + ` FROM receipts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (p *PostgresDB) DeleteReceipt(id string) error {
	return p.deleteByID("receipts", id)
}

// SaveItem inserts or replaces an item
func (p *PostgresDB) SaveItem(item *Item) error {
	_, err := p.db.Exec(`INSERT INTO items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			receipt_id = EXCLUDED.receipt_id,
			product_name = EXCLUDED.product_name,
			purchase_date = EXCLUDED.purchase_date,
			shelf_life = EXCLUDED.shelf_life,
			expiration_date = EXCLUDED.expiration_date,
			price_cents = EXCLUDED.price_cents,
			updated_at = EXCLUDED.updated_at`,
		item.ID, item.ReceiptID, item.ProductName, item.PurchaseDate, item.ShelfLife,
		nullTime(item.ExpirationDate), item.PriceCents, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving item: %w", err)
	}
	return nil
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item           Item
		expirationDate sql.NullTime
	)
	err := row.Scan(&item.ID, &item.ReceiptID, &item.ProductName, &item.PurchaseDate, &item.ShelfLife,
		&expirationDate, &item.PriceCents, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expirationDate.Valid {
		item.ExpirationDate = &expirationDate.Time
	}
	return &item, nil
}

// GetItem retrieves an item by ID
func (p *PostgresDB) GetItem(id string) (*Item, error) {
	item, err := scanItem(p.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns all items ordered by expiration date, items that never expire last
func (p *PostgresDB) ListItems() ([]*Item, error) {
	rows, err := p.db.Query(`SELECT ` + itemColumns + ` FROM items ORDER BY expiration_date ASC NULLS LAST, product_name`)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := make([]*Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// DeleteItem removes an item from the database
func (p *PostgresDB) DeleteItem(id string) error {
	return p.deleteByID("items", id)
}

func (p *PostgresDB) deleteByID(table, id string) error {
	res, err := p.db.Exec(`DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
