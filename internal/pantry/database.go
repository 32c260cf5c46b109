package pantry

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucketName = "receipts"
	itemBucketName    = "items"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt inserts or replaces a receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// SaveItem inserts or replaces an item
	SaveItem(item *Item) error

	// GetItem retrieves an item by ID
	GetItem(id string) (*Item, error)

	// ListItems returns all items in no particular order
	ListItems() ([]*Item, error)

	// DeleteItem removes an item from the database
	DeleteItem(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Records are stored as JSON documents keyed by ID.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucketName, itemBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucketName, id string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", bucketName, err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(id), data)
	})
}

func (b *BoltDB) get(bucketName, id string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucketName, id, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (b *BoltDB) delete(bucketName, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%s %s: %w", bucketName, id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.put(receiptBucketName, receipt.ID, receipt)
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt Receipt
	if err := b.get(receiptBucketName, id, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.delete(receiptBucketName, id)
}

// SaveItem saves an item to the database
func (b *BoltDB) SaveItem(item *Item) error {
	return b.put(itemBucketName, item.ID, item)
}

// GetItem retrieves an item by ID
func (b *BoltDB) GetItem(id string) (*Item, error) {
	var item Item
	if err := b.get(itemBucketName, id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns all items
func (b *BoltDB) ListItems() ([]*Item, error) {
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemBucketName)).ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteItem removes an item from the database
func (b *BoltDB) DeleteItem(id string) error {
	return b.delete(itemBucketName, id)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
