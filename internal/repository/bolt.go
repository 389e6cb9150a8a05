package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Lixing-Zhang/foodprep/internal/models"
	bolt "go.etcd.io/bbolt"
)

var bucketCatalogItems = []byte("catalog_items")

// BoltCatalogRepository implements CatalogRepository using BoltDB
type BoltCatalogRepository struct {
	db *bolt.DB
}

// NewBoltCatalogRepository opens (or creates) the BoltDB file at path
func NewBoltCatalogRepository(path string) (*BoltCatalogRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCatalogItems); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketCatalogItems, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCatalogRepository{db: db}, nil
}

// Close closes the database
func (r *BoltCatalogRepository) Close() error {
	return r.db.Close()
}

func (r *BoltCatalogRepository) Create(ctx context.Context, item models.CatalogRecord) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalogItems)
		if b.Get([]byte(item.ID)) != nil {
			return ErrDuplicateItem
		}
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return b.Put([]byte(item.ID), data)
	})
}

func (r *BoltCatalogRepository) GetAll(ctx context.Context) ([]models.CatalogRecord, error) {
	items := make([]models.CatalogRecord, 0)
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalogItems)
		return b.ForEach(func(k, v []byte) error {
			var item models.CatalogRecord
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to decode item %s: %w", k, err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByCreation(items)
	return items, nil
}

func (r *BoltCatalogRepository) GetByID(ctx context.Context, id string) (*models.CatalogRecord, error) {
	var item models.CatalogRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCatalogItems).Get([]byte(id))
		if data == nil {
			return ErrItemNotFound
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *BoltCatalogRepository) GetByCategory(ctx context.Context, category string) ([]models.CatalogRecord, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterCategory(all, category), nil
}

func (r *BoltCatalogRepository) Update(ctx context.Context, item models.CatalogRecord) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalogItems)
		data := b.Get([]byte(item.ID))
		if data == nil {
			return ErrItemNotFound
		}
		var existing models.CatalogRecord
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to decode item %s: %w", item.ID, err)
		}
		item.CreatedAt = existing.CreatedAt

		updated, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return b.Put([]byte(item.ID), updated)
	})
}

func (r *BoltCatalogRepository) Delete(ctx context.Context, id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCatalogItems)
		if b.Get([]byte(id)) == nil {
			return ErrItemNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (r *BoltCatalogRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketCatalogItems).Stats().KeyN
		return nil
	})
	return n, err
}

// Ping verifies the database is open and the bucket is readable
func (r *BoltCatalogRepository) Ping(ctx context.Context) error {
	return r.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketCatalogItems) == nil {
			return fmt.Errorf("bucket %s missing", bucketCatalogItems)
		}
		return nil
	})
}
