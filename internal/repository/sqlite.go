package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Lixing-Zhang/foodprep/internal/models"
	_ "modernc.org/sqlite"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS catalog_items (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	price       REAL NOT NULL,
	description TEXT NOT NULL,
	category    TEXT NOT NULL,
	image_ref   TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_items_category ON catalog_items(category);
`

// Fixed-width UTC timestamps keep ORDER BY created_at chronological.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

// SQLiteCatalogRepository implements CatalogRepository on SQLite
type SQLiteCatalogRepository struct {
	db *sql.DB
}

// NewSQLiteCatalogRepository opens the SQLite file at path and applies the schema
func NewSQLiteCatalogRepository(ctx context.Context, path string) (*SQLiteCatalogRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteCatalogRepository{db: db}, nil
}

func (r *SQLiteCatalogRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteCatalogRepository) Create(ctx context.Context, item models.CatalogRecord) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO catalog_items (id, name, price, description, category, image_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		item.ID, item.Name, item.Price, item.Description, item.Category, item.ImageRef,
		item.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	if n == 0 {
		return ErrDuplicateItem
	}
	return nil
}

const selectItems = `SELECT id, name, price, description, category, image_ref, created_at FROM catalog_items`

func (r *SQLiteCatalogRepository) GetAll(ctx context.Context) ([]models.CatalogRecord, error) {
	return r.query(ctx, selectItems+` ORDER BY created_at, id`)
}

func (r *SQLiteCatalogRepository) GetByCategory(ctx context.Context, category string) ([]models.CatalogRecord, error) {
	return r.query(ctx, selectItems+` WHERE category = ? ORDER BY created_at, id`, category)
}

func (r *SQLiteCatalogRepository) GetByID(ctx context.Context, id string) (*models.CatalogRecord, error) {
	row := r.db.QueryRowContext(ctx, selectItems+` WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Update rewrites every column except created_at
func (r *SQLiteCatalogRepository) Update(ctx context.Context, item models.CatalogRecord) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE catalog_items
		 SET name = ?, price = ?, description = ?, category = ?, image_ref = ?
		 WHERE id = ?`,
		item.Name, item.Price, item.Description, item.Category, item.ImageRef, item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *SQLiteCatalogRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *SQLiteCatalogRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

func (r *SQLiteCatalogRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteCatalogRepository) query(ctx context.Context, q string, args ...any) ([]models.CatalogRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := make([]models.CatalogRecord, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(s rowScanner) (*models.CatalogRecord, error) {
	var (
		item      models.CatalogRecord
		createdAt string
	)
	if err := s.Scan(&item.ID, &item.Name, &item.Price, &item.Description, &item.Category, &item.ImageRef, &createdAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(createdAtLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at for item %s: %w", item.ID, err)
	}
	item.CreatedAt = t
	return &item, nil
}
