package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Lixing-Zhang/foodprep/internal/models"
)

var (
	ErrItemNotFound  = errors.New("catalog item not found")
	ErrDuplicateItem = errors.New("catalog item already exists")
)

// CatalogRepository defines the interface for catalog data access
type CatalogRepository interface {
	Create(ctx context.Context, item models.CatalogRecord) error
	GetAll(ctx context.Context) ([]models.CatalogRecord, error)
	GetByID(ctx context.Context, id string) (*models.CatalogRecord, error)
	GetByCategory(ctx context.Context, category string) ([]models.CatalogRecord, error)
	Update(ctx context.Context, item models.CatalogRecord) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// InMemoryCatalogRepository implements CatalogRepository with in-memory storage
type InMemoryCatalogRepository struct {
	mu    sync.RWMutex
	items map[string]models.CatalogRecord
}

// NewInMemoryCatalogRepository creates an empty in-memory catalog repository
func NewInMemoryCatalogRepository() *InMemoryCatalogRepository {
	return &InMemoryCatalogRepository{
		items: make(map[string]models.CatalogRecord),
	}
}

// Create stores a new item, failing if the ID is taken
func (r *InMemoryCatalogRepository) Create(ctx context.Context, item models.CatalogRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.ID]; exists {
		return ErrDuplicateItem
	}
	r.items[item.ID] = item
	return nil
}

// GetAll returns all items in creation order
func (r *InMemoryCatalogRepository) GetAll(ctx context.Context) ([]models.CatalogRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]models.CatalogRecord, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	sortByCreation(items)
	return items, nil
}

// GetByID returns an item by its ID
func (r *InMemoryCatalogRepository) GetByID(ctx context.Context, id string) (*models.CatalogRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, ErrItemNotFound
	}
	return &item, nil
}

// GetByCategory returns the items of one category in creation order
func (r *InMemoryCatalogRepository) GetByCategory(ctx context.Context, category string) ([]models.CatalogRecord, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterCategory(all, category), nil
}

// Update replaces a stored item, keeping its creation time
func (r *InMemoryCatalogRepository) Update(ctx context.Context, item models.CatalogRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.items[item.ID]
	if !exists {
		return ErrItemNotFound
	}
	item.CreatedAt = existing.CreatedAt
	r.items[item.ID] = item
	return nil
}

// Delete removes an item by its ID
func (r *InMemoryCatalogRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[id]; !exists {
		return ErrItemNotFound
	}
	delete(r.items, id)
	return nil
}

// Count returns the number of stored items
func (r *InMemoryCatalogRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func (r *InMemoryCatalogRepository) Ping(ctx context.Context) error { return nil }

func (r *InMemoryCatalogRepository) Close() error { return nil }

func sortByCreation(items []models.CatalogRecord) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func filterCategory(items []models.CatalogRecord, category string) []models.CatalogRecord {
	filtered := make([]models.CatalogRecord, 0)
	for _, item := range items {
		if item.Category == category {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
