package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lixing-Zhang/foodprep/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func item(id, category string, offset time.Duration) models.CatalogRecord {
	return models.CatalogRecord{
		ID:          id,
		Name:        "Item " + id,
		Price:       9.5,
		Description: "Description " + id,
		Category:    category,
		ImageRef:    "food_" + id + ".png",
		CreatedAt:   baseTime.Add(offset),
	}
}

// repositories returns a fresh instance of every implementation
func repositories(t *testing.T) map[string]CatalogRepository {
	t.Helper()
	dir := t.TempDir()

	boltRepo, err := NewBoltCatalogRepository(filepath.Join(dir, "bolt", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { boltRepo.Close() })

	sqliteRepo, err := NewSQLiteCatalogRepository(context.Background(), filepath.Join(dir, "sqlite", "catalog.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteRepo.Close() })

	return map[string]CatalogRepository{
		"memory": NewInMemoryCatalogRepository(),
		"bolt":   boltRepo,
		"sqlite": sqliteRepo,
	}
}

func ids(items []models.CatalogRecord) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestCatalogRepository_CreateAndGet(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := item("a1", "Salad", 0)

			require.NoError(t, repo.Create(ctx, want))

			got, err := repo.GetByID(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.Price, got.Price)
			assert.Equal(t, want.Description, got.Description)
			assert.Equal(t, want.Category, got.Category)
			assert.Equal(t, want.ImageRef, got.ImageRef)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
		})
	}
}

func TestCatalogRepository_DuplicateID(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, item("dup", "Salad", 0)))

			err := repo.Create(ctx, item("dup", "Cake", time.Second))
			assert.ErrorIs(t, err, ErrDuplicateItem)

			got, err := repo.GetByID(ctx, "dup")
			require.NoError(t, err)
			assert.Equal(t, "Salad", got.Category, "duplicate create must not overwrite")
		})
	}
}

func TestCatalogRepository_ListOrderAndCategory(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, item("c", "Cake", 2*time.Second)))
			require.NoError(t, repo.Create(ctx, item("a", "Salad", 0)))
			require.NoError(t, repo.Create(ctx, item("b", "Salad", time.Second)))
			require.NoError(t, repo.Create(ctx, item("d", "Salad", 1500*time.Millisecond)))

			all, err := repo.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "d", "c"}, ids(all))

			salads, err := repo.GetByCategory(ctx, "Salad")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "d"}, ids(salads))

			none, err := repo.GetByCategory(ctx, "Pasta")
			require.NoError(t, err)
			assert.NotNil(t, none)
			assert.Empty(t, none)

			n, err := repo.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}

func TestCatalogRepository_Delete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, item("gone", "Salad", 0)))

			require.NoError(t, repo.Delete(ctx, "gone"))

			_, err := repo.GetByID(ctx, "gone")
			assert.ErrorIs(t, err, ErrItemNotFound)
			assert.ErrorIs(t, repo.Delete(ctx, "gone"), ErrItemNotFound)

			n, err := repo.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestCatalogRepository_Update(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			original := item("u1", "Salad", 0)
			require.NoError(t, repo.Create(ctx, original))

			changed := original
			changed.Name = "Renamed"
			changed.Price = 4.25
			changed.Category = "Cake"
			changed.ImageRef = "food_u1.jpg"
			changed.CreatedAt = baseTime.Add(time.Hour)
			require.NoError(t, repo.Update(ctx, changed))

			got, err := repo.GetByID(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Name)
			assert.Equal(t, 4.25, got.Price)
			assert.Equal(t, "Cake", got.Category)
			assert.Equal(t, "food_u1.jpg", got.ImageRef)
			assert.True(t, original.CreatedAt.Equal(got.CreatedAt), "update must keep created_at")

			err = repo.Update(ctx, item("missing", "Salad", 0))
			assert.ErrorIs(t, err, ErrItemNotFound)
		})
	}
}

func TestCatalogRepository_EmptyListAndPing(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.NoError(t, repo.Ping(ctx))

			all, err := repo.GetAll(ctx)
			require.NoError(t, err)
			assert.NotNil(t, all)
			assert.Empty(t, all)

			_, err = repo.GetByID(ctx, "missing")
			assert.ErrorIs(t, err, ErrItemNotFound)
		})
	}
}

func TestBoltCatalogRepository_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	repo, err := NewBoltCatalogRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, item("keep", "Rolls", 0)))
	require.NoError(t, repo.Close())

	reopened, err := NewBoltCatalogRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByID(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "Rolls", got.Category)
}

func TestSQLiteCatalogRepository_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	ctx := context.Background()

	repo, err := NewSQLiteCatalogRepository(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, item("keep", "Rolls", 0)))
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteCatalogRepository(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByID(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "Rolls", got.Category)
}
