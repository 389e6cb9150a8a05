package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lixing-Zhang/foodprep/internal/imagestore"
	"github.com/Lixing-Zhang/foodprep/internal/manifest"
	"github.com/Lixing-Zhang/foodprep/internal/models"
	"github.com/Lixing-Zhang/foodprep/internal/repository"
	"github.com/Lixing-Zhang/foodprep/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type syncCall struct {
	op    string
	id    string
	image string
}

type fakeSyncer struct {
	mu     sync.Mutex
	calls  []syncCall
	result bool
}

func (f *fakeSyncer) SyncAdd(_ context.Context, rec models.CatalogRecord, imageFilename string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, syncCall{op: "add", id: rec.ID, image: imageFilename})
	return f.result
}

func (f *fakeSyncer) SyncRemove(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, syncCall{op: "remove", id: id})
	return f.result
}

// staleLookupRepo reports every id as absent, as a concurrent add would see it
// before the other request commits
type staleLookupRepo struct {
	repository.CatalogRepository
}

func (staleLookupRepo) GetByID(context.Context, string) (*models.CatalogRecord, error) {
	return nil, repository.ErrItemNotFound
}

type failingUpdateRepo struct {
	repository.CatalogRepository
}

func (failingUpdateRepo) Update(context.Context, models.CatalogRecord) error {
	return errors.New("disk full")
}

// ctxRecordingSyncer records whether each call saw a live context
type ctxRecordingSyncer struct {
	errs []error
}

func (c *ctxRecordingSyncer) SyncAdd(ctx context.Context, _ models.CatalogRecord, _ string) bool {
	c.errs = append(c.errs, ctx.Err())
	return true
}

func (c *ctxRecordingSyncer) SyncRemove(ctx context.Context, _ string) bool {
	c.errs = append(c.errs, ctx.Err())
	return true
}

type failingCreateRepo struct {
	repository.CatalogRepository
}

func (failingCreateRepo) Create(context.Context, models.CatalogRecord) error {
	return errors.New("disk full")
}

func newTestService(t *testing.T, repo repository.CatalogRepository, syncer ManifestSyncer) (*CatalogService, string) {
	t.Helper()
	dir := t.TempDir()
	images, err := imagestore.NewDiskStore(dir)
	require.NoError(t, err)

	svc := NewCatalogService(repo, images, syncer, logger.NewWithWriter("error", io.Discard))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc, dir
}

func addRequest(id string) AddItemRequest {
	return AddItemRequest{
		ID:               id,
		Name:             "Greek salad",
		Price:            12,
		Description:      "Fresh and crisp",
		Category:         "Salad",
		ImageFilename:    "salad.png",
		ImageContentType: "image/png",
		Image:            strings.NewReader("PNGDATA"),
	}
}

func TestAddItem_Success(t *testing.T) {
	syncer := &fakeSyncer{result: true}
	svc, dir := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)

	res, err := svc.AddItem(context.Background(), addRequest("salad1"))
	require.NoError(t, err)

	assert.True(t, res.ManifestUpdated)
	assert.Equal(t, "salad1", res.Record.ID)
	assert.Equal(t, "food_salad1.png", res.Record.ImageRef)
	assert.Equal(t, []syncCall{{op: "add", id: "salad1", image: "food_salad1.png"}}, syncer.calls)

	data, err := os.ReadFile(filepath.Join(dir, "food_salad1.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	got, err := svc.GetItem(context.Background(), "salad1")
	require.NoError(t, err)
	assert.Equal(t, "Greek salad", got.Name)
}

func TestAddItem_GeneratesID(t *testing.T) {
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), &fakeSyncer{result: true})

	res, err := svc.AddItem(context.Background(), addRequest(""))
	require.NoError(t, err)

	assert.Len(t, res.Record.ID, generatedIDLength)
	assert.Regexp(t, `^[0-9a-f]+$`, res.Record.ID)
	assert.Equal(t, "food_"+res.Record.ID+".png", res.Record.ImageRef)
}

func TestAddItem_ManifestFailureIsDegradedSuccess(t *testing.T) {
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), &fakeSyncer{result: false})

	res, err := svc.AddItem(context.Background(), addRequest("a"))
	require.NoError(t, err)
	assert.False(t, res.ManifestUpdated)

	_, err = svc.GetItem(context.Background(), "a")
	assert.NoError(t, err, "record must be kept when the manifest is not updated")
}

func TestAddItem_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *AddItemRequest)
		want   error
	}{
		{"empty name", func(r *AddItemRequest) { r.Name = "  " }, ErrInvalidItem},
		{"infinite price", func(r *AddItemRequest) { r.Price = math.Inf(1) }, ErrInvalidItem},
		{"empty description", func(r *AddItemRequest) { r.Description = "" }, ErrInvalidItem},
		{"zero price", func(r *AddItemRequest) { r.Price = 0 }, ErrInvalidItem},
		{"negative price", func(r *AddItemRequest) { r.Price = -3 }, ErrInvalidItem},
		{"hyphenated id", func(r *AddItemRequest) { r.ID = "a-b" }, ErrInvalidItem},
		{"missing image", func(r *AddItemRequest) { r.Image = nil }, ErrMissingImage},
		{"gif extension", func(r *AddItemRequest) { r.ImageFilename = "x.gif" }, ErrUnsupportedImageType},
		{"pdf content type", func(r *AddItemRequest) { r.ImageContentType = "application/pdf" }, ErrUnsupportedImageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &fakeSyncer{result: true}
			svc, dir := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)

			req := addRequest("a")
			tt.mutate(&req)

			_, err := svc.AddItem(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, syncer.calls)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no image may be stored for a rejected item")
		})
	}
}

func TestAddItem_Duplicate(t *testing.T) {
	syncer := &fakeSyncer{result: true}
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, addRequest("a"))
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, addRequest("a"))
	assert.ErrorIs(t, err, repository.ErrDuplicateItem)
	assert.Len(t, syncer.calls, 1)
}

func TestAddItem_ValidationErrorCarriesField(t *testing.T) {
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), &fakeSyncer{result: true})

	req := addRequest("a")
	req.Description = " "
	_, err := svc.AddItem(context.Background(), req)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
	assert.Equal(t, "description is required", verr.Message)
}

func TestAddItem_DuplicateInFlightKeepsCommittedImage(t *testing.T) {
	for _, second := range []string{"other.png", "other.jpg"} {
		t.Run(second, func(t *testing.T) {
			inner := repository.NewInMemoryCatalogRepository()
			svc, dir := newTestService(t, staleLookupRepo{inner}, &fakeSyncer{result: true})
			ctx := context.Background()

			_, err := svc.AddItem(ctx, addRequest("a"))
			require.NoError(t, err)

			req := addRequest("a")
			req.ImageFilename = second
			req.Image = strings.NewReader("OTHER")
			_, err = svc.AddItem(ctx, req)
			assert.ErrorIs(t, err, repository.ErrDuplicateItem)

			committed, err := inner.GetByID(ctx, "a")
			require.NoError(t, err)
			data, err := os.ReadFile(filepath.Join(dir, committed.ImageRef))
			require.NoError(t, err, "committed record must keep its image")
			assert.Equal(t, "PNGDATA", string(data))

			_, err = os.Stat(filepath.Join(dir, "food_a.jpg"))
			assert.True(t, os.IsNotExist(err), "the losing request must clean up only its own file")
		})
	}
}

func TestAddItem_ConcurrentSameID(t *testing.T) {
	for trial := 0; trial < 25; trial++ {
		repo := repository.NewInMemoryCatalogRepository()
		svc, dir := newTestService(t, repo, &fakeSyncer{result: true})
		ctx := context.Background()

		const n = 4
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				req := addRequest("a")
				req.Image = strings.NewReader(fmt.Sprintf("IMAGE%d", i))
				_, errs[i] = svc.AddItem(ctx, req)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, repository.ErrDuplicateItem)
			}
		}
		require.Equal(t, 1, succeeded, "trial %d", trial)

		committed, err := repo.GetByID(ctx, "a")
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, committed.ImageRef))
		require.NoError(t, err, "trial %d: committed record lost its image", trial)
	}
}

func TestUpdateItem_PartialFields(t *testing.T) {
	syncer := &fakeSyncer{result: true}
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)
	ctx := context.Background()

	added, err := svc.AddItem(ctx, addRequest("a"))
	require.NoError(t, err)

	name := "  Village salad "
	price := 9.75
	res, err := svc.UpdateItem(ctx, "a", UpdateItemRequest{Name: &name, Price: &price})
	require.NoError(t, err)

	assert.True(t, res.ManifestUpdated)
	assert.Equal(t, "Village salad", res.Record.Name)
	assert.Equal(t, 9.75, res.Record.Price)
	assert.Equal(t, "Fresh and crisp", res.Record.Description)
	assert.Equal(t, "Salad", res.Record.Category)
	assert.Equal(t, "food_a.png", res.Record.ImageRef)
	assert.True(t, added.Record.CreatedAt.Equal(res.Record.CreatedAt))

	assert.Equal(t, []syncCall{
		{op: "add", id: "a", image: "food_a.png"},
		{op: "remove", id: "a"},
		{op: "add", id: "a", image: "food_a.png"},
	}, syncer.calls)

	got, err := svc.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Village salad", got.Name)
}

func TestUpdateItem_ReplacesImage(t *testing.T) {
	svc, dir := newTestService(t, repository.NewInMemoryCatalogRepository(), &fakeSyncer{result: true})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, addRequest("a"))
	require.NoError(t, err)

	res, err := svc.UpdateItem(ctx, "a", UpdateItemRequest{
		ImageFilename:    "new.jpg",
		ImageContentType: "image/jpeg",
		Image:            strings.NewReader("JPEGDATA"),
	})
	require.NoError(t, err)
	assert.Equal(t, "food_a.jpg", res.Record.ImageRef)

	data, err := os.ReadFile(filepath.Join(dir, "food_a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "JPEGDATA", string(data))

	_, err = os.Stat(filepath.Join(dir, "food_a.png"))
	assert.True(t, os.IsNotExist(err), "replaced image must be deleted")
}

func TestUpdateItem_FailureKeepsOldImage(t *testing.T) {
	inner := repository.NewInMemoryCatalogRepository()
	svc, dir := newTestService(t, inner, &fakeSyncer{result: true})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, addRequest("a"))
	require.NoError(t, err)

	svc.repo = failingUpdateRepo{inner}
	_, err = svc.UpdateItem(ctx, "a", UpdateItemRequest{
		ImageFilename: "new.webp",
		Image:         strings.NewReader("WEBP"),
	})
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "food_a.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "food_a.webp"))
	assert.True(t, os.IsNotExist(err))
}

func TestUpdateItem_Errors(t *testing.T) {
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), &fakeSyncer{result: true})
	ctx := context.Background()

	_, err := svc.UpdateItem(ctx, "missing", UpdateItemRequest{})
	assert.ErrorIs(t, err, repository.ErrItemNotFound)

	_, err = svc.AddItem(ctx, addRequest("a"))
	require.NoError(t, err)

	empty := " "
	_, err = svc.UpdateItem(ctx, "a", UpdateItemRequest{Name: &empty})
	assert.ErrorIs(t, err, ErrInvalidItem)

	zero := 0.0
	_, err = svc.UpdateItem(ctx, "a", UpdateItemRequest{Price: &zero})
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = svc.UpdateItem(ctx, "a", UpdateItemRequest{ImageFilename: "x.gif", Image: strings.NewReader("GIF")})
	assert.ErrorIs(t, err, ErrUnsupportedImageType)
}

func TestUpdateItem_ManifestFailureIsReported(t *testing.T) {
	syncer := &fakeSyncer{result: true}
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, addRequest("a"))
	require.NoError(t, err)

	syncer.result = false
	category := "Cake"
	res, err := svc.UpdateItem(ctx, "a", UpdateItemRequest{Category: &category})
	require.NoError(t, err)
	assert.False(t, res.ManifestUpdated)
	assert.Equal(t, syncCall{op: "remove", id: "a"}, syncer.calls[len(syncer.calls)-1], "add is skipped after a failed remove")
}

func TestDeleteItem_CanceledRequestStillSyncsManifest(t *testing.T) {
	syncer := &ctxRecordingSyncer{}
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)

	_, err := svc.AddItem(context.Background(), addRequest("a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.DeleteItem(ctx, "a")
	require.NoError(t, err)

	require.Len(t, syncer.errs, 2)
	for _, err := range syncer.errs {
		assert.NoError(t, err)
	}
}

func TestAddItem_CreateFailureRemovesImage(t *testing.T) {
	syncer := &fakeSyncer{result: true}
	repo := failingCreateRepo{repository.NewInMemoryCatalogRepository()}
	svc, dir := newTestService(t, repo, syncer)

	_, err := svc.AddItem(context.Background(), addRequest("a"))
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "food_a.png"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, syncer.calls, "manifest must not be touched when the record was not stored")
}

func TestDeleteItem(t *testing.T) {
	syncer := &fakeSyncer{result: true}
	svc, dir := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, addRequest("a"))
	require.NoError(t, err)

	updated, err := svc.DeleteItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, syncCall{op: "remove", id: "a"}, syncer.calls[len(syncer.calls)-1])

	_, err = svc.GetItem(ctx, "a")
	assert.ErrorIs(t, err, repository.ErrItemNotFound)

	_, err = os.Stat(filepath.Join(dir, "food_a.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteItem_NotFound(t *testing.T) {
	syncer := &fakeSyncer{result: true}
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), syncer)

	_, err := svc.DeleteItem(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrItemNotFound)
	assert.Empty(t, syncer.calls)
}

func TestListItems_CreationOrderAndCategory(t *testing.T) {
	svc, _ := newTestService(t, repository.NewInMemoryCatalogRepository(), &fakeSyncer{result: true})
	ctx := context.Background()

	for _, tc := range []struct{ id, category string }{{"a", "Salad"}, {"b", "Cake"}, {"c", "Salad"}} {
		req := addRequest(tc.id)
		req.Category = tc.category
		_, err := svc.AddItem(ctx, req)
		require.NoError(t, err)
	}

	all, err := svc.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	salads, err := svc.ListByCategory(ctx, "Salad")
	require.NoError(t, err)
	require.Len(t, salads, 2)
	assert.Equal(t, "c", salads[1].ID)
}

func TestCatalogService_WithManifest(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "assets.js")
	syncer := manifest.NewSynchronizer(manifest.Config{Path: manifestPath, ImagesDir: dir}, logger.NewWithWriter("error", io.Discard))
	defer syncer.Close()

	images, err := imagestore.NewDiskStore(dir)
	require.NoError(t, err)
	svc := NewCatalogService(repository.NewInMemoryCatalogRepository(), images, syncer, logger.NewWithWriter("error", io.Discard))
	ctx := context.Background()

	res, err := svc.AddItem(ctx, addRequest("A"))
	require.NoError(t, err)
	require.True(t, res.ManifestUpdated)

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `import food_A from "./food_A.png";`)

	updated, err := svc.DeleteItem(ctx, "A")
	require.NoError(t, err)
	assert.True(t, updated)

	data, err = os.ReadFile(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, manifest.Template(), string(data))
}
