package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Lixing-Zhang/foodprep/internal/imagestore"
	"github.com/Lixing-Zhang/foodprep/internal/metrics"
	"github.com/Lixing-Zhang/foodprep/internal/models"
	"github.com/Lixing-Zhang/foodprep/internal/repository"
	"github.com/google/uuid"
)

var (
	ErrInvalidItem          = errors.New("invalid item")
	ErrMissingImage         = errors.New("image is required")
	ErrUnsupportedImageType = errors.New("only image files are allowed (jpeg, jpg, png, webp)")
)

var (
	idPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

	allowedExtensions = map[string]bool{
		".jpeg": true,
		".jpg":  true,
		".png":  true,
		".webp": true,
	}
	allowedContentTypes = map[string]bool{
		"image/jpeg": true,
		"image/jpg":  true,
		"image/png":  true,
		"image/webp": true,
	}
)

const generatedIDLength = 12

// ValidationError rejects a request field; Message is safe to show to clients
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid item: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidItem
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ImageStore persists uploaded item images
type ImageStore interface {
	Save(ctx context.Context, id, originalFilename string, r io.Reader) (string, error)
	Replace(ctx context.Context, id, originalFilename string, r io.Reader) (string, error)
	Delete(ctx context.Context, filename string) error
}

// ManifestSyncer mirrors catalog changes into the front-end manifest
type ManifestSyncer interface {
	SyncAdd(ctx context.Context, rec models.CatalogRecord, imageFilename string) bool
	SyncRemove(ctx context.Context, id string) bool
}

// AddItemRequest carries a new item and its uploaded image
type AddItemRequest struct {
	ID               string
	Name             string
	Price            float64
	Description      string
	Category         string
	ImageFilename    string
	ImageContentType string
	Image            io.Reader
}

// UpdateItemRequest carries a partial update. Nil fields and a nil Image are left unchanged.
type UpdateItemRequest struct {
	Name             *string
	Price            *float64
	Description      *string
	Category         *string
	ImageFilename    string
	ImageContentType string
	Image            io.Reader
}

// AddResult is the outcome of a successful add
type AddResult struct {
	Record          models.CatalogRecord
	ManifestUpdated bool
}

// UpdateResult is the outcome of a successful update
type UpdateResult struct {
	Record          models.CatalogRecord
	ManifestUpdated bool
}

// CatalogService handles business logic for catalog items
type CatalogService struct {
	repo     repository.CatalogRepository
	images   ImageStore
	manifest ManifestSyncer
	logger   *slog.Logger
	now      func() time.Time
}

// NewCatalogService creates a new catalog service
func NewCatalogService(repo repository.CatalogRepository, images ImageStore, manifest ManifestSyncer, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		repo:     repo,
		images:   images,
		manifest: manifest,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddItem stores the image, persists the record and then updates the manifest.
// A manifest failure does not fail the add; it is reported through ManifestUpdated.
func (s *CatalogService) AddItem(ctx context.Context, req AddItemRequest) (*AddResult, error) {
	if err := validateAdd(&req); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = generateID()
	}

	if _, err := s.repo.GetByID(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateItem, id)
	} else if !errors.Is(err, repository.ErrItemNotFound) {
		return nil, fmt.Errorf("failed to check item: %w", err)
	}

	// Save never overwrites, so a concurrent add of the same id stops here
	// without touching the image the other request published.
	imageRef, err := s.images.Save(ctx, id, req.ImageFilename, req.Image)
	if errors.Is(err, imagestore.ErrImageExists) {
		return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateItem, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	rec := models.CatalogRecord{
		ID:          id,
		Name:        req.Name,
		Price:       req.Price,
		Description: req.Description,
		Category:    req.Category,
		ImageRef:    imageRef,
		CreatedAt:   s.now(),
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		if derr := s.images.Delete(context.WithoutCancel(ctx), imageRef); derr != nil {
			s.logger.Warn("failed to remove image after insert failure", "item_id", id, "image", imageRef, "error", derr)
		}
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	// The record is committed; a client disconnect must not skip the manifest.
	mctx := context.WithoutCancel(ctx)
	updated := s.manifest.SyncAdd(mctx, rec, imageRef)
	if !updated {
		s.logger.Warn("item added but manifest not updated", "item_id", id)
	}
	s.refreshCount(mctx)

	s.logger.Info("catalog item added", "item_id", id, "category", rec.Category, "manifest_updated", updated)
	return &AddResult{Record: rec, ManifestUpdated: updated}, nil
}

// UpdateItem applies a partial update, replacing the image when one is given,
// and re-renders the manifest entry.
func (s *CatalogService) UpdateItem(ctx context.Context, id string, req UpdateItemRequest) (*UpdateResult, error) {
	if err := validateUpdate(&req); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := *existing
	if req.Name != nil {
		rec.Name = *req.Name
	}
	if req.Price != nil {
		rec.Price = *req.Price
	}
	if req.Description != nil {
		rec.Description = *req.Description
	}
	if req.Category != nil {
		rec.Category = *req.Category
	}

	oldImage := existing.ImageRef
	if req.Image != nil {
		imageRef, err := s.images.Replace(ctx, id, req.ImageFilename, req.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to save image: %w", err)
		}
		rec.ImageRef = imageRef
	}

	mctx := context.WithoutCancel(ctx)
	if err := s.repo.Update(mctx, rec); err != nil {
		if rec.ImageRef != oldImage {
			if derr := s.images.Delete(mctx, rec.ImageRef); derr != nil {
				s.logger.Warn("failed to remove image after update failure", "item_id", id, "image", rec.ImageRef, "error", derr)
			}
		}
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	if rec.ImageRef != oldImage {
		if err := s.images.Delete(mctx, oldImage); err != nil {
			s.logger.Warn("failed to delete replaced image", "item_id", id, "image", oldImage, "error", err)
		}
	}

	// Remove then add re-renders the entry; it moves to the top of food_list.
	updated := s.manifest.SyncRemove(mctx, id) && s.manifest.SyncAdd(mctx, rec, rec.ImageRef)
	if !updated {
		s.logger.Warn("item updated but manifest not updated", "item_id", id)
	}

	s.logger.Info("catalog item updated", "item_id", id, "manifest_updated", updated)
	return &UpdateResult{Record: rec, ManifestUpdated: updated}, nil
}

// DeleteItem removes the manifest entry, then the record, then the image.
// The record is deleted even when the manifest could not be updated.
func (s *CatalogService) DeleteItem(ctx context.Context, id string) (bool, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	mctx := context.WithoutCancel(ctx)
	updated := s.manifest.SyncRemove(mctx, id)
	if !updated {
		s.logger.Warn("manifest entry not removed", "item_id", id)
	}

	if err := s.repo.Delete(mctx, id); err != nil {
		return updated, fmt.Errorf("failed to delete item: %w", err)
	}

	if err := s.images.Delete(mctx, rec.ImageRef); err != nil {
		s.logger.Warn("failed to delete image", "item_id", id, "image", rec.ImageRef, "error", err)
	}
	s.refreshCount(mctx)

	s.logger.Info("catalog item deleted", "item_id", id, "manifest_updated", updated)
	return updated, nil
}

// ListItems returns all items in creation order
func (s *CatalogService) ListItems(ctx context.Context) ([]models.CatalogRecord, error) {
	return s.repo.GetAll(ctx)
}

// GetItem returns an item by ID
func (s *CatalogService) GetItem(ctx context.Context, id string) (*models.CatalogRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByCategory returns the items of one category in creation order
func (s *CatalogService) ListByCategory(ctx context.Context, category string) ([]models.CatalogRecord, error) {
	return s.repo.GetByCategory(ctx, category)
}

// Ping reports whether the catalog store is reachable
func (s *CatalogService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *CatalogService) refreshCount(ctx context.Context) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		s.logger.Warn("failed to count catalog items", "error", err)
		return
	}
	metrics.CatalogItemsTotal.Set(float64(n))
}

func validateAdd(req *AddItemRequest) error {
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)

	if req.ID != "" && !idPattern.MatchString(req.ID) {
		return invalid("id", "id must contain only letters, digits and underscores")
	}
	if req.Name == "" {
		return invalid("name", "name is required")
	}
	if req.Description == "" {
		return invalid("description", "description is required")
	}
	if err := validatePrice(req.Price); err != nil {
		return err
	}
	if req.Image == nil || req.ImageFilename == "" {
		return ErrMissingImage
	}
	return validateImage(req.ImageFilename, req.ImageContentType)
}

func validateUpdate(req *UpdateItemRequest) error {
	trim := func(p *string) {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	trim(req.Name)
	trim(req.Description)
	trim(req.Category)

	if req.Name != nil && *req.Name == "" {
		return invalid("name", "name cannot be empty")
	}
	if req.Description != nil && *req.Description == "" {
		return invalid("description", "description cannot be empty")
	}
	if req.Price != nil {
		if err := validatePrice(*req.Price); err != nil {
			return err
		}
	}
	if req.Image != nil {
		return validateImage(req.ImageFilename, req.ImageContentType)
	}
	return nil
}

func validatePrice(price float64) error {
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return invalid("price", "price must be a positive number")
	}
	return nil
}

func validateImage(filename, contentType string) error {
	if !allowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return ErrUnsupportedImageType
	}
	// clients that cannot tell send octet-stream; the extension already passed
	ct := strings.ToLower(contentType)
	if ct != "" && ct != "application/octet-stream" && !allowedContentTypes[ct] {
		return ErrUnsupportedImageType
	}
	return nil
}

func generateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:generatedIDLength]
}
