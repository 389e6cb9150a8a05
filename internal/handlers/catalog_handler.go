package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Lixing-Zhang/foodprep/internal/models"
	"github.com/Lixing-Zhang/foodprep/internal/repository"
	"github.com/Lixing-Zhang/foodprep/internal/service"
	"github.com/go-chi/chi/v5"
)

const manifestWarning = "item added, catalog file not updated"

// CatalogHandler handles catalog item HTTP requests
type CatalogHandler struct {
	service  *service.CatalogService
	logger   *slog.Logger
	maxBytes int64
}

// NewCatalogHandler creates a new catalog handler. maxBytes bounds the multipart body.
func NewCatalogHandler(service *service.CatalogService, maxBytes int64, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		service:  service,
		logger:   logger,
		maxBytes: maxBytes,
	}
}

// AddItemResponse is returned by POST /api/food
type AddItemResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ItemID          string `json:"item_id"`
	ImageRef        string `json:"image_ref"`
	ManifestUpdated bool   `json:"manifest_updated"`
	Warning         string `json:"warning,omitempty"`
}

// UpdateItemResponse is returned by PUT /api/food/{itemId}
type UpdateItemResponse struct {
	Success         bool                 `json:"success"`
	Message         string               `json:"message"`
	Item            models.CatalogRecord `json:"item"`
	ManifestUpdated bool                 `json:"manifest_updated"`
	Warning         string               `json:"warning,omitempty"`
}

// DeleteItemResponse is returned by DELETE /api/food/{itemId}
type DeleteItemResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ManifestUpdated bool   `json:"manifest_updated"`
}

// AddItem handles POST /api/food
// Expects a multipart form with id (optional), name, price, description, category and image
func (h *CatalogHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	price, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("price")), 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Price must be a number", h.logger)
		return
	}

	req := service.AddItemRequest{
		ID:          r.FormValue("id"),
		Name:        r.FormValue("name"),
		Price:       price,
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
	}

	upload, ok := h.readImage(w, r)
	if !ok {
		return
	}
	if upload != nil {
		defer upload.file.Close()
		req.Image = upload.file
		req.ImageFilename = upload.filename
		req.ImageContentType = upload.contentType
	}

	res, err := h.service.AddItem(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := AddItemResponse{
		Success:         true,
		Message:         "Food item added",
		ItemID:          res.Record.ID,
		ImageRef:        res.Record.ImageRef,
		ManifestUpdated: res.ManifestUpdated,
	}
	if !res.ManifestUpdated {
		resp.Warning = manifestWarning
	}
	WriteJSON(w, http.StatusOK, resp, h.logger)
}

// UpdateItem handles PUT /api/food/{itemId}
// Only the form fields that are present are changed; an image part replaces the stored image
func (h *CatalogHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	if itemID == "" {
		WriteError(w, http.StatusBadRequest, "Invalid ID supplied", h.logger)
		return
	}

	if !h.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm.Value
	optional := func(key string) *string {
		if vals, ok := form[key]; ok && len(vals) > 0 {
			v := vals[0]
			return &v
		}
		return nil
	}

	req := service.UpdateItemRequest{
		Name:        optional("name"),
		Description: optional("description"),
		Category:    optional("category"),
	}
	if raw := optional("price"); raw != nil {
		price, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Price must be a number", h.logger)
			return
		}
		req.Price = &price
	}

	upload, ok := h.readImage(w, r)
	if !ok {
		return
	}
	if upload != nil {
		defer upload.file.Close()
		req.Image = upload.file
		req.ImageFilename = upload.filename
		req.ImageContentType = upload.contentType
	}

	res, err := h.service.UpdateItem(r.Context(), itemID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := UpdateItemResponse{
		Success:         true,
		Message:         "Food item updated",
		Item:            res.Record,
		ManifestUpdated: res.ManifestUpdated,
	}
	if !res.ManifestUpdated {
		resp.Warning = "item updated, catalog file not updated"
	}
	WriteJSON(w, http.StatusOK, resp, h.logger)
}

type imageUpload struct {
	file        multipart.File
	filename    string
	contentType string
}

// parseMultipart bounds and parses the body, writing the error response itself on failure
func (h *CatalogHandler) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		WriteError(w, http.StatusUnsupportedMediaType, "Content-Type must be multipart/form-data", h.logger)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "Upload too large", h.logger)
			return false
		}
		h.logger.Warn("failed to parse multipart form", "error", err)
		WriteError(w, http.StatusBadRequest, "Invalid multipart form", h.logger)
		return false
	}
	return true
}

// readImage returns nil without error when the form has no image part
func (h *CatalogHandler) readImage(w http.ResponseWriter, r *http.Request) (*imageUpload, bool) {
	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		return &imageUpload{
			file:        file,
			filename:    header.Filename,
			contentType: header.Header.Get("Content-Type"),
		}, true
	case errors.Is(err, http.ErrMissingFile):
		return nil, true
	default:
		h.logger.Warn("failed to read image", "error", err)
		WriteError(w, http.StatusBadRequest, "Invalid image upload", h.logger)
		return nil, false
	}
}

// ListItems handles GET /api/food
func (h *CatalogHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		h.logger.Error("failed to list items", "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, items, h.logger)
}

// GetItem handles GET /api/food/{itemId}
func (h *CatalogHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	if itemID == "" {
		WriteError(w, http.StatusBadRequest, "Invalid ID supplied", h.logger)
		return
	}

	item, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, item, h.logger)
}

// ListByCategory handles GET /api/food/category/{category}
func (h *CatalogHandler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	items, err := h.service.ListByCategory(r.Context(), category)
	if err != nil {
		h.logger.Error("failed to list items by category", "category", category, "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal server error", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, items, h.logger)
}

// DeleteItem handles DELETE /api/food/{itemId}
func (h *CatalogHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	if itemID == "" {
		WriteError(w, http.StatusBadRequest, "Invalid ID supplied", h.logger)
		return
	}

	updated, err := h.service.DeleteItem(r.Context(), itemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, DeleteItemResponse{
		Success:         true,
		Message:         "Food item deleted",
		ManifestUpdated: updated,
	}, h.logger)
}

func (h *CatalogHandler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		h.logger.Info("rejected catalog request", "field", verr.Field, "error", err)
		WriteError(w, http.StatusBadRequest, verr.Message, h.logger)
	case errors.Is(err, service.ErrMissingImage),
		errors.Is(err, service.ErrUnsupportedImageType):
		h.logger.Info("rejected catalog request", "error", err)
		WriteError(w, http.StatusBadRequest, err.Error(), h.logger)
	case errors.Is(err, repository.ErrItemNotFound):
		WriteError(w, http.StatusNotFound, "Food item not found", h.logger)
	case errors.Is(err, repository.ErrDuplicateItem):
		WriteError(w, http.StatusConflict, "Food item already exists", h.logger)
	default:
		h.logger.Error("catalog request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal server error", h.logger)
	}
}
