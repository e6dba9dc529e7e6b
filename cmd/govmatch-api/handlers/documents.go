package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/govmatch-ai/govmatch/cmd/govmatch-api/middleware"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/profile"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// DocumentsHandler serves the company-document lifecycle endpoints.
type DocumentsHandler struct {
	service *profile.Service
	logger  *observability.Logger
}

// NewDocumentsHandler creates a documents handler.
func NewDocumentsHandler(service *profile.Service, logger *observability.Logger) *DocumentsHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &DocumentsHandler{service: service, logger: logger}
}

type uploadURLRequest struct {
	Filename     string `json:"filename" validate:"required"`
	FileType     string `json:"file_type"`
	DocumentType string `json:"document_type" validate:"required"`
	FileSize     int64  `json:"file_size" validate:"required,gt=0"`
}

type uploadURLResponse struct {
	UploadURL  string `json:"uploadUrl"`
	Key        string `json:"key"`
	DocumentID string `json:"document_id"`
}

// CreateUploadURL issues a signed single-object upload grant.
// POST /documents/upload-url
func (h *DocumentsHandler) CreateUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := middleware.IdentityFromContext(r.Context())
	grant, err := h.service.CreateUploadIntent(r.Context(), id, profile.UploadRequest{
		Filename:  req.Filename,
		SizeBytes: req.FileSize,
		MimeType:  req.FileType,
		Category:  storage.DocumentCategory(req.DocumentType),
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteData(w, http.StatusOK, uploadURLResponse{
		UploadURL:  "/api/v1/uploads/" + grant.Token,
		Key:        grant.Key,
		DocumentID: grant.DocumentID,
	})
}

// ConfirmUpload marks a document uploaded and queues it for processing.
// POST /documents/{id}/confirm
func (h *DocumentsHandler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	doc, err := h.service.ConfirmUpload(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, doc)
}

// CreateDownloadURL issues a time-limited download grant.
// GET /documents/{id}/download-url
func (h *DocumentsHandler) CreateDownloadURL(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	grant, err := h.service.GrantDownload(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{
		"downloadUrl": "/api/v1/downloads/" + grant.Token,
		"expires_at":  grant.ExpiresAt,
	})
}

// List returns the caller's documents with filtering and pagination.
// GET /documents?category&sort_by&sort_order&page&limit
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	id := middleware.IdentityFromContext(r.Context())
	docs, total, err := h.service.ListDocuments(r.Context(), id, profile.ListOptions{
		Category:  storage.DocumentCategory(q.Get("category")),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteData(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
		"page":      max(page, 1),
		"limit":     limit,
	})
}

// Get returns a single document record.
// GET /documents/{id}
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	doc, err := h.service.GetDocument(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, doc)
}

// Delete removes a document, its blobs, and its embeddings, then triggers a
// profile re-embed.
// DELETE /documents/{id}
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	documentID := chi.URLParam(r, "id")
	if err := h.service.DeleteDocument(r.Context(), id, documentID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{"deleted": documentID})
}
