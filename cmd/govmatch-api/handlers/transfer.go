package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
)

// TransferHandler moves blob bytes for signed upload and download grants.
// The grant token pins one bucket/key pair, so no identity check is needed
// beyond token verification.
type TransferHandler struct {
	signer   *objectstore.Signer
	blobs    *objectstore.Buckets
	maxBytes int64
	logger   *observability.Logger
}

// NewTransferHandler creates a transfer handler. maxBytes caps upload body
// size.
func NewTransferHandler(signer *objectstore.Signer, blobs *objectstore.Buckets, maxBytes int64, logger *observability.Logger) *TransferHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &TransferHandler{signer: signer, blobs: blobs, maxBytes: maxBytes, logger: logger}
}

func (h *TransferHandler) store(bucket string) objectstore.Store {
	switch bucket {
	case objectstore.BucketRawDocuments:
		return h.blobs.RawDocuments
	case objectstore.BucketProcessedDocuments:
		return h.blobs.ProcessedDocuments
	case objectstore.BucketEmbeddings:
		return h.blobs.Embeddings
	default:
		return nil
	}
}

// Upload accepts the bytes for a previously issued upload grant.
// PUT /uploads/{token}
func (h *TransferHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tok, err := h.signer.Verify(chi.URLParam(r, "token"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	store := h.store(tok.Bucket)
	if store == nil {
		WriteError(w, http.StatusForbidden, CodeAccessDenied, "grant names an unknown bucket")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeFileTooLarge, "upload body exceeds the size limit")
		return
	}
	if err := store.Put(r.Context(), tok.Key, body); err != nil {
		h.logger.Error().Err(err).Str("key", tok.Key).Msg("Upload write failed")
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "failed to store upload")
		return
	}

	WriteData(w, http.StatusOK, map[string]any{"key": tok.Key, "size_bytes": len(body)})
}

// Download streams the bytes for a previously issued download grant.
// GET /downloads/{token}
func (h *TransferHandler) Download(w http.ResponseWriter, r *http.Request) {
	tok, err := h.signer.Verify(chi.URLParam(r, "token"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	store := h.store(tok.Bucket)
	if store == nil {
		WriteError(w, http.StatusForbidden, CodeAccessDenied, "grant names an unknown bucket")
		return
	}

	data, err := store.Get(r.Context(), tok.Key)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
