package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
	"github.com/govmatch-ai/govmatch/internal/vector"
)

// Upload limits.
const (
	MaxUploadBytes = 100 << 20 // 100 MiB
	uploadTokenTTL = time.Hour

	// EncryptionAlgorithm is the at-rest encryption every upload must request.
	EncryptionAlgorithm = "AES256"
)

// AllowedExtensions is the upload whitelist, keyed by lowercase extension
// without the dot.
var AllowedExtensions = map[string]bool{
	"pdf": true, "docx": true, "doc": true, "xlsx": true, "xls": true, "txt": true,
}

var (
	// ErrInvalidFileType is returned for extensions outside the whitelist.
	ErrInvalidFileType = errors.New("profile: file type not allowed")
	// ErrFileTooLarge is returned when the declared size exceeds the cap.
	ErrFileTooLarge = errors.New("profile: file exceeds size limit")
	// ErrDocumentNotFound is returned when the document id is unknown.
	ErrDocumentNotFound = errors.New("profile: document not found")
	// ErrAccessDenied is returned when a document key falls outside the
	// caller's tenant namespace.
	ErrAccessDenied = errors.New("profile: access denied")
	// ErrDocumentNotReady is returned by confirm when no blob has arrived
	// at the granted key.
	ErrDocumentNotReady = errors.New("profile: document not uploaded yet")
)

// Identity is the authenticated caller, extracted from verified claims.
type Identity struct {
	UserID    string
	TenantID  string
	CompanyID string
}

// UploadRequest is the caller's declaration of a document to upload.
type UploadRequest struct {
	Filename  string
	SizeBytes int64
	MimeType  string
	Category  storage.DocumentCategory
}

// SignedGrant authorizes one object transfer (upload or download).
type SignedGrant struct {
	DocumentID string    `json:"document_id"`
	Key        string    `json:"key"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	Encryption string    `json:"encryption"`
}

// DocumentMessage is the queue payload for one confirmed document.
type DocumentMessage struct {
	TenantID   string `json:"tenant_id"`
	CompanyID  string `json:"company_id"`
	DocumentID string `json:"document_id"`
}

// ReembedMessage asks the worker to refresh a company's aggregate profile
// embedding after its source material changed.
type ReembedMessage struct {
	TenantID  string `json:"tenant_id"`
	CompanyID string `json:"company_id"`
}

// ListOptions filter and page the document listing.
type ListOptions struct {
	Category  storage.DocumentCategory
	SortBy    string // uploaded_at or filename
	SortOrder string // asc or desc
	Page      int
	Limit     int
}

// ServiceConfig wires the document service's collaborators.
type ServiceConfig struct {
	Companies   *storage.CompanyRepository
	Audit       *storage.AuditRepository
	VectorIndex *storage.VectorIndexRepository
	Vectors     vector.Adapter
	Blobs       *objectstore.Buckets
	Signer      *objectstore.Signer
	Queue       queue.Queue
	Logger      *observability.Logger

	// MaxUploadBytes overrides the default size cap. Tests only.
	MaxUploadBytes int64
}

// Service manages the company-document lifecycle: upload grants, confirm,
// listing, download grants, and deletion with embedding cleanup.
type Service struct {
	companies   *storage.CompanyRepository
	audit       *storage.AuditRepository
	vectorIndex *storage.VectorIndexRepository
	vectors     vector.Adapter
	blobs       *objectstore.Buckets
	signer      *objectstore.Signer
	queue       queue.Queue
	logger      *observability.Logger
	maxBytes    int64
	now         func() time.Time
}

// NewService creates a document service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = MaxUploadBytes
	}
	return &Service{
		companies:   cfg.Companies,
		audit:       cfg.Audit,
		vectorIndex: cfg.VectorIndex,
		vectors:     cfg.Vectors,
		blobs:       cfg.Blobs,
		signer:      cfg.Signer,
		queue:       cfg.Queue,
		logger:      cfg.Logger,
		maxBytes:    cfg.MaxUploadBytes,
		now:         time.Now,
	}
}

// CreateUploadIntent validates the declared file, registers an uploading
// document on the company, and returns a signed single-object upload grant.
func (s *Service) CreateUploadIntent(ctx context.Context, id Identity, req UploadRequest) (*SignedGrant, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidFileType)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(req.Filename), "."))
	if !AllowedExtensions[ext] {
		return nil, fmt.Errorf("%w: .%s", ErrInvalidFileType, ext)
	}
	if req.SizeBytes <= 0 || req.SizeBytes > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, req.SizeBytes, s.maxBytes)
	}

	company, err := s.companies.GetByID(ctx, id.TenantID, id.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load company: %w", err)
	}

	documentID := uuid.NewString()
	safeName := objectstore.SanitizeFilename(req.Filename)
	key := objectstore.RawDocumentKey(id.CompanyID, documentID, safeName)

	token, err := s.signer.Sign(objectstore.BucketRawDocuments, key, uploadTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign upload token: %w", err)
	}

	category := req.Category
	if category == "" {
		category = storage.CategoryOther
	}
	doc := storage.CompanyDocument{
		DocumentID: documentID,
		Filename:   safeName,
		Category:   category,
		StorageKey: key,
		Status:     storage.DocumentStatusUploading,
		SizeBytes:  req.SizeBytes,
		MimeType:   req.MimeType,
		Version:    1,
	}
	company.Documents = append(company.Documents, doc)
	if err := s.companies.UpdateDocuments(ctx, id.TenantID, id.CompanyID, company.Documents); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}

	s.writeAudit(ctx, id, "document.upload_intent", documentID, map[string]interface{}{
		"filename": safeName,
		"size":     req.SizeBytes,
	})
	s.logger.WithTenant(id.TenantID).Info().
		Str("company_id", id.CompanyID).
		Str("document_id", documentID).
		Str("filename", safeName).
		Msg("upload intent granted")

	return &SignedGrant{
		DocumentID: documentID,
		Key:        key,
		Token:      token,
		ExpiresAt:  s.now().Add(uploadTokenTTL).UTC(),
		Encryption: EncryptionAlgorithm,
	}, nil
}

// ConfirmUpload verifies the blob arrived, moves the document from uploading
// to uploaded, and enqueues it for processing. Confirming an already-uploaded
// document is a no-op returning the current record.
func (s *Service) ConfirmUpload(ctx context.Context, id Identity, documentID string) (*storage.CompanyDocument, error) {
	company, idx, err := s.findDocument(ctx, id, documentID)
	if err != nil {
		return nil, err
	}
	doc := &company.Documents[idx]
	if doc.Status != storage.DocumentStatusUploading {
		return doc, nil
	}

	exists, err := s.blobs.RawDocuments.Exists(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("check upload: %w", err)
	}
	if !exists {
		return nil, ErrDocumentNotReady
	}

	uploadedAt := s.now().UTC()
	doc.Status = storage.DocumentStatusUploaded
	doc.UploadedAt = &uploadedAt
	if err := s.companies.UpdateDocuments(ctx, id.TenantID, id.CompanyID, company.Documents); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}

	body, err := json.Marshal(DocumentMessage{TenantID: id.TenantID, CompanyID: id.CompanyID, DocumentID: documentID})
	if err != nil {
		return nil, fmt.Errorf("encode document message: %w", err)
	}
	if err := s.queue.Send(ctx, queue.QueueProfileDocuments, body); err != nil {
		return nil, fmt.Errorf("enqueue document: %w", err)
	}

	s.writeAudit(ctx, id, "document.confirm", documentID, nil)
	s.logger.WithTenant(id.TenantID).Info().
		Str("company_id", id.CompanyID).
		Str("document_id", documentID).
		Msg("document confirmed and queued")
	return doc, nil
}

// GrantDownload signs a one-hour read grant for an uploaded document.
func (s *Service) GrantDownload(ctx context.Context, id Identity, documentID string) (*SignedGrant, error) {
	company, idx, err := s.findDocument(ctx, id, documentID)
	if err != nil {
		return nil, err
	}
	doc := company.Documents[idx]
	if doc.Status == storage.DocumentStatusUploading {
		return nil, ErrDocumentNotReady
	}

	token, err := s.signer.Sign(objectstore.BucketRawDocuments, doc.StorageKey, uploadTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign download token: %w", err)
	}
	return &SignedGrant{
		DocumentID: documentID,
		Key:        doc.StorageKey,
		Token:      token,
		ExpiresAt:  s.now().Add(uploadTokenTTL).UTC(),
	}, nil
}

// ListDocuments returns one page of the company's documents plus the total
// count after category filtering.
func (s *Service) ListDocuments(ctx context.Context, id Identity, opts ListOptions) ([]storage.CompanyDocument, int, error) {
	company, err := s.companies.GetByID(ctx, id.TenantID, id.CompanyID)
	if err != nil {
		return nil, 0, fmt.Errorf("load company: %w", err)
	}

	docs := make([]storage.CompanyDocument, 0, len(company.Documents))
	for _, d := range company.Documents {
		if opts.Category != "" && d.Category != opts.Category {
			continue
		}
		docs = append(docs, d)
	}

	sortDocuments(docs, opts.SortBy, opts.SortOrder)

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	total := len(docs)
	start := (page - 1) * limit
	if start >= total {
		return []storage.CompanyDocument{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return docs[start:end], total, nil
}

// GetDocument returns one document record.
func (s *Service) GetDocument(ctx context.Context, id Identity, documentID string) (*storage.CompanyDocument, error) {
	company, idx, err := s.findDocument(ctx, id, documentID)
	if err != nil {
		return nil, err
	}
	doc := company.Documents[idx]
	return &doc, nil
}

// DeleteDocument removes the document record, its blobs, and its vectors,
// then queues a profile re-embed so the aggregate embedding stops reflecting
// the removed content. Every caller path shares this cleanup.
func (s *Service) DeleteDocument(ctx context.Context, id Identity, documentID string) error {
	company, idx, err := s.findDocument(ctx, id, documentID)
	if err != nil {
		return err
	}
	doc := company.Documents[idx]

	// Step 1: raw and processed blobs. Missing blobs are fine; the
	// document may never have finished uploading.
	s.deleteBlob(ctx, s.blobs.RawDocuments, doc.StorageKey)
	s.deleteBlob(ctx, s.blobs.ProcessedDocuments, objectstore.ProcessedDocumentKey(id.CompanyID, documentID, doc.Filename))
	s.deleteBlob(ctx, s.blobs.ProcessedDocuments, objectstore.StructuredRecordKey(id.CompanyID, documentID))

	// Step 2: embedding blobs. Keys embed the document id, so filter the
	// company's embedding namespace rather than tracking a key list.
	keys, err := s.blobs.Embeddings.List(ctx, objectstore.DocumentEmbeddingPrefix(id.CompanyID))
	if err != nil {
		return fmt.Errorf("list embeddings: %w", err)
	}
	needle := "/" + documentID + "_"
	for _, key := range keys {
		if strings.Contains(key, needle) {
			s.deleteBlob(ctx, s.blobs.Embeddings, key)
		}
	}

	// Step 3: vector index rows and index vectors.
	if _, err := s.vectorIndex.DeleteByEntity(ctx, storage.VectorEntityCompanyDocument, documentID); err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	if err := s.vectors.DeleteByEntity(ctx, storage.VectorEntityCompanyDocument, documentID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}

	// Step 4: drop the record.
	company.Documents = append(company.Documents[:idx], company.Documents[idx+1:]...)
	if err := s.companies.UpdateDocuments(ctx, id.TenantID, id.CompanyID, company.Documents); err != nil {
		return fmt.Errorf("update documents: %w", err)
	}

	// Step 5: the profile embedding still reflects the deleted document
	// until the worker rebuilds it.
	body, err := json.Marshal(ReembedMessage{TenantID: id.TenantID, CompanyID: id.CompanyID})
	if err != nil {
		return fmt.Errorf("encode reembed message: %w", err)
	}
	if err := s.queue.Send(ctx, queue.QueueProfileReembed, body); err != nil {
		return fmt.Errorf("enqueue reembed: %w", err)
	}

	s.writeAudit(ctx, id, "document.delete", documentID, map[string]interface{}{
		"filename": doc.Filename,
		"category": string(doc.Category),
	})
	s.logger.WithTenant(id.TenantID).Info().
		Str("company_id", id.CompanyID).
		Str("document_id", documentID).
		Msg("document deleted, profile reembed queued")
	return nil
}

// findDocument loads the company and locates the document, enforcing the
// tenant key namespace.
func (s *Service) findDocument(ctx context.Context, id Identity, documentID string) (*storage.CompanyProfile, int, error) {
	company, err := s.companies.GetByID(ctx, id.TenantID, id.CompanyID)
	if err != nil {
		return nil, 0, fmt.Errorf("load company: %w", err)
	}
	for i, d := range company.Documents {
		if d.DocumentID != documentID {
			continue
		}
		if !objectstore.HasTenantPrefix(d.StorageKey, id.CompanyID) {
			return nil, 0, ErrAccessDenied
		}
		return company, i, nil
	}
	return nil, 0, ErrDocumentNotFound
}

func (s *Service) deleteBlob(ctx context.Context, store objectstore.Store, key string) {
	if err := store.Delete(ctx, key); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		s.logger.Warn().Err(err).Str("key", key).Msg("blob cleanup failed")
	}
}

// writeAudit records a document mutation. Audit failures are logged, not
// surfaced; the mutation itself already succeeded.
func (s *Service) writeAudit(ctx context.Context, id Identity, action, documentID string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	rec := &storage.AuditRecord{
		TenantID:     id.TenantID,
		Timestamp:    s.now().UTC(),
		Actor:        id.UserID,
		Action:       action,
		ResourceType: "company_document",
		ResourceID:   documentID,
		Details:      details,
		ExpiresAt:    s.now().UTC().Add(90 * 24 * time.Hour),
	}
	if err := s.audit.Insert(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}

func sortDocuments(docs []storage.CompanyDocument, sortBy, order string) {
	desc := strings.EqualFold(order, "desc") || order == ""
	less := func(i, j int) bool {
		var before bool
		switch sortBy {
		case "filename":
			before = docs[i].Filename < docs[j].Filename
		default:
			ti, tj := time.Time{}, time.Time{}
			if docs[i].UploadedAt != nil {
				ti = *docs[i].UploadedAt
			}
			if docs[j].UploadedAt != nil {
				tj = *docs[j].UploadedAt
			}
			if ti.Equal(tj) {
				before = docs[i].DocumentID < docs[j].DocumentID
			} else {
				before = ti.Before(tj)
			}
		}
		if desc {
			return !before
		}
		return before
	}
	sort.SliceStable(docs, less)
}
