package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
	"github.com/govmatch-ai/govmatch/internal/vector"
)

const testDimension = 16

var testIdentity = Identity{UserID: "user-1", TenantID: "tenant-1", CompanyID: "comp-1"}

type serviceHarness struct {
	companies   *storage.CompanyRepository
	audits      *storage.AuditRepository
	vectorIndex *storage.VectorIndexRepository
	vectors     vector.Adapter
	blobs       *objectstore.Buckets
	signer      *objectstore.Signer
	queue       *queue.MemoryQueue
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// Each sqlite :memory: connection is a separate database; pin to one.
	db.SetMaxOpenConns(1)
	require.NoError(t, storage.EnsureSchema(context.Background(), db, "sqlite"))

	vectors, err := vector.NewMemoryAdapter(vector.MemoryConfig{Dimension: testDimension})
	require.NoError(t, err)

	h := &serviceHarness{
		companies:   storage.NewCompanyRepository(db),
		audits:      storage.NewAuditRepository(db),
		vectorIndex: storage.NewVectorIndexRepository(db),
		vectors:     vectors,
		blobs:       objectstore.NewBuckets(objectstore.NewMemoryStore()),
		signer:      objectstore.NewSigner("test-secret"),
		queue:       queue.NewMemoryQueue(queue.Options{}),
	}
	require.NoError(t, h.companies.Upsert(context.Background(), &storage.CompanyProfile{
		CompanyID: "comp-1",
		TenantID:  "tenant-1",
		LegalName: "Acme Federal Solutions LLC",
	}))
	return h
}

func (h *serviceHarness) service() *Service {
	return NewService(ServiceConfig{
		Companies:   h.companies,
		Audit:       h.audits,
		VectorIndex: h.vectorIndex,
		Vectors:     h.vectors,
		Blobs:       h.blobs,
		Signer:      h.signer,
		Queue:       h.queue,
	})
}

// uploadAndConfirm walks a document through intent, blob arrival, and
// confirmation, returning its id.
func (h *serviceHarness) uploadAndConfirm(t *testing.T, svc *Service, filename string) string {
	t.Helper()
	ctx := context.Background()

	grant, err := svc.CreateUploadIntent(ctx, testIdentity, UploadRequest{
		Filename:  filename,
		SizeBytes: 1024,
	})
	require.NoError(t, err)
	require.NoError(t, h.blobs.RawDocuments.Put(ctx, grant.Key, []byte("file body")))

	_, err = svc.ConfirmUpload(ctx, testIdentity, grant.DocumentID)
	require.NoError(t, err)
	return grant.DocumentID
}

func TestService_CreateUploadIntent(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	svc := h.service()

	grant, err := svc.CreateUploadIntent(ctx, testIdentity, UploadRequest{
		Filename:  "john_doe_resume.pdf",
		SizeBytes: 2048,
		MimeType:  "application/pdf",
	})
	require.NoError(t, err)

	require.NotEmpty(t, grant.DocumentID)
	assert.Equal(t, objectstore.RawDocumentKey("comp-1", grant.DocumentID, "john_doe_resume.pdf"), grant.Key)
	assert.Equal(t, EncryptionAlgorithm, grant.Encryption)
	assert.True(t, grant.ExpiresAt.After(time.Now()))

	token, err := h.signer.Verify(grant.Token)
	require.NoError(t, err)
	assert.Equal(t, objectstore.BucketRawDocuments, token.Bucket)
	assert.Equal(t, grant.Key, token.Key)

	company, err := h.companies.GetByID(ctx, "tenant-1", "comp-1")
	require.NoError(t, err)
	require.Len(t, company.Documents, 1)
	doc := company.Documents[0]
	assert.Equal(t, grant.DocumentID, doc.DocumentID)
	assert.Equal(t, storage.DocumentStatusUploading, doc.Status)
	assert.Equal(t, storage.CategoryOther, doc.Category)
	assert.Equal(t, int64(2048), doc.SizeBytes)
	assert.Equal(t, 1, doc.Version)

	audits, err := h.audits.ListByTenant(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, audits)
	assert.Equal(t, "document.upload_intent", audits[0].Action)
	assert.Equal(t, "company_document", audits[0].ResourceType)
	assert.Equal(t, grant.DocumentID, audits[0].ResourceID)
}

func TestService_CreateUploadIntentRejections(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	svc := h.service()

	tests := []struct {
		name     string
		filename string
		size     int64
		wantErr  error
	}{
		{"missing filename", "", 100, ErrInvalidFileType},
		{"extension not allowed", "payload.exe", 100, ErrInvalidFileType},
		{"no extension", "README", 100, ErrInvalidFileType},
		{"zero size", "ok.pdf", 0, ErrFileTooLarge},
		{"over the cap", "ok.pdf", MaxUploadBytes + 1, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateUploadIntent(ctx, testIdentity, UploadRequest{
				Filename:  tt.filename,
				SizeBytes: tt.size,
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing was registered on the company.
	company, err := h.companies.GetByID(ctx, "tenant-1", "comp-1")
	require.NoError(t, err)
	assert.Empty(t, company.Documents)
}

func TestService_ConfirmUploadLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	svc := h.service()

	grant, err := svc.CreateUploadIntent(ctx, testIdentity, UploadRequest{
		Filename:  "capability.pdf",
		SizeBytes: 512,
	})
	require.NoError(t, err)

	// The blob has not arrived yet.
	_, err = svc.ConfirmUpload(ctx, testIdentity, grant.DocumentID)
	require.ErrorIs(t, err, ErrDocumentNotReady)

	require.NoError(t, h.blobs.RawDocuments.Put(ctx, grant.Key, []byte("pdf bytes")))

	doc, err := svc.ConfirmUpload(ctx, testIdentity, grant.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusUploaded, doc.Status)
	require.NotNil(t, doc.UploadedAt)

	depth, err := h.queue.Depth(ctx, queue.QueueProfileDocuments)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	msgs, err := h.queue.Receive(ctx, queue.QueueProfileDocuments, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var payload DocumentMessage
	require.NoError(t, json.Unmarshal(msgs[0].Body, &payload))
	assert.Equal(t, DocumentMessage{TenantID: "tenant-1", CompanyID: "comp-1", DocumentID: grant.DocumentID}, payload)

	// Confirming again is a no-op: no second queue message.
	again, err := svc.ConfirmUpload(ctx, testIdentity, grant.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusUploaded, again.Status)
	depth, err = h.queue.Depth(ctx, queue.QueueProfileDocuments)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestService_GrantDownload(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	svc := h.service()

	grant, err := svc.CreateUploadIntent(ctx, testIdentity, UploadRequest{
		Filename:  "resume.docx",
		SizeBytes: 256,
	})
	require.NoError(t, err)

	// Still uploading: no download grant.
	_, err = svc.GrantDownload(ctx, testIdentity, grant.DocumentID)
	require.ErrorIs(t, err, ErrDocumentNotReady)

	require.NoError(t, h.blobs.RawDocuments.Put(ctx, grant.Key, []byte("docx bytes")))
	_, err = svc.ConfirmUpload(ctx, testIdentity, grant.DocumentID)
	require.NoError(t, err)

	download, err := svc.GrantDownload(ctx, testIdentity, grant.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, grant.Key, download.Key)

	token, err := h.signer.Verify(download.Token)
	require.NoError(t, err)
	assert.Equal(t, grant.Key, token.Key)
}

func TestService_DeleteDocumentCleansEverything(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	svc := h.service()

	docA := h.uploadAndConfirm(t, svc, "resume_a.pdf")
	docB := h.uploadAndConfirm(t, svc, "resume_b.pdf")

	// Simulate the worker's artifacts for both documents.
	vec := make([]float32, testDimension)
	vec[0] = 1
	for _, docID := range []string{docA, docB} {
		embKey := objectstore.DocumentEmbeddingKey("comp-1", "chunk", docID, 0)
		require.NoError(t, h.blobs.Embeddings.Put(ctx, embKey, []byte("{}")))
		require.NoError(t, h.blobs.ProcessedDocuments.Put(ctx,
			objectstore.StructuredRecordKey("comp-1", docID), []byte("{}")))
		require.NoError(t, h.vectorIndex.Upsert(ctx, &storage.VectorIndexEntry{
			EntityType:   storage.VectorEntityCompanyDocument,
			EntityID:     docID,
			ContentType:  "chunk_0",
			EmbeddingURI: embKey,
			TenantID:     "tenant-1",
		}))
		require.NoError(t, h.vectors.Upsert(ctx, []vector.Entry{{
			Key:         vector.EntryKey(storage.VectorEntityCompanyDocument, docID, "chunk_0"),
			EntityType:  storage.VectorEntityCompanyDocument,
			EntityID:    docID,
			ContentType: "chunk_0",
			TenantID:    "tenant-1",
			Vector:      vec,
		}}))
	}
	// Drain the confirm messages so only the delete's reembed remains.
	_, err := h.queue.Receive(ctx, queue.QueueProfileDocuments, 10)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(ctx, testIdentity, docA))

	// The record is gone; its sibling survives.
	company, err := h.companies.GetByID(ctx, "tenant-1", "comp-1")
	require.NoError(t, err)
	require.Len(t, company.Documents, 1)
	assert.Equal(t, docB, company.Documents[0].DocumentID)

	// Blobs for A are gone, blobs for B are intact.
	keys, err := h.blobs.Embeddings.List(ctx, objectstore.DocumentEmbeddingPrefix("comp-1"))
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], docB)

	exists, err := h.blobs.RawDocuments.Exists(ctx, objectstore.RawDocumentKey("comp-1", docA, "resume_a.pdf"))
	require.NoError(t, err)
	assert.False(t, exists)

	entriesA, err := h.vectorIndex.ListByEntity(ctx, storage.VectorEntityCompanyDocument, docA)
	require.NoError(t, err)
	assert.Empty(t, entriesA)
	entriesB, err := h.vectorIndex.ListByEntity(ctx, storage.VectorEntityCompanyDocument, docB)
	require.NoError(t, err)
	assert.Len(t, entriesB, 1)

	count, err := h.vectors.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// The aggregate profile embedding is now stale; a rebuild is queued.
	msgs, err := h.queue.Receive(ctx, queue.QueueProfileReembed, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var reembed ReembedMessage
	require.NoError(t, json.Unmarshal(msgs[0].Body, &reembed))
	assert.Equal(t, ReembedMessage{TenantID: "tenant-1", CompanyID: "comp-1"}, reembed)

	audits, err := h.audits.ListByTenant(ctx, "tenant-1", 20)
	require.NoError(t, err)
	actions := make([]string, 0, len(audits))
	for _, a := range audits {
		actions = append(actions, a.Action)
	}
	assert.Contains(t, actions, "document.delete")
}

func TestService_ListDocumentsFilterSortPage(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	svc := h.service()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := make([]storage.CompanyDocument, 0, 5)
	for i := 0; i < 5; i++ {
		uploaded := base.Add(time.Duration(i) * time.Hour)
		category := storage.CategoryTeamResumes
		if i%2 == 1 {
			category = storage.CategoryCapabilityStatements
		}
		docs = append(docs, storage.CompanyDocument{
			DocumentID: fmt.Sprintf("doc-%d", i),
			Filename:   fmt.Sprintf("file_%d.pdf", i),
			Category:   category,
			StorageKey: objectstore.RawDocumentKey("comp-1", fmt.Sprintf("doc-%d", i), "f.pdf"),
			Status:     storage.DocumentStatusProcessed,
			Version:    1,
			UploadedAt: &uploaded,
		})
	}
	require.NoError(t, h.companies.UpdateDocuments(ctx, "tenant-1", "comp-1", docs))

	// Default sort: newest upload first.
	page, total, err := svc.ListDocuments(ctx, testIdentity, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 5)
	assert.Equal(t, "doc-4", page[0].DocumentID)
	assert.Equal(t, "doc-0", page[4].DocumentID)

	// Category filter.
	page, total, err = svc.ListDocuments(ctx, testIdentity, ListOptions{Category: storage.CategoryCapabilityStatements})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, d := range page {
		assert.Equal(t, storage.CategoryCapabilityStatements, d.Category)
	}

	// Filename ascending.
	page, _, err = svc.ListDocuments(ctx, testIdentity, ListOptions{SortBy: "filename", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, "file_0.pdf", page[0].Filename)

	// Paging.
	page, total, err = svc.ListDocuments(ctx, testIdentity, ListOptions{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "doc-2", page[0].DocumentID)

	page, total, err = svc.ListDocuments(ctx, testIdentity, ListOptions{Page: 9, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, page)
}

func TestService_AccessControl(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	svc := h.service()

	_, err := svc.GetDocument(ctx, testIdentity, "no-such-doc")
	require.ErrorIs(t, err, ErrDocumentNotFound)

	// A record whose key sits outside the company namespace is not served,
	// whatever the database says.
	rogue := []storage.CompanyDocument{{
		DocumentID: "doc-x",
		Filename:   "leak.pdf",
		Category:   storage.CategoryOther,
		StorageKey: objectstore.RawDocumentKey("other-comp", "doc-x", "leak.pdf"),
		Status:     storage.DocumentStatusProcessed,
		Version:    1,
	}}
	require.NoError(t, h.companies.UpdateDocuments(ctx, "tenant-1", "comp-1", rogue))

	_, err = svc.GetDocument(ctx, testIdentity, "doc-x")
	require.ErrorIs(t, err, ErrAccessDenied)
	err = svc.DeleteDocument(ctx, testIdentity, "doc-x")
	require.ErrorIs(t, err, ErrAccessDenied)

	// Wrong tenant cannot see the company at all.
	_, _, err = svc.ListDocuments(ctx, Identity{UserID: "u", TenantID: "tenant-2", CompanyID: "comp-1"}, ListOptions{})
	require.ErrorIs(t, err, storage.ErrNotFound)
}
