package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/embedding"
	"github.com/govmatch-ai/govmatch/internal/extract"
	"github.com/govmatch-ai/govmatch/internal/llm"
	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
	"github.com/govmatch-ai/govmatch/internal/vector"
)

// ContentTypeProfile is the content type of the aggregate profile embedding.
const ContentTypeProfile = "profile"

// StructuredRecord is the durable extraction artifact written beside the
// processed text. Exactly one of Resume or Capability is set, by category.
type StructuredRecord struct {
	DocumentID     string               `json:"document_id"`
	Classification *Classification      `json:"classification"`
	Resume         *Resume              `json:"resume,omitempty"`
	Capability     *CapabilityStatement `json:"capability_statement,omitempty"`
	ExtractedAt    time.Time            `json:"extracted_at"`
}

// DocumentResult summarizes one document processing run.
type DocumentResult struct {
	DocumentID string                   `json:"document_id"`
	Category   storage.DocumentCategory `json:"category"`
	Confidence float64                  `json:"confidence"`
	Band       storage.ConfidenceLevel  `json:"band"`
	Embeddings int                      `json:"embeddings"`
	Duration   time.Duration            `json:"duration"`
}

// ProcessorConfig wires the document processor's collaborators.
type ProcessorConfig struct {
	Companies   *storage.CompanyRepository
	VectorIndex *storage.VectorIndexRepository
	Vectors     vector.Adapter
	Blobs       *objectstore.Buckets
	Extractor   *extract.Extractor
	MultiLevel  *embedding.MultiLevel
	Embedder    embedding.Embedder
	LLM         llm.LLM
	Logger      *observability.Logger
}

// Processor runs the per-document pipeline: extract, classify, structured
// extraction, multi-level embed, index, persist. It also rebuilds the
// aggregate profile embedding whenever a document changes.
type Processor struct {
	companies    *storage.CompanyRepository
	vectorIndex  *storage.VectorIndexRepository
	vectors      vector.Adapter
	blobs        *objectstore.Buckets
	extractor    *extract.Extractor
	multiLevel   *embedding.MultiLevel
	embedder     embedding.Embedder
	classifier   *Classifier
	resumes      *ResumeExtractor
	capabilities *CapabilityExtractor
	logger       *observability.Logger
}

// NewProcessor creates a document processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Processor{
		companies:    cfg.Companies,
		vectorIndex:  cfg.VectorIndex,
		vectors:      cfg.Vectors,
		blobs:        cfg.Blobs,
		extractor:    cfg.Extractor,
		multiLevel:   cfg.MultiLevel,
		embedder:     cfg.Embedder,
		classifier:   NewClassifier(cfg.LLM),
		resumes:      NewResumeExtractor(cfg.LLM),
		capabilities: NewCapabilityExtractor(cfg.LLM),
		logger:       cfg.Logger,
	}
}

// ProcessDocument runs the full pipeline for one confirmed document.
// Re-processing is safe: keys are deterministic and index writes replace.
func (p *Processor) ProcessDocument(ctx context.Context, msg DocumentMessage) (*DocumentResult, error) {
	started := time.Now()
	log := p.logger.WithTenant(msg.TenantID).WithCompany(msg.CompanyID)

	// Step 1: locate the document.
	company, err := p.companies.GetByID(ctx, msg.TenantID, msg.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load company: %w", err)
	}
	idx := -1
	for i, d := range company.Documents {
		if d.DocumentID == msg.DocumentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrDocumentNotFound
	}
	doc := &company.Documents[idx]
	if !objectstore.HasTenantPrefix(doc.StorageKey, msg.CompanyID) {
		return nil, ErrAccessDenied
	}
	if doc.Status == storage.DocumentStatusUploading {
		return nil, ErrDocumentNotReady
	}

	// Step 2: fetch the raw bytes.
	blob, err := p.blobs.RawDocuments.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, p.fail(ctx, msg, company, idx, fmt.Errorf("fetch raw document: %w", err))
	}

	// Step 3: extract text.
	extracted := p.extractor.Extract(ctx, blob, doc.Filename)
	if !extracted.Success || strings.TrimSpace(extracted.FullText) == "" {
		reason := extracted.Error
		if reason == "" {
			reason = "no_text"
		}
		return nil, p.fail(ctx, msg, company, idx, fmt.Errorf("extract %s: %s", doc.Filename, reason))
	}
	text := extracted.FullText

	// Step 4: cache the cleaned text. Best-effort.
	textKey := objectstore.ProcessedDocumentKey(msg.CompanyID, msg.DocumentID, doc.Filename)
	if err := p.blobs.ProcessedDocuments.Put(ctx, textKey, []byte(text)); err != nil {
		log.Warn().Err(err).Str("key", textKey).Msg("processed text cache failed")
	}

	// Step 5: classify.
	classification, err := p.classifier.Classify(ctx, doc.Filename, text)
	if err != nil {
		return nil, p.fail(ctx, msg, company, idx, fmt.Errorf("classify: %w", err))
	}

	// Step 6: category-specific structured extraction.
	record := &StructuredRecord{
		DocumentID:     msg.DocumentID,
		Classification: classification,
		ExtractedAt:    time.Now().UTC(),
	}
	switch classification.PrimaryCategory {
	case storage.CategoryTeamResumes:
		record.Resume, err = p.resumes.Parse(ctx, text)
	case storage.CategoryCapabilityStatements:
		record.Capability, err = p.capabilities.Parse(ctx, text)
	}
	if err != nil {
		return nil, p.fail(ctx, msg, company, idx, fmt.Errorf("structured extraction: %w", err))
	}
	if record.Capability != nil && mergeCapability(company, record.Capability) {
		if err := p.companies.Upsert(ctx, company); err != nil {
			return nil, p.fail(ctx, msg, company, idx, fmt.Errorf("merge capability fields: %w", err))
		}
	}
	if data, err := json.Marshal(record); err == nil {
		structKey := objectstore.StructuredRecordKey(msg.CompanyID, msg.DocumentID)
		if err := p.blobs.ProcessedDocuments.Put(ctx, structKey, data); err != nil {
			log.Warn().Err(err).Str("key", structKey).Msg("structured record write failed")
		}
	}

	// Step 7: multi-level embeddings.
	summary, err := p.multiLevel.Generate(ctx, embedding.Document{
		OwnerID: msg.DocumentID,
		Text:    text,
		Metadata: map[string]interface{}{
			"tenant_id":  msg.TenantID,
			"company_id": msg.CompanyID,
			"category":   string(classification.PrimaryCategory),
		},
		KeyFn: func(level string, index int) string {
			return objectstore.DocumentEmbeddingKey(msg.CompanyID, level, msg.DocumentID, index)
		},
	})
	if err != nil {
		return nil, p.fail(ctx, msg, company, idx, fmt.Errorf("embed document: %w", err))
	}

	// Step 8: replace the document's index entries. Deleting first keeps
	// the index free of chunks a re-run no longer produces.
	if err := p.indexDocument(ctx, msg, summary); err != nil {
		return nil, p.fail(ctx, msg, company, idx, err)
	}

	// Step 9: persist the document record.
	processedAt := time.Now().UTC()
	doc.Status = storage.DocumentStatusProcessed
	doc.Category = classification.PrimaryCategory
	doc.ProcessedAt = &processedAt
	doc.ErrorMessage = nil
	if err := p.companies.UpdateDocuments(ctx, msg.TenantID, msg.CompanyID, company.Documents); err != nil {
		return nil, fmt.Errorf("update document record: %w", err)
	}

	// Step 10: the profile embedding now lags the documents; rebuild it.
	if err := p.ReembedProfile(ctx, ReembedMessage{TenantID: msg.TenantID, CompanyID: msg.CompanyID}); err != nil {
		return nil, fmt.Errorf("refresh profile embedding: %w", err)
	}

	result := &DocumentResult{
		DocumentID: msg.DocumentID,
		Category:   classification.PrimaryCategory,
		Confidence: classification.Confidence,
		Band:       classification.Band,
		Embeddings: summary.TotalEmbeddings,
		Duration:   time.Since(started),
	}
	log.Info().
		Str("document_id", msg.DocumentID).
		Str("category", string(result.Category)).
		Float64("confidence", result.Confidence).
		Int("embeddings", result.Embeddings).
		Dur("duration", result.Duration).
		Msg("document processed")
	return result, nil
}

// ReembedProfile rebuilds the aggregate company-profile embedding from the
// current profile fields.
func (p *Processor) ReembedProfile(ctx context.Context, msg ReembedMessage) error {
	company, err := p.companies.GetByID(ctx, msg.TenantID, msg.CompanyID)
	if err != nil {
		return fmt.Errorf("load company: %w", err)
	}

	text := ProfileText(company)
	key := objectstore.ProfileEmbeddingKey(msg.CompanyID)

	// A profile with no text has nothing to match on; drop its vector.
	if strings.TrimSpace(text) == "" {
		if _, err := p.vectorIndex.DeleteByEntity(ctx, storage.VectorEntityCompanyProfile, msg.CompanyID); err != nil {
			return fmt.Errorf("delete profile index: %w", err)
		}
		if err := p.vectors.DeleteByEntity(ctx, storage.VectorEntityCompanyProfile, msg.CompanyID); err != nil {
			return fmt.Errorf("delete profile vector: %w", err)
		}
		return p.companies.UpdateEmbeddingMetadata(ctx, msg.TenantID, msg.CompanyID, nil)
	}

	vec, err := p.embedder.Embed(ctx, text, embedding.RoleDocument)
	if err != nil {
		return fmt.Errorf("embed profile: %w", err)
	}

	record := storage.EmbeddingRecord{
		OwnerID:           msg.CompanyID,
		ContentType:       ContentTypeProfile,
		Vector:            vec,
		SourceTextPreview: previewText(text),
		TokenCount:        embedding.CountWords(text),
		ModelID:           p.embedder.Model(),
		GeneratedAt:       time.Now().UTC(),
		Metadata: map[string]interface{}{
			"tenant_id": msg.TenantID,
		},
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode profile embedding: %w", err)
	}
	if err := p.blobs.Embeddings.Put(ctx, key, data); err != nil {
		return fmt.Errorf("store profile embedding: %w", err)
	}

	entry := &storage.VectorIndexEntry{
		EntityType:   storage.VectorEntityCompanyProfile,
		EntityID:     msg.CompanyID,
		ContentType:  ContentTypeProfile,
		EmbeddingURI: key,
		TenantID:     msg.TenantID,
	}
	if err := p.vectorIndex.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("index profile embedding: %w", err)
	}
	if err := p.vectors.Upsert(ctx, []vector.Entry{{
		Key:         vector.EntryKey(storage.VectorEntityCompanyProfile, msg.CompanyID, ContentTypeProfile),
		EntityType:  storage.VectorEntityCompanyProfile,
		EntityID:    msg.CompanyID,
		ContentType: ContentTypeProfile,
		TenantID:    msg.TenantID,
		Vector:      vec,
	}}); err != nil {
		return fmt.Errorf("upsert profile vector: %w", err)
	}

	meta := &storage.EmbeddingMetadata{SummaryKey: key}
	if err := p.companies.UpdateEmbeddingMetadata(ctx, msg.TenantID, msg.CompanyID, meta); err != nil {
		return fmt.Errorf("update embedding metadata: %w", err)
	}

	p.logger.WithTenant(msg.TenantID).Info().
		Str("company_id", msg.CompanyID).
		Int("token_count", record.TokenCount).
		Msg("profile embedding rebuilt")
	return nil
}

// indexDocument replaces the document's rows in the KV index and the
// similarity index with the freshly generated embeddings.
func (p *Processor) indexDocument(ctx context.Context, msg DocumentMessage, summary *embedding.Summary) error {
	if _, err := p.vectorIndex.DeleteByEntity(ctx, storage.VectorEntityCompanyDocument, msg.DocumentID); err != nil {
		return fmt.Errorf("clear index entries: %w", err)
	}
	if err := p.vectors.DeleteByEntity(ctx, storage.VectorEntityCompanyDocument, msg.DocumentID); err != nil {
		return fmt.Errorf("clear vectors: %w", err)
	}

	var entries []vector.Entry
	for level, keys := range summary.Keys {
		for i, key := range keys {
			vec, ok := p.loadEmbedding(ctx, key)
			if !ok {
				return fmt.Errorf("embedding blob %s unreadable after generation", key)
			}
			contentType := fmt.Sprintf("%s_%d", level, i)
			if err := p.vectorIndex.Upsert(ctx, &storage.VectorIndexEntry{
				EntityType:   storage.VectorEntityCompanyDocument,
				EntityID:     msg.DocumentID,
				ContentType:  contentType,
				EmbeddingURI: key,
				TenantID:     msg.TenantID,
			}); err != nil {
				return fmt.Errorf("index pointer %s: %w", key, err)
			}
			entries = append(entries, vector.Entry{
				Key:         vector.EntryKey(storage.VectorEntityCompanyDocument, msg.DocumentID, contentType),
				EntityType:  storage.VectorEntityCompanyDocument,
				EntityID:    msg.DocumentID,
				ContentType: contentType,
				TenantID:    msg.TenantID,
				Vector:      vec,
			})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	if err := p.vectors.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("similarity index: %w", err)
	}
	return nil
}

func (p *Processor) loadEmbedding(ctx context.Context, key string) ([]float32, bool) {
	data, err := p.blobs.Embeddings.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var record storage.EmbeddingRecord
	if err := json.Unmarshal(data, &record); err != nil || len(record.Vector) == 0 {
		return nil, false
	}
	return record.Vector, true
}

// fail marks the document failed and returns the cause.
func (p *Processor) fail(ctx context.Context, msg DocumentMessage, company *storage.CompanyProfile, idx int, cause error) error {
	doc := &company.Documents[idx]
	message := cause.Error()
	doc.Status = storage.DocumentStatusFailed
	doc.ErrorMessage = &message
	if err := p.companies.UpdateDocuments(ctx, msg.TenantID, msg.CompanyID, company.Documents); err != nil {
		p.logger.WithTenant(msg.TenantID).Error().Err(err).
			Str("document_id", msg.DocumentID).
			Msg("failed to persist document error state")
	}
	p.logger.WithTenant(msg.TenantID).Error().Err(cause).
		Str("company_id", msg.CompanyID).
		Str("document_id", msg.DocumentID).
		Msg("document processing failed")
	return cause
}

// mergeCapability folds extracted capability-statement fields into the
// company profile without clobbering values the tenant set directly.
// Returns true when anything changed.
func mergeCapability(company *storage.CompanyProfile, stmt *CapabilityStatement) bool {
	changed := false

	if company.CapabilityStatement == "" {
		parts := []string{}
		if stmt.Mission != "" {
			parts = append(parts, stmt.Mission)
		}
		if len(stmt.CoreCapabilities) > 0 {
			parts = append(parts, strings.Join(stmt.CoreCapabilities, ". "))
		}
		if len(parts) > 0 {
			company.CapabilityStatement = strings.Join(parts, "\n")
			changed = true
		}
	}

	seen := map[string]bool{}
	for _, c := range company.Certifications {
		seen[strings.ToLower(c)] = true
	}
	for _, c := range stmt.Certifications {
		if !seen[strings.ToLower(c)] {
			seen[strings.ToLower(c)] = true
			company.Certifications = append(company.Certifications, c)
			changed = true
		}
	}

	if len(company.PastPerformance) == 0 && len(stmt.PastPerformance) > 0 {
		company.PastPerformance = stmt.PastPerformance
		changed = true
	}

	return changed
}

// ProfileText composes the text the aggregate profile embedding represents.
func ProfileText(company *storage.CompanyProfile) string {
	var parts []string
	if company.LegalName != "" {
		parts = append(parts, company.LegalName)
	}
	if company.CapabilityStatement != "" {
		parts = append(parts, company.CapabilityStatement)
	}
	if len(company.NAICSCodes) > 0 {
		parts = append(parts, "NAICS: "+strings.Join(company.NAICSCodes, ", "))
	}
	if len(company.Certifications) > 0 {
		parts = append(parts, "Certifications: "+strings.Join(company.Certifications, ", "))
	}
	for _, pp := range company.PastPerformance {
		line := pp.Description
		if pp.Client != "" && line != "" {
			line = pp.Client + ": " + line
		} else if pp.Client != "" {
			line = pp.Client
		}
		if line != "" {
			parts = append(parts, line)
		}
	}
	for _, loc := range company.Locations {
		if loc.City != "" && loc.State != "" {
			parts = append(parts, loc.City+", "+loc.State)
		}
	}
	return strings.Join(parts, "\n")
}

func previewText(text string) string {
	const max = 200
	if len(text) <= max {
		return text
	}
	return text[:max]
}
