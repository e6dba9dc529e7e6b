package opportunity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/chunk"
	"github.com/govmatch-ai/govmatch/internal/embedding"
	"github.com/govmatch-ai/govmatch/internal/extract"
	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
	"github.com/govmatch-ai/govmatch/internal/vector"
)

// Sentinel errors surfaced by the processor.
var (
	ErrMissingRequiredFields = errors.New("missing required fields")
	ErrAttachmentTooLarge    = errors.New("attachment exceeds size limit")
)

// AttachmentFetcher retrieves attachment blobs from the source system.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, att storage.AttachmentInfo) ([]byte, error)
}

// HTTPAttachmentFetcher downloads attachments over HTTPS with a size cap.
type HTTPAttachmentFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPAttachmentFetcher creates a fetcher. maxBytes <= 0 defaults to 50 MiB.
func NewHTTPAttachmentFetcher(client *http.Client, maxBytes int64) *HTTPAttachmentFetcher {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if maxBytes <= 0 {
		maxBytes = 50 * 1024 * 1024
	}
	return &HTTPAttachmentFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads one attachment, rejecting oversized bodies.
func (f *HTTPAttachmentFetcher) Fetch(ctx context.Context, att storage.AttachmentInfo) ([]byte, error) {
	if att.URL == "" {
		return nil, fmt.Errorf("attachment %s has no URL", att.AttachmentID)
	}
	if att.SizeBytes > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrAttachmentTooLarge, att.SizeBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", att.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: body over %d bytes", ErrAttachmentTooLarge, f.maxBytes)
	}
	return body, nil
}

var _ AttachmentFetcher = (*HTTPAttachmentFetcher)(nil)

// ProcessorConfig carries the processor's dependencies.
type ProcessorConfig struct {
	Opportunities *storage.OpportunityRepository
	VectorIndex   *storage.VectorIndexRepository
	Vectors       vector.Adapter
	Embedder      embedding.Embedder
	Extractor     *extract.Extractor
	Chunker       *chunk.Chunker
	Blobs         *objectstore.Buckets
	Fetcher       AttachmentFetcher
	Logger        *observability.Logger
}

// Processor runs the opportunity ingestion pipeline. Every step is
// idempotent: embedding keys are deterministic, KV writes are upserts.
type Processor struct {
	opportunities *storage.OpportunityRepository
	vectorIndex   *storage.VectorIndexRepository
	vectors       vector.Adapter
	embedder      embedding.Embedder
	extractor     *extract.Extractor
	chunker       *chunk.Chunker
	blobs         *objectstore.Buckets
	fetcher       AttachmentFetcher
	logger        *observability.Logger
}

// NewProcessor creates a processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.NewChunker(chunk.DefaultChunkSize, chunk.DefaultChunkOverlap)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Processor{
		opportunities: cfg.Opportunities,
		vectorIndex:   cfg.VectorIndex,
		vectors:       cfg.Vectors,
		embedder:      cfg.Embedder,
		extractor:     cfg.Extractor,
		chunker:       cfg.Chunker,
		blobs:         cfg.Blobs,
		fetcher:       cfg.Fetcher,
		logger:        cfg.Logger,
	}
}

// Result summarizes one processing run.
type Result struct {
	NoticeID         string                   `json:"notice_id"`
	Status           storage.ProcessingStatus `json:"status"`
	SegmentsEmbedded []string                 `json:"segments_embedded,omitempty"`
	SegmentsSkipped  []string                 `json:"segments_skipped,omitempty"`
	AttachmentChunks int                      `json:"attachment_chunks"`
	Errors           []string                 `json:"errors,omitempty"`
	Duration         time.Duration            `json:"duration"`
}

// pendingEntry pairs the KV pointer row with the vector destined for the
// similarity index, collected during embedding and flushed in one pass.
type pendingEntry struct {
	index storage.VectorIndexEntry
	vec   []float32
}

// Process runs the nine-step ingestion pipeline for one notice.
func (p *Processor) Process(ctx context.Context, opp *storage.Opportunity) (*Result, error) {
	started := time.Now()
	result := &Result{NoticeID: opp.NoticeID, Status: storage.ProcessingStatusPending}
	log := p.logger.WithNotice(opp.NoticeID)

	// Step 1: short-circuit when a non-error record already exists.
	if opp.NoticeID != "" {
		existing, err := p.opportunities.GetByNoticeID(ctx, opp.NoticeID)
		switch {
		case err == nil && existing.ProcessingStatus != storage.ProcessingStatusError:
			result.Status = storage.ProcessingStatusAlreadyExists
			result.Duration = time.Since(started)
			log.Info().Str("status", string(existing.ProcessingStatus)).Msg("Opportunity already ingested")
			return result, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("lookup notice %s: %w", opp.NoticeID, err)
		}
	}

	// Step 2: validate required fields.
	if missing := missingRequired(opp); len(missing) > 0 {
		msg := "missing required fields: " + strings.Join(missing, ", ")
		p.persistError(ctx, opp, msg)
		result.Status = storage.ProcessingStatusError
		result.Errors = append(result.Errors, msg)
		result.Duration = time.Since(started)
		return result, fmt.Errorf("%w: %s", ErrMissingRequiredFields, strings.Join(missing, ", "))
	}

	// Step 3: normalize fields and derive lifecycle status.
	Normalize(opp)
	ApplyStatus(opp, time.Now())

	// Step 4: compose text segments.
	segments := Segments(opp)

	// Step 5: embed each segment at its deterministic key, skipping keys
	// that already exist.
	meta := &storage.EmbeddingMetadata{SegmentKeys: map[string]string{}}
	var pending []pendingEntry
	for _, seg := range segments {
		if len(seg.Text) < minSegmentChars {
			continue
		}
		key := objectstore.OpportunitySegmentKey(opp.PostedDate, opp.NoticeID, seg.Name)

		exists, err := p.blobs.Embeddings.Exists(ctx, key)
		if err != nil {
			return p.fail(ctx, opp, result, started, fmt.Errorf("check segment %s: %w", seg.Name, err))
		}
		if exists {
			// Re-index the stored vector so a run that died between
			// embedding and indexing heals here. A corrupt blob falls
			// through to a fresh embed.
			if vec, ok := p.loadEmbedding(ctx, key); ok {
				meta.SegmentKeys[seg.Name] = key
				result.SegmentsSkipped = append(result.SegmentsSkipped, seg.Name)
				pending = append(pending, p.indexEntry(opp, seg.Name, key, vec))
				continue
			}
		}

		vec, err := p.embedder.Embed(ctx, seg.Text, embedding.RoleDocument)
		if err != nil {
			return p.fail(ctx, opp, result, started, fmt.Errorf("embed segment %s: %w", seg.Name, err))
		}
		if err := p.writeEmbedding(ctx, key, opp, seg.Name, seg.Text, vec); err != nil {
			return p.fail(ctx, opp, result, started, fmt.Errorf("store segment %s: %w", seg.Name, err))
		}

		meta.SegmentKeys[seg.Name] = key
		result.SegmentsEmbedded = append(result.SegmentsEmbedded, seg.Name)
		pending = append(pending, p.indexEntry(opp, seg.Name, key, vec))
	}

	// Step 6: fetch, extract, chunk, and embed attachments.
	for _, att := range opp.Attachments {
		chunks, entries, err := p.processAttachment(ctx, opp, att, meta)
		if err != nil {
			return p.fail(ctx, opp, result, started, fmt.Errorf("attachment %s: %w", att.AttachmentID, err))
		}
		result.AttachmentChunks += chunks
		pending = append(pending, entries...)
	}

	// Step 7: upsert the KV record with embedding metadata.
	opp.EmbeddingMetadata = meta
	opp.ProcessingStatus = storage.ProcessingStatusCompleted
	opp.ErrorMessage = nil
	if err := p.opportunities.Upsert(ctx, opp); err != nil {
		return p.fail(ctx, opp, result, started, fmt.Errorf("upsert notice: %w", err))
	}

	// Step 8: upsert vector index pointers and similarity-index vectors.
	if err := p.flushIndex(ctx, pending); err != nil {
		return p.fail(ctx, opp, result, started, fmt.Errorf("index embeddings: %w", err))
	}

	result.Status = storage.ProcessingStatusCompleted
	result.Duration = time.Since(started)
	log.Info().
		Int("segments_embedded", len(result.SegmentsEmbedded)).
		Int("segments_skipped", len(result.SegmentsSkipped)).
		Int("attachment_chunks", result.AttachmentChunks).
		Dur("duration", result.Duration).
		Msg("Opportunity processed")
	return result, nil
}

// fail is step 9: persist a minimal error record and surface the failure.
func (p *Processor) fail(ctx context.Context, opp *storage.Opportunity, result *Result, started time.Time, err error) (*Result, error) {
	p.persistError(ctx, opp, err.Error())
	result.Status = storage.ProcessingStatusError
	result.Errors = append(result.Errors, err.Error())
	result.Duration = time.Since(started)
	p.logger.WithNotice(opp.NoticeID).Error().Err(err).Msg("Opportunity processing failed")
	return result, err
}

func missingRequired(opp *storage.Opportunity) []string {
	var missing []string
	if strings.TrimSpace(opp.NoticeID) == "" {
		missing = append(missing, "notice_id")
	}
	if strings.TrimSpace(opp.Title) == "" {
		missing = append(missing, "title")
	}
	if opp.PostedDate.IsZero() {
		missing = append(missing, "posted_date")
	}
	return missing
}

// persistError records the failure on the notice. When no row exists yet a
// minimal one is created so the error is visible and retryable.
func (p *Processor) persistError(ctx context.Context, opp *storage.Opportunity, message string) {
	if strings.TrimSpace(opp.NoticeID) == "" {
		return
	}

	err := p.opportunities.MarkError(ctx, opp.NoticeID, message, opp.RetryCount+1)
	if errors.Is(err, storage.ErrNotFound) {
		minimal := &storage.Opportunity{
			NoticeID:         opp.NoticeID,
			Title:            opp.Title,
			PostedDate:       opp.PostedDate,
			ProcessingStatus: storage.ProcessingStatusError,
			ErrorMessage:     &message,
			RetryCount:       1,
		}
		if minimal.PostedDate.IsZero() {
			minimal.PostedDate = time.Now().UTC()
		}
		err = p.opportunities.Upsert(ctx, minimal)
	}
	if err != nil {
		p.logger.WithNotice(opp.NoticeID).Error().Err(err).Msg("Failed to persist error record")
	}
}

// processAttachment runs fetch -> extract -> chunk -> embed for one
// attachment. Cleaned text is cached so re-runs skip extraction, and chunk
// keys that already exist are not re-embedded.
func (p *Processor) processAttachment(ctx context.Context, opp *storage.Opportunity, att storage.AttachmentInfo, meta *storage.EmbeddingMetadata) (int, []pendingEntry, error) {
	log := p.logger.WithNotice(opp.NoticeID)
	textKey := objectstore.AttachmentTextKey(opp.PostedDate, opp.NoticeID, att.AttachmentID)

	var text string
	cached, err := p.blobs.ProcessedDocuments.Get(ctx, textKey)
	switch {
	case err == nil:
		text = string(cached)
	case errors.Is(err, objectstore.ErrNotFound):
		blob, err := p.fetcher.Fetch(ctx, att)
		if err != nil {
			return 0, nil, fmt.Errorf("fetch: %w", err)
		}

		extracted := p.extractor.Extract(ctx, blob, att.Filename)
		if !extracted.Success {
			return 0, nil, fmt.Errorf("extract: %s", extracted.Error)
		}
		text = extracted.FullText

		if err := p.blobs.ProcessedDocuments.Put(ctx, textKey, []byte(text)); err != nil {
			return 0, nil, fmt.Errorf("cache text: %w", err)
		}
	default:
		return 0, nil, fmt.Errorf("read cached text: %w", err)
	}

	chunks := p.chunker.Split(text, chunk.StrategySemantic)
	if len(chunks) == 0 {
		log.Warn().Str("attachment_id", att.AttachmentID).Msg("Attachment produced no chunks")
		return 0, nil, nil
	}

	var pending []pendingEntry
	embedded := 0
	for _, c := range chunks {
		key := objectstore.AttachmentChunkKey(opp.PostedDate, opp.NoticeID, att.AttachmentID, c.Index)

		exists, err := p.blobs.Embeddings.Exists(ctx, key)
		if err != nil {
			return embedded, nil, fmt.Errorf("check chunk %d: %w", c.Index, err)
		}
		if exists {
			if vec, ok := p.loadEmbedding(ctx, key); ok {
				meta.ChunkKeys = appendUnique(meta.ChunkKeys, key)
				pending = append(pending, p.indexEntry(opp, fmt.Sprintf("chunk_%s_%d", att.AttachmentID, c.Index), key, vec))
				continue
			}
		}

		vec, err := p.embedder.Embed(ctx, c.Text, embedding.RoleDocument)
		if err != nil {
			return embedded, nil, fmt.Errorf("embed chunk %d: %w", c.Index, err)
		}
		if err := p.writeEmbedding(ctx, key, opp, "chunk", c.Text, vec); err != nil {
			return embedded, nil, fmt.Errorf("store chunk %d: %w", c.Index, err)
		}

		meta.ChunkKeys = appendUnique(meta.ChunkKeys, key)
		// Index rows are keyed by content type, so chunks carry their
		// attachment and position to stay unique per notice.
		pending = append(pending, p.indexEntry(opp, fmt.Sprintf("chunk_%s_%d", att.AttachmentID, c.Index), key, vec))
		embedded++
	}

	return embedded, pending, nil
}

// loadEmbedding reads a stored embedding record back for re-indexing.
// ok is false when the blob is missing or unreadable.
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

// writeEmbedding serializes one embedding record to the embeddings bucket.
func (p *Processor) writeEmbedding(ctx context.Context, key string, opp *storage.Opportunity, contentType, text string, vec []float32) error {
	record := storage.EmbeddingRecord{
		OwnerID:           opp.NoticeID,
		ContentType:       contentType,
		Vector:            vec,
		SourceTextPreview: preview(text),
		TokenCount:        embedding.CountWords(text),
		ModelID:           p.embedder.Model(),
		GeneratedAt:       time.Now().UTC(),
		Metadata: map[string]interface{}{
			"naics":       opp.NAICSCode,
			"agency":      opp.Agency,
			"state":       stateOf(opp),
			"posted_date": opp.PostedDate.Format("2006-01-02"),
		},
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return p.blobs.Embeddings.Put(ctx, key, data)
}

// indexEntry builds the paired KV pointer and similarity-index vector for
// one stored embedding.
func (p *Processor) indexEntry(opp *storage.Opportunity, contentType, key string, vec []float32) pendingEntry {
	posted := opp.PostedDate
	return pendingEntry{
		index: storage.VectorIndexEntry{
			EntityType:   storage.VectorEntityOpportunity,
			EntityID:     opp.NoticeID,
			ContentType:  contentType,
			EmbeddingURI: key,
			NAICSCode:    opp.NAICSCode,
			Agency:       opp.Agency,
			State:        stateOf(opp),
			PostedDate:   &posted,
			ArchiveDate:  opp.ArchiveDate,
		},
		vec: vec,
	}
}

// flushIndex upserts collected pointers into the KV index and vectors into
// the similarity index.
func (p *Processor) flushIndex(ctx context.Context, pending []pendingEntry) error {
	if len(pending) == 0 {
		return nil
	}

	entries := make([]vector.Entry, 0, len(pending))
	for i := range pending {
		e := &pending[i]
		if p.vectorIndex != nil {
			if err := p.vectorIndex.Upsert(ctx, &e.index); err != nil {
				return fmt.Errorf("index pointer %s: %w", e.index.EmbeddingURI, err)
			}
		}
		entries = append(entries, vector.Entry{
			Key:         vector.EntryKey(e.index.EntityType, e.index.EntityID, e.index.ContentType),
			EntityType:  e.index.EntityType,
			EntityID:    e.index.EntityID,
			ContentType: e.index.ContentType,
			NAICSCode:   e.index.NAICSCode,
			Agency:      e.index.Agency,
			State:       e.index.State,
			PostedDate:  e.index.PostedDate,
			Vector:      e.vec,
		})
	}

	if p.vectors != nil {
		if err := p.vectors.Upsert(ctx, entries); err != nil {
			return fmt.Errorf("similarity index: %w", err)
		}
	}
	return nil
}

func stateOf(opp *storage.Opportunity) string {
	if opp.PlaceOfPerformance == nil {
		return ""
	}
	return opp.PlaceOfPerformance.State
}

const previewLimit = 200

func preview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	return text[:previewLimit]
}

func appendUnique(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}
