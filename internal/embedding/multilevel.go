package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/govmatch-ai/govmatch/internal/chunk"
	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Embedding levels. Level names double as the content_type of the records
// they produce.
const (
	LevelSummary   = "summary"
	LevelSection   = "section"
	LevelChunk     = "chunk"
	LevelParagraph = "paragraph"
)

const (
	// maxParagraphs caps how many key paragraphs are embedded per document.
	maxParagraphs = 10
	// minParagraphWords is the smallest paragraph worth its own embedding.
	minParagraphWords = 20
	// minSectionWords is the smallest section body worth its own embedding.
	minSectionWords = 10
	// maxHeaderLen bounds how long a line can be and still read as a header.
	maxHeaderLen = 100
	// previewLen bounds the source text preview stored with each record.
	previewLen = 200
)

// Summarizer condenses a document that exceeds the embedding ceiling.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Document is one text to embed at multiple levels.
type Document struct {
	OwnerID  string
	Text     string
	Metadata map[string]interface{}
	// KeyFn builds the deterministic object-store key of one embedding, so
	// re-runs replace blobs in place.
	KeyFn func(level string, index int) string
}

// Summary aggregates what one multi-level run produced.
type Summary struct {
	TotalEmbeddings       int                 `json:"total_embeddings"`
	LevelsCreated         []string            `json:"levels_created"`
	EmbeddingDistribution map[string]int      `json:"embedding_distribution"`
	Keys                  map[string][]string `json:"keys"`
}

// MultiLevel generates summary, section, chunk, and paragraph embeddings for
// one document and writes each as an Embedding Record blob.
type MultiLevel struct {
	embedder   Embedder
	summarizer Summarizer
	chunker    *chunk.Chunker
	store      objectstore.Store
	maxWords   int
	logger     *observability.Logger
}

// NewMultiLevel creates a multi-level embedding generator. The store should
// be the embeddings bucket.
func NewMultiLevel(embedder Embedder, summarizer Summarizer, chunker *chunk.Chunker, store objectstore.Store, maxWords int, logger *observability.Logger) *MultiLevel {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &MultiLevel{
		embedder:   embedder,
		summarizer: summarizer,
		chunker:    chunker,
		store:      store,
		maxWords:   maxWords,
		logger:     logger,
	}
}

// levelOutput is what one level contributes to the aggregate.
type levelOutput struct {
	level string
	keys  []string
}

// Generate embeds the document at every level and returns the aggregate
// summary. Level fan-out is parallel; a failing level fails the run.
func (m *MultiLevel) Generate(ctx context.Context, doc Document) (*Summary, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("document %s has no text to embed", doc.OwnerID)
	}
	if doc.KeyFn == nil {
		return nil, fmt.Errorf("document %s has no key builder", doc.OwnerID)
	}

	outputs := make([]levelOutput, 4)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		keys, err := m.embedFullDocument(gctx, doc)
		if err != nil {
			return fmt.Errorf("level %s: %w", LevelSummary, err)
		}
		outputs[0] = levelOutput{LevelSummary, keys}
		return nil
	})
	g.Go(func() error {
		keys, err := m.embedSections(gctx, doc)
		if err != nil {
			return fmt.Errorf("level %s: %w", LevelSection, err)
		}
		outputs[1] = levelOutput{LevelSection, keys}
		return nil
	})
	g.Go(func() error {
		keys, err := m.embedChunks(gctx, doc)
		if err != nil {
			return fmt.Errorf("level %s: %w", LevelChunk, err)
		}
		outputs[2] = levelOutput{LevelChunk, keys}
		return nil
	})
	g.Go(func() error {
		keys, err := m.embedParagraphs(gctx, doc)
		if err != nil {
			return fmt.Errorf("level %s: %w", LevelParagraph, err)
		}
		outputs[3] = levelOutput{LevelParagraph, keys}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{
		EmbeddingDistribution: make(map[string]int),
		Keys:                  make(map[string][]string),
	}
	for _, out := range outputs {
		if len(out.keys) == 0 {
			continue
		}
		summary.TotalEmbeddings += len(out.keys)
		summary.LevelsCreated = append(summary.LevelsCreated, out.level)
		summary.EmbeddingDistribution[out.level] = len(out.keys)
		summary.Keys[out.level] = out.keys
	}

	m.logger.Info().
		Str("owner_id", doc.OwnerID).
		Int("total_embeddings", summary.TotalEmbeddings).
		Strs("levels", summary.LevelsCreated).
		Msg("Multi-level embeddings generated")

	return summary, nil
}

// embedFullDocument produces the single document-level embedding. Documents
// over the ceiling are first condensed to a 2-3 paragraph summary; if the
// summarizer is unavailable the raw text goes through (the embedder truncates).
func (m *MultiLevel) embedFullDocument(ctx context.Context, doc Document) ([]string, error) {
	text := doc.Text
	if CountWords(text) > m.maxWords && m.summarizer != nil {
		condensed, err := m.summarizer.Summarize(ctx, text)
		if err != nil {
			m.logger.Warn().
				Str("owner_id", doc.OwnerID).
				Err(err).
				Msg("Summary generation failed, embedding truncated document")
		} else if strings.TrimSpace(condensed) != "" {
			text = condensed
		}
	}

	key := doc.KeyFn(LevelSummary, 0)
	if err := m.embedAndStore(ctx, doc, LevelSummary, 0, text, key); err != nil {
		return nil, err
	}
	return []string{key}, nil
}

// embedSections detects headed sections and embeds each qualifying body.
func (m *MultiLevel) embedSections(ctx context.Context, doc Document) ([]string, error) {
	sections := SplitSections(doc.Text)

	var keys []string
	for i, sec := range sections {
		text := sec.Title + "\n" + sec.Body
		key := doc.KeyFn(LevelSection, i)
		if err := m.embedAndStore(ctx, doc, LevelSection, i, text, key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// embedChunks embeds the document's semantic chunks.
func (m *MultiLevel) embedChunks(ctx context.Context, doc Document) ([]string, error) {
	chunks := m.chunker.Split(doc.Text, chunk.StrategySemantic)

	var keys []string
	for _, c := range chunks {
		key := doc.KeyFn(LevelChunk, c.Index)
		if err := m.embedAndStore(ctx, doc, LevelChunk, c.Index, c.Text, key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// embedParagraphs embeds the top paragraphs by word count.
func (m *MultiLevel) embedParagraphs(ctx context.Context, doc Document) ([]string, error) {
	paragraphs := KeyParagraphs(doc.Text)

	var keys []string
	for i, p := range paragraphs {
		key := doc.KeyFn(LevelParagraph, i)
		if err := m.embedAndStore(ctx, doc, LevelParagraph, i, p, key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// embedAndStore embeds one text and writes its Embedding Record.
func (m *MultiLevel) embedAndStore(ctx context.Context, doc Document, level string, index int, text, key string) error {
	vector, err := m.embedder.Embed(ctx, text, RoleDocument)
	if err != nil {
		return fmt.Errorf("embed %s[%d]: %w", level, index, err)
	}

	metadata := make(map[string]interface{}, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	metadata["level"] = level
	metadata["index"] = index

	record := storage.EmbeddingRecord{
		OwnerID:           doc.OwnerID,
		ContentType:       level,
		Vector:            vector,
		SourceTextPreview: preview(text),
		TokenCount:        CountWords(text),
		ModelID:           m.embedder.Model(),
		GeneratedAt:       time.Now().UTC(),
		Metadata:          metadata,
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", key, err)
	}

	if err := m.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("store record %s: %w", key, err)
	}

	return nil
}

// Section is a headed region of a document.
type Section struct {
	Title string
	Body  string
}

var (
	allCapsHeader  = regexp.MustCompile(`^[A-Z][^a-z]*$`)
	romanHeader    = regexp.MustCompile(`^[IVX]+\.`)
	numberedHeader = regexp.MustCompile(`^\d+\.`)
)

// isSectionHeader reports whether a line looks like a section heading: short,
// and either all-caps, roman-numbered, or decimal-numbered.
func isSectionHeader(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || len(line) >= maxHeaderLen {
		return false
	}
	return allCapsHeader.MatchString(line) ||
		romanHeader.MatchString(line) ||
		numberedHeader.MatchString(line)
}

// SplitSections walks the document line by line, starting a new section at
// each heading. Sections with bodies under the word floor are dropped.
func SplitSections(text string) []Section {
	var (
		sections []Section
		title    string
		body     []string
	)

	flush := func() {
		if title == "" {
			return
		}
		joined := strings.TrimSpace(strings.Join(body, "\n"))
		if len(strings.Fields(joined)) >= minSectionWords {
			sections = append(sections, Section{Title: title, Body: joined})
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if isSectionHeader(line) {
			flush()
			title = strings.TrimSpace(line)
			body = body[:0]
			continue
		}
		if title != "" {
			body = append(body, line)
		}
	}
	flush()

	return sections
}

// KeyParagraphs returns the top paragraphs by word count: split on blank
// lines, keep those with at least 20 words, take the 10 largest. Order is
// deterministic (word count desc, document position as tie-break).
func KeyParagraphs(text string) []string {
	type ranked struct {
		text     string
		words    int
		position int
	}

	var candidates []ranked
	for pos, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		words := len(strings.Fields(p))
		if words >= minParagraphWords {
			candidates = append(candidates, ranked{p, words, pos})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].words != candidates[j].words {
			return candidates[i].words > candidates[j].words
		}
		return candidates[i].position < candidates[j].position
	})

	if len(candidates) > maxParagraphs {
		candidates = candidates[:maxParagraphs]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.text
	}
	return out
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen]
}
