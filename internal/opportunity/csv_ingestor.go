package opportunity

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/extract"
	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/queue"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

const (
	// defaultMaxCSVBytes bounds the daily download; the full SAM.gov
	// extract runs a few hundred MiB.
	defaultMaxCSVBytes = 512 << 20

	// rowsPerBatch caps how many opportunities ride in one queue message.
	rowsPerBatch = 10
)

// RowBatch is the body of one message on the opportunity-batches queue:
// up to ten transformed rows from a single ingestion run.
type RowBatch struct {
	Opportunities []storage.Opportunity `json:"opportunities"`
	Source        string                `json:"source,omitempty"`
	IngestedAt    time.Time             `json:"ingested_at"`
}

// dedupKey hashes the row content only. IngestedAt stays out of the hash so
// re-running an unchanged feed drops every batch as a duplicate.
func (b *RowBatch) dedupKey() string {
	payload, _ := json.Marshal(b.Opportunities)
	return fmt.Sprintf("sha256:%x", sha256.Sum256(payload))
}

// IngestorConfig wires an Ingestor. SourceURL and Queue are required.
type IngestorConfig struct {
	// SourceURL is the public HTTPS endpoint serving the daily CSV.
	SourceURL string
	// HTTPClient overrides the default five-minute-timeout client.
	HTTPClient *http.Client
	// Queue receives RowBatch messages on QueueOpportunityBatches.
	Queue queue.Queue
	// Blobs, when set, archives each day's raw CSV to raw-documents so a
	// bad run can be replayed.
	Blobs *objectstore.Buckets
	// MaxBytes caps the download size. Defaults to 512 MiB.
	MaxBytes int64
	// AllowHTTP permits plain-http sources. Test hook; production feeds
	// are HTTPS only.
	AllowHTTP bool
	Logger    *observability.Logger
}

// Ingestor downloads the daily opportunity CSV, transforms its rows to the
// opportunity schema, and fans them out to the processing queue in small
// content-hashed batches.
type Ingestor struct {
	cfg IngestorConfig
	log *observability.Logger
}

// NewIngestor builds an Ingestor, applying defaults for optional fields.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxCSVBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Ingestor{cfg: cfg, log: cfg.Logger}
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	RowsParsed     int           `json:"rows_parsed"`
	RowsQueued     int           `json:"rows_queued"`
	RowsDiscarded  int           `json:"rows_discarded"`
	ParseErrors    int           `json:"parse_errors"`
	BatchesSent    int           `json:"batches_sent"`
	BatchesDeduped int           `json:"batches_deduped"`
	Encoding       string        `json:"encoding"`
	Duration       time.Duration `json:"duration"`
}

// Run executes one ingestion pass: download, decode, parse, transform,
// enqueue. Malformed rows are counted and skipped; rows without a NoticeId
// are discarded. Only download, decode, or queue failures abort the run.
func (ing *Ingestor) Run(ctx context.Context) (*IngestResult, error) {
	start := time.Now()
	result := &IngestResult{}

	// Step 1: bounded download.
	blob, err := ing.download(ctx)
	if err != nil {
		return nil, fmt.Errorf("download csv: %w", err)
	}

	// Step 2: archive the raw bytes. Best effort; ingestion proceeds on
	// archive failure.
	if ing.cfg.Blobs != nil {
		key := objectstore.DailyCSVKey(start)
		if err := ing.cfg.Blobs.RawDocuments.Put(ctx, key, blob); err != nil {
			ing.log.Warn().Err(err).Str("key", key).Msg("raw csv archive failed")
		}
	}

	// Step 3: decode. The feed has shipped Windows-1252 before.
	text, encoding := extract.DecodeText(blob)
	result.Encoding = encoding

	// Step 4: parse, tolerating malformed rows.
	rows, parseErrors := parseRows(text)
	result.ParseErrors = parseErrors
	if len(rows) < 2 {
		return nil, fmt.Errorf("csv has no data rows")
	}

	// Step 5: map the header, then transform and batch the rows.
	header := newHeaderIndex(rows[0])
	if !header.has("noticeid") {
		return nil, fmt.Errorf("csv header has no NoticeId column")
	}

	var batch []storage.Opportunity
	for _, row := range rows[1:] {
		result.RowsParsed++
		opp, ok := transformRow(header, row)
		if !ok {
			result.RowsDiscarded++
			continue
		}
		batch = append(batch, opp)
		if len(batch) == rowsPerBatch {
			if err := ing.sendBatch(ctx, batch, result); err != nil {
				return result, err
			}
			batch = nil
		}
	}
	if len(batch) > 0 {
		if err := ing.sendBatch(ctx, batch, result); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(start)
	ing.log.Info().
		Str("source", ing.cfg.SourceURL).
		Str("encoding", encoding).
		Int("rows", result.RowsParsed).
		Int("queued", result.RowsQueued).
		Int("discarded", result.RowsDiscarded).
		Int("parse_errors", result.ParseErrors).
		Int("batches", result.BatchesSent).
		Int("deduped", result.BatchesDeduped).
		Dur("duration", result.Duration).
		Msg("csv ingestion complete")
	return result, nil
}

func (ing *Ingestor) download(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(ing.cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "https" && !ing.cfg.AllowHTTP {
		return nil, fmt.Errorf("source url must be https, got %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ing.cfg.SourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ing.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > ing.cfg.MaxBytes {
		return nil, fmt.Errorf("csv is %d bytes, limit is %d", resp.ContentLength, ing.cfg.MaxBytes)
	}
	blob, err := io.ReadAll(io.LimitReader(resp.Body, ing.cfg.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(blob)) > ing.cfg.MaxBytes {
		return nil, fmt.Errorf("csv exceeds %d byte limit", ing.cfg.MaxBytes)
	}
	return blob, nil
}

func (ing *Ingestor) sendBatch(ctx context.Context, opps []storage.Opportunity, result *IngestResult) error {
	batch := RowBatch{
		Opportunities: opps,
		Source:        ing.cfg.SourceURL,
		IngestedAt:    time.Now().UTC(),
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	sent, err := ing.cfg.Queue.SendUnique(ctx, queue.QueueOpportunityBatches, batch.dedupKey(), body)
	if err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	if sent {
		result.BatchesSent++
		result.RowsQueued += len(opps)
	} else {
		result.BatchesDeduped++
	}
	return nil
}

// parseRows reads the document with a strict quote-aware reader first. When
// that fails midstream (an unterminated quote poisons everything after it),
// it reparses line by line so one mangled row cannot take down the feed.
func parseRows(text string) ([][]string, int) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			return rows, 0
		}
		if err != nil {
			return parseRowsByLine(text)
		}
		rows = append(rows, record)
	}
}

// parseRowsByLine salvages what it can: each line parses independently, and
// malformed lines (including fragments of quoted fields that spanned lines)
// are counted and skipped.
func parseRowsByLine(text string) ([][]string, int) {
	var rows [][]string
	errorCount := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		r := csv.NewReader(strings.NewReader(line))
		r.FieldsPerRecord = -1
		record, err := r.Read()
		if err != nil {
			errorCount++
			continue
		}
		rows = append(rows, record)
	}
	return rows, errorCount
}

// headerIndex maps normalized column names to positions. The feed's header
// spellings wobble across exports (Sol#, ResponseDeadLine,
// Department/Ind.Agency), so names are lowercased and stripped to
// alphanumerics before lookup.
type headerIndex map[string]int

func newHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

func normalizeHeader(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (h headerIndex) has(key string) bool {
	_, ok := h[key]
	return ok
}

// value returns the first non-empty cell among the candidate column names.
func (h headerIndex) value(row []string, keys ...string) string {
	for _, key := range keys {
		if i, ok := h[key]; ok && i < len(row) {
			if v := strings.TrimSpace(row[i]); v != "" {
				return v
			}
		}
	}
	return ""
}

// transformRow maps one CSV row onto the opportunity schema. Rows without a
// NoticeId are unusable and dropped; everything else is carried as-is for
// the processor to validate. Status derivation is left to the processor so
// identical feed content always hashes identically.
func transformRow(h headerIndex, row []string) (storage.Opportunity, bool) {
	noticeID := h.value(row, "noticeid")
	if noticeID == "" {
		return storage.Opportunity{}, false
	}

	opp := storage.Opportunity{
		NoticeID:           noticeID,
		Title:              h.value(row, "title"),
		SolicitationNumber: h.value(row, "sol", "solicitationnumber"),
		Department:         h.value(row, "departmentindagency", "department"),
		Agency:             h.value(row, "subtier", "agency"),
		Office:             h.value(row, "office"),
		NoticeType:         h.value(row, "type", "noticetype"),
		NAICSCode:          h.value(row, "naicscode"),
		SetAsideCode:       h.value(row, "setasidecode"),
		SetAside:           h.value(row, "setaside"),
		Description:        h.value(row, "description"),
		ProcessingStatus:   storage.ProcessingStatusPending,
	}

	if ts, err := ParseDate(h.value(row, "posteddate")); err == nil && ts != nil {
		opp.PostedDate = *ts
	}
	if ts, err := ParseDate(h.value(row, "responsedeadline")); err == nil {
		opp.ResponseDeadline = ts
	}
	if ts, err := ParseDate(h.value(row, "archivedate")); err == nil {
		opp.ArchiveDate = ts
	}

	loc := storage.Location{
		Address: h.value(row, "popstreetaddress"),
		City:    h.value(row, "popcity"),
		State:   h.value(row, "popstate"),
		Zip:     h.value(row, "popzip"),
		Country: h.value(row, "popcountry"),
	}
	if loc != (storage.Location{}) {
		opp.PlaceOfPerformance = &loc
	}

	if h.value(row, "awardnumber") != "" || h.value(row, "awardee") != "" {
		award := storage.AwardInfo{
			Number:  h.value(row, "awardnumber"),
			Amount:  ParseCurrency(h.value(row, "award", "awardamount")),
			Awardee: h.value(row, "awardee"),
		}
		if ts, err := ParseDate(h.value(row, "awarddate")); err == nil {
			award.Date = ts
		}
		opp.Award = &award
	}

	opp.PrimaryContact = contactFrom(h, row, "primarycontact")
	opp.SecondaryContact = contactFrom(h, row, "secondarycontact")

	// Absent an Active column the row is live; the processor derives the
	// final status from the dates either way.
	if active := h.value(row, "active"); active != "" {
		opp.Active = ParseBool(active)
	} else {
		opp.Active = true
	}
	return opp, true
}

func contactFrom(h headerIndex, row []string, prefix string) *storage.Contact {
	c := storage.Contact{
		Name:  h.value(row, prefix+"fullname", prefix+"name"),
		Email: h.value(row, prefix+"email"),
		Phone: h.value(row, prefix+"phone"),
	}
	if c == (storage.Contact{}) {
		return nil
	}
	return &c
}
