// Package extract turns uploaded blobs into cleaned text for chunking and
// embedding. Extraction never fails the caller: a bad document yields a
// Result with Success=false so batch processing can record and move on.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
	"github.com/govmatch-ai/govmatch/internal/observability"
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatDOC     Format = "doc"
	FormatXLSX    Format = "xlsx"
	FormatXLS     Format = "xls"
	FormatCSV     Format = "csv"
	FormatHTML    Format = "html"
	FormatText    Format = "text"
	FormatImage   Format = "image"
	FormatUnknown Format = "unknown"
)

// BlockKind classifies one structural element of a document.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockListItem  BlockKind = "list_item"
	BlockTable     BlockKind = "table"
)

// Block is one ordered structural element.
type Block struct {
	Kind  BlockKind `json:"kind"`
	Text  string    `json:"text"`
	Style string    `json:"style,omitempty"`
}

// Table is one extracted table with empty rows filtered out.
type Table struct {
	Name string     `json:"name,omitempty"`
	Rows [][]string `json:"rows"`
}

// Result is the extraction outcome for one document.
type Result struct {
	Success   bool              `json:"success"`
	FullText  string            `json:"full_text"`
	Structure []Block           `json:"structure,omitempty"`
	Tables    []Table           `json:"tables,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Format    Format            `json:"format"`
	Error     string            `json:"error,omitempty"`
}

// sniffLimit bounds how much of the blob the MIME fallback reads.
const sniffLimit = 2048

// Config holds extractor configuration.
type Config struct {
	OCR          OCRClient
	TempStore    objectstore.Store
	SyncLimit    int64
	PollInterval time.Duration
	PollTimeout  time.Duration
	Logger       *observability.Logger
}

// Extractor dispatches blobs to per-format extraction paths.
type Extractor struct {
	ocr          OCRClient
	tempStore    objectstore.Store
	syncLimit    int64
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *observability.Logger
}

// NewExtractor creates an extractor. OCR may be nil, which disables the PDF
// fallback and image path.
func NewExtractor(cfg Config) *Extractor {
	if cfg.SyncLimit <= 0 {
		cfg.SyncLimit = 5 * 1024 * 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Extractor{
		ocr:          cfg.OCR,
		tempStore:    cfg.TempStore,
		syncLimit:    cfg.SyncLimit,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		logger:       cfg.Logger,
	}
}

// Extract converts one blob into cleaned text plus structure. It never
// returns an error; failures are reported in the Result.
func (e *Extractor) Extract(ctx context.Context, blob []byte, filenameHint string) *Result {
	format := DetectFormat(blob, filenameHint)

	result, err := e.dispatch(ctx, blob, format)
	if err != nil {
		e.logger.Warn().
			Str("filename", filenameHint).
			Str("format", string(format)).
			Err(err).
			Msg("Extraction failed")
		return &Result{Success: false, Format: format, Error: err.Error()}
	}

	result.Format = format
	result.FullText = Clean(result.FullText)
	if strings.TrimSpace(result.FullText) == "" {
		return &Result{Success: false, Format: format, Error: "no text extracted"}
	}

	result.Success = true
	return result
}

func (e *Extractor) dispatch(ctx context.Context, blob []byte, format Format) (*Result, error) {
	switch format {
	case FormatPDF:
		return e.extractPDF(ctx, blob)
	case FormatDOCX:
		return extractDOCX(blob)
	case FormatDOC:
		// Legacy binary Word documents are not parseable; callers get a
		// placeholder rather than a hard failure.
		return &Result{
			FullText: "Document content could not be extracted from legacy .doc format. Please convert to .docx and re-upload.",
			Metadata: map[string]string{"placeholder": "true"},
		}, nil
	case FormatXLSX, FormatXLS:
		return extractWorkbook(blob)
	case FormatCSV:
		return extractCSV(blob)
	case FormatHTML:
		return extractHTML(blob)
	case FormatImage:
		return e.extractViaOCR(ctx, blob)
	default:
		return extractText(blob)
	}
}

// DetectFormat resolves a blob's format: file extension first, MIME sniff of
// the first 2 KiB as fallback, permissive text as last resort.
func DetectFormat(blob []byte, filenameHint string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filenameHint), ".")) {
	case "pdf":
		return FormatPDF
	case "docx":
		return FormatDOCX
	case "doc":
		return FormatDOC
	case "xlsx":
		return FormatXLSX
	case "xls":
		return FormatXLS
	case "csv":
		return FormatCSV
	case "html", "htm":
		return FormatHTML
	case "txt", "text", "md":
		return FormatText
	case "png", "jpg", "jpeg", "tif", "tiff":
		return FormatImage
	}

	head := blob
	if len(head) > sniffLimit {
		head = head[:sniffLimit]
	}

	mtype := mimetype.Detect(head)
	switch {
	case mtype.Is("application/pdf"):
		return FormatPDF
	case mtype.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return FormatDOCX
	case mtype.Is("application/msword"):
		return FormatDOC
	case mtype.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return FormatXLSX
	case mtype.Is("application/vnd.ms-excel"):
		return FormatXLS
	case mtype.Is("text/csv"):
		return FormatCSV
	case mtype.Is("text/html"):
		return FormatHTML
	case strings.HasPrefix(mtype.String(), "image/"):
		return FormatImage
	}

	return FormatText
}

// blockText joins structure blocks into full text, one block per line.
func blockText(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// joinCells renders one table row for text output, dropping empty cells.
func joinCells(cells []string) string {
	nonEmpty := make([]string, 0, len(cells))
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	return strings.Join(nonEmpty, " | ")
}

// rowEmpty reports whether every cell is blank.
func rowEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func fmtCount(n int, singular string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}
