package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// extractPDF pulls vector text page by page. If the PDF yields no text (a
// scan, or a damaged file) the OCR fallback takes over.
func (e *Extractor) extractPDF(ctx context.Context, blob []byte) (*Result, error) {
	result, err := extractPDFText(ctx, blob)
	if err == nil && strings.TrimSpace(result.FullText) != "" {
		return result, nil
	}

	if e.ocr == nil {
		if err != nil {
			return nil, fmt.Errorf("pdf text extraction: %w", err)
		}
		return nil, fmt.Errorf("pdf contains no extractable text and OCR is not configured")
	}

	if err != nil {
		e.logger.Warn().Err(err).Msg("PDF text extraction failed, falling back to OCR")
	} else {
		e.logger.Info().Msg("PDF has no vector text, falling back to OCR")
	}

	return e.extractViaOCR(ctx, blob)
}

func extractPDFText(ctx context.Context, blob []byte) (*Result, error) {
	doc, err := fitz.NewFromMemory(blob)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	numPages := doc.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	var (
		parts     []string
		structure []Block
	)
	for pageNum := 0; pageNum < numPages; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", pageNum+1, err)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if numPages > 1 {
			parts = append(parts, fmt.Sprintf("--- Page %d ---", pageNum+1))
		}
		parts = append(parts, text)

		for _, para := range strings.Split(text, "\n\n") {
			if strings.TrimSpace(para) != "" {
				structure = append(structure, Block{Kind: BlockParagraph, Text: strings.TrimSpace(para)})
			}
		}
	}

	return &Result{
		FullText:  strings.Join(parts, "\n"),
		Structure: structure,
		Metadata:  map[string]string{"pages": fmt.Sprintf("%d", numPages)},
	}, nil
}
