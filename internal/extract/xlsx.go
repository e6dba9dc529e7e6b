package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractWorkbook reads every sheet of an OOXML workbook into banner-separated
// pipe rows. Legacy binary .xls blobs fail to open and surface as an
// extraction error rather than a panic.
func extractWorkbook(blob []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var (
		sb     strings.Builder
		blocks []Block
		tables []Table
	)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		kept := make([][]string, 0, len(rows))
		for _, row := range rows {
			if !rowEmpty(row) {
				kept = append(kept, row)
			}
		}
		if len(kept) == 0 {
			continue
		}

		banner := fmt.Sprintf("=== %s ===", sheet)
		sb.WriteString(banner)
		sb.WriteString("\n")
		blocks = append(blocks, Block{Kind: BlockHeading, Text: banner})

		lines := make([]string, 0, len(kept))
		for _, row := range kept {
			lines = append(lines, joinCells(row))
		}
		body := strings.Join(lines, "\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
		blocks = append(blocks, Block{Kind: BlockTable, Text: body})

		tables = append(tables, Table{Name: sheet, Rows: kept})
	}

	if len(tables) == 0 {
		return nil, fmt.Errorf("workbook has no populated sheets")
	}

	return &Result{
		FullText:  strings.TrimSpace(sb.String()),
		Structure: blocks,
		Tables:    tables,
		Metadata:  map[string]string{"sheets": fmt.Sprintf("%d", len(tables))},
	}, nil
}
