package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// maxCSVRows bounds how many data rows land in the extracted text.
const maxCSVRows = 100

// extractCSV renders the header and the first rows as pipe-separated lines.
// Parsing is tolerant: ragged rows and stray quotes are skipped, not fatal.
func extractCSV(blob []byte) (*Result, error) {
	r := csv.NewReader(bytes.NewReader(blob))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if rowEmpty(record) {
			continue
		}
		rows = append(rows, record)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("csv has no rows")
	}

	shown := rows
	overflow := 0
	if len(rows) > maxCSVRows+1 {
		shown = rows[:maxCSVRows+1]
		overflow = len(rows) - len(shown)
	}

	lines := make([]string, 0, len(shown)+1)
	for _, row := range shown {
		lines = append(lines, joinCells(row))
	}
	if overflow > 0 {
		lines = append(lines, fmt.Sprintf("... and %s", fmtCount(overflow, "more row")))
	}

	body := strings.Join(lines, "\n")

	return &Result{
		FullText:  body,
		Structure: []Block{{Kind: BlockTable, Text: body}},
		Tables:    []Table{{Rows: shown}},
		Metadata: map[string]string{
			"rows":    fmt.Sprintf("%d", len(rows)),
			"columns": fmt.Sprintf("%d", len(rows[0])),
		},
	}, nil
}
