package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDOCX iterates the block-level elements of an OOXML document in
// order: paragraphs keep their style names, tables are wrapped in
// [TABLE]...[/TABLE] markers, headers and footers are tagged.
func extractDOCX(blob []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var (
		blocks   []Block
		tables   []Table
		metadata = map[string]string{}
		headers  []string
		footers  []string
	)

	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			blocks, tables, err = parseDocumentXML(f)
			if err != nil {
				return nil, fmt.Errorf("parse document.xml: %w", err)
			}
		case f.Name == "docProps/core.xml":
			parseCoreProps(f, metadata)
		case strings.HasPrefix(f.Name, "word/header"):
			if text := parseTextOnly(f); text != "" {
				headers = append(headers, text)
			}
		case strings.HasPrefix(f.Name, "word/footer"):
			if text := parseTextOnly(f); text != "" {
				footers = append(footers, text)
			}
		}
	}

	if blocks == nil && len(tables) == 0 {
		return nil, fmt.Errorf("docx has no document body")
	}

	var parts []string
	for _, h := range headers {
		parts = append(parts, fmt.Sprintf("[Header: %s]", h))
	}
	parts = append(parts, blockText(blocks))
	for _, f := range footers {
		parts = append(parts, fmt.Sprintf("[Footer: %s]", f))
	}

	return &Result{
		FullText:  strings.Join(parts, "\n"),
		Structure: blocks,
		Tables:    tables,
		Metadata:  metadata,
	}, nil
}

// parseDocumentXML walks document.xml token by token so paragraph and table
// order is preserved.
func parseDocumentXML(f *zip.File) ([]Block, []Table, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)

	var (
		blocks []Block
		tables []Table
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "p":
			text, style, isList, err := collectParagraph(dec)
			if err != nil {
				return nil, nil, err
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			kind := BlockParagraph
			switch {
			case isList:
				kind = BlockListItem
			case strings.HasPrefix(style, "Heading") || style == "Title":
				kind = BlockHeading
			}
			blocks = append(blocks, Block{Kind: kind, Text: text, Style: style})

		case "tbl":
			rows, err := collectTable(dec)
			if err != nil {
				return nil, nil, err
			}
			if len(rows) == 0 {
				continue
			}
			tables = append(tables, Table{Rows: rows})

			lines := make([]string, 0, len(rows)+2)
			lines = append(lines, "[TABLE]")
			for _, row := range rows {
				lines = append(lines, joinCells(row))
			}
			lines = append(lines, "[/TABLE]")
			blocks = append(blocks, Block{Kind: BlockTable, Text: strings.Join(lines, "\n")})
		}
	}

	return blocks, tables, nil
}

// collectParagraph consumes one <w:p> subtree, returning its text, style
// name, and whether it is a numbered list item.
func collectParagraph(dec *xml.Decoder) (string, string, bool, error) {
	var (
		sb     strings.Builder
		style  string
		isList bool
		inText bool
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			return "", "", false, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "pStyle":
				style = attrVal(el, "val")
			case "numPr":
				isList = true
			case "tab":
				sb.WriteString(" ")
			case "br", "cr":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				return sb.String(), style, isList, nil
			}
		}
	}
}

// collectTable consumes one <w:tbl> subtree into rows of cell text. Empty
// rows are filtered.
func collectTable(dec *xml.Decoder) ([][]string, error) {
	var (
		rows     [][]string
		row      []string
		cell     strings.Builder
		inText   bool
		tblDepth = 1
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "tbl":
				tblDepth++
			case "tr":
				row = nil
			case "tc":
				cell.Reset()
			case "t":
				inText = true
			case "tab", "br", "cr":
				cell.WriteString(" ")
			}
		case xml.CharData:
			if inText {
				cell.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "tc":
				row = append(row, strings.TrimSpace(cell.String()))
				cell.Reset()
			case "tr":
				if !rowEmpty(row) {
					rows = append(rows, row)
				}
			case "tbl":
				tblDepth--
				if tblDepth == 0 {
					return rows, nil
				}
			}
		}
	}
}

// parseTextOnly flattens every <w:t> in a part, for headers and footers.
func parseTextOnly(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)

	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		case xml.EndElement:
			if el.Name.Local == "t" {
				inText = false
				sb.WriteString(" ")
			}
		}
	}

	return strings.TrimSpace(sb.String())
}

// coreProperties is the docProps/core.xml document metadata.
type coreProperties struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Subject  string `xml:"subject"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
}

func parseCoreProps(f *zip.File, metadata map[string]string) {
	rc, err := f.Open()
	if err != nil {
		return
	}
	defer rc.Close()

	var props coreProperties
	if err := xml.NewDecoder(rc).Decode(&props); err != nil {
		return
	}

	if props.Title != "" {
		metadata["title"] = props.Title
	}
	if props.Creator != "" {
		metadata["author"] = props.Creator
	}
	if props.Subject != "" {
		metadata["subject"] = props.Subject
	}
	if props.Created != "" {
		metadata["created"] = props.Created
	}
	if props.Modified != "" {
		metadata["modified"] = props.Modified
	}
}

func attrVal(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
