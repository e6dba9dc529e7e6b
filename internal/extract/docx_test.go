package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, parts map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const testDocumentXML = `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Capabilities Statement</w:t></w:r></w:p>
    <w:p><w:r><w:t>We provide </w:t></w:r><w:r><w:t>cloud migration services.</w:t></w:r></w:p>
    <w:p><w:pPr><w:numPr><w:ilvl w:val="0"/></w:numPr></w:pPr><w:r><w:t>FedRAMP authorized</w:t></w:r></w:p>
    <w:tbl>
      <w:tr><w:tc><w:p><w:r><w:t>NAICS</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>541512</w:t></w:r></w:p></w:tc></w:tr>
      <w:tr><w:tc><w:p><w:r><w:t>CAGE</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>7ABC1</w:t></w:r></w:p></w:tc></w:tr>
      <w:tr><w:tc><w:p><w:r><w:t> </w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t></w:t></w:r></w:p></w:tc></w:tr>
    </w:tbl>
  </w:body>
</w:document>`

const testCoreXML = `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/">
  <dc:title>Acme Capabilities</dc:title>
  <dc:creator>Jane Smith</dc:creator>
  <dcterms:created>2024-01-15T10:00:00Z</dcterms:created>
</cp:coreProperties>`

func TestExtractDOCX_BlocksInOrder(t *testing.T) {
	blob := buildDocx(t, map[string]string{
		"word/document.xml": testDocumentXML,
		"docProps/core.xml": testCoreXML,
	})

	result, err := extractDOCX(blob)

	require.NoError(t, err)
	require.Len(t, result.Structure, 4)

	assert.Equal(t, BlockHeading, result.Structure[0].Kind)
	assert.Equal(t, "Capabilities Statement", result.Structure[0].Text)
	assert.Equal(t, "Heading1", result.Structure[0].Style)

	assert.Equal(t, BlockParagraph, result.Structure[1].Kind)
	assert.Equal(t, "We provide cloud migration services.", result.Structure[1].Text)

	assert.Equal(t, BlockListItem, result.Structure[2].Kind)
	assert.Equal(t, "FedRAMP authorized", result.Structure[2].Text)

	assert.Equal(t, BlockTable, result.Structure[3].Kind)
	assert.Contains(t, result.Structure[3].Text, "[TABLE]")
	assert.Contains(t, result.Structure[3].Text, "NAICS | 541512")
	assert.Contains(t, result.Structure[3].Text, "[/TABLE]")

	// The all-blank third row is filtered.
	require.Len(t, result.Tables, 1)
	assert.Equal(t, [][]string{{"NAICS", "541512"}, {"CAGE", "7ABC1"}}, result.Tables[0].Rows)

	assert.Equal(t, "Acme Capabilities", result.Metadata["title"])
	assert.Equal(t, "Jane Smith", result.Metadata["author"])
	assert.Equal(t, "2024-01-15T10:00:00Z", result.Metadata["created"])
}

func TestExtractDOCX_HeadersAndFooters(t *testing.T) {
	blob := buildDocx(t, map[string]string{
		"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>Body text here.</w:t></w:r></w:p></w:body></w:document>`,
		"word/header1.xml":  `<w:hdr xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:p><w:r><w:t>Acme Corp Proposal</w:t></w:r></w:p></w:hdr>`,
		"word/footer1.xml":  `<w:ftr xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:p><w:r><w:t>Submitted to GSA</w:t></w:r></w:p></w:ftr>`,
	})

	result, err := extractDOCX(blob)

	require.NoError(t, err)
	lines := bytes.Split([]byte(result.FullText), []byte("\n"))
	assert.Equal(t, "[Header: Acme Corp Proposal]", string(lines[0]))
	assert.Equal(t, "[Footer: Submitted to GSA]", string(lines[len(lines)-1]))
	assert.Contains(t, result.FullText, "Body text here.")
}

func TestExtractDOCX_MissingBody(t *testing.T) {
	blob := buildDocx(t, map[string]string{
		"docProps/core.xml": testCoreXML,
	})

	_, err := extractDOCX(blob)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document body")
}

func TestExtractDOCX_ThroughExtractor(t *testing.T) {
	blob := buildDocx(t, map[string]string{
		"word/document.xml": testDocumentXML,
	})

	e := NewExtractor(Config{})
	result := e.Extract(context.Background(), blob, "capabilities.docx")

	require.True(t, result.Success)
	assert.Equal(t, FormatDOCX, result.Format)
	assert.Contains(t, result.FullText, "Capabilities Statement")
	assert.Contains(t, result.FullText, "CAGE | 7ABC1")
}
