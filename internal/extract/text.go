package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// extractText decodes a plain-text blob. Encodings are tried in order:
// UTF-8, BOM-marked UTF-16, Windows-1252 when the 0x80-0x9F range is in use,
// Latin-1, and finally UTF-8 with replacement runes.
func extractText(blob []byte) (*Result, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	text, encodingName := DecodeText(blob)

	var structure []Block
	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) != "" {
			structure = append(structure, Block{Kind: BlockParagraph, Text: strings.TrimSpace(para)})
		}
	}

	return &Result{
		FullText:  text,
		Structure: structure,
		Metadata:  map[string]string{"encoding": encodingName},
	}, nil
}

// DecodeText converts a byte blob of unknown encoding to a UTF-8 string,
// returning the decoded text and the name of the encoding that matched.
// It never fails: the last resort replaces invalid sequences.
func DecodeText(blob []byte) (string, string) {
	// BOM-marked UTF-16 first: such blobs are full of NULs and would pass
	// no other check cleanly.
	if hasUTF16BOM(blob) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(blob); err == nil {
			return string(out), "utf-16"
		}
	}

	if utf8.Valid(blob) {
		return string(bytes.TrimPrefix(blob, []byte{0xEF, 0xBB, 0xBF})), "utf-8"
	}

	// The 0x80-0x9F range is printable in Windows-1252 but control
	// characters in Latin-1; its presence picks the codepage.
	if usesWindows1252Range(blob) {
		if out, err := charmap.Windows1252.NewDecoder().Bytes(blob); err == nil {
			return string(out), "windows-1252"
		}
	}

	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(blob); err == nil {
		return string(out), "latin-1"
	}

	return strings.ToValidUTF8(string(blob), string(utf8.RuneError)), "utf-8-replaced"
}

func hasUTF16BOM(blob []byte) bool {
	if len(blob) < 2 {
		return false
	}
	return (blob[0] == 0xFF && blob[1] == 0xFE) || (blob[0] == 0xFE && blob[1] == 0xFF)
}

func usesWindows1252Range(blob []byte) bool {
	for _, b := range blob {
		if b >= 0x80 && b <= 0x9F {
			return true
		}
	}
	return false
}
