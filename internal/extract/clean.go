package extract

import (
	"regexp"
	"strings"
)

var (
	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^page\s+\d+\s+of\s+\d+$`),
		regexp.MustCompile(`(?i)^confidential\b.*$`),
		regexp.MustCompile(`(?i)^copyright\b.*$`),
		regexp.MustCompile(`(?i)^©.*$`),
		regexp.MustCompile(`(?i)^all rights reserved\.?$`),
	}
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern     = regexp.MustCompile(`[ \t]{2,}`)
)

// maxNoiseLineLen keeps the footer filter from eating real paragraphs that
// happen to open with a boilerplate word.
const maxNoiseLineLen = 100

// Clean normalizes extracted text for downstream chunking: newlines are
// unified, control characters dropped, boilerplate footer lines removed, and
// whitespace runs collapsed.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if isNoiseLine(line) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	text = strings.Join(kept, "\n")

	text = spaceRunPattern.ReplaceAllString(text, " ")
	text = multiNewlinePattern.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

func isNoiseLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > maxNoiseLineLen {
		return false
	}
	for _, p := range noisePatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}
