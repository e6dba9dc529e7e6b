package profile

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/govmatch-ai/govmatch/internal/llm"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// CompanyOverview is the identification block of a capability statement.
type CompanyOverview struct {
	Name    string `json:"name,omitempty"`
	DUNS    string `json:"duns,omitempty"`
	CAGE    string `json:"cage,omitempty"`
	Founded string `json:"founded,omitempty"`
}

// CapabilityStatement is the structured record produced from a
// capability-statement document.
type CapabilityStatement struct {
	Overview         CompanyOverview           `json:"overview"`
	Mission          string                    `json:"mission_statement,omitempty"`
	CoreCapabilities []string                  `json:"core_capabilities,omitempty"`
	PastPerformance  []storage.PastPerformance `json:"past_performance,omitempty"`
	Certifications   []string                  `json:"certifications,omitempty"`
	Contact          *storage.Contact          `json:"contact,omitempty"`
	Confidence       float64                   `json:"confidence"`
}

var (
	dunsValuePattern  = regexp.MustCompile(`(?i)\bDUNS(?:\s*(?:number|no\.?|#))?\s*[:#]?\s*(\d{2}-?\d{3}-?\d{4}|\d{9})\b`)
	cageValuePattern  = regexp.MustCompile(`(?i)\bCAGE(?:\s*code)?\s*[:#]?\s*([A-Za-z0-9]{5})\b`)
	foundedPattern    = regexp.MustCompile(`(?i)\b(?:founded|established|est\.)\s*(?:in\s*)?((?:19|20)\d{2})\b`)
	companySuffixPattern = regexp.MustCompile(`(?i)\b(llc|inc\.?|corp\.?|corporation|company|solutions|technologies|systems|group|services|associates|enterprises)\b`)
	dollarValuePattern   = regexp.MustCompile(`\$\s?([\d,]+(?:\.\d+)?)\s?([MKmk])?\b`)
)

// knownCertifications are socio-economic and quality certifications scanned
// for across the whole document, independent of section headers.
var knownCertifications = []string{
	"8(a)", "HUBZone", "SDVOSB", "VOSB", "WOSB", "EDWOSB",
	"Small Business", "Small Disadvantaged Business",
	"ISO 9001", "ISO 27001", "CMMI Level 3", "CMMI Level 5",
}

var capabilityAliases = map[string][]string{
	"overview":        {"company overview", "about us", "about", "overview", "company snapshot", "executive summary"},
	"mission":         {"mission", "mission statement", "our mission"},
	"capabilities":    {"core capabilities", "core competencies", "capabilities", "services", "what we do"},
	"pastperformance": {"past performance", "past performance highlights", "relevant experience", "select past performance"},
	"certifications":  {"certifications", "socio-economic certifications", "socio-economic status", "certifications & naics"},
	"contact":         {"contact", "contact information", "point of contact"},
}

// CapabilityExtractor parses capability statements with regexes and section
// heuristics, then fills gaps with one LLM pass.
type CapabilityExtractor struct {
	llm llm.LLM
}

// NewCapabilityExtractor creates a capability-statement extractor. The LLM
// may be nil.
func NewCapabilityExtractor(model llm.LLM) *CapabilityExtractor {
	return &CapabilityExtractor{llm: model}
}

// Parse extracts a structured capability statement from cleaned text.
func (e *CapabilityExtractor) Parse(ctx context.Context, text string) (*CapabilityStatement, error) {
	lines := splitLines(text)
	sections := splitSections(lines, capabilityAliases)

	stmt := &CapabilityStatement{
		Overview: CompanyOverview{
			Name:    findCompanyName(lines),
			Founded: firstSubmatch(foundedPattern, text),
		},
		Mission:          findMission(sections, text),
		CoreCapabilities: splitListItems(sections["capabilities"]),
		PastPerformance:  parsePastPerformance(sections["pastperformance"]),
		Certifications:   collectCertifications(sections["certifications"], text),
		Contact:          findContact(sections["contact"], text),
	}

	if m := dunsValuePattern.FindStringSubmatch(text); m != nil {
		stmt.Overview.DUNS = strings.ReplaceAll(m[1], "-", "")
	}
	if m := cageValuePattern.FindStringSubmatch(text); m != nil {
		stmt.Overview.CAGE = strings.ToUpper(m[1])
	}

	e.fillGaps(ctx, text, stmt)
	stmt.Confidence = capabilityConfidence(stmt)
	return stmt, nil
}

// findCompanyName takes the first short top line that carries a corporate
// suffix, falling back to the first plain line of the document.
func findCompanyName(lines []string) string {
	fallback := ""
	for i, line := range lines {
		if i >= 8 {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > 60 || strings.Contains(trimmed, ":") {
			continue
		}
		if companySuffixPattern.MatchString(trimmed) {
			return trimmed
		}
		if fallback == "" {
			if _, isHeader := matchSectionHeader(trimmed, capabilityAliases); !isHeader {
				fallback = trimmed
			}
		}
	}
	return fallback
}

func findMission(sections map[string][]string, text string) string {
	if lines := sections["mission"]; len(lines) > 0 {
		return strings.Join(lines, " ")
	}
	// Fall back to the sentence that declares the mission inline.
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "our mission")
	if idx < 0 {
		return ""
	}
	rest := text[idx:]
	if end := strings.IndexAny(rest, ".!?\n"); end > 0 {
		return strings.TrimSpace(rest[:end+1])
	}
	return strings.TrimSpace(rest)
}

// parsePastPerformance reads one entry per line. A leading short segment
// before a dash or colon is the client; a dollar figure becomes the value.
func parsePastPerformance(lines []string) []storage.PastPerformance {
	var entries []storage.PastPerformance
	for _, line := range lines {
		line = strings.Trim(line, " \t-•·")
		if line == "" {
			continue
		}

		entry := storage.PastPerformance{Description: line}
		for _, sep := range []string{" — ", " – ", " - ", ": "} {
			if idx := strings.Index(line, sep); idx > 0 && idx <= 60 {
				entry.Client = strings.TrimSpace(line[:idx])
				entry.Description = strings.TrimSpace(line[idx+len(sep):])
				break
			}
		}
		entry.Value = parseDollarFigure(line)
		entries = append(entries, entry)
	}
	return entries
}

// parseDollarFigure reads the first dollar amount on a line, expanding
// $2.5M-style suffixes. Missing or unparsable figures come back zero.
func parseDollarFigure(line string) decimal.Decimal {
	m := dollarValuePattern.FindStringSubmatch(line)
	if m == nil {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Zero
	}
	switch strings.ToUpper(m[2]) {
	case "M":
		value = value.Mul(decimal.NewFromInt(1_000_000))
	case "K":
		value = value.Mul(decimal.NewFromInt(1_000))
	}
	return value
}

func collectCertifications(sectionLines []string, text string) []string {
	items := splitListItems(sectionLines)
	seen := map[string]bool{}
	for _, item := range items {
		seen[strings.ToLower(item)] = true
	}
	for _, cert := range knownCertifications {
		if strings.Contains(strings.ToLower(text), strings.ToLower(cert)) && !seen[strings.ToLower(cert)] {
			seen[strings.ToLower(cert)] = true
			items = append(items, cert)
		}
	}
	return items
}

func findContact(sectionLines []string, text string) *storage.Contact {
	scope := strings.Join(sectionLines, "\n")
	if scope == "" {
		scope = text
	}

	contact := &storage.Contact{
		Email: emailPattern.FindString(scope),
		Phone: strings.TrimSpace(phonePattern.FindString(scope)),
	}
	for _, line := range sectionLines {
		line = strings.TrimSpace(line)
		if len(line) <= 40 && namePattern.MatchString(line) && !containsAnyFold(line, nonNameWords) {
			contact.Name = line
			break
		}
	}

	if contact.Name == "" && contact.Email == "" && contact.Phone == "" {
		return nil
	}
	return contact
}

// fillGaps asks the LLM for fields the regexes missed. Best-effort.
func (e *CapabilityExtractor) fillGaps(ctx context.Context, text string, stmt *CapabilityStatement) {
	if e.llm == nil {
		return
	}

	var missing []string
	if stmt.Overview.Name == "" {
		missing = append(missing, "company_name")
	}
	if stmt.Mission == "" {
		missing = append(missing, "mission_statement")
	}
	if stmt.Overview.Founded == "" {
		missing = append(missing, "founded_year")
	}
	if len(missing) == 0 {
		return
	}

	fields, err := e.llm.ExtractFields(ctx, text, missing)
	if err != nil {
		return
	}
	if v := fields["company_name"]; v != "" {
		stmt.Overview.Name = v
	}
	if v := fields["mission_statement"]; v != "" {
		stmt.Mission = v
	}
	if v := fields["founded_year"]; v != "" {
		stmt.Overview.Founded = v
	}
}

// capabilityConfidence scores populated extraction signals, 0.2 each:
// name, DUNS or CAGE, mission, capabilities, certifications.
func capabilityConfidence(s *CapabilityStatement) float64 {
	score := 0.0
	if s.Overview.Name != "" {
		score += 0.2
	}
	if s.Overview.DUNS != "" || s.Overview.CAGE != "" {
		score += 0.2
	}
	if s.Mission != "" {
		score += 0.2
	}
	if len(s.CoreCapabilities) > 0 {
		score += 0.2
	}
	if len(s.Certifications) > 0 {
		score += 0.2
	}
	return score
}

func firstSubmatch(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
