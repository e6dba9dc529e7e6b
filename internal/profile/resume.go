package profile

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/llm"
)

// PersonalInfo is the contact block extracted from a resume.
type PersonalInfo struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Address  string `json:"address,omitempty"`
}

// ExperienceEntry is one employment period parsed from a resume.
type ExperienceEntry struct {
	Title     string  `json:"title,omitempty"`
	Company   string  `json:"company,omitempty"`
	StartYear int     `json:"start_year,omitempty"`
	EndYear   int     `json:"end_year,omitempty"`
	Current   bool    `json:"current,omitempty"`
	Years     float64 `json:"years"`
}

// EducationEntry is one degree parsed from a resume.
type EducationEntry struct {
	Degree         string `json:"degree,omitempty"`
	Institution    string `json:"institution,omitempty"`
	GraduationYear string `json:"graduation_year,omitempty"`
}

// Resume is the structured record produced from a team-resume document.
type Resume struct {
	PersonalInfo    PersonalInfo      `json:"personal_info"`
	Summary         string            `json:"summary,omitempty"`
	Skills          []string          `json:"skills,omitempty"`
	Experience      []ExperienceEntry `json:"experience,omitempty"`
	Education       []EducationEntry  `json:"education,omitempty"`
	Certifications  []string          `json:"certifications,omitempty"`
	YearsExperience float64           `json:"years_of_experience"`
	Confidence      float64           `json:"confidence"`
}

var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern    = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	linkedinPattern = regexp.MustCompile(`(?i)linkedin\.com/in/[A-Za-z0-9_-]+`)
	streetPattern   = regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z0-9 .]+\b(street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|suite|ste)\b`)
	cityStatePattern = regexp.MustCompile(`[A-Za-z .]+,\s*[A-Z]{2}\s+\d{5}(?:-\d{4})?`)

	namePattern  = regexp.MustCompile(`^[A-Z][A-Za-z'.-]+(?: [A-Z][A-Za-z'.-]*){1,3}$`)
	rangePattern = regexp.MustCompile(`(?i)\b((?:19|20)\d{2})\s*(?:[-–—]|to)\s*((?:19|20)\d{2}|present|current)\b`)
	yearPattern  = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// nonNameWords disqualify a capitalized line from being read as a person's
// name. Job titles and section headers share the same shape.
var nonNameWords = []string{
	"engineer", "developer", "manager", "director", "analyst", "consultant",
	"specialist", "administrator", "architect", "coordinator", "officer",
	"summary", "experience", "education", "skills", "objective", "resume",
	"curriculum", "references", "certifications",
}

// sectionAliases maps the canonical section name to header spellings.
var sectionAliases = map[string][]string{
	"summary":        {"summary", "professional summary", "objective", "profile", "about"},
	"skills":         {"skills", "technical skills", "core competencies", "core skills", "technologies"},
	"experience":     {"experience", "work experience", "professional experience", "employment", "employment history", "work history"},
	"education":      {"education", "academic background"},
	"certifications": {"certifications", "certificates", "licenses", "licenses & certifications", "certifications & licenses"},
}

// ResumeExtractor parses resumes with regexes and section heuristics, then
// fills whatever the heuristics missed with one LLM pass.
type ResumeExtractor struct {
	llm llm.LLM
	now func() time.Time
}

// NewResumeExtractor creates a resume extractor. The LLM may be nil.
func NewResumeExtractor(model llm.LLM) *ResumeExtractor {
	return &ResumeExtractor{llm: model, now: time.Now}
}

// Parse extracts a structured resume from cleaned document text.
func (e *ResumeExtractor) Parse(ctx context.Context, text string) (*Resume, error) {
	lines := splitLines(text)
	resume := &Resume{}

	resume.PersonalInfo = e.personalInfo(text, lines)

	sections := splitSections(lines, sectionAliases)
	resume.Summary = strings.Join(sections["summary"], " ")
	resume.Skills = splitListItems(sections["skills"])
	resume.Certifications = splitListItems(sections["certifications"])
	resume.Experience = e.parseExperience(sections["experience"])
	resume.Education = parseEducation(sections["education"])

	for _, exp := range resume.Experience {
		resume.YearsExperience += exp.Years
	}

	e.fillGaps(ctx, text, resume)
	resume.Confidence = resumeConfidence(resume)
	return resume, nil
}

func (e *ResumeExtractor) personalInfo(text string, lines []string) PersonalInfo {
	info := PersonalInfo{
		Email:    emailPattern.FindString(text),
		Phone:    strings.TrimSpace(phonePattern.FindString(text)),
		LinkedIn: linkedinPattern.FindString(text),
	}

	if m := streetPattern.FindString(text); m != "" {
		info.Address = strings.TrimSpace(m)
	} else if m := cityStatePattern.FindString(text); m != "" {
		info.Address = strings.TrimSpace(m)
	}

	info.FullName = findName(lines)
	return info
}

// findName looks for a capitalized-name line adjacent to the contact line,
// falling back to the top of the document.
func findName(lines []string) string {
	contactIdx := -1
	for i, line := range lines {
		if i >= 10 {
			break
		}
		if emailPattern.MatchString(line) || phonePattern.MatchString(line) {
			contactIdx = i
			break
		}
	}

	candidates := []int{}
	if contactIdx >= 0 {
		for i := contactIdx - 1; i >= 0 && i >= contactIdx-3; i-- {
			candidates = append(candidates, i)
		}
	}
	for i := 0; i < len(lines) && i < 5; i++ {
		candidates = append(candidates, i)
	}

	for _, i := range candidates {
		line := strings.TrimSpace(lines[i])
		if len(line) > 40 || !namePattern.MatchString(line) {
			continue
		}
		if containsAnyFold(line, nonNameWords) {
			continue
		}
		return line
	}
	return ""
}

// parseExperience turns lines carrying a date range into employment entries.
func (e *ResumeExtractor) parseExperience(lines []string) []ExperienceEntry {
	var entries []ExperienceEntry
	currentYear := e.now().UTC().Year()

	for _, line := range lines {
		m := rangePattern.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}

		start, _ := strconv.Atoi(line[m[2]:m[3]])
		endText := strings.ToLower(line[m[4]:m[5]])

		entry := ExperienceEntry{StartYear: start}
		if endText == "present" || endText == "current" {
			entry.Current = true
			entry.EndYear = 0
			entry.Years = float64(currentYear - start)
		} else {
			end, _ := strconv.Atoi(endText)
			entry.EndYear = end
			entry.Years = float64(end - start)
		}
		if entry.Years < 0 {
			entry.Years = 0
		}

		remainder := strings.TrimSpace(line[:m[0]] + line[m[1]:])
		remainder = strings.ReplaceAll(remainder, "()", "")
		remainder = strings.Trim(remainder, " ,;|-")
		entry.Title, entry.Company = splitTitleCompany(remainder)

		entries = append(entries, entry)
	}
	return entries
}

// splitTitleCompany separates "Senior Software Engineer / Tech Corp" shapes.
func splitTitleCompany(s string) (title, company string) {
	for _, sep := range []string{" / ", "/", " at ", " @ ", " | ", ", ", " - "} {
		if idx := strings.Index(s, sep); idx > 0 {
			return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+len(sep):])
		}
	}
	return strings.TrimSpace(s), ""
}

// parseEducation reads degree lines of the form
// "Bachelor of Science in Computer Science, University of Virginia, 2016".
func parseEducation(lines []string) []EducationEntry {
	var entries []EducationEntry
	for _, line := range lines {
		if !degreePattern.MatchString(line) {
			continue
		}

		entry := EducationEntry{}
		years := yearPattern.FindAllString(line, -1)
		if len(years) > 0 {
			entry.GraduationYear = years[len(years)-1]
		}

		parts := strings.Split(line, ",")
		entry.Degree = strings.TrimSpace(parts[0])
		for _, part := range parts[1:] {
			part = strings.TrimSpace(part)
			if containsAnyFold(part, []string{"university", "college", "institute", "school", "academy"}) {
				entry.Institution = part
				break
			}
		}

		entries = append(entries, entry)
	}
	return entries
}

// fillGaps asks the LLM for fields the regexes missed. The pass is
// best-effort: on error the regex results stand.
func (e *ResumeExtractor) fillGaps(ctx context.Context, text string, resume *Resume) {
	if e.llm == nil {
		return
	}

	var missing []string
	if resume.PersonalInfo.FullName == "" {
		missing = append(missing, "full_name")
	}
	if resume.PersonalInfo.Email == "" {
		missing = append(missing, "email")
	}
	if resume.PersonalInfo.Phone == "" {
		missing = append(missing, "phone")
	}
	if resume.Summary == "" {
		missing = append(missing, "summary")
	}
	if len(missing) == 0 {
		return
	}

	fields, err := e.llm.ExtractFields(ctx, text, missing)
	if err != nil {
		return
	}
	if v := fields["full_name"]; v != "" {
		resume.PersonalInfo.FullName = v
	}
	if v := fields["email"]; v != "" {
		resume.PersonalInfo.Email = v
	}
	if v := fields["phone"]; v != "" {
		resume.PersonalInfo.Phone = v
	}
	if v := fields["summary"]; v != "" {
		resume.Summary = v
	}
}

// resumeConfidence scores how much of the record the extractors populated.
// Five signals, 0.2 each: name, contact, experience, education, skills.
func resumeConfidence(r *Resume) float64 {
	score := 0.0
	if r.PersonalInfo.FullName != "" {
		score += 0.2
	}
	if r.PersonalInfo.Email != "" || r.PersonalInfo.Phone != "" {
		score += 0.2
	}
	if len(r.Experience) > 0 {
		score += 0.2
	}
	if len(r.Education) > 0 {
		score += 0.2
	}
	if len(r.Skills) > 0 {
		score += 0.2
	}
	return score
}

// splitSections buckets lines under the most recent section header.
func splitSections(lines []string, aliases map[string][]string) map[string][]string {
	sections := map[string][]string{}
	current := ""

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if name, ok := matchSectionHeader(trimmed, aliases); ok {
			current = name
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], trimmed)
		}
	}
	return sections
}

func matchSectionHeader(line string, aliases map[string][]string) (string, bool) {
	if len(line) > 40 {
		return "", false
	}
	normalized := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(line), ":"))
	for name, names := range aliases {
		for _, alias := range names {
			if normalized == alias {
				return name, true
			}
		}
	}
	return "", false
}

// splitListItems flattens section lines into trimmed, deduplicated items.
// Lines split on commas, semicolons, and bullet characters.
func splitListItems(lines []string) []string {
	var items []string
	seen := map[string]bool{}

	for _, line := range lines {
		for _, item := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';' || r == '•' || r == '·'
		}) {
			item = strings.Trim(item, " \t-")
			if item == "" || seen[strings.ToLower(item)] {
				continue
			}
			seen[strings.ToLower(item)] = true
			items = append(items, item)
			if len(items) >= 50 {
				return items
			}
		}
	}
	return items
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimRight(l, "\r"))
	}
	return lines
}

func containsAnyFold(s string, words []string) bool {
	lower := strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
