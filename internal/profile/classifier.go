// Package profile ingests per-tenant company documents: upload intents,
// categorization, structured extraction, multi-level embedding, and the
// website scraper that seeds a company overview.
package profile

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/govmatch-ai/govmatch/internal/llm"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Channel weights for the category score blend.
const (
	weightFilename   = 0.2
	weightKeyword    = 0.4
	weightStructural = 0.2
	weightLLM        = 0.2
)

// Confidence bands over the blended category score. Below bandLow the
// classification is not trusted and the document files under "other".
const (
	bandHigh   = 0.8
	bandMedium = 0.6
	bandLow    = 0.4
)

// Classification is the classifier's verdict for one document.
type Classification struct {
	PrimaryCategory storage.DocumentCategory           `json:"primary_category"`
	Confidence      float64                            `json:"confidence"`
	Band            storage.ConfidenceLevel            `json:"band"`
	Scores          map[storage.DocumentCategory]float64 `json:"scores"`
}

// classifiableCategories is every category the classifier scores. "other"
// is the fallback, never scored directly.
var classifiableCategories = []storage.DocumentCategory{
	storage.CategoryTeamResumes,
	storage.CategoryCapabilityStatements,
	storage.CategoryPastPerformance,
	storage.CategoryCertifications,
	storage.CategoryFinancial,
}

// filenameSignals maps categories to substrings looked up in the filename.
var filenameSignals = map[storage.DocumentCategory][]string{
	storage.CategoryTeamResumes:          {"resume", "cv", "bio"},
	storage.CategoryCapabilityStatements: {"capability", "capabilities", "capstate"},
	storage.CategoryPastPerformance:      {"past-performance", "past_performance", "pastperf", "cpars", "ppq"},
	storage.CategoryCertifications:       {"cert", "8a", "sdvosb", "hubzone", "wosb", "iso"},
	storage.CategoryFinancial:            {"financial", "audit", "balance", "revenue", "990", "p&l"},
}

// categoryKeywords are counted in the document body and normalized by length.
var categoryKeywords = map[storage.DocumentCategory][]string{
	storage.CategoryTeamResumes: {
		"experience", "education", "skills", "employment", "university",
		"degree", "objective", "references", "proficient",
	},
	storage.CategoryCapabilityStatements: {
		"capability", "capabilities", "core competencies", "duns", "cage",
		"naics", "mission", "differentiators", "socio-economic",
	},
	storage.CategoryPastPerformance: {
		"past performance", "contract number", "period of performance",
		"client", "deliverables", "task order", "cpars",
	},
	storage.CategoryCertifications: {
		"certification", "certificate", "certified", "accredited", "sba",
		"hubzone", "8(a)", "sdvosb", "wosb", "iso 9001", "cmmi",
	},
	storage.CategoryFinancial: {
		"revenue", "balance sheet", "income statement", "fiscal year",
		"assets", "liabilities", "audit", "ebitda",
	},
}

// Structural indicators: cheap shape checks that separate document kinds.
var (
	dateRangePattern  = regexp.MustCompile(`(?i)\b(19|20)\d{2}\s*(?:[-–—]|to)\s*(?:(19|20)\d{2}|present|current)\b`)
	degreePattern     = regexp.MustCompile(`(?i)\b(bachelor|master|associate|ph\.?d|doctorate|b\.s\.|m\.s\.|b\.a\.|m\.a\.|mba)\b`)
	execSummaryPattern = regexp.MustCompile(`(?i)\b(executive summary|core competencies|company overview|mission statement)\b`)
	dunsCagePattern   = regexp.MustCompile(`(?i)\b(duns|cage|uei)\b`)
	contractPattern   = regexp.MustCompile(`(?i)\b(contract (number|no\.?|#)|period of performance|task order)\b`)
	dollarPattern     = regexp.MustCompile(`\$\s?[\d,]+(\.\d{2})?`)
)

// Classifier scores a document against the known categories by blending
// filename, keyword-density, structural, and LLM channels.
type Classifier struct {
	llm llm.LLM
}

// NewClassifier creates a classifier. The LLM may be nil, which zeroes that
// channel instead of failing.
func NewClassifier(model llm.LLM) *Classifier {
	return &Classifier{llm: model}
}

// Classify blends the four channels into a per-category score and picks the
// winner. Scores below the low band demote the document to "other".
func (c *Classifier) Classify(ctx context.Context, filename, text string) (*Classification, error) {
	nameScores := filenameScores(filename)
	keywordScores := keywordDensityScores(text)
	structScores := structuralScores(text)

	llmScores := map[string]float64{}
	if c.llm != nil {
		names := make([]string, len(classifiableCategories))
		for i, cat := range classifiableCategories {
			names[i] = string(cat)
		}
		probs, err := c.llm.ClassifyDocument(ctx, text, names)
		if err != nil {
			return nil, fmt.Errorf("llm classification: %w", err)
		}
		llmScores = probs
	}

	scores := make(map[storage.DocumentCategory]float64, len(classifiableCategories))
	for _, cat := range classifiableCategories {
		scores[cat] = weightFilename*nameScores[cat] +
			weightKeyword*keywordScores[cat] +
			weightStructural*structScores[cat] +
			weightLLM*llmScores[string(cat)]
	}

	primary, confidence := argmax(scores)
	result := &Classification{
		PrimaryCategory: primary,
		Confidence:      confidence,
		Scores:          scores,
	}

	switch {
	case confidence >= bandHigh:
		result.Band = storage.ConfidenceHigh
	case confidence >= bandMedium:
		result.Band = storage.ConfidenceMedium
	case confidence >= bandLow:
		result.Band = storage.ConfidenceLow
	default:
		result.Band = storage.ConfidenceNoMatch
		result.PrimaryCategory = storage.CategoryOther
	}
	return result, nil
}

func filenameScores(filename string) map[storage.DocumentCategory]float64 {
	lower := strings.ToLower(filename)
	scores := make(map[storage.DocumentCategory]float64, len(filenameSignals))
	for cat, signals := range filenameSignals {
		for _, s := range signals {
			if strings.Contains(lower, s) {
				scores[cat] = 1.0
				break
			}
		}
	}
	return scores
}

// keywordDensityScores counts category keywords per hundred words so long
// documents do not out-score short ones by volume alone. Full marks at three
// hits per hundred words; a single stray keyword scores low.
func keywordDensityScores(text string) map[storage.DocumentCategory]float64 {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))
	if words == 0 {
		return map[storage.DocumentCategory]float64{}
	}

	scores := make(map[storage.DocumentCategory]float64, len(categoryKeywords))
	for cat, keywords := range categoryKeywords {
		hits := 0
		for _, kw := range keywords {
			hits += strings.Count(lower, kw)
		}
		score := float64(hits) * 100 / float64(words) / 3
		if score > 1 {
			score = 1
		}
		scores[cat] = score
	}
	return scores
}

// structuralScores looks for shape indicators: date ranges and degrees mark
// resumes, DUNS/CAGE and summary headers mark capability statements,
// contract vocabulary marks past performance, dollar tables mark financials.
func structuralScores(text string) map[storage.DocumentCategory]float64 {
	scores := map[storage.DocumentCategory]float64{}

	resume := 0.0
	if dateRangePattern.MatchString(text) {
		resume += 0.5
	}
	if degreePattern.MatchString(text) {
		resume += 0.5
	}
	scores[storage.CategoryTeamResumes] = resume

	capability := 0.0
	if execSummaryPattern.MatchString(text) {
		capability += 0.5
	}
	if dunsCagePattern.MatchString(text) {
		capability += 0.5
	}
	scores[storage.CategoryCapabilityStatements] = capability

	pastPerf := 0.0
	if contractPattern.MatchString(text) {
		pastPerf += 0.6
	}
	if dateRangePattern.MatchString(text) {
		pastPerf += 0.2
	}
	if dollarPattern.MatchString(text) {
		pastPerf += 0.2
	}
	scores[storage.CategoryPastPerformance] = pastPerf

	if dollarPattern.MatchString(text) {
		scores[storage.CategoryFinancial] = 0.4
	}
	return scores
}

// argmax returns the best category with deterministic tie-breaking.
func argmax(scores map[storage.DocumentCategory]float64) (storage.DocumentCategory, float64) {
	cats := make([]storage.DocumentCategory, 0, len(scores))
	for cat := range scores {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	best := storage.CategoryOther
	bestScore := 0.0
	for _, cat := range cats {
		if scores[cat] > bestScore {
			best, bestScore = cat, scores[cat]
		}
	}
	return best, bestScore
}
