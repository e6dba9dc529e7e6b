package match

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Blend weights for the keyword component.
const (
	kwCosineWeight    = 0.35
	kwOverlapWeight   = 0.25
	kwHighValueWeight = 0.20
	kwAcronymWeight   = 0.10
	kwPhraseWeight    = 0.10
)

// highValueBoost multiplies the tf-idf weight of curated domain terms.
const highValueBoost = 1.5

var tokenPattern = regexp.MustCompile(`\b[a-zA-Z]+\b`)

// acronymExpansions spells out procurement shorthand so both sides of a
// comparison contribute the same tokens regardless of which form they use.
var acronymExpansions = map[string]string{
	"gsa":     "general services administration",
	"dod":     "department of defense",
	"dhs":     "department of homeland security",
	"usda":    "department of agriculture",
	"hhs":     "department of health and human services",
	"doj":     "department of justice",
	"va":      "veterans affairs",
	"nasa":    "national aeronautics and space administration",
	"sow":     "statement of work",
	"pws":     "performance work statement",
	"rfp":     "request for proposal",
	"rfq":     "request for quote",
	"rfi":     "request for information",
	"idiq":    "indefinite delivery indefinite quantity",
	"bpa":     "blanket purchase agreement",
	"gwac":    "government wide acquisition contract",
	"cots":    "commercial off the shelf",
	"fedramp": "federal risk and authorization management program",
	"cmmc":    "cybersecurity maturity model certification",
	"ato":     "authority to operate",
}

// keywordStopwords drops connective English plus the boilerplate every
// solicitation shares, leaving only discriminative terms.
var keywordStopwords = buildSet(
	"the", "a", "an", "and", "or", "but", "if", "then", "else", "for", "nor",
	"of", "at", "by", "from", "into", "on", "onto", "to", "with", "within",
	"without", "is", "are", "was", "were", "be", "been", "being", "as", "it",
	"its", "this", "that", "these", "those", "will", "shall", "may", "must",
	"can", "could", "would", "should", "not", "no", "all", "any", "each",
	"per", "such", "via", "other", "more", "most", "less", "than", "which",
	"who", "whom", "whose", "where", "when", "while", "do", "does", "did",
	"done", "have", "has", "had", "having", "in", "out", "up", "down",
	"over", "under", "between", "among", "through", "during", "before",
	"after", "above", "below", "again", "further", "once", "here", "there",
	"government", "federal", "agency", "contract", "contractor",
	"contracting", "solicitation", "offeror", "quotation", "amendment",
	"clause", "pursuant", "herein", "thereof", "applicable", "accordance",
	"described", "specified", "section", "attachment", "exhibit", "page",
	"work", "statement", "including", "provide", "provided", "providing",
	"required", "requirement", "respond", "response", "submit", "submission",
)

// variantSpellings normalizes British forms to American before comparison.
var variantSpellings = map[string]string{
	"colour":       "color",
	"defence":      "defense",
	"licence":      "license",
	"centre":       "center",
	"programme":    "program",
	"analyse":      "analyze",
	"analysed":     "analyzed",
	"organisation": "organization",
	"utilise":      "utilize",
	"utilised":     "utilized",
	"optimise":     "optimize",
	"optimised":    "optimized",
	"modernise":    "modernize",
	"modernised":   "modernized",
	"specialise":   "specialize",
	"specialised":  "specialized",
	"minimise":     "minimize",
	"maximise":     "maximize",
	"standardise":  "standardize",
	"prioritise":   "prioritize",
}

// highValueTerms are the domain terms worth a tf-idf boost and their own
// sub-score. Entries are in post-normalization form.
var highValueTerms = buildSet(
	"cybersecurity", "cloud", "migration", "modernization", "infrastructure",
	"analytics", "automation", "intelligence", "machine", "learning",
	"artificial", "devsecops", "devops", "agile", "integration",
	"interoperability", "compliance", "accreditation", "logistics",
	"engineering", "maintenance", "sustainment", "training", "simulation",
	"geospatial", "biometric", "telehealth", "data", "software", "network",
	"encryption", "enclave",
)

func buildSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// textAnalysis is the processed view of one text.
type textAnalysis struct {
	counts    map[string]float64
	tokens    map[string]bool
	bigrams   map[string]bool
	acronyms  map[string]bool
	highValue map[string]bool
	weights   map[string]float64
}

// analyzeText runs the shared preprocessing pipeline: lowercase, acronym
// expansion, tokenization, stopword and short-token removal, spelling and
// plural normalization, then per-term weighting.
func analyzeText(text string) *textAnalysis {
	lowered := strings.ToLower(text)
	raw := tokenPattern.FindAllString(lowered, -1)

	a := &textAnalysis{
		counts:    map[string]float64{},
		tokens:    map[string]bool{},
		bigrams:   map[string]bool{},
		acronyms:  map[string]bool{},
		highValue: map[string]bool{},
	}

	rawSet := make(map[string]bool, len(raw))
	for _, tok := range raw {
		rawSet[tok] = true
	}
	// An acronym counts as present whether the text uses the shorthand or
	// the spelled-out phrase.
	for acr, expansion := range acronymExpansions {
		if rawSet[acr] || strings.Contains(lowered, expansion) {
			a.acronyms[acr] = true
		}
	}

	stream := make([]string, 0, len(raw))
	for _, tok := range raw {
		stream = append(stream, tok)
		if expansion, ok := acronymExpansions[tok]; ok {
			stream = append(stream, strings.Fields(expansion)...)
		}
	}

	kept := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok) <= 2 || keywordStopwords[tok] {
			continue
		}
		tok = normalizeToken(tok)
		if len(tok) <= 2 || keywordStopwords[tok] {
			continue
		}
		kept = append(kept, tok)
		a.counts[tok]++
		a.tokens[tok] = true
		if highValueTerms[tok] {
			a.highValue[tok] = true
		}
	}

	for i := 0; i+1 < len(kept); i++ {
		a.bigrams[kept[i]+" "+kept[i+1]] = true
	}

	// Term weight uses the term's own frequency as an IDF stand-in; the
	// log saturates so repetition cannot dominate.
	a.weights = make(map[string]float64, len(a.counts))
	for tok, tf := range a.counts {
		w := tf * math.Log(1+1/(tf+0.01))
		if a.highValue[tok] {
			w *= highValueBoost
		}
		a.weights[tok] = w
	}
	return a
}

// normalizeToken applies plural and spelling normalization. Both sides of a
// comparison run through the same rules, so imperfect stems still align.
func normalizeToken(tok string) string {
	tok = singularize(tok)
	if american, ok := variantSpellings[tok]; ok {
		return american
	}
	if strings.HasSuffix(tok, "isation") {
		return strings.TrimSuffix(tok, "isation") + "ization"
	}
	return tok
}

func singularize(tok string) string {
	switch {
	case len(tok) > 4 && strings.HasSuffix(tok, "ies"):
		return tok[:len(tok)-3] + "y"
	case len(tok) > 4 && (strings.HasSuffix(tok, "ches") || strings.HasSuffix(tok, "shes") ||
		strings.HasSuffix(tok, "sses") || strings.HasSuffix(tok, "xes") || strings.HasSuffix(tok, "zes")):
		return tok[:len(tok)-2]
	case len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") &&
		!strings.HasSuffix(tok, "us") && !strings.HasSuffix(tok, "is"):
		return tok[:len(tok)-1]
	}
	return tok
}

// KeywordScorer blends lexical signals between the notice text and the
// profile narrative: weighted-term cosine, exact token overlap, high-value
// term coverage, acronym coverage, and shared phrases.
type KeywordScorer struct{}

var _ Scorer = KeywordScorer{}

// Name implements Scorer.
func (KeywordScorer) Name() string { return ComponentKeyword }

// Score implements Scorer.
func (KeywordScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	if strings.TrimSpace(in.OpportunityText) == "" {
		return noData(started, "opportunity has no text")
	}
	if strings.TrimSpace(in.ProfileText) == "" {
		return noData(started, "profile has no text")
	}

	opp := analyzeText(in.OpportunityText)
	prof := analyzeText(in.ProfileText)
	if len(opp.tokens) == 0 || len(prof.tokens) == 0 {
		return noData(started, "no comparable terms after filtering")
	}

	cos := sparseCosine(opp.weights, prof.weights)
	overlap := overlapCoefficient(opp.tokens, prof.tokens)
	// Sub-scores with no signal on the opportunity side inherit the plain
	// token overlap, so a notice without acronyms or high-value terms is
	// not penalized for lacking them.
	hv, hvMatched := setFraction(opp.highValue, prof.tokens, overlap)
	acr, acrMatched := setFraction(opp.acronyms, prof.acronyms, overlap)
	phrase, _ := setFraction(opp.bigrams, prof.bigrams, overlap)

	score := kwCosineWeight*cos +
		kwOverlapWeight*overlap +
		kwHighValueWeight*hv +
		kwAcronymWeight*acr +
		kwPhraseWeight*phrase

	var recs []string
	if score < weakComponentScore {
		recs = append(recs, "Mirror the solicitation's terminology in the capability statement")
	}

	return storage.ComponentScore{
		Score:  clamp01(score),
		Status: StatusOK,
		Evidence: map[string]interface{}{
			"tfidf_cosine":     round3(cos),
			"token_overlap":    round3(overlap),
			"high_value_terms": hvMatched,
			"acronyms":         acrMatched,
			"phrase_score":     round3(phrase),
			"shared_terms":     sharedTerms(opp, prof, 8),
		},
		Recommendations:  recs,
		ProcessingTimeMs: elapsedMs(started),
	}
}

// setFraction returns the share of wanted entries found in have plus the
// sorted matches. With nothing wanted it falls back to the neutral value.
func setFraction(wanted, have map[string]bool, neutral float64) (float64, []string) {
	if len(wanted) == 0 {
		return neutral, nil
	}
	matched := make([]string, 0, len(wanted))
	for w := range wanted {
		if have[w] {
			matched = append(matched, w)
		}
	}
	sort.Strings(matched)
	return float64(len(matched)) / float64(len(wanted)), matched
}

// overlapCoefficient is |A∩B| / min(|A|, |B|).
func overlapCoefficient(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for tok := range small {
		if large[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

func sparseCosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for tok, w := range a {
		normA += w * w
		if bw, ok := b[tok]; ok {
			dot += w * bw
		}
	}
	for _, w := range b {
		normB += w * w
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sharedTerms lists the highest-weighted tokens the two sides share.
func sharedTerms(a, b *textAnalysis, limit int) []string {
	type weighted struct {
		tok string
		w   float64
	}
	shared := make([]weighted, 0, limit)
	for tok, w := range a.weights {
		if bw, ok := b.weights[tok]; ok {
			shared = append(shared, weighted{tok, w + bw})
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].w != shared[j].w {
			return shared[i].w > shared[j].w
		}
		return shared[i].tok < shared[j].tok
	})
	if len(shared) > limit {
		shared = shared[:limit]
	}
	out := make([]string, len(shared))
	for i, s := range shared {
		out[i] = s.tok
	}
	return out
}
