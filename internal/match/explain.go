package match

import (
	"fmt"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Narrative thresholds: components at or above strongComponentScore become
// match reasons, components below weakComponentScore become action items.
const (
	strongComponentScore = 0.7
	weakComponentScore   = 0.4
)

// PartialScoringReason flags a match whose score was computed with several
// components missing.
const PartialScoringReason = "partial_scoring"

// ScreenedOutReason is recorded on pairs the quick filter rejected.
const ScreenedOutReason = "failed initial compatibility screening"

var componentPhrases = map[string]string{
	ComponentSemantic:        "Capability narrative closely matches the scope of work",
	ComponentKeyword:         "Profile terminology mirrors the solicitation language",
	ComponentNAICS:           "NAICS classification aligns with the notice",
	ComponentPastPerformance: "Comparable past performance with the buying organization",
	ComponentCertification:   "Certifications satisfy the set-aside requirements",
	ComponentGeographic:      "Company presence covers the place of performance",
	ComponentCapacity:        "Award size fits current delivery capacity",
	ComponentRecency:         "Relevant work delivered recently",
}

var componentActions = map[string]string{
	ComponentSemantic:        "Sharpen the capability statement around this scope before bidding",
	ComponentKeyword:         "Align proposal language with the solicitation's terminology",
	ComponentNAICS:           "Verify NAICS scope or register the matching code",
	ComponentPastPerformance: "Line up past-performance references for this buyer",
	ComponentCertification:   "Confirm set-aside eligibility before investing in a bid",
	ComponentGeographic:      "Identify partners near the place of performance",
	ComponentCapacity:        "Plan a teaming arrangement to close the capacity gap",
	ComponentRecency:         "Surface more recent comparable engagements",
}

var bandRecommendations = map[storage.ConfidenceLevel]string{
	storage.ConfidenceHigh:    "Prioritize this opportunity for bid review",
	storage.ConfidenceMedium:  "Review capability gaps before committing bid resources",
	storage.ConfidenceLow:     "Pursue only with a differentiated teaming strategy",
	storage.ConfidenceNoMatch: "Deprioritize; the fundamentals do not align",
}

// matchReasons renders one sentence per strong component, in stable
// presentation order.
func matchReasons(scores map[string]storage.ComponentScore) []string {
	var reasons []string
	for _, name := range ComponentNames {
		s, ok := scores[name]
		if !ok || s.Status != StatusOK || s.Score < strongComponentScore {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s (%.2f)", componentPhrases[name], s.Score))
	}
	return reasons
}

// recommendations unions the per-component advice behind the band default.
func recommendations(scores map[string]storage.ComponentScore, confidence storage.ConfidenceLevel) []string {
	recs := []string{bandRecommendations[confidence]}
	seen := map[string]bool{recs[0]: true}
	for _, name := range ComponentNames {
		for _, rec := range scores[name].Recommendations {
			if seen[rec] {
				continue
			}
			seen[rec] = true
			recs = append(recs, rec)
		}
	}
	return recs
}

// actionItems turns weak components into a checklist and prepends a
// deadline warning when the response window is closing.
func actionItems(scores map[string]storage.ComponentScore, opp *storage.Opportunity, now time.Time) []string {
	var items []string
	if opp.ResponseDeadline != nil {
		days := int(opp.ResponseDeadline.Sub(now).Hours() / 24)
		switch {
		case days >= 0 && days <= 7:
			items = append(items, fmt.Sprintf("Response deadline in %d days; make the bid/no-bid call now", days))
		case days > 7 && days <= 14:
			items = append(items, fmt.Sprintf("Response deadline in %d days; begin proposal planning", days))
		}
	}
	for _, name := range ComponentNames {
		s, ok := scores[name]
		if !ok || s.Status != StatusOK || s.Score >= weakComponentScore {
			continue
		}
		items = append(items, componentActions[name])
	}
	return items
}
