package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/embedding"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Per-entry weighting inside one past-performance comparison.
const (
	ppAgencyWeight = 0.4
	ppDollarWeight = 0.3
	ppDomainWeight = 0.3
)

// maxScoredEntries caps the per-entry scan; domain similarity may call the
// embedding model, so an unbounded list could stall the match.
const maxScoredEntries = 25

// agencyNameStopwords are the tokens that carry no identity when comparing
// organization names.
var agencyNameStopwords = buildSet(
	"department", "office", "bureau", "the", "and", "for", "united", "states",
)

// PastPerformanceScorer grades prior contracts on agency familiarity,
// dollar scale, and domain similarity, then aggregates with diminishing
// returns so many weak entries cannot outrank one strong one.
type PastPerformanceScorer struct {
	embedder embedding.Embedder
}

var _ Scorer = (*PastPerformanceScorer)(nil)

// NewPastPerformanceScorer creates the scorer. The embedder is optional;
// without one, domain similarity falls back to token overlap.
func NewPastPerformanceScorer(embedder embedding.Embedder) *PastPerformanceScorer {
	return &PastPerformanceScorer{embedder: embedder}
}

// Name implements Scorer.
func (*PastPerformanceScorer) Name() string { return ComponentPastPerformance }

// Score implements Scorer.
func (s *PastPerformanceScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	entries := in.Profile.PastPerformance
	if len(entries) == 0 {
		return noData(started, "profile has no past performance")
	}
	if len(entries) > maxScoredEntries {
		entries = entries[:maxScoredEntries]
	}

	oppAmount, _ := awardIndicator(in.Opportunity)
	oppTokens := analyzeText(in.OpportunityText).tokens

	remaining := 1.0
	var best float64
	bestClient := ""
	for _, entry := range entries {
		agency := agencyAffinity(entry, in.Opportunity)
		dollar := dollarProximity(entry, oppAmount)
		domain := s.domainSimilarity(ctx, entry, in, oppTokens)
		score := ppAgencyWeight*agency + ppDollarWeight*dollar + ppDomainWeight*domain
		remaining *= 1 - clamp01(score)
		if score > best {
			best = score
			bestClient = entry.Client
		}
	}
	aggregate := 1 - remaining

	var recs []string
	if aggregate < weakComponentScore {
		buyer := in.Opportunity.Agency
		if buyer == "" {
			buyer = in.Opportunity.Department
		}
		if buyer != "" {
			recs = append(recs, fmt.Sprintf("Capture past-performance narratives relevant to %s", buyer))
		}
	}

	return storage.ComponentScore{
		Score:  clamp01(aggregate),
		Status: StatusOK,
		Evidence: map[string]interface{}{
			"entries_considered": len(entries),
			"best_client":        bestClient,
			"best_entry_score":   round3(best),
			"aggregation":        "diminishing_returns",
		},
		Recommendations:  recs,
		ProcessingTimeMs: elapsedMs(started),
	}
}

// agencyAffinity compares the entry's buyer against the notice's agency and
// department: exact name 1.0, containment 0.8, shared identity token 0.5.
func agencyAffinity(entry storage.PastPerformance, opp *storage.Opportunity) float64 {
	buyer := entry.Agency
	if buyer == "" {
		buyer = entry.Client
	}
	buyer = expandAgencyName(buyer)
	if buyer == "" {
		return 0
	}

	var best float64
	for _, side := range []string{opp.Agency, opp.Department} {
		side = expandAgencyName(side)
		if side == "" {
			continue
		}
		switch {
		case side == buyer:
			return 1.0
		case strings.Contains(side, buyer) || strings.Contains(buyer, side):
			if best < 0.8 {
				best = 0.8
			}
		case sharesIdentityToken(buyer, side):
			if best < 0.5 {
				best = 0.5
			}
		}
	}
	return best
}

// expandAgencyName normalizes an organization name, spelling out known
// acronyms so "USDA" meets "Department of Agriculture".
func expandAgencyName(name string) string {
	cleaned := normalizeAgencyName(name)
	if cleaned == "" {
		return ""
	}
	if expansion, ok := acronymExpansions[strings.ToLower(cleaned)]; ok {
		return strings.ToUpper(expansion)
	}
	return cleaned
}

func sharesIdentityToken(a, b string) bool {
	bTokens := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(b)) {
		bTokens[tok] = true
	}
	for _, tok := range strings.Fields(strings.ToLower(a)) {
		if len(tok) < 4 || agencyNameStopwords[tok] {
			continue
		}
		if bTokens[tok] {
			return true
		}
	}
	return false
}

// dollarProximity grades how close the entry's value is to the notice's
// size indicator on a log scale. Without a usable indicator the signal is
// neutral rather than punitive.
func dollarProximity(entry storage.PastPerformance, oppAmount float64) float64 {
	if oppAmount <= 0 {
		return 0.5
	}
	value := entry.Value.InexactFloat64()
	if value <= 0 {
		return 0
	}
	return logScaleFit(value, oppAmount)
}

// domainSimilarity prefers a semantic comparison of the entry against the
// notice's main embedding and falls back to token overlap when no embedder
// or opportunity vector is available.
func (s *PastPerformanceScorer) domainSimilarity(ctx context.Context, entry storage.PastPerformance, in *Input, oppTokens map[string]bool) float64 {
	text := strings.TrimSpace(entry.Client + " " + entry.Description)
	if text == "" {
		return 0
	}
	if s.embedder != nil && len(in.OpportunityVec) > 0 {
		if vec, err := s.embedder.Embed(ctx, text, embedding.RoleQuery); err == nil {
			return clamp01(cosine(vec, in.OpportunityVec))
		}
	}
	return overlapCoefficient(analyzeText(text).tokens, oppTokens)
}
