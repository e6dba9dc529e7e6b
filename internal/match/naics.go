package match

import (
	"context"
	"fmt"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// naicsLadder maps the shared prefix length between two codes to a score.
// Six digits is an exact industry match; two digits is only the sector.
var naicsLadder = map[int]float64{6: 1.0, 5: 0.8, 4: 0.6, 3: 0.4, 2: 0.2}

// NAICSScorer grades code alignment on the prefix ladder, taking the best
// code across the company's registered set.
type NAICSScorer struct{}

var _ Scorer = NAICSScorer{}

// Name implements Scorer.
func (NAICSScorer) Name() string { return ComponentNAICS }

// Score implements Scorer.
func (NAICSScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	oppCode := in.Opportunity.NAICSCode
	if oppCode == "" {
		return noData(started, "opportunity has no NAICS code")
	}
	if len(in.Profile.NAICSCodes) == 0 {
		return noData(started, "profile lists no NAICS codes")
	}

	var best float64
	bestCode := ""
	bestShared := 0
	for i, code := range in.Profile.NAICSCodes {
		shared := sharedDigits(oppCode, code)
		if shared > 6 {
			shared = 6
		}
		if s := naicsLadder[shared]; i == 0 || s > best {
			best, bestCode, bestShared = s, code, shared
		}
	}

	var recs []string
	if best < 0.6 {
		recs = append(recs, fmt.Sprintf("Register NAICS %s if the work is in scope", oppCode))
	}

	return storage.ComponentScore{
		Score:  best,
		Status: StatusOK,
		Evidence: map[string]interface{}{
			"opportunity_naics": oppCode,
			"best_company_code": bestCode,
			"shared_digits":     bestShared,
		},
		Recommendations:  recs,
		ProcessingTimeMs: elapsedMs(started),
	}
}

func sharedDigits(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
