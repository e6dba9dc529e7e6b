package match

import (
	"context"
	"math"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// recencyEFoldingDays is the decay constant: a year-old engagement scores
// 1/e of a current one.
const recencyEFoldingDays = 365.0

// RecencyScorer rewards recent delivery work. The most recent dated
// past-performance entry sets the score; an entry with a start date and no
// end date counts as ongoing.
type RecencyScorer struct{}

var _ Scorer = RecencyScorer{}

// Name implements Scorer.
func (RecencyScorer) Name() string { return ComponentRecency }

// Score implements Scorer.
func (RecencyScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	if len(in.Profile.PastPerformance) == 0 {
		return noData(started, "profile has no past performance")
	}

	var latest time.Time
	ongoing := false
	for _, entry := range in.Profile.PastPerformance {
		if entry.EndDate == nil {
			if entry.StartDate != nil {
				ongoing = true
			}
			continue
		}
		if entry.EndDate.After(latest) {
			latest = *entry.EndDate
		}
	}

	if ongoing {
		return storage.ComponentScore{
			Score:            1,
			Status:           StatusOK,
			Evidence:         map[string]interface{}{"ongoing_engagement": true},
			ProcessingTimeMs: elapsedMs(started),
		}
	}
	if latest.IsZero() {
		return noData(started, "past performance carries no dates")
	}

	days := in.Now.Sub(latest).Hours() / 24
	if days < 0 {
		days = 0
	}
	score := math.Exp(-days / recencyEFoldingDays)

	var recs []string
	if score < weakComponentScore {
		recs = append(recs, "Surface more recent comparable engagements on the profile")
	}

	return storage.ComponentScore{
		Score:  score,
		Status: StatusOK,
		Evidence: map[string]interface{}{
			"most_recent_end": latest.UTC().Format(time.RFC3339),
			"days_since":      int(days),
		},
		Recommendations:  recs,
		ProcessingTimeMs: elapsedMs(started),
	}
}
