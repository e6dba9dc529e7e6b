package match

import (
	"context"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Capacity heuristics. A single award is comfortable when it consumes no
// more than comfortableShare of annual revenue, and headcount converts to
// delivery capacity at revenuePerEmployee.
const (
	comfortableShare   = 0.4
	revenuePerEmployee = 200_000
	defaultAwardNorm   = 1_000_000
)

// revenueMidpoints are the dollar figures each band is compared at.
var revenueMidpoints = map[storage.RevenueRange]float64{
	storage.RevenueUnder1M: 500_000,
	storage.Revenue1To5M:   3_000_000,
	storage.Revenue5To10M:  7_500_000,
	storage.Revenue10To50M: 30_000_000,
	storage.RevenueOver50M: 75_000_000,
}

var employeeMidpoints = map[storage.EmployeeBand]float64{
	storage.Employees1To10:    5,
	storage.Employees11To50:   30,
	storage.Employees51To200:  125,
	storage.Employees201To500: 350,
	storage.EmployeesOver500:  750,
}

// agencyAwardNorms approximates typical award sizes by department for
// notices that carry no award amount.
var agencyAwardNorms = map[string]float64{
	"DEPARTMENT OF DEFENSE":                         5_000_000,
	"GENERAL SERVICES ADMINISTRATION":               2_000_000,
	"DEPARTMENT OF HOMELAND SECURITY":               2_500_000,
	"DEPARTMENT OF VETERANS AFFAIRS":                1_500_000,
	"DEPARTMENT OF HEALTH AND HUMAN SERVICES":       1_500_000,
	"DEPARTMENT OF ENERGY":                          3_000_000,
	"DEPARTMENT OF AGRICULTURE":                     1_000_000,
	"DEPARTMENT OF JUSTICE":                         1_500_000,
	"DEPARTMENT OF COMMERCE":                        1_000_000,
	"DEPARTMENT OF THE TREASURY":                    1_500_000,
	"DEPARTMENT OF TRANSPORTATION":                  2_000_000,
	"DEPARTMENT OF STATE":                           1_500_000,
	"NATIONAL AERONAUTICS AND SPACE ADMINISTRATION": 3_000_000,
}

func normalizeAgencyName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// CapacityScorer compares company scale to opportunity size. Revenue and
// headcount each produce a log-scale fit; the score is their mean over
// whichever bands the profile carries.
type CapacityScorer struct{}

var _ Scorer = CapacityScorer{}

// Name implements Scorer.
func (CapacityScorer) Name() string { return ComponentCapacity }

// Score implements Scorer.
func (CapacityScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	indicator, source := awardIndicator(in.Opportunity)

	revenueMid, hasRevenue := revenueMidpoints[in.Profile.RevenueRange]
	employeeMid, hasEmployees := employeeMidpoints[in.Profile.EmployeeCount]
	if !hasRevenue && !hasEmployees {
		return noData(started, "profile carries no revenue or headcount band")
	}

	evidence := map[string]interface{}{
		"award_indicator":  indicator,
		"indicator_source": source,
	}

	var total float64
	var parts int
	if hasRevenue {
		fit := logScaleFit(indicator, comfortableShare*revenueMid)
		evidence["revenue_fit"] = round3(fit)
		total += fit
		parts++
	}
	if hasEmployees {
		fit := logScaleFit(indicator, comfortableShare*employeeMid*revenuePerEmployee)
		evidence["headcount_fit"] = round3(fit)
		total += fit
		parts++
	}
	score := total / float64(parts)

	var recs []string
	if score < weakComponentScore && hasRevenue && indicator > comfortableShare*revenueMid {
		recs = append(recs, "Award size likely exceeds current delivery capacity; consider teaming")
	}

	return storage.ComponentScore{
		Score:            score,
		Status:           StatusOK,
		Evidence:         evidence,
		Recommendations:  recs,
		ProcessingTimeMs: elapsedMs(started),
	}
}
