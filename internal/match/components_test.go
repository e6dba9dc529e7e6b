package match

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

var fixedNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func scoreInput(opp *storage.Opportunity, profile *storage.CompanyProfile) *Input {
	return &Input{Opportunity: opp, Profile: profile, Now: fixedNow}
}

func TestNAICSScorer_PrefixLadder(t *testing.T) {
	cases := []struct {
		name         string
		companyCodes []string
		want         float64
		wantShared   int
		wantCode     string
	}{
		{"exact code", []string{"541512"}, 1.0, 6, "541512"},
		{"same industry group", []string{"541511"}, 0.8, 5, "541511"},
		{"same subsector", []string{"541590"}, 0.6, 4, "541590"},
		{"sector only", []string{"540000"}, 0.2, 2, "540000"},
		{"unrelated", []string{"238220"}, 0.0, 0, "238220"},
		{"best code wins", []string{"238220", "541519"}, 0.8, 5, "541519"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := scoreInput(
				&storage.Opportunity{NAICSCode: "541512"},
				&storage.CompanyProfile{NAICSCodes: tc.companyCodes},
			)
			score := NAICSScorer{}.Score(context.Background(), in)

			require.Equal(t, StatusOK, score.Status)
			assert.InDelta(t, tc.want, score.Score, 1e-9)
			assert.Equal(t, tc.wantShared, score.Evidence["shared_digits"])
			assert.Equal(t, tc.wantCode, score.Evidence["best_company_code"])
			if tc.want < 0.6 {
				assert.Contains(t, score.Recommendations, "Register NAICS 541512 if the work is in scope")
			} else {
				assert.Empty(t, score.Recommendations)
			}
		})
	}
}

func TestNAICSScorer_MissingCodesAreNoData(t *testing.T) {
	score := NAICSScorer{}.Score(context.Background(), scoreInput(
		&storage.Opportunity{},
		&storage.CompanyProfile{NAICSCodes: []string{"541512"}},
	))
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "opportunity has no NAICS code", score.Evidence["reason"])

	score = NAICSScorer{}.Score(context.Background(), scoreInput(
		&storage.Opportunity{NAICSCode: "541512"},
		&storage.CompanyProfile{},
	))
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "profile lists no NAICS codes", score.Evidence["reason"])
}

func TestCertificationScorer_OpenCompetition(t *testing.T) {
	score := CertificationScorer{}.Score(context.Background(), scoreInput(
		&storage.Opportunity{},
		&storage.CompanyProfile{},
	))

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, 1.0, score.Score, 1e-9)
	assert.Equal(t, true, score.Evidence["open_competition"])
}

func TestCertificationScorer_SetAsides(t *testing.T) {
	cases := []struct {
		name      string
		code      string
		label     string
		certs     []string
		want      float64
		wantExtra []string
	}{
		{"qualifying certification", "SBA", "", []string{"Small Business"}, 1.0, []string{}},
		{"implied by a program", "SBA", "", []string{"8(a)"}, 1.05, []string{"8A"}},
		{"service-disabled covers veteran-owned", "VSA", "", []string{"Service-Disabled Veteran-Owned Small Business"}, 1.0, []string{"SDVOSB"}},
		{"missing with a consolation bonus", "", "Women-Owned Small Business Set-Aside", []string{"HUBZone"}, 0.05, []string{"HUBZONE"}},
		{"missing entirely", "8AN", "", nil, 0.0, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := scoreInput(
				&storage.Opportunity{SetAsideCode: tc.code, SetAside: tc.label},
				&storage.CompanyProfile{Certifications: tc.certs},
			)
			score := CertificationScorer{}.Score(context.Background(), in)

			require.Equal(t, StatusOK, score.Status)
			assert.InDelta(t, clamp01(tc.want), score.Score, 1e-9)
			assert.Equal(t, tc.wantExtra, score.Evidence["extra_programs"])
			if tc.want < 1.0 {
				require.NotEmpty(t, score.Recommendations)
				assert.Contains(t, score.Recommendations[0], "Obtain")
			}
		})
	}
}

func TestGeographicScorer_Relationships(t *testing.T) {
	cases := []struct {
		name         string
		place        *storage.Location
		description  string
		locations    []storage.Location
		want         float64
		relationship string
	}{
		{"no constraint", nil, "", []storage.Location{{State: "VA"}}, 1.0, "no_constraint"},
		{"remote delivery", &storage.Location{State: "TX"}, "Telework authorized for all tasks.", []storage.Location{{State: "VA"}}, 1.0, "remote_allowed"},
		{"same state", &storage.Location{State: "VA"}, "", []storage.Location{{State: "VA"}}, 1.0, "same_state"},
		{"full names normalize", &storage.Location{State: "Virginia"}, "", []storage.Location{{State: "virginia"}}, 1.0, "same_state"},
		{"adjacent state", &storage.Location{State: "VA"}, "", []storage.Location{{State: "MD"}}, 0.6, "adjacent_state"},
		{"same division", &storage.Location{State: "FL"}, "", []storage.Location{{State: "NC"}}, 0.6, "same_region"},
		{"same region is not same division", &storage.Location{State: "TX"}, "", []storage.Location{{State: "VA"}}, 0.2, "distant"},
		{"distant", &storage.Location{State: "CA"}, "", []storage.Location{{State: "FL"}}, 0.2, "distant"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := scoreInput(
				&storage.Opportunity{PlaceOfPerformance: tc.place, Description: tc.description},
				&storage.CompanyProfile{Locations: tc.locations},
			)
			score := GeographicScorer{}.Score(context.Background(), in)

			require.Equal(t, StatusOK, score.Status)
			assert.InDelta(t, tc.want, score.Score, 1e-9)
			assert.Equal(t, tc.relationship, score.Evidence["relationship"])
			if tc.relationship == "distant" {
				assert.Contains(t, score.Recommendations,
					"Line up delivery presence or partners near "+tc.place.State)
			}
		})
	}
}

func TestGeographicScorer_NoLocationsIsNoData(t *testing.T) {
	score := GeographicScorer{}.Score(context.Background(), scoreInput(
		&storage.Opportunity{PlaceOfPerformance: &storage.Location{State: "VA"}},
		&storage.CompanyProfile{},
	))
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "profile lists no locations", score.Evidence["reason"])
}

func TestCapacityScorer_RevenueFit(t *testing.T) {
	// A 3M award against a 5-10M company: the band midpoint is 7.5M, and
	// 40% of that is exactly the award, so the fit is perfect.
	in := scoreInput(
		&storage.Opportunity{Award: &storage.AwardInfo{Amount: decimal.NewFromInt(3_000_000)}},
		&storage.CompanyProfile{RevenueRange: storage.Revenue5To10M},
	)
	score := CapacityScorer{}.Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, 1.0, score.Score, 1e-9)
	assert.Equal(t, "award_amount", score.Evidence["indicator_source"])
	assert.InDelta(t, 1.0, score.Evidence["revenue_fit"].(float64), 1e-9)
	assert.Empty(t, score.Recommendations)
}

func TestCapacityScorer_OverreachScoresZero(t *testing.T) {
	in := scoreInput(
		&storage.Opportunity{Award: &storage.AwardInfo{Amount: decimal.NewFromInt(30_000_000)}},
		&storage.CompanyProfile{RevenueRange: storage.RevenueUnder1M},
	)
	score := CapacityScorer{}.Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, 0.0, score.Score, 1e-9)
	assert.Contains(t, score.Recommendations, "Award size likely exceeds current delivery capacity; consider teaming")
}

func TestCapacityScorer_AgencyNorms(t *testing.T) {
	// No award amount: defense notices are judged at the 5M norm.
	in := scoreInput(
		&storage.Opportunity{Department: "Department of Defense"},
		&storage.CompanyProfile{RevenueRange: storage.Revenue10To50M},
	)
	score := CapacityScorer{}.Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	assert.Equal(t, "agency_norm", score.Evidence["indicator_source"])
	assert.Equal(t, float64(5_000_000), score.Evidence["award_indicator"])
	assert.InDelta(t, 0.8099, score.Score, 1e-3)

	// Unknown departments fall back to the generic norm.
	in = scoreInput(
		&storage.Opportunity{Department: "City of Springfield"},
		&storage.CompanyProfile{RevenueRange: storage.Revenue1To5M},
	)
	score = CapacityScorer{}.Score(context.Background(), in)
	assert.Equal(t, "default_norm", score.Evidence["indicator_source"])
	assert.Equal(t, float64(1_000_000), score.Evidence["award_indicator"])
}

func TestCapacityScorer_BlendsRevenueAndHeadcount(t *testing.T) {
	in := scoreInput(
		&storage.Opportunity{Award: &storage.AwardInfo{Amount: decimal.NewFromInt(3_000_000)}},
		&storage.CompanyProfile{
			RevenueRange:  storage.Revenue5To10M,
			EmployeeCount: storage.Employees51To200,
		},
	)
	score := CapacityScorer{}.Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	// Revenue fit is 1.0; 125 employees imply 10M delivery capacity, so the
	// headcount fit is 1 - |log10(3/10)|/2 and the score is the mean.
	headcount := 1 - math.Abs(math.Log10(3.0/10.0))/2
	assert.InDelta(t, (1.0+headcount)/2, score.Score, 1e-9)
}

func TestCapacityScorer_NoBandsIsNoData(t *testing.T) {
	score := CapacityScorer{}.Score(context.Background(), scoreInput(
		&storage.Opportunity{},
		&storage.CompanyProfile{},
	))
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "profile carries no revenue or headcount band", score.Evidence["reason"])
}

func TestRecencyScorer_Decay(t *testing.T) {
	end := fixedNow.Add(-365 * 24 * time.Hour)
	in := scoreInput(&storage.Opportunity{}, &storage.CompanyProfile{
		PastPerformance: []storage.PastPerformance{{Client: "GSA", EndDate: &end}},
	})
	score := RecencyScorer{}.Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, math.Exp(-1), score.Score, 1e-9)
	assert.Equal(t, 365, score.Evidence["days_since"])
}

func TestRecencyScorer_OngoingWorkScoresFull(t *testing.T) {
	start := fixedNow.Add(-90 * 24 * time.Hour)
	in := scoreInput(&storage.Opportunity{}, &storage.CompanyProfile{
		PastPerformance: []storage.PastPerformance{{Client: "GSA", StartDate: &start}},
	})
	score := RecencyScorer{}.Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, 1.0, score.Score, 1e-9)
	assert.Equal(t, true, score.Evidence["ongoing_engagement"])
}

func TestRecencyScorer_StaleWorkRecommends(t *testing.T) {
	end := fixedNow.Add(-3 * 365 * 24 * time.Hour)
	in := scoreInput(&storage.Opportunity{}, &storage.CompanyProfile{
		PastPerformance: []storage.PastPerformance{{Client: "GSA", EndDate: &end}},
	})
	score := RecencyScorer{}.Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	assert.InDelta(t, math.Exp(-3), score.Score, 1e-9)
	assert.Contains(t, score.Recommendations, "Surface more recent comparable engagements on the profile")
}

func TestRecencyScorer_NoData(t *testing.T) {
	score := RecencyScorer{}.Score(context.Background(), scoreInput(
		&storage.Opportunity{}, &storage.CompanyProfile{},
	))
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "profile has no past performance", score.Evidence["reason"])

	score = RecencyScorer{}.Score(context.Background(), scoreInput(
		&storage.Opportunity{}, &storage.CompanyProfile{
			PastPerformance: []storage.PastPerformance{{Client: "GSA"}},
		},
	))
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "past performance carries no dates", score.Evidence["reason"])
}

func TestPastPerformanceScorer_PerfectEntry(t *testing.T) {
	in := scoreInput(
		&storage.Opportunity{Department: "Department of Defense"},
		&storage.CompanyProfile{
			PastPerformance: []storage.PastPerformance{{
				Client:      "US Army",
				Agency:      "DoD",
				Description: "Cloud migration and data analytics services",
				Value:       decimal.NewFromInt(5_000_000),
			}},
		},
	)
	in.OpportunityText = "Cloud migration and data analytics services."

	score := NewPastPerformanceScorer(nil).Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	// Agency expands DoD to an exact department match, the value sits on
	// the DoD norm, and every notice term appears in the entry.
	assert.InDelta(t, 1.0, score.Score, 1e-9)
	assert.Equal(t, "US Army", score.Evidence["best_client"])
	assert.Equal(t, 1, score.Evidence["entries_considered"])
	assert.Equal(t, "diminishing_returns", score.Evidence["aggregation"])
}

func TestPastPerformanceScorer_DiminishingReturns(t *testing.T) {
	entry := storage.PastPerformance{
		Client:      "Acme Corp",
		Description: "foundry operations",
		Value:       decimal.NewFromInt(1_000_000),
	}
	in := scoreInput(
		&storage.Opportunity{
			Department: "Department of Energy",
			Award:      &storage.AwardInfo{Amount: decimal.NewFromInt(1_000_000)},
		},
		&storage.CompanyProfile{PastPerformance: []storage.PastPerformance{entry, entry}},
	)
	in.OpportunityText = "Cloud migration services."

	score := NewPastPerformanceScorer(nil).Score(context.Background(), in)

	require.Equal(t, StatusOK, score.Status)
	// Each entry scores 0.3 on dollar proximity alone; two of them
	// aggregate to 1 - 0.7*0.7.
	assert.InDelta(t, 0.51, score.Score, 1e-9)
	assert.Equal(t, 2, score.Evidence["entries_considered"])
	assert.InDelta(t, 0.3, score.Evidence["best_entry_score"].(float64), 1e-9)
}

func TestPastPerformanceScorer_NoEntriesIsNoData(t *testing.T) {
	score := NewPastPerformanceScorer(nil).Score(context.Background(), scoreInput(
		&storage.Opportunity{}, &storage.CompanyProfile{},
	))
	assert.Equal(t, StatusNoData, score.Status)
	assert.Equal(t, "profile has no past performance", score.Evidence["reason"])
}

func TestAgencyAffinity_Tiers(t *testing.T) {
	dva := &storage.Opportunity{Department: "Department of Veterans Affairs"}
	cases := []struct {
		name  string
		entry storage.PastPerformance
		opp   *storage.Opportunity
		want  float64
	}{
		{"acronym expands to exact", storage.PastPerformance{Agency: "VA"},
			&storage.Opportunity{Agency: "Veterans Affairs"}, 1.0},
		{"expansion inside the department name", storage.PastPerformance{Agency: "VA"}, dva, 0.8},
		{"containment", storage.PastPerformance{Agency: "Department of Veterans Affairs Office of Information"}, dva, 0.8},
		{"shared identity token", storage.PastPerformance{Client: "Veterans Health Administration"}, dva, 0.5},
		{"unrelated buyer", storage.PastPerformance{Client: "Acme Corp"}, dva, 0.0},
		{"no buyer", storage.PastPerformance{}, dva, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, agencyAffinity(tc.entry, tc.opp), 1e-9)
		})
	}
}
