package match

import (
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// FilterDetails records the outcome of each quick-filter check.
type FilterDetails struct {
	Archived         bool `json:"archived"`
	NAICSFamilyMatch bool `json:"naics_family_match"`
	SetAsideEligible bool `json:"set_aside_eligible"`
	StateOverlap     bool `json:"state_overlap"`
}

// FilterResult is the quick-filter verdict for one pair.
type FilterResult struct {
	IsPotentialMatch bool          `json:"is_potential_match"`
	Details          FilterDetails `json:"filter_details"`
}

// QuickFilter rejects obviously incompatible pairs before any scoring work
// is spent on them. Every check is a pure field comparison; a side that
// carries no data for a check imposes no constraint. State overlap is
// reported but does not gate: a company's listed offices are presence
// data, not a service-area restriction, so distance is the geographic
// scorer's penalty to assess rather than grounds for exclusion.
type QuickFilter struct{}

// Evaluate runs the four compatibility checks.
func (QuickFilter) Evaluate(opp *storage.Opportunity, profile *storage.CompanyProfile) FilterResult {
	details := FilterDetails{
		Archived:         opp.Status == storage.OpportunityStatusArchived,
		NAICSFamilyMatch: naicsFamilyMatch(opp.NAICSCode, profile.NAICSCodes),
		SetAsideEligible: setAsideEligible(opp, profile),
		StateOverlap:     stateOverlap(opp.PlaceOfPerformance, profile.Locations),
	}
	return FilterResult{
		IsPotentialMatch: !details.Archived &&
			details.NAICSFamilyMatch &&
			details.SetAsideEligible,
		Details: details,
	}
}

// naicsFamilyMatch passes when the two sides share a 2-digit sector prefix.
func naicsFamilyMatch(oppCode string, companyCodes []string) bool {
	if len(oppCode) < 2 || len(companyCodes) == 0 {
		return true
	}
	family := oppCode[:2]
	for _, code := range companyCodes {
		if len(code) >= 2 && code[:2] == family {
			return true
		}
	}
	return false
}

// setAsideEligible passes open competitions and any set-aside for which the
// company holds at least one qualifying certification.
func setAsideEligible(opp *storage.Opportunity, profile *storage.CompanyProfile) bool {
	required := requiredCertifications(opp)
	if len(required) == 0 {
		return true
	}
	held := certificationSet(profile.Certifications)
	for _, cert := range required {
		if held[cert] {
			return true
		}
	}
	return false
}

// stateOverlap fails only on a definite conflict: both sides name states
// and none coincide.
func stateOverlap(place *storage.Location, locations []storage.Location) bool {
	if place == nil {
		return true
	}
	target := normalizeState(place.State)
	if target == "" || len(locations) == 0 {
		return true
	}
	named := 0
	for _, loc := range locations {
		state := normalizeState(loc.State)
		if state == "" {
			continue
		}
		named++
		if state == target {
			return true
		}
	}
	return named == 0
}
