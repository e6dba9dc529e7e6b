package match

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Geographic relationship scores.
const (
	geoSameState = 1.0
	geoNearby    = 0.6
	geoDistant   = 0.2
)

var remotePattern = regexp.MustCompile(`(?i)\b(remote|telework|teleworking|work[- ]from[- ]home|performed virtually)\b`)

// stateNames folds full state names to postal codes.
var stateNames = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT",
	"DELAWARE": "DE", "FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI",
	"IDAHO": "ID", "ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA",
	"KANSAS": "KS", "KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME",
	"MARYLAND": "MD", "MASSACHUSETTS": "MA", "MICHIGAN": "MI",
	"MINNESOTA": "MN", "MISSISSIPPI": "MS", "MISSOURI": "MO",
	"MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV",
	"NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM",
	"NEW YORK": "NY", "NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND",
	"OHIO": "OH", "OKLAHOMA": "OK", "OREGON": "OR", "PENNSYLVANIA": "PA",
	"RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC", "SOUTH DAKOTA": "SD",
	"TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT", "VERMONT": "VT",
	"VIRGINIA": "VA", "WASHINGTON": "WA", "WEST VIRGINIA": "WV",
	"WISCONSIN": "WI", "WYOMING": "WY", "DISTRICT OF COLUMBIA": "DC",
	"WASHINGTON DC": "DC", "WASHINGTON D.C.": "DC",
}

// stateAdjacency lists land borders; DC is treated as bordering its metro
// neighbors. AK and HI border nothing.
var stateAdjacency = map[string][]string{
	"AL": {"FL", "GA", "MS", "TN"},
	"AK": {},
	"AZ": {"CA", "CO", "NM", "NV", "UT"},
	"AR": {"LA", "MO", "MS", "OK", "TN", "TX"},
	"CA": {"AZ", "NV", "OR"},
	"CO": {"AZ", "KS", "NE", "NM", "OK", "UT", "WY"},
	"CT": {"MA", "NY", "RI"},
	"DE": {"MD", "NJ", "PA"},
	"FL": {"AL", "GA"},
	"GA": {"AL", "FL", "NC", "SC", "TN"},
	"HI": {},
	"ID": {"MT", "NV", "OR", "UT", "WA", "WY"},
	"IL": {"IA", "IN", "KY", "MO", "WI"},
	"IN": {"IL", "KY", "MI", "OH"},
	"IA": {"IL", "MN", "MO", "NE", "SD", "WI"},
	"KS": {"CO", "MO", "NE", "OK"},
	"KY": {"IL", "IN", "MO", "OH", "TN", "VA", "WV"},
	"LA": {"AR", "MS", "TX"},
	"ME": {"NH"},
	"MD": {"DC", "DE", "PA", "VA", "WV"},
	"MA": {"CT", "NH", "NY", "RI", "VT"},
	"MI": {"IN", "OH", "WI"},
	"MN": {"IA", "ND", "SD", "WI"},
	"MS": {"AL", "AR", "LA", "TN"},
	"MO": {"AR", "IA", "IL", "KS", "KY", "NE", "OK", "TN"},
	"MT": {"ID", "ND", "SD", "WY"},
	"NE": {"CO", "IA", "KS", "MO", "SD", "WY"},
	"NV": {"AZ", "CA", "ID", "OR", "UT"},
	"NH": {"MA", "ME", "VT"},
	"NJ": {"DE", "NY", "PA"},
	"NM": {"AZ", "CO", "OK", "TX", "UT"},
	"NY": {"CT", "MA", "NJ", "PA", "VT"},
	"NC": {"GA", "SC", "TN", "VA"},
	"ND": {"MN", "MT", "SD"},
	"OH": {"IN", "KY", "MI", "PA", "WV"},
	"OK": {"AR", "CO", "KS", "MO", "NM", "TX"},
	"OR": {"CA", "ID", "NV", "WA"},
	"PA": {"DE", "MD", "NJ", "NY", "OH", "WV"},
	"RI": {"CT", "MA"},
	"SC": {"GA", "NC"},
	"SD": {"IA", "MN", "MT", "ND", "NE", "WY"},
	"TN": {"AL", "AR", "GA", "KY", "MO", "MS", "NC", "VA"},
	"TX": {"AR", "LA", "NM", "OK"},
	"UT": {"AZ", "CO", "ID", "NM", "NV", "WY"},
	"VT": {"MA", "NH", "NY"},
	"VA": {"DC", "KY", "MD", "NC", "TN", "WV"},
	"WA": {"ID", "OR"},
	"WV": {"KY", "MD", "OH", "PA", "VA"},
	"WI": {"IA", "IL", "MI", "MN"},
	"WY": {"CO", "ID", "MT", "NE", "SD", "UT"},
	"DC": {"MD", "VA"},
}

// stateRegions groups states into the nine census divisions. The four
// top-level census regions are too coarse here: they lump Virginia and
// Texas into one "south", which would grade a Richmond shop as nearby for
// an Austin job.
var stateRegions = map[string]string{
	"CT": "new_england", "ME": "new_england", "MA": "new_england",
	"NH": "new_england", "RI": "new_england", "VT": "new_england",
	"NJ": "middle_atlantic", "NY": "middle_atlantic", "PA": "middle_atlantic",
	"IL": "east_north_central", "IN": "east_north_central",
	"MI": "east_north_central", "OH": "east_north_central",
	"WI": "east_north_central",
	"IA": "west_north_central", "KS": "west_north_central",
	"MN": "west_north_central", "MO": "west_north_central",
	"NE": "west_north_central", "ND": "west_north_central",
	"SD": "west_north_central",
	"DE": "south_atlantic", "FL": "south_atlantic", "GA": "south_atlantic",
	"MD": "south_atlantic", "NC": "south_atlantic", "SC": "south_atlantic",
	"VA": "south_atlantic", "DC": "south_atlantic", "WV": "south_atlantic",
	"AL": "east_south_central", "KY": "east_south_central",
	"MS": "east_south_central", "TN": "east_south_central",
	"AR": "west_south_central", "LA": "west_south_central",
	"OK": "west_south_central", "TX": "west_south_central",
	"AZ": "mountain", "CO": "mountain", "ID": "mountain", "MT": "mountain",
	"NV": "mountain", "NM": "mountain", "UT": "mountain", "WY": "mountain",
	"AK": "pacific", "CA": "pacific", "HI": "pacific", "OR": "pacific",
	"WA": "pacific",
}

// normalizeState folds a state string to its postal code; unknown values
// come back empty.
func normalizeState(state string) string {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(state), " "))
	if len(cleaned) == 2 {
		if _, ok := stateRegions[cleaned]; ok {
			return cleaned
		}
		return ""
	}
	return stateNames[cleaned]
}

// GeographicScorer grades company presence against the place of
// performance. Notices without a location constraint, and notices that
// allow remote delivery, score full marks.
type GeographicScorer struct{}

var _ Scorer = GeographicScorer{}

// Name implements Scorer.
func (GeographicScorer) Name() string { return ComponentGeographic }

// Score implements Scorer.
func (GeographicScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	place := in.Opportunity.PlaceOfPerformance
	target := ""
	if place != nil {
		target = normalizeState(place.State)
	}
	if target == "" {
		return geoScore(started, geoSameState, "no_constraint", "", nil, nil)
	}
	if remotePattern.MatchString(in.Opportunity.Description) {
		return geoScore(started, geoSameState, "remote_allowed", target, nil, nil)
	}

	states := companyStates(in.Profile.Locations)
	if len(states) == 0 {
		return noData(started, "profile lists no locations")
	}

	if states[target] {
		return geoScore(started, geoSameState, "same_state", target, states, nil)
	}
	adjacent := stateAdjacency[target]
	for _, neighbor := range adjacent {
		if states[neighbor] {
			return geoScore(started, geoNearby, "adjacent_state", target, states, nil)
		}
	}
	region := stateRegions[target]
	for state := range states {
		if region != "" && stateRegions[state] == region {
			return geoScore(started, geoNearby, "same_region", target, states, nil)
		}
	}

	recs := []string{fmt.Sprintf("Line up delivery presence or partners near %s", target)}
	return geoScore(started, geoDistant, "distant", target, states, recs)
}

func companyStates(locations []storage.Location) map[string]bool {
	states := make(map[string]bool, len(locations))
	for _, loc := range locations {
		if state := normalizeState(loc.State); state != "" {
			states[state] = true
		}
	}
	return states
}

func geoScore(started time.Time, score float64, relationship, target string, states map[string]bool, recs []string) storage.ComponentScore {
	evidence := map[string]interface{}{"relationship": relationship}
	if target != "" {
		evidence["place_of_performance"] = target
	}
	if len(states) > 0 {
		list := make([]string, 0, len(states))
		for s := range states {
			list = append(list, s)
		}
		sort.Strings(list)
		evidence["company_states"] = list
	}
	return storage.ComponentScore{
		Score:            score,
		Status:           StatusOK,
		Evidence:         evidence,
		Recommendations:  recs,
		ProcessingTimeMs: elapsedMs(started),
	}
}
