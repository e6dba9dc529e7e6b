package match

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// overQualificationBonus is added per socioeconomic program held beyond
// what the set-aside asks for.
const overQualificationBonus = 0.05

// setAsideCertifications maps SAM.gov set-aside codes to the normalized
// certifications a bidder must hold.
var setAsideCertifications = map[string][]string{
	"SBA":      {"SMALL BUSINESS"},
	"SBP":      {"SMALL BUSINESS"},
	"8A":       {"8A"},
	"8AN":      {"8A"},
	"HZC":      {"HUBZONE"},
	"HZS":      {"HUBZONE"},
	"WOSB":     {"WOSB"},
	"WOSBSS":   {"WOSB"},
	"EDWOSB":   {"EDWOSB"},
	"EDWOSBSS": {"EDWOSB"},
	"SDVOSBC":  {"SDVOSB"},
	"SDVOSBS":  {"SDVOSB"},
	"VSA":      {"VOSB"},
	"VSS":      {"VOSB"},
}

// certificationAliases folds the spellings seen on profiles and notices
// into canonical program names.
var certificationAliases = map[string]string{
	"8(A)": "8A",
	"HUB ZONE": "HUBZONE",
	"WOMAN-OWNED SMALL BUSINESS":  "WOSB",
	"WOMEN-OWNED SMALL BUSINESS":  "WOSB",
	"ECONOMICALLY DISADVANTAGED WOMEN-OWNED SMALL BUSINESS": "EDWOSB",
	"VETERAN-OWNED SMALL BUSINESS":                          "VOSB",
	"SERVICE-DISABLED VETERAN-OWNED SMALL BUSINESS":         "SDVOSB",
	"SERVICE DISABLED VETERAN-OWNED SMALL BUSINESS":         "SDVOSB",
	"SMALL DISADVANTAGED BUSINESS":                          "SDB",
	"SB": "SMALL BUSINESS",
}

// certificationImplies expands held programs with what they subsume: every
// socioeconomic program requires small-business status, service-disabled
// veteran status covers plain veteran-owned requirements, and EDWOSB covers
// WOSB. Lists carry the transitive closure.
var certificationImplies = map[string][]string{
	"8A":      {"SMALL BUSINESS"},
	"HUBZONE": {"SMALL BUSINESS"},
	"WOSB":    {"SMALL BUSINESS"},
	"EDWOSB":  {"WOSB", "SMALL BUSINESS"},
	"VOSB":    {"SMALL BUSINESS"},
	"SDVOSB":  {"VOSB", "SMALL BUSINESS"},
	"SDB":     {"SMALL BUSINESS"},
}

// socioeconomicPrograms are the programs that count toward the
// over-qualification bonus.
var socioeconomicPrograms = buildSet(
	"8A", "HUBZONE", "WOSB", "EDWOSB", "VOSB", "SDVOSB", "SDB",
)

// normalizeCertification folds one certification string to its canonical
// program name. Unknown certifications pass through uppercased.
func normalizeCertification(cert string) string {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(cert), " "))
	if canonical, ok := certificationAliases[cleaned]; ok {
		return canonical
	}
	return cleaned
}

// certificationSet normalizes a profile's certifications and expands the
// programs they imply.
func certificationSet(certs []string) map[string]bool {
	held := make(map[string]bool, len(certs))
	for _, cert := range certs {
		canonical := normalizeCertification(cert)
		if canonical == "" {
			continue
		}
		held[canonical] = true
		for _, implied := range certificationImplies[canonical] {
			held[implied] = true
		}
	}
	return held
}

// requiredCertifications resolves an opportunity's set-aside to the
// certifications it demands. An empty result means open competition.
func requiredCertifications(opp *storage.Opportunity) []string {
	code := strings.ToUpper(strings.TrimSpace(opp.SetAsideCode))
	if required, ok := setAsideCertifications[code]; ok {
		return required
	}
	// Unknown or missing codes fall back to sniffing the human label.
	label := strings.ToLower(opp.SetAside)
	switch {
	case label == "":
		return nil
	case strings.Contains(label, "8(a)"):
		return []string{"8A"}
	case strings.Contains(label, "hubzone"):
		return []string{"HUBZONE"}
	case strings.Contains(label, "economically disadvantaged women"):
		return []string{"EDWOSB"}
	case strings.Contains(label, "women"):
		return []string{"WOSB"}
	case strings.Contains(label, "service-disabled"), strings.Contains(label, "service disabled"):
		return []string{"SDVOSB"}
	case strings.Contains(label, "veteran"):
		return []string{"VOSB"}
	case strings.Contains(label, "small business"):
		return []string{"SMALL BUSINESS"}
	}
	return nil
}

// CertificationScorer grades set-aside eligibility: the fraction of
// required certifications held, plus a small bonus for socioeconomic
// programs beyond the ask. Open competitions score 1.0 for everyone.
type CertificationScorer struct{}

var _ Scorer = CertificationScorer{}

// Name implements Scorer.
func (CertificationScorer) Name() string { return ComponentCertification }

// Score implements Scorer.
func (CertificationScorer) Score(ctx context.Context, in *Input) storage.ComponentScore {
	started := time.Now()
	required := requiredCertifications(in.Opportunity)
	if len(required) == 0 {
		return storage.ComponentScore{
			Score:  1,
			Status: StatusOK,
			Evidence: map[string]interface{}{
				"open_competition": true,
				"set_aside":        in.Opportunity.SetAside,
			},
			ProcessingTimeMs: elapsedMs(started),
		}
	}

	held := certificationSet(in.Profile.Certifications)
	requiredSet := make(map[string]bool, len(required))
	matched := make([]string, 0, len(required))
	missing := make([]string, 0, len(required))
	for _, req := range required {
		requiredSet[req] = true
		if held[req] {
			matched = append(matched, req)
		} else {
			missing = append(missing, req)
		}
	}
	score := float64(len(matched)) / float64(len(required))

	// Bonus counts literal programs on the profile, not implied ones.
	extra := make([]string, 0, len(in.Profile.Certifications))
	for _, cert := range in.Profile.Certifications {
		canonical := normalizeCertification(cert)
		if socioeconomicPrograms[canonical] && !requiredSet[canonical] {
			extra = append(extra, canonical)
		}
	}
	sort.Strings(extra)
	score = clamp01(score + overQualificationBonus*float64(len(extra)))

	var recs []string
	if len(missing) > 0 {
		recs = append(recs, fmt.Sprintf("Obtain %s certification to qualify for this set-aside",
			strings.Join(missing, ", ")))
	}

	return storage.ComponentScore{
		Score:  score,
		Status: StatusOK,
		Evidence: map[string]interface{}{
			"set_aside_code": in.Opportunity.SetAsideCode,
			"required":       required,
			"matched":        matched,
			"extra_programs": extra,
		},
		Recommendations:  recs,
		ProcessingTimeMs: elapsedMs(started),
	}
}
