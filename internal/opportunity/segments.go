package opportunity

import (
	"strings"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Segment names double as embedding content types and key suffixes.
const (
	SegmentMain           = "main"
	SegmentTitle          = "title"
	SegmentDescription    = "description"
	SegmentAgency         = "agency"
	SegmentLocation       = "location"
	SegmentClassification = "classification"
)

// minSegmentChars is the floor below which a segment is not worth embedding.
const minSegmentChars = 10

// Segment is one embeddable text view of an opportunity.
type Segment struct {
	Name string
	Text string
}

// Segments composes the embeddable text views of a notice in a stable order.
// Callers skip segments shorter than minSegmentChars.
func Segments(opp *storage.Opportunity) []Segment {
	return []Segment{
		{Name: SegmentMain, Text: mainText(opp)},
		{Name: SegmentTitle, Text: opp.Title},
		{Name: SegmentDescription, Text: opp.Description},
		{Name: SegmentAgency, Text: agencyText(opp)},
		{Name: SegmentLocation, Text: locationText(opp.PlaceOfPerformance)},
		{Name: SegmentClassification, Text: classificationText(opp)},
	}
}

// mainText is the primary similarity target: title, description, org path,
// classification, and place joined by newlines.
func mainText(opp *storage.Opportunity) string {
	return joinNonEmpty("\n",
		opp.Title,
		opp.Description,
		opp.Department,
		opp.Office,
		opp.NAICSCode,
		opp.SetAside,
		cityState(opp.PlaceOfPerformance),
	)
}

func agencyText(opp *storage.Opportunity) string {
	return joinNonEmpty(" - ", opp.Department, opp.Office)
}

func locationText(loc *storage.Location) string {
	if loc == nil {
		return ""
	}
	return joinNonEmpty(", ", loc.Address, loc.City, loc.State, loc.Zip, loc.Country)
}

func cityState(loc *storage.Location) string {
	if loc == nil {
		return ""
	}
	return joinNonEmpty(", ", loc.City, loc.State)
}

func classificationText(opp *storage.Opportunity) string {
	if opp.NAICSCode == "" {
		return ""
	}
	text := "NAICS: " + opp.NAICSCode
	if opp.SetAside != "" {
		text += " - " + opp.SetAside
	}
	return text
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
