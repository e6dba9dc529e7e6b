package opportunity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

func TestSegments_Composition(t *testing.T) {
	opp := &storage.Opportunity{
		NoticeID:    "OPP-1",
		Title:       "Cloud Migration Services",
		Description: "Migrate legacy systems to cloud infrastructure.",
		Department:  "DEPT OF DEFENSE",
		Office:      "ACC-REDSTONE",
		NAICSCode:   "541512",
		SetAside:    "Small Business Set-Aside",
		PlaceOfPerformance: &storage.Location{
			City:  "Huntsville",
			State: "AL",
		},
	}

	segs := Segments(opp)
	require.Len(t, segs, 6)

	byName := map[string]string{}
	for _, s := range segs {
		byName[s.Name] = s.Text
	}

	assert.Equal(t,
		"Cloud Migration Services\n"+
			"Migrate legacy systems to cloud infrastructure.\n"+
			"DEPT OF DEFENSE\n"+
			"ACC-REDSTONE\n"+
			"541512\n"+
			"Small Business Set-Aside\n"+
			"Huntsville, AL",
		byName[SegmentMain])
	assert.Equal(t, "Cloud Migration Services", byName[SegmentTitle])
	assert.Equal(t, "Migrate legacy systems to cloud infrastructure.", byName[SegmentDescription])
	assert.Equal(t, "DEPT OF DEFENSE - ACC-REDSTONE", byName[SegmentAgency])
	assert.Equal(t, "Huntsville, AL", byName[SegmentLocation])
	assert.Equal(t, "NAICS: 541512 - Small Business Set-Aside", byName[SegmentClassification])

	// Order is stable: main always leads.
	assert.Equal(t, SegmentMain, segs[0].Name)
}

func TestSegments_EmptyFieldsDropOut(t *testing.T) {
	opp := &storage.Opportunity{
		NoticeID:  "OPP-2",
		Title:     "Grounds Maintenance",
		NAICSCode: "561730",
	}

	segs := Segments(opp)
	byName := map[string]string{}
	for _, s := range segs {
		byName[s.Name] = s.Text
	}

	// Missing fields leave no separators behind.
	assert.Equal(t, "Grounds Maintenance\n561730", byName[SegmentMain])
	assert.Equal(t, "", byName[SegmentAgency])
	assert.Equal(t, "", byName[SegmentLocation])
	assert.Equal(t, "NAICS: 561730", byName[SegmentClassification], "no set-aside suffix without a set-aside")
}

func TestSegments_NoNAICSMeansNoClassification(t *testing.T) {
	opp := &storage.Opportunity{NoticeID: "OPP-3", Title: "Janitorial Services", SetAside: "8(a)"}

	segs := Segments(opp)
	for _, s := range segs {
		if s.Name == SegmentClassification {
			assert.Equal(t, "", s.Text)
		}
	}
}
