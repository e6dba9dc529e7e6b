package opportunity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", "2025-06-15T10:30:00Z", time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)},
		{"iso with compact offset", "2025-06-15T10:30:00-0400", time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)},
		{"rfc3339 converts to utc", "2025-06-15T10:30:00-04:00", time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)},
		{"date only", "2025-06-15", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"us slashes", "06/15/2025", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"us slashes no padding", "6/5/2025", time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)},
		{"spelled month", "Jun 15, 2025", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"surrounding whitespace", "  2025-06-15  ", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseDate_EmptyAndInvalid(t *testing.T) {
	got, err := ParseDate("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseDate("next Tuesday")
	assert.Error(t, err)
}

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		input string
		want  decimal.Decimal
	}{
		{"$1,500,000.00", decimal.RequireFromString("1500000.00")},
		{"2500000", decimal.NewFromInt(2500000)},
		{"$ 47,250.75", decimal.RequireFromString("47250.75")},
		{"", decimal.Zero},
		{"TBD", decimal.Zero},
	}
	for _, tt := range tests {
		got := ParseCurrency(tt.input)
		assert.True(t, tt.want.Equal(got), "ParseCurrency(%q) = %s", tt.input, got)
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"Yes", "y", "TRUE", "1", "active", " yes "} {
		assert.True(t, ParseBool(s), "ParseBool(%q)", s)
	}
	for _, s := range []string{"No", "n", "false", "0", "", "archived"} {
		assert.False(t, ParseBool(s), "ParseBool(%q)", s)
	}
}

func TestNormalize(t *testing.T) {
	opp := &storage.Opportunity{
		NoticeID:   "  OPP-1  ",
		Title:      " Cloud Migration ",
		Department: "DEPT OF DEFENSE\t",
		NAICSCode:  " 541512 ",
		PlaceOfPerformance: &storage.Location{
			City:  " Huntsville ",
			State: " al ",
		},
		PrimaryContact: &storage.Contact{
			Name:  " John Smith ",
			Email: " John.Smith@ARMY.MIL ",
		},
		Award: &storage.AwardInfo{Awardee: " Acme Corp "},
		Attachments: []storage.AttachmentInfo{
			{AttachmentID: " att-1 ", Filename: " sow.pdf "},
		},
	}

	Normalize(opp)

	assert.Equal(t, "OPP-1", opp.NoticeID)
	assert.Equal(t, "Cloud Migration", opp.Title)
	assert.Equal(t, "DEPT OF DEFENSE", opp.Department)
	assert.Equal(t, "541512", opp.NAICSCode)
	assert.Equal(t, "Huntsville", opp.PlaceOfPerformance.City)
	assert.Equal(t, "AL", opp.PlaceOfPerformance.State, "states normalize to upper case")
	assert.Equal(t, "John Smith", opp.PrimaryContact.Name)
	assert.Equal(t, "john.smith@army.mil", opp.PrimaryContact.Email, "emails normalize to lower case")
	assert.Equal(t, "Acme Corp", opp.Award.Awardee)
	assert.Equal(t, "att-1", opp.Attachments[0].AttachmentID)
	assert.Equal(t, "sow.pdf", opp.Attachments[0].Filename)
}
