package profile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/llm"
)

func TestCapabilityExtractor_ParseFullStatement(t *testing.T) {
	ctx := context.Background()
	e := NewCapabilityExtractor(llm.NewMockLLM())

	stmt, err := e.Parse(ctx, sampleCapabilityText)
	require.NoError(t, err)

	assert.Equal(t, "Acme Federal Solutions LLC", stmt.Overview.Name)
	assert.Equal(t, "078421234", stmt.Overview.DUNS)
	assert.Equal(t, "5XYZ9", stmt.Overview.CAGE)
	assert.Equal(t, "2008", stmt.Overview.Founded)
	assert.Contains(t, stmt.Mission, "modernize government technology")

	assert.Equal(t, []string{
		"Cloud migration and managed hosting",
		"Cybersecurity assessment",
		"continuous monitoring",
		"DevSecOps pipelines",
		"Data analytics",
	}, stmt.CoreCapabilities)

	require.Len(t, stmt.PastPerformance, 2)
	assert.Equal(t, "USDA", stmt.PastPerformance[0].Client)
	assert.Contains(t, stmt.PastPerformance[0].Description, "Farm data platform")
	assert.True(t, stmt.PastPerformance[0].Value.Equal(decimal.NewFromInt(2_500_000)),
		"got %s", stmt.PastPerformance[0].Value)
	assert.Equal(t, "GSA", stmt.PastPerformance[1].Client)
	assert.True(t, stmt.PastPerformance[1].Value.Equal(decimal.NewFromInt(850_000)),
		"got %s", stmt.PastPerformance[1].Value)

	assert.ElementsMatch(t, []string{"8(a)", "HUBZone", "ISO 9001"}, stmt.Certifications)

	require.NotNil(t, stmt.Contact)
	assert.Equal(t, "Jane Smith", stmt.Contact.Name)
	assert.Equal(t, "jane.smith@acmefederal.com", stmt.Contact.Email)
	assert.Equal(t, "(703) 555-0100", stmt.Contact.Phone)

	assert.InDelta(t, 1.0, stmt.Confidence, 1e-9)
}

func TestCapabilityExtractor_LLMFillsCompanyName(t *testing.T) {
	ctx := context.Background()
	e := NewCapabilityExtractor(llm.NewMockLLM())

	// Every top line is too long or carries a colon, so the heuristic
	// finds no company name and the LLM pass supplies it.
	text := `Trusted mission partner for federal digital transformation since launch.
Company Name: Beacon Dynamics Group
Established in 2011, the firm supports civilian agencies nationwide.`

	stmt, err := e.Parse(ctx, text)
	require.NoError(t, err)

	assert.Equal(t, "Beacon Dynamics Group", stmt.Overview.Name)
	assert.Equal(t, "2011", stmt.Overview.Founded)
	assert.Empty(t, stmt.Mission)
}

func TestCapabilityExtractor_CertificationsFoundOutsideSection(t *testing.T) {
	ctx := context.Background()
	e := NewCapabilityExtractor(nil)

	stmt, err := e.Parse(ctx, `Orbit Systems Inc
An SDVOSB and HUBZone certified small business delivering logistics software.`)
	require.NoError(t, err)

	assert.Equal(t, "Orbit Systems Inc", stmt.Overview.Name)
	assert.Contains(t, stmt.Certifications, "SDVOSB")
	assert.Contains(t, stmt.Certifications, "HUBZone")
}

func TestParseDollarFigure(t *testing.T) {
	tests := []struct {
		line string
		want decimal.Decimal
	}{
		{"$2.5M", decimal.NewFromInt(2_500_000)},
		{"awarded $850,000 total", decimal.NewFromInt(850_000)},
		{"$750k ceiling", decimal.NewFromInt(750_000)},
		{"$1,200,000", decimal.NewFromInt(1_200_000)},
		{"no dollars here", decimal.Zero},
	}
	for _, tt := range tests {
		got := parseDollarFigure(tt.line)
		assert.True(t, tt.want.Equal(got), "%s: want %s got %s", tt.line, tt.want, got)
	}
}

func TestParsePastPerformance_LineShapes(t *testing.T) {
	entries := parsePastPerformance([]string{
		"- DHS — Border sensor maintenance, $4.1M",
		"Network operations support for the Census Bureau",
		"",
	})
	require.Len(t, entries, 2)

	assert.Equal(t, "DHS", entries[0].Client)
	assert.Equal(t, "Border sensor maintenance, $4.1M", entries[0].Description)
	assert.True(t, entries[0].Value.Equal(decimal.NewFromInt(4_100_000)))

	// No separator: the whole line is the description.
	assert.Empty(t, entries[1].Client)
	assert.Equal(t, "Network operations support for the Census Bureau", entries[1].Description)
	assert.True(t, entries[1].Value.IsZero())
}

func TestFindCompanyName_PrefersCorporateSuffix(t *testing.T) {
	name := findCompanyName([]string{
		"CAPABILITY STATEMENT",
		"Juniper Ridge Technologies LLC",
		"8(a) certified",
	})
	assert.Equal(t, "Juniper Ridge Technologies LLC", name)
}
