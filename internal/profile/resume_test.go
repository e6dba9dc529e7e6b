package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/llm"
)

const sampleResumeText = `John Doe
john.doe@example.com | (555) 123-4567 | linkedin.com/in/johndoe

Summary
Senior software engineer with eight years of experience leading teams building cloud platforms for federal clients.

Skills
Go, Python, Kubernetes, AWS, PostgreSQL

Experience
Senior Software Engineer / Tech Corp 2020 - Present
Software Engineer / StartupXYZ 2016 - 2020

Education
Bachelor of Science in Computer Science, University of Virginia, 2016`

func TestResumeExtractor_ParseFullResume(t *testing.T) {
	ctx := context.Background()
	e := NewResumeExtractor(llm.NewMockLLM())

	r, err := e.Parse(ctx, sampleResumeText)
	require.NoError(t, err)

	assert.Equal(t, "John Doe", r.PersonalInfo.FullName)
	assert.Equal(t, "john.doe@example.com", r.PersonalInfo.Email)
	assert.Equal(t, "(555) 123-4567", r.PersonalInfo.Phone)
	assert.Equal(t, "linkedin.com/in/johndoe", r.PersonalInfo.LinkedIn)

	assert.Contains(t, r.Summary, "cloud platforms")
	assert.Equal(t, []string{"Go", "Python", "Kubernetes", "AWS", "PostgreSQL"}, r.Skills)

	require.Len(t, r.Experience, 2)
	first := r.Experience[0]
	assert.Equal(t, "Senior Software Engineer", first.Title)
	assert.Equal(t, "Tech Corp", first.Company)
	assert.Equal(t, 2020, first.StartYear)
	assert.Zero(t, first.EndYear)
	assert.True(t, first.Current)

	second := r.Experience[1]
	assert.Equal(t, "Software Engineer", second.Title)
	assert.Equal(t, "StartupXYZ", second.Company)
	assert.Equal(t, 2016, second.StartYear)
	assert.Equal(t, 2020, second.EndYear)
	assert.False(t, second.Current)
	assert.InDelta(t, 4.0, second.Years, 1e-9)

	require.Len(t, r.Education, 1)
	assert.Equal(t, "Bachelor of Science in Computer Science", r.Education[0].Degree)
	assert.Equal(t, "University of Virginia", r.Education[0].Institution)
	assert.Equal(t, "2016", r.Education[0].GraduationYear)

	// The current role's tenure grows with the calendar.
	assert.GreaterOrEqual(t, r.YearsExperience, 9.0)
	assert.InDelta(t, 1.0, r.Confidence, 1e-9)
}

func TestResumeExtractor_LLMFillsMissingName(t *testing.T) {
	ctx := context.Background()
	e := NewResumeExtractor(llm.NewMockLLM())

	text := `Contact: jane.roe@example.com
Full Name: Jane Roe
Summary
Cloud infrastructure engineer supporting federal modernization programs.`

	r, err := e.Parse(ctx, text)
	require.NoError(t, err)

	assert.Equal(t, "Jane Roe", r.PersonalInfo.FullName)
	assert.Equal(t, "jane.roe@example.com", r.PersonalInfo.Email)
	assert.Empty(t, r.PersonalInfo.Phone)
	// Name plus contact, nothing else extracted.
	assert.InDelta(t, 0.4, r.Confidence, 1e-9)
}

func TestResumeExtractor_NilLLMKeepsRegexResults(t *testing.T) {
	ctx := context.Background()
	e := NewResumeExtractor(nil)

	r, err := e.Parse(ctx, "Contact: jane.roe@example.com\nFull Name: Jane Roe")
	require.NoError(t, err)
	assert.Empty(t, r.PersonalInfo.FullName)
	assert.Equal(t, "jane.roe@example.com", r.PersonalInfo.Email)
}

func TestResumeExtractor_ExperienceLineShapes(t *testing.T) {
	e := NewResumeExtractor(nil)

	tests := []struct {
		name    string
		line    string
		title   string
		company string
		start   int
		end     int
		current bool
	}{
		{
			name:    "slash separator",
			line:    "Senior Software Engineer / Tech Corp 2020 - Present",
			title:   "Senior Software Engineer",
			company: "Tech Corp",
			start:   2020,
			current: true,
		},
		{
			name:    "to separator",
			line:    "Analyst, Fed Consulting 2016 to 2020",
			title:   "Analyst",
			company: "Fed Consulting",
			start:   2016,
			end:     2020,
		},
		{
			name:    "parenthesized range",
			line:    "Program Manager, Acme (2018 - 2021)",
			title:   "Program Manager",
			company: "Acme",
			start:   2018,
			end:     2021,
		},
		{
			name:    "at separator",
			line:    "Engineer at Example Labs 2014 - 2016",
			title:   "Engineer",
			company: "Example Labs",
			start:   2014,
			end:     2016,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := e.parseExperience([]string{tt.line})
			require.Len(t, entries, 1)
			assert.Equal(t, tt.title, entries[0].Title)
			assert.Equal(t, tt.company, entries[0].Company)
			assert.Equal(t, tt.start, entries[0].StartYear)
			assert.Equal(t, tt.end, entries[0].EndYear)
			assert.Equal(t, tt.current, entries[0].Current)
		})
	}
}

func TestResumeExtractor_LinesWithoutRangesAreSkipped(t *testing.T) {
	e := NewResumeExtractor(nil)
	entries := e.parseExperience([]string{
		"Led the platform team through a multi-year migration.",
		"References available on request.",
	})
	assert.Empty(t, entries)
}

func TestSplitTitleCompany(t *testing.T) {
	tests := []struct {
		in      string
		title   string
		company string
	}{
		{"Senior Software Engineer / Tech Corp", "Senior Software Engineer", "Tech Corp"},
		{"Engineer at Example Labs", "Engineer", "Example Labs"},
		{"Principal Consultant | Gov Partners", "Principal Consultant", "Gov Partners"},
		{"Data Scientist, Acme Analytics", "Data Scientist", "Acme Analytics"},
		{"Founder", "Founder", ""},
	}
	for _, tt := range tests {
		title, company := splitTitleCompany(tt.in)
		assert.Equal(t, tt.title, title, tt.in)
		assert.Equal(t, tt.company, company, tt.in)
	}
}

func TestParseEducation_InstitutionAndYear(t *testing.T) {
	entries := parseEducation([]string{
		"Bachelor of Science in Computer Science, University of Virginia, 2016",
		"MBA, Wharton, 2010",
		"Attended several conferences in 2019",
	})
	require.Len(t, entries, 2)

	assert.Equal(t, "Bachelor of Science in Computer Science", entries[0].Degree)
	assert.Equal(t, "University of Virginia", entries[0].Institution)
	assert.Equal(t, "2016", entries[0].GraduationYear)

	assert.Equal(t, "MBA", entries[1].Degree)
	assert.Empty(t, entries[1].Institution)
	assert.Equal(t, "2010", entries[1].GraduationYear)
}

func TestFindName_SkipsJobTitles(t *testing.T) {
	lines := []string{
		"Senior Software Engineer",
		"John Doe",
		"john.doe@example.com",
	}
	assert.Equal(t, "John Doe", findName(lines))
}

func TestSplitListItems_DeduplicatesAndCaps(t *testing.T) {
	items := splitListItems([]string{"Go, Python; go", "• Terraform · Ansible"})
	assert.Equal(t, []string{"Go", "Python", "Terraform", "Ansible"}, items)
}
