package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/observability"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"a": 1}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "markdown fenced",
			content: "```json\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "surrounding prose",
			content: `Here is the result: {"a": 1} as requested.`,
			want:    `{"a": 1}`,
		},
		{
			name:    "no json",
			content: "I could not classify this document.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_ClassifyDocument_Renormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Unrequested category plus probabilities that do not sum to 1.
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"team-resumes\": 0.6, \"other\": 0.2, \"bogus\": 0.5}"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Logger:  observability.NewNopLogger(),
	})
	require.NoError(t, err)

	probs, err := client.ClassifyDocument(context.Background(), "some resume text", []string{"team-resumes", "other"})
	require.NoError(t, err)

	assert.InDelta(t, 0.75, probs["team-resumes"], 0.001)
	assert.InDelta(t, 0.25, probs["other"], 0.001)
	assert.NotContains(t, probs, "bogus")
}

func TestClient_Summarize_SurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"context too long","type":"invalid_request"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Logger:  observability.NewNopLogger(),
	})
	require.NoError(t, err)

	_, err = client.Summarize(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context too long")
}

func TestMockLLM_Summarize_Truncates(t *testing.T) {
	m := NewMockLLM()

	long := strings.Repeat("word ", 100)
	summary, err := m.Summarize(context.Background(), long)
	require.NoError(t, err)
	assert.Equal(t, 60, len(strings.Fields(summary)))

	short := "A short document."
	summary, err = m.Summarize(context.Background(), short)
	require.NoError(t, err)
	assert.Equal(t, short, summary)
}

func TestMockLLM_ClassifyDocument(t *testing.T) {
	m := NewMockLLM()
	categories := []string{"team-resumes", "capability-statements", "other"}

	probs, err := m.ClassifyDocument(context.Background(), "This resume lists work experience.", categories)
	require.NoError(t, err)
	assert.Greater(t, probs["team-resumes"], probs["capability-statements"])

	// No signal at all falls back to uniform.
	probs, err = m.ClassifyDocument(context.Background(), "zzz qqq", categories)
	require.NoError(t, err)
	for _, cat := range categories {
		assert.InDelta(t, 1.0/3.0, probs[cat], 0.001)
	}
}

func TestMockLLM_ExtractFields(t *testing.T) {
	m := NewMockLLM()

	text := "Legal Name: Apex Federal Solutions\nDUNS: 123456789\nIrrelevant line\nFounded Year: 2010"
	fields, err := m.ExtractFields(context.Background(), text, []string{"legal_name", "duns", "founded_year", "cage"})
	require.NoError(t, err)

	assert.Equal(t, "Apex Federal Solutions", fields["legal_name"])
	assert.Equal(t, "123456789", fields["duns"])
	assert.Equal(t, "2010", fields["founded_year"])
	assert.NotContains(t, fields, "cage")
}
