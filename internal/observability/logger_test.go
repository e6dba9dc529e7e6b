package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEvent_FieldBuilders(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf, ServiceName: "test"})

	nextRun := time.Date(2026, 8, 27, 2, 0, 0, 0, time.UTC)
	logger.Info().
		Str("schedule", "nightly-match").
		Int("batches", 4).
		Dur("elapsed", 1500*time.Millisecond).
		Time("next_run", nextRun).
		Bool("enabled", true).
		Msg("schedule created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "nightly-match", line["schedule"])
	assert.EqualValues(t, 4, line["batches"])
	assert.Equal(t, true, line["enabled"])
	assert.Equal(t, "schedule created", line["message"])
	assert.Contains(t, line["next_run"], "2026-08-27")
	assert.Equal(t, "test", line["service"])
}

func TestLoggerContext_CarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf, ServiceName: "test"})

	logger.WithTenant("t-obs").Info().Msg("scoped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "t-obs", line["tenant_id"])
}
