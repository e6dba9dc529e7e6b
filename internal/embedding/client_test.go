package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/observability"
)

func TestTruncateWords(t *testing.T) {
	text := strings.Repeat("alpha ", 10)

	got, count, truncated := truncateWords(text, 4)
	assert.True(t, truncated)
	assert.Equal(t, 10, count)
	assert.Equal(t, "alpha alpha alpha alpha", got)

	got, count, truncated = truncateWords("one two", 4)
	assert.False(t, truncated)
	assert.Equal(t, 2, count)
	assert.Equal(t, "one two", got)
}

func TestMockClient_Deterministic(t *testing.T) {
	c := NewMockClient(64)
	ctx := context.Background()

	a, err := c.Embed(ctx, "software development services", RoleDocument)
	require.NoError(t, err)
	b, err := c.Embed(ctx, "software development services", RoleQuery)
	require.NoError(t, err)

	// Same text, same vector, regardless of role.
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Unit norm.
	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 0.001)
}

func TestMockClient_RejectsEmptyText(t *testing.T) {
	c := NewMockClient(8)
	_, err := c.Embed(context.Background(), "   ", RoleDocument)
	assert.Error(t, err)
}

func TestClient_Embed_SendsWireContract(t *testing.T) {
	var gotReq embedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		vec := make([]float32, 8)
		vec[0] = 1
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: vec})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Dimension: 8,
		Logger:    observability.NewNopLogger(),
	})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "some opportunity text", RoleQuery)
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	assert.Equal(t, "some opportunity text", gotReq.InputText)
	assert.Equal(t, string(RoleQuery), gotReq.InputType)
	assert.Equal(t, 8, gotReq.Dimensions)
	assert.True(t, gotReq.Normalize)
}

func TestClient_Embed_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: make([]float32, 8)})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Dimension: 8,
		Logger:    observability.NewNopLogger(),
	})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "text", RoleDocument)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Embed_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Dimension: 8,
		Logger:    observability.NewNopLogger(),
	})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "text", RoleDocument)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "bad key")
}

func TestClient_Embed_RejectsWrongDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: make([]float32, 4)})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Dimension: 8,
		Logger:    observability.NewNopLogger(),
	})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "text", RoleDocument)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}
