package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnconfiguredClientSkips(t *testing.T) {
	c := NewClient("", "")
	assert.False(t, c.Configured())

	analysis, err := c.AnalyzeFrame(context.Background(), []byte("frame"))
	require.NoError(t, err)
	assert.Nil(t, analysis)

	summary, err := c.SummarizeSession(context.Background(), []string{"a person entered"})
	require.NoError(t, err)
	assert.Equal(t, NoAnalysisSummary, summary)
}

func TestAnalyzeFrame(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze-frame", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(FrameAnalysis{
			Description: "a person at the entrance",
			PeopleCount: 1,
			Objects:     []string{"person"},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "key-1")
	analysis, err := c.AnalyzeFrame(context.Background(), []byte("frame"))
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, "a person at the entrance", analysis.Description)
	assert.Equal(t, 1, analysis.PeopleCount)
}

func TestAnalyzeFrameServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "key-1")
	_, err := c.AnalyzeFrame(context.Background(), []byte("frame"))
	assert.Error(t, err)
}

func TestSummarizeSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/summarize", r.URL.Path)
		var in struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Contains(t, in.Prompt, "a person entered")
		json.NewEncoder(w).Encode(map[string]string{"summary": "One person passed through."})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "key-1")
	summary, err := c.SummarizeSession(context.Background(), []string{"a person entered", "the area cleared"})
	require.NoError(t, err)
	assert.Equal(t, "One person passed through.", summary)
}

// Zero descriptions never hit the network.
func TestSummarizeSessionEmpty(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "key-1")
	summary, err := c.SummarizeSession(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, NoAnalysisSummary, summary)
}
