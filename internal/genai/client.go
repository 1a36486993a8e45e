// Package genai is the client for the generative summarization collaborator.
// Missing credentials disable the whole package quietly: calls log once on
// the cold path and return empty results, and the rest of the pipeline
// proceeds without the enrichment.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const callTimeout = 30 * time.Second

// NoAnalysisSummary is written when a session closes with zero described
// frames; the collaborator is not called in that case.
const NoAnalysisSummary = "No analysis performed for this session."

// FrameAnalysis is the per-frame enrichment returned by the collaborator.
type FrameAnalysis struct {
	Description string   `json:"description"`
	PeopleCount int      `json:"people_count"`
	Objects     []string `json:"objects"`
	Alerts      []string `json:"alerts"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client

	warnOnce sync.Once
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: callTimeout},
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *Client) warnUnconfigured() {
	c.warnOnce.Do(func() {
		log.Printf("[WARN] GenAI: credentials not configured, frame analysis and summaries disabled")
	})
}

// AnalyzeFrame asks the collaborator to describe one frame. Returns nil
// (no analysis) when unconfigured or on any failure.
func (c *Client) AnalyzeFrame(ctx context.Context, frame []byte) (*FrameAnalysis, error) {
	if !c.Configured() {
		c.warnUnconfigured()
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze-frame", bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze frame: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyze frame: status %d", resp.StatusCode)
	}

	var out FrameAnalysis
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("analyze frame: decode: %w", err)
	}
	return &out, nil
}

// SummarizeSession builds one narrative from the ordered frame descriptions.
// Frames with no description are expected to be filtered out by the caller;
// an empty input short-circuits to NoAnalysisSummary without a remote call.
func (c *Client) SummarizeSession(ctx context.Context, descriptions []string) (string, error) {
	if len(descriptions) == 0 {
		return NoAnalysisSummary, nil
	}
	if !c.Configured() {
		c.warnUnconfigured()
		return NoAnalysisSummary, nil
	}

	body, err := json.Marshal(map[string]any{
		"prompt": "Summarize the following chronological camera observations into a short incident report:\n" +
			strings.Join(descriptions, "\n"),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/summarize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarize session: status %d", resp.StatusCode)
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("summarize session: decode: %w", err)
	}
	return out.Summary, nil
}
