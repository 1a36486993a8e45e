// Package detect is the thin client for the external inference service.
// Every call has a hard timeout and degrades to "no result" on failure;
// nothing in here is allowed to stall or crash a poll loop.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/technosupport/ts-monitor/internal/metrics"
)

const callTimeout = 6 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
	avail   *availabilityCache
}

func NewClient(baseURL string) *Client {
	hc := &http.Client{Timeout: callTimeout}
	return &Client{
		baseURL: baseURL,
		client:  hc,
		avail:   newAvailabilityCache(baseURL+"/health", hc),
	}
}

// Available reports whether the service is believed reachable. Cached; a
// negative verdict is only re-probed after the cool-off interval.
func (c *Client) Available(ctx context.Context) bool {
	return c.avail.Check(ctx)
}

// Detect runs the primary object detector on one frame.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	var out struct {
		Detections []Detection `json:"detections"`
	}
	if err := c.callMultipart(ctx, "detect", "/detect", frame, nil, &out); err != nil {
		return nil, err
	}
	return out.Detections, nil
}

func (c *Client) DetectFire(ctx context.Context, frame []byte) (*FireResult, error) {
	var out FireResult
	if err := c.callMultipart(ctx, "fire", "/detect-fire", frame, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DetectPlates(ctx context.Context, frame []byte) ([]Plate, error) {
	var out struct {
		Plates []Plate `json:"plates"`
	}
	if err := c.callMultipart(ctx, "plates", "/detect-plates", frame, nil, &out); err != nil {
		return nil, err
	}
	return out.Plates, nil
}

func (c *Client) AnalyzeBehavior(ctx context.Context, frame []byte, cameraID string) (*BehaviorResult, error) {
	var out BehaviorResult
	fields := map[string]string{"camera_id": cameraID}
	if err := c.callMultipart(ctx, "behavior", "/analyze-behavior", frame, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AnalyzeAudio(ctx context.Context, samples []byte, sampleRate int) (*AudioResult, error) {
	var out AudioResult
	fields := map[string]string{"sample_rate": fmt.Sprintf("%d", sampleRate)}
	if err := c.callMultipart(ctx, "audio", "/analyze-audio", samples, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExtractFeatures(ctx context.Context, frame []byte, cameraID string) ([]FeatureVector, error) {
	var out struct {
		Features []FeatureVector `json:"features"`
	}
	fields := map[string]string{"camera_id": cameraID}
	if err := c.callMultipart(ctx, "features", "/extract-features", frame, fields, &out); err != nil {
		return nil, err
	}
	return out.Features, nil
}

// MatchPersons compares two feature sets and returns pairs scoring above
// threshold. JSON body rather than multipart; no frame is involved.
func (c *Client) MatchPersons(ctx context.Context, a, b []FeatureVector, threshold float64) ([]PersonMatch, error) {
	if !c.avail.Check(ctx) {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"features_a": a,
		"features_b": b,
		"threshold":  threshold,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/match-persons", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.avail.MarkDown()
		metrics.DetectionCallsTotal.WithLabelValues("match", "error").Inc()
		return nil, nil // degrade: no matches this call
	}
	defer resp.Body.Close()
	metrics.DetectionLatency.WithLabelValues("match").Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		metrics.DetectionCallsTotal.WithLabelValues("match", "error").Inc()
		return nil, nil
	}
	var out struct {
		Matches []PersonMatch `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil
	}
	metrics.DetectionCallsTotal.WithLabelValues("match", "ok").Inc()
	return out.Matches, nil
}

// callMultipart posts a frame (plus form fields) and decodes the JSON reply.
// Unavailability and failures are not errors to the caller: the contract is
// "no detections this call". The returned error is reserved for programmer
// mistakes (bad baseURL).
func (c *Client) callMultipart(ctx context.Context, kind, path string, frame []byte, fields map[string]string, out any) error {
	if !c.avail.Check(ctx) {
		metrics.DetectionCallsTotal.WithLabelValues(kind, "unavailable").Inc()
		return nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(frame); err != nil {
		return err
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.avail.MarkDown()
		metrics.DetectionCallsTotal.WithLabelValues(kind, "error").Inc()
		return nil
	}
	defer resp.Body.Close()
	metrics.DetectionLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		metrics.DetectionCallsTotal.WithLabelValues(kind, "error").Inc()
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.DetectionCallsTotal.WithLabelValues(kind, "error").Inc()
		return nil
	}
	metrics.DetectionCallsTotal.WithLabelValues(kind, "ok").Inc()
	return nil
}
