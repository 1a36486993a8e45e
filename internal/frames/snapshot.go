package frames

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// snapshotTimeout bounds a one-off decode when no persistent grabber is
// running (e.g. a connection test).
const snapshotTimeout = 8 * time.Second

// Source implements frame acquisition for the monitor: a persistent
// reference-counted grabber per stream URL for tight polling, and a
// synchronous one-shot decode for everything else.
type Source struct {
	registry   *GrabberRegistry
	segments   *SegmentWatcher
	ffmpegPath string
	client     *http.Client

	// claims tracks which resolved URLs hold a persistent grabber, so a
	// decoder that died and removed itself gets restarted on the next
	// fetch instead of silently degrading to one-shot decodes.
	mu     sync.Mutex
	claims map[string]int
}

func NewSource(registry *GrabberRegistry, segments *SegmentWatcher, ffmpegPath string) *Source {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Source{
		registry:   registry,
		segments:   segments,
		ffmpegPath: ffmpegPath,
		client:     &http.Client{Timeout: snapshotTimeout},
		claims:     make(map[string]int),
	}
}

func (s *Source) StartPersistentGrabber(streamURL string) error {
	resolved := resolveStreamURL(streamURL)
	if _, err := s.registry.Acquire(resolved); err != nil {
		return err
	}
	s.mu.Lock()
	s.claims[resolved]++
	s.mu.Unlock()
	return nil
}

func (s *Source) StopPersistentGrabber(streamURL string) {
	resolved := resolveStreamURL(streamURL)
	s.mu.Lock()
	if n := s.claims[resolved]; n <= 1 {
		delete(s.claims, resolved)
	} else {
		s.claims[resolved] = n - 1
	}
	s.mu.Unlock()
	s.registry.Release(resolved)
}

func (s *Source) claimed(resolved string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[resolved] > 0
}

// FetchSnapshot returns one still frame from the stream. Preference order:
// a running grabber's latest frame, the newest local HLS segment, then a
// synchronous one-shot decode. Failures here are transient; the caller
// skips the poll tick rather than stopping monitoring.
func (s *Source) FetchSnapshot(ctx context.Context, streamURL string) ([]byte, error) {
	resolved := resolveStreamURL(streamURL)

	if frame, running, err := s.registry.Latest(resolved); running {
		if err != nil {
			return nil, err
		}
		return frame, nil
	}

	// A claimed URL with no running grabber means the decoder died and
	// removed itself from the registry. Restart it here rather than
	// paying a one-shot decode on every poll tick; a restart failure
	// reaches the caller, where the stream failure budget applies.
	if s.claimed(resolved) {
		g, err := s.registry.Acquire(resolved)
		if err != nil {
			return nil, fmt.Errorf("restart grabber: %w", err)
		}
		log.Printf("[INFO] Source: restarted grabber for %s", sanitizeURL(resolved))
		return g.Latest()
	}

	if s.segments != nil {
		if seg, ok := s.segments.NewestSegment(streamURL); ok {
			return s.decodeOnce(ctx, seg)
		}
	}

	if IsSnapshotURL(streamURL) {
		return s.httpGet(ctx, streamURL)
	}
	return s.decodeOnce(ctx, resolved)
}

func (s *Source) httpGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxScanBuffer))
}

// decodeOnce runs a single-frame ffmpeg decode with a hard timeout. The
// process is not kept alive.
func (s *Source) decodeOnce(ctx context.Context, input string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(input, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "4",
		"-",
	)

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("snapshot decode timed out after %s", snapshotTimeout)
		}
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}
	frame, _, ok := extractJPEG(out)
	if !ok {
		return nil, fmt.Errorf("snapshot decode: no complete frame in output")
	}
	return frame, nil
}

// resolveStreamURL applies protocol-specific normalization before the URL
// reaches a decoder.
func resolveStreamURL(streamURL string) string {
	if strings.HasPrefix(streamURL, "http://") || strings.HasPrefix(streamURL, "https://") {
		if IsSnapshotURL(streamURL) {
			return streamURL
		}
		return NormalizeHTTPStream(streamURL)
	}
	return streamURL
}
