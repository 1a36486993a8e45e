package frames

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-monitor/internal/metrics"
)

var (
	ErrNoFrameYet     = errors.New("no frame decoded yet")
	ErrGrabberStopped = errors.New("grabber stopped")
)

const (
	// firstFrameWait bounds how long Acquire blocks for the stream to
	// produce its first decodable frame before failing the start-up.
	firstFrameWait = 5 * time.Second

	// maxScanBuffer hard-caps the JPEG scan buffer. A malformed stream that
	// never yields an EOI marker gets its buffer reset instead of wedging
	// memory growth.
	maxScanBuffer = 16 << 20
)

// Grabber owns one decoder subprocess for one stream URL and keeps only the
// latest fully-decoded JPEG in memory. Older frames are overwritten, so
// memory stays bounded regardless of consumer speed.
type Grabber struct {
	streamURL string

	mu       sync.Mutex
	latest   []byte
	frameAt  time.Time
	refcount int
	dead     bool

	cmd        *exec.Cmd
	firstFrame chan struct{}
	firstOnce  sync.Once
	done       chan struct{}
}

// Latest returns the most recently decoded frame. The returned slice is a
// copy and safe to retain.
func (g *Grabber) Latest() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dead {
		return nil, ErrGrabberStopped
	}
	if g.latest == nil {
		return nil, ErrNoFrameYet
	}
	out := make([]byte, len(g.latest))
	copy(out, g.latest)
	return out, nil
}

func (g *Grabber) setFrame(frame []byte) {
	g.mu.Lock()
	g.latest = frame
	g.frameAt = time.Now()
	g.mu.Unlock()
	g.firstOnce.Do(func() { close(g.firstFrame) })
}

// GrabberRegistry is the shared, reference-counted registry of persistent
// grabbers keyed by stream URL. Cameras sharing a URL share one decoder
// process.
type GrabberRegistry struct {
	mu         sync.Mutex
	grabbers   map[string]*Grabber
	ffmpegPath string
}

func NewGrabberRegistry(ffmpegPath string) *GrabberRegistry {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &GrabberRegistry{
		grabbers:   make(map[string]*Grabber),
		ffmpegPath: ffmpegPath,
	}
}

// Acquire increments the refcount for streamURL, starting the decoder
// process if absent, and waits (bounded) for its first frame.
func (r *GrabberRegistry) Acquire(streamURL string) (*Grabber, error) {
	r.mu.Lock()
	g, ok := r.grabbers[streamURL]
	if ok && !g.isDead() {
		g.mu.Lock()
		g.refcount++
		g.mu.Unlock()
		r.mu.Unlock()
		return g, nil
	}

	g = &Grabber{
		streamURL:  streamURL,
		refcount:   1,
		firstFrame: make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.grabbers[streamURL] = g
	r.mu.Unlock()

	if err := r.start(g); err != nil {
		r.remove(streamURL, g)
		metrics.StreamFailures.WithLabelValues("grabber_start").Inc()
		return nil, err
	}

	select {
	case <-g.firstFrame:
		return g, nil
	case <-g.done:
		r.remove(streamURL, g)
		return nil, fmt.Errorf("grabber for %s exited before first frame", sanitizeURL(streamURL))
	case <-time.After(firstFrameWait):
		r.stop(g)
		r.remove(streamURL, g)
		metrics.StreamFailures.WithLabelValues("grabber_start").Inc()
		return nil, fmt.Errorf("no frame from %s within %s", sanitizeURL(streamURL), firstFrameWait)
	}
}

// Release decrements the refcount and stops the process when it hits zero.
func (r *GrabberRegistry) Release(streamURL string) {
	r.mu.Lock()
	g, ok := r.grabbers[streamURL]
	r.mu.Unlock()
	if !ok {
		return
	}

	g.mu.Lock()
	g.refcount--
	last := g.refcount <= 0
	g.mu.Unlock()

	if last {
		r.stop(g)
		r.remove(streamURL, g)
	}
}

// Latest returns the newest frame for streamURL if a grabber is running.
func (r *GrabberRegistry) Latest(streamURL string) ([]byte, bool, error) {
	r.mu.Lock()
	g, ok := r.grabbers[streamURL]
	r.mu.Unlock()
	if !ok || g.isDead() {
		return nil, false, nil
	}
	frame, err := g.Latest()
	return frame, true, err
}

// ActiveCount reports running grabbers (for status endpoints and tests).
func (r *GrabberRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.grabbers {
		if !g.isDead() {
			n++
		}
	}
	return n
}

// Refcount reports the refcount for a URL; 0 when no grabber exists.
func (r *GrabberRegistry) Refcount(streamURL string) int {
	r.mu.Lock()
	g, ok := r.grabbers[streamURL]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refcount
}

func (r *GrabberRegistry) start(g *Grabber) error {
	args := decoderArgs(g.streamURL)
	cmd := exec.Command(r.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("grabber stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}
	g.cmd = cmd
	metrics.GrabbersActive.Inc()

	go r.scanFrames(g, stdout)
	go func() {
		cmd.Wait()
		g.markDead()
		// Self-removal: a dying subprocess takes its registry entry with
		// it so the next Acquire starts fresh. The gauge is decremented
		// here, not in stop, so every started process is counted down
		// exactly once whichever way it dies.
		r.remove(g.streamURL, g)
		metrics.GrabbersActive.Dec()
		log.Printf("[WARN] Grabber: decoder for %s exited", sanitizeURL(g.streamURL))
	}()
	return nil
}

// scanFrames splits the decoder's MJPEG byte stream on JPEG SOI/EOI markers
// and publishes each complete frame as the new latest.
func (r *GrabberRegistry) scanFrames(g *Grabber, stdout io.Reader) {
	var buf bytes.Buffer
	chunk := make([]byte, 64<<10)

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			for {
				frame, rest, ok := extractJPEG(buf.Bytes())
				if !ok {
					break
				}
				g.setFrame(frame)
				remaining := make([]byte, len(rest))
				copy(remaining, rest)
				buf.Reset()
				buf.Write(remaining)
			}
			if buf.Len() > maxScanBuffer {
				log.Printf("[WARN] Grabber: scan buffer exceeded %d bytes for %s, resetting", maxScanBuffer, sanitizeURL(g.streamURL))
				buf.Reset()
			}
		}
		if err != nil {
			return
		}
	}
}

func (r *GrabberRegistry) stop(g *Grabber) {
	g.markDead()
	if g.cmd != nil && g.cmd.Process != nil {
		g.cmd.Process.Kill()
	}
}

func (r *GrabberRegistry) remove(streamURL string, g *Grabber) {
	r.mu.Lock()
	if cur, ok := r.grabbers[streamURL]; ok && cur == g {
		delete(r.grabbers, streamURL)
	}
	r.mu.Unlock()
}

func (g *Grabber) isDead() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dead
}

func (g *Grabber) markDead() {
	g.mu.Lock()
	if !g.dead {
		g.dead = true
		close(g.done)
	}
	g.mu.Unlock()
}

// decoderArgs builds the ffmpeg invocation for a continuous MJPEG pipe.
// RTSP forces TCP transport; UDP loss shows up as smeared frames that
// poison the motion diff.
func decoderArgs(streamURL string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(streamURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", streamURL,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)
	return args
}

// extractJPEG pulls the first complete SOI..EOI frame out of buf.
func extractJPEG(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(buf, []byte{0xFF, 0xD8})
	if start < 0 {
		return nil, nil, false
	}
	end := bytes.Index(buf[start+2:], []byte{0xFF, 0xD9})
	if end < 0 {
		return nil, nil, false
	}
	end = start + 2 + end + 2
	frame = make([]byte, end-start)
	copy(frame, buf[start:end])
	return frame, buf[end:], true
}

// sanitizeURL strips credentials before a URL reaches a log line.
func sanitizeURL(raw string) string {
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		if scheme := strings.Index(raw, "://"); scheme >= 0 && at > scheme {
			return raw[:scheme+3] + "***" + raw[at:]
		}
	}
	return raw
}
