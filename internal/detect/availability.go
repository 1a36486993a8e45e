package detect

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// availabilityRecheck is how long a failed health probe suppresses further
// probing. During that window every call degrades to "no detections"
// immediately instead of paying a timeout per frame.
const availabilityRecheck = 30 * time.Second

// availabilityCache is the short client-side cache over the service health
// probe. Safe for concurrent use by many camera loops; a verdict may be up
// to availabilityRecheck stale.
type availabilityCache struct {
	mu        sync.Mutex
	healthURL string
	client    *http.Client

	available   bool
	lastChecked time.Time
}

func newAvailabilityCache(healthURL string, client *http.Client) *availabilityCache {
	return &availabilityCache{
		healthURL: healthURL,
		client:    client,
	}
}

// Check returns whether the service should be called. A cached verdict is
// reused until the recheck window elapses.
func (a *availabilityCache) Check(ctx context.Context) bool {
	a.mu.Lock()
	if time.Since(a.lastChecked) < availabilityRecheck {
		ok := a.available
		a.mu.Unlock()
		return ok
	}
	a.mu.Unlock()

	ok := a.probe(ctx)

	a.mu.Lock()
	a.available = ok
	a.lastChecked = time.Now()
	a.mu.Unlock()
	return ok
}

// MarkDown records an in-call failure so subsequent calls back off without
// waiting for the next scheduled probe.
func (a *availabilityCache) MarkDown() {
	a.mu.Lock()
	a.available = false
	a.lastChecked = time.Now()
	a.mu.Unlock()
}

func (a *availabilityCache) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
