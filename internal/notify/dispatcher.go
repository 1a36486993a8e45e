// Package notify fans smart alerts out to configured webhooks. A redis
// cooldown ledger mirrors the engine's per-camera/feature cooldown durably,
// so a dispatcher restart does not re-spam receivers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-monitor/internal/events"
)

const (
	webhookTimeout = 5 * time.Second

	// DefaultCooldown matches the smart engine's alert cooldown.
	DefaultCooldown = 5 * time.Minute
)

// Dispatcher subscribes to smart-alert events and POSTs them as JSON to each
// configured webhook URL. Delivery is best-effort: failures log and drop.
type Dispatcher struct {
	rdb      *redis.Client
	client   *http.Client
	webhooks []string
	cooldown time.Duration
}

func NewDispatcher(rdb *redis.Client, webhooks []string, cooldown time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Dispatcher{
		rdb:      rdb,
		client:   &http.Client{Timeout: webhookTimeout},
		webhooks: webhooks,
		cooldown: cooldown,
	}
}

// Attach subscribes the dispatcher to the bus. Returns the unsubscribe func.
func (d *Dispatcher) Attach(bus *events.Bus) func() {
	return bus.SubscribeType(events.TypeSmartAlert, events.HandlerFunc(d.onEvent))
}

// onEvent runs on the publisher's goroutine; delivery is detached so a slow
// webhook never stalls the poll loop.
func (d *Dispatcher) onEvent(evt *events.Event) {
	alert, ok := alertFromEvent(evt)
	if !ok {
		return
	}
	go d.dispatch(context.Background(), alert)
}

func (d *Dispatcher) dispatch(ctx context.Context, alert *events.SmartAlert) {
	allowed, err := d.claimCooldown(ctx, alert.CameraID, alert.FeatureType)
	if err != nil {
		log.Printf("[ERROR] Notify (%s): cooldown ledger: %v", alert.CameraID, err)
		// Ledger trouble fails open: better a duplicate than a dropped alert.
		allowed = true
	}
	if !allowed {
		return
	}

	body, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[ERROR] Notify (%s): encoding alert: %v", alert.CameraID, err)
		return
	}
	for _, url := range d.webhooks {
		d.post(ctx, url, body, alert.CameraID)
	}
}

// claimCooldown atomically claims the camera+feature cooldown slot. Returns
// false when a prior alert within the window already holds it.
func (d *Dispatcher) claimCooldown(ctx context.Context, cameraID, featureType string) (bool, error) {
	if d.rdb == nil {
		return true, nil
	}
	key := fmt.Sprintf("alert_cooldown:%s:%s", cameraID, featureType)
	return d.rdb.SetNX(ctx, key, time.Now().Unix(), d.cooldown).Result()
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, cameraID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[ERROR] Notify (%s): building request: %v", cameraID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("[WARN] Notify (%s): webhook %s: %v", cameraID, url, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		log.Printf("[WARN] Notify (%s): webhook %s: status %d", cameraID, url, resp.StatusCode)
	}
}

// alertFromEvent recovers the SmartAlert the engine attached to the event
// payload. Smart-alert events from other producers (no typed payload) are
// synthesized from the event fields so they still reach receivers.
func alertFromEvent(evt *events.Event) (*events.SmartAlert, bool) {
	if evt == nil {
		return nil, false
	}
	if alert, ok := evt.Payload["alert"].(*events.SmartAlert); ok {
		return alert, true
	}
	return &events.SmartAlert{
		FeatureType:    evt.Type,
		CameraID:       evt.CameraID,
		OrganizationID: evt.OrganizationID,
		BranchID:       evt.BranchID,
		Severity:       evt.Severity,
		Message:        evt.Description,
		Metadata:       evt.Payload,
		OccurredAt:     evt.OccurredAt,
	}, true
}
