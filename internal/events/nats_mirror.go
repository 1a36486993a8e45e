package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSMirror subscribes to the bus and republishes events to NATS for
// out-of-process consumers (notification fan-out, automation, SSE gateways
// on other nodes). Best-effort: publish failures after retries are dropped
// and never propagate back into the poll loops.
type NATSMirror struct {
	conn          *nats.Conn
	subjectPrefix string
	maxRetries    int
	dedup         *Dedup
}

func NewNATSMirror(conn *nats.Conn, subjectPrefix string, maxRetries int, dedup *Dedup) *NATSMirror {
	if subjectPrefix == "" {
		subjectPrefix = "vms.events"
	}
	return &NATSMirror{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		maxRetries:    maxRetries,
		dedup:         dedup,
	}
}

// Attach registers the mirror on the bus. Returns the unsubscribe func.
func (m *NATSMirror) Attach(bus *Bus) func() {
	return bus.Subscribe(HandlerFunc(m.onEvent))
}

func (m *NATSMirror) onEvent(evt *Event) {
	if m.dedup != nil && m.dedup.IsDuplicate(DedupKey(evt.CameraID, evt.Type, evt.OccurredAt)) {
		return
	}
	// Publish on a detached goroutine: the bus handler runs on the
	// publisher's (poll loop's) goroutine and must not block on I/O.
	go func() {
		if err := m.publish(evt); err != nil {
			log.Printf("[ERROR] NATSMirror: publish %s for camera %s: %v", evt.Type, evt.CameraID, err)
		}
	}()
}

func (m *NATSMirror) publish(evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", m.subjectPrefix, evt.Type)

	for i := 0; i <= m.maxRetries; i++ {
		err = m.conn.Publish(subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", m.maxRetries, err)
}
