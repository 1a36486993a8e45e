package events

import (
	"sync"

	"github.com/technosupport/ts-monitor/internal/metrics"
)

// Bus is the process-wide publish/subscribe channel for camera events.
// Constructed once in main and injected; it is not a package global.
//
// Handlers run synchronously in publish order for a single publisher.
// Channel subscribers get non-blocking sends: a full channel drops the
// event for that subscriber rather than stalling the publishing poll loop.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]bool
}

type subscription struct {
	cameraFilter string // empty = all cameras
	typeFilter   string // empty = all types
	channel      chan *Event
	handler      Handler
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[*subscription]bool)}
}

// Subscribe registers a handler for all events. Returns an unsubscribe func.
func (b *Bus) Subscribe(h Handler) func() {
	return b.add(&subscription{handler: h})
}

// SubscribeType registers a handler for one event type.
func (b *Bus) SubscribeType(eventType string, h Handler) func() {
	return b.add(&subscription{typeFilter: eventType, handler: h})
}

// SubscribeChannel returns a buffered channel receiving all events.
func (b *Bus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	sub := &subscription{channel: make(chan *Event, bufferSize)}
	unsub := b.add(sub)

	var once sync.Once
	return sub.channel, func() {
		once.Do(func() {
			unsub()
			close(sub.channel)
		})
	}
}

// SubscribeCameraChannel returns a buffered channel receiving one camera's events.
func (b *Bus) SubscribeCameraChannel(cameraID string, bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	sub := &subscription{cameraFilter: cameraID, channel: make(chan *Event, bufferSize)}
	unsub := b.add(sub)

	var once sync.Once
	return sub.channel, func() {
		once.Do(func() {
			unsub()
			close(sub.channel)
		})
	}
}

func (b *Bus) add(sub *subscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish delivers evt to all matching subscribers. Never blocks.
func (b *Bus) Publish(evt *Event) {
	if evt == nil {
		return
	}
	metrics.BusPublishes.Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != "" && sub.cameraFilter != evt.CameraID {
			continue
		}
		if sub.typeFilter != "" && sub.typeFilter != evt.Type {
			continue
		}
		if sub.handler != nil {
			sub.handler.OnEvent(evt)
			continue
		}
		select {
		case sub.channel <- evt:
		default:
			metrics.BusDrops.Inc()
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
