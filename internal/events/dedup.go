package events

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup suppresses repeat events within a TTL window, bounded by an LRU so a
// chatty camera cannot grow memory. Used on the NATS mirror path where
// downstream consumers pay per message.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup(maxKeys int, ttl time.Duration) *Dedup {
	c, _ := lru.New[string, time.Time](maxKeys)
	return &Dedup{cache: c, ttl: ttl}
}

func (d *Dedup) IsDuplicate(key string) bool {
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}

// DedupKey buckets occurrence time to one second to absorb micro-timing
// differences between polls.
func DedupKey(cameraID, eventType string, occurredAt time.Time) string {
	return fmt.Sprintf("%s|%s|%d", cameraID, eventType, occurredAt.Truncate(time.Second).Unix())
}
