package audio

import (
	"sync"

	"github.com/raihanakbr/lesson-session-client/internal/lesson"
)

// ReplayCache keeps every decoded chunk of finished streams for the
// lifetime of one session.
type ReplayCache struct {
	mu      sync.RWMutex
	entries map[lesson.StepID]cachedStream
}

type cachedStream struct {
	encoding string
	chunks   []Buffer
}

// NewReplayCache returns an empty cache.
func NewReplayCache() *ReplayCache {
	return &ReplayCache{entries: make(map[lesson.StepID]cachedStream)}
}

// Store replaces the chunks kept for stepID with a copy of chunks.
func (c *ReplayCache) Store(stepID lesson.StepID, encoding string, chunks []Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stepID] = cachedStream{encoding: encoding, chunks: append([]Buffer(nil), chunks...)}
}

// Load returns a copy of the cached chunks, in original order.
func (c *ReplayCache) Load(stepID lesson.StepID) (string, []Buffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[stepID]
	if !ok || len(entry.chunks) == 0 {
		return "", nil, false
	}
	return entry.encoding, append([]Buffer(nil), entry.chunks...), true
}

// Len returns the number of chunks kept for stepID.
func (c *ReplayCache) Len(stepID lesson.StepID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[stepID].chunks)
}

// Clear drops every cached stream.
func (c *ReplayCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[lesson.StepID]cachedStream)
}
