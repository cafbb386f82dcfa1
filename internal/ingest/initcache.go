package ingest

import "sync"

// InitSegment is a cached HLS initialization segment (ftyp+moov bytes) plus
// whatever the probe learned from it.
type InitSegment struct {
	Data []byte
	Info *MediaInfo
}

// InitCache holds one init segment per camera. Writers populate their own
// key; the recovery path evicts it to force a refetch, so access is locked.
type InitCache struct {
	mu       sync.RWMutex
	segments map[string]*InitSegment
}

// NewInitCache creates an empty init segment cache.
func NewInitCache() *InitCache {
	return &InitCache{segments: make(map[string]*InitSegment)}
}

// Get returns the cached init segment for a camera.
func (c *InitCache) Get(cameraID string) (*InitSegment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seg, ok := c.segments[cameraID]
	return seg, ok
}

// Has reports whether a camera has a cached init segment.
func (c *InitCache) Has(cameraID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.segments[cameraID]
	return ok
}

// Put caches an init segment for a camera, replacing any previous one.
func (c *InitCache) Put(cameraID string, data []byte, info *MediaInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments[cameraID] = &InitSegment{Data: data, Info: info}
}

// Evict drops a camera's cached init segment so the next tick refetches it.
// Returns true if something was evicted.
func (c *InitCache) Evict(cameraID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.segments[cameraID]
	delete(c.segments, cameraID)
	return ok
}

// Len returns the number of cached init segments.
func (c *InitCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.segments)
}
