package vision

import (
	"sync"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/timeutil"
)

// DefaultVerdictTTL is how long a cached classification verdict stays live.
// The secondary classifier runs once per escalation, not once per frame, so
// intermediate frames keep rendering the last known verdict instead of
// flickering back to neutral.
const DefaultVerdictTTL = 15 * time.Second

type verdictEntry struct {
	falsePositive bool
	recordedAt    time.Time
}

// TrackVerdictCache maps (camera, track) to the classifier's false-positive
// verdict, with a camera-level fallback for boxes the detector did not
// track. Entries expire after a TTL and are deleted lazily on lookup.
type TrackVerdictCache struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	ttl     time.Duration
	tracks  map[string]map[int64]verdictEntry
	cameras map[string]verdictEntry

	metrics *Metrics
}

// NewTrackVerdictCache creates a cache with the given TTL. A zero ttl uses
// DefaultVerdictTTL; a nil clock uses the real one.
func NewTrackVerdictCache(clock timeutil.Clock, ttl time.Duration) *TrackVerdictCache {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if ttl <= 0 {
		ttl = DefaultVerdictTTL
	}
	return &TrackVerdictCache{
		clock:   clock,
		ttl:     ttl,
		tracks:  make(map[string]map[int64]verdictEntry),
		cameras: make(map[string]verdictEntry),
	}
}

// SetMetrics attaches engine metrics. Optional.
func (c *TrackVerdictCache) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Record upserts the verdict for a tracked box, stamped with the current time.
func (c *TrackVerdictCache) Record(camera string, trackID int64, falsePositive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTrack := c.tracks[camera]
	if byTrack == nil {
		byTrack = make(map[int64]verdictEntry)
		c.tracks[camera] = byTrack
	}
	byTrack[trackID] = verdictEntry{falsePositive: falsePositive, recordedAt: c.clock.Now()}
}

// RecordCameraLevel upserts the camera-wide fallback verdict.
func (c *TrackVerdictCache) RecordCameraLevel(camera string, falsePositive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameras[camera] = verdictEntry{falsePositive: falsePositive, recordedAt: c.clock.Now()}
}

// Lookup returns the verdict for a tracked box, or nil if none is recorded
// or the recorded entry is older than the TTL. Expired entries are deleted
// on the spot.
func (c *TrackVerdictCache) Lookup(camera string, trackID int64) *bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	byTrack := c.tracks[camera]
	if byTrack == nil {
		return nil
	}
	entry, ok := byTrack[trackID]
	if !ok {
		return nil
	}
	if c.clock.Since(entry.recordedAt) > c.ttl {
		delete(byTrack, trackID)
		if len(byTrack) == 0 {
			delete(c.tracks, camera)
		}
		if c.metrics != nil {
			c.metrics.VerdictExpiries.Add(1)
		}
		return nil
	}
	if c.metrics != nil {
		c.metrics.VerdictHits.Add(1)
	}
	v := entry.falsePositive
	return &v
}

// LookupCameraLevel returns the camera-wide fallback verdict, or nil if
// absent or expired.
func (c *TrackVerdictCache) LookupCameraLevel(camera string) *bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cameras[camera]
	if !ok {
		return nil
	}
	if c.clock.Since(entry.recordedAt) > c.ttl {
		delete(c.cameras, camera)
		if c.metrics != nil {
			c.metrics.VerdictExpiries.Add(1)
		}
		return nil
	}
	if c.metrics != nil {
		c.metrics.VerdictHits.Add(1)
	}
	v := entry.falsePositive
	return &v
}

// Clear drops all entries for a camera. Used when a camera's subscription
// lifecycle ends.
func (c *TrackVerdictCache) Clear(camera string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracks, camera)
	delete(c.cameras, camera)
}
