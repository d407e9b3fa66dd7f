package vision

import (
	"sync"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/monitoring"
	"github.com/kestrel-data/occupancy.report/internal/timeutil"
)

// DefaultOccupancyCooldown is the minimum spacing between applied
// backend-counter occupancy updates. The local geometric path is not
// cooldown-gated: it is already throttled upstream by the detector's frame
// rate, and the recorded behavior keeps that asymmetry.
const DefaultOccupancyCooldown = 2 * time.Second

// ZoneLoader fetches the persisted zone set for a camera.
type ZoneLoader interface {
	LoadZones(camera string) ([]Zone, error)
}

// OccupancyApplier converts an occupancy delta into a persisted absolute
// count. Implementations read the last known absolute value, add the delta,
// clamp at zero and append the new value externally.
type OccupancyApplier interface {
	ApplyDelta(camera string, delta int) error
}

// cameraZoneState is everything the reconciler tracks for one camera. Its
// mutex scopes reconciliation locking to the camera key, so a slow zone
// load for one camera never stalls results for another.
type cameraZoneState struct {
	mu     sync.Mutex
	zones  []Zone
	loaded bool

	peopleInZones    int
	backendOccupancy *int
	backendEntries   *int
	lastUpdate       time.Time
}

// ZoneReconciler derives occupancy deltas from detection results. When the
// perception backend reports its own zone counters those are authoritative;
// otherwise detection centers are tested against the camera's zones in
// frame space.
type ZoneReconciler struct {
	mu      sync.Mutex // guards cameras only
	cameras map[string]*cameraZoneState

	loader    ZoneLoader
	applier   OccupancyApplier
	inspector SurfaceInspector
	clock     timeutil.Clock
	cooldown  time.Duration
	metrics   *Metrics
	logf      func(format string, v ...interface{})
}

// ReconcilerOptions configures a ZoneReconciler.
type ReconcilerOptions struct {
	Loader    ZoneLoader
	Applier   OccupancyApplier
	Inspector SurfaceInspector
	Clock     timeutil.Clock
	// Cooldown gates the backend-counter path. Zero uses the default.
	Cooldown time.Duration
	Metrics  *Metrics
}

// NewZoneReconciler creates a reconciler with no zones loaded. Zones are
// pulled lazily per camera and on NotifyZonesChanged.
func NewZoneReconciler(opts ReconcilerOptions) *ZoneReconciler {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultOccupancyCooldown
	}
	return &ZoneReconciler{
		cameras:   make(map[string]*cameraZoneState),
		loader:    opts.Loader,
		applier:   opts.Applier,
		inspector: opts.Inspector,
		clock:     clock,
		cooldown:  cooldown,
		metrics:   opts.Metrics,
		logf:      monitoring.Scoped("zones"),
	}
}

// camera returns the camera's state entry, creating it on first sight. The
// reconciler-wide lock covers only the map lookup; all further locking is
// on the entry itself.
func (r *ZoneReconciler) camera(camera string) *cameraZoneState {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cameras[camera]
	if c == nil {
		c = &cameraZoneState{}
		r.cameras[camera] = c
	}
	return c
}

// NotifyZonesChanged forces a reload of the camera's zone set on the next
// HandleResult. Called by the zone-change notification hook.
func (r *ZoneReconciler) NotifyZonesChanged(camera string) {
	c := r.camera(camera)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones = nil
	c.loaded = false
}

// Zones returns the camera's current zone set, loading it if needed.
func (r *ZoneReconciler) Zones(camera string) []Zone {
	c := r.camera(camera)
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.zonesLocked(camera, c)
}

// zonesLocked returns the cached zone set, pulling from the loader on a
// miss. Called with c.mu held.
func (r *ZoneReconciler) zonesLocked(camera string, c *cameraZoneState) []Zone {
	if c.loaded {
		return c.zones
	}
	if r.loader == nil {
		return nil
	}
	zs, err := r.loader.LoadZones(camera)
	if err != nil {
		r.logf("zone load failed for camera %s: %v", camera, err)
		// Do not cache the failure; retry on the next result.
		return nil
	}
	c.zones = zs
	c.loaded = true
	return zs
}

// HandleResult derives and applies the occupancy delta for one detection
// result. It is the store subscriber entry point; per spec the caller
// serializes results per camera.
func (r *ZoneReconciler) HandleResult(camera string, result DetectionResult) {
	if result.CurrentOccupancy != nil || result.EntryCount != nil {
		r.handleBackendCounters(camera, result)
		return
	}
	r.handleGeometric(camera, result)
}

// handleBackendCounters trusts the perception backend's own zone counting.
// The first observation seeds the previous value, yielding a zero delta.
func (r *ZoneReconciler) handleBackendCounters(camera string, result DetectionResult) {
	c := r.camera(camera)
	c.mu.Lock()

	occupancy := result.CurrentOccupancy
	if occupancy == nil {
		occupancy = result.EntryCount
	}

	prev := c.backendOccupancy
	if result.CurrentOccupancy == nil {
		prev = c.backendEntries
	}
	if prev == nil {
		prev = occupancy
	}
	delta := *occupancy - *prev

	now := r.clock.Now()
	cooled := c.lastUpdate.IsZero() || now.Sub(c.lastUpdate) >= r.cooldown
	apply := delta != 0 && cooled
	if apply {
		if result.CurrentOccupancy != nil {
			c.backendOccupancy = occupancy
		} else {
			c.backendEntries = occupancy
		}
		c.lastUpdate = now
	} else if delta == 0 {
		// Keep the observed value current so a later change computes its
		// delta against what the backend actually reported.
		if result.CurrentOccupancy != nil && c.backendOccupancy == nil {
			c.backendOccupancy = occupancy
		}
		if result.CurrentOccupancy == nil && c.backendEntries == nil {
			c.backendEntries = occupancy
		}
	}
	c.mu.Unlock()

	if apply {
		if r.metrics != nil {
			r.metrics.BackendDeltas.Add(1)
		}
		r.apply(camera, delta)
	}
}

// handleGeometric counts detection centers inside the camera's zones. A
// detection inside several overlapping zones still counts once toward the
// people-in-zones total.
func (r *ZoneReconciler) handleGeometric(camera string, result DetectionResult) {
	c := r.camera(camera)
	c.mu.Lock()
	zones := r.zonesLocked(camera, c)

	if len(zones) == 0 {
		// No zones means nothing to count against; leave counters alone.
		c.mu.Unlock()
		return
	}

	resolved := r.resolveZones(camera, zones)
	peopleInZones := 0
	for _, box := range result.Detections {
		center := Point{X: box.CenterX(), Y: box.CenterY()}
		for i := range resolved {
			if resolved[i].Contains(center) {
				peopleInZones++
				break
			}
		}
	}

	delta := peopleInZones - c.peopleInZones
	if delta != 0 {
		c.peopleInZones = peopleInZones
		c.lastUpdate = r.clock.Now()
	}
	c.mu.Unlock()

	if delta != 0 {
		if r.metrics != nil {
			r.metrics.GeometricDeltas.Add(1)
		}
		r.apply(camera, delta)
	}
}

// resolveZones produces the frame-space rectangles to test against. A zone
// with a persisted frame rect is used as-is; otherwise its display rect is
// mapped through the live display surface. Zones whose mapping is
// unavailable are excluded for this cycle.
func (r *ZoneReconciler) resolveZones(camera string, zones []Zone) []Zone {
	var surface DisplaySurface
	haveSurface := false
	if r.inspector != nil {
		surface, haveSurface = r.inspector.Surface(camera)
	}

	resolved := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if z.Frame != nil {
			resolved = append(resolved, z)
			continue
		}
		if !haveSurface {
			continue
		}
		frame, ok := RectToFrame(z.Display, surface.Rect, surface.FrameWidth, surface.FrameHeight)
		if !ok {
			continue
		}
		z.Frame = &frame
		resolved = append(resolved, z)
	}
	return resolved
}

func (r *ZoneReconciler) apply(camera string, delta int) {
	if r.metrics != nil {
		r.metrics.DeltasEmitted.Add(1)
	}
	if r.applier == nil {
		return
	}
	if err := r.applier.ApplyDelta(camera, delta); err != nil {
		// In-memory counters stay authoritative; the next delta is computed
		// against the last attempted value, not re-derived from storage.
		r.logf("apply occupancy delta %+d for camera %s failed: %v", delta, camera, err)
	}
}
