package vision

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/monitoring"
	"github.com/kestrel-data/occupancy.report/internal/timeutil"
)

// OccupancyReader reads the last persisted absolute count.
type OccupancyReader interface {
	ReadLatest(camera string) (int, error)
}

// OccupancyAppender appends a new absolute count.
type OccupancyAppender interface {
	Append(camera string, absolute int) error
}

// OccupancyStore is the persistence contract the applier needs.
// *OccupancyLog satisfies it.
type OccupancyStore interface {
	OccupancyReader
	OccupancyAppender
}

// occupancyApplier converts deltas to clamped absolute counts and appends
// them. The in-memory absolute value stays authoritative across a failed
// append, so the next delta builds on the last attempted value instead of
// re-reading a count the write never landed.
type occupancyApplier struct {
	mu     sync.Mutex
	store  OccupancyStore
	counts map[string]int
	seeded map[string]bool
	logf   func(format string, v ...interface{})
}

func newOccupancyApplier(store OccupancyStore) *occupancyApplier {
	return &occupancyApplier{
		store:  store,
		counts: make(map[string]int),
		seeded: make(map[string]bool),
		logf:   monitoring.Scoped("occupancy"),
	}
}

// ApplyDelta implements OccupancyApplier.
func (a *occupancyApplier) ApplyDelta(camera string, delta int) error {
	a.mu.Lock()
	if !a.seeded[camera] {
		latest, err := a.store.ReadLatest(camera)
		if err != nil {
			a.logf("seed read for camera %s failed, starting at 0: %v", camera, err)
			latest = 0
		}
		a.counts[camera] = latest
		a.seeded[camera] = true
	}

	next := a.counts[camera] + delta
	if next < 0 {
		next = 0
	}
	a.counts[camera] = next
	a.mu.Unlock()

	if err := a.store.Append(camera, next); err != nil {
		return err
	}
	return nil
}

// SurfaceRegistry is a SurfaceInspector fed by whatever the frontend last
// reported for each camera's rendered rectangle and native resolution.
type SurfaceRegistry struct {
	mu       sync.RWMutex
	surfaces map[string]DisplaySurface
}

// NewSurfaceRegistry returns an empty registry.
func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{surfaces: make(map[string]DisplaySurface)}
}

// Set records the camera's current display surface.
func (r *SurfaceRegistry) Set(camera string, s DisplaySurface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces[camera] = s
}

// Surface implements SurfaceInspector.
func (r *SurfaceRegistry) Surface(camera string) (DisplaySurface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[camera]
	return s, ok
}

// Engine wires the detection state store, verdict cache, zone reconciler
// and per-camera escalation pipelines into one runtime.
type Engine struct {
	Store      *DetectionStateStore
	Verdicts   *TrackVerdictCache
	Reconciler *ZoneReconciler
	Zones      *ZoneStore
	Occupancy  *OccupancyLog
	Surfaces   *SurfaceRegistry
	Metrics    *Metrics

	clock timeutil.Clock
	popts PipelineOptions

	mu        sync.Mutex
	pipelines map[string]*AnalysisPipeline
	watched   map[string]func()
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Zones     *ZoneStore
	Occupancy *OccupancyLog

	Frames     FrameSource
	Classifier ThreatClassifier

	Clock   timeutil.Clock
	Metrics *Metrics

	// Timing knobs; zero values use the package defaults.
	VerdictTTL         time.Duration
	SweepInterval      time.Duration
	StaleResultAge     time.Duration
	OccupancyCooldown  time.Duration
	TriggerCooldown    time.Duration
	TerminalResetDelay time.Duration
}

// NewEngine builds the component graph. Background loops start with Run.
func NewEngine(opts EngineOptions) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	verdicts := NewTrackVerdictCache(clock, opts.VerdictTTL)
	verdicts.SetMetrics(metrics)

	store := NewDetectionStateStore(StateStoreOptions{
		Clock:          clock,
		Verdicts:       verdicts,
		Metrics:        metrics,
		SweepInterval:  opts.SweepInterval,
		StaleResultAge: opts.StaleResultAge,
	})

	surfaces := NewSurfaceRegistry()

	var applier OccupancyApplier
	if opts.Occupancy != nil {
		applier = newOccupancyApplier(opts.Occupancy)
	}
	var loader ZoneLoader
	if opts.Zones != nil {
		loader = opts.Zones
	}
	reconciler := NewZoneReconciler(ReconcilerOptions{
		Loader:    loader,
		Applier:   applier,
		Inspector: surfaces,
		Clock:     clock,
		Cooldown:  opts.OccupancyCooldown,
		Metrics:   metrics,
	})

	return &Engine{
		Store:      store,
		Verdicts:   verdicts,
		Reconciler: reconciler,
		Zones:      opts.Zones,
		Occupancy:  opts.Occupancy,
		Surfaces:   surfaces,
		Metrics:    metrics,
		clock:      clock,
		popts: PipelineOptions{
			Frames:     opts.Frames,
			Classifier: opts.Classifier,
			Clock:      clock,
			Cooldown:   opts.TriggerCooldown,
			ResetDelay: opts.TerminalResetDelay,
			Metrics:    metrics,
		},
		pipelines: make(map[string]*AnalysisPipeline),
		watched:   make(map[string]func()),
	}
}

// Watch subscribes the reconciler and pipeline trigger to a camera's
// updates. Returns an unwatch function; watching twice is a no-op.
func (e *Engine) Watch(camera string) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if unsub, ok := e.watched[camera]; ok {
		return unsub
	}

	unsub := e.Store.Subscribe(camera, func(state CameraState) {
		e.Reconciler.HandleResult(state.Camera, state.Result)
		if suspiciousVisible(state.Result) {
			e.Pipeline(state.Camera).Trigger()
		}
	})
	wrapped := func() {
		unsub()
		e.mu.Lock()
		delete(e.watched, camera)
		e.mu.Unlock()
	}
	e.watched[camera] = wrapped
	return wrapped
}

// suspiciousVisible reports whether the result shows a threat box that has
// not already been ruled a false positive.
func suspiciousVisible(result DetectionResult) bool {
	if !result.HasThreat {
		return false
	}
	for _, box := range result.Threats {
		if box.LLMFalsePositive != nil && *box.LLMFalsePositive {
			continue
		}
		return true
	}
	return false
}

// Pipeline returns the camera's escalation pipeline, creating it lazily.
func (e *Engine) Pipeline(camera string) *AnalysisPipeline {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pipelines[camera]
	if p == nil {
		opts := e.popts
		opts.Camera = camera
		opts.Verdicts = e.Verdicts
		p = NewAnalysisPipeline(opts)
		e.pipelines[camera] = p
	}
	return p
}

// NotifyZonesChanged invalidates the camera's cached zone set.
func (e *Engine) NotifyZonesChanged(camera string) {
	e.Reconciler.NotifyZonesChanged(camera)
}

// Run owns the background loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.Store.RunSweeper(ctx)
}
