package vision

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/monitoring"
	"github.com/kestrel-data/occupancy.report/internal/timeutil"
)

// Default sweep parameters for the stale-result sweep. A camera that stops
// streaming keeps its last result for StaleResultAge, then the sweep clears
// it to bound memory. Subscriptions survive the sweep.
const (
	DefaultSweepInterval  = 10 * time.Second
	DefaultStaleResultAge = 30 * time.Second
)

// Subscriber receives the camera's new state after every update. Callbacks
// run synchronously on the updater's goroutine, in registration order. A
// panicking subscriber is recovered and logged; it never corrupts state or
// starves later subscribers.
type Subscriber func(state CameraState)

type cameraEntry struct {
	mu    sync.Mutex
	state CameraState

	subMu  sync.Mutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn Subscriber
}

// DetectionStateStore holds per-camera detection state and fans updates out
// to subscribers. All mutation of one camera's entry is serialized by that
// entry's lock; different cameras proceed independently.
type DetectionStateStore struct {
	mu      sync.RWMutex
	entries map[string]*cameraEntry

	clock    timeutil.Clock
	verdicts *TrackVerdictCache
	metrics  *Metrics

	sweepInterval time.Duration
	staleAge      time.Duration

	logf func(format string, v ...interface{})
}

// StateStoreOptions configures a DetectionStateStore.
type StateStoreOptions struct {
	// Clock defaults to the real clock.
	Clock timeutil.Clock
	// Verdicts is consulted on every update to backfill missing
	// classification flags. Optional.
	Verdicts *TrackVerdictCache
	// Metrics is optional.
	Metrics *Metrics
	// SweepInterval and StaleResultAge default to the package constants.
	SweepInterval  time.Duration
	StaleResultAge time.Duration
}

// NewDetectionStateStore creates an empty store.
func NewDetectionStateStore(opts StateStoreOptions) *DetectionStateStore {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	stale := opts.StaleResultAge
	if stale <= 0 {
		stale = DefaultStaleResultAge
	}
	return &DetectionStateStore{
		entries:       make(map[string]*cameraEntry),
		clock:         clock,
		verdicts:      opts.Verdicts,
		metrics:       opts.Metrics,
		sweepInterval: sweep,
		staleAge:      stale,
		logf:          monitoring.Scoped("state-store"),
	}
}

func (s *DetectionStateStore) entry(camera string) *cameraEntry {
	s.mu.RLock()
	e := s.entries[camera]
	s.mu.RUnlock()
	if e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[camera]; e == nil {
		e = &cameraEntry{state: CameraState{Camera: camera}}
		s.entries[camera] = e
	}
	return e
}

// Update stores result as the camera's current state, reconciles
// classification verdicts against the cache, stamps the update time and
// fans the new state out to every subscriber for that camera.
func (s *DetectionStateStore) Update(camera string, result DetectionResult) {
	e := s.entry(camera)

	e.mu.Lock()
	s.reconcileVerdicts(camera, &result)
	e.state.Result = result
	e.state.UpdatedAt = s.clock.Now()
	state := e.state
	e.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ResultsIngested.Add(1)
		if result.HasThreat {
			s.metrics.ThreatsSeen.Add(1)
		}
	}
	s.fanOut(e, state)
}

// SetInFlight flips the camera's in-flight flag without touching the stored
// result, and fans out so subscribers can reflect it.
func (s *DetectionStateStore) SetInFlight(camera string, inFlight bool) {
	e := s.entry(camera)

	e.mu.Lock()
	e.state.InFlight = inFlight
	state := e.state
	e.mu.Unlock()

	s.fanOut(e, state)
}

// GetState returns the camera's last known state, or a zero-value default
// when the camera has never reported. It never blocks on fan-out.
func (s *DetectionStateStore) GetState(camera string) CameraState {
	s.mu.RLock()
	e := s.entries[camera]
	s.mu.RUnlock()
	if e == nil {
		return CameraState{Camera: camera}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers a callback for the camera's updates and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (s *DetectionStateStore) Subscribe(camera string, fn Subscriber) (unsubscribe func()) {
	e := s.entry(camera)

	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			for i, sub := range e.subs {
				if sub.id == id {
					e.subs = append(e.subs[:i], e.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// reconcileVerdicts backfills classification flags from the verdict cache
// and records any fresh verdicts the result carries. Called with the
// camera entry lock held.
//
// The classifier rules once per escalation while the detector reports every
// frame; without the backfill every intermediate frame would render its
// threat boxes as unclassified again.
func (s *DetectionStateStore) reconcileVerdicts(camera string, result *DetectionResult) {
	if s.verdicts == nil {
		return
	}

	// Record fresh verdicts first so they win over stale cache entries.
	if result.LLMIsFalsePositive != nil {
		s.verdicts.RecordCameraLevel(camera, *result.LLMIsFalsePositive)
	}
	for i := range result.Threats {
		box := &result.Threats[i]
		if box.TrackID != nil && box.LLMFalsePositive != nil {
			s.verdicts.Record(camera, *box.TrackID, *box.LLMFalsePositive)
		}
	}

	// Backfill what the incoming result is missing.
	for i := range result.Threats {
		box := &result.Threats[i]
		if box.TrackID == nil || box.LLMFalsePositive != nil {
			continue
		}
		if v := s.verdicts.Lookup(camera, *box.TrackID); v != nil {
			box.LLMFalsePositive = v
		}
	}
	if result.LLMIsFalsePositive == nil {
		result.LLMIsFalsePositive = s.verdicts.LookupCameraLevel(camera)
	}
}

func (s *DetectionStateStore) fanOut(e *cameraEntry, state CameraState) {
	e.subMu.Lock()
	subs := append([]subscription(nil), e.subs...)
	e.subMu.Unlock()

	for _, sub := range subs {
		s.invoke(sub.fn, state)
	}
}

// invoke isolates a single subscriber call so one panicking callback cannot
// take down the fan-out.
func (s *DetectionStateStore) invoke(fn Subscriber, state CameraState) {
	defer func() {
		if r := recover(); r != nil {
			if s.metrics != nil {
				s.metrics.SubscriberPanics.Add(1)
			}
			s.logf("subscriber panic for camera %s: %v", state.Camera, r)
		}
	}()
	fn(state)
}

// RunSweeper clears stale results periodically until ctx is cancelled. A
// result is stale when it is older than StaleResultAge and the camera is
// not in-flight. Intended to run as a goroutine owned by the engine.
func (s *DetectionStateStore) RunSweeper(ctx context.Context) {
	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single stale-result sweep pass and returns how many
// cameras were cleared.
func (s *DetectionStateStore) SweepOnce() int {
	s.mu.RLock()
	entries := make([]*cameraEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	cleared := 0
	now := s.clock.Now()
	for _, e := range entries {
		e.mu.Lock()
		stale := !e.state.UpdatedAt.IsZero() &&
			now.Sub(e.state.UpdatedAt) > s.staleAge &&
			!e.state.InFlight
		if stale {
			e.state.Result = DetectionResult{}
			e.state.UpdatedAt = time.Time{}
			cleared++
		}
		e.mu.Unlock()
	}

	if cleared > 0 {
		if s.metrics != nil {
			s.metrics.StaleSweeps.Add(uint64(cleared))
		}
		s.logf("sweep cleared %d stale camera result(s)", cleared)
	}
	return cleared
}
