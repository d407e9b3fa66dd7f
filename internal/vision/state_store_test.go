package vision

import (
	"testing"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/timeutil"
)

func boolp(b bool) *bool     { return &b }
func intp(n int) *int        { return &n }
func i64p(n int64) *int64    { return &n }
func floatp(f float64) *float64 { return &f }

func TestGetStateUnknownCamera(t *testing.T) {
	s := NewDetectionStateStore(StateStoreOptions{})

	got := s.GetState("cam-1")
	if got.Camera != "cam-1" {
		t.Errorf("Camera = %q, want cam-1", got.Camera)
	}
	if got.InFlight || !got.UpdatedAt.IsZero() || got.Result.PeopleCount != 0 {
		t.Errorf("unknown camera state not zero-valued: %+v", got)
	}
}

func TestUpdateStampsAndStores(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := NewDetectionStateStore(StateStoreOptions{Clock: clock})

	s.Update("cam-1", DetectionResult{PeopleCount: 3, HasThreat: true})

	got := s.GetState("cam-1")
	if got.Result.PeopleCount != 3 || !got.Result.HasThreat {
		t.Errorf("stored result = %+v", got.Result)
	}
	if !got.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, clock.Now())
	}
}

func TestFanOutOrderAndIsolation(t *testing.T) {
	s := NewDetectionStateStore(StateStoreOptions{})

	var order []string
	s.Subscribe("cam-1", func(CameraState) { order = append(order, "first") })
	s.Subscribe("cam-1", func(CameraState) { panic("subscriber blew up") })
	s.Subscribe("cam-1", func(CameraState) { order = append(order, "third") })

	s.Update("cam-1", DetectionResult{PeopleCount: 1})

	want := []string{"first", "third"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("fan-out order = %v, want %v", order, want)
	}

	// State survived the panicking subscriber.
	if got := s.GetState("cam-1"); got.Result.PeopleCount != 1 {
		t.Errorf("state lost after subscriber panic: %+v", got.Result)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	s := NewDetectionStateStore(StateStoreOptions{})

	calls := 0
	kept := 0
	unsub := s.Subscribe("cam-1", func(CameraState) { calls++ })
	s.Subscribe("cam-1", func(CameraState) { kept++ })

	s.Update("cam-1", DetectionResult{})
	unsub()
	unsub() // second call must not disturb the remaining subscriber
	s.Update("cam-1", DetectionResult{})

	if calls != 1 {
		t.Errorf("unsubscribed callback ran %d times, want 1", calls)
	}
	if kept != 2 {
		t.Errorf("remaining subscriber ran %d times, want 2", kept)
	}
}

func TestSetInFlightFansOut(t *testing.T) {
	s := NewDetectionStateStore(StateStoreOptions{})

	var seen []bool
	s.Subscribe("cam-1", func(state CameraState) { seen = append(seen, state.InFlight) })

	s.SetInFlight("cam-1", true)
	s.SetInFlight("cam-1", false)

	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("in-flight fan-out = %v, want [true false]", seen)
	}
}

func TestVerdictBackfillOnUpdate(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	verdicts := NewTrackVerdictCache(clock, 15*time.Second)
	s := NewDetectionStateStore(StateStoreOptions{Clock: clock, Verdicts: verdicts})

	// First result carries a ruled verdict for track 9 and a camera-level one.
	s.Update("cam-1", DetectionResult{
		HasThreat:          true,
		Threats:            []BoundingBox{{TrackID: i64p(9), LLMFalsePositive: boolp(true)}},
		LLMIsFalsePositive: boolp(true),
	})

	// The next frame arrives unruled; both levels are backfilled.
	s.Update("cam-1", DetectionResult{
		HasThreat: true,
		Threats:   []BoundingBox{{TrackID: i64p(9)}, {TrackID: i64p(10)}},
	})

	got := s.GetState("cam-1")
	if v := got.Result.Threats[0].LLMFalsePositive; v == nil || !*v {
		t.Errorf("track 9 verdict not backfilled: %v", v)
	}
	if v := got.Result.Threats[1].LLMFalsePositive; v != nil {
		t.Errorf("track 10 has no verdict, got backfill %v", *v)
	}
	if v := got.Result.LLMIsFalsePositive; v == nil || !*v {
		t.Errorf("camera-level verdict not backfilled: %v", v)
	}

	// Past the TTL the backfill stops.
	clock.Advance(16 * time.Second)
	s.Update("cam-1", DetectionResult{
		HasThreat: true,
		Threats:   []BoundingBox{{TrackID: i64p(9)}},
	})
	got = s.GetState("cam-1")
	if v := got.Result.Threats[0].LLMFalsePositive; v != nil {
		t.Errorf("expired verdict still backfilled: %v", *v)
	}
}

func TestSweepClearsStaleResults(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := NewDetectionStateStore(StateStoreOptions{
		Clock:          clock,
		StaleResultAge: 30 * time.Second,
	})

	s.Update("stale", DetectionResult{PeopleCount: 2})
	s.Update("inflight", DetectionResult{PeopleCount: 4})
	s.SetInFlight("inflight", true)

	clock.Advance(20 * time.Second)
	s.Update("fresh", DetectionResult{PeopleCount: 1})

	clock.Advance(11 * time.Second) // stale and inflight now 31s old

	if cleared := s.SweepOnce(); cleared != 1 {
		t.Fatalf("SweepOnce cleared %d, want 1", cleared)
	}
	if got := s.GetState("stale"); got.Result.PeopleCount != 0 || !got.UpdatedAt.IsZero() {
		t.Errorf("stale camera not cleared: %+v", got)
	}
	if got := s.GetState("inflight"); got.Result.PeopleCount != 4 {
		t.Errorf("in-flight camera was cleared: %+v", got)
	}
	if got := s.GetState("fresh"); got.Result.PeopleCount != 1 {
		t.Errorf("fresh camera was cleared: %+v", got)
	}

	// Subscriptions survive the sweep.
	calls := 0
	s.Subscribe("stale", func(CameraState) { calls++ })
	s.SweepOnce()
	s.Update("stale", DetectionResult{PeopleCount: 5})
	if calls != 1 {
		t.Errorf("subscriber after sweep ran %d times, want 1", calls)
	}
}

func TestSweeperLoopStopsOnCancel(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := NewDetectionStateStore(StateStoreOptions{
		Clock:          clock,
		SweepInterval:  10 * time.Second,
		StaleResultAge: 5 * time.Second,
	})
	s.Update("cam-1", DetectionResult{PeopleCount: 1})

	ctx, cancel := contextWithCancel()
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx)
		close(done)
	}()

	// Let the goroutine park on the ticker, then drive one sweep.
	waitFor(t, "sweeper to start", func() bool {
		clock.Advance(10 * time.Second)
		return s.GetState("cam-1").UpdatedAt.IsZero()
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSweeper did not stop after cancel")
	}
}
