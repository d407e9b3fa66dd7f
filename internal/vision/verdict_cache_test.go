package vision

import (
	"testing"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/timeutil"
)

func TestVerdictLookupMissing(t *testing.T) {
	c := NewTrackVerdictCache(nil, 0)
	if v := c.Lookup("cam-1", 7); v != nil {
		t.Errorf("Lookup on empty cache = %v, want nil", *v)
	}
	if v := c.LookupCameraLevel("cam-1"); v != nil {
		t.Errorf("LookupCameraLevel on empty cache = %v, want nil", *v)
	}
}

func TestVerdictTTLBoundary(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	c := NewTrackVerdictCache(clock, 15*time.Second)

	c.Record("cam-1", 42, true)

	clock.Advance(14999 * time.Millisecond)
	v := c.Lookup("cam-1", 42)
	if v == nil || *v != true {
		t.Fatalf("Lookup at recorded_at+14999ms = %v, want true", v)
	}

	clock.Advance(2 * time.Millisecond) // now recorded_at+15001ms
	if v := c.Lookup("cam-1", 42); v != nil {
		t.Fatalf("Lookup at recorded_at+15001ms = %v, want nil", *v)
	}

	// Lazy deletion: the entry is gone even if the clock rolls back.
	clock.Set(time.Unix(1700000000, 0))
	if v := c.Lookup("cam-1", 42); v != nil {
		t.Fatalf("expired entry should have been deleted, got %v", *v)
	}
}

func TestVerdictCameraLevelTTL(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	c := NewTrackVerdictCache(clock, 15*time.Second)

	c.RecordCameraLevel("cam-1", false)

	clock.Advance(10 * time.Second)
	v := c.LookupCameraLevel("cam-1")
	if v == nil || *v != false {
		t.Fatalf("LookupCameraLevel before TTL = %v, want false", v)
	}

	clock.Advance(6 * time.Second)
	if v := c.LookupCameraLevel("cam-1"); v != nil {
		t.Fatalf("LookupCameraLevel after TTL = %v, want nil", *v)
	}
}

func TestVerdictUpsertRefreshesTimestamp(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	c := NewTrackVerdictCache(clock, 15*time.Second)

	c.Record("cam-1", 1, true)
	clock.Advance(10 * time.Second)
	c.Record("cam-1", 1, false)

	clock.Advance(10 * time.Second)
	v := c.Lookup("cam-1", 1)
	if v == nil || *v != false {
		t.Fatalf("re-recorded verdict should survive 10s, got %v", v)
	}
}

func TestVerdictCamerasIsolated(t *testing.T) {
	c := NewTrackVerdictCache(nil, 0)
	c.Record("cam-1", 5, true)

	if v := c.Lookup("cam-2", 5); v != nil {
		t.Errorf("verdict leaked across cameras: %v", *v)
	}
}

func TestVerdictClear(t *testing.T) {
	c := NewTrackVerdictCache(nil, 0)
	c.Record("cam-1", 5, true)
	c.RecordCameraLevel("cam-1", true)

	c.Clear("cam-1")

	if c.Lookup("cam-1", 5) != nil || c.LookupCameraLevel("cam-1") != nil {
		t.Error("Clear left entries behind")
	}
}
