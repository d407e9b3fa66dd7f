package vision

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE zones (
			zone_id       TEXT PRIMARY KEY,
			camera        TEXT NOT NULL,
			name          TEXT NOT NULL,
			display_x1    REAL NOT NULL,
			display_y1    REAL NOT NULL,
			display_x2    REAL NOT NULL,
			display_y2    REAL NOT NULL,
			frame_x1      REAL,
			frame_y1      REAL,
			frame_x2      REAL,
			frame_y2      REAL,
			door_id       TEXT,
			created_at_ns INTEGER NOT NULL
		);
		CREATE TABLE occupancy_log (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			camera         TEXT NOT NULL,
			absolute_count INTEGER NOT NULL,
			recorded_at_ns INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestZoneStoreInsertAndLoad(t *testing.T) {
	store := NewZoneStore(setupTestDB(t))

	zone := Zone{
		Name:    "entrance",
		Display: Rect{X1: 10, Y1: 20, X2: 110, Y2: 120},
		Frame:   &Rect{X1: 24, Y1: 48, X2: 264, Y2: 288},
		DoorID:  "door-7",
	}
	if err := store.InsertZone("cam-1", &zone); err != nil {
		t.Fatalf("InsertZone: %v", err)
	}
	if zone.ID == "" {
		t.Fatal("InsertZone did not assign an ID")
	}
	if zone.CreatedAtNs == 0 {
		t.Fatal("InsertZone did not stamp created_at_ns")
	}

	zones, err := store.LoadZones("cam-1")
	if err != nil {
		t.Fatalf("LoadZones: %v", err)
	}
	if len(zones) != 1 {
		t.Fatalf("LoadZones returned %d zones, want 1", len(zones))
	}
	got := zones[0]
	if got.Name != "entrance" || got.DoorID != "door-7" || got.Camera != "cam-1" {
		t.Errorf("loaded zone = %+v", got)
	}
	if got.Frame == nil || *got.Frame != *zone.Frame {
		t.Errorf("loaded frame rect = %v, want %v", got.Frame, zone.Frame)
	}
}

func TestZoneStoreNilFrameRoundTrips(t *testing.T) {
	store := NewZoneStore(setupTestDB(t))

	zone := Zone{Name: "unresolved", Display: Rect{X2: 50, Y2: 50}}
	if err := store.InsertZone("cam-1", &zone); err != nil {
		t.Fatalf("InsertZone: %v", err)
	}

	got, err := store.GetZone(zone.ID)
	if err != nil {
		t.Fatalf("GetZone: %v", err)
	}
	if got.Frame != nil {
		t.Errorf("Frame = %v, want nil", got.Frame)
	}
	if got.DoorID != "" {
		t.Errorf("DoorID = %q, want empty", got.DoorID)
	}
}

func TestZoneStoreLoadOrdersByCreation(t *testing.T) {
	store := NewZoneStore(setupTestDB(t))

	for i, name := range []string{"first", "second", "third"} {
		z := Zone{Name: name, Display: Rect{X2: 10, Y2: 10}, CreatedAtNs: int64(i + 1)}
		if err := store.InsertZone("cam-1", &z); err != nil {
			t.Fatalf("InsertZone %s: %v", name, err)
		}
	}

	zones, err := store.LoadZones("cam-1")
	if err != nil {
		t.Fatalf("LoadZones: %v", err)
	}
	if len(zones) != 3 || zones[0].Name != "first" || zones[2].Name != "third" {
		t.Errorf("load order wrong: %+v", zones)
	}
}

func TestZoneStoreSaveZonesReplacesSet(t *testing.T) {
	store := NewZoneStore(setupTestDB(t))

	old := Zone{Name: "old", Display: Rect{X2: 10, Y2: 10}}
	if err := store.InsertZone("cam-1", &old); err != nil {
		t.Fatalf("InsertZone: %v", err)
	}
	other := Zone{Name: "elsewhere", Display: Rect{X2: 10, Y2: 10}}
	if err := store.InsertZone("cam-2", &other); err != nil {
		t.Fatalf("InsertZone: %v", err)
	}

	replacement := []Zone{
		{Name: "new-a", Display: Rect{X2: 20, Y2: 20}},
		{Name: "new-b", Display: Rect{X2: 30, Y2: 30}},
	}
	if err := store.SaveZones("cam-1", replacement); err != nil {
		t.Fatalf("SaveZones: %v", err)
	}

	zones, err := store.LoadZones("cam-1")
	if err != nil {
		t.Fatalf("LoadZones: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("cam-1 has %d zones after replace, want 2", len(zones))
	}
	for _, z := range zones {
		if z.Name == "old" {
			t.Error("replaced zone still present")
		}
	}

	// The other camera's zones are untouched.
	zones, err = store.LoadZones("cam-2")
	if err != nil {
		t.Fatalf("LoadZones cam-2: %v", err)
	}
	if len(zones) != 1 || zones[0].Name != "elsewhere" {
		t.Errorf("cam-2 zones disturbed: %+v", zones)
	}
}

func TestZoneStoreDelete(t *testing.T) {
	store := NewZoneStore(setupTestDB(t))

	zone := Zone{Name: "doomed", Display: Rect{X2: 10, Y2: 10}}
	if err := store.InsertZone("cam-1", &zone); err != nil {
		t.Fatalf("InsertZone: %v", err)
	}

	if err := store.DeleteZone(zone.ID); err != nil {
		t.Fatalf("DeleteZone: %v", err)
	}
	if _, err := store.GetZone(zone.ID); err == nil {
		t.Error("GetZone succeeded after delete")
	}
	if err := store.DeleteZone(zone.ID); err == nil {
		t.Error("deleting a missing zone should fail")
	}
}
