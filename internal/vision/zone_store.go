package vision

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ZoneStore persists user-drawn zones. It implements ZoneLoader for the
// reconciler and the save/delete surface used by the HTTP API.
type ZoneStore struct {
	db *sql.DB
}

// NewZoneStore creates a ZoneStore backed by the given database.
func NewZoneStore(db *sql.DB) *ZoneStore {
	return &ZoneStore{db: db}
}

// LoadZones returns all zones for a camera, oldest first.
func (s *ZoneStore) LoadZones(camera string) ([]Zone, error) {
	query := `
		SELECT zone_id, camera, name,
		       display_x1, display_y1, display_x2, display_y2,
		       frame_x1, frame_y1, frame_x2, frame_y2,
		       door_id, created_at_ns
		FROM zones
		WHERE camera = ?
		ORDER BY created_at_ns ASC
	`
	rows, err := s.db.Query(query, camera)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load zones rows: %w", err)
	}
	return zones, nil
}

// GetZone retrieves a single zone by ID.
func (s *ZoneStore) GetZone(zoneID string) (*Zone, error) {
	query := `
		SELECT zone_id, camera, name,
		       display_x1, display_y1, display_x2, display_y2,
		       frame_x1, frame_y1, frame_x2, frame_y2,
		       door_id, created_at_ns
		FROM zones
		WHERE zone_id = ?
	`
	row := s.db.QueryRow(query, zoneID)
	z, err := scanZone(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("zone not found: %s", zoneID)
	}
	if err != nil {
		return nil, err
	}
	return &z, nil
}

// SaveZones replaces the camera's zone set inside one transaction. Zones
// without an ID are assigned one.
func (s *ZoneStore) SaveZones(camera string, zones []Zone) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save zones: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM zones WHERE camera = ?`, camera); err != nil {
		return fmt.Errorf("clear zones: %w", err)
	}
	for i := range zones {
		if err := insertZone(tx, camera, &zones[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save zones commit: %w", err)
	}
	return nil
}

// InsertZone adds a single zone for a camera.
func (s *ZoneStore) InsertZone(camera string, zone *Zone) error {
	return insertZone(s.db, camera, zone)
}

// DeleteZone removes a zone by ID.
func (s *ZoneStore) DeleteZone(zoneID string) error {
	result, err := s.db.Exec(`DELETE FROM zones WHERE zone_id = ?`, zoneID)
	if err != nil {
		return fmt.Errorf("delete zone: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("zone not found: %s", zoneID)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertZone(e execer, camera string, zone *Zone) error {
	if zone.ID == "" {
		zone.ID = uuid.New().String()
	}
	zone.Camera = camera
	if zone.CreatedAtNs == 0 {
		zone.CreatedAtNs = time.Now().UnixNano()
	}

	var fx1, fy1, fx2, fy2 interface{}
	if zone.Frame != nil {
		fx1, fy1, fx2, fy2 = zone.Frame.X1, zone.Frame.Y1, zone.Frame.X2, zone.Frame.Y2
	}

	query := `
		INSERT INTO zones (
			zone_id, camera, name,
			display_x1, display_y1, display_x2, display_y2,
			frame_x1, frame_y1, frame_x2, frame_y2,
			door_id, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := e.Exec(query,
		zone.ID,
		camera,
		zone.Name,
		zone.Display.X1, zone.Display.Y1, zone.Display.X2, zone.Display.Y2,
		fx1, fy1, fx2, fy2,
		nullString(zone.DoorID),
		zone.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert zone: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanZone(row rowScanner) (Zone, error) {
	var z Zone
	var fx1, fy1, fx2, fy2 sql.NullFloat64
	var doorID sql.NullString

	err := row.Scan(
		&z.ID, &z.Camera, &z.Name,
		&z.Display.X1, &z.Display.Y1, &z.Display.X2, &z.Display.Y2,
		&fx1, &fy1, &fx2, &fy2,
		&doorID, &z.CreatedAtNs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return z, err
		}
		return z, fmt.Errorf("scan zone row: %w", err)
	}

	if fx1.Valid && fy1.Valid && fx2.Valid && fy2.Valid {
		z.Frame = &Rect{X1: fx1.Float64, Y1: fy1.Float64, X2: fx2.Float64, Y2: fy2.Float64}
	}
	if doorID.Valid {
		z.DoorID = doorID.String
	}
	return z, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
