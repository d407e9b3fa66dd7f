package vision

import (
	"database/sql"
	"fmt"
	"time"
)

// OccupancySample is one appended absolute occupancy reading.
type OccupancySample struct {
	Camera       string    `json:"camera"`
	Count        int       `json:"count"`
	RecordedAtNs int64     `json:"recorded_at_ns"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// OccupancyLog is the append-only absolute occupancy record. The reconciler
// converts deltas to absolute counts before appending; rows are never
// updated or deleted.
type OccupancyLog struct {
	db *sql.DB
}

// NewOccupancyLog creates an OccupancyLog backed by the given database.
func NewOccupancyLog(db *sql.DB) *OccupancyLog {
	return &OccupancyLog{db: db}
}

// ReadLatest returns the most recent absolute count for a camera, or 0 when
// the camera has no history yet.
func (l *OccupancyLog) ReadLatest(camera string) (int, error) {
	query := `
		SELECT absolute_count
		FROM occupancy_log
		WHERE camera = ?
		ORDER BY recorded_at_ns DESC, id DESC
		LIMIT 1
	`
	var count int
	err := l.db.QueryRow(query, camera).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read latest occupancy: %w", err)
	}
	return count, nil
}

// Append records a new absolute count for a camera.
func (l *OccupancyLog) Append(camera string, absolute int) error {
	query := `
		INSERT INTO occupancy_log (camera, absolute_count, recorded_at_ns)
		VALUES (?, ?, ?)
	`
	if _, err := l.db.Exec(query, camera, absolute, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("append occupancy: %w", err)
	}
	return nil
}

// Recent returns up to limit samples for a camera, newest first.
func (l *OccupancyLog) Recent(camera string, limit int) ([]OccupancySample, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT camera, absolute_count, recorded_at_ns
		FROM occupancy_log
		WHERE camera = ?
		ORDER BY recorded_at_ns DESC, id DESC
		LIMIT ?
	`
	rows, err := l.db.Query(query, camera, limit)
	if err != nil {
		return nil, fmt.Errorf("recent occupancy: %w", err)
	}
	defer rows.Close()

	var samples []OccupancySample
	for rows.Next() {
		var s OccupancySample
		if err := rows.Scan(&s.Camera, &s.Count, &s.RecordedAtNs); err != nil {
			return nil, fmt.Errorf("scan occupancy row: %w", err)
		}
		s.RecordedAt = time.Unix(0, s.RecordedAtNs)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent occupancy rows: %w", err)
	}
	return samples, nil
}
