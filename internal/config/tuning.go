// Package config loads the engine's tuning parameters.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kestrel-data/occupancy.report/internal/fsutil"
)

// TuningConfig holds the engine's tunable timing and transport parameters.
// All fields are optional pointers so a partial JSON file only overrides what
// it names; the Get* accessors supply the defaults. Duration fields are
// strings like "15s" so the same JSON works for runtime updates.
type TuningConfig struct {
	// Verdict cache
	VerdictTTL *string `json:"verdict_ttl,omitempty"`

	// Detection state store
	SweepInterval  *string `json:"sweep_interval,omitempty"`
	StaleResultAge *string `json:"stale_result_age,omitempty"`

	// Zone reconciler
	OccupancyCooldown *string `json:"occupancy_cooldown,omitempty"`

	// Escalation pipeline
	TriggerCooldown    *string `json:"trigger_cooldown,omitempty"`
	TerminalResetDelay *string `json:"terminal_reset_delay,omitempty"`

	// Detector service
	DetectorBaseURL *string `json:"detector_base_url,omitempty"`
	DetectorTimeout *string `json:"detector_timeout,omitempty"`
	ClassifyTimeout *string `json:"classify_timeout,omitempty"`

	// Server
	ListenAddr *string `json:"listen_addr,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
}

// durationFields maps JSON field names to values for validation.
func (c *TuningConfig) durationFields() map[string]*string {
	return map[string]*string{
		"verdict_ttl":          c.VerdictTTL,
		"sweep_interval":       c.SweepInterval,
		"stale_result_age":     c.StaleResultAge,
		"occupancy_cooldown":   c.OccupancyCooldown,
		"trigger_cooldown":     c.TriggerCooldown,
		"terminal_reset_delay": c.TerminalResetDelay,
		"detector_timeout":     c.DetectorTimeout,
		"classify_timeout":     c.ClassifyTimeout,
	}
}

// Validate checks that every duration field parses and is positive.
func (c *TuningConfig) Validate() error {
	for name, v := range c.durationFields() {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	return LoadTuningConfigFS(fsutil.OS{}, path)
}

// LoadTuningConfigFS is LoadTuningConfig against an explicit filesystem.
func LoadTuningConfigFS(fs fsutil.FileSystem, path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetVerdictTTL returns how long a cached classification verdict stays live.
func (c *TuningConfig) GetVerdictTTL() time.Duration {
	return c.duration(c.VerdictTTL, 15*time.Second)
}

// GetSweepInterval returns the period of the stale-result sweep.
func (c *TuningConfig) GetSweepInterval() time.Duration {
	return c.duration(c.SweepInterval, 10*time.Second)
}

// GetStaleResultAge returns how old a stored result must be before the
// sweep clears it.
func (c *TuningConfig) GetStaleResultAge() time.Duration {
	return c.duration(c.StaleResultAge, 30*time.Second)
}

// GetOccupancyCooldown returns the minimum spacing between applied
// backend-counter occupancy updates.
func (c *TuningConfig) GetOccupancyCooldown() time.Duration {
	return c.duration(c.OccupancyCooldown, 2*time.Second)
}

// GetTriggerCooldown returns the minimum spacing between escalation
// pipeline runs for one camera.
func (c *TuningConfig) GetTriggerCooldown() time.Duration {
	return c.duration(c.TriggerCooldown, 4*time.Second)
}

// GetTerminalResetDelay returns how long a terminal pipeline state is held
// before auto-reset to idle.
func (c *TuningConfig) GetTerminalResetDelay() time.Duration {
	return c.duration(c.TerminalResetDelay, 5*time.Second)
}

// GetDetectorBaseURL returns the perception service base URL.
func (c *TuningConfig) GetDetectorBaseURL() string {
	if c.DetectorBaseURL == nil || *c.DetectorBaseURL == "" {
		return "http://localhost:8500"
	}
	return *c.DetectorBaseURL
}

// GetDetectorTimeout returns the per-request detector timeout.
func (c *TuningConfig) GetDetectorTimeout() time.Duration {
	return c.duration(c.DetectorTimeout, 10*time.Second)
}

// GetClassifyTimeout returns the classification request timeout. The
// secondary classifier is slow, so this is much longer than detection.
func (c *TuningConfig) GetClassifyTimeout() time.Duration {
	return c.duration(c.ClassifyTimeout, 60*time.Second)
}

// GetListenAddr returns the API listen address.
func (c *TuningConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8092"
	}
	return *c.ListenAddr
}

// GetDBPath returns the engine database path.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "occupancy.db"
	}
	return *c.DBPath
}
