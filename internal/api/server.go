// Package api exposes the engine's HTTP surface: detection result ingest,
// camera state queries, zone CRUD, display surface reports, escalation
// triggers and occupancy history. The administrative dashboard that
// consumes it lives elsewhere.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kestrel-data/occupancy.report/internal/httputil"
	"github.com/kestrel-data/occupancy.report/internal/security"
	"github.com/kestrel-data/occupancy.report/internal/version"
	"github.com/kestrel-data/occupancy.report/internal/vision"
)

// FrameSink receives pushed camera frames. *detector.FrameBuffer
// implements it.
type FrameSink interface {
	Put(camera string, frame []byte)
}

// Server routes HTTP requests into the engine.
type Server struct {
	engine *vision.Engine
	frames FrameSink
}

// NewServer creates a Server for the given engine. Frames pushed to the
// ingest route land in sink, where the escalation pipeline reads them.
func NewServer(engine *vision.Engine, sink FrameSink) *Server {
	return &Server{engine: engine, frames: sink}
}

// RegisterRoutes registers the API routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/inflight", s.handleInFlight)
	mux.HandleFunc("/api/zones", s.handleZones)
	mux.HandleFunc("/api/zones/", s.handleZoneByID)
	mux.HandleFunc("/api/surface", s.handleSurface)
	mux.HandleFunc("/api/escalate", s.handleEscalate)
	mux.HandleFunc("/api/pipeline", s.handlePipeline)
	mux.HandleFunc("/api/occupancy", s.handleOccupancy)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.engine.Metrics.Handler())
}

func cameraParam(r *http.Request) (string, error) {
	camera := r.URL.Query().Get("camera")
	if err := security.ValidateCameraID(camera); err != nil {
		return "", err
	}
	return camera, nil
}

// handleResults ingests a detection result pushed by the perception
// service and fans it out through the state store.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var result vision.DetectionResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	// Ensure the reconciler and pipeline see this camera's updates.
	s.engine.Watch(camera)
	s.engine.Store.Update(camera, result)

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// maxFrameBytes caps a pushed frame at 8 MiB, comfortably above a
// 1080p JPEG.
const maxFrameBytes = 8 << 20

// handleFrames ingests the camera's newest encoded frame. The request
// body is the raw image; only the latest frame per camera is kept.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("read frame: %v", err))
		return
	}
	if len(frame) == 0 {
		httputil.BadRequest(w, "empty frame")
		return
	}
	s.frames.Put(camera, frame)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int{"bytes": len(frame)})
}

// handleState returns the camera's last known state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.engine.Store.GetState(camera))
}

// handleInFlight flips the camera's in-flight flag.
func (s *Server) handleInFlight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var body struct {
		InFlight bool `json:"in_flight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	s.engine.Store.SetInFlight(camera, body.InFlight)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"in_flight": body.InFlight})
}

// handleZones lists, replaces or appends to a camera's zone set.
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		zones, err := s.engine.Zones.LoadZones(camera)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if zones == nil {
			zones = []vision.Zone{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"zones": zones,
			"count": len(zones),
		})

	case http.MethodPut:
		var zones []vision.Zone
		if err := json.NewDecoder(r.Body).Decode(&zones); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		for i := range zones {
			if err := validateZone(&zones[i]); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		if err := s.engine.Zones.SaveZones(camera, zones); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		s.engine.NotifyZonesChanged(camera)
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"saved": len(zones)})

	case http.MethodPost:
		var zone vision.Zone
		if err := json.NewDecoder(r.Body).Decode(&zone); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		if err := validateZone(&zone); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.engine.Zones.InsertZone(camera, &zone); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		s.engine.NotifyZonesChanged(camera)
		httputil.WriteJSON(w, http.StatusCreated, zone)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleZoneByID deletes a single zone. The zone ID is the path suffix.
func (s *Server) handleZoneByID(w http.ResponseWriter, r *http.Request) {
	zoneID := strings.TrimPrefix(r.URL.Path, "/api/zones/")
	if err := security.ValidateZoneID(zoneID); err != nil || strings.Contains(zoneID, "/") {
		httputil.NotFound(w, "zone not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		zone, err := s.engine.Zones.GetZone(zoneID)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, zone)

	case http.MethodDelete:
		zone, err := s.engine.Zones.GetZone(zoneID)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		if err := s.engine.Zones.DeleteZone(zoneID); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		s.engine.NotifyZonesChanged(zone.Camera)
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"deleted": zoneID})

	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleSurface records the camera's rendered rectangle and native
// resolution as last measured by the frontend.
func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var surface vision.DisplaySurface
	if err := json.NewDecoder(r.Body).Decode(&surface); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	s.engine.Surfaces.Set(camera, surface)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEscalate triggers the camera's escalation pipeline.
func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	started := s.engine.Pipeline(camera).Trigger()
	status := http.StatusAccepted
	if !started {
		// In-flight or cooling down; the caller sees the current state.
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, s.engine.Pipeline(camera).State())
}

// handlePipeline returns the camera's pipeline snapshot.
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.engine.Pipeline(camera).State())
}

// handleOccupancy returns recent absolute occupancy samples, newest first.
func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	camera, err := cameraParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	samples, err := s.engine.Occupancy.Recent(camera, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if samples == nil {
		samples = []vision.OccupancySample{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"samples": samples,
		"count":   len(samples),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func validateZone(z *vision.Zone) error {
	if z.Name == "" {
		return fmt.Errorf("zone name is required")
	}
	if z.Display.Width() <= 0 || z.Display.Height() <= 0 {
		return fmt.Errorf("zone %q display rect must have positive extent", z.Name)
	}
	return nil
}
