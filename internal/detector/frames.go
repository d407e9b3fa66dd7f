package detector

import (
	"context"
	"fmt"
	"sync"
)

// FrameBuffer keeps the most recent encoded frame per camera and serves it
// to the escalation pipeline. Streaming ingestion replaces the frame on
// every arrival; there is no history.
type FrameBuffer struct {
	mu     sync.RWMutex
	frames map[string][]byte
}

// NewFrameBuffer returns an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{frames: make(map[string][]byte)}
}

// Put stores the camera's newest frame. The buffer keeps its own copy.
func (b *FrameBuffer) Put(camera string, frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	b.mu.Lock()
	b.frames[camera] = cp
	b.mu.Unlock()
}

// LatestFrame implements vision.FrameSource. It fails when no frame has
// been seen for the camera, which surfaces as a capture failure upstream.
func (b *FrameBuffer) LatestFrame(_ context.Context, camera string) ([]byte, error) {
	b.mu.RLock()
	frame, ok := b.frames[camera]
	b.mu.RUnlock()
	if !ok || len(frame) == 0 {
		return nil, fmt.Errorf("no frame available for camera %s", camera)
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	return cp, nil
}
