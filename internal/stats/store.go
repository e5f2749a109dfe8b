package stats

import (
	"sync"
	"time"
)

type CameraStats struct {
	FramesPublished   uint64 `json:"frames_published"`
	ReadFailures      uint64 `json:"read_failures"`
	RecognitionsSent  uint64 `json:"recognitions_sent"`
	RecognitionsFull  uint64 `json:"recognitions_dropped"`
	PlatesRead        uint64 `json:"plates_read"`
	RecognitionsEmpty uint64 `json:"recognitions_empty"`
}

// Store keeps per-camera pipeline counters for the status surface.
type Store struct {
	mu        sync.RWMutex
	byCamera  map[int]CameraStats
	updatedAt map[int]time.Time
}

func NewStore() *Store {
	return &Store{
		byCamera:  make(map[int]CameraStats),
		updatedAt: make(map[int]time.Time),
	}
}

func (s *Store) update(camera int, fn func(*CameraStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.byCamera[camera]
	fn(&cs)
	s.byCamera[camera] = cs
	s.updatedAt[camera] = time.Now().UTC()
}

func (s *Store) FramePublished(camera int) {
	s.update(camera, func(cs *CameraStats) { cs.FramesPublished++ })
}

func (s *Store) ReadFailed(camera int) {
	s.update(camera, func(cs *CameraStats) { cs.ReadFailures++ })
}

func (s *Store) RecognitionSent(camera int) {
	s.update(camera, func(cs *CameraStats) { cs.RecognitionsSent++ })
}

func (s *Store) RecognitionDropped(camera int) {
	s.update(camera, func(cs *CameraStats) { cs.RecognitionsFull++ })
}

func (s *Store) PlateRead(camera int) {
	s.update(camera, func(cs *CameraStats) { cs.PlatesRead++ })
}

func (s *Store) RecognitionEmpty(camera int) {
	s.update(camera, func(cs *CameraStats) { cs.RecognitionsEmpty++ })
}

func (s *Store) Get(camera int) (CameraStats, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.byCamera[camera]
	if !ok {
		return CameraStats{}, time.Time{}, false
	}
	return cs, s.updatedAt[camera], true
}

func (s *Store) GetAll() map[int]CameraStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]CameraStats, len(s.byCamera))
	for camera, cs := range s.byCamera {
		out[camera] = cs
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCamera = make(map[int]CameraStats)
	s.updatedAt = make(map[int]time.Time)
}
