package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"plategate/internal/config"
	"plategate/internal/model"
	"plategate/internal/stats"
)

type session struct {
	device    Device
	devMu     sync.Mutex // serializes all device access: loop, single-shot, close
	running   bool
	stop      chan struct{}
	done      chan struct{}
	interval  time.Duration
	lastRecog time.Time
}

// Manager owns one capture loop per camera and decides per camera when a
// frame is eligible for recognition. The session table, intervals and
// last-recognition timestamps all live behind the one coarse lock; only the
// device handles get their own lock.
type Manager struct {
	driver Driver
	logger *slog.Logger
	stats  *stats.Store

	targetFPS       int
	defaultInterval time.Duration
	readBackoff     time.Duration

	mu       sync.Mutex
	sessions map[int]*session

	frames      chan model.Frame
	recognition chan model.Frame
}

func NewManager(driver Driver, cfg config.CaptureConfig, statsStore *stats.Store, logger *slog.Logger) *Manager {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 15
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 32
	}
	if cfg.RecognitionBuffer <= 0 {
		cfg.RecognitionBuffer = 8
	}
	return &Manager{
		driver:          driver,
		logger:          logger,
		stats:           statsStore,
		targetFPS:       cfg.TargetFPS,
		defaultInterval: clampInterval(cfg.RecognitionInterval),
		readBackoff:     cfg.ReadBackoff,
		sessions:        make(map[int]*session),
		frames:          make(chan model.Frame, cfg.FrameBuffer),
		recognition:     make(chan model.Frame, cfg.RecognitionBuffer),
	}
}

// Frames is the frame-published stream for display subscribers.
func (m *Manager) Frames() <-chan model.Frame { return m.frames }

// Recognition is the throttled stream feeding the recognition pipeline. Its
// buffer is the bounded recognition queue; frames arriving while it is full
// are dropped, not queued.
func (m *Manager) Recognition() <-chan model.Frame { return m.recognition }

func (m *Manager) Devices() ([]model.CameraDevice, error) {
	return m.driver.Devices()
}

// Initialize opens the device and registers a capture session. Calling it for
// an already-open device is a no-op success.
func (m *Manager) Initialize(index int) bool {
	m.mu.Lock()
	if _, ok := m.sessions[index]; ok {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	dev, err := m.driver.Open(index)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("camera open failed", "camera", index, "err", err)
		}
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[index]; ok {
		// Lost the race with a concurrent Initialize.
		_ = dev.Close()
		return true
	}
	m.sessions[index] = &session{device: dev, interval: m.defaultInterval}
	if m.logger != nil {
		m.logger.Info("camera initialized", "camera", index, "recognition_interval", m.defaultInterval)
	}
	return true
}

// Start spawns the capture loop for an initialized device.
func (m *Manager) Start(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[index]
	if !ok {
		return false
	}
	if s.running {
		return true
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go m.captureLoop(index, s)
	if m.logger != nil {
		m.logger.Info("capture started", "camera", index)
	}
	return true
}

// Stop terminates the loop, releases the handle and removes the session.
// Idempotent: stopping an unknown camera does nothing.
func (m *Manager) Stop(index int) {
	m.mu.Lock()
	s, ok := m.sessions[index]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, index)
	wasRunning := s.running
	s.running = false
	m.mu.Unlock()

	if wasRunning {
		close(s.stop)
		<-s.done
	}
	s.devMu.Lock()
	_ = s.device.Close()
	s.devMu.Unlock()
	if m.logger != nil {
		m.logger.Info("capture stopped", "camera", index)
	}
}

func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	indexes := make([]int, 0, len(m.sessions))
	for idx := range m.sessions {
		indexes = append(indexes, idx)
	}
	m.mu.Unlock()
	for _, idx := range indexes {
		m.Stop(idx)
	}
}

func (m *Manager) IsRunning(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[index]
	return ok && s.running
}

// SetRecognitionInterval clamps to the configured floor and affects only
// future throttle decisions.
func (m *Manager) SetRecognitionInterval(index int, interval time.Duration) {
	interval = clampInterval(interval)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[index]; ok {
		s.interval = interval
	}
}

func (m *Manager) RecognitionInterval(index int) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[index]; ok {
		return s.interval, true
	}
	return 0, false
}

// CaptureFrame performs an on-demand single-shot capture, serialized with the
// running loop through the device lock.
func (m *Manager) CaptureFrame(ctx context.Context, index int) (model.Frame, error) {
	m.mu.Lock()
	s, ok := m.sessions[index]
	m.mu.Unlock()
	if !ok {
		return model.Frame{}, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}
	s.devMu.Lock()
	defer s.devMu.Unlock()
	img, err := s.device.ReadFrame()
	if err != nil {
		return model.Frame{}, err
	}
	return model.Frame{CameraIndex: index, Image: img, CapturedAt: time.Now().UTC()}, nil
}

func (m *Manager) captureLoop(index int, s *session) {
	defer close(s.done)
	pace := time.Second / time.Duration(m.targetFPS)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.devMu.Lock()
		img, err := s.device.ReadFrame()
		s.devMu.Unlock()
		if err != nil {
			if m.stats != nil {
				m.stats.ReadFailed(index)
			}
			if m.logger != nil {
				m.logger.Debug("frame read failed", "camera", index, "err", err)
			}
			if !sleepOrStop(s.stop, m.readBackoff) {
				return
			}
			continue
		}
		frame := model.Frame{CameraIndex: index, Image: img, CapturedAt: time.Now().UTC()}
		m.publish(frame)
		if m.shouldRecognize(index, frame.CapturedAt) {
			m.dispatchRecognition(frame)
		}
		if !sleepOrStop(s.stop, pace) {
			return
		}
	}
}

func (m *Manager) publish(frame model.Frame) {
	if m.stats != nil {
		m.stats.FramePublished(frame.CameraIndex)
	}
	select {
	case m.frames <- frame:
	default:
		// Display subscribers lagging; dropping frames is preferable to
		// stalling capture.
	}
}

func (m *Manager) dispatchRecognition(frame model.Frame) {
	select {
	case m.recognition <- frame:
		if m.stats != nil {
			m.stats.RecognitionSent(frame.CameraIndex)
		}
	default:
		if m.stats != nil {
			m.stats.RecognitionDropped(frame.CameraIndex)
		}
		if m.logger != nil {
			m.logger.Debug("recognition queue full, dropping frame", "camera", frame.CameraIndex)
		}
	}
}

// shouldRecognize applies the per-camera throttle: a frame goes to
// recognition only when at least the configured interval has elapsed since
// the previous recognition dispatch.
func (m *Manager) shouldRecognize(index int, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[index]
	if !ok {
		return false
	}
	if now.Sub(s.lastRecog) < s.interval {
		return false
	}
	s.lastRecog = now
	return true
}

func clampInterval(interval time.Duration) time.Duration {
	if interval < config.MinRecognitionInterval {
		return config.MinRecognitionInterval
	}
	return interval
}

func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
