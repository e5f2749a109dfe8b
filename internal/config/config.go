package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	Capture       CaptureConfig       `json:"capture" yaml:"capture"`
	Pipeline      PipelineConfig      `json:"pipeline" yaml:"pipeline"`
	Gate          GateConfig          `json:"gate" yaml:"gate"`
	Sessions      SessionsConfig      `json:"sessions" yaml:"sessions"`
	Registry      RegistryConfig      `json:"registry" yaml:"registry"`
	API           APIConfig           `json:"api" yaml:"api"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Events        EventsConfig        `json:"events" yaml:"events"`
	Evidence      EvidenceConfig      `json:"evidence" yaml:"evidence"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
}

type CameraConfig struct {
	Name      string `json:"name" yaml:"name"`
	StreamURL string `json:"stream_url" yaml:"stream_url"`
}

type CaptureConfig struct {
	Cameras             []CameraConfig `json:"cameras" yaml:"cameras"`
	TargetFPS           int            `json:"target_fps" yaml:"target_fps"`
	RecognitionInterval time.Duration  `json:"recognition_interval" yaml:"recognition_interval"`
	ReadBackoff         time.Duration  `json:"read_backoff" yaml:"read_backoff"`
	FrameBuffer         int            `json:"frame_buffer" yaml:"frame_buffer"`
	RecognitionBuffer   int            `json:"recognition_buffer" yaml:"recognition_buffer"`
}

type PipelineConfig struct {
	DetectorURL   string  `json:"detector_url" yaml:"detector_url"`
	RecognizerURL string  `json:"recognizer_url" yaml:"recognizer_url"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	MinCropWidth  int     `json:"min_crop_width" yaml:"min_crop_width"`
	MinCropHeight int     `json:"min_crop_height" yaml:"min_crop_height"`
	Workers       int     `json:"workers" yaml:"workers"`
}

type AssignmentsConfig struct {
	FrontEntrance *int `json:"front_entrance" yaml:"front_entrance"`
	BackEntrance  *int `json:"back_entrance" yaml:"back_entrance"`
	FrontExit     *int `json:"front_exit" yaml:"front_exit"`
	BackExit      *int `json:"back_exit" yaml:"back_exit"`
}

type GateConfig struct {
	LotID       string            `json:"lot_id" yaml:"lot_id"`
	Cooldown    time.Duration     `json:"cooldown" yaml:"cooldown"`
	Assignments AssignmentsConfig `json:"assignments" yaml:"assignments"`
}

type SessionsConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Token   string        `json:"token" yaml:"token"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type RegistryConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Token   string        `json:"token" yaml:"token"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type EventsConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type EvidenceConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
}

type NotificationsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

// MinRecognitionInterval is the floor for per-camera throttle intervals.
const MinRecognitionInterval = 1000 * time.Millisecond

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Capture: CaptureConfig{
			TargetFPS:           15,
			RecognitionInterval: 3000 * time.Millisecond,
			ReadBackoff:         200 * time.Millisecond,
			FrameBuffer:         32,
			RecognitionBuffer:   8,
		},
		Pipeline: PipelineConfig{
			MinConfidence: 0.6,
			MinCropWidth:  10,
			MinCropHeight: 5,
			Workers:       2,
		},
		Gate: GateConfig{
			LotID:    "lot-01",
			Cooldown: 5 * time.Second,
		},
		Sessions: SessionsConfig{Timeout: 10 * time.Second},
		Registry: RegistryConfig{Timeout: 10 * time.Second},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:plategate.db?_pragma=busy_timeout(5000)"},
		Events:   EventsConfig{Enabled: false},
		Evidence: EvidenceConfig{Enabled: false, Bucket: "gate-evidence"},
		Notifications: NotificationsConfig{
			StoreLimit: 1000,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Capture.TargetFPS <= 0 {
		cfg.Capture.TargetFPS = 15
	}
	if cfg.Capture.RecognitionInterval <= 0 {
		cfg.Capture.RecognitionInterval = 3000 * time.Millisecond
	}
	if cfg.Capture.RecognitionInterval < MinRecognitionInterval {
		cfg.Capture.RecognitionInterval = MinRecognitionInterval
	}
	if cfg.Capture.ReadBackoff <= 0 {
		cfg.Capture.ReadBackoff = 200 * time.Millisecond
	}
	if cfg.Capture.FrameBuffer <= 0 {
		cfg.Capture.FrameBuffer = 32
	}
	if cfg.Capture.RecognitionBuffer <= 0 {
		cfg.Capture.RecognitionBuffer = 8
	}
	if cfg.Pipeline.MinConfidence <= 0 {
		cfg.Pipeline.MinConfidence = 0.6
	}
	if cfg.Pipeline.MinCropWidth <= 0 {
		cfg.Pipeline.MinCropWidth = 10
	}
	if cfg.Pipeline.MinCropHeight <= 0 {
		cfg.Pipeline.MinCropHeight = 5
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 2
	}
	if cfg.Gate.Cooldown <= 0 {
		cfg.Gate.Cooldown = 5 * time.Second
	}
	if cfg.Sessions.Timeout <= 0 {
		cfg.Sessions.Timeout = 10 * time.Second
	}
	if cfg.Registry.Timeout <= 0 {
		cfg.Registry.Timeout = 10 * time.Second
	}
	if cfg.Notifications.StoreLimit <= 0 {
		cfg.Notifications.StoreLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	for i, cam := range cfg.Capture.Cameras {
		if strings.TrimSpace(cam.StreamURL) == "" {
			return fmt.Errorf("capture.cameras[%d].stream_url is required", i)
		}
	}
	if cfg.Gate.LotID == "" {
		return errors.New("gate.lot_id is required")
	}
	camCount := len(cfg.Capture.Cameras)
	for role, idx := range assignmentIndexes(cfg.Gate.Assignments) {
		if idx < 0 || (camCount > 0 && idx >= camCount) {
			return fmt.Errorf("gate.assignments.%s refers to unknown camera index %d", role, idx)
		}
	}
	if cfg.Events.Enabled {
		if len(cfg.Events.Brokers) == 0 || cfg.Events.Topic == "" {
			return errors.New("events requires brokers and topic when enabled")
		}
	}
	if cfg.Evidence.Enabled {
		if cfg.Evidence.Endpoint == "" || cfg.Evidence.Bucket == "" {
			return errors.New("evidence requires endpoint and bucket when enabled")
		}
	}
	if cfg.Storage.Enabled && cfg.Storage.Driver == "" {
		return errors.New("storage.driver required when storage.enabled is true")
	}
	return nil
}

func assignmentIndexes(a AssignmentsConfig) map[string]int {
	out := make(map[string]int, 4)
	if a.FrontEntrance != nil {
		out["front_entrance"] = *a.FrontEntrance
	}
	if a.BackEntrance != nil {
		out["back_entrance"] = *a.BackEntrance
	}
	if a.FrontExit != nil {
		out["front_exit"] = *a.FrontExit
	}
	if a.BackExit != nil {
		out["back_exit"] = *a.BackExit
	}
	return out
}

type Manager struct {
	path string
	cfg  atomic.Value

	// modTime is read by the Watch goroutine and written by Update, which the
	// API handlers call.
	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.rememberModTime()
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.rememberModTime()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.rememberModTime()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	last := m.modTime
	m.mu.Unlock()
	return info.ModTime().After(last), nil
}

func (m *Manager) rememberModTime() {
	if m.path == "" {
		return
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.modTime = info.ModTime()
	m.mu.Unlock()
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
