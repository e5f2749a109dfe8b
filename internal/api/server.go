package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"plategate/internal/config"
	"plategate/internal/model"
	"plategate/internal/notify"
	"plategate/internal/stats"
)

type GateControl interface {
	SetAutomaticDetectionEnabled(dir model.Direction, enabled bool)
	IsAutomaticDetectionEnabled(dir model.Direction) bool
	UpdateConfig(cfg config.GateConfig)
}

type CameraControl interface {
	Devices() ([]model.CameraDevice, error)
	Initialize(index int) bool
	Start(index int) bool
	Stop(index int)
	IsRunning(index int) bool
	SetRecognitionInterval(index int, interval time.Duration)
	RecognitionInterval(index int) (time.Duration, bool)
}

type Server struct {
	cfg     *config.Manager
	stats   *stats.Store
	notices *notify.Store
	gate    GateControl
	cameras CameraControl
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	LotID      string          `json:"lot_id"`
	Gate       gateStatus      `json:"gate"`
	Cameras    []cameraStatus  `json:"cameras"`
	API        apiStatus       `json:"api"`
	Pipeline   pipelineStatus  `json:"pipeline"`
	Outputs    map[string]bool `json:"outputs"`
}

type gateStatus struct {
	CheckInEnabled  bool          `json:"check_in_enabled"`
	CheckOutEnabled bool          `json:"check_out_enabled"`
	Cooldown        time.Duration `json:"cooldown"`
}

type cameraStatus struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Running  bool   `json:"running"`
	Interval string `json:"recognition_interval,omitempty"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type pipelineStatus struct {
	DetectorURL   string  `json:"detector_url"`
	RecognizerURL string  `json:"recognizer_url"`
	MinConfidence float64 `json:"min_confidence"`
	Workers       int     `json:"workers"`
}

func Start(ctx context.Context, cfg *config.Manager, statsStore *stats.Store, notices *notify.Store, gate GateControl, cameras CameraControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		stats:   statsStore,
		notices: notices,
		gate:    gate,
		cameras: cameras,
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/stats", server.handleStats)
	mux.HandleFunc("/stats/", server.handleStats)
	mux.HandleFunc("/notifications", server.handleNotifications)
	mux.HandleFunc("/cameras", server.handleCameras)
	mux.HandleFunc("/cameras/", server.handleCamera)
	mux.HandleFunc("/gate/auto", server.handleAutoDetection)
	mux.HandleFunc("/config/assignments", server.handleAssignments)
	mux.HandleFunc("/admin/clear", server.handleClear)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		LotID:      cfg.Gate.LotID,
		Gate: gateStatus{
			CheckInEnabled:  s.gate != nil && s.gate.IsAutomaticDetectionEnabled(model.DirectionCheckIn),
			CheckOutEnabled: s.gate != nil && s.gate.IsAutomaticDetectionEnabled(model.DirectionCheckOut),
			Cooldown:        cfg.Gate.Cooldown,
		},
		Cameras: s.cameraStatuses(),
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Pipeline: pipelineStatus{
			DetectorURL:   cfg.Pipeline.DetectorURL,
			RecognizerURL: cfg.Pipeline.RecognizerURL,
			MinConfidence: cfg.Pipeline.MinConfidence,
			Workers:       cfg.Pipeline.Workers,
		},
		Outputs: map[string]bool{
			"storage":  cfg.Storage.Enabled,
			"events":   cfg.Events.Enabled,
			"evidence": cfg.Evidence.Enabled,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cameraStatuses() []cameraStatus {
	if s.cameras == nil {
		return nil
	}
	devices, err := s.cameras.Devices()
	if err != nil {
		return nil
	}
	out := make([]cameraStatus, 0, len(devices))
	for _, dev := range devices {
		st := cameraStatus{
			Index:   dev.Index,
			Name:    dev.Name,
			Running: s.cameras.IsRunning(dev.Index),
		}
		if interval, ok := s.cameras.RecognitionInterval(dev.Index); ok {
			st.Interval = interval.String()
		}
		out = append(out, st)
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/stats")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		index, err := strconv.Atoi(path)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cameraStats, updated, ok := s.stats.Get(index)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"camera":     index,
			"updated_at": updated.Format(time.RFC3339Nano),
			"stats":      cameraStats,
		})
		return
	}
	all := s.stats.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": all,
		"count": len(all),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Notification
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.notices.Since(ts)
	} else {
		list = s.notices.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": s.cameraStatuses(),
	})
}

// handleCamera serves /cameras/{index}/{action} for start, stop and interval.
func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	if s.cameras == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/cameras/")
	parts := strings.SplitN(rest, "/", 2)
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch action {
	case "start":
		if !s.cameras.Initialize(index) || !s.cameras.Start(index) {
			w.WriteHeader(http.StatusConflict)
			return
		}
	case "stop":
		s.cameras.Stop(index)
	case "interval":
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			IntervalMS int `json:"interval_ms"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.IntervalMS <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.cameras.SetRecognitionInterval(index, time.Duration(req.IntervalMS)*time.Millisecond)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleAutoDetection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"check_in":  s.gate != nil && s.gate.IsAutomaticDetectionEnabled(model.DirectionCheckIn),
			"check_out": s.gate != nil && s.gate.IsAutomaticDetectionEnabled(model.DirectionCheckOut),
		})
		return
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			Direction string `json:"direction"`
			Enabled   bool   `json:"enabled"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var dir model.Direction
		switch model.Direction(req.Direction) {
		case model.DirectionCheckIn:
			dir = model.DirectionCheckIn
		case model.DirectionCheckOut:
			dir = model.DirectionCheckOut
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.gate != nil {
			s.gate.SetAutomaticDetectionEnabled(dir, req.Enabled)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfg.Get()
		writeJSON(w, http.StatusOK, map[string]any{
			"assignments": cfg.Gate.Assignments,
		})
		return
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var assignments config.AssignmentsConfig
		if err := json.Unmarshal(body, &assignments); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Gate.Assignments = assignments
		if err := config.Validate(&next); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.cfg.Update(&next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.gate != nil {
			s.gate.UpdateConfig(next.Gate)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.stats != nil {
			s.stats.Clear()
		}
		if s.notices != nil {
			s.notices.Clear()
		}
	case "notifications":
		if s.notices != nil {
			s.notices.Clear()
		}
	case "stats":
		if s.stats != nil {
			s.stats.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
