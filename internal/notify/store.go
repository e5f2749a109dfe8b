package notify

import (
	"log/slog"
	"sync"
	"time"

	"plategate/internal/model"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Store is the operator-facing notification feed: a bounded ring of the most
// recent notifications, mirrored to the log.
type Store struct {
	mu     sync.RWMutex
	buf    []model.Notification
	limit  int
	logger *slog.Logger
}

func NewStore(limit int, logger *slog.Logger) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, logger: logger}
}

func (s *Store) Notify(n model.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	if s.logger != nil {
		s.logger.Info("notification",
			"severity", n.Severity,
			"title", n.Title,
			"message", n.Message,
			"plate", n.Plate,
		)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, n)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = n
}

func (s *Store) List(limit int) []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Notification, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, 0)
	for _, n := range s.buf {
		if !n.Timestamp.Before(ts) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
