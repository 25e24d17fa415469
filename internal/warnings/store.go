package warnings

import (
	"fmt"
	"sync"
)

// Warning is a non-fatal input problem; the affected row is skipped.
type Warning struct {
	Source   string `json:"source"`
	DeviceID int    `json:"device_id"`
	Detail   string `json:"detail"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s (device %d): %s", w.Source, w.DeviceID, w.Detail)
}

// Store keeps the most recent warnings up to limit and counts all of them.
type Store struct {
	mu    sync.RWMutex
	buf   []Warning
	limit int
	total int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(w Warning) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, w)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = w
}

func (s *Store) List(limit int) []Warning {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]Warning, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Count() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.total = 0
}
