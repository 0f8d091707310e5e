package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memWindow struct {
	start time.Time
	count int64
}

// MemoryStore — потокобезопасный in-process CounterStore.
// Подходит для локального запуска и тестов; при нескольких инстансах
// сервиса лимиты не согласованы — используйте NewRedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]memWindow
	now     func() time.Time
}

// NewMemoryStore создаёт in-memory хранилище счётчиков.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]memWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.start.Add(window)) {
		s.windows[key] = memWindow{start: now, count: 1}
		return 1, window, nil
	}

	w.count++
	s.windows[key] = w

	return w.count, w.start.Add(window).Sub(now), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.windows, key)
	return nil
}
