package bootstrap

import (
	"sync"
	"time"
)

// LogLimiter suppresses repeat log lines per key within a window. Used for
// schema-drift warnings that would otherwise flood the log once per frame.
type LogLimiter struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewLogLimiter(window time.Duration) *LogLimiter {
	return &LogLimiter{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Allow reports whether the caller should log for this key now, and if so
// starts the key's suppression window.
func (l *LogLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.seen[key]; ok && now.Sub(last) < l.window {
		return false
	}
	l.seen[key] = now
	return true
}
