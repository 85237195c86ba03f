package engine

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// seenCache remembers recently handled frame bodies. A nil cache remembers
// nothing.
type seenCache struct {
	window time.Duration
	cache  *lru.Cache
	now    func() time.Time
}

func newSeenCache(size int, window time.Duration, now func() time.Time) (*seenCache, error) {
	if window <= 0 {
		return nil, nil
	}
	if size <= 0 {
		size = 512
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &seenCache{window: window, cache: c, now: now}, nil
}

// check reports whether key was recorded within the window, and records it.
func (s *seenCache) check(key string) bool {
	if s == nil {
		return false
	}
	now := s.now()
	if v, ok := s.cache.Get(key); ok {
		if at, ok := v.(time.Time); ok && now.Sub(at) < s.window {
			return true
		}
	}
	s.cache.Add(key, now)
	return false
}
