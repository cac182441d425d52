package tui

import (
	"sync"
	"time"
)

const (
	// loadMoreThreshold is how close to the last row the highlight must be
	// before older messages are requested.
	loadMoreThreshold = 5
	loadMoreInterval  = 500 * time.Millisecond
)

// loadMoreGuard decides when scrolling should request the next page. It
// refuses to fire twice within interval.
type loadMoreGuard struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newLoadMoreGuard(interval time.Duration) *loadMoreGuard {
	return &loadMoreGuard{interval: interval}
}

func (g *loadMoreGuard) shouldLoad(row, total int, hasMore, loading bool, now time.Time) bool {
	if !hasMore || loading || total == 0 {
		return false
	}
	if row < total-loadMoreThreshold {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}
