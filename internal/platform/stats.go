package platform

import (
	"context"
	"sync"

	"github.com/mj1618/droid-order/internal/ctxlog"
)

// FailureStats counts failures of device commands whose errors are
// tolerated rather than surfaced (force-stops, best-effort taps, polls).
type FailureStats struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewFailureStats returns an empty counter set.
func NewFailureStats() *FailureStats {
	return &FailureStats{counts: make(map[string]int64)}
}

// Record logs err and counts it under op. A nil err is ignored.
func (s *FailureStats) Record(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.counts[op]++
	n := s.counts[op]
	s.mu.Unlock()
	ctxlog.FromContext(ctx).Warn("device command failed", "op", op, "count", n, "error", err)
}

// Count returns the failures recorded under op.
func (s *FailureStats) Count(op string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// Snapshot returns a copy of all counters.
func (s *FailureStats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
