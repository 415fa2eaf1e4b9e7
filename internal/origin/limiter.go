package origin

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiterSet keeps one token bucket per origin so a sweep and concurrent
// on-demand calls together stay under a polite request rate.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// wait blocks until endpoint may be called again. A non-positive rate disables limiting.
func (s *limiterSet) wait(ctx context.Context, endpoint string) error {
	if s == nil || s.limit <= 0 {
		return nil
	}
	s.mu.Lock()
	l, ok := s.limiters[endpoint]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[endpoint] = l
	}
	s.mu.Unlock()
	return l.Wait(ctx)
}
