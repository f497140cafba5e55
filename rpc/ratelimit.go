package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sourceLimits meters mutating calls per client source. Limiters are grown
// on demand and dropped again after a few minutes so one scan cannot pin
// memory forever.
type sourceLimits struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*rate.Limiter
}

func newSourceLimits(perMinute float64, burst int) *sourceLimits {
	perSecond := perMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &sourceLimits{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*rate.Limiter),
	}
}

func (l *sourceLimits) allow(source string) bool {
	if source == "" {
		source = "unknown"
	}
	return l.obtain(source).Allow()
}

func (l *sourceLimits) obtain(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.visitors[source]
	if ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.limit, l.burst)
	l.visitors[source] = limiter
	go l.expire(source)
	return limiter
}

func (l *sourceLimits) expire(source string) {
	timer := time.NewTimer(5 * time.Minute)
	defer timer.Stop()
	<-timer.C
	l.mu.Lock()
	delete(l.visitors, source)
	l.mu.Unlock()
}
