package websocket

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLimiterIdleTTL = 5 * time.Minute
)

// ipLimiter rate limits connection attempts per remote IP.
type ipLimiter struct {
	mx       *sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
}

type limiterEntry struct {
	*rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(r rate.Limit, b int) *ipLimiter {
	return &ipLimiter{
		mx:       &sync.Mutex{},
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
		idleTTL:  defaultLimiterIdleTTL,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mx.Lock()
	defer l.mx.Unlock()

	now := time.Now()
	l.evict(now)

	e, ok := l.limiters[ip]
	if !ok {
		e = &limiterEntry{Limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	return e.AllowN(now, 1)
}

// evict drops limiters not used within idleTTL. Caller must hold mx.
func (l *ipLimiter) evict(now time.Time) {
	for ip, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, ip)
		}
	}
}
