package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SendLimiter throttles outbound messages with one token bucket per room,
// evicting buckets for rooms that have gone quiet.
type SendLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byRoom map[string]*bucket
	ops    uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a per-room limiter; nil when the arguments are invalid, and a
// nil limiter allows everything.
func New(perSecond float64, burst int, idleTTL time.Duration) *SendLimiter {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &SendLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: idleTTL,
		byRoom:  make(map[string]*bucket),
	}
}

// Allow reports whether one send may go out for the room at now.
func (l *SendLimiter) Allow(roomID string, now time.Time) bool {
	if l == nil {
		return true
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byRoom[roomID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byRoom[roomID] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.ops++
	if l.ops%256 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for room, b := range l.byRoom {
			if b.lastSeen.Before(cutoff) {
				delete(l.byRoom, room)
			}
		}
	}
	return allowed
}
