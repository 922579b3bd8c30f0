package logx

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limited lets through at most burst messages at once, refilling one every
// interval. Suppressed messages are counted and reported on the next one
// that gets through as "suppressed".
type Limited struct {
	log        Logger
	mu         sync.Mutex
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

func NewLimited(log Logger, every time.Duration, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.Inf
	if every > 0 {
		lim = rate.Every(every)
	}
	return &Limited{log: log, limiter: rate.NewLimiter(lim, burst)}
}

func (l *Limited) allow() (bool, uint64) {
	l.mu.Lock()
	ok := l.limiter.Allow()
	l.mu.Unlock()
	if !ok {
		l.suppressed.Add(1)
		return false, 0
	}
	return true, l.suppressed.Swap(0)
}

func (l *Limited) Warn(msg string, fields ...Field) {
	if ok, n := l.allow(); ok {
		if n > 0 {
			fields = append(fields, Uint64("suppressed", n))
		}
		l.log.Warn(msg, fields...)
	}
}

func (l *Limited) Error(msg string, fields ...Field) {
	if ok, n := l.allow(); ok {
		if n > 0 {
			fields = append(fields, Uint64("suppressed", n))
		}
		l.log.Error(msg, fields...)
	}
}

// Suppressed reports messages dropped since the last one written.
func (l *Limited) Suppressed() uint64 { return l.suppressed.Load() }
