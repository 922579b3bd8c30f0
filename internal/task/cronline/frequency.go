package cronline

import (
	"strconv"
	"sync"
	"time"
)

// referenceYear is the year walked by Frequency when seconds alone cannot answer.
const referenceYear = 2017

type freqCache struct {
	mu sync.Mutex
	m  map[string]time.Duration
}

func newFreqCache() *freqCache { return &freqCache{m: make(map[string]time.Duration)} }

func (c *freqCache) get(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.m[key]
	return d, ok
}

func (c *freqCache) put(key string, d time.Duration) {
	c.mu.Lock()
	c.m[key] = d
	c.mu.Unlock()
}

// Frequency returns the smallest delay between two consecutive instants.
// Lines with several seconds answer from the seconds field; the rest fall
// back to BruteFrequency over a reference year.
func (l *Line) Frequency() time.Duration {
	if len(l.seconds) > 1 {
		return l.secondsGap()
	}
	return l.BruteFrequency(referenceYear)
}

// BruteFrequency walks the given year instant by instant and returns the
// smallest gap observed. Results are cached per original line and year.
// It returns 0 for lines that never match.
func (l *Line) BruteFrequency(year int) time.Duration {
	key := l.original + "|" + strconv.Itoa(year)
	if d, ok := l.cache.get(key); ok {
		return d
	}
	d := l.bruteFrequency(year)
	l.cache.put(key, d)
	return d
}

func (l *Line) bruteFrequency(year int) time.Duration {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, l.loc)
	t0, err := l.PreviousTime(start)
	if err != nil {
		if t0, err = l.NextTime(start); err != nil {
			return 0
		}
	}

	floor := time.Minute
	if len(l.seconds) > 1 {
		floor = l.secondsGap()
	}
	// With no day-level constraint the pattern repeats daily, with plain
	// weekdays only it repeats weekly; walking one period is enough.
	var period time.Duration
	switch {
	case l.days == nil && l.weekdays == nil && l.monthdays == nil:
		period = 24 * time.Hour
	case l.days == nil && l.monthdays == nil && l.months == nil:
		period = 8 * 24 * time.Hour
	}

	delta := 366 * 24 * time.Hour
	var first time.Time
	for {
		t1, err := l.NextTime(t0)
		if err != nil {
			break
		}
		if d := t1.Sub(t0); d < delta {
			delta = d
		}
		if first.IsZero() {
			first = t1
		}
		if delta <= floor {
			break
		}
		if period > 0 && t1.Sub(first) >= period {
			break
		}
		if t1.Year() > year {
			break
		}
		t0 = t1
	}
	return delta
}

// secondsGap is the smallest distance between allowed seconds, wrap included.
func (l *Line) secondsGap() time.Duration {
	if len(l.seconds) < 2 {
		return time.Minute
	}
	gap := 60 - l.seconds[len(l.seconds)-1] + l.seconds[0]
	for i := 1; i < len(l.seconds); i++ {
		if d := l.seconds[i] - l.seconds[i-1]; d < gap {
			gap = d
		}
	}
	return time.Duration(gap) * time.Second
}
