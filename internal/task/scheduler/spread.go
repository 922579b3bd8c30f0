package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"
)

var spreadSeq atomic.Uint64

// spreadFirst picks the first slot of a repeating job registered with a
// startup spread: one period from now plus a random jitter below
// min(max, period).
func spreadFirst(now time.Time, period, max time.Duration, tag string) time.Time {
	spreadMax := min(max, period)
	if spreadMax <= 0 {
		return time.Time{}
	}
	seed := now.UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return now.Add(period + jitter)
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
