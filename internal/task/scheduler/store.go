package scheduler

import (
	"iter"
	"slices"
	"sync"
	"time"
)

// Store holds the live jobs of one scheduler. All operations take a single
// lock; Due works on a snapshot so it never blocks Add.
type Store struct {
	mu   sync.Mutex
	jobs []*Job
	byID map[string]*Job
}

func NewStore() *Store { return &Store{byID: make(map[string]*Job)} }

// Add inserts j. Adding a job that is already present is a no-op.
func (st *Store) Add(j *Job) bool {
	if j == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.byID[j.id]; ok {
		return false
	}
	st.byID[j.id] = j
	st.jobs = append(st.jobs, j)
	return true
}

func (st *Store) Get(id string) (*Job, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	j, ok := st.byID[id]
	return j, ok
}

// Remove deletes the job with id and returns it, or nil if absent.
func (st *Store) Remove(id string) *Job {
	st.mu.Lock()
	defer st.mu.Unlock()
	j, ok := st.byID[id]
	if !ok {
		return nil
	}
	delete(st.byID, id)
	st.jobs = slices.DeleteFunc(st.jobs, func(x *Job) bool { return x == j })
	return j
}

// Snapshot returns the jobs in insertion order.
func (st *Store) Snapshot() []*Job {
	st.mu.Lock()
	defer st.mu.Unlock()
	return slices.Clone(st.jobs)
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.jobs)
}

// Due yields the jobs whose next time is at or before now, earliest first.
// Next times move as jobs trigger, so each call sorts afresh.
func (st *Store) Due(now time.Time) iter.Seq[*Job] {
	return func(yield func(*Job) bool) {
		type entry struct {
			j    *Job
			next time.Time
		}
		jobs := st.Snapshot()
		due := make([]entry, 0, len(jobs))
		for _, j := range jobs {
			due = append(due, entry{j, j.NextTime()})
		}
		slices.SortStableFunc(due, func(a, b entry) int {
			switch {
			case a.next.IsZero() && b.next.IsZero():
				return 0
			case a.next.IsZero():
				return 1
			case b.next.IsZero():
				return -1
			}
			return a.next.Compare(b.next)
		})
		for _, e := range due {
			if e.next.IsZero() || e.next.After(now) {
				return
			}
			if !yield(e.j) {
				return
			}
		}
	}
}

// Prune removes jobs with no next time or marked unscheduled and returns them.
func (st *Store) Prune() []*Job {
	st.mu.Lock()
	defer st.mu.Unlock()
	var removed []*Job
	st.jobs = slices.DeleteFunc(st.jobs, func(j *Job) bool {
		if !j.terminal() {
			return false
		}
		delete(st.byID, j.id)
		removed = append(removed, j)
		return true
	})
	return removed
}
