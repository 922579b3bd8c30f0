package scheduler

import (
	"time"

	"schedkit/internal/task/engine"
)

// JobInfo is a point-in-time view of a job, safe to serialize.
type JobInfo struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Kind          string        `json:"kind"`
	Schedule      string        `json:"schedule"`
	Tags          []string      `json:"tags,omitempty"`
	Mutexes       []string      `json:"mutexes,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Overlap       bool          `json:"overlap"`
	Blocking      bool          `json:"blocking,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	FirstAt       time.Time     `json:"first_at,omitzero"`
	LastAt        time.Time     `json:"last_at,omitzero"`
	Next          time.Time     `json:"next,omitzero"`
	Previous      time.Time     `json:"previous,omitzero"`
	LastTriggered time.Time     `json:"last_triggered,omitzero"`
	Times         int           `json:"times"`
	Count         int           `json:"count"`
	Runs          int           `json:"runs"`
	Failures      int           `json:"failures"`
	LastError     string        `json:"last_error,omitempty"`
	LastWorkTime  time.Duration `json:"last_work_time"`
	MeanWorkTime  time.Duration `json:"mean_work_time"`
	Running       int           `json:"running"`
	InFlight      int           `json:"in_flight"` // queued or running
	Paused        bool          `json:"paused"`
	Unscheduled   bool          `json:"unscheduled,omitempty"`
}

func (j *Job) Snapshot() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{
		ID:            j.id,
		Name:          j.Name(),
		Kind:          j.kind.String(),
		Schedule:      j.original,
		Tags:          append([]string(nil), j.tags...),
		Mutexes:       append([]string(nil), j.mutexes...),
		Timeout:       j.timeout,
		Overlap:       j.overlap,
		Blocking:      j.blocking,
		CreatedAt:     j.createdAt,
		FirstAt:       j.firstAt,
		LastAt:        j.lastAt,
		Next:          j.nextTime,
		Previous:      j.previousTime,
		LastTriggered: j.lastTriggered,
		Times:         j.times,
		Count:         j.count,
		Runs:          j.runs,
		Failures:      j.failures,
		LastError:     j.lastError,
		LastWorkTime:  j.lastWorkTime,
		MeanWorkTime:  j.meanWorkTime,
		Running:       len(j.executions),
		InFlight:      j.inFlight,
		Paused:        !j.pausedAt.IsZero(),
		Unscheduled:   !j.unscheduledAt.IsZero(),
	}
}

// Snapshot is a diagnostic view of the whole scheduler.
type Snapshot struct {
	ID        string        `json:"id"`
	Running   bool          `json:"running"`
	Paused    bool          `json:"paused"`
	LockHeld  bool          `json:"lock_held"`
	Timezone  string        `json:"timezone"`
	Frequency time.Duration `json:"frequency"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Uptime    time.Duration `json:"uptime"`

	Jobs   []JobInfo       `json:"jobs"`
	Engine engine.Snapshot `json:"engine"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	running, started := s.running, s.startedAt
	s.mu.Unlock()

	snap := Snapshot{
		ID:        s.id,
		Running:   running,
		Paused:    s.paused.Load(),
		LockHeld:  s.LockHeld(),
		Timezone:  s.cfg.Location.String(),
		Frequency: s.cfg.Frequency,
		Engine:    s.pool.Snapshot(),
	}
	if running {
		snap.StartedAt = started
		snap.Uptime = s.clock.Since(started)
	}
	jobs := s.store.Snapshot()
	snap.Jobs = make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		snap.Jobs = append(snap.Jobs, j.Snapshot())
	}
	return snap
}
