package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, no dependencies
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain caps the number of kept records. 0 means DefaultRetain.
	Retain int
}

const DefaultRetain = 10000

// RunRecord is one finished execution.
type RunRecord struct {
	JobID      string        `json:"job_id"`
	Job        string        `json:"job"`
	At         time.Time     `json:"at"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Scheduler  string        `json:"scheduler,omitempty"`
}
