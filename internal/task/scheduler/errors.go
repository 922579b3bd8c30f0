package scheduler

import (
	"errors"

	"schedkit/internal/task/engine"
)

var (
	ErrNilHandler    = errors.New("scheduler: handler is nil")
	ErrJobNotFound   = errors.New("scheduler: job not found")
	ErrNotRepeating  = errors.New("scheduler: job is not repeating")
	ErrInvalidOption = errors.New("scheduler: invalid job option")
	ErrNoNextTime    = errors.New("scheduler: schedule yields no trigger time")
	ErrNotRunning    = errors.New("scheduler: not running")
	// ErrSkipped is returned by TriggerOffSchedule when the overlap policy
	// or the pre-trigger hook dropped the trigger.
	ErrSkipped = errors.New("scheduler: trigger skipped")

	// ErrJobKilled is the cancellation cause seen by handlers of a killed job.
	// It is control flow, never reported to the error sink.
	ErrJobKilled = engine.ErrKilled
)
