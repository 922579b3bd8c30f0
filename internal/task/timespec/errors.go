package timespec

import "errors"

var (
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidTime     = errors.New("invalid time")
	ErrInvalidSchedule = errors.New("invalid schedule")
)
