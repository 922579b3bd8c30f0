package cronline

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("cronline: parse error")
	// ErrNoOccurrence is returned when no instant matches within the search horizon.
	ErrNoOccurrence = errors.New("cronline: no matching time within search horizon")
)

// ParseError describes a malformed cron line.
type ParseError struct {
	Line   string
	Field  string // empty when the line as a whole is wrong
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("cronline: invalid %s field in %q: %s", e.Field, e.Line, e.Reason)
	}
	return fmt.Sprintf("cronline: invalid line %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

func lineError(line, reason string, args ...any) error {
	return &ParseError{Line: line, Reason: fmt.Sprintf(reason, args...)}
}
