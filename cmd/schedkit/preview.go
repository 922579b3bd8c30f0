package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"schedkit/internal/task/timespec"
)

const previewLayout = "2006-01-02 15:04:05 MST"

// upcoming lists at most n trigger times of spec after now. One-shot
// schedules yield a single time.
func upcoming(spec timespec.Spec, now time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []time.Time
	switch spec.Kind {
	case timespec.SpecCron:
		t := now
		for len(out) < n {
			nt, err := spec.Cron.NextTime(t)
			if err != nil {
				if len(out) == 0 {
					return nil, err
				}
				break
			}
			out = append(out, nt)
			t = nt
		}
	case timespec.SpecDuration:
		if spec.Duration <= 0 {
			return nil, errors.New("duration must be > 0")
		}
		if !spec.Repeat {
			return []time.Time{now.Add(spec.Duration)}, nil
		}
		for i := 1; i <= n; i++ {
			out = append(out, now.Add(time.Duration(i)*spec.Duration))
		}
	case timespec.SpecTime:
		if !spec.At.After(now) {
			return nil, fmt.Errorf("%s is in the past", spec.At.Format(previewLayout))
		}
		out = append(out, spec.At)
	default:
		return nil, fmt.Errorf("unsupported schedule kind %s", spec.Kind)
	}
	return out, nil
}

func preview(w io.Writer, raw string, loc *time.Location, n int, now time.Time) error {
	spec, err := timespec.NewParser(loc).Parse(raw)
	if err != nil {
		return err
	}
	times, err := upcoming(spec, now.In(loc), n)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%s)\n", raw, spec.Kind)
	if spec.Kind == timespec.SpecCron {
		fmt.Fprintf(w, "  frequency: %s\n", timespec.FormatDuration(spec.Cron.Frequency()))
	}
	for _, t := range times {
		fmt.Fprintf(w, "  %s  %s\n", t.Format(previewLayout), humanize.RelTime(t, now, "ago", "from now"))
	}
	return nil
}
