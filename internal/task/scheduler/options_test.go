package scheduler

import (
	"errors"
	"testing"
	"time"
)

func applyOptions(t *testing.T, m map[string]any) jobOptions {
	t.Helper()
	opts, err := ParseOptions(m)
	if err != nil {
		t.Fatalf("ParseOptions(%v): %v", m, err)
	}
	o := defaultJobOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func TestParseOptions(t *testing.T) {
	t.Parallel()
	o := applyOptions(t, map[string]any{
		"tags":     []any{"backup", "nightly"},
		"overlap":  false,
		"mutex":    "db,cache",
		"timeout":  "1m30s",
		"blocking": "true",
		"times":    float64(3),
		"first_in": "10s",
		"last":     "2030-01-01 00:00",
		"name":     "backup",
	})
	if o.name != "backup" || len(o.tags) != 2 || o.overlap {
		t.Fatalf("options = %+v", o)
	}
	if len(o.mutexes) != 2 || o.mutexes[0] != "db" || o.mutexes[1] != "cache" {
		t.Fatalf("mutexes = %v", o.mutexes)
	}
	if o.timeout != 90*time.Second || !o.blocking || o.times != 3 || !o.timesSet {
		t.Fatalf("options = %+v", o)
	}
	if o.first.in != 10*time.Second || o.last.raw != "2030-01-01 00:00" {
		t.Fatalf("bounds = %+v %+v", o.first, o.last)
	}
}

func TestParseOptionsAliases(t *testing.T) {
	t.Parallel()
	o := applyOptions(t, map[string]any{
		"tag":           "one",
		"allow_overlap": false,
		"timeout":       5,
		"first":         "now",
		"last_in":       "1h",
	})
	if len(o.tags) != 1 || o.overlap || o.timeout != 5*time.Second {
		t.Fatalf("options = %+v", o)
	}
	if !o.first.now || o.last.in != time.Hour {
		t.Fatalf("bounds = %+v %+v", o.first, o.last)
	}

	o = applyOptions(t, map[string]any{"first": "2h", "first_at": time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)})
	// keys apply in sorted order: first, then first_at
	if o.first.at.IsZero() {
		t.Fatalf("first = %+v", o.first)
	}
}

func TestParseOptionsErrors(t *testing.T) {
	t.Parallel()
	bad := []map[string]any{
		{"colour": "blue"},
		{"overlap": 3},
		{"timeout": "soon"},
		{"timeout": "-5s"},
		{"times": 1.5},
		{"first_at": "yesterday-ish"},
		{"tags": []any{1, 2}},
	}
	for _, m := range bad {
		if _, err := ParseOptions(m); !errors.Is(err, ErrInvalidOption) {
			t.Fatalf("ParseOptions(%v) = %v, want ErrInvalidOption", m, err)
		}
	}
}
