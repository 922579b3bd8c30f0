package cronline

import (
	"testing"
	"time"
)

func TestFrequency(t *testing.T) {
	t.Parallel()
	day := 24 * time.Hour
	tests := []struct {
		line string
		want time.Duration
	}{
		{line: "* * * * * *", want: time.Second},
		{line: "*/15 * * * * *", want: 15 * time.Second},
		{line: "0,50 * * * * *", want: 10 * time.Second},
		{line: "* * * * *", want: time.Minute},
		{line: "0 * * * *", want: time.Hour},
		{line: "0 0 * * *", want: day},
		{line: "0 0 * * 1", want: 7 * day},
		{line: "0 0 * * 1,2", want: day},
		{line: "0 0 1 * *", want: 28 * day},
		{line: "0 0 1 1 *", want: 365 * day},
		{line: "0 8,17 * * mon-fri", want: 9 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			l := mustUTC(t, tt.line)
			if got := l.Frequency(); got != tt.want {
				t.Fatalf("Frequency(%q) = %s, want %s", tt.line, got, tt.want)
			}
		})
	}
}

func TestBruteFrequencyCached(t *testing.T) {
	t.Parallel()
	p := NewParser(WithLocation(time.UTC))
	a, err := p.Parse("0 0 -1 * *")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	got := a.BruteFrequency(2017)
	if got != 28*24*time.Hour {
		t.Fatalf("BruteFrequency = %s", got)
	}
	if d, ok := p.cache.get("0 0 -1 * *|2017"); !ok || d != got {
		t.Fatalf("cache entry = %s/%v, want %s", d, ok, got)
	}

	// Lines from the same parser share the cache.
	b, err := p.Parse("0 0 -1 * *")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	p.cache.put("0 0 -1 * *|2017", time.Minute)
	if d := b.BruteFrequency(2017); d != time.Minute {
		t.Fatalf("BruteFrequency on sibling line = %s, want cached value", d)
	}

	// A different parser does not see it.
	c := mustUTC(t, "0 0 -1 * *")
	if d := c.BruteFrequency(2017); d != got {
		t.Fatalf("BruteFrequency on fresh parser = %s, want %s", d, got)
	}
}

func TestFrequencyNeverMatches(t *testing.T) {
	t.Parallel()
	if got := mustUTC(t, "0 0 30 2 *").Frequency(); got != 0 {
		t.Fatalf("Frequency = %s, want 0", got)
	}
}
