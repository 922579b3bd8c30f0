package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("component", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" || m["component"] != "test" || m["err"] != "boom" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["n"].(float64) != 3 {
		t.Fatalf("n = %v", m["n"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if !log.Enabled(LevelError) || log.Enabled(LevelDebug) {
		t.Fatal("Enabled disagrees with level")
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"trace", "DEBUG", " info ", "warning", "error"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger not IsZero")
	}
	l.Error("nothing happens")
}

func TestLimitedSuppresses(t *testing.T) {
	var buf bytes.Buffer
	lim := NewLimited(NewJSON(&buf, "info"), time.Hour, 2)
	for i := 0; i < 5; i++ {
		lim.Warn("noisy")
	}
	if got := strings.Count(buf.String(), "noisy"); got != 2 {
		t.Fatalf("written = %d, want 2", got)
	}
	if got := lim.Suppressed(); got != 3 {
		t.Fatalf("Suppressed = %d, want 3", got)
	}
}
