package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/task/engine"
	logx "schedkit/pkg/logx"
)

func openTestFile(t *testing.T, retain int) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "history.db")
	st, err := Open(Config{Driver: "file", Path: path, Retain: retain}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, strings.TrimSuffix(path, ".db") + ".runs.jsonl"
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestFileStoreRecentRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTestFile(t, 0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		job := "a"
		if i%2 == 1 {
			job = "b"
		}
		r := RunRecord{JobID: job + "_1", Job: job, At: base.Add(time.Duration(i) * time.Minute), Outcome: engine.OutcomeOK}
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := st.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || !all[0].At.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("RecentRuns = %+v", all)
	}

	a, _ := st.RecentRuns(ctx, "a", 2)
	if len(a) != 2 || !a[0].At.Equal(base.Add(4*time.Minute)) || !a[1].At.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("RecentRuns(a, 2) = %+v", a)
	}
	if b, _ := st.RecentRuns(ctx, "b_1", 10); len(b) != 2 {
		t.Fatalf("RecentRuns by id = %d", len(b))
	}

	_ = st.Close()
	if err := st.AppendRun(ctx, RunRecord{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendRun after Close = %v", err)
	}
}

func TestFileStoreCompactsOnOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "h.jsonl")
	st, err := Open(Config{Driver: "file", Path: path, Retain: 3}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := range 7 {
		_ = st.AppendRun(ctx, RunRecord{Job: fmt.Sprintf("j%d", i)})
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path, Retain: 3}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	data, _ := os.ReadFile(filepath.Join(dir, "h.runs.jsonl"))
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Fatalf("lines after compaction = %d", n)
	}
	runs, _ := st.RecentRuns(ctx, "", 10)
	if len(runs) != 3 || runs[0].Job != "j6" || runs[2].Job != "j4" {
		t.Fatalf("runs = %+v", runs)
	}
	// appends keep working on the reopened file
	_ = st.AppendRun(ctx, RunRecord{Job: "j7"})
	if runs, _ := st.RecentRuns(ctx, "", 1); len(runs) != 1 || runs[0].Job != "j7" {
		t.Fatalf("runs after append = %+v", runs)
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	st, _ := openTestFile(t, 0)
	bus := eventbus.New()
	rec := NewRecorder(st, bus, "sched-1", logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	// wait for the subscription before publishing
	deadline := time.Now().Add(3 * time.Second)
	var runs []RunRecord
	for len(runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run not recorded")
		}
		bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: engine.RunEvent{ID: "in_1_1", Name: "backup", Outcome: engine.OutcomeFailed, Error: "boom"}})
		time.Sleep(5 * time.Millisecond)
		runs, _ = st.RecentRuns(context.Background(), "backup", 1)
	}
	if runs[0].Error != "boom" || runs[0].Scheduler != "sched-1" || runs[0].Outcome != engine.OutcomeFailed {
		t.Fatalf("record = %+v", runs[0])
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
