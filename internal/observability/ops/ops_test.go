package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"schedkit/internal/storage"
	"schedkit/internal/task/scheduler"
	logx "schedkit/pkg/logx"
)

type fakeScheduler struct{ snap scheduler.Snapshot }

func (f fakeScheduler) Snapshot() scheduler.Snapshot { return f.snap }

type fakeHistory struct {
	recs    []storage.RunRecord
	gotJob  string
	gotN    int
	failure error
}

func (f *fakeHistory) RecentRuns(_ context.Context, job string, limit int) ([]storage.RunRecord, error) {
	f.gotJob, f.gotN = job, limit
	return f.recs, f.failure
}

func testSources() (Sources, *fakeHistory) {
	hist := &fakeHistory{recs: []storage.RunRecord{{JobID: "every_1_1", Job: "backup", Outcome: "ok"}}}
	return Sources{
		Scheduler: fakeScheduler{snap: scheduler.Snapshot{
			ID:      "s1",
			Running: true,
			Jobs: []scheduler.JobInfo{
				{ID: "cron_1_1", Name: "backup", Kind: "cron", Tags: []string{"db"}},
				{ID: "every_1_2", Name: "heartbeat", Kind: "every"},
			},
		}},
		History: hist,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "schedkit_up 1\n") }),
	}, hist
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEndpoints(t *testing.T) {
	t.Parallel()
	src, hist := testSources()
	h := New(Config{Enabled: true}, src, logx.Nop()).Handler()

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/metrics", nil); !strings.Contains(rec.Body.String(), "schedkit_up 1") {
		t.Fatalf("metrics = %q", rec.Body.String())
	}

	var snap scheduler.Snapshot
	rec := get(t, h, "/jobs?tag=db", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID != "s1" || len(snap.Jobs) != 1 || snap.Jobs[0].Name != "backup" {
		t.Fatalf("jobs = %+v", snap)
	}

	var info scheduler.JobInfo
	rec = get(t, h, "/jobs/heartbeat", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil || info.ID != "every_1_2" {
		t.Fatalf("job by name = %+v, %v", info, err)
	}
	if rec := get(t, h, "/jobs/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job = %d", rec.Code)
	}

	var recs []storage.RunRecord
	rec = get(t, h, "/runs?job=backup&limit=5000", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil || len(recs) != 1 {
		t.Fatalf("runs = %+v, %v", recs, err)
	}
	if hist.gotJob != "backup" || hist.gotN != maxRunsLimit {
		t.Fatalf("history queried with %q %d", hist.gotJob, hist.gotN)
	}
	if rec := get(t, h, "/runs?limit=-1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof mounted while disabled: %d", rec.Code)
	}
}

func TestMissingSources(t *testing.T) {
	t.Parallel()
	h := New(Config{Pprof: true}, Sources{
		Scheduler: fakeScheduler{snap: scheduler.Snapshot{Running: false}},
	}, logx.Nop()).Handler()

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz of stopped scheduler = %d", rec.Code)
	}
	if rec := get(t, h, "/runs", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("runs without history = %d", rec.Code)
	}
	if rec := get(t, h, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without registry = %d", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}

	src, hist := testSources()
	hist.failure = errors.New("disk gone")
	h = New(Config{}, src, logx.Nop()).Handler()
	if rec := get(t, h, "/runs", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("history failure = %d", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	src, _ := testSources()
	h := New(Config{Token: "s3cret"}, src, logx.Nop()).Handler()

	tests := []struct {
		name   string
		target string
		hdr    map[string]string
		want   int
	}{
		{"no token", "/jobs", nil, http.StatusUnauthorized},
		{"wrong bearer", "/jobs", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/jobs", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"query", "/jobs?token=s3cret", nil, http.StatusOK},
		{"wrong query beats good header", "/jobs?token=x", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.target, tt.hdr); rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

func TestLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.4:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	if err := s.serveOnce(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("serveOnce = %v, want refusal", err)
	}
	if s.Addr() != "" {
		t.Fatal("refused server is listening")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	src, _ := testSources()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, src, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never listened")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatal("server still running after Stop")
	}

	// disabling through Reconfigure is a no-op once stopped
	s.Reconfigure(stopCtx, Config{})
	if s.Supervisor() != nil {
		t.Fatal("Reconfigure started a disabled server")
	}
}
