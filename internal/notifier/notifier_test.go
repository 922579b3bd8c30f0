package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/task/engine"
	logx "schedkit/pkg/logx"
)

type recordSender struct {
	mu    sync.Mutex
	got   []Alert
	fails atomic.Int32 // fail this many calls first
	calls atomic.Int32
}

func (r *recordSender) Send(_ context.Context, a Alert) error {
	r.calls.Add(1)
	if r.fails.Add(-1) >= 0 {
		return errors.New("flaky")
	}
	r.mu.Lock()
	r.got = append(r.got, a)
	r.mu.Unlock()
	return nil
}

func (r *recordSender) alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.got...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()
	snd := &recordSender{}
	s := New(testConfig(), snd, nil, "", logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	a := Alert{Job: "backup", Outcome: "failed", Error: "disk full"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(ctx, a); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	other := a
	other.Error = "permission denied"
	if err := s.Notify(ctx, other); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "two deliveries", func() bool { return len(snd.alerts()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := len(snd.alerts()); n != 2 {
		t.Fatalf("delivered %d alerts, want 2 after dedup", n)
	}
	if h := s.Snapshot(); len(h) != 2 {
		t.Fatalf("history = %d", len(h))
	}
}

func TestRetryThenGiveUp(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(4, EventFailed)
	defer unsub()

	snd := &recordSender{}
	snd.fails.Store(2)
	s := New(testConfig(), snd, bus, "", logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, Alert{Job: "a"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retried delivery", func() bool { return len(snd.alerts()) == 1 })
	if c := snd.calls.Load(); c != 3 {
		t.Fatalf("calls = %d, want 3", c)
	}

	snd.fails.Store(100)
	if err := s.Notify(ctx, Alert{Job: "b"}); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-failed:
		if ev := e.Data.(AlertEvent); ev.Job != "b" || ev.Error != "flaky" {
			t.Fatalf("failed event = %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no alert.failed event")
	}
}

func TestFailuresFromBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &recordSender{}
	s := New(testConfig(), snd, bus, "node-1", logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Data: engine.RunEvent{Name: "ok"}})
	bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: engine.RunEvent{
		ID: "every_1_1", Name: "sync", Outcome: "timeout", Error: "deadline", Duration: time.Second,
	}})

	waitFor(t, "alert from bus", func() bool { return len(snd.alerts()) == 1 })
	got := snd.alerts()[0]
	if got.Job != "sync" || got.JobID != "every_1_1" || got.Scheduler != "node-1" || got.Outcome != "timeout" {
		t.Fatalf("alert = %+v", got)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	off := New(Config{}, &recordSender{}, nil, "", logx.Nop())
	if err := off.Notify(ctx, Alert{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify = %v", err)
	}

	s := New(testConfig(), &recordSender{}, nil, "", logx.Nop())
	if err := s.Notify(ctx, Alert{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v", err)
	}
	s.Start(ctx)
	s.Stop(ctx)
	if err := s.Notify(ctx, Alert{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v", err)
	}
	if s.Supervisor() != nil {
		t.Fatal("supervisor kept after Stop")
	}
	// restartable
	s.Start(ctx)
	defer s.Stop(ctx)
	if err := s.Notify(ctx, Alert{Job: "again"}); err != nil {
		t.Fatalf("Notify after restart = %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	snd := senderFunc(func(ctx context.Context, _ Alert) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	s := New(cfg, snd, nil, "", logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer func() {
		close(block)
		s.Stop(ctx)
	}()

	var full bool
	for i := 0; i < 10 && !full; i++ {
		full = errors.Is(s.Notify(ctx, Alert{Job: "x"}), ErrQueueFull)
	}
	if !full {
		t.Fatal("queue never reported full")
	}
}

type senderFunc func(context.Context, Alert) error

func (f senderFunc) Send(ctx context.Context, a Alert) error { return f(ctx, a) }

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		for i := 0; i < 20; i++ {
			d := retryDelay(cfg, attempt)
			if d <= 0 || d > cfg.RetryMaxDelay {
				t.Fatalf("attempt %d delay %s out of range", attempt, d)
			}
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %s outside jitter band", d)
	}
}

func TestDedupCap(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), nil, nil, "", logx.Nop())
	for _, k := range []string{"a", "b", "c"} {
		if !s.dedupAllow(k, time.Minute, 2) {
			t.Fatalf("%s suppressed", k)
		}
	}
	if len(s.dedup) != 2 {
		t.Fatalf("dedup entries = %d, want 2", len(s.dedup))
	}
	for k := range s.dedup {
		if s.dedupAllow(k, time.Minute, 2) {
			t.Fatalf("recent key %s not suppressed", k)
		}
	}
}

func TestWebhook(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		got  Alert
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	wh := &Webhook{URL: srv.URL + "/hook", Headers: map[string]string{"Authorization": "Bearer k"}, Client: srv.Client()}
	if err := wh.Send(ctx, Alert{Job: "report", Outcome: "failed", Error: "exit 1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	if got.Job != "report" || got.Error != "exit 1" || auth != "Bearer k" {
		t.Fatalf("received %+v auth=%q", got, auth)
	}
	mu.Unlock()

	bad := &Webhook{URL: srv.URL + "/broken", Client: srv.Client()}
	if err := bad.Send(ctx, Alert{Job: "x"}); err == nil {
		t.Fatal("non-2xx accepted")
	}
}
