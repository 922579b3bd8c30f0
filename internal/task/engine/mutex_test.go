package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMutexesLockOrderAndRelease(t *testing.T) {
	t.Parallel()
	r := NewMutexes()
	unlock, err := r.Lock(context.Background(), []string{"b", " a ", "", "b"})
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if got := r.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Names = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(ctx, []string{"a"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("contended Lock = %v, want deadline", err)
	}

	unlock()
	again, err := r.Lock(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	again()
}

func TestMutexesReleasePartialOnCancel(t *testing.T) {
	t.Parallel()
	r := NewMutexes()
	holdB, _ := r.Lock(context.Background(), []string{"b"})

	ctx, cancel := context.WithCancelCause(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.Lock(ctx, []string{"a", "b"})
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel(ErrKilled)
	if err := <-errc; !errors.Is(err, ErrKilled) {
		t.Fatalf("Lock = %v, want ErrKilled", err)
	}

	// "a" must have been released
	quick, qcancel := context.WithTimeout(context.Background(), time.Second)
	defer qcancel()
	unlockA, err := r.Lock(quick, []string{"a"})
	if err != nil {
		t.Fatalf("a still held: %v", err)
	}
	unlockA()
	holdB()
}

func TestMutexFastPathBeatsCancelledContext(t *testing.T) {
	t.Parallel()
	r := NewMutexes()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	unlock, err := r.Lock(ctx, []string{"free"})
	if err != nil {
		t.Fatalf("uncontended lock failed on cancelled ctx: %v", err)
	}
	unlock()
}
