package tokenpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/timing"
)

func newTestPool(t *testing.T, creds ...string) (*Pool, *timing.Collector) {
	t.Helper()
	collector := timing.NewCollector()
	pool, err := New(creds, collector)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pool, collector
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for empty credential list")
	}
}

func TestAcquireRelease(t *testing.T) {
	pool, collector := newTestPool(t, "cred-a")

	tok, err := pool.Acquire(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok.ID != "token-1" || tok.Credential != "cred-a" {
		t.Errorf("unexpected token %+v", tok)
	}
	if pool.Available() != 0 {
		t.Errorf("Available() = %d, want 0", pool.Available())
	}

	pool.Release(tok)
	if pool.Available() != 1 {
		t.Errorf("Available() = %d after release, want 1", pool.Available())
	}

	// One assigned and one released event.
	var assigned, released int
	for _, e := range collector.Snapshot() {
		switch e.Type {
		case timing.EventTokenAssigned:
			assigned++
		case timing.EventTokenReleased:
			released++
		}
	}
	if assigned != 1 || released != 1 {
		t.Errorf("events: assigned=%d released=%d, want 1/1", assigned, released)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	pool, _ := newTestPool(t, "cred-a")

	tok, err := pool.Acquire(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got := make(chan *Token, 1)
	go func() {
		tok2, err := pool.Acquire(context.Background(), "job-2")
		if err != nil {
			t.Errorf("second Acquire: %v", err)
		}
		got <- tok2
	}()

	select {
	case <-got:
		t.Fatal("second Acquire should block while token is held")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(tok)

	select {
	case tok2 := <-got:
		if tok2.ID != "token-1" {
			t.Errorf("handed-off token = %s, want token-1", tok2.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestAcquireWaitBudgetExpires(t *testing.T) {
	pool, _ := newTestPool(t, "cred-a")

	tok, _ := pool.Acquire(context.Background(), "job-1")
	defer pool.Release(tok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := pool.Acquire(ctx, "job-2")
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
	if pool.Waiting() != 0 {
		t.Errorf("expired waiter should be dequeued, Waiting() = %d", pool.Waiting())
	}
}

func TestTryAcquire(t *testing.T) {
	pool, _ := newTestPool(t, "cred-a")

	tok, ok := pool.TryAcquire("job-1")
	if !ok {
		t.Fatal("TryAcquire should succeed on a fresh pool")
	}
	if _, ok := pool.TryAcquire("job-2"); ok {
		t.Error("TryAcquire should fail while the only token is held")
	}
	pool.Release(tok)
	if _, ok := pool.TryAcquire("job-3"); !ok {
		t.Error("TryAcquire should succeed after release")
	}
}

func TestFIFOFairness(t *testing.T) {
	pool, _ := newTestPool(t, "cred-a")

	tok, _ := pool.Acquire(context.Background(), "job-0")

	// Queue two waiters in a known order.
	order := make(chan string, 2)
	var ready sync.WaitGroup
	ready.Add(1)
	go func() {
		ready.Done()
		t2, err := pool.Acquire(context.Background(), "job-1")
		if err != nil {
			t.Errorf("Acquire job-1: %v", err)
			return
		}
		order <- "job-1"
		pool.Release(t2)
	}()
	ready.Wait()
	// Ensure job-1 is queued before job-2.
	for pool.Waiting() < 1 {
		time.Sleep(time.Millisecond)
	}
	go func() {
		t3, err := pool.Acquire(context.Background(), "job-2")
		if err != nil {
			t.Errorf("Acquire job-2: %v", err)
			return
		}
		order <- "job-2"
		pool.Release(t3)
	}()
	for pool.Waiting() < 2 {
		time.Sleep(time.Millisecond)
	}

	// A newcomer must not jump the queue.
	if _, ok := pool.TryAcquire("line-jumper"); ok {
		t.Error("TryAcquire must fail while waiters are queued")
	}

	pool.Release(tok)

	first := <-order
	second := <-order
	if first != "job-1" || second != "job-2" {
		t.Errorf("service order = %s, %s; want job-1, job-2", first, second)
	}
}

func TestExclusivityUnderConcurrency(t *testing.T) {
	pool, collector := newTestPool(t, "cred-a", "cred-b")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tok, err := pool.Acquire(context.Background(), "job")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			pool.Release(tok)
		}(i)
	}
	wg.Wait()

	analyzer := timing.NewAnalyzer(collector.Snapshot())
	if v := analyzer.TokenExclusivityViolations(); len(v) != 0 {
		t.Errorf("token exclusivity violated: %v", v)
	}

	stats := pool.Stats()
	total := 0
	for _, s := range stats {
		if s.InUse {
			t.Errorf("token %s still marked in use", s.ID)
		}
		total += s.Uses
	}
	if total != 16 {
		t.Errorf("total uses = %d, want 16", total)
	}
}
