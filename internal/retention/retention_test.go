package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) PruneViewedMessages(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, olderThan)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestRunOnceUsesRetentionAge(t *testing.T) {
	p := &fakePruner{}
	j, err := New(p, 90, "0 30 3 * * *")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	n, err := j.RunOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected 3 pruned, got n=%d err=%v", n, err)
	}
	if len(p.cutoffs) != 1 || !p.cutoffs[0].Equal(now.AddDate(0, 0, -90)) {
		t.Fatalf("unexpected cutoffs %v", p.cutoffs)
	}
}

func TestRunOnceReturnsStoreError(t *testing.T) {
	locked := errors.New("locked")
	p := &fakePruner{err: locked}
	j, err := New(p, 1, "@daily")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := j.RunOnce(context.Background()); !errors.Is(err, locked) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(&fakePruner{}, 0, "0 30 3 * * *"); err == nil {
		t.Fatalf("expected error for zero days")
	}
	if _, err := New(&fakePruner{}, 30, "30 3 * *"); err == nil {
		t.Fatalf("expected error for bad schedule")
	}
}

func TestScheduleFires(t *testing.T) {
	p := &fakePruner{}
	j, err := New(p, 30, "* * * * * *")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	j.Start()
	defer j.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for p.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("schedule never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
