package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bountybot/services/bountyd/engine"
	"bountybot/services/bountyd/models"
)

type fakeEscalator struct {
	mu    sync.Mutex
	calls []uint64
	fn    func(bountyID uint64) (*engine.EscalateResult, error)
}

func (f *fakeEscalator) EscalateBounty(ctx context.Context, bountyID uint64, minInterval time.Duration) (*engine.EscalateResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, bountyID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(bountyID)
	}
	return &engine.EscalateResult{Escalated: true}, nil
}

type fakeLister struct {
	bounties []models.Bounty
	err      error
	gate     chan struct{}
}

func (f *fakeLister) ListEscalationEligible(ctx context.Context, cutoff time.Time, limit int) ([]models.Bounty, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.bounties) > limit {
		return f.bounties[:limit], nil
	}
	return f.bounties, nil
}

func TestRunOnceEscalatesEligible(t *testing.T) {
	esc := &fakeEscalator{}
	lister := &fakeLister{bounties: []models.Bounty{{ID: 1}, {ID: 2}, {ID: 3}}}
	sched := NewScheduler(Config{Engine: esc, Store: lister, Interval: time.Hour})

	if got := sched.RunOnce(context.Background()); got != 3 {
		t.Fatalf("escalated = %d, want 3", got)
	}
	if len(esc.calls) != 3 {
		t.Fatalf("engine calls = %v", esc.calls)
	}
}

func TestRunOnceCountsOnlyEscalations(t *testing.T) {
	// Bounties that became ineligible between the scan query and the
	// escalation (claim landed, cap hit) are skipped by the engine; the scan
	// reports only real escalations.
	esc := &fakeEscalator{
		fn: func(bountyID uint64) (*engine.EscalateResult, error) {
			if bountyID == 2 {
				return &engine.EscalateResult{Reason: engine.ReasonClaimInProgress}, nil
			}
			return &engine.EscalateResult{Escalated: true}, nil
		},
	}
	lister := &fakeLister{bounties: []models.Bounty{{ID: 1}, {ID: 2}, {ID: 3}}}
	sched := NewScheduler(Config{Engine: esc, Store: lister, Interval: time.Hour})

	if got := sched.RunOnce(context.Background()); got != 2 {
		t.Fatalf("escalated = %d, want 2", got)
	}
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	esc := &fakeEscalator{
		fn: func(bountyID uint64) (*engine.EscalateResult, error) {
			if bountyID == 1 {
				return nil, errors.New("escrow unreachable")
			}
			return &engine.EscalateResult{Escalated: true}, nil
		},
	}
	lister := &fakeLister{bounties: []models.Bounty{{ID: 1}, {ID: 2}}}
	sched := NewScheduler(Config{Engine: esc, Store: lister, Interval: time.Hour})

	if got := sched.RunOnce(context.Background()); got != 1 {
		t.Fatalf("escalated = %d, want 1", got)
	}
	if len(esc.calls) != 2 {
		t.Fatalf("engine calls = %v, want both bounties attempted", esc.calls)
	}
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	esc := &fakeEscalator{}
	gate := make(chan struct{})
	lister := &fakeLister{bounties: []models.Bounty{{ID: 1}}, gate: gate}
	sched := NewScheduler(Config{Engine: esc, Store: lister, Interval: time.Hour})

	done := make(chan int, 1)
	go func() { done <- sched.RunOnce(context.Background()) }()

	// The first scan is blocked inside the query; a second tick must bounce.
	for !sched.running.Load() {
		time.Sleep(time.Millisecond)
	}
	if got := sched.RunOnce(context.Background()); got != 0 {
		t.Fatalf("overlapping scan escalated %d", got)
	}

	close(gate)
	if got := <-done; got != 1 {
		t.Fatalf("first scan escalated %d, want 1", got)
	}
}

func TestRunOnceQueryFailure(t *testing.T) {
	esc := &fakeEscalator{}
	lister := &fakeLister{err: errors.New("db down")}
	sched := NewScheduler(Config{Engine: esc, Store: lister, Interval: time.Hour})

	if got := sched.RunOnce(context.Background()); got != 0 {
		t.Fatalf("escalated = %d, want 0", got)
	}
	if len(esc.calls) != 0 {
		t.Fatal("engine called despite failed scan query")
	}
}

func TestRunOnceHonoursBatchLimit(t *testing.T) {
	esc := &fakeEscalator{}
	lister := &fakeLister{bounties: []models.Bounty{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}}
	sched := NewScheduler(Config{Engine: esc, Store: lister, Interval: time.Hour, BatchLimit: 2})

	if got := sched.RunOnce(context.Background()); got != 2 {
		t.Fatalf("escalated = %d, want batch limit 2", got)
	}
}
