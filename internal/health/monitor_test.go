package health

import (
	"context"
	"errors"
	"testing"
	"time"

	pkghealth "github.com/objectfs/objectfs/pkg/health"
)

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, expectChanges bool) error {
	f.calls++
	return f.err
}

func TestSchedulerTicksAndRecordsSuccess(t *testing.T) {
	r := &fakeRefresher{}
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	s := NewScheduler(r, tracker, Config{Interval: 10 * time.Millisecond})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(time.Second)
	for r.calls == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never ticked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !s.IsHealthy() {
		t.Fatal("expected scheduler to report healthy after a successful refresh")
	}
}

func TestSchedulerRecordsFailure(t *testing.T) {
	r := &fakeRefresher{err: errors.New("remote unreachable")}
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	s := NewScheduler(r, tracker, Config{Interval: 10 * time.Millisecond})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(time.Second)
	for r.calls < 5 {
		select {
		case <-deadline:
			t.Fatal("scheduler never ticked enough times")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if tracker.GetState("remote") == pkghealth.StateHealthy {
		t.Fatal("expected remote component to degrade after repeated failures")
	}
}

func TestSchedulerZeroIntervalIsNoOp(t *testing.T) {
	r := &fakeRefresher{}
	tracker := pkghealth.NewTracker(pkghealth.DefaultConfig())
	s := NewScheduler(r, tracker, Config{Interval: 0})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if r.calls != 0 {
		t.Fatalf("expected no refresh calls with zero interval, got %d", r.calls)
	}
}
