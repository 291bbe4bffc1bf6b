package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingRoller struct {
	calls atomic.Int32
	err   error
}

func (r *countingRoller) RolloverAll(context.Context) (int, error) {
	r.calls.Add(1)
	return 3, r.err
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New(context.Background(), &countingRoller{}, nil)
	if err := s.Register("not a cron"); err == nil {
		t.Fatalf("expected error for bad spec")
	}
	if err := s.Register(""); err != nil {
		t.Fatalf("default spec: %v", err)
	}
	if s.Entries() != 1 {
		t.Fatalf("entries = %d", s.Entries())
	}
}

func TestCronFiresRollover(t *testing.T) {
	roller := &countingRoller{}
	s := New(context.Background(), roller, nil)
	if err := s.Register("* * * * * *"); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for roller.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if roller.calls.Load() == 0 {
		t.Fatalf("rollover never ran")
	}
}

func TestRunRolloverSurvivesErrors(t *testing.T) {
	roller := &countingRoller{err: errors.New("store down")}
	s := New(context.Background(), roller, nil)
	s.RunRollover()
	s.RunRollover()
	if roller.calls.Load() != 2 {
		t.Fatalf("calls = %d", roller.calls.Load())
	}
}
