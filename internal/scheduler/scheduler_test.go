package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFakeClockTicker(t *testing.T) {
	c := NewFakeClock(epoch)
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C:
		if !got.Equal(epoch.Add(time.Minute)) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("ticker did not fire")
	}
	if !c.Now().Equal(epoch.Add(time.Minute)) {
		t.Errorf("Now = %v", c.Now())
	}
}

func TestSchedulerRunsOnTick(t *testing.T) {
	c := NewFakeClock(epoch)
	s := New(c, quietLogger())

	ran := make(chan struct{}, 4)
	if err := s.Add(Task{Name: "flush", Interval: time.Second, Run: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	c.WaitForTickers(1)
	c.Advance(time.Second)
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run after tick")
	}
}

func TestSchedulerSurvivesErrorsAndPanics(t *testing.T) {
	c := NewFakeClock(epoch)
	s := New(c, quietLogger())

	var calls atomic.Int32
	done := make(chan struct{}, 4)
	s.Add(Task{Name: "flaky", Interval: time.Second, Immediate: true, Run: func(context.Context) error {
		n := calls.Add(1)
		defer func() { done <- struct{}{} }()
		if n == 1 {
			panic("boom")
		}
		return errors.New("still failing")
	}})

	s.Start(context.Background())
	defer s.Stop()

	<-done
	c.WaitForTickers(1)
	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task stopped after panic")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestSchedulerStopWaits(t *testing.T) {
	s := New(NewFakeClock(epoch), quietLogger())
	var stopped atomic.Bool
	started := make(chan struct{})
	s.Add(Task{Name: "long", Interval: time.Hour, Immediate: true, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		stopped.Store(true)
		return ctx.Err()
	}})
	s.Start(context.Background())
	<-started
	s.Stop()
	if !stopped.Load() {
		t.Error("Stop returned before the task finished")
	}
}

func TestAddValidates(t *testing.T) {
	s := New(nil, quietLogger())
	if err := s.Add(Task{Name: "x", Run: func(context.Context) error { return nil }}); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.Add(Task{Name: "x", Interval: time.Second}); err == nil {
		t.Error("expected error for missing run func")
	}
}
