package vault

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobOnInterval(t *testing.T) {
	sched := NewScheduler()
	var runs int32
	if err := sched.AddJob("tick", 10*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	sched.Start()
	t.Cleanup(func() { <-sched.Stop().Done() })

	waitFor(t, 5*time.Second, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, "job did not run repeatedly")
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	sched := NewScheduler()
	var inFlight, maxInFlight, runs int32
	if err := sched.AddJob("slow", 10*time.Millisecond, func() {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&maxInFlight)
			if n <= seen || atomic.CompareAndSwapInt32(&maxInFlight, seen, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&runs, 1)
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	sched.Start()
	t.Cleanup(func() { <-sched.Stop().Done() })

	// Let several intervals elapse while each run outlives the interval.
	waitFor(t, 5*time.Second, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, "slow job did not complete twice")

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("overlapping invocations observed: max in flight %d", got)
	}
}

func TestSchedulerAddJobValidation(t *testing.T) {
	sched := NewScheduler()
	if err := sched.AddJob("bad", 0, func() {}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero interval must be refused, got %v", err)
	}
	if err := sched.AddJob("bad", time.Second, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil function must be refused, got %v", err)
	}
}

func TestSchedulerStopWaitsForRunningJob(t *testing.T) {
	sched := NewScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce int32
	if err := sched.AddJob("blocking", 10*time.Millisecond, func() {
		if atomic.CompareAndSwapInt32(&startedOnce, 0, 1) {
			close(started)
		}
		<-release
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	sched.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
		t.Fatal("stop reported drained while a job was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop never drained after the job finished")
	}
}
