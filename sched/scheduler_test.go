package sched_test

import (
	"testing"

	"github.com/kedarmahale/minikernel/hal"
	"github.com/kedarmahale/minikernel/mm"
	"github.com/kedarmahale/minikernel/sched"
)

// fakeInterrupt is a no-op InterruptOps: these tests drive Tick
// directly rather than through a delivered IRQ 0, but Init still
// requires somewhere to register the handler against.
func fakeInterrupt() *hal.InterruptOps {
	return &hal.InterruptOps{
		Register: func(irq int, h hal.InterruptHandler) error { return nil },
		Unmask:   func(int) error { return nil },
		Mask:     func(int) error { return nil },
		AckIRQ:   func(int) error { return nil },
	}
}

func newScheduler(t *testing.T) (*sched.Scheduler, *mm.Territory, *mm.Heap) {
	t.Helper()

	var terr mm.Territory
	if err := terr.Init(16*1024*1024, 0x150000); err != nil {
		t.Fatalf("territory Init: %v", err)
	}

	heap := mm.NewHeap()

	var s sched.Scheduler
	if err := s.Init(&terr, heap, fakeInterrupt()); err != nil {
		t.Fatalf("scheduler Init: %v", err)
	}

	return &s, &terr, heap
}

func noopEntry(any) {}

// TestSchedulerFairnessAtEqualPriority is spec.md §8 scenario C: three
// Normal-priority tasks that yield immediately whenever dispatched
// must each accumulate a dispatch count within +/-1 of the others
// after many schedule steps.
func TestSchedulerFairnessAtEqualPriority(t *testing.T) {
	t.Parallel()

	s, _, _ := newScheduler(t)

	var pids []sched.Pid

	for i := 0; i < 3; i++ {
		pid, err := s.CreateTask("worker", noopEntry, nil, sched.PriorityNormal, 0)
		if err != nil {
			t.Fatalf("CreateTask %d: %v", i, err)
		}

		pids = append(pids, pid)
	}

	dispatches := make(map[sched.Pid]int)

	const rounds = 300

	for i := 0; i < rounds; i++ {
		cur, err := s.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}

		dispatches[cur.Pid]++

		s.Yield()
	}

	var min, max int

	first := true

	for _, pid := range pids {
		count := dispatches[pid]

		if first {
			min, max = count, count
			first = false

			continue
		}

		if count < min {
			min = count
		}

		if count > max {
			max = count
		}
	}

	if max-min > 1 {
		t.Fatalf("dispatch counts %v span more than 1 (min=%d max=%d)", dispatches, min, max)
	}
}

// TestSchedulerSleepWake is spec.md §8 scenario D: a task that sleeps
// must not be scheduled again until enough ticks have elapsed to cover
// the requested duration.
func TestSchedulerSleepWake(t *testing.T) {
	t.Parallel()

	s, _, _ := newScheduler(t)

	sleeperPid, err := s.CreateTask("sleeper", noopEntry, nil, sched.PriorityNormal, 0)
	if err != nil {
		t.Fatalf("CreateTask sleeper: %v", err)
	}

	if _, err := s.CreateTask("runner", noopEntry, nil, sched.PriorityNormal, 0); err != nil {
		t.Fatalf("CreateTask runner: %v", err)
	}

	s.Yield()

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	for cur.Pid != sleeperPid {
		s.Yield()

		cur, err = s.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
	}

	// Sleeper is now running; put it to sleep for 50ms (5 ticks at 100Hz).
	s.Sleep(50)

	for i := 0; i < 4; i++ {
		s.Tick()

		cur, err := s.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}

		if cur.Pid == sleeperPid {
			t.Fatalf("sleeper rescheduled after only %d ticks", i+1)
		}
	}

	woke := false

	for i := 0; i < 20; i++ {
		s.Tick()
		s.Yield()

		cur, err := s.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}

		if cur.Pid == sleeperPid {
			woke = true

			break
		}
	}

	if !woke {
		t.Fatal("sleeper never rescheduled after sleep deadline passed")
	}
}

func TestOnlyOneTaskRunningAtATime(t *testing.T) {
	t.Parallel()

	s, _, _ := newScheduler(t)

	for i := 0; i < 5; i++ {
		if _, err := s.CreateTask("worker", noopEntry, nil, sched.PriorityNormal, 0); err != nil {
			t.Fatalf("CreateTask %d: %v", i, err)
		}
	}

	for i := 0; i < 50; i++ {
		cur, err := s.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}

		tcb, err := s.Lookup(cur.Pid)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}

		if tcb.State != sched.StateRunning {
			t.Fatalf("current task pid %d has state %v, want Running", cur.Pid, tcb.State)
		}

		s.Yield()
	}
}

func TestHigherPriorityPreemptsLower(t *testing.T) {
	t.Parallel()

	s, _, _ := newScheduler(t)

	lowPid, err := s.CreateTask("low", noopEntry, nil, sched.PriorityLow, 0)
	if err != nil {
		t.Fatalf("CreateTask low: %v", err)
	}

	s.Yield()

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	if cur.Pid != lowPid {
		t.Fatalf("current pid = %d, want %d (only low-priority task ready)", cur.Pid, lowPid)
	}

	highPid, err := s.CreateTask("high", noopEntry, nil, sched.PriorityHigh, 0)
	if err != nil {
		t.Fatalf("CreateTask high: %v", err)
	}

	s.Yield()

	cur, err = s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	if cur.Pid != highPid {
		t.Fatalf("current pid = %d, want %d (high priority should preempt)", cur.Pid, highPid)
	}
}

func TestExitReclaimsResourcesOnReap(t *testing.T) {
	t.Parallel()

	s, _, heap := newScheduler(t)

	if _, err := s.CreateTask("runner", noopEntry, nil, sched.PriorityNormal, 0); err != nil {
		t.Fatalf("CreateTask runner: %v", err)
	}

	exiterPid, err := s.CreateTask("exiter", noopEntry, nil, sched.PriorityNormal, 0)
	if err != nil {
		t.Fatalf("CreateTask exiter: %v", err)
	}

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	for cur.Pid != exiterPid {
		s.Yield()

		cur, err = s.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
	}

	tcb, err := s.Lookup(exiterPid)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	stackHandle := tcb.StackHandle

	s.Exit(7)

	statsBefore := heap.Stats()

	s.Cleanup()

	if _, err := s.Lookup(exiterPid); err == nil {
		t.Fatal("Lookup(exiterPid) succeeded after reap, want failure")
	}

	if err := heap.Free(stackHandle); err == nil {
		t.Fatal("stack block was still allocated after reap freed it")
	}

	statsAfter := heap.Stats()
	if statsAfter.FreeBytes <= statsBefore.FreeBytes {
		t.Fatalf("heap FreeBytes did not increase after reap: before=%d after=%d",
			statsBefore.FreeBytes, statsAfter.FreeBytes)
	}
}
