// Package sched is the preemptive priority scheduler: task creation,
// the Ready-queue dispatch loop, sleep/wake, and exit bookkeeping
// (spec.md §4.3). The actual register-context switch is an assembly
// leaf outside this package's scope (spec.md §1, §9); Scheduler calls
// a ContextSwitch hook at the point a real kernel would jump to it.
package sched

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/hal"
	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/klog"
	"github.com/kedarmahale/minikernel/mm"
)

const (
	// MaxTasks bounds the fixed task table, matching the arena+index
	// pattern used for the heap and frame bitmap.
	MaxTasks = 64

	// TickRateHz is fixed at 100Hz (spec.md §9 open question): one tick
	// is 10ms, so Sleep's millisecond argument converts via /10,
	// rounded up to a whole tick.
	TickRateHz = 100

	defaultTimeSlice = 10 // ticks
	defaultStackSize = 4096

	// cleanupIntervalTicks is how often Tick runs the terminated-task
	// reaper, standing in for the idle task's loop body (spec.md §9
	// open question: no dedicated cleanup thread exists here).
	cleanupIntervalTicks = 100

	idlePid = Pid(1)

	// timerIRQ is the IRQ line Init registers Tick against (spec.md
	// §4.3 Initialization: "registers scheduler_tick as the timer-IRQ
	// callback"), matching kbd's own IRQ-1 registration in Driver.Init.
	timerIRQ = 0
)

// ContextSwitch is the architecture-specific dispatch primitive. The
// zero value (nil) is a safe no-op: this package never requires a real
// switch to satisfy its bookkeeping invariants.
type ContextSwitch func(prev, next *TCB)

// Scheduler owns the task table and Ready queue.
type Scheduler struct {
	mu sync.Mutex

	tasks [MaxTasks]TCB
	used  [MaxTasks]bool

	nextPid Pid

	currentIdx          int
	readyHead, readyTail int

	ticks          uint64
	cleanupCounter uint64

	terr *mm.Territory
	heap *mm.Heap

	contextSwitch ContextSwitch
}

// Init resets the scheduler, wires the memory manager it will draw
// task frames and stacks from, creates the idle task, and registers
// Tick as the timer-IRQ callback through interrupt (spec.md §4.3
// Initialization) so preemption is driven by the capability table
// rather than a caller invoking Tick directly.
func (s *Scheduler) Init(terr *mm.Territory, heap *mm.Heap, interrupt *hal.InterruptOps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if terr == nil || heap == nil || interrupt == nil {
		return fmt.Errorf("sched.Scheduler.Init: %w", kerrors.ErrNullPointer)
	}

	for i := range s.tasks {
		s.tasks[i] = TCB{Next: -1, Prev: -1}
		s.used[i] = false
	}

	s.nextPid = 1
	s.currentIdx = -1
	s.readyHead = -1
	s.readyTail = -1
	s.ticks = 0
	s.cleanupCounter = 0
	s.terr = terr
	s.heap = heap
	s.contextSwitch = nil

	idleIdx, err := s.createLocked("idle", idleEntry, nil, PriorityIdle, defaultStackSize)
	if err != nil {
		return fmt.Errorf("sched.Scheduler.Init: creating idle task: %w", err)
	}

	s.tasks[idleIdx].State = StateRunning
	s.currentIdx = idleIdx
	s.removeFromReady(idleIdx)

	if err := interrupt.Register(timerIRQ, func(int) { s.Tick() }); err != nil {
		return fmt.Errorf("sched.Scheduler.Init: registering timer IRQ %d: %w", timerIRQ, err)
	}

	return nil
}

func idleEntry(any) {}

// SetContextSwitch installs the dispatch hook. Passing nil restores
// the no-op default.
func (s *Scheduler) SetContextSwitch(fn ContextSwitch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contextSwitch = fn
}

// CreateTask allocates a TCB, a frame for isolation identity, and a
// heap-backed stack, then enqueues the new task Ready (spec.md §4.3
// step-by-step task_create).
func (s *Scheduler) CreateTask(name string, entry TaskFunc, arg any, prio Priority, stackSize int) (Pid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.createLocked(name, entry, arg, prio, stackSize)
	if err != nil {
		return 0, err
	}

	return s.tasks[idx].Pid, nil
}

func (s *Scheduler) createLocked(name string, entry TaskFunc, arg any, prio Priority, stackSize int) (int, error) {
	if entry == nil {
		return -1, fmt.Errorf("sched.Scheduler.CreateTask: %w", kerrors.ErrNullPointer)
	}

	if stackSize <= 0 {
		stackSize = defaultStackSize
	}

	idx := -1

	for i := range s.used {
		if !s.used[i] {
			idx = i

			break
		}
	}

	if idx == -1 {
		return -1, fmt.Errorf("sched.Scheduler.CreateTask: %w", kerrors.ErrResourceExhausted)
	}

	frameAddr := uintptr(0)
	if s.terr != nil {
		frameAddr = s.terr.AllocFrame()
		if frameAddr == 0 {
			return -1, fmt.Errorf("sched.Scheduler.CreateTask: %w", kerrors.ErrOutOfMemory)
		}
	}

	stackHandle, err := s.heap.Alloc(stackSize)
	if err != nil {
		if s.terr != nil {
			if ferr := s.terr.FreeFrame(frameAddr); ferr != nil {
				klog.Warnf("sched.Scheduler.CreateTask: releasing frame after stack alloc failure: %v", ferr)
			}
		}

		return -1, fmt.Errorf("sched.Scheduler.CreateTask: allocating stack: %w", err)
	}

	stackBytes, err := s.heap.Payload(stackHandle)
	if err != nil {
		return -1, fmt.Errorf("sched.Scheduler.CreateTask: %w", err)
	}

	stackBase := uintptr(0)
	stackTop := stackBase + uintptr(len(stackBytes))

	pid := s.nextPid
	s.nextPid++

	parent := Pid(0)
	if s.currentIdx >= 0 {
		parent = s.tasks[s.currentIdx].Pid
	}

	s.tasks[idx] = TCB{
		Pid:           pid,
		Name:          truncateName(name),
		State:         StateReady,
		Priority:      prio,
		TimeSlice:     defaultTimeSlice,
		FrameAddr:     frameAddr,
		StackHandle:   stackHandle,
		StackBase:     stackBase,
		StackTop:      stackTop,
		StackSize:     len(stackBytes),
		ParentPid:     parent,
		CreatedTick:   s.ticks,
		LastScheduled: 0,
		WakeAt:        0,
		Entry:         entry,
		Arg:           arg,
		Next:          -1,
		Prev:          -1,
		Context: Context{
			InstructionPointer: entryAddr(entry),
			StackPointer:       stackTop - 2*unsafeWordSize,
			Flags:              flagsInterruptsEnabled,
			CodeSegment:        0x08,
			DataSegment:        0x10,
		},
	}
	s.used[idx] = true

	s.enqueueReady(idx)

	return idx, nil
}

// entryAddr stands in for taking an assembly-visible function pointer
// to entry; Go gives us no portable numeric address for a func value,
// so this is a documented placeholder rather than a real code address.
const unsafeWordSize = 4

func entryAddr(TaskFunc) uintptr { return 0 }

// ---- Ready queue (intrusive doubly linked list over task indices) ----

func (s *Scheduler) enqueueReady(idx int) {
	s.tasks[idx].State = StateReady
	s.tasks[idx].Next = -1
	s.tasks[idx].Prev = s.readyTail

	if s.readyTail != -1 {
		s.tasks[s.readyTail].Next = idx
	} else {
		s.readyHead = idx
	}

	s.readyTail = idx
}

func (s *Scheduler) removeFromReady(idx int) {
	t := &s.tasks[idx]

	if t.Prev != -1 {
		s.tasks[t.Prev].Next = t.Next
	} else if s.readyHead == idx {
		s.readyHead = t.Next
	}

	if t.Next != -1 {
		s.tasks[t.Next].Prev = t.Prev
	} else if s.readyTail == idx {
		s.readyTail = t.Prev
	}

	t.Next = -1
	t.Prev = -1
}

// pickNext scans the Ready queue for the highest-priority task,
// breaking ties by queue order (earliest-enqueued wins), which is how
// round-robin fairness among equal priorities falls out.
func (s *Scheduler) pickNext() int {
	best := -1

	for idx := s.readyHead; idx != -1; idx = s.tasks[idx].Next {
		if best == -1 || s.tasks[idx].Priority > s.tasks[best].Priority {
			best = idx
		}
	}

	return best
}

// Tick is the timer IRQ handler: advance the global tick counter,
// decrement the running task's slice, and on expiry run a schedule
// step. Also runs the periodic terminated-task reap.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++

	if s.currentIdx != -1 && s.tasks[s.currentIdx].State == StateRunning {
		s.tasks[s.currentIdx].Runtime++
		s.tasks[s.currentIdx].TimeSlice--

		if s.tasks[s.currentIdx].TimeSlice <= 0 {
			s.scheduleStepLocked()
		}
	}

	s.cleanupCounter++
	if s.cleanupCounter >= cleanupIntervalTicks {
		s.cleanupCounter = 0
		s.reapLocked()
	}
}

// Yield voluntarily gives up the remainder of the current task's
// slice.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduleStepLocked()
}

// Sleep blocks the current task for at least ms milliseconds,
// converted to ticks at TickRateHz (rounding up so a 1ms sleep still
// costs at least one tick).
func (s *Scheduler) Sleep(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIdx == -1 {
		return
	}

	ticksToSleep := (ms*TickRateHz + 999) / 1000
	if ticksToSleep < 1 {
		ticksToSleep = 1
	}

	cur := &s.tasks[s.currentIdx]
	cur.State = StateBlocked
	cur.WakeAt = s.ticks + uint64(ticksToSleep)

	s.scheduleStepLocked()
}

// Exit marks the current task Terminated and records its exit code;
// its TCB is reclaimed by the next reap pass rather than immediately,
// so a parent can still observe the exit code in the interim.
func (s *Scheduler) Exit(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIdx == -1 {
		return
	}

	cur := &s.tasks[s.currentIdx]
	cur.State = StateTerminated
	cur.ExitCode = code

	s.scheduleStepLocked()
}

// scheduleStepLocked is the heart of the dispatcher (spec.md §4.3):
//  1. wake any Blocked task whose WakeAt has passed
//  2. if the current task is still Running, demote it to Ready and
//     requeue it (round robin)
//  3. pick the highest-priority Ready task (falling back to idle)
//  4. invoke the context-switch hook
func (s *Scheduler) scheduleStepLocked() {
	s.wakeSleepersLocked()

	prevIdx := s.currentIdx

	if prevIdx != -1 && s.tasks[prevIdx].State == StateRunning {
		s.tasks[prevIdx].TimeSlice = defaultTimeSlice
		s.enqueueReady(prevIdx)
	}

	nextIdx := s.pickNext()
	if nextIdx == -1 {
		nextIdx = s.idleIdxLocked()
	}

	s.removeFromReady(nextIdx)
	s.tasks[nextIdx].State = StateRunning
	s.tasks[nextIdx].LastScheduled = s.ticks
	s.tasks[nextIdx].TimeSlice = defaultTimeSlice

	hal.WithInterruptsDisabled(func() {
		s.currentIdx = nextIdx

		if s.contextSwitch != nil {
			var prev *TCB
			if prevIdx != -1 {
				prev = &s.tasks[prevIdx]
			}

			s.contextSwitch(prev, &s.tasks[nextIdx])
		}
	})
}

func (s *Scheduler) idleIdxLocked() int {
	for i := range s.used {
		if s.used[i] && s.tasks[i].Pid == idlePid {
			return i
		}
	}

	return s.currentIdx
}

func (s *Scheduler) wakeSleepersLocked() {
	for i := range s.used {
		if !s.used[i] {
			continue
		}

		t := &s.tasks[i]
		if t.State == StateBlocked && t.WakeAt <= s.ticks {
			t.WakeAt = 0
			s.enqueueReady(i)
		}
	}
}

// reapLocked releases the TCB, frame, and stack of every Terminated
// task that isn't the currently running one.
func (s *Scheduler) reapLocked() {
	for i := range s.used {
		if !s.used[i] || i == s.currentIdx {
			continue
		}

		t := &s.tasks[i]
		if t.State != StateTerminated {
			continue
		}

		if s.terr != nil && t.FrameAddr != 0 {
			if err := s.terr.FreeFrame(t.FrameAddr); err != nil {
				klog.Warnf("sched.Scheduler: reap: freeing frame for pid %d: %v", t.Pid, err)
			}
		}

		if err := s.heap.Free(t.StackHandle); err != nil {
			klog.Warnf("sched.Scheduler: reap: freeing stack for pid %d: %v", t.Pid, err)
		}

		s.used[i] = false
		s.tasks[i] = TCB{Next: -1, Prev: -1}
	}
}

// Cleanup runs the reap pass on demand, for callers that don't want to
// wait for the periodic tick-driven sweep.
func (s *Scheduler) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
}

// Current returns a copy of the currently running task's TCB.
func (s *Scheduler) Current() (TCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIdx == -1 {
		return TCB{}, fmt.Errorf("sched.Scheduler.Current: %w", kerrors.ErrInvalidState)
	}

	return s.tasks[s.currentIdx], nil
}

// Lookup returns a copy of the TCB owning pid.
func (s *Scheduler) Lookup(pid Pid) (TCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.used {
		if s.used[i] && s.tasks[i].Pid == pid {
			return s.tasks[i], nil
		}
	}

	return TCB{}, fmt.Errorf("sched.Scheduler.Lookup(%d): %w", pid, kerrors.ErrInvalidHandle)
}

// Ticks returns the scheduler's own tick counter.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ticks
}
