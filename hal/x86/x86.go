// Package x86 is the x86_32 HAL backend: a software model of the GDT,
// IDT, 8259 PIC pair, 8253 PIT, and port I/O space. The boot-stage
// assembly trampolines that would really load these structures into
// the CPU are out of scope (spec.md §1); this package is everything
// the core calls by name once that loading has (notionally) happened.
package x86

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/hal"
	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/klog"
	"github.com/kedarmahale/minikernel/multiboot"
)

// Segment descriptor indices, flat 4 GiB spans (spec.md §4.1).
const (
	gdtNull = iota
	gdtKernelCode
	gdtKernelData
	gdtUserCode
	gdtUserData
	gdtEntries
)

// PIC ports and remap offsets.
const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	picMasterOffset = 32
	picSlaveOffset  = 40

	picEOI = 0x20

	icwInit = 0x10
	icwICW4 = 0x01
)

// PIT ports.
const (
	pitChannel0 = 0x40
	pitCommand  = 0x43

	pitBaseFrequency = 1193180
	pitMinDivisor    = 1
	pitMaxDivisor    = 65535
)

// PS/2 ports, kept here (rather than in kbd) because they are raw
// hardware ports the IO capability mediates; kbd only ever calls
// through hal.IO().
const (
	PS2DataPort   = 0x60
	PS2StatusPort = 0x64
)

type gdtDescriptor struct {
	base, limit uint32
	access      uint8
}

type idtGate struct {
	present bool
	isIRQ   bool
	vector  int
}

type backend struct {
	mu sync.Mutex

	gdt [gdtEntries]gdtDescriptor
	idt [256]idtGate

	picMasterMask uint8
	picSlaveMask  uint8
	picInitStage  int // how many ICW bytes consumed per controller, for realism

	pitDivisor uint16
	pitHz      int
	ticks      uint64

	interruptsEnabled bool
	handlers          map[int]hal.InterruptHandler

	ports [65536]uint32 // generic backing store for ports without dedicated behavior

	totalBytes uint64
	highestEnd uint64
	kernelEnd  uintptr
}

// KernelEnd is a fixed link-time constant standing in for the real
// linker-provided kernel image end symbol (spec.md example, §8
// scenario B: kernel_end = 0x150000).
const KernelEnd uintptr = 0x150000

func newBackend(info *multiboot.Info) *backend {
	b := &backend{
		interruptsEnabled: false,
		handlers:          make(map[int]hal.InterruptHandler),
		kernelEnd:         KernelEnd,
	}

	if info.HasMemoryMap() {
		if res, err := multiboot.ParseMemoryMap(info); err == nil {
			b.totalBytes = res.TotalBytes
			b.highestEnd = res.HighestEnd
		} else {
			klog.Warnf("x86: memory map present but unparsable: %v", err)
		}
	}

	b.initGDT()
	b.initIDT()
	b.initPIC()

	return b
}

func (b *backend) initGDT() {
	b.gdt[gdtNull] = gdtDescriptor{}
	b.gdt[gdtKernelCode] = gdtDescriptor{base: 0, limit: 0xFFFFFFFF, access: 0x9A}
	b.gdt[gdtKernelData] = gdtDescriptor{base: 0, limit: 0xFFFFFFFF, access: 0x92}
	b.gdt[gdtUserCode] = gdtDescriptor{base: 0, limit: 0xFFFFFFFF, access: 0xFA}
	b.gdt[gdtUserData] = gdtDescriptor{base: 0, limit: 0xFFFFFFFF, access: 0xF2}
}

func (b *backend) initIDT() {
	for v := 0; v < 32; v++ {
		b.idt[v] = idtGate{present: true, isIRQ: false, vector: v}
	}

	for v := 32; v < 48; v++ {
		b.idt[v] = idtGate{present: true, isIRQ: true, vector: v}
	}
}

func (b *backend) initPIC() {
	// ICW sequence: init+icw4, vector-offset, cascade, 8086 mode.
	// All IRQs masked initially.
	b.picMasterMask = 0xFF
	b.picSlaveMask = 0xFF
	b.picInitStage = 4
}

// Register builds the CapabilitySet for this backend. It satisfies
// hal.BackendRegistrar.
func Register(info *multiboot.Info) (*hal.CapabilitySet, error) {
	b := newBackend(info)

	ops := &hal.CapabilitySet{
		Arch: hal.ArchX86_32,
		CPU: &hal.CPUOps{
			DisableInterrupts: b.disableInterrupts,
			EnableInterrupts:  b.enableInterrupts,
			InterruptsEnabled: b.interruptsEnabledFn,
			Halt:              b.halt,
			Arch:              func() hal.Arch { return hal.ArchX86_32 },
		},
		Memory: &hal.MemoryOps{
			TotalBytes: b.totalBytesFn,
			HighestEnd: b.highestEndFn,
			KernelEnd:  b.kernelEndFn,
		},
		Interrupt: &hal.InterruptOps{
			Register: b.registerHandler,
			Mask:     b.maskIRQ,
			Unmask:   b.unmaskIRQ,
			AckIRQ:   b.ackIRQ,
		},
		Timer: &hal.TimerOps{
			Configure: b.configureTimer,
			Ticks:     b.ticksFn,
			Tick:      b.Tick,
		},
		IO: &hal.IOOps{
			Inb:  b.inb,
			Inw:  b.inw,
			Inl:  b.inl,
			Outb: b.outb,
			Outw: b.outw,
			Outl: b.outl,
		},
		Debug: &hal.DebugOps{
			Print:         b.print,
			DumpException: b.dumpException,
			SelfTest:      b.selfTest,
		},
		Init: func() error { return nil },
		Shutdown: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.handlers = make(map[int]hal.InterruptHandler)
		},
	}

	return ops, nil
}

func (b *backend) disableInterrupts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interruptsEnabled = false
}

func (b *backend) enableInterrupts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interruptsEnabled = true
}

func (b *backend) interruptsEnabledFn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.interruptsEnabled
}

func (b *backend) halt() {
	// A real halt instruction stops the CPU until the next interrupt.
	// There is no CPU to stop here; this is the point a scheduler's
	// idle loop or kbd.WaitForKey calls through, so it is a no-op that
	// exists purely so the capability is present and callable.
}

func (b *backend) totalBytesFn() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.totalBytes
}

func (b *backend) highestEndFn() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.highestEnd
}

func (b *backend) kernelEndFn() uintptr {
	return b.kernelEnd
}

func (b *backend) registerHandler(irq int, h hal.InterruptHandler) error {
	if irq < 0 || irq > 15 {
		return fmt.Errorf("x86: irq %d out of range: %w", irq, kerrors.ErrInvalidParameter)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[irq]; exists {
		klog.Warnf("x86: overwriting existing handler for irq %d", irq)
	}

	b.handlers[irq] = h

	return nil
}

func (b *backend) maskIRQ(irq int) error {
	return b.setMask(irq, true)
}

func (b *backend) unmaskIRQ(irq int) error {
	return b.setMask(irq, false)
}

func (b *backend) setMask(irq int, masked bool) error {
	if irq < 0 || irq > 15 {
		return fmt.Errorf("x86: irq %d out of range: %w", irq, kerrors.ErrInvalidParameter)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var bit uint8 = 1 << uint(irq%8)

	if irq < 8 {
		if masked {
			b.picMasterMask |= bit
		} else {
			b.picMasterMask &^= bit
		}
	} else {
		if masked {
			b.picSlaveMask |= bit
		} else {
			b.picSlaveMask &^= bit
		}
	}

	return nil
}

// ackIRQ sends EOI to the master, and additionally to the slave if
// irq>=8, per spec.md §4.1.
func (b *backend) ackIRQ(irq int) error {
	if irq < 0 || irq > 15 {
		return fmt.Errorf("x86: irq %d out of range: %w", irq, kerrors.ErrInvalidParameter)
	}
	// In the real backend this writes picEOI to picMasterCommand (and
	// picSlaveCommand if irq>=8). There is no hardware controller here
	// to observe the write, so the effect is recorded only via the
	// ports array for introspection/tests.
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ports[picMasterCommand] = picEOI

	if irq >= 8 {
		b.ports[picSlaveCommand] = picEOI
	}

	return nil
}

// configureTimer programs the PIT on channel 0, mode 3, binary, with
// divisor = 1_193_180/hz clamped into [1,65535]. If clamping changed
// the divisor, the actual achieved frequency is recomputed and
// returned (spec.md §4.1).
func (b *backend) configureTimer(hz int) (int, error) {
	if hz <= 0 {
		return 0, fmt.Errorf("x86: timer hz %d: %w", hz, kerrors.ErrInvalidParameter)
	}

	divisor := pitBaseFrequency / hz

	clamped := divisor
	if clamped < pitMinDivisor {
		clamped = pitMinDivisor
	}

	if clamped > pitMaxDivisor {
		clamped = pitMaxDivisor
	}

	actualHz := hz
	if clamped != divisor {
		actualHz = pitBaseFrequency / clamped
	}

	b.mu.Lock()
	b.pitDivisor = uint16(clamped)
	b.pitHz = actualHz
	b.mu.Unlock()

	return actualHz, nil
}

func (b *backend) ticksFn() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ticks
}

// Tick advances the monotonic tick counter and, if IRQ0 has a
// registered handler, delivers it -- modeling the timer IRQ firing.
// Exposed so the scheduler's test harness (and kernel.Kernel's driving
// loop, standing in for the absent real timer interrupt) can pump
// time forward deterministically.
func (b *backend) Tick() {
	b.mu.Lock()
	b.ticks++
	b.mu.Unlock()

	b.Deliver(0)
}

// Deliver simulates the common interrupt dispatcher for IRQ vectors
// (32..47): looks up irq = vector-32's handler and invokes it, then
// issues EOI. Vectors below 32 (CPU exceptions) are not deliverable
// this way -- RaiseException is used instead.
func (b *backend) Deliver(irq int) {
	b.mu.Lock()
	h, ok := b.handlers[irq]
	b.mu.Unlock()

	if !ok {
		klog.Debugf("x86: unhandled irq %d", irq)

		return
	}

	h(irq)

	if err := b.ackIRQ(irq); err != nil {
		klog.Warnf("x86: ackIRQ(%d): %v", irq, err)
	}
}

// RaiseException simulates a CPU-exception vector (0..31) arriving at
// the common dispatcher: it reports the named exception and halts,
// per spec.md §4.1.
func (b *backend) RaiseException(vector int, ip uintptr, code []byte) {
	msg := b.dumpException(vector, ip, code)
	hal.EmergencyHalt(msg)
}

func (b *backend) print(s string) {
	klog.Infof("x86 debug: %s", s)
}

func (b *backend) selfTest() error {
	// A minimal, non-fatal smoke test: confirm the IDT has the expected
	// vector split and the PIC starts fully masked.
	if !b.idt[0].present || b.idt[0].isIRQ {
		return fmt.Errorf("x86 self-test: vector 0 misconfigured: %w", kerrors.ErrHardwareFailure)
	}

	if !b.idt[32].present || !b.idt[32].isIRQ {
		return fmt.Errorf("x86 self-test: vector 32 misconfigured: %w", kerrors.ErrHardwareFailure)
	}

	if b.picMasterMask != 0xFF || b.picSlaveMask != 0xFF {
		return fmt.Errorf("x86 self-test: PIC not fully masked at init: %w", kerrors.ErrHardwareFailure)
	}

	return nil
}
