// Package hal is the kernel's hardware abstraction layer: a capability
// set installed exactly once at boot, then read by every higher layer.
// It names no architecture-specific instruction itself -- that lives in
// the backend packages (hal/x86, hal/arm64) which register against it.
package hal

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/klog"
	"github.com/kedarmahale/minikernel/multiboot"
)

// Arch is the tagged architecture identifier, chosen once at init and
// invariant thereafter.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_32
	ArchX86_64
	ArchARM64
	ArchRISCV64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_32:
		return "x86_32"
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "arm64"
	case ArchRISCV64:
		return "riscv64"
	default:
		return "unknown"
	}
}

// CPUOps is the CPU-control subtable: interrupt masking, halt, and the
// critical-section primitive every higher layer uses to protect state
// also touched from IRQ context (spec.md §5).
type CPUOps struct {
	DisableInterrupts func()
	EnableInterrupts  func()
	InterruptsEnabled func() bool
	Halt              func()
	Arch              func() Arch
}

// MemoryOps is the memory-detection subtable: everything the memory
// manager needs from the boot-provided machine description.
type MemoryOps struct {
	// TotalBytes and HighestEnd are filled in from the parsed Multiboot
	// memory map (package multiboot). KernelEnd is the backend's own
	// image end, used by mm.Territory to compute its reserved prefix.
	TotalBytes func() uint64
	HighestEnd func() uint64
	KernelEnd  func() uintptr
}

// InterruptHandler is invoked by the common dispatcher for a delivered
// IRQ. irq is already translated from the raw vector (vector-32).
type InterruptHandler func(irq int)

// InterruptOps is the interrupt-control subtable: registration and
// acknowledgement. Only one handler per IRQ is permitted; re-registering
// overwrites with a warning (spec.md §4.1).
type InterruptOps struct {
	Register func(irq int, h InterruptHandler) error
	Unmask   func(irq int) error
	Mask     func(irq int) error
	AckIRQ   func(irq int) error
}

// TimerOps is the PIT-shaped timer subtable.
type TimerOps struct {
	// Configure programs the timer for the given frequency and returns
	// the frequency actually achieved after divisor clamping.
	Configure func(hz int) (actualHz int, err error)
	Ticks     func() uint64

	// Tick pumps the timer forward by one period and delivers IRQ 0 to
	// whatever handler is registered for it, standing in for the PIT's
	// own periodic interrupt (spec.md §4.3's "registers scheduler_tick
	// as the timer-IRQ callback").
	Tick func()
}

// IOOps is the six port-I/O primitives; the only exposed path to raw
// ports (spec.md §4.1). Non-x86 backends must provide stubs that
// return zero / ignore writes.
type IOOps struct {
	Inb  func(port uint16) uint8
	Inw  func(port uint16) uint16
	Inl  func(port uint16) uint32
	Outb func(port uint16, v uint8)
	Outw func(port uint16, v uint16)
	Outl func(port uint16, v uint32)
}

// DebugOps is the debug/diagnostic subtable.
type DebugOps struct {
	Print           func(s string)
	DumpException   func(vector int, ip uintptr, code []byte) string
	SelfTest        func() error
}

// CapabilitySet is the grouped collection of operation tables a backend
// registers. Arch must match the architecture hal detected; every
// required subtable and function pointer must be non-nil.
type CapabilitySet struct {
	Arch      Arch
	CPU       *CPUOps
	Memory    *MemoryOps
	Interrupt *InterruptOps
	Timer     *TimerOps
	IO        *IOOps
	Debug     *DebugOps

	// Init and Shutdown are the backend's own lifecycle hooks, invoked
	// by hal.Init/hal.Shutdown after/before installation.
	Init     func() error
	Shutdown func()
}

// BackendRegistrar builds and returns a CapabilitySet, which hal.Init
// then validates and installs. Concrete backends (hal/x86.Register,
// hal/arm64.Register) implement this signature. info is whatever Multiboot info hal.Init received
// (possibly nil, in which case the backend's Memory capability must
// report zero totals -- recovery mode, spec.md §6).
type BackendRegistrar func(info *multiboot.Info) (*CapabilitySet, error)

var (
	mu                sync.Mutex
	initialized       bool
	active            *CapabilitySet
	detected          Arch
	memoryMapAvailable bool
)

// DetectArch runs the compile-time predicate (build-tag-selected file
// per backend) and falls back to ArchUnknown. Overridable in tests.
var DetectArch = detectArchDefault

func detectArchDefault() Arch {
	return archFromBuildTags()
}

// Init detects the architecture, selects & invokes the backend
// registration routine, runs the backend's own init, optionally runs
// its self-test (non-fatal), and marks hal initialized. Fails if
// already initialized, architecture is unknown, no backend is
// available, or a required operation pointer is absent.
func Init(info *multiboot.Info, registrars map[Arch]BackendRegistrar) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return fmt.Errorf("hal.Init: %w", kerrors.ErrAlreadyInitialized)
	}

	detected = DetectArch()
	if detected == ArchUnknown {
		return fmt.Errorf("hal.Init: architecture detection failed: %w", kerrors.ErrInitializationFailed)
	}

	registrar, ok := registrars[detected]
	if !ok {
		return fmt.Errorf("hal.Init: no backend for %s: %w", detected, kerrors.ErrDeviceNotFound)
	}

	ops, err := registrar(info)
	if err != nil {
		return fmt.Errorf("hal.Init: backend registration: %w", err)
	}

	if err := validate(ops, detected); err != nil {
		return fmt.Errorf("hal.Init: %w", err)
	}

	if ops.Init != nil {
		if err := ops.Init(); err != nil {
			return fmt.Errorf("hal.Init: backend init: %w", err)
		}
	}

	if ops.Debug != nil && ops.Debug.SelfTest != nil {
		if err := ops.Debug.SelfTest(); err != nil {
			klog.Warnf("hal: backend self-test failed (non-fatal): %v", err)
		}
	}

	active = ops
	initialized = true
	memoryMapAvailable = info.HasMemoryMap()

	return nil
}

// MemoryMapAvailable reports whether the Multiboot info passed to Init
// announced a usable memory map. When false, the caller (normally
// kernel.Init) is responsible for spec.md §6's recovery-mode halt --
// HAL itself stays usable so diagnostics can still be printed.
func MemoryMapAvailable() bool {
	mu.Lock()
	defer mu.Unlock()

	return memoryMapAvailable
}

// Register validates ops in isolation -- used directly by tests and by
// backends that want to pre-validate before Init calls it again.
func Register(ops *CapabilitySet) error {
	mu.Lock()
	arch := detected
	mu.Unlock()

	return validate(ops, arch)
}

func validate(ops *CapabilitySet, arch Arch) error {
	if ops == nil {
		return fmt.Errorf("nil capability set: %w", kerrors.ErrInvalidParameter)
	}

	if arch != ArchUnknown && ops.Arch != arch {
		return fmt.Errorf("capability set arch %s does not match detected arch %s: %w",
			ops.Arch, arch, kerrors.ErrInvalidParameter)
	}

	if ops.CPU == nil || ops.Memory == nil || ops.Interrupt == nil ||
		ops.Timer == nil || ops.IO == nil || ops.Debug == nil {
		return fmt.Errorf("missing capability subtable: %w", kerrors.ErrInvalidParameter)
	}

	required := []any{
		ops.CPU.DisableInterrupts, ops.CPU.EnableInterrupts, ops.CPU.InterruptsEnabled,
		ops.CPU.Halt, ops.CPU.Arch,
		ops.Memory.TotalBytes, ops.Memory.HighestEnd, ops.Memory.KernelEnd,
		ops.Interrupt.Register, ops.Interrupt.Unmask, ops.Interrupt.Mask, ops.Interrupt.AckIRQ,
		ops.Timer.Configure, ops.Timer.Ticks, ops.Timer.Tick,
		ops.IO.Inb, ops.IO.Inw, ops.IO.Inl, ops.IO.Outb, ops.IO.Outw, ops.IO.Outl,
		ops.Debug.Print, ops.Debug.DumpException,
	}

	for _, fn := range required {
		if fn == nil || isNilFunc(fn) {
			return fmt.Errorf("missing required operation: %w", kerrors.ErrInvalidParameter)
		}
	}

	return nil
}

// isNilFunc exists because typed nil function values compare != nil to
// the untyped nil literal when boxed in an any, but should still be
// rejected.
func isNilFunc(fn any) bool {
	switch f := fn.(type) {
	case func():
		return f == nil
	case func() bool:
		return f == nil
	case func() Arch:
		return f == nil
	case func() uint64:
		return f == nil
	case func() uintptr:
		return f == nil
	case func(int, InterruptHandler) error:
		return f == nil
	case func(int) error:
		return f == nil
	case func(int) (int, error):
		return f == nil
	case func(uint16) uint8:
		return f == nil
	case func(uint16) uint16:
		return f == nil
	case func(uint16) uint32:
		return f == nil
	case func(uint16, uint8):
		return f == nil
	case func(uint16, uint16):
		return f == nil
	case func(uint16, uint32):
		return f == nil
	case func(string):
		return f == nil
	case func(int, uintptr, []byte) string:
		return f == nil
	case func() error:
		return f == nil
	default:
		return false
	}
}

// Shutdown reverses Init. Safe to call only when initialized.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return fmt.Errorf("hal.Shutdown: %w", kerrors.ErrNotInitialized)
	}

	if active.Shutdown != nil {
		active.Shutdown()
	}

	active = nil
	initialized = false

	return nil
}

func guard() error {
	if !initialized {
		return fmt.Errorf("hal: %w", kerrors.ErrNotInitialized)
	}

	return nil
}

// CPU, Memory, Interrupt, Timer, IO and Debug return the installed
// subtables. Calling any accessor before Init is a usage error.
func CPU() (*CPUOps, error) {
	if err := guard(); err != nil {
		return nil, err
	}

	return active.CPU, nil
}

func Memory() (*MemoryOps, error) {
	if err := guard(); err != nil {
		return nil, err
	}

	return active.Memory, nil
}

func Interrupt() (*InterruptOps, error) {
	if err := guard(); err != nil {
		return nil, err
	}

	return active.Interrupt, nil
}

func Timer() (*TimerOps, error) {
	if err := guard(); err != nil {
		return nil, err
	}

	return active.Timer, nil
}

func IO() (*IOOps, error) {
	if err := guard(); err != nil {
		return nil, err
	}

	return active.IO, nil
}

func Debug() (*DebugOps, error) {
	if err := guard(); err != nil {
		return nil, err
	}

	return active.Debug, nil
}

// Initialized reports whether hal.Init has completed successfully.
func Initialized() bool {
	mu.Lock()
	defer mu.Unlock()

	return initialized
}

// DetectedArch returns the architecture chosen during Init (or
// ArchUnknown before Init runs).
func DetectedArch() Arch {
	mu.Lock()
	defer mu.Unlock()

	return detected
}

// WithInterruptsDisabled runs fn with interrupts disabled, restoring the
// prior state on return. Used around the current-task pointer update
// and context switch invocation per spec.md §5.
func WithInterruptsDisabled(fn func()) {
	cpu, err := CPU()
	if err != nil {
		// Not initialized: nothing to disable, just run fn.
		fn()

		return
	}

	was := cpu.InterruptsEnabled()
	cpu.DisableInterrupts()

	defer func() {
		if was {
			cpu.EnableInterrupts()
		}
	}()

	fn()
}

// EmergencyHalt disables interrupts, prints reason via whatever debug
// channel is available, then loops halting. Never returns.
func EmergencyHalt(reason string) {
	if cpu, err := CPU(); err == nil {
		cpu.DisableInterrupts()
	}

	if dbg, err := Debug(); err == nil && dbg.Print != nil {
		dbg.Print("EMERGENCY HALT: " + reason)
	} else {
		klog.Fatalf("EMERGENCY HALT (no debug channel): %s", reason)
	}

	for {
		if cpu, err := CPU(); err == nil && cpu.Halt != nil {
			cpu.Halt()

			continue
		}

		break
	}
}

// Panic is EmergencyHalt under a kernel-panic banner.
func Panic(msg string) {
	EmergencyHalt("panic: " + msg)
}
