// Package kernel is the top-level orchestrator: it brings up the HAL,
// memory manager, scheduler, VFS and keyboard driver in the dependency
// order spec.md §2 describes, and drives the idle loop afterward.
// Mirrors the teacher's vmm.VMM (New/Init/Setup/Boot), pointed inward
// at this kernel's own subsystems instead of a guest machine.
package kernel

import (
	"errors"
	"fmt"

	"github.com/kedarmahale/minikernel/config"
	"github.com/kedarmahale/minikernel/hal"
	"github.com/kedarmahale/minikernel/hal/arm64"
	"github.com/kedarmahale/minikernel/hal/x86"
	"github.com/kedarmahale/minikernel/kbd"
	"github.com/kedarmahale/minikernel/klog"
	"github.com/kedarmahale/minikernel/mm"
	"github.com/kedarmahale/minikernel/multiboot"
	"github.com/kedarmahale/minikernel/sched"
	"github.com/kedarmahale/minikernel/vfs"
	"github.com/kedarmahale/minikernel/vfs/devfs"
	"github.com/kedarmahale/minikernel/vfs/ramfs"
)

// ErrRecoveryMode is returned by Run when Init found no memory map and
// therefore left memory management disabled (spec.md §6).
var ErrRecoveryMode = errors.New("kernel: recovery mode: no memory map")

// Kernel owns every subsystem instance and their wiring.
type Kernel struct {
	cfg *config.Config

	terr mm.Territory
	heap *mm.Heap

	sched sched.Scheduler
	vfs   *vfs.VFS
	kbd   kbd.Driver

	timer *hal.TimerOps

	recoveryMode bool
}

func backends() map[hal.Arch]hal.BackendRegistrar {
	return map[hal.Arch]hal.BackendRegistrar{
		hal.ArchX86_32: x86.Register,
		hal.ArchARM64:  arm64.Register,
	}
}

// New constructs a Kernel from parsed boot-time config.
func New(cfg *config.Config) *Kernel {
	return &Kernel{cfg: cfg}
}

// Init runs hal -> mm -> sched -> vfs(+ramfs+devfs) -> kbd, in that
// dependency order. If the boot loader announced no usable memory map,
// it stops after HAL and marks recoveryMode: memory management,
// scheduling, VFS and the keyboard driver all stay uninitialized, per
// spec.md §6's recovery-mode policy.
func (k *Kernel) Init(mbInfo *multiboot.Info) error {
	klog.SetLevel(k.cfg.LogLevel)

	if err := hal.Init(mbInfo, backends()); err != nil {
		return fmt.Errorf("kernel.Init: hal: %w", err)
	}

	if !hal.MemoryMapAvailable() {
		klog.Errorf("kernel: no memory map announced by boot loader, entering recovery mode")

		k.recoveryMode = true

		return nil
	}

	mem, err := hal.Memory()
	if err != nil {
		return fmt.Errorf("kernel.Init: %w", err)
	}

	if err := k.terr.Init(mem.TotalBytes(), mem.KernelEnd()); err != nil {
		return fmt.Errorf("kernel.Init: territory: %w", err)
	}

	k.heap = mm.NewHeap()

	interrupt, err := hal.Interrupt()
	if err != nil {
		return fmt.Errorf("kernel.Init: %w", err)
	}

	if err := k.sched.Init(&k.terr, k.heap, interrupt); err != nil {
		return fmt.Errorf("kernel.Init: sched: %w", err)
	}

	timer, err := hal.Timer()
	if err != nil {
		return fmt.Errorf("kernel.Init: %w", err)
	}

	if _, err := timer.Configure(sched.TickRateHz); err != nil {
		return fmt.Errorf("kernel.Init: timer: %w", err)
	}

	k.timer = timer

	k.vfs = vfs.New()
	k.vfs.SetStdio(&k.kbd, consoleWriter{k: k}, consoleWriter{k: k})

	if err := k.mountFilesystems(); err != nil {
		return fmt.Errorf("kernel.Init: %w", err)
	}

	kbdOps, err := kbdCapabilities()
	if err != nil {
		return fmt.Errorf("kernel.Init: %w", err)
	}

	if err := k.kbd.Init(kbdOps); err != nil {
		return fmt.Errorf("kernel.Init: kbd: %w", err)
	}

	klog.Infof("kernel: init complete")

	return nil
}

// RecoveryMode reports whether Init landed in spec.md §6's recovery
// path.
func (k *Kernel) RecoveryMode() bool { return k.recoveryMode }

// Scheduler, VFS and Keyboard expose the live subsystems to callers
// (tests, cmd/kernel) once Init has succeeded.
func (k *Kernel) Scheduler() *sched.Scheduler { return &k.sched }
func (k *Kernel) VFS() *vfs.VFS               { return k.vfs }
func (k *Kernel) Keyboard() *kbd.Driver       { return &k.kbd }

func (k *Kernel) mountFilesystems() error {
	ticker := func() uint64 { return k.sched.Ticks() }

	if err := k.vfs.Register(ramfs.NewDescriptor(ticker)); err != nil {
		return fmt.Errorf("registering ramfs: %w", err)
	}

	if err := k.vfs.Mount("", "/", "ramfs", 0); err != nil {
		return fmt.Errorf("mounting ramfs at /: %w", err)
	}

	opts := devfs.Options{
		Keyboard:  &k.kbd,
		Console:   consoleWriter{k: k},
		MountTick: k.sched.Ticks(),
	}

	if k.cfg.RandomSeed != 0 {
		opts.MountTick = uint64(k.cfg.RandomSeed)
	}

	if k.cfg.EnableSerial0 {
		opts.TTYS0 = devfs.NewSerial(nil)
	}

	if k.cfg.EnableSerial1 {
		opts.TTYS1 = devfs.NewSerial(nil)
	}

	if err := k.vfs.Register(devfs.NewDescriptor(opts)); err != nil {
		return fmt.Errorf("registering devfs: %w", err)
	}

	if err := k.vfs.Mount("", "/dev", "devfs", 0); err != nil {
		return fmt.Errorf("mounting devfs at /dev: %w", err)
	}

	return nil
}

// consoleWriter adapts the debug print capability to vfs.Writer so
// /dev/console and stdout/stderr all land on the same sink.
type consoleWriter struct{ k *Kernel }

func (c consoleWriter) Write(buf []byte) (int, error) {
	dbg, err := hal.Debug()
	if err != nil {
		return 0, err
	}

	dbg.Print(string(buf))

	return len(buf), nil
}

// kbdCapabilities assembles the narrow CapabilitySet kbd.Driver needs
// (CPU, Interrupt, IO) from HAL's individual accessors: HAL exposes
// those one subtable at a time rather than the whole installed set.
func kbdCapabilities() (*hal.CapabilitySet, error) {
	cpu, err := hal.CPU()
	if err != nil {
		return nil, err
	}

	interrupt, err := hal.Interrupt()
	if err != nil {
		return nil, err
	}

	io, err := hal.IO()
	if err != nil {
		return nil, err
	}

	return &hal.CapabilitySet{CPU: cpu, Interrupt: interrupt, IO: io}, nil
}

// Run drives the idle loop: each iteration pumps the timer capability
// forward, which delivers IRQ 0 to the scheduler's registered tick
// handler (spec.md §4.3) exactly as a real PIT interrupt would, then
// halts the CPU until the next one. It returns ErrRecoveryMode
// immediately if Init found no memory map, since spec.md §6 says the
// kernel simply halts in that case; the caller is expected to treat
// that as terminal.
func (k *Kernel) Run() error {
	if k.recoveryMode {
		return ErrRecoveryMode
	}

	cpu, err := hal.CPU()
	if err != nil {
		return fmt.Errorf("kernel.Run: %w", err)
	}

	for {
		k.timer.Tick()
		cpu.Halt()
	}
}
