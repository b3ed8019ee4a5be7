// Package arm64 is a stub HAL backend demonstrating the capability
// table's architecture polymorphism (spec.md §4.1, §9): its port I/O
// primitives return zero / ignore writes, since ARM64 has no ISA port
// space, and everything else is the minimum needed to satisfy
// hal.Register's validation.
package arm64

import (
	"github.com/kedarmahale/minikernel/hal"
	"github.com/kedarmahale/minikernel/multiboot"
)

type backend struct {
	interruptsEnabled bool
	handlers          map[int]hal.InterruptHandler
	ticks             uint64
	totalBytes        uint64
	highestEnd        uint64
}

// Register satisfies hal.BackendRegistrar for ArchARM64.
func Register(info *multiboot.Info) (*hal.CapabilitySet, error) {
	b := &backend{handlers: make(map[int]hal.InterruptHandler)}

	if info.HasMemoryMap() {
		if res, err := multiboot.ParseMemoryMap(info); err == nil {
			b.totalBytes = res.TotalBytes
			b.highestEnd = res.HighestEnd
		}
	}

	return &hal.CapabilitySet{
		Arch: hal.ArchARM64,
		CPU: &hal.CPUOps{
			DisableInterrupts: func() { b.interruptsEnabled = false },
			EnableInterrupts:  func() { b.interruptsEnabled = true },
			InterruptsEnabled: func() bool { return b.interruptsEnabled },
			Halt:              func() {},
			Arch:              func() hal.Arch { return hal.ArchARM64 },
		},
		Memory: &hal.MemoryOps{
			TotalBytes: func() uint64 { return b.totalBytes },
			HighestEnd: func() uint64 { return b.highestEnd },
			KernelEnd:  func() uintptr { return 0 },
		},
		Interrupt: &hal.InterruptOps{
			Register: func(irq int, h hal.InterruptHandler) error { b.handlers[irq] = h; return nil },
			Mask:     func(irq int) error { return nil },
			Unmask:   func(irq int) error { return nil },
			AckIRQ:   func(irq int) error { return nil },
		},
		Timer: &hal.TimerOps{
			Configure: func(hz int) (int, error) { return hz, nil },
			Ticks:     func() uint64 { return b.ticks },
			Tick: func() {
				b.ticks++

				if h, ok := b.handlers[0]; ok {
					h(0)
				}
			},
		},
		IO: &hal.IOOps{
			// ARM64 has no port-mapped I/O; per spec.md §4.1 these
			// stubs return zero and ignore writes.
			Inb:  func(uint16) uint8 { return 0 },
			Inw:  func(uint16) uint16 { return 0 },
			Inl:  func(uint16) uint32 { return 0 },
			Outb: func(uint16, uint8) {},
			Outw: func(uint16, uint16) {},
			Outl: func(uint16, uint32) {},
		},
		Debug: &hal.DebugOps{
			Print:         func(string) {},
			DumpException: func(int, uintptr, []byte) string { return "" },
			SelfTest:      func() error { return nil },
		},
		Init:     func() error { return nil },
		Shutdown: func() {},
	}, nil
}
