package hal_test

import (
	"errors"
	"testing"

	"github.com/kedarmahale/minikernel/hal"
	"github.com/kedarmahale/minikernel/hal/x86"
	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/multiboot"
)

func resetHAL(t *testing.T) {
	t.Helper()

	if hal.Initialized() {
		if err := hal.Shutdown(); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
}

func backends() map[hal.Arch]hal.BackendRegistrar {
	return map[hal.Arch]hal.BackendRegistrar{
		hal.ArchX86_32: x86.Register,
	}
}

func TestAccessorsBeforeInitFail(t *testing.T) {
	t.Parallel()

	if _, err := hal.CPU(); !errors.Is(err, kerrors.ErrNotInitialized) {
		t.Fatalf("CPU() before init: got %v, want ErrNotInitialized", err)
	}
}

func TestInitThenAccessors(t *testing.T) {
	resetHAL(t)
	defer resetHAL(t)

	if err := hal.Init(nil, backends()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if !hal.Initialized() {
		t.Fatal("Initialized() = false after Init")
	}

	if hal.DetectedArch() != hal.ArchX86_32 {
		t.Fatalf("DetectedArch() = %v, want x86_32", hal.DetectedArch())
	}

	cpu, err := hal.CPU()
	if err != nil {
		t.Fatalf("CPU(): %v", err)
	}

	if cpu.Arch() != hal.ArchX86_32 {
		t.Fatalf("cpu.Arch() = %v", cpu.Arch())
	}
}

func TestDoubleInitFails(t *testing.T) {
	resetHAL(t)
	defer resetHAL(t)

	if err := hal.Init(nil, backends()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := hal.Init(nil, backends()); !errors.Is(err, kerrors.ErrAlreadyInitialized) {
		t.Fatalf("second Init: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestNoBackendForArch(t *testing.T) {
	resetHAL(t)
	defer resetHAL(t)

	if err := hal.Init(nil, map[hal.Arch]hal.BackendRegistrar{}); !errors.Is(err, kerrors.ErrDeviceNotFound) {
		t.Fatalf("Init with no backends: got %v, want ErrDeviceNotFound", err)
	}
}

func TestMemoryMapAvailability(t *testing.T) {
	resetHAL(t)
	defer resetHAL(t)

	if err := hal.Init(nil, backends()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if hal.MemoryMapAvailable() {
		t.Fatal("MemoryMapAvailable() = true with nil info")
	}
}

func TestMemoryMapAvailableWithInfo(t *testing.T) {
	resetHAL(t)
	defer resetHAL(t)

	mmap := encodeOneEntry(t, 0x100000, 31*1024*1024, multiboot.TypeAvailable)
	info := &multiboot.Info{
		Flags:      1 << 6,
		MmapAddr:   0x1000,
		MmapLength: uint32(len(mmap)),
		MmapData:   mmap,
	}

	if err := hal.Init(info, backends()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if !hal.MemoryMapAvailable() {
		t.Fatal("MemoryMapAvailable() = false with valid info")
	}

	mem, err := hal.Memory()
	if err != nil {
		t.Fatalf("Memory(): %v", err)
	}

	if mem.TotalBytes() != 31*1024*1024 {
		t.Fatalf("TotalBytes() = %d, want %d", mem.TotalBytes(), 31*1024*1024)
	}
}

func TestRegisterRejectsArchMismatch(t *testing.T) {
	resetHAL(t)
	defer resetHAL(t)

	if err := hal.Init(nil, backends()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	bad := &hal.CapabilitySet{Arch: hal.ArchARM64}
	if err := hal.Register(bad); !errors.Is(err, kerrors.ErrInvalidParameter) {
		t.Fatalf("Register with mismatched arch: got %v, want ErrInvalidParameter", err)
	}
}

func TestWithInterruptsDisabledRestoresState(t *testing.T) {
	resetHAL(t)
	defer resetHAL(t)

	if err := hal.Init(nil, backends()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	cpu, _ := hal.CPU()
	cpu.EnableInterrupts()

	ran := false
	hal.WithInterruptsDisabled(func() {
		ran = true

		if cpu.InterruptsEnabled() {
			t.Fatal("interrupts still enabled inside critical section")
		}
	})

	if !ran {
		t.Fatal("WithInterruptsDisabled did not run fn")
	}

	if !cpu.InterruptsEnabled() {
		t.Fatal("interrupts not restored after critical section")
	}
}

// encodeOneEntry builds a one-entry raw memory map blob, little-endian,
// matching spec.md §6's (size,base,length,type) layout.
func encodeOneEntry(t *testing.T, base, length uint64, typ uint32) []byte {
	t.Helper()

	buf := make([]byte, 4+20)
	le32(buf[0:4], 20)
	le64(buf[4:12], base)
	le64(buf[12:20], length)
	le32(buf[20:24], typ)

	return buf
}

func le32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func le64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
