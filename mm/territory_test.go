package mm_test

import (
	"errors"
	"testing"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/mm"
)

// TestFrameBitmapBounds is spec.md §8 scenario B.
func TestFrameBitmapBounds(t *testing.T) {
	t.Parallel()

	var terr mm.Territory

	const totalMemory = 32 * 1024 * 1024

	const kernelEnd = 0x150000

	if err := terr.Init(totalMemory, kernelEnd); err != nil {
		t.Fatalf("Init: %v", err)
	}

	first := terr.AllocFrame()
	if first == 0 {
		t.Fatal("first AllocFrame() returned 0")
	}

	bitmapEndAligned := (terr.BitmapEnd() + 4095) &^ 4095

	if first < bitmapEndAligned {
		t.Fatalf("first allocated frame %#x < bitmapEnd rounded up %#x", first, bitmapEndAligned)
	}

	var last uintptr

	for {
		addr := terr.AllocFrame()
		if addr == 0 {
			break
		}

		last = addr
	}

	if last == 0 {
		t.Fatal("never allocated a second frame before exhaustion")
	}

	if err := terr.FreeFrame(last); err != nil {
		t.Fatalf("FreeFrame(last): %v", err)
	}

	again := terr.AllocFrame()
	if again != last {
		t.Fatalf("AllocFrame() after freeing last = %#x, want %#x", again, last)
	}
}

func TestDoubleFreeIsSoftError(t *testing.T) {
	t.Parallel()

	var terr mm.Territory
	if err := terr.Init(16*1024*1024, 0x100000); err != nil {
		t.Fatalf("Init: %v", err)
	}

	addr := terr.AllocFrame()
	if addr == 0 {
		t.Fatal("AllocFrame() returned 0")
	}

	if err := terr.FreeFrame(addr); err != nil {
		t.Fatalf("first free: %v", err)
	}

	if err := terr.FreeFrame(addr); !errors.Is(err, kerrors.ErrDoubleFree) {
		t.Fatalf("second free: got %v, want ErrDoubleFree", err)
	}

	// State must be unaffected: the frame is still free and allocatable.
	again := terr.AllocFrame()
	if again != addr {
		t.Fatalf("AllocFrame() after double-free attempt = %#x, want %#x", again, addr)
	}
}

func TestOutOfRangeFreeIsSoftError(t *testing.T) {
	t.Parallel()

	var terr mm.Territory
	if err := terr.Init(16*1024*1024, 0x100000); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := terr.FreeFrame(1 << 40); !errors.Is(err, kerrors.ErrInvalidParameter) {
		t.Fatalf("FreeFrame(huge addr): got %v, want ErrInvalidParameter", err)
	}
}

func TestInitFailsWhenBitmapExceedsRAM(t *testing.T) {
	t.Parallel()

	var terr mm.Territory

	// Tiny RAM, kernel_end already near the top: bitmap placement
	// pushes past totalMemoryBytes.
	if err := terr.Init(1<<20, 0x100000); !errors.Is(err, kerrors.ErrInitializationFailed) {
		t.Fatalf("Init: got %v, want ErrInitializationFailed", err)
	}
}

func TestNeverDoubleAllocatesWithoutFree(t *testing.T) {
	t.Parallel()

	var terr mm.Territory
	if err := terr.Init(1024*1024*1024, 0x100000); err != nil {
		t.Fatalf("Init: %v", err)
	}

	seen := make(map[uintptr]bool)

	for i := 0; i < 1000; i++ {
		addr := terr.AllocFrame()
		if addr == 0 {
			t.Fatal("unexpected exhaustion")
		}

		if seen[addr] {
			t.Fatalf("frame %#x handed out twice", addr)
		}

		seen[addr] = true
	}
}
