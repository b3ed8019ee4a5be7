// Package mm is the kernel's two-tier memory manager: a page-granular
// physical frame allocator (Territory) and a first-fit splitting/
// coalescing heap (Heap), sharing the Multiboot-derived memory
// description the HAL's Memory capability exposes (spec.md §4.2).
package mm

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/klog"
)

const (
	frameSize = 4096

	// MaxTerritories caps the frame table at 1 GiB worth of frames --
	// generous for an educational 32-bit kernel without needing a
	// dynamically sized bitmap.
	MaxTerritories = 256 * 1024

	bitmapSafetyMargin = 64 * 1024
)

// TerritoryStats mirrors the frame-allocator half of spec.md §4.2's
// statistics requirement.
type TerritoryStats struct {
	FrameCount     int
	ReservedFrames int
	AllocatedCount int
	FreeCount      int
}

// Territory is the physical frame allocator ("territory map"): a
// single bitmap keyed by frame index, where a set bit means allocated.
type Territory struct {
	mu sync.Mutex

	bitmap         []byte
	frameCount     int
	bitmapStart    uintptr
	bitmapEnd      uintptr
	firstFree      int // scan cursor: lowest index worth considering free
	reservedPrefix int // frames permanently reserved by kernel+bitmap+margin
	allocated      int
}

func alignUp(v uintptr, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// Init computes the frame count from totalMemoryBytes (capped at
// MaxTerritories), places the bitmap at
// alignUp(kernelEnd, 4KiB) + 64KiB, and pre-marks the kernel image plus
// the bitmap's own footprint as allocated. It fails if the bitmap would
// extend past RAM.
func (t *Territory) Init(totalMemoryBytes uint64, kernelEnd uintptr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	frameCount := int(totalMemoryBytes / frameSize)
	if frameCount > MaxTerritories {
		frameCount = MaxTerritories
	}

	if frameCount <= 0 {
		return fmt.Errorf("mm.Territory.Init: no frames available: %w", kerrors.ErrInvalidParameter)
	}

	bitmapBytes := (frameCount + 7) / 8
	bitmapStart := alignUp(kernelEnd, frameSize) + bitmapSafetyMargin
	bitmapEnd := bitmapStart + uintptr(bitmapBytes)

	if uint64(bitmapEnd) > totalMemoryBytes {
		return fmt.Errorf("mm.Territory.Init: bitmap [%#x,%#x) exceeds RAM (%d bytes): %w",
			bitmapStart, bitmapEnd, totalMemoryBytes, kerrors.ErrInitializationFailed)
	}

	t.bitmap = make([]byte, bitmapBytes)
	t.frameCount = frameCount
	t.bitmapStart = bitmapStart
	t.bitmapEnd = bitmapEnd

	// Every bit set (allocated) initially; frames whose starting
	// address is >= bitmapEnd are then cleared (freed).
	for i := range t.bitmap {
		t.bitmap[i] = 0xFF
	}

	t.allocated = frameCount
	t.firstFree = frameCount
	t.reservedPrefix = frameCount

	for idx := 0; idx < frameCount; idx++ {
		if uintptr(idx)*frameSize >= bitmapEnd {
			t.clearBit(idx)
			t.allocated--

			if idx < t.firstFree {
				t.firstFree = idx
			}

			if idx < t.reservedPrefix {
				t.reservedPrefix = idx
			}
		}
	}

	return nil
}

func (t *Territory) testBit(idx int) bool {
	return t.bitmap[idx/8]&(1<<uint(idx%8)) != 0
}

func (t *Territory) setBit(idx int) {
	t.bitmap[idx/8] |= 1 << uint(idx%8)
}

func (t *Territory) clearBit(idx int) {
	t.bitmap[idx/8] &^= 1 << uint(idx%8)
}

// AllocFrame performs a linear first-fit scan from the first
// non-reserved frame for a cleared bit, sets it, and returns the
// frame's physical byte address. Returns 0 if none available.
func (t *Territory) AllocFrame() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()

	for idx := t.firstFree; idx < t.frameCount; idx++ {
		if !t.testBit(idx) {
			t.setBit(idx)
			t.allocated++

			return uintptr(idx) * frameSize
		}
	}

	return 0
}

// FreeFrame clears the bit for the frame at physAddr. Double-free and
// out-of-range addresses are soft errors: logged, with no state
// change.
func (t *Territory) FreeFrame(physAddr uintptr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := int(physAddr / frameSize)

	if idx < 0 || idx >= t.frameCount {
		err := fmt.Errorf("mm.Territory.FreeFrame(%#x): index %d out of range: %w",
			physAddr, idx, kerrors.ErrInvalidParameter)
		klog.Warnf("%v", err)

		return err
	}

	if !t.testBit(idx) {
		err := fmt.Errorf("mm.Territory.FreeFrame(%#x): %w", physAddr, kerrors.ErrDoubleFree)
		klog.Warnf("%v", err)

		return err
	}

	t.clearBit(idx)
	t.allocated--

	if idx < t.firstFree {
		t.firstFree = idx
	}

	return nil
}

// Stats reports the frame allocator's current bookkeeping.
func (t *Territory) Stats() TerritoryStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TerritoryStats{
		FrameCount:     t.frameCount,
		ReservedFrames: t.reservedPrefix,
		AllocatedCount: t.allocated,
		FreeCount:      t.frameCount - t.allocated,
	}
}

// BitmapEnd exposes the computed bitmap end address, mainly so tests
// can assert spec.md §8 scenario B's bound directly.
func (t *Territory) BitmapEnd() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.bitmapEnd
}
