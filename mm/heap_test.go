package mm_test

import (
	"errors"
	"testing"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/mm"
)

// TestHeapSplitAndMerge is spec.md §8 scenario A.
func TestHeapSplitAndMerge(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	p1, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("alloc p1: %v", err)
	}

	p2, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("alloc p2: %v", err)
	}

	p3, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("alloc p3: %v", err)
	}

	if err := h.Free(p2); err != nil {
		t.Fatalf("free p2: %v", err)
	}

	blocksBefore := h.Stats().BlockCount

	p4, err := h.Alloc(50)
	if err != nil {
		t.Fatalf("alloc p4: %v", err)
	}

	if p4 != p2 {
		t.Fatalf("p4 block index = %d, want reused index %d (p2's former block)", p4, p2)
	}

	if got := h.Stats().BlockCount; got != blocksBefore+1 {
		t.Fatalf("block count after alloc p4 = %d, want %d", got, blocksBefore+1)
	}

	if err := h.Free(p4); err != nil {
		t.Fatalf("free p4: %v", err)
	}

	if err := h.Free(p1); err != nil {
		t.Fatalf("free p1: %v", err)
	}

	if err := h.Free(p3); err != nil {
		t.Fatalf("free p3: %v", err)
	}

	stats := h.Stats()
	if stats.BlockCount != 1 {
		t.Fatalf("final block count = %d, want 1", stats.BlockCount)
	}

	if stats.FreeBytes != mm.HeapSize {
		t.Fatalf("final free bytes = %d, want %d", stats.FreeBytes, mm.HeapSize)
	}
}

func TestDoubleFreeDoesNotCorruptHeap(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	p, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if err := h.Free(p); err != nil {
		t.Fatalf("first free: %v", err)
	}

	if err := h.Free(p); !errors.Is(err, kerrors.ErrDoubleFree) {
		t.Fatalf("second free: got %v, want ErrDoubleFree", err)
	}

	// Heap must still be usable afterwards.
	if _, err := h.Alloc(64); err != nil {
		t.Fatalf("alloc after double free: %v", err)
	}
}

func TestReallocNullEqualsAlloc(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	idx, err := h.Realloc(-1, 42)
	if err != nil {
		t.Fatalf("Realloc(-1, 42): %v", err)
	}

	size, err := h.Size(idx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	if size < 42 {
		t.Fatalf("size = %d, want >= 42", size)
	}
}

func TestReallocZeroEqualsFree(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	p, err := h.Alloc(42)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if _, err := h.Realloc(p, 0); err != nil {
		t.Fatalf("Realloc(p, 0): %v", err)
	}

	if err := h.Free(p); !errors.Is(err, kerrors.ErrDoubleFree) {
		t.Fatalf("freeing after Realloc-to-zero: got %v, want ErrDoubleFree", err)
	}
}

func TestAllocatedBlockSentinelsIntact(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	p, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}

	if !h.Valid(p) {
		t.Fatal("Valid(p) = false immediately after alloc")
	}

	size, err := h.Size(p)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	if size < 10 {
		t.Fatalf("size = %d, want >= 10", size)
	}
}

func TestAllocRejectsOversizedRequest(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	if _, err := h.Alloc(mm.HeapSize); !errors.Is(err, kerrors.ErrInvalidSize) {
		t.Fatalf("Alloc(HeapSize): got %v, want ErrInvalidSize", err)
	}
}

func TestCallocZeroesMemory(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	idx, err := h.Calloc(8, 8)
	if err != nil {
		t.Fatalf("Calloc: %v", err)
	}

	buf, err := h.Payload(idx)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}

	for i, b := range buf[:64] {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestNoAdjacentFreeBlocksAfterFree(t *testing.T) {
	t.Parallel()

	h := mm.NewHeap()

	var blocks []int
	for i := 0; i < 4; i++ {
		p, err := h.Alloc(40)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		blocks = append(blocks, p)
	}

	for _, p := range blocks {
		if err := h.Free(p); err != nil {
			t.Fatalf("free: %v", err)
		}
	}

	if got := h.Stats().BlockCount; got != 1 {
		t.Fatalf("block count after freeing everything = %d, want 1", got)
	}
}
