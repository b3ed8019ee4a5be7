package mm

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/klog"
)

const (
	// HeapStart and HeapSize fix the heap's span, per spec.md §4.2.
	HeapStart = 0x200000
	HeapSize  = 1 << 20 // 1 MiB

	heapAlignment  = 4
	minBlockSize   = 16
	maxAllocSize   = HeapSize / 2
	headerMagic    = 0xDEADC0DE
	frontGuardWant = 0xFEEDFACE

	noNext = -1
)

// heapHeader is one block header. Per spec.md §9's re-architecture
// note, blocks are indices into a fixed arena rather than raw
// pointers: next is an index, -1 (noNext) standing in for Option<Index>::None.
type heapHeader struct {
	size       int // user-payload size
	occupied   bool
	magic      uint32
	frontGuard uint32
	next       int
	valid      bool // false once a header slot has been retired by a merge
}

// HeapStats mirrors spec.md §4.2's statistics block.
type HeapStats struct {
	TotalBytes      int
	UsedBytes       int
	FreeBytes       int
	BlockCount      int
	FreeBlockCount  int
	OccupiedBlocks  int
	Allocations     uint64
	Deallocations   uint64
	Failures        uint64
	CorruptionCount uint64
	FragmentationPct float64
}

// Heap is the first-fit splitting/coalescing allocator over the fixed
// [HeapStart, HeapStart+HeapSize) arena.
type Heap struct {
	mu sync.Mutex

	// arena holds block headers; payload bytes for header i live in
	// payload[i] (a Go-allocated stand-in for "immediately after the
	// header in the heap region", since we have no raw physical memory
	// to lay them out in directly).
	arena   []heapHeader
	payload [][]byte
	head    int // index of the first header

	stats HeapStats
}

// NewHeap constructs a Heap with one initial free block spanning the
// whole region.
func NewHeap() *Heap {
	h := &Heap{
		arena:   []heapHeader{{size: HeapSize, occupied: false, magic: headerMagic, frontGuard: frontGuardWant, next: noNext, valid: true}},
		payload: [][]byte{make([]byte, HeapSize)},
		head:    0,
	}
	h.stats.TotalBytes = HeapSize
	h.stats.FreeBytes = HeapSize
	h.stats.BlockCount = 1
	h.stats.FreeBlockCount = 1

	return h
}

func alignSize(n int) int {
	if n%heapAlignment == 0 {
		return n
	}

	return n + (heapAlignment - n%heapAlignment)
}

// Alloc performs a first-fit search; if the chosen block's payload
// exceeds request+minBlockSize, the tail is split off as a new free
// block, otherwise the whole block is handed out.
func (h *Heap) Alloc(n int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 {
		h.stats.Failures++

		return -1, fmt.Errorf("mm.Heap.Alloc(%d): %w", n, kerrors.ErrInvalidSize)
	}

	n = alignSize(n)
	if n < minBlockSize {
		n = minBlockSize
	}

	if n > maxAllocSize {
		h.stats.Failures++

		return -1, fmt.Errorf("mm.Heap.Alloc(%d): exceeds max allocation %d: %w", n, maxAllocSize, kerrors.ErrInvalidSize)
	}

	idx := h.head
	for idx != noNext {
		hdr := &h.arena[idx]
		if !hdr.occupied && hdr.size >= n {
			if hdr.size >= n+minBlockSize {
				h.split(idx, n)
			}

			hdr = &h.arena[idx]
			if cap(h.payload[idx]) >= hdr.size {
				h.payload[idx] = h.payload[idx][:hdr.size]
			} else {
				h.payload[idx] = make([]byte, hdr.size)
			}

			hdr.occupied = true
			h.stats.Allocations++
			h.stats.UsedBytes += hdr.size
			h.stats.FreeBytes -= hdr.size
			h.stats.OccupiedBlocks++
			h.stats.FreeBlockCount--

			return idx, nil
		}

		idx = hdr.next
	}

	h.stats.Failures++

	return -1, fmt.Errorf("mm.Heap.Alloc(%d): %w", n, kerrors.ErrHeapExhausted)
}

// split carves a new free block of the residual size off the tail of
// the block at idx, truncating idx's own size to exactly n.
func (h *Heap) split(idx, n int) {
	hdr := &h.arena[idx]
	residual := hdr.size - n

	newIdx := len(h.arena)
	h.arena = append(h.arena, heapHeader{
		size:       residual,
		occupied:   false,
		magic:      headerMagic,
		frontGuard: frontGuardWant,
		next:       hdr.next,
		valid:      true,
	})
	h.payload = append(h.payload, make([]byte, residual))

	// The append above may have moved the arena; re-take the header.
	hdr = &h.arena[idx]
	hdr.size = n
	hdr.next = newIdx
	h.stats.BlockCount++
	h.stats.FreeBlockCount++
}

// Free validates the block's magic/guard sentinels, marks it free, then
// runs a linear merge pass coalescing any run of adjacent free blocks.
func (h *Heap) Free(idx int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx < 0 || idx >= len(h.arena) || !h.arena[idx].valid {
		return fmt.Errorf("mm.Heap.Free(%d): %w", idx, kerrors.ErrInvalidHandle)
	}

	hdr := &h.arena[idx]

	if hdr.magic != headerMagic || hdr.frontGuard != frontGuardWant {
		h.stats.CorruptionCount++

		return fmt.Errorf("mm.Heap.Free(%d): %w", idx, kerrors.ErrMemoryCorruption)
	}

	if !hdr.occupied {
		h.stats.CorruptionCount++

		return fmt.Errorf("mm.Heap.Free(%d): %w", idx, kerrors.ErrDoubleFree)
	}

	hdr.occupied = false
	h.stats.Deallocations++
	h.stats.UsedBytes -= hdr.size
	h.stats.FreeBytes += hdr.size
	h.stats.OccupiedBlocks--
	h.stats.FreeBlockCount++

	h.coalesce()
	h.recomputeFragmentation()

	return nil
}

// coalesce walks the list once, merging every run of adjacent free
// blocks into the first block of the run. No two adjacent blocks are
// both free once this returns (spec.md §4.2's eager-coalescing
// invariant).
func (h *Heap) coalesce() {
	idx := h.head

	for idx != noNext {
		hdr := &h.arena[idx]

		for !hdr.occupied && hdr.next != noNext && !h.arena[hdr.next].occupied {
			next := &h.arena[hdr.next]
			hdr.size += next.size
			retired := hdr.next
			hdr.next = next.next
			h.arena[retired].valid = false
			h.stats.BlockCount--
			h.stats.FreeBlockCount--
		}

		idx = hdr.next
	}
}

func (h *Heap) recomputeFragmentation() {
	if h.stats.FreeBytes <= 0 {
		h.stats.FragmentationPct = 0

		return
	}

	h.stats.FragmentationPct = float64(h.stats.FreeBlockCount) /
		(float64(h.stats.FreeBytes) / float64(minBlockSize)) * 100
}

// Realloc: ptr<0 behaves as Alloc; n==0 behaves as Free (returning -1);
// if the existing payload already fits, returns ptr unchanged; else
// allocates new, copies min(old,new) bytes, frees old.
func (h *Heap) Realloc(idx int, n int) (int, error) {
	if idx < 0 {
		return h.Alloc(n)
	}

	if n == 0 {
		return -1, h.Free(idx)
	}

	h.mu.Lock()
	if idx >= len(h.arena) || !h.arena[idx].valid || !h.arena[idx].occupied {
		h.mu.Unlock()

		return -1, fmt.Errorf("mm.Heap.Realloc(%d): %w", idx, kerrors.ErrInvalidHandle)
	}

	oldSize := h.arena[idx].size
	oldPayload := h.payload[idx]
	h.mu.Unlock()

	aligned := alignSize(n)
	if aligned < minBlockSize {
		aligned = minBlockSize
	}

	if oldSize >= aligned {
		return idx, nil
	}

	newIdx, err := h.Alloc(n)
	if err != nil {
		return -1, err
	}

	h.mu.Lock()
	copyLen := oldSize
	if len(h.payload[newIdx]) < copyLen {
		copyLen = len(h.payload[newIdx])
	}
	copy(h.payload[newIdx], oldPayload[:copyLen])
	h.mu.Unlock()

	if err := h.Free(idx); err != nil {
		klog.Warnf("mm.Heap.Realloc: freeing old block %d: %v", idx, err)
	}

	return newIdx, nil
}

// Calloc allocates count*size bytes, overflow-checked, and zeroes them.
func (h *Heap) Calloc(count, size int) (int, error) {
	if count < 0 || size < 0 {
		return -1, fmt.Errorf("mm.Heap.Calloc(%d,%d): %w", count, size, kerrors.ErrInvalidSize)
	}

	if count != 0 && size > (1<<31-1)/count {
		return -1, fmt.Errorf("mm.Heap.Calloc(%d,%d): overflow: %w", count, size, kerrors.ErrInvalidSize)
	}

	idx, err := h.Alloc(count * size)
	if err != nil {
		return -1, err
	}

	h.mu.Lock()
	for i := range h.payload[idx] {
		h.payload[idx][i] = 0
	}
	h.mu.Unlock()

	return idx, nil
}

// Payload returns the backing bytes for the block at idx, for callers
// that need to read/write the allocation's contents.
func (h *Heap) Payload(idx int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx < 0 || idx >= len(h.arena) || !h.arena[idx].valid {
		return nil, fmt.Errorf("mm.Heap.Payload(%d): %w", idx, kerrors.ErrInvalidHandle)
	}

	return h.payload[idx], nil
}

// Size returns the block's payload size (>= the originally requested
// size, per spec.md §8 property 3).
func (h *Heap) Size(idx int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx < 0 || idx >= len(h.arena) || !h.arena[idx].valid {
		return 0, fmt.Errorf("mm.Heap.Size(%d): %w", idx, kerrors.ErrInvalidHandle)
	}

	return h.arena[idx].size, nil
}

// Valid reports whether idx's magic and guard sentinels are intact,
// without mutating any state -- used by validation passes and tests.
func (h *Heap) Valid(idx int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx < 0 || idx >= len(h.arena) || !h.arena[idx].valid {
		return false
	}

	hdr := h.arena[idx]

	return hdr.magic == headerMagic && hdr.frontGuard == frontGuardWant
}

// Stats reports the heap's current bookkeeping.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stats
}
