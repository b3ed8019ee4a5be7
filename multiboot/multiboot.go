// Package multiboot parses the Multiboot boot-information structure
// handed to the kernel by a Multiboot-compliant loader. The loader
// itself, and the raw assembly entry trampoline that captures the
// magic/info-pointer pair, are out of scope (spec.md §1) -- this
// package starts from that precondition: a decoded Info value.
//
// Because the core runs hosted (no real physical memory to dereference
// a boot-time pointer into), Info carries the memory-map bytes
// directly in MmapData rather than a raw address a real kernel would
// walk. Everything downstream of that substitution -- entry iteration,
// region classification -- is unchanged from spec.md §3/§6.
package multiboot

import (
	"encoding/binary"
	"fmt"

	"github.com/kedarmahale/minikernel/kerrors"
)

// Magic is the value the boot loader passes in EAX; required to equal
// this before the info structure is trusted at all (spec.md §6).
const Magic uint32 = 0x2BADB002

// flagMemoryMap is bit 6 of Info.Flags: "memory-map present."
const flagMemoryMap = 1 << 6

// TypeAvailable is the memory-map entry type meaning "available RAM."
const TypeAvailable uint32 = 1

const pageSize = 4096
const oneMiB = 1 << 20
const max32 = 0xFFFFFFFF

// Info is the subset of the packed Multiboot info record this kernel
// consumes: lower/upper memory (KB) and the memory map.
type Info struct {
	Flags      uint32
	MemLowerKB uint32
	MemUpperKB uint32
	MmapAddr   uint32
	MmapLength uint32

	// MmapData holds the raw memory-map bytes that a real kernel would
	// read starting at MmapAddr. It must be at least MmapLength bytes
	// long; bytes past MmapLength are ignored.
	MmapData []byte
}

// HasMemoryMap reports whether the loader announced a valid memory map
// (flag bit 6 set, pointer and length both non-zero). Per spec.md §6,
// absence of this triggers kernel recovery mode.
func (i *Info) HasMemoryMap() bool {
	if i == nil {
		return false
	}

	return i.Flags&flagMemoryMap != 0 && i.MmapAddr != 0 && i.MmapLength != 0
}

// Entry is one decoded memory-map record: (size, base, length, type)
// with iteration stride = size + sizeof(size), per spec.md §3/§6.
type Entry struct {
	Size   uint32
	Base   uint64
	Length uint64
	Type   uint32
}

// Available reports whether this entry's type marks it as usable RAM.
func (e Entry) Available() bool { return e.Type == TypeAvailable }

// Entries decodes the raw memory map into a slice of Entry, advancing
// by each entry's own self-reported size plus the width of the size
// field itself.
func (i *Info) Entries() ([]Entry, error) {
	if !i.HasMemoryMap() {
		return nil, fmt.Errorf("multiboot: no memory map: %w", kerrors.ErrInvalidState)
	}

	if uint32(len(i.MmapData)) < i.MmapLength {
		return nil, fmt.Errorf("multiboot: mmap data shorter than MmapLength: %w", kerrors.ErrInvalidParameter)
	}

	var entries []Entry

	data := i.MmapData[:i.MmapLength]
	off := 0

	for off+4 <= len(data) {
		size := binary.LittleEndian.Uint32(data[off : off+4])
		if size < 20 || off+4+int(size) > len(data) {
			return entries, fmt.Errorf("multiboot: malformed entry at offset %d: %w", off, kerrors.ErrProtocolError)
		}

		rec := data[off+4 : off+4+int(size)]
		e := Entry{
			Size:   size,
			Base:   binary.LittleEndian.Uint64(rec[0:8]),
			Length: binary.LittleEndian.Uint64(rec[8:16]),
			Type:   binary.LittleEndian.Uint32(rec[16:20]),
		}
		entries = append(entries, e)

		off += 4 + int(size)
	}

	return entries, nil
}

// Region is a classified available memory region.
type Region struct {
	Base   uint64
	Length uint64
	Safe   bool
}

// End returns Base+Length.
func (r Region) End() uint64 { return r.Base + r.Length }

// ParseResult summarizes a memory-map walk: total available bytes, the
// highest available-region end, and the largest safe region found.
type ParseResult struct {
	TotalBytes        uint64
	HighestEnd        uint64
	LargestSafeRegion Region
	HasLargestSafe    bool
	Regions           []Region
}

// isSafe applies spec.md §4.2's predicate: above 1 MiB, page-aligned,
// at least one page long, and fits in 32-bit address space.
func isSafe(base, length uint64) bool {
	if base < oneMiB {
		return false
	}

	if base%pageSize != 0 {
		return false
	}

	if length < pageSize {
		return false
	}

	if base+length > max32+1 {
		return false
	}

	return true
}

// ParseMemoryMap walks the memory map, summing available-region
// lengths into TotalBytes, tracking the highest available-region end,
// and classifying each available region as safe/unsafe, remembering
// the largest safe one.
func ParseMemoryMap(info *Info) (ParseResult, error) {
	var result ParseResult

	entries, err := info.Entries()
	if err != nil {
		return result, err
	}

	for _, e := range entries {
		if !e.Available() {
			continue
		}

		result.TotalBytes += e.Length

		if end := e.Base + e.Length; end > result.HighestEnd {
			result.HighestEnd = end
		}

		r := Region{Base: e.Base, Length: e.Length, Safe: isSafe(e.Base, e.Length)}
		result.Regions = append(result.Regions, r)

		if r.Safe && (!result.HasLargestSafe || r.Length > result.LargestSafeRegion.Length) {
			result.LargestSafeRegion = r
			result.HasLargestSafe = true
		}
	}

	return result, nil
}
