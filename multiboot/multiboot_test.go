package multiboot_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/multiboot"
)

func record(base, length uint64, typ uint32) []byte {
	rec := make([]byte, 20)
	binary.LittleEndian.PutUint64(rec[0:8], base)
	binary.LittleEndian.PutUint64(rec[8:16], length)
	binary.LittleEndian.PutUint32(rec[16:20], typ)

	out := make([]byte, 4+len(rec))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(rec)))
	copy(out[4:], rec)

	return out
}

func mmapInfo(records ...[]byte) *multiboot.Info {
	var data []byte
	for _, r := range records {
		data = append(data, r...)
	}

	return &multiboot.Info{
		Flags:      1 << 6,
		MmapAddr:   1,
		MmapLength: uint32(len(data)),
		MmapData:   data,
	}
}

func TestHasMemoryMap(t *testing.T) {
	if (*multiboot.Info)(nil).HasMemoryMap() {
		t.Fatal("nil Info reports a memory map")
	}

	if (&multiboot.Info{}).HasMemoryMap() {
		t.Fatal("zero Info reports a memory map")
	}

	info := mmapInfo(record(0x100000, 0x1000, multiboot.TypeAvailable))
	if !info.HasMemoryMap() {
		t.Fatal("flagged, addressed, non-empty Info reports no memory map")
	}
}

func TestEntriesDecodesEachRecord(t *testing.T) {
	info := mmapInfo(
		record(0x100000, 0x1000, multiboot.TypeAvailable),
		record(0xF0000, 0x10000, 2),
	)

	entries, err := info.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	if entries[0].Base != 0x100000 || entries[0].Length != 0x1000 || !entries[0].Available() {
		t.Fatalf("entries[0] = %+v", entries[0])
	}

	if entries[1].Available() {
		t.Fatalf("entries[1] should not be available (type %d)", entries[1].Type)
	}
}

func TestEntriesRejectsNoMemoryMap(t *testing.T) {
	_, err := (&multiboot.Info{}).Entries()
	if !errors.Is(err, kerrors.ErrInvalidState) {
		t.Fatalf("Entries() = %v, want ErrInvalidState", err)
	}
}

func TestEntriesRejectsTruncatedData(t *testing.T) {
	rec := record(0x100000, 0x1000, multiboot.TypeAvailable)
	info := &multiboot.Info{
		Flags:      1 << 6,
		MmapAddr:   1,
		MmapLength: uint32(len(rec)),
		MmapData:   rec[:len(rec)-5], // shorter than MmapLength
	}

	_, err := info.Entries()
	if !errors.Is(err, kerrors.ErrInvalidParameter) {
		t.Fatalf("Entries() = %v, want ErrInvalidParameter", err)
	}
}

func TestEntriesRejectsMalformedSize(t *testing.T) {
	rec := make([]byte, 4)
	binary.LittleEndian.PutUint32(rec, 19) // below the 20-byte minimum
	info := &multiboot.Info{
		Flags:      1 << 6,
		MmapAddr:   1,
		MmapLength: uint32(len(rec)),
		MmapData:   rec,
	}

	_, err := info.Entries()
	if !errors.Is(err, kerrors.ErrProtocolError) {
		t.Fatalf("Entries() = %v, want ErrProtocolError", err)
	}
}

func TestParseMemoryMapSumsAndClassifies(t *testing.T) {
	info := mmapInfo(
		record(0x100000, 0x400000, multiboot.TypeAvailable), // safe: above 1MiB, page-aligned, big
		record(0x500000, 0x2000, multiboot.TypeAvailable),   // safe, smaller
		record(0x9FC00, 0x400, multiboot.TypeAvailable),     // below 1MiB: available but unsafe
		record(0x600000, 0x1000, 2),                         // reserved, ignored entirely
	)

	result, err := multiboot.ParseMemoryMap(info)
	if err != nil {
		t.Fatalf("ParseMemoryMap: %v", err)
	}

	wantTotal := uint64(0x400000 + 0x2000 + 0x400)
	if result.TotalBytes != wantTotal {
		t.Fatalf("TotalBytes = %#x, want %#x", result.TotalBytes, wantTotal)
	}

	if result.HighestEnd != 0x500000+0x2000 {
		t.Fatalf("HighestEnd = %#x, want %#x", result.HighestEnd, 0x500000+0x2000)
	}

	if !result.HasLargestSafe || result.LargestSafeRegion.Base != 0x100000 {
		t.Fatalf("LargestSafeRegion = %+v", result.LargestSafeRegion)
	}

	if len(result.Regions) != 3 {
		t.Fatalf("len(Regions) = %d, want 3 (reserved entry excluded)", len(result.Regions))
	}
}

func TestParseMemoryMapNoSafeRegion(t *testing.T) {
	info := mmapInfo(record(0x1000, 0x1000, multiboot.TypeAvailable)) // below 1MiB: unsafe

	result, err := multiboot.ParseMemoryMap(info)
	if err != nil {
		t.Fatalf("ParseMemoryMap: %v", err)
	}

	if result.HasLargestSafe {
		t.Fatal("HasLargestSafe true with no region above 1MiB")
	}
}
