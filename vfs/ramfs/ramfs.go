// Package ramfs is an in-memory filesystem backend for the virtual
// filesystem switch: a fixed-capacity table of files, each with a
// lazily allocated 64 KiB buffer (spec.md §4.4).
package ramfs

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/vfs"
)

const (
	MaxFiles    = 64
	MaxFileSize = 64 * 1024
)

type entryType int

const (
	typeFile entryType = iota
	typeDir
)

type entry struct {
	inUse        bool
	name         string
	typ          entryType
	size         int
	buf          []byte
	createdTick  uint64
	modifiedTick uint64
}

// Ticker supplies the current tick for creation/modification
// timestamps; typically *sched.Scheduler.Ticks.
type Ticker func() uint64

// FS is one mounted ramfs instance.
type FS struct {
	mu     sync.Mutex
	files  [MaxFiles]entry
	ticker Ticker
}

func newFS(ticker Ticker) *FS {
	if ticker == nil {
		ticker = func() uint64 { return 0 }
	}

	return &FS{ticker: ticker}
}

func (f *FS) findLocked(path string) int {
	for i := range f.files {
		if f.files[i].inUse && f.files[i].name == path {
			return i
		}
	}

	return -1
}

func (f *FS) open(path string, flags int) (vfs.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.findLocked(path)
	if idx == -1 {
		if flags&vfs.OCreat == 0 {
			return -1, fmt.Errorf("ramfs: open(%s): %w", path, kerrors.ErrDeviceNotFound)
		}

		slot := -1

		for i := range f.files {
			if !f.files[i].inUse {
				slot = i

				break
			}
		}

		if slot == -1 {
			return -1, fmt.Errorf("ramfs: open(%s): %w", path, kerrors.ErrResourceExhausted)
		}

		now := f.ticker()
		f.files[slot] = entry{
			inUse:        true,
			name:         path,
			typ:          typeFile,
			createdTick:  now,
			modifiedTick: now,
		}
		idx = slot
	}

	if flags&vfs.OTrunc != 0 {
		f.files[idx].buf = nil
		f.files[idx].size = 0
	}

	return idx, nil
}

func (f *FS) close(vfs.Handle) error { return nil }

func (f *FS) read(h vfs.Handle, offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, err := f.entryAt(h)
	if err != nil {
		return 0, err
	}

	if offset < 0 || offset >= int64(e.size) {
		return 0, nil
	}

	n := copy(buf, e.buf[offset:e.size])

	return n, nil
}

func (f *FS) write(h vfs.Handle, offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, err := f.entryAt(h)
	if err != nil {
		return 0, err
	}

	if offset < 0 {
		return 0, fmt.Errorf("ramfs: write: %w", kerrors.ErrInvalidParameter)
	}

	end := offset + int64(len(buf))
	if end > MaxFileSize {
		return 0, fmt.Errorf("ramfs: write: exceeds %d byte cap: %w", MaxFileSize, kerrors.ErrInvalidSize)
	}

	if e.buf == nil {
		e.buf = make([]byte, 0, MaxFileSize)
	}

	if int(end) > len(e.buf) {
		grown := make([]byte, end)
		copy(grown, e.buf)
		e.buf = grown
	}

	n := copy(e.buf[offset:end], buf)
	if int(end) > e.size {
		e.size = int(end)
	}

	e.modifiedTick = f.ticker()

	return n, nil
}

func (f *FS) entryAt(h vfs.Handle) (*entry, error) {
	idx := h
	if idx < 0 || idx >= MaxFiles || !f.files[idx].inUse {
		return nil, fmt.Errorf("ramfs: %w", kerrors.ErrInvalidHandle)
	}

	return &f.files[idx], nil
}

func (f *FS) mkdir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findLocked(path) != -1 {
		return fmt.Errorf("ramfs: mkdir(%s): %w", path, kerrors.ErrInvalidParameter)
	}

	slot := -1

	for i := range f.files {
		if !f.files[i].inUse {
			slot = i

			break
		}
	}

	if slot == -1 {
		return fmt.Errorf("ramfs: mkdir(%s): %w", path, kerrors.ErrResourceExhausted)
	}

	now := f.ticker()
	f.files[slot] = entry{inUse: true, name: path, typ: typeDir, createdTick: now, modifiedTick: now}

	return nil
}

func (f *FS) rmdir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.findLocked(path)
	if idx == -1 || f.files[idx].typ != typeDir {
		return fmt.Errorf("ramfs: rmdir(%s): %w", path, kerrors.ErrDeviceNotFound)
	}

	f.files[idx] = entry{}

	return nil
}

func (f *FS) unlink(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.findLocked(path)
	if idx == -1 || f.files[idx].typ != typeFile {
		return fmt.Errorf("ramfs: unlink(%s): %w", path, kerrors.ErrDeviceNotFound)
	}

	f.files[idx] = entry{}

	return nil
}

func (f *FS) stat(path string) (vfs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.findLocked(path)
	if idx == -1 {
		return vfs.FileInfo{}, fmt.Errorf("ramfs: stat(%s): %w", path, kerrors.ErrDeviceNotFound)
	}

	e := &f.files[idx]

	typ := vfs.FileTypeRegular
	if e.typ == typeDir {
		typ = vfs.FileTypeDirectory
	}

	return vfs.FileInfo{
		Size:         int64(e.size),
		Type:         typ,
		CreatedTick:  e.createdTick,
		ModifiedTick: e.modifiedTick,
	}, nil
}

// NewDescriptor returns a vfs.Descriptor for ramfs. ticker supplies
// the tick stamped on file creation/modification; pass nil to use a
// fixed zero tick (tests that don't care about timestamps).
func NewDescriptor(ticker Ticker) *vfs.Descriptor {
	return &vfs.Descriptor{
		Name: "ramfs",
		Mount: func(device string, flags int) (vfs.MountState, error) {
			return newFS(ticker), nil
		},
		Unmount: func(state vfs.MountState) error { return nil },
		Open: func(state vfs.MountState, path string, flags int) (vfs.Handle, error) {
			return state.(*FS).open(path, flags)
		},
		Close: func(state vfs.MountState, h vfs.Handle) error {
			return state.(*FS).close(h)
		},
		Read: func(state vfs.MountState, h vfs.Handle, offset int64, buf []byte) (int, error) {
			return state.(*FS).read(h, offset, buf)
		},
		Write: func(state vfs.MountState, h vfs.Handle, offset int64, buf []byte) (int, error) {
			return state.(*FS).write(h, offset, buf)
		},
		// Seek is left nil: the switch's generic SET/CUR offset update
		// (vfs.VFS.Seek) is sufficient for ramfs's contiguous buffers.
		Mkdir: func(state vfs.MountState, path string) error {
			return state.(*FS).mkdir(path)
		},
		Rmdir: func(state vfs.MountState, path string) error {
			return state.(*FS).rmdir(path)
		},
		Unlink: func(state vfs.MountState, path string) error {
			return state.(*FS).unlink(path)
		},
		Stat: func(state vfs.MountState, path string) (vfs.FileInfo, error) {
			return state.(*FS).stat(path)
		},
	}
}
