// Package devfs is the device-node filesystem backend: a static table
// of pseudo-devices {null, zero, random, console, keyboard, ttyS0,
// ttyS1, mem} dispatched by a per-entry handler (spec.md §4.4). DevFS
// is structurally read-only: it has no Mkdir/Rmdir/Unlink hooks.
package devfs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kedarmahale/minikernel/kerrors"
	"github.com/kedarmahale/minikernel/vfs"
)

type kind int

const (
	kindNull kind = iota
	kindZero
	kindRandom
	kindConsole
	kindKeyboard
	kindSerial
	kindMem
)

type deviceEntry struct {
	name     string
	readable bool
	writable bool
	kind     kind
	minor    int
}

var table = [...]deviceEntry{
	{name: "null", readable: true, writable: true, kind: kindNull},
	{name: "zero", readable: true, writable: true, kind: kindZero},
	{name: "random", readable: true, writable: false, kind: kindRandom},
	{name: "console", readable: true, writable: true, kind: kindConsole},
	{name: "keyboard", readable: true, writable: false, kind: kindKeyboard},
	{name: "ttyS0", readable: true, writable: true, kind: kindSerial, minor: 0},
	{name: "ttyS1", readable: true, writable: true, kind: kindSerial, minor: 1},
	{name: "mem", readable: true, writable: true, kind: kindMem},
}

const (
	memWindowBase = 0x100000
	memWindowSize = 0x100000 // window is [0x100000, 0x200000)
)

// SerialPort is the narrow interface a serial minor is delegated to
// (spec.md: "serial devices delegate to the serial driver minor
// number"); grounded on the teacher's serial.Serial In/Out shape,
// reduced to plain byte Read/Write for VFS consumption.
type SerialPort interface {
	vfs.Reader
	vfs.Writer
}

// FS is one mounted devfs instance.
type FS struct {
	mu sync.Mutex

	keyboard vfs.Reader
	console  vfs.Writer
	serial   [2]SerialPort

	rngState uint32
	mem      []byte
}

// Options wires the live devices devfs delegates to. Any field left
// nil makes that device's reads/writes fail with ErrNotSupported
// instead of panicking.
type Options struct {
	Keyboard   vfs.Reader
	Console    vfs.Writer
	TTYS0      SerialPort
	TTYS1      SerialPort
	MountTick  uint64 // seeds the /dev/random LCG, per spec.md §4.4
}

func newFS(opts Options) *FS {
	seed := uint32(opts.MountTick)
	if seed == 0 {
		seed = 1
	}

	return &FS{
		keyboard: opts.Keyboard,
		console:  opts.Console,
		serial:   [2]SerialPort{opts.TTYS0, opts.TTYS1},
		rngState: seed,
		mem:      make([]byte, memWindowSize),
	}
}

// lcg advances the glibc-style linear congruential generator one step
// and returns the new byte.
func (f *FS) lcg() byte {
	f.rngState = f.rngState*1103515245 + 12345

	return byte(f.rngState >> 16)
}

func deviceName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i != -1 {
		return path[i+1:]
	}

	return path
}

func lookup(name string) (*deviceEntry, error) {
	for i := range table {
		if table[i].name == name {
			return &table[i], nil
		}
	}

	return nil, fmt.Errorf("devfs: %s: %w", name, kerrors.ErrDeviceNotFound)
}

func (f *FS) open(path string, flags int) (vfs.Handle, error) {
	d, err := lookup(deviceName(path))
	if err != nil {
		return -1, err
	}

	wantWrite := flags&(vfs.OWrOnly|vfs.ORdWr) != 0
	if wantWrite && !d.writable {
		return -1, fmt.Errorf("devfs: open(%s): %w", path, kerrors.ErrAccessDenied)
	}

	return int(d.kind)<<16 | d.minor, nil
}

func decodeHandle(h vfs.Handle) (kind, int, error) {
	raw := h
	if raw < 0 {
		return 0, 0, fmt.Errorf("devfs: %w", kerrors.ErrInvalidHandle)
	}

	return kind(raw >> 16), raw & 0xFFFF, nil
}

func (f *FS) close(vfs.Handle) error { return nil }

func (f *FS) read(h vfs.Handle, offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k, minor, err := decodeHandle(h)
	if err != nil {
		return 0, err
	}

	switch k {
	case kindNull:
		return 0, nil
	case kindZero:
		for i := range buf {
			buf[i] = 0
		}

		return len(buf), nil
	case kindRandom:
		for i := range buf {
			buf[i] = f.lcg()
		}

		return len(buf), nil
	case kindConsole, kindKeyboard:
		if f.keyboard == nil {
			return 0, fmt.Errorf("devfs: read: %w", kerrors.ErrNotSupported)
		}

		return f.keyboard.Read(buf)
	case kindSerial:
		if f.serial[minor] == nil {
			return 0, fmt.Errorf("devfs: read: ttyS%d: %w", minor, kerrors.ErrNotSupported)
		}

		return f.serial[minor].Read(buf)
	case kindMem:
		return f.readMem(offset, buf)
	default:
		return 0, fmt.Errorf("devfs: read: %w", kerrors.ErrNotSupported)
	}
}

func (f *FS) readMem(offset int64, buf []byte) (int, error) {
	if offset < memWindowBase || offset >= memWindowBase+memWindowSize {
		return 0, fmt.Errorf("devfs: /dev/mem: offset %#x outside safe window: %w", offset, kerrors.ErrAccessDenied)
	}

	start := offset - memWindowBase
	n := copy(buf, f.mem[start:])

	return n, nil
}

func (f *FS) write(h vfs.Handle, offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k, minor, err := decodeHandle(h)
	if err != nil {
		return 0, err
	}

	switch k {
	case kindNull, kindZero:
		return len(buf), nil
	case kindConsole:
		if f.console == nil {
			return 0, fmt.Errorf("devfs: write: %w", kerrors.ErrNotSupported)
		}

		return f.console.Write(buf)
	case kindSerial:
		if f.serial[minor] == nil {
			return 0, fmt.Errorf("devfs: write: ttyS%d: %w", minor, kerrors.ErrNotSupported)
		}

		return f.serial[minor].Write(buf)
	case kindMem:
		return f.writeMem(offset, buf)
	default:
		return 0, fmt.Errorf("devfs: write: %w", kerrors.ErrAccessDenied)
	}
}

func (f *FS) writeMem(offset int64, buf []byte) (int, error) {
	if offset < memWindowBase || offset >= memWindowBase+memWindowSize {
		return 0, fmt.Errorf("devfs: /dev/mem: offset %#x outside safe window: %w", offset, kerrors.ErrAccessDenied)
	}

	start := offset - memWindowBase
	n := copy(f.mem[start:], buf)

	return n, nil
}

func (f *FS) stat(path string) (vfs.FileInfo, error) {
	if _, err := lookup(deviceName(path)); err != nil {
		return vfs.FileInfo{}, err
	}

	return vfs.FileInfo{Size: 0, Type: vfs.FileTypeDevice}, nil
}

// NewDescriptor returns a vfs.Descriptor for devfs. opts wires the
// live keyboard/console/serial devices and the tick used to seed
// /dev/random.
func NewDescriptor(opts Options) *vfs.Descriptor {
	return &vfs.Descriptor{
		Name: "devfs",
		Mount: func(device string, flags int) (vfs.MountState, error) {
			return newFS(opts), nil
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
		// Mkdir/Rmdir/Unlink left nil: devfs is structurally read-only.
		Stat: func(state vfs.MountState, path string) (vfs.FileInfo, error) {
			return state.(*FS).stat(path)
		},
	}
}
