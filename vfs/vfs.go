// Package vfs is the virtual filesystem switch: it registers backing
// filesystem descriptors, maintains a mount table resolved by
// longest-prefix match, and keeps a single-process file-descriptor
// table (spec.md §4.4). The shape of a Descriptor -- a named struct of
// function fields dispatched by the switch -- mirrors the HAL's
// capability-table pattern in hal.CapabilitySet.
package vfs

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/kerrors"
)

const (
	MaxFSTypes = 8
	MaxMounts  = 16
	MaxOpenFiles = 256

	// FirstFD is the first descriptor handed out by Open; 0/1/2 are
	// reserved for stdin/stdout/stderr.
	FirstFD = 3

	FDStdin  = 0
	FDStdout = 1
	FDStderr = 2
)

// Open flags (spec.md §6).
const (
	ORdOnly = 0x00
	OWrOnly = 0x01
	ORdWr   = 0x02
	OCreat  = 0x04
	OAppend = 0x08
	OTrunc  = 0x10
)

// Seek whences (spec.md §6).
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Handle is a filesystem-private handle: an index into that
// filesystem's own open-file table (spec.md §9's re-architecture note
// on opaque per-file-descriptor handles -- the VFS owns the fd table,
// the filesystem holds indices into its own).
type Handle = int

// MountState is whatever a Descriptor's Mount hook returns; opaque to
// the VFS switch, threaded back into every other operation on that
// mount.
type MountState = any

// FileType classifies a Stat result (spec.md §4.4's ramfs entry fields:
// name, type, size, creation/modification ticks).
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeDevice
)

func (t FileType) String() string {
	switch t {
	case FileTypeDirectory:
		return "directory"
	case FileTypeDevice:
		return "device"
	default:
		return "regular"
	}
}

// FileInfo is Stat's result.
type FileInfo struct {
	Size         int64
	Type         FileType
	CreatedTick  uint64
	ModifiedTick uint64
}

// Descriptor is a registered filesystem type: a unique name plus the
// eleven operation fields spec.md §4.4 calls for (mount/unmount;
// open/close/read/write/seek; mkdir/rmdir/unlink/stat). Seek may be
// nil, in which case the switch performs a generic SET/CUR offset
// update itself.
type Descriptor struct {
	Name string

	Mount   func(device string, flags int) (MountState, error)
	Unmount func(state MountState) error

	Open  func(state MountState, path string, flags int) (Handle, error)
	Close func(state MountState, h Handle) error

	Read  func(state MountState, h Handle, offset int64, buf []byte) (int, error)
	Write func(state MountState, h Handle, offset int64, buf []byte) (int, error)
	Seek  func(state MountState, h Handle, offset int64, whence int) (int64, error)

	Mkdir  func(state MountState, path string) error
	Rmdir  func(state MountState, path string) error
	Unlink func(state MountState, path string) error

	Stat func(state MountState, path string) (FileInfo, error)
}

type mountEntry struct {
	active     bool
	mountPoint string
	desc       *Descriptor
	state      MountState
	flags      int
	isRoot     bool
}

type openFile struct {
	inUse    bool
	mountIdx int
	handle   Handle
	offset   int64
	flags    int
}

// Reader and Writer are the narrow interfaces fd 0/1/2 are special-
// cased onto (spec.md §4.4): stdin reads a line from the keyboard,
// stdout/stderr write to the text console.
type Reader interface {
	Read(buf []byte) (int, error)
}

type Writer interface {
	Write(buf []byte) (int, error)
}

// VFS is the switch: registered types, the mount table, and the
// open-file table.
type VFS struct {
	mu sync.Mutex

	types     [MaxFSTypes]*Descriptor
	typeCount int

	mounts []mountEntry

	files   [MaxOpenFiles]openFile
	nextFD  int

	stdin          Reader
	stdout, stderr Writer
}

// New constructs an empty switch: no types registered, no mounts.
func New() *VFS {
	return &VFS{nextFD: FirstFD}
}

// SetStdio wires the reserved descriptors. Any of the three may be
// nil, in which case operations against that fd fail with
// ErrNotInitialized.
func (v *VFS) SetStdio(stdin Reader, stdout, stderr Writer) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stdin = stdin
	v.stdout = stdout
	v.stderr = stderr
}

// Register appends a filesystem descriptor to the fixed-capacity type
// table. Names must be unique; lookup by name is linear, matching
// spec.md §4.4.
func (v *VFS) Register(d *Descriptor) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if d == nil || d.Name == "" {
		return fmt.Errorf("vfs.VFS.Register: %w", kerrors.ErrNullPointer)
	}

	if v.typeCount >= MaxFSTypes {
		return fmt.Errorf("vfs.VFS.Register(%s): %w", d.Name, kerrors.ErrSystemLimit)
	}

	for i := 0; i < v.typeCount; i++ {
		if v.types[i].Name == d.Name {
			return fmt.Errorf("vfs.VFS.Register(%s): %w", d.Name, kerrors.ErrInvalidParameter)
		}
	}

	v.types[v.typeCount] = d
	v.typeCount++

	return nil
}

func (v *VFS) lookupType(name string) *Descriptor {
	for i := 0; i < v.typeCount; i++ {
		if v.types[i].Name == name {
			return v.types[i]
		}
	}

	return nil
}

// Mount finds fstype by name, calls its Mount hook, and on success
// appends (mountPoint, descriptor, state, flags) to the mount table.
// Mounting at "/" marks the entry as root.
func (v *VFS) Mount(device, mountPoint, fstype string, flags int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.mounts) >= MaxMounts {
		return fmt.Errorf("vfs.VFS.Mount(%s): %w", mountPoint, kerrors.ErrSystemLimit)
	}

	d := v.lookupType(fstype)
	if d == nil {
		return fmt.Errorf("vfs.VFS.Mount: fstype %q: %w", fstype, kerrors.ErrDeviceNotFound)
	}

	if d.Mount == nil {
		return fmt.Errorf("vfs.VFS.Mount(%s): %w", fstype, kerrors.ErrNotSupported)
	}

	state, err := d.Mount(device, flags)
	if err != nil {
		return fmt.Errorf("vfs.VFS.Mount(%s): %w", fstype, err)
	}

	entry := mountEntry{
		active:     true,
		mountPoint: mountPoint,
		desc:       d,
		state:      state,
		flags:      flags,
		isRoot:     mountPoint == "/",
	}

	for i := range v.mounts {
		if !v.mounts[i].active {
			v.mounts[i] = entry

			return nil
		}
	}

	v.mounts = append(v.mounts, entry)

	return nil
}

// Unmount marks the mount entry matching mountPoint inactive, calling
// the descriptor's Unmount hook first. The slot is not removed from
// the slice -- doing so would shift indices still referenced by open
// files on other mounts -- it is simply excluded from resolve and
// reused by a later Mount.
func (v *VFS) Unmount(mountPoint string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := range v.mounts {
		if !v.mounts[i].active || v.mounts[i].mountPoint != mountPoint {
			continue
		}

		m := &v.mounts[i]

		if m.desc.Unmount != nil {
			if err := m.desc.Unmount(m.state); err != nil {
				return fmt.Errorf("vfs.VFS.Unmount(%s): %w", mountPoint, err)
			}
		}

		*m = mountEntry{}

		return nil
	}

	return fmt.Errorf("vfs.VFS.Unmount(%s): %w", mountPoint, kerrors.ErrDeviceNotFound)
}

// resolve finds the index of the mount entry whose path is the
// longest prefix of path (spec.md §4.4, tested by scenario F /
// property 7).
func (v *VFS) resolve(path string) (int, error) {
	bestIdx := -1
	bestLen := -1

	for i, m := range v.mounts {
		if !m.active || !hasPathPrefix(path, m.mountPoint) {
			continue
		}

		if len(m.mountPoint) > bestLen {
			bestLen = len(m.mountPoint)
			bestIdx = i
		}
	}

	if bestIdx == -1 {
		return -1, fmt.Errorf("vfs.VFS: resolve(%s): %w", path, kerrors.ErrDeviceNotFound)
	}

	return bestIdx, nil
}

// hasPathPrefix reports whether prefix is a path-component-respecting
// prefix of path: "/" matches everything, and any other prefix must
// either equal path exactly or be followed by "/".
func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}

	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}

	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Open resolves path to a mount, allocates the next fd, and calls the
// mount's Open hook. A failed Open releases the fd immediately.
func (v *VFS) Open(path string, flags int) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	mountIdx, err := v.resolve(path)
	if err != nil {
		return -1, err
	}

	m := &v.mounts[mountIdx]

	if m.desc.Open == nil {
		return -1, fmt.Errorf("vfs.VFS.Open(%s): %w", path, kerrors.ErrNotSupported)
	}

	slot := -1

	for i := FirstFD; i < MaxOpenFiles; i++ {
		if !v.files[i].inUse {
			slot = i

			break
		}
	}

	if slot == -1 {
		return -1, fmt.Errorf("vfs.VFS.Open(%s): %w", path, kerrors.ErrResourceExhausted)
	}

	h, err := m.desc.Open(m.state, path, flags)
	if err != nil {
		return -1, fmt.Errorf("vfs.VFS.Open(%s): %w", path, err)
	}

	v.files[slot] = openFile{
		inUse:    true,
		mountIdx: mountIdx,
		handle:   h,
		offset:   0,
		flags:    flags,
	}

	return slot, nil
}

func (v *VFS) fileAt(fd int) (*openFile, *mountEntry, error) {
	if fd < FirstFD || fd >= MaxOpenFiles || !v.files[fd].inUse {
		return nil, nil, fmt.Errorf("vfs.VFS: fd %d: %w", fd, kerrors.ErrInvalidHandle)
	}

	f := &v.files[fd]

	return f, &v.mounts[f.mountIdx], nil
}

// Close calls the owning filesystem's Close hook and clears the fd
// entry.
func (v *VFS) Close(fd int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if fd == FDStdin || fd == FDStdout || fd == FDStderr {
		return nil
	}

	f, m, err := v.fileAt(fd)
	if err != nil {
		return err
	}

	if m.desc.Close != nil {
		if err := m.desc.Close(m.state, f.handle); err != nil {
			return fmt.Errorf("vfs.VFS.Close(%d): %w", fd, err)
		}
	}

	v.files[fd] = openFile{}

	return nil
}

// Read special-cases fd 0 (stdin -> keyboard line read), otherwise
// delegates to the owning filesystem's Read at the current offset and
// advances it by the byte count returned.
func (v *VFS) Read(fd int, buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if fd == FDStdin {
		if v.stdin == nil {
			return 0, fmt.Errorf("vfs.VFS.Read(stdin): %w", kerrors.ErrNotInitialized)
		}

		return v.stdin.Read(buf)
	}

	if fd == FDStdout || fd == FDStderr {
		return 0, fmt.Errorf("vfs.VFS.Read(%d): %w", fd, kerrors.ErrAccessDenied)
	}

	f, m, err := v.fileAt(fd)
	if err != nil {
		return 0, err
	}

	if m.desc.Read == nil {
		return 0, fmt.Errorf("vfs.VFS.Read(%d): %w", fd, kerrors.ErrNotSupported)
	}

	n, err := m.desc.Read(m.state, f.handle, f.offset, buf)
	if err != nil {
		return n, fmt.Errorf("vfs.VFS.Read(%d): %w", fd, err)
	}

	f.offset += int64(n)

	return n, nil
}

// Write special-cases fd 1/2 (stdout/stderr -> console text),
// otherwise delegates to the owning filesystem's Write and advances
// the offset.
func (v *VFS) Write(fd int, buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if fd == FDStdout {
		if v.stdout == nil {
			return 0, fmt.Errorf("vfs.VFS.Write(stdout): %w", kerrors.ErrNotInitialized)
		}

		return v.stdout.Write(buf)
	}

	if fd == FDStderr {
		if v.stderr == nil {
			return 0, fmt.Errorf("vfs.VFS.Write(stderr): %w", kerrors.ErrNotInitialized)
		}

		return v.stderr.Write(buf)
	}

	if fd == FDStdin {
		return 0, fmt.Errorf("vfs.VFS.Write(stdin): %w", kerrors.ErrAccessDenied)
	}

	f, m, err := v.fileAt(fd)
	if err != nil {
		return 0, err
	}

	if m.desc.Write == nil {
		return 0, fmt.Errorf("vfs.VFS.Write(%d): %w", fd, kerrors.ErrNotSupported)
	}

	n, err := m.desc.Write(m.state, f.handle, f.offset, buf)
	if err != nil {
		return n, fmt.Errorf("vfs.VFS.Write(%d): %w", fd, err)
	}

	f.offset += int64(n)

	return n, nil
}

// Seek delegates to the owning filesystem's Seek hook if it provides
// one; otherwise it performs a generic SET/CUR offset update (END is
// unsupported without a size hook, per spec.md §4.4).
func (v *VFS) Seek(fd int, offset int64, whence int) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, m, err := v.fileAt(fd)
	if err != nil {
		return 0, err
	}

	if m.desc.Seek != nil {
		pos, err := m.desc.Seek(m.state, f.handle, offset, whence)
		if err != nil {
			return 0, fmt.Errorf("vfs.VFS.Seek(%d): %w", fd, err)
		}

		f.offset = pos

		return pos, nil
	}

	switch whence {
	case SeekSet:
		f.offset = offset
	case SeekCur:
		f.offset += offset
	default:
		return 0, fmt.Errorf("vfs.VFS.Seek(%d): whence %d: %w", fd, whence, kerrors.ErrNotSupported)
	}

	return f.offset, nil
}

// Mkdir, Rmdir, and Unlink resolve path to a mount and delegate; a nil
// hook means the filesystem is structurally read-only (DevFS).
func (v *VFS) Mkdir(path string) error  { return v.pathOp(path, func(d *Descriptor) func(MountState, string) error { return d.Mkdir }) }
func (v *VFS) Rmdir(path string) error  { return v.pathOp(path, func(d *Descriptor) func(MountState, string) error { return d.Rmdir }) }
func (v *VFS) Unlink(path string) error { return v.pathOp(path, func(d *Descriptor) func(MountState, string) error { return d.Unlink }) }

// Stat resolves path to a mount and delegates to its Stat hook; a nil
// hook means the filesystem doesn't support it.
func (v *VFS) Stat(path string) (FileInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	mountIdx, err := v.resolve(path)
	if err != nil {
		return FileInfo{}, err
	}

	m := &v.mounts[mountIdx]

	if m.desc.Stat == nil {
		return FileInfo{}, fmt.Errorf("vfs.VFS.Stat(%s): %w", path, kerrors.ErrNotSupported)
	}

	info, err := m.desc.Stat(m.state, path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("vfs.VFS.Stat(%s): %w", path, err)
	}

	return info, nil
}

func (v *VFS) pathOp(path string, pick func(*Descriptor) func(MountState, string) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	mountIdx, err := v.resolve(path)
	if err != nil {
		return err
	}

	m := &v.mounts[mountIdx]

	op := pick(m.desc)
	if op == nil {
		return fmt.Errorf("vfs.VFS: %s: %w", path, kerrors.ErrNotSupported)
	}

	if err := op(m.state, path); err != nil {
		return fmt.Errorf("vfs.VFS: %s: %w", path, err)
	}

	return nil
}
