// Package kerrors defines the single error taxonomy shared by every
// subsystem in the kernel core. Operations return these sentinels,
// usually wrapped with fmt.Errorf("op: %w", ...), and callers compare
// with errors.Is rather than string matching.
package kerrors

import "errors"

// Parameter errors: the caller passed something the callee cannot act on.
var (
	ErrNullPointer      = errors.New("null pointer")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidSize      = errors.New("invalid size")
	ErrInvalidAlignment = errors.New("invalid alignment")
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidHandle    = errors.New("invalid handle")
)

// Memory errors.
var (
	ErrOutOfMemory     = errors.New("out of memory")
	ErrMemoryCorruption = errors.New("memory corruption")
	ErrDoubleFree       = errors.New("double free")
	ErrHeapExhausted    = errors.New("heap exhausted")
	ErrBadAllocation    = errors.New("bad allocation")
)

// Hardware / initialization errors.
var (
	ErrHardwareFailure     = errors.New("hardware failure")
	ErrNotInitialized      = errors.New("not initialized")
	ErrAlreadyInitialized  = errors.New("already initialized")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceBusy          = errors.New("device busy")
)

// System errors.
var (
	ErrTimeout          = errors.New("timeout")
	ErrNotSupported     = errors.New("not supported")
	ErrAccessDenied     = errors.New("access denied")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrSystemLimit      = errors.New("system limit")
)

// I/O errors.
var (
	ErrIoFailure      = errors.New("i/o failure")
	ErrReadFailure    = errors.New("read failure")
	ErrWriteFailure   = errors.New("write failure")
	ErrSeekFailure    = errors.New("seek failure")
	ErrConnectionLost = errors.New("connection lost")
	ErrProtocolError  = errors.New("protocol error")
)

// Category groups of sentinel errors, for tagging a log line without a
// giant switch living in every caller.
const (
	CategoryParameter = "parameter"
	CategoryMemory    = "memory"
	CategoryHardware  = "hardware"
	CategorySystem    = "system"
	CategoryIO        = "io"
	CategoryUnknown   = "unknown"
)

var categoryOf = map[error]string{
	ErrNullPointer:      CategoryParameter,
	ErrInvalidParameter: CategoryParameter,
	ErrInvalidSize:      CategoryParameter,
	ErrInvalidAlignment: CategoryParameter,
	ErrBufferTooSmall:   CategoryParameter,
	ErrInvalidState:     CategoryParameter,
	ErrInvalidHandle:    CategoryParameter,

	ErrOutOfMemory:      CategoryMemory,
	ErrMemoryCorruption: CategoryMemory,
	ErrDoubleFree:       CategoryMemory,
	ErrHeapExhausted:    CategoryMemory,
	ErrBadAllocation:    CategoryMemory,

	ErrHardwareFailure:      CategoryHardware,
	ErrNotInitialized:       CategoryHardware,
	ErrAlreadyInitialized:   CategoryHardware,
	ErrInitializationFailed: CategoryHardware,
	ErrDeviceNotFound:       CategoryHardware,
	ErrDeviceBusy:           CategoryHardware,

	ErrTimeout:           CategorySystem,
	ErrNotSupported:      CategorySystem,
	ErrAccessDenied:      CategorySystem,
	ErrResourceExhausted: CategorySystem,
	ErrSystemLimit:       CategorySystem,

	ErrIoFailure:      CategoryIO,
	ErrReadFailure:    CategoryIO,
	ErrWriteFailure:   CategoryIO,
	ErrSeekFailure:    CategoryIO,
	ErrConnectionLost: CategoryIO,
	ErrProtocolError:  CategoryIO,
}

// Category reports which taxonomy group err's root sentinel belongs to,
// walking the error chain with errors.Is. Returns CategoryUnknown for
// errors outside this taxonomy (including nil).
func Category(err error) string {
	if err == nil {
		return CategoryUnknown
	}

	for sentinel, cat := range categoryOf {
		if errors.Is(err, sentinel) {
			return cat
		}
	}

	return CategoryUnknown
}
