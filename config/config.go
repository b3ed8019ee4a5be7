// Package config parses the kernel's boot-time command-line tunables,
// the way the teacher's flag package parses BootArgs: a flag.FlagSet
// wrapped in a single Parse entry point, plus the teacher's own
// num[gGmMkK] size-string convention reused for numeric flags that
// accept a unit suffix.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/kedarmahale/minikernel/klog"
)

// ErrInvalidLogLevel is returned when -loglevel names something other
// than debug/info/warn/error.
var ErrInvalidLogLevel = errors.New("config: invalid log level")

// Config holds every boot-time tunable the orchestrator reads before
// bringing up the HAL/memory manager/scheduler/VFS chain.
type Config struct {
	LogLevel klog.Level

	// EnableSerial0/EnableSerial1 gate whether /dev/ttyS0 and
	// /dev/ttyS1 are wired to a live devfs serial minor at all, or left
	// nil (reads/writes fail ErrNotSupported).
	EnableSerial0 bool
	EnableSerial1 bool

	// RandomSeed seeds /dev/random's LCG. Zero means "derive the seed
	// from the current tick count at mount time" instead.
	RandomSeed int
}

// Parse parses args (normally os.Args[1:]) into a Config. Unknown
// flags or a malformed -loglevel/-seed value are reported as errors
// rather than calling os.Exit, so callers (and tests) can recover.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("kernel", flag.ContinueOnError)

	level := fs.String("loglevel", "info", "log level: debug, info, warn, or error")
	serial0 := fs.Bool("ttyS0", true, "wire /dev/ttyS0 to a live serial minor")
	serial1 := fs.Bool("ttyS1", false, "wire /dev/ttyS1 to a live serial minor")
	seed := fs.String("seed", "0", "seed for /dev/random's generator, as num[kKmMgG] (0 = derive from boot tick)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	lvl, err := parseLevel(*level)
	if err != nil {
		return nil, err
	}

	seedVal, err := ParseSize(*seed, "")
	if err != nil {
		return nil, fmt.Errorf("config: -seed: %w", err)
	}

	return &Config{
		LogLevel:      lvl,
		EnableSerial0: *serial0,
		EnableSerial1: *serial1,
		RandomSeed:    seedVal,
	}, nil
}

func parseLevel(s string) (klog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return klog.LevelDebug, nil
	case "info":
		return klog.LevelInfo, nil
	case "warn":
		return klog.LevelWarn, nil
	case "error":
		return klog.LevelError, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidLogLevel)
	}
}

// ParseSize parses a size string as number[gGmMkK]; the multiplier is
// optional and, when absent, unit is used instead. Ported verbatim
// from the teacher's flag.ParseSize.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q: can't parse as num[gGmMkK]: %w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	switch unit {
	case "G", "g":
		return int(amt) << 30, nil
	case "M", "m":
		return int(amt) << 20, nil
	case "K", "k":
		return int(amt) << 10, nil
	case "":
		return int(amt), nil
	default:
		return -1, fmt.Errorf("can not parse %q as num[gGmMkK]: %w", s, strconv.ErrSyntax)
	}
}
