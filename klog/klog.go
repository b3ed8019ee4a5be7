// Package klog is the kernel's process-wide leveled logger. It wraps a
// single *log.Logger the way gokvm wraps nothing at all -- no
// structured-logging dependency, just Printf-shaped methods gated by
// level, because that is the only logging gokvm's own code ever does.
package klog

import (
	"io"
	"log"
	"os"
	"sync"
)

// Level is a plain enum, per spec.md's note that "the log level stays
// a plain enum" even where the message-passing gets richer.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	mu     sync.Mutex
	min    = LevelInfo
	logger = log.New(os.Stderr, "", log.LstdFlags)
)

// SetOutput redirects the sink, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	logger = log.New(w, "", log.LstdFlags)
}

// SetLevel sets the minimum level that is actually written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()

	min = l
}

func write(l Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if l < min {
		return
	}

	logger.Printf("["+l.String()+"] "+format, args...)
}

func Debugf(format string, args ...any) { write(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { write(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { write(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { write(LevelError, format, args...) }

// Fatalf logs at error level then terminates the process. Only ever
// appropriate from cmd/kernel's top level -- subsystem code must return
// an error instead.
func Fatalf(format string, args ...any) {
	write(LevelError, format, args...)
	os.Exit(1)
}
