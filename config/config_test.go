package config_test

import (
	"testing"

	"github.com/kedarmahale/minikernel/config"
	"github.com/kedarmahale/minikernel/klog"
)

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	c, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.LogLevel != klog.LevelInfo {
		t.Fatalf("LogLevel = %v, want LevelInfo", c.LogLevel)
	}

	if !c.EnableSerial0 || c.EnableSerial1 {
		t.Fatalf("EnableSerial0/1 = %v/%v, want true/false", c.EnableSerial0, c.EnableSerial1)
	}

	if c.RandomSeed != 0 {
		t.Fatalf("RandomSeed = %d, want 0", c.RandomSeed)
	}
}

func TestParseOverrides(t *testing.T) {
	t.Parallel()

	c, err := config.Parse([]string{"-loglevel=debug", "-ttyS1", "-seed=4k"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.LogLevel != klog.LevelDebug {
		t.Fatalf("LogLevel = %v, want LevelDebug", c.LogLevel)
	}

	if !c.EnableSerial1 {
		t.Fatal("EnableSerial1 = false, want true")
	}

	if c.RandomSeed != 4<<10 {
		t.Fatalf("RandomSeed = %d, want %d", c.RandomSeed, 4<<10)
	}
}

func TestParseRejectsInvalidLogLevel(t *testing.T) {
	t.Parallel()

	if _, err := config.Parse([]string{"-loglevel=verbose"}); err == nil {
		t.Fatal("Parse accepted an invalid -loglevel")
	}
}

func TestParseRejectsMalformedSeed(t *testing.T) {
	t.Parallel()

	if _, err := config.Parse([]string{"-seed=notanumber"}); err == nil {
		t.Fatal("Parse accepted a malformed -seed")
	}
}
