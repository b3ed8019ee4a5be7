package devfs_test

import (
	"bytes"
	"testing"

	"github.com/kedarmahale/minikernel/vfs"
	"github.com/kedarmahale/minikernel/vfs/devfs"
)

func TestSerialFeedAndReadRoundTrip(t *testing.T) {
	t.Parallel()

	s := devfs.NewSerial(nil)

	for _, b := range []byte("hi") {
		if !s.Feed(b) {
			t.Fatalf("Feed(%q) reported FIFO full", b)
		}
	}

	buf := make([]byte, 8)

	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if string(buf[:n]) != "hi" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hi")
	}
}

func TestSerialWriteReachesSink(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	s := devfs.NewSerial(&out)

	n, err := s.Write([]byte("out"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}

	if out.String() != "out" {
		t.Fatalf("sink = %q, want %q", out.String(), "out")
	}
}

func TestDevTTYS0RoutesThroughSerialMinor(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	ttys0 := devfs.NewSerial(&out)
	ttys0.Feed('x')

	v := vfs.New()
	if err := v.Register(devfs.NewDescriptor(devfs.Options{TTYS0: ttys0})); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := v.Mount("", "/dev", "devfs", 0); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	fd, err := v.Open("/dev/ttyS0", vfs.ORdWr)
	if err != nil {
		t.Fatalf("Open /dev/ttyS0: %v", err)
	}

	if _, err := v.Write(fd, []byte("y")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if out.String() != "y" {
		t.Fatalf("sink = %q, want %q", out.String(), "y")
	}

	buf := make([]byte, 4)

	n, err := v.Read(fd, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if string(buf[:n]) != "x" {
		t.Fatalf("Read = %q, want %q", buf[:n], "x")
	}
}
