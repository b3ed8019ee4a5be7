package devfs

import (
	"fmt"
	"io"
	"sync"

	"github.com/kedarmahale/minikernel/kerrors"
)

// Serial is an 8250-shaped serial port minor for the ttyS0/ttyS1 devfs
// nodes: an IER/LCR register pair plus a bounded receive FIFO, grounded
// on the teacher's serial.Serial (same field names, same bounded input
// channel), reduced to plain Read/Write for VFS consumption instead of
// port-mapped In/Out. dlab reports LCR bit 7, but no operation here is
// gated on it.
type Serial struct {
	mu sync.Mutex

	IER byte
	LCR byte

	rx  chan byte
	out io.Writer
}

const (
	rxFIFOCapacity = 10000 // matches the teacher's inputChan buffer size
	maxWritePolls  = 64    // bounded retry budget before a Write times out
)

// NewSerial returns a Serial whose outbound byte stream is written to
// out (io.Discard if nil).
func NewSerial(out io.Writer) *Serial {
	if out == nil {
		out = io.Discard
	}

	return &Serial{rx: make(chan byte, rxFIFOCapacity), out: out}
}

func (s *Serial) dlab() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.LCR&0x80 != 0
}

// Feed simulates the wire delivering one received byte. It reports
// whether the byte was accepted; false means the receive FIFO is full
// and the byte was dropped, mirroring real 8250 overrun behavior.
func (s *Serial) Feed(b byte) bool {
	select {
	case s.rx <- b:
		return true
	default:
		return false
	}
}

// Read drains whatever is currently queued in the receive FIFO,
// non-blocking, up to len(buf).
func (s *Serial) Read(buf []byte) (int, error) {
	n := 0

	for n < len(buf) {
		select {
		case b := <-s.rx:
			buf[n] = b
			n++
		default:
			return n, nil
		}
	}

	return n, nil
}

// Write pushes each byte through a bounded polling loop standing in for
// the real THR-empty wait; exhausting the poll budget without a
// successful write returns ErrTimeout with the count of bytes that did
// make it out (spec.md §5's cancellation/timeout guarantee).
func (s *Serial) Write(buf []byte) (int, error) {
	for i, b := range buf {
		sent := false

		for poll := 0; poll < maxWritePolls; poll++ {
			if n, err := s.out.Write([]byte{b}); err == nil && n == 1 {
				sent = true

				break
			}
		}

		if !sent {
			return i, fmt.Errorf("devfs: serial write: %w", kerrors.ErrTimeout)
		}
	}

	return len(buf), nil
}
