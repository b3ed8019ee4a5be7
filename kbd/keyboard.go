// Package kbd is the PS/2 keyboard driver: it owns IRQ 1, translates
// scancodes to events, and delivers them through a bounded ring
// (spec.md §4.5).
package kbd

import (
	"fmt"
	"sync"

	"github.com/kedarmahale/minikernel/hal"
	"github.com/kedarmahale/minikernel/kerrors"
)

const (
	dataPort   uint16 = 0x60
	statusPort uint16 = 0x64

	statusOutputFull = 1 << 0

	irqLine = 1
)

// Driver owns the modifier state and the event ring; it is installed
// once via Init and thereafter driven by IRQ 1.
type Driver struct {
	mu sync.Mutex

	ops *hal.CapabilitySet

	ring EventRing

	shift bool
	ctrl  bool
	alt   bool
}

// Init registers the IRQ-1 handler, unmasks it, and drains whatever is
// sitting in the PS/2 output buffer (spec.md §4.5 contract).
func (d *Driver) Init(ops *hal.CapabilitySet) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ops == nil || ops.Interrupt == nil || ops.IO == nil {
		return fmt.Errorf("kbd.Driver.Init: %w", kerrors.ErrNullPointer)
	}

	d.ops = ops

	if err := ops.Interrupt.Register(irqLine, d.handleIRQ); err != nil {
		return fmt.Errorf("kbd.Driver.Init: registering IRQ %d: %w", irqLine, err)
	}

	if err := ops.Interrupt.Unmask(irqLine); err != nil {
		return fmt.Errorf("kbd.Driver.Init: unmasking IRQ %d: %w", irqLine, err)
	}

	for ops.IO.Inb(statusPort)&statusOutputFull != 0 {
		ops.IO.Inb(dataPort)
	}

	return nil
}

// handleIRQ is the IRQ-1 handler installed at Init. It reads the
// status port, bails if the output buffer is empty, otherwise decodes
// one scancode and enqueues the resulting event.
func (d *Driver) handleIRQ(int) {
	if d.ops.IO.Inb(statusPort)&statusOutputFull == 0 {
		return
	}

	data := d.ops.IO.Inb(dataPort)

	pressed := data&releaseBit == 0
	code := data &^ releaseBit

	switch code {
	case scLeftShift, scRightShift:
		d.shift = pressed

		return
	case scCtrl:
		d.ctrl = pressed

		return
	case scAlt:
		d.alt = pressed

		return
	}

	ev := Event{
		Scancode: code,
		Char:     translate(code, d.shift),
		Pressed:  pressed,
		Shift:    d.shift,
		Ctrl:     d.ctrl,
		Alt:      d.alt,
	}

	d.ring.push(ev)
}

// GetEvent is the non-blocking dequeue: it returns ok=false
// (NotReady, per spec.md §4.5) when the ring is empty.
func (d *Driver) GetEvent() (Event, bool) {
	return d.ring.pop()
}

// CheckKey is a non-blocking queue-non-empty test.
func (d *Driver) CheckKey() bool {
	return d.ring.Len() > 0
}

// WaitForKey busy-waits, halting the CPU between polls, until a
// pressed printable key arrives, then returns its ASCII character.
func (d *Driver) WaitForKey() byte {
	for {
		ev, ok := d.ring.pop()
		if ok && ev.Pressed && ev.Char != 0 {
			return ev.Char
		}

		if d.ops != nil && d.ops.CPU != nil && d.ops.CPU.Halt != nil {
			d.ops.CPU.Halt()
		}
	}
}

// Gets is an echoed line editor: it accumulates printable ASCII into
// buf (capacity max), supports backspace, and stops at CR/LF. It
// returns the line length. echo, if non-nil, is called once per
// accepted character (including the backspace erase sequence) so a
// caller can mirror keystrokes to the console.
func (d *Driver) Gets(buf []byte, max int, echo func(b byte)) int {
	n := 0

	for n < max-1 {
		ch := d.WaitForKey()

		if ch == '\r' || ch == '\n' {
			if echo != nil {
				echo('\n')
			}

			break
		}

		if ch == 0x08 || ch == 0x7F {
			if n > 0 {
				n--

				if echo != nil {
					echo(0x08)
				}
			}

			continue
		}

		buf[n] = ch
		n++

		if echo != nil {
			echo(ch)
		}
	}

	return n
}

// Stats reports the event ring's bookkeeping.
func (d *Driver) Stats() Stats {
	return d.ring.stats()
}

// Read adapts Driver to vfs.Reader: it performs a single Gets call
// into buf, terminating the returned line with '\n' if room remains,
// so devfs's console/keyboard minors and the VFS's fd-0 special case
// can read it as an ordinary line read.
func (d *Driver) Read(buf []byte) (int, error) {
	n := d.Gets(buf, len(buf), nil)

	if n < len(buf) {
		buf[n] = '\n'
		n++
	}

	return n, nil
}
