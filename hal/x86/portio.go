package x86

// inb/inw/inl/outb/outw/outl are the only exposed path to raw ports
// (spec.md §4.1). They operate on a simulated 64K port space: writes
// to the PIC/PIT command and data ports additionally update the
// backend's internal controller state so higher layers (ackIRQ,
// configureTimer) observe a consistent view, the same way a real
// write would be observed by the physical chip sitting behind the
// port rather than by the generic backing array.
func (b *backend) inb(port uint16) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch port {
	case picMasterData:
		return b.picMasterMask
	case picSlaveData:
		return b.picSlaveMask
	default:
		return uint8(b.ports[port])
	}
}

func (b *backend) inw(port uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return uint16(b.ports[port])
}

func (b *backend) inl(port uint16) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ports[port]
}

func (b *backend) outb(port uint16, v uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch port {
	case picMasterCommand, picSlaveCommand:
		// ICW1/OCW2 writes. EOI (picEOI) handled explicitly by ackIRQ;
		// anything else is just recorded.
		b.ports[port] = uint32(v)
	case picMasterData:
		if v == picMasterOffset {
			b.ports[port] = uint32(v)
		} else {
			b.picMasterMask = v
		}
	case picSlaveData:
		if v == picSlaveOffset {
			b.ports[port] = uint32(v)
		} else {
			b.picSlaveMask = v
		}
	case pitCommand:
		b.ports[port] = uint32(v)
	case pitChannel0:
		// Low byte then high byte of the 16-bit divisor; callers that
		// go through configureTimer never need this path, but direct
		// port writers (tests) can still exercise it. The backing slot
		// for this port holds the low/high byte toggle.
		if b.ports[port] == 0 {
			b.pitDivisor = (b.pitDivisor & 0xFF00) | uint16(v)
			b.ports[port] = 1
		} else {
			b.pitDivisor = (b.pitDivisor & 0x00FF) | uint16(v)<<8
			b.ports[port] = 0
		}
	default:
		b.ports[port] = uint32(v)
	}
}

func (b *backend) outw(port uint16, v uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[port] = uint32(v)
}

func (b *backend) outl(port uint16, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[port] = v
}
