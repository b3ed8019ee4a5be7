package x86

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// exceptionNames are the CPU-exception vectors 0-31 the common
// dispatcher reports by name (spec.md §4.1). Reserved/unassigned
// vectors in this range fall back to a generic label.
var exceptionNames = map[int]string{
	0:  "divide error",
	1:  "debug",
	2:  "nmi",
	3:  "breakpoint",
	4:  "overflow",
	5:  "bound range exceeded",
	6:  "invalid opcode",
	7:  "device not available",
	8:  "double fault",
	10: "invalid tss",
	11: "segment not present",
	12: "stack-segment fault",
	13: "general protection fault",
	14: "page fault",
	16: "x87 floating-point exception",
	17: "alignment check",
	18: "machine check",
	19: "simd floating-point exception",
}

func exceptionName(vector int) string {
	if name, ok := exceptionNames[vector]; ok {
		return name
	}

	return "reserved exception"
}

// disassembleAt decodes the instruction bytes captured at a faulting
// instruction pointer into a human-readable mnemonic, for inclusion in
// exception/panic diagnostics. Grounded on the teacher's
// machine/debug_amd64.go CallInfo, which disassembles the guest
// instruction at the faulting RIP the same way.
func disassembleAt(ip uintptr, code []byte) string {
	if len(code) == 0 {
		return "<no instruction bytes captured>"
	}

	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return fmt.Sprintf("<undecodable at 0x%x: %v>", ip, err)
	}

	return fmt.Sprintf("0x%x: %s", ip, x86asm.GNUSyntax(inst, uint64(ip), nil))
}

// dumpException renders a full diagnostic line for a CPU exception or
// unhandled-IRQ report: the named exception (or the raw vector number), the
// faulting instruction pointer, and its disassembly when code bytes
// were captured.
func (b *backend) dumpException(vector int, ip uintptr, code []byte) string {
	if vector < 32 {
		return fmt.Sprintf("exception %d (%s) at %s", vector, exceptionName(vector), disassembleAt(ip, code))
	}

	return fmt.Sprintf("unexpected vector %d at %s", vector, disassembleAt(ip, code))
}
