// Command kernel is the boot entry point once the (out-of-scope)
// assembly trampoline has handed control to Go code: parse boot-time
// flags, build the kernel, bring every subsystem up, and run.
package main

import (
	"encoding/binary"
	"errors"
	"log"
	"os"

	"github.com/kedarmahale/minikernel/config"
	"github.com/kedarmahale/minikernel/kernel"
	"github.com/kedarmahale/minikernel/multiboot"
)

// demoMemoryMap stands in for the real Multiboot info a loader would
// hand us; this hosted translation has no boot loader of its own, so
// it announces the same 32 MiB / kernel_end=0x150000 layout spec.md's
// frame-bitmap scenario uses.
func demoMemoryMap() *multiboot.Info {
	const (
		base   = 0x200000
		length = 32 << 20
	)

	rec := make([]byte, 20)
	binary.LittleEndian.PutUint64(rec[0:8], base)
	binary.LittleEndian.PutUint64(rec[8:16], length)
	binary.LittleEndian.PutUint32(rec[16:20], multiboot.TypeAvailable)

	data := make([]byte, 4+len(rec))
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(rec)))
	copy(data[4:], rec)

	return &multiboot.Info{
		Flags:      1 << 6,
		MmapAddr:   1,
		MmapLength: uint32(len(data)),
		MmapData:   data,
	}
}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	k := kernel.New(cfg)

	if err := k.Init(demoMemoryMap()); err != nil {
		log.Fatal(err)
	}

	if err := k.Run(); err != nil {
		if errors.Is(err, kernel.ErrRecoveryMode) {
			log.Fatal("kernel halted: recovery mode, no usable memory map")
		}

		log.Fatal(err)
	}
}
