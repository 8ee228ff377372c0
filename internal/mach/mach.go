// Package mach models the privileged hardware surface the boot stages run
// against: physical memory, the CPU register/control state, the x86 port
// bus and the firmware disk service. Boot logic only ever touches hardware
// through these interfaces, so the whole pipeline can execute on a host
// without privileged instructions.
package mach

import (
	"errors"
	"io"
)

var (
	// ErrHalted is returned by boot stages once the machine has entered a
	// fatal halt loop. No further progress is possible.
	ErrHalted = errors.New("machine halted")
)

// Memory is byte-addressable physical memory. ReadAt and WriteAt take
// physical addresses, not offsets into the backing store.
type Memory interface {
	io.ReaderAt
	io.WriterAt

	MemoryBase() uint64
	MemorySize() uint64
}

// Machine aggregates the capabilities handed to a boot stage. Stages run
// strictly sequentially on a single CPU; nothing here is safe for
// concurrent use.
type Machine struct {
	Mem   Memory
	CPU   CPU
	Ports *PortBus
	Disk  Disk
}

// Config describes the machine an emulated boot runs on.
type Config struct {
	MemoryBase uint64
	MemorySize uint64
	Disk       Disk
}

// New builds a machine with RAM, an emulated CPU and an empty port bus.
// Devices (serial, i8042, PIC) are attached by the caller.
func New(cfg Config) *Machine {
	return &Machine{
		Mem:   NewRAM(cfg.MemoryBase, cfg.MemorySize),
		CPU:   NewEmulatedCPU(),
		Ports: NewPortBus(),
		Disk:  cfg.Disk,
	}
}
