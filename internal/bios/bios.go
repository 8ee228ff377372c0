// Package bios implements the BIOS boot path as a sequential state
// machine: boot sector, real-mode stage 2, the 32-bit protected-mode
// loader, and the 64-bit transition stub. Each stage is a hard
// precondition for the next; every failure path prints a serial
// diagnostic and halts the machine permanently.
package bios

import (
	"fmt"

	"github.com/guardbsd/guaboot/internal/bootinfo"
	"github.com/guardbsd/guaboot/internal/devices/serial"
	"github.com/guardbsd/guaboot/internal/mach"
)

// Handoff is the final kernel entry contract, captured from CPU state
// after the transition stub runs: RDI holds the magic, RSI the BootInfo
// pointer, RIP the entry point, and every other GPR is zero.
type Handoff struct {
	Entry    uint64
	BootInfo uint64
	Magic    uint32
}

// Pipeline drives one boot attempt on a machine.
type Pipeline struct {
	m    *mach.Machine
	cons *serial.Console

	// Prober supplies the E820 memory map. When nil or empty, the loader
	// falls back to the fixed degraded map.
	Prober MemoryProber

	// Cmdline and Modules are carried into BootInfo.
	Cmdline string
	Modules []bootinfo.Module
}

// NewPipeline builds a pipeline for m. The serial console is programmed
// immediately, exactly as the boot sector does first thing on hardware.
func NewPipeline(m *mach.Machine) *Pipeline {
	return &Pipeline{
		m:    m,
		cons: serial.NewConsole(m.Ports, serial.COM1Base),
	}
}

// Boot runs the full BIOS path with the firmware-supplied drive number
// and returns the kernel handoff. Any error means the machine halted.
func (p *Pipeline) Boot(bootDrive uint8) (*Handoff, error) {
	drive, err := p.runBootSector(bootDrive)
	if err != nil {
		return nil, err
	}
	if err := p.runStage2(drive); err != nil {
		return nil, err
	}
	if err := p.runLoader(); err != nil {
		return nil, err
	}
	if err := p.runStub64(); err != nil {
		return nil, err
	}

	cpu := p.m.CPU
	return &Handoff{
		Entry:    cpu.GetRegister(mach.RegisterRip),
		BootInfo: cpu.GetRegister(mach.RegisterRsi),
		Magic:    uint32(cpu.GetRegister(mach.RegisterRdi)),
	}, nil
}

// fatal prints the diagnostic, halts the CPU and returns the terminal
// error. There is no recovery: a loader that cannot establish a
// trustworthy kernel image must not proceed.
func (p *Pipeline) fatal(msg string, err error) error {
	p.cons.Puts("ERROR: " + msg + "\n")
	p.cons.Puts("System halted.\n")
	p.m.CPU.Halt()
	if err != nil {
		return fmt.Errorf("%s: %w: %w", msg, err, mach.ErrHalted)
	}
	return fmt.Errorf("%s: %w", msg, mach.ErrHalted)
}
