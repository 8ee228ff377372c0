package bios

import (
	"errors"
	"fmt"

	"github.com/guardbsd/guaboot/internal/devices/i8042"
	"github.com/guardbsd/guaboot/internal/devices/pic"
	"github.com/guardbsd/guaboot/internal/gdt"
	"github.com/guardbsd/guaboot/internal/mach"
)

// a20PollLimit bounds the 8042 status polls. A controller that never
// drains is broken hardware; spinning forever on it would hang the boot
// with no diagnostic.
const a20PollLimit = 0x10000

// runStage2 is the real-mode second stage: load the remaining boot
// pieces off disk, record the handoff slots, quiesce the legacy
// interrupt hardware, open the A20 gate and switch to protected mode.
func (p *Pipeline) runStage2(drive uint8) error {
	p.cons.Puts("Stage 2 running\n")

	if err := mach.WriteU64(p.m.Mem, SlotBootDrive, uint64(drive)); err != nil {
		return p.fatal("record boot drive", err)
	}

	if err := p.loadStage(drive, LoaderLBA, LoaderSectors, LoaderAddr); err != nil {
		return p.fatal("loader read failed", err)
	}
	if err := p.loadStage(drive, Stub64LBA, Stub64Sectors, Stub64Addr); err != nil {
		return p.fatal("stub read failed", err)
	}
	if err := p.loadStage(drive, KernelLBA, KernelMaxSectors, KernelBufferAddr); err != nil {
		return p.fatal("kernel read failed", err)
	}
	if err := mach.WriteU64(p.m.Mem, SlotKernelImage, KernelBufferAddr); err != nil {
		return p.fatal("record kernel image address", err)
	}
	p.cons.Puts("Kernel image staged\n")

	// Mask every line on both PICs. Nothing may fire between here and the
	// kernel installing its own IDT.
	if err := p.m.Ports.Out(pic.PrimaryData, 0xFF); err != nil {
		return p.fatal("mask primary PIC", err)
	}
	if err := p.m.Ports.Out(pic.SecondaryData, 0xFF); err != nil {
		return p.fatal("mask secondary PIC", err)
	}

	if err := p.enableA20(); err != nil {
		return p.fatal("A20 line did not enable", err)
	}
	p.cons.Puts("A20 enabled\n")

	ptr, err := gdt.Write(p.m.Mem, GDTBase, gdt.BootTable())
	if err != nil {
		return p.fatal("build GDT", err)
	}
	if err := p.m.CPU.LoadGDT(ptr); err != nil {
		return p.fatal("load GDT", err)
	}

	p.m.CPU.SetInterruptsEnabled(false)

	cr0 := p.m.CPU.ReadCR(mach.CR0)
	if err := p.m.CPU.WriteCR(mach.CR0, cr0|mach.CR0PE); err != nil {
		return p.fatal("enable protected mode", err)
	}

	if err := p.m.CPU.FarJump(gdt.SelectorCode32, LoaderAddr); err != nil {
		return p.fatal("jump to loader", err)
	}
	if err := p.m.CPU.SetSegments(gdt.SelectorCode32, gdt.SelectorData32); err != nil {
		return p.fatal("reload segments", err)
	}
	return nil
}

// enableA20 runs the keyboard-controller A20 handshake: disable the
// keyboard, read the output port, set the gate bit, write it back,
// re-enable the keyboard, then read the port again to verify the gate
// actually opened.
func (p *Pipeline) enableA20() error {
	bus := p.m.Ports

	if err := p.waitInputClear(); err != nil {
		return err
	}
	if err := bus.Out(i8042.CommandPort, 0xAD); err != nil {
		return err
	}

	val, err := p.readOutputPort()
	if err != nil {
		return err
	}

	if err := p.waitInputClear(); err != nil {
		return err
	}
	if err := bus.Out(i8042.CommandPort, 0xD1); err != nil {
		return err
	}
	if err := bus.Out(i8042.DataPort, val|0x02); err != nil {
		return err
	}

	if err := p.waitInputClear(); err != nil {
		return err
	}
	if err := bus.Out(i8042.CommandPort, 0xAE); err != nil {
		return err
	}

	verify, err := p.readOutputPort()
	if err != nil {
		return err
	}
	if verify&0x02 == 0 {
		return fmt.Errorf("output port reads %#02x after gate write", verify)
	}
	return nil
}

// readOutputPort issues command 0xD0 and waits for the result byte.
func (p *Pipeline) readOutputPort() (byte, error) {
	if err := p.waitInputClear(); err != nil {
		return 0, err
	}
	if err := p.m.Ports.Out(i8042.CommandPort, 0xD0); err != nil {
		return 0, err
	}
	for i := 0; i < a20PollLimit; i++ {
		status, err := p.m.Ports.In(i8042.CommandPort)
		if err != nil {
			return 0, err
		}
		if status&0x01 != 0 {
			return p.m.Ports.In(i8042.DataPort)
		}
	}
	return 0, errors.New("keyboard controller output never became ready")
}

// waitInputClear polls until the controller input buffer drains.
func (p *Pipeline) waitInputClear() error {
	for i := 0; i < a20PollLimit; i++ {
		status, err := p.m.Ports.In(i8042.CommandPort)
		if err != nil {
			return err
		}
		if status&0x02 == 0 {
			return nil
		}
	}
	return errors.New("keyboard controller input buffer never drained")
}
