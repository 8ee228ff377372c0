package bios

import (
	"fmt"

	"github.com/guardbsd/guaboot/internal/bootinfo"
	"github.com/guardbsd/guaboot/internal/gdt"
	"github.com/guardbsd/guaboot/internal/mach"
)

// runStub64 is the 64-bit transition stub: reload the long-mode
// selectors, establish a clean register file and transfer control to the
// kernel entry point with the handoff contract in RDI/RSI.
func (p *Pipeline) runStub64() error {
	cpu := p.m.CPU
	if mode := cpu.Mode(); mode != mach.ModeLong {
		return p.fatal(fmt.Sprintf("stub entered in %s mode", mode), nil)
	}

	if err := cpu.SetSegments(gdt.SelectorCode64, gdt.SelectorData64); err != nil {
		return p.fatal("reload 64-bit segments", err)
	}

	entry, err := mach.ReadU64(p.m.Mem, SlotKernelEntry)
	if err != nil {
		return p.fatal("read kernel entry slot", err)
	}
	if entry == 0 {
		return p.fatal("kernel entry slot is empty", nil)
	}
	infoAddr, err := mach.ReadU64(p.m.Mem, SlotBootInfo)
	if err != nil {
		return p.fatal("read BootInfo slot", err)
	}
	if infoAddr == 0 {
		return p.fatal("BootInfo slot is empty", nil)
	}

	// The kernel sees exactly this register file: magic in RDI, BootInfo in
	// RSI, a fresh aligned stack, everything else zero. RFLAGS carries only
	// the reserved bit, so DF is clear and interrupts stay off.
	regs := make(map[mach.Register]uint64, len(mach.GeneralPurposeRegisters)+1)
	for _, reg := range mach.GeneralPurposeRegisters {
		regs[reg] = 0
	}
	regs[mach.RegisterRsp] = StackTop
	regs[mach.RegisterRdi] = uint64(bootinfo.Magic)
	regs[mach.RegisterRsi] = infoAddr
	regs[mach.RegisterRflags] = mach.RflagsReserved
	if err := cpu.SetRegisters(regs); err != nil {
		return p.fatal("set entry registers", err)
	}

	if err := cpu.FarJump(gdt.SelectorCode64, entry); err != nil {
		return p.fatal("jump to kernel", err)
	}
	return nil
}
