package mach

import (
	"errors"
	"fmt"
)

// Register identifies a general-purpose register, RIP or RFLAGS.
type Register int

const (
	RegisterInvalid Register = iota

	RegisterRax
	RegisterRbx
	RegisterRcx
	RegisterRdx
	RegisterRsi
	RegisterRdi
	RegisterRsp
	RegisterRbp
	RegisterR8
	RegisterR9
	RegisterR10
	RegisterR11
	RegisterR12
	RegisterR13
	RegisterR14
	RegisterR15
	RegisterRip
	RegisterRflags

	registerCount
)

// GeneralPurposeRegisters lists every register zeroed by the 64-bit entry
// stub before control passes to the kernel. RIP and RFLAGS are excluded.
var GeneralPurposeRegisters = []Register{
	RegisterRax, RegisterRbx, RegisterRcx, RegisterRdx,
	RegisterRsi, RegisterRdi, RegisterRsp, RegisterRbp,
	RegisterR8, RegisterR9, RegisterR10, RegisterR11,
	RegisterR12, RegisterR13, RegisterR14, RegisterR15,
}

// ControlRegister identifies an x86 control register.
type ControlRegister int

const (
	CR0 ControlRegister = iota
	CR2
	CR3
	CR4
)

// Control register and MSR bits used during the mode transitions.
const (
	CR0PE = uint64(1) << 0  // protection enable
	CR0PG = uint64(1) << 31 // paging enable

	CR4PAE = uint64(1) << 5 // physical address extension

	MSREFER = uint32(0xC0000080)

	EFERLME = uint64(1) << 8  // long mode enable
	EFERLMA = uint64(1) << 10 // long mode active (set by hardware)
	EFERNXE = uint64(1) << 11 // no-execute enable

	// RFLAGS bit 1 is architecturally fixed to one.
	RflagsReserved = uint64(0x2)

	RflagsDF = uint64(1) << 10 // direction flag
	RflagsIF = uint64(1) << 9  // interrupt flag
)

// Mode is the CPU execution mode derived from CR0/EFER state.
type Mode int

const (
	ModeReal Mode = iota
	ModeProtected
	ModeLong
)

func (m Mode) String() string {
	switch m {
	case ModeReal:
		return "real"
	case ModeProtected:
		return "protected"
	case ModeLong:
		return "long"
	default:
		return "invalid"
	}
}

// GDTPointer is the base/limit pair loaded into GDTR.
type GDTPointer struct {
	Base  uint64
	Limit uint16
}

// CPU is the privileged CPU capability surface used by the boot stages.
// On real hardware this maps to a handful of instructions (mov cr*, wrmsr,
// lgdt, ljmp, cli, hlt); here it is backed by an emulated register file.
type CPU interface {
	SetRegisters(regs map[Register]uint64) error
	GetRegister(reg Register) uint64

	ReadCR(cr ControlRegister) uint64
	WriteCR(cr ControlRegister, v uint64) error

	ReadMSR(msr uint32) (uint64, error)
	WriteMSR(msr uint32, v uint64) error

	LoadGDT(ptr GDTPointer) error
	GDT() GDTPointer

	// SetSegments reloads CS and the flat data selectors (DS/ES/FS/GS/SS).
	SetSegments(cs, data uint16) error
	Segments() (cs, data uint16)

	SetInterruptsEnabled(on bool)

	// FarJump reloads CS with sel and transfers control to addr, committing
	// any pending mode switch.
	FarJump(sel uint16, addr uint64) error

	Mode() Mode

	// Halt enters the terminal cli/hlt loop. Every fatal boot path ends here.
	Halt()
	Halted() bool
}

// EmulatedCPU is the host-side CPU implementation. It tracks just enough
// architectural state to verify the transition sequence and the final
// kernel entry contract.
type EmulatedCPU struct {
	regs [registerCount]uint64
	cr   [4]uint64
	msrs map[uint32]uint64

	gdt       GDTPointer
	gdtLoaded bool
	cs, data  uint16

	intEnabled bool
	halted     bool
}

// NewEmulatedCPU returns a CPU in its reset state: real mode, interrupts
// notionally enabled, all registers zero.
func NewEmulatedCPU() *EmulatedCPU {
	cpu := &EmulatedCPU{
		msrs:       make(map[uint32]uint64),
		intEnabled: true,
	}
	cpu.regs[RegisterRflags] = RflagsReserved
	return cpu
}

func (c *EmulatedCPU) SetRegisters(regs map[Register]uint64) error {
	for reg, v := range regs {
		if reg <= RegisterInvalid || reg >= registerCount {
			return fmt.Errorf("invalid register %d", reg)
		}
		c.regs[reg] = v
	}
	return nil
}

func (c *EmulatedCPU) GetRegister(reg Register) uint64 {
	if reg <= RegisterInvalid || reg >= registerCount {
		return 0
	}
	return c.regs[reg]
}

func (c *EmulatedCPU) ReadCR(cr ControlRegister) uint64 {
	if cr < CR0 || cr > CR4 {
		return 0
	}
	return c.cr[cr]
}

func (c *EmulatedCPU) WriteCR(cr ControlRegister, v uint64) error {
	if cr < CR0 || cr > CR4 {
		return fmt.Errorf("invalid control register %d", cr)
	}
	if cr == CR0 && v&CR0PG != 0 {
		if c.cr[CR4]&CR4PAE == 0 {
			return errors.New("CR0.PG set without CR4.PAE")
		}
		// Hardware sets LMA when paging is enabled with LME already set.
		if c.msrs[MSREFER]&EFERLME != 0 {
			c.msrs[MSREFER] |= EFERLMA
		}
	}
	c.cr[cr] = v
	return nil
}

func (c *EmulatedCPU) ReadMSR(msr uint32) (uint64, error) {
	return c.msrs[msr], nil
}

func (c *EmulatedCPU) WriteMSR(msr uint32, v uint64) error {
	c.msrs[msr] = v
	return nil
}

func (c *EmulatedCPU) LoadGDT(ptr GDTPointer) error {
	if ptr.Base == 0 {
		return errors.New("GDT base is zero")
	}
	c.gdt = ptr
	c.gdtLoaded = true
	return nil
}

func (c *EmulatedCPU) GDT() GDTPointer { return c.gdt }

func (c *EmulatedCPU) SetSegments(cs, data uint16) error {
	if c.Mode() != ModeReal && !c.gdtLoaded {
		return errors.New("segment reload without a loaded GDT")
	}
	c.cs = cs
	c.data = data
	return nil
}

func (c *EmulatedCPU) Segments() (uint16, uint16) { return c.cs, c.data }

func (c *EmulatedCPU) SetInterruptsEnabled(on bool) {
	c.intEnabled = on
	if on {
		c.regs[RegisterRflags] |= RflagsIF
	} else {
		c.regs[RegisterRflags] &^= RflagsIF
	}
}

func (c *EmulatedCPU) FarJump(sel uint16, addr uint64) error {
	if c.halted {
		return ErrHalted
	}
	if c.Mode() != ModeReal {
		if !c.gdtLoaded {
			return errors.New("far jump in protected mode without a loaded GDT")
		}
		if sel == 0 {
			return errors.New("far jump through the null selector")
		}
	}
	c.cs = sel
	c.regs[RegisterRip] = addr
	return nil
}

// Mode derives the execution mode from the control state, matching the
// architectural definition: PE off is real mode, PE+PG+LMA is long mode.
func (c *EmulatedCPU) Mode() Mode {
	if c.cr[CR0]&CR0PE == 0 {
		return ModeReal
	}
	if c.cr[CR0]&CR0PG != 0 && c.msrs[MSREFER]&EFERLMA != 0 {
		return ModeLong
	}
	return ModeProtected
}

func (c *EmulatedCPU) Halt() {
	c.intEnabled = false
	c.regs[RegisterRflags] &^= RflagsIF
	c.halted = true
}

func (c *EmulatedCPU) Halted() bool { return c.halted }

var _ CPU = (*EmulatedCPU)(nil)
