// Package gdt encodes the flat segment descriptors the boot path needs:
// 32-bit code/data covering the full 4 GiB range for protected mode, and
// the 64-bit selectors used after the switch to long mode.
package gdt

import (
	"encoding/binary"
	"fmt"

	"github.com/guardbsd/guaboot/internal/mach"
)

// Selector values fixed by the boot protocol. Stage 2 far-jumps through
// Code32; the loader far-jumps through Code64 into the transition stub.
const (
	SelectorNull   = uint16(0x00)
	SelectorCode32 = uint16(0x08)
	SelectorData32 = uint16(0x10)
	SelectorCode64 = uint16(0x18)
	SelectorData64 = uint16(0x20)
)

// Descriptor flag words, packed as access byte plus granularity nibble.
const (
	flagsCode32 = uint16(0xc09b) // present, exec/read, G=1, D=1
	flagsData32 = uint16(0xc093) // present, read/write, G=1, D=1
	flagsCode64 = uint16(0xa09b) // present, exec/read, G=1, L=1
	flagsData64 = uint16(0xc093) // data segments ignore L
)

// Entry packs a segment descriptor from its flags, base and limit.
func Entry(flags uint16, base uint32, limit uint32) uint64 {
	return ((uint64(base) & 0xff000000) << (56 - 24)) |
		((uint64(flags) & 0x0000f0ff) << 40) |
		((uint64(limit) & 0x000f0000) << (48 - 16)) |
		((uint64(base) & 0x00ffffff) << 16) |
		(uint64(limit) & 0x0000ffff)
}

// BootTable returns the five-entry table shared by every boot stage:
// null, flat 32-bit code/data, flat 64-bit code/data.
func BootTable() []uint64 {
	return []uint64{
		0, // null
		Entry(flagsCode32, 0, 0xfffff),
		Entry(flagsData32, 0, 0xfffff),
		Entry(flagsCode64, 0, 0xfffff),
		Entry(flagsData64, 0, 0xfffff),
	}
}

// Marshal renders a descriptor table as the bytes loaded via lgdt.
func Marshal(entries []uint64) []byte {
	buf := make([]byte, len(entries)*8)
	for i, e := range entries {
		binary.LittleEndian.PutUint64(buf[i*8:], e)
	}
	return buf
}

// Write places the table at the physical address base and returns the
// pointer to load into GDTR. The pointer's base field carries the computed
// linear address, which is how the real stage 2 patches its descriptor
// when executing from a non-zero segment.
func Write(m mach.Memory, base uint64, entries []uint64) (mach.GDTPointer, error) {
	if len(entries) == 0 {
		return mach.GDTPointer{}, fmt.Errorf("empty descriptor table")
	}
	if _, err := m.WriteAt(Marshal(entries), int64(base)); err != nil {
		return mach.GDTPointer{}, fmt.Errorf("write GDT @%#x: %w", base, err)
	}
	return mach.GDTPointer{
		Base:  base,
		Limit: uint16(len(entries)*8 - 1),
	}, nil
}
