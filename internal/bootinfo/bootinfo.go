// Package bootinfo implements the binary handoff structure the bootloader
// passes to the kernel: the protocol header, the memory map and the module
// list, laid out at a fixed physical address.
package bootinfo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/guardbsd/guaboot/internal/mach"
)

const (
	// Magic is the protocol constant "GBSD" handed to the kernel in the
	// first argument register alongside the BootInfo pointer.
	Magic = uint32(0x42534447)

	// Version is the protocol version recorded in the header.
	Version = uint32(0x00010000)

	// InfoSize is the marshalled size of the fixed header. The size field
	// inside the header must equal this value.
	InfoSize = 96

	// MapEntrySize is the marshalled size of one memory-map entry.
	MapEntrySize = 24

	// ModuleSize is the marshalled size of one module record.
	ModuleSize = 32

	// maxCmdline bounds command-line parsing when reading a BootInfo back
	// out of memory.
	maxCmdline = 4096
)

// MemoryType classifies a memory-map entry.
type MemoryType uint32

const (
	MemoryUsable   MemoryType = 1
	MemoryReserved MemoryType = 2
)

// MapEntry is one physical memory range in the boot memory map.
type MapEntry struct {
	Base   uint64
	Length uint64
	Type   MemoryType
}

// Module describes one boot module loaded alongside the kernel.
type Module struct {
	Start uint64
	End   uint64
	Name  string
}

// Info is the host-side representation of the handoff structure. WriteTo
// marshals it, together with its command line, module records and memory
// map, into a contiguous block at a fixed physical address.
type Info struct {
	KernelCRC32 uint32
	KernelBase  uint64
	KernelSize  uint64
	MemLowerKB  uint64
	MemUpperKB  uint64
	BootDevice  uint32
	Cmdline     string
	Modules     []Module
	MemoryMap   []MapEntry
}

// ValidateMap enforces the memory-map invariants: at least one entry,
// non-zero lengths, sorted by base, non-overlapping.
func ValidateMap(entries []MapEntry) error {
	if len(entries) == 0 {
		return errors.New("memory map is empty")
	}
	for i, ent := range entries {
		if ent.Length == 0 {
			return fmt.Errorf("memory map entry %d has zero length", i)
		}
		if ent.Base+ent.Length < ent.Base {
			return fmt.Errorf("memory map entry %d wraps the address space", i)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if ent.Base < prev.Base {
			return fmt.Errorf("memory map entry %d out of order (%#x after %#x)", i, ent.Base, prev.Base)
		}
		if ent.Base < prev.Base+prev.Length {
			return fmt.Errorf("memory map entry %d overlaps previous (starts %#x, previous ends %#x)",
				i, ent.Base, prev.Base+prev.Length)
		}
	}
	return nil
}

// WriteTo marshals the structure at the physical address addr and returns
// the first address past everything it wrote. Layout: header, memory map,
// module records, module name strings, command line.
func (bi *Info) WriteTo(m mach.Memory, addr uint64) (uint64, error) {
	if addr%8 != 0 {
		return 0, fmt.Errorf("BootInfo address %#x is not 8-byte aligned", addr)
	}
	if err := ValidateMap(bi.MemoryMap); err != nil {
		return 0, fmt.Errorf("memory map: %w", err)
	}

	mapAddr := addr + InfoSize
	modsAddr := mapAddr + uint64(len(bi.MemoryMap))*MapEntrySize
	namesAddr := modsAddr + uint64(len(bi.Modules))*ModuleSize
	cmdlineAddr := namesAddr
	for _, mod := range bi.Modules {
		cmdlineAddr += uint64(len(mod.Name)) + 1
	}
	end := cmdlineAddr + uint64(len(bi.Cmdline)) + 1

	buf := make([]byte, end-addr)
	le := binary.LittleEndian

	le.PutUint32(buf[infoMagicOffset:], Magic)
	le.PutUint32(buf[infoVersionOffset:], Version)
	le.PutUint32(buf[infoSizeOffset:], InfoSize)
	le.PutUint32(buf[infoKernelCRCOffset:], bi.KernelCRC32)
	le.PutUint64(buf[infoKernelBaseOffset:], bi.KernelBase)
	le.PutUint64(buf[infoKernelSizeOffset:], bi.KernelSize)
	le.PutUint64(buf[infoMemLowerOffset:], bi.MemLowerKB)
	le.PutUint64(buf[infoMemUpperOffset:], bi.MemUpperKB)
	le.PutUint32(buf[infoBootDeviceOffset:], bi.BootDevice)
	le.PutUint64(buf[infoCmdlinePtrOffset:], cmdlineAddr)
	le.PutUint32(buf[infoModsCountOffset:], uint32(len(bi.Modules)))
	le.PutUint64(buf[infoModsPtrOffset:], modsAddr)
	le.PutUint64(buf[infoMapPtrOffset:], mapAddr)
	le.PutUint32(buf[infoMapCountOffset:], uint32(len(bi.MemoryMap)))

	off := mapAddr - addr
	for _, ent := range bi.MemoryMap {
		le.PutUint64(buf[off+mapEntryBaseOffset:], ent.Base)
		le.PutUint64(buf[off+mapEntryLengthOffset:], ent.Length)
		le.PutUint32(buf[off+mapEntryTypeOffset:], uint32(ent.Type))
		off += MapEntrySize
	}

	nameOff := namesAddr - addr
	for i, mod := range bi.Modules {
		base := modsAddr - addr + uint64(i)*ModuleSize
		le.PutUint64(buf[base+moduleStartOffset:], mod.Start)
		le.PutUint64(buf[base+moduleEndOffset:], mod.End)
		le.PutUint64(buf[base+moduleNamePtrOffset:], addr+nameOff)
		copy(buf[nameOff:], mod.Name)
		nameOff += uint64(len(mod.Name)) + 1
	}

	copy(buf[cmdlineAddr-addr:], bi.Cmdline)

	if _, err := m.WriteAt(buf, int64(addr)); err != nil {
		return 0, fmt.Errorf("write BootInfo @%#x: %w", addr, err)
	}
	return end, nil
}

// Read parses a BootInfo previously placed at addr, following the
// command-line, module and memory-map pointers. It verifies the magic and
// size fields before trusting anything else.
func Read(m mach.Memory, addr uint64) (*Info, error) {
	hdr := make([]byte, InfoSize)
	if _, err := m.ReadAt(hdr, int64(addr)); err != nil {
		return nil, fmt.Errorf("read BootInfo header @%#x: %w", addr, err)
	}
	le := binary.LittleEndian

	if got := le.Uint32(hdr[infoMagicOffset:]); got != Magic {
		return nil, fmt.Errorf("bad BootInfo magic %#x (want %#x)", got, Magic)
	}
	if got := le.Uint32(hdr[infoSizeOffset:]); got != InfoSize {
		return nil, fmt.Errorf("bad BootInfo size %d (want %d)", got, InfoSize)
	}
	if got := le.Uint32(hdr[infoVersionOffset:]); got != Version {
		return nil, fmt.Errorf("unsupported BootInfo version %#x", got)
	}

	bi := &Info{
		KernelCRC32: le.Uint32(hdr[infoKernelCRCOffset:]),
		KernelBase:  le.Uint64(hdr[infoKernelBaseOffset:]),
		KernelSize:  le.Uint64(hdr[infoKernelSizeOffset:]),
		MemLowerKB:  le.Uint64(hdr[infoMemLowerOffset:]),
		MemUpperKB:  le.Uint64(hdr[infoMemUpperOffset:]),
		BootDevice:  le.Uint32(hdr[infoBootDeviceOffset:]),
	}

	cmdlinePtr := le.Uint64(hdr[infoCmdlinePtrOffset:])
	if cmdlinePtr != 0 {
		s, err := readCString(m, cmdlinePtr)
		if err != nil {
			return nil, fmt.Errorf("read command line: %w", err)
		}
		bi.Cmdline = s
	}

	mapPtr := le.Uint64(hdr[infoMapPtrOffset:])
	mapCount := le.Uint32(hdr[infoMapCountOffset:])
	for i := uint32(0); i < mapCount; i++ {
		ent := make([]byte, MapEntrySize)
		if _, err := m.ReadAt(ent, int64(mapPtr+uint64(i)*MapEntrySize)); err != nil {
			return nil, fmt.Errorf("read memory map entry %d: %w", i, err)
		}
		bi.MemoryMap = append(bi.MemoryMap, MapEntry{
			Base:   le.Uint64(ent[mapEntryBaseOffset:]),
			Length: le.Uint64(ent[mapEntryLengthOffset:]),
			Type:   MemoryType(le.Uint32(ent[mapEntryTypeOffset:])),
		})
	}

	modsPtr := le.Uint64(hdr[infoModsPtrOffset:])
	modsCount := le.Uint32(hdr[infoModsCountOffset:])
	for i := uint32(0); i < modsCount; i++ {
		rec := make([]byte, ModuleSize)
		if _, err := m.ReadAt(rec, int64(modsPtr+uint64(i)*ModuleSize)); err != nil {
			return nil, fmt.Errorf("read module record %d: %w", i, err)
		}
		mod := Module{
			Start: le.Uint64(rec[moduleStartOffset:]),
			End:   le.Uint64(rec[moduleEndOffset:]),
		}
		if namePtr := le.Uint64(rec[moduleNamePtrOffset:]); namePtr != 0 {
			name, err := readCString(m, namePtr)
			if err != nil {
				return nil, fmt.Errorf("read module %d name: %w", i, err)
			}
			mod.Name = name
		}
		bi.Modules = append(bi.Modules, mod)
	}

	return bi, nil
}

func readCString(m mach.Memory, addr uint64) (string, error) {
	var out []byte
	var buf [1]byte
	for len(out) < maxCmdline {
		if _, err := m.ReadAt(buf[:], int64(addr)+int64(len(out))); err != nil {
			return "", err
		}
		if buf[0] == 0 {
			return string(out), nil
		}
		out = append(out, buf[0])
	}
	return "", errors.New("unterminated string")
}
