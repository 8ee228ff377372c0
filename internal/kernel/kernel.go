// Package kernel parses, validates and loads the kernel ELF64 image. Both
// boot paths (BIOS loader and UEFI loader) share this code: validation
// must fully pass before a single byte is written to its destination.
package kernel

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/guardbsd/guaboot/internal/mach"
)

// MinLoadAddr is the lowest physical address a PT_LOAD segment may target.
// Everything below 1 MiB belongs to the boot stages (handoff slots, GDT,
// page tables, BootInfo); a kernel linked below it is rejected outright.
const MinLoadAddr = uint64(0x100000)

// Segment is one loadable program header. MemSize >= FileSize; the excess
// is BSS and is zero-filled at load time.
type Segment struct {
	PhysAddr uint64
	FileSize uint64
	MemSize  uint64

	data []byte
}

// Image is a validated kernel ELF64 executable.
type Image struct {
	Entry    uint64
	MinPhys  uint64
	MaxPhys  uint64
	Segments []Segment
}

// Size is the kernel's physical footprint from the lowest segment base to
// the highest segment end.
func (img *Image) Size() uint64 {
	return img.MaxPhys - img.MinPhys
}

// Parse validates the ELF identity fields and program headers of the image
// in r. It performs no destination writes; a kernel that fails here leaves
// memory untouched.
func Parse(r io.ReaderAt) (*Image, error) {
	var ident [16]byte
	if _, err := r.ReadAt(ident[:], 0); err != nil {
		return nil, fmt.Errorf("read ELF identity: %w", err)
	}
	if !bytes.Equal(ident[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return nil, errors.New("bad ELF magic")
	}
	if ident[elf.EI_CLASS] != byte(elf.ELFCLASS64) {
		return nil, fmt.Errorf("unsupported ELF class %d (want 64-bit)", ident[elf.EI_CLASS])
	}
	if ident[elf.EI_DATA] != byte(elf.ELFDATA2LSB) {
		return nil, fmt.Errorf("unsupported ELF encoding %d (want little-endian)", ident[elf.EI_DATA])
	}

	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("open elf kernel: %w", err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("unsupported ELF type %v (want executable)", f.Type)
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("unsupported ELF machine %d (want x86_64)", f.Machine)
	}
	if len(f.Progs) == 0 {
		return nil, errors.New("ELF kernel has no program headers")
	}

	var segments []Segment
	var minPhys uint64
	var maxPhys uint64
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, fmt.Errorf("ELF segment file size %#x exceeds mem size %#x", prog.Filesz, prog.Memsz)
		}
		if prog.Memsz > uint64(math.MaxInt) {
			return nil, fmt.Errorf("ELF segment mem size %#x exceeds host limits", prog.Memsz)
		}
		data := make([]byte, int(prog.Filesz))
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("read ELF segment @%#x: %w", prog.Off, err)
			}
		}
		segments = append(segments, Segment{
			PhysAddr: prog.Paddr,
			FileSize: prog.Filesz,
			MemSize:  prog.Memsz,
			data:     data,
		})
		if minPhys == 0 || prog.Paddr < minPhys {
			minPhys = prog.Paddr
		}
		if end := prog.Paddr + prog.Memsz; end > maxPhys {
			maxPhys = end
		}
	}

	if len(segments) == 0 {
		return nil, errors.New("ELF kernel has no loadable segments")
	}
	if maxPhys <= minPhys {
		return nil, fmt.Errorf("invalid ELF kernel span [%#x, %#x)", minPhys, maxPhys)
	}

	entry := f.Entry
	if entry == 0 {
		return nil, errors.New("ELF kernel entry point is zero")
	}
	if entry < minPhys || entry >= maxPhys {
		return nil, fmt.Errorf("ELF entry %#x outside loaded span [%#x, %#x)", entry, minPhys, maxPhys)
	}

	return &Image{
		Entry:    entry,
		MinPhys:  minPhys,
		MaxPhys:  maxPhys,
		Segments: segments,
	}, nil
}

// Load copies every segment to its physical address and zero-fills BSS.
// All segments are range-checked first: a single bad segment aborts the
// load before anything is copied.
func (img *Image) Load(m mach.Memory) error {
	memStart := m.MemoryBase()
	memEnd := memStart + m.MemorySize()

	for _, seg := range img.Segments {
		if seg.PhysAddr < MinLoadAddr {
			return fmt.Errorf("ELF segment at %#x loads below %#x", seg.PhysAddr, MinLoadAddr)
		}
		end := seg.PhysAddr + seg.MemSize
		if seg.PhysAddr < memStart || end > memEnd {
			return fmt.Errorf("ELF segment [%#x, %#x) outside RAM [%#x, %#x)", seg.PhysAddr, end, memStart, memEnd)
		}
	}

	for _, seg := range img.Segments {
		// Zero the full span first so BSS never carries garbage.
		if err := mach.Zero(m, seg.PhysAddr, int(seg.MemSize)); err != nil {
			return fmt.Errorf("zero ELF segment memory: %w", err)
		}
		if seg.FileSize > 0 {
			if _, err := m.WriteAt(seg.data[:seg.FileSize], int64(seg.PhysAddr)); err != nil {
				return fmt.Errorf("write ELF segment data: %w", err)
			}
		}
	}
	return nil
}

// Checksum computes the IEEE CRC32 of the loaded footprint, read back from
// memory. Diagnostic only: recorded in BootInfo, never used as a gate.
func (img *Image) Checksum(m mach.Memory) (uint32, error) {
	h := crc32.NewIEEE()
	buf := make([]byte, 64*1024)
	for addr := img.MinPhys; addr < img.MaxPhys; {
		n := uint64(len(buf))
		if remaining := img.MaxPhys - addr; remaining < n {
			n = remaining
		}
		if _, err := m.ReadAt(buf[:n], int64(addr)); err != nil {
			return 0, fmt.Errorf("read loaded kernel @%#x: %w", addr, err)
		}
		h.Write(buf[:n])
		addr += n
	}
	return h.Sum32(), nil
}
