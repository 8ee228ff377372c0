package efi

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/guardbsd/guaboot/internal/bootinfo"
	"github.com/guardbsd/guaboot/internal/kernel"
	"github.com/guardbsd/guaboot/internal/mach"
)

// KernelPath is where the loader expects the kernel on the boot volume.
const KernelPath = `\boot\kernel.elf`

// DefaultInfoAddr is where BootInfo is placed when the loader is not
// configured otherwise. Matches the BIOS path so kernels need not care
// which firmware booted them.
const DefaultInfoAddr = uint64(0x100000)

// Handoff is the kernel entry contract produced by the UEFI path: the
// entry point is called directly with the magic and the BootInfo pointer.
type Handoff struct {
	Entry    uint64
	BootInfo uint64
	Magic    uint32
}

// Loader drives one UEFI boot. Mem is the physical memory the kernel is
// loaded into; FW supplies files and the memory map.
type Loader struct {
	FW  Firmware
	Mem mach.Memory

	// InfoAddr overrides the BootInfo placement. Zero means DefaultInfoAddr.
	InfoAddr uint64

	Cmdline string
	Modules []bootinfo.Module
}

// Boot loads and validates the kernel, publishes BootInfo, exits boot
// services and returns the handoff. After a successful return boot
// services are gone; on error they may or may not still be running,
// which on hardware means only a reset recovers.
func (l *Loader) Boot() (*Handoff, error) {
	raw, err := l.FW.ReadFile(KernelPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", KernelPath, err)
	}

	img, err := kernel.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid kernel ELF: %w", err)
	}
	if err := img.Load(l.Mem); err != nil {
		return nil, fmt.Errorf("kernel load failed: %w", err)
	}
	crc, err := img.Checksum(l.Mem)
	if err != nil {
		return nil, fmt.Errorf("kernel checksum failed: %w", err)
	}

	infoAddr := l.InfoAddr
	if infoAddr == 0 {
		infoAddr = DefaultInfoAddr
	}

	descs, key, err := l.FW.MemoryMap()
	if err != nil {
		return nil, fmt.Errorf("get memory map: %w", err)
	}
	if err := l.writeBootInfo(infoAddr, img, crc, descs); err != nil {
		return nil, err
	}

	if err := l.FW.ExitBootServices(key); err != nil {
		if !errors.Is(err, ErrStaleMapKey) {
			return nil, fmt.Errorf("exit boot services: %w", err)
		}
		// The map changed under us. Refresh it, republish BootInfo so the
		// kernel sees the map the exit succeeded against, and retry once.
		descs, key, err = l.FW.MemoryMap()
		if err != nil {
			return nil, fmt.Errorf("refresh memory map: %w", err)
		}
		if err := l.writeBootInfo(infoAddr, img, crc, descs); err != nil {
			return nil, err
		}
		if err := l.FW.ExitBootServices(key); err != nil {
			return nil, fmt.Errorf("exit boot services (retry): %w", err)
		}
	}

	return &Handoff{
		Entry:    img.Entry,
		BootInfo: infoAddr,
		Magic:    bootinfo.Magic,
	}, nil
}

func (l *Loader) writeBootInfo(infoAddr uint64, img *kernel.Image, crc uint32, descs []MemoryDescriptor) error {
	entries, lowerKB, upperKB := translateDescriptors(descs)
	bi := &bootinfo.Info{
		KernelCRC32: crc,
		KernelBase:  img.MinPhys,
		KernelSize:  img.Size(),
		MemLowerKB:  lowerKB,
		MemUpperKB:  upperKB,
		Cmdline:     l.Cmdline,
		Modules:     l.Modules,
		MemoryMap:   entries,
	}
	if _, err := bi.WriteTo(l.Mem, infoAddr); err != nil {
		return fmt.Errorf("write BootInfo: %w", err)
	}
	return nil
}

// translateDescriptors converts UEFI descriptors into the BootInfo map
// format and sums usable memory below and above 1 MiB in KB.
func translateDescriptors(descs []MemoryDescriptor) (entries []bootinfo.MapEntry, lowerKB, upperKB uint64) {
	entries = make([]bootinfo.MapEntry, 0, len(descs))
	for _, d := range descs {
		if d.NumberOfPages == 0 {
			continue
		}
		typ := bootinfo.MemoryReserved
		if d.Type == ConventionalMemory {
			typ = bootinfo.MemoryUsable
		}
		entries = append(entries, bootinfo.MapEntry{
			Base:   d.PhysicalStart,
			Length: d.NumberOfPages * PageSize,
			Type:   typ,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Base < entries[j].Base })

	for _, ent := range entries {
		if ent.Type != bootinfo.MemoryUsable {
			continue
		}
		if ent.Base < 0x100000 {
			lowerKB += ent.Length / 1024
		} else {
			upperKB += ent.Length / 1024
		}
	}
	return entries, lowerKB, upperKB
}
