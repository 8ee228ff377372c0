package bios

import (
	"bytes"
	"fmt"

	"github.com/guardbsd/guaboot/internal/bootinfo"
	"github.com/guardbsd/guaboot/internal/gdt"
	"github.com/guardbsd/guaboot/internal/kernel"
	"github.com/guardbsd/guaboot/internal/mach"
	"github.com/guardbsd/guaboot/internal/paging"
)

// runLoader is the 32-bit protected-mode stage: validate and place the
// kernel ELF, publish BootInfo, build the long-mode page tables and
// perform the switch to 64-bit mode.
func (p *Pipeline) runLoader() error {
	cpu := p.m.CPU
	if mode := cpu.Mode(); mode != mach.ModeProtected {
		return p.fatal(fmt.Sprintf("loader entered in %s mode", mode), nil)
	}
	p.cons.Puts("Loader: protected mode active\n")

	imageAddr, err := mach.ReadU64(p.m.Mem, SlotKernelImage)
	if err != nil {
		return p.fatal("read kernel image slot", err)
	}
	if imageAddr == 0 {
		// Stage 2 predating the slot protocol staged the image at the old
		// fixed buffer.
		imageAddr = LegacyKernelBufferAddr
	}

	raw := make([]byte, KernelBufferSize)
	if _, err := p.m.Mem.ReadAt(raw, int64(imageAddr)); err != nil {
		return p.fatal("read staged kernel image", err)
	}

	img, err := kernel.Parse(bytes.NewReader(raw))
	if err != nil {
		return p.fatal("invalid kernel ELF", err)
	}
	if err := img.Load(p.m.Mem); err != nil {
		return p.fatal("kernel load failed", err)
	}
	crc, err := img.Checksum(p.m.Mem)
	if err != nil {
		return p.fatal("kernel checksum failed", err)
	}

	p.cons.Puts("Kernel loaded, entry ")
	p.cons.PutHex(img.Entry)
	p.cons.Puts("\n")

	if err := mach.WriteU64(p.m.Mem, SlotKernelEntry, img.Entry); err != nil {
		return p.fatal("record kernel entry", err)
	}

	entries, lowerKB, upperKB := p.memoryMap()

	bootDrive, err := mach.ReadU64(p.m.Mem, SlotBootDrive)
	if err != nil {
		return p.fatal("read boot drive slot", err)
	}

	bi := &bootinfo.Info{
		KernelCRC32: crc,
		KernelBase:  img.MinPhys,
		KernelSize:  img.Size(),
		MemLowerKB:  lowerKB,
		MemUpperKB:  upperKB,
		BootDevice:  uint32(bootDrive),
		Cmdline:     p.Cmdline,
		Modules:     p.Modules,
		MemoryMap:   entries,
	}
	if _, err := bi.WriteTo(p.m.Mem, BootInfoAddr); err != nil {
		return p.fatal("write BootInfo", err)
	}
	if err := mach.WriteU64(p.m.Mem, SlotBootInfo, BootInfoAddr); err != nil {
		return p.fatal("record BootInfo address", err)
	}

	pml4, err := paging.IdentityMap(p.m.Mem, PagingArena, 1)
	if err != nil {
		return p.fatal("build page tables", err)
	}

	// The long-mode entry sequence. Order matters: PAE before CR3, LME
	// before PG.
	if err := cpu.WriteCR(mach.CR4, cpu.ReadCR(mach.CR4)|mach.CR4PAE); err != nil {
		return p.fatal("enable PAE", err)
	}
	if err := cpu.WriteCR(mach.CR3, pml4); err != nil {
		return p.fatal("load CR3", err)
	}
	efer, err := cpu.ReadMSR(mach.MSREFER)
	if err != nil {
		return p.fatal("read EFER", err)
	}
	if err := cpu.WriteMSR(mach.MSREFER, efer|mach.EFERLME|mach.EFERNXE); err != nil {
		return p.fatal("enable long mode", err)
	}
	if err := cpu.WriteCR(mach.CR0, cpu.ReadCR(mach.CR0)|mach.CR0PG); err != nil {
		return p.fatal("enable paging", err)
	}

	if err := cpu.FarJump(gdt.SelectorCode64, Stub64Addr); err != nil {
		return p.fatal("jump to 64-bit stub", err)
	}
	return nil
}

// memoryMap probes the firmware memory map, falling back to the fixed
// degraded map when probing fails or reports nothing. The fallback is
// announced on serial so a misbooting machine leaves evidence.
func (p *Pipeline) memoryMap() (entries []bootinfo.MapEntry, lowerKB, upperKB uint64) {
	if p.Prober != nil {
		regions, err := p.Prober.DetectMemory()
		if err == nil {
			if entries, lowerKB, upperKB = translateRegions(regions); len(entries) > 0 {
				return entries, lowerKB, upperKB
			}
		}
	}
	p.cons.Puts("WARNING: memory probe failed, using fixed map\n")
	return fallbackMap()
}
