package bios

// Physical memory layout of the BIOS boot path. Every stage compiles these
// addresses in; the image-creation tooling places the matching pieces at
// the matching LBAs.
const (
	// BootSectorAddr is where firmware loads the 512-byte boot sector.
	BootSectorAddr = uint64(0x7C00)

	// Stage2Addr receives stage 2, read by the boot sector.
	Stage2Addr = uint64(0x8000)

	// LoaderAddr receives the 32-bit loader, read by stage 2.
	LoaderAddr = uint64(0x10000)

	// Stub64Addr receives the 64-bit transition stub, read by stage 2.
	Stub64Addr = uint64(0x18000)

	// GDTBase is where stage 2 places the shared descriptor table.
	GDTBase = uint64(0x6000)

	// PagingArena is the scratch region the loader builds page tables in.
	PagingArena = uint64(0x70000)

	// StackTop is the initial 64-bit stack pointer, 16-byte aligned.
	StackTop = uint64(0x90000)

	// BootInfoAddr is the fixed home of the BootInfo structure.
	BootInfoAddr = uint64(0x100000)

	// KernelBufferAddr is where stage 2 stages the raw kernel ELF image.
	// The loader reads it from here; PT_LOAD segments are then copied to
	// their linked physical addresses (at or above 2 MiB in practice).
	KernelBufferAddr = uint64(0x200000)

	// LegacyKernelBufferAddr is the pre-slot staging address assumed when
	// the kernel-image handoff slot reads zero.
	LegacyKernelBufferAddr = uint64(0x100000)

	// KernelBufferSize bounds the raw image read from boot media.
	KernelBufferSize = 512 * 1024
)

// Disk layout in 2048-byte sectors. Produced by the mkimage tooling,
// consumed here as compile-time constants.
const (
	Stage2LBA     = uint64(1)
	Stage2Sectors = 4

	LoaderLBA     = uint64(5)
	LoaderSectors = 7

	Stub64LBA     = uint64(12)
	Stub64Sectors = 1

	KernelLBA        = uint64(16)
	KernelMaxSectors = 256
)

// Handoff slots: fixed addresses written exactly once by the producing
// stage and read exactly once by the consumer. Stages run strictly
// sequentially, so no locking exists or is needed.
const (
	SlotKernelEntry = uint64(0x9000)
	SlotBootInfo    = uint64(0x9008)
	SlotKernelImage = uint64(0x9010)
	SlotBootDrive   = uint64(0x9018)
)

// fallbackDrives are tried in order after the BIOS-supplied drive fails:
// first CD-ROM, first and second hard disk, first floppy.
var fallbackDrives = []uint8{0xE0, 0x80, 0x81, 0x00}

// Geometry defaults substituted when the drive-parameters query reports
// zero sectors-per-track or zero heads.
const (
	defaultSectorsPerTrack = 32
	defaultHeads           = 64
)
