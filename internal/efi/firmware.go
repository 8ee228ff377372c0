// Package efi implements the UEFI boot path: read the kernel from the
// boot volume, capture the firmware memory map, publish BootInfo, leave
// boot services and enter the kernel. Unlike the BIOS path the firmware
// already runs in long mode, so there are no mode transitions here.
package efi

import "errors"

// UEFI memory descriptor types the loader cares about. Only conventional
// memory becomes usable RAM; every other type is handed to the kernel as
// reserved.
const (
	LoaderCode         = uint32(1)
	LoaderData         = uint32(2)
	BootServicesCode   = uint32(3)
	BootServicesData   = uint32(4)
	ConventionalMemory = uint32(7)
)

// PageSize is the UEFI allocation granularity; descriptor lengths are in
// these units.
const PageSize = uint64(4096)

// MemoryDescriptor is one entry of the firmware memory map.
type MemoryDescriptor struct {
	Type          uint32
	PhysicalStart uint64
	NumberOfPages uint64
	Attribute     uint64
}

// ErrStaleMapKey is returned by ExitBootServices when the map key no
// longer matches the current memory map. Firmware may invalidate the key
// at any time between GetMemoryMap and the exit call; the loader retries
// exactly once with a fresh map.
var ErrStaleMapKey = errors.New("memory map key is stale")

// Firmware is the boot-services surface the loader uses. On hardware
// these are UEFI protocol calls; tests back them with an in-memory fake.
type Firmware interface {
	// ReadFile reads a file from the boot volume by its firmware path.
	ReadFile(path string) ([]byte, error)

	// MemoryMap returns the current memory map and the key identifying
	// this snapshot of it.
	MemoryMap() ([]MemoryDescriptor, uint64, error)

	// ExitBootServices terminates boot services. The key must identify
	// the latest memory map or ErrStaleMapKey is returned.
	ExitBootServices(mapKey uint64) error
}
