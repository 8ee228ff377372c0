package mach

import "fmt"

// SectorSize is the logical block size of the boot media. The BIOS path
// boots from optical-style media with 2048-byte sectors; every LBA constant
// in the boot stages is expressed in these units.
const SectorSize = 2048

// Geometry is the sectors-per-track/head pair reported by the firmware
// drive-parameters query. Either field may legitimately come back zero on
// broken firmware; callers must substitute defaults instead of dividing.
type Geometry struct {
	SectorsPerTrack uint32
	Heads           uint32
}

// Disk is the firmware disk read service (BIOS INT 13h extensions shape).
// Reads are synchronous and blocking; there is nothing to overlap them
// with this early in boot.
type Disk interface {
	// ReadLBA reads sectors consecutive sectors starting at lba from the
	// given drive into p. p must hold sectors*SectorSize bytes. A missing
	// drive or out-of-range read returns an error carrying the firmware
	// status code where one exists.
	ReadLBA(drive uint8, lba uint64, sectors int, p []byte) error

	// Geometry reports drive geometry for CHS fallback reads.
	Geometry(drive uint8) (Geometry, error)
}

// DiskError is a failed firmware read with its BIOS status code.
type DiskError struct {
	Drive  uint8
	Status byte
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("disk read failed on drive %#02x (status %#02x)", e.Drive, e.Status)
}
