package bios

import (
	"errors"

	"github.com/guardbsd/guaboot/internal/mach"
)

// runBootSector is the 512-byte first stage: bring up the serial console,
// then pull stage 2 off the boot media and hand over the drive that
// worked. The firmware-supplied drive is tried first; each fallback drive
// is tried in turn before giving up.
func (p *Pipeline) runBootSector(bootDrive uint8) (uint8, error) {
	p.cons.Puts("GuaBoot2 starting...\n")

	var lastErr error
	for _, drive := range driveCandidates(bootDrive) {
		p.cons.Puts("Trying drive ")
		p.cons.PutHex(uint64(drive))
		p.cons.Puts("\n")

		if err := p.loadStage(drive, Stage2LBA, Stage2Sectors, Stage2Addr); err != nil {
			lastErr = err
			continue
		}

		p.cons.Puts("Stage 2 loaded\n")
		return drive, nil
	}

	return 0, p.fatal("no bootable drive found", lastErr)
}

// driveCandidates returns the firmware drive followed by the fallback
// list, with the firmware drive deduplicated.
func driveCandidates(bootDrive uint8) []uint8 {
	out := []uint8{bootDrive}
	for _, d := range fallbackDrives {
		if d != bootDrive {
			out = append(out, d)
		}
	}
	return out
}

// loadStage reads sectors from disk into memory at addr, preferring one
// LBA transfer and falling back to geometry-based sector-at-a-time reads
// when the extended read fails.
func (p *Pipeline) loadStage(drive uint8, lba uint64, sectors int, addr uint64) error {
	buf := make([]byte, sectors*mach.SectorSize)
	if err := p.m.Disk.ReadLBA(drive, lba, sectors, buf); err != nil {
		if chsErr := p.readCHS(drive, lba, sectors, buf); chsErr != nil {
			return errors.Join(err, chsErr)
		}
	}
	if _, err := p.m.Mem.WriteAt(buf, int64(addr)); err != nil {
		return err
	}
	return nil
}

// readCHS re-reads the range one sector at a time through CHS addressing.
// The geometry query can report zeros on broken firmware; defaults are
// substituted so the cylinder/head/sector math never divides by zero.
func (p *Pipeline) readCHS(drive uint8, lba uint64, sectors int, buf []byte) error {
	geom, err := p.m.Disk.Geometry(drive)
	if err != nil {
		return err
	}
	if geom.SectorsPerTrack == 0 {
		geom.SectorsPerTrack = defaultSectorsPerTrack
	}
	if geom.Heads == 0 {
		geom.Heads = defaultHeads
	}

	for i := 0; i < sectors; i++ {
		cur := lba + uint64(i)

		// lba -> (cylinder, head, sector) -> lba round trip. The triple is
		// what an INT 13h AH=02h read would carry; converting back gives the
		// block to fetch through the capability interface.
		sector := cur%uint64(geom.SectorsPerTrack) + 1
		head := (cur / uint64(geom.SectorsPerTrack)) % uint64(geom.Heads)
		cylinder := cur / (uint64(geom.SectorsPerTrack) * uint64(geom.Heads))
		linear := (cylinder*uint64(geom.Heads)+head)*uint64(geom.SectorsPerTrack) + (sector - 1)

		off := i * mach.SectorSize
		if err := p.m.Disk.ReadLBA(drive, linear, 1, buf[off:off+mach.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}
