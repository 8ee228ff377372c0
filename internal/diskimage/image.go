package diskimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/guardbsd/guaboot/internal/mach"
)

// Firmware disk status codes, as INT 13h reports them.
const (
	statusBadCommand     = byte(0x01)
	statusSectorNotFound = byte(0x04)
)

// Image is an opened boot image. It implements mach.Disk, serving reads
// for the drive number baked into its boot sector.
type Image struct {
	data  []byte
	drive uint8

	kernelLBA     uint64
	kernelSectors uint32
	cmdline       string
}

// Open reads an image file and validates its boot sector.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) < mach.SectorSize {
		return nil, fmt.Errorf("image %s is too small (%d bytes)", path, len(data))
	}
	if data[bootSignatureOffset] != SignatureLow || data[bootSignatureOffset+1] != SignatureHigh {
		return nil, fmt.Errorf("image %s has no boot signature", path)
	}

	le := binary.LittleEndian
	img := &Image{
		data:          data,
		drive:         data[paramDrive],
		kernelLBA:     uint64(le.Uint32(data[paramKernelLBA:])),
		kernelSectors: le.Uint32(data[paramKernelSectors:]),
	}

	cmdlineLBA := uint64(le.Uint32(data[paramCmdlineLBA:]))
	if off := cmdlineLBA * mach.SectorSize; cmdlineLBA != 0 && off < uint64(len(data)) {
		sector := data[off:min(off+mach.SectorSize, uint64(len(data)))]
		if i := bytes.IndexByte(sector, 0); i >= 0 {
			img.cmdline = string(sector[:i])
		}
	}
	return img, nil
}

// Drive is the firmware drive number this image answers on.
func (img *Image) Drive() uint8 { return img.drive }

// Cmdline is the kernel command line stored in the image.
func (img *Image) Cmdline() string { return img.cmdline }

// KernelRegion reports where the kernel lives on the media.
func (img *Image) KernelRegion() (lba uint64, sectors uint32) {
	return img.kernelLBA, img.kernelSectors
}

// ReadLBA implements mach.Disk. Reads addressed to any other drive fail
// with the firmware bad-command status, which is what drives the boot
// sector's fallback loop.
func (img *Image) ReadLBA(drive uint8, lba uint64, sectors int, p []byte) error {
	if drive != img.drive {
		return &mach.DiskError{Drive: drive, Status: statusBadCommand}
	}
	start := lba * mach.SectorSize
	end := start + uint64(sectors)*mach.SectorSize
	if end > uint64(len(img.data)) || end < start {
		return &mach.DiskError{Drive: drive, Status: statusSectorNotFound}
	}
	copy(p, img.data[start:end])
	return nil
}

// Geometry implements mach.Disk.
func (img *Image) Geometry(drive uint8) (mach.Geometry, error) {
	if drive != img.drive {
		return mach.Geometry{}, &mach.DiskError{Drive: drive, Status: statusBadCommand}
	}
	return mach.Geometry{SectorsPerTrack: 32, Heads: 64}, nil
}

var _ mach.Disk = (*Image)(nil)
