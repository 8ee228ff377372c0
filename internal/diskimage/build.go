package diskimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/guardbsd/guaboot/internal/bios"
	"github.com/guardbsd/guaboot/internal/kernel"
	"github.com/guardbsd/guaboot/internal/mach"
)

// DefaultDrive is the firmware drive number of the first CD-ROM drive.
const DefaultDrive = uint8(0xE0)

// CmdlineLBA holds the NUL-terminated kernel command line. One sector is
// plenty; anything longer is rejected at build time.
const CmdlineLBA = uint64(13)

// Boot sector parameter block offsets. The build patches these into the
// 512-byte boot sector so the first stage needs no filesystem: just the
// LBA and length of everything it loads.
const (
	paramKernelLBA     = 404
	paramKernelSectors = 408
	paramCmdlineLBA    = 412
	paramDrive         = 416

	bootSignatureOffset = 510
)

// Signature bytes identifying a valid boot sector.
const (
	SignatureLow  = byte(0x55)
	SignatureHigh = byte(0xAA)
)

// Build assembles a boot image per cfg and writes it to cfg.Output. The
// kernel ELF is fully validated first: an image that would be rejected at
// boot is never produced.
func Build(cfg *Config) error {
	raw, err := os.ReadFile(cfg.Kernel)
	if err != nil {
		return fmt.Errorf("read kernel: %w", err)
	}
	if _, err := kernel.Parse(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("kernel %s: %w", cfg.Kernel, err)
	}

	kernelSectors := (len(raw) + mach.SectorSize - 1) / mach.SectorSize
	if kernelSectors > bios.KernelMaxSectors {
		return fmt.Errorf("kernel is %d sectors, image format allows %d",
			kernelSectors, bios.KernelMaxSectors)
	}
	if len(cfg.Cmdline)+1 > mach.SectorSize {
		return fmt.Errorf("command line is %d bytes, limit is %d",
			len(cfg.Cmdline), mach.SectorSize-1)
	}

	totalSectors := bios.KernelLBA + uint64(bios.KernelMaxSectors)
	img := make([]byte, totalSectors*mach.SectorSize)

	buildBootSector(img[:512], cfg, uint32(kernelSectors))
	copy(img[CmdlineLBA*mach.SectorSize:], append([]byte(cfg.Cmdline), 0))
	copy(img[bios.KernelLBA*mach.SectorSize:], raw)

	f, err := os.Create(cfg.Output)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer f.Close()

	bar := progressbar.DefaultBytes(int64(len(img)), "writing "+cfg.Output)
	if _, err := io.Copy(io.MultiWriter(f, bar), bytes.NewReader(img)); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return f.Close()
}

func buildBootSector(sector []byte, cfg *Config, kernelSectors uint32) {
	le := binary.LittleEndian
	le.PutUint32(sector[paramKernelLBA:], uint32(bios.KernelLBA))
	le.PutUint32(sector[paramKernelSectors:], kernelSectors)
	le.PutUint32(sector[paramCmdlineLBA:], uint32(CmdlineLBA))
	sector[paramDrive] = cfg.Drive

	sector[bootSignatureOffset] = SignatureLow
	sector[bootSignatureOffset+1] = SignatureHigh
}
