package diskimage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/guardbsd/guaboot/internal/bios"
	"github.com/guardbsd/guaboot/internal/mach"
)

func testKernelELF(t *testing.T) []byte {
	t.Helper()

	payload := bytes.Repeat([]byte{0x90}, 100)
	le := binary.LittleEndian
	out := make([]byte, 64+56+len(payload))

	copy(out, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(out[16:], 2)    // ET_EXEC
	le.PutUint16(out[18:], 0x3E) // EM_X86_64
	le.PutUint32(out[20:], 1)
	le.PutUint64(out[24:], 0x200000)
	le.PutUint64(out[32:], 64)
	le.PutUint16(out[52:], 64)
	le.PutUint16(out[54:], 56)
	le.PutUint16(out[56:], 1)
	le.PutUint16(out[58:], 64)

	ph := out[64:]
	le.PutUint32(ph[0:], 1)
	le.PutUint32(ph[4:], 0x7)
	le.PutUint64(ph[8:], 120)
	le.PutUint64(ph[16:], 0x200000)
	le.PutUint64(ph[24:], 0x200000)
	le.PutUint64(ph[32:], uint64(len(payload)))
	le.PutUint64(ph[40:], 4096)
	le.PutUint64(ph[48:], 0x1000)
	copy(out[120:], payload)
	return out
}

func buildTestImage(t *testing.T, cmdline string) (*Config, string) {
	t.Helper()

	dir := t.TempDir()
	kernelPath := filepath.Join(dir, "kernel.elf")
	if err := os.WriteFile(kernelPath, testKernelELF(t), 0o644); err != nil {
		t.Fatalf("write kernel: %v", err)
	}

	cfg := &Config{
		Kernel:  kernelPath,
		Cmdline: cmdline,
		Output:  filepath.Join(dir, "boot.img"),
		Drive:   DefaultDrive,
	}
	if err := Build(cfg); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return cfg, cfg.Output
}

func TestBuildAndOpen(t *testing.T) {
	_, path := buildTestImage(t, "console=ttyS0 root=/dev/rd0")

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if img.Drive() != DefaultDrive {
		t.Errorf("drive %#x, want %#x", img.Drive(), DefaultDrive)
	}
	if img.Cmdline() != "console=ttyS0 root=/dev/rd0" {
		t.Errorf("cmdline %q", img.Cmdline())
	}

	lba, sectors := img.KernelRegion()
	if lba != bios.KernelLBA {
		t.Errorf("kernel LBA %d, want %d", lba, bios.KernelLBA)
	}
	if sectors != 1 {
		t.Errorf("kernel sectors %d, want 1", sectors)
	}

	// The kernel region round-trips byte for byte.
	raw := make([]byte, mach.SectorSize)
	if err := img.ReadLBA(img.Drive(), lba, 1, raw); err != nil {
		t.Fatalf("ReadLBA: %v", err)
	}
	want := testKernelELF(t)
	if !bytes.Equal(raw[:len(want)], want) {
		t.Error("kernel bytes differ from the input ELF")
	}
}

func TestBuildRejectsBadKernel(t *testing.T) {
	dir := t.TempDir()
	kernelPath := filepath.Join(dir, "kernel.elf")
	if err := os.WriteFile(kernelPath, []byte("not an elf"), 0o644); err != nil {
		t.Fatalf("write kernel: %v", err)
	}

	cfg := &Config{
		Kernel: kernelPath,
		Output: filepath.Join(dir, "boot.img"),
		Drive:  DefaultDrive,
	}
	if err := Build(cfg); err == nil {
		t.Fatal("Build accepted a non-ELF kernel")
	}
	if _, err := os.Stat(cfg.Output); !errors.Is(err, os.ErrNotExist) {
		t.Error("a rejected build still produced an image")
	}
}

func TestImageServesOnlyItsDrive(t *testing.T) {
	_, path := buildTestImage(t, "")

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]byte, mach.SectorSize)
	err = img.ReadLBA(0x80, 0, 1, buf)

	var diskErr *mach.DiskError
	if !errors.As(err, &diskErr) {
		t.Fatalf("error %v, want DiskError", err)
	}
	if diskErr.Drive != 0x80 || diskErr.Status != statusBadCommand {
		t.Errorf("DiskError %+v", diskErr)
	}
}

func TestImageOutOfRangeRead(t *testing.T) {
	_, path := buildTestImage(t, "")

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]byte, mach.SectorSize)
	err = img.ReadLBA(img.Drive(), 1<<20, 1, buf)

	var diskErr *mach.DiskError
	if !errors.As(err, &diskErr) {
		t.Fatalf("error %v, want DiskError", err)
	}
	if diskErr.Status != statusSectorNotFound {
		t.Errorf("status %#x, want sector-not-found", diskErr.Status)
	}
}

func TestOpenRejectsMissingSignature(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blank.img")
	if err := os.WriteFile(path, make([]byte, 4*mach.SectorSize), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open accepted an image without a boot signature")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guaboot.yaml")
	if err := os.WriteFile(path, []byte("kernel: k.elf\ncmdline: quiet\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Kernel != "k.elf" || cfg.Cmdline != "quiet" {
		t.Errorf("config %+v", cfg)
	}
	if cfg.Output != "boot.img" {
		t.Errorf("output default %q, want boot.img", cfg.Output)
	}
	if cfg.Drive != DefaultDrive {
		t.Errorf("drive default %#x, want %#x", cfg.Drive, DefaultDrive)
	}
}

func TestLoadConfigRequiresKernel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guaboot.yaml")
	if err := os.WriteFile(path, []byte("cmdline: quiet\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig accepted a config without a kernel")
	}
}
