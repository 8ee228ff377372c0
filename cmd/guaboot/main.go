// Command guaboot builds GuardBSD boot images and runs them through the
// emulated boot paths.
//
// Usage:
//
//	guaboot mkimage -config guaboot.yaml
//	guaboot boot [-mem 128] [-transcript out.txt] boot.img
//	guaboot efiboot -kernel kernel.elf [-cmdline ...]
//	guaboot inspect boot.img
package main

import (
	"bytes"
	"flag"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/guardbsd/guaboot/internal/bios"
	"github.com/guardbsd/guaboot/internal/bootinfo"
	"github.com/guardbsd/guaboot/internal/devices/i8042"
	"github.com/guardbsd/guaboot/internal/devices/pic"
	"github.com/guardbsd/guaboot/internal/devices/serial"
	"github.com/guardbsd/guaboot/internal/diskimage"
	"github.com/guardbsd/guaboot/internal/efi"
	"github.com/guardbsd/guaboot/internal/kernel"
	"github.com/guardbsd/guaboot/internal/mach"
)

var debug = flag.Bool("debug", false, "enable debug logging")

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	if err := run(flag.Args()); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: guaboot <mkimage|boot|efiboot|inspect> [flags]")
	}
	switch args[0] {
	case "mkimage":
		return runMkimage(args[1:])
	case "boot":
		return runBoot(args[1:])
	case "efiboot":
		return runEFIBoot(args[1:])
	case "inspect":
		return runInspect(args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runMkimage(args []string) error {
	fs := flag.NewFlagSet("mkimage", flag.ExitOnError)
	configPath := fs.String("config", "guaboot.yaml", "image description")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := diskimage.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := diskimage.Build(cfg); err != nil {
		return err
	}

	slog.Info("image written", "output", cfg.Output, "kernel", cfg.Kernel, "drive", fmt.Sprintf("%#02x", cfg.Drive))
	return nil
}

func runBoot(args []string) error {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	memMiB := fs.Uint64("mem", 128, "machine memory in MiB")
	transcript := fs.String("transcript", "", "write the serial transcript (ANSI stripped) to this file")
	interactive := fs.Bool("interactive", false, "put the terminal in raw mode for the serial console")
	drive := fs.Uint("drive", 0, "firmware boot drive override")
	cmdline := fs.String("cmdline", "", "kernel command line override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: guaboot boot [flags] <image>")
	}

	img, err := diskimage.Open(fs.Arg(0))
	if err != nil {
		return err
	}

	if *interactive && term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	var captured bytes.Buffer
	m, err := newMachine(*memMiB<<20, img, &captured)
	if err != nil {
		return err
	}

	p := bios.NewPipeline(m)
	p.Prober = defaultProber(*memMiB << 20)
	p.Cmdline = img.Cmdline()
	if *cmdline != "" {
		p.Cmdline = *cmdline
	}

	bootDrive := img.Drive()
	if *drive != 0 {
		bootDrive = uint8(*drive)
	}
	slog.Debug("booting", "drive", fmt.Sprintf("%#02x", bootDrive), "mem", *memMiB)

	handoff, bootErr := p.Boot(bootDrive)

	os.Stdout.Write(captured.Bytes())
	if *transcript != "" {
		if err := os.WriteFile(*transcript, []byte(ansi.Strip(captured.String())), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
	}
	if bootErr != nil {
		return bootErr
	}

	return reportHandoff(m.Mem, handoff.Entry, handoff.BootInfo, handoff.Magic)
}

func runEFIBoot(args []string) error {
	fs := flag.NewFlagSet("efiboot", flag.ExitOnError)
	kernelPath := fs.String("kernel", "", "kernel ELF to boot")
	cmdline := fs.String("cmdline", "", "kernel command line")
	memMiB := fs.Uint64("mem", 128, "machine memory in MiB")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kernelPath == "" {
		return fmt.Errorf("usage: guaboot efiboot -kernel <elf> [flags]")
	}

	raw, err := os.ReadFile(*kernelPath)
	if err != nil {
		return fmt.Errorf("read kernel: %w", err)
	}

	memBytes := *memMiB << 20
	fw := &efi.MemFirmware{
		Files: map[string][]byte{efi.KernelPath: raw},
		Map: []efi.MemoryDescriptor{
			{Type: efi.ConventionalMemory, PhysicalStart: 0, NumberOfPages: 0x9F},
			{Type: efi.BootServicesData, PhysicalStart: 0x9F000, NumberOfPages: 0x61},
			{Type: efi.ConventionalMemory, PhysicalStart: 0x100000, NumberOfPages: (memBytes - 0x100000) / efi.PageSize},
		},
	}

	l := &efi.Loader{
		FW:      fw,
		Mem:     mach.NewRAM(0, memBytes),
		Cmdline: *cmdline,
	}
	handoff, err := l.Boot()
	if err != nil {
		return err
	}

	return reportHandoff(l.Mem, handoff.Entry, handoff.BootInfo, handoff.Magic)
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: guaboot inspect <image>")
	}

	img, err := diskimage.Open(fs.Arg(0))
	if err != nil {
		return err
	}

	lba, sectors := img.KernelRegion()
	fmt.Printf("drive:    %#02x\n", img.Drive())
	fmt.Printf("kernel:   LBA %d, %d sectors\n", lba, sectors)
	fmt.Printf("cmdline:  %q\n", img.Cmdline())

	raw := make([]byte, uint64(sectors)*mach.SectorSize)
	if err := img.ReadLBA(img.Drive(), lba, int(sectors), raw); err != nil {
		return fmt.Errorf("read kernel region: %w", err)
	}
	parsed, err := kernel.Parse(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("kernel region: %w", err)
	}
	fmt.Printf("entry:    %#x\n", parsed.Entry)
	fmt.Printf("span:     [%#x, %#x)\n", parsed.MinPhys, parsed.MaxPhys)
	fmt.Printf("segments: %d\n", len(parsed.Segments))
	fmt.Printf("crc32:    %#08x\n", crc32.ChecksumIEEE(raw))
	return nil
}

// newMachine assembles a machine with the legacy device set attached:
// COM1 UART, keyboard controller and the PIC pair.
func newMachine(memBytes uint64, disk mach.Disk, serialOut *bytes.Buffer) (*mach.Machine, error) {
	m := mach.New(mach.Config{
		MemorySize: memBytes,
		Disk:       disk,
	})
	for _, dev := range []mach.PortDevice{
		serial.NewUART16550(serial.COM1Base, serialOut),
		i8042.New(),
		pic.New(),
	} {
		if err := m.Ports.AddDevice(dev); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// defaultProber reports the conventional PC layout for a machine with
// memBytes of RAM: usable low memory up to the EBDA, a reserved hole up
// to 1 MiB, then usable high memory.
func defaultProber(memBytes uint64) bios.StaticProber {
	return bios.StaticProber{
		{Base: 0x00000000, Length: 0x0009FC00, Type: 1},
		{Base: 0x0009FC00, Length: 0x00060400, Type: 2},
		{Base: 0x00100000, Length: memBytes - 0x00100000, Type: 1},
	}
}

func reportHandoff(mem mach.Memory, entry, infoAddr uint64, magic uint32) error {
	if magic != bootinfo.Magic {
		return fmt.Errorf("handoff magic %#x (want %#x)", magic, bootinfo.Magic)
	}
	bi, err := bootinfo.Read(mem, infoAddr)
	if err != nil {
		return fmt.Errorf("read back BootInfo: %w", err)
	}

	slog.Info("kernel entered",
		"entry", fmt.Sprintf("%#x", entry),
		"bootinfo", fmt.Sprintf("%#x", infoAddr),
		"crc32", fmt.Sprintf("%#08x", bi.KernelCRC32),
		"mem_lower_kb", bi.MemLowerKB,
		"mem_upper_kb", bi.MemUpperKB,
		"map_entries", len(bi.MemoryMap))
	return nil
}
