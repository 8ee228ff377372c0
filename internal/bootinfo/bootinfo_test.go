package bootinfo

import (
	"testing"

	"github.com/guardbsd/guaboot/internal/mach"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ram := mach.NewRAM(0, 8<<20)

	in := &Info{
		KernelCRC32: 0xCBF43926,
		KernelBase:  0x200000,
		KernelSize:  0x1000,
		MemLowerKB:  639,
		MemUpperKB:  130048,
		BootDevice:  0xE0,
		Cmdline:     "console=ttyS0 root=/dev/rd0",
		Modules: []Module{
			{Start: 0x300000, End: 0x310000, Name: "initrd"},
			{Start: 0x310000, End: 0x318000, Name: "ucode"},
		},
		MemoryMap: []MapEntry{
			{Base: 0, Length: 0x9FC00, Type: MemoryUsable},
			{Base: 0x9FC00, Length: 0x60400, Type: MemoryReserved},
			{Base: 0x100000, Length: 0x7F00000, Type: MemoryUsable},
		},
	}

	end, err := in.WriteTo(ram, 0x100000)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if end <= 0x100000+InfoSize {
		t.Fatalf("end %#x does not cover the header", end)
	}

	out, err := Read(ram, 0x100000)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if out.KernelCRC32 != in.KernelCRC32 {
		t.Errorf("crc %#x, want %#x", out.KernelCRC32, in.KernelCRC32)
	}
	if out.KernelBase != in.KernelBase || out.KernelSize != in.KernelSize {
		t.Errorf("kernel [%#x +%#x], want [%#x +%#x]",
			out.KernelBase, out.KernelSize, in.KernelBase, in.KernelSize)
	}
	if out.MemLowerKB != in.MemLowerKB || out.MemUpperKB != in.MemUpperKB {
		t.Errorf("memory %d/%d KB, want %d/%d KB",
			out.MemLowerKB, out.MemUpperKB, in.MemLowerKB, in.MemUpperKB)
	}
	if out.BootDevice != in.BootDevice {
		t.Errorf("boot device %#x, want %#x", out.BootDevice, in.BootDevice)
	}
	if out.Cmdline != in.Cmdline {
		t.Errorf("cmdline %q, want %q", out.Cmdline, in.Cmdline)
	}
	if len(out.Modules) != len(in.Modules) {
		t.Fatalf("got %d modules, want %d", len(out.Modules), len(in.Modules))
	}
	for i := range in.Modules {
		if out.Modules[i] != in.Modules[i] {
			t.Errorf("module %d = %+v, want %+v", i, out.Modules[i], in.Modules[i])
		}
	}
	if len(out.MemoryMap) != len(in.MemoryMap) {
		t.Fatalf("got %d map entries, want %d", len(out.MemoryMap), len(in.MemoryMap))
	}
	for i := range in.MemoryMap {
		if out.MemoryMap[i] != in.MemoryMap[i] {
			t.Errorf("map entry %d = %+v, want %+v", i, out.MemoryMap[i], in.MemoryMap[i])
		}
	}
}

func TestHeaderSizeField(t *testing.T) {
	ram := mach.NewRAM(0, 8<<20)
	bi := &Info{
		MemoryMap: []MapEntry{{Base: 0, Length: 0x1000, Type: MemoryUsable}},
	}
	if _, err := bi.WriteTo(ram, 0x100000); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	size, err := mach.ReadU32(ram, 0x100000+infoSizeOffset)
	if err != nil {
		t.Fatalf("read size field: %v", err)
	}
	if size != InfoSize {
		t.Errorf("size field %d, want %d", size, InfoSize)
	}
	magic, err := mach.ReadU32(ram, 0x100000+infoMagicOffset)
	if err != nil {
		t.Fatalf("read magic field: %v", err)
	}
	if magic != Magic {
		t.Errorf("magic field %#x, want %#x", magic, Magic)
	}
}

func TestWriteToRejectsUnaligned(t *testing.T) {
	ram := mach.NewRAM(0, 8<<20)
	bi := &Info{
		MemoryMap: []MapEntry{{Base: 0, Length: 0x1000, Type: MemoryUsable}},
	}
	if _, err := bi.WriteTo(ram, 0x100004); err == nil {
		t.Fatal("WriteTo accepted an unaligned address")
	}
}

func TestValidateMap(t *testing.T) {
	for _, tc := range []struct {
		name    string
		entries []MapEntry
		wantErr bool
	}{
		{
			name:    "empty",
			wantErr: true,
		},
		{
			name:    "zero length",
			entries: []MapEntry{{Base: 0x1000, Length: 0, Type: MemoryUsable}},
			wantErr: true,
		},
		{
			name: "out of order",
			entries: []MapEntry{
				{Base: 0x2000, Length: 0x1000, Type: MemoryUsable},
				{Base: 0x1000, Length: 0x1000, Type: MemoryUsable},
			},
			wantErr: true,
		},
		{
			name: "overlapping",
			entries: []MapEntry{
				{Base: 0x1000, Length: 0x2000, Type: MemoryUsable},
				{Base: 0x2000, Length: 0x1000, Type: MemoryReserved},
			},
			wantErr: true,
		},
		{
			name: "wrapping",
			entries: []MapEntry{
				{Base: ^uint64(0) - 0x100, Length: 0x1000, Type: MemoryUsable},
			},
			wantErr: true,
		},
		{
			name: "valid",
			entries: []MapEntry{
				{Base: 0x0000, Length: 0x1000, Type: MemoryUsable},
				{Base: 0x1000, Length: 0x1000, Type: MemoryReserved},
				{Base: 0x3000, Length: 0x1000, Type: MemoryUsable},
			},
		},
	} {
		err := ValidateMap(tc.entries)
		if tc.wantErr && err == nil {
			t.Errorf("%s: ValidateMap accepted a bad map", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: ValidateMap: %v", tc.name, err)
		}
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	ram := mach.NewRAM(0, 8<<20)
	if err := mach.WriteU32(ram, 0x100000+infoMagicOffset, 0xDEADBEEF); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Read(ram, 0x100000); err == nil {
		t.Fatal("Read accepted a bad magic")
	}
}
