package paging

import (
	"bytes"
	"testing"

	"github.com/guardbsd/guaboot/internal/mach"
)

func TestIdentityMap(t *testing.T) {
	ram := mach.NewRAM(0, 1<<20)

	cr3, err := IdentityMap(ram, 0x70000, 1)
	if err != nil {
		t.Fatalf("IdentityMap: %v", err)
	}
	if cr3 != 0x70000 {
		t.Fatalf("cr3 %#x, want 0x70000", cr3)
	}

	pml4e, err := mach.ReadU64(ram, 0x70000)
	if err != nil {
		t.Fatalf("read PML4[0]: %v", err)
	}
	if want := uint64(0x71000 | 0x3); pml4e != want {
		t.Errorf("PML4[0] = %#x, want %#x", pml4e, want)
	}

	pdpte, err := mach.ReadU64(ram, 0x71000)
	if err != nil {
		t.Fatalf("read PDPT[0]: %v", err)
	}
	if want := uint64(0x72000 | 0x3); pdpte != want {
		t.Errorf("PDPT[0] = %#x, want %#x", pdpte, want)
	}

	// Every PD entry maps a 2 MiB huge page at its own index.
	for i := 0; i < 512; i += 37 {
		pde, err := mach.ReadU64(ram, 0x72000+uint64(i)*8)
		if err != nil {
			t.Fatalf("read PD[%d]: %v", i, err)
		}
		want := uint64(i)*HugePageSize | 0x83
		if pde != want {
			t.Errorf("PD[%d] = %#x, want %#x", i, pde, want)
		}
	}

	// Unused PML4 slots stay empty.
	pml4e1, err := mach.ReadU64(ram, 0x70000+8)
	if err != nil {
		t.Fatalf("read PML4[1]: %v", err)
	}
	if pml4e1 != 0 {
		t.Errorf("PML4[1] = %#x, want 0", pml4e1)
	}
}

func TestIdentityMapIdempotent(t *testing.T) {
	ram := mach.NewRAM(0, 1<<20)

	if _, err := IdentityMap(ram, 0x70000, 2); err != nil {
		t.Fatalf("first IdentityMap: %v", err)
	}
	first := make([]byte, ArenaSize(2))
	if _, err := ram.ReadAt(first, 0x70000); err != nil {
		t.Fatalf("read arena: %v", err)
	}

	if _, err := IdentityMap(ram, 0x70000, 2); err != nil {
		t.Fatalf("second IdentityMap: %v", err)
	}
	second := make([]byte, ArenaSize(2))
	if _, err := ram.ReadAt(second, 0x70000); err != nil {
		t.Fatalf("read arena: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("rebuilding the tables changed their contents")
	}
}

func TestIdentityMapRejectsBadArguments(t *testing.T) {
	ram := mach.NewRAM(0, 1<<20)

	if _, err := IdentityMap(ram, 0x70010, 1); err == nil {
		t.Error("accepted an unaligned arena")
	}
	if _, err := IdentityMap(ram, 0x70000, 0); err == nil {
		t.Error("accepted zero gigabytes")
	}
	if _, err := IdentityMap(ram, 0x70000, 513); err == nil {
		t.Error("accepted more than 512 gigabytes")
	}
}

func TestArenaSize(t *testing.T) {
	if got := ArenaSize(1); got != 3*TableSize {
		t.Errorf("ArenaSize(1) = %#x, want %#x", got, 3*TableSize)
	}
	if got := ArenaSize(4); got != 6*TableSize {
		t.Errorf("ArenaSize(4) = %#x, want %#x", got, 6*TableSize)
	}
}
