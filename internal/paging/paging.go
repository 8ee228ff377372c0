// Package paging builds the identity-mapped long-mode page tables the
// loader activates before jumping to 64-bit code. No allocator exists at
// that point, so the tables live in a fixed arena: PML4, then PDPT, then
// one page directory per mapped GiB, each 4 KiB and 4 KiB aligned.
package paging

import (
	"encoding/binary"
	"fmt"

	"github.com/guardbsd/guaboot/internal/mach"
)

const (
	entryPresent = uint64(1) << 0
	entryWrite   = uint64(1) << 1
	entryHuge    = uint64(1) << 7

	entriesPerTable = 512

	// TableSize is the size of one paging structure.
	TableSize = 0x1000

	// HugePageSize is the 2 MiB mapping granularity used throughout.
	HugePageSize = uint64(2) << 20

	pml4Offset = 0x0000
	pdptOffset = 0x1000
	pdOffset   = 0x2000
)

// ArenaSize returns the bytes of arena needed to map gigabytes GiB.
func ArenaSize(gigabytes int) uint64 {
	return uint64(2+gigabytes) * TableSize
}

// IdentityMap writes a page-table set at base that identity-maps the first
// gigabytes GiB of physical memory with 2 MiB huge pages, and returns the
// PML4 physical address to load into CR3. The build is deterministic:
// identical inputs produce byte-identical tables, and the arena is fully
// rewritten on every call.
func IdentityMap(m mach.Memory, base uint64, gigabytes int) (uint64, error) {
	if base%TableSize != 0 {
		return 0, fmt.Errorf("paging arena %#x is not 4 KiB aligned", base)
	}
	if gigabytes < 1 || gigabytes > entriesPerTable {
		return 0, fmt.Errorf("cannot identity map %d GiB", gigabytes)
	}

	buf := make([]byte, ArenaSize(gigabytes))
	le := binary.LittleEndian

	pml4Addr := base + pml4Offset
	pdptAddr := base + pdptOffset

	// A single PML4 entry covers the low 512 GiB.
	le.PutUint64(buf[pml4Offset:], pdptAddr|entryPresent|entryWrite)

	for g := 0; g < gigabytes; g++ {
		pdAddr := base + pdOffset + uint64(g)*TableSize
		le.PutUint64(buf[pdptOffset+g*8:], pdAddr|entryPresent|entryWrite)

		tableOff := pdOffset + g*TableSize
		giBBase := uint64(g) << 30
		for i := 0; i < entriesPerTable; i++ {
			phys := giBBase | uint64(i)*HugePageSize
			le.PutUint64(buf[tableOff+i*8:], phys|entryPresent|entryWrite|entryHuge)
		}
	}

	if _, err := m.WriteAt(buf, int64(base)); err != nil {
		return 0, fmt.Errorf("write page tables @%#x: %w", base, err)
	}
	return pml4Addr, nil
}
