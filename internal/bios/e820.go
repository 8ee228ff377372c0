package bios

import (
	"sort"

	"github.com/guardbsd/guaboot/internal/bootinfo"
)

// E820Region is one firmware memory-map entry as reported by the BIOS
// probe. Type 1 is usable RAM; everything else is treated as reserved.
type E820Region struct {
	Base   uint64
	Length uint64
	Type   uint32
}

// MemoryProber is the firmware memory-detection service. On hardware this
// is the INT 15h/E820 loop; the emulated machine supplies its RAM layout
// directly.
type MemoryProber interface {
	DetectMemory() ([]E820Region, error)
}

// StaticProber is a MemoryProber returning a fixed region list.
type StaticProber []E820Region

func (p StaticProber) DetectMemory() ([]E820Region, error) {
	out := make([]E820Region, len(p))
	copy(out, p)
	return out, nil
}

// translateRegions converts probed regions into the BootInfo map format
// (sorted by base) and accumulates low/high memory totals in KB from
// usable regions only.
func translateRegions(regions []E820Region) (entries []bootinfo.MapEntry, lowerKB, upperKB uint64) {
	entries = make([]bootinfo.MapEntry, 0, len(regions))
	for _, r := range regions {
		if r.Length == 0 {
			continue
		}
		typ := bootinfo.MemoryReserved
		if r.Type == 1 {
			typ = bootinfo.MemoryUsable
		}
		entries = append(entries, bootinfo.MapEntry{
			Base:   r.Base,
			Length: r.Length,
			Type:   typ,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Base < entries[j].Base })

	for _, ent := range entries {
		if ent.Type != bootinfo.MemoryUsable {
			continue
		}
		if ent.Base < 0x100000 {
			lowerKB += ent.Length / 1024
		} else {
			upperKB += ent.Length / 1024
		}
	}
	return entries, lowerKB, upperKB
}

// fallbackMap is the degraded two-entry map used when probing reports
// nothing: the first MiB reserved for boot-stage structures, then a fixed
// 127 MiB usable window.
func fallbackMap() (entries []bootinfo.MapEntry, lowerKB, upperKB uint64) {
	entries = []bootinfo.MapEntry{
		{Base: 0x00000000, Length: 0x00100000, Type: bootinfo.MemoryReserved},
		{Base: 0x00100000, Length: 0x07F00000, Type: bootinfo.MemoryUsable},
	}
	return entries, 640, 127 * 1024
}
