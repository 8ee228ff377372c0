package efi

import (
	"fmt"
	"sync/atomic"
)

// MemFirmware is an in-memory Firmware: files come from a map and the
// memory map is fixed. It reproduces the awkward parts of real firmware
// on demand, in particular the map key going stale between GetMemoryMap
// and ExitBootServices.
type MemFirmware struct {
	Files map[string][]byte
	Map   []MemoryDescriptor

	// StaleKeys makes the first n ExitBootServices calls fail with
	// ErrStaleMapKey regardless of the key, forcing the retry path.
	StaleKeys int

	key    atomic.Uint64
	exited bool
}

// ReadFile implements Firmware.
func (f *MemFirmware) ReadFile(path string) ([]byte, error) {
	data, ok := f.Files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// MemoryMap implements Firmware. Every call returns a fresh key, so a
// key from an earlier call no longer matches.
func (f *MemFirmware) MemoryMap() ([]MemoryDescriptor, uint64, error) {
	if f.exited {
		return nil, 0, fmt.Errorf("boot services have exited")
	}
	out := make([]MemoryDescriptor, len(f.Map))
	copy(out, f.Map)
	return out, f.key.Add(1), nil
}

// ExitBootServices implements Firmware.
func (f *MemFirmware) ExitBootServices(mapKey uint64) error {
	if f.exited {
		return fmt.Errorf("boot services have already exited")
	}
	if f.StaleKeys > 0 {
		f.StaleKeys--
		return ErrStaleMapKey
	}
	if mapKey != f.key.Load() {
		return ErrStaleMapKey
	}
	f.exited = true
	return nil
}

// Exited reports whether boot services have been terminated.
func (f *MemFirmware) Exited() bool { return f.exited }

var _ Firmware = (*MemFirmware)(nil)
