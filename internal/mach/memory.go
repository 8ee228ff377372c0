package mach

import (
	"encoding/binary"
	"fmt"
	"os"
)

// RAM is a flat, host-allocated physical memory region.
type RAM struct {
	base uint64
	data []byte
}

// NewRAM allocates size bytes of zeroed memory starting at base.
func NewRAM(base, size uint64) *RAM {
	return &RAM{
		base: base,
		data: make([]byte, size),
	}
}

func (r *RAM) MemoryBase() uint64 { return r.base }
func (r *RAM) MemorySize() uint64 { return uint64(len(r.data)) }

// ReadAt implements Memory. off is a physical address.
func (r *RAM) ReadAt(p []byte, off int64) (n int, err error) {
	off = off - int64(r.base)

	if off < 0 || int(off) >= len(r.data) {
		return 0, os.ErrInvalid
	}

	n = copy(p, r.data[off:])
	if n < len(p) {
		err = os.ErrInvalid
	}

	return n, err
}

// WriteAt implements Memory. off is a physical address.
func (r *RAM) WriteAt(p []byte, off int64) (n int, err error) {
	off = off - int64(r.base)

	if off < 0 || int(off) >= len(r.data) {
		return 0, os.ErrInvalid
	}

	n = copy(r.data[off:], p)
	if n < len(p) {
		err = os.ErrInvalid
	}

	return n, err
}

// ReadU32 reads a little-endian uint32 at the physical address addr.
func ReadU32(m Memory, addr uint64) (uint32, error) {
	var buf [4]byte
	if _, err := m.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("read u32 @%#x: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadU64 reads a little-endian uint64 at the physical address addr.
func ReadU64(m Memory, addr uint64) (uint64, error) {
	var buf [8]byte
	if _, err := m.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("read u64 @%#x: %w", addr, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteU32 writes a little-endian uint32 at the physical address addr.
func WriteU32(m Memory, addr uint64, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := m.WriteAt(buf[:], int64(addr)); err != nil {
		return fmt.Errorf("write u32 @%#x: %w", addr, err)
	}
	return nil
}

// WriteU64 writes a little-endian uint64 at the physical address addr.
func WriteU64(m Memory, addr uint64, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := m.WriteAt(buf[:], int64(addr)); err != nil {
		return fmt.Errorf("write u64 @%#x: %w", addr, err)
	}
	return nil
}

// Zero clears n bytes of memory starting at the physical address addr.
func Zero(m Memory, addr uint64, n int) error {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, err := m.WriteAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("zero %d bytes @%#x: %w", n, addr, err)
	}
	return nil
}
