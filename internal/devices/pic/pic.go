// Package pic models the mask registers of the legacy 8259 interrupt
// controller pair. Stage 2 masks every line before touching protected
// mode; nothing may fire until the kernel installs its own handlers.
package pic

import "github.com/guardbsd/guaboot/internal/mach"

const (
	PrimaryCommand   = 0x20
	PrimaryData      = 0x21
	SecondaryCommand = 0xA0
	SecondaryData    = 0xA1
)

// Pair tracks the interrupt masks of both controllers.
type Pair struct {
	primaryMask   byte
	secondaryMask byte
}

func New() *Pair {
	return &Pair{}
}

// AllMasked reports whether every interrupt line on both controllers is
// masked off.
func (p *Pair) AllMasked() bool {
	return p.primaryMask == 0xFF && p.secondaryMask == 0xFF
}

// IOPorts implements mach.PortDevice.
func (p *Pair) IOPorts() []uint16 {
	return []uint16{PrimaryCommand, PrimaryData, SecondaryCommand, SecondaryData}
}

// ReadIOPort implements mach.PortDevice.
func (p *Pair) ReadIOPort(port uint16) (byte, error) {
	switch port {
	case PrimaryData:
		return p.primaryMask, nil
	case SecondaryData:
		return p.secondaryMask, nil
	}
	return 0, nil
}

// WriteIOPort implements mach.PortDevice.
func (p *Pair) WriteIOPort(port uint16, value byte) error {
	switch port {
	case PrimaryData:
		p.primaryMask = value
	case SecondaryData:
		p.secondaryMask = value
	}
	return nil
}

var _ mach.PortDevice = (*Pair)(nil)
