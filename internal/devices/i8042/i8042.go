// Package i8042 models the legacy keyboard controller, which stage 2 uses
// to gate the A20 address line.
package i8042

import "github.com/guardbsd/guaboot/internal/mach"

const (
	DataPort    = 0x60
	CommandPort = 0x64

	statusOutputFull = 1 << 0
	statusInputFull  = 1 << 1

	cmdDisableKeyboard = 0xAD
	cmdEnableKeyboard  = 0xAE
	cmdReadOutputPort  = 0xD0
	cmdWriteOutputPort = 0xD1

	outputA20Gate = 1 << 1
)

// Controller is an 8042 with just the output-port plumbing the A20
// handshake needs. The controller is never busy (input buffer drains
// immediately), which keeps status polling loops in stage code finite.
type Controller struct {
	outputPort byte
	pendingCmd byte
	readBuffer byte
	hasRead    bool

	keyboardEnabled bool
}

// New returns a controller with the keyboard enabled and A20 disabled,
// the state a legacy machine powers up in.
func New() *Controller {
	return &Controller{
		outputPort:      0x01, // system reset line held high
		keyboardEnabled: true,
	}
}

// A20Enabled reports the state of the A20 gate bit in the output port.
func (c *Controller) A20Enabled() bool {
	return c.outputPort&outputA20Gate != 0
}

// KeyboardEnabled reports whether the keyboard interface is enabled. The
// A20 sequence must leave it enabled.
func (c *Controller) KeyboardEnabled() bool {
	return c.keyboardEnabled
}

// IOPorts implements mach.PortDevice.
func (c *Controller) IOPorts() []uint16 {
	return []uint16{DataPort, CommandPort}
}

// ReadIOPort implements mach.PortDevice.
func (c *Controller) ReadIOPort(port uint16) (byte, error) {
	switch port {
	case CommandPort:
		var status byte
		if c.hasRead {
			status |= statusOutputFull
		}
		return status, nil
	case DataPort:
		c.hasRead = false
		return c.readBuffer, nil
	}
	return 0, nil
}

// WriteIOPort implements mach.PortDevice.
func (c *Controller) WriteIOPort(port uint16, value byte) error {
	switch port {
	case CommandPort:
		c.pendingCmd = 0
		switch value {
		case cmdDisableKeyboard:
			c.keyboardEnabled = false
		case cmdEnableKeyboard:
			c.keyboardEnabled = true
		case cmdReadOutputPort:
			c.readBuffer = c.outputPort
			c.hasRead = true
		case cmdWriteOutputPort:
			c.pendingCmd = cmdWriteOutputPort
		}
	case DataPort:
		if c.pendingCmd == cmdWriteOutputPort {
			c.outputPort = value
			c.pendingCmd = 0
		}
	}
	return nil
}

var _ mach.PortDevice = (*Controller)(nil)
