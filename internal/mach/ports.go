package mach

import "fmt"

// PortDevice is an x86 I/O-port device claiming a set of ports on the bus.
type PortDevice interface {
	IOPorts() []uint16

	ReadIOPort(port uint16) (byte, error)
	WriteIOPort(port uint16, value byte) error
}

// PortBus dispatches in/out byte accesses to the device owning each port.
type PortBus struct {
	handlers map[uint16]PortDevice
}

func NewPortBus() *PortBus {
	return &PortBus{handlers: make(map[uint16]PortDevice)}
}

// AddDevice claims every port the device reports. Overlapping claims are an
// error: port ownership is exclusive.
func (b *PortBus) AddDevice(dev PortDevice) error {
	for _, port := range dev.IOPorts() {
		if _, ok := b.handlers[port]; ok {
			return fmt.Errorf("I/O port 0x%X claimed twice", port)
		}
		b.handlers[port] = dev
	}
	return nil
}

// In reads a byte from port.
func (b *PortBus) In(port uint16) (byte, error) {
	dev, ok := b.handlers[port]
	if !ok {
		return 0, fmt.Errorf("unhandled read from I/O port 0x%X", port)
	}
	return dev.ReadIOPort(port)
}

// Out writes a byte to port.
func (b *PortBus) Out(port uint16, value byte) error {
	dev, ok := b.handlers[port]
	if !ok {
		return fmt.Errorf("unhandled write to I/O port 0x%X", port)
	}
	return dev.WriteIOPort(port, value)
}
