package serial

import "github.com/guardbsd/guaboot/internal/mach"

// Console is the stage-side COM1 driver. It mirrors what the real boot
// code does on hardware: program the UART once, then poll the line status
// register for transmit-ready before every byte.
type Console struct {
	bus  *mach.PortBus
	base uint16
}

// NewConsole programs the UART at base for 38400 baud, 8 data bits, no
// parity, 1 stop bit, FIFO enabled, and returns the driver.
func NewConsole(bus *mach.PortBus, base uint16) *Console {
	c := &Console{bus: bus, base: base}

	_ = bus.Out(base+1, 0x00) // disable interrupts
	_ = bus.Out(base+3, 0x80) // DLAB on
	_ = bus.Out(base+0, 0x03) // divisor low: 38400 baud
	_ = bus.Out(base+1, 0x00) // divisor high
	_ = bus.Out(base+3, 0x03) // 8N1, DLAB off
	_ = bus.Out(base+2, 0xC7) // FIFO enabled, cleared, 14-byte threshold
	_ = bus.Out(base+4, 0x0B) // DTR, RTS, OUT2

	return c
}

// Putc transmits one byte, waiting for the transmit holding register.
func (c *Console) Putc(b byte) {
	for {
		lsr, err := c.bus.In(c.base + 5)
		if err != nil || lsr&uartLSRTHRE != 0 {
			break
		}
	}
	_ = c.bus.Out(c.base, b)
}

// Puts writes a string, expanding \n to \r\n for raw terminals.
func (c *Console) Puts(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			c.Putc('\r')
		}
		c.Putc(s[i])
	}
}

// PutHex writes a fixed-width 16-digit uppercase hex rendering of val.
func (c *Console) PutHex(val uint64) {
	const hex = "0123456789ABCDEF"
	for shift := 60; shift >= 0; shift -= 4 {
		c.Putc(hex[(val>>uint(shift))&0xF])
	}
}
