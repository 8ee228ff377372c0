// Package serial models the COM1 16550 UART, the only observability
// channel the boot stages have before the kernel brings up a console.
package serial

import (
	"io"

	"github.com/guardbsd/guaboot/internal/mach"
)

// COM1Base is the port base of the first serial port.
const COM1Base = 0x3F8

const (
	uartRegisterCount = 8

	uartLCRDLAB = 1 << 7
	uartMCRLoop = 1 << 4

	uartLSRDataReady = 1 << 0
	uartLSRTHRE      = 1 << 5
	uartLSRTEMT      = 1 << 6
)

// UART16550 implements a minimal 16550-compatible UART on the port bus.
// Transmitted bytes are forwarded to out.
type UART16550 struct {
	base uint16
	out  io.Writer

	dll byte
	dlm byte
	ier byte
	fcr byte
	lcr byte
	mcr byte
	lsr byte
	scr byte
	rbr byte

	fifoEnabled bool
	skipLF      bool
}

// NewUART16550 builds a UART at the supplied port base (normally COM1Base).
func NewUART16550(base uint16, out io.Writer) *UART16550 {
	return &UART16550{
		base: base,
		out:  out,
		lsr:  uartLSRTHRE | uartLSRTEMT,
	}
}

// IOPorts implements mach.PortDevice.
func (s *UART16550) IOPorts() []uint16 {
	ports := make([]uint16, uartRegisterCount)
	for i := range ports {
		ports[i] = s.base + uint16(i)
	}
	return ports
}

// ReadIOPort implements mach.PortDevice.
func (s *UART16550) ReadIOPort(port uint16) (byte, error) {
	switch port - s.base {
	case 0:
		if s.lcr&uartLCRDLAB != 0 {
			return s.dll, nil
		}
		value := s.rbr
		s.rbr = 0
		s.lsr &^= uartLSRDataReady
		return value, nil
	case 1:
		if s.lcr&uartLCRDLAB != 0 {
			return s.dlm, nil
		}
		return s.ier, nil
	case 2:
		return 0x01, nil
	case 3:
		return s.lcr, nil
	case 4:
		return s.mcr, nil
	case 5:
		return s.lsr, nil
	case 6:
		return s.modemStatus(), nil
	case 7:
		return s.scr, nil
	default:
		return 0, nil
	}
}

// WriteIOPort implements mach.PortDevice.
func (s *UART16550) WriteIOPort(port uint16, value byte) error {
	switch port - s.base {
	case 0:
		if s.lcr&uartLCRDLAB != 0 {
			s.dll = value
		} else {
			s.transmit(value)
		}
	case 1:
		if s.lcr&uartLCRDLAB != 0 {
			s.dlm = value
		} else {
			s.ier = value & 0x0F
		}
	case 2:
		s.setFCR(value)
	case 3:
		s.lcr = value
	case 4:
		s.mcr = value & 0x1F
	case 7:
		s.scr = value
	}
	return nil
}

// Divisor reports the programmed baud divisor, for tests asserting the
// 38400 8N1 configuration.
func (s *UART16550) Divisor() uint16 {
	return uint16(s.dlm)<<8 | uint16(s.dll)
}

// LineControl reports the programmed LCR value.
func (s *UART16550) LineControl() byte { return s.lcr }

// FIFOEnabled reports whether the FIFO was enabled via FCR bit 0.
func (s *UART16550) FIFOEnabled() bool { return s.fifoEnabled }

func (s *UART16550) transmit(value byte) {
	if s.mcr&uartMCRLoop != 0 {
		s.rbr = value
		s.lsr |= uartLSRDataReady
		return
	}
	if s.out != nil {
		switch value {
		case '\r':
			_, _ = s.out.Write([]byte{'\n'})
			s.skipLF = true
		case '\n':
			if s.skipLF {
				s.skipLF = false
				break
			}
			_, _ = s.out.Write([]byte{'\n'})
		default:
			s.skipLF = false
			_, _ = s.out.Write([]byte{value})
		}
	}
	s.lsr |= uartLSRTHRE | uartLSRTEMT
}

func (s *UART16550) setFCR(value byte) {
	if value&0x02 != 0 {
		s.rbr = 0
		s.lsr &^= uartLSRDataReady
	}
	s.fcr = value
	s.fifoEnabled = value&0x01 != 0
}

func (s *UART16550) modemStatus() byte {
	const (
		bitCTS = 1 << 4
		bitDSR = 1 << 5
		bitDCD = 1 << 7
	)
	return bitCTS | bitDSR | bitDCD
}

var _ mach.PortDevice = (*UART16550)(nil)
