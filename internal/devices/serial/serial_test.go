package serial

import (
	"bytes"
	"testing"

	"github.com/guardbsd/guaboot/internal/mach"
)

func newTestConsole(t *testing.T) (*Console, *UART16550, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	uart := NewUART16550(COM1Base, &out)
	bus := mach.NewPortBus()
	if err := bus.AddDevice(uart); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	return NewConsole(bus, COM1Base), uart, &out
}

func TestConsoleProgramsUART(t *testing.T) {
	_, uart, _ := newTestConsole(t)

	// 115200 / 38400 = divisor 3, 8N1, FIFO on.
	if got := uart.Divisor(); got != 3 {
		t.Errorf("divisor %d, want 3", got)
	}
	if got := uart.LineControl(); got != 0x03 {
		t.Errorf("LCR %#x, want 0x03", got)
	}
	if !uart.FIFOEnabled() {
		t.Error("FIFO not enabled")
	}
}

func TestConsoleOutput(t *testing.T) {
	cons, _, out := newTestConsole(t)

	cons.Puts("hello\nworld\n")

	// The console sends \r\n; the UART collapses it back to \n.
	if got := out.String(); got != "hello\nworld\n" {
		t.Errorf("output %q", got)
	}
}

func TestPutHex(t *testing.T) {
	cons, _, out := newTestConsole(t)

	cons.PutHex(0x42534447)
	if got := out.String(); got != "0000000042534447" {
		t.Errorf("output %q, want 16 fixed digits", got)
	}

	out.Reset()
	cons.PutHex(0xDEADBEEFCAFEF00D)
	if got := out.String(); got != "DEADBEEFCAFEF00D" {
		t.Errorf("output %q", got)
	}
}

func TestLoopback(t *testing.T) {
	var out bytes.Buffer
	uart := NewUART16550(COM1Base, &out)
	bus := mach.NewPortBus()
	if err := bus.AddDevice(uart); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	// MCR loopback routes transmitted bytes to the receive buffer.
	if err := bus.Out(COM1Base+4, 0x10); err != nil {
		t.Fatalf("set loopback: %v", err)
	}
	if err := bus.Out(COM1Base, 0x5A); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	lsr, err := bus.In(COM1Base + 5)
	if err != nil {
		t.Fatalf("read LSR: %v", err)
	}
	if lsr&0x01 == 0 {
		t.Fatal("data-ready not set after loopback transmit")
	}
	got, err := bus.In(COM1Base)
	if err != nil {
		t.Fatalf("read RBR: %v", err)
	}
	if got != 0x5A {
		t.Errorf("received %#x, want 0x5A", got)
	}
	if out.Len() != 0 {
		t.Error("loopback byte leaked to the output sink")
	}
}
