package i8042

import "testing"

func TestPowerUpState(t *testing.T) {
	c := New()
	if c.A20Enabled() {
		t.Error("A20 enabled at power-up")
	}
	if !c.KeyboardEnabled() {
		t.Error("keyboard disabled at power-up")
	}
}

func TestA20Handshake(t *testing.T) {
	c := New()

	out := func(port uint16, v byte) {
		if err := c.WriteIOPort(port, v); err != nil {
			t.Fatalf("out %#x <- %#x: %v", port, v, err)
		}
	}
	in := func(port uint16) byte {
		v, err := c.ReadIOPort(port)
		if err != nil {
			t.Fatalf("in %#x: %v", port, err)
		}
		return v
	}

	out(CommandPort, cmdDisableKeyboard)
	out(CommandPort, cmdReadOutputPort)
	if in(CommandPort)&statusOutputFull == 0 {
		t.Fatal("output port value not ready after 0xD0")
	}
	val := in(DataPort)

	out(CommandPort, cmdWriteOutputPort)
	out(DataPort, val|outputA20Gate)
	out(CommandPort, cmdEnableKeyboard)

	if !c.A20Enabled() {
		t.Error("A20 still disabled after handshake")
	}
	if !c.KeyboardEnabled() {
		t.Error("keyboard left disabled after handshake")
	}
}

func TestDataWriteWithoutCommandIgnored(t *testing.T) {
	c := New()
	if err := c.WriteIOPort(DataPort, 0xFF); err != nil {
		t.Fatalf("write: %v", err)
	}
	if c.A20Enabled() {
		t.Error("stray data write changed the output port")
	}
}
