package opcodes

import "testing"

func TestLookup_PushRange_HasIncreasingWidth(t *testing.T) {
	for n := 1; n <= 32; n++ {
		op := PUSH1 + OpCode(n-1)
		d, ok := Lookup(byte(op))
		if !ok {
			t.Fatalf("expected PUSH%d to be valid", n)
		}
		if want, got := n, d.PushWidth; want != got {
			t.Errorf("PUSH%d: expected width %d, got %d", n, want, got)
		}
		if want, got := n+1, Width(op); want != got {
			t.Errorf("PUSH%d: expected total width %d, got %d", n, want, got)
		}
	}
}

func TestLookup_UnknownByte_NotValid(t *testing.T) {
	unknown := []byte{0x0c, 0x0d, 0x0e, 0x0f, 0x21, 0xa5, 0xb0, 0xef}
	for _, b := range unknown {
		if IsValid(OpCode(b)) {
			t.Errorf("expected 0x%02x to be invalid", b)
		}
	}
}

func TestLookup_JumpFlow_Categories(t *testing.T) {
	jump, _ := Lookup(byte(JUMP))
	if jump.Flow != FlowUnconditionalJump {
		t.Errorf("expected JUMP to be an unconditional jump")
	}
	jumpi, _ := Lookup(byte(JUMPI))
	if jumpi.Flow != FlowConditionalJump {
		t.Errorf("expected JUMPI to be a conditional jump")
	}
	stop, _ := Lookup(byte(STOP))
	if !stop.Flow.IsHalting() {
		t.Errorf("expected STOP to be halting")
	}
	revert, _ := Lookup(byte(REVERT))
	if revert.Flow != FlowHaltAbnormal {
		t.Errorf("expected REVERT to be an abnormal halt")
	}
}

func TestLookup_StackEffects_MatchEVMSemantics(t *testing.T) {
	cases := []struct {
		op           OpCode
		pops, pushes int
	}{
		{ADD, 2, 1},
		{ADDMOD, 3, 1},
		{POP, 1, 0},
		{DUP1, 1, 2},
		{DUP16, 16, 17},
		{SWAP1, 2, 2},
		{SWAP16, 17, 17},
		{LOG0, 2, 0},
		{LOG4, 6, 0},
		{CALL, 7, 1},
		{STATICCALL, 6, 1},
		{CREATE2, 4, 1},
	}
	for _, c := range cases {
		d, ok := Lookup(byte(c.op))
		if !ok {
			t.Fatalf("%v: not found", c.op)
		}
		if d.Pops != c.pops || d.Pushes != c.pushes {
			t.Errorf("%v: expected (pops=%d, pushes=%d), got (pops=%d, pushes=%d)", c.op, c.pops, c.pushes, d.Pops, d.Pushes)
		}
	}
}

func TestOpCode_String_UnknownFormatsAsHex(t *testing.T) {
	unknown := OpCode(0x0c)
	if got := unknown.String(); got != "UNKNOWN(0x0c)" {
		t.Errorf("unexpected string for unknown opcode: %s", got)
	}
}
