// cpu_x86_flags_test.go - Deferred flag evaluation against an eager model
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
)

// x86EagerFlags computes result and flags the straightforward way, in 64
// bits, for the ALU group.
func x86EagerFlags(op byte, w uint8, a, b uint32, cin bool) (uint32, uint32) {
	m := x86WidthMask(w)
	s := x86SignBit(w)
	a, b = a&m, b&m
	c := uint64(0)
	if cin && (op == x86ALUAdc || op == x86ALUSbb) {
		c = 1
	}

	var r, f uint32
	switch op {
	case x86ALUAdd, x86ALUAdc:
		full := uint64(a) + uint64(b) + c
		r = uint32(full) & m
		if full > uint64(m) {
			f |= x86FlagCF
		}
		if a&s == b&s && r&s != a&s {
			f |= x86FlagOF
		}
		f |= (a ^ b ^ r) & x86FlagAF
	case x86ALUSub, x86ALUSbb, x86ALUCmp:
		full := int64(a) - int64(b) - int64(c)
		r = uint32(full) & m
		if full < 0 {
			f |= x86FlagCF
		}
		if a&s != b&s && r&s != a&s {
			f |= x86FlagOF
		}
		f |= (a ^ b ^ r) & x86FlagAF
	case x86ALUAnd, x86ALUTest:
		r = a & b
	case x86ALUOr:
		r = a | b
	case x86ALUXor:
		r = a ^ b
	}
	if r == 0 {
		f |= x86FlagZF
	}
	if r&s != 0 {
		f |= x86FlagSF
	}
	if bits.OnesCount8(byte(r))%2 == 0 {
		f |= x86FlagPF
	}
	return r, f
}

func x86FlagOperands(w uint8) []uint32 {
	m := x86WidthMask(w)
	s := x86SignBit(w)
	return []uint32{0, 1, 2, 0x0F, 0x10, s - 1, s, s + 1, m - 1, m}
}

func TestX86LazyFlags_ALUTruthTable(t *testing.T) {
	cpu := NewCPU_X86(NewX86AddressSpace(64*1024), NewX86IOPorts())
	ops := []byte{x86ALUAdd, x86ALUOr, x86ALUAdc, x86ALUSbb, x86ALUAnd, x86ALUSub, x86ALUXor, x86ALUCmp, x86ALUTest}

	for _, w := range []uint8{8, 16, 32} {
		for _, op := range ops {
			for _, a := range x86FlagOperands(w) {
				for _, b := range x86FlagOperands(w) {
					for _, cin := range []bool{false, true} {
						if cin {
							cpu.writeFlags(x86FlagCF)
						} else {
							cpu.writeFlags(0)
						}
						res, lazy := cpu.alu(op, w, a, b)
						wantRes, wantFlags := x86EagerFlags(op, w, a, b, cin)
						if res != wantRes {
							t.Fatalf("op %d w%d %X,%X cin=%v: result got 0x%X, want 0x%X", op, w, a, b, cin, res, wantRes)
						}
						if got := lazy.compute(); got != wantFlags {
							t.Fatalf("op %d w%d %X,%X cin=%v: flags got 0x%03X, want 0x%03X", op, w, a, b, cin, got, wantFlags)
						}
					}
				}
			}
		}
	}
}

func TestX86LazyFlags_Materialise(t *testing.T) {
	cpu := NewCPU_X86(NewX86AddressSpace(64*1024), NewX86IOPorts())
	cpu.writeFlags(x86FlagDF | x86FlagIF)

	_, lazy := cpu.alu(x86ALUSub, 8, 0, 1)
	cpu.lazy = lazy
	f := cpu.readFlags()
	assert.NotZero(t, f&x86FlagCF, "0-1 borrows")
	assert.NotZero(t, f&x86FlagSF)
	assert.NotZero(t, f&x86FlagDF, "non-arithmetic flags survive")
	assert.NotZero(t, f&x86FlagIF)
	assert.Equal(t, x86FlagOpNone, cpu.lazy.op, "reading EFLAGS retires the record")
	assert.Equal(t, f, cpu.readFlags())

	// A new record replaces the old one wholesale
	_, lazy = cpu.alu(x86ALUAdd, 8, 1, 1)
	cpu.lazy = lazy
	assert.False(t, cpu.CF())
	assert.False(t, cpu.SF())

	// writeFlags discards a pending record
	_, lazy = cpu.alu(x86ALUSub, 8, 0, 1)
	cpu.lazy = lazy
	cpu.writeFlags(0)
	assert.False(t, cpu.CF())
}

func TestX86LazyFlags_IncDecKeepCarry(t *testing.T) {
	for _, cf := range []bool{false, true} {
		l := x86LazyFlags{op: x86FlagOpInc, width: 8, a: 0x7F, b: 1, res: 0x80, carry: cf}
		f := l.compute()
		assert.Equal(t, cf, f&x86FlagCF != 0)
		assert.NotZero(t, f&x86FlagOF, "0x7F+1 overflows")
		assert.NotZero(t, f&x86FlagAF)

		l = x86LazyFlags{op: x86FlagOpDec, width: 16, a: 0x8000, b: 1, res: 0x7FFF, carry: cf}
		f = l.compute()
		assert.Equal(t, cf, f&x86FlagCF != 0)
		assert.NotZero(t, f&x86FlagOF, "0x8000-1 overflows")
	}
}

// CF comes from the record's result, not from its carry-in field
func TestX86LazyFlags_CarryFlag(t *testing.T) {
	l := x86LazyFlags{op: x86FlagOpAdc, width: 8, a: 0x10, b: 0x01, res: 0x12, carry: true}
	assert.False(t, l.carryFlag(x86FlagCF))
	l = x86LazyFlags{op: x86FlagOpAdc, width: 8, a: 0xFF, b: 0, res: 0x00, carry: true}
	assert.True(t, l.carryFlag(0))

	l = x86LazyFlags{op: x86FlagOpNone}
	assert.True(t, l.carryFlag(x86FlagCF), "no record falls back to EFLAGS")
	assert.False(t, l.carryFlag(0))
}

func TestX86LazyFlags_Neg(t *testing.T) {
	l := x86LazyFlags{op: x86FlagOpNeg, width: 8, a: 0, res: 0}
	f := l.compute()
	assert.Zero(t, f&x86FlagCF, "NEG 0 clears CF")
	assert.NotZero(t, f&x86FlagZF)

	l = x86LazyFlags{op: x86FlagOpNeg, width: 8, a: 0x80, res: 0x80}
	f = l.compute()
	assert.NotZero(t, f&x86FlagCF)
	assert.NotZero(t, f&x86FlagOF, "NEG of the minimum value overflows")
}

func TestX86LazyFlags_Cond(t *testing.T) {
	cpu := NewCPU_X86(NewX86AddressSpace(64*1024), NewX86IOPorts())
	cases := []struct {
		a, b uint32
		cc   byte
		want bool
	}{
		{1, 2, 0x2, true},     // B
		{2, 1, 0x7, true},     // A
		{5, 5, 0x4, true},     // E
		{5, 5, 0x5, false},    // NE
		{0x80, 1, 0xC, true},  // L: -128 < 1
		{0x80, 1, 0x2, false}, // B: 128 > 1 unsigned
		{1, 0x80, 0xF, true},  // G
		{3, 3, 0xE, true},     // LE
	}
	for _, tc := range cases {
		_, lazy := cpu.alu(x86ALUCmp, 8, tc.a, tc.b)
		cpu.lazy = lazy
		if got := cpu.cond(tc.cc); got != tc.want {
			t.Errorf("CMP %X,%X cond %X(%s): got %v, want %v", tc.a, tc.b, tc.cc, x86CondNames[tc.cc], got, tc.want)
		}
	}
}
