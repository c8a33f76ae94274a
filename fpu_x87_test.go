package main

import (
	"math"
	"strings"
	"testing"
)

func almostEq(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return math.IsInf(a, 1) == math.IsInf(b, 1) && math.IsInf(a, -1) == math.IsInf(b, -1)
	}
	d := math.Abs(a - b)
	return d <= 1e-12 || d <= math.Abs(b)*1e-12
}

func TestX87_Init(t *testing.T) {
	f := NewFPU_X87()
	if f.FCW != 0x037F {
		t.Fatalf("FCW = 0x%04X, want 0x037F", f.FCW)
	}
	if f.FSW != 0 {
		t.Fatalf("FSW = 0x%04X, want 0", f.FSW)
	}
	if f.FTW != 0xFFFF {
		t.Fatalf("FTW = 0x%04X, want 0xFFFF", f.FTW)
	}
	if f.top() != 0 {
		t.Fatalf("TOP = %d, want 0", f.top())
	}
}

func TestX87_PushPopAndIndexing(t *testing.T) {
	f := NewFPU_X87()
	f.push(1)
	f.push(2)
	f.push(3)
	if f.top() != 5 {
		t.Fatalf("TOP = %d, want 5", f.top())
	}
	if f.ST(0) != 3 || f.ST(1) != 2 || f.ST(2) != 1 {
		t.Fatalf("unexpected ST order: ST0=%v ST1=%v ST2=%v", f.ST(0), f.ST(1), f.ST(2))
	}
	if f.pop() != 3 {
		t.Fatalf("pop 1 mismatch")
	}
	if f.pop() != 2 {
		t.Fatalf("pop 2 mismatch")
	}
	if f.pop() != 1 {
		t.Fatalf("pop 3 mismatch")
	}
}

func TestX87_StackOverUnderflow(t *testing.T) {
	f := NewFPU_X87()
	for i := range 8 {
		f.push(float64(i))
	}
	f.push(9)
	if (f.FSW & (x87FSW_IE | x87FSW_SF | x87FSW_C1)) != (x87FSW_IE | x87FSW_SF | x87FSW_C1) {
		t.Fatalf("overflow flags FSW=0x%04X", f.FSW)
	}

	f = NewFPU_X87()
	_ = f.pop()
	if (f.FSW & (x87FSW_IE | x87FSW_SF)) != (x87FSW_IE | x87FSW_SF) {
		t.Fatalf("underflow flags FSW=0x%04X", f.FSW)
	}
	if f.FSW&x87FSW_C1 != 0 {
		t.Fatalf("underflow should clear C1, FSW=0x%04X", f.FSW)
	}
}

func TestX87_TagWordClassification(t *testing.T) {
	f := NewFPU_X87()
	f.push(1.0)
	if f.getTag(f.physReg(0)) != x87TagValid {
		t.Fatal("1.0 should be valid")
	}
	f.pop()
	f.push(0.0)
	if f.getTag(f.physReg(0)) != x87TagZero {
		t.Fatal("0.0 should be zero tag")
	}
	f.pop()
	f.push(math.Inf(1))
	if f.getTag(f.physReg(0)) != x87TagSpecial {
		t.Fatal("inf should be special tag")
	}
}

// x87TestBus is a flat byte slice standing in for a segment
type x87TestBus []byte

func (b x87TestBus) Read(off uint32) byte         { return b[off] }
func (b x87TestBus) Write(off uint32, value byte) { b[off] = value }

func TestX87_FloatRoundtrip(t *testing.T) {
	bus := make(x87TestBus, 64)
	f := NewFPU_X87()

	vals := []float64{1.0, -1.0, 0.0, math.Inf(1), math.Inf(-1), math.NaN(), math.Pi, x87SmallestNormal}
	for _, v := range vals {
		f.store(bus, 0, x87Float64, v)
		if got := f.load(bus, 0, x87Float64); !almostEq(got, v) {
			t.Fatalf("float64 %v: got %v", v, got)
		}
		f.store(bus, 16, x87Float80, v)
		if got := f.load(bus, 16, x87Float80); !almostEq(got, v) {
			t.Fatalf("float80 %v: got %v", v, got)
		}
		f.store(bus, 32, x87Float32, v)
		if got := f.load(bus, 32, x87Float32); !almostEq(got, float64(float32(v))) {
			t.Fatalf("float32 %v: got %v", v, got)
		}
	}
}

func TestX87_Extended80Layout(t *testing.T) {
	bus := make(x87TestBus, 10)
	f := NewFPU_X87()

	// 1.0: explicit integer bit, biased exponent 3FFFh
	f.store(bus, 0, x87Float80, 1.0)
	if got := x87ReadLE(bus, 0, 8); got != 1<<63 {
		t.Fatalf("mantissa 0x%016X", got)
	}
	if got := x87ReadLE(bus, 8, 2); got != 0x3FFF {
		t.Fatalf("sign/exponent 0x%04X", got)
	}

	f.store(bus, 0, x87Float80, -2.0)
	if got := x87ReadLE(bus, 8, 2); got != 0xC000 {
		t.Fatalf("-2.0 sign/exponent 0x%04X", got)
	}
	if f.load(bus, 0, x87Float80) != -2.0 {
		t.Fatal("-2.0 does not load back")
	}
}

func TestX87_IntRoundtrip(t *testing.T) {
	bus := make(x87TestBus, 16)
	f := NewFPU_X87()

	cases := []struct {
		format x87Format
		v      float64
	}{
		{x87Int16, -32768}, {x87Int16, 32767}, {x87Int16, 0},
		{x87Int32, -123456789}, {x87Int32, 2147483647},
		{x87Int64, -9007199254740992}, {x87Int64, 1 << 40},
	}
	for _, tc := range cases {
		f.FSW = 0
		f.store(bus, 0, tc.format, tc.v)
		if got := f.load(bus, 0, tc.format); got != tc.v {
			t.Fatalf("format %d: %v came back as %v", tc.format, tc.v, got)
		}
		if f.FSW&x87FSW_IE != 0 {
			t.Fatalf("format %d: %v raised IE", tc.format, tc.v)
		}
	}
}

func TestX87_IntStoreRoundingAndOverflow(t *testing.T) {
	bus := make(x87TestBus, 8)
	f := NewFPU_X87()

	rounding := []struct {
		rc   uint16
		v    float64
		want int16
	}{
		{0, 2.5, 2}, {0, 3.5, 4}, {0, -2.5, -2},
		{x87FCW_RCDown, 2.7, 2}, {x87FCW_RCDown, -2.1, -3},
		{x87FCW_RCUp, 2.1, 3}, {x87FCW_RCUp, -2.7, -2},
		{x87FCW_RCChop, 2.9, 2}, {x87FCW_RCChop, -2.9, -2},
	}
	for _, tc := range rounding {
		f.FCW = 0x037F&^(3<<x87FCW_RCShift) | tc.rc<<x87FCW_RCShift
		f.FSW = 0
		f.store(bus, 0, x87Int16, tc.v)
		if got := int16(x87ReadLE(bus, 0, 2)); got != tc.want {
			t.Errorf("RC=%d %v: got %d, want %d", tc.rc, tc.v, got, tc.want)
		}
		if f.FSW&x87FSW_PE == 0 {
			t.Errorf("RC=%d %v: inexact result should set PE", tc.rc, tc.v)
		}
	}

	// Out of range and NaN store the integer indefinite
	f.FCW = 0x037F
	for _, v := range []float64{40000, -40000, math.NaN(), math.Inf(1)} {
		f.FSW = 0
		f.store(bus, 0, x87Int16, v)
		if got := uint16(x87ReadLE(bus, 0, 2)); got != 0x8000 {
			t.Errorf("%v: stored 0x%04X, want 0x8000", v, got)
		}
		if f.FSW&x87FSW_IE == 0 {
			t.Errorf("%v: IE not raised", v)
		}
	}
}

func TestX87_Compare(t *testing.T) {
	f := NewFPU_X87()
	cond := x87FSW_C0 | x87FSW_C2 | x87FSW_C3

	f.doCompare(2, 1, false)
	if f.FSW&cond != 0 {
		t.Fatalf("2>1: FSW=0x%04X", f.FSW)
	}
	f.doCompare(1, 2, false)
	if f.FSW&cond != x87FSW_C0 {
		t.Fatalf("1<2: FSW=0x%04X", f.FSW)
	}
	f.doCompare(3, 3, false)
	if f.FSW&cond != x87FSW_C3 {
		t.Fatalf("3=3: FSW=0x%04X", f.FSW)
	}

	// Unordered: quiet compare leaves IE alone, signalling compare raises it
	f.doCompare(math.NaN(), 1, false)
	if f.FSW&cond != cond || f.FSW&x87FSW_IE != 0 {
		t.Fatalf("quiet unordered: FSW=0x%04X", f.FSW)
	}
	f.doCompare(math.NaN(), 1, true)
	if f.FSW&x87FSW_IE == 0 {
		t.Fatalf("signalling unordered: FSW=0x%04X", f.FSW)
	}
}

func TestX87_Examine(t *testing.T) {
	f := NewFPU_X87()
	cond := x87FSW_C0 | x87FSW_C2 | x87FSW_C3
	cases := []struct {
		v     float64
		empty bool
		want  uint16
	}{
		{0, true, x87FSW_C0 | x87FSW_C3},
		{math.NaN(), false, x87FSW_C0},
		{math.Inf(-1), false, x87FSW_C0 | x87FSW_C2},
		{0, false, x87FSW_C3},
		{x87SmallestNormal / 4, false, x87FSW_C2 | x87FSW_C3},
		{1.5, false, x87FSW_C2},
	}
	for _, tc := range cases {
		f.xam(tc.v, tc.empty)
		if got := f.FSW & cond; got != tc.want {
			t.Errorf("FXAM %v empty=%v: got 0x%04X, want 0x%04X", tc.v, tc.empty, got, tc.want)
		}
	}
	f.xam(-1, false)
	if f.FSW&x87FSW_C1 == 0 {
		t.Error("negative values set C1")
	}
}

// FPU instructions executed by the CPU, operands in guest memory
func TestX87_Instructions(t *testing.T) {
	r := newX86Rig(t,
		0xDB, 0xE3,             // FNINIT
		0xD9, 0x06, 0x00, 0x06, // FLD DWORD [0600h]
		0xD8, 0x0E, 0x04, 0x06, // FMUL DWORD [0604h]
		0xD9, 0xE0,             // FCHS
		0xD9, 0x1E, 0x08, 0x06, // FSTP DWORD [0608h]
		0xD9, 0xEE,             // FLDZ
		0xD9, 0xE8,             // FLD1
		0xDE, 0xD9,             // FCOMPP
		0xDF, 0xE0,             // FNSTSW AX
		0xF4,
	)
	r.write32(0x600, math.Float32bits(1.5))
	r.write32(0x604, math.Float32bits(4))
	r.runToHalt()

	if got := math.Float32frombits(r.read32(0x608)); got != -6 {
		t.Fatalf("1.5*4 negated: got %v", got)
	}
	// FCOMPP compares ST0=1 with ST1=0: greater, so C0=C2=C3=0
	if ax := r.cpu.AX(); ax&(x87FSW_C0|x87FSW_C2|x87FSW_C3) != 0 {
		t.Fatalf("FNSTSW AX = 0x%04X", ax)
	}
	if r.cpu.FPU.FTW != 0xFFFF {
		t.Fatalf("FTW = 0x%04X, want all empty", r.cpu.FPU.FTW)
	}
}

func TestX87_UnsupportedIsUD(t *testing.T) {
	r := newX86Rig(t,
		0xD9, 0xFE, // FSIN
		0xF4,
	)
	r.ivt(x86VecUD, 0, 0x7D00)
	r.write(0x7D00, 0xF4)
	r.runToHalt()

	if r.cpu.EIP != 0x7D01 {
		t.Fatalf("EIP = %08X, #UD handler not reached", r.cpu.EIP)
	}
	if !strings.Contains(r.log.String(), "FSIN") {
		t.Fatalf("log %q does not name FSIN", r.log.String())
	}
}
