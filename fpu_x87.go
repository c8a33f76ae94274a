package main

import (
	"math"
)

var x87SmallestNormal = math.Float64frombits(0x0010000000000000)

const (
	x87TagValid   = uint16(0)
	x87TagZero    = uint16(1)
	x87TagSpecial = uint16(2)
	x87TagEmpty   = uint16(3)
)

const (
	x87FSW_IE       = uint16(1 << 0)
	x87FSW_DE       = uint16(1 << 1)
	x87FSW_ZE       = uint16(1 << 2)
	x87FSW_OE       = uint16(1 << 3)
	x87FSW_UE       = uint16(1 << 4)
	x87FSW_PE       = uint16(1 << 5)
	x87FSW_SF       = uint16(1 << 6)
	x87FSW_ES       = uint16(1 << 7)
	x87FSW_C0       = uint16(1 << 8)
	x87FSW_C1       = uint16(1 << 9)
	x87FSW_C2       = uint16(1 << 10)
	x87FSW_TOPMask  = uint16(7 << 11)
	x87FSW_TOPShift = 11
	x87FSW_C3       = uint16(1 << 14)
	x87FSW_B        = uint16(1 << 15)
)

const (
	x87FCW_RCShift = 10
	x87FCW_RCDown  = uint16(1)
	x87FCW_RCUp    = uint16(2)
	x87FCW_RCChop  = uint16(3)
)

// x87 memory operand formats
type x87Format uint8

const (
	x87Float32 x87Format = iota
	x87Float64
	x87Float80
	x87Int16
	x87Int32
	x87Int64
)

var x87FormatSize = [...]uint32{4, 8, 10, 2, 4, 8}

// FPU_X87 is the 387 register stack. Values are held as float64; the tag
// word classifies each slot and is recomputed whenever a slot is written.
type FPU_X87 struct {
	regs [8]float64

	FCW uint16
	FSW uint16
	FTW uint16

	// Last instruction and operand pointers
	FIP uint32
	FCS uint16
	FDP uint32
	FDS uint16
	FOP uint16
}

// x87Bus is where memory operands live: a byte view of one segment
type x87Bus interface {
	Read(off uint32) byte
	Write(off uint32, value byte)
}

func NewFPU_X87() *FPU_X87 {
	f := &FPU_X87{}
	f.Reset()
	return f
}

// Reset is FNINIT
func (f *FPU_X87) Reset() {
	*f = FPU_X87{FCW: 0x037F, FTW: 0xFFFF}
}

func (f *FPU_X87) top() int {
	return int((f.FSW & x87FSW_TOPMask) >> x87FSW_TOPShift)
}

func (f *FPU_X87) setTop(top int) {
	f.FSW = (f.FSW &^ x87FSW_TOPMask) | (uint16(top&7) << x87FSW_TOPShift)
}

func (f *FPU_X87) physReg(stIdx int) int {
	return (f.top() + stIdx) & 7
}

func (f *FPU_X87) ST(i int) float64 {
	return f.regs[f.physReg(i)]
}

func (f *FPU_X87) setST(i int, v float64) {
	phys := f.physReg(i)
	f.regs[phys] = v
	f.setTag(phys, f.classifyTag(v))
}

func (f *FPU_X87) getTag(phys int) uint16 {
	shift := uint((phys & 7) * 2)
	return (f.FTW >> shift) & 0x3
}

func (f *FPU_X87) setTag(phys int, tag uint16) {
	shift := uint((phys & 7) * 2)
	f.FTW &^= 0x3 << shift
	f.FTW |= (tag & 0x3) << shift
}

func (f *FPU_X87) classifyTag(v float64) uint16 {
	if v == 0 {
		return x87TagZero
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) < x87SmallestNormal {
		return x87TagSpecial
	}
	return x87TagValid
}

func (f *FPU_X87) setException(mask uint16) {
	f.FSW |= mask
	if (f.FCW & mask) == 0 {
		f.FSW |= x87FSW_ES | x87FSW_B
	}
}

func (f *FPU_X87) clearCond() {
	f.FSW &^= x87FSW_C0 | x87FSW_C1 | x87FSW_C2 | x87FSW_C3
}

// underflowed reports (and flags) an empty slot among the given ST indices
func (f *FPU_X87) underflowed(idx ...int) bool {
	for _, i := range idx {
		if f.getTag(f.physReg(i)) == x87TagEmpty {
			f.setException(x87FSW_IE | x87FSW_SF)
			f.FSW &^= x87FSW_C1
			return true
		}
	}
	return false
}

func (f *FPU_X87) push(v float64) {
	next := (f.top() - 1) & 7
	if f.getTag(next) != x87TagEmpty {
		f.setException(x87FSW_IE | x87FSW_SF)
		f.FSW |= x87FSW_C1
		return
	}
	f.setTop(next)
	f.regs[next] = v
	f.setTag(next, f.classifyTag(v))
}

func (f *FPU_X87) pop() float64 {
	if f.underflowed(0) {
		f.discard()
		return math.NaN()
	}
	v := f.ST(0)
	f.discard()
	return v
}

// discard frees ST(0) and increments TOP without checking the tag
func (f *FPU_X87) discard() {
	top := f.top()
	f.setTag(top, x87TagEmpty)
	f.setTop((top + 1) & 7)
}

func (f *FPU_X87) roundPerFCW(v float64) float64 {
	switch (f.FCW >> x87FCW_RCShift) & 0x3 {
	case x87FCW_RCDown:
		return math.Floor(v)
	case x87FCW_RCUp:
		return math.Ceil(v)
	case x87FCW_RCChop:
		return math.Trunc(v)
	default:
		return math.RoundToEven(v)
	}
}

// intFromFloat rounds per FCW; out-of-range values become the integer
// indefinite (most negative value) and raise IE.
func (f *FPU_X87) intFromFloat(v float64, bits uint) int64 {
	r := f.roundPerFCW(v)
	lim := math.Ldexp(1, int(bits-1))
	if math.IsNaN(r) || r < -lim || r >= lim {
		f.setException(x87FSW_IE)
		return -1 << (bits - 1)
	}
	if r != v {
		f.setException(x87FSW_PE)
	}
	return int64(r)
}

// -----------------------------------------------------------------------------
// Memory formats
// -----------------------------------------------------------------------------

func x87ReadLE(bus x87Bus, addr uint32, n uint32) uint64 {
	var v uint64
	for i := uint32(0); i < n; i++ {
		v |= uint64(bus.Read(addr+i)) << (8 * i)
	}
	return v
}

func x87WriteLE(bus x87Bus, addr uint32, n uint32, v uint64) {
	for i := uint32(0); i < n; i++ {
		bus.Write(addr+i, byte(v>>(8*i)))
	}
}

// x87ToExtended encodes v as an 80-bit extended real
func x87ToExtended(v float64) (se uint16, mant uint64) {
	if math.Signbit(v) {
		se = 0x8000
	}
	switch {
	case math.IsNaN(v):
		return se | 0x7FFF, 0xC000000000000000
	case math.IsInf(v, 0):
		return se | 0x7FFF, 1 << 63
	case v == 0:
		return se, 0
	}
	frac, exp := math.Frexp(math.Abs(v))
	return se | uint16(exp-1+16383), uint64(math.Ldexp(frac, 64))
}

// x87FromExtended decodes an 80-bit extended real, rounding to float64
func x87FromExtended(se uint16, mant uint64) float64 {
	neg := se&0x8000 != 0
	exp := int(se & 0x7FFF)
	var v float64
	switch {
	case exp == 0x7FFF && mant<<1 != 0:
		return math.NaN()
	case exp == 0x7FFF:
		v = math.Inf(1)
	default:
		v = math.Ldexp(float64(mant), exp-16383-63)
	}
	if neg {
		v = math.Copysign(v, -1)
	}
	return v
}

func (f *FPU_X87) load(bus x87Bus, addr uint32, fmt x87Format) float64 {
	switch fmt {
	case x87Float32:
		return float64(math.Float32frombits(uint32(x87ReadLE(bus, addr, 4))))
	case x87Float64:
		return math.Float64frombits(x87ReadLE(bus, addr, 8))
	case x87Float80:
		mant := x87ReadLE(bus, addr, 8)
		return x87FromExtended(uint16(x87ReadLE(bus, addr+8, 2)), mant)
	case x87Int16:
		return float64(int16(x87ReadLE(bus, addr, 2)))
	case x87Int32:
		return float64(int32(x87ReadLE(bus, addr, 4)))
	}
	return float64(int64(x87ReadLE(bus, addr, 8)))
}

func (f *FPU_X87) store(bus x87Bus, addr uint32, fmt x87Format, v float64) {
	switch fmt {
	case x87Float32:
		f32 := float32(v)
		if float64(f32) != v && !math.IsNaN(v) {
			f.setException(x87FSW_PE)
		}
		x87WriteLE(bus, addr, 4, uint64(math.Float32bits(f32)))
	case x87Float64:
		x87WriteLE(bus, addr, 8, math.Float64bits(v))
	case x87Float80:
		se, mant := x87ToExtended(v)
		x87WriteLE(bus, addr, 8, mant)
		x87WriteLE(bus, addr+8, 2, uint64(se))
	case x87Int16:
		x87WriteLE(bus, addr, 2, uint64(f.intFromFloat(v, 16)))
	case x87Int32:
		x87WriteLE(bus, addr, 4, uint64(f.intFromFloat(v, 32)))
	case x87Int64:
		x87WriteLE(bus, addr, 8, uint64(f.intFromFloat(v, 64)))
	}
}

// -----------------------------------------------------------------------------
// Comparison and classification
// -----------------------------------------------------------------------------

func (f *FPU_X87) doCompare(a, b float64, signalNaN bool) {
	f.clearCond()
	if math.IsNaN(a) || math.IsNaN(b) {
		f.FSW |= x87FSW_C0 | x87FSW_C2 | x87FSW_C3
		if signalNaN {
			f.setException(x87FSW_IE)
		}
		return
	}
	switch {
	case a > b:
		// all clear
	case a < b:
		f.FSW |= x87FSW_C0
	default:
		f.FSW |= x87FSW_C3
	}
}

func (f *FPU_X87) xam(v float64, empty bool) {
	f.clearCond()
	if empty {
		f.FSW |= x87FSW_C0 | x87FSW_C3
		return
	}
	if math.Signbit(v) {
		f.FSW |= x87FSW_C1
	}
	switch {
	case math.IsNaN(v):
		f.FSW |= x87FSW_C0
	case math.IsInf(v, 0):
		f.FSW |= x87FSW_C0 | x87FSW_C2
	case v == 0:
		f.FSW |= x87FSW_C3
	case math.Abs(v) < x87SmallestNormal:
		f.FSW |= x87FSW_C2 | x87FSW_C3
	default:
		f.FSW |= x87FSW_C2
	}
}

// FLD1, FLDL2T, FLDL2E, FLDPI, FLDLG2, FLDLN2, FLDZ
var x87ConstTable = [7]float64{
	1.0,
	math.Log2(10),
	math.Log2E,
	math.Pi,
	math.Log10(2),
	math.Ln2,
	0.0,
}
