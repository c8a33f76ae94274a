package main

import "math"

var x87BinaryOpTable = [8]func(a, b float64) float64{
	0: func(a, b float64) float64 { return a + b }, // FADD
	1: func(a, b float64) float64 { return a * b }, // FMUL
	4: func(a, b float64) float64 { return a - b }, // FSUB
	5: func(a, b float64) float64 { return b - a }, // FSUBR
	6: func(a, b float64) float64 { return a / b }, // FDIV
	7: func(a, b float64) float64 { return b / a }, // FDIVR
}

var x87ArithNames = [8]string{"FADD", "FMUL", "FCOM", "FCOMP", "FSUB", "FSUBR", "FDIV", "FDIVR"}

// x87 escape tables: memory forms by ModR/M.reg, register forms by the low
// six ModR/M bits
var (
	x87MemOps [8][8]x86OpInfo
	x87RegOps [8][64]x86OpInfo
)

func x87Resolver(esc byte) func(modrm byte) *x86OpInfo {
	return func(m byte) *x86OpInfo {
		if m >= 0xC0 {
			return &x87RegOps[esc][m&0x3F]
		}
		return &x87MemOps[esc][(m>>3)&7]
	}
}

// arith applies one of the binary operations and raises the exceptions the
// operands call for
func (f *FPU_X87) arith(op byte, a, b float64) float64 {
	r := x87BinaryOpTable[op](a, b)
	nan := math.IsNaN(a) || math.IsNaN(b)
	switch {
	case math.IsNaN(r) && !nan:
		f.setException(x87FSW_IE)
	case op >= 6 && !nan:
		num, den := a, b
		if op == 7 {
			num, den = b, a
		}
		if den == 0 && num != 0 && !math.IsInf(num, 0) {
			f.setException(x87FSW_ZE)
		} else if math.IsInf(r, 0) && !math.IsInf(num, 0) {
			f.setException(x87FSW_OE | x87FSW_PE)
		}
	case math.IsInf(r, 0) && !math.IsInf(a, 0) && !math.IsInf(b, 0):
		f.setException(x87FSW_OE | x87FSW_PE)
	}
	return r
}

// x87SegBus is one segment seen byte-wise by the FPU's memory codecs
type x87SegBus struct {
	c   *CPU_X86
	seg int
}

func (b x87SegBus) Read(off uint32) byte        { return b.c.read8(b.seg, off) }
func (b x87SegBus) Write(off uint32, value byte) { b.c.write8(b.seg, off, value) }

// fpu gates an FPU instruction on CR0 and records the last-instruction
// pointers
func (c *CPU_X86) fpu(in *x86Insn) *FPU_X87 {
	if c.CR0&(x86CR0EM|x86CR0TS) != 0 {
		x86Raise(x86VecNM)
	}
	f := c.FPU
	f.FCS = c.seg[x86SegCS].Selector
	f.FIP = c.EIP - uint32(in.length)
	f.FOP = (in.opcode&7)<<8 | uint16(in.modrm)
	if in.isMem() {
		f.FDS = c.seg[in.segment()].Selector
		f.FDP = c.ea(in)
	}
	return f
}

func (c *CPU_X86) x87Load(in *x86Insn, fmt x87Format) float64 {
	return c.FPU.load(x87SegBus{c, in.segment()}, c.ea(in), fmt)
}

// x87Store validates the whole destination before the first byte is written
func (c *CPU_X86) x87Store(in *x86Insn, fmt x87Format, v float64) {
	seg, off := in.segment(), c.ea(in)
	c.checkWrite(seg, off, x87FormatSize[fmt])
	c.FPU.store(x87SegBus{c, seg}, off, fmt, v)
}

// =============================================================================
// Arithmetic
// =============================================================================

// opFArithMem: ST(0) = ST(0) op m32real/m64real/m16int/m32int
func (c *CPU_X86) opFArithMem(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	v := c.x87Load(in, x87Format(in.op.aux))
	c.x87Combine(f, in.op.sub, 0, v, false)
	return x86OutNext
}

// opFArithST0: ST(0) = ST(0) op ST(i)
func (c *CPU_X86) opFArithST0(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	i := int(in.rm())
	if f.underflowed(i) {
		return x86OutNext
	}
	c.x87Combine(f, in.op.sub, 0, f.ST(i), false)
	return x86OutNext
}

// opFArithSTi: ST(i) = ST(i) op ST(0), popping when aux is set
func (c *CPU_X86) opFArithSTi(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	i := int(in.rm())
	if f.underflowed(0) {
		return x86OutNext
	}
	c.x87Combine(f, in.op.sub, i, f.ST(0), in.op.aux != 0)
	return x86OutNext
}

// x87Combine writes ST(dst) op v to ST(dst); compare ops only set C0-C3
func (c *CPU_X86) x87Combine(f *FPU_X87, op byte, dst int, v float64, pop bool) {
	if f.underflowed(dst) {
		if op < 2 || op > 3 {
			if f.FCW&x87FSW_IE != 0 {
				f.setST(dst, math.NaN())
			}
		} else {
			f.FSW |= x87FSW_C0 | x87FSW_C2 | x87FSW_C3
			if op == 3 {
				f.discard()
			}
		}
		return
	}
	switch op {
	case 2, 3:
		f.doCompare(f.ST(dst), v, true)
		if op == 3 {
			f.pop()
		}
	default:
		f.setST(dst, f.arith(op, f.ST(dst), v))
		if pop {
			f.pop()
		}
	}
}

func (c *CPU_X86) opFCOMPP(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	if !f.underflowed(0, 1) {
		f.doCompare(f.ST(0), f.ST(1), in.op.sub == 0)
	}
	f.discard()
	f.discard()
	return x86OutNext
}

func (c *CPU_X86) opFUCOM(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	i := int(in.rm())
	if !f.underflowed(0, i) {
		f.doCompare(f.ST(0), f.ST(i), false)
	}
	if in.op.sub != 0 {
		f.pop()
	}
	return x86OutNext
}

// =============================================================================
// Loads and Stores
// =============================================================================

func (c *CPU_X86) opFLDm(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	f.push(c.x87Load(in, x87Format(in.op.aux)))
	return x86OutNext
}

// opFSTm stores ST(0); sub selects the popping form
func (c *CPU_X86) opFSTm(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	v := f.ST(0)
	empty := f.underflowed(0)
	if empty {
		if f.FCW&x87FSW_IE == 0 {
			return x86OutNext
		}
		v = math.NaN()
	}
	c.x87Store(in, x87Format(in.op.aux), v)
	if in.op.sub != 0 {
		f.discard()
	}
	return x86OutNext
}

func (c *CPU_X86) opFLDi(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	i := int(in.rm())
	v := f.ST(i)
	if f.underflowed(i) {
		v = math.NaN()
	}
	f.push(v)
	return x86OutNext
}

func (c *CPU_X86) opFSTi(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	if !f.underflowed(0) {
		f.setST(int(in.rm()), f.ST(0))
	}
	if in.op.sub != 0 {
		f.discard()
	}
	return x86OutNext
}

func (c *CPU_X86) opFXCH(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	i := int(in.rm())
	if f.underflowed(0, i) {
		return x86OutNext
	}
	a, b := f.ST(0), f.ST(i)
	f.setST(0, b)
	f.setST(i, a)
	return x86OutNext
}

func (c *CPU_X86) opFLDConst(in *x86Insn) x86Outcome {
	c.fpu(in).push(x87ConstTable[in.rm()])
	return x86OutNext
}

func (c *CPU_X86) opFFREE(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	f.setTag(f.physReg(int(in.rm())), x87TagEmpty)
	return x86OutNext
}

// =============================================================================
// ST(0) Operations
// =============================================================================

// x87Unary holds the ST(0) transforms of D9 E0-FF that this unit executes
var x87Unary = map[byte]func(f *FPU_X87, v float64) float64{
	0x20: func(f *FPU_X87, v float64) float64 { return -v },                  // FCHS
	0x21: func(f *FPU_X87, v float64) float64 { return math.Abs(v) },         // FABS
	0x3C: func(f *FPU_X87, v float64) float64 { return f.roundPerFCW(v) },    // FRNDINT
	0x3A: func(f *FPU_X87, v float64) float64 { return f.sqrt(v) },           // FSQRT
	0x3D: func(f *FPU_X87, v float64) float64 { return f.scale(v, f.ST(1)) }, // FSCALE
}

func (f *FPU_X87) sqrt(v float64) float64 {
	if v < 0 {
		f.setException(x87FSW_IE)
		return math.NaN()
	}
	r := math.Sqrt(v)
	if r*r != v {
		f.setException(x87FSW_PE)
	}
	return r
}

func (f *FPU_X87) scale(v, by float64) float64 {
	if math.IsNaN(by) || math.IsInf(by, 0) {
		return v * math.Exp2(by)
	}
	return math.Ldexp(v, int(math.Trunc(by)))
}

func (c *CPU_X86) opFUnary(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	if f.underflowed(0) {
		return x86OutNext
	}
	f.FSW &^= x87FSW_C1
	f.setST(0, x87Unary[in.modrm&0x3F](f, f.ST(0)))
	return x86OutNext
}

func (c *CPU_X86) opFTST(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	if f.underflowed(0) {
		f.FSW |= x87FSW_C0 | x87FSW_C2 | x87FSW_C3
		return x86OutNext
	}
	f.doCompare(f.ST(0), 0, true)
	return x86OutNext
}

func (c *CPU_X86) opFXAM(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	f.xam(f.ST(0), f.getTag(f.physReg(0)) == x87TagEmpty)
	return x86OutNext
}

// opFTOP moves TOP without touching tags: FINCSTP (sub 1) / FDECSTP
func (c *CPU_X86) opFTOP(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	f.FSW &^= x87FSW_C1
	if in.op.sub != 0 {
		f.setTop(f.top() + 1)
	} else {
		f.setTop(f.top() - 1)
	}
	return x86OutNext
}

// =============================================================================
// Control
// =============================================================================

func (c *CPU_X86) opFNOP(in *x86Insn) x86Outcome {
	c.fpu(in)
	return x86OutNext
}

func (c *CPU_X86) opFNINIT(in *x86Insn) x86Outcome {
	c.fpu(in).Reset()
	return x86OutNext
}

func (c *CPU_X86) opFNCLEX(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	f.FSW &^= 0x80FF
	return x86OutNext
}

func (c *CPU_X86) opFLDCW(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	f.FCW = c.read16(in.segment(), c.ea(in)) | 0x0040
	if f.FSW&^f.FCW&0x3F != 0 {
		f.FSW |= x87FSW_ES | x87FSW_B
	} else {
		f.FSW &^= x87FSW_ES | x87FSW_B
	}
	return x86OutNext
}

func (c *CPU_X86) opFNSTCW(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	c.write16(in.segment(), c.ea(in), f.FCW)
	return x86OutNext
}

// opFNSTSW stores the status word to memory, or to AX for DF E0
func (c *CPU_X86) opFNSTSW(in *x86Insn) x86Outcome {
	f := c.fpu(in)
	if !in.isMem() {
		c.SetAX(f.FSW)
		return x86OutNext
	}
	c.write16(in.segment(), c.ea(in), f.FSW)
	return x86OutNext
}

// =============================================================================
// Table
// =============================================================================

func x87InitOps() {
	mem, reg := &x87MemOps, &x87RegOps

	// Arithmetic with a memory operand: D8 m32real, DA m32int, DC m64real, DE m16int
	arithMem := []struct {
		esc    byte
		format x87Format
		args   string
		prefix string
	}{
		{0, x87Float32, "Md", "F"},
		{2, x87Int32, "Md", "FI"},
		{4, x87Float64, "Mq", "F"},
		{6, x87Int16, "Mw", "FI"},
	}
	for _, a := range arithMem {
		for op := byte(0); op < 8; op++ {
			name := a.prefix + x87ArithNames[op][1:]
			mem[a.esc][op] = x86Op(name, a.args, (*CPU_X86).opFArithMem).withSub(op).withAux(byte(a.format))
		}
	}

	// Loads and stores: D9 m32real, DB m32int/m80real, DD m64real, DF m16int/m64int
	type ldst struct {
		esc, reg byte
		name     string
		args     string
		format   x87Format
	}
	for _, l := range []ldst{
		{1, 0, "FLD", "Md", x87Float32}, {3, 0, "FILD", "Md", x87Int32}, {3, 5, "FLD", "Mt", x87Float80},
		{5, 0, "FLD", "Mq", x87Float64}, {7, 0, "FILD", "Mw", x87Int16}, {7, 5, "FILD", "Mq", x87Int64},
	} {
		mem[l.esc][l.reg] = x86Op(l.name, l.args, (*CPU_X86).opFLDm).withAux(byte(l.format))
	}
	for _, s := range []ldst{
		{1, 2, "FST", "Md", x87Float32}, {1, 3, "FSTP", "Md", x87Float32},
		{3, 2, "FIST", "Md", x87Int32}, {3, 3, "FISTP", "Md", x87Int32}, {3, 7, "FSTP", "Mt", x87Float80},
		{5, 2, "FST", "Mq", x87Float64}, {5, 3, "FSTP", "Mq", x87Float64},
		{7, 2, "FIST", "Mw", x87Int16}, {7, 3, "FISTP", "Mw", x87Int16}, {7, 7, "FISTP", "Mq", x87Int64},
	} {
		pop := byte(0)
		if s.reg == 3 || s.reg == 7 {
			pop = 1
		}
		mem[s.esc][s.reg] = x86Op(s.name, s.args, (*CPU_X86).opFSTm).withSub(pop).withAux(byte(s.format))
	}
	mem[1][5] = x86Op("FLDCW", "Mw", (*CPU_X86).opFLDCW)
	mem[1][7] = x86Op("FNSTCW", "Mw", (*CPU_X86).opFNSTCW)
	mem[5][7] = x86Op("FNSTSW", "Mw", (*CPU_X86).opFNSTSW)
	mem[1][4] = x86Unimpl("FLDENV")
	mem[1][6] = x86Unimpl("FNSTENV")
	mem[5][4] = x86Unimpl("FRSTOR")
	mem[5][6] = x86Unimpl("FNSAVE")
	mem[7][4] = x86Unimpl("FBLD")
	mem[7][6] = x86Unimpl("FBSTP")

	for i := byte(0); i < 8; i++ {
		for op := byte(0); op < 8; op++ {
			reg[0][op<<3|i] = x86Op(x87ArithNames[op], "ST0,STi", (*CPU_X86).opFArithST0).withSub(op)
		}
		// DC and DE name the destination first; SUB and SUBR (DIV and DIVR)
		// trade encodings relative to D8
		for _, op := range []byte{0, 1, 4, 5, 6, 7} {
			eff := op
			if op >= 4 {
				eff = op ^ 1
			}
			reg[4][op<<3|i] = x86Op(x87ArithNames[eff], "STi,ST0", (*CPU_X86).opFArithSTi).withSub(eff)
			reg[6][op<<3|i] = x86Op(x87ArithNames[eff]+"P", "STi,ST0", (*CPU_X86).opFArithSTi).withSub(eff).withAux(1)
		}

		reg[1][0x00|i] = x86Op("FLD", "STi", (*CPU_X86).opFLDi)
		reg[1][0x08|i] = x86Op("FXCH", "STi", (*CPU_X86).opFXCH)
		reg[5][0x00|i] = x86Op("FFREE", "STi", (*CPU_X86).opFFREE)
		reg[5][0x10|i] = x86Op("FST", "STi", (*CPU_X86).opFSTi)
		reg[5][0x18|i] = x86Op("FSTP", "STi", (*CPU_X86).opFSTi).withSub(1)
		reg[5][0x20|i] = x86Op("FUCOM", "STi", (*CPU_X86).opFUCOM)
		reg[5][0x28|i] = x86Op("FUCOMP", "STi", (*CPU_X86).opFUCOM).withSub(1)
	}

	d9 := &reg[1]
	d9[0x10] = x86Op("FNOP", "", (*CPU_X86).opFNOP)
	d9[0x20] = x86Op("FCHS", "", (*CPU_X86).opFUnary)
	d9[0x21] = x86Op("FABS", "", (*CPU_X86).opFUnary)
	d9[0x24] = x86Op("FTST", "", (*CPU_X86).opFTST)
	d9[0x25] = x86Op("FXAM", "", (*CPU_X86).opFXAM)
	for i, n := range []string{"FLD1", "FLDL2T", "FLDL2E", "FLDPI", "FLDLG2", "FLDLN2", "FLDZ"} {
		d9[0x28+i] = x86Op(n, "", (*CPU_X86).opFLDConst)
	}
	for i, n := range []string{"F2XM1", "FYL2X", "FPTAN", "FPATAN", "FXTRACT", "FPREM1"} {
		d9[0x30+i] = x86Unimpl(n)
	}
	d9[0x36] = x86Op("FDECSTP", "", (*CPU_X86).opFTOP)
	d9[0x37] = x86Op("FINCSTP", "", (*CPU_X86).opFTOP).withSub(1)
	d9[0x38] = x86Unimpl("FPREM")
	d9[0x39] = x86Unimpl("FYL2XP1")
	d9[0x3A] = x86Op("FSQRT", "", (*CPU_X86).opFUnary)
	d9[0x3B] = x86Unimpl("FSINCOS")
	d9[0x3C] = x86Op("FRNDINT", "", (*CPU_X86).opFUnary)
	d9[0x3D] = x86Op("FSCALE", "", (*CPU_X86).opFUnary)
	d9[0x3E] = x86Unimpl("FSIN")
	d9[0x3F] = x86Unimpl("FCOS")

	reg[2][0x29] = x86Op("FUCOMPP", "", (*CPU_X86).opFCOMPP).withSub(1)
	// FENI, FDISI and FSETPM are no-ops after the 287
	reg[3][0x20] = x86Op("FENI", "", (*CPU_X86).opFNOP)
	reg[3][0x21] = x86Op("FDISI", "", (*CPU_X86).opFNOP)
	reg[3][0x22] = x86Op("FNCLEX", "", (*CPU_X86).opFNCLEX)
	reg[3][0x23] = x86Op("FNINIT", "", (*CPU_X86).opFNINIT)
	reg[3][0x24] = x86Op("FSETPM", "", (*CPU_X86).opFNOP)
	reg[6][0x19] = x86Op("FCOMPP", "", (*CPU_X86).opFCOMPP)
	reg[7][0x20] = x86Op("FNSTSW", "AX", (*CPU_X86).opFNSTSW)

	for esc := range mem {
		for i := range mem[esc] {
			mem[esc][i].finalize()
		}
		for i := range reg[esc] {
			reg[esc][i].finalize()
		}
	}
}
