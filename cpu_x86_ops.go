// cpu_x86_ops.go - x86 CPU Instruction Implementations
//
// Executors run one decoded instruction against the processor. Operands
// come from the x86Insn; nothing is fetched from the instruction stream
// here. An executor performs every access that can fault before it
// commits registers or flags, so a fault leaves the instruction
// restartable.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"math/bits"
)

// x86RestartState is what atomically restores when its body faults
type x86RestartState struct {
	regs  [8]uint32
	seg   [6]x86Segment
	flags uint32
	lazy  x86LazyFlags
	cpl   uint8
}

// atomically runs fn so that a fault inside it leaves the general
// registers, segment registers, flags and privilege level as they were.
// Stack stores made below the restored stack pointer are left behind.
func (c *CPU_X86) atomically(fn func()) {
	var s x86RestartState
	for i, r := range c.regs32 {
		s.regs[i] = *r
	}
	s.seg, s.flags, s.lazy, s.cpl = c.seg, c.Flags, c.lazy, c.cpl
	if f := catchX86Fault(fn); f != nil {
		for i, r := range c.regs32 {
			*r = s.regs[i]
		}
		c.seg, c.Flags, c.lazy, c.cpl = s.seg, s.flags, s.lazy, s.cpl
		panic(f)
	}
}

// setArithFlags replaces the six arithmetic flags
func (c *CPU_X86) setArithFlags(f uint32) {
	c.writeFlags(c.readFlags()&^x86FlagsArith | f&x86FlagsArith)
}

// x86SignExtend widens a w-bit value to a signed 64-bit integer
func x86SignExtend(v uint32, w uint8) int64 {
	switch w {
	case 8:
		return int64(int8(v))
	case 16:
		return int64(int16(v))
	}
	return int64(int32(v))
}

// =============================================================================
// ALU Instructions (ADD OR ADC SBB AND SUB XOR CMP TEST)
// =============================================================================

// alu computes op over a and b and returns the result with the flag record
// it defines; the caller installs the record once its stores succeeded.
func (c *CPU_X86) alu(op byte, w uint8, a, b uint32) (uint32, x86LazyFlags) {
	m := x86WidthMask(w)
	a, b = a&m, b&m
	var r uint32
	var f x86FlagOp
	carry := false
	switch op {
	case x86ALUAdd:
		r, f = a+b, x86FlagOpAdd
	case x86ALUOr:
		r, f = a|b, x86FlagOpLogic
	case x86ALUAdc:
		carry = c.CF()
		r, f = a+b, x86FlagOpAdc
		if carry {
			r++
		}
	case x86ALUSbb:
		carry = c.CF()
		r, f = a-b, x86FlagOpSbb
		if carry {
			r--
		}
	case x86ALUAnd, x86ALUTest:
		r, f = a&b, x86FlagOpLogic
	case x86ALUSub, x86ALUCmp:
		r, f = a-b, x86FlagOpSub
	case x86ALUXor:
		r, f = a^b, x86FlagOpLogic
	default:
		x86Defect("alu op %d", op)
	}
	r &= m
	return r, x86LazyFlags{op: f, width: w, a: a, b: b, res: r, carry: carry}
}

// CMP and TEST only define flags
func x86ALUWrites(op byte) bool {
	return op != x86ALUCmp && op != x86ALUTest
}

func (c *CPU_X86) opALU_EG(in *x86Insn) x86Outcome {
	w := in.width()
	r, f := c.alu(in.op.sub, w, c.readE(in, w), c.readG(in, w))
	if x86ALUWrites(in.op.sub) {
		c.writeE(in, w, r)
	}
	c.lazy = f
	return x86OutNext
}

func (c *CPU_X86) opALU_GE(in *x86Insn) x86Outcome {
	w := in.width()
	r, f := c.alu(in.op.sub, w, c.readG(in, w), c.readE(in, w))
	if x86ALUWrites(in.op.sub) {
		c.writeG(in, w, r)
	}
	c.lazy = f
	return x86OutNext
}

func (c *CPU_X86) opALU_AI(in *x86Insn) x86Outcome {
	w := in.width()
	r, f := c.alu(in.op.sub, w, c.getReg(w, 0), in.immW(w))
	if x86ALUWrites(in.op.sub) {
		c.setReg(w, 0, r)
	}
	c.lazy = f
	return x86OutNext
}

func (c *CPU_X86) opALU_EI(in *x86Insn) x86Outcome {
	w := in.width()
	r, f := c.alu(in.op.sub, w, c.readE(in, w), in.immW(w))
	if x86ALUWrites(in.op.sub) {
		c.writeE(in, w, r)
	}
	c.lazy = f
	return x86OutNext
}

// =============================================================================
// INC / DEC
// =============================================================================

func (c *CPU_X86) opINC_Z(in *x86Insn) x86Outcome {
	w := in.width()
	a := c.getReg(w, in.op.sub)
	r := (a + 1) & x86WidthMask(w)
	cf := c.CF()
	c.setReg(w, in.op.sub, r)
	c.setLazy(x86FlagOpInc, w, a, 1, r, cf)
	return x86OutNext
}

func (c *CPU_X86) opDEC_Z(in *x86Insn) x86Outcome {
	w := in.width()
	a := c.getReg(w, in.op.sub)
	r := (a - 1) & x86WidthMask(w)
	cf := c.CF()
	c.setReg(w, in.op.sub, r)
	c.setLazy(x86FlagOpDec, w, a, 1, r, cf)
	return x86OutNext
}

func (c *CPU_X86) opINC_E(in *x86Insn) x86Outcome {
	w := in.width()
	a := c.readE(in, w)
	r := (a + 1) & x86WidthMask(w)
	cf := c.CF()
	c.writeE(in, w, r)
	c.setLazy(x86FlagOpInc, w, a, 1, r, cf)
	return x86OutNext
}

func (c *CPU_X86) opDEC_E(in *x86Insn) x86Outcome {
	w := in.width()
	a := c.readE(in, w)
	r := (a - 1) & x86WidthMask(w)
	cf := c.CF()
	c.writeE(in, w, r)
	c.setLazy(x86FlagOpDec, w, a, 1, r, cf)
	return x86OutNext
}

// =============================================================================
// Stack Instructions
// =============================================================================

func (c *CPU_X86) opPUSH_Z(in *x86Insn) x86Outcome {
	c.pushV(c.getReg(in.width(), in.op.sub), in.op32)
	return x86OutNext
}

func (c *CPU_X86) opPOP_Z(in *x86Insn) x86Outcome {
	v := c.popV(in.op32)
	c.setReg(in.width(), in.op.sub, v)
	return x86OutNext
}

func (c *CPU_X86) opPUSH_I(in *x86Insn) x86Outcome {
	c.pushV(in.imm, in.op32)
	return x86OutNext
}

func (c *CPU_X86) opPUSH_E(in *x86Insn) x86Outcome {
	c.pushV(c.readE(in, in.width()), in.op32)
	return x86OutNext
}

// POP r/m computes a stack-relative address with ESP already incremented
func (c *CPU_X86) opPOP_E(in *x86Insn) x86Outcome {
	w := in.width()
	v := c.peekV(0, in.op32)
	c.atomically(func() {
		c.setStackPtr((c.stackPtr() + uint32(w/8)) & c.stackMask())
		c.writeE(in, w, v)
	})
	return x86OutNext
}

func (c *CPU_X86) opPUSHA(in *x86Insn) x86Outcome {
	w := in.width()
	sz := uint32(w / 8)
	sp, mask := c.stackPtr(), c.stackMask()
	for i := byte(0); i < 8; i++ {
		c.writeW(w, x86SegSS, (sp-sz*uint32(i+1))&mask, c.getReg(w, i))
	}
	c.setStackPtr((sp - 8*sz) & mask)
	return x86OutNext
}

func (c *CPU_X86) opPOPA(in *x86Insn) x86Outcome {
	w := in.width()
	sz := uint32(w / 8)
	sp, mask := c.stackPtr(), c.stackMask()
	var vals [8]uint32
	for i := 0; i < 8; i++ {
		vals[i] = c.readW(w, x86SegSS, (sp+sz*uint32(7-i))&mask)
	}
	for i := byte(0); i < 8; i++ {
		if i != 4 { // the saved SP is discarded
			c.setReg(w, i, vals[i])
		}
	}
	c.setStackPtr((sp + 8*sz) & mask)
	return x86OutNext
}

func (c *CPU_X86) opPushSeg(in *x86Insn) x86Outcome {
	c.pushV(uint32(c.seg[in.op.sub].Selector), in.op32)
	return x86OutNext
}

func (c *CPU_X86) opPopSeg(in *x86Insn) x86Outcome {
	sel := uint16(c.peekV(0, in.op32))
	seg := int(in.op.sub)
	c.atomically(func() {
		c.loadSegment(seg, sel)
		c.setStackPtr((c.stackPtr() + uint32(in.width()/8)) & c.stackMask())
	})
	if seg == x86SegSS {
		c.irqShadow = true
	}
	return x86OutNext
}

// ENTER builds a stack frame with a display of level enclosing frame pointers
func (c *CPU_X86) opENTER(in *x86Insn) x86Outcome {
	size := in.imm & 0xFFFF
	level := in.imm2 & 31
	w := in.width()
	sz := uint32(w / 8)
	c.atomically(func() {
		c.pushV(c.getReg(w, 5), in.op32)
		frame := c.stackPtr()
		if level > 0 {
			bp := c.getReg32(5)
			if !c.stack32() {
				bp &= 0xFFFF
			}
			for i := uint32(1); i < level; i++ {
				bp = (bp - sz) & c.stackMask()
				c.pushV(c.readW(w, x86SegSS, bp), in.op32)
			}
			c.pushV(frame, in.op32)
		}
		c.setReg(w, 5, frame)
		sp := (c.stackPtr() - size) & c.stackMask()
		c.checkWrite(x86SegSS, sp, 1)
		c.setStackPtr(sp)
	})
	return x86OutNext
}

func (c *CPU_X86) opLEAVE(in *x86Insn) x86Outcome {
	w := in.width()
	sp := c.EBP & c.stackMask()
	v := c.readW(w, x86SegSS, sp)
	c.setStackPtr((sp + uint32(w/8)) & c.stackMask())
	c.setReg(w, 5, v)
	return x86OutNext
}

// =============================================================================
// Data Movement
// =============================================================================

func (c *CPU_X86) opMOV_EG(in *x86Insn) x86Outcome {
	w := in.width()
	c.writeE(in, w, c.readG(in, w))
	return x86OutNext
}

func (c *CPU_X86) opMOV_GE(in *x86Insn) x86Outcome {
	w := in.width()
	c.writeG(in, w, c.readE(in, w))
	return x86OutNext
}

func (c *CPU_X86) opMOV_EI(in *x86Insn) x86Outcome {
	w := in.width()
	c.writeE(in, w, in.immW(w))
	return x86OutNext
}

func (c *CPU_X86) opMOV_ZI(in *x86Insn) x86Outcome {
	w := in.width()
	c.setReg(w, in.op.sub, in.immW(w))
	return x86OutNext
}

func (c *CPU_X86) opMOV_AO(in *x86Insn) x86Outcome {
	w := in.width()
	c.setReg(w, 0, c.readW(w, in.segment(), in.imm))
	return x86OutNext
}

func (c *CPU_X86) opMOV_OA(in *x86Insn) x86Outcome {
	w := in.width()
	c.writeW(w, in.segment(), in.imm, c.getReg(w, 0))
	return x86OutNext
}

func (c *CPU_X86) opMOV_ESw(in *x86Insn) x86Outcome {
	reg := in.reg()
	if reg > x86SegGS {
		x86RaiseUD()
	}
	sel := uint32(c.seg[reg].Selector)
	if in.isMem() {
		c.writeE(in, 16, sel)
	} else {
		c.writeE(in, in.width(), sel)
	}
	return x86OutNext
}

func (c *CPU_X86) opMOV_SwE(in *x86Insn) x86Outcome {
	reg := int(in.reg())
	if reg == x86SegCS || reg > x86SegGS {
		x86RaiseUD()
	}
	c.loadSegment(reg, uint16(c.readE(in, 16)))
	if reg == x86SegSS {
		c.irqShadow = true
	}
	return x86OutNext
}

func (c *CPU_X86) opLEA(in *x86Insn) x86Outcome {
	w := in.width()
	c.writeG(in, w, c.ea(in)&x86WidthMask(w))
	return x86OutNext
}

func (c *CPU_X86) opXCHG_EG(in *x86Insn) x86Outcome {
	w := in.width()
	a, b := c.readE(in, w), c.readG(in, w)
	c.writeE(in, w, b)
	c.writeG(in, w, a)
	return x86OutNext
}

func (c *CPU_X86) opXCHG_ZA(in *x86Insn) x86Outcome {
	w := in.width()
	a, b := c.getReg(w, in.op.sub), c.getReg(w, 0)
	c.setReg(w, in.op.sub, b)
	c.setReg(w, 0, a)
	return x86OutNext
}

func (c *CPU_X86) opMOVX(in *x86Insn) x86Outcome {
	src := in.op.sub & 0x7F
	v := c.readE(in, src)
	if in.op.sub&0x80 != 0 {
		v = uint32(x86SignExtend(v, src))
	}
	w := in.width()
	c.writeG(in, w, v&x86WidthMask(w))
	return x86OutNext
}

func (c *CPU_X86) opCMOV(in *x86Insn) x86Outcome {
	w := in.width()
	v := c.readE(in, w)
	if c.cond(in.op.sub) {
		c.writeG(in, w, v)
	}
	return x86OutNext
}

func (c *CPU_X86) opSETcc(in *x86Insn) x86Outcome {
	var v uint32
	if c.cond(in.op.sub) {
		v = 1
	}
	c.writeE(in, 8, v)
	return x86OutNext
}

func (c *CPU_X86) opBSWAP(in *x86Insn) x86Outcome {
	if in.op32 {
		c.setReg32(in.op.sub, bits.ReverseBytes32(c.getReg32(in.op.sub)))
	} else {
		c.setReg16(in.op.sub, 0) // 16-bit BSWAP clears the register
	}
	return x86OutNext
}

func (c *CPU_X86) opLoadFar(in *x86Insn) x86Outcome {
	w := in.width()
	seg, off := in.segment(), c.ea(in)
	v := c.readW(w, seg, off)
	sel := c.read16(seg, off+uint32(w/8))
	c.loadSegment(int(in.op.sub), sel)
	c.writeG(in, w, v)
	return x86OutNext
}

func (c *CPU_X86) opXLAT(in *x86Insn) x86Outcome {
	off := c.EBX + uint32(c.AL())
	if !in.addr32 {
		off &= 0xFFFF
	}
	c.SetAL(c.read8(in.segment(), off))
	return x86OutNext
}

func (c *CPU_X86) opCBW(in *x86Insn) x86Outcome {
	if in.op32 {
		c.EAX = uint32(int32(int16(c.AX())))
	} else {
		c.SetAX(uint16(int16(int8(c.AL()))))
	}
	return x86OutNext
}

func (c *CPU_X86) opCWD(in *x86Insn) x86Outcome {
	if in.op32 {
		c.EDX = uint32(int32(c.EAX) >> 31)
	} else {
		c.SetDX(uint16(int16(c.AX()) >> 15))
	}
	return x86OutNext
}

func (c *CPU_X86) opNOP(in *x86Insn) x86Outcome { return x86OutNext }

// =============================================================================
// Flag Instructions
// =============================================================================

func (c *CPU_X86) opSAHF(in *x86Insn) x86Outcome {
	const m = x86FlagSF | x86FlagZF | x86FlagAF | x86FlagPF | x86FlagCF
	c.writeFlags(c.readFlags()&^m | uint32(c.AH())&m)
	return x86OutNext
}

func (c *CPU_X86) opLAHF(in *x86Insn) x86Outcome {
	c.SetAH(byte(c.readFlags()))
	return x86OutNext
}

func (c *CPU_X86) opCLC(in *x86Insn) x86Outcome { c.setFlag(x86FlagCF, false); return x86OutNext }
func (c *CPU_X86) opSTC(in *x86Insn) x86Outcome { c.setFlag(x86FlagCF, true); return x86OutNext }
func (c *CPU_X86) opCMC(in *x86Insn) x86Outcome { c.setFlag(x86FlagCF, !c.CF()); return x86OutNext }
func (c *CPU_X86) opCLD(in *x86Insn) x86Outcome { c.setFlag(x86FlagDF, false); return x86OutNext }
func (c *CPU_X86) opSTD(in *x86Insn) x86Outcome { c.setFlag(x86FlagDF, true); return x86OutNext }

func (c *CPU_X86) opSALC(in *x86Insn) x86Outcome {
	if c.CF() {
		c.SetAL(0xFF)
	} else {
		c.SetAL(0)
	}
	return x86OutNext
}

// =============================================================================
// BCD Adjust
// =============================================================================

func (c *CPU_X86) opDAA(in *x86Insn) x86Outcome {
	al, cf, af := c.AL(), c.CF(), c.AF()
	old := al
	var f uint32
	if al&0x0F > 9 || af {
		al += 6
		f |= x86FlagAF
	}
	if old > 0x99 || cf {
		al += 0x60
		f |= x86FlagCF
	}
	c.SetAL(al)
	c.setArithFlags(f | x86SZP(uint32(al), 8))
	return x86OutNext
}

func (c *CPU_X86) opDAS(in *x86Insn) x86Outcome {
	al, cf, af := c.AL(), c.CF(), c.AF()
	old := al
	var f uint32
	if al&0x0F > 9 || af {
		al -= 6
		f |= x86FlagAF
	}
	if old > 0x99 || cf {
		al -= 0x60
		f |= x86FlagCF
	}
	c.SetAL(al)
	c.setArithFlags(f | x86SZP(uint32(al), 8))
	return x86OutNext
}

func (c *CPU_X86) opAAA(in *x86Insn) x86Outcome {
	var f uint32
	if c.AL()&0x0F > 9 || c.AF() {
		c.SetAL(c.AL() + 6)
		c.SetAH(c.AH() + 1)
		f = x86FlagAF | x86FlagCF
	}
	c.SetAL(c.AL() & 0x0F)
	c.setArithFlags(f | x86SZP(uint32(c.AL()), 8))
	return x86OutNext
}

func (c *CPU_X86) opAAS(in *x86Insn) x86Outcome {
	var f uint32
	if c.AL()&0x0F > 9 || c.AF() {
		c.SetAL(c.AL() - 6)
		c.SetAH(c.AH() - 1)
		f = x86FlagAF | x86FlagCF
	}
	c.SetAL(c.AL() & 0x0F)
	c.setArithFlags(f | x86SZP(uint32(c.AL()), 8))
	return x86OutNext
}

func (c *CPU_X86) opAAM(in *x86Insn) x86Outcome {
	base := byte(in.imm)
	if base == 0 {
		x86Raise(x86VecDE)
	}
	al := c.AL()
	c.SetAH(al / base)
	c.SetAL(al % base)
	c.setArithFlags(x86SZP(uint32(c.AL()), 8))
	return x86OutNext
}

func (c *CPU_X86) opAAD(in *x86Insn) x86Outcome {
	c.SetAL(c.AL() + c.AH()*byte(in.imm))
	c.SetAH(0)
	c.setArithFlags(x86SZP(uint32(c.AL()), 8))
	return x86OutNext
}

// =============================================================================
// Multiply, Bit Scan and Bit Test
// =============================================================================

// imul multiplies two signed w-bit operands; overflow reports a product
// that does not fit back into w bits.
func x86IMul(a, b uint32, w uint8) (uint32, bool) {
	p := x86SignExtend(a, w) * x86SignExtend(b, w)
	r := uint32(p) & x86WidthMask(w)
	return r, x86SignExtend(r, w) != p
}

func (c *CPU_X86) opIMUL_GE(in *x86Insn) x86Outcome {
	w := in.width()
	r, ovf := x86IMul(c.readG(in, w), c.readE(in, w), w)
	c.writeG(in, w, r)
	c.setLazy(x86FlagOpMul, w, 0, 0, r, ovf)
	return x86OutNext
}

func (c *CPU_X86) opIMUL_GEI(in *x86Insn) x86Outcome {
	w := in.width()
	r, ovf := x86IMul(c.readE(in, w), in.immW(w), w)
	c.writeG(in, w, r)
	c.setLazy(x86FlagOpMul, w, 0, 0, r, ovf)
	return x86OutNext
}

func (c *CPU_X86) opBSF(in *x86Insn) x86Outcome {
	w := in.width()
	v := c.readE(in, w)
	if v == 0 {
		c.setArithFlags(c.readFlags() | x86FlagZF)
		return x86OutNext
	}
	c.writeG(in, w, uint32(bits.TrailingZeros32(v)))
	c.setArithFlags(c.readFlags() &^ x86FlagZF)
	return x86OutNext
}

func (c *CPU_X86) opBSR(in *x86Insn) x86Outcome {
	w := in.width()
	v := c.readE(in, w)
	if v == 0 {
		c.setArithFlags(c.readFlags() | x86FlagZF)
		return x86OutNext
	}
	c.writeG(in, w, uint32(31-bits.LeadingZeros32(v)))
	c.setArithFlags(c.readFlags() &^ x86FlagZF)
	return x86OutNext
}

// opBT implements BT/BTS/BTR/BTC (sub 0-3). With a register bit offset and
// a memory operand the offset is signed and may reach outside the operand.
func (c *CPU_X86) opBT(in *x86Insn) x86Outcome {
	w := in.width()
	var bit uint32
	if len(in.op.imms) > 0 {
		bit = in.imm & uint32(w-1)
	} else {
		bit = c.readG(in, w)
	}

	var v uint32
	var seg int
	var off uint32
	if in.isMem() {
		seg, off = in.segment(), c.ea(in)
		if len(in.op.imms) == 0 {
			disp := x86SignExtend(bit, w) >> 3 &^ int64(w/8-1)
			off += uint32(disp)
			if !in.addr32 {
				off &= 0xFFFF
			}
		}
		bit &= uint32(w - 1)
		v = c.readW(w, seg, off)
	} else {
		bit &= uint32(w - 1)
		v = c.getReg(w, in.rm())
	}

	cf := v>>bit&1 != 0
	switch in.op.sub {
	case 1:
		v |= 1 << bit
	case 2:
		v &^= 1 << bit
	case 3:
		v ^= 1 << bit
	}
	if in.op.sub != 0 {
		if in.isMem() {
			c.writeW(w, seg, off, v)
		} else {
			c.setReg(w, in.rm(), v)
		}
	}
	c.setFlag(x86FlagCF, cf)
	return x86OutNext
}

// =============================================================================
// Atomic Exchange
// =============================================================================

func (c *CPU_X86) opCMPXCHG(in *x86Insn) x86Outcome {
	w := in.width()
	dst := c.readE(in, w)
	acc := c.getReg(w, 0)
	_, f := c.alu(x86ALUCmp, w, acc, dst)
	if acc == dst {
		c.writeE(in, w, c.readG(in, w))
	} else {
		c.writeE(in, w, dst)
		c.setReg(w, 0, dst)
	}
	c.lazy = f
	return x86OutNext
}

func (c *CPU_X86) opXADD(in *x86Insn) x86Outcome {
	w := in.width()
	d, s := c.readE(in, w), c.readG(in, w)
	r, f := c.alu(x86ALUAdd, w, d, s)
	if in.isMem() {
		c.writeE(in, w, r)
		c.writeG(in, w, d)
	} else {
		c.writeG(in, w, d)
		c.writeE(in, w, r)
	}
	c.lazy = f
	return x86OutNext
}

// =============================================================================
// BOUND and Invalid Encodings
// =============================================================================

func (c *CPU_X86) opBOUND(in *x86Insn) x86Outcome {
	w := in.width()
	seg, off := in.segment(), c.ea(in)
	idx := x86SignExtend(c.readG(in, w), w)
	lo := x86SignExtend(c.readW(w, seg, off), w)
	hi := x86SignExtend(c.readW(w, seg, off+uint32(w/8)), w)
	if idx < lo || idx > hi {
		x86Raise(x86VecBR)
	}
	return x86OutNext
}

func (c *CPU_X86) opInvalid(in *x86Insn) x86Outcome {
	x86RaiseUD()
	return x86OutException
}

func (c *CPU_X86) opTooLong(in *x86Insn) x86Outcome {
	x86RaiseGP(0)
	return x86OutException
}

func (c *CPU_X86) opUnimplemented(in *x86Insn) x86Outcome {
	x86RaiseUnimplemented(fmt.Sprintf("%s (opcode %03Xh)", in.op.name, in.opcode))
	return x86OutException
}
