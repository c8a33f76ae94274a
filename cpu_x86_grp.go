// cpu_x86_grp.go - x86 CPU Group Opcode Implementations (shifts, multiply/divide)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// =============================================================================
// Group 2 (ROL, ROR, RCL, RCR, SHL, SHR, SAL, SAR)
// =============================================================================

func (c *CPU_X86) shiftCount(in *x86Insn) uint32 {
	switch in.op.aux {
	case x86CountOne:
		return 1
	case x86CountCL:
		return uint32(c.CL())
	}
	return in.imm & 0xFF
}

func (c *CPU_X86) opShift(in *x86Insn) x86Outcome {
	w := in.width()
	m := x86WidthMask(w)
	count := c.shiftCount(in) & 31
	if count == 0 {
		// Flags and operand are untouched, but the access is still checked
		if in.isMem() {
			c.checkWrite(in.segment(), c.ea(in), uint32(w/8))
		}
		return x86OutNext
	}
	v := c.readE(in, w)

	var r uint32
	var op x86FlagOp
	carry := false
	switch in.op.sub {
	case 0: // ROL
		n := count % uint32(w)
		r = (v<<n | v>>(uint32(w)-n)) & m
		op = x86FlagOpRol
	case 1: // ROR
		n := count % uint32(w)
		r = (v>>n | v<<(uint32(w)-n)) & m
		op = x86FlagOpRor
	case 2, 3: // RCL, RCR rotate through CF as a w+1 bit quantity
		n := count % (uint32(w) + 1)
		x := uint64(v)
		if c.CF() {
			x |= 1 << w
		}
		wm := uint64(1)<<(w+1) - 1
		if in.op.sub == 2 {
			x = (x<<n | x>>(uint32(w)+1-n)) & wm
			op = x86FlagOpRcl
		} else {
			x = (x>>n | x<<(uint32(w)+1-n)) & wm
			op = x86FlagOpRcr
		}
		r = uint32(x) & m
		carry = x>>w&1 != 0
	case 4, 6: // SHL, SAL
		r = uint32(uint64(v)<<count) & m
		op = x86FlagOpShl
	case 5: // SHR
		r = v >> count
		op = x86FlagOpShr
	case 7: // SAR
		r = uint32(x86SignExtend(v, w)>>count) & m
		op = x86FlagOpSar
	}

	c.writeE(in, w, r)
	switch op {
	case x86FlagOpRol, x86FlagOpRor, x86FlagOpRcl, x86FlagOpRcr:
		c.setLazyPartial(op, w, v, count, r, carry)
	default:
		c.setLazy(op, w, v, count, r, false)
	}
	return x86OutNext
}

// =============================================================================
// Double Precision Shifts
// =============================================================================

func (c *CPU_X86) opSHLD(in *x86Insn) x86Outcome {
	w := in.width()
	count := c.shiftCount(in) & 31
	if count == 0 {
		return x86OutNext
	}
	dst, src := c.readE(in, w), c.readG(in, w)
	x := uint64(dst)<<w | uint64(src)
	r := uint32(x<<count>>w) & x86WidthMask(w)
	c.writeE(in, w, r)
	c.setLazy(x86FlagOpShld, w, dst, count, r, false)
	return x86OutNext
}

func (c *CPU_X86) opSHRD(in *x86Insn) x86Outcome {
	w := in.width()
	count := c.shiftCount(in) & 31
	if count == 0 {
		return x86OutNext
	}
	dst, src := c.readE(in, w), c.readG(in, w)
	x := uint64(src)<<w | uint64(dst)
	r := uint32(x>>count) & x86WidthMask(w)
	c.writeE(in, w, r)
	c.setLazy(x86FlagOpShrd, w, dst, count, r, false)
	return x86OutNext
}

// =============================================================================
// Group 3 (NOT, NEG, MUL, IMUL, DIV, IDIV)
// =============================================================================

func (c *CPU_X86) opNOT(in *x86Insn) x86Outcome {
	w := in.width()
	c.writeE(in, w, ^c.readE(in, w)&x86WidthMask(w))
	return x86OutNext
}

func (c *CPU_X86) opNEG(in *x86Insn) x86Outcome {
	w := in.width()
	v := c.readE(in, w)
	r := (0 - v) & x86WidthMask(w)
	c.writeE(in, w, r)
	c.setLazy(x86FlagOpNeg, w, v, 0, r, false)
	return x86OutNext
}

// storeWide writes a double-width product to AX, DX:AX or EDX:EAX
func (c *CPU_X86) storeWide(w uint8, lo, hi uint32) {
	switch w {
	case 8:
		c.SetAX(uint16(hi)<<8 | uint16(lo))
	case 16:
		c.SetAX(uint16(lo))
		c.SetDX(uint16(hi))
	default:
		c.EAX, c.EDX = lo, hi
	}
}

// loadWide reads the double-width dividend
func (c *CPU_X86) loadWide(w uint8) uint64 {
	switch w {
	case 8:
		return uint64(c.AX())
	case 16:
		return uint64(c.DX())<<16 | uint64(c.AX())
	}
	return uint64(c.EDX)<<32 | uint64(c.EAX)
}

func (c *CPU_X86) opMUL(in *x86Insn) x86Outcome {
	w := in.width()
	p := uint64(c.getReg(w, 0)) * uint64(c.readE(in, w))
	lo, hi := uint32(p)&x86WidthMask(w), uint32(p>>w)
	c.storeWide(w, lo, hi)
	c.setLazy(x86FlagOpMul, w, 0, 0, lo, hi != 0)
	return x86OutNext
}

func (c *CPU_X86) opIMUL1(in *x86Insn) x86Outcome {
	w := in.width()
	p := x86SignExtend(c.getReg(w, 0), w) * x86SignExtend(c.readE(in, w), w)
	lo, hi := uint32(p)&x86WidthMask(w), uint32(uint64(p)>>w)&x86WidthMask(w)
	c.storeWide(w, lo, hi)
	c.setLazy(x86FlagOpMul, w, 0, 0, lo, x86SignExtend(lo, w) != p)
	return x86OutNext
}

// DIV and IDIV raise #DE before any register changes
func (c *CPU_X86) opDIV(in *x86Insn) x86Outcome {
	w := in.width()
	d := uint64(c.readE(in, w))
	if d == 0 {
		x86Raise(x86VecDE)
	}
	n := c.loadWide(w)
	q, r := n/d, n%d
	if q > uint64(x86WidthMask(w)) {
		x86Raise(x86VecDE)
	}
	c.storeDivision(w, uint32(q), uint32(r))
	return x86OutNext
}

func (c *CPU_X86) opIDIV(in *x86Insn) x86Outcome {
	w := in.width()
	d := x86SignExtend(c.readE(in, w), w)
	if d == 0 {
		x86Raise(x86VecDE)
	}
	raw := c.loadWide(w)
	var n int64
	switch w {
	case 8:
		n = int64(int16(raw))
	case 16:
		n = int64(int32(raw))
	default:
		n = int64(raw)
	}
	q, r := n/d, n%d
	lim := int64(1) << (w - 1)
	if q < -lim || q >= lim {
		x86Raise(x86VecDE)
	}
	c.storeDivision(w, uint32(q)&x86WidthMask(w), uint32(r)&x86WidthMask(w))
	return x86OutNext
}

// storeDivision writes quotient and remainder (AL/AH, AX/DX, EAX/EDX)
func (c *CPU_X86) storeDivision(w uint8, q, r uint32) {
	switch w {
	case 8:
		c.SetAL(byte(q))
		c.SetAH(byte(r))
	case 16:
		c.SetAX(uint16(q))
		c.SetDX(uint16(r))
	default:
		c.EAX, c.EDX = q, r
	}
}
