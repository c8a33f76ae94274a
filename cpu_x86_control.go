// cpu_x86_control.go - Control transfer instructions
//
// Near branches, far JMP/CALL/RET through code segments and call gates,
// IRET in all three modes and the software interrupt instructions. Far
// transfers validate the destination completely before any register
// changes; transfers that push go through atomically so a stack fault
// leaves the old context intact.
//
// Task switches (JMP/CALL to a TSS or task gate, IRET with NT set) are
// reported as unimplemented.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// jumpNear sets EIP, raising #GP(0) when the target lies beyond the CS limit
func (c *CPU_X86) jumpNear(t uint32) {
	if t > c.seg[x86SegCS].Limit {
		x86RaiseGP(0)
	}
	c.EIP = t
}

// =============================================================================
// Near Transfers
// =============================================================================

func (c *CPU_X86) opJcc(in *x86Insn) x86Outcome {
	if !c.cond(in.op.sub) {
		return x86OutNext
	}
	c.jumpNear(c.relTarget(in))
	return x86OutBranch
}

func (c *CPU_X86) opJMP_rel(in *x86Insn) x86Outcome {
	c.jumpNear(c.relTarget(in))
	return x86OutBranch
}

func (c *CPU_X86) opJMP_E(in *x86Insn) x86Outcome {
	c.jumpNear(c.readE(in, in.width()))
	return x86OutBranchDynamic
}

func (c *CPU_X86) opCALL_rel(in *x86Insn) x86Outcome {
	return c.callNear(c.relTarget(in), in.op32)
}

func (c *CPU_X86) opCALL_E(in *x86Insn) x86Outcome {
	return c.callNear(c.readE(in, in.width()), in.op32)
}

func (c *CPU_X86) callNear(t uint32, op32 bool) x86Outcome {
	if t > c.seg[x86SegCS].Limit {
		x86RaiseGP(0)
	}
	c.pushV(c.EIP, op32)
	c.EIP = t
	return x86OutCall
}

func (c *CPU_X86) opRET(in *x86Insn) x86Outcome {
	w := in.width()
	sp := c.stackPtr()
	t := c.readW(w, x86SegSS, sp)
	c.jumpNear(t)
	c.setStackPtr((sp + uint32(w/8) + in.imm&0xFFFF) & c.stackMask())
	return x86OutReturn
}

// opLOOP implements LOOPNE (sub 0), LOOPE (1), LOOP (2) and JCXZ (3). The
// count register is CX or ECX by address size.
func (c *CPU_X86) opLOOP(in *x86Insn) x86Outcome {
	count := c.ECX
	if !in.addr32 {
		count &= 0xFFFF
	}
	var taken bool
	if in.op.sub == 3 {
		taken = count == 0
	} else {
		count--
		switch in.op.sub {
		case 0:
			taken = count != 0 && !c.ZF()
		case 1:
			taken = count != 0 && c.ZF()
		default:
			taken = count != 0
		}
	}
	t := c.relTarget(in)
	if taken && t > c.seg[x86SegCS].Limit {
		x86RaiseGP(0)
	}
	if in.op.sub != 3 {
		if in.addr32 {
			c.ECX = count
		} else {
			c.SetCX(uint16(count))
		}
	}
	if !taken {
		return x86OutNext
	}
	c.EIP = t
	return x86OutBranch
}

// =============================================================================
// Far Transfers
// =============================================================================

func (c *CPU_X86) opJMP_far(in *x86Insn) x86Outcome {
	c.farTransfer(uint16(in.imm2), in.imm, in.op32, false)
	return x86OutBranch
}

func (c *CPU_X86) opCALL_far(in *x86Insn) x86Outcome {
	c.farTransfer(uint16(in.imm2), in.imm, in.op32, true)
	return x86OutCall
}

func (c *CPU_X86) farPointer(in *x86Insn) (uint16, uint32) {
	w := in.width()
	seg, off := in.segment(), c.ea(in)
	target := c.readW(w, seg, off)
	return c.read16(seg, off+uint32(w/8)), target
}

func (c *CPU_X86) opJMP_farM(in *x86Insn) x86Outcome {
	sel, off := c.farPointer(in)
	c.farTransfer(sel, off, in.op32, false)
	return x86OutBranchDynamic
}

func (c *CPU_X86) opCALL_farM(in *x86Insn) x86Outcome {
	sel, off := c.farPointer(in)
	c.farTransfer(sel, off, in.op32, true)
	return x86OutCall
}

// farTransfer performs a far JMP (call=false) or CALL to sel:off
func (c *CPU_X86) farTransfer(sel uint16, off uint32, op32, call bool) {
	if !op32 {
		off &= 0xFFFF
	}
	if c.Mode() != X86ModeProtected {
		c.atomically(func() {
			if call {
				c.pushV(uint32(c.seg[x86SegCS].Selector), op32)
				c.pushV(c.EIP, op32)
			}
			c.loadRealCS(sel)
			c.jumpNear(off)
		})
		return
	}

	if sel&0xFFFC == 0 {
		x86RaiseGP(0)
	}
	d := c.fetchDescriptor(sel, x86VecGP)
	switch d.Kind {
	case x86SegCallGate16, x86SegCallGate32:
		c.callGate(&d, call)
		return
	case x86SegTaskGate, x86SegTSS16, x86SegTSS32:
		x86RaiseUnimplemented("task switch")
	}
	cpl := c.checkCodeTarget(&d)
	if off > d.Limit {
		x86RaiseGP(0)
	}
	c.atomically(func() {
		if call {
			c.pushV(uint32(c.seg[x86SegCS].Selector), op32)
			c.pushV(c.EIP, op32)
		}
		c.setCS(d, cpl)
		c.EIP = off
	})
}

// callGate transfers through a call gate, switching to the inner stack
// named by the TSS when a CALL targets a more privileged non-conforming
// segment.
func (c *CPU_X86) callGate(g *x86Segment, call bool) {
	gsel := uint32(g.Selector & 0xFFFC)
	if g.DPL < c.cpl || g.DPL < uint8(g.Selector&3) {
		x86RaiseGP(gsel)
	}
	if !g.Present {
		x86RaiseNP(gsel)
	}
	tsel := g.Target
	if tsel&0xFFFC == 0 {
		x86RaiseGP(0)
	}
	d := c.fetchDescriptor(tsel, x86VecGP)
	b := d.Kind.behavior()
	if !d.Kind.isCode() || d.DPL > c.cpl {
		x86RaiseGP(uint32(tsel & 0xFFFC))
	}
	if !d.Present {
		x86RaiseNP(uint32(tsel & 0xFFFC))
	}
	gate32 := g.Kind.behavior().is32
	off := g.Base
	if !gate32 {
		off &= 0xFFFF
	}
	if off > d.Limit {
		x86RaiseGP(0)
	}

	if !call {
		if !b.conforming && d.DPL != c.cpl {
			x86RaiseGP(uint32(tsel & 0xFFFC))
		}
		cpl := c.cpl
		c.setCS(d, cpl)
		c.EIP = off
		return
	}

	if b.conforming || d.DPL == c.cpl {
		c.atomically(func() {
			c.pushV(uint32(c.seg[x86SegCS].Selector), gate32)
			c.pushV(c.EIP, gate32)
			c.setCS(d, c.cpl)
			c.EIP = off
		})
		return
	}

	// More privileged: new stack from the TSS, parameters copied across
	newCPL := d.DPL
	ssSel, esp := c.tssStack(newCPL)
	ss := c.checkStackSegment(ssSel, newCPL, x86VecTS)

	w := uint8(16)
	if gate32 {
		w = 32
	}
	sz := uint32(w / 8)
	oldSP, mask := c.stackPtr(), c.stackMask()
	params := make([]uint32, g.ParamCount)
	for i := range params {
		params[i] = c.readW(w, x86SegSS, (oldSP+uint32(i)*sz)&mask)
	}
	oldSS, oldESP := uint32(c.seg[x86SegSS].Selector), c.ESP
	oldCS, oldEIP := uint32(c.seg[x86SegCS].Selector), c.EIP

	c.atomically(func() {
		c.cpl = newCPL
		c.seg[x86SegSS] = ss
		c.ESP = esp
		if !ss.Big {
			c.ESP &= 0xFFFF
		}
		c.pushV(oldSS, gate32)
		c.pushV(oldESP, gate32)
		for i := len(params) - 1; i >= 0; i-- {
			c.pushV(params[i], gate32)
		}
		c.pushV(oldCS, gate32)
		c.pushV(oldEIP, gate32)
		c.setCS(d, newCPL)
		c.EIP = off
	})
}

// tssStack reads the stack pointer for privilege level pl from the TSS
func (c *CPU_X86) tssStack(pl uint8) (uint16, uint32) {
	tr := &c.TR
	switch tr.Kind {
	case x86SegTSS32, x86SegTSS32Busy:
		o := 4 + uint32(pl)*8
		if o+5 > tr.Limit {
			x86RaiseTS(uint32(tr.Selector & 0xFFFC))
		}
		return c.readSystem16(tr.Base + o + 4), c.readSystem32(tr.Base + o)
	case x86SegTSS16, x86SegTSS16Busy:
		o := 2 + uint32(pl)*4
		if o+3 > tr.Limit {
			x86RaiseTS(uint32(tr.Selector & 0xFFFC))
		}
		return c.readSystem16(tr.Base + o + 2), uint32(c.readSystem16(tr.Base + o))
	}
	x86RaiseTS(uint32(tr.Selector & 0xFFFC))
	return 0, 0
}

// checkStackSegment validates a selector about to become SS at privilege
// pl. Type and privilege violations raise vec.
func (c *CPU_X86) checkStackSegment(sel uint16, pl uint8, vec byte) x86Segment {
	if sel&0xFFFC == 0 {
		x86RaiseCode(vec, 0)
	}
	d := c.fetchDescriptor(sel, vec)
	if uint8(sel&3) != pl || d.DPL != pl || !d.Kind.isData() || !d.Kind.behavior().writable {
		x86RaiseCode(vec, uint32(sel&0xFFFC))
	}
	if !d.Present {
		x86RaiseSS(uint32(sel & 0xFFFC))
	}
	c.markAccessed(&d)
	return d
}

// =============================================================================
// Far Returns
// =============================================================================

func (c *CPU_X86) opRETF(in *x86Insn) x86Outcome {
	w := in.width()
	sz := uint32(w / 8)
	sp, mask := c.stackPtr(), c.stackMask()
	off := c.readW(w, x86SegSS, sp)
	sel := uint16(c.readW(w, x86SegSS, (sp+sz)&mask))
	release := in.imm & 0xFFFF

	if c.Mode() != X86ModeProtected {
		c.atomically(func() {
			c.loadRealCS(sel)
			c.jumpNear(off)
			c.setStackPtr((sp + 2*sz + release) & mask)
		})
		return x86OutReturn
	}
	c.protectedReturn(sel, off, sp+2*sz, release, w)
	return x86OutReturn
}

// protectedReturn completes a far return to sel:off. next is the stack
// offset just above the popped CS (and EFLAGS for IRET); release is the
// RETF immediate.
func (c *CPU_X86) protectedReturn(sel uint16, off, next, release uint32, w uint8) {
	if sel&0xFFFC == 0 {
		x86RaiseGP(0)
	}
	rpl := uint8(sel & 3)
	code := uint32(sel & 0xFFFC)
	if rpl < c.cpl {
		x86RaiseGP(code)
	}
	d := c.fetchDescriptor(sel, x86VecGP)
	if !d.Kind.isCode() {
		x86RaiseGP(code)
	}
	if d.Kind.behavior().conforming {
		if d.DPL > rpl {
			x86RaiseGP(code)
		}
	} else if d.DPL != rpl {
		x86RaiseGP(code)
	}
	if !d.Present {
		x86RaiseNP(code)
	}
	if off > d.Limit {
		x86RaiseGP(0)
	}

	mask := c.stackMask()
	if rpl == c.cpl {
		c.atomically(func() {
			c.setCS(d, rpl)
			c.EIP = off
			c.setStackPtr((next + release) & mask)
		})
		return
	}

	// Return to an outer level: its SS:ESP sits above the released bytes
	at := (next + release) & mask
	esp := c.readW(w, x86SegSS, at)
	ssSel := uint16(c.readW(w, x86SegSS, (at+uint32(w/8))&mask))
	ss := c.checkStackSegment(ssSel, rpl, x86VecGP)
	c.atomically(func() {
		c.setCS(d, rpl)
		c.EIP = off
		c.seg[x86SegSS] = ss
		if ss.Big {
			c.ESP = esp + release
		} else {
			c.SetSP(uint16(esp + release))
		}
		c.invalidateDataSegments()
	})
}

// =============================================================================
// Interrupts
// =============================================================================

// mergedFlags returns EFLAGS with v written into the bits the current
// privilege level may change (POPF, IRET)
func (c *CPU_X86) mergedFlags(v uint32, op32 bool) uint32 {
	old := c.readFlags()
	mask := uint32(x86FlagsArith | x86FlagTF | x86FlagDF | x86FlagNT)
	if op32 {
		mask |= x86FlagAC | x86FlagID
	}
	if c.CPL() == 0 {
		mask |= x86FlagIOPL
	}
	if c.CPL() <= c.iopl() {
		mask |= x86FlagIF
	}
	if !op32 {
		mask &= 0xFFFF
	}
	return old&^mask | v&mask
}

func (c *CPU_X86) opINT(in *x86Insn) x86Outcome {
	if c.Mode() == X86ModeVirtual8086 && c.iopl() < 3 {
		x86RaiseGP(0)
	}
	x86RaiseTrap(byte(in.imm), x86EventSoftware)
	return x86OutException
}

func (c *CPU_X86) opINT3(in *x86Insn) x86Outcome {
	x86RaiseTrap(x86VecBP, x86EventSoftware)
	return x86OutException
}

func (c *CPU_X86) opINTO(in *x86Insn) x86Outcome {
	if c.OF() {
		x86RaiseTrap(x86VecOF, x86EventSoftware)
	}
	return x86OutNext
}

func (c *CPU_X86) opINT1(in *x86Insn) x86Outcome {
	x86RaiseTrap(x86VecDB, x86EventTrap)
	return x86OutException
}

func (c *CPU_X86) opIRET(in *x86Insn) x86Outcome {
	w := in.width()
	sz := uint32(w / 8)
	sp, mask := c.stackPtr(), c.stackMask()
	mode := c.Mode()

	if mode == X86ModeVirtual8086 && c.iopl() < 3 {
		x86RaiseGP(0)
	}
	if mode == X86ModeProtected && c.Flags&x86FlagNT != 0 {
		x86RaiseUnimplemented("task return (IRET with NT set)")
	}

	off := c.readW(w, x86SegSS, sp)
	sel := uint16(c.readW(w, x86SegSS, (sp+sz)&mask))
	fl := c.readW(w, x86SegSS, (sp+2*sz)&mask)

	if mode != X86ModeProtected {
		flags := c.mergedFlags(fl, in.op32)
		c.atomically(func() {
			c.loadRealCS(sel)
			c.jumpNear(off)
			c.setStackPtr((sp + 3*sz) & mask)
		})
		c.writeFlags(flags)
		return x86OutReturn
	}

	if in.op32 && fl&x86FlagVM != 0 && c.cpl == 0 {
		c.iretToV86(sp, off, sel, fl)
		return x86OutModeSwitch
	}

	flags := c.mergedFlags(fl, in.op32)
	c.protectedReturn(sel, off, sp+3*sz, 0, w)
	c.writeFlags(flags)
	return x86OutReturn
}

// iretToV86 resumes a virtual-8086 task from a 32-bit ring 0 IRET frame:
// EIP, CS, EFLAGS, ESP, SS, ES, DS, FS, GS.
func (c *CPU_X86) iretToV86(sp, off uint32, sel uint16, fl uint32) {
	mask := c.stackMask()
	var v [6]uint32
	for i := range v {
		v[i] = c.readW(32, x86SegSS, (sp+12+uint32(i)*4)&mask)
	}
	c.writeFlags(fl)
	c.cpl = 3
	c.loadRealCS(sel)
	c.EIP = off & 0xFFFF
	c.ESP = v[0]
	c.loadSegment(x86SegSS, uint16(v[1]))
	c.loadSegment(x86SegES, uint16(v[2]))
	c.loadSegment(x86SegDS, uint16(v[3]))
	c.loadSegment(x86SegFS, uint16(v[4]))
	c.loadSegment(x86SegGS, uint16(v[5]))
}
