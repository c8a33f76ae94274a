// cpu_x86_system.go - System and privileged instructions
//
// Port I/O with the TSS permission bitmap, interrupt flag control,
// control/debug register moves, descriptor table registers and the
// protected-mode descriptor inspection instructions.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// requireRing0 raises #GP(0) unless the CPU runs at privilege 0 (real mode
// always does)
func (c *CPU_X86) requireRing0() {
	if c.CPL() != 0 {
		x86RaiseGP(0)
	}
}

// requireProtected raises #UD outside protected mode
func (c *CPU_X86) requireProtected() {
	if c.Mode() != X86ModeProtected {
		x86RaiseUD()
	}
}

// =============================================================================
// Port I/O
// =============================================================================

// checkIO enforces I/O privilege: in protected mode with CPL > IOPL and in
// virtual-8086 mode every port of the access must be clear in the TSS
// permission bitmap.
func (c *CPU_X86) checkIO(port uint16, size uint32) {
	switch c.Mode() {
	case X86ModeReal:
		return
	case X86ModeProtected:
		if c.cpl <= c.iopl() {
			return
		}
	}
	tr := &c.TR
	if (tr.Kind != x86SegTSS32 && tr.Kind != x86SegTSS32Busy) || tr.Limit < 0x67 {
		x86RaiseGP(0)
	}
	bitmap := uint32(c.readSystem16(tr.Base + 0x66))
	at := bitmap + uint32(port)/8
	if at+1 > tr.Limit {
		x86RaiseGP(0)
	}
	bits := uint32(c.readSystem16(tr.Base + at))
	mask := (uint32(1)<<size - 1) << (port & 7)
	if bits&mask != 0 {
		x86RaiseGP(0)
	}
}

func (c *CPU_X86) portIn(w uint8, port uint16) uint32 {
	if c.io == nil {
		return x86WidthMask(w)
	}
	switch w {
	case 8:
		return uint32(c.io.In8(port))
	case 16:
		return uint32(c.io.In16(port))
	}
	return c.io.In32(port)
}

func (c *CPU_X86) portOut(w uint8, port uint16, v uint32) {
	if c.io == nil {
		return
	}
	switch w {
	case 8:
		c.io.Out8(port, byte(v))
	case 16:
		c.io.Out16(port, uint16(v))
	default:
		c.io.Out32(port, v)
	}
}

func (c *CPU_X86) ioPort(in *x86Insn) uint16 {
	if in.op.aux == x86PortDX {
		return c.DX()
	}
	return uint16(in.imm & 0xFF)
}

func (c *CPU_X86) opIN(in *x86Insn) x86Outcome {
	w := in.width()
	port := c.ioPort(in)
	c.checkIO(port, uint32(w/8))
	c.setReg(w, 0, c.portIn(w, port))
	return x86OutNext
}

func (c *CPU_X86) opOUT(in *x86Insn) x86Outcome {
	w := in.width()
	port := c.ioPort(in)
	c.checkIO(port, uint32(w/8))
	c.portOut(w, port, c.getReg(w, 0))
	return x86OutNext
}

// =============================================================================
// Interrupt Flag and EFLAGS Transfer
// =============================================================================

func (c *CPU_X86) opHLT(in *x86Insn) x86Outcome {
	c.requireRing0()
	c.Halted = true
	return x86OutHalt
}

// checkIF raises #GP(0) when the current privilege may not change IF
func (c *CPU_X86) checkIF() {
	switch c.Mode() {
	case X86ModeProtected:
		if c.cpl > c.iopl() {
			x86RaiseGP(0)
		}
	case X86ModeVirtual8086:
		if c.iopl() < 3 {
			x86RaiseGP(0)
		}
	}
}

func (c *CPU_X86) opCLI(in *x86Insn) x86Outcome {
	c.checkIF()
	c.Flags &^= x86FlagIF
	return x86OutNext
}

// STI holds off interrupts until after the next instruction
func (c *CPU_X86) opSTI(in *x86Insn) x86Outcome {
	c.checkIF()
	if c.Flags&x86FlagIF == 0 {
		c.Flags |= x86FlagIF
		c.irqShadow = true
	}
	return x86OutNext
}

func (c *CPU_X86) opPUSHF(in *x86Insn) x86Outcome {
	if c.Mode() == X86ModeVirtual8086 && c.iopl() < 3 {
		x86RaiseGP(0)
	}
	c.pushV(c.readFlags()&^(x86FlagVM|x86FlagRF), in.op32)
	return x86OutNext
}

func (c *CPU_X86) opPOPF(in *x86Insn) x86Outcome {
	if c.Mode() == X86ModeVirtual8086 && c.iopl() < 3 {
		x86RaiseGP(0)
	}
	v := c.peekV(0, in.op32)
	flags := c.mergedFlags(v, in.op32) &^ x86FlagRF
	c.setStackPtr((c.stackPtr() + uint32(in.width()/8)) & c.stackMask())
	c.writeFlags(flags)
	return x86OutNext
}

func (c *CPU_X86) opWAIT(in *x86Insn) x86Outcome {
	if c.CR0&(x86CR0MP|x86CR0TS) == x86CR0MP|x86CR0TS {
		x86Raise(x86VecNM)
	}
	return x86OutNext
}

// =============================================================================
// Control and Debug Registers
// =============================================================================

// writeCR0 installs a new CR0 and reports a mode switch when PE or PG changed
func (c *CPU_X86) writeCR0(v uint32) x86Outcome {
	v |= x86CR0ET
	if v&x86CR0PG != 0 && v&x86CR0PE == 0 {
		x86RaiseGP(0)
	}
	old := c.CR0
	c.CR0 = v
	if (old^v)&(x86CR0PG|x86CR0WP) != 0 {
		c.paging.flush()
	}
	if (old^v)&(x86CR0PE|x86CR0PG) != 0 {
		return x86OutModeSwitch
	}
	return x86OutNext
}

func (c *CPU_X86) opMOV_CR(in *x86Insn) x86Outcome {
	c.requireRing0()
	v := c.getReg32(in.rm())
	switch in.reg() {
	case 0:
		return c.writeCR0(v)
	case 2:
		c.CR2 = v
	case 3:
		c.CR3 = v
		c.paging.flush()
	case 4:
		if (c.CR4^v)&x86CR4PSE != 0 {
			c.paging.flush()
		}
		c.CR4 = v
	default:
		x86RaiseUD()
	}
	return x86OutNext
}

func (c *CPU_X86) opMOV_RC(in *x86Insn) x86Outcome {
	c.requireRing0()
	var v uint32
	switch in.reg() {
	case 0:
		v = c.CR0
	case 2:
		v = c.CR2
	case 3:
		v = c.CR3
	case 4:
		v = c.CR4
	default:
		x86RaiseUD()
	}
	c.setReg32(in.rm(), v)
	return x86OutNext
}

// DR4 and DR5 alias DR6 and DR7
func x86DebugReg(n byte) byte {
	if n == 4 || n == 5 {
		return n + 2
	}
	return n
}

func (c *CPU_X86) opMOV_DR(in *x86Insn) x86Outcome {
	c.requireRing0()
	c.DR[x86DebugReg(in.reg())] = c.getReg32(in.rm())
	return x86OutNext
}

func (c *CPU_X86) opMOV_RD(in *x86Insn) x86Outcome {
	c.requireRing0()
	c.setReg32(in.rm(), c.DR[x86DebugReg(in.reg())])
	return x86OutNext
}

func (c *CPU_X86) opCLTS(in *x86Insn) x86Outcome {
	c.requireRing0()
	c.CR0 &^= x86CR0TS
	return x86OutNext
}

// INVD / WBINVD: there is no cache to flush
func (c *CPU_X86) opCacheFlush(in *x86Insn) x86Outcome {
	c.requireRing0()
	return x86OutNext
}

func (c *CPU_X86) opSMSW(in *x86Insn) x86Outcome {
	if in.isMem() {
		c.writeE(in, 16, c.CR0&0xFFFF)
	} else {
		w := in.width()
		c.writeE(in, w, c.CR0&x86WidthMask(w))
	}
	return x86OutNext
}

// LMSW loads the low four CR0 bits; it can set PE but never clear it
func (c *CPU_X86) opLMSW(in *x86Insn) x86Outcome {
	c.requireRing0()
	v := c.readE(in, 16) & 0xF
	return c.writeCR0(c.CR0&^0xE | v)
}

func (c *CPU_X86) opINVLPG(in *x86Insn) x86Outcome {
	c.requireRing0()
	c.paging.invalidate(c.seg[in.segment()].Base + c.ea(in))
	return x86OutNext
}

// =============================================================================
// Descriptor Table Registers
// =============================================================================

// opLxDT loads GDTR (sub 0) or IDTR (sub 1) from a 6-byte pseudo-descriptor
func (c *CPU_X86) opLxDT(in *x86Insn) x86Outcome {
	c.requireRing0()
	seg, off := in.segment(), c.ea(in)
	limit := c.read16(seg, off)
	base := c.read32(seg, off+2)
	if !in.op32 {
		base &= 0xFFFFFF
	}
	r := x86TableReg{Base: base, Limit: limit}
	if in.op.sub == 0 {
		c.GDTR = r
	} else {
		c.IDTR = r
	}
	return x86OutNext
}

func (c *CPU_X86) opSxDT(in *x86Insn) x86Outcome {
	r := c.GDTR
	if in.op.sub == 1 {
		r = c.IDTR
	}
	seg, off := in.segment(), c.ea(in)
	c.checkWrite(seg, off, 6)
	c.write16(seg, off, r.Limit)
	c.write32(seg, off+2, r.Base)
	return x86OutNext
}

func (c *CPU_X86) opSLDT(in *x86Insn) x86Outcome {
	c.requireProtected()
	c.writeSelector(in, c.LDTR.Selector)
	return x86OutNext
}

func (c *CPU_X86) opSTR(in *x86Insn) x86Outcome {
	c.requireProtected()
	c.writeSelector(in, c.TR.Selector)
	return x86OutNext
}

// writeSelector stores a selector: 16 bits to memory, zero-extended to a register
func (c *CPU_X86) writeSelector(in *x86Insn, sel uint16) {
	if in.isMem() {
		c.writeE(in, 16, uint32(sel))
	} else {
		c.writeE(in, in.width(), uint32(sel))
	}
}

func (c *CPU_X86) opLLDT(in *x86Insn) x86Outcome {
	c.requireProtected()
	c.requireRing0()
	sel := uint16(c.readE(in, 16))
	if sel&0xFFFC == 0 {
		c.LDTR = x86Segment{Selector: sel}
		return x86OutNext
	}
	code := uint32(sel & 0xFFFC)
	if sel&4 != 0 {
		x86RaiseGP(code)
	}
	d := c.fetchDescriptor(sel, x86VecGP)
	if d.Kind != x86SegLDT {
		x86RaiseGP(code)
	}
	if !d.Present {
		x86RaiseNP(code)
	}
	c.LDTR = d
	return x86OutNext
}

// opLTR loads the task register and marks the TSS descriptor busy
func (c *CPU_X86) opLTR(in *x86Insn) x86Outcome {
	c.requireProtected()
	c.requireRing0()
	sel := uint16(c.readE(in, 16))
	code := uint32(sel & 0xFFFC)
	if code == 0 {
		x86RaiseGP(0)
	}
	if sel&4 != 0 {
		x86RaiseGP(code)
	}
	d := c.fetchDescriptor(sel, x86VecGP)
	var busy x86SegKind
	switch d.Kind {
	case x86SegTSS16:
		busy = x86SegTSS16Busy
	case x86SegTSS32:
		busy = x86SegTSS32Busy
	default:
		x86RaiseGP(code)
	}
	if !d.Present {
		x86RaiseNP(code)
	}
	addr, _ := c.descriptorAddr(sel)
	c.writeSystem8(addr+5, c.readSystem8(addr+5)|2)
	d.Kind = busy
	d.Raw |= 2 << 40
	c.TR = d
	return x86OutNext
}

// =============================================================================
// Descriptor Inspection (LAR, LSL, VERR, VERW, ARPL)
// =============================================================================

// visibleDescriptor reads a descriptor without faulting; ok is false when
// the selector is null, outside its table, or too privileged to inspect
func (c *CPU_X86) visibleDescriptor(sel uint16) (d x86Segment, ok bool) {
	if sel&0xFFFC == 0 {
		return d, false
	}
	addr, in := c.descriptorAddr(sel)
	if !in {
		return d, false
	}
	d = x86DecodeDescriptor(sel, c.readSystem64(addr))
	if !(d.Kind.isCode() && d.Kind.behavior().conforming) {
		if d.DPL < c.cpl || d.DPL < uint8(sel&3) {
			return d, false
		}
	}
	return d, true
}

func (c *CPU_X86) opLAR(in *x86Insn) x86Outcome {
	c.requireProtected()
	d, ok := c.visibleDescriptor(uint16(c.readE(in, 16)))
	if ok {
		switch d.Kind {
		case x86SegTSS16, x86SegLDT, x86SegTSS16Busy, x86SegCallGate16, x86SegTaskGate,
			x86SegTSS32, x86SegTSS32Busy, x86SegCallGate32:
		default:
			ok = d.Kind.isCode() || d.Kind.isData()
		}
	}
	if ok {
		hi := uint32(d.Raw >> 32)
		w := in.width()
		if w == 32 {
			c.writeG(in, w, hi&0x00FFFF00)
		} else {
			c.writeG(in, w, hi&0xFF00)
		}
	}
	c.setFlag(x86FlagZF, ok)
	return x86OutNext
}

func (c *CPU_X86) opLSL(in *x86Insn) x86Outcome {
	c.requireProtected()
	d, ok := c.visibleDescriptor(uint16(c.readE(in, 16)))
	if ok {
		switch d.Kind {
		case x86SegTSS16, x86SegLDT, x86SegTSS16Busy, x86SegTSS32, x86SegTSS32Busy:
		default:
			ok = d.Kind.isCode() || d.Kind.isData()
		}
	}
	if ok {
		w := in.width()
		c.writeG(in, w, d.Limit&x86WidthMask(w))
	}
	c.setFlag(x86FlagZF, ok)
	return x86OutNext
}

// opVERx implements VERR (sub 0) and VERW (sub 1)
func (c *CPU_X86) opVERx(in *x86Insn) x86Outcome {
	c.requireProtected()
	d, ok := c.visibleDescriptor(uint16(c.readE(in, 16)))
	if ok {
		b := d.Kind.behavior()
		if in.op.sub == 0 {
			ok = (d.Kind.isCode() || d.Kind.isData()) && b.readable
		} else {
			ok = d.Kind.isData() && b.writable
		}
	}
	c.setFlag(x86FlagZF, ok)
	return x86OutNext
}

func (c *CPU_X86) opARPL(in *x86Insn) x86Outcome {
	c.requireProtected()
	dst, src := c.readE(in, 16), c.readG(in, 16)
	if dst&3 < src&3 {
		c.writeE(in, 16, dst&^3|src&3)
		c.setFlag(x86FlagZF, true)
	} else {
		c.setFlag(x86FlagZF, false)
	}
	return x86OutNext
}

// =============================================================================
// Identification and Time Stamp
// =============================================================================

func (c *CPU_X86) opCPUID(in *x86Insn) x86Outcome {
	switch c.EAX {
	case 0:
		c.EAX = 1
		c.EBX = 0x756E6547 // "Genu"
		c.EDX = 0x49656E69 // "ineI"
		c.ECX = 0x6C65746E // "ntel"
	case 1:
		c.EAX = 0x0308
		c.EBX, c.ECX = 0, 0
		c.EDX = 1 << 0 // x87 on chip
	default:
		c.EAX, c.EBX, c.ECX, c.EDX = 0, 0, 0, 0
	}
	return x86OutNext
}

func (c *CPU_X86) opRDTSC(in *x86Insn) x86Outcome {
	if c.CR4&x86CR4TSD != 0 && c.CPL() != 0 {
		x86RaiseGP(0)
	}
	t := c.Instructions
	if c.tsc != nil {
		t = c.tsc()
	}
	c.EAX, c.EDX = uint32(t), uint32(t>>32)
	return x86OutNext
}
