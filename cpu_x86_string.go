// cpu_x86_string.go - String instructions
//
// MOVS, CMPS, STOS, LODS, SCAS, INS and OUTS with REP/REPE/REPNE. Each
// iteration is restartable on its own: its store happens before the index
// and count registers move. A long repeat runs in chunks; when a chunk
// ends with work left the instruction rewinds EIP to itself so the engine
// gets a chance to take interrupts between chunks.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// Iterations executed per dispatch of a repeated string instruction
const x86RepChunk = 4096

func (c *CPU_X86) strIndex(in *x86Insn, reg byte) uint32 {
	v := c.getReg32(reg)
	if !in.addr32 {
		v &= 0xFFFF
	}
	return v
}

func (c *CPU_X86) strAdvance(in *x86Insn, reg byte, w uint8) {
	d := uint32(w / 8)
	if c.DF() {
		d = -d
	}
	v := c.getReg32(reg) + d
	if in.addr32 {
		c.setReg32(reg, v)
	} else {
		c.setReg16(reg, uint16(v))
	}
}

func (c *CPU_X86) strCount(in *x86Insn) uint32 {
	return c.strIndex(in, 1)
}

func (c *CPU_X86) setStrCount(in *x86Insn, v uint32) {
	if in.addr32 {
		c.ECX = v
	} else {
		c.SetCX(uint16(v))
	}
}

// rewind points EIP back at the instruction that is executing
func (c *CPU_X86) rewind(in *x86Insn) {
	c.EIP -= uint32(in.length)
	if !c.seg[x86SegCS].Big {
		c.EIP &= 0xFFFF
	}
}

// repeat drives step under the instruction's repeat prefix. step performs
// one iteration and reports whether a REPE/REPNE condition allows another.
func (c *CPU_X86) repeat(in *x86Insn, step func() bool) x86Outcome {
	if in.rep == 0 {
		step()
		return x86OutNext
	}
	for i := 0; i < x86RepChunk; i++ {
		n := c.strCount(in)
		if n == 0 {
			return x86OutNext
		}
		more := step()
		c.setStrCount(in, n-1)
		if !more || n == 1 {
			return x86OutNext
		}
	}
	c.rewind(in)
	return x86OutBranch
}

// compareGoesOn applies the REPE/REPNE termination condition
func (c *CPU_X86) compareGoesOn(in *x86Insn) bool {
	switch in.rep {
	case 1:
		return c.ZF()
	case 2:
		return !c.ZF()
	}
	return true
}

func (c *CPU_X86) opMOVS(in *x86Insn) x86Outcome {
	w := in.width()
	return c.repeat(in, func() bool {
		v := c.readW(w, in.segment(), c.strIndex(in, 6))
		c.writeW(w, x86SegES, c.strIndex(in, 7), v)
		c.strAdvance(in, 6, w)
		c.strAdvance(in, 7, w)
		return true
	})
}

func (c *CPU_X86) opCMPS(in *x86Insn) x86Outcome {
	w := in.width()
	return c.repeat(in, func() bool {
		a := c.readW(w, in.segment(), c.strIndex(in, 6))
		b := c.readW(w, x86SegES, c.strIndex(in, 7))
		_, f := c.alu(x86ALUCmp, w, a, b)
		c.lazy = f
		c.strAdvance(in, 6, w)
		c.strAdvance(in, 7, w)
		return c.compareGoesOn(in)
	})
}

func (c *CPU_X86) opSTOS(in *x86Insn) x86Outcome {
	w := in.width()
	return c.repeat(in, func() bool {
		c.writeW(w, x86SegES, c.strIndex(in, 7), c.getReg(w, 0))
		c.strAdvance(in, 7, w)
		return true
	})
}

func (c *CPU_X86) opLODS(in *x86Insn) x86Outcome {
	w := in.width()
	return c.repeat(in, func() bool {
		c.setReg(w, 0, c.readW(w, in.segment(), c.strIndex(in, 6)))
		c.strAdvance(in, 6, w)
		return true
	})
}

func (c *CPU_X86) opSCAS(in *x86Insn) x86Outcome {
	w := in.width()
	return c.repeat(in, func() bool {
		b := c.readW(w, x86SegES, c.strIndex(in, 7))
		_, f := c.alu(x86ALUCmp, w, c.getReg(w, 0), b)
		c.lazy = f
		c.strAdvance(in, 7, w)
		return c.compareGoesOn(in)
	})
}

func (c *CPU_X86) opINS(in *x86Insn) x86Outcome {
	w := in.width()
	port := c.DX()
	c.checkIO(port, uint32(w/8))
	return c.repeat(in, func() bool {
		di := c.strIndex(in, 7)
		c.checkWrite(x86SegES, di, uint32(w/8))
		c.writeW(w, x86SegES, di, c.portIn(w, port))
		c.strAdvance(in, 7, w)
		return true
	})
}

func (c *CPU_X86) opOUTS(in *x86Insn) x86Outcome {
	w := in.width()
	port := c.DX()
	c.checkIO(port, uint32(w/8))
	return c.repeat(in, func() bool {
		c.portOut(w, port, c.readW(w, in.segment(), c.strIndex(in, 6)))
		c.strAdvance(in, 6, w)
		return true
	})
}
