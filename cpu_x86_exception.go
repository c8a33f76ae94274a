// cpu_x86_exception.go - Interrupt and exception delivery
//
// Real mode vectors through the interrupt vector table and pushes FLAGS,
// CS and IP. Protected and virtual-8086 modes vector through interrupt or
// trap gates in the IDT; a gate leading to a more privileged code segment
// switches to the stack named in the TSS, and leaving virtual-8086 mode
// additionally saves and nulls the data segment registers.
//
// The return address is whatever EIP holds at delivery: the block runner
// leaves it on the faulting instruction for faults and after the
// instruction for traps and software interrupts.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// deliver vectors an event through the table for the current mode
func (c *CPU_X86) deliver(f *x86Fault) {
	if c.Mode() == X86ModeReal {
		c.interruptReal(f.Vector)
	} else {
		c.interruptProtected(f)
	}
	c.Halted = false
}

func (c *CPU_X86) interruptReal(vec byte) {
	o := uint32(vec) * 4
	if o+3 > uint32(c.IDTR.Limit) {
		x86RaiseGP(0)
	}
	off := c.readSystem16(c.IDTR.Base + o)
	sel := c.readSystem16(c.IDTR.Base + o + 2)
	flags := c.readFlags()
	c.atomically(func() {
		c.push16(uint16(flags))
		c.push16(c.seg[x86SegCS].Selector)
		c.push16(uint16(c.EIP))
		c.Flags &^= x86FlagIF | x86FlagTF | x86FlagAC
		c.loadRealCS(sel)
	})
	c.EIP = uint32(off)
}

func (c *CPU_X86) interruptProtected(f *x86Fault) {
	vec := f.Vector
	var ext uint32
	if f.Kind != x86EventSoftware {
		ext = 1
	}
	idx := uint32(vec) * 8
	gateErr := idx | 2 | ext
	if idx+7 > uint32(c.IDTR.Limit) {
		x86RaiseGP(gateErr)
	}
	g := x86DecodeDescriptor(0, c.readSystem64(c.IDTR.Base+idx))
	switch g.Kind {
	case x86SegIntGate16, x86SegIntGate32, x86SegTrapGate16, x86SegTrapGate32:
	case x86SegTaskGate:
		x86RaiseUnimplemented("task switch through IDT")
	default:
		x86RaiseGP(gateErr)
	}
	if f.Kind == x86EventSoftware && g.DPL < c.CPL() {
		x86RaiseGP(idx | 2)
	}
	if !g.Present {
		x86RaiseNP(gateErr)
	}

	tsel := g.Target
	if tsel&0xFFFC == 0 {
		x86RaiseGP(ext)
	}
	d := c.fetchDescriptor(tsel, x86VecGP)
	if !d.Kind.isCode() || d.DPL > c.CPL() {
		x86RaiseGP(uint32(tsel&0xFFFC) | ext)
	}
	if !d.Present {
		x86RaiseNP(uint32(tsel&0xFFFC) | ext)
	}
	gate32 := g.Kind.behavior().is32
	off := g.Base
	if !gate32 {
		off &= 0xFFFF
	}
	if off > d.Limit {
		x86RaiseGP(ext)
	}

	v86 := c.Mode() == X86ModeVirtual8086
	inner := !d.Kind.behavior().conforming && d.DPL < c.CPL()
	if v86 && (!inner || d.DPL != 0) {
		x86RaiseGP(uint32(tsel&0xFFFC) | ext)
	}

	flags := c.readFlags()
	oldCS, oldEIP := uint32(c.seg[x86SegCS].Selector), c.EIP
	drop := uint32(x86FlagTF | x86FlagNT | x86FlagVM | x86FlagRF)
	if g.Kind == x86SegIntGate16 || g.Kind == x86SegIntGate32 {
		drop |= x86FlagIF
	}

	if !inner {
		c.atomically(func() {
			c.pushV(flags, gate32)
			c.pushV(oldCS, gate32)
			c.pushV(oldEIP, gate32)
			if f.HasError {
				c.pushV(f.ErrorCode, gate32)
			}
			c.setCS(d, c.cpl)
			c.Flags &^= drop
		})
		c.EIP = off
		return
	}

	newCPL := d.DPL
	ssSel, esp := c.tssStack(newCPL)
	ss := c.checkStackSegment(ssSel, newCPL, x86VecTS)
	oldSS, oldESP := uint32(c.seg[x86SegSS].Selector), c.ESP
	var dataSegs [4]uint32
	for i, s := range []int{x86SegES, x86SegDS, x86SegFS, x86SegGS} {
		dataSegs[i] = uint32(c.seg[s].Selector)
	}

	c.atomically(func() {
		c.Flags &^= x86FlagVM
		c.cpl = newCPL
		c.seg[x86SegSS] = ss
		c.ESP = esp
		if !ss.Big {
			c.ESP &= 0xFFFF
		}
		if v86 {
			for i := len(dataSegs) - 1; i >= 0; i-- {
				c.pushV(dataSegs[i], gate32)
			}
		}
		c.pushV(oldSS, gate32)
		c.pushV(oldESP, gate32)
		c.pushV(flags, gate32)
		c.pushV(oldCS, gate32)
		c.pushV(oldEIP, gate32)
		if f.HasError {
			c.pushV(f.ErrorCode, gate32)
		}
		if v86 {
			for _, s := range []int{x86SegES, x86SegDS, x86SegFS, x86SegGS} {
				c.seg[s] = x86Segment{}
			}
		}
		c.setCS(d, newCPL)
		c.Flags &^= drop
	})
	c.EIP = off
}

// x86DoubleFaults reports whether second, raised while delivering first,
// escalates to a double fault.
func x86DoubleFaults(first, second *x86Fault) bool {
	if second.Kind != x86EventFault || (!second.contributory() && second.Vector != x86VecPF) {
		return false
	}
	if first.Kind == x86EventFault && first.Vector == x86VecPF {
		return true
	}
	return first.contributory() && second.contributory()
}
