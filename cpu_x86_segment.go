// cpu_x86_segment.go - Segment descriptors and segment-level translation
//
// Every segment register carries the decoded descriptor it was loaded
// with. Descriptor types form a closed catalog (x86SegKind); what an
// access may do is looked up in a behaviour table indexed by kind rather
// than re-derived from the type bits on every access.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "fmt"

type x86SegKind uint8

const (
	x86SegNull x86SegKind = iota // unusable (null selector in protected mode)
	x86SegReal                   // real / virtual-8086 segment

	// Code and data: declaration order follows descriptor type 0-15.
	x86SegDataRO
	x86SegDataROA
	x86SegDataRW
	x86SegDataRWA
	x86SegDataRODown
	x86SegDataRODownA
	x86SegDataRWDown
	x86SegDataRWDownA
	x86SegCodeX
	x86SegCodeXA
	x86SegCodeXR
	x86SegCodeXRA
	x86SegCodeXC
	x86SegCodeXCA
	x86SegCodeXRC
	x86SegCodeXRCA

	// System descriptors
	x86SegTSS16
	x86SegLDT
	x86SegTSS16Busy
	x86SegCallGate16
	x86SegTaskGate
	x86SegIntGate16
	x86SegTrapGate16
	x86SegTSS32
	x86SegTSS32Busy
	x86SegCallGate32
	x86SegIntGate32
	x86SegTrapGate32
	x86SegReserved

	x86SegKindCount
)

type x86SegBehavior struct {
	name       string
	readable   bool
	writable   bool
	executable bool
	expandDown bool
	conforming bool
	system     bool
	gate       bool
	is32       bool // 32-bit TSS or gate
}

var x86SegBehaviors = [x86SegKindCount]x86SegBehavior{
	x86SegNull:        {name: "null"},
	x86SegReal:        {name: "real", readable: true, writable: true, executable: true},
	x86SegDataRO:      {name: "data-ro", readable: true},
	x86SegDataROA:     {name: "data-ro-a", readable: true},
	x86SegDataRW:      {name: "data-rw", readable: true, writable: true},
	x86SegDataRWA:     {name: "data-rw-a", readable: true, writable: true},
	x86SegDataRODown:  {name: "data-ro-ed", readable: true, expandDown: true},
	x86SegDataRODownA: {name: "data-ro-ed-a", readable: true, expandDown: true},
	x86SegDataRWDown:  {name: "data-rw-ed", readable: true, writable: true, expandDown: true},
	x86SegDataRWDownA: {name: "data-rw-ed-a", readable: true, writable: true, expandDown: true},
	x86SegCodeX:       {name: "code-x", executable: true},
	x86SegCodeXA:      {name: "code-x-a", executable: true},
	x86SegCodeXR:      {name: "code-xr", executable: true, readable: true},
	x86SegCodeXRA:     {name: "code-xr-a", executable: true, readable: true},
	x86SegCodeXC:      {name: "code-xc", executable: true, conforming: true},
	x86SegCodeXCA:     {name: "code-xc-a", executable: true, conforming: true},
	x86SegCodeXRC:     {name: "code-xrc", executable: true, readable: true, conforming: true},
	x86SegCodeXRCA:    {name: "code-xrc-a", executable: true, readable: true, conforming: true},
	x86SegTSS16:       {name: "tss16", system: true},
	x86SegLDT:         {name: "ldt", system: true},
	x86SegTSS16Busy:   {name: "tss16-busy", system: true},
	x86SegCallGate16:  {name: "callgate16", system: true, gate: true},
	x86SegTaskGate:    {name: "taskgate", system: true, gate: true},
	x86SegIntGate16:   {name: "intgate16", system: true, gate: true},
	x86SegTrapGate16:  {name: "trapgate16", system: true, gate: true},
	x86SegTSS32:       {name: "tss32", system: true, is32: true},
	x86SegTSS32Busy:   {name: "tss32-busy", system: true, is32: true},
	x86SegCallGate32:  {name: "callgate32", system: true, gate: true, is32: true},
	x86SegIntGate32:   {name: "intgate32", system: true, gate: true, is32: true},
	x86SegTrapGate32:  {name: "trapgate32", system: true, gate: true, is32: true},
	x86SegReserved:    {name: "reserved", system: true},
}

func (k x86SegKind) behavior() *x86SegBehavior {
	if k >= x86SegKindCount {
		x86Defect("segment kind %d", k)
	}
	return &x86SegBehaviors[k]
}

func (k x86SegKind) String() string { return k.behavior().name }

func (k x86SegKind) isCode() bool {
	return k >= x86SegCodeX && k <= x86SegCodeXRCA
}

func (k x86SegKind) isData() bool {
	return k >= x86SegDataRO && k <= x86SegDataRWDownA
}

// x86Segment is a segment register (or a decoded descriptor). For gates,
// Base holds the target offset and Target the target selector.
type x86Segment struct {
	Selector uint16
	Base     uint32
	Limit    uint32 // byte granular, already scaled when G=1
	Kind     x86SegKind
	DPL      uint8
	Present  bool
	Big      bool // D/B bit
	Granular bool

	Target     uint16
	ParamCount uint8

	Raw uint64 // descriptor as read from the table
}

func (s *x86Segment) String() string {
	return fmt.Sprintf("%04X base=%08X limit=%08X %s dpl=%d", s.Selector, s.Base, s.Limit, s.Kind, s.DPL)
}

// x86RealSegment builds the segment real mode and virtual-8086 mode use
func x86RealSegment(sel uint16) x86Segment {
	return x86Segment{
		Selector: sel,
		Base:     uint32(sel) << 4,
		Limit:    0xFFFF,
		Kind:     x86SegReal,
		Present:  true,
	}
}

// x86DecodeDescriptor decodes an 8-byte GDT/LDT/IDT entry
func x86DecodeDescriptor(sel uint16, raw uint64) x86Segment {
	lo := uint32(raw)
	hi := uint32(raw >> 32)
	access := byte(hi >> 8)
	typ := access & 0xF

	s := x86Segment{
		Selector: sel,
		DPL:      (access >> 5) & 3,
		Present:  access&0x80 != 0,
		Raw:      raw,
	}

	if access&0x10 != 0 {
		s.Kind = x86SegDataRO + x86SegKind(typ)
	} else {
		switch typ {
		case 1:
			s.Kind = x86SegTSS16
		case 2:
			s.Kind = x86SegLDT
		case 3:
			s.Kind = x86SegTSS16Busy
		case 4:
			s.Kind = x86SegCallGate16
		case 5:
			s.Kind = x86SegTaskGate
		case 6:
			s.Kind = x86SegIntGate16
		case 7:
			s.Kind = x86SegTrapGate16
		case 9:
			s.Kind = x86SegTSS32
		case 11:
			s.Kind = x86SegTSS32Busy
		case 12:
			s.Kind = x86SegCallGate32
		case 14:
			s.Kind = x86SegIntGate32
		case 15:
			s.Kind = x86SegTrapGate32
		default:
			s.Kind = x86SegReserved
		}
	}

	if s.Kind.behavior().gate {
		s.Base = (lo & 0xFFFF) | (hi & 0xFFFF0000)
		s.Target = uint16(lo >> 16)
		s.ParamCount = byte(hi & 0x1F)
		return s
	}

	s.Base = (lo >> 16) | (hi&0xFF)<<16 | (hi & 0xFF000000)
	s.Limit = (lo & 0xFFFF) | (hi & 0x000F0000)
	s.Granular = hi&(1<<23) != 0
	s.Big = hi&(1<<22) != 0
	if s.Granular {
		s.Limit = s.Limit<<12 | 0xFFF
	}
	return s
}

// x86EncodeDescriptor packs a code/data/system descriptor. Used by tests and
// the monitor to build tables in guest memory.
func x86EncodeDescriptor(base, limit uint32, access byte, flags byte) uint64 {
	if limit > 0xFFFFF {
		limit >>= 12
		flags |= 0x8
	}
	lo := (base&0xFFFF)<<16 | limit&0xFFFF
	hi := (base>>16)&0xFF | uint32(access)<<8 | limit&0xF0000 | uint32(flags&0xF)<<20 | base&0xFF000000
	return uint64(hi)<<32 | uint64(lo)
}

// x86EncodeGate packs an interrupt, trap or call gate
func x86EncodeGate(sel uint16, off uint32, access byte) uint64 {
	lo := uint32(sel)<<16 | off&0xFFFF
	hi := off&0xFFFF0000 | uint32(access)<<8
	return uint64(hi)<<32 | uint64(lo)
}

// -----------------------------------------------------------------------------
// Access checks
// -----------------------------------------------------------------------------

type x86Access uint8

const (
	x86AccessRead x86Access = iota
	x86AccessWrite
	x86AccessExec
)

// segFault raises the fault appropriate to the segment: stack faults for SS
func segFault(seg int) {
	if seg == x86SegSS {
		x86RaiseSS(0)
	}
	x86RaiseGP(0)
}

// segAddr checks an access of size bytes at off against the segment's type
// and limit, and returns the linear address.
func (c *CPU_X86) segAddr(seg int, off uint32, size uint32, acc x86Access) uint32 {
	s := &c.seg[seg]
	b := s.Kind.behavior()

	switch acc {
	case x86AccessRead:
		if !b.readable {
			segFault(seg)
		}
	case x86AccessWrite:
		if !b.writable {
			segFault(seg)
		}
	case x86AccessExec:
		if !b.executable {
			segFault(seg)
		}
	}

	last := uint64(off) + uint64(size) - 1
	if b.expandDown {
		upper := uint64(0xFFFF)
		if s.Big {
			upper = 0xFFFFFFFF
		}
		if off <= s.Limit || last > upper {
			segFault(seg)
		}
	} else if last > uint64(s.Limit) {
		segFault(seg)
	}
	return s.Base + off
}

// -----------------------------------------------------------------------------
// Descriptor tables
// -----------------------------------------------------------------------------

// descriptorAddr returns the linear address of a selector's descriptor
func (c *CPU_X86) descriptorAddr(sel uint16) (uint32, bool) {
	idx := uint32(sel &^ 7)
	if sel&4 != 0 {
		if c.LDTR.Kind != x86SegLDT || idx+7 > c.LDTR.Limit {
			return 0, false
		}
		return c.LDTR.Base + idx, true
	}
	if idx+7 > uint32(c.GDTR.Limit) {
		return 0, false
	}
	return c.GDTR.Base + idx, true
}

// fetchDescriptor reads and decodes a descriptor, raising vec(sel) when the
// selector points outside its table.
func (c *CPU_X86) fetchDescriptor(sel uint16, vec byte) x86Segment {
	addr, ok := c.descriptorAddr(sel)
	if !ok {
		x86RaiseCode(vec, uint32(sel&0xFFFC))
	}
	return x86DecodeDescriptor(sel, c.readSystem64(addr))
}

// markAccessed sets the accessed bit of a code/data descriptor
func (c *CPU_X86) markAccessed(s *x86Segment) {
	if (s.Raw>>40)&1 != 0 {
		return
	}
	addr, ok := c.descriptorAddr(s.Selector)
	if !ok {
		return
	}
	access := c.readSystem8(addr+5) | 1
	c.writeSystem8(addr+5, access)
	s.Raw |= 1 << 40
	if s.Kind.isCode() || s.Kind.isData() {
		s.Kind = x86SegDataRO + x86SegKind((s.Raw>>40)&0xF)
	}
}

// -----------------------------------------------------------------------------
// Segment register loads
// -----------------------------------------------------------------------------

// loadSegment loads a data or stack segment register (not CS)
func (c *CPU_X86) loadSegment(seg int, sel uint16) {
	switch c.Mode() {
	case X86ModeReal:
		s := &c.seg[seg]
		s.Selector = sel
		s.Base = uint32(sel) << 4
		if s.Kind == x86SegNull {
			*s = x86RealSegment(sel)
		}
		return
	case X86ModeVirtual8086:
		c.seg[seg] = x86RealSegment(sel)
		c.seg[seg].DPL = 3
		return
	}

	if seg == x86SegCS {
		x86Defect("loadSegment used for CS")
	}

	cpl := c.cpl
	rpl := uint8(sel & 3)

	if sel&0xFFFC == 0 {
		if seg == x86SegSS {
			x86RaiseGP(0)
		}
		c.seg[seg] = x86Segment{Selector: sel}
		return
	}

	d := c.fetchDescriptor(sel, x86VecGP)
	b := d.Kind.behavior()

	if seg == x86SegSS {
		if rpl != cpl || !d.Kind.isData() || !b.writable || d.DPL != cpl {
			x86RaiseGP(uint32(sel & 0xFFFC))
		}
		if !d.Present {
			x86RaiseSS(uint32(sel & 0xFFFC))
		}
	} else {
		if !b.readable || b.system {
			x86RaiseGP(uint32(sel & 0xFFFC))
		}
		// Non-conforming code and all data need DPL >= max(CPL, RPL).
		if !b.conforming && (d.DPL < cpl || d.DPL < rpl) {
			x86RaiseGP(uint32(sel & 0xFFFC))
		}
		if !d.Present {
			x86RaiseNP(uint32(sel & 0xFFFC))
		}
	}

	c.markAccessed(&d)
	c.seg[seg] = d
}

// setCS installs a code segment for a control transfer at privilege cpl
func (c *CPU_X86) setCS(d x86Segment, cpl uint8) {
	d.Selector = d.Selector&^3 | uint16(cpl)
	c.markAccessed(&d)
	c.seg[x86SegCS] = d
	c.cpl = cpl
}

// loadRealCS loads CS the real/virtual-8086 way
func (c *CPU_X86) loadRealCS(sel uint16) {
	if c.Mode() == X86ModeVirtual8086 {
		c.seg[x86SegCS] = x86RealSegment(sel)
		c.seg[x86SegCS].DPL = 3
		return
	}
	s := &c.seg[x86SegCS]
	s.Selector = sel
	s.Base = uint32(sel) << 4
	if !s.Kind.behavior().executable {
		*s = x86RealSegment(sel)
	}
}

// checkCodeTarget validates a code segment descriptor for a direct far
// JMP or CALL and returns the privilege level it will run at.
func (c *CPU_X86) checkCodeTarget(d *x86Segment) uint8 {
	sel := d.Selector
	rpl := uint8(sel & 3)
	b := d.Kind.behavior()
	if !d.Kind.isCode() {
		x86RaiseGP(uint32(sel & 0xFFFC))
	}
	if b.conforming {
		if d.DPL > c.cpl {
			x86RaiseGP(uint32(sel & 0xFFFC))
		}
	} else if rpl > c.cpl || d.DPL != c.cpl {
		x86RaiseGP(uint32(sel & 0xFFFC))
	}
	if !d.Present {
		x86RaiseNP(uint32(sel & 0xFFFC))
	}
	return c.cpl
}

// invalidateDataSegments nulls data segments the new (outer) privilege level
// may not use after a return.
func (c *CPU_X86) invalidateDataSegments() {
	for _, i := range []int{x86SegES, x86SegDS, x86SegFS, x86SegGS} {
		s := &c.seg[i]
		b := s.Kind.behavior()
		if s.Kind == x86SegNull {
			continue
		}
		if (s.Kind.isData() || !b.conforming) && s.DPL < c.cpl {
			*s = x86Segment{}
		}
	}
}
