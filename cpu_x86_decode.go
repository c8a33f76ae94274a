// cpu_x86_decode.go - Instruction decoder
//
// Decoding is a pure function of the instruction bytes and the code
// segment's default size. It produces an x86Insn: the opcode's behaviour
// plus everything the encoding fixed at decode time (prefixes, ModR/M
// addressing form, displacement, immediates). Executors never look at
// instruction bytes again.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

const x86MaxInsnLength = 15

type x86ExecFunc func(c *CPU_X86, in *x86Insn) x86Outcome

type x86Flow uint8

const (
	x86FlowNext   x86Flow = iota // execution continues with the next instruction
	x86FlowBranch                // control transfer: ends a block
	x86FlowSystem                // may change mode, paging or interrupt state: ends a block
)

type x86ImmKind uint8

const (
	x86ImmNone  x86ImmKind = iota
	x86ImmB                // 8-bit, zero extended
	x86ImmBS               // 8-bit, sign extended
	x86ImmW                // 16-bit
	x86ImmV                // 16/32-bit by operand size
	x86ImmRelB             // 8-bit displacement
	x86ImmRelV             // 16/32-bit displacement
	x86ImmPtr              // offset (16/32) followed by selector
	x86ImmMoffs            // 16/32-bit offset by address size
)

// x86OpInfo describes one opcode (or one group member)
type x86OpInfo struct {
	name    string
	name32  string // mnemonic when the operand size is 32 bits, if it differs
	args    string // operand template, used for immediates and disassembly
	exec    x86ExecFunc
	flow    x86Flow
	sub     byte // selector within a shared executor (ALU op, condition, register, segment)
	aux     byte
	modrm   bool
	byteOp  bool
	memOnly bool
	regOnly bool // ModR/M always names a register (MOV CRn/DRn)
	unimpl  bool
	imms    []x86ImmKind
	resolve func(modrm byte) *x86OpInfo
}

// x86Insn is a decoded instruction
type x86Insn struct {
	op     *x86OpInfo
	off    uint32 // offset from the first byte of its block
	length uint8
	opcode uint16 // 0x0F-prefixed opcodes are 0x100|byte
	seg    int8   // segment override, -1 if none
	rep    uint8  // 0 none, 1 REP/REPE, 2 REPNE
	lock   bool
	op32   bool
	addr32 bool

	modrm  byte
	base   int8 // base register, -1 if none
	index  int8 // index register, -1 if none
	scale  uint8
	disp   uint32
	defSeg int8 // default segment of the addressing form

	imm  uint32
	imm2 uint32
}

// mnemonic is the instruction name for its operand size
func (in *x86Insn) mnemonic() string {
	if in.op32 && in.op.name32 != "" {
		return in.op.name32
	}
	return in.op.name
}

func (in *x86Insn) mod() byte   { return in.modrm >> 6 }
func (in *x86Insn) reg() byte   { return (in.modrm >> 3) & 7 }
func (in *x86Insn) rm() byte    { return in.modrm & 7 }
func (in *x86Insn) isMem() bool { return in.op.modrm && !in.op.regOnly && in.modrm < 0xC0 }
func (in *x86Insn) segment() int {
	if in.seg >= 0 {
		return int(in.seg)
	}
	return int(in.defSeg)
}

// width is the operand width in bits
func (in *x86Insn) width() uint8 {
	if in.op.byteOp {
		return 8
	}
	if in.op32 {
		return 32
	}
	return 16
}

// x86Stream feeds instruction bytes to the decoder
type x86Stream struct {
	fetch func(off uint32) byte
	pos   uint32
	start uint32
}

func (s *x86Stream) next() byte {
	if s.pos-s.start >= x86MaxInsnLength {
		panic(errX86InsnTooLong)
	}
	b := s.fetch(s.pos)
	s.pos++
	return b
}

func (s *x86Stream) next16() uint16 {
	lo := s.next()
	return uint16(lo) | uint16(s.next())<<8
}

func (s *x86Stream) next32() uint32 {
	lo := s.next16()
	return uint32(lo) | uint32(s.next16())<<16
}

type x86DecodeLimit struct{}

var errX86InsnTooLong = &x86DecodeLimit{}

// x86Decode decodes one instruction at offset eip. big is the code
// segment's default operand/address size. Faults raised by fetch (limit,
// paging) propagate to the caller.
func x86Decode(fetch func(off uint32) byte, eip uint32, big bool) (in x86Insn) {
	s := x86Stream{fetch: fetch, pos: eip, start: eip}
	defer func() {
		if r := recover(); r != nil {
			if r != errX86InsnTooLong {
				panic(r)
			}
			in = x86Insn{op: &x86TooLongOp, seg: -1, base: -1, index: -1, length: x86MaxInsnLength}
		}
	}()

	in.seg, in.base, in.index = -1, -1, -1
	in.defSeg = x86SegDS
	in.op32, in.addr32 = big, big

	var b byte
prefixes:
	for {
		b = s.next()
		switch b {
		case 0x26:
			in.seg = x86SegES
		case 0x2E:
			in.seg = x86SegCS
		case 0x36:
			in.seg = x86SegSS
		case 0x3E:
			in.seg = x86SegDS
		case 0x64:
			in.seg = x86SegFS
		case 0x65:
			in.seg = x86SegGS
		case 0x66:
			in.op32 = !big
		case 0x67:
			in.addr32 = !big
		case 0xF0:
			in.lock = true
		case 0xF2:
			in.rep = 2
		case 0xF3:
			in.rep = 1
		default:
			break prefixes
		}
	}

	op := &x86BaseOps[b]
	in.opcode = uint16(b)
	if b == 0x0F {
		b = s.next()
		op = &x86ExtOps[b]
		in.opcode = 0x100 | uint16(b)
	}

	if op.modrm {
		in.modrm = s.next()
		if op.resolve != nil {
			if sub := op.resolve(in.modrm); sub != nil {
				op = sub
			} else {
				op = &x86InvalidOp
			}
		}
		if in.modrm < 0xC0 && !op.regOnly {
			x86DecodeAddress(&s, &in)
		}
	}
	if op.exec == nil {
		op = &x86InvalidOp
	}
	if op.memOnly && in.modrm >= 0xC0 {
		op = &x86InvalidOp
	}
	in.op = op

	for i, k := range op.imms {
		var v uint32
		switch k {
		case x86ImmB:
			v = uint32(s.next())
		case x86ImmBS, x86ImmRelB:
			v = uint32(int32(int8(s.next())))
		case x86ImmW:
			v = uint32(s.next16())
		case x86ImmV, x86ImmRelV:
			if in.op32 {
				v = s.next32()
			} else if k == x86ImmRelV {
				v = uint32(int32(int16(s.next16())))
			} else {
				v = uint32(s.next16())
			}
		case x86ImmPtr:
			if in.op32 {
				v = s.next32()
			} else {
				v = uint32(s.next16())
			}
			in.imm2 = uint32(s.next16())
		case x86ImmMoffs:
			if in.addr32 {
				v = s.next32()
			} else {
				v = uint32(s.next16())
			}
		}
		if i == 0 {
			in.imm = v
		} else {
			in.imm2 = v
		}
	}

	in.length = uint8(s.pos - s.start)
	return in
}

// 16-bit addressing forms: base/index register pairs for rm 0-7
var x86Addr16 = [8][2]int8{
	{3, 6},  // BX+SI
	{3, 7},  // BX+DI
	{5, 6},  // BP+SI
	{5, 7},  // BP+DI
	{6, -1}, // SI
	{7, -1}, // DI
	{5, -1}, // BP
	{3, -1}, // BX
}

func x86DecodeAddress(s *x86Stream, in *x86Insn) {
	mod := in.modrm >> 6
	rm := in.modrm & 7
	in.defSeg = x86SegDS

	if !in.addr32 {
		if mod == 0 && rm == 6 {
			in.disp = uint32(s.next16())
			return
		}
		in.base, in.index = x86Addr16[rm][0], x86Addr16[rm][1]
		if in.base == 5 {
			in.defSeg = x86SegSS
		}
		switch mod {
		case 1:
			in.disp = uint32(int32(int8(s.next())))
		case 2:
			in.disp = uint32(s.next16())
		}
		return
	}

	if rm == 4 {
		sib := s.next()
		in.scale = sib >> 6
		if idx := (sib >> 3) & 7; idx != 4 {
			in.index = int8(idx)
		}
		base := sib & 7
		if base == 5 && mod == 0 {
			in.disp = s.next32()
		} else {
			in.base = int8(base)
		}
	} else if rm == 5 && mod == 0 {
		in.disp = s.next32()
		return
	} else {
		in.base = int8(rm)
	}
	if in.base == 4 || in.base == 5 {
		in.defSeg = x86SegSS
	}
	switch mod {
	case 1:
		in.disp = uint32(int32(int8(s.next())))
	case 2:
		in.disp = s.next32()
	}
}

// -----------------------------------------------------------------------------
// Operand access
// -----------------------------------------------------------------------------

// ea computes the effective address (offset within the segment)
func (c *CPU_X86) ea(in *x86Insn) uint32 {
	a := in.disp
	if in.base >= 0 {
		a += c.getReg32(byte(in.base))
	}
	if in.index >= 0 {
		a += c.getReg32(byte(in.index)) << in.scale
	}
	if !in.addr32 {
		a &= 0xFFFF
	}
	return a
}

// readE reads the r/m operand at width w
func (c *CPU_X86) readE(in *x86Insn, w uint8) uint32 {
	if !in.isMem() {
		return c.getReg(w, in.rm())
	}
	return c.readW(w, in.segment(), c.ea(in))
}

func (c *CPU_X86) writeE(in *x86Insn, w uint8, v uint32) {
	if !in.isMem() {
		c.setReg(w, in.rm(), v)
		return
	}
	c.writeW(w, in.segment(), c.ea(in), v)
}

// readG reads the register named by ModR/M.reg
func (c *CPU_X86) readG(in *x86Insn, w uint8) uint32 {
	return c.getReg(w, in.reg())
}

func (c *CPU_X86) writeG(in *x86Insn, w uint8, v uint32) {
	c.setReg(w, in.reg(), v)
}

// immW returns the immediate masked to width w
func (in *x86Insn) immW(w uint8) uint32 {
	return in.imm & x86WidthMask(w)
}

// relTarget resolves a relative branch against EIP, which the block runner
// has already advanced past the instruction.
func (c *CPU_X86) relTarget(in *x86Insn) uint32 {
	t := c.EIP + in.imm
	if !in.op32 {
		t &= 0xFFFF
	}
	return t
}
