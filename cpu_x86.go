// cpu_x86.go - Intel 386 processor state
//
// This holds the architectural state of the emulated processor:
// - General purpose registers with 8/16/32-bit views
// - Segment registers carrying their decoded descriptors
// - Control, debug and descriptor-table registers
// - Deferred arithmetic flags, materialised only when read
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "fmt"

// CPU_X86 represents the x86 CPU state
type CPU_X86 struct {
	// General purpose registers (32-bit)
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32
	ESP uint32

	// Instruction pointer
	EIP uint32

	// Flags holds EFLAGS. The arithmetic bits are stale while lazy.op is
	// not x86FlagOpNone; go through readFlags to observe them.
	Flags uint32
	lazy  x86LazyFlags

	// Segment registers with their descriptor caches
	seg  [6]x86Segment
	LDTR x86Segment
	TR   x86Segment
	GDTR x86TableReg
	IDTR x86TableReg

	// Control and debug registers
	CR0 uint32
	CR2 uint32
	CR3 uint32
	CR4 uint32
	DR  [8]uint32

	cpl uint8

	// Execution state
	Halted       bool
	Instructions uint64
	irqShadow    bool // interrupts held off for one instruction after STI / MOV SS

	// strictUnimplemented turns encodable-but-unsupported instructions
	// into a fatal engine error instead of #UD.
	strictUnimplemented bool

	mem    *X86AddressSpace
	paging x86Paging
	io     *X86IOPorts
	FPU    *FPU_X87

	// Clock feeding RDTSC
	tsc func() uint64

	// Register pointer array for O(1) lookup
	// Order: EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI
	regs32 [8]*uint32
}

// x86TableReg is GDTR / IDTR
type x86TableReg struct {
	Base  uint32
	Limit uint16
}

// Flag bit positions
const (
	x86FlagCF   = 1 << 0  // Carry Flag
	x86FlagPF   = 1 << 2  // Parity Flag
	x86FlagAF   = 1 << 4  // Auxiliary Carry Flag
	x86FlagZF   = 1 << 6  // Zero Flag
	x86FlagSF   = 1 << 7  // Sign Flag
	x86FlagTF   = 1 << 8  // Trap Flag
	x86FlagIF   = 1 << 9  // Interrupt Enable Flag
	x86FlagDF   = 1 << 10 // Direction Flag
	x86FlagOF   = 1 << 11 // Overflow Flag
	x86FlagIOPL = 3 << 12 // I/O Privilege Level (2 bits)
	x86FlagNT   = 1 << 14 // Nested Task
	x86FlagRF   = 1 << 16 // Resume Flag
	x86FlagVM   = 1 << 17 // Virtual-8086 Mode
	x86FlagAC   = 1 << 18 // Alignment Check
	x86FlagID   = 1 << 21 // ID Flag

	x86FlagsArith = x86FlagCF | x86FlagPF | x86FlagAF | x86FlagZF | x86FlagSF | x86FlagOF
	x86FlagsFixed = 1 << 1 // reserved bit 1 always reads as one
)

// Segment register indices
const (
	x86SegES = 0
	x86SegCS = 1
	x86SegSS = 2
	x86SegDS = 3
	x86SegFS = 4
	x86SegGS = 5
)

// Control register bits
const (
	x86CR0PE = 1 << 0
	x86CR0MP = 1 << 1
	x86CR0EM = 1 << 2
	x86CR0TS = 1 << 3
	x86CR0ET = 1 << 4
	x86CR0NE = 1 << 5
	x86CR0WP = 1 << 16
	x86CR0AM = 1 << 18
	x86CR0NW = 1 << 29
	x86CR0CD = 1 << 30
	x86CR0PG = 1 << 31

	x86CR4VME = 1 << 0
	x86CR4PVI = 1 << 1
	x86CR4TSD = 1 << 2
	x86CR4DE  = 1 << 3
	x86CR4PSE = 1 << 4
)

// X86Mode is the processor operating mode
type X86Mode uint8

const (
	X86ModeReal X86Mode = iota
	X86ModeProtected
	X86ModeVirtual8086
)

func (m X86Mode) String() string {
	switch m {
	case X86ModeReal:
		return "real"
	case X86ModeProtected:
		return "protected"
	case X86ModeVirtual8086:
		return "virtual-8086"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// NewCPU_X86 creates a CPU attached to physical memory and the port space
func NewCPU_X86(mem *X86AddressSpace, io *X86IOPorts) *CPU_X86 {
	cpu := &CPU_X86{
		mem: mem,
		io:  io,
		FPU: NewFPU_X87(),
	}
	cpu.regs32 = [8]*uint32{
		&cpu.EAX, &cpu.ECX, &cpu.EDX, &cpu.EBX,
		&cpu.ESP, &cpu.EBP, &cpu.ESI, &cpu.EDI,
	}
	cpu.paging.init()
	cpu.Reset()
	return cpu
}

// Reset puts the CPU in its power-on state: real mode, CS:IP = F000:FFF0
func (c *CPU_X86) Reset() {
	for _, r := range c.regs32 {
		*r = 0
	}
	c.EDX = 0x0308 // family 3 stepping 8
	c.EIP = 0xFFF0
	c.Flags = x86FlagsFixed
	c.lazy = x86LazyFlags{}

	for i := range c.seg {
		c.seg[i] = x86RealSegment(0)
	}
	c.seg[x86SegCS] = x86RealSegment(0xF000)
	c.seg[x86SegCS].Base = 0xFFFF0000
	c.LDTR = x86Segment{}
	c.TR = x86Segment{}
	c.GDTR = x86TableReg{}
	c.IDTR = x86TableReg{Limit: 0x3FF}

	c.CR0 = x86CR0ET
	c.CR2, c.CR3, c.CR4 = 0, 0, 0
	c.DR = [8]uint32{}
	c.DR[6] = 0xFFFF0FF0
	c.DR[7] = 0x400
	c.cpl = 0

	c.Halted = false
	c.irqShadow = false
	c.Instructions = 0
	c.paging.flush()
	if c.FPU != nil {
		c.FPU.Reset()
	}
}

// Mode derives the operating mode from CR0.PE and EFLAGS.VM
func (c *CPU_X86) Mode() X86Mode {
	if c.CR0&x86CR0PE == 0 {
		return X86ModeReal
	}
	if c.Flags&x86FlagVM != 0 {
		return X86ModeVirtual8086
	}
	return X86ModeProtected
}

// CPL is the current privilege level
func (c *CPU_X86) CPL() uint8 {
	switch c.Mode() {
	case X86ModeReal:
		return 0
	case X86ModeVirtual8086:
		return 3
	}
	return c.cpl
}

func (c *CPU_X86) iopl() uint8 {
	return uint8(c.Flags>>12) & 3
}

// userAccess reports whether ordinary data accesses are made at user level
// for paging purposes.
func (c *CPU_X86) userAccess() bool {
	return c.CPL() == 3
}

// Segment returns a copy of a segment register's state
func (c *CPU_X86) Segment(idx int) x86Segment {
	return c.seg[idx]
}

// -----------------------------------------------------------------------------
// Register Access Helpers
// -----------------------------------------------------------------------------

func (c *CPU_X86) AX() uint16     { return uint16(c.EAX) }
func (c *CPU_X86) SetAX(v uint16) { c.EAX = (c.EAX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) AL() byte       { return byte(c.EAX) }
func (c *CPU_X86) SetAL(v byte)   { c.EAX = (c.EAX & 0xFFFFFF00) | uint32(v) }
func (c *CPU_X86) AH() byte       { return byte(c.EAX >> 8) }
func (c *CPU_X86) SetAH(v byte)   { c.EAX = (c.EAX & 0xFFFF00FF) | uint32(v)<<8 }
func (c *CPU_X86) BX() uint16     { return uint16(c.EBX) }
func (c *CPU_X86) SetBX(v uint16) { c.EBX = (c.EBX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) CX() uint16     { return uint16(c.ECX) }
func (c *CPU_X86) SetCX(v uint16) { c.ECX = (c.ECX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) CL() byte       { return byte(c.ECX) }
func (c *CPU_X86) DX() uint16     { return uint16(c.EDX) }
func (c *CPU_X86) SetDX(v uint16) { c.EDX = (c.EDX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SI() uint16     { return uint16(c.ESI) }
func (c *CPU_X86) DI() uint16     { return uint16(c.EDI) }
func (c *CPU_X86) BP() uint16     { return uint16(c.EBP) }
func (c *CPU_X86) SP() uint16     { return uint16(c.ESP) }
func (c *CPU_X86) SetSP(v uint16) { c.ESP = (c.ESP & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) IP() uint16     { return uint16(c.EIP) }

// -----------------------------------------------------------------------------
// Register access by index
// -----------------------------------------------------------------------------

// getReg8 returns an 8-bit register value by index (0-7: AL, CL, DL, BL, AH, CH, DH, BH)
func (c *CPU_X86) getReg8(idx byte) byte {
	if idx&4 == 0 {
		return byte(*c.regs32[idx&3])
	}
	return byte(*c.regs32[idx&3] >> 8)
}

// setReg8 sets an 8-bit register value by index
func (c *CPU_X86) setReg8(idx byte, v byte) {
	r := c.regs32[idx&3]
	if idx&4 == 0 {
		*r = (*r & 0xFFFFFF00) | uint32(v)
	} else {
		*r = (*r & 0xFFFF00FF) | uint32(v)<<8
	}
}

// getReg16 returns a 16-bit register value by index (0-7: AX, CX, DX, BX, SP, BP, SI, DI)
func (c *CPU_X86) getReg16(idx byte) uint16 {
	return uint16(*c.regs32[idx&7])
}

// setReg16 sets a 16-bit register value by index
func (c *CPU_X86) setReg16(idx byte, v uint16) {
	r := c.regs32[idx&7]
	*r = (*r & 0xFFFF0000) | uint32(v)
}

// getReg32 returns a 32-bit register value by index (0-7: EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI)
func (c *CPU_X86) getReg32(idx byte) uint32 {
	return *c.regs32[idx&7]
}

// setReg32 sets a 32-bit register value by index
func (c *CPU_X86) setReg32(idx byte, v uint32) {
	*c.regs32[idx&7] = v
}

// getReg reads a register of the given width (8, 16 or 32)
func (c *CPU_X86) getReg(w uint8, idx byte) uint32 {
	switch w {
	case 8:
		return uint32(c.getReg8(idx))
	case 16:
		return uint32(c.getReg16(idx))
	case 32:
		return c.getReg32(idx)
	}
	x86Defect("register width %d", w)
	return 0
}

// setReg writes a register of the given width
func (c *CPU_X86) setReg(w uint8, idx byte, v uint32) {
	switch w {
	case 8:
		c.setReg8(idx, byte(v))
	case 16:
		c.setReg16(idx, uint16(v))
	case 32:
		c.setReg32(idx, v)
	default:
		x86Defect("register width %d", w)
	}
}

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

// readFlags returns EFLAGS with any deferred arithmetic flags materialised
func (c *CPU_X86) readFlags() uint32 {
	if c.lazy.op != x86FlagOpNone {
		c.Flags = (c.Flags &^ x86FlagsArith) | c.lazy.compute()
		c.lazy.op = x86FlagOpNone
	}
	return c.Flags | x86FlagsFixed
}

// writeFlags replaces EFLAGS, discarding any deferred record
func (c *CPU_X86) writeFlags(v uint32) {
	c.lazy.op = x86FlagOpNone
	c.Flags = (v | x86FlagsFixed) &^ (1<<3 | 1<<5 | 1<<15 | 0xFFC00000)
}

func (c *CPU_X86) getFlag(flag uint32) bool {
	if flag&x86FlagsArith != 0 {
		return c.readFlags()&flag != 0
	}
	return c.Flags&flag != 0
}

func (c *CPU_X86) setFlag(flag uint32, set bool) {
	if flag&x86FlagsArith != 0 {
		c.readFlags()
	}
	if set {
		c.Flags |= flag
	} else {
		c.Flags &^= flag
	}
}

func (c *CPU_X86) CF() bool { return c.lazy.carryFlag(c.Flags) }
func (c *CPU_X86) ZF() bool { return c.getFlag(x86FlagZF) }
func (c *CPU_X86) SF() bool { return c.getFlag(x86FlagSF) }
func (c *CPU_X86) OF() bool { return c.getFlag(x86FlagOF) }
func (c *CPU_X86) PF() bool { return c.getFlag(x86FlagPF) }
func (c *CPU_X86) AF() bool { return c.getFlag(x86FlagAF) }
func (c *CPU_X86) DF() bool { return c.Flags&x86FlagDF != 0 }
func (c *CPU_X86) IF() bool { return c.Flags&x86FlagIF != 0 }

// cond evaluates condition code cc (0-15, the Jcc/SETcc/CMOVcc encoding)
func (c *CPU_X86) cond(cc byte) bool {
	f := c.readFlags()
	var r bool
	switch cc >> 1 {
	case 0: // O
		r = f&x86FlagOF != 0
	case 1: // B
		r = f&x86FlagCF != 0
	case 2: // Z
		r = f&x86FlagZF != 0
	case 3: // BE
		r = f&(x86FlagCF|x86FlagZF) != 0
	case 4: // S
		r = f&x86FlagSF != 0
	case 5: // P
		r = f&x86FlagPF != 0
	case 6: // L
		r = (f&x86FlagSF != 0) != (f&x86FlagOF != 0)
	case 7: // LE
		r = f&x86FlagZF != 0 || (f&x86FlagSF != 0) != (f&x86FlagOF != 0)
	}
	if cc&1 != 0 {
		return !r
	}
	return r
}

// parity returns the parity of the low byte (true = even, false = odd)
func parity(v byte) bool {
	v ^= v >> 4
	v ^= v >> 2
	v ^= v >> 1
	return (v & 1) == 0
}

// -----------------------------------------------------------------------------
// Stack
// -----------------------------------------------------------------------------

// stack32 reports whether the stack uses ESP (B bit of SS) rather than SP
func (c *CPU_X86) stack32() bool {
	return c.seg[x86SegSS].Big
}

func (c *CPU_X86) stackPtr() uint32 {
	if c.stack32() {
		return c.ESP
	}
	return c.ESP & 0xFFFF
}

func (c *CPU_X86) setStackPtr(v uint32) {
	if c.stack32() {
		c.ESP = v
	} else {
		c.SetSP(uint16(v))
	}
}

func (c *CPU_X86) stackMask() uint32 {
	if c.stack32() {
		return 0xFFFFFFFF
	}
	return 0xFFFF
}

// Writes land before ESP moves so a faulting push leaves ESP intact.
func (c *CPU_X86) push16(v uint16) {
	sp := (c.stackPtr() - 2) & c.stackMask()
	c.write16(x86SegSS, sp, v)
	c.setStackPtr(sp)
}

func (c *CPU_X86) push32(v uint32) {
	sp := (c.stackPtr() - 4) & c.stackMask()
	c.write32(x86SegSS, sp, v)
	c.setStackPtr(sp)
}

func (c *CPU_X86) pop16() uint16 {
	sp := c.stackPtr()
	v := c.read16(x86SegSS, sp)
	c.setStackPtr((sp + 2) & c.stackMask())
	return v
}

func (c *CPU_X86) pop32() uint32 {
	sp := c.stackPtr()
	v := c.read32(x86SegSS, sp)
	c.setStackPtr((sp + 4) & c.stackMask())
	return v
}

// pushV pushes a word or dword depending on operand size
func (c *CPU_X86) pushV(v uint32, op32 bool) {
	if op32 {
		c.push32(v)
	} else {
		c.push16(uint16(v))
	}
}

func (c *CPU_X86) popV(op32 bool) uint32 {
	if op32 {
		return c.pop32()
	}
	return uint32(c.pop16())
}

// peekV reads the stack slot n words/dwords above the stack pointer
func (c *CPU_X86) peekV(n uint32, op32 bool) uint32 {
	if op32 {
		return c.read32(x86SegSS, (c.stackPtr()+n*4)&c.stackMask())
	}
	return uint32(c.read16(x86SegSS, (c.stackPtr()+n*2)&c.stackMask()))
}

func (c *CPU_X86) String() string {
	f := c.readFlags()
	return fmt.Sprintf("EAX=%08X EBX=%08X ECX=%08X EDX=%08X ESI=%08X EDI=%08X EBP=%08X ESP=%08X\n"+
		"EIP=%08X EFLAGS=%08X CS=%04X DS=%04X ES=%04X SS=%04X FS=%04X GS=%04X CR0=%08X CPL=%d %s",
		c.EAX, c.EBX, c.ECX, c.EDX, c.ESI, c.EDI, c.EBP, c.ESP,
		c.EIP, f, c.seg[x86SegCS].Selector, c.seg[x86SegDS].Selector, c.seg[x86SegES].Selector,
		c.seg[x86SegSS].Selector, c.seg[x86SegFS].Selector, c.seg[x86SegGS].Selector,
		c.CR0, c.CPL(), c.Mode())
}
