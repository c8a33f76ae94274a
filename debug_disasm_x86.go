// debug_disasm_x86.go - x86 disassembler for the machine monitor and -disasm
//
// Disassembly runs the same decoder the engine uses and prints operands
// from each opcode's operand template, so a listing shows exactly what the
// CPU will execute (including (bad) and unimplemented forms).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"strings"
)

var x86Reg32 = [8]string{"EAX", "ECX", "EDX", "EBX", "ESP", "EBP", "ESI", "EDI"}
var x86Reg16 = [8]string{"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI"}
var x86Reg8 = [8]string{"AL", "CL", "DL", "BL", "AH", "CH", "DH", "BH"}
var x86SegRegs = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}

// x86DisasmLine is one listed instruction
type x86DisasmLine struct {
	Addr     uint32
	Bytes    []byte
	Text     string
	IsBranch bool
	Target   uint32 // relative branch destination, when IsBranch
}

func (l x86DisasmLine) String() string {
	hex := make([]string, len(l.Bytes))
	for i, b := range l.Bytes {
		hex[i] = fmt.Sprintf("%02X", b)
	}
	return fmt.Sprintf("%08X  %-24s %s", l.Addr, strings.Join(hex, " "), l.Text)
}

type x86DisasmShort struct{}

// DisassembleX86 decodes the instruction at the start of code and returns
// its text and length. Truncated input lists as a single data byte.
func DisassembleX86(code []byte, big bool) (string, int) {
	l := x86DisasmOne(func(off uint32) byte {
		if uint64(off) >= uint64(len(code)) {
			panic(x86DisasmShort{})
		}
		return code[off]
	}, 0, big)
	return l.Text, len(l.Bytes)
}

// disassembleX86 lists count instructions starting at addr
func disassembleX86(readMem func(addr uint32) (byte, bool), addr uint32, count int, big bool) []x86DisasmLine {
	fetch := func(off uint32) byte {
		b, ok := readMem(off)
		if !ok {
			panic(x86DisasmShort{})
		}
		return b
	}
	lines := make([]x86DisasmLine, 0, count)
	for range count {
		l := x86DisasmOne(fetch, addr, big)
		if len(l.Bytes) == 0 {
			break
		}
		lines = append(lines, l)
		addr += uint32(len(l.Bytes))
	}
	return lines
}

func x86DisasmOne(fetch func(off uint32) byte, addr uint32, big bool) (line x86DisasmLine) {
	line.Addr = addr
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(x86DisasmShort); !ok {
				panic(r)
			}
			line = x86DisasmLine{Addr: addr}
			if b, ok := x86TryFetch(fetch, addr); ok {
				line.Bytes = []byte{b}
				line.Text = fmt.Sprintf("DB 0x%02X", b)
			}
		}
	}()

	in := x86Decode(fetch, addr, big)
	line.Bytes = make([]byte, in.length)
	for i := range line.Bytes {
		line.Bytes[i] = fetch(addr + uint32(i))
	}
	line.Text = x86FormatInsn(&in, addr)
	for _, k := range in.op.imms {
		if k == x86ImmRelB || k == x86ImmRelV {
			line.IsBranch = true
			line.Target = x86DisasmTarget(&in, addr)
		}
	}
	return line
}

func x86TryFetch(fetch func(off uint32) byte, addr uint32) (b byte, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return fetch(addr), true
}

func x86DisasmTarget(in *x86Insn, addr uint32) uint32 {
	t := addr + uint32(in.length) + in.imm
	if !in.op32 {
		t &= 0xFFFF
	}
	return t
}

func x86FormatInsn(in *x86Insn, addr uint32) string {
	op := in.op
	name := in.mnemonic()
	var b strings.Builder
	if in.lock {
		b.WriteString("LOCK ")
	}
	switch in.rep {
	case 1:
		if strings.HasPrefix(name, "CMPS") || strings.HasPrefix(name, "SCAS") {
			b.WriteString("REPE ")
		} else {
			b.WriteString("REP ")
		}
	case 2:
		b.WriteString("REPNE ")
	}
	b.WriteString(name)
	if op.args == "" {
		return b.String()
	}

	immIdx := 0
	nextImm := func() uint32 {
		v := in.imm
		if immIdx > 0 {
			v = in.imm2
		}
		immIdx++
		return v
	}
	for i, a := range strings.Split(op.args, ",") {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(x86FormatArg(in, a, addr, nextImm))
	}
	return b.String()
}

func x86RegName(w uint8, r byte) string {
	switch w {
	case 8:
		return x86Reg8[r&7]
	case 16:
		return x86Reg16[r&7]
	}
	return x86Reg32[r&7]
}

func x86FormatArg(in *x86Insn, a string, addr uint32, imm func() uint32) string {
	vw := uint8(16)
	if in.op32 {
		vw = 32
	}
	switch a {
	case "Eb":
		return x86FormatRM(in, 8, "BYTE")
	case "Ev":
		return x86FormatRM(in, vw, x86SizeName(vw))
	case "Ew", "Mw":
		return x86FormatRM(in, 16, "WORD")
	case "Ed", "Md", "Rd":
		return x86FormatRM(in, 32, "DWORD")
	case "Mq":
		return x86FormatRM(in, 32, "QWORD")
	case "Mt":
		return x86FormatRM(in, 32, "TBYTE")
	case "M", "Ma", "Mp", "Ms", "Mf":
		return x86FormatRM(in, vw, "")
	case "Gb":
		return x86Reg8[in.reg()]
	case "Gv":
		return x86RegName(vw, in.reg())
	case "Gw":
		return x86Reg16[in.reg()]
	case "Sw":
		if r := in.reg(); r < 6 {
			return x86SegRegs[r]
		}
		return fmt.Sprintf("SR%d", in.reg())
	case "Cd":
		return fmt.Sprintf("CR%d", in.reg())
	case "Dd":
		return fmt.Sprintf("DR%d", in.reg())
	case "Zb":
		return x86Reg8[in.opcode&7]
	case "Zv":
		return x86RegName(vw, byte(in.opcode))
	case "Zd":
		return x86Reg32[in.opcode&7]
	case "eAX":
		return x86RegName(vw, 0)
	case "Ib":
		return fmt.Sprintf("0x%02X", imm()&0xFF)
	case "Iw":
		return fmt.Sprintf("0x%04X", imm()&0xFFFF)
	case "Iv", "Iz", "Is":
		v := imm()
		if in.op.byteOp {
			return fmt.Sprintf("0x%02X", v&0xFF)
		}
		if vw == 16 {
			return fmt.Sprintf("0x%04X", v&0xFFFF)
		}
		return fmt.Sprintf("0x%08X", v)
	case "Jb", "Jz":
		imm()
		return fmt.Sprintf("0x%X", x86DisasmTarget(in, addr))
	case "Ap":
		off := imm()
		return fmt.Sprintf("0x%04X:0x%X", in.imm2&0xFFFF, off)
	case "Ob", "Ov":
		return fmt.Sprintf("[%s0x%X]", x86SegPrefix(in), imm())
	case "Xb", "Xv":
		seg := "DS:"
		if in.seg >= 0 {
			seg = x86SegRegs[in.seg] + ":"
		}
		return "[" + seg + x86RegName(x86AddrWidth(in), 6) + "]"
	case "Yb", "Yv":
		return "[ES:" + x86RegName(x86AddrWidth(in), 7) + "]"
	case "ST0":
		return "ST0"
	case "STi":
		return fmt.Sprintf("ST%d", in.rm())
	}
	return a // literal operand: AL, AX, CL, DX, 1, segment names
}

func x86AddrWidth(in *x86Insn) uint8 {
	if in.addr32 {
		return 32
	}
	return 16
}

func x86SizeName(w uint8) string {
	if w == 32 {
		return "DWORD"
	}
	return "WORD"
}

func x86SegPrefix(in *x86Insn) string {
	if in.seg >= 0 {
		return x86SegRegs[in.seg] + ":"
	}
	return ""
}

// x86FormatRM prints the r/m operand as a register or a sized memory reference
func x86FormatRM(in *x86Insn, w uint8, size string) string {
	if !in.isMem() {
		return x86RegName(w, in.rm())
	}
	var b strings.Builder
	if size != "" {
		b.WriteString(size)
		b.WriteString(" PTR ")
	}
	b.WriteByte('[')
	b.WriteString(x86SegPrefix(in))
	aw := x86AddrWidth(in)
	terms := 0
	if in.base >= 0 {
		b.WriteString(x86RegName(aw, byte(in.base)))
		terms++
	}
	if in.index >= 0 {
		if terms > 0 {
			b.WriteByte('+')
		}
		b.WriteString(x86RegName(aw, byte(in.index)))
		if in.scale > 0 {
			fmt.Fprintf(&b, "*%d", 1<<in.scale)
		}
		terms++
	}
	disp := in.disp
	if aw == 16 {
		disp &= 0xFFFF
	}
	switch {
	case terms == 0:
		fmt.Fprintf(&b, "0x%X", disp)
	case disp == 0:
	case aw == 16 && int16(disp) < 0:
		fmt.Fprintf(&b, "-0x%X", uint16(-int16(disp)))
	case aw == 32 && int32(disp) < 0:
		fmt.Fprintf(&b, "-0x%X", uint32(-int32(disp)))
	default:
		fmt.Fprintf(&b, "+0x%X", disp)
	}
	b.WriteByte(']')
	return b.String()
}
