// cpu_x86_table.go - Opcode catalog
//
// One x86OpInfo per opcode of the one-byte and 0F-prefixed maps. Group
// opcodes (80-83, C0/C1, D0-D3, F6/F7, FE/FF, 0F00, 0F01, 0FBA) and the x87
// escapes resolve to a member entry once the ModR/M byte is known.
//
// The operand template (args) is the single source for a form's
// immediates, whether it carries a ModR/M byte and whether it operates on
// bytes; the disassembler prints from the same template.
//
// Entries with no executor decode as invalid opcodes (#UD). Entries marked
// unimpl are valid instructions of later processors that this core does
// not execute; they fault as #UD too, but are reported distinctly.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "strings"

var (
	x86BaseOps [256]x86OpInfo
	x86ExtOps  [256]x86OpInfo

	x86InvalidOp = x86OpInfo{name: "(bad)", exec: (*CPU_X86).opInvalid, flow: x86FlowBranch}
	x86TooLongOp = x86OpInfo{name: "(too long)", exec: (*CPU_X86).opTooLong, flow: x86FlowBranch}
)

var x86ALUNames = [8]string{"ADD", "OR", "ADC", "SBB", "AND", "SUB", "XOR", "CMP"}
var x86ShiftNames = [8]string{"ROL", "ROR", "RCL", "RCR", "SHL", "SHR", "SAL", "SAR"}
var x86CondNames = [16]string{"O", "NO", "B", "AE", "E", "NE", "BE", "A", "S", "NS", "P", "NP", "L", "GE", "LE", "G"}

const (
	x86ALUAdd = iota
	x86ALUOr
	x86ALUAdc
	x86ALUSbb
	x86ALUAnd
	x86ALUSub
	x86ALUXor
	x86ALUCmp
	x86ALUTest
)

// Shift count sources (aux of group 2 members)
const (
	x86CountImm = iota
	x86CountOne
	x86CountCL
)

// Port sources for IN/OUT (aux)
const (
	x86PortImm = iota
	x86PortDX
)

func x86Op(name, args string, exec x86ExecFunc) x86OpInfo {
	return x86OpInfo{name: name, args: args, exec: exec}
}

func (o x86OpInfo) withSub(s byte) x86OpInfo { o.sub = s; return o }
func (o x86OpInfo) withAux(a byte) x86OpInfo { o.aux = a; return o }
func (o x86OpInfo) wide(n string) x86OpInfo  { o.name32 = n; return o }
func (o x86OpInfo) branch() x86OpInfo        { o.flow = x86FlowBranch; return o }
func (o x86OpInfo) system() x86OpInfo        { o.flow = x86FlowSystem; return o }
func (o x86OpInfo) mem() x86OpInfo           { o.memOnly = true; return o }
func (o x86OpInfo) regForm() x86OpInfo       { o.regOnly = true; return o }
func (o x86OpInfo) group(g *[8]x86OpInfo) x86OpInfo {
	o.modrm = true
	o.resolve = func(m byte) *x86OpInfo { return &g[(m>>3)&7] }
	return o
}

func x86Unimpl(name string) x86OpInfo {
	return x86OpInfo{name: name, exec: (*CPU_X86).opUnimplemented, unimpl: true, flow: x86FlowBranch}
}

var (
	x86ModRMArgs = map[string]bool{
		"Eb": true, "Ev": true, "Ew": true, "Ed": true, "Gb": true, "Gv": true, "Gw": true,
		"M": true, "Ma": true, "Mp": true, "Ms": true, "Sw": true, "Cd": true, "Dd": true, "Rd": true,
		"Mw": true, "Md": true, "Mq": true, "Mt": true, "Mf": true,
	}
	x86ByteArgs = map[string]bool{"Eb": true, "Gb": true, "AL": true, "Zb": true, "Xb": true, "Yb": true, "Ob": true}
	x86WideArgs = map[string]bool{
		"Ev": true, "Gv": true, "eAX": true, "Zv": true, "Xv": true, "Yv": true, "Ov": true,
		"Iv": true, "Iz": true, "Ew": true, "Gw": true, "Zd": true, "Ma": true, "Mp": true,
	}
	x86ImmArgs = map[string]x86ImmKind{
		"Ib": x86ImmB, "Is": x86ImmBS, "Iw": x86ImmW, "Iv": x86ImmV, "Iz": x86ImmV,
		"Jb": x86ImmRelB, "Jz": x86ImmRelV, "Ap": x86ImmPtr, "Ob": x86ImmMoffs, "Ov": x86ImmMoffs,
	}
)

// finalize derives ModR/M presence, byte width and immediates from args
func (o *x86OpInfo) finalize() {
	if o.args == "" {
		return
	}
	byteArg, wideArg := false, false
	o.imms = o.imms[:0]
	for _, a := range strings.Split(o.args, ",") {
		if x86ModRMArgs[a] {
			o.modrm = true
		}
		byteArg = byteArg || x86ByteArgs[a]
		wideArg = wideArg || x86WideArgs[a]
		if k, ok := x86ImmArgs[a]; ok {
			o.imms = append(o.imms, k)
		}
	}
	o.byteOp = byteArg && !wideArg
}

func init() {
	x86InitBaseOps()
	x86InitExtOps()
	x87InitOps()
}

// -----------------------------------------------------------------------------
// One-byte opcode map
// -----------------------------------------------------------------------------

var (
	x86Grp1Eb, x86Grp1Ev, x86Grp1Ev82, x86Grp1Es [8]x86OpInfo
	x86Grp1a                                     [8]x86OpInfo
	x86Grp2                                      [6][8]x86OpInfo
	x86Grp3b, x86Grp3v                           [8]x86OpInfo
	x86Grp4, x86Grp5                             [8]x86OpInfo
	x86Grp11b, x86Grp11v                         [8]x86OpInfo
)

func x86InitBaseOps() {
	t := &x86BaseOps

	for i := 0; i < 8; i++ {
		n := x86ALUNames[i]
		b := byte(i << 3)
		s := byte(i)
		t[b+0] = x86Op(n, "Eb,Gb", (*CPU_X86).opALU_EG).withSub(s)
		t[b+1] = x86Op(n, "Ev,Gv", (*CPU_X86).opALU_EG).withSub(s)
		t[b+2] = x86Op(n, "Gb,Eb", (*CPU_X86).opALU_GE).withSub(s)
		t[b+3] = x86Op(n, "Gv,Ev", (*CPU_X86).opALU_GE).withSub(s)
		t[b+4] = x86Op(n, "AL,Ib", (*CPU_X86).opALU_AI).withSub(s)
		t[b+5] = x86Op(n, "eAX,Iz", (*CPU_X86).opALU_AI).withSub(s)

		x86Grp1Eb[i] = x86Op(n, "Eb,Ib", (*CPU_X86).opALU_EI).withSub(s)
		x86Grp1Ev82[i] = x86Op(n, "Eb,Ib", (*CPU_X86).opALU_EI).withSub(s)
		x86Grp1Ev[i] = x86Op(n, "Ev,Iz", (*CPU_X86).opALU_EI).withSub(s)
		x86Grp1Es[i] = x86Op(n, "Ev,Is", (*CPU_X86).opALU_EI).withSub(s)
	}

	segOps := []struct {
		push, pop byte
		seg       byte
		name      string
	}{
		{0x06, 0x07, x86SegES, "ES"},
		{0x0E, 0, x86SegCS, "CS"},
		{0x16, 0x17, x86SegSS, "SS"},
		{0x1E, 0x1F, x86SegDS, "DS"},
	}
	for _, s := range segOps {
		t[s.push] = x86Op("PUSH", s.name, (*CPU_X86).opPushSeg).withSub(s.seg)
		if s.pop != 0 {
			t[s.pop] = x86Op("POP", s.name, (*CPU_X86).opPopSeg).withSub(s.seg)
		}
	}
	t[0x17] = t[0x17].system() // POP SS holds off interrupts for one instruction

	t[0x27] = x86Op("DAA", "", (*CPU_X86).opDAA)
	t[0x2F] = x86Op("DAS", "", (*CPU_X86).opDAS)
	t[0x37] = x86Op("AAA", "", (*CPU_X86).opAAA)
	t[0x3F] = x86Op("AAS", "", (*CPU_X86).opAAS)

	for r := byte(0); r < 8; r++ {
		t[0x40+r] = x86Op("INC", "Zv", (*CPU_X86).opINC_Z).withSub(r)
		t[0x48+r] = x86Op("DEC", "Zv", (*CPU_X86).opDEC_Z).withSub(r)
		t[0x50+r] = x86Op("PUSH", "Zv", (*CPU_X86).opPUSH_Z).withSub(r)
		t[0x58+r] = x86Op("POP", "Zv", (*CPU_X86).opPOP_Z).withSub(r)
		t[0xB0+r] = x86Op("MOV", "Zb,Ib", (*CPU_X86).opMOV_ZI).withSub(r)
		t[0xB8+r] = x86Op("MOV", "Zv,Iv", (*CPU_X86).opMOV_ZI).withSub(r)
		if r != 0 {
			t[0x90+r] = x86Op("XCHG", "Zv,eAX", (*CPU_X86).opXCHG_ZA).withSub(r)
		}
	}

	t[0x60] = x86Op("PUSHA", "", (*CPU_X86).opPUSHA).wide("PUSHAD")
	t[0x61] = x86Op("POPA", "", (*CPU_X86).opPOPA).wide("POPAD")
	t[0x62] = x86Op("BOUND", "Gv,Ma", (*CPU_X86).opBOUND).mem()
	t[0x63] = x86Op("ARPL", "Ew,Gw", (*CPU_X86).opARPL)
	t[0x68] = x86Op("PUSH", "Iz", (*CPU_X86).opPUSH_I)
	t[0x69] = x86Op("IMUL", "Gv,Ev,Iz", (*CPU_X86).opIMUL_GEI)
	t[0x6A] = x86Op("PUSH", "Is", (*CPU_X86).opPUSH_I)
	t[0x6B] = x86Op("IMUL", "Gv,Ev,Is", (*CPU_X86).opIMUL_GEI)
	t[0x6C] = x86Op("INSB", "Yb,DX", (*CPU_X86).opINS)
	t[0x6D] = x86Op("INSW", "Yv,DX", (*CPU_X86).opINS).wide("INSD")
	t[0x6E] = x86Op("OUTSB", "DX,Xb", (*CPU_X86).opOUTS)
	t[0x6F] = x86Op("OUTSW", "DX,Xv", (*CPU_X86).opOUTS).wide("OUTSD")

	for cc := byte(0); cc < 16; cc++ {
		t[0x70+cc] = x86Op("J"+x86CondNames[cc], "Jb", (*CPU_X86).opJcc).withSub(cc).branch()
	}

	t[0x80] = x86Op("GRP1", "", nil).group(&x86Grp1Eb)
	t[0x81] = x86Op("GRP1", "", nil).group(&x86Grp1Ev)
	t[0x82] = x86Op("GRP1", "", nil).group(&x86Grp1Ev82)
	t[0x83] = x86Op("GRP1", "", nil).group(&x86Grp1Es)
	t[0x84] = x86Op("TEST", "Eb,Gb", (*CPU_X86).opALU_EG).withSub(x86ALUTest)
	t[0x85] = x86Op("TEST", "Ev,Gv", (*CPU_X86).opALU_EG).withSub(x86ALUTest)
	t[0x86] = x86Op("XCHG", "Eb,Gb", (*CPU_X86).opXCHG_EG)
	t[0x87] = x86Op("XCHG", "Ev,Gv", (*CPU_X86).opXCHG_EG)
	t[0x88] = x86Op("MOV", "Eb,Gb", (*CPU_X86).opMOV_EG)
	t[0x89] = x86Op("MOV", "Ev,Gv", (*CPU_X86).opMOV_EG)
	t[0x8A] = x86Op("MOV", "Gb,Eb", (*CPU_X86).opMOV_GE)
	t[0x8B] = x86Op("MOV", "Gv,Ev", (*CPU_X86).opMOV_GE)
	t[0x8C] = x86Op("MOV", "Ew,Sw", (*CPU_X86).opMOV_ESw)
	t[0x8D] = x86Op("LEA", "Gv,M", (*CPU_X86).opLEA).mem()
	t[0x8E] = x86Op("MOV", "Sw,Ew", (*CPU_X86).opMOV_SwE).system()
	x86Grp1a[0] = x86Op("POP", "Ev", (*CPU_X86).opPOP_E)
	t[0x8F] = x86Op("GRP1A", "", nil).group(&x86Grp1a)

	t[0x90] = x86Op("NOP", "", (*CPU_X86).opNOP)
	t[0x98] = x86Op("CBW", "", (*CPU_X86).opCBW).wide("CWDE")
	t[0x99] = x86Op("CWD", "", (*CPU_X86).opCWD).wide("CDQ")
	t[0x9A] = x86Op("CALL", "Ap", (*CPU_X86).opCALL_far).branch()
	t[0x9B] = x86Op("WAIT", "", (*CPU_X86).opWAIT)
	t[0x9C] = x86Op("PUSHF", "", (*CPU_X86).opPUSHF).wide("PUSHFD")
	t[0x9D] = x86Op("POPF", "", (*CPU_X86).opPOPF).wide("POPFD").system()
	t[0x9E] = x86Op("SAHF", "", (*CPU_X86).opSAHF)
	t[0x9F] = x86Op("LAHF", "", (*CPU_X86).opLAHF)

	t[0xA0] = x86Op("MOV", "AL,Ob", (*CPU_X86).opMOV_AO)
	t[0xA1] = x86Op("MOV", "eAX,Ov", (*CPU_X86).opMOV_AO)
	t[0xA2] = x86Op("MOV", "Ob,AL", (*CPU_X86).opMOV_OA)
	t[0xA3] = x86Op("MOV", "Ov,eAX", (*CPU_X86).opMOV_OA)
	t[0xA4] = x86Op("MOVSB", "Yb,Xb", (*CPU_X86).opMOVS)
	t[0xA5] = x86Op("MOVSW", "Yv,Xv", (*CPU_X86).opMOVS).wide("MOVSD")
	t[0xA6] = x86Op("CMPSB", "Xb,Yb", (*CPU_X86).opCMPS)
	t[0xA7] = x86Op("CMPSW", "Xv,Yv", (*CPU_X86).opCMPS).wide("CMPSD")
	t[0xA8] = x86Op("TEST", "AL,Ib", (*CPU_X86).opALU_AI).withSub(x86ALUTest)
	t[0xA9] = x86Op("TEST", "eAX,Iz", (*CPU_X86).opALU_AI).withSub(x86ALUTest)
	t[0xAA] = x86Op("STOSB", "Yb,AL", (*CPU_X86).opSTOS)
	t[0xAB] = x86Op("STOSW", "Yv,eAX", (*CPU_X86).opSTOS).wide("STOSD")
	t[0xAC] = x86Op("LODSB", "AL,Xb", (*CPU_X86).opLODS)
	t[0xAD] = x86Op("LODSW", "eAX,Xv", (*CPU_X86).opLODS).wide("LODSD")
	t[0xAE] = x86Op("SCASB", "AL,Yb", (*CPU_X86).opSCAS)
	t[0xAF] = x86Op("SCASW", "eAX,Yv", (*CPU_X86).opSCAS).wide("SCASD")

	grp2 := []struct {
		op    byte
		args  string
		count byte
	}{
		{0xC0, "Eb,Ib", x86CountImm},
		{0xC1, "Ev,Ib", x86CountImm},
		{0xD0, "Eb,1", x86CountOne},
		{0xD1, "Ev,1", x86CountOne},
		{0xD2, "Eb,CL", x86CountCL},
		{0xD3, "Ev,CL", x86CountCL},
	}
	for i, g := range grp2 {
		for r := 0; r < 8; r++ {
			x86Grp2[i][r] = x86Op(x86ShiftNames[r], g.args, (*CPU_X86).opShift).withSub(byte(r)).withAux(g.count)
		}
		t[g.op] = x86Op("GRP2", "", nil).group(&x86Grp2[i])
	}

	t[0xC2] = x86Op("RET", "Iw", (*CPU_X86).opRET).branch()
	t[0xC3] = x86Op("RET", "", (*CPU_X86).opRET).branch()
	t[0xC4] = x86Op("LES", "Gv,Mp", (*CPU_X86).opLoadFar).withSub(x86SegES).mem()
	t[0xC5] = x86Op("LDS", "Gv,Mp", (*CPU_X86).opLoadFar).withSub(x86SegDS).mem()
	x86Grp11b[0] = x86Op("MOV", "Eb,Ib", (*CPU_X86).opMOV_EI)
	x86Grp11v[0] = x86Op("MOV", "Ev,Iz", (*CPU_X86).opMOV_EI)
	t[0xC6] = x86Op("GRP11", "", nil).group(&x86Grp11b)
	t[0xC7] = x86Op("GRP11", "", nil).group(&x86Grp11v)
	t[0xC8] = x86Op("ENTER", "Iw,Ib", (*CPU_X86).opENTER)
	t[0xC9] = x86Op("LEAVE", "", (*CPU_X86).opLEAVE)
	t[0xCA] = x86Op("RETF", "Iw", (*CPU_X86).opRETF).branch()
	t[0xCB] = x86Op("RETF", "", (*CPU_X86).opRETF).branch()
	t[0xCC] = x86Op("INT3", "", (*CPU_X86).opINT3).branch()
	t[0xCD] = x86Op("INT", "Ib", (*CPU_X86).opINT).branch()
	t[0xCE] = x86Op("INTO", "", (*CPU_X86).opINTO).branch()
	t[0xCF] = x86Op("IRET", "", (*CPU_X86).opIRET).wide("IRETD").system()

	t[0xD4] = x86Op("AAM", "Ib", (*CPU_X86).opAAM)
	t[0xD5] = x86Op("AAD", "Ib", (*CPU_X86).opAAD)
	t[0xD6] = x86Op("SALC", "", (*CPU_X86).opSALC)
	t[0xD7] = x86Op("XLAT", "", (*CPU_X86).opXLAT)
	for esc := byte(0); esc < 8; esc++ {
		t[0xD8+esc] = x86OpInfo{name: "ESC", modrm: true, resolve: x87Resolver(esc)}
	}

	t[0xE0] = x86Op("LOOPNE", "Jb", (*CPU_X86).opLOOP).withSub(0).branch()
	t[0xE1] = x86Op("LOOPE", "Jb", (*CPU_X86).opLOOP).withSub(1).branch()
	t[0xE2] = x86Op("LOOP", "Jb", (*CPU_X86).opLOOP).withSub(2).branch()
	t[0xE3] = x86Op("JCXZ", "Jb", (*CPU_X86).opLOOP).withSub(3).branch()
	t[0xE4] = x86Op("IN", "AL,Ib", (*CPU_X86).opIN).withAux(x86PortImm)
	t[0xE5] = x86Op("IN", "eAX,Ib", (*CPU_X86).opIN).withAux(x86PortImm)
	t[0xE6] = x86Op("OUT", "Ib,AL", (*CPU_X86).opOUT).withAux(x86PortImm)
	t[0xE7] = x86Op("OUT", "Ib,eAX", (*CPU_X86).opOUT).withAux(x86PortImm)
	t[0xE8] = x86Op("CALL", "Jz", (*CPU_X86).opCALL_rel).branch()
	t[0xE9] = x86Op("JMP", "Jz", (*CPU_X86).opJMP_rel).branch()
	t[0xEA] = x86Op("JMP", "Ap", (*CPU_X86).opJMP_far).branch()
	t[0xEB] = x86Op("JMP", "Jb", (*CPU_X86).opJMP_rel).branch()
	t[0xEC] = x86Op("IN", "AL,DX", (*CPU_X86).opIN).withAux(x86PortDX)
	t[0xED] = x86Op("IN", "eAX,DX", (*CPU_X86).opIN).withAux(x86PortDX)
	t[0xEE] = x86Op("OUT", "DX,AL", (*CPU_X86).opOUT).withAux(x86PortDX)
	t[0xEF] = x86Op("OUT", "DX,eAX", (*CPU_X86).opOUT).withAux(x86PortDX)

	t[0xF1] = x86Op("INT1", "", (*CPU_X86).opINT1).branch()
	t[0xF4] = x86Op("HLT", "", (*CPU_X86).opHLT).system()
	t[0xF5] = x86Op("CMC", "", (*CPU_X86).opCMC)

	x86Grp3b[0] = x86Op("TEST", "Eb,Ib", (*CPU_X86).opALU_EI).withSub(x86ALUTest)
	x86Grp3b[1] = x86Grp3b[0]
	x86Grp3v[0] = x86Op("TEST", "Ev,Iz", (*CPU_X86).opALU_EI).withSub(x86ALUTest)
	x86Grp3v[1] = x86Grp3v[0]
	for i, g := range []*[8]x86OpInfo{&x86Grp3b, &x86Grp3v} {
		a := "Eb"
		if i == 1 {
			a = "Ev"
		}
		g[2] = x86Op("NOT", a, (*CPU_X86).opNOT)
		g[3] = x86Op("NEG", a, (*CPU_X86).opNEG)
		g[4] = x86Op("MUL", a, (*CPU_X86).opMUL)
		g[5] = x86Op("IMUL", a, (*CPU_X86).opIMUL1)
		g[6] = x86Op("DIV", a, (*CPU_X86).opDIV)
		g[7] = x86Op("IDIV", a, (*CPU_X86).opIDIV)
	}
	t[0xF6] = x86Op("GRP3", "", nil).group(&x86Grp3b)
	t[0xF7] = x86Op("GRP3", "", nil).group(&x86Grp3v)

	t[0xF8] = x86Op("CLC", "", (*CPU_X86).opCLC)
	t[0xF9] = x86Op("STC", "", (*CPU_X86).opSTC)
	t[0xFA] = x86Op("CLI", "", (*CPU_X86).opCLI).system()
	t[0xFB] = x86Op("STI", "", (*CPU_X86).opSTI).system()
	t[0xFC] = x86Op("CLD", "", (*CPU_X86).opCLD)
	t[0xFD] = x86Op("STD", "", (*CPU_X86).opSTD)

	x86Grp4[0] = x86Op("INC", "Eb", (*CPU_X86).opINC_E)
	x86Grp4[1] = x86Op("DEC", "Eb", (*CPU_X86).opDEC_E)
	t[0xFE] = x86Op("GRP4", "", nil).group(&x86Grp4)

	x86Grp5[0] = x86Op("INC", "Ev", (*CPU_X86).opINC_E)
	x86Grp5[1] = x86Op("DEC", "Ev", (*CPU_X86).opDEC_E)
	x86Grp5[2] = x86Op("CALL", "Ev", (*CPU_X86).opCALL_E).branch()
	x86Grp5[3] = x86Op("CALL", "Mp", (*CPU_X86).opCALL_farM).mem().branch()
	x86Grp5[4] = x86Op("JMP", "Ev", (*CPU_X86).opJMP_E).branch()
	x86Grp5[5] = x86Op("JMP", "Mp", (*CPU_X86).opJMP_farM).mem().branch()
	x86Grp5[6] = x86Op("PUSH", "Ev", (*CPU_X86).opPUSH_E)
	t[0xFF] = x86Op("GRP5", "", nil).group(&x86Grp5)

	for i := range t {
		t[i].finalize()
	}
	for _, g := range []*[8]x86OpInfo{&x86Grp1Eb, &x86Grp1Ev, &x86Grp1Ev82, &x86Grp1Es, &x86Grp1a,
		&x86Grp3b, &x86Grp3v, &x86Grp4, &x86Grp5, &x86Grp11b, &x86Grp11v} {
		for i := range g {
			g[i].finalize()
		}
	}
	for i := range x86Grp2 {
		for r := range x86Grp2[i] {
			x86Grp2[i][r].finalize()
		}
	}
}

// -----------------------------------------------------------------------------
// 0F opcode map
// -----------------------------------------------------------------------------

var x86Grp6, x86Grp7, x86Grp8 [8]x86OpInfo

func x86InitExtOps() {
	t := &x86ExtOps

	// Instructions of later processors: recognised, not executed.
	unimpl := map[byte]string{
		0x05: "SYSCALL", 0x07: "SYSRET", 0x0D: "PREFETCH", 0x30: "WRMSR", 0x32: "RDMSR",
		0x33: "RDPMC", 0x34: "SYSENTER", 0x35: "SYSEXIT", 0xAA: "RSM", 0xAE: "FXSAVE",
		0xC7: "CMPXCHG8B",
	}
	for b := 0x10; b <= 0x1E; b++ {
		unimpl[byte(b)] = "SSE"
	}
	for b := 0x28; b <= 0x2F; b++ {
		unimpl[byte(b)] = "SSE"
	}
	for b := 0x50; b <= 0x7F; b++ {
		unimpl[byte(b)] = "MMX/SSE"
	}
	for b := 0xC2; b <= 0xC6; b++ {
		unimpl[byte(b)] = "SSE"
	}
	for b := 0xD0; b <= 0xFF; b++ {
		unimpl[byte(b)] = "MMX/SSE"
	}
	for b, n := range unimpl {
		t[b] = x86Unimpl(n)
	}

	x86Grp6[0] = x86Op("SLDT", "Ew", (*CPU_X86).opSLDT)
	x86Grp6[1] = x86Op("STR", "Ew", (*CPU_X86).opSTR)
	x86Grp6[2] = x86Op("LLDT", "Ew", (*CPU_X86).opLLDT).system()
	x86Grp6[3] = x86Op("LTR", "Ew", (*CPU_X86).opLTR).system()
	x86Grp6[4] = x86Op("VERR", "Ew", (*CPU_X86).opVERx).withSub(0)
	x86Grp6[5] = x86Op("VERW", "Ew", (*CPU_X86).opVERx).withSub(1)
	t[0x00] = x86Op("GRP6", "", nil).group(&x86Grp6)

	x86Grp7[0] = x86Op("SGDT", "Ms", (*CPU_X86).opSxDT).withSub(0).mem()
	x86Grp7[1] = x86Op("SIDT", "Ms", (*CPU_X86).opSxDT).withSub(1).mem()
	x86Grp7[2] = x86Op("LGDT", "Ms", (*CPU_X86).opLxDT).withSub(0).mem().system()
	x86Grp7[3] = x86Op("LIDT", "Ms", (*CPU_X86).opLxDT).withSub(1).mem().system()
	x86Grp7[4] = x86Op("SMSW", "Ew", (*CPU_X86).opSMSW)
	x86Grp7[6] = x86Op("LMSW", "Ew", (*CPU_X86).opLMSW).system()
	x86Grp7[7] = x86Op("INVLPG", "M", (*CPU_X86).opINVLPG).mem().system()
	t[0x01] = x86Op("GRP7", "", nil).group(&x86Grp7)

	t[0x02] = x86Op("LAR", "Gv,Ew", (*CPU_X86).opLAR)
	t[0x03] = x86Op("LSL", "Gv,Ew", (*CPU_X86).opLSL)
	t[0x06] = x86Op("CLTS", "", (*CPU_X86).opCLTS).system()
	t[0x08] = x86Op("INVD", "", (*CPU_X86).opCacheFlush)
	t[0x09] = x86Op("WBINVD", "", (*CPU_X86).opCacheFlush)
	t[0x0B] = x86Op("UD2", "", (*CPU_X86).opInvalid).branch()
	t[0x1F] = x86Op("NOP", "Ev", (*CPU_X86).opNOP)
	t[0x20] = x86Op("MOV", "Rd,Cd", (*CPU_X86).opMOV_RC).regForm()
	t[0x21] = x86Op("MOV", "Rd,Dd", (*CPU_X86).opMOV_RD).regForm()
	t[0x22] = x86Op("MOV", "Cd,Rd", (*CPU_X86).opMOV_CR).regForm().system()
	t[0x23] = x86Op("MOV", "Dd,Rd", (*CPU_X86).opMOV_DR).regForm()
	t[0x31] = x86Op("RDTSC", "", (*CPU_X86).opRDTSC)

	for cc := byte(0); cc < 16; cc++ {
		t[0x40+cc] = x86Op("CMOV"+x86CondNames[cc], "Gv,Ev", (*CPU_X86).opCMOV).withSub(cc)
		t[0x80+cc] = x86Op("J"+x86CondNames[cc], "Jz", (*CPU_X86).opJcc).withSub(cc).branch()
		t[0x90+cc] = x86Op("SET"+x86CondNames[cc], "Eb", (*CPU_X86).opSETcc).withSub(cc)
	}

	t[0xA0] = x86Op("PUSH", "FS", (*CPU_X86).opPushSeg).withSub(x86SegFS)
	t[0xA1] = x86Op("POP", "FS", (*CPU_X86).opPopSeg).withSub(x86SegFS)
	t[0xA2] = x86Op("CPUID", "", (*CPU_X86).opCPUID)
	t[0xA3] = x86Op("BT", "Ev,Gv", (*CPU_X86).opBT).withSub(0)
	t[0xA4] = x86Op("SHLD", "Ev,Gv,Ib", (*CPU_X86).opSHLD).withAux(x86CountImm)
	t[0xA5] = x86Op("SHLD", "Ev,Gv,CL", (*CPU_X86).opSHLD).withAux(x86CountCL)
	t[0xA8] = x86Op("PUSH", "GS", (*CPU_X86).opPushSeg).withSub(x86SegGS)
	t[0xA9] = x86Op("POP", "GS", (*CPU_X86).opPopSeg).withSub(x86SegGS)
	t[0xAB] = x86Op("BTS", "Ev,Gv", (*CPU_X86).opBT).withSub(1)
	t[0xAC] = x86Op("SHRD", "Ev,Gv,Ib", (*CPU_X86).opSHRD).withAux(x86CountImm)
	t[0xAD] = x86Op("SHRD", "Ev,Gv,CL", (*CPU_X86).opSHRD).withAux(x86CountCL)
	t[0xAF] = x86Op("IMUL", "Gv,Ev", (*CPU_X86).opIMUL_GE)
	t[0xB0] = x86Op("CMPXCHG", "Eb,Gb", (*CPU_X86).opCMPXCHG)
	t[0xB1] = x86Op("CMPXCHG", "Ev,Gv", (*CPU_X86).opCMPXCHG)
	t[0xB2] = x86Op("LSS", "Gv,Mp", (*CPU_X86).opLoadFar).withSub(x86SegSS).mem().system()
	t[0xB3] = x86Op("BTR", "Ev,Gv", (*CPU_X86).opBT).withSub(2)
	t[0xB4] = x86Op("LFS", "Gv,Mp", (*CPU_X86).opLoadFar).withSub(x86SegFS).mem()
	t[0xB5] = x86Op("LGS", "Gv,Mp", (*CPU_X86).opLoadFar).withSub(x86SegGS).mem()
	t[0xB6] = x86Op("MOVZX", "Gv,Eb", (*CPU_X86).opMOVX).withSub(8)
	t[0xB7] = x86Op("MOVZX", "Gv,Ew", (*CPU_X86).opMOVX).withSub(16)

	x86Grp8[4] = x86Op("BT", "Ev,Ib", (*CPU_X86).opBT).withSub(0)
	x86Grp8[5] = x86Op("BTS", "Ev,Ib", (*CPU_X86).opBT).withSub(1)
	x86Grp8[6] = x86Op("BTR", "Ev,Ib", (*CPU_X86).opBT).withSub(2)
	x86Grp8[7] = x86Op("BTC", "Ev,Ib", (*CPU_X86).opBT).withSub(3)
	t[0xBA] = x86Op("GRP8", "", nil).group(&x86Grp8)

	t[0xBB] = x86Op("BTC", "Ev,Gv", (*CPU_X86).opBT).withSub(3)
	t[0xBC] = x86Op("BSF", "Gv,Ev", (*CPU_X86).opBSF)
	t[0xBD] = x86Op("BSR", "Gv,Ev", (*CPU_X86).opBSR)
	t[0xBE] = x86Op("MOVSX", "Gv,Eb", (*CPU_X86).opMOVX).withSub(8 | 0x80)
	t[0xBF] = x86Op("MOVSX", "Gv,Ew", (*CPU_X86).opMOVX).withSub(16 | 0x80)
	t[0xC0] = x86Op("XADD", "Eb,Gb", (*CPU_X86).opXADD)
	t[0xC1] = x86Op("XADD", "Ev,Gv", (*CPU_X86).opXADD)
	for r := byte(0); r < 8; r++ {
		t[0xC8+r] = x86Op("BSWAP", "Zd", (*CPU_X86).opBSWAP).withSub(r)
	}

	for i := range t {
		t[i].finalize()
	}
	for _, g := range []*[8]x86OpInfo{&x86Grp6, &x86Grp7, &x86Grp8} {
		for i := range g {
			g[i].finalize()
		}
	}
}
