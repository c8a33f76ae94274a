// cpu_x86_flags.go - Deferred arithmetic flag evaluation
//
// Arithmetic instructions do not compute CF/PF/AF/ZF/SF/OF directly. They
// leave a record of the operation (kind, width, operands, result) and the
// flags are derived from it only when something reads EFLAGS. Each new
// record replaces the previous one wholesale.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

type x86FlagOp uint8

const (
	x86FlagOpNone x86FlagOp = iota
	x86FlagOpAdd
	x86FlagOpAdc
	x86FlagOpSub
	x86FlagOpSbb
	x86FlagOpLogic
	x86FlagOpInc
	x86FlagOpDec
	x86FlagOpNeg
	x86FlagOpShl
	x86FlagOpShr
	x86FlagOpSar
	x86FlagOpRol
	x86FlagOpRor
	x86FlagOpRcl
	x86FlagOpRcr
	x86FlagOpMul
	x86FlagOpShld
	x86FlagOpShrd
	x86FlagOpCount
)

var x86FlagOpNames = [x86FlagOpCount]string{
	"none", "add", "adc", "sub", "sbb", "logic", "inc", "dec", "neg",
	"shl", "shr", "sar", "rol", "ror", "rcl", "rcr", "mul", "shld", "shrd",
}

func (op x86FlagOp) String() string {
	if op < x86FlagOpCount {
		return x86FlagOpNames[op]
	}
	return "invalid"
}

// x86LazyFlags is the deferred record
type x86LazyFlags struct {
	op    x86FlagOp
	width uint8
	a, b  uint32
	res   uint32
	// carry is the carry-in for adc/sbb, the preserved CF for inc/dec and
	// the carry-out for rcl/rcr/mul.
	carry bool
	// prev holds the materialised flags that rotates leave untouched.
	prev uint32
}

func x86WidthMask(w uint8) uint32 {
	switch w {
	case 8:
		return 0xFF
	case 16:
		return 0xFFFF
	case 32:
		return 0xFFFFFFFF
	}
	x86Defect("operand width %d", w)
	return 0
}

func x86SignBit(w uint8) uint32 {
	return 1 << (w - 1)
}

// setLazy installs a new deferred record
func (c *CPU_X86) setLazy(op x86FlagOp, w uint8, a, b, res uint32, carry bool) {
	c.lazy = x86LazyFlags{op: op, width: w, a: a, b: b, res: res, carry: carry}
}

// setLazyPartial installs a record for an op that leaves some flags alone
func (c *CPU_X86) setLazyPartial(op x86FlagOp, w uint8, a, b, res uint32, carry bool) {
	prev := c.readFlags() & x86FlagsArith
	c.lazy = x86LazyFlags{op: op, width: w, a: a, b: b, res: res, carry: carry, prev: prev}
}

// carryFlag derives CF alone, without materialising the rest
func (l *x86LazyFlags) carryFlag(flags uint32) bool {
	if l.op == x86FlagOpNone {
		return flags&x86FlagCF != 0
	}
	return l.compute()&x86FlagCF != 0
}

func x86SZP(res uint32, w uint8) uint32 {
	var f uint32
	m := x86WidthMask(w)
	if res&m == 0 {
		f |= x86FlagZF
	}
	if res&x86SignBit(w) != 0 {
		f |= x86FlagSF
	}
	if parity(byte(res)) {
		f |= x86FlagPF
	}
	return f
}

func x86Bool(b bool, flag uint32) uint32 {
	if b {
		return flag
	}
	return 0
}

// compute derives the six arithmetic flags from the record
func (l *x86LazyFlags) compute() uint32 {
	w := l.width
	m := x86WidthMask(w)
	s := x86SignBit(w)
	a, b, r := l.a&m, l.b&m, l.res&m

	switch l.op {
	case x86FlagOpAdd, x86FlagOpAdc:
		f := x86SZP(r, w)
		cf := r < a || (l.op == x86FlagOpAdc && l.carry && r == a)
		f |= x86Bool(cf, x86FlagCF)
		f |= x86Bool((a^r)&(b^r)&s != 0, x86FlagOF)
		f |= x86Bool((a^b^r)&0x10 != 0, x86FlagAF)
		return f

	case x86FlagOpSub, x86FlagOpSbb:
		f := x86SZP(r, w)
		cin := uint64(0)
		if l.op == x86FlagOpSbb && l.carry {
			cin = 1
		}
		f |= x86Bool(uint64(a) < uint64(b)+cin, x86FlagCF)
		f |= x86Bool((a^b)&(a^r)&s != 0, x86FlagOF)
		f |= x86Bool((a^b^r)&0x10 != 0, x86FlagAF)
		return f

	case x86FlagOpLogic:
		return x86SZP(r, w)

	case x86FlagOpInc:
		f := x86SZP(r, w) | x86Bool(l.carry, x86FlagCF)
		f |= x86Bool(r == s, x86FlagOF)
		f |= x86Bool(r&0xF == 0, x86FlagAF)
		return f

	case x86FlagOpDec:
		f := x86SZP(r, w) | x86Bool(l.carry, x86FlagCF)
		f |= x86Bool(r == s-1, x86FlagOF)
		f |= x86Bool(r&0xF == 0xF, x86FlagAF)
		return f

	case x86FlagOpNeg:
		f := x86SZP(r, w)
		f |= x86Bool(a != 0, x86FlagCF)
		f |= x86Bool(r == s, x86FlagOF)
		f |= x86Bool((a^r)&0x10 != 0, x86FlagAF)
		return f

	case x86FlagOpShl:
		f := x86SZP(r, w)
		cf := (uint64(a)<<b)>>w&1 != 0
		f |= x86Bool(cf, x86FlagCF)
		f |= x86Bool((r&s != 0) != cf, x86FlagOF)
		return f

	case x86FlagOpShr:
		f := x86SZP(r, w)
		f |= x86Bool(b <= 32 && (uint64(a)>>(b-1))&1 != 0, x86FlagCF)
		f |= x86Bool(a&s != 0, x86FlagOF)
		return f

	case x86FlagOpSar:
		f := x86SZP(r, w)
		sa := int64(int32(a << (32 - w)) >> (32 - w))
		f |= x86Bool((sa>>(b-1))&1 != 0, x86FlagCF)
		return f

	case x86FlagOpRol:
		f := l.prev &^ (x86FlagCF | x86FlagOF)
		cf := r&1 != 0
		f |= x86Bool(cf, x86FlagCF)
		f |= x86Bool((r&s != 0) != cf, x86FlagOF)
		return f

	case x86FlagOpRor:
		f := l.prev &^ (x86FlagCF | x86FlagOF)
		f |= x86Bool(r&s != 0, x86FlagCF)
		f |= x86Bool((r&s != 0) != (r&(s>>1) != 0), x86FlagOF)
		return f

	case x86FlagOpRcl:
		f := l.prev &^ (x86FlagCF | x86FlagOF)
		f |= x86Bool(l.carry, x86FlagCF)
		f |= x86Bool((r&s != 0) != l.carry, x86FlagOF)
		return f

	case x86FlagOpRcr:
		f := l.prev &^ (x86FlagCF | x86FlagOF)
		f |= x86Bool(l.carry, x86FlagCF)
		f |= x86Bool((r&s != 0) != (r&(s>>1) != 0), x86FlagOF)
		return f

	case x86FlagOpMul:
		f := x86SZP(r, w)
		f |= x86Bool(l.carry, x86FlagCF|x86FlagOF)
		return f

	case x86FlagOpShld:
		f := x86SZP(r, w)
		f |= x86Bool((uint64(a)<<b)>>w&1 != 0, x86FlagCF)
		f |= x86Bool((r&s != 0) != (a&s != 0), x86FlagOF)
		return f

	case x86FlagOpShrd:
		f := x86SZP(r, w)
		f |= x86Bool((uint64(a)>>(b-1))&1 != 0, x86FlagCF)
		f |= x86Bool((r&s != 0) != (a&s != 0), x86FlagOF)
		return f
	}

	x86Defect("no flag formula for %s", l.op)
	return 0
}
