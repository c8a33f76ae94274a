package main

import (
	"bytes"
	"math"
	"testing"
)

// ─── helpers ────────────────────────────────────────────────────────────────

// newX87BenchMachine loads code at the default address with the timer off
func newX87BenchMachine(b *testing.B, code ...byte) *X86Machine {
	b.Helper()
	m, err := NewX86Machine(X86Config{TimerOff: true, ConsoleOut: &bytes.Buffer{}, StatusOut: &bytes.Buffer{}})
	if err != nil {
		b.Fatal(err)
	}
	if err := m.LoadProgramData(code); err != nil {
		b.Fatal(err)
	}
	return m
}

func x87BenchWrite64(m *X86Machine, addr uint32, v float64) {
	bits := math.Float64bits(v)
	m.Memory().Write32(addr, uint32(bits))
	m.Memory().Write32(addr+4, uint32(bits>>32))
}

// x87BenchRun steps n instructions from the load address per iteration
func x87BenchRun(b *testing.B, m *X86Machine, n int, setup func(*CPU_X86)) {
	cpu := m.CPU()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cpu.EIP = x86DefaultLoadAddr
		setup(cpu)
		for range n {
			if err := m.Step(); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// ─── Isolated FPU operations ────────────────────────────────────────────────

func BenchmarkX87_Push(b *testing.B) {
	f := NewFPU_X87()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Reset()
		f.push(3.14)
	}
}

func BenchmarkX87_Pop(b *testing.B) {
	f := NewFPU_X87()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Reset()
		f.push(3.14)
		f.pop()
	}
}

func BenchmarkX87_ST_Read(b *testing.B) {
	f := NewFPU_X87()
	f.push(1.0)
	f.push(2.0)
	f.push(3.0)
	var sink float64
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sink = f.ST(0)
		sink = f.ST(1)
		sink = f.ST(2)
	}
	_ = sink
}

func BenchmarkX87_SetST(b *testing.B) {
	f := NewFPU_X87()
	f.push(1.0)
	f.push(2.0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.setST(0, 42.0)
	}
}

func BenchmarkX87_ClassifyTag_Normal(b *testing.B) {
	f := NewFPU_X87()
	var sink uint16
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sink = f.classifyTag(3.14)
	}
	_ = sink
}

func BenchmarkX87_ClassifyTag_Zero(b *testing.B) {
	f := NewFPU_X87()
	var sink uint16
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sink = f.classifyTag(0.0)
	}
	_ = sink
}

func BenchmarkX87_ClassifyTag_Special(b *testing.B) {
	f := NewFPU_X87()
	var sink uint16
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sink = f.classifyTag(math.NaN())
		sink = f.classifyTag(math.Inf(1))
	}
	_ = sink
}

func BenchmarkX87_DoCompare(b *testing.B) {
	f := NewFPU_X87()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.doCompare(3.14, 2.72, true)
	}
}

// ─── Instruction dispatch ───────────────────────────────────────────────────

func BenchmarkX87_FADD_RegReg(b *testing.B) {
	m := newX87BenchMachine(b, 0xD8, 0xC1) // FADD ST(0),ST(1)
	m.CPU().FPU.push(2.0)
	m.CPU().FPU.push(3.0)
	x87BenchRun(b, m, 1, func(c *CPU_X86) { c.FPU.setST(0, 3.0) })
}

func BenchmarkX87_FDIV_RegReg(b *testing.B) {
	m := newX87BenchMachine(b, 0xD8, 0xF1) // FDIV ST(0),ST(1)
	m.CPU().FPU.push(2.0)
	m.CPU().FPU.push(6.0)
	x87BenchRun(b, m, 1, func(c *CPU_X86) { c.FPU.setST(0, 6.0) })
}

func BenchmarkX87_FMUL_Mem64(b *testing.B) {
	m := newX87BenchMachine(b, 0xDC, 0x0E, 0x00, 0x0D) // FMUL QWORD [0D00h]
	x87BenchWrite64(m, 0x0D00, 2.0)
	m.CPU().FPU.push(3.0)
	x87BenchRun(b, m, 1, func(c *CPU_X86) { c.FPU.setST(0, 3.0) })
}

func BenchmarkX87_FSQRT(b *testing.B) {
	m := newX87BenchMachine(b, 0xD9, 0xFA)
	m.CPU().FPU.push(2.0)
	x87BenchRun(b, m, 1, func(c *CPU_X86) { c.FPU.setST(0, 2.0) })
}

// ─── Pipeline benchmark ────────────────────────────────────────────────────

// a*a + b*b through memory operands
func BenchmarkX87_MulAdd_Pipeline(b *testing.B) {
	m := newX87BenchMachine(b,
		0xDD, 0x06, 0x00, 0x0D, // FLD QWORD [0D00h]
		0xDC, 0x0E, 0x00, 0x0D, // FMUL QWORD [0D00h]
		0xDD, 0x06, 0x08, 0x0D, // FLD QWORD [0D08h]
		0xDC, 0x0E, 0x08, 0x0D, // FMUL QWORD [0D08h]
		0xDE, 0xC1,             // FADDP ST(1),ST(0)
		0xDD, 0x1E, 0x10, 0x0D, // FSTP QWORD [0D10h]
	)
	x87BenchWrite64(m, 0x0D00, 3.0)
	x87BenchWrite64(m, 0x0D08, 4.0)
	x87BenchRun(b, m, 6, func(c *CPU_X86) { c.FPU.Reset() })
}
