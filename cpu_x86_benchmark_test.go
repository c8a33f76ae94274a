// cpu_x86_benchmark_test.go - x86 execution benchmarks
//
// Run with: go test -bench="BenchmarkX86" -benchmem -run="^$" ./...
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"testing"
)

// setupX86BenchMachine loads code at the default address with the timer off
func setupX86BenchMachine(b *testing.B, code ...byte) *X86Machine {
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

// benchX86Step times one instruction at the load address per iteration
func benchX86Step(b *testing.B, m *X86Machine, setup func(*CPU_X86)) {
	cpu := m.CPU()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cpu.EIP = x86DefaultLoadAddr
		if setup != nil {
			setup(cpu)
		}
		if err := m.Step(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkX86_MOV_r16_imm measures MOV r16,imm16 throughput
func BenchmarkX86_MOV_r16_imm(b *testing.B) {
	m := setupX86BenchMachine(b, 0xB8, 0x34, 0x12)
	benchX86Step(b, m, nil)
}

// BenchmarkX86_ADD_r32_r32 measures ADD r32,r32 with the operand-size prefix
func BenchmarkX86_ADD_r32_r32(b *testing.B) {
	m := setupX86BenchMachine(b, 0x66, 0x01, 0xD8)
	m.CPU().EBX = 200
	benchX86Step(b, m, func(c *CPU_X86) { c.EAX = 100 })
}

// BenchmarkX86_Step_Dispatch measures dispatch overhead with NOP
func BenchmarkX86_Step_Dispatch(b *testing.B) {
	m := setupX86BenchMachine(b, 0x90)
	benchX86Step(b, m, nil)
}

// BenchmarkX86_PUSH_POP measures a PUSH/POP pair
func BenchmarkX86_PUSH_POP(b *testing.B) {
	m := setupX86BenchMachine(b, 0x50, 0x5B)
	cpu := m.CPU()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cpu.EIP = x86DefaultLoadAddr
		cpu.ESP = 0x7C00
		_ = m.Step()
		_ = m.Step()
	}
}

// BenchmarkX86_BlockLoop measures cached block execution: a tight counting
// loop with the decode cost paid once
func BenchmarkX86_BlockLoop(b *testing.B) {
	m := setupX86BenchMachine(b,
		0x40,       // INC AX
		0x01, 0xC3, // ADD BX, AX
		0x31, 0xD1, // XOR CX, DX
		0xEB, 0xF9, // JMP -7
	)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.RunInstructions(10000); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(10000*b.N)/b.Elapsed().Seconds()/1e6, "MIPS")
}

// BenchmarkX86_Decode measures the decoder alone
func BenchmarkX86_Decode(b *testing.B) {
	code := []byte{0x66, 0x8B, 0x84, 0xB3, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	fetch := func(off uint32) byte { return code[off&15] }
	var sink x86Insn
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sink = x86Decode(fetch, 0, true)
	}
	_ = sink
}
