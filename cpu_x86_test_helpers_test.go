// cpu_x86_test_helpers_test.go - Machine builders shared by the x86 tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	x86TestMemory  = 2 << 20
	x86TestGDT     = 0x0800
	x86TestIDT     = 0x1000
	x86TestTSS     = 0x1800
	x86TestPMCode  = 0x20000
	x86TestPMStack = 0x30000
)

// Selectors of the standard test GDT
const (
	x86TestSelCode32  = 0x08
	x86TestSelData32  = 0x10
	x86TestSelCode16  = 0x18
	x86TestSelData16  = 0x20
	x86TestSelSmallCS = 0x28 // code32, base 0x20000, limit 0x0FFF
	x86TestSelDown    = 0x30 // 16-bit expand-down data, limit 0x0FFF
	x86TestSelUCode   = 0x38 | 3
	x86TestSelUData   = 0x40 | 3
	x86TestSelTSS     = 0x48
)

// x86Rig is a small machine with the timer off and the debug console
// captured. Code is loaded at the default load address (0000:7C00).
type x86Rig struct {
	t       *testing.T
	m       *X86Machine
	cpu     *CPU_X86
	console *bytes.Buffer
	log     *bytes.Buffer
}

func newX86Rig(t *testing.T, code ...byte) *x86Rig {
	t.Helper()
	console, log := &bytes.Buffer{}, &bytes.Buffer{}
	m, err := NewX86Machine(X86Config{
		MemorySize: x86TestMemory,
		TimerOff:   true,
		ConsoleOut: console,
		StatusOut:  &bytes.Buffer{},
	})
	require.NoError(t, err)
	m.SetLogger(func(format string, args ...any) {
		fmt.Fprintf(log, format, args...)
	})
	if len(code) > 0 {
		require.NoError(t, m.LoadProgramData(code))
	}
	return &x86Rig{t: t, m: m, cpu: m.CPU(), console: console, log: log}
}

func (r *x86Rig) write(addr uint32, data ...byte) {
	r.t.Helper()
	require.NoError(r.t, r.m.Poke(addr, data))
}

func (r *x86Rig) write16(addr uint32, v uint16) {
	r.write(addr, byte(v), byte(v>>8))
}

func (r *x86Rig) write32(addr uint32, v uint32) {
	r.write(addr, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (r *x86Rig) write64(addr uint32, v uint64) {
	r.write32(addr, uint32(v))
	r.write32(addr+4, uint32(v>>32))
}

func (r *x86Rig) read8(addr uint32) byte {
	return r.m.Memory().Read8(addr)
}

func (r *x86Rig) read16(addr uint32) uint16 {
	return r.m.Memory().Read16(addr)
}

func (r *x86Rig) read32(addr uint32) uint32 {
	return r.m.Memory().Read32(addr)
}

func (r *x86Rig) read64(addr uint32) uint64 {
	return uint64(r.read32(addr)) | uint64(r.read32(addr+4))<<32
}

// run executes n instructions
func (r *x86Rig) run(n int) error {
	return r.m.RunInstructions(n)
}

// runToHalt runs until HLT with interrupts disabled
func (r *x86Rig) runToHalt() {
	r.t.Helper()
	require.NoError(r.t, r.m.RunInstructions(100000))
	require.True(r.t, r.cpu.Halted, "CPU did not halt, EIP=%08X", r.cpu.EIP)
}

// ivt points real-mode vector vec at seg:off
func (r *x86Rig) ivt(vec byte, seg, off uint16) {
	r.write16(uint32(vec)*4, off)
	r.write16(uint32(vec)*4+2, seg)
}

// installGDT writes the standard test descriptors and loads GDTR
func (r *x86Rig) installGDT() {
	descs := []uint64{
		0,
		x86EncodeDescriptor(0, 0xFFFFFFFF, 0x9A, 0x4),
		x86EncodeDescriptor(0, 0xFFFFFFFF, 0x92, 0x4),
		x86EncodeDescriptor(0, 0xFFFF, 0x9A, 0),
		x86EncodeDescriptor(0, 0xFFFF, 0x92, 0),
		x86EncodeDescriptor(x86TestPMCode, 0x0FFF, 0x9A, 0x4),
		x86EncodeDescriptor(0, 0x0FFF, 0x96, 0),
		x86EncodeDescriptor(0, 0xFFFFFFFF, 0xFA, 0x4),
		x86EncodeDescriptor(0, 0xFFFFFFFF, 0xF2, 0x4),
		x86EncodeDescriptor(x86TestTSS, 0x67, 0x89, 0),
	}
	for i, d := range descs {
		r.write64(x86TestGDT+uint32(i)*8, d)
	}
	r.cpu.GDTR = x86TableReg{Base: x86TestGDT, Limit: uint16(len(descs)*8 - 1)}
}

// gate installs an IDT gate
func (r *x86Rig) gate(vec byte, sel uint16, off uint32, access byte) {
	r.write64(x86TestIDT+uint32(vec)*8, x86EncodeGate(sel, off, access))
	r.cpu.IDTR = x86TableReg{Base: x86TestIDT, Limit: 0x7FF}
}

// enterProtected switches to flat 32-bit ring 0 at x86TestPMCode with code
// loaded there.
func (r *x86Rig) enterProtected(code ...byte) {
	r.t.Helper()
	r.installGDT()
	r.write(x86TestPMCode, code...)
	c := r.cpu
	c.CR0 |= x86CR0PE
	f := catchX86Fault(func() {
		c.setCS(c.fetchDescriptor(x86TestSelCode32, x86VecGP), 0)
		for _, s := range []int{x86SegDS, x86SegES, x86SegSS, x86SegFS, x86SegGS} {
			c.loadSegment(s, x86TestSelData32)
		}
	})
	require.Nil(r.t, f)
	c.EIP = x86TestPMCode
	c.ESP = x86TestPMStack
	r.m.cache.Flush()
}

// flags returns EFLAGS with the arithmetic bits materialised
func (r *x86Rig) flags() uint32 {
	return r.cpu.readFlags()
}

