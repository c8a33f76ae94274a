// cpu_x86_v86_test.go - Virtual-8086 entry, exits and IOPL sensitivity
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	x86TestV86CS    = 0x5000
	x86TestV86SS    = 0x6000
	x86TestV86SP    = 0x1000
	x86TestRing0Top = 0x2F000
)

// x86TestV86Data are the ES, DS, FS and GS selectors the task starts with
var x86TestV86Data = [4]uint16{0x7000, 0x7100, 0x7200, 0x7300}

// enterV86 runs an IRETD from ring 0 into a virtual-8086 task at
// 5000:ip with code loaded there. flags is merged with VM; the TSS holds
// the ring 0 stack used on the way back out.
func (r *x86Rig) enterV86(ip uint16, flags uint32, code ...byte) {
	r.t.Helper()
	r.enterProtected(0xCF) // IRETD
	r.write32(x86TestTSS+4, x86TestRing0Top)
	r.write16(x86TestTSS+8, x86TestSelData32)
	r.write(x86TestV86CS<<4+uint32(ip), code...)

	c := r.cpu
	c.TR = x86DecodeDescriptor(x86TestSelTSS, x86EncodeDescriptor(x86TestTSS, 0x67, 0x89, 0))
	frame := []uint32{
		uint32(ip), x86TestV86CS, flags | x86FlagVM | x86FlagsFixed,
		x86TestV86SP, x86TestV86SS,
		uint32(x86TestV86Data[0]), uint32(x86TestV86Data[1]), uint32(x86TestV86Data[2]), uint32(x86TestV86Data[3]),
	}
	c.ESP = x86TestPMStack - uint32(len(frame))*4
	for i, v := range frame {
		r.write32(c.ESP+uint32(i)*4, v)
	}
	require.NoError(r.t, r.run(1))
	require.Equal(r.t, X86ModeVirtual8086, c.Mode())
}

func TestX86V86_IRETEntersTask(t *testing.T) {
	r := newX86Rig(t)
	r.enterV86(0x0010, 0,
		0xB8, 0x34, 0x12, // MOV AX, 1234h
		0xA3, 0x02, 0x00, // MOV [2], AX
	)
	c := r.cpu
	assert.Equal(t, uint8(3), c.CPL())
	assert.Equal(t, uint32(0x0010), c.EIP)
	assert.Equal(t, uint32(x86TestV86SP), c.ESP)

	segs := []struct {
		idx int
		sel uint16
	}{
		{x86SegCS, x86TestV86CS},
		{x86SegSS, x86TestV86SS},
		{x86SegES, x86TestV86Data[0]},
		{x86SegDS, x86TestV86Data[1]},
		{x86SegFS, x86TestV86Data[2]},
		{x86SegGS, x86TestV86Data[3]},
	}
	for _, s := range segs {
		seg := c.Segment(s.idx)
		assert.Equal(t, s.sel, seg.Selector, "segment %d", s.idx)
		assert.Equal(t, uint32(s.sel)<<4, seg.Base, "segment %d", s.idx)
	}

	require.NoError(t, r.run(2))
	assert.Equal(t, uint16(0x1234), r.read16(0x71002), "DS addresses like real mode")
	assert.Equal(t, uint32(0x0016), c.EIP)
}

// An exit from the task to a ring 0 handler saves the data segments on the
// ring 0 stack and leaves them null
func TestX86V86_ExitFrame(t *testing.T) {
	r := newX86Rig(t)
	r.write(x86TestHandler, 0xF4)
	r.gate(x86VecGP, x86TestSelCode32, x86TestHandler, 0x8E)
	r.enterV86(0x0010, 0,
		0x40,       // INC AX
		0xCD, 0x21, // INT 21h (IOPL 0: #GP)
	)
	r.runToHalt()

	c := r.cpu
	assert.Equal(t, X86ModeProtected, c.Mode())
	assert.Equal(t, uint8(0), c.CPL())
	assert.Equal(t, uint32(x86TestHandler+1), c.EIP)
	assert.Equal(t, uint32(x86TestRing0Top-40), c.ESP)

	frame := []uint32{
		0,      // error code
		0x0011, // EIP of the INT
		x86TestV86CS,
		0, // EFLAGS, checked below
		x86TestV86SP,
		x86TestV86SS,
		uint32(x86TestV86Data[0]),
		uint32(x86TestV86Data[1]),
		uint32(x86TestV86Data[2]),
		uint32(x86TestV86Data[3]),
	}
	for i, want := range frame {
		if i == 3 {
			continue
		}
		assert.Equal(t, want, r.read32(c.ESP+uint32(i)*4), "frame slot %d", i)
	}
	fl := r.read32(c.ESP + 12)
	assert.NotZero(t, fl&x86FlagVM, "saved EFLAGS has VM")
	assert.Zero(t, fl&x86FlagIOPL)
	assert.Zero(t, c.Flags&x86FlagVM)

	for _, s := range []int{x86SegES, x86SegDS, x86SegFS, x86SegGS} {
		assert.Equal(t, uint16(0), c.Segment(s).Selector, "segment %d", s)
	}
}

// The IOPL-sensitive instructions trap to the monitor below IOPL 3
func TestX86V86_IOPLSensitive(t *testing.T) {
	cases := []struct {
		name string
		code []byte
	}{
		{"INT", []byte{0xCD, 0x21}},
		{"PUSHF", []byte{0x9C}},
		{"CLI", []byte{0xFA}},
		{"STI", []byte{0xFB}},
		{"POPF", []byte{0x9D}},
		{"IRET", []byte{0xCF}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newX86Rig(t)
			r.write(x86TestHandler, 0xF4)
			r.gate(x86VecGP, x86TestSelCode32, x86TestHandler, 0x8E)
			r.enterV86(0, x86FlagIF|1<<12, tc.code...) // IOPL 1
			r.runToHalt()

			c := r.cpu
			assert.Equal(t, uint32(x86TestHandler+1), c.EIP, "#GP handler ran")
			assert.Equal(t, uint32(0), r.read32(c.ESP), "error code")
			assert.Equal(t, uint32(0), r.read32(c.ESP+4), "EIP of the faulting instruction")
			assert.Equal(t, uint32(x86TestV86SP), r.read32(c.ESP+16), "task stack untouched")
		})
	}
}

func TestX86V86_IOPL3(t *testing.T) {
	r := newX86Rig(t)
	r.write(x86TestHandler, 0xF4)
	r.write(x86TestHandler+0x10, 0xF4)
	r.gate(x86VecGP, x86TestSelCode32, x86TestHandler, 0x8E)
	r.gate(0x21, x86TestSelCode32, x86TestHandler+0x10, 0xEE)
	r.enterV86(0, x86FlagIF|x86FlagIOPL,
		0xFA,       // CLI
		0x9C,       // PUSHF
		0xCD, 0x21, // INT 21h
	)
	r.runToHalt()

	c := r.cpu
	assert.Equal(t, uint32(x86TestHandler+0x11), c.EIP, "INT 21h went through the IDT")
	assert.Equal(t, uint16(0x3002), r.read16(x86TestV86SS<<4+x86TestV86SP-2), "PUSHF image without IF or VM")
	assert.Equal(t, uint32(0x0004), r.read32(c.ESP), "return past the INT")
	assert.Equal(t, uint32(x86TestV86SP-2), r.read32(c.ESP+12))
}

// A pending IRQ waits while the task runs below IOPL 3 and is taken through
// the IDT once IOPL allows it
func TestX86V86_HardwareInterrupt(t *testing.T) {
	for _, iopl := range []uint32{0, 3} {
		r := newX86Rig(t)
		r.write(x86TestHandler, 0xF4)
		r.gate(x86VecGP, x86TestSelCode32, x86TestHandler, 0x8E)
		r.gate(0x08, x86TestSelCode32, x86TestHandler+0x10, 0x8E)
		r.write(x86TestHandler+0x10, 0xF4)
		r.enterV86(0, x86FlagIF|iopl<<12, 0xEB, 0xFE) // JMP $

		r.m.IRQ().Raise(0)
		require.NoError(t, r.run(50))
		c := r.cpu
		if iopl < 3 {
			assert.Equal(t, X86ModeVirtual8086, c.Mode())
			assert.Zero(t, r.m.engine.Interrupts)
			assert.Equal(t, uint16(1), r.m.IRQ().State()&1, "the line stays raised")
			continue
		}
		assert.Equal(t, X86ModeProtected, c.Mode())
		assert.Equal(t, uint32(x86TestHandler+0x10), c.EIP, "taken at the quantum boundary")
		assert.Equal(t, uint64(1), r.m.engine.Interrupts)
		assert.Equal(t, uint32(0), r.read32(c.ESP), "return to the JMP")
		assert.Equal(t, uint32(x86TestV86CS), r.read32(c.ESP+4))
		assert.Equal(t, uint32(x86FlagVM|x86FlagIOPL|x86FlagIF|x86FlagsFixed), r.read32(c.ESP+8))
	}
}
