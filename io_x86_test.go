// io_x86_test.go - Port space, interrupt lines, PIC and timer tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX86IOPorts_Routing(t *testing.T) {
	p := NewX86IOPorts()
	var outs []uint32
	dev := &X86ByteIO{
		In:  func(port uint16) byte { return byte(port) },
		Out: func(port uint16, v byte) { outs = append(outs, uint32(port)<<8|uint32(v)) },
	}
	require.NoError(t, p.RegisterRange(dev, 0x300, 0x303))

	assert.Equal(t, uint32(0x03020100), p.In32(0x300), "wide reads split into byte ports")
	p.Out16(0x302, 0xBBAA)
	assert.Equal(t, []uint32{0x302AA, 0x303BB}, outs)

	assert.Equal(t, byte(0xFF), p.In8(0x304), "unclaimed ports read all ones")
	assert.Equal(t, uint16(0xFFFF), p.In16(0x80))
	assert.Equal(t, uint32(0xFFFFFFFF), p.In32(0x80))
	p.Out8(0x80, 1)

	err := p.Register(dev, 0x2FF, 0x301)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0301h")
	assert.Equal(t, byte(0xFF), p.In8(0x2FF), "a failed registration claims nothing")

	p.Unregister(0x300)
	assert.Equal(t, byte(0xFF), p.In8(0x300))
	require.NoError(t, p.Register(dev, 0x300))
}

func TestX86ByteIO_NilHandlers(t *testing.T) {
	var d X86ByteIO
	assert.Equal(t, uint16(0xFFFF), d.In16(0))
	d.Out32(0, 0x12345678)
}

func TestX86IRQLines_Concurrent(t *testing.T) {
	var l X86IRQLines
	var wg sync.WaitGroup
	for line := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Raise(line)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint16(0xFFFF), l.State())
	l.Lower(3)
	assert.Equal(t, uint16(0xFFF7), l.State())
}

func TestX86PIC_AcknowledgePriority(t *testing.T) {
	lines := &X86IRQLines{}
	pic := NewX86PIC(lines)
	assert.False(t, pic.Pending())

	lines.Raise(9)
	lines.Raise(4)
	require.True(t, pic.Pending())
	assert.Equal(t, byte(0x0C), pic.Acknowledge(), "lowest line first, master base 08h")
	assert.Equal(t, byte(0x71), pic.Acknowledge(), "slave base 70h")
	assert.False(t, pic.Pending())
	assert.Equal(t, byte(0x0F), pic.Acknowledge(), "spurious IRQ 7")

	pic.SetMask(1 << 5)
	lines.Raise(5)
	assert.False(t, pic.Pending(), "masked")
	pic.SetMask(0)
	assert.True(t, pic.Pending())
}

func TestX86PIC_PortProgramming(t *testing.T) {
	lines := &X86IRQLines{}
	pic := NewX86PIC(lines)
	ports := NewX86IOPorts()
	require.NoError(t, ports.Register(pic.Device(), X86_PORT_PIC1_CMD, X86_PORT_PIC1_DATA, X86_PORT_PIC2_CMD, X86_PORT_PIC2_DATA))

	// Remap the master to 20h the way a protected-mode kernel does
	ports.Out8(X86_PORT_PIC1_CMD, 0x11)
	ports.Out8(X86_PORT_PIC1_DATA, 0x20)
	ports.Out8(X86_PORT_PIC1_DATA, 0x04)
	ports.Out8(X86_PORT_PIC1_DATA, 0x01)
	ports.Out8(X86_PORT_PIC1_DATA, 0xFE) // OCW1: mask all but IRQ 0
	ports.Out8(X86_PORT_PIC2_DATA, 0xFF)

	assert.Equal(t, byte(0xFE), ports.In8(X86_PORT_PIC1_DATA))
	assert.Equal(t, byte(0xFF), ports.In8(X86_PORT_PIC2_DATA))

	lines.Raise(1)
	assert.False(t, pic.Pending())
	lines.Raise(0)
	assert.Equal(t, byte(0x20), pic.Acknowledge())

	// EOI is accepted and changes nothing
	ports.Out8(X86_PORT_PIC1_CMD, 0x20)
	assert.Equal(t, byte(0xFE), ports.In8(X86_PORT_PIC1_DATA))
}

func TestX86InstructionTimer(t *testing.T) {
	lines := &X86IRQLines{}
	tm := &X86InstructionTimer{Lines: lines, Line: 0, Period: 100}
	tm.Advance(99)
	assert.Equal(t, uint16(0), lines.State())
	tm.Advance(1)
	assert.Equal(t, uint16(1), lines.State())
	tm.Advance(250)
	assert.Equal(t, uint64(3), tm.Ticks())

	off := &X86InstructionTimer{Lines: lines}
	off.Advance(1 << 20)
	assert.Zero(t, off.Ticks())
}
