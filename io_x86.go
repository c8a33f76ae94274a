// io_x86.go - x86 port I/O space, interrupt lines and time source
//
// Devices claim port numbers in a 64K port space. Ports nobody claims read
// as all ones and swallow writes. Interrupt requests arrive on 16 lines
// that devices may raise from any goroutine; the CPU samples them through
// an X86InterruptController at quantum boundaries.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"math/bits"
	"sync"
	"sync/atomic"
)

// Standard PC port assignments used by the built-in devices
const (
	X86_PORT_PIC1_CMD  = 0x20
	X86_PORT_PIC1_DATA = 0x21
	X86_PORT_PIC2_CMD  = 0xA0
	X86_PORT_PIC2_DATA = 0xA1
	X86_PORT_DEBUGCON  = 0xE9 // Bochs-style debug console
)

// X86IODevice is a port-mapped device
type X86IODevice interface {
	In8(port uint16) byte
	In16(port uint16) uint16
	In32(port uint16) uint32
	Out8(port uint16, value byte)
	Out16(port uint16, value uint16)
	Out32(port uint16, value uint32)
}

// X86ByteIO adapts byte-wide handlers to X86IODevice; wider accesses are
// split into consecutive byte ports.
type X86ByteIO struct {
	In  func(port uint16) byte
	Out func(port uint16, value byte)
}

func (d *X86ByteIO) In8(port uint16) byte {
	if d.In == nil {
		return 0xFF
	}
	return d.In(port)
}

func (d *X86ByteIO) In16(port uint16) uint16 {
	return uint16(d.In8(port)) | uint16(d.In8(port+1))<<8
}

func (d *X86ByteIO) In32(port uint16) uint32 {
	return uint32(d.In16(port)) | uint32(d.In16(port+2))<<16
}

func (d *X86ByteIO) Out8(port uint16, value byte) {
	if d.Out != nil {
		d.Out(port, value)
	}
}

func (d *X86ByteIO) Out16(port uint16, value uint16) {
	d.Out8(port, byte(value))
	d.Out8(port+1, byte(value>>8))
}

func (d *X86ByteIO) Out32(port uint16, value uint32) {
	d.Out16(port, uint16(value))
	d.Out16(port+2, uint16(value>>16))
}

// X86IOPorts routes port accesses to registered devices
type X86IOPorts struct {
	devices []X86IODevice
}

func NewX86IOPorts() *X86IOPorts {
	return &X86IOPorts{devices: make([]X86IODevice, 0x10000)}
}

// Register attaches dev to the given ports
func (p *X86IOPorts) Register(dev X86IODevice, ports ...uint16) error {
	for _, port := range ports {
		if p.devices[port] != nil {
			return fmt.Errorf("x86: port %04Xh already claimed", port)
		}
	}
	for _, port := range ports {
		p.devices[port] = dev
	}
	return nil
}

// RegisterRange attaches dev to [first, last]
func (p *X86IOPorts) RegisterRange(dev X86IODevice, first, last uint16) error {
	ports := make([]uint16, 0, int(last-first)+1)
	for port := int(first); port <= int(last); port++ {
		ports = append(ports, uint16(port))
	}
	return p.Register(dev, ports...)
}

func (p *X86IOPorts) Unregister(ports ...uint16) {
	for _, port := range ports {
		p.devices[port] = nil
	}
}

func (p *X86IOPorts) In8(port uint16) byte {
	if d := p.devices[port]; d != nil {
		return d.In8(port)
	}
	return 0xFF
}

func (p *X86IOPorts) In16(port uint16) uint16 {
	if d := p.devices[port]; d != nil {
		return d.In16(port)
	}
	return 0xFFFF
}

func (p *X86IOPorts) In32(port uint16) uint32 {
	if d := p.devices[port]; d != nil {
		return d.In32(port)
	}
	return 0xFFFFFFFF
}

func (p *X86IOPorts) Out8(port uint16, value byte) {
	if d := p.devices[port]; d != nil {
		d.Out8(port, value)
	}
}

func (p *X86IOPorts) Out16(port uint16, value uint16) {
	if d := p.devices[port]; d != nil {
		d.Out16(port, value)
	}
}

func (p *X86IOPorts) Out32(port uint16, value uint32) {
	if d := p.devices[port]; d != nil {
		d.Out32(port, value)
	}
}

// X86DebugConsole echoes bytes written to port E9h
type X86DebugConsole struct {
	mu  sync.Mutex
	out io.Writer
}

func NewX86DebugConsole(out io.Writer) *X86ByteIO {
	con := &X86DebugConsole{out: out}
	return &X86ByteIO{
		In: func(uint16) byte { return X86_PORT_DEBUGCON },
		Out: func(_ uint16, v byte) {
			con.mu.Lock()
			con.out.Write([]byte{v})
			con.mu.Unlock()
		},
	}
}

// -----------------------------------------------------------------------------
// Interrupt lines
// -----------------------------------------------------------------------------

// X86IRQLines holds the 16 interrupt request lines. Safe for concurrent use.
type X86IRQLines struct {
	lines atomic.Uint32
}

func (l *X86IRQLines) Raise(line int) {
	for {
		old := l.lines.Load()
		if l.lines.CompareAndSwap(old, old|1<<(line&15)) {
			return
		}
	}
}

func (l *X86IRQLines) Lower(line int) {
	for {
		old := l.lines.Load()
		if l.lines.CompareAndSwap(old, old&^(1<<(line&15))) {
			return
		}
	}
}

func (l *X86IRQLines) State() uint16 {
	return uint16(l.lines.Load())
}

// X86InterruptController arbitrates pending requests for the CPU
type X86InterruptController interface {
	// Pending reports whether an unmasked request is waiting
	Pending() bool
	// Acknowledge takes the highest-priority request and returns its vector
	Acknowledge() byte
}

// x86SimplePIC is a cascaded 8259 pair reduced to what guests touch: the
// vector bases (ICW2) and the mask registers (OCW1). Lines are edge
// triggered: acknowledging a request lowers its line.
type x86SimplePIC struct {
	lines *X86IRQLines
	mask  atomic.Uint32
	base  [2]byte
	icw   [2]byte // initialisation word expected next, 0 when idle
}

func NewX86PIC(lines *X86IRQLines) *x86SimplePIC {
	return &x86SimplePIC{lines: lines, base: [2]byte{0x08, 0x70}}
}

func (p *x86SimplePIC) Pending() bool {
	return uint32(p.lines.State())&^p.mask.Load() != 0
}

func (p *x86SimplePIC) Acknowledge() byte {
	req := uint32(p.lines.State()) &^ p.mask.Load()
	if req == 0 {
		return p.base[0] + 7 // spurious
	}
	line := bits.TrailingZeros32(req)
	p.lines.Lower(line)
	if line < 8 {
		return p.base[0] + byte(line)
	}
	return p.base[1] + byte(line-8)
}

// SetMask sets the 16-bit line mask (1 = masked)
func (p *x86SimplePIC) SetMask(m uint16) {
	p.mask.Store(uint32(m))
}

func (p *x86SimplePIC) in(port uint16) byte {
	chip := 0
	if port >= X86_PORT_PIC2_CMD {
		chip = 1
	}
	if port&1 == 0 {
		return 0
	}
	return byte(p.mask.Load() >> (8 * chip))
}

func (p *x86SimplePIC) out(port uint16, v byte) {
	chip := 0
	if port >= X86_PORT_PIC2_CMD {
		chip = 1
	}
	if port&1 == 0 {
		if v&0x10 != 0 { // ICW1
			p.icw[chip] = 2
		}
		return // OCW2/OCW3 (EOI etc.) need no state here
	}
	switch p.icw[chip] {
	case 2:
		p.base[chip] = v &^ 7
		p.icw[chip] = 3
	case 3:
		p.icw[chip] = 4
	case 4:
		p.icw[chip] = 0
	default:
		shift := 8 * chip
		for {
			old := p.mask.Load()
			m := old&^(0xFF<<shift) | uint32(v)<<shift
			if p.mask.CompareAndSwap(old, m) {
				return
			}
		}
	}
}

// Device returns the port device exposing the PIC at 20h/21h and A0h/A1h
func (p *x86SimplePIC) Device() X86IODevice {
	return &X86ByteIO{In: p.in, Out: p.out}
}

// -----------------------------------------------------------------------------
// Time
// -----------------------------------------------------------------------------

// X86TimeSource is advanced by the number of instructions executed
type X86TimeSource interface {
	Advance(instructions uint64)
}

// X86InstructionTimer raises an IRQ line every Period instructions of
// advancement, standing in for a programmable interval timer.
type X86InstructionTimer struct {
	Lines  *X86IRQLines
	Line   int
	Period uint64
	count  uint64
	ticks  uint64
}

func (t *X86InstructionTimer) Advance(n uint64) {
	if t.Period == 0 {
		return
	}
	t.count += n
	for t.count >= t.Period {
		t.count -= t.Period
		t.ticks++
		t.Lines.Raise(t.Line)
	}
}

// Ticks returns how many times the timer has fired
func (t *X86InstructionTimer) Ticks() uint64 {
	return t.ticks
}
