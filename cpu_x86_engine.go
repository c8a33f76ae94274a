// cpu_x86_engine.go - Block dispatch and event loop
//
// Execute runs one quantum: it looks up the block at CS:EIP, runs it,
// and acts on the outcome. Faults and traps are delivered through the
// current mode's vector table, escalating to a double fault and then to
// shutdown when delivery itself fails. At the end of the quantum the
// engine advances the time source (real and virtual-8086 modes) and
// accepts a pending hardware interrupt if IF (and, in virtual-8086 mode,
// IOPL) allows it.
//
// Internal defects surface as *x86InternalError with the recent block
// history attached; the engine never leaves an instruction half done.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"sync/atomic"
)

const x86DefaultQuantum = 10000

type x86Engine struct {
	cpu    *CPU_X86
	cache  *x86CodeCache
	pic    X86InterruptController
	clock  X86TimeSource
	trace  *x86TraceRing
	strict bool
	logf   func(format string, args ...any)

	mode   atomic.Uint32 // X86Mode at the end of the last quantum
	halted atomic.Bool

	Exceptions uint64
	Interrupts uint64
	Shutdowns  uint64
}

func newX86Engine(cpu *CPU_X86, cache *x86CodeCache, trace *x86TraceRing) *x86Engine {
	e := &x86Engine{
		cpu:   cpu,
		cache: cache,
		trace: trace,
		logf:  func(string, ...any) {},
	}
	cpu.mem.setWatcher(cache)
	return e
}

// Mode reports the processor mode as of the last completed quantum. Safe
// to call from other goroutines.
func (e *x86Engine) Mode() X86Mode {
	return X86Mode(e.mode.Load())
}

// Halted reports whether the last quantum ended in HLT
func (e *x86Engine) Halted() bool {
	return e.halted.Load()
}

// Execute runs up to quantum instructions
func (e *x86Engine) Execute(quantum int) (err error) {
	c := e.cpu
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*x86InternalError)
			if !ok {
				panic(r)
			}
			ie.EIP, ie.CS, ie.Mode = c.EIP, c.seg[x86SegCS].Selector, c.Mode()
			ie.History = e.trace.Lines()
			err = ie
		}
		e.mode.Store(uint32(c.Mode()))
		e.halted.Store(c.Halted)
	}()

	executed := 0
	for steps := 0; executed < quantum && !c.Halted && steps < quantum; steps++ {
		n, err := e.step(quantum - executed)
		executed += n
		if err != nil {
			return err
		}
	}

	if e.clock != nil && c.Mode() != X86ModeProtected {
		if c.Halted {
			executed = quantum
		}
		e.clock.Advance(uint64(executed))
	}
	if err := e.pollInterrupts(); err != nil {
		return err
	}
	if c.Halted && !c.IF() {
		return errX86Halted
	}
	return nil
}

// step runs one block, or a single instruction under EFLAGS.TF
func (e *x86Engine) step(limit int) (int, error) {
	c := e.cpu
	start := c.EIP
	entry := x86TraceEntry{CS: c.seg[x86SegCS].Selector, EIP: start, Mode: c.Mode()}
	singleStep := c.Flags&x86FlagTF != 0
	if singleStep {
		limit = 1
	}

	var blk *x86Block
	if f := catchX86Fault(func() { blk = e.cache.lookup(c) }); f != nil {
		entry.Outcome, entry.Event = x86OutException, f.Error()
		e.trace.Record(entry)
		return 0, e.raise(f)
	}

	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*x86InternalError); ok {
				entry.Op, entry.Event = ie.Op, "internal error"
				e.trace.Record(entry)
			}
			panic(r)
		}
	}()

	n, out, f, last := c.runBlock(blk, start, limit)
	entry.Insns, entry.Outcome, entry.Op = n, out, last
	if f != nil {
		entry.Event = f.Error()
	}
	e.trace.Record(entry)

	if f != nil {
		return n, e.raise(f)
	}
	if singleStep && out != x86OutHalt {
		c.DR[6] |= 1 << 14 // BS
		return n, e.raise(&x86Fault{Vector: x86VecDB, Kind: x86EventTrap})
	}
	return n, nil
}

// raise delivers f, escalating when delivery itself faults
func (e *x86Engine) raise(f *x86Fault) error {
	c := e.cpu
	for {
		if f.Unimplemented {
			if e.strict {
				return fmt.Errorf("%w at %04X:%08X: %s", errX86Unimplemented, c.seg[x86SegCS].Selector, c.EIP, f.Detail)
			}
			e.logf("x86: unimplemented at %04X:%08X: %s, raising #UD\n", c.seg[x86SegCS].Selector, c.EIP, f.Detail)
		}
		if f.Kind == x86EventHardware {
			e.Interrupts++
		} else {
			e.Exceptions++
		}

		nested := catchX86Fault(func() { c.deliver(f) })
		if nested == nil {
			return nil
		}
		switch {
		case f.Kind == x86EventFault && f.Vector == x86VecDF:
			e.logf("x86: triple fault at %04X:%08X (%s), shutting down\n", c.seg[x86SegCS].Selector, c.EIP, nested)
			e.Shutdowns++
			c.Reset()
			e.cache.Flush()
			return errX86TripleFault
		case x86DoubleFaults(f, nested):
			f = &x86Fault{Vector: x86VecDF, HasError: true}
		default:
			f = nested
		}
	}
}

// acceptsIRQ reports whether a hardware interrupt may be taken now. A
// virtual-8086 task below IOPL 3 leaves the line pending.
func (c *CPU_X86) acceptsIRQ() bool {
	if !c.IF() {
		return false
	}
	return c.Mode() != X86ModeVirtual8086 || c.iopl() == 3
}

// pollInterrupts accepts one pending hardware interrupt when the CPU allows
// it. An instruction in the STI / MOV SS shadow is run first.
func (e *x86Engine) pollInterrupts() error {
	c := e.cpu
	if e.pic == nil || !c.acceptsIRQ() || !e.pic.Pending() {
		return nil
	}
	if c.irqShadow && !c.Halted {
		if _, err := e.step(1); err != nil {
			return err
		}
		if !c.acceptsIRQ() {
			return nil
		}
	}
	c.irqShadow = false
	vec := e.pic.Acknowledge()
	return e.raise(&x86Fault{Vector: vec, Kind: x86EventHardware})
}
