// machine_x86.go - x86 PC machine: configuration, program loading and run control
//
// The machine wires the CPU to physical memory, the port space, the
// interrupt controller and an instruction-driven timer, and runs the engine
// in quanta on its own goroutine. A sibling goroutine in the same errgroup
// reports MIPS and, while the guest is in protected mode, drives the time
// source from the retired instruction count.
//
// Flat images are loaded at LoadAddr and entered in real mode with CS:IP
// chosen so that CS:IP addresses Entry, SS:SP just below the image.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	x86DefaultLoadAddr    = 0x7C00
	x86DefaultTimerPeriod = 100000 // instructions per IRQ 0
	x86StatusInterval     = 10 * time.Millisecond
)

// X86Config holds configuration for the x86 machine. Zero fields take
// defaults.
type X86Config struct {
	MemorySize           uint32
	LoadAddr             uint32
	Entry                uint32 // linear entry point, LoadAddr when zero
	Quantum              int
	MaxBlockInstructions int
	MaxCachedBlocks      int
	StrictUnimplemented  bool // unsupported instructions stop the machine instead of raising #UD
	TraceDepth           int
	PerfEnabled          bool // Enable MIPS reporting

	TimerPeriod  uint64 // instructions between IRQ 0 requests, 0 for the default
	TimerOff     bool
	ConsoleOut   io.Writer // debug console at port E9h, stdout when nil
	StatusOut    io.Writer // MIPS reports, stdout when nil
	DisableTrace bool
}

func (cfg *X86Config) applyDefaults() {
	if cfg.MemorySize == 0 {
		cfg.MemorySize = x86DefaultMemorySize
	}
	if cfg.LoadAddr == 0 {
		cfg.LoadAddr = x86DefaultLoadAddr
	}
	if cfg.Entry == 0 {
		cfg.Entry = cfg.LoadAddr
	}
	if cfg.Quantum <= 0 {
		cfg.Quantum = x86DefaultQuantum
	}
	if cfg.MaxBlockInstructions <= 0 {
		cfg.MaxBlockInstructions = x86DefaultBlockInstructions
	}
	if cfg.MaxCachedBlocks <= 0 {
		cfg.MaxCachedBlocks = x86DefaultCachedBlocks
	}
	if cfg.TraceDepth == 0 && !cfg.DisableTrace {
		cfg.TraceDepth = x86DefaultTraceDepth
	}
	if cfg.TimerPeriod == 0 {
		cfg.TimerPeriod = x86DefaultTimerPeriod
	}
	if cfg.ConsoleOut == nil {
		cfg.ConsoleOut = os.Stdout
	}
	if cfg.StatusOut == nil {
		cfg.StatusOut = os.Stdout
	}
}

// x86Logf receives machine events: shutdowns and unimplemented
// instructions executed as #UD.
type x86Logf func(format string, args ...any)

// x86LockedClock serialises a time source shared by the CPU goroutine and
// the status ticker.
type x86LockedClock struct {
	mu  sync.Mutex
	src X86TimeSource
}

func (l *x86LockedClock) Advance(n uint64) {
	l.mu.Lock()
	l.src.Advance(n)
	l.mu.Unlock()
}

// X86Machine is a single-CPU PC core
type X86Machine struct {
	cfg X86Config

	cpu    *CPU_X86
	mem    *X86AddressSpace
	ports  *X86IOPorts
	irq    *X86IRQLines
	pic    *x86SimplePIC
	timer  *X86InstructionTimer
	clock  *x86LockedClock
	cache  *x86CodeCache
	trace  *x86TraceRing
	engine *x86Engine
	logf   x86Logf

	retired atomic.Uint64 // instructions run, published per quantum

	// Performance monitoring
	perfStartTime  time.Time
	lastPerfReport time.Time
	lastRetired    uint64

	running    atomic.Bool
	execMu     sync.Mutex
	execDone   chan struct{}
	execActive bool
	execErr    error
}

// NewX86Machine builds a machine with the standard devices attached
func NewX86Machine(cfg X86Config) (*X86Machine, error) {
	cfg.applyDefaults()
	if cfg.LoadAddr >= cfg.MemorySize || cfg.Entry >= cfg.MemorySize {
		return nil, fmt.Errorf("load address %08X / entry %08X outside %d bytes of memory", cfg.LoadAddr, cfg.Entry, cfg.MemorySize)
	}

	m := &X86Machine{
		cfg:   cfg,
		mem:   NewX86AddressSpace(cfg.MemorySize),
		ports: NewX86IOPorts(),
		irq:   &X86IRQLines{},
	}
	m.logf = func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format, args...)
	}
	m.pic = NewX86PIC(m.irq)
	m.timer = &X86InstructionTimer{Lines: m.irq, Line: 0, Period: cfg.TimerPeriod}
	if cfg.TimerOff {
		m.timer.Period = 0
	}
	m.clock = &x86LockedClock{src: m.timer}

	if err := m.ports.Register(m.pic.Device(), X86_PORT_PIC1_CMD, X86_PORT_PIC1_DATA, X86_PORT_PIC2_CMD, X86_PORT_PIC2_DATA); err != nil {
		return nil, fmt.Errorf("attaching PIC: %w", err)
	}
	if err := m.ports.Register(NewX86DebugConsole(cfg.ConsoleOut), X86_PORT_DEBUGCON); err != nil {
		return nil, fmt.Errorf("attaching debug console: %w", err)
	}

	m.cpu = NewCPU_X86(m.mem, m.ports)
	m.cpu.strictUnimplemented = cfg.StrictUnimplemented
	m.cpu.tsc = func() uint64 { return m.cpu.Instructions }

	m.cache = newX86CodeCache(cfg.MaxBlockInstructions, cfg.MaxCachedBlocks)
	m.trace = newX86TraceRing(cfg.TraceDepth)
	m.engine = newX86Engine(m.cpu, m.cache, m.trace)
	m.engine.pic = m.pic
	m.engine.clock = m.clock
	m.engine.strict = cfg.StrictUnimplemented
	m.engine.logf = func(format string, args ...any) { m.logf(format, args...) }

	m.resetEntry()
	return m, nil
}

// SetLogger redirects machine event messages
func (m *X86Machine) SetLogger(logf func(format string, args ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	m.logf = logf
}

func (m *X86Machine) CPU() *CPU_X86               { return m.cpu }
func (m *X86Machine) Memory() *X86AddressSpace    { return m.mem }
func (m *X86Machine) Ports() *X86IOPorts          { return m.ports }
func (m *X86Machine) IRQ() *X86IRQLines           { return m.irq }
func (m *X86Machine) PIC() X86InterruptController { return m.pic }
func (m *X86Machine) Config() X86Config           { return m.cfg }

// Trace returns the recent block history, oldest first
func (m *X86Machine) Trace() []x86TraceEntry {
	return m.trace.Entries()
}

// resetEntry points CS:IP at the configured entry and SS:SP below the image
func (m *X86Machine) resetEntry() {
	c := m.cpu
	entry := m.cfg.Entry
	cs := uint16((entry >> 4) &^ 0xFFF)
	c.seg[x86SegCS] = x86RealSegment(cs)
	c.EIP = entry - uint32(cs)<<4

	ss := uint16((m.cfg.LoadAddr >> 4) &^ 0xFFF)
	c.seg[x86SegSS] = x86RealSegment(ss)
	c.ESP = m.cfg.LoadAddr - uint32(ss)<<4
	for _, s := range []int{x86SegDS, x86SegES} {
		c.seg[s] = x86RealSegment(cs)
	}
}

// Reset returns the CPU to its entry state. Memory is left intact.
func (m *X86Machine) Reset() error {
	if m.IsRunning() {
		return errX86MachineRunning
	}
	m.cpu.Reset()
	m.cache.Flush()
	m.trace.Reset()
	m.retired.Store(0)
	m.lastRetired = 0
	m.resetEntry()
	return nil
}

// LoadProgramData copies a flat image to LoadAddr and resets to the entry point
func (m *X86Machine) LoadProgramData(data []byte) error {
	if m.IsRunning() {
		return errX86MachineRunning
	}
	if uint64(len(data))+uint64(m.cfg.LoadAddr) > uint64(m.mem.Size()) {
		return fmt.Errorf("program too large: %d bytes", len(data))
	}
	if err := m.mem.LoadAt(m.cfg.LoadAddr, data); err != nil {
		return fmt.Errorf("loading program: %w", err)
	}
	return m.Reset()
}

// LoadProgram loads a flat binary image from a file
func (m *X86Machine) LoadProgram(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return m.LoadProgramData(data)
}

// execute runs one quantum and publishes what it retired
func (m *X86Machine) execute(quantum int) error {
	before := m.cpu.Instructions
	err := m.engine.Execute(quantum)
	after := m.cpu.Instructions
	if after < before { // reset by a shutdown
		before = 0
	}
	m.retired.Add(after - before)
	return err
}

// tickClock advances the time source for protected-mode quanta, which the
// engine leaves to the machine. An idle (halted) interval counts as a
// full quantum so a timer interrupt can end the HLT.
func (m *X86Machine) tickClock() {
	r := m.retired.Load()
	d := r - m.lastRetired
	m.lastRetired = r
	if m.engine.Mode() != X86ModeProtected {
		return
	}
	if d == 0 && m.engine.Halted() {
		d = uint64(m.cfg.Quantum)
	}
	if d > 0 {
		m.clock.Advance(d)
	}
}

// RunInstructions runs at least n instructions on the calling goroutine,
// stopping early at a halt with interrupts disabled or an engine error.
// errX86Halted is reported as success.
func (m *X86Machine) RunInstructions(n int) error {
	if m.IsRunning() {
		return errX86MachineRunning
	}
	m.mem.SealMappings()
	start := m.retired.Load()
	for int(m.retired.Load()-start) < n {
		q := min(m.cfg.Quantum, n-int(m.retired.Load()-start))
		err := m.execute(q)
		m.tickClock()
		if errors.Is(err, errX86Halted) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.cpu.Halted && !m.pic.Pending() && m.timer.Period == 0 {
			return nil // nothing can wake it
		}
	}
	return nil
}

// Step runs a single instruction, or accepts one interrupt
func (m *X86Machine) Step() error {
	if m.IsRunning() {
		return errX86MachineRunning
	}
	m.mem.SealMappings()
	err := m.execute(1)
	m.tickClock()
	if errors.Is(err, errX86Halted) {
		return nil
	}
	return err
}

// StartExecution runs the machine on its own goroutines until it halts,
// shuts down, fails or is stopped.
func (m *X86Machine) StartExecution() {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	if m.execActive {
		return
	}
	m.mem.SealMappings()
	m.execActive = true
	m.execErr = nil
	m.running.Store(true)
	m.execDone = make(chan struct{})

	if m.cfg.PerfEnabled {
		m.perfStartTime = time.Now()
		m.lastPerfReport = m.perfStartTime
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return m.cpuLoop()
	})
	g.Go(func() error {
		return m.statusLoop(ctx)
	})

	done := m.execDone
	go func() {
		err := g.Wait()
		m.execMu.Lock()
		m.execErr = err
		m.execActive = false
		m.running.Store(false)
		close(done)
		m.execMu.Unlock()
	}()
}

func (m *X86Machine) cpuLoop() error {
	for m.running.Load() {
		err := m.execute(m.cfg.Quantum)
		switch {
		case errors.Is(err, errX86Halted):
			return nil
		case errors.Is(err, errX86TripleFault):
			return err
		case err != nil:
			var ie *x86InternalError
			if errors.As(err, &ie) {
				m.logf("%v\nx86: machine stopped\n", ie)
			}
			return err
		}
		if m.engine.Halted() {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func (m *X86Machine) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(x86StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.tickClock()
			if m.cfg.PerfEnabled && now.Sub(m.lastPerfReport) >= time.Second {
				m.reportPerf(now)
			}
		}
	}
}

func (m *X86Machine) reportPerf(now time.Time) {
	count := m.retired.Load()
	elapsed := now.Sub(m.perfStartTime).Seconds()
	mips := float64(count) / elapsed / 1_000_000
	fmt.Fprintf(m.cfg.StatusOut, "x86: %.2f MIPS (%.0f instructions in %.1fs)\n", mips, float64(count), elapsed)
	m.lastPerfReport = now
}

// IsRunning returns whether the machine goroutines are active
func (m *X86Machine) IsRunning() bool {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	return m.execActive
}

// Wait blocks until the machine stops on its own and returns why: nil for
// a halt, errX86TripleFault for a shutdown, or the engine error.
func (m *X86Machine) Wait() error {
	m.execMu.Lock()
	done := m.execDone
	m.execMu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	m.execMu.Lock()
	defer m.execMu.Unlock()
	return m.execErr
}

// Stop asks the CPU goroutine to finish its quantum and waits for it
func (m *X86Machine) Stop() error {
	m.execMu.Lock()
	if !m.execActive {
		m.execMu.Unlock()
		return nil
	}
	m.running.Store(false)
	m.execMu.Unlock()
	return m.Wait()
}

// Run executes until the machine halts, shuts down or fails
func (m *X86Machine) Run() error {
	m.StartExecution()
	return m.Wait()
}

// Stats summarises engine and cache counters. Call with the machine stopped.
func (m *X86Machine) Stats() string {
	e, cc := m.engine, m.cache
	return fmt.Sprintf("insns=%d blocks=%d hits=%d misses=%d evictions=%d flushes=%d exceptions=%d irqs=%d shutdowns=%d",
		m.retired.Load(), cc.Len(), cc.Hits, cc.Misses, cc.Evictions, cc.Flushes, e.Exceptions, e.Interrupts, e.Shutdowns)
}

// Poke writes bytes to physical memory, evicting any code decoded from them
func (m *X86Machine) Poke(addr uint32, data []byte) error {
	if m.IsRunning() {
		return errX86MachineRunning
	}
	if uint64(addr)+uint64(len(data)) > uint64(m.mem.Size()) {
		return fmt.Errorf("poke %08X+%d outside memory", addr, len(data))
	}
	for i, b := range data {
		m.mem.Write8(addr+uint32(i), b)
	}
	return nil
}

// Peek reads n bytes of physical memory
func (m *X86Machine) Peek(addr, n uint32) ([]byte, error) {
	if uint64(addr)+uint64(n) > uint64(m.mem.Size()) {
		return nil, fmt.Errorf("peek %08X+%d outside memory", addr, n)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = m.mem.Read8(addr + uint32(i))
	}
	return out, nil
}
