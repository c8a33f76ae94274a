// monitor_x86.go - Interactive machine monitor
//
// A line-oriented monitor over a stopped machine. On a terminal it runs in
// raw mode with line editing and history; otherwise it reads commands from
// the input stream one per line, which is how scripts and tests drive it.
//
// Addresses are linear. Numbers accept $hex, 0xhex, #decimal or bare hex.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

func init() {
	compiledFeatures = append(compiledFeatures, "monitor:terminal")
}

const monitorPrompt = "x86> "

// MonitorCommand is a parsed command with name and arguments.
type MonitorCommand struct {
	Name string
	Args []string
}

// ParseCommand splits a raw input line into a command name and arguments.
func ParseCommand(input string) MonitorCommand {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return MonitorCommand{}
	}
	return MonitorCommand{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}
}

// ParseAddress parses a monitor number: $hex, 0xhex, #decimal or bare hex
func ParseAddress(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	base := 16
	switch {
	case s == "":
		return 0, false
	case strings.HasPrefix(s, "#"):
		s, base = s[1:], 10
	case strings.HasPrefix(s, "$"):
		s = s[1:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 32)
	return uint32(v), err == nil
}

// X86Monitor drives a machine from monitor commands
type X86Monitor struct {
	m       *X86Machine
	out     io.Writer
	history []string
	lastPC  uint32 // next address for a bare "d"
	lastMem uint32 // next address for a bare "m"
}

func NewX86Monitor(m *X86Machine, out io.Writer) *X86Monitor {
	mon := &X86Monitor{m: m, out: out}
	mon.lastPC = mon.pc()
	return mon
}

func (mon *X86Monitor) printf(format string, args ...any) {
	fmt.Fprintf(mon.out, format, args...)
}

// pc is the linear address of CS:EIP
func (mon *X86Monitor) pc() uint32 {
	c := mon.m.cpu
	return c.seg[x86SegCS].Base + c.EIP
}

// ExecuteCommand runs one command line and reports whether the monitor
// should exit.
func (mon *X86Monitor) ExecuteCommand(input string) bool {
	cmd := ParseCommand(input)
	if cmd.Name == "" {
		return false
	}
	if len(mon.history) == 0 || mon.history[len(mon.history)-1] != input {
		mon.history = append(mon.history, input)
	}

	switch cmd.Name {
	case "r", "regs":
		mon.cmdRegisters()
	case "d", "disasm":
		mon.cmdDisassemble(cmd)
	case "m", "mem":
		mon.cmdMemoryDump(cmd)
	case "w", "poke":
		mon.cmdWrite(cmd)
	case "s", "step":
		mon.cmdStep(cmd)
	case "g", "run":
		mon.cmdRun(cmd)
	case "irq":
		mon.cmdIRQ(cmd)
	case "t", "trace":
		for _, l := range mon.m.trace.Lines() {
			mon.printf("%s\n", l)
		}
	case "stats":
		mon.printf("%s\n", mon.m.Stats())
	case "ss":
		mon.cmdSaveState(cmd)
	case "sl":
		mon.cmdLoadState(cmd)
	case "reset":
		if err := mon.m.Reset(); err != nil {
			mon.printf("reset: %v\n", err)
		}
		mon.lastPC = mon.pc()
	case "q", "quit", "x":
		return true
	case "?", "h", "help":
		mon.cmdHelp()
	default:
		mon.printf("Unknown command: %s (type 'help')\n", cmd.Name)
	}
	return false
}

func (mon *X86Monitor) cmdRegisters() {
	c := mon.m.cpu
	mon.printf("%s\n", c.String())
	f := c.FPU
	mon.printf("FPU: TOP=%d FSW=%04X FCW=%04X FTW=%04X", f.top(), f.FSW, f.FCW, f.FTW)
	for i := range 8 {
		if f.getTag(f.physReg(i)) != x87TagEmpty {
			mon.printf(" ST%d=%g", i, f.ST(i))
		}
	}
	mon.printf("\n")
}

func (mon *X86Monitor) readLinear(addr uint32) (byte, bool) {
	mem := mon.m.mem
	c := mon.m.cpu
	phys, ok := addr, true
	if c.CR0&x86CR0PG != 0 {
		phys, ok = c.peekLinear(addr)
	}
	if !ok || phys >= mem.Size() {
		return 0, false
	}
	return mem.Read8(phys), true
}

func (mon *X86Monitor) cmdDisassemble(cmd MonitorCommand) {
	addr, count := mon.lastPC, 8
	if len(cmd.Args) >= 1 {
		if v, ok := ParseAddress(cmd.Args[0]); ok {
			addr = v
		}
	}
	if len(cmd.Args) >= 2 {
		if v, ok := ParseAddress(cmd.Args[1]); ok {
			count = int(v)
		}
	}
	pc := mon.pc()
	big := mon.m.cpu.seg[x86SegCS].Big
	for _, l := range disassembleX86(mon.readLinear, addr, count, big) {
		marker := "  "
		if l.Addr == pc {
			marker = "> "
		}
		mon.printf("%s%s\n", marker, l)
		addr = l.Addr + uint32(len(l.Bytes))
	}
	mon.lastPC = addr
}

func (mon *X86Monitor) cmdMemoryDump(cmd MonitorCommand) {
	addr, lines := mon.lastMem, 8
	if len(cmd.Args) >= 1 {
		if v, ok := ParseAddress(cmd.Args[0]); ok {
			addr = v
		}
	}
	if len(cmd.Args) >= 2 {
		if v, ok := ParseAddress(cmd.Args[1]); ok {
			lines = int(v)
		}
	}

	for range lines {
		var hexParts []string
		var ascii []byte
		for j := range uint32(16) {
			b, ok := mon.readLinear(addr + j)
			if !ok {
				hexParts = append(hexParts, "??")
				ascii = append(ascii, ' ')
				continue
			}
			hexParts = append(hexParts, fmt.Sprintf("%02X", b))
			if b >= 0x20 && b < 0x7F {
				ascii = append(ascii, b)
			} else {
				ascii = append(ascii, '.')
			}
		}
		hexStr := strings.Join(hexParts[:8], " ") + "  " + strings.Join(hexParts[8:], " ")
		mon.printf("%08X: %s  %s\n", addr, hexStr, string(ascii))
		addr += 16
	}
	mon.lastMem = addr
}

// w addr byte...
func (mon *X86Monitor) cmdWrite(cmd MonitorCommand) {
	if len(cmd.Args) < 2 {
		mon.printf("Usage: w <addr> <byte> [byte...]\n")
		return
	}
	addr, ok := ParseAddress(cmd.Args[0])
	if !ok {
		mon.printf("Invalid address: %s\n", cmd.Args[0])
		return
	}
	data := make([]byte, 0, len(cmd.Args)-1)
	for _, a := range cmd.Args[1:] {
		v, ok := ParseAddress(a)
		if !ok || v > 0xFF {
			mon.printf("Invalid byte: %s\n", a)
			return
		}
		data = append(data, byte(v))
	}
	if err := mon.m.Poke(addr, data); err != nil {
		mon.printf("w: %v\n", err)
	}
}

func (mon *X86Monitor) cmdStep(cmd MonitorCommand) {
	count := 1
	if len(cmd.Args) >= 1 {
		if v, ok := ParseAddress(cmd.Args[0]); ok {
			count = int(v)
		}
	}
	for range count {
		if err := mon.m.Step(); err != nil {
			mon.printf("step: %v\n", err)
			break
		}
	}
	mon.lastPC = mon.pc()
	mon.cmdRegisters()
	mon.cmdDisassemble(MonitorCommand{Args: []string{fmt.Sprintf("%X", mon.lastPC), "1"}})
}

// g [count]: run count instructions, or until the machine stops
func (mon *X86Monitor) cmdRun(cmd MonitorCommand) {
	var err error
	if len(cmd.Args) >= 1 {
		v, ok := ParseAddress(cmd.Args[0])
		if !ok {
			mon.printf("Invalid count: %s\n", cmd.Args[0])
			return
		}
		err = mon.m.RunInstructions(int(v))
	} else {
		err = mon.m.Run()
	}
	switch {
	case errors.Is(err, errX86TripleFault):
		mon.printf("Machine shut down (triple fault)\n")
	case err != nil:
		mon.printf("run: %v\n", err)
	}
	mon.lastPC = mon.pc()
	mon.printf("Stopped at %04X:%08X\n", mon.m.cpu.seg[x86SegCS].Selector, mon.m.cpu.EIP)
}

func (mon *X86Monitor) cmdIRQ(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.printf("IRQ lines: %04X\n", mon.m.irq.State())
		return
	}
	line, err := strconv.Atoi(cmd.Args[0])
	if err != nil || line < 0 || line > 15 {
		mon.printf("Invalid IRQ line: %s\n", cmd.Args[0])
		return
	}
	mon.m.irq.Raise(line)
}

func (mon *X86Monitor) cmdSaveState(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.printf("Usage: ss <file>\n")
		return
	}
	if err := mon.m.SaveSnapshotToFile(cmd.Args[0]); err != nil {
		mon.printf("ss: %v\n", err)
		return
	}
	mon.printf("State saved to %s\n", cmd.Args[0])
}

func (mon *X86Monitor) cmdLoadState(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.printf("Usage: sl <file>\n")
		return
	}
	if err := mon.m.LoadSnapshotFromFile(cmd.Args[0]); err != nil {
		mon.printf("sl: %v\n", err)
		return
	}
	mon.lastPC = mon.pc()
	mon.printf("State loaded from %s\n", cmd.Args[0])
}

func (mon *X86Monitor) cmdHelp() {
	mon.printf(`Commands:
  r                     show registers
  d [addr] [count]      disassemble
  m [addr] [lines]      dump memory
  w addr byte...        write memory
  s [count]             step instructions
  g [count]             run count instructions, or until stopped
  irq [line]            raise an IRQ line, or show the lines
  t                     recent block trace
  stats                 engine and cache counters
  ss file / sl file     save / load state
  reset                 reset to the entry point
  q                     quit
`)
}

// Run reads commands until quit or end of input
func (mon *X86Monitor) Run(in io.Reader) error {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return mon.runTerminal(f)
	}
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if mon.ExecuteCommand(sc.Text()) {
			return nil
		}
	}
	return sc.Err()
}

func (mon *X86Monitor) runTerminal(f *os.File) error {
	fd := int(f.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("monitor: failed to set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{f, os.Stdout}, monitorPrompt)
	out := mon.out
	mon.out = t
	defer func() { mon.out = out }()

	for {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if mon.ExecuteCommand(line) {
			return nil
		}
	}
}
