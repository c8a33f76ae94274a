// main.go - Command line entry point for the IntuitionPC x86 machine

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
)

func boilerPlate(w io.Writer) {
	fmt.Fprintln(w, "\n\033[38;2;255;20;147m ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████\033[0m\n\033[38;2;255;50;147m▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀\033[0m\n\033[38;2;255;80;147m▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███\033[0m\n\033[38;2;255;110;147m░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄\033[0m\n\033[38;2;255;140;147m░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒\033[0m\n\033[38;2;255;170;147m░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░\033[0m\n\033[38;2;255;200;147m ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░\033[0m\n\033[38;2;255;230;147m ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░\033[0m\n\033[38;2;255;255;147m ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░\033[0m")
	fmt.Fprintln(w, "\nIntuitionPC: a 386-class PC core for the Intuition Engine family.")
	fmt.Fprintln(w, "(c) 2024 - 2026 Zayn Otley")
	fmt.Fprintln(w, "https://github.com/IntuitionAmiga/IntuitionEngine")
	fmt.Fprintln(w, "License: GPLv3 or later")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var (
		loadAddr    string
		entryAddr   string
		memMB       uint
		quantum     int
		blockInsns  int
		traceDepth  int
		timerPeriod string
		strict      bool
		perf        bool
		quiet       bool
		disasm      bool
		bits        int
		monitor     bool
		scriptFile  string
		loadState   string
		saveState   string
		version     bool
	)

	flagSet := flag.NewFlagSet("intuition_pc", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&loadAddr, "load-addr", "0x7C00", "physical load address (hex or decimal)")
	flagSet.StringVar(&entryAddr, "entry", "", "linear entry address, defaults to the load address")
	flagSet.UintVar(&memMB, "mem", 16, "memory size in MB")
	flagSet.IntVar(&quantum, "quantum", x86DefaultQuantum, "instructions between interrupt polls")
	flagSet.IntVar(&blockInsns, "block-insns", x86DefaultBlockInstructions, "maximum instructions per decoded block")
	flagSet.IntVar(&traceDepth, "trace-depth", x86DefaultTraceDepth, "blocks kept in the crash trace")
	flagSet.StringVar(&timerPeriod, "timer", "100000", "instructions between timer interrupts, 0 disables")
	flagSet.BoolVar(&strict, "strict", false, "stop on unimplemented instructions instead of raising #UD")
	flagSet.BoolVar(&perf, "perf", false, "report MIPS once a second")
	flagSet.BoolVar(&quiet, "quiet", false, "skip the banner")
	flagSet.BoolVar(&disasm, "disasm", false, "disassemble the file instead of running it")
	flagSet.IntVar(&bits, "bits", 16, "code size for -disasm: 16 or 32")
	flagSet.BoolVar(&monitor, "monitor", false, "start in the machine monitor")
	flagSet.StringVar(&scriptFile, "script", "", "run a Lua script against the loaded machine")
	flagSet.StringVar(&loadState, "load-state", "", "restore a snapshot before running")
	flagSet.StringVar(&saveState, "save-state", "", "write a snapshot when the machine stops")
	flagSet.BoolVar(&version, "version", false, "print version and compiled features")

	flagSet.Usage = func() {
		flagSet.SetOutput(stdout)
		fmt.Fprintln(stdout, "Usage: ./intuition_pc [-load-addr 0x7C00] [-entry addr] [-monitor|-script file|-disasm] filename")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if version {
		printFeatures(stdout)
		return 0
	}
	filename := flagSet.Arg(0)
	if filename == "" && loadState == "" {
		flagSet.Usage()
		return 1
	}

	if disasm {
		if bits != 16 && bits != 32 {
			fmt.Fprintln(stderr, "Error: -bits must be 16 or 32")
			return 1
		}
		load, err := parseUint32Flag(loadAddr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid -load-addr: %v\n", err)
			return 1
		}
		if err := disassembleFile(stdout, filename, load, bits == 32); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if !quiet {
		boilerPlate(stdout)
	}

	cfg := X86Config{
		MemorySize:           uint32(memMB) << 20,
		Quantum:              quantum,
		MaxBlockInstructions: blockInsns,
		StrictUnimplemented:  strict,
		TraceDepth:           traceDepth,
		DisableTrace:         traceDepth == 0,
		PerfEnabled:          perf,
		ConsoleOut:           stdout,
		StatusOut:            stdout,
	}
	var err error
	if cfg.LoadAddr, err = parseUint32Flag(loadAddr); err != nil {
		fmt.Fprintf(stderr, "Error: invalid -load-addr: %v\n", err)
		return 1
	}
	if entryAddr != "" {
		if cfg.Entry, err = parseUint32Flag(entryAddr); err != nil {
			fmt.Fprintf(stderr, "Error: invalid -entry: %v\n", err)
			return 1
		}
	}
	period, err := strconv.ParseUint(timerPeriod, 0, 64)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid -timer: %v\n", err)
		return 1
	}
	cfg.TimerPeriod, cfg.TimerOff = period, period == 0

	m, err := NewX86Machine(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	m.SetLogger(func(format string, args ...any) { fmt.Fprintf(stderr, format, args...) })

	if filename != "" {
		if err := m.LoadProgram(filename); err != nil {
			fmt.Fprintf(stderr, "Error loading program: %v\n", err)
			return 1
		}
	}
	if loadState != "" {
		if err := m.LoadSnapshotFromFile(loadState); err != nil {
			fmt.Fprintf(stderr, "Error loading state: %v\n", err)
			return 1
		}
	}

	status := 0
	switch {
	case monitor:
		if err := NewX86Monitor(m, stdout).Run(stdin); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = 1
		}
	case scriptFile != "":
		s := NewX86Script(m, stdout)
		if err := s.ExecFile(scriptFile); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = 1
		}
		s.Close()
	default:
		err := m.Run()
		switch {
		case errors.Is(err, errX86TripleFault):
			fmt.Fprintf(stderr, "x86: shutdown at %04X:%08X\n", m.cpu.seg[x86SegCS].Selector, m.cpu.EIP)
			status = 2
		case err != nil:
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = 1
		}
	}

	if saveState != "" {
		if err := m.SaveSnapshotToFile(saveState); err != nil {
			fmt.Fprintf(stderr, "Error saving state: %v\n", err)
			return 1
		}
	}
	return status
}

// disassembleFile lists a flat binary as if loaded at base
func disassembleFile(w io.Writer, filename string, base uint32, big bool) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	read := func(addr uint32) (byte, bool) {
		off := addr - base
		if addr < base || off >= uint32(len(data)) {
			return 0, false
		}
		return data[off], true
	}
	addr := base
	end := base + uint32(len(data))
	for addr < end {
		lines := disassembleX86(read, addr, 64, big)
		if len(lines) == 0 {
			break
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
			addr = l.Addr + uint32(len(l.Bytes))
		}
	}
	return nil
}

func parseUint32Flag(value string) (uint32, error) {
	parsed, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(parsed), nil
}
