// cpu_x86_fault.go - Processor faults and internal defects
//
// Architectural faults are raised by panicking with *x86Fault from deep
// inside an executor or the address translator. The block runner recovers
// them, rewinds EIP to the start of the faulting instruction and hands
// them to the engine for delivery through the guest's vector table.
//
// Anything that indicates a bug in the emulator itself panics with
// *x86InternalError instead, which the engine turns into a fatal error.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"strings"
)

// Exception vectors
const (
	x86VecDE  = 0  // divide error
	x86VecDB  = 1  // debug
	x86VecNMI = 2  // non-maskable interrupt
	x86VecBP  = 3  // breakpoint
	x86VecOF  = 4  // overflow
	x86VecBR  = 5  // bound range
	x86VecUD  = 6  // invalid opcode
	x86VecNM  = 7  // device not available
	x86VecDF  = 8  // double fault
	x86VecTS  = 10 // invalid TSS
	x86VecNP  = 11 // segment not present
	x86VecSS  = 12 // stack fault
	x86VecGP  = 13 // general protection
	x86VecPF  = 14 // page fault
	x86VecMF  = 16 // x87 error
	x86VecAC  = 17 // alignment check
)

var x86VectorNames = map[byte]string{
	x86VecDE: "#DE", x86VecDB: "#DB", x86VecNMI: "NMI", x86VecBP: "#BP",
	x86VecOF: "#OF", x86VecBR: "#BR", x86VecUD: "#UD", x86VecNM: "#NM",
	x86VecDF: "#DF", x86VecTS: "#TS", x86VecNP: "#NP", x86VecSS: "#SS",
	x86VecGP: "#GP", x86VecPF: "#PF", x86VecMF: "#MF", x86VecAC: "#AC",
}

// x86EventKind says where an event came from; it decides the return EIP
// and the privilege checks applied at delivery.
type x86EventKind uint8

const (
	x86EventFault    x86EventKind = iota // EIP rewound to the faulting instruction
	x86EventTrap                         // EIP after the instruction
	x86EventSoftware                     // INT n / INT3 / INTO
	x86EventHardware                     // external interrupt
)

// x86Fault is an architectural exception or interrupt in flight
type x86Fault struct {
	Vector    byte
	ErrorCode uint32
	HasError  bool
	Kind      x86EventKind

	// Unimplemented marks an instruction that is encodable but not
	// supported here. Guests see it as #UD.
	Unimplemented bool
	Detail        string
}

func (f *x86Fault) Error() string {
	name, ok := x86VectorNames[f.Vector]
	if !ok {
		name = fmt.Sprintf("INT %02Xh", f.Vector)
	}
	var b strings.Builder
	b.WriteString(name)
	if f.HasError {
		fmt.Fprintf(&b, "(%04X)", f.ErrorCode)
	}
	if f.Unimplemented {
		b.WriteString(" unimplemented")
	}
	if f.Detail != "" {
		b.WriteString(": ")
		b.WriteString(f.Detail)
	}
	return b.String()
}

// contributory reports membership of the contributory exception class
func (f *x86Fault) contributory() bool {
	switch f.Vector {
	case x86VecDE, x86VecTS, x86VecNP, x86VecSS, x86VecGP:
		return f.Kind == x86EventFault
	}
	return false
}

func x86Raise(vec byte) {
	panic(&x86Fault{Vector: vec})
}

func x86RaiseCode(vec byte, code uint32) {
	panic(&x86Fault{Vector: vec, ErrorCode: code, HasError: true})
}

func x86RaiseGP(code uint32) { x86RaiseCode(x86VecGP, code) }
func x86RaiseSS(code uint32) { x86RaiseCode(x86VecSS, code) }
func x86RaiseNP(code uint32) { x86RaiseCode(x86VecNP, code) }
func x86RaiseTS(code uint32) { x86RaiseCode(x86VecTS, code) }
func x86RaiseUD()            { x86Raise(x86VecUD) }

func x86RaiseUnimplemented(detail string) {
	panic(&x86Fault{Vector: x86VecUD, Unimplemented: true, Detail: detail})
}

// x86RaiseTrap raises an event whose return address is the next instruction
func x86RaiseTrap(vec byte, kind x86EventKind) {
	panic(&x86Fault{Vector: vec, Kind: kind})
}

// catchX86Fault runs fn and returns the fault it raised, if any
func catchX86Fault(fn func()) (fault *x86Fault) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*x86Fault)
			if !ok {
				panic(r)
			}
			fault = f
		}
	}()
	fn()
	return nil
}

// -----------------------------------------------------------------------------
// Internal defects
// -----------------------------------------------------------------------------

var (
	errX86Halted         = errors.New("x86: halted with interrupts disabled")
	errX86TripleFault    = errors.New("x86: triple fault")
	errX86MachineRunning = errors.New("x86: machine is running")
	errX86Snapshot       = errors.New("x86: invalid snapshot")
	errX86Unimplemented  = errors.New("x86: unimplemented instruction")
)

// x86InternalError reports an emulator defect together with the state
// needed to diagnose it.
type x86InternalError struct {
	Msg     string
	Op      string // mnemonic of the instruction being run, if any
	EIP     uint32
	CS      uint16
	Mode    X86Mode
	History []string
}

func (e *x86InternalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "x86: internal error at %04X:%08X (%s)", e.CS, e.EIP, e.Mode)
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	fmt.Fprintf(&b, ": %s", e.Msg)
	for _, h := range e.History {
		b.WriteString("\n  ")
		b.WriteString(h)
	}
	return b.String()
}

// x86Defect aborts emulation on an impossible internal state
func x86Defect(format string, args ...any) {
	panic(&x86InternalError{Msg: fmt.Sprintf(format, args...)})
}
