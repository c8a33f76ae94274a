// script_x86.go - Lua scripting for the x86 machine
//
// Scripts drive a stopped machine through a handful of globals:
//
//	poke(addr, b, ...)    write bytes to physical memory
//	peek(addr [, n])      read a byte, or a table of n bytes
//	regs()                table of registers, selectors and the mode name
//	setreg(name, value)   set a general register, EIP or EFLAGS
//	run([n])              run n instructions, or until the machine stops
//	step()                run one instruction
//	irq(line)             raise an interrupt line
//	log(...)              print to the script's output
//
// run and step return nil on success and an error string otherwise, so a
// script can check for a shutdown without aborting.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

func init() {
	compiledFeatures = append(compiledFeatures, "script:lua")
}

// X86Script is a Lua state bound to a machine
type X86Script struct {
	m   *X86Machine
	L   *lua.LState
	out io.Writer
}

func NewX86Script(m *X86Machine, out io.Writer) *X86Script {
	s := &X86Script{m: m, L: lua.NewState(), out: out}
	for name, fn := range map[string]lua.LGFunction{
		"poke":   s.luaPoke,
		"peek":   s.luaPeek,
		"regs":   s.luaRegs,
		"setreg": s.luaSetReg,
		"run":    s.luaRun,
		"step":   s.luaStep,
		"irq":    s.luaIRQ,
		"log":    s.luaLog,
	} {
		s.L.SetGlobal(name, s.L.NewFunction(fn))
	}
	return s
}

func (s *X86Script) Close() {
	s.L.Close()
}

// Exec runs a chunk of Lua source
func (s *X86Script) Exec(src string) error {
	if err := s.L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// ExecFile runs a Lua file
func (s *X86Script) ExecFile(path string) error {
	if err := s.L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

func (s *X86Script) luaPoke(L *lua.LState) int {
	addr := uint32(L.CheckInt64(1))
	data := make([]byte, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		data = append(data, byte(L.CheckInt(i)))
	}
	if err := s.m.Poke(addr, data); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (s *X86Script) luaPeek(L *lua.LState) int {
	addr := uint32(L.CheckInt64(1))
	n := uint32(L.OptInt(2, 0))
	if n == 0 {
		b, err := s.m.Peek(addr, 1)
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(lua.LNumber(b[0]))
		return 1
	}
	data, err := s.m.Peek(addr, n)
	if err != nil {
		L.RaiseError("%v", err)
	}
	t := L.CreateTable(len(data), 0)
	for _, b := range data {
		t.Append(lua.LNumber(b))
	}
	L.Push(t)
	return 1
}

func (s *X86Script) luaRegs(L *lua.LState) int {
	c := s.m.cpu
	t := L.NewTable()
	for i, name := range x86Reg32 {
		t.RawSetString(name, lua.LNumber(c.getReg32(byte(i))))
	}
	t.RawSetString("EIP", lua.LNumber(c.EIP))
	t.RawSetString("EFLAGS", lua.LNumber(c.readFlags()))
	t.RawSetString("CR0", lua.LNumber(c.CR0))
	t.RawSetString("CPL", lua.LNumber(c.CPL()))
	for i, name := range x86SegRegs {
		t.RawSetString(name, lua.LNumber(c.seg[i].Selector))
	}
	t.RawSetString("mode", lua.LString(c.Mode().String()))
	t.RawSetString("halted", lua.LBool(c.Halted))
	t.RawSetString("instructions", lua.LNumber(c.Instructions))
	L.Push(t)
	return 1
}

func (s *X86Script) luaSetReg(L *lua.LState) int {
	if s.m.IsRunning() {
		L.RaiseError("%v", errX86MachineRunning)
	}
	c := s.m.cpu
	name := strings.ToUpper(L.CheckString(1))
	v := uint32(L.CheckInt64(2))
	switch name {
	case "EIP":
		c.EIP = v
	case "EFLAGS":
		c.writeFlags(v)
	default:
		for i, r := range x86Reg32 {
			if r == name {
				c.setReg32(byte(i), v)
				return 0
			}
		}
		L.ArgError(1, "unknown register "+name)
	}
	return 0
}

func (s *X86Script) result(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LString(err.Error()))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

func (s *X86Script) luaRun(L *lua.LState) int {
	if L.GetTop() >= 1 {
		return s.result(L, s.m.RunInstructions(L.CheckInt(1)))
	}
	return s.result(L, s.m.Run())
}

func (s *X86Script) luaStep(L *lua.LState) int {
	return s.result(L, s.m.Step())
}

func (s *X86Script) luaIRQ(L *lua.LState) int {
	line := L.CheckInt(1)
	if line < 0 || line > 15 {
		L.ArgError(1, "IRQ line out of range")
	}
	s.m.irq.Raise(line)
	return 0
}

func (s *X86Script) luaLog(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	fmt.Fprintln(s.out, strings.Join(parts, " "))
	return 0
}
