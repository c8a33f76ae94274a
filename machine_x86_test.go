// machine_x86_test.go - Machine configuration, loading and run control
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestX86Machine(t *testing.T, cfg X86Config) *X86Machine {
	t.Helper()
	if cfg.ConsoleOut == nil {
		cfg.ConsoleOut = &bytes.Buffer{}
	}
	if cfg.StatusOut == nil {
		cfg.StatusOut = &bytes.Buffer{}
	}
	cfg.TimerOff = true
	m, err := NewX86Machine(cfg)
	require.NoError(t, err)
	m.SetLogger(nil)
	return m
}

func TestX86Machine_EntryState(t *testing.T) {
	r := newX86Rig(t, 0xF4)
	c := r.cpu
	assert.Equal(t, X86ModeReal, c.Mode())
	assert.Equal(t, uint16(0), c.Segment(x86SegCS).Selector)
	assert.Equal(t, uint32(x86DefaultLoadAddr), c.EIP)
	assert.Equal(t, uint16(0), c.Segment(x86SegSS).Selector)
	assert.Equal(t, uint32(x86DefaultLoadAddr), c.ESP)
	assert.Equal(t, byte(0xF4), r.read8(x86DefaultLoadAddr))

	// Entry above 64KB picks a segment that keeps IP small
	m := newTestX86Machine(t, X86Config{Entry: 0x12345})
	assert.Equal(t, uint16(0x1000), m.CPU().Segment(x86SegCS).Selector)
	assert.Equal(t, uint32(0x2345), m.CPU().EIP)
}

func TestX86Machine_ConfigErrors(t *testing.T) {
	_, err := NewX86Machine(X86Config{MemorySize: 0x8000, LoadAddr: 0x9000, ConsoleOut: &bytes.Buffer{}})
	assert.Error(t, err)
	_, err = NewX86Machine(X86Config{MemorySize: 0x10000, Entry: 0x10000, ConsoleOut: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestX86Machine_LoadProgram(t *testing.T) {
	m := newTestX86Machine(t, X86Config{MemorySize: 0x10000})
	assert.Error(t, m.LoadProgramData(make([]byte, 0x10000-x86DefaultLoadAddr+1)), "image past the end of memory")
	require.NoError(t, m.LoadProgramData(make([]byte, 0x10000-x86DefaultLoadAddr)))

	path := filepath.Join(t.TempDir(), "prog.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x40, 0xF4}, 0o644))
	require.NoError(t, m.LoadProgram(path))
	require.NoError(t, m.RunInstructions(10))
	assert.Equal(t, uint16(1), m.CPU().AX())

	assert.Error(t, m.LoadProgram(filepath.Join(t.TempDir(), "missing.bin")))
}

func TestX86Machine_PokePeek(t *testing.T) {
	r := newX86Rig(t)
	require.NoError(t, r.m.Poke(0x500, []byte{1, 2, 3}))
	got, err := r.m.Peek(0x4FF, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 0}, got)

	assert.Error(t, r.m.Poke(x86TestMemory-1, []byte{1, 2}))
	_, err = r.m.Peek(x86TestMemory-2, 3)
	assert.Error(t, err)
}

// Poking code that was already run must take effect on the next pass
func TestX86Machine_PokeEvictsCode(t *testing.T) {
	r := newX86Rig(t, 0x40, 0xF4) // INC AX; HLT
	r.runToHalt()
	assert.Equal(t, uint16(1), r.cpu.AX())

	require.Equal(t, 1, r.m.cache.Len())

	r.write(x86DefaultLoadAddr, 0x48) // DEC AX
	assert.Equal(t, 0, r.m.cache.Len())
	r.cpu.EIP = x86DefaultLoadAddr
	r.cpu.Halted = false
	r.runToHalt()
	assert.Equal(t, uint16(0), r.cpu.AX())
}

func TestX86Machine_Console(t *testing.T) {
	r := newX86Rig(t,
		0xB0, 'H',  // MOV AL, 'H'
		0xE6, 0xE9, // OUT E9h, AL
		0xB0, 'i',
		0xE6, 0xE9,
		0xFA, 0xF4, // CLI; HLT
	)
	require.NoError(t, r.m.Run())
	assert.Equal(t, "Hi", r.console.String())
	assert.False(t, r.m.IsRunning())
}

func TestX86Machine_StartStop(t *testing.T) {
	r := newX86Rig(t, 0xEB, 0xFE) // JMP $
	r.m.StartExecution()
	require.Eventually(t, func() bool { return r.m.retired.Load() > 0 }, time.Second, time.Millisecond)
	assert.True(t, r.m.IsRunning())

	assert.ErrorIs(t, r.m.Poke(0x500, []byte{1}), errX86MachineRunning)
	assert.ErrorIs(t, r.m.Step(), errX86MachineRunning)
	assert.ErrorIs(t, r.m.RunInstructions(1), errX86MachineRunning)
	assert.ErrorIs(t, r.m.Reset(), errX86MachineRunning)
	assert.ErrorIs(t, r.m.SaveSnapshot(&bytes.Buffer{}), errX86MachineRunning)

	require.NoError(t, r.m.Stop())
	assert.False(t, r.m.IsRunning())
	assert.Equal(t, uint32(x86DefaultLoadAddr), r.cpu.EIP)
	assert.NoError(t, r.m.Stop(), "stopping twice is harmless")
}

func TestX86Machine_RunTripleFault(t *testing.T) {
	r := newX86Rig(t)
	r.enterProtected(
		0xB8, 0x00, 0x10, 0x00, 0x00,
		0x8E, 0xD8,
		0xF4,
	)
	r.cpu.IDTR = x86TableReg{Base: x86TestIDT, Limit: 0}

	err := r.m.Run()
	require.ErrorIs(t, err, errX86TripleFault)
	assert.Contains(t, r.m.Stats(), "shutdowns=1")
}

func TestX86Machine_StrictUnimplemented(t *testing.T) {
	m := newTestX86Machine(t, X86Config{StrictUnimplemented: true})
	require.NoError(t, m.LoadProgramData([]byte{0xD9, 0xE8, 0xD9, 0xFE, 0xF4})) // FLD1; FSIN; HLT
	err := m.RunInstructions(10)
	require.ErrorIs(t, err, errX86Unimplemented)
	assert.Equal(t, uint32(x86DefaultLoadAddr+2), m.CPU().EIP, "stopped at the FSIN")

	// Without strict mode the same code takes #UD through the IVT
	r := newX86Rig(t, 0xD9, 0xE8, 0xD9, 0xFE, 0xF4)
	r.write(0x8000, 0xFA, 0xF4)
	r.ivt(x86VecUD, 0x0800, 0)
	r.runToHalt()
	assert.Equal(t, uint16(0x0800), r.cpu.Segment(x86SegCS).Selector)
	assert.Contains(t, r.log.String(), "FSIN")
}

func TestX86Machine_MemoryMappedIO(t *testing.T) {
	r := newX86Rig(t,
		0xB0, 0x42,       // MOV AL, 42h
		0xA2, 0x00, 0x90, // MOV [9000h], AL
		0xA0, 0x01, 0x90, // MOV AL, [9001h]
		0xF4,
	)
	var written []byte
	require.NoError(t, r.m.Memory().MapIO(0x9000, 0x90FF,
		func(addr uint32) byte { return byte(addr) + 0x76 },
		func(_ uint32, v byte) { written = append(written, v) },
	))

	r.runToHalt()
	assert.Equal(t, []byte{0x42}, written)
	assert.Equal(t, byte(0x77), r.cpu.AL())
	assert.Error(t, r.m.Memory().MapIO(0xA000, 0xA0FF, nil, nil), "mappings are sealed once execution starts")
}

func TestX86Machine_Stats(t *testing.T) {
	r := newX86Rig(t, 0x40, 0x40, 0x40, 0xF4)
	r.runToHalt()
	s := r.m.Stats()
	assert.Contains(t, s, "insns=4")
	assert.Contains(t, s, "blocks=1")
	assert.Contains(t, s, "misses=1")
}
