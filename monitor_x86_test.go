// monitor_x86_test.go - Monitor command parsing and execution
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand("  D 7C00   4 ")
	assert.Equal(t, "d", cmd.Name)
	assert.Equal(t, []string{"7C00", "4"}, cmd.Args)

	assert.Equal(t, MonitorCommand{}, ParseCommand("   "))
}

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"7C00", 0x7C00, true},
		{"$FF", 0xFF, true},
		{"0x1234", 0x1234, true},
		{"0XABCD", 0xABCD, true},
		{"#100", 100, true},
		{"FFFFFFFF", 0xFFFFFFFF, true},
		{"100000000", 0, false},
		{"#12a", 0, false},
		{"", 0, false},
		{"xyz", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseAddress(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}

// newMonitorRig loads MOV AX,1234h; INC AX; HLT
func newMonitorRig(t *testing.T) (*x86Rig, *X86Monitor, *bytes.Buffer) {
	r := newX86Rig(t, 0xB8, 0x34, 0x12, 0x40, 0xF4)
	out := &bytes.Buffer{}
	return r, NewX86Monitor(r.m, out), out
}

func TestX86Monitor_Registers(t *testing.T) {
	_, mon, out := newMonitorRig(t)
	assert.False(t, mon.ExecuteCommand("r"))
	s := out.String()
	assert.Contains(t, s, "EIP=00007C00")
	assert.Contains(t, s, "real")
	assert.Contains(t, s, "FPU: TOP=0")
}

func TestX86Monitor_Disassemble(t *testing.T) {
	_, mon, out := newMonitorRig(t)
	mon.ExecuteCommand("d 7C00 2")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "> 00007C00"), lines[0])
	assert.Contains(t, lines[0], "MOV AX,0x1234")
	assert.Contains(t, lines[1], "INC AX")

	// A bare d continues where the last listing stopped
	out.Reset()
	mon.ExecuteCommand("d")
	assert.Contains(t, out.String(), "00007C04")
	assert.Contains(t, out.String(), "HLT")
}

func TestX86Monitor_MemoryDump(t *testing.T) {
	r, mon, out := newMonitorRig(t)
	r.write(0x500, 'H', 'i', 0x00, 0x7F)
	mon.ExecuteCommand("m $500 1")
	assert.Equal(t, "00000500: 48 69 00 7F 00 00 00 00  00 00 00 00 00 00 00 00  Hi..............\n", out.String())

	out.Reset()
	mon.ExecuteCommand("m")
	assert.True(t, strings.HasPrefix(out.String(), "00000510:"))

	out.Reset()
	mon.ExecuteCommand("m 0x1FFFF8 1")
	assert.Contains(t, out.String(), "00 00  ??", "bytes past the end of memory")
}

func TestX86Monitor_Write(t *testing.T) {
	r, mon, out := newMonitorRig(t)
	mon.ExecuteCommand("w 600 $AA #16 0x0F")
	assert.Equal(t, []byte{0xAA, 16, 0x0F}, []byte{r.read8(0x600), r.read8(0x601), r.read8(0x602)})
	assert.Empty(t, out.String())

	mon.ExecuteCommand("w 600 1FF")
	assert.Contains(t, out.String(), "Invalid byte: 1FF")
	out.Reset()
	mon.ExecuteCommand("w 600")
	assert.Contains(t, out.String(), "Usage")
	out.Reset()
	mon.ExecuteCommand("w 0x1FFFFF 1 2")
	assert.Contains(t, out.String(), "outside memory")
}

func TestX86Monitor_StepAndRun(t *testing.T) {
	r, mon, out := newMonitorRig(t)
	mon.ExecuteCommand("s")
	assert.Equal(t, uint16(0x1234), r.cpu.AX())
	assert.Contains(t, out.String(), "EAX=00001234")
	assert.Contains(t, out.String(), "> 00007C03")

	out.Reset()
	mon.ExecuteCommand("g")
	assert.Equal(t, uint16(0x1235), r.cpu.AX())
	assert.Contains(t, out.String(), "Stopped at 0000:00007C05")

	out.Reset()
	mon.ExecuteCommand("reset")
	mon.ExecuteCommand("g 1")
	assert.Equal(t, uint32(0x7C03), r.cpu.EIP)
	mon.ExecuteCommand("g zz")
	assert.Contains(t, out.String(), "Invalid count: zz")
}

func TestX86Monitor_RunTripleFault(t *testing.T) {
	r, mon, out := newMonitorRig(t)
	r.enterProtected(0xB8, 0x00, 0x10, 0x00, 0x00, 0x8E, 0xD8, 0xF4)
	r.cpu.IDTR = x86TableReg{Base: x86TestIDT, Limit: 0}
	mon.ExecuteCommand("g")
	assert.Contains(t, out.String(), "Machine shut down (triple fault)")
}

func TestX86Monitor_IRQ(t *testing.T) {
	r, mon, out := newMonitorRig(t)
	mon.ExecuteCommand("irq 3")
	assert.Equal(t, uint16(1<<3), r.m.IRQ().State())
	mon.ExecuteCommand("irq")
	assert.Contains(t, out.String(), "IRQ lines: 0008")
	mon.ExecuteCommand("irq 16")
	assert.Contains(t, out.String(), "Invalid IRQ line: 16")
}

func TestX86Monitor_SaveLoadState(t *testing.T) {
	r, mon, out := newMonitorRig(t)
	path := filepath.Join(t.TempDir(), "mon.snap")
	mon.ExecuteCommand("s")
	mon.ExecuteCommand("ss " + path)
	assert.Contains(t, out.String(), "State saved to")

	mon.ExecuteCommand("g")
	require.Equal(t, uint16(0x1235), r.cpu.AX())

	out.Reset()
	mon.ExecuteCommand("sl " + path)
	assert.Contains(t, out.String(), "State loaded from")
	assert.Equal(t, uint16(0x1234), r.cpu.AX())
	assert.Equal(t, uint32(0x7C03), r.cpu.EIP)

	out.Reset()
	mon.ExecuteCommand("sl " + filepath.Join(t.TempDir(), "missing.snap"))
	assert.Contains(t, out.String(), "sl: ")
}

func TestX86Monitor_Misc(t *testing.T) {
	_, mon, out := newMonitorRig(t)
	mon.ExecuteCommand("help")
	assert.Contains(t, out.String(), "Commands:")

	out.Reset()
	mon.ExecuteCommand("g")
	mon.ExecuteCommand("stats")
	assert.Contains(t, out.String(), "insns=3")

	out.Reset()
	mon.ExecuteCommand("t")
	assert.Contains(t, out.String(), "0000:00007C00")

	out.Reset()
	mon.ExecuteCommand("bogus")
	assert.Contains(t, out.String(), "Unknown command: bogus")

	assert.False(t, mon.ExecuteCommand(""))
	assert.True(t, mon.ExecuteCommand("q"))
	assert.True(t, mon.ExecuteCommand("QUIT"))
}

func TestX86Monitor_RunReader(t *testing.T) {
	r, mon, _ := newMonitorRig(t)
	require.NoError(t, mon.Run(strings.NewReader("w 600 1\n\nq\nw 601 1\n")))
	assert.Equal(t, byte(1), r.read8(0x600))
	assert.Equal(t, byte(0), r.read8(0x601), "commands after quit are ignored")
}
