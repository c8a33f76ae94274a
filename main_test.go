package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestImage(t *testing.T, code ...byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, code, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runMain(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	status := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return status, stdout.String(), stderr.String()
}

func TestParseUint32Flag(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0x7C00", 0x7C00, true},
		{"31744", 0x7C00, true},
		{"0xFFFFFFFF", 0xFFFFFFFF, true},
		{"0x100000000", 0, false},
		{"7C00", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := parseUint32Flag(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("parseUint32Flag(%q) error = %v, want ok=%v", tc.in, err, tc.ok)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("parseUint32Flag(%q) = %X, want %X", tc.in, got, tc.want)
		}
	}
}

func TestRun_Disassemble(t *testing.T) {
	path := writeTestImage(t, 0xB8, 0x34, 0x12, 0xF4)
	status, out, _ := runMain(t, "", "-disasm", path)
	if status != 0 {
		t.Fatalf("status %d", status)
	}
	want := []string{"00007C00", "MOV AX,0x1234", "00007C03", "HLT"}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Fatalf("listing missing %q:\n%s", w, out)
		}
	}
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected 2 lines:\n%s", out)
	}

	status, out, _ = runMain(t, "", "-disasm", "-bits", "32", "-load-addr", "0x1000", writeTestImage(t, 0xB8, 0x78, 0x56, 0x34, 0x12))
	if status != 0 || !strings.Contains(out, "00001000") || !strings.Contains(out, "MOV EAX,0x12345678") {
		t.Fatalf("status %d:\n%s", status, out)
	}
}

func TestRun_BadArguments(t *testing.T) {
	path := writeTestImage(t, 0xF4)
	cases := []struct {
		args []string
		msg  string
	}{
		{[]string{"-disasm", "-bits", "8", path}, "-bits"},
		{[]string{"-load-addr", "zz", path}, "invalid -load-addr"},
		{[]string{"-entry", "zz", path}, "invalid -entry"},
		{[]string{"-timer", "often", path}, "invalid -timer"},
		{[]string{"-no-such-flag", path}, "Error"},
		{[]string{"-quiet", filepath.Join(t.TempDir(), "missing.bin")}, "Error loading program"},
	}
	for _, tc := range cases {
		status, _, stderr := runMain(t, "", tc.args...)
		if status != 1 {
			t.Fatalf("%v: status %d", tc.args, status)
		}
		if !strings.Contains(stderr, tc.msg) {
			t.Fatalf("%v: stderr %q missing %q", tc.args, stderr, tc.msg)
		}
	}

	status, out, _ := runMain(t, "")
	if status != 1 || !strings.Contains(out, "Usage") {
		t.Fatalf("no file: status %d, output %q", status, out)
	}
	if status, _, _ := runMain(t, "", "-help"); status != 0 {
		t.Fatalf("-help: status %d", status)
	}
}

func TestRun_Console(t *testing.T) {
	path := writeTestImage(t,
		0xB0, 'o', 0xE6, 0xE9, // MOV AL, 'o'; OUT E9h, AL
		0xB0, 'k', 0xE6, 0xE9,
		0xFA, 0xF4,
	)
	status, out, _ := runMain(t, "", "-quiet", "-mem", "1", "-timer", "0", path)
	if status != 0 || out != "ok" {
		t.Fatalf("status %d, output %q", status, out)
	}

	_, out, _ = runMain(t, "", "-mem", "1", path)
	if !strings.Contains(out, "IntuitionPC") {
		t.Fatal("banner missing without -quiet")
	}
}

func TestRun_Monitor(t *testing.T) {
	path := writeTestImage(t, 0x40, 0xF4)
	status, out, _ := runMain(t, "s\nr\nq\n", "-quiet", "-monitor", path)
	if status != 0 {
		t.Fatalf("status %d", status)
	}
	if !strings.Contains(out, "EAX=00000001") {
		t.Fatalf("monitor output:\n%s", out)
	}
}

func TestRun_ScriptAndState(t *testing.T) {
	dir := t.TempDir()
	image := writeTestImage(t, 0x40, 0x40, 0xFA, 0xF4) // INC AX; INC AX; CLI; HLT
	state := filepath.Join(dir, "state.snap")

	status, _, stderr := runMain(t, "", "-quiet", "-save-state", state, image)
	if status != 0 {
		t.Fatalf("status %d: %s", status, stderr)
	}

	script := filepath.Join(dir, "check.lua")
	if err := os.WriteFile(script, []byte("local r = regs()\nlog(r.EAX, r.halted)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	status, out, stderr := runMain(t, "", "-quiet", "-load-state", state, "-script", script)
	if status != 0 {
		t.Fatalf("status %d: %s", status, stderr)
	}
	if out != "2 true\n" {
		t.Fatalf("script output %q", out)
	}

	bad := filepath.Join(dir, "bad.lua")
	if err := os.WriteFile(bad, []byte("error('boom')"), 0o644); err != nil {
		t.Fatal(err)
	}
	status, _, stderr = runMain(t, "", "-quiet", "-script", bad, image)
	if status != 1 || !strings.Contains(stderr, "boom") {
		t.Fatalf("status %d, stderr %q", status, stderr)
	}
}

func TestRun_Version(t *testing.T) {
	status, out, _ := runMain(t, "", "-version")
	if status != 0 {
		t.Fatalf("status %d", status)
	}
	for _, w := range []string{"IntuitionPC " + Version, "script:lua", "monitor:terminal"} {
		if !strings.Contains(out, w) {
			t.Fatalf("missing %q in:\n%s", w, out)
		}
	}
}
