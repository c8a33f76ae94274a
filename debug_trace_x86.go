// debug_trace_x86.go - Recent block history
//
// The engine records one entry per executed block. The ring is attached to
// internal errors so a crash report shows how execution got there, and
// tests compare it to check that two runs took the same path.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "fmt"

const x86DefaultTraceDepth = 32

type x86TraceEntry struct {
	CS      uint16
	EIP     uint32
	Mode    X86Mode
	Insns   int
	Outcome x86Outcome
	Op      string // last instruction started, or the one that faulted
	Event   string // fault or interrupt delivered after the block, if any
}

func (e x86TraceEntry) String() string {
	s := fmt.Sprintf("%04X:%08X %-12s %3d insn %s", e.CS, e.EIP, e.Mode, e.Insns, e.Outcome)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Event != "" {
		s += " [" + e.Event + "]"
	}
	return s
}

// x86TraceRing keeps the last N entries. A nil ring records nothing.
type x86TraceRing struct {
	entries []x86TraceEntry
	next    int
	full    bool
}

func newX86TraceRing(depth int) *x86TraceRing {
	if depth <= 0 {
		return nil
	}
	return &x86TraceRing{entries: make([]x86TraceEntry, depth)}
}

func (r *x86TraceRing) Record(e x86TraceEntry) {
	if r == nil {
		return
	}
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// Entries returns the recorded entries, oldest first
func (r *x86TraceRing) Entries() []x86TraceEntry {
	if r == nil {
		return nil
	}
	if !r.full {
		return append([]x86TraceEntry(nil), r.entries[:r.next]...)
	}
	out := make([]x86TraceEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

func (r *x86TraceRing) Lines() []string {
	entries := r.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

func (r *x86TraceRing) Reset() {
	if r == nil {
		return
	}
	clear(r.entries)
	r.next, r.full = 0, false
}
