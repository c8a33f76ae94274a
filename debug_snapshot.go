// debug_snapshot.go - Machine state snapshot for save/load
//
// A snapshot is an ordered list of named records. Each record carries one
// component's state as a little-endian blob followed by its BLAKE2b-256
// checksum; the memory record is gzip-compressed. Derived state (decoded
// blocks, TLB entries, the trace ring) is not saved and starts empty after
// a restore.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

const (
	snapshotMagic   = "IPCS"
	snapshotVersion = 1

	snapshotMaxRecord = 1 << 30
)

// Record names, in file order
const (
	snapRecCPU      = "cpu"
	snapRecSegments = "segments"
	snapRecFPU      = "fpu"
	snapRecDevices  = "devices"
	snapRecMemory   = "memory"
)

// x86CPUState is the register file with EFLAGS materialised
type x86CPUState struct {
	Regs         [8]uint32 // EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI
	EIP          uint32
	EFlags       uint32
	CR0          uint32
	CR2          uint32
	CR3          uint32
	CR4          uint32
	DR           [8]uint32
	GDTR, IDTR   x86TableReg
	CPL          uint8
	Halted       bool
	IRQShadow    bool
	Instructions uint64
}

// x86SegmentState holds ES..GS, LDTR and TR with their descriptor caches
type x86SegmentState struct {
	Seg  [6]x86Segment
	LDTR x86Segment
	TR   x86Segment
}

type x87State struct {
	Regs [8]float64
	FCW  uint16
	FSW  uint16
	FTW  uint16
	FIP  uint32
	FCS  uint16
	FDP  uint32
	FDS  uint16
	FOP  uint16
}

type x86DeviceState struct {
	IRQLines   uint16
	PICMask    uint16
	PICBase    [2]byte
	PICICW     [2]byte
	TimerCount uint64
	TimerTicks uint64
}

type snapshotRecord struct {
	name string
	data []byte
}

func (m *X86Machine) captureRecords() ([]snapshotRecord, error) {
	c := m.cpu
	cs := x86CPUState{
		EIP:          c.EIP,
		EFlags:       c.readFlags(),
		CR0:          c.CR0,
		CR2:          c.CR2,
		CR3:          c.CR3,
		CR4:          c.CR4,
		DR:           c.DR,
		GDTR:         c.GDTR,
		IDTR:         c.IDTR,
		CPL:          c.cpl,
		Halted:       c.Halted,
		IRQShadow:    c.irqShadow,
		Instructions: c.Instructions,
	}
	for i, r := range c.regs32 {
		cs.Regs[i] = *r
	}
	ss := x86SegmentState{Seg: c.seg, LDTR: c.LDTR, TR: c.TR}
	f := c.FPU
	fs := x87State{Regs: f.regs, FCW: f.FCW, FSW: f.FSW, FTW: f.FTW, FIP: f.FIP, FCS: f.FCS, FDP: f.FDP, FDS: f.FDS, FOP: f.FOP}
	ds := x86DeviceState{
		IRQLines:   m.irq.State(),
		PICMask:    uint16(m.pic.mask.Load()),
		PICBase:    m.pic.base,
		PICICW:     m.pic.icw,
		TimerCount: m.timer.count,
		TimerTicks: m.timer.ticks,
	}

	var recs []snapshotRecord
	for _, r := range []struct {
		name string
		v    any
	}{
		{snapRecCPU, &cs}, {snapRecSegments, &ss}, {snapRecFPU, &fs}, {snapRecDevices, &ds},
	} {
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, r.v); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", r.name, err)
		}
		recs = append(recs, snapshotRecord{r.name, buf.Bytes()})
	}

	var compressed bytes.Buffer
	binary.Write(&compressed, binary.LittleEndian, uint32(m.mem.Size()))
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(m.mem.Memory()); err != nil {
		return nil, fmt.Errorf("compressing memory: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip: %w", err)
	}
	return append(recs, snapshotRecord{snapRecMemory, compressed.Bytes()}), nil
}

// SaveSnapshot writes the machine state. The machine must be stopped.
func (m *X86Machine) SaveSnapshot(w io.Writer) error {
	if m.IsRunning() {
		return errX86MachineRunning
	}
	recs, err := m.captureRecords()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(snapshotMagic)
	binary.Write(bw, binary.LittleEndian, uint32(snapshotVersion))
	binary.Write(bw, binary.LittleEndian, uint32(len(recs)))
	for _, r := range recs {
		bw.WriteByte(byte(len(r.name)))
		bw.WriteString(r.name)
		binary.Write(bw, binary.LittleEndian, uint32(len(r.data)))
		bw.Write(r.data)
		sum := blake2b.Sum256(r.data)
		bw.Write(sum[:])
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// SaveSnapshotToFile writes a snapshot to path
func (m *X86Machine) SaveSnapshotToFile(path string) error {
	var buf bytes.Buffer
	if err := m.SaveSnapshot(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func readSnapshotRecords(r io.Reader) (map[string][]byte, error) {
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic %q", errX86Snapshot, string(magic))
	}
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errX86Snapshot, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading record count: %w", err)
	}

	recs := make(map[string][]byte, count)
	var nameLen [1]byte
	for range count {
		if _, err := io.ReadFull(r, nameLen[:]); err != nil {
			return nil, fmt.Errorf("reading record name length: %w", err)
		}
		name := make([]byte, nameLen[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("reading record name: %w", err)
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("reading record %q size: %w", name, err)
		}
		if size > snapshotMaxRecord {
			return nil, fmt.Errorf("%w: record %q is %d bytes", errX86Snapshot, name, size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("reading record %q: %w", name, err)
		}
		var sum [blake2b.Size256]byte
		if _, err := io.ReadFull(r, sum[:]); err != nil {
			return nil, fmt.Errorf("reading record %q checksum: %w", name, err)
		}
		if blake2b.Sum256(data) != sum {
			return nil, fmt.Errorf("%w: record %q checksum mismatch", errX86Snapshot, name)
		}
		recs[string(name)] = data
	}
	return recs, nil
}

func decodeSnapshotRecord(recs map[string][]byte, name string, v any) error {
	data, ok := recs[name]
	if !ok {
		return fmt.Errorf("%w: missing record %q", errX86Snapshot, name)
	}
	if binary.Size(v) != len(data) {
		return fmt.Errorf("%w: record %q is %d bytes, want %d", errX86Snapshot, name, len(data), binary.Size(v))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

func (m *X86Machine) restoreMemory(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: short memory record", errX86Snapshot)
	}
	size := binary.LittleEndian.Uint32(data)
	if size != m.mem.Size() {
		return fmt.Errorf("%w: snapshot has %d bytes of memory, machine has %d", errX86Snapshot, size, m.mem.Size())
	}
	gz, err := gzip.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gz.Close()
	mem := make([]byte, size)
	if _, err := io.ReadFull(gz, mem); err != nil {
		return fmt.Errorf("decompressing memory: %w", err)
	}
	copy(m.mem.Memory(), mem)
	return nil
}

// LoadSnapshot replaces the machine state. Nothing is changed unless every
// record is present and intact.
func (m *X86Machine) LoadSnapshot(r io.Reader) error {
	if m.IsRunning() {
		return errX86MachineRunning
	}
	recs, err := readSnapshotRecords(r)
	if err != nil {
		return err
	}
	var (
		cs x86CPUState
		ss x86SegmentState
		fs x87State
		ds x86DeviceState
	)
	for _, d := range []struct {
		name string
		v    any
	}{
		{snapRecCPU, &cs}, {snapRecSegments, &ss}, {snapRecFPU, &fs}, {snapRecDevices, &ds},
	} {
		if err := decodeSnapshotRecord(recs, d.name, d.v); err != nil {
			return err
		}
	}
	mem, ok := recs[snapRecMemory]
	if !ok {
		return fmt.Errorf("%w: missing record %q", errX86Snapshot, snapRecMemory)
	}
	if err := m.restoreMemory(mem); err != nil {
		return err
	}

	c := m.cpu
	for i, r := range c.regs32 {
		*r = cs.Regs[i]
	}
	c.EIP = cs.EIP
	c.writeFlags(cs.EFlags)
	c.CR0, c.CR2, c.CR3, c.CR4 = cs.CR0, cs.CR2, cs.CR3, cs.CR4
	c.DR = cs.DR
	c.GDTR, c.IDTR = cs.GDTR, cs.IDTR
	c.cpl = cs.CPL
	c.Halted = cs.Halted
	c.irqShadow = cs.IRQShadow
	c.Instructions = cs.Instructions
	c.seg, c.LDTR, c.TR = ss.Seg, ss.LDTR, ss.TR
	c.paging.flush()

	f := c.FPU
	f.regs = fs.Regs
	f.FCW, f.FSW, f.FTW = fs.FCW, fs.FSW, fs.FTW
	f.FIP, f.FCS, f.FDP, f.FDS, f.FOP = fs.FIP, fs.FCS, fs.FDP, fs.FDS, fs.FOP

	for line := range 16 {
		if ds.IRQLines&(1<<line) != 0 {
			m.irq.Raise(line)
		} else {
			m.irq.Lower(line)
		}
	}
	m.pic.mask.Store(uint32(ds.PICMask))
	m.pic.base, m.pic.icw = ds.PICBase, ds.PICICW
	m.timer.count, m.timer.ticks = ds.TimerCount, ds.TimerTicks

	m.cache.Flush()
	m.trace.Reset()
	m.retired.Store(0)
	m.lastRetired = 0
	return nil
}

// LoadSnapshotFromFile restores a snapshot written by SaveSnapshotToFile
func (m *X86Machine) LoadSnapshotFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.LoadSnapshot(bufio.NewReader(f))
}
