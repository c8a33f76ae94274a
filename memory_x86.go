// memory_x86.go - Physical address space for the x86 machine
//
// RAM is a single contiguous block starting at physical 0. Memory-mapped
// devices claim byte ranges with MapIO before execution starts; a per-page
// bitmap keeps the common RAM path free of region lookups. Physical
// addresses with neither RAM nor a device behind them read as 0xFF and
// ignore writes, like an open PC bus.
//
// Every store into RAM is reported to the attached code watcher so that
// decoded blocks covering the written bytes are discarded.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const (
	x86DefaultMemorySize = 16 * 1024 * 1024
	x86IOPageShift       = 12
)

// x86CodeWatcher is told about every physical store
type x86CodeWatcher interface {
	InvalidateRange(phys, size uint32)
}

type x86IORegion struct {
	start, end uint32
	onRead     func(addr uint32) byte
	onWrite    func(addr uint32, value byte)
}

// X86AddressSpace is physical memory plus memory-mapped I/O
type X86AddressSpace struct {
	memory       []byte
	mapping      map[uint32][]x86IORegion
	ioPageBitmap []bool
	sealed       atomic.Bool
	watcher      x86CodeWatcher
}

func NewX86AddressSpace(size uint32) *X86AddressSpace {
	if size == 0 {
		size = x86DefaultMemorySize
	}
	size = (size + x86PageMask) &^ x86PageMask
	return &X86AddressSpace{
		memory:       make([]byte, size),
		mapping:      make(map[uint32][]x86IORegion),
		ioPageBitmap: make([]bool, (1<<32)>>x86IOPageShift),
	}
}

// Size returns the amount of RAM in bytes
func (m *X86AddressSpace) Size() uint32 {
	return uint32(len(m.memory))
}

// Memory exposes RAM for snapshots and bulk loading
func (m *X86AddressSpace) Memory() []byte {
	return m.memory
}

func (m *X86AddressSpace) setWatcher(w x86CodeWatcher) {
	m.watcher = w
}

// SealMappings prevents further MapIO calls. This is called when execution starts
// to ensure the ioPageBitmap remains stable during hot-path access.
func (m *X86AddressSpace) SealMappings() {
	m.sealed.CompareAndSwap(false, true)
}

// MapIO claims [start, end] for a device
func (m *X86AddressSpace) MapIO(start, end uint32, onRead func(addr uint32) byte, onWrite func(addr uint32, value byte)) error {
	if m.sealed.Load() {
		return fmt.Errorf("MapIO called after execution started (mapping range $%08X-$%08X)", start, end)
	}
	if end < start {
		return fmt.Errorf("MapIO: empty range $%08X-$%08X", start, end)
	}
	region := x86IORegion{start: start, end: end, onRead: onRead, onWrite: onWrite}
	for page := start >> x86IOPageShift; page <= end>>x86IOPageShift; page++ {
		m.mapping[page] = append(m.mapping[page], region)
		m.ioPageBitmap[page] = true
	}
	return nil
}

func (m *X86AddressSpace) findIORegion(addr uint32) *x86IORegion {
	regions := m.mapping[addr>>x86IOPageShift]
	for i := range regions {
		if addr >= regions[i].start && addr <= regions[i].end {
			return &regions[i]
		}
	}
	return nil
}

func (m *X86AddressSpace) Read8(addr uint32) byte {
	if !m.ioPageBitmap[addr>>x86IOPageShift] {
		if addr < uint32(len(m.memory)) {
			return m.memory[addr]
		}
		return 0xFF
	}
	return m.read8Slow(addr)
}

func (m *X86AddressSpace) read8Slow(addr uint32) byte {
	if r := m.findIORegion(addr); r != nil {
		if r.onRead == nil {
			return 0xFF
		}
		return r.onRead(addr)
	}
	if addr < uint32(len(m.memory)) {
		return m.memory[addr]
	}
	return 0xFF
}

func (m *X86AddressSpace) Write8(addr uint32, value byte) {
	if m.ioPageBitmap[addr>>x86IOPageShift] {
		if r := m.findIORegion(addr); r != nil {
			if r.onWrite != nil {
				r.onWrite(addr, value)
			}
			return
		}
	}
	if addr < uint32(len(m.memory)) {
		m.memory[addr] = value
		if m.watcher != nil {
			m.watcher.InvalidateRange(addr, 1)
		}
	}
}

// fast reports whether [addr, addr+n) is plain RAM
func (m *X86AddressSpace) fast(addr, n uint32) bool {
	return uint64(addr)+uint64(n) <= uint64(len(m.memory)) &&
		!m.ioPageBitmap[addr>>x86IOPageShift] &&
		!m.ioPageBitmap[(addr+n-1)>>x86IOPageShift]
}

func (m *X86AddressSpace) Read16(addr uint32) uint16 {
	if m.fast(addr, 2) {
		return binary.LittleEndian.Uint16(m.memory[addr:])
	}
	return uint16(m.Read8(addr)) | uint16(m.Read8(addr+1))<<8
}

func (m *X86AddressSpace) Read32(addr uint32) uint32 {
	if m.fast(addr, 4) {
		return binary.LittleEndian.Uint32(m.memory[addr:])
	}
	return uint32(m.Read16(addr)) | uint32(m.Read16(addr+2))<<16
}

func (m *X86AddressSpace) Write16(addr uint32, value uint16) {
	if m.fast(addr, 2) {
		binary.LittleEndian.PutUint16(m.memory[addr:], value)
		if m.watcher != nil {
			m.watcher.InvalidateRange(addr, 2)
		}
		return
	}
	m.Write8(addr, byte(value))
	m.Write8(addr+1, byte(value>>8))
}

func (m *X86AddressSpace) Write32(addr uint32, value uint32) {
	if m.fast(addr, 4) {
		binary.LittleEndian.PutUint32(m.memory[addr:], value)
		if m.watcher != nil {
			m.watcher.InvalidateRange(addr, 4)
		}
		return
	}
	m.Write16(addr, uint16(value))
	m.Write16(addr+2, uint16(value>>16))
}

// LoadAt copies data into RAM at addr, bypassing devices
func (m *X86AddressSpace) LoadAt(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(len(m.memory)) {
		return fmt.Errorf("load of %d bytes at $%08X exceeds %d bytes of memory", len(data), addr, len(m.memory))
	}
	copy(m.memory[addr:], data)
	if m.watcher != nil && len(data) > 0 {
		m.watcher.InvalidateRange(addr, uint32(len(data)))
	}
	return nil
}

// Clear zeroes RAM
func (m *X86AddressSpace) Clear() {
	clear(m.memory)
	if m.watcher != nil {
		m.watcher.InvalidateRange(0, uint32(len(m.memory)))
	}
}
