// memory_x86_test.go - Physical address space tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "testing"

type recordingWatcher struct {
	ranges [][2]uint32
}

func (w *recordingWatcher) InvalidateRange(phys, size uint32) {
	w.ranges = append(w.ranges, [2]uint32{phys, size})
}

func TestX86AddressSpace_ReadWrite(t *testing.T) {
	m := NewX86AddressSpace(0x10000)
	m.Write32(0x100, 0x12345678)
	if got := m.Read8(0x100); got != 0x78 {
		t.Fatalf("little endian low byte: got 0x%02X", got)
	}
	if got := m.Read16(0x102); got != 0x1234 {
		t.Fatalf("Read16: got 0x%04X, want 0x1234", got)
	}
	m.Write16(0xFFFF, 0xBEEF)
	if got := m.Read8(0xFFFF); got != 0xEF {
		t.Fatalf("last byte: got 0x%02X", got)
	}
	if got := m.Read8(0x10000); got != 0xFF {
		t.Fatalf("open bus: got 0x%02X, want 0xFF", got)
	}
	if got := m.Read32(0xFFFE); got != 0xFFFFEF00 {
		t.Fatalf("read straddling the end of RAM: got 0x%08X", got)
	}
}

func TestX86AddressSpace_SizeRoundsToPages(t *testing.T) {
	m := NewX86AddressSpace(5000)
	if m.Size() != 8192 {
		t.Fatalf("Size: got %d, want 8192", m.Size())
	}
	if NewX86AddressSpace(0).Size() != x86DefaultMemorySize {
		t.Fatal("zero size should take the default")
	}
}

func TestX86AddressSpace_MapIO(t *testing.T) {
	m := NewX86AddressSpace(0x10000)
	var writes []uint32
	err := m.MapIO(0x8000, 0x80FF,
		func(addr uint32) byte { return byte(addr) },
		func(addr uint32, v byte) { writes = append(writes, addr<<8|uint32(v)) },
	)
	if err != nil {
		t.Fatal(err)
	}

	m.Write32(0x8010, 0x44332211)
	if len(writes) != 4 || writes[0] != 0x801011 || writes[3] != 0x801344 {
		t.Fatalf("device writes: %X", writes)
	}
	if got := m.Read16(0x80FE); got != 0xFFFE {
		t.Fatalf("device read: got 0x%04X", got)
	}
	// Same page, outside the region: plain RAM
	m.Write8(0x8100, 0x5A)
	if got := m.Read8(0x8100); got != 0x5A {
		t.Fatalf("RAM beside a device: got 0x%02X", got)
	}
	// The backing RAM under a device is untouched
	if m.Memory()[0x8010] != 0 {
		t.Fatal("device write reached RAM")
	}
	if err := m.MapIO(0x9000, 0x8000, nil, nil); err == nil {
		t.Fatal("inverted range accepted")
	}
}

func TestX86AddressSpace_SealRejectsLateMapIO(t *testing.T) {
	m := NewX86AddressSpace(0x10000)
	m.SealMappings()
	if err := m.MapIO(0x1000, 0x10FF, nil, nil); err == nil {
		t.Fatal("MapIO after SealMappings should fail")
	}
}

func TestX86AddressSpace_WatcherSeesEveryStore(t *testing.T) {
	m := NewX86AddressSpace(0x10000)
	w := &recordingWatcher{}
	m.setWatcher(w)

	m.Write8(0x10, 1)
	m.Write16(0x20, 1)
	m.Write32(0x30, 1)
	if err := m.LoadAt(0x40, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	want := [][2]uint32{{0x10, 1}, {0x20, 2}, {0x30, 4}, {0x40, 3}}
	if len(w.ranges) != len(want) {
		t.Fatalf("ranges: got %v, want %v", w.ranges, want)
	}
	for i := range want {
		if w.ranges[i] != want[i] {
			t.Fatalf("range %d: got %v, want %v", i, w.ranges[i], want[i])
		}
	}

	m.Clear()
	if last := w.ranges[len(w.ranges)-1]; last != [2]uint32{0, 0x10000} {
		t.Fatalf("Clear: got %v", last)
	}
	if err := m.LoadAt(0xFFFF, []byte{1, 2}); err == nil {
		t.Fatal("LoadAt past the end accepted")
	}
}
