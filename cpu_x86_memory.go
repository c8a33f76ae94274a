// cpu_x86_memory.go - Segmented and linear memory access for the x86 CPU
//
// Access path: segment check (type, limit) -> linear address -> paging ->
// physical address space. Multi-byte accesses that straddle a page are
// translated page by page; stores translate every page they touch before
// the first byte is written so a faulting store leaves memory unchanged.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// -----------------------------------------------------------------------------
// Linear access
// -----------------------------------------------------------------------------

func (c *CPU_X86) readLinear8(lin uint32, user bool) byte {
	return c.mem.Read8(c.linearToPhys(lin, false, user))
}

func (c *CPU_X86) readLinear16(lin uint32, user bool) uint16 {
	if lin&x86PageMask <= x86PageSize-2 {
		return c.mem.Read16(c.linearToPhys(lin, false, user))
	}
	return uint16(c.readLinear8(lin, user)) | uint16(c.readLinear8(lin+1, user))<<8
}

func (c *CPU_X86) readLinear32(lin uint32, user bool) uint32 {
	if lin&x86PageMask <= x86PageSize-4 {
		return c.mem.Read32(c.linearToPhys(lin, false, user))
	}
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(c.readLinear8(lin+i, user)) << (8 * i)
	}
	return v
}

func (c *CPU_X86) writeLinear8(lin uint32, v byte, user bool) {
	c.mem.Write8(c.linearToPhys(lin, true, user), v)
}

func (c *CPU_X86) writeLinear16(lin uint32, v uint16, user bool) {
	if lin&x86PageMask <= x86PageSize-2 {
		c.mem.Write16(c.linearToPhys(lin, true, user), v)
		return
	}
	p0 := c.linearToPhys(lin, true, user)
	p1 := c.linearToPhys(lin+1, true, user)
	c.mem.Write8(p0, byte(v))
	c.mem.Write8(p1, byte(v>>8))
}

func (c *CPU_X86) writeLinear32(lin uint32, v uint32, user bool) {
	if lin&x86PageMask <= x86PageSize-4 {
		c.mem.Write32(c.linearToPhys(lin, true, user), v)
		return
	}
	var phys [4]uint32
	for i := uint32(0); i < 4; i++ {
		phys[i] = c.linearToPhys(lin+i, true, user)
	}
	for i := uint32(0); i < 4; i++ {
		c.mem.Write8(phys[i], byte(v>>(8*i)))
	}
}

// System structures (descriptor tables, TSS) are accessed at supervisor level
func (c *CPU_X86) readSystem8(lin uint32) byte    { return c.readLinear8(lin, false) }
func (c *CPU_X86) readSystem16(lin uint32) uint16 { return c.readLinear16(lin, false) }
func (c *CPU_X86) readSystem32(lin uint32) uint32 { return c.readLinear32(lin, false) }
func (c *CPU_X86) readSystem64(lin uint32) uint64 {
	return uint64(c.readLinear32(lin, false)) | uint64(c.readLinear32(lin+4, false))<<32
}
func (c *CPU_X86) writeSystem8(lin uint32, v byte)    { c.writeLinear8(lin, v, false) }
func (c *CPU_X86) writeSystem32(lin uint32, v uint32) { c.writeLinear32(lin, v, false) }

// -----------------------------------------------------------------------------
// Segmented access
// -----------------------------------------------------------------------------

func (c *CPU_X86) read8(seg int, off uint32) byte {
	return c.readLinear8(c.segAddr(seg, off, 1, x86AccessRead), c.userAccess())
}

func (c *CPU_X86) read16(seg int, off uint32) uint16 {
	return c.readLinear16(c.segAddr(seg, off, 2, x86AccessRead), c.userAccess())
}

func (c *CPU_X86) read32(seg int, off uint32) uint32 {
	return c.readLinear32(c.segAddr(seg, off, 4, x86AccessRead), c.userAccess())
}

func (c *CPU_X86) write8(seg int, off uint32, v byte) {
	c.writeLinear8(c.segAddr(seg, off, 1, x86AccessWrite), v, c.userAccess())
}

func (c *CPU_X86) write16(seg int, off uint32, v uint16) {
	c.writeLinear16(c.segAddr(seg, off, 2, x86AccessWrite), v, c.userAccess())
}

func (c *CPU_X86) write32(seg int, off uint32, v uint32) {
	c.writeLinear32(c.segAddr(seg, off, 4, x86AccessWrite), v, c.userAccess())
}

// readW / writeW dispatch on operand width
func (c *CPU_X86) readW(w uint8, seg int, off uint32) uint32 {
	switch w {
	case 8:
		return uint32(c.read8(seg, off))
	case 16:
		return uint32(c.read16(seg, off))
	}
	return c.read32(seg, off)
}

func (c *CPU_X86) writeW(w uint8, seg int, off uint32, v uint32) {
	switch w {
	case 8:
		c.write8(seg, off, byte(v))
	case 16:
		c.write16(seg, off, uint16(v))
	default:
		c.write32(seg, off, v)
	}
}

// checkWrite validates a store of size bytes without performing it
func (c *CPU_X86) checkWrite(seg int, off, size uint32) {
	lin := c.segAddr(seg, off, size, x86AccessWrite)
	user := c.userAccess()
	c.linearToPhys(lin, true, user)
	c.linearToPhys(lin+size-1, true, user)
}

// fetchCode reads one instruction byte at CS:off
func (c *CPU_X86) fetchCode(off uint32) byte {
	return c.readLinear8(c.segAddr(x86SegCS, off, 1, x86AccessExec), c.userAccess())
}

// codePhys returns the physical address of the instruction byte at CS:off
func (c *CPU_X86) codePhys(off uint32) uint32 {
	return c.linearToPhys(c.segAddr(x86SegCS, off, 1, x86AccessExec), false, c.userAccess())
}
