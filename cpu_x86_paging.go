// cpu_x86_paging.go - 386 two-level paging
//
// Linear addresses are translated through the page directory at CR3 when
// CR0.PG is set. Translations are cached per 4KB page in a small TLB map
// that is flushed on CR3 writes and paging mode changes, and per page by
// INVLPG.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

const (
	x86PTEPresent  = 1 << 0
	x86PTEWritable = 1 << 1
	x86PTEUser     = 1 << 2
	x86PTEAccessed = 1 << 5
	x86PTEDirty    = 1 << 6
	x86PDELarge    = 1 << 7

	x86PageSize = 4096
	x86PageMask = x86PageSize - 1
)

type x86TLBEntry struct {
	frame    uint32
	user     bool
	writable bool
	dirty    bool
}

type x86Paging struct {
	tlb map[uint32]x86TLBEntry
}

func (p *x86Paging) init() {
	p.tlb = make(map[uint32]x86TLBEntry, 256)
}

func (p *x86Paging) flush() {
	clear(p.tlb)
}

func (p *x86Paging) invalidate(lin uint32) {
	delete(p.tlb, lin>>12)
}

// pageFault raises #PF for lin and records the address in CR2
func (c *CPU_X86) pageFault(lin uint32, present, write, user bool) {
	c.CR2 = lin
	var code uint32
	if present {
		code |= 1
	}
	if write {
		code |= 2
	}
	if user {
		code |= 4
	}
	x86RaiseCode(x86VecPF, code)
}

// linearToPhys translates a linear address, raising #PF on failure
func (c *CPU_X86) linearToPhys(lin uint32, write, user bool) uint32 {
	if c.CR0&x86CR0PG == 0 {
		return lin
	}
	if e, ok := c.paging.tlb[lin>>12]; ok {
		if (!user || e.user) && (!write || (e.dirty && (e.writable || (!user && c.CR0&x86CR0WP == 0)))) {
			return e.frame | lin&x86PageMask
		}
	}
	phys, ok := c.walk(lin, write, user, true)
	if !ok {
		x86Defect("page walk for %08X failed without a fault", lin)
	}
	return phys
}

// peekLinear translates without faulting or touching accessed bits
func (c *CPU_X86) peekLinear(lin uint32) (uint32, bool) {
	if c.CR0&x86CR0PG == 0 {
		return lin, true
	}
	return c.walk(lin, false, false, false)
}

// walk performs the two-level table walk. With commit set it raises page
// faults, updates accessed/dirty bits and fills the TLB.
func (c *CPU_X86) walk(lin uint32, write, user, commit bool) (uint32, bool) {
	pdeAddr := c.CR3&^x86PageMask | (lin>>22)<<2
	pde := c.mem.Read32(pdeAddr)
	if pde&x86PTEPresent == 0 {
		if commit {
			c.pageFault(lin, false, write, user)
		}
		return 0, false
	}

	var frame, pte, pteAddr uint32
	large := pde&x86PDELarge != 0 && c.CR4&x86CR4PSE != 0
	if large {
		frame = pde&0xFFC00000 | lin&0x003FF000
		pte = pde
	} else {
		pteAddr = pde&^x86PageMask | ((lin>>12)&0x3FF)<<2
		pte = c.mem.Read32(pteAddr)
		if pte&x86PTEPresent == 0 {
			if commit {
				c.pageFault(lin, false, write, user)
			}
			return 0, false
		}
		frame = pte &^ x86PageMask
	}

	userOK := pde&x86PTEUser != 0 && pte&x86PTEUser != 0
	writeOK := pde&x86PTEWritable != 0 && pte&x86PTEWritable != 0
	if !commit {
		return frame | lin&x86PageMask, true
	}

	if user && !userOK {
		c.pageFault(lin, true, write, user)
	}
	if write && !writeOK && (user || c.CR0&x86CR0WP != 0) {
		c.pageFault(lin, true, write, user)
	}

	if pde&x86PTEAccessed == 0 {
		pde |= x86PTEAccessed
		c.mem.Write32(pdeAddr, pde)
	}
	if large {
		if write && pde&x86PTEDirty == 0 {
			c.mem.Write32(pdeAddr, pde|x86PTEDirty)
		}
	} else {
		upd := pte | x86PTEAccessed
		if write {
			upd |= x86PTEDirty
		}
		if upd != pte {
			c.mem.Write32(pteAddr, upd)
		}
	}

	c.paging.tlb[lin>>12] = x86TLBEntry{
		frame:    frame,
		user:     userOK,
		writable: writeOK,
		dirty:    write || pte&x86PTEDirty != 0,
	}
	return frame | lin&x86PageMask, true
}
