// cpu_x86_block.go - Basic-block decode cache and block runner
//
// Code is decoded once into blocks of instructions keyed by the physical
// address of their first byte, the processor mode and the code segment's
// default size. A block ends at a control transfer, at an instruction that
// may change mode or interrupt state, at a page boundary or after a
// configured number of instructions.
//
// The cache watches physical stores. A store into bytes a block was
// decoded from evicts it before the store completes; when the running
// block is the victim it stops after the storing instruction and the
// engine decodes the new bytes.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "fmt"

const (
	x86DefaultBlockInstructions = 64
	x86DefaultCachedBlocks      = 16384
)

// x86Outcome is how an instruction (and so a block) left the processor
type x86Outcome uint8

const (
	x86OutNext          x86Outcome = iota // fall through to the next instruction
	x86OutBranch                          // transfer to a target known at decode time
	x86OutBranchDynamic                   // transfer through a register or memory operand
	x86OutCall
	x86OutReturn
	x86OutModeSwitch // CR0.PE/PG or EFLAGS.VM changed
	x86OutException  // a fault or trap is waiting for delivery
	x86OutHalt
	x86OutSelfModified // the running block was overwritten
)

var x86OutcomeNames = [...]string{
	x86OutNext:          "next",
	x86OutBranch:        "branch",
	x86OutBranchDynamic: "branch*",
	x86OutCall:          "call",
	x86OutReturn:        "return",
	x86OutModeSwitch:    "mode-switch",
	x86OutException:     "exception",
	x86OutHalt:          "halt",
	x86OutSelfModified:  "self-modified",
}

func (o x86Outcome) String() string {
	if int(o) < len(x86OutcomeNames) {
		return x86OutcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

type x86BlockKey struct {
	phys uint32
	big  bool
	mode X86Mode
	user bool // fetched at CPL 3, so page permissions were checked as user
}

// x86Block is a decoded run of instructions. A spanning block's last
// instruction continues onto the next linear page; tail bytes of it live
// in the frame recorded in nextPhys.
type x86Block struct {
	key      x86BlockKey
	insns    []x86Insn
	length   uint32
	spans    bool
	nextPhys uint32
	tail     uint32
	valid    bool
}

func x86Overlap(a, an, b, bn uint32) bool {
	return uint64(a) < uint64(b)+uint64(bn) && uint64(b) < uint64(a)+uint64(an)
}

func (b *x86Block) overlaps(phys, size uint32) bool {
	if x86Overlap(phys, size, b.key.phys, b.length-b.tail) {
		return true
	}
	return b.spans && x86Overlap(phys, size, b.nextPhys, b.tail)
}

// x86CodeCache owns every decoded block
type x86CodeCache struct {
	blocks    map[x86BlockKey]*x86Block
	pages     map[uint32][]*x86Block // physical page -> blocks with bytes in it
	maxInsns  int
	maxBlocks int

	Hits, Misses, Evictions, Flushes uint64
}

func newX86CodeCache(maxInsns, maxBlocks int) *x86CodeCache {
	if maxInsns <= 0 {
		maxInsns = x86DefaultBlockInstructions
	}
	if maxBlocks <= 0 {
		maxBlocks = x86DefaultCachedBlocks
	}
	return &x86CodeCache{
		blocks:    make(map[x86BlockKey]*x86Block),
		pages:     make(map[uint32][]*x86Block),
		maxInsns:  maxInsns,
		maxBlocks: maxBlocks,
	}
}

// Len returns the number of cached blocks
func (cc *x86CodeCache) Len() int {
	return len(cc.blocks)
}

// Flush discards every block
func (cc *x86CodeCache) Flush() {
	for _, b := range cc.blocks {
		b.valid = false
	}
	clear(cc.blocks)
	clear(cc.pages)
	cc.Flushes++
}

// InvalidateRange implements x86CodeWatcher
func (cc *x86CodeCache) InvalidateRange(phys, size uint32) {
	if len(cc.pages) == 0 || size == 0 {
		return
	}
	var victims []*x86Block
	last := (uint64(phys) + uint64(size) - 1) >> 12
	for p := uint64(phys >> 12); p <= last; p++ {
		for _, b := range cc.pages[uint32(p)] {
			if b.valid && b.overlaps(phys, size) {
				victims = append(victims, b)
			}
		}
	}
	for _, b := range victims {
		cc.evict(b)
	}
}

func (cc *x86CodeCache) evict(b *x86Block) {
	if !b.valid {
		return
	}
	b.valid = false
	cc.Evictions++
	delete(cc.blocks, b.key)
	cc.unlink(b.key.phys>>12, b)
	if b.spans {
		cc.unlink(b.nextPhys>>12, b)
	}
}

func (cc *x86CodeCache) unlink(page uint32, b *x86Block) {
	list := cc.pages[page]
	kept := list[:0]
	for _, o := range list {
		if o != b {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		delete(cc.pages, page)
		return
	}
	clear(list[len(kept):])
	cc.pages[page] = kept
}

func (cc *x86CodeCache) insert(b *x86Block) {
	if len(cc.blocks) >= cc.maxBlocks {
		cc.Flush()
	}
	cc.blocks[b.key] = b
	cc.pages[b.key.phys>>12] = append(cc.pages[b.key.phys>>12], b)
	if b.spans && b.nextPhys>>12 != b.key.phys>>12 {
		cc.pages[b.nextPhys>>12] = append(cc.pages[b.nextPhys>>12], b)
	}
}

// lookup returns the block starting at CS:EIP, decoding it on a miss.
// Faults fetching the first instruction propagate.
func (cc *x86CodeCache) lookup(c *CPU_X86) *x86Block {
	eip := c.EIP
	cs := &c.seg[x86SegCS]
	key := x86BlockKey{phys: c.codePhys(eip), big: cs.Big, mode: c.Mode(), user: c.userAccess()}

	if b, ok := cc.blocks[key]; ok {
		fits := uint64(eip)+uint64(b.length)-1 <= uint64(cs.Limit)
		if fits && b.spans {
			next, ok := c.peekLinear(cs.Base + eip + b.length - b.tail)
			fits = ok && next == b.nextPhys
			if !fits {
				cc.evict(b)
			}
		}
		if fits {
			cc.Hits++
			return b
		}
		// Reached through a shorter code segment: decode against this
		// limit without replacing the cached block
		if b.valid {
			return cc.decode(c, key)
		}
	}
	cc.Misses++
	b := cc.decode(c, key)
	cc.insert(b)
	return b
}

func (cc *x86CodeCache) decode(c *CPU_X86, key x86BlockKey) *x86Block {
	b := &x86Block{key: key, valid: true}
	eip := c.EIP
	linStart := c.seg[x86SegCS].Base + eip
	for n := 0; n < cc.maxInsns; n++ {
		pos := eip + b.length
		if !key.big {
			pos &= 0xFFFF
		}
		var in x86Insn
		if n == 0 {
			in = x86Decode(c.fetchCode, pos, key.big)
		} else if f := catchX86Fault(func() { in = x86Decode(c.fetchCode, pos, key.big) }); f != nil {
			// The fault belongs to this instruction; it is raised again
			// when execution reaches it as the first of a new block.
			break
		}
		in.off = b.length
		b.insns = append(b.insns, in)
		b.length += uint32(in.length)

		end := linStart + b.length
		if end>>12 != linStart>>12 {
			pageEnd := linStart&^x86PageMask + x86PageSize
			if end != pageEnd {
				b.spans = true
				b.tail = end - pageEnd
				b.nextPhys, _ = c.peekLinear(pageEnd)
			}
			break
		}
		if in.op.flow != x86FlowNext {
			break
		}
	}
	return b
}

// runBlock executes up to limit instructions of b, which starts at CS:start,
// and reports the mnemonic of the last one it started.
// EIP is advanced past each instruction before it runs; a fault or an
// internal defect puts it back on the failing instruction.
func (c *CPU_X86) runBlock(b *x86Block, start uint32, limit int) (n int, out x86Outcome, fault *x86Fault, last string) {
	var cur *x86Insn
	rewind := func() {
		c.EIP = start + cur.off
		if !b.key.big {
			c.EIP &= 0xFFFF
		}
		c.Instructions--
		n--
	}
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*x86Fault)
			if !ok {
				if cur != nil {
					rewind()
				}
				if ie, ok := r.(*x86InternalError); ok {
					ie.Op = last
				}
				panic(r)
			}
			if f.Kind == x86EventFault {
				rewind()
			}
			out, fault = x86OutException, f
		}
	}()

	for i := range b.insns {
		if n >= limit {
			return n, x86OutNext, nil, last
		}
		cur = &b.insns[i]
		last = cur.mnemonic()
		next := start + cur.off + uint32(cur.length)
		if !b.key.big {
			next &= 0xFFFF
		}
		c.EIP = next
		c.irqShadow = false
		c.Instructions++
		n++

		o := cur.op.exec(c, cur)
		if !b.valid && o == x86OutNext && i < len(b.insns)-1 {
			return n, x86OutSelfModified, nil, last
		}
		if o != x86OutNext {
			return n, o, nil, last
		}
	}
	return n, x86OutNext, nil, last
}
