package mmu

import "github.com/dynacore/ppc32vm/internal/membus"

// pte is one decoded entry of an 8-byte hashed-page-table slot. Word 0
// carries the validity/VSID/hash-selector/API fields; word 1 carries the
// physical page number, WIMG storage attributes, changed bit, and
// protection code. This is our own internally-consistent layout (it does
// not need to match any particular silicon's bit numbering, only itself
// and the code that writes PTEs into guest memory on its behalf).
type pte struct {
	valid   bool
	vsid    uint32
	h       bool
	api     uint32
	rpn     uint32
	wimg    uint8
	changed bool
	pp      Protection
}

const (
	pteValidBit = 0x80000000
	pteVSIDMask = 0x00FFFFFF
	pteVSIDShift = 7
	pteHBit      = 0x40
	pteAPIMask   = 0x3F

	ptePPMask      = 0x3
	pteChangedBit  = 0x4
	pteWIMGShift   = 8
	pteWIMGMask    = 0xF
)

func decodePTE(word0, word1 uint32) pte {
	return pte{
		valid:   word0&pteValidBit != 0,
		vsid:    (word0 >> pteVSIDShift) & pteVSIDMask,
		h:       word0&pteHBit != 0,
		api:     word0 & pteAPIMask,
		rpn:     (word1 >> PageShift) & 0xFFFFF,
		wimg:    uint8((word1 >> pteWIMGShift) & pteWIMGMask),
		changed: word1&pteChangedBit != 0,
		pp:      Protection(word1 & ptePPMask),
	}
}

func encodePTE(p pte) (word0, word1 uint32) {
	word0 = (p.vsid & pteVSIDMask) << pteVSIDShift
	if p.valid {
		word0 |= pteValidBit
	}
	if p.h {
		word0 |= pteHBit
	}
	word0 |= p.api & pteAPIMask

	word1 = (p.rpn & 0xFFFFF) << PageShift
	word1 |= uint32(p.wimg&pteWIMGMask) << pteWIMGShift
	if p.changed {
		word1 |= pteChangedBit
	}
	word1 |= uint32(p.pp) & ptePPMask
	return word0, word1
}

const ptegEntries = 8  // 8 PTEs per PTEG group
const ptegStride = 8   // bytes per PTE (two words)
const ptegSize = ptegEntries * ptegStride

// pageIndex and api split an effective address into the hashed page
// table's lookup key: segIdx selects one of the 16 segment registers,
// pageIndex is the 16-bit offset within that segment, and api is its top
// 6 bits (the field actually compared against a PTE, the rest being
// folded into the hash instead).
func segmentKey(ea uint32) (segIdx int, pageIndex uint32, api uint32) {
	segIdx = int(ea >> 28)
	pageIndex = (ea >> PageShift) & 0xFFFF
	api = (pageIndex >> 10) & 0x3F
	return
}

// walkPageTable performs the BAT-miss slow path: hash (VSID, page index)
// into a primary PTEG group, scan its 8 PTEs for a match, and on a total
// miss retry the complementary (secondary) group before giving up. On a
// hit it also returns the matching PTE's guest-physical address, so the
// caller can write the changed bit back.
func (s *State) walkPageTable(ea uint32, bus *membus.Bus) (pte, uint64, bool, error) {
	segIdx, pageIndex, api := segmentKey(ea)
	vsid := s.Segments[segIdx]

	hash := (vsid ^ pageIndex) & 0xFFFFFF
	if p, addr, ok, err := s.scanGroup(hash, vsid, api, false, bus); err != nil || ok {
		return p, addr, ok, err
	}
	hash2 := (^hash) & 0xFFFFFF
	return s.scanGroup(hash2, vsid, api, true, bus)
}

func (s *State) scanGroup(hash, vsid, api uint32, secondary bool, bus *membus.Bus) (pte, uint64, bool, error) {
	groupAddr := uint64(s.htabOrg()) | (uint64(hash&s.htabMask()) << 6)
	for i := 0; i < ptegEntries; i++ {
		entryAddr := groupAddr + uint64(i*ptegStride)
		word0, err := bus.Read(entryAddr, 4, 0)
		if err != nil {
			return pte{}, 0, false, err
		}
		word1, err := bus.Read(entryAddr+4, 4, 0)
		if err != nil {
			return pte{}, 0, false, err
		}
		p := decodePTE(uint32(word0), uint32(word1))
		if p.valid && p.vsid == (vsid&pteVSIDMask) && p.api == api && p.h == secondary {
			return p, entryAddr, true, nil
		}
	}
	return pte{}, 0, false, nil
}

// WritePTE installs a page table entry directly (used by tests and by a
// guest-side page-table builder emulated at the bus level); it is not on
// the CPU's instruction-execution path.
func WritePTE(bus *membus.Bus, groupAddr uint64, slot int, vsid uint32, api uint32, secondary bool, rpn uint32, wimg uint8, pp Protection) error {
	word0, word1 := encodePTE(pte{valid: true, vsid: vsid, h: secondary, api: api, rpn: rpn, wimg: wimg, pp: pp})
	entryAddr := groupAddr + uint64(slot*ptegStride)
	if err := bus.Write(entryAddr, 4, uint64(word0), 0); err != nil {
		return err
	}
	return bus.Write(entryAddr+4, 4, uint64(word1), 0)
}
