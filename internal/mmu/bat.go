package mmu

// SetBAT decodes a raw (upper, lower) BAT register pair written by MTSPR
// IBATxU/IBATxL or DBATxU/DBATxL and installs it at index (0-3) on the
// given side, then invalidates the VTLB (spec §4.3 invariant). The
// encoding mirrors real hardware closely enough to be worth documenting
// here rather than in the caller: bits 31-17 of the upper word are the
// block's effective base (masked to the block size), bits 16-2 are the
// block-length field (a run of low-order one bits establishes the block's
// size above the fixed 128KiB minimum), and bits 1-0 are the supervisor/
// user valid flags. The lower word supplies the matching physical base in
// its top 15 bits and the 2-bit protection code in its bottom 2 bits.
func (s *State) SetBAT(side Side, index int, upper, lower uint32) {
	bepi := upper & 0xFFFE0000
	blField := (upper >> 2) & 0x7FFF
	vs := upper&0x2 != 0
	vp := upper&0x1 != 0
	blockMask := (blField << 17) | 0x1FFFF

	brpn := lower & 0xFFFE0000

	s.Bat[side][index] = BatEntry{
		Valid:      vs || vp,
		Supervisor: vs,
		User:       vp,
		VirtBase:   bepi &^ blockMask,
		BlockMask:  blockMask,
		PhysBase:   brpn &^ blockMask,
		Protection: Protection(lower & 0x3),
	}
	s.Invalidate()
}

// BAT returns the decoded entry at (side, index) for inspection (the
// monitor console's "regs" command and tests read this).
func (s *State) BAT(side Side, index int) BatEntry {
	return s.Bat[side][index]
}

// UpperWord/LowerWord re-encode a decoded BatEntry back into its raw
// BATxU/BATxL register halves, the inverse of SetBAT's decode, so MTSPR's
// single-half writes (IBAT0U vs IBAT0L arrive as two separate
// instructions) can preserve the half they aren't touching.
func (e BatEntry) UpperWord() uint32 {
	blField := e.BlockMask >> 17
	var flags uint32
	if e.Supervisor {
		flags |= 0x2
	}
	if e.User {
		flags |= 0x1
	}
	return e.VirtBase | (blField << 2) | flags
}

func (e BatEntry) LowerWord() uint32 {
	return e.PhysBase | uint32(e.Protection)&0x3
}

func (s *State) lookupBAT(side Side, ea uint32, privileged bool) (*BatEntry, bool) {
	for i := range s.Bat[side] {
		e := &s.Bat[side][i]
		if e.matches(ea, privileged) {
			return e, true
		}
	}
	return nil, false
}
