package mmu

import "github.com/dynacore/ppc32vm/internal/membus"

// storeBit returns DSISRStore when mode is a store, for building a
// Fault's DSISR value.
func storeBit(mode AccessMode) uint32 {
	if mode == AccessStore {
		return DSISRStore
	}
	return 0
}

func (s *State) fault(mode AccessMode, ea uint32, dsisr uint32) *Fault {
	kind := FaultDataAccess
	if mode == AccessFetch {
		kind = FaultInstructionAccess
	}
	return &Fault{Kind: kind, EA: ea, DSISR: dsisr}
}

// Translate resolves an effective address for the given access mode.
// When translationEnabled is false (MSR.IR/DR clear) it is a flat
// identity map with no VTLB involvement at all — real mode always goes
// straight to the bus. Otherwise it consults the VTLB first, then BATs,
// then the hashed page table, caching whichever one resolves it.
func (s *State) Translate(mode AccessMode, ea uint32, privileged bool, translationEnabled bool, bus *membus.Bus) (Result, error) {
	if !translationEnabled {
		return s.resolveReal(ea, bus), nil
	}

	vpn := ea >> PageShift
	idx := vtlbIndex(vpn)
	if e := &s.vtlb[mode][idx]; e.valid && e.vpn == vpn {
		return s.buildResult(e, ea), nil
	}

	side := SideData
	if mode == AccessFetch {
		side = SideInstruction
	}
	if bat, ok := s.lookupBAT(side, ea, privileged); ok {
		if !bat.Protection.Allows(mode) {
			return Result{}, s.fault(mode, ea, DSISRProtection|storeBit(mode))
		}
		phys := bat.translate(ea)
		s.cache(mode, vpn, phys>>PageShift, bus)
		return s.buildResult(&s.vtlb[mode][idx], ea), nil
	}

	p, entryAddr, ok, err := s.walkPageTable(ea, bus)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, s.fault(mode, ea, DSISRPageFault|storeBit(mode))
	}
	if !p.pp.Allows(mode) {
		return Result{}, s.fault(mode, ea, DSISRProtection|storeBit(mode))
	}
	if mode == AccessStore && !p.changed {
		// Spec §4.3 slow-path step 3: a store marks the PTE changed. Write
		// the updated word back so the guest's own page-out bookkeeping
		// sees the dirty bit.
		p.changed = true
		_, word1 := encodePTE(p)
		if err := bus.Write(entryAddr+4, 4, uint64(word1), 0); err != nil {
			return Result{}, err
		}
	}
	s.cache(mode, vpn, p.rpn, bus)
	return s.buildResult(&s.vtlb[mode][idx], ea), nil
}

// cache populates the VTLB slot for (mode, vpn) with physical page ppn,
// resolving a host byte-slice view of the page from the bus when it is
// backed by a single cacheable Region.
func (s *State) cache(mode AccessMode, vpn, ppn uint32, bus *membus.Bus) {
	idx := vtlbIndex(vpn)
	entry := vtlbEntry{valid: true, vpn: vpn, physPage: ppn}
	if r, off, ok := bus.ResolvePage(uint64(ppn)<<PageShift, PageSize); ok {
		entry.region = r
		entry.regionOff = off
	} else {
		entry.deviceOnly = true
	}
	s.vtlb[mode][idx] = entry
}

func (s *State) buildResult(e *vtlbEntry, ea uint32) Result {
	phys := e.physPage<<PageShift | (ea & PageOffMask)
	if e.region == nil {
		return Result{Phys: phys}
	}
	return Result{
		Phys:       phys,
		Host:       e.region.Bytes(),
		PageOffset: int(e.regionOff + uint64(ea&PageOffMask)),
	}
}

// resolveReal is the real-mode (translation-disabled) path: EA equals PA,
// with no VTLB caching since MSR.IR/DR is expected to be toggled rarely
// and is already covered by Invalidate on the next enable.
func (s *State) resolveReal(ea uint32, bus *membus.Bus) Result {
	pageBase := uint64(ea &^ PageOffMask)
	if r, off, ok := bus.ResolvePage(pageBase, PageSize); ok {
		return Result{Phys: ea, Host: r.Bytes(), PageOffset: int(off + uint64(ea&PageOffMask))}
	}
	return Result{Phys: ea}
}

// allowedModes returns which access modes a protection code permits, for
// MapPage's bulk VTLB population.
func allowedModes(pp Protection) []AccessMode {
	switch pp {
	case ProtReadOnly, ProtReadOnlyAlt:
		return []AccessMode{AccessFetch, AccessLoad}
	case ProtReadWrite:
		return []AccessMode{AccessFetch, AccessLoad, AccessStore}
	default:
		return nil
	}
}

// MapPage installs a pinned software translation for vaddr without
// touching the guest's own hashed page table (spec §6 cpu_map_page):
// bootstrap/chassis code uses this to identity-map the boot image before
// the guest OS has built its own tables. vsid is accepted for interface
// parity with the guest-visible mapping call but isn't consulted — this
// path bypasses VSID/hash matching entirely, writing straight into the
// VTLB cache arrays for whichever access modes pp allows. Like any other
// VTLB entry it is cleared by Invalidate, so a guest that later flushes
// the TLB (TLBIA, or touching SDR1/segments/BATs) is expected to have its
// own page table in place by then.
func (s *State) MapPage(vsid uint32, vaddr, paddr uint32, wimg uint8, pp Protection, bus *membus.Bus) {
	_ = vsid
	vpn := vaddr >> PageShift
	ppn := paddr >> PageShift
	for _, mode := range allowedModes(pp) {
		s.cache(mode, vpn, ppn, bus)
	}
}
