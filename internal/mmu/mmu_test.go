package mmu

import (
	"testing"

	"github.com/dynacore/ppc32vm/internal/membus"
)

func newTestBus(t *testing.T) *membus.Bus {
	t.Helper()
	b := membus.New()
	ram, err := membus.NewRAM("ram", 0, 16*membus.PageSize)
	if err != nil {
		t.Fatalf("NewRAM: %v", err)
	}
	if err := b.AddRegion(ram); err != nil {
		t.Fatalf("AddRegion: %v", err)
	}
	return b
}

func TestBATTranslateReadWrite(t *testing.T) {
	var s State
	bus := newTestBus(t)

	// 128KiB block at EA 0x1000_0000 mapping to PA 0x0000_0000, R/W,
	// valid for both supervisor and user.
	s.SetBAT(SideData, 0, 0x10000003, 0x00000002)

	res, err := s.Translate(AccessStore, 0x10000040, false, true, bus)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Phys != 0x40 {
		t.Fatalf("phys = %#x, want 0x40", res.Phys)
	}
	if res.Host == nil {
		t.Fatal("expected a host-backed result for a RAM-mapped BAT translation")
	}
}

func TestBATProtectionFault(t *testing.T) {
	var s State
	bus := newTestBus(t)

	// Same block, but read-only (PP=1).
	s.SetBAT(SideData, 0, 0x10000003, 0x00000001)

	_, err := s.Translate(AccessStore, 0x10000040, false, true, bus)
	if err == nil {
		t.Fatal("expected a protection fault on a store to a read-only BAT block")
	}
	f, ok := err.(*Fault)
	if !ok {
		t.Fatalf("expected *Fault, got %T", err)
	}
	if f.DSISR&DSISRProtection == 0 {
		t.Fatalf("DSISR %#x missing protection bit", f.DSISR)
	}
}

func TestBATInvalidatedOnMutation(t *testing.T) {
	var s State
	bus := newTestBus(t)
	s.SetBAT(SideData, 0, 0x10000003, 0x00000002)

	if _, err := s.Translate(AccessLoad, 0x10000040, false, true, bus); err != nil {
		t.Fatalf("first translate: %v", err)
	}
	// Confirm it is now cached.
	idx := vtlbIndex(0x10000040 >> PageShift)
	if !s.vtlb[AccessLoad][idx].valid {
		t.Fatal("expected VTLB entry to be populated after a hit")
	}

	// Any BAT mutation must invalidate every VTLB entry.
	s.SetBAT(SideData, 1, 0x20000003, 0x00100002)
	if s.vtlb[AccessLoad][idx].valid {
		t.Fatal("VTLB entry survived a BAT mutation")
	}
}

func TestVTLBAgreesWithSlowPath(t *testing.T) {
	var s State
	bus := newTestBus(t)
	s.SetBAT(SideData, 0, 0x10000003, 0x00000002)

	first, err := s.Translate(AccessLoad, 0x10000100, false, true, bus)
	if err != nil {
		t.Fatalf("cold translate: %v", err)
	}
	second, err := s.Translate(AccessLoad, 0x10000100, false, true, bus)
	if err != nil {
		t.Fatalf("warm translate: %v", err)
	}
	if first.Phys != second.Phys {
		t.Fatalf("VTLB hit disagreed with slow path: %#x vs %#x", second.Phys, first.Phys)
	}
}

func TestPageTableWalkHit(t *testing.T) {
	var s State
	bus := newTestBus(t)

	s.SetSegment(4, 0x00ABCDEF)
	// Page table lives at the start of RAM; mask 0 selects a single PTEG
	// group so every hash lands at the same, known address.
	s.SetSDR1(0x00000000)

	ea := uint32(0x40001004) // segment 4, page index low bits
	_, pageIndex, api := segmentKey(ea)
	vsid := s.Segment(4)
	hash := (vsid ^ pageIndex) & 0xFFFFFF
	groupAddr := uint64(s.htabOrg()) | (uint64(hash&s.htabMask()) << 6)

	if err := WritePTE(bus, groupAddr, 0, vsid, api, false, 0x7 /* rpn */, 0, ProtReadWrite); err != nil {
		t.Fatalf("WritePTE: %v", err)
	}

	res, err := s.Translate(AccessLoad, ea, false, true, bus)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	wantPhys := uint32(0x7<<PageShift) | (ea & PageOffMask)
	if res.Phys != wantPhys {
		t.Fatalf("phys = %#x, want %#x", res.Phys, wantPhys)
	}
}

func TestPageTableWalkMissFaults(t *testing.T) {
	var s State
	bus := newTestBus(t)
	s.SetSegment(0, 0x1)
	s.SetSDR1(0x00000000)

	_, err := s.Translate(AccessFetch, 0x00001000, false, true, bus)
	if err == nil {
		t.Fatal("expected a page fault with no BAT and no matching PTE")
	}
	f, ok := err.(*Fault)
	if !ok {
		t.Fatalf("expected *Fault, got %T", err)
	}
	if f.Kind != FaultInstructionAccess {
		t.Fatalf("Kind = %v, want FaultInstructionAccess", f.Kind)
	}
	if f.DSISR&DSISRPageFault == 0 {
		t.Fatalf("DSISR %#x missing page-fault bit", f.DSISR)
	}
}

func TestMapPageBootstrapIdentity(t *testing.T) {
	var s State
	bus := newTestBus(t)

	s.MapPage(0, 0x00002000, 0x00003000, 0, ProtReadWrite, bus)

	res, err := s.Translate(AccessStore, 0x00002004, true, true, bus)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Phys != 0x00003004 {
		t.Fatalf("phys = %#x, want 0x3004", res.Phys)
	}

	// A global invalidate must drop the pinned mapping too.
	s.Invalidate()
	idx := vtlbIndex(0x00002004 >> PageShift)
	if s.vtlb[AccessStore][idx].valid {
		t.Fatal("MapPage entry survived Invalidate")
	}
}

func TestMapPageReadOnlyExcludesStore(t *testing.T) {
	var s State
	bus := newTestBus(t)
	s.MapPage(0, 0x5000, 0x6000, 0, ProtReadOnly, bus)

	if _, err := s.Translate(AccessLoad, 0x5000, true, true, bus); err != nil {
		t.Fatalf("expected load to hit the pinned mapping: %v", err)
	}

	idx := vtlbIndex(0x5000 >> PageShift)
	if s.vtlb[AccessStore][idx].valid {
		t.Fatal("read-only MapPage must not populate the store VTLB array")
	}
}

func TestInvalidateRegionClearsOnlyThatRegion(t *testing.T) {
	var s State
	bus := newTestBus(t)
	ram2, err := membus.NewRAM("ram2", 0x100000, 16*membus.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.AddRegion(ram2); err != nil {
		t.Fatal(err)
	}

	s.SetBAT(SideData, 0, 0x10000003, 0x00000002)     // -> PA 0 (ram)
	s.SetBAT(SideData, 1, 0x20000003, 0x00100002) // -> PA 0x100000 (ram2)

	// Offset the second address within its block so its page number
	// lands in a different VTLB slot than the first (both block bases
	// are 0 mod the cache size, so an unoffset pair would collide).
	if _, err := s.Translate(AccessLoad, 0x10000000, false, true, bus); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Translate(AccessLoad, 0x20008000, false, true, bus); err != nil {
		t.Fatal(err)
	}

	s.InvalidateRegion(ram2)

	idx1 := vtlbIndex(0x10000000 >> PageShift)
	idx2 := vtlbIndex(0x20008000 >> PageShift)
	if !s.vtlb[AccessLoad][idx1].valid {
		t.Fatal("unrelated region's VTLB entry should survive InvalidateRegion")
	}
	if s.vtlb[AccessLoad][idx2].valid {
		t.Fatal("ram2's VTLB entry should be cleared by InvalidateRegion(ram2)")
	}
}

// TestStoreSetsPTEChangedBit covers the slow path's store bookkeeping: a
// store through a hashed PTE sets the entry's changed bit and writes it
// back to guest memory; a load leaves it clear.
func TestStoreSetsPTEChangedBit(t *testing.T) {
	var s State
	bus := newTestBus(t)

	s.SetSegment(4, 0x00ABCDEF)
	s.SetSDR1(0x00000000)

	ea := uint32(0x40001004)
	_, pageIndex, api := segmentKey(ea)
	vsid := s.Segment(4)
	hash := (vsid ^ pageIndex) & 0xFFFFFF
	groupAddr := uint64(s.htabOrg()) | (uint64(hash&s.htabMask()) << 6)

	if err := WritePTE(bus, groupAddr, 0, vsid, api, false, 0x7, 0, ProtReadWrite); err != nil {
		t.Fatalf("WritePTE: %v", err)
	}

	if _, err := s.Translate(AccessLoad, ea, false, true, bus); err != nil {
		t.Fatalf("load translate: %v", err)
	}
	word1, err := bus.Read(groupAddr+4, 4, 0)
	if err != nil {
		t.Fatalf("Read word1: %v", err)
	}
	if uint32(word1)&pteChangedBit != 0 {
		t.Fatal("load set the PTE changed bit")
	}

	if _, err := s.Translate(AccessStore, ea, false, true, bus); err != nil {
		t.Fatalf("store translate: %v", err)
	}
	word1, err = bus.Read(groupAddr+4, 4, 0)
	if err != nil {
		t.Fatalf("Read word1: %v", err)
	}
	if uint32(word1)&pteChangedBit == 0 {
		t.Fatal("store did not set the PTE changed bit in guest memory")
	}
}
