/*
ppc32vm MMU / Translation layer (L3)

Copyright (c) 2024, Richard Cornwell
Copyright (c) 2026, the ppc32vm authors

Permission is hereby granted, free of charge, to any person obtaining a
copy of this software and associated documentation files (the "Software"),
to deal in the Software without restriction, including without limitation
the rights to use, copy, modify, merge, publish, distribute, sublicense,
and/or sell copies of the Software, and to permit persons to whom the
Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.

Package mmu implements the PowerPC-32 BAT + segmented hashed page table
translator and its software translation cache (VTLB), spec §4.3. It has no
dependency on the cpu package; the CPU embeds a *State and drives it
explicitly, passing in whatever privilege/translation-enable bits it has
decided apply to the current access (mirrors the teacher's op_lra, which
is itself just a CPU method reaching into its own cregs/seg fields —
generalized here into a standalone, independently testable component per
spec §4.3's "most complex component" billing).
*/
package mmu

import "github.com/dynacore/ppc32vm/internal/membus"

// PageSize and PageShift fix the PowerPC-32 page geometry used throughout
// translation (spec §4.3: "page size 4,096").
const (
	PageSize    = 4096
	PageShift   = 12
	PageOffMask = PageSize - 1
)

// AccessMode distinguishes the three kinds of access the VTLB is keyed by
// (spec §3).
type AccessMode int

const (
	AccessFetch AccessMode = iota
	AccessLoad
	AccessStore
	modeCount
)

// Side selects the instruction or data BAT array.
type Side int

const (
	SideInstruction Side = iota
	SideData
)

// Protection encodes the PP bits of a BAT or PTE.
type Protection uint8

const (
	ProtNoAccess   Protection = 0
	ProtReadOnly   Protection = 1
	ProtReadWrite  Protection = 2
	ProtReadOnlyAlt Protection = 3
)

// Allows reports whether mode is permitted under this protection value.
func (p Protection) Allows(mode AccessMode) bool {
	switch p {
	case ProtNoAccess:
		return false
	case ProtReadOnly, ProtReadOnlyAlt:
		return mode != AccessStore
	case ProtReadWrite:
		return true
	default:
		return false
	}
}

// BatEntry is one of the four hardware BAT pairs per side (spec §3:
// "2 x 4 x two-word entries").
type BatEntry struct {
	Valid      bool
	Supervisor bool // usable when MSR.PR == 0
	User       bool // usable when MSR.PR == 1
	VirtBase   uint32 // effective-address bits outside BlockMask
	BlockMask  uint32 // 1 bits mark the offset-within-block portion of the EA
	PhysBase   uint32
	Protection Protection
}

// matches reports whether ea falls in this BAT's block and is usable for
// the given privilege.
func (e *BatEntry) matches(ea uint32, privileged bool) bool {
	if !e.Valid {
		return false
	}
	if privileged && !e.Supervisor {
		return false
	}
	if !privileged && !e.User {
		return false
	}
	return (ea &^ e.BlockMask) == e.VirtBase
}

func (e *BatEntry) translate(ea uint32) uint32 {
	return e.PhysBase | (ea & e.BlockMask)
}

// FaultKind identifies which guest exception a Fault corresponds to
// (spec §7 kind 2, injected by the execution engine, never surfaced to Go
// callers as a panic).
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultInstructionAccess
	FaultDataAccess
)

// Fault reports a translation failure. DSISR/SRR1 bit conventions follow
// spec §8 scenario S6: bit 30 (0x00000002 in our little DSISR subset) marks
// a page-table miss ("page-fault marker").
type Fault struct {
	Kind  FaultKind
	EA    uint32 // the faulting effective address, becomes DAR for data faults
	DSISR uint32
}

func (f *Fault) Error() string { return "mmu: translation fault" }

const (
	// DSISRPageFault marks "no BAT, no matching PTE" (spec §8 S6: "DSISR
	// bit 30 set (page-fault marker)"); DSISRProtection marks a protection
	// violation on an otherwise-valid PTE/BAT match.
	DSISRPageFault   uint32 = 0x00000002
	DSISRProtection  uint32 = 0x08000000
	DSISRStore       uint32 = 0x02000000 // set when the faulting access was a store
)

// Result is what a successful translation yields: the physical address,
// and — when the destination page lives in a cacheable Region — that
// Region's whole backing byte slice plus the index of the translated
// address's byte within it, so the CPU can read/write without a second
// bus round trip.
type Result struct {
	Phys       uint32
	Host       []byte // nil when the page is device-backed
	PageOffset int    // index of the translated address's byte within Host
}

// State holds everything BAT/segment/SDR1/VTLB related; it is meant to be
// embedded directly in the CPU's register file.
type State struct {
	Bat      [2][4]BatEntry
	Segments [16]uint32 // 24-bit VSID in the low bits of each
	SDR1     uint32     // HTABORG (high bits) | HTABMASK (low bits)

	vtlb [int(modeCount)][vtlbSize]vtlbEntry

	// cpu_map_page (spec §6) software mappings, the bootstrap identity
	// maps installed by chassis code before the guest's own hashed page
	// table exists, have no field of their own: they live in vtlb as
	// ordinary translations (see MapPage) and are cleared by Invalidate
	// like any other entry — a reboot or TLBIA is expected to reinstall
	// them, matching the real emulator's sw-TLB behavior.
}

const vtlbBits = 10
const vtlbSize = 1 << vtlbBits
const vtlbMask = vtlbSize - 1

type vtlbEntry struct {
	valid      bool
	vpn        uint32
	physPage   uint32
	region     *membus.Region
	regionOff  uint64 // region.Bytes() offset of this page's first byte
	deviceOnly bool
}

func vtlbIndex(vpn uint32) uint32 {
	return vpn & vtlbMask
}

// Invalidate clears every VTLB entry. Spec §4.3 invariant: every mutator
// of SDR1, any segment register, any BAT, or MSR translation/supervisor
// bits MUST call this.
func (s *State) Invalidate() {
	for m := range s.vtlb {
		for i := range s.vtlb[m] {
			s.vtlb[m][i] = vtlbEntry{}
		}
	}
}

// InvalidateRegion clears any VTLB entry caching a host pointer into r
// (spec §3: "a region deletion MUST invalidate all VTLB entries
// referencing it").
func (s *State) InvalidateRegion(r *membus.Region) {
	for m := range s.vtlb {
		for i := range s.vtlb[m] {
			if s.vtlb[m][i].valid && s.vtlb[m][i].region == r {
				s.vtlb[m][i] = vtlbEntry{}
			}
		}
	}
}
