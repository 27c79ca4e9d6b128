/*
ppc32vm Execution Engine - CPU register file

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

Package cpu is the core's L4/L5 layer: the PowerPC-32 instruction decoder
and step-by-step execution engine, generalized from the teacher's S/370
interpreter (internal/cpu) onto a different register file and a
two-level, mask/value instruction decoder in place of the teacher's flat
opcode-byte table.
*/
package cpu

import (
	"sync"
	"sync/atomic"

	"github.com/dynacore/ppc32vm/internal/membus"
	"github.com/dynacore/ppc32vm/internal/mmu"
)

// RunState is the CPU thread's externally observable lifecycle state
// (spec §5 "Cancellation").
type RunState int32

const (
	StateHalted RunState = iota
	StateRunning
	StatePaused
)

// MSR bit positions used by this implementation. Only the bits the core
// actually interprets are named; the rest of the register is carried
// opaquely.
const (
	MSRPOW uint32 = 1 << 18 // power management enable
	MSRILE uint32 = 1 << 16
	MSREE  uint32 = 1 << 15 // external interrupt enable
	MSRPR  uint32 = 1 << 14 // problem state (0 = supervisor)
	MSRFP  uint32 = 1 << 13
	MSRME  uint32 = 1 << 12
	MSRFE0 uint32 = 1 << 11
	MSRSE  uint32 = 1 << 10
	MSRBE  uint32 = 1 << 9
	MSRFE1 uint32 = 1 << 8
	MSRIP  uint32 = 1 << 6 // exception prefix: vectors at 0xFFF00000
	MSRIR  uint32 = 1 << 5 // instruction address translation enable
	MSRDR  uint32 = 1 << 4 // data address translation enable
	MSRRI  uint32 = 1 << 1
	MSRLE  uint32 = 1 << 0
)

// XER bit positions.
const (
	XERSO uint32 = 1 << 31
	XEROV uint32 = 1 << 30
	XERCA uint32 = 1 << 29
)

// CR0 field bit positions (the top nibble of CR, field 0).
const (
	CR0LT uint32 = 8
	CR0GT uint32 = 4
	CR0EQ uint32 = 2
	CR0SO uint32 = 1
)

// Exception vector offsets (spec §4.5 step 5), chosen to match the
// classic 6xx/7xx PowerPC vector layout the teacher's chassis programs
// expect to see in a boot ROM.
const (
	VecReset          = 0x00100
	VecMachineCheck   = 0x00200
	VecDataAccess     = 0x00300
	VecInstrAccess    = 0x00400
	VecExternal       = 0x00500
	VecAlignment      = 0x00600
	VecProgram        = 0x00700
	VecFPUnavailable  = 0x00800
	VecDecrementer    = 0x00900
	VecSyscall        = 0x00C00
	VecTrace          = 0x00D00
)

// MaxBreakpoints caps the number of simultaneously armed breakpoints (spec
// §4.5: "an array of up to N break-IAs").
const MaxBreakpoints = 16

// CPU is one emulated PowerPC-32 core. Every field touched only by the
// CPU's own goroutine (the bulk of the struct) needs no synchronization;
// the handful shared with other threads (irqPending, irqCheck, state,
// timerTicks) are atomics per spec §5's ordering guarantees.
type CPU struct {
	ID int

	GPR [32]uint32
	FPR [32]uint64 // opaque 8-byte doubles; no arithmetic performed on them
	CR  uint32      // 8 x 4-bit fields, field 0 is the high nibble
	XER uint32
	LR  uint32
	CTR uint32
	MSR uint32
	IA  uint32 // current instruction address

	SRR0  uint32
	SRR1  uint32
	SPRG  [4]uint32
	PVR   uint32
	DEC   uint32
	TB    uint64
	DAR   uint32
	DSISR uint32

	mmu.State // BAT/segment/SDR1/VTLB, embedded per spec §4.3

	bus *membus.Bus

	reservationValid bool
	reservationAddr  uint32

	decoder *decoder

	breakpoints   [MaxBreakpoints]uint32
	breakpointLen int
	bpObserver    func(ia uint32)

	idlePC        uint32
	idlePCSet     bool
	idleHits      int
	idleThreshold int
	idleWake      chan struct{}

	cycleObserver func(cycles int)

	irqDisable bool // blocks delivery and forces irqCheck low (irqPending is kept); set during single-step/save-state
	decPending bool

	stats Stats

	irqPending atomic.Bool
	irqCheck   atomic.Bool
	timerTicks atomic.Int32

	state   atomic.Int32
	runMu   sync.Mutex
	runCond *sync.Cond

	lastFatal error

	vmLock *sync.Mutex

	ring      [16]ExecRecord
	ringPos   int
	ringCount int
}

// Stats is the per-CPU execution bookkeeping spec §3 calls for. All
// fields are written only by the CPU's own goroutine; read them after a
// pause or halt.
type Stats struct {
	Instructions   uint64
	ExternalIRQs   uint64
	TimerIRQs      uint64
	TimerDrift     uint64 // timer ticks found already backlogged at poll time
	DeviceAccesses uint64 // loads/stores resolved to a device, not RAM
}

// ExecRecord is one entry of the per-CPU fatal-diagnostic ring buffer
// (spec §7 kind 4), recording the address and raw word of each fetch.
type ExecRecord struct {
	IA   uint32
	Word uint32
}

// New constructs a CPU attached to bus, with its instruction decode
// table built once and never mutated again (spec §4.4: "immutable after
// construction").
func New(id int, bus *membus.Bus, vmLock *sync.Mutex) *CPU {
	c := &CPU{ID: id, bus: bus, vmLock: vmLock, idleThreshold: 64}
	c.decoder = buildDecoder()
	c.idleWake = make(chan struct{}, 1)
	c.runCond = sync.NewCond(&c.runMu)
	c.state.Store(int32(StateHalted))
	return c
}

func (c *CPU) RunState() RunState { return RunState(c.state.Load()) }

func (c *CPU) setState(s RunState) { c.state.Store(int32(s)) }

// recordFetch appends to the diagnostic ring buffer.
func (c *CPU) recordFetch(ia uint32, word uint32) {
	c.ring[c.ringPos] = ExecRecord{IA: ia, Word: word}
	c.ringPos = (c.ringPos + 1) % len(c.ring)
	if c.ringCount < len(c.ring) {
		c.ringCount++
	}
}

// RecentFetches returns the ring buffer contents, oldest first.
func (c *CPU) RecentFetches() []ExecRecord {
	n := c.ringCount
	out := make([]ExecRecord, 0, n)
	start := (c.ringPos - n + len(c.ring)) % len(c.ring)
	for i := 0; i < n; i++ {
		out = append(out, c.ring[(start+i)%len(c.ring)])
	}
	return out
}

// crField returns the 4-bit value of CR field n (0 = the leftmost, used
// by compare/dot-form results; 7 = the rightmost).
func crField(cr uint32, n int) uint32 {
	shift := uint(28 - 4*n)
	return (cr >> shift) & 0xF
}

func setCRField(cr *uint32, n int, value uint32) {
	shift := uint(28 - 4*n)
	mask := uint32(0xF) << shift
	*cr = (*cr &^ mask) | ((value & 0xF) << shift)
}
