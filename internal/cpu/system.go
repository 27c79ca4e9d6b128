/*
ppc32vm Execution Engine - branch, condition-register, and system
instructions

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
*/

package cpu

import "github.com/dynacore/ppc32vm/internal/mmu"

// SPR numbers this core recognizes (spec §4.5: "a sparse register file
// addressed by a 10-bit SPR number... aliases BAT registers... decrementer,
// segment-register pointers, processor version, scratch registers").
const (
	sprXER    = 1
	sprLR     = 8
	sprCTR    = 9
	sprDSISR  = 18
	sprDAR    = 19
	sprDEC    = 22
	sprSDR1   = 25
	sprSRR0   = 26
	sprSRR1   = 27
	sprSPRG0  = 272
	sprSPRG3  = 275
	sprPVR    = 287
	sprIBAT0U = 528
	sprDBAT0U = 536
)

// systemInstructions returns the branch, CR-logical, MFSPR/MTSPR, segment
// register, syscall/trap, and TLB-maintenance executors (spec §4.5's
// "notable instruction-family semantics" for branches, SPR access, and
// TLBIE/TLBIA/MTSR/MTSDR1/MTIBAT/MTDBAT invalidation).
func systemInstructions() []instrDef {
	var t []instrDef
	add := func(name string, mask, value uint32, fn execFunc) {
		t = append(t, instrDef{Name: name, Mask: mask, Value: value, Exec: fn})
	}

	// --- Unconditional branch (I-form, opcode 18) ---
	m, v := dForm(18)
	add("b", m, v, func(c *CPU, w uint32) stepResult {
		return c.takeBranch(w, true, liField(w), aaField(w), lkField(w))
	})

	// --- Branch conditional (B-form, opcode 16) ---
	m, v = dForm(16)
	add("bc", m, v, func(c *CPU, w uint32) stepResult {
		taken := c.evalBranchCond(w)
		return c.takeBranch(w, taken, bdField(w), aaField(w), lkField(w))
	})

	// --- Branch conditional to link/count register (opcode 19) ---
	// The link forms update LR before the condition is evaluated, so
	// BCLRL's target is the instruction after itself (spec §4.5: "this
	// matters when the target is LR itself").
	m, v = xForm(19, 16)
	add("bclr", m, v, func(c *CPU, w uint32) stepResult {
		if lkField(w) {
			c.LR = c.IA + 4
		}
		taken := c.evalBranchCond(w)
		if !taken {
			return stepNormal
		}
		c.IA = c.LR &^ 0x3
		return stepBranch
	})

	m, v = xForm(19, 528)
	add("bcctr", m, v, func(c *CPU, w uint32) stepResult {
		if lkField(w) {
			c.LR = c.IA + 4
		}
		bo := boField(w)
		// BCCTR has no CTR-decrement option (architecturally BO bit 2
		// must request "ignore CTR"); evaluate only the CR-bit test.
		taken := bo&0x10 != 0 || c.crBitMatches(w)
		if !taken {
			return stepNormal
		}
		c.IA = c.CTR &^ 0x3
		return stepBranch
	})

	// --- Condition register logical (X-form, opcode 19) ---
	crLogical := func(name string, xo uint32, fn func(a, b bool) bool) {
		m, v := xForm(19, xo)
		add(name, m, v, func(c *CPU, w uint32) stepResult {
			a := c.crBit(crbAField(w))
			b := c.crBit(crbBField(w))
			c.setCrBit(crbDField(w), fn(a, b))
			return stepNormal
		})
	}
	crLogical("crand", 257, func(a, b bool) bool { return a && b })
	crLogical("cror", 449, func(a, b bool) bool { return a || b })
	crLogical("crxor", 193, func(a, b bool) bool { return a != b })
	crLogical("crnand", 225, func(a, b bool) bool { return !(a && b) })
	crLogical("crnor", 33, func(a, b bool) bool { return !(a || b) })
	crLogical("creqv", 289, func(a, b bool) bool { return a == b })
	crLogical("crandc", 129, func(a, b bool) bool { return a && !b })
	crLogical("crorc", 417, func(a, b bool) bool { return a || !b })

	m, v = xForm(19, 0)
	add("mcrf", m, v, func(c *CPU, w uint32) stepResult {
		setCRField(&c.CR, crfDField(w), crField(c.CR, crfSField(w)))
		return stepNormal
	})

	// --- MFSPR/MTSPR (spec §4.5) ---
	m, v = xForm(31, 339)
	add("mfspr", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[rtField(w)] = c.readSPR(sprField(w))
		return stepNormal
	})

	m, v = xForm(31, 467)
	add("mtspr", m, v, func(c *CPU, w uint32) stepResult {
		c.writeSPR(sprField(w), c.GPR[rsField(w)])
		return stepNormal
	})

	// --- MFMSR/MTMSR ---
	m, v = xForm(31, 83)
	add("mfmsr", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[rtField(w)] = c.MSR
		return stepNormal
	})

	m, v = xForm(31, 146)
	add("mtmsr", m, v, func(c *CPU, w uint32) stepResult {
		c.MSR = c.GPR[rsField(w)]
		c.State.Invalidate()
		c.recheckIRQ()
		return stepNormal
	})

	// --- Segment registers (spec §4.5: MTSR/MTSR-indirect invalidate
	// the VTLB) ---
	m, v = xForm(31, 210)
	add("mtsr", m, v, func(c *CPU, w uint32) stepResult {
		c.SetSegment(srIndexField(w), c.GPR[rsField(w)])
		return stepNormal
	})

	m, v = xForm(31, 595)
	add("mfsr", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[rtField(w)] = c.Segment(srIndexField(w))
		return stepNormal
	})

	m, v = xForm(31, 242)
	add("mtsrin", m, v, func(c *CPU, w uint32) stepResult {
		idx := (c.GPR[rbField(w)] >> 28) & 0xF
		c.SetSegment(int(idx), c.GPR[rsField(w)])
		return stepNormal
	})

	m, v = xForm(31, 659)
	add("mfsrin", m, v, func(c *CPU, w uint32) stepResult {
		idx := (c.GPR[rbField(w)] >> 28) & 0xF
		c.GPR[rtField(w)] = c.Segment(int(idx))
		return stepNormal
	})

	// --- TLB maintenance: every form invalidates the whole VTLB (spec
	// §4.5: "TLBIE / TLBIA / MTSR / ... MUST invalidate the VTLB") ---
	m, v = xForm(31, 306)
	add("tlbie", m, v, func(c *CPU, w uint32) stepResult {
		c.State.Invalidate()
		return stepNormal
	})

	m, v = xForm(31, 370)
	add("tlbia", m, v, func(c *CPU, w uint32) stepResult {
		c.State.Invalidate()
		return stepNormal
	})

	// --- Trap (spec §4.5: TW/TWI evaluate a 5-bit condition mask) ---
	m, v = xForm(31, 4)
	add("tw", m, v, func(c *CPU, w uint32) stepResult {
		to := uint32(rtField(w))
		a, b := int32(c.GPR[raField(w)]), int32(c.GPR[rbField(w)])
		return c.evalTrap(to, a, b, uint32(a), uint32(b))
	})

	m, v = dForm(3)
	add("twi", m, v, func(c *CPU, w uint32) stepResult {
		to := uint32(rtField(w))
		a, b := int32(c.GPR[raField(w)]), simmField(w)
		return c.evalTrap(to, a, b, uint32(a), uint32(b))
	})

	// --- Syscall / return-from-interrupt ---
	m, v = dForm(17)
	add("sc", m, v, func(c *CPU, w uint32) stepResult {
		c.syscall()
		return stepBranch
	})

	m, v = xForm(19, 50)
	add("rfi", m, v, func(c *CPU, w uint32) stepResult {
		c.MSR = c.SRR1 &^ 0x3 // bits 30-31 of MSR are architecturally forced 0 on RFI
		c.IA = c.SRR0
		c.State.Invalidate()
		c.recheckIRQ()
		return stepBranch
	})

	// --- Condition-register moves ---
	m, v = xForm(31, 19)
	add("mfcr", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[rtField(w)] = c.CR
		return stepNormal
	})

	m, v = xForm(31, 144)
	add("mtcrf", m, v, func(c *CPU, w uint32) stepResult {
		fxm := bits(w, 12, 19)
		rs := c.GPR[rsField(w)]
		for field := 0; field < 8; field++ {
			if fxm&(0x80>>uint(field)) != 0 {
				setCRField(&c.CR, field, crField(rs, field))
			}
		}
		return stepNormal
	})

	m, v = xForm(31, 512)
	add("mcrxr", m, v, func(c *CPU, w uint32) stepResult {
		setCRField(&c.CR, crfDField(w), c.XER>>28)
		c.XER &^= XERSO | XEROV | XERCA
		return stepNormal
	})

	// --- Storage ordering and cache management. sync/isync/eieio are
	// no-ops: every instruction already appears atomic to other CPUs in
	// the interpreter (spec §5). The cache-touch forms are likewise
	// no-ops except dcbz, which architecturally zeroes its cache block.
	nop := func(name string, op, xo uint32) {
		m, v := xForm(op, xo)
		add(name, m, v, func(c *CPU, w uint32) stepResult { return stepNormal })
	}
	nop("sync", 31, 598)
	nop("eieio", 31, 854)
	nop("isync", 19, 150)
	nop("dcbf", 31, 86)
	nop("dcbst", 31, 54)
	nop("dcbt", 31, 278)
	nop("dcbtst", 31, 246)
	nop("dcbi", 31, 470)
	nop("icbi", 31, 982)

	m, v = xForm(31, 1014)
	add("dcbz", m, v, func(c *CPU, w uint32) stepResult {
		const blockSize = 32
		ea := (c.gprOrZero(raField(w)) + c.GPR[rbField(w)]) &^ (blockSize - 1)
		for off := uint32(0); off < blockSize; off += 4 {
			f, err := c.store(ea+off, 4, 0)
			if c.faultOrHalt(f, err) {
				return stepBranch
			}
		}
		return stepNormal
	})

	// --- Move from timebase (spec §9 open question: preserved literally)
	m, v = xForm(31, 371)
	add("mftb", m, v, func(c *CPU, w uint32) stepResult {
		c.TB += 50
		tbr := sprField(w)
		if tbr == 268 {
			c.GPR[rtField(w)] = uint32(c.TB)
		} else {
			c.GPR[rtField(w)] = uint32(c.TB >> 32)
		}
		return stepNormal
	})

	return t
}

// crBit/setCrBit read and write a single CR bit, numbered 0 (MSB, CR0.LT)
// through 31 (LSB, CR7.SO).
func (c *CPU) crBit(n int) bool {
	return c.CR&(1<<uint(31-n)) != 0
}

func (c *CPU) setCrBit(n int, v bool) {
	mask := uint32(1) << uint(31-n)
	if v {
		c.CR |= mask
	} else {
		c.CR &^= mask
	}
}

// crBitMatches evaluates BI/bit-test-invert for branch-conditional forms
// that don't also decrement CTR (spec §4.5 BCCTR).
func (c *CPU) crBitMatches(w uint32) bool {
	bo := boField(w)
	bit := c.crBit(int(biField(w)))
	if bo&0x8 != 0 { // CR-bit-test-invert disabled: test as-is
		return bit
	}
	return !bit
}

// evalBranchCond implements the BO field's four independent booleans
// (spec §4.5): branch-always, decrement-CTR, CTR-test-invert,
// CR-bit-test-invert. Decrement-CTR fires exactly once regardless of
// whether the branch is ultimately taken.
func (c *CPU) evalBranchCond(w uint32) bool {
	bo := boField(w)
	branchAlways := bo&0x10 != 0
	ctrIgnored := bo&0x04 != 0

	ctrOK := true
	if !ctrIgnored {
		c.CTR--
		if bo&0x02 != 0 {
			ctrOK = c.CTR == 0
		} else {
			ctrOK = c.CTR != 0
		}
	}

	condOK := true
	if !branchAlways {
		bit := c.crBit(int(biField(w)))
		if bo&0x08 != 0 {
			condOK = bit
		} else {
			condOK = !bit
		}
	}
	return ctrOK && condOK
}

// takeBranch sets LR (if lk) BEFORE evaluating/applying the branch target
// (spec §4.5: "set LR = IA + 4 BEFORE evaluating the branch condition;
// this matters when the target is LR itself" — not applicable to I/B-form
// targets, which never read LR, but the ordering is kept uniform with the
// link-register forms for consistency).
func (c *CPU) takeBranch(w uint32, taken bool, displacement int32, absolute, link bool) stepResult {
	nia := c.IA + 4
	if link {
		c.LR = nia
	}
	if !taken {
		return stepNormal
	}
	if absolute {
		c.IA = uint32(displacement)
	} else {
		c.IA = uint32(int32(c.IA) + displacement)
	}
	return stepBranch
}

// evalTrap implements TW/TWI's 5-bit condition mask (spec §4.5): on
// match, raises a program exception with SRR1 bit 17 set.
func (c *CPU) evalTrap(to uint32, a, b int32, ua, ub uint32) stepResult {
	match := (to&0x10 != 0 && a < b) ||
		(to&0x08 != 0 && a > b) ||
		(to&0x04 != 0 && a == b) ||
		(to&0x02 != 0 && ua < ub) ||
		(to&0x01 != 0 && ua > ub)
	if !match {
		return stepNormal
	}
	c.injectException(VecProgram, 1<<(31-17))
	return stepBranch
}

// readSPR/writeSPR implement the sparse SPR register file (spec §4.5);
// writes to BAT/SDR1 registers invalidate the VTLB through the mmu
// package's own setters, which already do so.
func (c *CPU) readSPR(n uint32) uint32 {
	switch n {
	case sprXER:
		return c.XER
	case sprLR:
		return c.LR
	case sprCTR:
		return c.CTR
	case sprDSISR:
		return c.DSISR
	case sprDAR:
		return c.DAR
	case sprDEC:
		return c.DEC
	case sprSDR1:
		return c.SDR1
	case sprSRR0:
		return c.SRR0
	case sprSRR1:
		return c.SRR1
	case sprPVR:
		return c.PVR
	default:
		if n >= sprSPRG0 && n <= sprSPRG3 {
			return c.SPRG[n-sprSPRG0]
		}
		if side, idx, isLower, ok := batSPR(n); ok {
			e := c.State.BAT(side, idx)
			if isLower {
				return e.LowerWord()
			}
			return e.UpperWord()
		}
		return 0
	}
}

func (c *CPU) writeSPR(n uint32, v uint32) {
	switch n {
	case sprXER:
		c.XER = v
	case sprLR:
		c.LR = v
	case sprCTR:
		c.CTR = v
	case sprDSISR:
		c.DSISR = v
	case sprDAR:
		c.DAR = v
	case sprDEC:
		c.DEC = v
	case sprSDR1:
		c.SetSDR1(v)
	case sprSRR0:
		c.SRR0 = v
	case sprSRR1:
		c.SRR1 = v
	default:
		if n >= sprSPRG0 && n <= sprSPRG3 {
			c.SPRG[n-sprSPRG0] = v
			return
		}
		c.writeBATWord(n, v)
	}
}

// batSPR reports whether spr n names one of the 16 BAT registers
// (IBAT0U..IBAT3L at 528-535, DBAT0U..DBAT3L at 536-543) and decodes it
// into (side, index, upper-or-lower).
func batSPR(n uint32) (side mmu.Side, idx int, isLower bool, ok bool) {
	switch {
	case n >= sprIBAT0U && n < sprIBAT0U+8:
		off := n - sprIBAT0U
		return mmu.SideInstruction, int(off / 2), off&1 != 0, true
	case n >= sprDBAT0U && n < sprDBAT0U+8:
		off := n - sprDBAT0U
		return mmu.SideData, int(off / 2), off&1 != 0, true
	default:
		return 0, 0, false, false
	}
}

// writeBATWord installs one 32-bit half of a BAT pair. The decoded-entry
// shape in internal/mmu stores both halves pre-merged, so a single-half
// write re-derives the entry from its paired shadow word (IBAT0U and
// IBAT0L always arrive as two separate MTSPRs).
func (c *CPU) writeBATWord(n uint32, v uint32) {
	side, idx, isLower, ok := batSPR(n)
	if !ok {
		return
	}
	e := c.State.BAT(side, idx)
	if isLower {
		c.SetBAT(side, idx, e.UpperWord(), v)
	} else {
		c.SetBAT(side, idx, v, e.LowerWord())
	}
}
