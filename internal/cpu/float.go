/*
ppc32vm Execution Engine - floating-point load/store instructions

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

No floating-point arithmetic is performed anywhere in this core (explicit
non-goal): FPRs are opaque 8-byte big-endian values that only ever move
between memory and the FPR file, never computed on.
*/

package cpu

import "github.com/dynacore/ppc32vm/internal/mmu"

// loadDouble/storeDouble move an opaque 8-byte big-endian quantity through
// the CPU's existing 4-byte load/store path, two words at a time, so a
// store that straddles a page boundary still benefits from the per-access
// boundary handling in load()/store() (spec §8 boundary behavior is
// defined per access, and an FP access is just two ordinary word accesses
// back to back here).
func (c *CPU) loadDouble(ea uint32) (uint64, *mmu.Fault, error) {
	hi, f, err := c.load(ea, 4)
	if f != nil || err != nil {
		return 0, f, err
	}
	lo, f, err := c.load(ea+4, 4)
	if f != nil || err != nil {
		return 0, f, err
	}
	return uint64(hi)<<32 | uint64(lo), nil, nil
}

func (c *CPU) storeDouble(ea uint32, v uint64) (*mmu.Fault, error) {
	f, err := c.store(ea, 4, uint32(v>>32))
	if f != nil || err != nil {
		return f, err
	}
	return c.store(ea+4, 4, uint32(v))
}

// fpAvailable checks MSR.FP before any FPR access; a clear bit takes the
// floating-point-unavailable exception instead (spec §4.5/§7 kind 2).
func (c *CPU) fpAvailable() bool {
	if c.MSR&MSRFP != 0 {
		return true
	}
	c.injectException(VecFPUnavailable, 0)
	return false
}

// floatInstructions returns the LFD/LFDU/LFDX/LFDUX and STFD/STFDU/
// STFDX/STFDUX executors (spec §4.5: "opaque 8-byte load/store only, no
// arithmetic").
func floatInstructions() []instrDef {
	var t []instrDef
	add := func(name string, mask, value uint32, fn execFunc) {
		t = append(t, instrDef{Name: name, Mask: mask, Value: value, Exec: fn})
	}

	m, v := dForm(50)
	add("lfd", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + uint32(simmField(w))
		val, f, err := c.loadDouble(ea)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.FPR[rtField(w)] = val
		return stepNormal
	})

	m, v = dForm(51)
	add("lfdu", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + uint32(simmField(w))
		val, f, err := c.loadDouble(ea)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.FPR[rtField(w)] = val
		c.GPR[raField(w)] = ea
		return stepNormal
	})

	m, v = dForm(54)
	add("stfd", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + uint32(simmField(w))
		f, err := c.storeDouble(ea, c.FPR[rtField(w)])
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		return stepNormal
	})

	m, v = dForm(55)
	add("stfdu", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + uint32(simmField(w))
		f, err := c.storeDouble(ea, c.FPR[rtField(w)])
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.GPR[raField(w)] = ea
		return stepNormal
	})

	m, v = xForm(31, 599)
	add("lfdx", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		val, f, err := c.loadDouble(ea)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.FPR[rtField(w)] = val
		return stepNormal
	})

	m, v = xForm(31, 631)
	add("lfdux", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		val, f, err := c.loadDouble(ea)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.FPR[rtField(w)] = val
		c.GPR[raField(w)] = ea
		return stepNormal
	})

	m, v = xForm(31, 727)
	add("stfdx", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		f, err := c.storeDouble(ea, c.FPR[rtField(w)])
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		return stepNormal
	})

	m, v = xForm(31, 759)
	add("stfdux", m, v, func(c *CPU, w uint32) stepResult {
		if !c.fpAvailable() {
			return stepBranch
		}
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		f, err := c.storeDouble(ea, c.FPR[rtField(w)])
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.GPR[raField(w)] = ea
		return stepNormal
	})

	return t
}
