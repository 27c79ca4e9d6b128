/*
ppc32vm Execution Engine - integer arithmetic/logical/rotate instructions

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

// gprOrZero implements the architectural quirk that RA field value 0
// means "use the literal zero," not "use the contents of r0", for
// address-base and addi/addis source operands.
func (c *CPU) gprOrZero(ra int) uint32 {
	if ra == 0 {
		return 0
	}
	return c.GPR[ra]
}

// standardInstructions returns the integer arithmetic, logical, rotate,
// and compare executor table (spec §4.5 "notable instruction-family
// semantics"). Grounded on the teacher's op_* naming/dispatch convention
// (one function per mnemonic, taking the CPU and acting on its register
// file) generalized from S/370's single-flavor opcodes onto PowerPC's
// four-flavor (plain/dot/O/O-dot) arithmetic family, collapsed into one
// table entry plus runtime flag checks per xoForm's doc comment.
func standardInstructions() []instrDef {
	var t []instrDef
	add := func(name string, mask, value uint32, fn execFunc) {
		t = append(t, instrDef{Name: name, Mask: mask, Value: value, Exec: fn})
	}

	// --- XO-form add/subf family (opcode 31) ---
	m, v := xoForm(31, 266)
	add("add", m, v, func(c *CPU, w uint32) stepResult { return execAdd(c, w, false, false) })

	m, v = xoForm(31, 10)
	add("addc", m, v, func(c *CPU, w uint32) stepResult { return execAdd(c, w, true, false) })

	m, v = xoForm(31, 138)
	add("adde", m, v, func(c *CPU, w uint32) stepResult {
		return execAdd(c, w, true, c.XER&XERCA != 0)
	})

	m, v = xoForm(31, 234)
	add("addme", m, v, func(c *CPU, w uint32) stepResult {
		ra := c.GPR[raField(w)]
		sum, carry := addc32(ra, 0xFFFFFFFF, c.XER&XERCA != 0)
		c.GPR[rtField(w)] = sum
		c.setCarry(carry)
		if oeField(w) {
			c.setOverflow(addOverflow(ra, 0xFFFFFFFF, sum))
		}
		if rcField(w) {
			c.updateCR0(sum)
		}
		return stepNormal
	})

	m, v = xoForm(31, 202)
	add("addze", m, v, func(c *CPU, w uint32) stepResult {
		ra := c.GPR[raField(w)]
		sum, carry := addc32(ra, 0, c.XER&XERCA != 0)
		c.GPR[rtField(w)] = sum
		c.setCarry(carry)
		if oeField(w) {
			c.setOverflow(addOverflow(ra, 0, sum))
		}
		if rcField(w) {
			c.updateCR0(sum)
		}
		return stepNormal
	})

	m, v = xoForm(31, 40)
	add("subf", m, v, func(c *CPU, w uint32) stepResult { return execSubf(c, w, false, true) })

	m, v = xoForm(31, 8)
	add("subfc", m, v, func(c *CPU, w uint32) stepResult { return execSubf(c, w, true, true) })

	m, v = xoForm(31, 136)
	add("subfe", m, v, func(c *CPU, w uint32) stepResult {
		return execSubf(c, w, true, c.XER&XERCA != 0)
	})

	m, v = xoForm(31, 232)
	add("subfme", m, v, func(c *CPU, w uint32) stepResult {
		ra := ^c.GPR[raField(w)]
		sum, carry := addc32(ra, 0xFFFFFFFF, c.XER&XERCA != 0)
		c.GPR[rtField(w)] = sum
		c.setCarry(carry)
		if oeField(w) {
			c.setOverflow(addOverflow(ra, 0xFFFFFFFF, sum))
		}
		if rcField(w) {
			c.updateCR0(sum)
		}
		return stepNormal
	})

	m, v = xoForm(31, 216)
	add("subfze", m, v, func(c *CPU, w uint32) stepResult {
		ra := ^c.GPR[raField(w)]
		sum, carry := addc32(ra, 0, c.XER&XERCA != 0)
		c.GPR[rtField(w)] = sum
		c.setCarry(carry)
		if oeField(w) {
			c.setOverflow(addOverflow(ra, 0, sum))
		}
		if rcField(w) {
			c.updateCR0(sum)
		}
		return stepNormal
	})

	m, v = xoForm(31, 104)
	add("neg", m, v, func(c *CPU, w uint32) stepResult {
		ra := c.GPR[raField(w)]
		sum := ^ra + 1
		c.GPR[rtField(w)] = sum
		if oeField(w) {
			c.setOverflow(ra == 0x80000000)
		}
		if rcField(w) {
			c.updateCR0(sum)
		}
		return stepNormal
	})

	m, v = xoForm(31, 75)
	add("mulhw", m, v, func(c *CPU, w uint32) stepResult {
		prod := int64(int32(c.GPR[raField(w)])) * int64(int32(c.GPR[rbField(w)]))
		result := uint32(prod >> 32)
		c.GPR[rtField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = xoForm(31, 11)
	add("mulhwu", m, v, func(c *CPU, w uint32) stepResult {
		prod := uint64(c.GPR[raField(w)]) * uint64(c.GPR[rbField(w)])
		result := uint32(prod >> 32)
		c.GPR[rtField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = xoForm(31, 235)
	add("mullw", m, v, func(c *CPU, w uint32) stepResult {
		a, b := int64(int32(c.GPR[raField(w)])), int64(int32(c.GPR[rbField(w)]))
		full := a * b
		result := uint32(full)
		c.GPR[rtField(w)] = result
		if oeField(w) {
			c.setOverflow(full != int64(int32(result)))
		}
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = xoForm(31, 491)
	add("divw", m, v, func(c *CPU, w uint32) stepResult {
		a, b := int32(c.GPR[raField(w)]), int32(c.GPR[rbField(w)])
		var result int32
		overflow := false
		if b == 0 || (a == -2147483648 && b == -1) {
			// spec §4.5: "divide-by-zero and signed-overflow MUST NOT
			// trap ... destination is left undefined ... written as
			// zero"
			overflow = true
		} else {
			result = a / b
		}
		c.GPR[rtField(w)] = uint32(result)
		if oeField(w) {
			c.setOverflow(overflow)
		}
		if rcField(w) {
			c.updateCR0(uint32(result))
		}
		return stepNormal
	})

	m, v = xoForm(31, 459)
	add("divwu", m, v, func(c *CPU, w uint32) stepResult {
		a, b := c.GPR[raField(w)], c.GPR[rbField(w)]
		var result uint32
		overflow := b == 0
		if !overflow {
			result = a / b
		}
		c.GPR[rtField(w)] = result
		if oeField(w) {
			c.setOverflow(overflow)
		}
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	// --- X-form logical family (opcode 31) ---
	logical := func(name string, xo uint32, fn func(a, b uint32) uint32) {
		m, v := xForm(31, xo)
		add(name, m, v, func(c *CPU, w uint32) stepResult {
			result := fn(c.GPR[rsField(w)], c.GPR[rbField(w)])
			c.GPR[raField(w)] = result
			if rcField(w) {
				c.updateCR0(result)
			}
			return stepNormal
		})
	}
	logical("and", 28, func(a, b uint32) uint32 { return a & b })
	logical("or", 444, func(a, b uint32) uint32 { return a | b })
	logical("xor", 316, func(a, b uint32) uint32 { return a ^ b })
	logical("nand", 476, func(a, b uint32) uint32 { return ^(a & b) })
	logical("nor", 124, func(a, b uint32) uint32 { return ^(a | b) })
	logical("andc", 60, func(a, b uint32) uint32 { return a &^ b })
	logical("orc", 412, func(a, b uint32) uint32 { return a | ^b })
	logical("eqv", 284, func(a, b uint32) uint32 { return ^(a ^ b) })

	m, v = xForm(31, 954)
	add("extsb", m, v, func(c *CPU, w uint32) stepResult {
		result := uint32(int32(int8(c.GPR[rsField(w)])))
		c.GPR[raField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = xForm(31, 922)
	add("extsh", m, v, func(c *CPU, w uint32) stepResult {
		result := uint32(int32(int16(c.GPR[rsField(w)])))
		c.GPR[raField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = xForm(31, 26)
	add("cntlzw", m, v, func(c *CPU, w uint32) stepResult {
		val := c.GPR[rsField(w)]
		n := uint32(0)
		for n < 32 && val&(0x80000000>>n) == 0 {
			n++
		}
		c.GPR[raField(w)] = n
		if rcField(w) {
			c.updateCR0(n)
		}
		return stepNormal
	})

	m, v = xForm(31, 24)
	add("slw", m, v, func(c *CPU, w uint32) stepResult {
		sh := c.GPR[rbField(w)] & 0x3F
		var result uint32
		if sh < 32 {
			result = c.GPR[rsField(w)] << sh
		}
		c.GPR[raField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = xForm(31, 536)
	add("srw", m, v, func(c *CPU, w uint32) stepResult {
		sh := c.GPR[rbField(w)] & 0x3F
		var result uint32
		if sh < 32 {
			result = c.GPR[rsField(w)] >> sh
		}
		c.GPR[raField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = xForm(31, 792)
	add("sraw", m, v, func(c *CPU, w uint32) stepResult {
		return execSraw(c, w, c.GPR[rbField(w)]&0x3F)
	})

	m, v = xForm(31, 824)
	add("srawi", m, v, func(c *CPU, w uint32) stepResult {
		return execSraw(c, w, shField(w))
	})

	// --- X-form compare (opcode 31) ---
	m, v = xForm(31, 0)
	add("cmp", m, v, func(c *CPU, w uint32) stepResult {
		a, b := int32(c.GPR[raField(w)]), int32(c.GPR[rbField(w)])
		c.setCmpField(crfDField(w), compareField(a < b, a > b))
		return stepNormal
	})

	m, v = xForm(31, 32)
	add("cmpl", m, v, func(c *CPU, w uint32) stepResult {
		a, b := c.GPR[raField(w)], c.GPR[rbField(w)]
		c.setCmpField(crfDField(w), compareField(a < b, a > b))
		return stepNormal
	})

	// --- D-form immediate arithmetic/logical (primary opcodes) ---
	m, v = dForm(14)
	add("addi", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[rtField(w)] = c.gprOrZero(raField(w)) + uint32(simmField(w))
		return stepNormal
	})

	m, v = dForm(15)
	add("addis", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[rtField(w)] = c.gprOrZero(raField(w)) + (uimmField(w) << 16)
		return stepNormal
	})

	m, v = dForm(12)
	add("addic", m, v, func(c *CPU, w uint32) stepResult {
		ra := c.GPR[raField(w)]
		sum, carry := addc32(ra, uint32(simmField(w)), false)
		c.GPR[rtField(w)] = sum
		c.setCarry(carry)
		return stepNormal
	})

	m, v = dForm(13)
	add("addic.", m, v, func(c *CPU, w uint32) stepResult {
		ra := c.GPR[raField(w)]
		sum, carry := addc32(ra, uint32(simmField(w)), false)
		c.GPR[rtField(w)] = sum
		c.setCarry(carry)
		c.updateCR0(sum)
		return stepNormal
	})

	m, v = dForm(8)
	add("subfic", m, v, func(c *CPU, w uint32) stepResult {
		ra := ^c.GPR[raField(w)]
		sum, carry := addc32(ra, uint32(simmField(w)), true)
		c.GPR[rtField(w)] = sum
		c.setCarry(carry)
		return stepNormal
	})

	m, v = dForm(7)
	add("mulli", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[rtField(w)] = uint32(int32(c.GPR[raField(w)]) * simmField(w))
		return stepNormal
	})

	m, v = dForm(28)
	add("andi.", m, v, func(c *CPU, w uint32) stepResult {
		result := c.GPR[rsField(w)] & uimmField(w)
		c.GPR[raField(w)] = result
		c.updateCR0(result)
		return stepNormal
	})

	m, v = dForm(29)
	add("andis.", m, v, func(c *CPU, w uint32) stepResult {
		result := c.GPR[rsField(w)] & (uimmField(w) << 16)
		c.GPR[raField(w)] = result
		c.updateCR0(result)
		return stepNormal
	})

	m, v = dForm(24)
	add("ori", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[raField(w)] = c.GPR[rsField(w)] | uimmField(w)
		return stepNormal
	})

	m, v = dForm(25)
	add("oris", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[raField(w)] = c.GPR[rsField(w)] | (uimmField(w) << 16)
		return stepNormal
	})

	m, v = dForm(26)
	add("xori", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[raField(w)] = c.GPR[rsField(w)] ^ uimmField(w)
		return stepNormal
	})

	m, v = dForm(27)
	add("xoris", m, v, func(c *CPU, w uint32) stepResult {
		c.GPR[raField(w)] = c.GPR[rsField(w)] ^ (uimmField(w) << 16)
		return stepNormal
	})

	m, v = dForm(11)
	add("cmpi", m, v, func(c *CPU, w uint32) stepResult {
		a, b := int32(c.GPR[raField(w)]), simmField(w)
		c.setCmpField(crfDField(w), compareField(a < b, a > b))
		return stepNormal
	})

	m, v = dForm(10)
	add("cmpli", m, v, func(c *CPU, w uint32) stepResult {
		a, b := c.GPR[raField(w)], uimmField(w)
		c.setCmpField(crfDField(w), compareField(a < b, a > b))
		return stepNormal
	})

	// --- M-form rotate/mask (spec §4.5: RLWINM and siblings) ---
	m, v = mForm(21)
	add("rlwinm", m, v, func(c *CPU, w uint32) stepResult {
		result := rotlWord(c.GPR[rsField(w)], shField(w)) & rotateMask(mbField(w), meField(w))
		c.GPR[raField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = mForm(23)
	add("rlwnm", m, v, func(c *CPU, w uint32) stepResult {
		sh := c.GPR[rbField(w)] & 0x1F
		result := rotlWord(c.GPR[rsField(w)], sh) & rotateMask(mbField(w), meField(w))
		c.GPR[raField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	m, v = mForm(20)
	add("rlwimi", m, v, func(c *CPU, w uint32) stepResult {
		mask := rotateMask(mbField(w), meField(w))
		rotated := rotlWord(c.GPR[rsField(w)], shField(w))
		result := (rotated & mask) | (c.GPR[raField(w)] &^ mask)
		c.GPR[raField(w)] = result
		if rcField(w) {
			c.updateCR0(result)
		}
		return stepNormal
	})

	return t
}

// execSubf computes RB - RA as ^RA + RB + seed (the architecture manual's
// own definition): the carrying forms seed with 1 (SUBFC) or XER.CA
// (SUBFE) and record the carry out; plain SUBF seeds with 1 and leaves CA
// alone.
func execSubf(c *CPU, w uint32, updateCarry bool, carrySeed bool) stepResult {
	ra := ^c.GPR[raField(w)]
	rb := c.GPR[rbField(w)]
	sum, carry := addc32(ra, rb, carrySeed)
	c.GPR[rtField(w)] = sum
	if updateCarry {
		c.setCarry(carry)
	}
	if oeField(w) {
		c.setOverflow(addOverflow(ra, rb, sum))
	}
	if rcField(w) {
		c.updateCR0(sum)
	}
	return stepNormal
}

// execSraw is shared by SRAW (shift amount from a register) and SRAWI
// (shift amount is an immediate in the SH field): spec §4.5 "Carry (CA)
// is set ... by the shift-right-algebraic when the shifted-out bits
// include any non-sign bit."
func execSraw(c *CPU, w uint32, sh uint32) stepResult {
	val := int32(c.GPR[rsField(w)])
	var result int32
	carry := false
	if sh >= 32 {
		if val < 0 {
			result = -1
			carry = true
		}
	} else if sh > 0 {
		result = val >> sh
		if val < 0 {
			shiftedOut := uint32(val) & (uint32(1)<<sh - 1)
			carry = shiftedOut != 0
		}
	} else {
		result = val
	}
	c.GPR[raField(w)] = uint32(result)
	c.setCarry(carry)
	if rcField(w) {
		c.updateCR0(uint32(result))
	}
	return stepNormal
}

// compareField builds the LT/GT/EQ part of the 4-bit CR value for a
// signed/unsigned compare (spec §3's condition-register layout); the SO
// bit from XER is added by setCmpField.
func compareField(lt, gt bool) uint32 {
	switch {
	case lt:
		return 0x8
	case gt:
		return 0x4
	default:
		return 0x2
	}
}

// setCmpField ORs in XER.SO and installs the given base field value into
// CR field n.
func (c *CPU) setCmpField(n int, field uint32) {
	if c.XER&XERSO != 0 {
		field |= 0x1
	}
	setCRField(&c.CR, n, field)
}
