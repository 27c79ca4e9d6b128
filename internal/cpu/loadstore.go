/*
ppc32vm Execution Engine - load/store instructions

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

Every executor here goes through the CPU's own load/store helpers, which
always call mmu.State.Translate before touching guest memory. An access
that straddles a page boundary is split into single-byte accesses, each
translated on its own, so the translator runs once per byte of such an
access rather than once per page.
*/

package cpu

import "github.com/dynacore/ppc32vm/internal/mmu"

// load/store translate via the MMU and perform the access,
// handling the page-boundary straddle case (spec §8 boundary behavior) by
// issuing one bus access per natural byte within the access width, each
// going through Translate independently when it crosses a page.
func (c *CPU) load(ea uint32, size int) (uint32, *mmu.Fault, error) {
	privileged := c.MSR&MSRPR == 0
	translationEnabled := c.MSR&MSRDR != 0

	pageBase := ea &^ mmu.PageOffMask
	pageEnd := pageBase + mmu.PageSize
	if uint64(ea)+uint64(size) <= uint64(pageEnd) {
		res, err := c.State.Translate(mmu.AccessLoad, ea, privileged, translationEnabled, c.bus)
		if err != nil {
			if f, ok := err.(*mmu.Fault); ok {
				return 0, f, nil
			}
			return 0, nil, err
		}
		return c.readResult(res, ea, size)
	}

	// Straddles a page boundary: translate and read each half separately,
	// then assemble one big-endian value (spec §8).
	var value uint32
	for i := 0; i < size; i++ {
		byteEA := ea + uint32(i)
		res, err := c.State.Translate(mmu.AccessLoad, byteEA, privileged, translationEnabled, c.bus)
		if err != nil {
			if f, ok := err.(*mmu.Fault); ok {
				return 0, f, nil
			}
			return 0, nil, err
		}
		b, _, err := c.readResult(res, byteEA, 1)
		if err != nil {
			return 0, nil, err
		}
		value = (value << 8) | b
	}
	return value, nil, nil
}

func (c *CPU) readResult(res mmu.Result, ea uint32, size int) (uint32, *mmu.Fault, error) {
	if res.Host != nil {
		var v uint64
		for i := 0; i < size; i++ {
			v = (v << 8) | uint64(res.Host[res.PageOffset+i])
		}
		return uint32(v), nil, nil
	}
	c.stats.DeviceAccesses++
	v, err := c.bus.Read(uint64(res.Phys), size, uint64(ea))
	return uint32(v), nil, err
}

func (c *CPU) store(ea uint32, size int, value uint32) (*mmu.Fault, error) {
	privileged := c.MSR&MSRPR == 0
	translationEnabled := c.MSR&MSRDR != 0

	pageBase := ea &^ mmu.PageOffMask
	pageEnd := pageBase + mmu.PageSize
	if uint64(ea)+uint64(size) <= uint64(pageEnd) {
		res, err := c.State.Translate(mmu.AccessStore, ea, privileged, translationEnabled, c.bus)
		if err != nil {
			if f, ok := err.(*mmu.Fault); ok {
				return f, nil
			}
			return nil, err
		}
		return nil, c.writeResult(res, ea, size, value)
	}

	for i := 0; i < size; i++ {
		byteEA := ea + uint32(i)
		shift := uint((size - 1 - i) * 8)
		b := (value >> shift) & 0xff
		res, err := c.State.Translate(mmu.AccessStore, byteEA, privileged, translationEnabled, c.bus)
		if err != nil {
			if f, ok := err.(*mmu.Fault); ok {
				return f, nil
			}
			return nil, err
		}
		if err := c.writeResult(res, byteEA, 1, b); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (c *CPU) writeResult(res mmu.Result, ea uint32, size int, value uint32) error {
	if res.Host != nil {
		for i := 0; i < size; i++ {
			shift := uint((size - 1 - i) * 8)
			res.Host[res.PageOffset+i] = byte(value >> shift)
		}
		return nil
	}
	c.stats.DeviceAccesses++
	return c.bus.Write(uint64(res.Phys), size, uint64(value), uint64(ea))
}

// TranslatePhys resolves vaddr to a physical address through this CPU's
// currently installed BAT/page mapping, for use by the ELF/raw-image
// loader (spec §6: "translated via the already-installed BAT/page-
// mapping").
func (c *CPU) TranslatePhys(vaddr uint32) (uint32, error) {
	privileged := c.MSR&MSRPR == 0
	translationEnabled := c.MSR&MSRDR != 0
	res, err := c.State.Translate(mmu.AccessStore, vaddr, privileged, translationEnabled, c.bus)
	if err != nil {
		return 0, err
	}
	return res.Phys, nil
}

// faultOrHalt turns a non-nil *mmu.Fault or host error into the taken-branch
// exception path, mirroring fetchDecodeExecute's own translate/fault
// handling for data-side accesses.
func (c *CPU) faultOrHalt(f *mmu.Fault, err error) bool {
	if f != nil {
		c.injectFault(f)
		return true
	}
	if err != nil {
		c.lastFatal = err
		c.setState(StateHalted)
		return true
	}
	return false
}

// loadStoreInstructions returns every plain, update, and indexed
// fixed-point load/store executor, plus the multiple/string/reserve
// families (spec §4.5).
func loadStoreInstructions() []instrDef {
	var t []instrDef
	add := func(name string, mask, value uint32, fn execFunc) {
		t = append(t, instrDef{Name: name, Mask: mask, Value: value, Exec: fn})
	}

	// --- D-form plain/update loads and stores ---
	type dSpec struct {
		name    string
		opcode  uint32
		size    int
		update  bool
		signExt bool
	}
	dSpecs := []dSpec{
		{"lbz", 34, 1, false, false},
		{"lbzu", 35, 1, true, false},
		{"lhz", 40, 2, false, false},
		{"lhzu", 41, 2, true, false},
		{"lha", 42, 2, false, true},
		{"lhau", 43, 2, true, true},
		{"lwz", 32, 4, false, false},
		{"lwzu", 33, 4, true, false},
	}
	for _, s := range dSpecs {
		s := s
		m, v := dForm(s.opcode)
		add(s.name, m, v, func(c *CPU, w uint32) stepResult {
			base := c.gprOrZero(raField(w))
			ea := base + uint32(simmField(w))
			val, f, err := c.load(ea, s.size)
			if c.faultOrHalt(f, err) {
				return stepBranch
			}
			if s.signExt {
				switch s.size {
				case 2:
					val = uint32(int32(int16(val)))
				}
			}
			c.GPR[rtField(w)] = val
			if s.update {
				c.GPR[raField(w)] = ea
			}
			return stepNormal
		})
	}

	sSpecs := []dSpec{
		{"stb", 38, 1, false, false},
		{"stbu", 39, 1, true, false},
		{"sth", 44, 2, false, false},
		{"sthu", 45, 2, true, false},
		{"stw", 36, 4, false, false},
		{"stwu", 37, 4, true, false},
	}
	for _, s := range sSpecs {
		s := s
		m, v := dForm(s.opcode)
		add(s.name, m, v, func(c *CPU, w uint32) stepResult {
			base := c.gprOrZero(raField(w))
			ea := base + uint32(simmField(w))
			f, err := c.store(ea, s.size, c.GPR[rsField(w)])
			if c.faultOrHalt(f, err) {
				return stepBranch
			}
			if s.update {
				c.GPR[raField(w)] = ea
			}
			return stepNormal
		})
	}

	// --- X-form indexed loads and stores (opcode 31) ---
	type xSpec struct {
		name    string
		xo      uint32
		size    int
		update  bool
		signExt bool
		isStore bool
	}
	xSpecs := []xSpec{
		{"lbzx", 87, 1, false, false, false},
		{"lbzux", 119, 1, true, false, false},
		{"lhzx", 279, 2, false, false, false},
		{"lhzux", 311, 2, true, false, false},
		{"lhax", 343, 2, false, true, false},
		{"lhaux", 375, 2, true, true, false},
		{"lwzx", 23, 4, false, false, false},
		{"lwzux", 55, 4, true, false, false},
		{"stbx", 215, 1, false, false, true},
		{"stbux", 247, 1, true, false, true},
		{"sthx", 407, 2, false, false, true},
		{"sthux", 439, 2, true, false, true},
		{"stwx", 151, 4, false, false, true},
		{"stwux", 183, 4, true, false, true},
	}
	for _, s := range xSpecs {
		s := s
		m, v := xForm(31, s.xo)
		add(s.name, m, v, func(c *CPU, w uint32) stepResult {
			base := c.gprOrZero(raField(w))
			ea := base + c.GPR[rbField(w)]
			if s.isStore {
				f, err := c.store(ea, s.size, c.GPR[rsField(w)])
				if c.faultOrHalt(f, err) {
					return stepBranch
				}
			} else {
				val, f, err := c.load(ea, s.size)
				if c.faultOrHalt(f, err) {
					return stepBranch
				}
				if s.signExt && s.size == 2 {
					val = uint32(int32(int16(val)))
				}
				c.GPR[rtField(w)] = val
			}
			if s.update {
				c.GPR[raField(w)] = ea
			}
			return stepNormal
		})
	}

	// --- Byte-reverse indexed loads/stores ---
	m, v := xForm(31, 534)
	add("lwbrx", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		val, f, err := c.load(ea, 4)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.GPR[rtField(w)] = byteSwap32(val)
		return stepNormal
	})

	m, v = xForm(31, 662)
	add("stwbrx", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		f, err := c.store(ea, 4, byteSwap32(c.GPR[rsField(w)]))
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		return stepNormal
	})

	m, v = xForm(31, 790)
	add("lhbrx", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		val, f, err := c.load(ea, 2)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.GPR[rtField(w)] = (val>>8)&0xFF | (val&0xFF)<<8
		return stepNormal
	})

	m, v = xForm(31, 918)
	add("sthbrx", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		rs := c.GPR[rsField(w)]
		f, err := c.store(ea, 2, (rs>>8)&0xFF|(rs&0xFF)<<8)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		return stepNormal
	})

	// --- Load/store multiple (spec §4.5: restartable at instruction
	// granularity only) ---
	m, v = dForm(46)
	add("lmw", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + uint32(simmField(w))
		start := rtField(w)
		for r := start; r < 32; r++ {
			val, f, err := c.load(ea, 4)
			if c.faultOrHalt(f, err) {
				return stepBranch
			}
			c.GPR[r] = val
			ea += 4
		}
		return stepNormal
	})

	m, v = dForm(47)
	add("stmw", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + uint32(simmField(w))
		start := rsField(w)
		for r := start; r < 32; r++ {
			f, err := c.store(ea, 4, c.GPR[r])
			if c.faultOrHalt(f, err) {
				return stepBranch
			}
			ea += 4
		}
		return stepNormal
	})

	// --- Load/store string (spec §4.5: byte counter + "shift position"
	// tracked across iterations; here a single executor call moves the
	// whole string. GPRs and memory bytes are written as the string is
	// walked, so a fault part-way leaves the ones already moved in place;
	// SRR0 then holds the instruction's own address and it restarts from
	// its first byte). ---
	m, v = xForm(31, 597)
	add("lswi", m, v, func(c *CPU, w uint32) stepResult {
		return execLoadString(c, w, c.gprOrZero(raField(w)), stringImmCount(w))
	})
	m, v = xForm(31, 533)
	add("lswx", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		return execLoadString(c, w, ea, int(c.XER&0x7F))
	})
	m, v = xForm(31, 725)
	add("stswi", m, v, func(c *CPU, w uint32) stepResult {
		return execStoreString(c, w, c.gprOrZero(raField(w)), stringImmCount(w))
	})
	m, v = xForm(31, 661)
	add("stswx", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		return execStoreString(c, w, ea, int(c.XER&0x7F))
	})

	// --- Load-and-reserve / store-conditional (spec §4.5) ---
	m, v = xForm(31, 20)
	add("lwarx", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		val, f, err := c.load(ea, 4)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		c.GPR[rtField(w)] = val
		c.reservationValid = true
		c.reservationAddr = ea
		return stepNormal
	})

	m, v = xForm(31, 150)
	add("stwcx.", m, v, func(c *CPU, w uint32) stepResult {
		ea := c.gprOrZero(raField(w)) + c.GPR[rbField(w)]
		if c.reservationValid && c.reservationAddr == ea {
			f, err := c.store(ea, 4, c.GPR[rsField(w)])
			if c.faultOrHalt(f, err) {
				return stepBranch
			}
			c.reservationValid = false
			c.setCmpField(0, 0x2) // EQ: store succeeded
			return stepNormal
		}
		c.reservationValid = false
		c.setCmpField(0, 0x0)
		return stepNormal
	})

	return t
}

func byteSwap32(v uint32) uint32 {
	return v<<24 | (v&0xFF00)<<8 | (v>>8)&0xFF00 | v>>24
}

// stringImmCount extracts the immediate byte count from an lswi/stswi's
// RB field (it is repurposed as a 5-bit count, 0 meaning 32).
func stringImmCount(w uint32) int {
	n := int(rbField(w))
	if n == 0 {
		return 32
	}
	return n
}

// execLoadString/execStoreString implement LSWI/LSWX/STSWI/STSWX: count
// bytes are moved between memory at EA and successive GPRs starting at RT,
// each GPR filled/drained big-endian-leftmost-first, wrapping through r0
// after r31 (spec §4.5: "a 'shift position' counter within the current
// GPR is maintained across iterations").
func execLoadString(c *CPU, w uint32, ea uint32, count int) stepResult {
	reg := rtField(w)
	var cur uint32
	shift := 24
	for i := 0; i < count; i++ {
		b, f, err := c.load(ea, 1)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		cur |= b << shift
		shift -= 8
		ea++
		if shift < 0 {
			c.GPR[reg] = cur
			reg = (reg + 1) % 32
			cur = 0
			shift = 24
		}
	}
	if shift != 24 {
		c.GPR[reg] = cur
	}
	return stepNormal
}

func execStoreString(c *CPU, w uint32, ea uint32, count int) stepResult {
	reg := rsField(w)
	shift := 24
	for i := 0; i < count; i++ {
		b := (c.GPR[reg] >> shift) & 0xFF
		f, err := c.store(ea, 1, b)
		if c.faultOrHalt(f, err) {
			return stepBranch
		}
		ea++
		shift -= 8
		if shift < 0 {
			reg = (reg + 1) % 32
			shift = 24
		}
	}
	return stepNormal
}
