/*
ppc32vm PowerPC-32 Disassembler

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

Package disasm formats a raw 32-bit PowerPC-32 encoding as a mnemonic plus
operand string, for the monitor console only (the fatal dump prints raw words)
(spec §3's instruction-executor "annotations" field and §C.1's supplemental
disassembler). It never runs on the hot execution path and never dispatches
to an executor: it has its own small opcode table, independent of
internal/cpu's decode table, following the teacher's own split between
emu/cpu (execution) and emu/disassemble+emu/opcodemap (an opcode-to-string
table read only by the debugger front-end).
*/
package disasm

import "fmt"

// operandType classifies which operand template Format below applies to
// an opcode entry, mirroring the teacher's opType/opFlags pair in
// emu/disassemble.go.
type operandType int

const (
	tyNone operandType = iota
	tyRRR          // rD, rA, rB            (X/XO-form and logical X-form with RA dest)
	tyRRRRc        // same but RS,RA,RB reversed (logical: name ra,rs,rb)
	tyRRI          // rD, rA                (two operands; an immediate is not printed)
	tyRUI          // rA, rS, UIMM          (andi./ori/xori family)
	tyMem          // rD, SIMM(rA)          (D-form load/store)
	tyMemX         // rD, rA, rB            (X-form indexed load/store)
	tyBranch       // signed displacement   (I-form)
	tyBranchCond   // BO, BI, displacement  (B-form)
	tySPR          // rD, SPR               (mfspr/mtspr)
	tyShift        // rA, rS, SH, MB, ME    (M-form)
	tyTrap         // raw word in parentheses (operands not decoded)
	tyRaw          // mnemonic only, no operands
)

type entry struct {
	name string
	mask uint32
	val  uint32
	ty   operandType
}

// table is the opcode-to-mnemonic map, grouped by primary opcode the same
// way the teacher's opMap groups by 370 opcode byte. Only mnemonics
// internal/cpu actually implements are listed; an unrecognized encoding
// formats as a raw hex word (spec: "unknown opcode" has no mnemonic).
var table = buildTable()

func maskRange(first, last int) uint32 {
	n := last - first + 1
	shift := uint(31 - last)
	return (uint32(1)<<uint(n) - 1) << shift
}

func opcodeValue(op uint32) uint32 { return op << 26 }

func dForm(op uint32) (uint32, uint32)          { return maskRange(0, 5), opcodeValue(op) }
func xForm(op, xo uint32) (uint32, uint32)      { return maskRange(0, 5) | maskRange(21, 30), opcodeValue(op) | (xo << 1) }
func xoForm(op, xo uint32) (uint32, uint32)     { return maskRange(0, 5) | maskRange(22, 30), opcodeValue(op) | (xo << 1) }

func buildTable() []entry {
	var t []entry
	add := func(name string, mask, val uint32, ty operandType) {
		t = append(t, entry{name, mask, val, ty})
	}

	for _, xo := range []struct {
		name string
		xo   uint32
	}{
		{"add", 266}, {"addc", 10}, {"adde", 138}, {"subf", 40}, {"subfc", 8}, {"subfe", 136},
		{"mulhw", 75}, {"mulhwu", 11}, {"mullw", 235}, {"divw", 491}, {"divwu", 459},
	} {
		m, v := xoForm(31, xo.xo)
		add(xo.name, m, v, tyRRR)
	}
	for _, xo := range []struct {
		name string
		xo   uint32
	}{
		{"addme", 234}, {"addze", 202}, {"subfme", 232}, {"subfze", 216}, {"neg", 104},
	} {
		m, v := xoForm(31, xo.xo)
		add(xo.name, m, v, tyRRI) // rD, rA only — reuses the 2-operand template
	}

	for _, lg := range []struct {
		name string
		xo   uint32
	}{
		{"and", 28}, {"or", 444}, {"xor", 316}, {"nand", 476}, {"nor", 124},
		{"andc", 60}, {"orc", 412}, {"eqv", 284},
	} {
		m, v := xForm(31, lg.xo)
		add(lg.name, m, v, tyRRRRc)
	}
	for _, u := range []struct {
		name string
		xo   uint32
	}{
		{"extsb", 954}, {"extsh", 922}, {"cntlzw", 26},
	} {
		m, v := xForm(31, u.xo)
		add(u.name, m, v, tyRRI)
	}
	for _, sh := range []struct {
		name string
		xo   uint32
	}{
		{"slw", 24}, {"srw", 536}, {"sraw", 792},
	} {
		m, v := xForm(31, sh.xo)
		add(sh.name, m, v, tyRRRRc)
	}
	m, v := xForm(31, 824)
	add("srawi", m, v, tyShift)

	m, v = xForm(31, 0)
	add("cmp", m, v, tyRRR)
	m, v = xForm(31, 32)
	add("cmpl", m, v, tyRRR)

	add2 := func(name string, op uint32, ty operandType) {
		m, v := dForm(op)
		add(name, m, v, ty)
	}
	add2("addi", 14, tyRRI)
	add2("addis", 15, tyRRI)
	add2("addic", 12, tyRRI)
	add2("addic.", 13, tyRRI)
	add2("subfic", 8, tyRRI)
	add2("mulli", 7, tyRRI)
	add2("andi.", 28, tyRUI)
	add2("andis.", 29, tyRUI)
	add2("ori", 24, tyRUI)
	add2("oris", 25, tyRUI)
	add2("xori", 26, tyRUI)
	add2("xoris", 27, tyRUI)
	add2("cmpi", 11, tyRRI)
	add2("cmpli", 10, tyRRI)

	add2("rlwinm", 21, tyShift)
	add2("rlwnm", 23, tyShift)
	add2("rlwimi", 20, tyShift)

	for _, ls := range []struct {
		name string
		op   uint32
	}{
		{"lbz", 34}, {"lbzu", 35}, {"lhz", 40}, {"lhzu", 41}, {"lha", 42}, {"lhau", 43},
		{"lwz", 32}, {"lwzu", 33},
		{"stb", 38}, {"stbu", 39}, {"sth", 44}, {"sthu", 45}, {"stw", 36}, {"stwu", 37},
		{"lfd", 50}, {"lfdu", 51}, {"stfd", 54}, {"stfdu", 55},
	} {
		m, v := dForm(ls.op)
		add(ls.name, m, v, tyMem)
	}

	for _, lx := range []struct {
		name string
		xo   uint32
	}{
		{"lbzx", 87}, {"lbzux", 119}, {"lhzx", 279}, {"lhzux", 311}, {"lhax", 343}, {"lhaux", 375},
		{"lwzx", 23}, {"lwzux", 55},
		{"stbx", 215}, {"stbux", 247}, {"sthx", 407}, {"sthux", 439}, {"stwx", 151}, {"stwux", 183},
		{"lwbrx", 534}, {"stwbrx", 662}, {"lwarx", 20},
		{"lfdx", 599}, {"lfdux", 631}, {"stfdx", 727}, {"stfdux", 759},
	} {
		m, v := xForm(31, lx.xo)
		add(lx.name, m, v, tyMemX)
	}
	m, v = xForm(31, 150)
	add("stwcx.", m, v, tyMemX)

	add2("lmw", 46, tyMem)
	add2("stmw", 47, tyMem)
	m, v = xForm(31, 597)
	add("lswi", m, v, tyRRR)
	m, v = xForm(31, 533)
	add("lswx", m, v, tyRRR)
	m, v = xForm(31, 725)
	add("stswi", m, v, tyRRR)
	m, v = xForm(31, 661)
	add("stswx", m, v, tyRRR)

	m, v = dForm(18)
	add("b", m, v, tyBranch)
	m, v = dForm(16)
	add("bc", m, v, tyBranchCond)
	m, v = xForm(19, 16)
	add("bclr", m, v, tyTrap)
	m, v = xForm(19, 528)
	add("bcctr", m, v, tyTrap)

	for _, cr := range []struct {
		name string
		xo   uint32
	}{
		{"crand", 257}, {"cror", 449}, {"crxor", 193}, {"crnand", 225},
		{"crnor", 33}, {"creqv", 289}, {"crandc", 129}, {"crorc", 417},
	} {
		m, v := xForm(19, cr.xo)
		add(cr.name, m, v, tyTrap)
	}
	m, v = xForm(19, 0)
	add("mcrf", m, v, tyTrap)

	m, v = xForm(31, 339)
	add("mfspr", m, v, tySPR)
	m, v = xForm(31, 467)
	add("mtspr", m, v, tySPR)
	m, v = xForm(31, 83)
	add("mfmsr", m, v, tyRRI)
	m, v = xForm(31, 146)
	add("mtmsr", m, v, tyRRI)
	m, v = xForm(31, 210)
	add("mtsr", m, v, tyTrap)
	m, v = xForm(31, 595)
	add("mfsr", m, v, tyTrap)
	m, v = xForm(31, 242)
	add("mtsrin", m, v, tyRRRRc)
	m, v = xForm(31, 659)
	add("mfsrin", m, v, tyRRI)
	m, v = xForm(31, 306)
	add("tlbie", m, v, tyRRI)
	m, v = xForm(31, 370)
	add("tlbia", m, v, tyRaw)
	m, v = xForm(31, 4)
	add("tw", m, v, tyTrap)
	m, v = dForm(3)
	add("twi", m, v, tyTrap)
	m, v = dForm(17)
	add("sc", m, v, tyRaw)
	m, v = xForm(19, 50)
	add("rfi", m, v, tyRaw)
	m, v = xForm(31, 371)
	add("mftb", m, v, tySPR)

	m, v = xForm(31, 19)
	add("mfcr", m, v, tyRRI)
	m, v = xForm(31, 144)
	add("mtcrf", m, v, tyTrap)
	m, v = xForm(31, 512)
	add("mcrxr", m, v, tyTrap)
	m, v = xForm(31, 598)
	add("sync", m, v, tyRaw)
	m, v = xForm(31, 854)
	add("eieio", m, v, tyRaw)
	m, v = xForm(19, 150)
	add("isync", m, v, tyRaw)
	for _, cc := range []struct {
		name string
		xo   uint32
	}{
		{"dcbf", 86}, {"dcbst", 54}, {"dcbt", 278}, {"dcbtst", 246},
		{"dcbi", 470}, {"icbi", 982}, {"dcbz", 1014},
	} {
		m, v := xForm(31, cc.xo)
		add(cc.name, m, v, tyMemX)
	}
	m, v = xForm(31, 790)
	add("lhbrx", m, v, tyMemX)
	m, v = xForm(31, 918)
	add("sthbrx", m, v, tyMemX)

	return t
}

func bits(word uint32, first, last int) uint32 {
	n := last - first + 1
	shift := uint(31 - last)
	mask := uint32(1)<<uint(n) - 1
	return (word >> shift) & mask
}

func rt(word uint32) int      { return int(bits(word, 6, 10)) }
func ra(word uint32) int      { return int(bits(word, 11, 15)) }
func rb(word uint32) int      { return int(bits(word, 16, 20)) }
func simm(word uint32) int32  { return int32(int16(bits(word, 16, 31))) }
func uimm(word uint32) uint32 { return bits(word, 16, 31) }
func spr(word uint32) uint32  { return (bits(word, 16, 20) << 5) | bits(word, 11, 15) }
func li(word uint32) int32 {
	raw := bits(word, 6, 29) << 2
	if raw&0x02000000 != 0 {
		return int32(raw | 0xFC000000)
	}
	return int32(raw)
}
func bd(word uint32) int32 {
	raw := bits(word, 16, 29) << 2
	return int32(int16(raw))
}

// lookup returns the first matching table entry, in the same "first match
// in table order wins" sense as internal/cpu's decoder (spec §4.4), or nil
// for an encoding this table does not recognize.
func lookup(word uint32) *entry {
	for i := range table {
		if word&table[i].mask == table[i].val {
			return &table[i]
		}
	}
	return nil
}

// Format renders word as "mnemonic operands", or a raw hex fallback for
// an encoding not in the table (spec: the decoder's own "unknown opcode"
// path has no mnemonic to show).
func Format(word uint32) string {
	e := lookup(word)
	if e == nil {
		return fmt.Sprintf(".long 0x%08x", word)
	}
	switch e.ty {
	case tyRaw:
		return e.name
	case tyRRR:
		return fmt.Sprintf("%-8s r%d,r%d,r%d", e.name, rt(word), ra(word), rb(word))
	case tyRRRRc:
		return fmt.Sprintf("%-8s r%d,r%d,r%d", e.name, ra(word), rt(word), rb(word))
	case tyRRI:
		return fmt.Sprintf("%-8s r%d,r%d", e.name, rt(word), ra(word))
	case tyRUI:
		return fmt.Sprintf("%-8s r%d,r%d,0x%x", e.name, ra(word), rt(word), uimm(word))
	case tyMem:
		return fmt.Sprintf("%-8s r%d,%d(r%d)", e.name, rt(word), simm(word), ra(word))
	case tyMemX:
		return fmt.Sprintf("%-8s r%d,r%d,r%d", e.name, rt(word), ra(word), rb(word))
	case tyBranch:
		return fmt.Sprintf("%-8s %+d", e.name, li(word))
	case tyBranchCond:
		return fmt.Sprintf("%-8s %d,%d,%+d", e.name, rt(word), ra(word), bd(word))
	case tySPR:
		return fmt.Sprintf("%-8s r%d,%d", e.name, rt(word), spr(word))
	case tyShift:
		return fmt.Sprintf("%-8s r%d,r%d,%d,%d,%d", e.name, ra(word), rt(word), rb(word), bits(word, 21, 25), bits(word, 26, 30))
	case tyTrap:
		return fmt.Sprintf("%-8s (0x%08x)", e.name, word)
	default:
		return e.name
	}
}

// Mnemonic returns just the recognized mnemonic (or "" if unrecognized),
// for callers that only need the name (e.g. breakpoint trace logging).
func Mnemonic(word uint32) string {
	e := lookup(word)
	if e == nil {
		return ""
	}
	return e.name
}
