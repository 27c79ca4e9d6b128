package cpu

// Field extraction for the handful of PowerPC-32 instruction formats the
// decode table needs (spec §4.4/§4.5's instruction-family descriptions).
// All offsets use architecture-manual bit numbering via bits()/bit() in
// decode.go (bit 0 is the word's MSB).

func opcodeField(word uint32) uint32 { return bits(word, 0, 5) }

// rt/rs alias the same bit range; which name reads better depends on
// whether the field is a destination (RT/RD) or a source (RS) for the
// instruction in question.
func rtField(word uint32) int { return int(bits(word, 6, 10)) }
func rsField(word uint32) int { return int(bits(word, 6, 10)) }
func raField(word uint32) int { return int(bits(word, 11, 15)) }
func rbField(word uint32) int { return int(bits(word, 16, 20)) }

func simmField(word uint32) int32  { return signExtend16(bits(word, 16, 31)) }
func uimmField(word uint32) uint32 { return bits(word, 16, 31) }

func oeField(word uint32) bool { return bit(word, 21) }
func rcField(word uint32) bool { return bit(word, 31) }

// xo10 is the 10-bit extended opcode of an X-form instruction (no OE
// field in that slot); xo9 is the 9-bit extended opcode of an XO-form
// arithmetic instruction, whose bit 21 is instead the OE flag.
func xo10Field(word uint32) uint32 { return bits(word, 21, 30) }
func xo9Field(word uint32) uint32  { return bits(word, 22, 30) }

// M-form (rotate/mask family): RS, RA, SH, MB, ME, Rc.
func shField(word uint32) uint32 { return bits(word, 16, 20) }
func mbField(word uint32) uint32 { return bits(word, 21, 25) }
func meField(word uint32) uint32 { return bits(word, 26, 30) }

// B-form (branch conditional): BO, BI, BD, AA, LK.
func boField(word uint32) uint32 { return bits(word, 6, 10) }
func biField(word uint32) uint32 { return bits(word, 11, 15) }

func bdField(word uint32) int32 {
	raw := bits(word, 16, 29)
	return signExtend16(raw << 2) // sign-extend a 14-bit field shifted left 2
}

func aaField(word uint32) bool { return bit(word, 30) }
func lkField(word uint32) bool { return bit(word, 31) }

// I-form (unconditional branch): LI, AA, LK.
func liField(word uint32) int32 {
	raw := bits(word, 6, 29) // 24 bits
	shifted := raw << 2
	// sign-extend from bit 6 of the original word (bit 0 of the 26-bit
	// shifted field).
	if shifted&0x02000000 != 0 {
		return int32(shifted | 0xFC000000)
	}
	return int32(shifted)
}

// sprField reassembles the split SPR number: instruction bits 11-15 hold
// the low 5 bits of the SPR number, bits 16-20 hold the high 5 bits (spec
// §4.5 "a sparse register file addressed by a 10-bit SPR number (split
// across the instruction's two fields, lo-then-hi)").
func sprField(word uint32) uint32 {
	return (bits(word, 16, 20) << 5) | bits(word, 11, 15)
}

// srIndexField decodes MTSR/MFSR's segment-register-index operand
// (bits 12-15, bit 11 reserved/zero for the direct form).
func srIndexField(word uint32) int { return int(bits(word, 12, 15)) }

// crbA/crbB/crbD for the condition-register logical family (crand, cror,
// ...): three 5-bit CR-bit numbers.
func crbDField(word uint32) int { return int(bits(word, 6, 10)) }
func crbAField(word uint32) int { return int(bits(word, 11, 15)) }
func crbBField(word uint32) int { return int(bits(word, 16, 20)) }

// crfD/crfS select a whole 4-bit CR field (for mcrf, compare instructions).
func crfDField(word uint32) int { return int(bits(word, 6, 8)) }
func crfSField(word uint32) int { return int(bits(word, 11, 13)) }

// lField distinguishes 32-bit (L=0) vs 64-bit (L=1) compare; unused by
// this 32-bit-only implementation but decoded for completeness/clarity.
func lField(word uint32) bool { return bit(word, 10) }

// maskRange builds a mask selecting bits [first, last] (inclusive,
// architecture-manual numbering), for use constructing instrDef.Mask/Value
// pairs without hand-computing hex literals per entry.
func maskRange(first, last int) uint32 {
	n := last - first + 1
	shift := uint(31 - last)
	return (uint32(1)<<uint(n) - 1) << shift
}

// opcodeValue places a 6-bit primary opcode into its bits0-5 slot.
func opcodeValue(opcode uint32) uint32 { return opcode << 26 }

// dForm builds the (mask, value) pair for a D-form instruction matched
// purely by its primary opcode; RT/RA/SIMM are operands read by the
// executor, not part of the dispatch key.
func dForm(opcode uint32) (mask, value uint32) {
	return maskRange(0, 5), opcodeValue(opcode)
}

// xoForm builds the (mask, value) pair for an XO-form arithmetic
// instruction (opcode 31's add/subf/mul/div family): matched on the
// primary opcode plus the 9-bit extended opcode at bits 22-30. OE (bit
// 21) and Rc (bit 31) are deliberately excluded from the match — they are
// flags the executor inspects at runtime (spec §4.5: "each flavor must
// update exactly the flags its name describes"), collapsing what would
// otherwise be four near-duplicate table rows (plain/dot/O/O-dot) into
// one.
func xoForm(opcode, xo uint32) (mask, value uint32) {
	mask = maskRange(0, 5) | maskRange(22, 30)
	value = opcodeValue(opcode) | (xo << 1)
	return
}

// xForm builds the (mask, value) pair for an X-form instruction (opcode
// 31's logical/compare/load-store-indexed family): matched on the primary
// opcode plus the 10-bit extended opcode at bits 21-30. Rc (bit 31), when
// the instruction has one, is left as a runtime-inspected flag exactly
// like xoForm.
func xForm(opcode, xo uint32) (mask, value uint32) {
	mask = maskRange(0, 5) | maskRange(21, 30)
	value = opcodeValue(opcode) | (xo << 1)
	return
}

// mForm builds the (mask, value) pair for an M-form rotate/mask
// instruction: only the primary opcode is fixed, every other field (RS,
// RA, SH, MB, ME, Rc) is an operand.
func mForm(opcode uint32) (mask, value uint32) {
	return dForm(opcode)
}
