package cpu

// bits extracts an inclusive bit range [first, last] using PowerPC
// architecture-manual numbering, where bit 0 is the word's most
// significant bit and bit 31 its least significant.
func bits(word uint32, first, last int) uint32 {
	n := last - first + 1
	shift := uint(31 - last)
	mask := uint32(1)<<uint(n) - 1
	return (word >> shift) & mask
}

func bit(word uint32, n int) bool {
	return bits(word, n, n) != 0
}

func signExtend16(v uint32) int32 {
	return int32(int16(v))
}

// stepResult is an executor's return value (spec §4.5): 0 means "normal,
// advance IA by 4"; 1 means "the executor already set IA" (a taken
// branch or an injected exception).
type stepResult int

const (
	stepNormal stepResult = 0
	stepBranch stepResult = 1
)

type execFunc func(c *CPU, word uint32) stepResult

// instrDef is one decode-table row: any word with (word & Mask) == Value
// dispatches to Exec. Name is for the disassembler only.
type instrDef struct {
	Name  string
	Mask  uint32
	Value uint32
	Exec  execFunc
}

type decoder struct {
	byPrimary [64][]instrDef
}

// buildDecoder assembles the full table once, at CPU construction, from
// each instruction-family file's literal definition list (spec §4.4: a
// two-level structure — here, primary 6-bit opcode bucket, then a linear
// mask/value scan within the bucket — giving the same "first match in
// table order wins, more specific before less specific" semantics the
// spec requires of any equivalent structure).
func buildDecoder() *decoder {
	d := &decoder{}
	all := make([]instrDef, 0, 256)
	all = append(all, standardInstructions()...)
	all = append(all, loadStoreInstructions()...)
	all = append(all, systemInstructions()...)
	all = append(all, floatInstructions()...)

	for _, def := range all {
		primary := bits(def.Value, 0, 5)
		d.byPrimary[primary] = append(d.byPrimary[primary], def)
	}
	return d
}

// lookup returns the first matching instruction definition for word, or
// nil if none of the table's entries match (an illegal-instruction
// program exception per spec §7 kind 2).
func (d *decoder) lookup(word uint32) *instrDef {
	primary := bits(word, 0, 5)
	bucket := d.byPrimary[primary]
	for i := range bucket {
		def := &bucket[i]
		if word&def.Mask == def.Value {
			return def
		}
	}
	return nil
}
