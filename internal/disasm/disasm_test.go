package disasm

import (
	"strings"
	"testing"
)

func TestFormatAdd(t *testing.T) {
	// add. r5,r3,r4 (spec §8 S1)
	got := Format(0x7CA32215)
	if !strings.HasPrefix(got, "add") {
		t.Fatalf("Format(add.) = %q, want prefix %q", got, "add")
	}
	if !strings.Contains(got, "r5,r3,r4") {
		t.Fatalf("Format(add.) = %q, want operands r5,r3,r4", got)
	}
}

func TestFormatAddc(t *testing.T) {
	got := Format(0x7CA32014) // addc r5,r3,r4 (spec §8 S2)
	if !strings.HasPrefix(got, "addc") {
		t.Fatalf("Format(addc) = %q", got)
	}
}

func TestFormatSubfic(t *testing.T) {
	got := Format(0x20630003) // subfic r3,r3,3 (spec §8 S3)
	if !strings.HasPrefix(got, "subfic") {
		t.Fatalf("Format(subfic) = %q", got)
	}
	if !strings.Contains(got, "r3,r3") {
		t.Fatalf("Format(subfic) = %q, want r3,r3 operands", got)
	}
}

func TestFormatBranchLink(t *testing.T) {
	got := Format(0x48000005) // bl +4
	if !strings.HasPrefix(got, "b") {
		t.Fatalf("Format(bl) = %q", got)
	}
	if !strings.Contains(got, "+4") {
		t.Fatalf("Format(bl) = %q, want displacement +4", got)
	}
}

func TestFormatLoadStore(t *testing.T) {
	// lwz r3,0(r4): opcode 32, RT=3, RA=4, SIMM=0
	word := uint32(32)<<26 | uint32(3)<<21 | uint32(4)<<16 | 0
	got := Format(word)
	if !strings.HasPrefix(got, "lwz") {
		t.Fatalf("Format(lwz) = %q", got)
	}
	if !strings.Contains(got, "r3,0(r4)") {
		t.Fatalf("Format(lwz) = %q, want r3,0(r4)", got)
	}
}

func TestFormatUnknownOpcode(t *testing.T) {
	got := Format(0xFC000000) // opcode 63 with no matching extended opcode
	if !strings.HasPrefix(got, ".long") {
		t.Fatalf("Format(unknown) = %q, want a raw .long fallback", got)
	}
}

func TestMnemonicMatchesFormat(t *testing.T) {
	word := uint32(14)<<26 | uint32(3)<<21 | uint32(0)<<16 | 5 // addi r3,0,5
	if got := Mnemonic(word); got != "addi" {
		t.Fatalf("Mnemonic(addi) = %q, want %q", got, "addi")
	}
	if got := Mnemonic(0xFC000000); got != "" {
		t.Fatalf("Mnemonic(unknown) = %q, want empty", got)
	}
}
