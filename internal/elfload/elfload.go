/*
ppc32vm ELF/raw image loader

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

Package elfload implements spec §6's boot-image formats: "each PT_LOAD...
section's bytes are copied to their specified virtual address, translated
via the already-installed BAT/page-mapping... the ELF entry point is
returned."
*/
package elfload

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/dynacore/ppc32vm/internal/membus"
)

// Translator resolves a virtual address to a physical one through
// whatever BAT/page mapping the caller already installed; *cpu.CPU
// satisfies this via its TranslatePhys method.
type Translator interface {
	TranslatePhys(vaddr uint32) (uint32, error)
}

// Load reads the ELF32 image at path and copies every PT_LOAD segment's
// bytes to its virtual address (bss padding zero-filled), returning the
// entry point (spec §6 cpu_load_elf).
func Load(bus *membus.Bus, tr Translator, path string) (uint32, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("elfload: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return 0, fmt.Errorf("elfload: %s is not a 32-bit ELF image", path)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil && err != io.EOF {
			return 0, fmt.Errorf("elfload: reading segment at %#x: %w", prog.Vaddr, err)
		}
		if err := copyToVirt(bus, tr, uint32(prog.Vaddr), data); err != nil {
			return 0, err
		}
		if prog.Memsz > prog.Filesz {
			bss := make([]byte, prog.Memsz-prog.Filesz)
			if err := copyToVirt(bus, tr, uint32(prog.Vaddr+prog.Filesz), bss); err != nil {
				return 0, err
			}
		}
	}

	return uint32(f.Entry), nil
}

// LoadRaw copies the raw bytes of path to vaddr with no header parsing
// (spec §6 cpu_load_raw).
func LoadRaw(bus *membus.Bus, tr Translator, path string, vaddr uint32) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("elfload: %w", err)
	}
	return copyToVirt(bus, tr, vaddr, data)
}

// copyToVirt writes data to bus starting at the physical addresses vaddr
// translates to, one byte at a time so an image spanning more than one
// page (or a page boundary mid-copy) is handled without assuming
// contiguous physical backing.
func copyToVirt(bus *membus.Bus, tr Translator, vaddr uint32, data []byte) error {
	for i, b := range data {
		va := vaddr + uint32(i)
		phys, err := tr.TranslatePhys(va)
		if err != nil {
			return fmt.Errorf("elfload: translating %#x: %w", va, err)
		}
		if err := bus.Write(uint64(phys), 1, uint64(b), uint64(va)); err != nil {
			return fmt.Errorf("elfload: writing %#x: %w", va, err)
		}
	}
	return nil
}
