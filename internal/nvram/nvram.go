/*
ppc32vm NVRAM configuration blob

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

Package nvram implements spec §6's tagged NVRAM header: two magic
16-bit words (0xF0A5, 0xABCD), a version word, a checksum word, a format
word (0x0C04), three 32-bit fields (start, end, size), then the raw
config bytes. The checksum is a 16-bit one's-complement sum (end-around
carry, final bitwise NOT) over every word after the magics up to the
region's usable end.
*/
package nvram

import (
	"encoding/binary"
	"fmt"
)

const (
	magic1     = 0xF0A5
	magic2     = 0xABCD
	formatWord = 0x0C04
)

// layout (all big-endian):
//
//	offset 0: magic1   (u16)
//	offset 2: magic2   (u16)
//	offset 4: version  (u16)
//	offset 6: checksum (u16)
//	offset 8: format   (u16)
//	offset 10: pad     (u16, reserved, written zero)
//	offset 12: start   (u32)
//	offset 16: end     (u32)
//	offset 20: size    (u32)
//	offset 24: config bytes...
const (
	offMagic1   = 0
	offMagic2   = 2
	offVersion  = 4
	offChecksum = 6
	offFormat   = 8
	offPad      = 10
	offStart    = 12
	offEnd      = 16
	offSize     = 20
	offConfig   = 24
)

// Inject writes a header plus config at nvram[romSpace:] of the NVRAM
// region's backing bytes, recomputing the checksum over the header
// (minus the magics) through the end of the usable area.
func Inject(nvram []byte, romSpace int, version uint16, config []byte) error {
	end := len(nvram)
	size := len(config)
	start := offConfig
	if romSpace+offConfig+size > end {
		return fmt.Errorf("nvram: config of %d bytes does not fit in %d remaining bytes", size, end-romSpace-offConfig)
	}

	hdr := nvram[romSpace:]
	binary.BigEndian.PutUint16(hdr[offMagic1:], magic1)
	binary.BigEndian.PutUint16(hdr[offMagic2:], magic2)
	binary.BigEndian.PutUint16(hdr[offVersion:], version)
	binary.BigEndian.PutUint16(hdr[offChecksum:], 0)
	binary.BigEndian.PutUint16(hdr[offFormat:], formatWord)
	binary.BigEndian.PutUint16(hdr[offPad:], 0)
	binary.BigEndian.PutUint32(hdr[offStart:], uint32(start))
	binary.BigEndian.PutUint32(hdr[offEnd:], uint32(start+size-1))
	binary.BigEndian.PutUint32(hdr[offSize:], uint32(size))
	copy(hdr[offConfig:], config)

	sum := checksum(hdr[offVersion:])
	binary.BigEndian.PutUint16(hdr[offChecksum:], sum)
	return nil
}

// Extract reads back a previously Inject-ed blob, validating the magics
// and the start/end/size relationship before returning the raw config
// bytes (spec §6: "validates size == end - start + 1").
func Extract(nvram []byte, romSpace int) ([]byte, error) {
	if romSpace+offConfig > len(nvram) {
		return nil, fmt.Errorf("nvram: header does not fit at offset %d", romSpace)
	}
	hdr := nvram[romSpace:]

	if binary.BigEndian.Uint16(hdr[offMagic1:]) != magic1 ||
		binary.BigEndian.Uint16(hdr[offMagic2:]) != magic2 {
		return nil, fmt.Errorf("nvram: bad magic at offset %d", romSpace)
	}
	if binary.BigEndian.Uint16(hdr[offFormat:]) != formatWord {
		return nil, fmt.Errorf("nvram: unrecognized format word %#x", binary.BigEndian.Uint16(hdr[offFormat:]))
	}

	start := binary.BigEndian.Uint32(hdr[offStart:])
	end := binary.BigEndian.Uint32(hdr[offEnd:])
	size := binary.BigEndian.Uint32(hdr[offSize:])
	if end < start || size != end-start+1 {
		return nil, fmt.Errorf("nvram: inconsistent start/end/size (%d/%d/%d)", start, end, size)
	}
	if int(start)+int(size) > len(hdr) {
		return nil, fmt.Errorf("nvram: config extends past region")
	}

	// The stored checksum word is itself zeroed during Inject's sum, so
	// verify against a copy with that field cleared.
	span := hdr[offVersion:]
	verify := make([]byte, len(span))
	copy(verify, span)
	binary.BigEndian.PutUint16(verify[offChecksum-offVersion:], 0)
	gotSum := binary.BigEndian.Uint16(hdr[offChecksum:])
	if checksum(verify) != gotSum {
		return nil, fmt.Errorf("nvram: checksum mismatch")
	}

	cfg := make([]byte, size)
	copy(cfg, hdr[start:int(start)+int(size)])
	return cfg, nil
}

// checksum computes the 16-bit one's-complement sum with end-around
// carry over data taken two bytes at a time (big-endian), then inverts
// the result (spec §6).
func checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i:]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
