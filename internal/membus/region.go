/*
ppc32vm Physical Bus - memory region model

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

package membus

import "fmt"

// PageSize is the minimum unit a Region's length must be a multiple of
// (spec §3).
const PageSize = 4096

// Region is a contiguous run of guest-physical addresses backed by
// host-accessible bytes (RAM, ROM, NVRAM, or flash). Regions never
// overlap (spec §3).
type Region struct {
	Name      string
	Base      uint64
	Length    uint64
	ReadOnly  bool
	Cacheable bool // VTLB may cache a direct host pointer into this region

	bytes []byte
	unmap func() error // non-nil for an mmap-backed region
}

// NewRAM creates a heap-backed, cacheable, writable region.
func NewRAM(name string, base, length uint64) (*Region, error) {
	if length == 0 || length%PageSize != 0 {
		return nil, fmt.Errorf("membus: region %q length %d is not a multiple of page size %d", name, length, PageSize)
	}
	return &Region{
		Name:      name,
		Base:      base,
		Length:    length,
		Cacheable: true,
		bytes:     make([]byte, length),
	}, nil
}

// NewROM creates a heap-backed, cacheable, read-only region pre-loaded
// with data. data is copied; it is padded with zero bytes up to length,
// or truncated if longer.
func NewROM(name string, base, length uint64, data []byte) (*Region, error) {
	r, err := NewRAM(name, base, length)
	if err != nil {
		return nil, err
	}
	n := copy(r.bytes, data)
	_ = n
	r.ReadOnly = true
	return r, nil
}

// Bytes returns the region's host-accessible backing slice. Callers
// (notably the MMU's VTLB) must not retain it past the region's Close.
func (r *Region) Bytes() []byte {
	return r.bytes
}

// Contains reports whether addr falls within the region.
func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.Base+r.Length
}

// Close releases any host resource (e.g. an mmap) backing the region.
// VTLB entries referencing this region must be invalidated by the caller
// before or immediately after Close (spec §3 relationships).
func (r *Region) Close() error {
	if r.unmap != nil {
		return r.unmap()
	}
	return nil
}
