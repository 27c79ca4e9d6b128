/*
ppc32vm Physical Bus - file-mapped persistent regions

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

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NewFileRegion memory-maps path as the backing store for a region of the
// given length, growing/truncating the file to length first. This gives
// NVRAM and ROM regions (spec §3's "optional file-mapping descriptor for
// persistence") a real host mapping instead of a read-then-buffer shim:
// writes through the region's Bytes() slice land directly in the file.
func NewFileRegion(name string, base, length uint64, path string, readOnly bool) (*Region, error) {
	if length == 0 || length%PageSize != 0 {
		return nil, fmt.Errorf("membus: region %q length %d is not a multiple of page size %d", name, length, PageSize)
	}

	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("membus: open %s: %w", path, err)
	}
	defer f.Close()

	if !readOnly {
		if err := f.Truncate(int64(length)); err != nil {
			return nil, fmt.Errorf("membus: truncate %s: %w", path, err)
		}
	}

	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("membus: mmap %s: %w", path, err)
	}

	r := &Region{
		Name:      name,
		Base:      base,
		Length:    length,
		ReadOnly:  readOnly,
		Cacheable: true,
		bytes:     data,
		unmap: func() error {
			return unix.Munmap(data)
		},
	}
	return r, nil
}
