/*
ppc32vm Device Fabric interface definitions

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

// Package device defines the contract every memory-mapped device in the
// fabric must satisfy (spec §3, §4.2). The core never depends on a
// concrete device; it only ever holds a Device.
package device

// Op identifies whether an access is a load or a store.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// Access describes one MMIO hit delivered to a device's Handle method.
// Offset is relative to the device's registered base. Size is restricted
// to {1, 2, 4, 8} by the bus (spec §4.1). Data is the in/out slot: on a
// read the handler fills it; on a write the handler consumes it.
type Access struct {
	Offset uint64
	Size   int
	Op     Op
	Data   uint64
}

// Device is the handler contract consumed by internal/membus. A device
// may recursively call back into the bus from inside Handle (e.g. a DMA
// controller copying to RAM) — the bus must tolerate that on the calling
// goroutine (spec §4.2).
type Device interface {
	// Name identifies the device for logging and diagnostics.
	Name() string

	// Handle performs the side effect of one access. On an unrecognized
	// offset the device may leave Data untouched (reads as zero) or log
	// and ignore (writes) — it must not return an error for that case;
	// Error is reserved for genuine device faults.
	Handle(access *Access) error

	// Shutdown releases any NIO backend, timer, or host resource. Called
	// at VM teardown in reverse registration order.
	Shutdown()
}

// Debugger is an optional extension a Device may implement to accept a
// named debug-trace toggle from the monitor console.
type Debugger interface {
	Debug(name string) error
}
