/*
ppc32vm Execution Engine - diagnostic accessors

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
package cpu

import "github.com/dynacore/ppc32vm/internal/vmlog"

// Num satisfies vmlog.CPUState.
func (c *CPU) Num() int { return c.ID }

// Snapshot copies this CPU's register file for a fatal-dump report
// (spec §7 kind 4). It does not lock anything; callers dump after the
// CPU thread has already stopped.
func (c *CPU) Snapshot() vmlog.Registers {
	return vmlog.Registers{
		GPR:   c.GPR,
		CR:    c.CR,
		XER:   c.XER,
		LR:    c.LR,
		CTR:   c.CTR,
		MSR:   c.MSR,
		IA:    c.IA,
		SRR0:  c.SRR0,
		SRR1:  c.SRR1,
		DAR:   c.DAR,
		DSISR: c.DSISR,
	}
}

// RecentWords satisfies vmlog.CPUState with the fetch ring buffer.
func (c *CPU) RecentWords() []vmlog.RecentWord {
	recs := c.RecentFetches()
	out := make([]vmlog.RecentWord, len(recs))
	for i, r := range recs {
		out[i] = vmlog.RecentWord{IA: r.IA, Word: r.Word}
	}
	return out
}
