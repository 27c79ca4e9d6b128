/*
ppc32vm logging - slog wrapper and fatal-dump formatter

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

Package vmlog wraps log/slog the way the teacher's util/logger does: a
custom Handler that tees formatted lines to a log file and, optionally,
stderr. It also formats the diagnostic dump for a CPU halted by a fatal
error: the register file (SRR0/SRR1/DAR/DSISR included) and a hex dump of
the recent-fetch ring buffer. BAT, segment and SDR1 contents and the
bus's access ring are not part of the dump.
*/
package vmlog

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Handler is a slog.Handler that writes plain "time level message attrs"
// lines to out, optionally also echoing to w2 (stderr-style tee).
type Handler struct {
	out   io.Writer
	w2    io.Writer
	h     slog.Handler
	mu    *sync.Mutex
	debug bool
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, w2: h.w2, h: h.h.WithAttrs(attrs), mu: h.mu, debug: h.debug}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, w2: h.w2, h: h.h.WithGroup(name), mu: h.mu, debug: h.debug}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	strs := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		strs = append(strs, a.String())
		return true
	})
	line := strings.Join(strs, " ") + "\n"
	b := []byte(line)

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(b)
	}
	if h.w2 != nil && (h.debug || r.Level >= slog.LevelWarn) {
		_, err = h.w2.Write(b)
	}
	return err
}

// SetDebug toggles whether every line (not just warnings and above) is
// also echoed to the tee writer.
func (h *Handler) SetDebug(debug bool) {
	h.debug = debug
}

// NewHandler builds a Handler writing to out, also echoing warnings and
// above (or everything, if debug) to tee. tee may be nil to disable the
// echo entirely.
func NewHandler(out, tee io.Writer, opts *slog.HandlerOptions, debug bool) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &Handler{
		out:   out,
		w2:    tee,
		h:     slog.NewTextHandler(out, opts),
		mu:    &sync.Mutex{},
		debug: debug,
	}
}

// CPUState is the subset of internal/cpu.CPU a fatal dump needs; kept as
// an interface here so vmlog has no import-cycle dependency on cpu.
type CPUState interface {
	Num() int
	Snapshot() Registers
	RecentWords() []RecentWord
}

// Registers is a flattened, dump-friendly copy of a CPU's register file.
type Registers struct {
	GPR                [32]uint32
	CR, XER, LR, CTR   uint32
	MSR, IA            uint32
	SRR0, SRR1         uint32
	DAR, DSISR         uint32
}

// RecentWord is one entry of the per-CPU fetch ring buffer.
type RecentWord struct {
	IA   uint32
	Word uint32
}

// FatalDump renders the diagnostic text for a fatal core error and returns
// it without writing it anywhere: the cause, the register file, and a hex
// dump of the CPU's recent fetches as (IA, word) pairs. It holds no BAT,
// segment or SDR1 state and no bus-access records.
func FatalDump(c CPUState, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fatal: cpu%d: %v\n", c.Num(), cause)

	r := c.Snapshot()
	fmt.Fprintf(&b, "IA=%08x MSR=%08x CR=%08x XER=%08x LR=%08x CTR=%08x\n",
		r.IA, r.MSR, r.CR, r.XER, r.LR, r.CTR)
	fmt.Fprintf(&b, "SRR0=%08x SRR1=%08x DAR=%08x DSISR=%08x\n",
		r.SRR0, r.SRR1, r.DAR, r.DSISR)
	for i := 0; i < 32; i += 4 {
		fmt.Fprintf(&b, "r%-2d=%08x r%-2d=%08x r%-2d=%08x r%-2d=%08x\n",
			i, r.GPR[i], i+1, r.GPR[i+1], i+2, r.GPR[i+2], i+3, r.GPR[i+3])
	}

	words := c.RecentWords()
	if len(words) > 0 {
		raw := make([]byte, 0, len(words)*8)
		for _, w := range words {
			raw = append(raw,
				byte(w.IA>>24), byte(w.IA>>16), byte(w.IA>>8), byte(w.IA),
				byte(w.Word>>24), byte(w.Word>>16), byte(w.Word>>8), byte(w.Word))
		}
		b.WriteString("recent fetches (ia:word):\n")
		b.WriteString(hex.Dump(raw))
	}
	return b.String()
}
