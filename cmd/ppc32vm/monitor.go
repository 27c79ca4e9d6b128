/*
ppc32vm command line entry point - monitor console

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
package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/dynacore/ppc32vm/internal/cpu"
	"github.com/dynacore/ppc32vm/internal/disasm"
	"github.com/dynacore/ppc32vm/internal/vm"
)

var monitorCommands = []string{"break", "unbreak", "regs", "step", "continue", "mem", "stats", "quit", "help"}

// runMonitor drives the liner-backed REPL over the running VM, the same
// shape as the teacher's ConsoleReader loop but with a fixed command set
// (break/regs/step/continue/mem) instead of a pluggable command parser.
func runMonitor(machine *vm.VM, c *cpu.CPU) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(partial string) []string {
		var out []string
		for _, cmd := range monitorCommands {
			if strings.HasPrefix(cmd, partial) {
				out = append(out, cmd)
			}
		}
		return out
	})

	c.SetBreakpointObserver(func(ia uint32) {
		c.Pause()
		fmt.Printf("breakpoint hit at %#08x\n", ia)
	})

	// The CPU is already free-running from StartCPU; pause it here so
	// step/regs/mem read a quiescent register file until the user types
	// continue.
	c.Pause()

	for {
		input, err := line.Prompt("ppc32vm> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return
			}
			fmt.Println("error reading line:", err)
			return
		}
		line.AppendHistory(input)

		if quit := runMonitorCommand(machine, c, input); quit {
			return
		}
	}
}

// runMonitorCommand executes one command line, returning true when the
// user asked to quit.
func runMonitorCommand(machine *vm.VM, c *cpu.CPU, input string) bool {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true

	case "help":
		fmt.Println("commands: break <addr>, unbreak <addr>, regs, step, continue, mem <addr> [count], stats, quit")

	case "break":
		if len(fields) != 2 {
			fmt.Println("usage: break <addr>")
			return false
		}
		addr, err := parseHex(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		if !c.AddBreakpoint(addr) {
			fmt.Println("breakpoint table full")
		}

	case "unbreak":
		if len(fields) != 2 {
			fmt.Println("usage: unbreak <addr>")
			return false
		}
		addr, err := parseHex(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		c.RemoveBreakpoint(addr)

	case "regs":
		printRegs(c)

	case "step":
		ia := c.IA
		word, ok := fetchWord(machine, ia)
		c.SetIRQDisable(true) // no async delivery mid-step
		c.Step()
		c.SetIRQDisable(false)
		if ok {
			fmt.Printf("%#08x: %s\n", ia, disasm.Format(word))
		} else {
			fmt.Printf("%#08x:\n", ia)
		}

	case "continue":
		c.Resume()

	case "stats":
		s := c.Stats()
		fmt.Printf("instructions=%d external_irqs=%d timer_irqs=%d timer_drift=%d device_accesses=%d\n",
			s.Instructions, s.ExternalIRQs, s.TimerIRQs, s.TimerDrift, s.DeviceAccesses)

	case "mem":
		if len(fields) < 2 {
			fmt.Println("usage: mem <addr> [count]")
			return false
		}
		addr, err := parseHex(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		count := 1
		if len(fields) == 3 {
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Println("error:", err)
				return false
			}
			count = n
		}
		printMem(machine, addr, count)

	default:
		fmt.Printf("unknown command %q (try help)\n", fields[0])
	}
	return false
}

func parseHex(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return uint32(n), nil
}

func fetchWord(machine *vm.VM, ia uint32) (uint32, bool) {
	v, err := machine.Bus.Read(uint64(ia), 4, uint64(ia))
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func printRegs(c *cpu.CPU) {
	snap := c.Snapshot()
	fmt.Printf("IA=%08x MSR=%08x CR=%08x XER=%08x LR=%08x CTR=%08x\n",
		snap.IA, snap.MSR, snap.CR, snap.XER, snap.LR, snap.CTR)
	for i := 0; i < 32; i += 4 {
		fmt.Printf("r%-2d=%08x r%-2d=%08x r%-2d=%08x r%-2d=%08x\n",
			i, snap.GPR[i], i+1, snap.GPR[i+1], i+2, snap.GPR[i+2], i+3, snap.GPR[i+3])
	}
}

func printMem(machine *vm.VM, addr uint32, count int) {
	for i := 0; i < count; i++ {
		v, err := machine.Bus.Read(uint64(addr), 4, 0)
		if err != nil {
			fmt.Printf("%#08x: fault: %v\n", addr, err)
			return
		}
		fmt.Printf("%#08x: %08x\n", addr, v)
		addr += 4
	}
}
