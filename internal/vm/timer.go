/*
ppc32vm VM host - per-CPU timer-IRQ companion goroutine

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

package vm

import (
	"time"

	"github.com/dynacore/ppc32vm/internal/cpu"
)

// timerTickTag identifies the companion goroutine's tick events on the
// VM scheduler, for teardown Cancel.
const timerTickTag = 1

// tickLeadCycles is the simulated-time delay of an enqueued tick event:
// one cycle, so it falls due at the CPU's very next scheduler advance.
const tickLeadCycles = 1

// runTimerTicks sleeps at 1/hz intervals until stop is closed (spec §5:
// "A companion thread per CPU generates timer-IRQ ticks by sleeping on a
// condition variable whose timeout is derived from a configured timer
// frequency"). Each wall-clock wake enqueues a tick event on the VM's
// scheduler; the event fires on the CPU thread when it next advances
// simulated time, bumping the shared counter the main loop polls.
func runTimerTicks(c *cpu.CPU, sched *Scheduler, hz int, stop <-chan struct{}) {
	period := time.Second / time.Duration(hz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sched.Schedule(nil, func(int) { c.TimerTick() }, tickLeadCycles, timerTickTag)
		}
	}
}
