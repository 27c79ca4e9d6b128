package cpu

import (
	"time"

	"github.com/dynacore/ppc32vm/internal/mmu"
)

// timerPollInterval is the "every N-th iteration" cadence spec §4.5
// defaults to roughly 1000 instructions.
const timerPollInterval = 1000

// idleWaitTimeout bounds how long an idle-PC sleep can hold the CPU
// thread off the host scheduler (spec §4.5: "sleep... for a bounded
// timeout").
const idleWaitTimeout = 10 * time.Millisecond

// timebaseIncrement approximates "~100 ticks per instruction" (spec
// §4.5) and is also used to step the decrementer down, so that a guest
// observing DEC via the timebase sees consistent arithmetic.
const timebaseIncrement = 100

// Start transitions the CPU to running and begins its main loop on the
// calling goroutine; callers run this in its own goroutine (spec §5: one
// host thread per emulated CPU).
func (c *CPU) Start() {
	c.setState(StateRunning)
	c.runCond.Broadcast()
	c.Run()
}

// Stop halts the CPU; observed at the next main-loop iteration (spec §5
// "Cancellation").
func (c *CPU) Stop() {
	c.setState(StateHalted)
	c.runCond.Broadcast()
}

// Pause/Resume implement the VM-wide save/restart suspension point.
func (c *CPU) Pause() {
	c.setState(StatePaused)
}

func (c *CPU) Resume() {
	c.setState(StateRunning)
	c.runCond.Broadcast()
}

// Run executes Step in a loop until halted. It is exported separately
// from Start so tests can drive a handful of steps without a goroutine.
func (c *CPU) Run() {
	for {
		c.runMu.Lock()
		for c.RunState() == StatePaused {
			c.runCond.Wait()
		}
		c.runMu.Unlock()

		if c.RunState() == StateHalted {
			return
		}
		c.Step()
	}
}

// SetIRQ raises an external interrupt line. Safe from any thread (spec
// §6); takes the VM lock because it mutates CPU state shared with the
// CPU thread's IRQ delivery.
func (c *CPU) SetIRQ() {
	c.vmLock.Lock()
	defer c.vmLock.Unlock()
	c.irqPending.Store(true)
	if c.MSR&MSREE != 0 {
		c.irqCheck.Store(true)
	}
}

// ClearIRQ lowers the external interrupt line.
func (c *CPU) ClearIRQ() {
	c.vmLock.Lock()
	defer c.vmLock.Unlock()
	c.irqPending.Store(false)
}

// recheckIRQ re-arms the IRQ-check flag after the guest re-enables
// MSR.EE (mtmsr, rfi): a pending external or decrementer edge is
// remembered while EE is off and must be delivered once it comes back
// on (spec §4.5: "the edge is remembered, not lost").
func (c *CPU) recheckIRQ() {
	if c.MSR&MSREE != 0 && !c.irqDisable && (c.irqPending.Load() || c.decPending) {
		c.irqCheck.Store(true)
	}
}

// SetIRQDisable masks or unmasks IRQ delivery (spec §4.5: "a mask
// register on the CPU... used during save-state and single-stepping").
// Masking drops the check flag so an in-flight edge is deferred, not
// delivered mid-step; the pending flag is left set, not cleared.
// Unmasking re-arms the check flag if anything is still pending.
func (c *CPU) SetIRQDisable(disable bool) {
	c.irqDisable = disable
	if disable {
		c.irqCheck.Store(false)
	} else {
		c.recheckIRQ()
	}
}

// Stats returns a copy of the CPU's execution counters.
func (c *CPU) Stats() Stats { return c.stats }

// TimerTick is called by the per-CPU timer-IRQ companion goroutine
// (spec §5) at its configured frequency.
func (c *CPU) TimerTick() {
	c.timerTicks.Add(1)
}

// SetCycleObserver registers a callback invoked from the CPU's own
// goroutine at the timer-poll cadence with the simulated cycles retired
// since the last call. The VM uses it to advance its event scheduler, so
// scheduled timer/device callbacks fire on the CPU thread in simulated
// time rather than asynchronously.
func (c *CPU) SetCycleObserver(fn func(cycles int)) {
	c.cycleObserver = fn
}

// SetIdlePC configures the idle-loop address recognized by the idle-PC
// optimization; threshold is the number of consecutive hits before the
// CPU thread yields.
func (c *CPU) SetIdlePC(ia uint32, threshold int) {
	c.idlePC = ia
	c.idlePCSet = true
	if threshold > 0 {
		c.idleThreshold = threshold
	}
}

// AddBreakpoint arms a breakpoint at ia; returns false if the table is
// full (spec §4.5: "up to N break-IAs").
func (c *CPU) AddBreakpoint(ia uint32) bool {
	if c.breakpointLen >= MaxBreakpoints {
		return false
	}
	c.breakpoints[c.breakpointLen] = ia
	c.breakpointLen++
	return true
}

// RemoveBreakpoint disarms a previously-added breakpoint.
func (c *CPU) RemoveBreakpoint(ia uint32) {
	for i := 0; i < c.breakpointLen; i++ {
		if c.breakpoints[i] == ia {
			c.breakpoints[i] = c.breakpoints[c.breakpointLen-1]
			c.breakpointLen--
			return
		}
	}
}

// SetBreakpointObserver registers the callback invoked on a breakpoint
// hit (typically the debugger front-end, spec §4.5).
func (c *CPU) SetBreakpointObserver(fn func(ia uint32)) {
	c.bpObserver = fn
}

// LastFatal reports the bus error (if any) that halted the CPU outside
// the ordinary guest-exception paths (spec §7 kind 4).
func (c *CPU) LastFatal() error { return c.lastFatal }

// Step executes exactly one instruction: IRQ check, idle-PC bookkeeping,
// timer poll, timebase/decrementer advance, then fetch-decode-execute
// (spec §4.5 main loop, one full iteration).
func (c *CPU) Step() stepResult {
	if c.irqCheck.Load() {
		c.irqCheck.Store(false)
		if !c.irqDisable && c.MSR&MSREE != 0 {
			if c.irqPending.Load() {
				c.stats.ExternalIRQs++
				c.injectException(VecExternal, 0)
				return stepBranch
			}
			if c.decPending {
				c.decPending = false
				c.stats.TimerIRQs++
				c.injectException(VecDecrementer, 0)
				return stepBranch
			}
		}
	}

	if c.idlePCSet && c.IA == c.idlePC {
		c.idleHits++
		if c.idleHits >= c.idleThreshold {
			c.idleHits = 0
			select {
			case <-c.idleWake:
			case <-time.After(idleWaitTimeout):
			}
		}
	} else {
		c.idleHits = 0
	}

	c.stats.Instructions++
	if c.stats.Instructions%timerPollInterval == 0 {
		// Advance the VM's simulated-time scheduler first: a tick event
		// falling due here increments the timer counter in time for the
		// poll just below.
		if c.cycleObserver != nil {
			c.cycleObserver(timerPollInterval * timebaseIncrement)
		}
		if t := c.timerTicks.Load(); t > 0 {
			c.timerTicks.Add(-1)
			if t > 1 {
				c.stats.TimerDrift += uint64(t - 1)
			}
			if c.MSR&MSREE != 0 && !c.irqDisable {
				c.decPending = true
				c.irqCheck.Store(true)
			}
		}
	}

	c.TB += timebaseIncrement
	oldDEC := c.DEC
	c.DEC = oldDEC - timebaseIncrement
	if c.DEC > oldDEC {
		// unsigned subtraction wrapped: DEC crossed zero this step.
		c.decPending = true
		if c.MSR&MSREE != 0 {
			c.irqCheck.Store(true)
		}
	}

	return c.fetchDecodeExecute()
}

func (c *CPU) fetchDecodeExecute() stepResult {
	privileged := c.MSR&MSRPR == 0
	translationEnabled := c.MSR&MSRIR != 0

	res, err := c.State.Translate(mmu.AccessFetch, c.IA, privileged, translationEnabled, c.bus)
	if err != nil {
		if f, ok := err.(*mmu.Fault); ok {
			c.injectFault(f)
			return stepBranch
		}
		c.lastFatal = err
		c.setState(StateHalted)
		return stepBranch
	}

	var word uint32
	if res.Host != nil {
		word = beUint32(res.Host[res.PageOffset:])
	} else {
		v, err := c.bus.Read(uint64(res.Phys), 4, uint64(c.IA))
		if err != nil {
			c.lastFatal = err
			c.setState(StateHalted)
			return stepBranch
		}
		word = uint32(v)
	}
	c.recordFetch(c.IA, word)

	if c.breakpointLen > 0 && c.bpObserver != nil {
		for i := 0; i < c.breakpointLen; i++ {
			if c.breakpoints[i] == c.IA {
				c.bpObserver(c.IA)
				break
			}
		}
	}

	def := c.decoder.lookup(word)
	if def == nil {
		c.injectException(VecProgram, 1<<(31-19)) // SRR1 bit19: illegal instruction
		return stepBranch
	}

	result := def.Exec(c, word)
	if result == stepNormal {
		c.IA += 4
	}
	return result
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// clearedOnException is the set of MSR bits that exception entry always
// zeroes (spec §4.5 step 3); MSR.IP/ME/POW/ILE are left untouched.
const clearedOnException = MSREE | MSRPR | MSRFP | MSRFE0 | MSRSE | MSRBE | MSRFE1 | MSRIR | MSRDR | MSRRI

// injectException performs the five-step sequence of spec §4.5. srr1Extra
// is ORed into the saved MSR to form SRR1 (e.g. a trap's bit 17, or a
// translation fault's DSISR-shaped bits for instruction accesses, which
// have no separate DSISR register of their own).
func (c *CPU) injectException(vectorOffset uint32, srr1Extra uint32) {
	c.injectExceptionAt(vectorOffset, srr1Extra, c.IA)
}

func (c *CPU) injectExceptionAt(vectorOffset uint32, srr1Extra uint32, srr0 uint32) {
	savedMSR := c.MSR
	c.SRR0 = srr0
	c.SRR1 = savedMSR | srr1Extra
	c.MSR = savedMSR &^ clearedOnException
	c.irqCheck.Store(false)

	base := uint32(0)
	if c.MSR&MSRIP != 0 {
		base = 0xFFF00000
	}
	c.IA = base + vectorOffset
	c.reservationValid = false
}

// injectFault translates an *mmu.Fault into the correct vector and
// register set: data accesses populate DAR/DSISR, instruction accesses
// fold the same bits into SRR1 since there is no separate DSISR for a
// fetch.
func (c *CPU) injectFault(f *mmu.Fault) {
	if f.Kind == mmu.FaultInstructionAccess {
		c.injectException(VecInstrAccess, f.DSISR)
		return
	}
	c.DAR = f.EA
	c.DSISR = f.DSISR
	c.injectException(VecDataAccess, 0)
}

// Syscall injects the syscall exception with return address IA+4 (spec
// §4.5: "for syscall, save IA + 4").
func (c *CPU) syscall() {
	c.injectExceptionAt(VecSyscall, 0, c.IA+4)
}
