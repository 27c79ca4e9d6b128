/*
ppc32vm VM host - event/timer scheduler

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
	"sync"

	"github.com/dynacore/ppc32vm/internal/device"
)

// Callback is invoked when a scheduled event fires, with the same
// caller-supplied integer tag the event was registered with.
type Callback func(iarg int)

type scheduledEvent struct {
	delta int // cycles until this event, relative to its predecessor
	dev   device.Device
	cb    Callback
	iarg  int
	prev  *scheduledEvent
	next  *scheduledEvent
}

// Scheduler is an ordered delta list of pending callbacks in simulated
// time (cycles), used by the VM for the timer-IRQ tick and any
// device-level timed callback (e.g. a UART's next-byte-ready event). One
// Scheduler is owned per VM; the CPU thread advances it as instructions
// retire, while the timer companion goroutine (and device I/O threads)
// may Schedule/Cancel concurrently, so the list carries its own lock.
type Scheduler struct {
	mu   sync.Mutex
	head *scheduledEvent
	tail *scheduledEvent
}

// Schedule registers cb to fire after the given number of cycles (0 fires
// immediately, inline, on the calling goroutine). dev/iarg identify the
// event for a later Cancel.
func (s *Scheduler) Schedule(dev device.Device, cb Callback, cycles int, iarg int) {
	if cycles <= 0 {
		cb(iarg)
		return
	}

	ev := &scheduledEvent{dev: dev, cb: cb, delta: cycles, iarg: iarg}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.head
	if cur == nil {
		s.head = ev
		s.tail = ev
		return
	}

	for cur != nil {
		if ev.delta <= cur.delta {
			cur.delta -= ev.delta
			ev.prev = cur.prev
			ev.next = cur
			cur.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				s.head = ev
			}
			return
		}
		ev.delta -= cur.delta
		cur = cur.next
	}

	ev.prev = s.tail
	s.tail.next = ev
	s.tail = ev
}

// Cancel removes the first pending event matching dev/iarg, folding its
// remaining delta into its successor so the list's total remains correct.
// It reports whether an event was found, so a caller draining every
// matching event can loop until false.
func (s *Scheduler) Cancel(dev device.Device, iarg int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cur := s.head; cur != nil; cur = cur.next {
		if cur.dev != dev || cur.iarg != iarg {
			continue
		}
		if cur.next != nil {
			cur.next.delta += cur.delta
			cur.next.prev = cur.prev
		} else {
			s.tail = cur.prev
		}
		if cur.prev != nil {
			cur.prev.next = cur.next
		} else {
			s.head = cur.next
		}
		return true
	}
	return false
}

// Advance moves the clock forward by cycles, firing every event that
// falls due (spec §5's companion-tick model, delivered on the CPU
// thread's simulated time). A fired event's overshoot (its delta is <= 0
// at fire time) is carried into its successor, so one large Advance
// spanning several due events fires all of them. Due events are unlinked
// under the lock and their callbacks run after it is released, since a
// callback may re-enter Schedule.
func (s *Scheduler) Advance(cycles int) {
	var due []*scheduledEvent
	s.mu.Lock()
	if s.head != nil {
		s.head.delta -= cycles
		for s.head != nil && s.head.delta <= 0 {
			ev := s.head
			s.head = ev.next
			if s.head != nil {
				s.head.prev = nil
				s.head.delta += ev.delta
			} else {
				s.tail = nil
			}
			due = append(due, ev)
		}
	}
	s.mu.Unlock()
	for _, ev := range due {
		ev.cb(ev.iarg)
	}
}
