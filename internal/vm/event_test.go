package vm

import "testing"

func TestScheduleFiresImmediatelyOnZeroCycles(t *testing.T) {
	s := &Scheduler{}
	fired := false
	s.Schedule(nil, func(iarg int) { fired = true }, 0, 1)
	if !fired {
		t.Fatal("Schedule with cycles=0 did not fire inline")
	}
}

func TestAdvanceFiresEventsInOrder(t *testing.T) {
	s := &Scheduler{}
	var order []int
	s.Schedule(nil, func(iarg int) { order = append(order, iarg) }, 10, 1)
	s.Schedule(nil, func(iarg int) { order = append(order, iarg) }, 5, 2)
	s.Schedule(nil, func(iarg int) { order = append(order, iarg) }, 20, 3)

	s.Advance(5)
	if len(order) != 1 || order[0] != 2 {
		t.Fatalf("after Advance(5), order = %v, want [2]", order)
	}

	s.Advance(5)
	if len(order) != 2 || order[1] != 1 {
		t.Fatalf("after Advance(5) more, order = %v, want [2 1]", order)
	}

	s.Advance(10)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("after Advance(10) more, order = %v, want [2 1 3]", order)
	}
}

func TestCancelRemovesPendingEventAndFoldsDelta(t *testing.T) {
	s := &Scheduler{}
	var fired []int
	s.Schedule(nil, func(iarg int) { fired = append(fired, iarg) }, 5, 1)
	s.Schedule(nil, func(iarg int) { fired = append(fired, iarg) }, 5, 2)

	if !s.Cancel(nil, 1) {
		t.Fatal("Cancel did not find the pending event")
	}
	s.Advance(10)

	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("fired = %v, want only event 2 (event 1 was canceled)", fired)
	}
}

func TestCancelUnknownEventIsNoop(t *testing.T) {
	s := &Scheduler{}
	fired := false
	s.Schedule(nil, func(iarg int) { fired = true }, 5, 1)

	if s.Cancel(nil, 99) { // no matching event
		t.Fatal("Cancel reported removing an event that was never scheduled")
	}
	s.Advance(5)

	if !fired {
		t.Fatal("Cancel of an unrelated event suppressed the real one")
	}
}

// TestAdvanceCarriesOvershootAcrossDueEvents checks that one Advance
// spanning several due events fires all of them: the fired head's
// negative remainder must be folded into its successor's delta.
func TestAdvanceCarriesOvershootAcrossDueEvents(t *testing.T) {
	s := &Scheduler{}
	var fired []int
	s.Schedule(nil, func(iarg int) { fired = append(fired, iarg) }, 5, 1)
	s.Schedule(nil, func(iarg int) { fired = append(fired, iarg) }, 8, 2)

	s.Advance(10) // due at 5 and 8, both inside the span

	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("fired = %v, want [1 2]", fired)
	}
}
