package vm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dynacore/ppc32vm/internal/membus"
)

func TestHostNewVMRejectsDuplicateName(t *testing.T) {
	h := NewHost()
	if _, err := h.NewVM("r1"); err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	if _, err := h.NewVM("r1"); err == nil {
		t.Fatal("NewVM with a duplicate name returned nil error")
	}
}

func TestHostVMLookupAndRemove(t *testing.T) {
	h := NewHost()
	v, err := h.NewVM("r1")
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	if h.VM("r1") != v {
		t.Fatal("VM lookup did not return the VM just created")
	}

	h.Remove("r1")
	if h.VM("r1") != nil {
		t.Fatal("VM still resolvable after Remove")
	}
}

func TestAddRAMAndAddROMRejectOverlap(t *testing.T) {
	h := NewHost()
	v, err := h.NewVM("r1")
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}

	if _, err := v.AddRAM("ram", 0, 4*membus.PageSize); err != nil {
		t.Fatalf("AddRAM: %v", err)
	}
	if _, err := v.AddROM("rom", membus.PageSize, membus.PageSize, nil); err == nil {
		t.Fatal("AddROM overlapping an existing RAM region returned nil error")
	}
}

func TestRemoveRegionForgetsIt(t *testing.T) {
	h := NewHost()
	v, _ := h.NewVM("r1")
	r, err := v.AddRAM("ram", 0, membus.PageSize)
	if err != nil {
		t.Fatalf("AddRAM: %v", err)
	}

	v.RemoveRegion(r)

	// The region should no longer answer bus accesses.
	if _, err := v.Bus.Read(0, 4, 0); err == nil {
		t.Fatal("Read from a removed region returned nil error")
	}
}

func TestNewCPURegistersOnVM(t *testing.T) {
	h := NewHost()
	v, _ := h.NewVM("r1")
	c := v.NewCPU(0)
	if c == nil {
		t.Fatal("NewCPU returned nil")
	}
	cpus := v.CPUs()
	if len(cpus) != 1 || cpus[0] != c {
		t.Fatalf("CPUs() = %v, want [%v]", cpus, c)
	}
}

func TestLoadRawDelegatesThroughRealModeIdentityTranslation(t *testing.T) {
	h := NewHost()
	v, _ := h.NewVM("r1")
	if _, err := v.AddRAM("ram", 0, 4*membus.PageSize); err != nil {
		t.Fatalf("AddRAM: %v", err)
	}
	c := v.NewCPU(0) // MSR.DR clear: real-mode identity translation

	path := filepath.Join(t.TempDir(), "raw.bin")
	data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := v.LoadRaw(c, path, 0x500); err != nil {
		t.Fatalf("LoadRaw: %v", err)
	}

	got, err := v.Bus.Read(0x500, 4, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if uint32(got) != 0xAABBCCDD {
		t.Fatalf("loaded word = %#x, want 0xAABBCCDD", got)
	}
}

// TestScheduledTimerTickReachesCPU exercises the wired timing path: a
// tick event enqueued on the VM scheduler (as the timer companion
// goroutine does each wall-clock wake) fires once the CPU has retired
// enough instructions for its cycle observer to advance simulated time,
// landing in the counter the main loop polls.
func TestScheduledTimerTickReachesCPU(t *testing.T) {
	h := NewHost()
	v, _ := h.NewVM("r1")
	if _, err := v.AddRAM("ram", 0, 4*membus.PageSize); err != nil {
		t.Fatalf("AddRAM: %v", err)
	}
	c := v.NewCPU(0)
	c.SetCycleObserver(v.Event.Advance)

	fired := false
	v.Event.Schedule(nil, func(int) { fired = true; c.TimerTick() }, tickLeadCycles, timerTickTag)

	// The all-zero RAM decodes as illegal instructions; each Step still
	// retires one main-loop iteration, which is all the poll cadence
	// counts.
	for i := 0; i < 1000; i++ {
		c.Step()
	}

	if !fired {
		t.Fatal("tick event did not fire within one poll interval of stepping")
	}
}
