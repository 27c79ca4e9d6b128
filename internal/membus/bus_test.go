package membus

import (
	"testing"

	"github.com/dynacore/ppc32vm/internal/device"
)

func mustRAM(t *testing.T, name string, base, length uint64) *Region {
	t.Helper()
	r, err := NewRAM(name, base, length)
	if err != nil {
		t.Fatalf("NewRAM(%s): %v", name, err)
	}
	return r
}

func TestBusReadWriteRoundTrip(t *testing.T) {
	b := New()
	if err := b.AddRegion(mustRAM(t, "ram", 0, PageSize)); err != nil {
		t.Fatal(err)
	}

	sizes := []int{1, 2, 4, 8}
	for _, size := range sizes {
		var value uint64 = 0x1122334455667788
		mask := uint64(1)<<(uint(size)*8) - 1
		if size == 8 {
			mask = ^uint64(0)
		}
		want := value & mask
		if err := b.Write(0x10, size, want, 0); err != nil {
			t.Fatalf("Write size %d: %v", size, err)
		}
		got, err := b.Read(0x10, size, 0)
		if err != nil {
			t.Fatalf("Read size %d: %v", size, err)
		}
		if got != want {
			t.Errorf("size %d: got %#x want %#x", size, got, want)
		}
	}
}

func TestBusRegionOverlapRejected(t *testing.T) {
	b := New()
	if err := b.AddRegion(mustRAM(t, "a", 0, PageSize)); err != nil {
		t.Fatal(err)
	}
	err := b.AddRegion(mustRAM(t, "b", PageSize/2, PageSize))
	if err == nil {
		t.Fatal("expected overlap error, got nil")
	}
}

func TestBusUnmappedFault(t *testing.T) {
	b := New()
	_, err := b.Read(0xdead0000, 4, 0)
	if err == nil {
		t.Fatal("expected fault for unmapped address")
	}
	var f *Fault
	if _, ok := err.(*Fault); !ok {
		t.Fatalf("expected *Fault, got %T", err)
	}
	_ = f
}

type testDevice struct {
	name string
	regs [16]uint32
}

func (d *testDevice) Name() string { return d.name }

func (d *testDevice) Handle(a *device.Access) error {
	idx := a.Offset / 4
	if idx >= uint64(len(d.regs)) {
		return nil // unrecognized offset: leave Data zero on read, ignore on write
	}
	if a.Op == device.OpRead {
		a.Data = uint64(d.regs[idx])
	} else if a.Size == 1 {
		// A byte write lands in its big-endian lane of the register, so a
		// byte-by-byte DMA copy reassembles the full word.
		shift := (3 - a.Offset%4) * 8
		d.regs[idx] = d.regs[idx]&^(0xFF<<shift) | uint32(a.Data&0xFF)<<shift
	} else {
		d.regs[idx] = uint32(a.Data)
	}
	return nil
}

func (d *testDevice) Shutdown() {}

func TestBusDeviceDispatch(t *testing.T) {
	b := New()
	dev := &testDevice{name: "uart"}
	id, err := b.AddDevice(dev, 0x1000_0000, 0x1000, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Write(0x1000_0004, 4, 0xcafebabe, 0); err != nil {
		t.Fatal(err)
	}
	if dev.regs[1] != 0xcafebabe {
		t.Fatalf("device register not updated: %#x", dev.regs[1])
	}
	got, err := b.Read(0x1000_0004, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xcafebabe {
		t.Fatalf("got %#x want 0xcafebabe", got)
	}

	b.RemoveDevice(id)
	if _, err := b.Read(0x1000_0004, 4, 0); err == nil {
		t.Fatal("expected fault after device removal")
	}
}

func TestBusDeviceOverlapRejected(t *testing.T) {
	b := New()
	if err := b.AddRegion(mustRAM(t, "ram", 0, PageSize)); err != nil {
		t.Fatal(err)
	}
	_, err := b.AddDevice(&testDevice{name: "d"}, 0, 0x10, nil)
	if err == nil {
		t.Fatal("expected overlap error registering device over a region")
	}
}

func TestBusStraddlingBoundaryLoad(t *testing.T) {
	b := New()
	r1 := mustRAM(t, "low", 0, PageSize)
	r2 := mustRAM(t, "high", PageSize, PageSize)
	if err := b.AddRegion(r1); err != nil {
		t.Fatal(err)
	}
	if err := b.AddRegion(r2); err != nil {
		t.Fatal(err)
	}

	// Write 0xAABBCCDD straddling the page boundary at PageSize-2.
	addr := uint64(PageSize - 2)
	if err := b.Write(addr, 4, 0xAABBCCDD, 0); err != nil {
		t.Fatal(err)
	}
	got, err := b.Read(addr, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xAABBCCDD {
		t.Fatalf("got %#x want 0xAABBCCDD", got)
	}
}

func TestBusCopyDMA(t *testing.T) {
	b := New()
	if err := b.AddRegion(mustRAM(t, "ram", 0, PageSize)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		if err := b.Write(uint64(i), 1, uint64(0xA0+i), 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Copy(0x100, 0, 16); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		got, err := b.Read(uint64(0x100+i), 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got != uint64(0xA0+i) {
			t.Fatalf("byte %d: got %#x want %#x", i, got, 0xA0+i)
		}
	}
}

func TestBusCopyThroughDevice(t *testing.T) {
	b := New()
	if err := b.AddRegion(mustRAM(t, "ram", 0, PageSize)); err != nil {
		t.Fatal(err)
	}
	dev := &testDevice{name: "dma-target"}
	if _, err := b.AddDevice(dev, 0x2000, 0x100, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(0, 4, 0x01020304, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.Copy(0x2000, 0, 4); err != nil {
		t.Fatal(err)
	}
	if dev.regs[0] != 0x01020304 {
		t.Fatalf("device did not receive DMA'd bytes: %#x", dev.regs[0])
	}
}

func TestBusRecentAccesses(t *testing.T) {
	b := New()
	if err := b.AddRegion(mustRAM(t, "ram", 0, PageSize)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < ringSize+4; i++ {
		_ = b.Write(uint64(i), 1, 1, 0x42)
	}
	recs := b.RecentAccesses()
	if len(recs) != ringSize {
		t.Fatalf("got %d records, want %d", len(recs), ringSize)
	}
	last := recs[len(recs)-1]
	if last.Context != 0x42 || !last.Write {
		t.Fatalf("unexpected last record: %+v", last)
	}
}

type orderedDevice struct {
	name  string
	order *[]string
}

func (d *orderedDevice) Name() string                  { return d.name }
func (d *orderedDevice) Handle(a *device.Access) error { return nil }
func (d *orderedDevice) Shutdown()                     { *d.order = append(*d.order, d.name) }

func TestShutdownDevicesReverseOrder(t *testing.T) {
	b := New()
	var order []string
	for i, name := range []string{"first", "second", "third"} {
		d := &orderedDevice{name: name, order: &order}
		if _, err := b.AddDevice(d, uint64(i)*0x1000, 0x100, nil); err != nil {
			t.Fatalf("AddDevice(%s): %v", name, err)
		}
	}

	b.ShutdownDevices()

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("shutdown order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("shutdown order = %v, want %v", order, want)
		}
	}

	// The bus must no longer dispatch to any of them.
	if _, err := b.Read(0, 1, 0); err == nil {
		t.Fatal("expected fault after ShutdownDevices")
	}
}
