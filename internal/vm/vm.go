/*
ppc32vm VM host - per-machine state and the external façade

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

Package vm is the layer above internal/cpu/internal/membus/internal/mmu
that spec §6 calls "the core's external façade": named VMs, each owning a
bus, a set of CPUs, a device registry, and the single VM lock that every
cross-thread mutator (device handlers, IRQ lines) must hold per §5.
*/
package vm

import (
	"fmt"
	"sync"

	"github.com/dynacore/ppc32vm/internal/cpu"
	"github.com/dynacore/ppc32vm/internal/device"
	"github.com/dynacore/ppc32vm/internal/elfload"
	"github.com/dynacore/ppc32vm/internal/membus"
	"github.com/dynacore/ppc32vm/internal/mmu"
)

// Host owns a set of named VMs (spec §9's registry redesign note: an
// explicit map rather than the teacher's package-level singleton).
type Host struct {
	mu  sync.Mutex
	vms map[string]*VM
}

// NewHost creates an empty Host.
func NewHost() *Host {
	return &Host{vms: make(map[string]*VM)}
}

// NewVM creates an empty, named VM (spec §6 vm_new). A duplicate name is
// a configuration error (spec §7 kind 1).
func (h *Host) NewVM(name string) (*VM, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.vms[name]; exists {
		return nil, fmt.Errorf("vm: a VM named %q already exists", name)
	}
	v := &VM{
		Name:  name,
		Bus:   membus.New(),
		Event: &Scheduler{},
	}
	h.vms[name] = v
	return v, nil
}

// VM returns the named VM, or nil if none exists.
func (h *Host) VM(name string) *VM {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vms[name]
}

// Remove tears down and forgets the named VM.
func (h *Host) Remove(name string) {
	h.mu.Lock()
	v := h.vms[name]
	delete(h.vms, name)
	h.mu.Unlock()
	if v != nil {
		v.StopAll()
	}
}

// VM is one emulated machine: a bus, its CPUs, and the VM lock guarding
// cross-thread mutation of CPU/device state (spec §5).
type VM struct {
	Name string
	Bus  *membus.Bus

	// lock is "the VM lock" of spec §5: device handlers and any
	// cross-thread IRQ/state mutator must hold it; the CPU thread itself
	// never holds it across instruction execution.
	lock sync.Mutex

	Event *Scheduler

	cpusMu sync.Mutex
	cpus   []*cpu.CPU

	regionsMu sync.Mutex
	regions   []*membus.Region

	timerStops []chan struct{}
	clockWired bool
}

// Lock/Unlock expose the VM lock to device implementations that need to
// synchronize with the owning VM's other threads (spec §5 "both paths
// take the VM lock").
func (v *VM) Lock()   { v.lock.Lock() }
func (v *VM) Unlock() { v.lock.Unlock() }

// AddRAM installs a heap-backed, writable region (spec §6 vm_add_ram).
func (v *VM) AddRAM(name string, base, length uint64) (*membus.Region, error) {
	r, err := membus.NewRAM(name, base, length)
	if err != nil {
		return nil, err
	}
	if err := v.Bus.AddRegion(r); err != nil {
		return nil, err
	}
	v.regionsMu.Lock()
	v.regions = append(v.regions, r)
	v.regionsMu.Unlock()
	return r, nil
}

// AddROM installs a read-only region pre-loaded with data (spec §6
// vm_add_rom).
func (v *VM) AddROM(name string, base, length uint64, data []byte) (*membus.Region, error) {
	r, err := membus.NewROM(name, base, length, data)
	if err != nil {
		return nil, err
	}
	if err := v.Bus.AddRegion(r); err != nil {
		return nil, err
	}
	v.regionsMu.Lock()
	v.regions = append(v.regions, r)
	v.regionsMu.Unlock()
	return r, nil
}

// AddNVRAM installs a writable region intended to hold the tagged
// configuration blob internal/nvram reads and writes (spec §6
// vm_add_nvram); it is otherwise an ordinary RAM region.
func (v *VM) AddNVRAM(name string, base, length uint64) (*membus.Region, error) {
	return v.AddRAM(name, base, length)
}

// RemoveRegion unregisters a region and invalidates any cached VTLB entry
// that referenced it, across every CPU (spec §3 relationship).
func (v *VM) RemoveRegion(r *membus.Region) {
	v.Bus.RemoveRegion(r)
	v.regionsMu.Lock()
	for i, existing := range v.regions {
		if existing == r {
			v.regions = append(v.regions[:i], v.regions[i+1:]...)
			break
		}
	}
	v.regionsMu.Unlock()

	v.cpusMu.Lock()
	for _, c := range v.cpus {
		c.InvalidateRegion(r)
	}
	v.cpusMu.Unlock()
}

// AddDevice registers a device over an MMIO range (spec §6
// vm_add_device).
func (v *VM) AddDevice(dev device.Device, base, length uint64, fallback *membus.Region) (int, error) {
	return v.Bus.AddDevice(dev, base, length, fallback)
}

// RemoveDevice unregisters a device (spec §6 vm_remove_device).
func (v *VM) RemoveDevice(id int) {
	v.Bus.RemoveDevice(id)
}

// NewCPU creates and registers a PowerPC-32 core on this VM (spec §6
// cpu_new; MIPS64 is an explicit non-goal, so arch is not parameterized
// here).
func (v *VM) NewCPU(id int) *cpu.CPU {
	c := cpu.New(id, v.Bus, &v.lock)
	v.cpusMu.Lock()
	v.cpus = append(v.cpus, c)
	v.cpusMu.Unlock()
	return c
}

// CPUs returns every CPU registered on this VM.
func (v *VM) CPUs() []*cpu.CPU {
	v.cpusMu.Lock()
	defer v.cpusMu.Unlock()
	out := make([]*cpu.CPU, len(v.cpus))
	copy(out, v.cpus)
	return out
}

// StartCPU launches c's main loop on a new goroutine, plus a companion
// timer-IRQ goroutine ticking at hz (spec §5: "a companion thread per
// CPU generates timer-IRQ ticks... default 250 Hz"). The companion's
// ticks travel through the VM's event scheduler, which the first-started
// CPU advances as it retires instructions — simulated time follows the
// boot CPU.
func (v *VM) StartCPU(c *cpu.CPU, hz int) {
	if hz <= 0 {
		hz = 250
	}
	stop := make(chan struct{})
	v.cpusMu.Lock()
	v.timerStops = append(v.timerStops, stop)
	wireClock := !v.clockWired
	v.clockWired = true
	v.cpusMu.Unlock()

	if wireClock {
		c.SetCycleObserver(v.Event.Advance)
	}
	go runTimerTicks(c, v.Event, hz, stop)
	go c.Start()
}

// StopAll halts every CPU on the VM and shuts its devices down in
// reverse registration order (used when the VM itself is torn down).
func (v *VM) StopAll() {
	v.cpusMu.Lock()
	for _, c := range v.cpus {
		c.Stop()
	}
	for _, stop := range v.timerStops {
		close(stop)
	}
	v.timerStops = nil
	v.cpusMu.Unlock()

	for v.Event.Cancel(nil, timerTickTag) {
	}
	v.Bus.ShutdownDevices()
}

// SetBAT installs a BAT register pair (spec §6 cpu_set_bat).
func SetBAT(c *cpu.CPU, side mmu.Side, index int, upper, lower uint32) {
	c.SetBAT(side, index, upper, lower)
}

// SetSDR1 installs the page-table base/mask register (spec §6
// cpu_set_sdr1).
func SetSDR1(c *cpu.CPU, value uint32) {
	c.SetSDR1(value)
}

// MapPage installs a pinned bootstrap translation (spec §6 cpu_map_page).
func MapPage(c *cpu.CPU, bus *membus.Bus, vsid uint32, vaddr, paddr uint32, wimg uint8, pp mmu.Protection) {
	c.State.MapPage(vsid, vaddr, paddr, wimg, pp, bus)
}

// LoadELF loads an ELF32 image into the VM's bus through c's already
// installed translation (spec §6 cpu_load_elf).
func (v *VM) LoadELF(c *cpu.CPU, path string) (uint32, error) {
	return elfload.Load(v.Bus, c, path)
}

// LoadRaw copies a raw binary image to vaddr (spec §6 cpu_load_raw).
func (v *VM) LoadRaw(c *cpu.CPU, path string, vaddr uint32) error {
	return elfload.LoadRaw(v.Bus, c, path, vaddr)
}
