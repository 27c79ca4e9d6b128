/*
ppc32vm configuration knobs

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

Package vmconfig holds the boot-time knob set spec §6 lists for the
external façade: RAM/NVRAM/ROM sizing, the idle-PC optimization, timer
frequency, the config register, and image paths. ParseFile reads a
"name value" line-oriented file in the same tokenizer style as the
teacher's config/configparser package, trimmed down to this project's
fixed knob set rather than a registry of pluggable device models.
*/
package vmconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Options is the full set of knobs spec §6 names for constructing and
// booting one VM.
type Options struct {
	RAMSizeMB    int    // RAM size in megabytes
	NVRAMSizeKB  int    // NVRAM size in kilobytes
	ROMSizeMB    int    // ROM size in megabytes
	IdlePC       uint32 // idle-loop program counter, 0 disables the optimization
	TimerHz      int    // timer-IRQ frequency; 0 defaults to 250
	ConfigReg    uint32 // config register value exposed to guest firmware
	BootImage    string // path to the ELF or raw boot image
	OverrideROM  string // optional path to a ROM image overriding the built-in one
	DeviceSlots  []DeviceSlot
}

// DeviceSlot binds one NM/PA-style slot to a driver name and its NIO
// (network I/O) backend, per spec §6's per-slot binding list.
type DeviceSlot struct {
	Slot   string // slot identifier, e.g. "slot0/0"
	Driver string // NM/PA type name
	NIO    string // NIO binding (tap device, UDP endpoint, null, ...)
}

// Default returns the knob set's documented defaults.
func Default() Options {
	return Options{
		RAMSizeMB:   64,
		NVRAMSizeKB: 224,
		ROMSizeMB:   2,
		TimerHz:     250,
	}
}

// knownKeys maps a lowercase option name to the setter that applies its
// string value, mirroring the teacher's per-model registration table but
// with a fixed set of keys instead of a pluggable registry.
var knownKeys = map[string]func(*Options, string) error{
	"ram": func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		o.RAMSizeMB = n
		return err
	},
	"nvram": func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		o.NVRAMSizeKB = n
		return err
	},
	"rom": func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		o.ROMSizeMB = n
		return err
	},
	"idlepc": func(o *Options, v string) error {
		n, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 32)
		o.IdlePC = uint32(n)
		return err
	},
	"timerhz": func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		o.TimerHz = n
		return err
	},
	"config": func(o *Options, v string) error {
		n, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 32)
		o.ConfigReg = uint32(n)
		return err
	},
	"image": func(o *Options, v string) error {
		o.BootImage = v
		return nil
	},
	"rompath": func(o *Options, v string) error {
		o.OverrideROM = v
		return nil
	},
}

// ParseFile loads "name value" pairs from a configuration file, one per
// line, '#' starting a comment to end of line, in the same spirit as the
// teacher's LoadConfigFile line loop. A "slot" line instead takes three
// fields: slot id, driver name, NIO binding.
func ParseFile(path string) (Options, error) {
	opt := Default()

	f, err := os.Open(path)
	if err != nil {
		return opt, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	lineNum := 0
	for {
		raw, err := reader.ReadString('\n')
		lineNum++
		if len(raw) == 0 && err != nil {
			if err == io.EOF {
				break
			}
			return opt, err
		}
		if e := parseLine(&opt, raw, lineNum); e != nil {
			return opt, e
		}
		if err == io.EOF {
			break
		}
	}
	return opt, nil
}

func parseLine(opt *Options, raw string, lineNum int) error {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	key := strings.ToLower(fields[0])
	if key == "slot" {
		if len(fields) != 4 {
			return fmt.Errorf("vmconfig: line %d: slot requires id, driver, nio", lineNum)
		}
		opt.DeviceSlots = append(opt.DeviceSlots, DeviceSlot{Slot: fields[1], Driver: fields[2], NIO: fields[3]})
		return nil
	}

	setter, ok := knownKeys[key]
	if !ok {
		return fmt.Errorf("vmconfig: line %d: unknown option %q", lineNum, fields[0])
	}
	if len(fields) != 2 {
		return fmt.Errorf("vmconfig: line %d: %s requires exactly one value", lineNum, fields[0])
	}
	if err := setter(opt, fields[1]); err != nil {
		return fmt.Errorf("vmconfig: line %d: %s: %w", lineNum, fields[0], err)
	}
	return nil
}
