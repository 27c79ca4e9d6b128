/*
ppc32vm command line entry point

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
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	getopt "github.com/pborman/getopt/v2"

	"github.com/dynacore/ppc32vm/internal/vm"
	"github.com/dynacore/ppc32vm/internal/vmconfig"
	"github.com/dynacore/ppc32vm/internal/vmlog"
)

var logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optImage := getopt.StringLong("image", 'i', "", "Boot image (ELF or raw)")
	optRaw := getopt.BoolLong("raw", 0, "Treat image as a raw binary rather than ELF")
	optLoadAddr := getopt.StringLong("addr", 0, "0", "Load address for a raw image (hex)")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ppc32vm: ", err)
			os.Exit(1)
		}
	}
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	logger = slog.New(vmlog.NewHandler(file, os.Stderr, &slog.HandlerOptions{Level: level}, false))
	slog.SetDefault(logger)

	opts := vmconfig.Default()
	if *optConfig != "" {
		var err error
		opts, err = vmconfig.ParseFile(*optConfig)
		if err != nil {
			logger.Error("loading configuration", "error", err)
			os.Exit(1)
		}
	}
	if *optImage != "" {
		opts.BootImage = *optImage
	}

	host := vm.NewHost()
	machine, err := host.NewVM("router0")
	if err != nil {
		logger.Error("creating vm", "error", err)
		os.Exit(1)
	}

	ramBytes := uint64(opts.RAMSizeMB) * 1024 * 1024
	if _, err := machine.AddRAM("ram0", 0, ramBytes); err != nil {
		logger.Error("adding ram", "error", err)
		os.Exit(1)
	}

	c := machine.NewCPU(0)
	if opts.IdlePC != 0 {
		c.SetIdlePC(opts.IdlePC, 64)
	}

	var entry uint32
	if opts.BootImage != "" {
		if *optRaw {
			addr, perr := strconv.ParseUint(strings.TrimPrefix(*optLoadAddr, "0x"), 16, 32)
			if perr != nil {
				logger.Error("parsing --addr", "error", perr)
				os.Exit(1)
			}
			entry = uint32(addr)
			err = machine.LoadRaw(c, opts.BootImage, entry)
		} else {
			entry, err = machine.LoadELF(c, opts.BootImage)
		}
		if err != nil {
			logger.Error("loading boot image", "error", err)
			os.Exit(1)
		}
		c.IA = entry
	}

	logger.Info("ppc32vm started", "ram_mb", opts.RAMSizeMB, "entry", fmt.Sprintf("%#x", entry))

	machine.StartCPU(c, opts.TimerHz)
	runMonitor(machine, c)

	machine.StopAll()
	if cause := c.LastFatal(); cause != nil {
		fmt.Print(vmlog.FatalDump(c, cause))
	}
}
