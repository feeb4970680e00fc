// elsig: a high-performance tool for mapping raw nanopore signals.
// Copyright (c) 2024 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elsig/blob/master/LICENSE.txt>.

package cmd

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/exascience/elsig/index"
	"github.com/exascience/elsig/internal"
	"github.com/exascience/elsig/mapping"
	"github.com/exascience/elsig/signal"
	"github.com/exascience/elsig/sketch"
)

// IndexHelp is the help string for this command.
const IndexHelp = "\nIndex parameters:\n" +
	"elsig index signal-file-or-directory index-file\n" +
	"[--seed-span nr]\n" +
	"[--quant-bits nr]\n" +
	"[--window nr]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

const defaultSeedSpan = 6

// Index implements the elsig index command.
func Index() error {
	defaults := mapping.DefaultOptions()
	var (
		seedSpan, quantBits, window, threads int
		timed                                bool
		profile, logPath                     string
	)

	var flags flag.FlagSet

	flags.IntVar(&seedSpan, "seed-span", defaultSeedSpan, "number of events per seed")
	flags.IntVar(&quantBits, "quant-bits", defaults.QuantBits, "bits per quantized event")
	flags.IntVar(&window, "window", defaults.Window, "minimizer window")
	flags.IntVar(&threads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime of each phase")
	flags.StringVar(&profile, "profile", "", "write a CPU profile")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, IndexHelp)
		os.Exit(1)
	}

	signals := getFilename(os.Args[2], IndexHelp)
	output := getFilename(os.Args[3], IndexHelp)

	parseFlags(&flags, 4, IndexHelp)

	setLogOutput(logPath)

	// sanity checks

	sanityChecksFailed := !checkExist("", signals)
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	sketcher, err := sketch.NewQuantizer(seedSpan, quantBits, window)
	if err != nil {
		log.Println("Error:", err)
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, IndexHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " index ", signals, " ", output)
	fmt.Fprint(&command, " --seed-span ", seedSpan)
	fmt.Fprint(&command, " --quant-bits ", quantBits)
	fmt.Fprint(&command, " --window ", window)
	if threads > 0 {
		runtime.GOMAXPROCS(threads)
		fmt.Fprint(&command, " --nr-of-threads ", threads)
	}
	if timed {
		fmt.Fprint(&command, " --timed")
	}
	if profile != "" {
		fmt.Fprint(&command, " --profile ", profile)
	}
	if logPath != "" {
		fmt.Fprint(&command, " --log-path ", logPath)
	}

	// executing command

	log.Println("Executing command:\n", command.String())

	fullSignals, err := internal.FullPathname(signals)
	if err != nil {
		return err
	}
	fullOutput := output
	if output != "-" {
		if fullOutput, err = internal.FullPathname(output); err != nil {
			return err
		}
	}

	return runIndex(fullSignals, fullOutput, sketcher, seedSpan, timed, profile)
}

func runIndex(signals, output string, sketcher sketch.Sketcher, seedSpan int, timed bool, profile string) (err error) {
	reader, err := signal.NewReader(signals, 0)
	if err != nil {
		return err
	}
	defer internal.Close(reader)

	var idx *index.Memory
	timedRun(timed, profile, "Building index.", 1, func() {
		idx, err = index.Build(reader, signal.DefaultTTestDetector(), sketcher, seedSpan)
	})
	if err != nil {
		return fmt.Errorf("%v, while building the index", err)
	}
	log.Printf("Indexed %v references with %v seeds.\n", idx.NumRefs(), idx.NumValues())

	timedRun(timed, profile, "Storing index.", 2, func() {
		err = idx.Store(output)
	})
	return err
}
