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
	"github.com/exascience/elsig/paf"
	"github.com/exascience/elsig/signal"
	"github.com/exascience/elsig/sketch"
	"github.com/exascience/elsig/until"
)

// MapHelp is the help string for this command.
const MapHelp = "\nMap parameters:\n" +
	"elsig map index-file signal-file-or-directory output-file\n" +
	"[--chunk-size nr]\n" +
	"[--max-chunks nr]\n" +
	"[--no-adaptive]\n" +
	"[--min-events nr]\n" +
	"[--min-mapq nr]\n" +
	"[--chaining [dp | rmq]]\n" +
	"[--bw nr]\n" +
	"[--bw-long nr]\n" +
	"[--max-gap-ref nr]\n" +
	"[--max-gap-query nr]\n" +
	"[--max-skips nr]\n" +
	"[--max-iter nr]\n" +
	"[--rmq-inner-dist nr]\n" +
	"[--rmq-size-cap nr]\n" +
	"[--gap-scale value]\n" +
	"[--skip-scale value]\n" +
	"[--min-anchors nr]\n" +
	"[--min-score nr]\n" +
	"[--mask-level value]\n" +
	"[--mask-len nr]\n" +
	"[--pri-ratio value]\n" +
	"[--best-n nr]\n" +
	"[--alt-drop value]\n" +
	"[--max-occ nr]\n" +
	"[--occ-frac value]\n" +
	"[--max-max-occ nr]\n" +
	"[--occ-dist nr]\n" +
	"[--quant-bits nr]\n" +
	"[--window nr]\n" +
	"[--verify]\n" +
	"[--border [global | sparse]]\n" +
	"[--fill [full | banded]]\n" +
	"[--band-radius-frac value]\n" +
	"[--match-bonus value]\n" +
	"[--min-align-score value]\n" +
	"[--w-mapq value]\n" +
	"[--w-mean-mapq value]\n" +
	"[--w-mean-score value]\n" +
	"[--w-align value]\n" +
	"[--w-threshold value]\n" +
	"[--sequence-until]\n" +
	"[--su-min-reads nr]\n" +
	"[--su-interval nr]\n" +
	"[--su-samples nr]\n" +
	"[--su-threshold value]\n" +
	"[--all-chains]\n" +
	"[--sample-per-base value]\n" +
	"[--mini-batch-size nr]\n" +
	"[--batch-reads nr]\n" +
	"[--max-in-flight nr]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// Map implements the elsig map command.
func Map() error {
	opts := mapping.DefaultOptions()
	var (
		gapScale, skipScale, maskLevel, priRatio, altDrop float64
		bandRadiusFrac, matchBonus, minAlignScore         float64
		wMapQ, wMeanMapQ, wMeanScore, wAlign, wThreshold  float64
		samplePerBase                                     float64
		profile, logPath                                  string
	)

	var flags flag.FlagSet

	flags.IntVar(&opts.ChunkSize, "chunk-size", opts.ChunkSize, "number of samples mapped at a time")
	flags.IntVar(&opts.MaxChunks, "max-chunks", opts.MaxChunks, "maximum number of chunks mapped per read")
	flags.BoolVar(&opts.NoAdaptive, "no-adaptive", false, "map reads in full")
	flags.IntVar(&opts.MinEvents, "min-events", opts.MinEvents, "minimum number of events in a chunk")
	flags.IntVar(&opts.MinMapQ, "min-mapq", opts.MinMapQ, "minimum mapping quality for early acceptance")
	flags.StringVar(&opts.Chaining, "chaining", opts.Chaining, "chaining algorithm")
	flags.IntVar(&opts.Bandwidth, "bw", opts.Bandwidth, "chaining bandwidth")
	flags.IntVar(&opts.BandwidthLong, "bw-long", opts.BandwidthLong, "bandwidth of the second chaining pass")
	flags.IntVar(&opts.MaxGapRef, "max-gap-ref", opts.MaxGapRef, "maximum gap between anchors on the reference")
	flags.IntVar(&opts.MaxGapQuery, "max-gap-query", opts.MaxGapQuery, "maximum gap between anchors on the read")
	flags.IntVar(&opts.MaxSkips, "max-skips", opts.MaxSkips, "maximum number of skipped predecessors")
	flags.IntVar(&opts.MaxIter, "max-iter", opts.MaxIter, "maximum number of predecessors considered")
	flags.IntVar(&opts.RMQInnerDist, "rmq-inner-dist", opts.RMQInnerDist, "distance of the exact RMQ scan")
	flags.IntVar(&opts.RMQSizeCap, "rmq-size-cap", opts.RMQSizeCap, "maximum number of anchors in the RMQ tree")
	flags.Float64Var(&gapScale, "gap-scale", float64(opts.GapScale), "scale of the gap penalty")
	flags.Float64Var(&skipScale, "skip-scale", float64(opts.SkipScale), "scale of the skip penalty")
	flags.IntVar(&opts.MinAnchors, "min-anchors", opts.MinAnchors, "minimum number of anchors in a chain")
	flags.IntVar(&opts.MinChainScore, "min-score", opts.MinChainScore, "minimum chaining score")
	flags.Float64Var(&maskLevel, "mask-level", float64(opts.MaskLevel), "overlap fraction for secondary chains")
	flags.IntVar(&opts.MaskLen, "mask-len", opts.MaskLen, "maximum uncovered length of secondary chains")
	flags.Float64Var(&priRatio, "pri-ratio", float64(opts.PriRatio), "minimum secondary to primary score ratio")
	flags.IntVar(&opts.BestN, "best-n", opts.BestN, "maximum number of secondary chains")
	flags.Float64Var(&altDrop, "alt-drop", float64(opts.AltDrop), "score drop of dropped secondary chains")
	flags.IntVar(&opts.MaxOcc, "max-occ", opts.MaxOcc, "seed occurrence bound")
	flags.Float64Var(&opts.OccFrac, "occ-frac", opts.OccFrac, "fraction of repetitive seeds when max-occ is 0")
	flags.IntVar(&opts.MaxMaxOcc, "max-max-occ", opts.MaxMaxOcc, "occurrence bound of rescued seeds")
	flags.IntVar(&opts.OccDist, "occ-dist", opts.OccDist, "distance to kept seeds for rescue")
	flags.IntVar(&opts.QuantBits, "quant-bits", opts.QuantBits, "bits per quantized event")
	flags.IntVar(&opts.Window, "window", opts.Window, "minimizer window")
	flags.BoolVar(&opts.Verify, "verify", false, "verify chains by alignment")
	flags.StringVar(&opts.Border, "border", opts.Border, "border constraint of the alignment")
	flags.StringVar(&opts.Fill, "fill", opts.Fill, "fill method of the alignment")
	flags.Float64Var(&bandRadiusFrac, "band-radius-frac", float64(opts.BandRadiusFrac), "band radius as a fraction of the read events")
	flags.Float64Var(&matchBonus, "match-bonus", float64(opts.MatchBonus), "alignment bonus per aligned event")
	flags.Float64Var(&minAlignScore, "min-align-score", float64(opts.MinAlignScore), "minimum alignment score")
	flags.Float64Var(&wMapQ, "w-mapq", float64(opts.WeightQ), "weight of the mapping quality")
	flags.Float64Var(&wMeanMapQ, "w-mean-mapq", float64(opts.WeightMeanQ), "weight of the mean mapping quality ratio")
	flags.Float64Var(&wMeanScore, "w-mean-score", float64(opts.WeightMeanC), "weight of the mean chaining score ratio")
	flags.Float64Var(&wAlign, "w-align", float64(opts.WeightAlign), "weight of the alignment score")
	flags.Float64Var(&wThreshold, "w-threshold", float64(opts.WeightThreshold), "acceptance threshold of the weighted sum")
	flags.BoolVar(&opts.SequenceUntil, "sequence-until", false, "stop once abundance estimates converge")
	flags.IntVar(&opts.Until.MinReads, "su-min-reads", opts.Until.MinReads, "mapped reads before the first estimate")
	flags.IntVar(&opts.Until.Interval, "su-interval", opts.Until.Interval, "mapped reads between estimates")
	flags.IntVar(&opts.Until.Samples, "su-samples", opts.Until.Samples, "number of estimates compared")
	flags.Float64Var(&opts.Until.Threshold, "su-threshold", opts.Until.Threshold, "convergence threshold")
	flags.BoolVar(&opts.AllChains, "all-chains", false, "report all accepted chains")
	flags.Float64Var(&samplePerBase, "sample-per-base", float64(opts.SamplePerBase), "samples per base of sequence indexes")
	flags.IntVar(&opts.MiniBatchSize, "mini-batch-size", opts.MiniBatchSize, "samples read per batch")
	flags.IntVar(&opts.BatchReads, "batch-reads", opts.BatchReads, "maximum number of reads per batch")
	flags.IntVar(&opts.MaxInFlight, "max-in-flight", opts.MaxInFlight, "maximum number of batches in flight")
	flags.IntVar(&opts.Threads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&opts.Timed, "timed", false, "measure the runtime of each stage")
	flags.StringVar(&profile, "profile", "", "write a CPU profile")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	if len(os.Args) < 5 {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, MapHelp)
		os.Exit(1)
	}

	indexFile := getFilename(os.Args[2], MapHelp)
	signals := getFilename(os.Args[3], MapHelp)
	output := getFilename(os.Args[4], MapHelp)

	parseFlags(&flags, 5, MapHelp)

	opts.GapScale, opts.SkipScale = float32(gapScale), float32(skipScale)
	opts.MaskLevel, opts.PriRatio, opts.AltDrop = float32(maskLevel), float32(priRatio), float32(altDrop)
	opts.BandRadiusFrac, opts.MatchBonus, opts.MinAlignScore = float32(bandRadiusFrac), float32(matchBonus), float32(minAlignScore)
	opts.WeightQ, opts.WeightMeanQ, opts.WeightMeanC = float32(wMapQ), float32(wMeanMapQ), float32(wMeanScore)
	opts.WeightAlign, opts.WeightThreshold = float32(wAlign), float32(wThreshold)
	opts.SamplePerBase = float32(samplePerBase)

	setLogOutput(logPath)

	// sanity checks

	sanityChecksFailed := !checkExist("", indexFile)
	if !checkExist("", signals) {
		sanityChecksFailed = true
	}
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	if err := opts.Validate(); err != nil {
		log.Println("Error:", err)
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, MapHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " map ", indexFile, " ", signals, " ", output)
	fmt.Fprint(&command, " --chunk-size ", opts.ChunkSize)
	if opts.NoAdaptive {
		fmt.Fprint(&command, " --no-adaptive")
	} else {
		fmt.Fprint(&command, " --max-chunks ", opts.MaxChunks)
	}
	fmt.Fprint(&command, " --chaining ", opts.Chaining)
	fmt.Fprint(&command, " --bw ", opts.Bandwidth)
	if opts.BandwidthLong > opts.Bandwidth {
		fmt.Fprint(&command, " --bw-long ", opts.BandwidthLong)
	}
	fmt.Fprint(&command, " --min-mapq ", opts.MinMapQ)
	if opts.Verify {
		fmt.Fprint(&command, " --verify --border ", opts.Border, " --fill ", opts.Fill)
		fmt.Fprint(&command, " --min-align-score ", opts.MinAlignScore)
	}
	if opts.SequenceUntil {
		fmt.Fprint(&command, " --sequence-until")
		fmt.Fprint(&command, " --su-min-reads ", opts.Until.MinReads)
		fmt.Fprint(&command, " --su-interval ", opts.Until.Interval)
		fmt.Fprint(&command, " --su-samples ", opts.Until.Samples)
		fmt.Fprint(&command, " --su-threshold ", opts.Until.Threshold)
	}
	if opts.AllChains {
		fmt.Fprint(&command, " --all-chains")
	}
	if opts.Threads > 0 {
		runtime.GOMAXPROCS(opts.Threads)
		fmt.Fprint(&command, " --nr-of-threads ", opts.Threads)
	}
	if opts.Timed {
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

	fullIndex, err := internal.FullPathname(indexFile)
	if err != nil {
		return err
	}
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

	return runMap(fullIndex, fullSignals, fullOutput, opts, profile)
}

func runMap(indexFile, signals, output string, opts *mapping.Options, profile string) (err error) {
	var idx *index.Memory
	timedRun(opts.Timed, profile, "Loading index.", 1, func() {
		idx, err = index.Load(indexFile)
	})
	if err != nil {
		return err
	}
	log.Printf("Loaded %v references with %v seeds.\n", idx.NumRefs(), idx.NumValues())

	sketcher, err := sketch.NewQuantizer(idx.SeedSpan(), opts.QuantBits, opts.Window)
	if err != nil {
		return fmt.Errorf("%v, while configuring the sketcher", err)
	}
	mapper, err := mapping.NewMapper(idx, signal.DefaultTTestDetector(), sketcher, opts)
	if err != nil {
		return err
	}
	if opts.Timed {
		mapper.SetProfiler(mapping.NewProfiler())
	}

	reader, err := signal.NewReader(signals, opts.MiniBatchSize)
	if err != nil {
		return err
	}
	defer internal.Close(reader)

	writer, err := paf.Create(output)
	if err != nil {
		return err
	}

	var controller *until.Controller
	timedRun(opts.Timed, profile, "Mapping reads.", 2, func() {
		controller, err = mapper.Run(reader, writer)
	})
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if controller != nil {
		log.Printf("Sequence until %v after %v mapped reads, statistic %v.\n", controller.State(), controller.Reads(), controller.Statistic())
	}
	mapper.Profiler().Log()
	return nil
}
