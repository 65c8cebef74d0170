package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/attpc/merger"
	"github.com/attpc/merger/eventfile"
)

type dumpOptions struct {
	skip    int  // events to pass over before printing
	max     int  // events to print; 0 means all
	traces  bool // list the traces of each event
	samples int  // samples printed per trace
}

// dump prints the events read from r and returns how many were printed.
func dump(w io.Writer, r *eventfile.Reader, opt dumpOptions) (int, error) {
	printed, traces := 0, 0
	for n := 0; opt.max == 0 || printed < opt.max; n++ {
		offset := r.Offset()
		e, err := r.ReadEvent()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return printed, err
		}
		if n < opt.skip {
			continue
		}
		printed++
		traces += e.NumTraces()
		fmt.Fprintf(w, "event %8d  time %12d  traces %5d  offset %d\n", e.ID, e.Time, e.NumTraces(), offset)
		if opt.traces {
			dumpTraces(w, e, opt.samples)
		}
	}
	fmt.Fprintf(w, "%d events, %d traces\n", printed, traces)
	return printed, nil
}

func dumpTraces(w io.Writer, e *merger.Event, nsamples int) {
	for tr := range e.Traces() {
		mean, _ := tr.Mean()
		fmt.Fprintf(w, "  pad %5d  %-28v  %3d samples  mean %5d", tr.Pad, tr.Address(), tr.Len(), mean)
		i := 0
		for tb, v := range tr.Samples() {
			if i >= nsamples {
				break
			}
			fmt.Fprintf(w, " %d:%d", tb, v)
			i++
		}
		fmt.Fprintln(w)
	}
}

func main() {
	var opt dumpOptions
	flag.IntVar(&opt.skip, "skip", 0, "skip this many events")
	flag.IntVar(&opt.max, "n", 10, "print at most this many events (0 for all)")
	flag.BoolVar(&opt.traces, "traces", false, "list every trace")
	flag.IntVar(&opt.samples, "samples", 0, "print this many samples of each listed trace")
	flag.Usage = func() {
		fmt.Println("evtdump, a program to print the events of a merged event file")
		fmt.Println("Usage: evtdump [options] file.evt")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	r, err := eventfile.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer r.Close()
	if _, err := dump(os.Stdout, r, opt); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
