package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/attpc/merger"
	"github.com/attpc/merger/eventfile"
	"github.com/attpc/merger/graw"
	"github.com/attpc/merger/internal/metrics"
	"github.com/attpc/merger/internal/publish"
	"github.com/attpc/merger/internal/rundb"
	"github.com/attpc/merger/lookup"
)

// findInputs lists the GRAW files to merge: cfg.Inputs when given,
// otherwise every .graw file in cfg.InputDir.
func findInputs(cfg merger.Config) ([]string, error) {
	if len(cfg.Inputs) > 0 {
		return cfg.Inputs, nil
	}
	names, err := filepath.Glob(filepath.Join(cfg.InputDir, "*.graw"))
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .graw files in %s: %w", cfg.InputDir, merger.ErrNoData)
	}
	slices.Sort(names)
	return names, nil
}

// openInputs opens every file it can. Files that cannot be opened are
// logged and left out of the merge.
func openInputs(names []string) ([]*graw.File, error) {
	var files []*graw.File
	for _, name := range names {
		f, err := graw.Open(name)
		if err != nil {
			merger.ProblemLogger.Printf("Skipping input: %v", err)
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("none of the %d inputs could be opened: %w", len(names), merger.ErrNoData)
	}
	return files, nil
}

func closeInputs(files []*graw.File) {
	for _, f := range files {
		f.Close()
	}
}

// loadPedestals returns nil when no pedestal table is configured.
func loadPedestals(cfg merger.Config) (merger.PedestalLookup, error) {
	if cfg.PedestalTable == "" {
		return nil, nil
	}
	peds, err := lookup.LoadPedestals(cfg.PedestalTable)
	if err != nil {
		return nil, err
	}
	merger.UpdateLogger.Printf("Loaded %d pedestals from %s", peds.Len(), cfg.PedestalTable)
	return peds, nil
}

func prepare(cfg merger.Config) ([]*graw.File, *lookup.Table[uint16], error) {
	names, err := findInputs(cfg)
	if err != nil {
		return nil, nil, err
	}
	pads, err := lookup.LoadPads(cfg.PadTable)
	if err != nil {
		return nil, nil, err
	}
	merger.UpdateLogger.Printf("Loaded %d pads from %s", pads.Len(), cfg.PadTable)
	files, err := openInputs(names)
	if err != nil {
		return nil, nil, err
	}
	return files, pads, nil
}

// serveMetrics serves /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			merger.ProblemLogger.Printf("Metrics server on %s: %v", addr, err)
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	})
	merger.UpdateLogger.Printf("Serving metrics on http://%s/metrics", addr)
}

// merge runs the configured merge into the output event file.
func merge(ctx context.Context, cfg merger.Config) error {
	files, pads, err := prepare(cfg)
	if err != nil {
		return err
	}
	defer closeInputs(files)
	peds, err := loadPedestals(cfg)
	if err != nil {
		return err
	}

	out, err := eventfile.Create(cfg.Output)
	if err != nil {
		return err
	}
	var sink merger.EventSink = out

	run := rundb.NewRunMessage(cfg.Output, len(files))

	var reg *metrics.Registry
	if cfg.MetricsAddress != "" {
		reg = metrics.NewRegistry()
		sink = metrics.NewSink(sink, reg)
	}

	var pub *publish.Publisher
	if cfg.PublishAddress != "" {
		pub, err = publish.New(cfg.PublishAddress, sink)
		if err != nil {
			out.Close()
			return err
		}
		defer pub.Close()
		sink = pub
	}

	m, err := merger.NewMerger(files, pads, sink, cfg.Options(peds))
	if err != nil {
		out.Close()
		return err
	}
	db := rundb.DummyConnection()
	if cfg.RecordRun {
		db = rundb.Start(ctx, cfg.DatabaseAddr, run)
	}
	if reg != nil {
		reg.WatchStats(&m.Stats)
		reg.RecordRunStart(run.ID, cfg.Output, len(files), run.Start)
		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()
		serveMetrics(serveCtx, cfg.MetricsAddress, reg)
	}

	merger.UpdateLogger.Printf("Run %s: merging %d files into %s", run.ID, len(files), cfg.Output)
	runErr := m.Run(ctx)
	closeErr := out.Close()
	end := time.Now()
	stats := m.Stats.Snapshot()

	if pub != nil {
		pub.Status(stats)
	}
	if reg != nil {
		reg.RecordRunEnd(end.Sub(run.Start))
	}
	for i, f := range files {
		db.RecordFile(&rundb.FileMessage{
			Filename: f.Name(), Filetype: "graw", Source: i,
			Records: m.SourceFrames(i), Size: f.Size(), Start: run.Start, End: end,
		})
	}
	db.RecordFile(&rundb.FileMessage{
		Filename: out.Name(), Filetype: "evt", Source: -1,
		Records: int64(out.EventsWritten()), Size: out.BytesWritten(), Start: run.Start, End: end,
	})
	db.Finish(stats)

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}
	merger.UpdateLogger.Printf("Wrote %d events (%.1f MB) to %s, %v after start", out.EventsWritten(),
		float64(out.BytesWritten())/1e6, out.Name(), time.Since(merger.StartTime).Round(time.Millisecond))
	return nil
}

// calibrate merges the inputs with only the FPN correction and writes the
// mean of every channel as a pedestal table.
func calibrate(ctx context.Context, cfg merger.Config, outName string) error {
	files, pads, err := prepare(cfg)
	if err != nil {
		return err
	}
	defer closeInputs(files)

	cal := merger.NewPedestalCalibrator()
	opt := cfg.Options(nil)
	opt.Clean = merger.CleanOptions{}
	m, err := merger.NewMerger(files, pads, cal, opt)
	if err != nil {
		return err
	}
	if err := m.Run(ctx); err != nil {
		return err
	}
	if cal.Events() == 0 {
		return fmt.Errorf("no events to calibrate from: %w", merger.ErrNoData)
	}
	for est := range cal.Estimates() {
		merger.DebugLogger.Printf("%v: pedestal %.2f +- %.2f over %d events", est.Address, est.Mean, est.StdDev, est.Events)
	}

	f, err := os.Create(outName)
	if err != nil {
		return &merger.OpenError{Filename: outName, Err: err}
	}
	table := cal.Table()
	if strings.EqualFold(filepath.Ext(outName), ".npy") {
		err = lookup.WriteNpy(f, table)
	} else {
		err = lookup.WriteCSV(f, table, func(v int16) string { return fmt.Sprint(v) })
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	merger.UpdateLogger.Printf("Wrote %d pedestals from %d events to %s", table.Len(), cal.Events(), outName)
	return nil
}
