package main

import (
	"context"
	"flag"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/banshee-data/boxeval/internal/detection/batch"
	"github.com/banshee-data/boxeval/internal/fsutil"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	common := addCommonFlags(fs, "./agg_results.json", "Aggregate JSON mapping run name to metrics", 0)
	workers := fs.Int("workers", 1, "Number of manifest entries evaluated at once")
	summaryHTML := fs.String("summary-html", "", "Write an HTML chart of NDS and mAP per run")
	progress := fs.Bool("progress", false, "Show a progress bar")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(fs, positional, "gts_path", "manifest_path"); err != nil {
		return err
	}
	monitoring.SetVerbose(*common.verbose != 0)

	cfg, err := loadConfig(*common.configPath)
	if err != nil {
		return err
	}
	gtPath, filterPath := resolveGroundTruth(positional[0], *common.dataRoot, *common.filterPath)
	fsys := fsutil.OSFileSystem{}

	entries, err := batch.LoadManifest(fsys, positional[1])
	if err != nil {
		return err
	}

	opts := batch.Options{
		GTPath:       gtPath,
		FilterPath:   filterPath,
		Config:       cfg,
		RenderCurves: *common.renderCurves != 0,
		Workers:      *workers,
		FS:           fsys,
	}
	if *progress {
		bar := progressbar.NewOptions(len(entries),
			progressbar.OptionSetDescription("evaluating"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		defer bar.Finish()
		opts.Progress = func(done, total int, e batch.Entry) {
			bar.Describe(e.Name)
			bar.Add(1)
		}
	}

	r, err := batch.NewRunner(opts)
	if err != nil {
		return err
	}
	agg, err := r.Run(context.Background(), entries)
	if err != nil {
		return err
	}

	if err := batch.WriteAggregate(fsys, *common.outputDir, agg); err != nil {
		return err
	}
	monitoring.Logf("Wrote metrics of %d runs to %s", agg.Len(), *common.outputDir)

	if *summaryHTML != "" {
		if err := batch.WriteSummaryHTML(fsys, *summaryHTML, agg); err != nil {
			return err
		}
	}

	if *common.historyDB == "" {
		return nil
	}
	var records []historyRecord
	for _, name := range agg.Names() {
		e, res, _ := agg.Get(name)
		records = append(records, historyRecord{
			name: name, resultPath: e.InferPath, gtPath: gtPath, filterPath: filterPath, result: res,
		})
	}
	return recordRuns(*common.historyDB, records)
}
