package main

import (
	"context"
	"encoding/json"
	"flag"
	"path/filepath"
	"strings"

	"github.com/banshee-data/boxeval/internal/detection/evaluate"
	"github.com/banshee-data/boxeval/internal/detection/storage/sqlite"
	"github.com/banshee-data/boxeval/internal/monitoring"
	"github.com/banshee-data/boxeval/internal/version"
)

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	common := addCommonFlags(fs, "boxeval-metrics", "Directory for metrics and plots", 1)
	name := fs.String("name", "", "Run name stored in the history database (default: result file name)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(fs, positional, "gts_path", "result_path"); err != nil {
		return err
	}
	monitoring.SetVerbose(*common.verbose != 0)

	cfg, err := loadConfig(*common.configPath)
	if err != nil {
		return err
	}
	gtPath, filterPath := resolveGroundTruth(positional[0], *common.dataRoot, *common.filterPath)
	resultPath := positional[1]

	o, err := evaluate.New(evaluate.Options{
		ResultPath:   resultPath,
		GTPath:       gtPath,
		OutputDir:    *common.outputDir,
		FilterPath:   filterPath,
		Config:       cfg,
		RenderCurves: *common.renderCurves != 0,
	})
	if err != nil {
		return err
	}
	res, err := o.Run(context.Background())
	if err != nil {
		return err
	}
	evaluate.LogSummary(res.Metrics)

	if *common.historyDB == "" {
		return nil
	}
	runName := *name
	if runName == "" {
		runName = strings.TrimSuffix(filepath.Base(resultPath), filepath.Ext(resultPath))
	}
	return recordRuns(*common.historyDB, []historyRecord{{
		name: runName, resultPath: resultPath, gtPath: gtPath, filterPath: filterPath, result: res,
	}})
}

type historyRecord struct {
	name       string
	resultPath string
	gtPath     string
	filterPath string
	result     *evaluate.Result
}

func recordRuns(dbPath string, records []historyRecord) error {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewHistoryStore(db)
	for _, r := range records {
		metrics, err := json.Marshal(r.result.Metrics)
		if err != nil {
			return err
		}
		run := &sqlite.Run{
			Name:        r.name,
			ResultPath:  r.resultPath,
			GTPath:      r.gtPath,
			FilterPath:  r.filterPath,
			NDScore:     r.result.Metrics.NDScore(),
			MeanAP:      r.result.Metrics.MeanAP(),
			MetricsJSON: metrics,
			ToolVersion: version.Version,
		}
		if err := store.Insert(run); err != nil {
			return err
		}
		monitoring.Verbosef("Recorded run %s as %s", r.name, run.RunID)
	}
	return nil
}
