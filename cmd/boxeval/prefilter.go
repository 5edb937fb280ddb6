package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/detection/batch"
	"github.com/banshee-data/boxeval/internal/fsutil"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

func runPrefilter(args []string) error {
	fs := flag.NewFlagSet("prefilter", flag.ExitOnError)
	outputPath := fs.String("output_path", "", "Output file (default: input with a _filtered suffix)")
	configPath := fs.String("config_path", "", "Metric configuration JSON providing class_range")
	set := fs.Bool("set", false, "Treat the input as a manifest of prediction files")
	useSavePaths := fs.Int("use_save_paths", 0, "With --set, write each entry to its save_path (0/1)")
	verbose := fs.Int("verbose", 1, "Print progress messages (0/1)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(fs, positional, "input_path"); err != nil {
		return err
	}
	monitoring.SetVerbose(*verbose != 0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	fsys := fsutil.OSFileSystem{}

	if !*set {
		out := *outputPath
		if out == "" {
			out = filteredPath(positional[0])
		}
		return prefilterFile(fsys, cfg, positional[0], out)
	}

	entries, err := batch.LoadInputManifest(fsys, positional[0], *useSavePaths != 0)
	if err != nil {
		return err
	}
	for i, e := range entries {
		monitoring.Logf("Filtering %d/%d", i+1, len(entries))
		out := filteredPath(e.InferPath)
		if *useSavePaths != 0 {
			out = e.SavePath
		}
		if err := prefilterFile(fsys, cfg, e.InferPath, out); err != nil {
			return fmt.Errorf("%s: %w", e.InferPath, err)
		}
	}
	return nil
}

func filteredPath(input string) string {
	return strings.TrimSuffix(input, ".json") + "_filtered.json"
}

func prefilterFile(fsys fsutil.FileSystem, cfg *config.DetectionConfig, in, out string) error {
	boxes, meta, err := detection.LoadPrediction(fsys, in, cfg.MaxBoxesPerSample)
	if err != nil {
		return err
	}
	filtered, stats := detection.FilterByRange(boxes, cfg)
	monitoring.Verbosef("=> Original number of boxes: %d", stats.Total)
	monitoring.Verbosef("=> After unknown class filtering: %d", stats.Total-stats.UnknownName)
	monitoring.Verbosef("=> After distance based filtering: %d", stats.Total-stats.UnknownName-stats.OutOfRange)
	monitoring.Verbosef("=> After LIDAR and RADAR points based filtering: %d", stats.Kept())
	return detection.WritePrediction(fsys, out, filtered, meta)
}
