package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

// parseArgs parses flags that may appear before, between or after the
// positional arguments and returns the positionals. Everything after a
// "--" terminator is positional.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func expectArgs(fs *flag.FlagSet, positional []string, names ...string) error {
	if len(positional) != len(names) {
		return fmt.Errorf("%s expects %d arguments (%v), got %d", fs.Name(), len(names), names, len(positional))
	}
	return nil
}

// groundTruthShortcuts maps a shortcut token to its implied filter file,
// "" meaning no filter.
var groundTruthShortcuts = map[string]string{
	"nuscenes_challenge":         "",
	"nuscenes_vrus-and-cars":     "nuscenes_vrus-and-cars.json",
	"nuscenes_vrus":              "nuscenes_vrus.json",
	"nuscenes_vrus-and-vehicles": "nuscenes_vrus-and-vehicles.json",
}

// resolveGroundTruth expands a shortcut token into the ground truth and
// filter paths under dataRoot. filterOverride, when set, wins over the
// implied filter.
func resolveGroundTruth(gts, dataRoot, filterOverride string) (gtPath, filterPath string) {
	gtPath = gts
	if implied, ok := groundTruthShortcuts[gts]; ok {
		gtPath = filepath.Join(dataRoot, "gts", "detection_trainval_val.json")
		if implied != "" {
			filterPath = filepath.Join(dataRoot, "filters", implied)
		}
	}
	if filterOverride != "" {
		filterPath = filterOverride
	}
	return gtPath, filterPath
}

func loadConfig(path string) (*config.DetectionConfig, error) {
	if path == "" {
		monitoring.Verbosef("Using default configuration %s", config.DefaultConfigName)
		return config.DefaultDetectionConfig(), nil
	}
	return config.LoadDetectionConfig(path)
}

// commonFlags are shared by the evaluation commands.
type commonFlags struct {
	outputDir    *string
	filterPath   *string
	configPath   *string
	renderCurves *int
	verbose      *int
	dataRoot     *string
	historyDB    *string
}

func addCommonFlags(fs *flag.FlagSet, defaultOutput, outputHelp string, defaultRender int) commonFlags {
	return commonFlags{
		outputDir:    fs.String("output_dir", defaultOutput, outputHelp),
		filterPath:   fs.String("filter_path", "", "Class filter JSON (overrides the filter implied by a shortcut)"),
		configPath:   fs.String("config_path", "", "Metric configuration JSON (default: "+config.DefaultConfigName+")"),
		renderCurves: fs.Int("render_curves", defaultRender, "Render PR and TP curves (0/1)"),
		verbose:      fs.Int("verbose", 1, "Print progress messages (0/1)"),
		dataRoot:     fs.String("data-root", ".", "Directory holding gts/ and filters/ for the shortcuts"),
		historyDB:    fs.String("history-db", "", "SQLite database recording every completed run"),
	}
}
