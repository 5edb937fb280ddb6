// Command boxeval evaluates 3D object detections against ground truth and
// reports mAP, TP errors and the composite detection score (NDS).
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "eval":
		err = runEval(args)
	case "batch":
		err = runBatch(args)
	case "prefilter":
		err = runPrefilter(args)
	case "history":
		err = runHistory(args, os.Stdout)
	case "version":
		fmt.Printf("boxeval version %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, exitHint(err))
	}
}

// exitHint prefixes err with the failure kind so scripts can grep for it.
func exitHint(err error) error {
	for _, kind := range []error{
		detection.ErrMissingInputFile,
		detection.ErrFileFormat,
		detection.ErrCapacityExceeded,
		detection.ErrSampleSetMismatch,
		detection.ErrUnsupportedFeature,
	} {
		if errors.Is(err, kind) {
			return fmt.Errorf("[%v] %w", kind, err)
		}
	}
	return err
}

func printUsage() {
	fmt.Println(`boxeval - 3D object detection evaluation

Usage: boxeval <command> [arguments] [options]

Commands:
  eval       Evaluate one prediction file against ground truth
  batch      Evaluate every prediction set listed in a manifest
  prefilter  Drop predictions outside the class ranges
  history    List, show or delete stored evaluation runs
  version    Show boxeval version
  help       Show this help message

Ground truth shortcuts (resolved under --data-root):
  nuscenes_challenge           gts/detection_trainval_val.json, no filter
  nuscenes_vrus-and-cars       same ground truth, filters/nuscenes_vrus-and-cars.json
  nuscenes_vrus                same ground truth, filters/nuscenes_vrus.json
  nuscenes_vrus-and-vehicles   same ground truth, filters/nuscenes_vrus-and-vehicles.json
  --filter_path overrides the implied filter.

Examples:
  # Evaluate one submission with plots
  boxeval eval gts/val.json results.json --output_dir out --render_curves 1

  # Evaluate with the VRU filter
  boxeval eval nuscenes_vrus results.json --output_dir out

  # Evaluate a manifest of runs with 4 workers and record them
  boxeval batch nuscenes_challenge runs.json --output_dir agg.json --workers 4 --history-db history.db

  # Prefilter a submission by class range
  boxeval prefilter results.json

  # Inspect and remove a recorded run
  boxeval history --history-db history.db --show RUN_ID
  boxeval history --history-db history.db --delete RUN_ID

Run "boxeval <command> -h" for the options of a command.`)
}
