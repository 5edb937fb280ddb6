// Package batch evaluates every prediction set of a manifest against one
// shared ground truth and collects the metrics by run name.
package batch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/detection/evaluate"
	"github.com/banshee-data/boxeval/internal/fsutil"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

// Options are shared by every entry of a batch.
type Options struct {
	GTPath     string
	FilterPath string
	Config     *config.DetectionConfig

	// RenderCurves is not supported in batch mode.
	RenderCurves bool

	// Workers bounds how many entries are evaluated at once. Values below 2
	// evaluate entries one after the other.
	Workers int

	// Progress, when set, is called after each entry completes.
	Progress func(done, total int, e Entry)

	FS fsutil.FileSystem
}

// Runner evaluates manifests.
type Runner struct {
	opts Options
}

// NewRunner validates opts.
func NewRunner(opts Options) (*Runner, error) {
	if opts.RenderCurves {
		return nil, fmt.Errorf("%w: rendering curves in batch mode", detection.ErrUnsupportedFeature)
	}
	if opts.GTPath == "" {
		return nil, fmt.Errorf("ground truth path is required")
	}
	if opts.Config == nil {
		opts.Config = config.DefaultDetectionConfig()
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{opts: opts}, nil
}

// Run evaluates every entry. The first failing entry aborts the batch and
// no aggregate is returned. Results are collected in manifest order, so a
// repeated name keeps the metrics of its last entry.
func (r *Runner) Run(ctx context.Context, entries []Entry) (*Aggregate, error) {
	var spec detection.ClassFilterSpec
	if r.opts.FilterPath != "" {
		var err error
		if spec, err = detection.LoadClassFilterSpec(r.opts.FS, r.opts.FilterPath); err != nil {
			return nil, err
		}
	}

	results := make([]*evaluate.Result, len(entries))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			monitoring.Verbosef("Evaluating %s: %d/%d", e.Name, i+1, len(entries))
			res, err := r.runEntry(gctx, e, spec)
			if err != nil {
				return fmt.Errorf("%s: %w", e.Name, err)
			}
			results[i] = res

			mu.Lock()
			done++
			if r.opts.Progress != nil {
				r.opts.Progress(done, len(entries), e)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	agg := NewAggregate()
	for i, e := range entries {
		agg.Set(e, results[i])
	}
	return agg, nil
}

func (r *Runner) runEntry(ctx context.Context, e Entry, spec detection.ClassFilterSpec) (*evaluate.Result, error) {
	o, err := evaluate.New(evaluate.Options{
		ResultPath: e.InferPath,
		GTPath:     r.opts.GTPath,
		OutputDir:  e.SavePath,
		Filter:     spec,
		Config:     r.opts.Config,
		FS:         r.opts.FS,
	})
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}
