// Package evaluate runs one evaluation: load predictions and ground truth,
// optionally remap classes, check both cover the same samples, score, and
// write the metric files.
package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/detection/algo"
	"github.com/banshee-data/boxeval/internal/detection/render"
	"github.com/banshee-data/boxeval/internal/fsutil"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

// Output file names inside Options.OutputDir.
const (
	SummaryFile = "metrics_summary.json"
	DetailsFile = "metrics_details.json"
	PlotDir     = "plots"
)

// Options configures one evaluation.
type Options struct {
	// ResultPath is the prediction file ({"results": ..., "meta": ...}).
	ResultPath string
	// GTPath is the ground-truth file ({sample_token: [box, ...]}).
	GTPath string
	// OutputDir receives the metric files and the plots directory.
	OutputDir string
	// FilterPath is an optional class filter applied to both collections.
	FilterPath string
	// Filter is used instead of FilterPath when set.
	Filter detection.ClassFilterSpec

	Config       *config.DetectionConfig
	RenderCurves bool

	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
}

// Result is what a completed evaluation returns.
type Result struct {
	Metrics    *algo.DetectionMetrics
	MetricData *algo.MetricDataList
	Meta       detection.Meta
	// Config is the configuration actually scored with. It differs from
	// Options.Config when a class filter was applied.
	Config *config.DetectionConfig
}

// Orchestrator runs a single evaluation. It is not reusable: Run may be
// called once.
type Orchestrator struct {
	opts    Options
	state   State
	history []State

	cfg  *config.DetectionConfig
	pred *detection.EvalBoxes
	gt   *detection.EvalBoxes
	meta detection.Meta

	metrics *algo.DetectionMetrics
	mdl     *algo.MetricDataList
}

// New validates opts and returns an orchestrator in StateUninitialized.
func New(opts Options) (*Orchestrator, error) {
	if opts.ResultPath == "" {
		return nil, errors.New("result path is required")
	}
	if opts.GTPath == "" {
		return nil, errors.New("ground truth path is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Config == nil {
		opts.Config = config.DefaultDetectionConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	return &Orchestrator{
		opts:    opts,
		state:   StateUninitialized,
		history: []State{StateUninitialized},
		cfg:     opts.Config,
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State { return o.state }

// History returns every state visited, in order.
func (o *Orchestrator) History() []State {
	return append([]State(nil), o.history...)
}

// PlotDir is where rendered curves are written.
func (o *Orchestrator) PlotDir() string {
	return filepath.Join(o.opts.OutputDir, PlotDir)
}

// Run executes every step. On failure the orchestrator ends in StateFailed
// and holds no partial results.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if o.state != StateUninitialized {
		return nil, fmt.Errorf("orchestrator already ran (state %s)", o.state)
	}
	res, err := o.run(ctx)
	if err != nil {
		o.fail()
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context) (*Result, error) {
	steps := []struct {
		to   State
		skip bool
		fn   func() error
	}{
		{StateLoaded, false, o.load},
		{StateFiltered, !o.hasFilter(), o.filter},
		{StateValidated, false, o.validate},
		{StateScored, false, o.score},
		{StateRendered, !o.opts.RenderCurves, o.render},
		{StateDone, false, o.writeOutputs},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step.fn(); err != nil {
			return nil, err
		}
		if err := o.advance(step.to); err != nil {
			return nil, err
		}
	}
	return &Result{Metrics: o.metrics, MetricData: o.mdl, Meta: o.meta, Config: o.cfg}, nil
}

func (o *Orchestrator) advance(to State) error {
	if !CanTransition(o.state, to) {
		return fmt.Errorf("invalid transition %s -> %s", o.state, to)
	}
	o.state = to
	o.history = append(o.history, to)
	return nil
}

func (o *Orchestrator) fail() {
	if CanTransition(o.state, StateFailed) {
		o.state = StateFailed
		o.history = append(o.history, StateFailed)
	}
	o.pred, o.gt, o.meta, o.metrics, o.mdl = nil, nil, nil, nil, nil
}

func (o *Orchestrator) hasFilter() bool {
	return o.opts.Filter != nil || o.opts.FilterPath != ""
}

func (o *Orchestrator) load() error {
	fsys := o.opts.FS
	if !fsys.Exists(o.opts.ResultPath) {
		return fmt.Errorf("%w: error: the result file does not exist: %s", detection.ErrMissingInputFile, o.opts.ResultPath)
	}
	if err := fsys.MkdirAll(o.PlotDir(), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	monitoring.Verbosef("Initializing detection evaluation")
	pred, meta, err := detection.LoadPrediction(fsys, o.opts.ResultPath, o.cfg.MaxBoxesPerSample)
	if err != nil {
		return err
	}
	gt, err := detection.LoadGroundTruth(fsys, o.opts.GTPath, o.cfg.MaxBoxesPerSample)
	if err != nil {
		return err
	}
	o.pred, o.meta, o.gt = pred, meta, gt
	return nil
}

func (o *Orchestrator) filter() error {
	spec := o.opts.Filter
	if spec == nil {
		var err error
		if spec, err = detection.LoadClassFilterSpec(o.opts.FS, o.opts.FilterPath); err != nil {
			return err
		}
	}
	monitoring.Verbosef("Filtering classes: %v", spec.NewClassNames())
	o.cfg = o.cfg.WithClassNames(spec.NewClassNames(), spec.Merged())
	o.pred = detection.FilterAndRemap(o.pred, spec)
	o.gt = detection.FilterAndRemap(o.gt, spec)
	return nil
}

func (o *Orchestrator) validate() error {
	missing, extra := o.pred.DiffSamples(o.gt)
	if len(missing) > 0 || len(extra) > 0 {
		return &detection.SampleSetMismatchError{
			Path:                 o.opts.ResultPath,
			MissingInPredictions: missing,
			MissingInGroundTruth: extra,
		}
	}
	return nil
}

func (o *Orchestrator) score() error {
	metrics, mdl, err := algo.Evaluate(o.gt, o.pred, o.cfg)
	if err != nil {
		return fmt.Errorf("failed to compute metrics: %w", err)
	}
	o.metrics, o.mdl = metrics, mdl
	return nil
}

// render failures are logged; plots are a secondary output.
func (o *Orchestrator) render() error {
	monitoring.Verbosef("Rendering PR and TP curves")
	if err := render.New(o.opts.FS, o.PlotDir()).RenderAll(o.mdl, o.metrics); err != nil {
		monitoring.Logf("warning: failed to render curves: %v", err)
	}
	return nil
}

func (o *Orchestrator) writeOutputs() error {
	summary, err := SummaryJSON(o.metrics, o.meta)
	if err != nil {
		return err
	}
	if err := fsutil.WriteJSON(o.opts.FS, filepath.Join(o.opts.OutputDir, SummaryFile), summary); err != nil {
		return err
	}
	return fsutil.WriteJSON(o.opts.FS, filepath.Join(o.opts.OutputDir, DetailsFile), o.mdl)
}

// SummaryJSON returns the serialized metrics with meta appended under
// "meta".
func SummaryJSON(metrics *algo.DetectionMetrics, meta detection.Meta) (json.RawMessage, error) {
	body, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	if meta == nil {
		meta = detection.Meta{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode meta: %w", err)
	}
	body = bytes.TrimSuffix(bytes.TrimSpace(body), []byte("}"))
	if len(body) > 1 {
		body = append(body, ',')
	}
	body = append(body, `"meta":`...)
	body = append(body, metaJSON...)
	body = append(body, '}')
	return body, nil
}
