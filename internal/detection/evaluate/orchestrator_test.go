package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/fsutil"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

func mkBox(token, name string, x, score float64) detection.Box {
	return detection.Box{
		SampleToken: token, DetectionName: name, DetectionScore: score,
		Translation: [3]float64{x, 0, 0}, Size: [3]float64{1, 2, 1},
		Rotation: [4]float64{1, 0, 0, 0}, NumPts: -1,
	}
}

type fixture struct {
	fs   *fsutil.MemoryFileSystem
	opts Options
}

// newFixture writes ground truth and predictions covering the given
// samples, each holding one car and one pedestrian.
func newFixture(t *testing.T, gtSamples, predSamples []string) fixture {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	gt := detection.NewEvalBoxes()
	for _, s := range gtSamples {
		gt.AddBoxes(s, []detection.Box{mkBox(s, "car", 0, -1), mkBox(s, "pedestrian", 10, -1)})
	}
	pred := detection.NewEvalBoxes()
	for _, s := range predSamples {
		pred.AddBoxes(s, []detection.Box{mkBox(s, "car", 0.2, 0.9), mkBox(s, "pedestrian", 10, 0.6)})
	}
	require.NoError(t, fsutil.WriteJSON(fsys, "/data/gt.json", gt))
	require.NoError(t, detection.WritePrediction(fsys, "/data/pred.json", pred, detection.Meta{"use_lidar": true}))

	return fixture{fs: fsys, opts: Options{
		ResultPath: "/data/pred.json",
		GTPath:     "/data/gt.json",
		OutputDir:  "/out",
		Config:     config.DefaultDetectionConfig(),
		FS:         fsys,
	}}
}

func TestNew_RequiresPaths(t *testing.T) {
	_, err := New(Options{GTPath: "g", OutputDir: "o"})
	assert.Error(t, err)
	_, err = New(Options{ResultPath: "r", OutputDir: "o"})
	assert.Error(t, err)
	_, err = New(Options{ResultPath: "r", GTPath: "g"})
	assert.Error(t, err)

	o, err := New(Options{ResultPath: "r", GTPath: "g", OutputDir: "o"})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, o.State())
}

func TestRun_WritesOutputs(t *testing.T) {
	f := newFixture(t, []string{"s1", "s2"}, []string{"s1", "s2"})
	o, err := New(f.opts)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{StateUninitialized, StateLoaded, StateValidated, StateScored, StateDone}, o.History())
	assert.True(t, f.fs.Exists("/out/plots"))
	assert.Equal(t, []string{"/out/metrics_details.json", "/out/metrics_summary.json"}, f.fs.Files("/out"))
	assert.Equal(t, true, res.Meta["use_lidar"])
	assert.Greater(t, res.Metrics.NDScore(), 0.0)

	data, err := f.fs.ReadFile("/out/metrics_summary.json")
	require.NoError(t, err)
	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, map[string]interface{}{"use_lidar": true}, summary["meta"])
	assert.InDelta(t, res.Metrics.MeanAP(), summary["mean_ap"], 1e-9)
}

func TestRun_FilterRemapsBothCollections(t *testing.T) {
	f := newFixture(t, []string{"s1"}, []string{"s1"})
	require.NoError(t, f.fs.WriteFile("/data/filter.json", []byte(`{"vehicle": ["car", "truck"]}`), 0o644))
	f.opts.FilterPath = "/data/filter.json"
	o, err := New(f.opts)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"vehicle"}, res.Config.ClassNames)
	assert.Len(t, f.opts.Config.ClassNames, 10, "caller configuration is not modified")
	assert.Contains(t, o.History(), StateFiltered)
	assert.InDelta(t, 1.0, res.Metrics.LabelAP("vehicle", 2.0), 1e-9)
}

func TestRun_SampleSetMismatch(t *testing.T) {
	f := newFixture(t, []string{"s1", "s3"}, []string{"s1", "s2"})
	o, err := New(f.opts)
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, detection.ErrSampleSetMismatch)

	var mismatch *detection.SampleSetMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{"s3"}, mismatch.MissingInPredictions)
	assert.Equal(t, []string{"s2"}, mismatch.MissingInGroundTruth)
	assert.Equal(t, "/data/pred.json", mismatch.Path)

	assert.Equal(t, StateFailed, o.State())
	assert.NotContains(t, o.History(), StateScored)
	assert.Empty(t, f.fs.Files("/out"), "nothing is written before validation passes")
}

func TestRun_MissingResultFile(t *testing.T) {
	f := newFixture(t, []string{"s1"}, []string{"s1"})
	f.opts.ResultPath = "/data/none.json"
	o, err := New(f.opts)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, detection.ErrMissingInputFile)
	assert.Equal(t, []State{StateUninitialized, StateFailed}, o.History())
}

func TestRun_CapacityExceeded(t *testing.T) {
	f := newFixture(t, []string{"s1"}, []string{"s1"})
	f.opts.Config = config.DefaultDetectionConfig()
	f.opts.Config.MaxBoxesPerSample = 1
	o, err := New(f.opts)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, detection.ErrCapacityExceeded)
}

func TestRun_RendersCurves(t *testing.T) {
	f := newFixture(t, []string{"s1"}, []string{"s1"})
	f.opts.RenderCurves = true
	o, err := New(f.opts)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, o.History(), StateRendered)
	assert.Contains(t, f.fs.Files("/out/plots"), "/out/plots/summary.pdf")
	assert.Contains(t, f.fs.Files("/out/plots"), "/out/plots/car_pr.pdf")
}

func TestRun_OnlyOnce(t *testing.T) {
	f := newFixture(t, []string{"s1"}, []string{"s1"})
	o, err := New(f.opts)
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDone, o.State())
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, []string{"s1"}, []string{"s1"})
	o, err := New(f.opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, o.State())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateLoaded, StateFiltered))
	assert.True(t, CanTransition(StateLoaded, StateValidated))
	assert.False(t, CanTransition(StateLoaded, StateScored))
	assert.False(t, CanTransition(StateFiltered, StateLoaded))
	assert.True(t, CanTransition(StateScored, StateFailed))
	assert.False(t, CanTransition(StateDone, StateFailed))
}

func TestLogSummary(t *testing.T) {
	f := newFixture(t, []string{"s1"}, []string{"s1"})
	o, err := New(f.opts)
	require.NoError(t, err)
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	var lines []string
	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, v[0].(string))
	})
	LogSummary(res.Metrics)

	text := strings.Join(lines, "\n")
	assert.Contains(t, text, "mAP: ")
	assert.Contains(t, text, "mATE: ")
	assert.Contains(t, text, "NDS: ")
	assert.Contains(t, text, "Object Class\tAP\tATE\tASE\tAOE\tAVE\tAAE")
	assert.Contains(t, text, "traffic_cone\t0.000\t1.000\t1.000\tNaN\tNaN\tNaN")
	assert.False(t, math.IsNaN(res.Metrics.NDScore()))
}
