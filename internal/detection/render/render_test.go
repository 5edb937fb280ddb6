package render

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/detection/algo"
	"github.com/banshee-data/boxeval/internal/fsutil"
)

func evaluated(t *testing.T) (*algo.MetricDataList, *algo.DetectionMetrics) {
	t.Helper()
	mk := func(name string, x, score float64) detection.Box {
		return detection.Box{
			SampleToken: "s1", DetectionName: name, DetectionScore: score,
			Translation: [3]float64{x, 0, 0}, Size: [3]float64{1, 1, 1},
			Rotation: [4]float64{1, 0, 0, 0}, NumPts: -1,
		}
	}
	gt := detection.NewEvalBoxes()
	gt.AddBoxes("s1", []detection.Box{mk("car", 0, -1), mk("car", 10, -1), mk("barrier", 20, -1)})
	pred := detection.NewEvalBoxes()
	pred.AddBoxes("s1", []detection.Box{mk("car", 0.3, 0.9), mk("car", 30, 0.4), mk("barrier", 20, 0.7)})

	cfg := config.DefaultDetectionConfig().WithClassNames([]string{"car", "barrier"}, nil)
	metrics, mdl, err := algo.Evaluate(gt, pred, cfg)
	require.NoError(t, err)
	return mdl, metrics
}

func TestRenderAll(t *testing.T) {
	mdl, metrics := evaluated(t)
	fsys := fsutil.NewMemoryFileSystem()
	r := New(fsys, "/out/plots")

	require.NoError(t, r.RenderAll(mdl, metrics))

	want := []string{
		"/out/plots/barrier_pr.pdf",
		"/out/plots/barrier_tp.pdf",
		"/out/plots/car_pr.pdf",
		"/out/plots/car_tp.pdf",
		"/out/plots/dist_pr_0.5.pdf",
		"/out/plots/dist_pr_1.0.pdf",
		"/out/plots/dist_pr_2.0.pdf",
		"/out/plots/dist_pr_4.0.pdf",
		"/out/plots/summary.pdf",
	}
	assert.Equal(t, want, fsys.Files("/out/plots"))
	for _, path := range want {
		data, err := fsys.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "%PDF", string(data[:4]), path)
	}
}

func TestClassTPCurve_NoMatches(t *testing.T) {
	mdl := algo.NewMetricDataList()
	cfg := config.DefaultDetectionConfig().WithClassNames([]string{"car"}, nil)
	for _, th := range cfg.DistThs {
		mdl.Set("car", th, algo.NoPredictions())
	}
	metrics := algo.NewDetectionMetrics(cfg)

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, New(fsys, "/p").ClassTPCurve(mdl, metrics, "car"))
	assert.True(t, fsys.Exists("/p/car_tp.pdf"))
}

func TestClassPRCurve_MissingData(t *testing.T) {
	_, metrics := evaluated(t)
	err := New(fsutil.NewMemoryFileSystem(), "/p").ClassPRCurve(algo.NewMetricDataList(), metrics, "car")
	assert.Error(t, err)
}

type failingFS struct{ fsutil.FileSystem }

func (failingFS) Create(string) (io.WriteCloser, error) { return nil, errors.New("disk full") }

func TestRenderAll_CollectsErrors(t *testing.T) {
	mdl, metrics := evaluated(t)
	err := New(failingFS{fsutil.NewMemoryFileSystem()}, "/p").RenderAll(mdl, metrics)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary.pdf")
	assert.Contains(t, err.Error(), "dist_pr_4.0.pdf")
}
