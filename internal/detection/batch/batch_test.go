package batch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/fsutil"
)

func mkBox(token, name string, x, score float64) detection.Box {
	return detection.Box{
		SampleToken: token, DetectionName: name, DetectionScore: score,
		Translation: [3]float64{x, 0, 0}, Size: [3]float64{1, 2, 1},
		Rotation: [4]float64{1, 0, 0, 0}, NumPts: -1,
	}
}

// setup writes a ground truth with one car per sample and one prediction
// file per offset, each shifting the car by that many metres.
func setup(t *testing.T, offsets map[string]float64) *fsutil.MemoryFileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	gt := detection.NewEvalBoxes()
	gt.AddBoxes("s1", []detection.Box{mkBox("s1", "car", 0, -1)})
	gt.AddBoxes("s2", []detection.Box{mkBox("s2", "car", 0, -1)})
	require.NoError(t, fsutil.WriteJSON(fsys, "/gt.json", gt))

	for name, off := range offsets {
		pred := detection.NewEvalBoxes()
		pred.AddBoxes("s1", []detection.Box{mkBox("s1", "car", off, 0.9)})
		pred.AddBoxes("s2", []detection.Box{mkBox("s2", "car", off, 0.8)})
		require.NoError(t, detection.WritePrediction(fsys, "/pred/"+name+".json", pred, nil))
	}
	return fsys
}

func TestParseManifest(t *testing.T) {
	entries, err := ParseManifest([]byte(`[
		{"name": "a", "infer_path": "/p/a.json", "save_path": "/o/a"},
		{"name": "b", "infer_path": "/p/b.json", "save_path": "/o/b"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Name: "a", InferPath: "/p/a.json", SavePath: "/o/a"},
		{Name: "b", InferPath: "/p/b.json", SavePath: "/o/b"},
	}, entries)

	for _, body := range []string{
		`{"name": "a"}`,
		`[{"infer_path": "x", "save_path": "y"}]`,
		`[{"name": "a", "save_path": "y"}]`,
		`[{"name": "a", "infer_path": "x"}]`,
		`[`,
	} {
		_, err := ParseManifest([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestParseInputManifest(t *testing.T) {
	entries, err := ParseInputManifest([]byte(`[{"infer_path": "/p/a.json"}]`), false)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{InferPath: "/p/a.json"}}, entries)

	_, err = ParseInputManifest([]byte(`[{"infer_path": "/p/a.json"}]`), true)
	assert.Error(t, err, "save_path needed when writing to save paths")
	_, err = ParseInputManifest([]byte(`[{"name": "a", "save_path": "/o/a"}]`), true)
	assert.Error(t, err, "infer_path is always required")

	fsys := fsutil.NewMemoryFileSystem()
	_, err = LoadInputManifest(fsys, "/none.json", false)
	assert.ErrorIs(t, err, detection.ErrMissingInputFile)
	require.NoError(t, fsys.WriteFile("/bad.json", []byte(`[{}]`), 0o644))
	_, err = LoadInputManifest(fsys, "/bad.json", false)
	assert.ErrorIs(t, err, detection.ErrFileFormat)
}

func TestLoadManifest_Errors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/bad.json", []byte(`[{`), 0o644))

	_, err := LoadManifest(fsys, "/bad.json")
	assert.ErrorIs(t, err, detection.ErrFileFormat)
	_, err = LoadManifest(fsys, "/none.json")
	assert.ErrorIs(t, err, detection.ErrMissingInputFile)
}

func TestNewRunner_RejectsRendering(t *testing.T) {
	_, err := NewRunner(Options{GTPath: "/gt.json", RenderCurves: true})
	assert.ErrorIs(t, err, detection.ErrUnsupportedFeature)
}

func TestRun_DuplicateNameKeepsLast(t *testing.T) {
	fsys := setup(t, map[string]float64{"good": 0.1, "bad": 8})
	r, err := NewRunner(Options{GTPath: "/gt.json", FS: fsys})
	require.NoError(t, err)

	agg, err := r.Run(context.Background(), []Entry{
		{Name: "run", InferPath: "/pred/good.json", SavePath: "/out/first"},
		{Name: "run", InferPath: "/pred/bad.json", SavePath: "/out/second"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"run"}, agg.Names())
	e, res, ok := agg.Get("run")
	require.True(t, ok)
	assert.Equal(t, "/out/second", e.SavePath)
	assert.Equal(t, 0.0, res.Metrics.MeanAP(), "second entry has no matches")

	require.NoError(t, WriteAggregate(fsys, "/out/nested/all.json", agg))
	data, err := fsys.ReadFile("/out/nested/all.json")
	require.NoError(t, err)
	var decoded map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, 0.0, decoded["run"]["mean_ap"])
	assert.Contains(t, decoded["run"], "meta")

	summary, err := fsys.ReadFile("/out/second/metrics_summary.json")
	require.NoError(t, err)
	var perRun map[string]interface{}
	require.NoError(t, json.Unmarshal(summary, &perRun))
	assert.Equal(t, perRun, decoded["run"])
}

func TestRun_ParallelKeepsManifestOrder(t *testing.T) {
	offsets := map[string]float64{"a": 0.1, "b": 0.6, "c": 1.5, "d": 3, "e": 9}
	fsys := setup(t, offsets)
	var (
		mu    sync.Mutex
		calls []int
	)
	r, err := NewRunner(Options{
		GTPath:  "/gt.json",
		FS:      fsys,
		Workers: 3,
		Progress: func(done, total int, e Entry) {
			mu.Lock()
			calls = append(calls, done)
			mu.Unlock()
			assert.Equal(t, 5, total)
		},
	})
	require.NoError(t, err)

	var entries []Entry
	for _, n := range []string{"e", "d", "c", "b", "a"} {
		entries = append(entries, Entry{Name: n, InferPath: "/pred/" + n + ".json", SavePath: "/out/" + n})
	}
	agg, err := r.Run(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, agg.Names())
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, calls)
	_, a, _ := agg.Get("a")
	_, e, _ := agg.Get("e")
	assert.Greater(t, a.Metrics.MeanAP(), e.Metrics.MeanAP())
	for _, n := range []string{"a", "e"} {
		assert.True(t, fsys.Exists("/out/"+n+"/metrics_summary.json"), n)
	}
}

func TestRun_FirstErrorAborts(t *testing.T) {
	fsys := setup(t, map[string]float64{"a": 0.1})
	r, err := NewRunner(Options{GTPath: "/gt.json", FS: fsys})
	require.NoError(t, err)

	agg, err := r.Run(context.Background(), []Entry{
		{Name: "missing", InferPath: "/pred/none.json", SavePath: "/out/missing"},
		{Name: "a", InferPath: "/pred/a.json", SavePath: "/out/a"},
	})
	require.Error(t, err)
	assert.Nil(t, agg)
	assert.ErrorIs(t, err, detection.ErrMissingInputFile)
	assert.True(t, strings.HasPrefix(err.Error(), "missing: "))
	assert.False(t, fsys.Exists("/out/a/metrics_summary.json"))
}

func TestRun_SharedFilter(t *testing.T) {
	fsys := setup(t, map[string]float64{"a": 0.1})
	require.NoError(t, fsys.WriteFile("/filter.json", []byte(`{"vehicle": ["car"]}`), 0o644))
	r, err := NewRunner(Options{GTPath: "/gt.json", FilterPath: "/filter.json", FS: fsys})
	require.NoError(t, err)

	agg, err := r.Run(context.Background(), []Entry{{Name: "a", InferPath: "/pred/a.json", SavePath: "/out/a"}})
	require.NoError(t, err)
	_, res, _ := agg.Get("a")
	assert.Equal(t, []string{"vehicle"}, res.Config.ClassNames)
}

func TestWriteSummaryHTML(t *testing.T) {
	fsys := setup(t, map[string]float64{"a": 0.1, "b": 9})
	r, err := NewRunner(Options{GTPath: "/gt.json", FS: fsys})
	require.NoError(t, err)
	agg, err := r.Run(context.Background(), []Entry{
		{Name: "a", InferPath: "/pred/a.json", SavePath: "/out/a"},
		{Name: "b", InferPath: "/pred/b.json", SavePath: "/out/b"},
	})
	require.NoError(t, err)

	require.NoError(t, WriteSummaryHTML(fsys, "/report/summary.html", agg))
	data, err := fsys.ReadFile("/report/summary.html")
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "<html>")
	assert.Contains(t, html, "Detection evaluation")
	assert.Contains(t, html, "NDS")
}
