package detection

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boxeval/internal/fsutil"
)

func gtWithBoxes(n int) map[string][]Box {
	boxes := make([]Box, n)
	for i := range boxes {
		boxes[i] = testBox("s1", "car")
	}
	return map[string][]Box{"s1": boxes, "s2": {}}
}

func TestLoadGroundTruth_CapacityBoundary(t *testing.T) {
	const maxBoxes = 5
	fsys := fsutil.NewMemoryFileSystem()

	writeFile(t, fsys, "/gt/at_cap.json", gtWithBoxes(maxBoxes))
	boxes, err := LoadGroundTruth(fsys, "/gt/at_cap.json", maxBoxes)
	require.NoError(t, err)
	assert.Len(t, boxes.Boxes("s1"), maxBoxes)

	writeFile(t, fsys, "/gt/over_cap.json", gtWithBoxes(maxBoxes+1))
	_, err = LoadGroundTruth(fsys, "/gt/over_cap.json", maxBoxes)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, "s1", capErr.SampleToken)
	assert.Equal(t, maxBoxes+1, capErr.Count)
	assert.Equal(t, maxBoxes, capErr.Max)
}

func TestLoadGroundTruth_RoundTrip(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	in := NewEvalBoxes()
	for i := 0; i < 4; i++ {
		token := fmt.Sprintf("sample-%d", 3-i)
		for j := 0; j < i; j++ {
			in.AddBoxes(token, []Box{testBox(token, "pedestrian")})
		}
		in.AddSample(token)
	}
	require.NoError(t, fsutil.WriteJSON(fsys, "/gt.json", in))

	out, err := LoadGroundTruth(fsys, "/gt.json", 10)
	require.NoError(t, err)
	assert.Equal(t, in.SampleTokens(), out.SampleTokens())
	for _, token := range in.SampleTokens() {
		assert.Len(t, out.Boxes(token), len(in.Boxes(token)), token)
	}
}

func TestLoadGroundTruth_Errors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeFile(t, fsys, "/bad.json", `{"s1": [`)
	writeFile(t, fsys, "/list.json", `[{"s1": []}]`)

	_, err := LoadGroundTruth(fsys, "/missing.json", 10)
	assert.ErrorIs(t, err, ErrMissingInputFile)

	_, err = LoadGroundTruth(fsys, "/bad.json", 10)
	assert.ErrorIs(t, err, ErrFileFormat)

	_, err = LoadGroundTruth(fsys, "/list.json", 10)
	var fmtErr *FileFormatError
	require.True(t, errors.As(err, &fmtErr))
	assert.Equal(t, "/list.json", fmtErr.Path)
}

func TestLoadPrediction(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	boxes := NewEvalBoxes()
	boxes.AddBoxes("s1", []Box{testBox("s1", "car")})
	boxes.AddSample("s2")
	require.NoError(t, WritePrediction(fsys, "/pred.json", boxes, Meta{"use_lidar": true}))

	got, meta, err := LoadPrediction(fsys, "/pred.json", 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, got.SampleTokens())
	assert.Equal(t, true, meta["use_lidar"])
}

func TestLoadPrediction_SchemaErrors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeFile(t, fsys, "/no_meta.json", `{"results": {}}`)
	writeFile(t, fsys, "/no_results.json", `{"meta": {}}`)
	writeFile(t, fsys, "/over.json", map[string]interface{}{
		"results": gtWithBoxes(3),
		"meta":    map[string]bool{},
	})

	for _, path := range []string{"/no_meta.json", "/no_results.json"} {
		_, _, err := LoadPrediction(fsys, path, 10)
		assert.ErrorIs(t, err, ErrFileFormat, path)
	}
	_, _, err := LoadPrediction(fsys, "/over.json", 2)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}
