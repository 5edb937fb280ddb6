package detection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/boxeval/internal/fsutil"
)

func testBox(token, name string) Box {
	return Box{
		SampleToken:    token,
		Translation:    [3]float64{1, 2, 0.5},
		Size:           [3]float64{1.8, 4.2, 1.5},
		Rotation:       [4]float64{1, 0, 0, 0},
		NumPts:         -1,
		DetectionName:  name,
		DetectionScore: -1,
	}
}

func writeFile(t *testing.T, fsys *fsutil.MemoryFileSystem, path string, v interface{}) {
	t.Helper()
	var data []byte
	switch s := v.(type) {
	case string:
		data = []byte(s)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	require.NoError(t, fsys.WriteFile(path, data, 0o644))
}
