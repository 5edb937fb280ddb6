package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/boxeval/internal/fsutil"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

// Meta is the free-form metadata block stored next to predictions, for
// example {"use_lidar": true}. It is carried through to the outputs as is.
type Meta map[string]interface{}

type predictionFile struct {
	Results json.RawMessage `json:"results"`
	Meta    Meta            `json:"meta"`
}

// LoadGroundTruth reads a {sample_token: [box, ...]} file. A sample holding
// more than maxBoxes boxes fails with a *CapacityError.
func LoadGroundTruth(fsys fsutil.FileSystem, path string, maxBoxes int) (*EvalBoxes, error) {
	data, err := readInput(fsys, path)
	if err != nil {
		return nil, err
	}
	boxes := NewEvalBoxes()
	if err := json.Unmarshal(data, boxes); err != nil {
		return nil, &FileFormatError{Path: path, Err: err}
	}
	if err := checkCapacity(path, boxes, maxBoxes); err != nil {
		return nil, err
	}
	monitoring.Verbosef("Loaded ground truth annotations from %s. Found %d boxes for %d samples.",
		path, boxes.NumBoxes(), boxes.NumSamples())
	return boxes, nil
}

// LoadPrediction reads a {"results": {...}, "meta": {...}} file. Both keys
// are required. The same per-sample cap as LoadGroundTruth applies.
func LoadPrediction(fsys fsutil.FileSystem, path string, maxBoxes int) (*EvalBoxes, Meta, error) {
	data, err := readInput(fsys, path)
	if err != nil {
		return nil, nil, err
	}
	var file predictionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, &FileFormatError{Path: path, Err: err}
	}
	if file.Results == nil {
		return nil, nil, &FileFormatError{Path: path, Err: errors.New(`missing "results"`)}
	}
	if file.Meta == nil {
		return nil, nil, &FileFormatError{Path: path, Err: errors.New(`missing "meta"`)}
	}
	boxes := NewEvalBoxes()
	if err := json.Unmarshal(file.Results, boxes); err != nil {
		return nil, nil, &FileFormatError{Path: path, Err: err}
	}
	if err := checkCapacity(path, boxes, maxBoxes); err != nil {
		return nil, nil, err
	}
	monitoring.Verbosef("Loaded results from %s. Found detections for %d samples.", path, boxes.NumSamples())
	return boxes, file.Meta, nil
}

// WritePrediction writes boxes and meta in the prediction file layout.
func WritePrediction(fsys fsutil.FileSystem, path string, boxes *EvalBoxes, meta Meta) error {
	if meta == nil {
		meta = Meta{}
	}
	return fsutil.WriteJSON(fsys, path, struct {
		Results *EvalBoxes `json:"results"`
		Meta    Meta       `json:"meta"`
	}{boxes, meta})
}

func readInput(fsys fsutil.FileSystem, path string) ([]byte, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingInputFile, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func checkCapacity(path string, boxes *EvalBoxes, maxBoxes int) error {
	for _, t := range boxes.tokens {
		if n := len(boxes.boxes[t]); n > maxBoxes {
			return &CapacityError{Path: path, SampleToken: t, Count: n, Max: maxBoxes}
		}
	}
	return nil
}
