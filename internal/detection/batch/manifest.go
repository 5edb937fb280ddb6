package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/fsutil"
)

// Entry is one named prediction set of a manifest.
type Entry struct {
	Name      string `json:"name"`
	InferPath string `json:"infer_path"`
	SavePath  string `json:"save_path"`
}

// ParseManifest decodes a JSON array of entries. Every field is required.
func ParseManifest(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	for i, e := range entries {
		switch {
		case e.Name == "":
			return nil, fmt.Errorf("entry %d: name is required", i)
		case e.InferPath == "":
			return nil, fmt.Errorf("entry %d (%s): infer_path is required", i, e.Name)
		case e.SavePath == "":
			return nil, fmt.Errorf("entry %d (%s): save_path is required", i, e.Name)
		}
	}
	return entries, nil
}

// ParseInputManifest decodes a manifest used only to locate prediction
// files. infer_path is required; save_path is required only when
// needSavePath is set; name is optional.
func ParseInputManifest(data []byte, needSavePath bool) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	for i, e := range entries {
		switch {
		case e.InferPath == "":
			return nil, fmt.Errorf("entry %d: infer_path is required", i)
		case needSavePath && e.SavePath == "":
			return nil, fmt.Errorf("entry %d: save_path is required", i)
		}
	}
	return entries, nil
}

// LoadManifest reads and parses a batch manifest file.
func LoadManifest(fsys fsutil.FileSystem, path string) ([]Entry, error) {
	return loadManifest(fsys, path, ParseManifest)
}

// LoadInputManifest reads a manifest with ParseInputManifest.
func LoadInputManifest(fsys fsutil.FileSystem, path string, needSavePath bool) ([]Entry, error) {
	return loadManifest(fsys, path, func(data []byte) ([]Entry, error) {
		return ParseInputManifest(data, needSavePath)
	})
}

func loadManifest(fsys fsutil.FileSystem, path string, parse func([]byte) ([]Entry, error)) ([]Entry, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", detection.ErrMissingInputFile, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	entries, err := parse(data)
	if err != nil {
		return nil, &detection.FileFormatError{Path: path, Err: err}
	}
	return entries, nil
}
