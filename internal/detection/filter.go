package detection

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"

	"github.com/banshee-data/boxeval/internal/fsutil"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

// ClassMapping folds the Old class names into New.
type ClassMapping struct {
	New string
	Old []string
}

// ClassFilterSpec is an ordered list of class mappings. Order matters: when
// one old class is listed under several new classes the last mapping wins.
type ClassFilterSpec []ClassMapping

// ParseClassFilterSpec parses {"new": ["old", ...], ...}. Comments and
// trailing commas are accepted. A repeated new class replaces the earlier
// entry at its original position.
func ParseClassFilterSpec(data []byte) (ClassFilterSpec, error) {
	root, err := hujson.Parse(data)
	if err != nil {
		return nil, err
	}
	root.Standardize()
	obj, ok := root.Value.(*hujson.Object)
	if !ok {
		return nil, fmt.Errorf("class filter must be a JSON object")
	}
	var spec ClassFilterSpec
	pos := make(map[string]int, len(obj.Members))
	for _, m := range obj.Members {
		name := m.Name.Value.(hujson.Literal).String()
		var old []string
		if err := json.Unmarshal(m.Value.Pack(), &old); err != nil {
			return nil, fmt.Errorf("class %q: %w", name, err)
		}
		if i, dup := pos[name]; dup {
			spec[i].Old = old
			continue
		}
		pos[name] = len(spec)
		spec = append(spec, ClassMapping{New: name, Old: old})
	}
	return spec, nil
}

// LoadClassFilterSpec reads a class filter file.
func LoadClassFilterSpec(fsys fsutil.FileSystem, path string) (ClassFilterSpec, error) {
	data, err := readInput(fsys, path)
	if err != nil {
		return nil, err
	}
	spec, err := ParseClassFilterSpec(data)
	if err != nil {
		return nil, &FileFormatError{Path: path, Err: err}
	}
	return spec, nil
}

// NewClassNames returns the target class names in file order.
func (s ClassFilterSpec) NewClassNames() []string {
	names := make([]string, len(s))
	for i, m := range s {
		names[i] = m.New
	}
	return names
}

// Merged maps each new class to the old classes folded into it.
func (s ClassFilterSpec) Merged() map[string][]string {
	out := make(map[string][]string, len(s))
	for _, m := range s {
		out[m.New] = append([]string(nil), m.Old...)
	}
	return out
}

// ReverseIndex maps every old class name to its new name. Collisions are
// resolved silently in favour of the later mapping.
func (s ClassFilterSpec) ReverseIndex() map[string]string {
	idx := make(map[string]string)
	for _, m := range s {
		for _, old := range m.Old {
			if prev, ok := idx[old]; ok && prev != m.New {
				monitoring.Verbosef("class %q mapped to both %q and %q, using %q", old, prev, m.New, m.New)
			}
			idx[old] = m.New
		}
	}
	return idx
}

// FilterAndRemap returns a copy of boxes where every box whose class is
// listed in spec is relabelled to its new class and every other box is
// dropped. All sample tokens of boxes are kept. The input is not modified.
func FilterAndRemap(boxes *EvalBoxes, spec ClassFilterSpec) *EvalBoxes {
	idx := spec.ReverseIndex()
	return boxes.Map(func(b Box) (Box, bool) {
		name, ok := idx[b.DetectionName]
		if !ok {
			return b, false
		}
		return b.WithClass(name), true
	})
}
