// Package detection holds the 3D detection box model, its JSON codec, the
// ground-truth and prediction loaders and the class filter applied before
// scoring.
package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Box is one detected or ground-truth object instance.
type Box struct {
	SampleToken string
	// Translation is the box center (x, y, z) in metres, global frame.
	Translation [3]float64
	// Size is (width, length, height) in metres.
	Size [3]float64
	// Rotation is a (w, x, y, z) quaternion.
	Rotation [4]float64
	// Velocity is (vx, vy) in m/s. Either component may be NaN.
	Velocity [2]float64
	// EgoTranslation is the box center relative to the ego vehicle.
	EgoTranslation [3]float64
	// NumPts is the number of lidar and radar points inside the box, -1
	// when unknown.
	NumPts int

	DetectionName  string
	DetectionScore float64
	AttributeName  string
}

// EgoDist is the xy distance of the box from the ego vehicle.
func (b Box) EgoDist() float64 {
	return math.Hypot(b.EgoTranslation[0], b.EgoTranslation[1])
}

// WithClass returns a copy of b labelled name.
func (b Box) WithClass(name string) Box {
	b.DetectionName = name
	return b
}

type boxJSON struct {
	SampleToken    string      `json:"sample_token"`
	Translation    []float64   `json:"translation"`
	Size           []float64   `json:"size"`
	Rotation       []float64   `json:"rotation"`
	Velocity       []JSONFloat `json:"velocity"`
	EgoTranslation []float64   `json:"ego_translation,omitempty"`
	NumPts         *int        `json:"num_pts,omitempty"`
	DetectionName  string      `json:"detection_name"`
	DetectionScore *JSONFloat  `json:"detection_score,omitempty"`
	AttributeName  string      `json:"attribute_name"`
}

// MarshalJSON writes the box with every field present; a NaN velocity is
// written as null.
func (b Box) MarshalJSON() ([]byte, error) {
	score := JSONFloat(b.DetectionScore)
	numPts := b.NumPts
	return json.Marshal(boxJSON{
		SampleToken:    b.SampleToken,
		Translation:    b.Translation[:],
		Size:           b.Size[:],
		Rotation:       b.Rotation[:],
		Velocity:       []JSONFloat{JSONFloat(b.Velocity[0]), JSONFloat(b.Velocity[1])},
		EgoTranslation: b.EgoTranslation[:],
		NumPts:         &numPts,
		DetectionName:  b.DetectionName,
		DetectionScore: &score,
		AttributeName:  b.AttributeName,
	})
}

// UnmarshalJSON reads a box, applying defaults for the optional fields
// (ego_translation 0, num_pts -1, detection_score -1, attribute_name "").
func (b *Box) UnmarshalJSON(data []byte) error {
	var raw boxJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Box{
		SampleToken:    raw.SampleToken,
		NumPts:         -1,
		DetectionName:  raw.DetectionName,
		DetectionScore: -1,
		AttributeName:  raw.AttributeName,
	}
	if err := copyVec(out.Translation[:], raw.Translation, "translation", true); err != nil {
		return err
	}
	if err := copyVec(out.Size[:], raw.Size, "size", true); err != nil {
		return err
	}
	if err := copyVec(out.Rotation[:], raw.Rotation, "rotation", true); err != nil {
		return err
	}
	if len(raw.Velocity) != 2 {
		return fmt.Errorf("velocity: want 2 values, got %d", len(raw.Velocity))
	}
	out.Velocity = [2]float64{float64(raw.Velocity[0]), float64(raw.Velocity[1])}
	if raw.EgoTranslation != nil {
		if err := copyVec(out.EgoTranslation[:], raw.EgoTranslation, "ego_translation", true); err != nil {
			return err
		}
	}
	if raw.NumPts != nil {
		out.NumPts = *raw.NumPts
	}
	if raw.DetectionScore != nil {
		out.DetectionScore = float64(*raw.DetectionScore)
	}
	if out.DetectionName == "" {
		return fmt.Errorf("detection_name is required")
	}
	*b = out
	return nil
}

func copyVec(dst, src []float64, field string, finite bool) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%s: want %d values, got %d", field, len(dst), len(src))
	}
	for i, v := range src {
		if finite && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return fmt.Errorf("%s[%d]: not a finite number", field, i)
		}
	}
	copy(dst, src)
	return nil
}

// JSONFloat is a float64 that encodes NaN and infinities as null and
// decodes null or "NaN" back to NaN.
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`"NaN"`)) {
		*f = JSONFloat(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = JSONFloat(v)
	return nil
}
