package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"
)

// DefaultConfigName names the built-in configuration used when no
// --config_path is given.
const DefaultConfigName = "detection_cvpr_2019"

// CenterDistance is the only supported matching distance function.
const CenterDistance = "center_distance"

// defaultClassRange lists the challenge classes and their evaluation radius
// in metres, in the canonical reporting order.
var defaultClassRange = []classRangeEntry{
	{"car", 50},
	{"truck", 50},
	{"bus", 50},
	{"trailer", 50},
	{"construction_vehicle", 50},
	{"pedestrian", 40},
	{"motorcycle", 40},
	{"bicycle", 40},
	{"traffic_cone", 30},
	{"barrier", 30},
}

type classRangeEntry struct {
	name  string
	meter float64
}

// DetectionConfig is the metric configuration for one evaluation run.
// Values are treated as immutable once built; derive variants with the
// With* methods instead of editing shared instances.
type DetectionConfig struct {
	// ClassRange maps class name to the max ego distance (m) kept by the
	// range prefilter.
	ClassRange map[string]float64
	// ClassNames is the ordered class list scored and rendered.
	ClassNames []string

	DistFcn           string
	DistThs           []float64
	DistThTP          float64
	MinRecall         float64
	MinPrecision      float64
	MaxBoxesPerSample int
	MeanAPWeight      float64
}

// detectionConfigFile is the on-disk schema. Omitted fields fall back to the
// defaults, so partial configs are safe.
type detectionConfigFile struct {
	ClassRange        map[string]float64 `json:"class_range,omitempty"`
	DistFcn           *string            `json:"dist_fcn,omitempty"`
	DistThs           []float64          `json:"dist_ths,omitempty"`
	DistThTP          *float64           `json:"dist_th_tp,omitempty"`
	MinRecall         *float64           `json:"min_recall,omitempty"`
	MinPrecision      *float64           `json:"min_precision,omitempty"`
	MaxBoxesPerSample *int               `json:"max_boxes_per_sample,omitempty"`
	MeanAPWeight      *float64           `json:"mean_ap_weight,omitempty"`
}

// DefaultDetectionConfig returns the CVPR 2019 detection challenge configuration.
func DefaultDetectionConfig() *DetectionConfig {
	cfg := &DetectionConfig{
		ClassRange:        make(map[string]float64, len(defaultClassRange)),
		DistFcn:           CenterDistance,
		DistThs:           []float64{0.5, 1.0, 2.0, 4.0},
		DistThTP:          2.0,
		MinRecall:         0.1,
		MinPrecision:      0.1,
		MaxBoxesPerSample: 500,
		MeanAPWeight:      5,
	}
	for _, e := range defaultClassRange {
		cfg.ClassRange[e.name] = e.meter
		cfg.ClassNames = append(cfg.ClassNames, e.name)
	}
	return cfg
}

// LoadDetectionConfig loads a DetectionConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Comments and
// trailing commas are accepted. The key order of class_range defines the
// class reporting order.
func LoadDetectionConfig(path string) (*DetectionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseDetectionConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// ParseDetectionConfig parses and validates configuration JSON.
func ParseDetectionConfig(data []byte) (*DetectionConfig, error) {
	root, err := hujson.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	root.Standardize()

	var file detectionConfigFile
	if err := json.Unmarshal(root.Pack(), &file); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg := DefaultDetectionConfig()
	if file.ClassRange != nil {
		cfg.ClassRange = file.ClassRange
		cfg.ClassNames = memberNames(root, "class_range")
	}
	if file.DistFcn != nil {
		cfg.DistFcn = *file.DistFcn
	}
	if file.DistThs != nil {
		cfg.DistThs = file.DistThs
	}
	if file.DistThTP != nil {
		cfg.DistThTP = *file.DistThTP
	}
	if file.MinRecall != nil {
		cfg.MinRecall = *file.MinRecall
	}
	if file.MinPrecision != nil {
		cfg.MinPrecision = *file.MinPrecision
	}
	if file.MaxBoxesPerSample != nil {
		cfg.MaxBoxesPerSample = *file.MaxBoxesPerSample
	}
	if file.MeanAPWeight != nil {
		cfg.MeanAPWeight = *file.MeanAPWeight
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// memberNames returns the member names of the object stored under key in
// root, in document order. Duplicate names keep their first position.
func memberNames(root hujson.Value, key string) []string {
	obj, ok := root.Value.(*hujson.Object)
	if !ok {
		return nil
	}
	var names []string
	for _, m := range obj.Members {
		if memberName(m) != key {
			continue
		}
		inner, ok := m.Value.Value.(*hujson.Object)
		if !ok {
			return nil
		}
		names = names[:0]
		seen := make(map[string]bool, len(inner.Members))
		for _, im := range inner.Members {
			n := memberName(im)
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

func memberName(m hujson.ObjectMember) string {
	lit, ok := m.Name.Value.(hujson.Literal)
	if !ok {
		return ""
	}
	return lit.String()
}

// Validate checks that the configuration values are valid.
func (c *DetectionConfig) Validate() error {
	if len(c.ClassNames) == 0 {
		return fmt.Errorf("class_range must name at least one class")
	}
	for _, name := range c.ClassNames {
		if name == "" {
			return fmt.Errorf("class_range contains an empty class name")
		}
		if r, ok := c.ClassRange[name]; ok && (r < 0 || math.IsNaN(r)) {
			return fmt.Errorf("class_range[%q] must be non-negative, got %v", name, r)
		}
	}
	if c.DistFcn != CenterDistance {
		return fmt.Errorf("unsupported dist_fcn %q (only %s)", c.DistFcn, CenterDistance)
	}
	if len(c.DistThs) == 0 {
		return fmt.Errorf("dist_ths must not be empty")
	}
	found := false
	for _, th := range c.DistThs {
		if th <= 0 {
			return fmt.Errorf("dist_ths must be positive, got %v", th)
		}
		if th == c.DistThTP {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("dist_th_tp %v must be one of dist_ths %v", c.DistThTP, c.DistThs)
	}
	if c.MinRecall < 0 || c.MinRecall >= 1 {
		return fmt.Errorf("min_recall must be in [0, 1), got %v", c.MinRecall)
	}
	if c.MinPrecision < 0 || c.MinPrecision >= 1 {
		return fmt.Errorf("min_precision must be in [0, 1), got %v", c.MinPrecision)
	}
	if c.MaxBoxesPerSample <= 0 {
		return fmt.Errorf("max_boxes_per_sample must be positive, got %d", c.MaxBoxesPerSample)
	}
	if c.MeanAPWeight < 0 {
		return fmt.Errorf("mean_ap_weight must be non-negative, got %v", c.MeanAPWeight)
	}
	return nil
}

// Clone returns a deep copy.
func (c *DetectionConfig) Clone() *DetectionConfig {
	out := *c
	out.ClassRange = make(map[string]float64, len(c.ClassRange))
	for k, v := range c.ClassRange {
		out.ClassRange[k] = v
	}
	out.ClassNames = append([]string(nil), c.ClassNames...)
	out.DistThs = append([]float64(nil), c.DistThs...)
	return &out
}

// WithClassNames returns a copy scoring only names. merged maps each new
// name to the old classes folded into it; the new class range is the widest
// range among those old classes, or 0 when none is known.
func (c *DetectionConfig) WithClassNames(names []string, merged map[string][]string) *DetectionConfig {
	out := c.Clone()
	out.ClassNames = append([]string(nil), names...)
	out.ClassRange = make(map[string]float64, len(names))
	for _, name := range names {
		var widest float64
		if r, ok := c.ClassRange[name]; ok {
			widest = r
		}
		for _, old := range merged[name] {
			if r, ok := c.ClassRange[old]; ok && r > widest {
				widest = r
			}
		}
		out.ClassRange[name] = widest
	}
	return out
}

// HasClass reports whether name is scored.
func (c *DetectionConfig) HasClass(name string) bool {
	for _, n := range c.ClassNames {
		if n == name {
			return true
		}
	}
	return false
}

// MarshalJSON writes the configuration in its file schema with class_range
// in ClassNames order.
func (c *DetectionConfig) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteString(`{"class_range":{`)
	for i, name := range c.ClassNames {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(c.ClassRange[name], 'g', -1, 64))
	}
	b.WriteString(`},`)

	rest, err := json.Marshal(struct {
		DistFcn           string    `json:"dist_fcn"`
		DistThs           []float64 `json:"dist_ths"`
		DistThTP          float64   `json:"dist_th_tp"`
		MinRecall         float64   `json:"min_recall"`
		MinPrecision      float64   `json:"min_precision"`
		MaxBoxesPerSample int       `json:"max_boxes_per_sample"`
		MeanAPWeight      float64   `json:"mean_ap_weight"`
	}{c.DistFcn, c.DistThs, c.DistThTP, c.MinRecall, c.MinPrecision, c.MaxBoxesPerSample, c.MeanAPWeight})
	if err != nil {
		return nil, err
	}
	b.Write(rest[1:])
	return []byte(b.String()), nil
}

// ThresholdKey formats a distance threshold the way metric files key it
// ("0.5", "1.0", "2.0").
func ThresholdKey(th float64) string {
	s := strconv.FormatFloat(th, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
