package detection

import "github.com/banshee-data/boxeval/internal/config"

// RangeFilterStats counts what FilterByRange removed.
type RangeFilterStats struct {
	Total       int
	UnknownName int
	OutOfRange  int
	NoPoints    int
}

// Kept is the number of boxes that survived.
func (s RangeFilterStats) Kept() int {
	return s.Total - s.UnknownName - s.OutOfRange - s.NoPoints
}

// FilterByRange drops boxes whose class is not in cfg.ClassRange, boxes
// at or beyond their class range from the ego vehicle and boxes known to
// contain no points (num_pts == 0). Sample tokens are preserved.
func FilterByRange(boxes *EvalBoxes, cfg *config.DetectionConfig) (*EvalBoxes, RangeFilterStats) {
	var stats RangeFilterStats
	out := boxes.Map(func(b Box) (Box, bool) {
		stats.Total++
		maxDist, ok := cfg.ClassRange[b.DetectionName]
		switch {
		case !ok:
			stats.UnknownName++
			return b, false
		case b.EgoDist() >= maxDist:
			stats.OutOfRange++
			return b, false
		case b.NumPts == 0:
			stats.NoPoints++
			return b, false
		}
		return b, true
	})
	return out, stats
}
