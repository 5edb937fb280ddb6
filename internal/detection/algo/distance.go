package algo

import (
	"math"

	"github.com/banshee-data/boxeval/internal/detection"
)

// CenterDistance is the xy distance between two box centers.
func CenterDistance(gt, pred detection.Box) float64 {
	return math.Hypot(pred.Translation[0]-gt.Translation[0], pred.Translation[1]-gt.Translation[1])
}

// VelocityL2 is the L2 norm of the velocity difference. NaN velocities
// propagate.
func VelocityL2(gt, pred detection.Box) float64 {
	return math.Hypot(pred.Velocity[0]-gt.Velocity[0], pred.Velocity[1]-gt.Velocity[1])
}

// QuaternionYaw returns the rotation about the z axis of a (w, x, y, z)
// quaternion, in radians.
func QuaternionYaw(q [4]float64) float64 {
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 {
		return 0
	}
	w, x, y, z := q[0]/n, q[1]/n, q[2]/n, q[3]/n
	return math.Atan2(2*(x*y+w*z), 1-2*(y*y+z*z))
}

// AngleDiff returns the smallest absolute difference of two angles that
// repeat every period radians.
func AngleDiff(x, y, period float64) float64 {
	diff := pyMod(x-y+period/2, period) - period/2
	if diff > math.Pi {
		diff -= 2 * math.Pi
	}
	return math.Abs(diff)
}

// YawDiff is the absolute yaw difference of two boxes in [0, period/2].
func YawDiff(gt, pred detection.Box, period float64) float64 {
	return AngleDiff(QuaternionYaw(gt.Rotation), QuaternionYaw(pred.Rotation), period)
}

// ScaleIoU is the 3D IoU of two boxes after aligning their centers and
// orientation, so only their sizes matter.
func ScaleIoU(gt, pred detection.Box) float64 {
	volGT := gt.Size[0] * gt.Size[1] * gt.Size[2]
	volPred := pred.Size[0] * pred.Size[1] * pred.Size[2]
	inter := 1.0
	for i := range gt.Size {
		inter *= math.Min(gt.Size[i], pred.Size[i])
	}
	union := volGT + volPred - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// AttrAcc is 1 when the attributes match and 0 otherwise. It is NaN when the
// ground truth carries no attribute.
func AttrAcc(gt, pred detection.Box) float64 {
	if gt.AttributeName == "" {
		return math.NaN()
	}
	if gt.AttributeName == pred.AttributeName {
		return 1
	}
	return 0
}

// pyMod is the floored modulo, so the result has the sign of m.
func pyMod(a, m float64) float64 {
	r := math.Mod(a, m)
	if r != 0 && (r < 0) != (m < 0) {
		r += m
	}
	return r
}
