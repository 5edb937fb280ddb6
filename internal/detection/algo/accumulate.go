// Package algo computes detection metrics: greedy center-distance matching,
// precision/recall accumulation, average precision, true-positive errors and
// the composite detection score (NDS).
package algo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/boxeval/internal/detection"
)

// DistFunc measures the distance between a ground-truth and a predicted box.
type DistFunc func(gt, pred detection.Box) float64

type matchData struct {
	trans, vel, scale, orient, attr, conf []float64
}

// Accumulate matches predictions of class to ground truth within distTh and
// returns the interpolated precision/recall and TP error curves.
// Predictions are matched greedily in order of descending score; each
// ground-truth box is matched at most once.
func Accumulate(gt, pred *detection.EvalBoxes, class string, distFcn DistFunc, distTh float64) *MetricData {
	npos := 0
	for _, b := range gt.All() {
		if b.DetectionName == class {
			npos++
		}
	}
	if npos == 0 {
		return NoPredictions()
	}

	var preds []detection.Box
	for _, b := range pred.All() {
		if b.DetectionName == class {
			preds = append(preds, b)
		}
	}
	order := make([]int, len(preds))
	for i := range order {
		order[i] = i
	}
	// Descending score; ties go to the later prediction.
	sort.Slice(order, func(a, b int) bool {
		sa, sb := preds[order[a]].DetectionScore, preds[order[b]].DetectionScore
		if sa != sb {
			return sa > sb
		}
		return order[a] > order[b]
	})

	type gtKey struct {
		token string
		idx   int
	}
	taken := make(map[gtKey]bool)
	period := 2 * math.Pi
	if class == "barrier" {
		period = math.Pi
	}

	tp := make([]float64, 0, len(preds))
	fp := make([]float64, 0, len(preds))
	conf := make([]float64, 0, len(preds))
	var md matchData
	for _, i := range order {
		p := preds[i]
		minDist := math.Inf(1)
		matchIdx := -1
		for j, g := range gt.Boxes(p.SampleToken) {
			if g.DetectionName != class || taken[gtKey{p.SampleToken, j}] {
				continue
			}
			if d := distFcn(g, p); d < minDist {
				minDist, matchIdx = d, j
			}
		}

		conf = append(conf, p.DetectionScore)
		if minDist >= distTh {
			tp = append(tp, 0)
			fp = append(fp, 1)
			continue
		}
		taken[gtKey{p.SampleToken, matchIdx}] = true
		tp = append(tp, 1)
		fp = append(fp, 0)

		g := gt.Boxes(p.SampleToken)[matchIdx]
		md.trans = append(md.trans, CenterDistance(g, p))
		md.vel = append(md.vel, VelocityL2(g, p))
		md.scale = append(md.scale, 1-ScaleIoU(g, p))
		md.orient = append(md.orient, YawDiff(g, p, period))
		md.attr = append(md.attr, 1-AttrAcc(g, p))
		md.conf = append(md.conf, p.DetectionScore)
	}
	if len(md.trans) == 0 {
		return NoPredictions()
	}

	tpc := floats.CumSum(make([]float64, len(tp)), tp)
	fpc := floats.CumSum(make([]float64, len(fp)), fp)
	prec := make([]float64, len(tp))
	rec := make([]float64, len(tp))
	for i := range tpc {
		prec[i] = tpc[i] / (tpc[i] + fpc[i])
		rec[i] = tpc[i] / float64(npos)
	}

	recInterp := recallPoints()
	out := &MetricData{
		Recall:     recInterp,
		Precision:  interp(recInterp, rec, prec, prec[0], 0),
		Confidence: interp(recInterp, rec, conf, conf[0], 0),
	}

	// Error curves are indexed by confidence: interpolate the running mean
	// of each error at the confidence reached at every recall point.
	confAsc := reversed(out.Confidence)
	matchConfAsc := reversed(md.conf)
	errCurve := func(errs []float64) []float64 {
		tmp := reversed(cummean(errs))
		return reversed(interp(confAsc, matchConfAsc, tmp, tmp[0], tmp[len(tmp)-1]))
	}
	out.TransErr = errCurve(md.trans)
	out.VelErr = errCurve(md.vel)
	out.ScaleErr = errCurve(md.scale)
	out.OrientErr = errCurve(md.orient)
	out.AttrErr = errCurve(md.attr)
	return out
}

// CalcAP integrates the precision curve above minRecall, discounting
// precision below minPrecision, normalised to [0, 1].
func CalcAP(md *MetricData, minRecall, minPrecision float64) float64 {
	first := int(math.RoundToEven(100*minRecall)) + 1
	if first >= len(md.Precision) {
		return 0
	}
	prec := make([]float64, len(md.Precision)-first)
	for i, p := range md.Precision[first:] {
		prec[i] = math.Max(p-minPrecision, 0)
	}
	return stat.Mean(prec, nil) / (1 - minPrecision)
}

// CalcTP averages a TP error curve between minRecall and the highest
// recall reached. It returns 1 when that range is empty.
func CalcTP(md *MetricData, minRecall float64, metric string) (float64, error) {
	errs, err := md.Err(metric)
	if err != nil {
		return 0, err
	}
	first := int(math.RoundToEven(100*minRecall)) + 1
	last := md.MaxRecallInd()
	if last < first {
		return 1, nil
	}
	return stat.Mean(errs[first:last+1], nil), nil
}

// interp is piecewise-linear interpolation of (xp, fp) at x. xp must be
// non-decreasing. Points below xp[0] take left and points above the last xp
// take right.
func interp(x, xp, fp []float64, left, right float64) []float64 {
	out := make([]float64, len(x))
	n := len(xp)
	for i, v := range x {
		switch {
		case v < xp[0]:
			out[i] = left
		case v > xp[n-1]:
			out[i] = right
		case v == xp[n-1]:
			out[i] = fp[n-1]
		default:
			// Last j with xp[j] <= v.
			j := sort.Search(n, func(k int) bool { return xp[k] > v }) - 1
			if xp[j] == v {
				out[i] = fp[j]
				continue
			}
			slope := (fp[j+1] - fp[j]) / (xp[j+1] - xp[j])
			out[i] = slope*(v-xp[j]) + fp[j]
		}
	}
	return out
}

// cummean is the running mean ignoring NaN values. A series made only of
// NaN yields ones.
func cummean(x []float64) []float64 {
	out := make([]float64, len(x))
	if countNaN(x) == len(x) {
		floats.AddConst(1, out)
		return out
	}
	var sum float64
	var count int
	for i, v := range x {
		if !math.IsNaN(v) {
			sum += v
			count++
		}
		if count > 0 {
			out[i] = sum / float64(count)
		}
	}
	return out
}

func countNaN(x []float64) int {
	n := 0
	for _, v := range x {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

func reversed(s []float64) []float64 {
	out := append([]float64(nil), s...)
	floats.Reverse(out)
	return out
}
