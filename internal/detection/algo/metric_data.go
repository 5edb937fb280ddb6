package algo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
)

// NElem is the number of recall points each curve is sampled at.
const NElem = 101

// TP metric names in reporting order.
const (
	TransErr  = "trans_err"
	ScaleErr  = "scale_err"
	OrientErr = "orient_err"
	VelErr    = "vel_err"
	AttrErr   = "attr_err"
)

// TPMetrics lists the true-positive error metrics in reporting order.
var TPMetrics = []string{TransErr, ScaleErr, OrientErr, VelErr, AttrErr}

// TPMetricShortNames maps each TP metric to its summary label.
var TPMetricShortNames = map[string]string{
	TransErr:  "mATE",
	ScaleErr:  "mASE",
	OrientErr: "mAOE",
	VelErr:    "mAVE",
	AttrErr:   "mAAE",
}

// MetricData holds the curves of one (class, distance threshold) pair, each
// sampled at NElem recall points.
type MetricData struct {
	Recall     []float64 `json:"recall"`
	Precision  []float64 `json:"precision"`
	Confidence []float64 `json:"confidence"`
	TransErr   []float64 `json:"trans_err"`
	VelErr     []float64 `json:"vel_err"`
	ScaleErr   []float64 `json:"scale_err"`
	OrientErr  []float64 `json:"orient_err"`
	AttrErr    []float64 `json:"attr_err"`
}

// NoPredictions is the curve set used when a class has no ground truth or no
// matched prediction: zero precision and maximal errors.
func NoPredictions() *MetricData {
	return &MetricData{
		Recall:     recallPoints(),
		Precision:  make([]float64, NElem),
		Confidence: make([]float64, NElem),
		TransErr:   ones(NElem),
		VelErr:     ones(NElem),
		ScaleErr:   ones(NElem),
		OrientErr:  ones(NElem),
		AttrErr:    ones(NElem),
	}
}

// Err returns the error curve named by one of the TP metric names.
func (md *MetricData) Err(metric string) ([]float64, error) {
	switch metric {
	case TransErr:
		return md.TransErr, nil
	case ScaleErr:
		return md.ScaleErr, nil
	case OrientErr:
		return md.OrientErr, nil
	case VelErr:
		return md.VelErr, nil
	case AttrErr:
		return md.AttrErr, nil
	}
	return nil, fmt.Errorf("unknown TP metric %q", metric)
}

// MaxRecallInd is the index of the last recall point with a non-zero
// confidence, or 0 when there is none.
func (md *MetricData) MaxRecallInd() int {
	for i := len(md.Confidence) - 1; i >= 0; i-- {
		if md.Confidence[i] != 0 {
			return i
		}
	}
	return 0
}

// MaxRecall is the recall reached at MaxRecallInd.
func (md *MetricData) MaxRecall() float64 {
	return md.Recall[md.MaxRecallInd()]
}

// MarshalJSON writes the curves with NaN values as null.
func (md *MetricData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Recall     []detection.JSONFloat `json:"recall"`
		Precision  []detection.JSONFloat `json:"precision"`
		Confidence []detection.JSONFloat `json:"confidence"`
		TransErr   []detection.JSONFloat `json:"trans_err"`
		VelErr     []detection.JSONFloat `json:"vel_err"`
		ScaleErr   []detection.JSONFloat `json:"scale_err"`
		OrientErr  []detection.JSONFloat `json:"orient_err"`
		AttrErr    []detection.JSONFloat `json:"attr_err"`
	}{
		jsonFloats(md.Recall), jsonFloats(md.Precision), jsonFloats(md.Confidence),
		jsonFloats(md.TransErr), jsonFloats(md.VelErr), jsonFloats(md.ScaleErr),
		jsonFloats(md.OrientErr), jsonFloats(md.AttrErr),
	})
}

// MetricDataKey identifies one accumulated curve set.
type MetricDataKey struct {
	Class  string
	DistTh float64
}

func (k MetricDataKey) String() string {
	return k.Class + ":" + config.ThresholdKey(k.DistTh)
}

// MetricDataList holds the curve sets of an evaluation in insertion order.
type MetricDataList struct {
	keys []MetricDataKey
	data map[MetricDataKey]*MetricData
}

// NewMetricDataList returns an empty list.
func NewMetricDataList() *MetricDataList {
	return &MetricDataList{data: make(map[MetricDataKey]*MetricData)}
}

// Set stores md for (class, distTh), replacing any previous value.
func (l *MetricDataList) Set(class string, distTh float64, md *MetricData) {
	k := MetricDataKey{class, distTh}
	if _, ok := l.data[k]; !ok {
		l.keys = append(l.keys, k)
	}
	l.data[k] = md
}

// Get returns the curves for (class, distTh).
func (l *MetricDataList) Get(class string, distTh float64) (*MetricData, bool) {
	md, ok := l.data[MetricDataKey{class, distTh}]
	return md, ok
}

// Keys returns the stored keys in insertion order.
func (l *MetricDataList) Keys() []MetricDataKey {
	return append([]MetricDataKey(nil), l.keys...)
}

// ByClass returns the curves of one class keyed by threshold.
func (l *MetricDataList) ByClass(class string) map[float64]*MetricData {
	out := make(map[float64]*MetricData)
	for _, k := range l.keys {
		if k.Class == class {
			out[k.DistTh] = l.data[k]
		}
	}
	return out
}

// ByDistTh returns the curves of one threshold keyed by class.
func (l *MetricDataList) ByDistTh(distTh float64) map[string]*MetricData {
	out := make(map[string]*MetricData)
	for _, k := range l.keys {
		if k.DistTh == distTh {
			out[k.Class] = l.data[k]
		}
	}
	return out
}

// MarshalJSON writes {"class:th": {...}} in insertion order.
func (l *MetricDataList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range l.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(k.String())
		buf.Write(name)
		buf.WriteByte(':')
		val, err := l.data[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// recallPoints returns NElem evenly spaced recall values from 0 to 1.
func recallPoints() []float64 {
	r := floats.Span(make([]float64, NElem), 0, 1)
	r[NElem-1] = 1
	return r
}

func ones(n int) []float64 {
	s := make([]float64, n)
	floats.AddConst(1, s)
	return s
}

func jsonFloats(s []float64) []detection.JSONFloat {
	out := make([]detection.JSONFloat, len(s))
	for i, v := range s {
		out[i] = detection.JSONFloat(v)
	}
	return out
}
