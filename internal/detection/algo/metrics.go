package algo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
)

// DetectionMetrics aggregates the per-class AP and TP errors of one
// evaluation into the mean AP and the composite detection score.
type DetectionMetrics struct {
	cfg *config.DetectionConfig

	labelAP map[string]map[float64]float64
	labelTP map[string]map[string]float64

	EvalTime time.Duration
}

// NewDetectionMetrics returns an empty result for cfg.
func NewDetectionMetrics(cfg *config.DetectionConfig) *DetectionMetrics {
	return &DetectionMetrics{
		cfg:     cfg,
		labelAP: make(map[string]map[float64]float64),
		labelTP: make(map[string]map[string]float64),
	}
}

// Config returns the configuration the metrics were computed with.
func (m *DetectionMetrics) Config() *config.DetectionConfig { return m.cfg }

// AddLabelAP records the AP of class at distTh.
func (m *DetectionMetrics) AddLabelAP(class string, distTh, ap float64) {
	if m.labelAP[class] == nil {
		m.labelAP[class] = make(map[float64]float64)
	}
	m.labelAP[class][distTh] = ap
}

// LabelAP returns the AP of class at distTh.
func (m *DetectionMetrics) LabelAP(class string, distTh float64) float64 {
	return m.labelAP[class][distTh]
}

// AddLabelTP records a TP error of class.
func (m *DetectionMetrics) AddLabelTP(class, metric string, v float64) {
	if m.labelTP[class] == nil {
		m.labelTP[class] = make(map[string]float64)
	}
	m.labelTP[class][metric] = v
}

// LabelTP returns a TP error of class, NaN if it was never recorded.
func (m *DetectionMetrics) LabelTP(class, metric string) float64 {
	v, ok := m.labelTP[class][metric]
	if !ok {
		return math.NaN()
	}
	return v
}

// MeanDistAP is the AP of class averaged over the distance thresholds.
func (m *DetectionMetrics) MeanDistAP(class string) float64 {
	aps := make([]float64, 0, len(m.cfg.DistThs))
	for _, th := range m.cfg.DistThs {
		aps = append(aps, m.labelAP[class][th])
	}
	return stat.Mean(aps, nil)
}

// MeanAP is the mean of MeanDistAP over all classes.
func (m *DetectionMetrics) MeanAP() float64 {
	aps := make([]float64, 0, len(m.cfg.ClassNames))
	for _, c := range m.cfg.ClassNames {
		aps = append(aps, m.MeanDistAP(c))
	}
	return stat.Mean(aps, nil)
}

// TPError is metric averaged over the classes that define it. It is NaN
// when no class does.
func (m *DetectionMetrics) TPError(metric string) float64 {
	var sum float64
	var n int
	for _, c := range m.cfg.ClassNames {
		if v := m.LabelTP(c, metric); !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// TPScore maps a TP error to a score in [0, 1]. An undefined error scores 0.
func (m *DetectionMetrics) TPScore(metric string) float64 {
	s := 1 - m.TPError(metric)
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	return s
}

// NDScore is the weighted combination of mean AP and the TP scores.
func (m *DetectionMetrics) NDScore() float64 {
	total := m.cfg.MeanAPWeight * m.MeanAP()
	for _, metric := range TPMetrics {
		total += m.TPScore(metric)
	}
	return total / (m.cfg.MeanAPWeight + float64(len(TPMetrics)))
}

// Summary is the serialized form of DetectionMetrics. Maps keyed by class
// follow the configured class order when written through MarshalJSON.
type Summary struct {
	LabelAPs      map[string]map[string]float64 `json:"label_aps"`
	MeanDistAPs   map[string]float64            `json:"mean_dist_aps"`
	MeanAP        float64                       `json:"mean_ap"`
	LabelTPErrors map[string]map[string]float64 `json:"label_tp_errors"`
	TPErrors      map[string]float64            `json:"tp_errors"`
	TPScores      map[string]float64            `json:"tp_scores"`
	NDScore       float64                       `json:"nd_score"`
	EvalTime      float64                       `json:"eval_time"`
}

// Summary flattens the metrics into plain values.
func (m *DetectionMetrics) Summary() Summary {
	s := Summary{
		LabelAPs:      make(map[string]map[string]float64),
		MeanDistAPs:   make(map[string]float64),
		MeanAP:        m.MeanAP(),
		LabelTPErrors: make(map[string]map[string]float64),
		TPErrors:      make(map[string]float64),
		TPScores:      make(map[string]float64),
		NDScore:       m.NDScore(),
		EvalTime:      m.EvalTime.Seconds(),
	}
	for _, c := range m.cfg.ClassNames {
		s.LabelAPs[c] = make(map[string]float64)
		for _, th := range m.cfg.DistThs {
			s.LabelAPs[c][config.ThresholdKey(th)] = m.LabelAP(c, th)
		}
		s.MeanDistAPs[c] = m.MeanDistAP(c)
		s.LabelTPErrors[c] = make(map[string]float64)
		for _, metric := range TPMetrics {
			s.LabelTPErrors[c][metric] = m.LabelTP(c, metric)
		}
	}
	for _, metric := range TPMetrics {
		s.TPErrors[metric] = m.TPError(metric)
		s.TPScores[metric] = m.TPScore(metric)
	}
	return s
}

// MarshalJSON writes the summary followed by the configuration. Class and
// threshold keys keep their configured order; NaN is written as null.
func (m *DetectionMetrics) MarshalJSON() ([]byte, error) {
	s := m.Summary()
	thKeys := make([]string, len(m.cfg.DistThs))
	for i, th := range m.cfg.DistThs {
		thKeys[i] = config.ThresholdKey(th)
	}

	w := &objectWriter{}
	w.field("label_aps", func() error {
		return w.nested(m.cfg.ClassNames, func(c string) error { return w.floats(thKeys, s.LabelAPs[c]) })
	})
	w.field("mean_dist_aps", func() error { return w.floats(m.cfg.ClassNames, s.MeanDistAPs) })
	w.field("mean_ap", func() error { return w.value(detection.JSONFloat(s.MeanAP)) })
	w.field("label_tp_errors", func() error {
		return w.nested(m.cfg.ClassNames, func(c string) error { return w.floats(TPMetrics, s.LabelTPErrors[c]) })
	})
	w.field("tp_errors", func() error { return w.floats(TPMetrics, s.TPErrors) })
	w.field("tp_scores", func() error { return w.floats(TPMetrics, s.TPScores) })
	w.field("nd_score", func() error { return w.value(detection.JSONFloat(s.NDScore)) })
	w.field("eval_time", func() error { return w.value(s.EvalTime) })
	w.field("cfg", func() error { return w.value(m.cfg) })
	return w.close()
}

// objectWriter builds a JSON object with a fixed key order.
type objectWriter struct {
	buf bytes.Buffer
	n   int
	err error
}

func (w *objectWriter) field(name string, body func() error) {
	if w.err != nil {
		return
	}
	if w.n == 0 {
		w.buf.WriteByte('{')
	} else {
		w.buf.WriteByte(',')
	}
	w.n++
	fmt.Fprintf(&w.buf, "%q:", name)
	w.err = body()
}

func (w *objectWriter) value(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.buf.Write(b)
	return nil
}

func (w *objectWriter) floats(keys []string, vals map[string]float64) error {
	return w.nested(keys, func(k string) error { return w.value(detection.JSONFloat(vals[k])) })
}

func (w *objectWriter) nested(keys []string, body func(string) error) error {
	w.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		name, _ := json.Marshal(k)
		w.buf.Write(name)
		w.buf.WriteByte(':')
		if err := body(k); err != nil {
			return err
		}
	}
	w.buf.WriteByte('}')
	return nil
}

func (w *objectWriter) close() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	if w.n == 0 {
		w.buf.WriteByte('{')
	}
	w.buf.WriteByte('}')
	return w.buf.Bytes(), nil
}
