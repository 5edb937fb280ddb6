package algo

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

// DistFuncByName resolves a configured distance function.
func DistFuncByName(name string) (DistFunc, error) {
	switch name {
	case config.CenterDistance:
		return CenterDistance, nil
	}
	return nil, fmt.Errorf("unknown distance function %q", name)
}

// skipTP reports whether a TP metric is undefined for class. Cones have no
// meaningful heading, velocity or attribute; barriers no velocity or
// attribute.
func skipTP(class, metric string) bool {
	switch class {
	case "traffic_cone":
		return metric == AttrErr || metric == VelErr || metric == OrientErr
	case "barrier":
		return metric == AttrErr || metric == VelErr
	}
	return false
}

// Evaluate scores pred against gt for every configured class and distance
// threshold.
func Evaluate(gt, pred *detection.EvalBoxes, cfg *config.DetectionConfig) (*DetectionMetrics, *MetricDataList, error) {
	start := time.Now()
	distFcn, err := DistFuncByName(cfg.DistFcn)
	if err != nil {
		return nil, nil, err
	}

	monitoring.Verbosef("Accumulating metric data...")
	mdl := NewMetricDataList()
	for _, class := range cfg.ClassNames {
		for _, th := range cfg.DistThs {
			mdl.Set(class, th, Accumulate(gt, pred, class, distFcn, th))
		}
	}

	monitoring.Verbosef("Calculating metrics...")
	metrics := NewDetectionMetrics(cfg)
	for _, class := range cfg.ClassNames {
		for _, th := range cfg.DistThs {
			md, _ := mdl.Get(class, th)
			metrics.AddLabelAP(class, th, CalcAP(md, cfg.MinRecall, cfg.MinPrecision))
		}
		md, ok := mdl.Get(class, cfg.DistThTP)
		if !ok {
			return nil, nil, fmt.Errorf("dist_th_tp %v is not one of dist_ths", cfg.DistThTP)
		}
		for _, metric := range TPMetrics {
			tp := math.NaN()
			if !skipTP(class, metric) {
				if tp, err = CalcTP(md, cfg.MinRecall, metric); err != nil {
					return nil, nil, err
				}
			}
			metrics.AddLabelTP(class, metric, tp)
		}
	}
	metrics.EvalTime = time.Since(start)
	return metrics, mdl, nil
}
