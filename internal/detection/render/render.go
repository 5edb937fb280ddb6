// Package render draws precision/recall and true-positive error curves of
// an evaluation as PDF files.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"

	"github.com/banshee-data/boxeval/internal/config"
	"github.com/banshee-data/boxeval/internal/detection/algo"
	"github.com/banshee-data/boxeval/internal/fsutil"
)

// tpUnits labels the TP error axes.
var tpUnits = map[string]string{
	algo.TransErr:  "m",
	algo.ScaleErr:  "1-IOU",
	algo.OrientErr: "rad.",
	algo.VelErr:    "m/s",
	algo.AttrErr:   "1-acc.",
}

// Renderer writes curve plots into Dir.
type Renderer struct {
	FS  fsutil.FileSystem
	Dir string

	Width  vg.Length
	Height vg.Length
}

// New returns a Renderer writing 7.5x5 inch pages into dir.
func New(fsys fsutil.FileSystem, dir string) *Renderer {
	return &Renderer{FS: fsys, Dir: dir, Width: 7.5 * vg.Inch, Height: 5 * vg.Inch}
}

// ClassPRPath is where ClassPRCurve writes class.
func (r *Renderer) ClassPRPath(class string) string {
	return filepath.Join(r.Dir, fsutil.SanitizeFilename(class)+"_pr.pdf")
}

// ClassTPPath is where ClassTPCurve writes class.
func (r *Renderer) ClassTPPath(class string) string {
	return filepath.Join(r.Dir, fsutil.SanitizeFilename(class)+"_tp.pdf")
}

// DistPRPath is where DistPRCurve writes distTh.
func (r *Renderer) DistPRPath(distTh float64) string {
	return filepath.Join(r.Dir, "dist_pr_"+config.ThresholdKey(distTh)+".pdf")
}

// SummaryPath is where Summary writes.
func (r *Renderer) SummaryPath() string {
	return filepath.Join(r.Dir, "summary.pdf")
}

// RenderAll writes every plot of an evaluation. It keeps going after a
// failed plot and returns all failures joined.
func (r *Renderer) RenderAll(mdl *algo.MetricDataList, metrics *algo.DetectionMetrics) error {
	cfg := metrics.Config()
	var errs []error
	if err := r.Summary(mdl, metrics); err != nil {
		errs = append(errs, err)
	}
	for _, class := range cfg.ClassNames {
		if err := r.ClassPRCurve(mdl, metrics, class); err != nil {
			errs = append(errs, err)
		}
		if err := r.ClassTPCurve(mdl, metrics, class); err != nil {
			errs = append(errs, err)
		}
	}
	for _, th := range cfg.DistThs {
		if err := r.DistPRCurve(mdl, metrics, th); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClassPRCurve plots the precision/recall curve of class at every distance
// threshold.
func (r *Renderer) ClassPRCurve(mdl *algo.MetricDataList, metrics *algo.DetectionMetrics, class string) error {
	p, err := r.classPRPlot(mdl, metrics, class)
	if err != nil {
		return err
	}
	return r.save(p, r.ClassPRPath(class))
}

// ClassTPCurve plots the TP error curves of class at the TP threshold.
func (r *Renderer) ClassTPCurve(mdl *algo.MetricDataList, metrics *algo.DetectionMetrics, class string) error {
	p, err := r.classTPPlot(mdl, metrics, class)
	if err != nil {
		return err
	}
	return r.save(p, r.ClassTPPath(class))
}

// DistPRCurve plots the precision/recall curve of every class at distTh.
func (r *Renderer) DistPRCurve(mdl *algo.MetricDataList, metrics *algo.DetectionMetrics, distTh float64) error {
	cfg := metrics.Config()
	p := newPRPlot(fmt.Sprintf("Distance threshold %s m", config.ThresholdKey(distTh)), cfg)
	for i, class := range cfg.ClassNames {
		md, ok := mdl.Get(class, distTh)
		if !ok {
			return fmt.Errorf("no metric data for %s at %v", class, distTh)
		}
		label := fmt.Sprintf("%s: %.1f%%", class, 100*metrics.LabelAP(class, distTh))
		if err := addCurve(p, md.Recall, md.Precision, i, label); err != nil {
			return err
		}
	}
	return r.save(p, r.DistPRPath(distTh))
}

// Summary writes one page with the PR and TP plots of every class side by
// side.
func (r *Renderer) Summary(mdl *algo.MetricDataList, metrics *algo.DetectionMetrics) error {
	classes := metrics.Config().ClassNames
	if len(classes) == 0 {
		return nil
	}
	tileH := 3 * vg.Inch
	c := vgpdf.New(r.Width, vg.Length(len(classes))*tileH)
	dc := draw.New(c)
	tiles := draw.Tiles{
		Rows: len(classes), Cols: 2,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2),
		PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	for row, class := range classes {
		pr, err := r.classPRPlot(mdl, metrics, class)
		if err != nil {
			return err
		}
		tp, err := r.classTPPlot(mdl, metrics, class)
		if err != nil {
			return err
		}
		pr.Draw(tiles.At(dc, 0, row))
		tp.Draw(tiles.At(dc, 1, row))
	}
	return r.write(r.SummaryPath(), c)
}

func (r *Renderer) classPRPlot(mdl *algo.MetricDataList, metrics *algo.DetectionMetrics, class string) (*plot.Plot, error) {
	cfg := metrics.Config()
	p := newPRPlot(class, cfg)
	for i, th := range cfg.DistThs {
		md, ok := mdl.Get(class, th)
		if !ok {
			return nil, fmt.Errorf("no metric data for %s at %v", class, th)
		}
		label := fmt.Sprintf("Dist. : %s, AP: %.1f", config.ThresholdKey(th), 100*metrics.LabelAP(class, th))
		if err := addCurve(p, md.Recall, md.Precision, i, label); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (r *Renderer) classTPPlot(mdl *algo.MetricDataList, metrics *algo.DetectionMetrics, class string) (*plot.Plot, error) {
	cfg := metrics.Config()
	md, ok := mdl.Get(class, cfg.DistThTP)
	if !ok {
		return nil, fmt.Errorf("no metric data for %s at %v", class, cfg.DistThTP)
	}

	p := plot.New()
	p.Title.Text = class
	p.X.Label.Text = "Recall"
	p.Y.Label.Text = "Error"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min = 0

	last := md.MaxRecallInd()
	for i, metric := range algo.TPMetrics {
		tp := metrics.LabelTP(class, metric)
		if math.IsNaN(tp) || last == 0 {
			continue
		}
		errs, err := md.Err(metric)
		if err != nil {
			return nil, err
		}
		label := fmt.Sprintf("%s: %.2f (%s)", metric, tp, tpUnits[metric])
		if err := addCurve(p, md.Recall[:last+1], errs[:last+1], i, label); err != nil {
			return nil, err
		}
	}
	addMinRecall(p, cfg.MinRecall)
	return p, nil
}

func newPRPlot(title string, cfg *config.DetectionConfig) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Recall"
	p.Y.Label.Text = "Precision"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	addMinRecall(p, cfg.MinRecall)

	minPrec := plotter.NewFunction(func(float64) float64 { return cfg.MinPrecision })
	minPrec.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	minPrec.Width = vg.Points(0.5)
	p.Add(minPrec)
	return p
}

func addMinRecall(p *plot.Plot, minRecall float64) {
	line, err := plotter.NewLine(plotter.XYs{{X: minRecall, Y: 0}, {X: minRecall, Y: 1}})
	if err != nil {
		return
	}
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	line.Width = vg.Points(0.5)
	p.Add(line)
}

func addCurve(p *plot.Plot, xs, ys []float64, idx int, label string) error {
	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		if math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create line %q: %w", label, err)
	}
	line.Color = plotutil.Color(idx)
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func (r *Renderer) save(p *plot.Plot, path string) error {
	wt, err := p.WriterTo(r.Width, r.Height, "pdf")
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return r.write(path, wt)
}

func (r *Renderer) write(path string, wt io.WriterTo) error {
	f, err := r.FS.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
