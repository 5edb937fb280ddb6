package batch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/boxeval/internal/detection/evaluate"
	"github.com/banshee-data/boxeval/internal/fsutil"
)

// Aggregate maps run names to their results. Names keep the position of
// their first appearance; a later Set with the same name replaces the
// result.
type Aggregate struct {
	names   []string
	entries map[string]Entry
	results map[string]*evaluate.Result
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		entries: make(map[string]Entry),
		results: make(map[string]*evaluate.Result),
	}
}

// Set stores res under e.Name.
func (a *Aggregate) Set(e Entry, res *evaluate.Result) {
	if _, ok := a.results[e.Name]; !ok {
		a.names = append(a.names, e.Name)
	}
	a.entries[e.Name] = e
	a.results[e.Name] = res
}

// Names returns the run names in order.
func (a *Aggregate) Names() []string { return append([]string(nil), a.names...) }

// Get returns the entry and result stored under name.
func (a *Aggregate) Get(name string) (Entry, *evaluate.Result, bool) {
	res, ok := a.results[name]
	return a.entries[name], res, ok
}

// Len is the number of distinct names.
func (a *Aggregate) Len() int { return len(a.names) }

// MarshalJSON writes {name: summary} in name order. Each summary is the
// document written to that run's metrics_summary.json, meta included.
func (a *Aggregate) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range a.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		res := a.results[name]
		val, err := evaluate.SummaryJSON(res.Metrics, res.Meta)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WriteAggregate writes the aggregate JSON to path, creating parent
// directories.
func WriteAggregate(fsys fsutil.FileSystem, path string, agg *Aggregate) error {
	return fsutil.WriteJSON(fsys, path, agg)
}

// WriteSummaryHTML writes a bar chart of NDS and mAP per run.
func WriteSummaryHTML(fsys fsutil.FileSystem, path string, agg *Aggregate) error {
	nds := make([]opts.BarData, 0, agg.Len())
	mAP := make([]opts.BarData, 0, agg.Len())
	for _, name := range agg.names {
		m := agg.results[name].Metrics
		nds = append(nds, opts.BarData{Value: m.NDScore()})
		mAP = append(mAP, opts.BarData{Value: m.MeanAP()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Detection evaluation", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Detection evaluation", Subtitle: fmt.Sprintf("%d runs", agg.Len())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(agg.Names()).
		AddSeries("NDS", nds, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("mAP", mAP, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		return fmt.Errorf("render summary chart: %w", err)
	}
	return fsutil.WriteFileAll(fsys, path, buf.Bytes())
}
