package evaluate

import (
	"fmt"
	"strings"

	"github.com/banshee-data/boxeval/internal/detection/algo"
	"github.com/banshee-data/boxeval/internal/monitoring"
)

// FormatSummary renders the headline metrics and the per-class table.
func FormatSummary(metrics *algo.DetectionMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mAP: %.4f\n", metrics.MeanAP())
	for _, m := range algo.TPMetrics {
		fmt.Fprintf(&b, "%s: %.4f\n", algo.TPMetricShortNames[m], metrics.TPError(m))
	}
	fmt.Fprintf(&b, "NDS: %.4f\n", metrics.NDScore())
	fmt.Fprintf(&b, "Eval time: %.1fs\n", metrics.EvalTime.Seconds())
	b.WriteString("\nPer-class results:\n")
	b.WriteString("Object Class\tAP\tATE\tASE\tAOE\tAVE\tAAE\n")
	for _, c := range metrics.Config().ClassNames {
		fmt.Fprintf(&b, "%s\t%.3f", c, metrics.MeanDistAP(c))
		for _, m := range algo.TPMetrics {
			fmt.Fprintf(&b, "\t%.3f", metrics.LabelTP(c, m))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// LogSummary writes FormatSummary through the package logger.
func LogSummary(metrics *algo.DetectionMetrics) {
	for _, line := range strings.Split(strings.TrimRight(FormatSummary(metrics), "\n"), "\n") {
		monitoring.Logf("%s", line)
	}
}
