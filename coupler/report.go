package coupler

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nnfoam/model"
)

// 输出场的最小值、最大值、均值，随报告推送
func summarize(outputs []model.OutputChannel, staged map[string][]float64) []model.FieldSummary {
	summaries := make([]model.FieldSummary, 0, len(outputs))
	for _, output := range outputs {
		values := staged[output.Field]
		if len(values) == 0 {
			continue
		}
		summaries = append(summaries, model.FieldSummary{
			Field: output.Field,
			Min:   floats.Min(values),
			Max:   floats.Max(values),
			Mean:  stat.Mean(values, nil),
		})
	}
	return summaries
}
