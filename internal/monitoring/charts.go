package monitoring

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderLossChart renders an interactive HTML line chart of the loss history.
func RenderLossChart(w io.Writer, title string, history []LossPoint) error {
	epochs := make([]string, 0, len(history))
	train := make([]opts.LineData, 0, len(history))
	val := make([]opts.LineData, 0, len(history))
	hasVal := false
	for _, h := range history {
		epochs = append(epochs, strconv.Itoa(h.Epoch))
		train = append(train, opts.LineData{Value: h.Train})
		if math.IsNaN(h.Val) {
			// echarts leaves a gap for "-"
			val = append(val, opts.LineData{Value: "-"})
			continue
		}
		hasVal = true
		val = append(val, opts.LineData{Value: h.Val})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("epochs=%d", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "epoch", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "loss", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(epochs).AddSeries("train", train)
	if hasVal {
		line.AddSeries("validation", val)
	}
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}))

	return line.Render(w)
}
