package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/speedplan/internal/planner"
	"github.com/banshee-data/speedplan/internal/units"
)

// AssetsHost overrides where the rendered page loads echarts from. Empty
// keeps the go-echarts default CDN.
var AssetsHost = ""

// WriteHTML renders an interactive page with one line chart per state
// component.
func WriteHTML(w io.Writer, title string, resp *planner.Response, unit string) error {
	if err := checkResponse(resp, unit); err != nil {
		return err
	}

	times := make([]string, len(resp.T))
	for k, t := range resp.T {
		times[k] = strconv.FormatFloat(t, 'f', -1, 64)
	}
	subtitle := fmt.Sprintf("status=%s iterations=%d solve=%.2fms",
		resp.Stats.Status, resp.Stats.Iterations, resp.Stats.SolveMillis)

	page := components.NewPage()
	page.PageTitle = title
	if AssetsHost != "" {
		page.SetAssetsHost(AssetsHost)
	}
	page.AddCharts(
		lineChart(title, subtitle, "Position (m)", times, "x", resp.X),
		lineChart("", "", "Speed ("+units.SpeedLabel(unit)+")", times, "dx", units.ConvertSpeeds(resp.DX, unit)),
		lineChart("", "", "Acceleration (m/s²)", times, "ddx", resp.DDX),
	)
	return page.Render(w)
}

func lineChart(title, subtitle, yName string, times []string, series string, values []float64) *charts.Line {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}

	init := opts.Initialization{Width: "900px", Height: "300px"}
	if AssetsHost != "" {
		init.AssetsHost = AssetsHost
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(times).AddSeries(series, data)
	return line
}
