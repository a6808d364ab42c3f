package main

import (
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// chartSeries lays the report out as one bar series per implementation.
// Programs where the implementation has no timing get an empty bar.
func chartSeries(report Report) (programs []string, implementations []string, series map[string][]opts.BarData) {
	programs = report.Programs
	series = make(map[string][]opts.BarData)
	for _, entry := range report.Entries {
		if entry.Implementation == "" {
			continue
		}
		if _, ok := series[entry.Implementation]; !ok {
			implementations = append(implementations, entry.Implementation)
			series[entry.Implementation] = make([]opts.BarData, len(programs))
		}
	}
	index := make(map[string]int, len(programs))
	for i, program := range programs {
		index[program] = i
	}
	for _, entry := range report.Entries {
		if entry.Implementation == "" || !entry.Success() {
			continue
		}
		series[entry.Implementation][index[entry.Program]] = opts.BarData{
			Name:  entry.Program,
			Value: entry.Elapsed.Seconds(),
		}
	}
	return programs, implementations, series
}

func RenderChart(report Report, destination string) error {
	programs, implementations, series := chartSeries(report)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "VM benchmark",
			Subtitle: "wall-clock time per program, seconds",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(programs)
	for _, implementation := range implementations {
		bar.AddSeries(implementation, series[implementation])
	}

	file, err := os.Create(destination)
	if err != nil {
		return &EnvironmentError{Op: "create chart", Path: destination, Err: err}
	}

	page := components.NewPage()
	page.AddCharts(bar)
	if err := page.Render(file); err != nil {
		file.Close()
		return &EnvironmentError{Op: "render chart", Path: destination, Err: err}
	}
	if err := file.Close(); err != nil {
		return &EnvironmentError{Op: "write chart", Path: destination, Err: err}
	}
	Logger.Infof("chart written to %v", destination)
	return nil
}
