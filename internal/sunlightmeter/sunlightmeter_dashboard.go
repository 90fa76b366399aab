package sunlightmeter

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/ztkent/luxmeter/internal/tools"
	"github.com/ztkent/luxmeter/internal/upload"
)

const fullSunLux = 10000

// Reference lines drawn behind the lux series
var lightLevels = []struct {
	lux   int
	title string
	color string
}{
	{500, "Shade", "DarkGrey"},
	{1000, "Partial Shade", "WhiteSmoke"},
	{10000, "Partial Sun", "SkyBlue"},
	{25000, "Full Sun", "Yellow"},
}

// Conditions summarises the readings in a date range.
type Conditions struct {
	DateRange             string  `json:"dateRange"`
	Readings              int     `json:"readings"`
	RecordedHoursInRange  float64 `json:"recordedHoursInRange"`
	FullSunlightInRange   float64 `json:"fullSunlightInRange"`
	LightConditionInRange string  `json:"lightConditionInRange"`
	AverageLuxInRange     float64 `json:"averageLuxInRange"`
}

// Summarize classifies the light in [start, end). Full sunlight is counted
// in minutes whose average lux is above 10k.
func Summarize(readings []upload.Reading, start, end time.Time) Conditions {
	conditions := Conditions{
		DateRange: fmt.Sprintf("%s - %s UTC", start.UTC().Format(tools.LayoutDB), end.UTC().Format(tools.LayoutDB)),
		Readings:  len(readings),
	}
	if len(readings) == 0 {
		conditions.LightConditionInRange = "No Data in Range"
		return conditions
	}

	var total float64
	oldest, mostRecent := readings[0].CreatedAt, readings[0].CreatedAt
	type minute struct {
		sum   float64
		count int
	}
	minutes := map[time.Time]*minute{}
	for _, r := range readings {
		total += r.Lux
		if r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
		if r.CreatedAt.After(mostRecent) {
			mostRecent = r.CreatedAt
		}
		key := r.CreatedAt.Truncate(time.Minute)
		if minutes[key] == nil {
			minutes[key] = &minute{}
		}
		minutes[key].sum += r.Lux
		minutes[key].count++
	}
	conditions.AverageLuxInRange = total / float64(len(readings))

	fullSunMinutes := 0
	for _, m := range minutes {
		if m.sum/float64(m.count) > fullSunLux {
			fullSunMinutes++
		}
	}
	conditions.FullSunlightInRange = float64(fullSunMinutes) / 60
	conditions.RecordedHoursInRange = mostRecent.Sub(oldest).Hours()

	ratio := 0.0
	if conditions.RecordedHoursInRange > 0 {
		ratio = conditions.FullSunlightInRange / conditions.RecordedHoursInRange
	}
	switch {
	case ratio > 0.5:
		conditions.LightConditionInRange = "Full Sun"
	case ratio > 0.25:
		conditions.LightConditionInRange = "Partial Sun"
	case ratio > 0.1:
		conditions.LightConditionInRange = "Partial Shade"
	default:
		conditions.LightConditionInRange = "Shade"
	}
	return conditions
}

// Serve the results graph
func (m *SLMeter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.store == nil {
			http.Error(w, "No queryable store is configured", http.StatusNotFound)
			return
		}
		start, end := tools.ParseStartAndEndDate(r, m.opts.Location, m.now())
		readings, err := m.store.Range(r.Context(), start, end)
		if err != nil {
			m.log.WithError(err).Error("failed to query readings")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		page := components.NewPage()
		page.PageTitle = "Luxmeter"
		page.AddCharts(luxChart(readings, m.opts.Location))

		w.Header().Set("Content-Type", "text/html")
		if err := page.Render(w); err != nil {
			m.log.WithError(err).Error("failed to render graph")
		}
	}
}

func luxChart(readings []upload.Reading, loc *time.Location) *charts.Line {
	luxValues := make([]opts.LineData, 0, len(readings))
	timeValues := make([]string, 0, len(readings))
	maxLux := 0
	for _, r := range readings {
		if r.Lux > float64(maxLux) {
			// Round up to the nearest 5000
			maxLux = int(math.Ceil(r.Lux/5000) * 5000)
		}
		luxValues = append(luxValues, opts.LineData{Value: r.Lux})
		timeValues = append(timeValues, r.CreatedAt.In(loc).Format(tools.LayoutDB))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Luxmeter",
			Theme:     types.ThemeChalk,
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "Time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "Lux",
			Min:  "0",
			Max:  fmt.Sprintf("%d", maxLux),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      true,
			Trigger:   "axis",
			TriggerOn: "mousemove",
		}),
		charts.WithToolboxOpts(opts.Toolbox{
			Show: true,
			Feature: &opts.ToolBoxFeature{
				SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
					Show:  true,
					Title: "Save as Image",
					Name:  "luxmeter",
				},
			},
		}),
	)
	line.SetXAxis(timeValues)

	for _, level := range lightLevels {
		data := make([]opts.LineData, len(timeValues))
		for i := range data {
			data[i] = opts.LineData{Value: level.lux}
		}
		line.AddSeries(level.title, data,
			charts.WithLineChartOpts(opts.LineChart{
				Color: level.color,
			}),
		)
	}
	line.AddSeries("Lux", luxValues)
	return line
}
