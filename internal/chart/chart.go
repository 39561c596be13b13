package chart

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"gas-tracker-bot/internal/types"
	"gas-tracker-bot/lib/helpers"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font/gofont/goregular"
)

// ErrNotEnoughData is returned when fewer than two readings are available.
var ErrNotEnoughData = errors.New("at least two readings are needed for a chart")

var (
	fontOnce sync.Once
	font     *truetype.Font
	fontErr  error

	backgroundColor = drawing.Color{R: 55, G: 55, B: 55, A: 255}
	textColor       = drawing.Color{R: 200, G: 200, B: 200, A: 255}
	gridColor       = drawing.Color{R: 100, G: 100, B: 100, A: 128}

	tierColors = []drawing.Color{
		{R: 52, G: 199, B: 89, A: 255},
		{R: 0, G: 122, B: 255, A: 255},
		{R: 255, G: 59, B: 48, A: 255},
	}
)

func loadFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		font, fontErr = truetype.Parse(goregular.TTF)
	})
	return font, fontErr
}

// RenderReadings draws the low/average/high tiers over time as a PNG, with
// dashed lines at the band edges.
func RenderReadings(readings []types.GasReading, band types.Thresholds) ([]byte, error) {
	if len(readings) < 2 {
		return nil, ErrNotEnoughData
	}

	f, err := loadFont()
	if err != nil {
		return nil, errors.Wrap(err, "could not load chart font")
	}

	times := make([]time.Time, len(readings))
	tiers := [3][]float64{}
	for i, r := range readings {
		times[i] = r.FetchedAt
		tiers[0] = append(tiers[0], r.Low.InexactFloat64())
		tiers[1] = append(tiers[1], r.Average.InexactFloat64())
		tiers[2] = append(tiers[2], r.High.InexactFloat64())
	}

	minValue, maxValue := valueRange(readings, band)

	names := []string{"Low", "Average", "High"}
	series := make([]chart.Series, 0, len(names)+2)
	for i, name := range names {
		series = append(series, chart.TimeSeries{
			Name:    name,
			XValues: times,
			YValues: tiers[i],
			Style: chart.Style{
				StrokeColor: tierColors[i],
				StrokeWidth: 2,
			},
		})
	}
	series = append(series,
		bandLine("Low threshold", times, band.Low, tierColors[0]),
		bandLine("High threshold", times, band.High, tierColors[2]),
	)

	graph := chart.Chart{
		Title:      fmt.Sprintf("ETH gas price (gwei), %s", times[0].Format("02-Jan 15:04")),
		TitleStyle: chart.Style{FontColor: textColor, FontSize: 14},
		Width:      1200,
		Height:     600,
		Font:       f,
		Background: chart.Style{
			FillColor: backgroundColor,
			Padding:   chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		Canvas: chart.Style{FillColor: backgroundColor},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04:05"),
			Style:          chart.Style{FontColor: textColor, StrokeColor: textColor},
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: minValue, Max: maxValue},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return helpers.FormatGwei(decimal.NewFromFloat(f), false)
				}
				return ""
			},
			Style:          chart.Style{FontColor: textColor, StrokeColor: textColor},
			GridMajorStyle: chart.Style{StrokeColor: gridColor, StrokeWidth: 1},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph, chart.Style{FillColor: backgroundColor, FontColor: textColor})}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, errors.Wrap(err, "could not render chart")
	}
	return buf.Bytes(), nil
}

func bandLine(name string, times []time.Time, value decimal.Decimal, color drawing.Color) chart.TimeSeries {
	v := value.InexactFloat64()
	return chart.TimeSeries{
		Name:    name,
		XValues: []time.Time{times[0], times[len(times)-1]},
		YValues: []float64{v, v},
		Style: chart.Style{
			StrokeColor:     color.WithAlpha(160),
			StrokeWidth:     1,
			StrokeDashArray: []float64{5, 5},
		},
	}
}

// valueRange pads the min/max of all tiers and band edges by 10%.
func valueRange(readings []types.GasReading, band types.Thresholds) (float64, float64) {
	lo, hi := band.Low, band.High
	for _, r := range readings {
		lo = decimal.Min(lo, r.Low, r.Average, r.High)
		hi = decimal.Max(hi, r.Low, r.Average, r.High)
	}

	minValue, maxValue := lo.InexactFloat64(), hi.InexactFloat64()
	padding := (maxValue - minValue) * 0.1
	if padding == 0 {
		padding = 1
	}
	minValue -= padding
	if minValue < 0 {
		minValue = 0
	}
	return minValue, maxValue + padding
}
