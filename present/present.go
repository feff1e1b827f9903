// Package present turns a forecast result into display strings.
package present

import (
	"fmt"

	"agrocast/forecast"
)

// litersPerMM converts a depth of water over one hectare to liters.
const litersPerMM = 10000

// Line is one advisory entry.
type Line struct {
	Category forecast.Category
	Text     string
}

// Display holds the formatted fields of a result.
type Display struct {
	Target        string
	Temperature   string
	Humidity      string
	Wind          string
	Precipitation string

	Irrigation       string
	LitersPerHectare string
	ET0              string
	ETc              string
	EffectiveRain    string

	Advisory []Line
}

// Format renders r. It fails with *forecast.MalformedResultError when r is
// nil or lacks an advisory category.
func Format(r *forecast.Result) (Display, error) {
	if r == nil {
		return Display{}, &forecast.MalformedResultError{Missing: []string{"result"}}
	}

	var missing []string
	lines := make([]Line, 0, len(forecast.Categories))
	for _, c := range forecast.Categories {
		text, ok := r.Advice(c)
		if !ok {
			missing = append(missing, "recommendations."+string(c))
			continue
		}
		lines = append(lines, Line{Category: c, Text: text})
	}
	if len(missing) > 0 {
		return Display{}, &forecast.MalformedResultError{Missing: missing}
	}

	p := r.Prediction
	return Display{
		Target:           r.Target,
		Temperature:      fmt.Sprintf("%.1f °C", p.Temperature),
		Humidity:         fmt.Sprintf("%.0f %%", p.Humidity),
		Wind:             fmt.Sprintf("%.2f m/s", p.WindSpeed),
		Precipitation:    fmt.Sprintf("%.2f mm", p.Precipitation),
		Irrigation:       fmt.Sprintf("%.2f mm", r.IrrigationMM),
		LitersPerHectare: fmt.Sprintf("%.0f L/ha", r.IrrigationMM*litersPerMM),
		ET0:              fmt.Sprintf("%.2f", r.ET0),
		ETc:              fmt.Sprintf("%.2f", r.ETc),
		EffectiveRain:    fmt.Sprintf("%.2f", r.Peff),
		Advisory:         lines,
	}, nil
}

// Title is a one-line label for an advisory category.
func Title(c forecast.Category) string {
	switch c {
	case forecast.CategoryIrrigation:
		return "Irrigation"
	case forecast.CategoryPest:
		return "Pest"
	case forecast.CategoryField:
		return "Field work"
	case forecast.CategorySpray:
		return "Spraying"
	case forecast.CategoryFrost:
		return "Frost"
	default:
		return string(c)
	}
}
