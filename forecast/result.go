package forecast

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category names one advisory line.
type Category string

const (
	CategoryIrrigation Category = "irrigation"
	CategoryPest       Category = "pest"
	CategoryField      Category = "field"
	CategorySpray      Category = "spray"
	CategoryFrost      Category = "frost"
)

// Categories is the fixed advisory set in display order.
var Categories = []Category{CategoryIrrigation, CategoryPest, CategoryField, CategorySpray, CategoryFrost}

// Prediction is the forecast weather for the target day.
type Prediction struct {
	Temperature   float64 `json:"Temp"`
	Humidity      float64 `json:"Humidity"`
	WindSpeed     float64 `json:"Wind"`
	Precipitation float64 `json:"Precip"`
}

// Result is a successful forecast-advice reply.
type Result struct {
	Target          string              `json:"target"`
	Prediction      Prediction          `json:"prediction"`
	IrrigationMM    float64             `json:"irrigation_mm"`
	ET0             float64             `json:"et0"`
	ETc             float64             `json:"etc"`
	Peff            float64             `json:"peff"`
	Recommendations map[Category]string `json:"recommendations"`
}

// Advice returns the text for c and whether the reply carried it.
func (r *Result) Advice(c Category) (string, bool) {
	s, ok := r.Recommendations[c]
	return s, ok
}

// MalformedResultError is returned when a reply is valid JSON but does not
// have the Result shape.
type MalformedResultError struct {
	Missing []string
	Err     error
}

func (e *MalformedResultError) Error() string {
	switch {
	case e.Err != nil && len(e.Missing) > 0:
		return fmt.Sprintf("malformed forecast result: missing %s: %v", strings.Join(e.Missing, ", "), e.Err)
	case e.Err != nil:
		return fmt.Sprintf("malformed forecast result: %v", e.Err)
	default:
		return "malformed forecast result: missing " + strings.Join(e.Missing, ", ")
	}
}

func (e *MalformedResultError) Unwrap() error {
	return e.Err
}

// wireResult mirrors Result with pointers so absent keys can be told apart
// from zero values.
type wireResult struct {
	Target     *string `json:"target"`
	Prediction *struct {
		Temp     *float64 `json:"Temp"`
		Humidity *float64 `json:"Humidity"`
		Wind     *float64 `json:"Wind"`
		Precip   *float64 `json:"Precip"`
	} `json:"prediction"`
	IrrigationMM    *float64            `json:"irrigation_mm"`
	ET0             *float64            `json:"et0"`
	ETc             *float64            `json:"etc"`
	Peff            *float64            `json:"peff"`
	Recommendations map[Category]string `json:"recommendations"`
}

// DecodeResult parses data and checks that every Result field is present.
func DecodeResult(data []byte) (*Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &MalformedResultError{Err: err}
	}

	var missing []string
	str := func(name string, v *string) string {
		if v == nil {
			missing = append(missing, name)
			return ""
		}
		return *v
	}
	num := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return *v
	}

	r := &Result{Target: str("target", w.Target)}
	if w.Prediction == nil {
		missing = append(missing, "prediction")
	} else {
		r.Prediction = Prediction{
			Temperature:   num("prediction.Temp", w.Prediction.Temp),
			Humidity:      num("prediction.Humidity", w.Prediction.Humidity),
			WindSpeed:     num("prediction.Wind", w.Prediction.Wind),
			Precipitation: num("prediction.Precip", w.Prediction.Precip),
		}
	}
	r.IrrigationMM = num("irrigation_mm", w.IrrigationMM)
	r.ET0 = num("et0", w.ET0)
	r.ETc = num("etc", w.ETc)
	r.Peff = num("peff", w.Peff)
	if w.Recommendations == nil {
		missing = append(missing, "recommendations")
	}
	r.Recommendations = w.Recommendations

	if len(missing) > 0 {
		return nil, &MalformedResultError{Missing: missing}
	}
	return r, nil
}
