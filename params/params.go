// Package params holds the user-editable forecast parameters and builds the
// outbound request payload from them.
package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for target dates.
const DateLayout = "2006-01-02"

// Defaults used when a field has not been edited.
const (
	DefaultLat           = 45.65
	DefaultLon           = -73.38
	DefaultKc            = 1.15
	DefaultSoilBufferMM  = 2.0
	DefaultEffRainFactor = 0.8
	DefaultLeadDays      = 3
)

// Set is one submission's worth of parameters. Values are copied into the
// payload when a request is built, so a Set can be edited freely afterwards.
type Set struct {
	Lat           float64 `json:"lat" validate:"finite,gte=-90,lte=90"`
	Lon           float64 `json:"lon" validate:"finite,gte=-180,lte=180"`
	TargetDate    string  `json:"target_date" validate:"required,datetime=2006-01-02"`
	Kc            float64 `json:"kc" validate:"finite,gt=0"`
	SoilBufferMM  float64 `json:"soil_buffer_mm" validate:"finite,gte=0"`
	EffRainFactor float64 `json:"eff_rain_factor" validate:"finite,gte=0,lte=1"`
}

// Defaults returns the parameter set shown on a fresh form. The target date
// is a few days after now.
func Defaults(now time.Time) Set {
	return Set{
		Lat:           DefaultLat,
		Lon:           DefaultLon,
		TargetDate:    now.AddDate(0, 0, DefaultLeadDays).Format(DateLayout),
		Kc:            DefaultKc,
		SoilBufferMM:  DefaultSoilBufferMM,
		EffRainFactor: DefaultEffRainFactor,
	}
}

// Payload is the JSON body sent to the forecast-advice endpoint.
type Payload struct {
	Set
	Start string `json:"start"`
	End   string `json:"end"`
}

// Payload copies the editable fields and injects the history window.
func (s Set) Payload(w Window) Payload {
	return Payload{Set: s, Start: w.Start, End: w.End}
}

// Field keys accepted by Parse. They match the JSON names of Set.
const (
	FieldLat           = "lat"
	FieldLon           = "lon"
	FieldTargetDate    = "target_date"
	FieldKc            = "kc"
	FieldSoilBufferMM  = "soil_buffer_mm"
	FieldEffRainFactor = "eff_rain_factor"
)

// Fields lists the editable fields in form order.
var Fields = []string{FieldLat, FieldLon, FieldTargetDate, FieldKc, FieldSoilBufferMM, FieldEffRainFactor}

// Parse coerces text input over base. Keys absent from fields keep the value
// from base. Text that is not a number fails with a *ValidationError; range
// checks are left to Validate.
func Parse(base Set, fields map[string]string) (Set, error) {
	out := base
	var verr ValidationError

	num := func(key string, dst *float64) {
		raw, ok := fields[key]
		if !ok {
			return
		}
		raw = strings.TrimSpace(raw)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			verr.Fields = append(verr.Fields, FieldError{Field: key, Rule: "number", Value: raw})
			return
		}
		*dst = v
	}

	num(FieldLat, &out.Lat)
	num(FieldLon, &out.Lon)
	if raw, ok := fields[FieldTargetDate]; ok {
		out.TargetDate = strings.TrimSpace(raw)
	}
	num(FieldKc, &out.Kc)
	num(FieldSoilBufferMM, &out.SoilBufferMM)
	num(FieldEffRainFactor, &out.EffRainFactor)

	if len(verr.Fields) > 0 {
		return base, &verr
	}
	return out, nil
}

// Strings renders s as form text keyed like Parse expects.
func (s Set) Strings() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]string{
		FieldLat:           f(s.Lat),
		FieldLon:           f(s.Lon),
		FieldTargetDate:    s.TargetDate,
		FieldKc:            f(s.Kc),
		FieldSoilBufferMM:  f(s.SoilBufferMM),
		FieldEffRainFactor: f(s.EffRainFactor),
	}
}

func (s Set) String() string {
	return fmt.Sprintf("lat=%.4f lon=%.4f target=%s kc=%.2f soil_buffer_mm=%.1f eff_rain_factor=%.2f",
		s.Lat, s.Lon, s.TargetDate, s.Kc, s.SoilBufferMM, s.EffRainFactor)
}
