package api

import (
	"math"
	"strings"
	"time"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

const (
	metersPerKm   = 1000.0
	kgPerLb       = 0.45359237
	mlPerCup      = 236.5882365
	mlPerFluidOz  = 29.5735295625
	msPerMinute   = 60_000
	secsPerMinute = 60
)

// KmToMeters converts kilometres to metres.
func KmToMeters(km float64) float64 { return km * metersPerKm }

// LbsToKg converts pounds to kilograms, rounded to 0.1 kg.
func LbsToKg(lbs float64) float64 { return Round1(lbs * kgPerLb) }

// MillisToMinutes converts a duration in milliseconds to whole minutes.
func MillisToMinutes(ms int64) int { return int(ms / msPerMinute) }

// SecondsToMinutes converts a duration in seconds to whole minutes.
func SecondsToMinutes(s int64) int { return int(s / secsPerMinute) }

// WaterToML converts an amount in the named unit to millilitres. Unknown
// units are taken as millilitres.
func WaterToML(amount float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "cup", "cups":
		return math.Round(amount * mlPerCup)
	case "fl_oz", "floz", "fl oz", "oz":
		return math.Round(amount * mlPerFluidOz)
	case "l", "liter", "liters", "litre", "litres":
		return amount * 1000
	default:
		return amount
	}
}

// WeightToKg converts a weight in the named unit to kilograms. Unknown
// units are taken as kilograms.
func WeightToKg(value float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "lb", "lbs", "pound", "pounds":
		return LbsToKg(value)
	default:
		return value
	}
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

// DateOf renders t's civil date in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(model.DateLayout)
}

// TimeOf renders t's time of day (HH:MM) in loc.
func TimeOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(model.TimeLayout)
}

// FromMillis converts a Unix millisecond timestamp.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// FromNanos converts a Unix nanosecond timestamp.
func FromNanos(ns int64) time.Time { return time.Unix(0, ns).UTC() }
