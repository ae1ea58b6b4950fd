package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical civil-date format used in every record key.
const DateLayout = "2006-01-02"

// TimeLayout is the canonical time-of-day format for heart-rate samples.
const TimeLayout = "15:04"

// MaxRangeDays caps how many days a single read may span.
const MaxRangeDays = 366

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange parses start and end (YYYY-MM-DD) into a validated range.
func NewDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start %q", ErrInvalidDateRange, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end %q", ErrInvalidDateRange, end)
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate checks ordering and span.
func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end before start", ErrInvalidDateRange)
	}
	if r.Days() > MaxRangeDays {
		return fmt.Errorf("%w: spans %d days, max %d", ErrInvalidDateRange, r.Days(), MaxRangeDays)
	}
	return nil
}

// Days returns the number of calendar days in the range, inclusive.
func (r DateRange) Days() int {
	return int(dateOnly(r.End).Sub(dateOnly(r.Start)).Hours()/24) + 1
}

// Dates returns every date in the range formatted with DateLayout.
func (r DateRange) Dates() []string {
	out := make([]string, 0, r.Days())
	for d := dateOnly(r.Start); !d.After(dateOnly(r.End)); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out
}

// StartDate returns the formatted first date.
func (r DateRange) StartDate() string { return r.Start.Format(DateLayout) }

// EndDate returns the formatted last date.
func (r DateRange) EndDate() string { return r.End.Format(DateLayout) }

// Contains reports whether date (YYYY-MM-DD) falls inside the range.
func (r DateRange) Contains(date string) bool {
	return date >= r.StartDate() && date <= r.EndDate()
}

// StartOfRange is midnight UTC at the start of the first day.
func (r DateRange) StartOfRange() time.Time { return dateOnly(r.Start) }

// EndOfRange is midnight UTC after the last day (exclusive bound).
func (r DateRange) EndOfRange() time.Time { return dateOnly(r.End).AddDate(0, 0, 1) }

// StartIn is local midnight in loc at the start of the first day.
func (r DateRange) StartIn(loc *time.Location) time.Time {
	y, m, d := r.Start.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, locOrUTC(loc))
}

// EndIn is local midnight in loc after the last day (exclusive bound).
func (r DateRange) EndIn(loc *time.Location) time.Time {
	y, m, d := r.End.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, locOrUTC(loc))
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// ClampPercent bounds v to [0, 100].
func ClampPercent(v int) int { return max(0, min(100, v)) }

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RecordKey identifies a record within its category. Time is empty for
// daily records.
type RecordKey struct {
	Date string
	Time string
}

// Less orders keys by date, then by time. A key without time sorts before
// keys on the same date that have one.
func (k RecordKey) Less(other RecordKey) bool {
	if k.Date != other.Date {
		return k.Date < other.Date
	}
	return k.Time < other.Time
}

// ActivityRecord is one day of movement totals.
type ActivityRecord struct {
	Date           string   `json:"date"`
	Steps          int      `json:"steps"`
	DistanceMeters float64  `json:"distance_meters"`
	ActiveMinutes  int      `json:"active_minutes"`
	Calories       int      `json:"calories"`
	Source         Provider `json:"source"`
}

func (r ActivityRecord) Key() RecordKey         { return RecordKey{Date: r.Date} }
func (r ActivityRecord) RecordSource() Provider { return r.Source }

// SleepStages are minutes spent in each sleep stage.
type SleepStages struct {
	Deep  int `json:"deep"`
	Light int `json:"light"`
	REM   int `json:"rem"`
	Awake int `json:"awake"`
}

// SleepRecord is one night of sleep, keyed by the date the sleep ended.
type SleepRecord struct {
	Date              string       `json:"date"`
	StartTime         time.Time    `json:"start_time"`
	EndTime           time.Time    `json:"end_time"`
	DurationMinutes   int          `json:"duration_minutes"`
	EfficiencyPercent int          `json:"efficiency_percent"`
	Stages            *SleepStages `json:"stages,omitempty"`
	Source            Provider     `json:"source"`
}

func (r SleepRecord) Key() RecordKey         { return RecordKey{Date: r.Date} }
func (r SleepRecord) RecordSource() Provider { return r.Source }

// HeartRateRecord is a daily heart-rate summary, or a single sample when
// Time is set.
type HeartRateRecord struct {
	Date             string   `json:"date"`
	Time             string   `json:"time,omitempty"`
	HeartRate        int      `json:"heart_rate"`
	RestingHeartRate *int     `json:"resting_heart_rate,omitempty"`
	Source           Provider `json:"source"`
}

func (r HeartRateRecord) Key() RecordKey         { return RecordKey{Date: r.Date, Time: r.Time} }
func (r HeartRateRecord) RecordSource() Provider { return r.Source }

// Macros are daily macronutrient totals in grams.
type Macros struct {
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// FoodEntry is a single logged food.
type FoodEntry struct {
	Name     string `json:"name"`
	Calories int    `json:"calories"`
}

// Meals groups a day's food entries by meal.
type Meals struct {
	Breakfast []FoodEntry `json:"breakfast"`
	Lunch     []FoodEntry `json:"lunch"`
	Dinner    []FoodEntry `json:"dinner"`
	Snack     []FoodEntry `json:"snack"`
}

// Add files entry under the named meal. Unrecognized meal names count as snacks.
func (m *Meals) Add(meal string, entry FoodEntry) {
	switch normalizeMeal(meal) {
	case "breakfast":
		m.Breakfast = append(m.Breakfast, entry)
	case "lunch":
		m.Lunch = append(m.Lunch, entry)
	case "dinner":
		m.Dinner = append(m.Dinner, entry)
	default:
		m.Snack = append(m.Snack, entry)
	}
}

// NutritionRecord is one day of logged food.
type NutritionRecord struct {
	Date          string   `json:"date"`
	TotalCalories int      `json:"total_calories"`
	GoalCalories  int      `json:"goal_calories"`
	Macros        Macros   `json:"macros"`
	Meals         Meals    `json:"meals"`
	Source        Provider `json:"source"`
}

func (r NutritionRecord) Key() RecordKey         { return RecordKey{Date: r.Date} }
func (r NutritionRecord) RecordSource() Provider { return r.Source }

// WaterRecord is one day of water intake.
type WaterRecord struct {
	Date     string   `json:"date"`
	AmountML float64  `json:"amount_ml"`
	GoalML   float64  `json:"goal_ml"`
	Source   Provider `json:"source"`
}

func (r WaterRecord) Key() RecordKey         { return RecordKey{Date: r.Date} }
func (r WaterRecord) RecordSource() Provider { return r.Source }

// WeightRecord is one day's body weight.
type WeightRecord struct {
	Date     string   `json:"date"`
	WeightKg float64  `json:"weight_kg"`
	Source   Provider `json:"source"`
}

func (r WeightRecord) Key() RecordKey         { return RecordKey{Date: r.Date} }
func (r WeightRecord) RecordSource() Provider { return r.Source }

func normalizeMeal(meal string) string {
	switch m := strings.ToLower(strings.TrimSpace(meal)); m {
	case "breakfast", "lunch", "dinner":
		return m
	default:
		return "snack"
	}
}
