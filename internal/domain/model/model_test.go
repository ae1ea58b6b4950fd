package model_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

func TestNewDateRange(t *testing.T) {
	r, err := model.NewDateRange("2024-02-27", "2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, 5, r.Days())
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}, r.Dates())
	assert.True(t, r.Contains("2024-02-29"))
	assert.False(t, r.Contains("2024-03-03"))
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), r.EndOfRange())
}

func TestDateRange_LocalBounds(t *testing.T) {
	r, err := model.NewDateRange("2024-03-09", "2024-03-10")
	require.NoError(t, err)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 9, 5, 0, 0, 0, time.UTC), r.StartIn(ny).UTC())
	// DST starts on 03-10, so the day after ends at 04:00 UTC.
	assert.Equal(t, time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC), r.EndIn(ny).UTC())
	assert.Equal(t, r.StartOfRange(), r.StartIn(nil))
	assert.Equal(t, r.EndOfRange(), r.EndIn(time.UTC))
}

func TestClampPercent(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, 0},
		{0, 0},
		{87, 87},
		{100, 100},
		{130, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, model.ClampPercent(tt.in), "ClampPercent(%d)", tt.in)
	}
}

func TestSnapshot_Span(t *testing.T) {
	_, _, ok := model.Snapshot{}.Span()
	assert.False(t, ok)

	first, last, ok := model.Snapshot{
		Activity: []model.ActivityRecord{{Date: "2024-03-02"}},
		Weight:   []model.WeightRecord{{Date: "2024-02-27"}, {Date: "2024-03-05"}},
	}.Span()
	require.True(t, ok)
	assert.Equal(t, "2024-02-27", first)
	assert.Equal(t, "2024-03-05", last)
}

func TestSnapshot_WithSourceClampsEfficiency(t *testing.T) {
	snap := model.Snapshot{Sleep: []model.SleepRecord{
		{Date: "2024-03-01", EfficiencyPercent: 130},
		{Date: "2024-03-02", EfficiencyPercent: -5},
	}}.WithSource(model.ProviderAppleHealth)

	assert.Equal(t, 100, snap.Sleep[0].EfficiencyPercent)
	assert.Equal(t, 0, snap.Sleep[1].EfficiencyPercent)
	assert.Equal(t, model.ProviderAppleHealth, snap.Sleep[0].Source)
}

func TestNewDateRange_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
	}{
		{"bad start", "03/01/2024", "2024-03-02"},
		{"bad end", "2024-03-01", "tomorrow"},
		{"end before start", "2024-03-02", "2024-03-01"},
		{"too long", "2023-01-01", "2024-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.NewDateRange(tt.start, tt.end)
			assert.ErrorIs(t, err, model.ErrInvalidDateRange)
		})
	}
}

func TestCredential_ValidAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, model.Credential{}.ValidAt(now))
	assert.True(t, model.Credential{AccessToken: "a"}.ValidAt(now), "zero expiry never expires")
	assert.True(t, model.Credential{AccessToken: "a", ExpiresAt: now.Add(time.Second)}.ValidAt(now))
	assert.False(t, model.Credential{AccessToken: "a", ExpiresAt: now}.ValidAt(now))
}

func TestCredential_CanRefresh(t *testing.T) {
	assert.True(t, model.Credential{Provider: model.ProviderFitbit, RefreshToken: "r"}.CanRefresh())
	assert.False(t, model.Credential{Provider: model.ProviderFitbit}.CanRefresh())
	assert.False(t, model.Credential{Provider: model.ProviderGarmin, RefreshToken: "secret"}.CanRefresh())
}

func TestParseProviderAndCategory(t *testing.T) {
	p, err := model.ParseProvider(" Fitbit ")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderFitbit, p)

	p, err = model.ParseProvider("manual")
	require.NoError(t, err)
	assert.Equal(t, model.SourceManual, p)

	_, err = model.ParseProvider("strava")
	assert.ErrorIs(t, err, model.ErrUnknownProvider)

	c, err := model.ParseCategory("heart-rate")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryHeartRate, c)

	_, err = model.ParseCategory("steps")
	assert.ErrorIs(t, err, model.ErrUnsupportedCategory)
}

func TestProviderDialect(t *testing.T) {
	assert.Equal(t, model.DialectTwoStep, model.ProviderGarmin.Dialect())
	assert.Equal(t, model.DialectNone, model.ProviderAppleHealth.Dialect())
	assert.Equal(t, model.DialectNone, model.SourceManual.Dialect())
	for _, p := range []model.Provider{model.ProviderFitbit, model.ProviderGoogleFit, model.ProviderSamsungHealth, model.ProviderMyFitnessPal} {
		assert.Equal(t, model.DialectAuthCode, p.Dialect(), p)
	}
}

func TestMeals_Add(t *testing.T) {
	var m model.Meals
	m.Add("Breakfast", model.FoodEntry{Name: "Oats", Calories: 300})
	m.Add("dinner", model.FoodEntry{Name: "Pasta", Calories: 700})
	m.Add("Second Breakfast", model.FoodEntry{Name: "Apple", Calories: 80})

	assert.Len(t, m.Breakfast, 1)
	assert.Len(t, m.Dinner, 1)
	assert.Equal(t, []model.FoodEntry{{Name: "Apple", Calories: 80}}, m.Snack)
}

func TestSnapshot_EntriesRoundTrip(t *testing.T) {
	resting := 52
	snap := model.Snapshot{
		Activity:  []model.ActivityRecord{{Date: "2024-03-01", Steps: 10}},
		HeartRate: []model.HeartRateRecord{{Date: "2024-03-01", Time: "07:00", HeartRate: 60, RestingHeartRate: &resting}},
	}.WithSource(model.ProviderAppleHealth)

	var back model.Snapshot
	for _, e := range snap.Entries() {
		back.Append(e)
	}
	assert.Equal(t, snap.Activity, back.Activity)
	assert.Equal(t, snap.HeartRate, back.HeartRate)
	assert.Equal(t, model.ProviderAppleHealth, back.HeartRate[0].Source)

	assert.Error(t, back.AppendEncoded(model.Category("steps"), []byte(`{}`)))
	assert.Error(t, back.AppendEncoded(model.CategoryWater, []byte(`not json`)))
}
