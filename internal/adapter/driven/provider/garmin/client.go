// Package garmin reads activity, sleep and heart-rate summaries from the
// Garmin Health (wellness) API. Requests are OAuth1-signed.
package garmin

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/api"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

const (
	DefaultBaseURL = "https://apis.garmin.com/wellness-api/rest"
	ConfirmURL     = "https://connect.garmin.com/oauthConfirm"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.ActivityFetcher  = (*Client)(nil)
	_ driven.SleepFetcher     = (*Client)(nil)
	_ driven.HeartRateFetcher = (*Client)(nil)
)

// maxParallelDays bounds concurrent per-day requests; the API only accepts
// windows of up to 24 hours.
const maxParallelDays = 4

// Client is the Garmin data client.
type Client struct {
	api *api.Client
}

// NewClient creates a Garmin client signing with the consumer key pair. A
// zero opts.BaseURL selects the production API.
func NewClient(creds driven.CredentialSource, consumerKey, consumerSecret string, opts api.Options) (*Client, error) {
	c, err := api.New(api.Config{
		Provider:       model.ProviderGarmin,
		BaseURL:        opts.BaseURLOr(DefaultBaseURL),
		Credentials:    creds,
		Signing:        api.SignOAuth1,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		HTTPClient:     opts.HTTPClient,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{api: c}, nil
}

// Provider returns model.ProviderGarmin.
func (c *Client) Provider() model.Provider { return model.ProviderGarmin }

type daily struct {
	CalendarDate       string  `json:"calendarDate"`
	Steps              int     `json:"steps"`
	DistanceInMeters   float64 `json:"distanceInMeters"`
	ActiveKilocalories int     `json:"activeKilocalories"`
	BMRKilocalories    int     `json:"bmrKilocalories"`
	ModerateSeconds    int64   `json:"moderateIntensityDurationInSeconds"`
	VigorousSeconds    int64   `json:"vigorousIntensityDurationInSeconds"`
	RestingHeartRate   *int    `json:"restingHeartRateInBeatsPerMinute"`
	AverageHeartRate   *int    `json:"averageHeartRateInBeatsPerMinute"`
}

type sleep struct {
	CalendarDate       string `json:"calendarDate"`
	StartTimeInSeconds int64  `json:"startTimeInSeconds"`
	DurationInSeconds  int64  `json:"durationInSeconds"`
	DeepSeconds        int64  `json:"deepSleepDurationInSeconds"`
	LightSeconds       int64  `json:"lightSleepDurationInSeconds"`
	REMSeconds         int64  `json:"remSleepInSeconds"`
	AwakeSeconds       int64  `json:"awakeDurationInSeconds"`
}

// perDay fetches endpoint once per day of r, in parallel, and returns every
// summary whose calendar date falls inside r.
func perDay[T any](ctx context.Context, c *Client, endpoint string, r model.DateRange, dateOf func(T) string) ([]T, error) {
	var (
		mu  sync.Mutex
		all []T
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDays)
	for day := r.StartOfRange(); day.Before(r.EndOfRange()); day = day.AddDate(0, 0, 1) {
		q := url.Values{
			"uploadStartTimeInSeconds": {strconv.FormatInt(day.Unix(), 10)},
			"uploadEndTimeInSeconds":   {strconv.FormatInt(day.Add(24*time.Hour).Unix(), 10)},
		}
		g.Go(func() error {
			var batch []T
			if err := c.api.GetJSON(gctx, endpoint, q, &batch); err != nil {
				return err
			}
			mu.Lock()
			all = append(all, batch...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Summaries are re-uploaded as the device syncs; the last copy per date
	// is the most complete.
	latest := make(map[string]T)
	for _, item := range all {
		if d := dateOf(item); r.Contains(d) {
			latest[d] = item
		}
	}
	dates := make([]string, 0, len(latest))
	for d := range latest {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]T, 0, len(dates))
	for _, d := range dates {
		out = append(out, latest[d])
	}
	return out, nil
}

func (c *Client) dailies(ctx context.Context, r model.DateRange) ([]daily, error) {
	return perDay(ctx, c, "/dailies", r, func(d daily) string { return d.CalendarDate })
}

// FetchActivity maps daily summaries. Active minutes are moderate plus
// vigorous intensity time; calories are active plus resting burn.
func (c *Client) FetchActivity(ctx context.Context, r model.DateRange) ([]model.ActivityRecord, error) {
	days, err := c.dailies(ctx, r)
	if err != nil {
		return nil, err
	}

	out := make([]model.ActivityRecord, 0, len(days))
	for _, d := range days {
		out = append(out, model.ActivityRecord{
			Date:           d.CalendarDate,
			Steps:          d.Steps,
			DistanceMeters: api.Round1(d.DistanceInMeters),
			ActiveMinutes:  api.SecondsToMinutes(d.ModerateSeconds + d.VigorousSeconds),
			Calories:       d.ActiveKilocalories + d.BMRKilocalories,
			Source:         model.ProviderGarmin,
		})
	}
	return out, nil
}

// FetchHeartRate maps the average and resting heart rate of each daily
// summary. Days with neither are skipped.
func (c *Client) FetchHeartRate(ctx context.Context, r model.DateRange) ([]model.HeartRateRecord, error) {
	days, err := c.dailies(ctx, r)
	if err != nil {
		return nil, err
	}

	var out []model.HeartRateRecord
	for _, d := range days {
		rec := model.HeartRateRecord{Date: d.CalendarDate, Source: model.ProviderGarmin}
		switch {
		case d.AverageHeartRate != nil:
			rec.HeartRate = *d.AverageHeartRate
		case d.RestingHeartRate != nil:
			rec.HeartRate = *d.RestingHeartRate
		default:
			continue
		}
		if d.RestingHeartRate != nil {
			resting := *d.RestingHeartRate
			rec.RestingHeartRate = &resting
		}
		out = append(out, rec)
	}
	return out, nil
}

// FetchSleep maps sleep summaries; all durations arrive in seconds.
func (c *Client) FetchSleep(ctx context.Context, r model.DateRange) ([]model.SleepRecord, error) {
	sleeps, err := perDay(ctx, c, "/sleeps", r, func(s sleep) string { return s.CalendarDate })
	if err != nil {
		return nil, err
	}

	out := make([]model.SleepRecord, 0, len(sleeps))
	for _, s := range sleeps {
		start := time.Unix(s.StartTimeInSeconds, 0).UTC()
		rec := model.SleepRecord{
			Date:            s.CalendarDate,
			StartTime:       start,
			EndTime:         start.Add(time.Duration(s.DurationInSeconds) * time.Second),
			DurationMinutes: api.SecondsToMinutes(s.DurationInSeconds),
			Stages: &model.SleepStages{
				Deep:  api.SecondsToMinutes(s.DeepSeconds),
				Light: api.SecondsToMinutes(s.LightSeconds),
				REM:   api.SecondsToMinutes(s.REMSeconds),
				Awake: api.SecondsToMinutes(s.AwakeSeconds),
			},
			Source: model.ProviderGarmin,
		}
		if s.DurationInSeconds > 0 {
			asleep := s.DurationInSeconds - s.AwakeSeconds
			rec.EfficiencyPercent = model.ClampPercent(int(asleep * 100 / s.DurationInSeconds))
		}
		out = append(out, rec)
	}
	return out, nil
}
