// Package fitbit reads activity, sleep, heart-rate and weight data from the
// Fitbit Web API.
package fitbit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/api"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

const (
	DefaultBaseURL = "https://api.fitbit.com"
	AuthURL        = "https://www.fitbit.com/oauth2/authorize"
)

// Scopes requested on authorization.
var Scopes = []string{"activity", "heartrate", "sleep", "weight", "profile"}

// Compile-time interface satisfaction checks.
var (
	_ driven.ActivityFetcher  = (*Client)(nil)
	_ driven.SleepFetcher     = (*Client)(nil)
	_ driven.HeartRateFetcher = (*Client)(nil)
	_ driven.WeightFetcher    = (*Client)(nil)
)

// fitbitTimeLayout is how Fitbit renders sleep start and end (local time, no
// zone).
const fitbitTimeLayout = "2006-01-02T15:04:05.000"

// Client is the Fitbit data client.
type Client struct {
	api *api.Client
}

// NewClient creates a Fitbit client. A zero opts.BaseURL selects the
// production API.
func NewClient(creds driven.CredentialSource, opts api.Options) (*Client, error) {
	c, err := api.New(api.Config{
		Provider:    model.ProviderFitbit,
		BaseURL:     opts.BaseURLOr(DefaultBaseURL),
		Credentials: creds,
		HTTPClient:  opts.HTTPClient,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{api: c}, nil
}

// Provider returns model.ProviderFitbit.
func (c *Client) Provider() model.Provider { return model.ProviderFitbit }

type seriesPoint struct {
	DateTime string `json:"dateTime"`
	Value    string `json:"value"`
}

// series reads one activity time series as date -> value.
func (c *Client) series(ctx context.Context, resource string, r model.DateRange) (map[string]float64, error) {
	endpoint := fmt.Sprintf("/1/user/-/activities/%s/date/%s/%s.json", resource, r.StartDate(), r.EndDate())

	var resp map[string][]seriesPoint
	if err := c.api.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	points, ok := resp["activities-"+resource]
	if !ok {
		return nil, &model.ParseError{Provider: model.ProviderFitbit, Endpoint: endpoint, Err: fmt.Errorf("missing activities-%s", resource)}
	}

	out := make(map[string]float64, len(points))
	for _, p := range points {
		v, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			return nil, &model.ParseError{Provider: model.ProviderFitbit, Endpoint: endpoint, Err: err}
		}
		out[p.DateTime] = v
	}
	return out, nil
}

// FetchActivity reads steps, calories, distance and very-active minutes in
// parallel and joins them by date. Distance arrives in kilometres.
func (c *Client) FetchActivity(ctx context.Context, r model.DateRange) ([]model.ActivityRecord, error) {
	var steps, calories, distance, active map[string]float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { steps, err = c.series(gctx, "steps", r); return err })
	g.Go(func() (err error) { calories, err = c.series(gctx, "calories", r); return err })
	g.Go(func() (err error) { distance, err = c.series(gctx, "distance", r); return err })
	g.Go(func() (err error) { active, err = c.series(gctx, "minutesVeryActive", r); return err })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.ActivityRecord
	for _, date := range r.Dates() {
		_, hasSteps := steps[date]
		_, hasCalories := calories[date]
		_, hasDistance := distance[date]
		_, hasActive := active[date]
		if !hasSteps && !hasCalories && !hasDistance && !hasActive {
			continue
		}
		out = append(out, model.ActivityRecord{
			Date:           date,
			Steps:          int(steps[date]),
			DistanceMeters: api.KmToMeters(distance[date]),
			ActiveMinutes:  int(active[date]),
			Calories:       int(calories[date]),
			Source:         model.ProviderFitbit,
		})
	}
	return out, nil
}

type stageSummary struct {
	Minutes int `json:"minutes"`
}

type sleepLog struct {
	DateOfSleep string `json:"dateOfSleep"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Duration    int64  `json:"duration"`
	Efficiency  int    `json:"efficiency"`
	IsMainSleep bool   `json:"isMainSleep"`
	Levels      *struct {
		Summary map[string]stageSummary `json:"summary"`
	} `json:"levels"`
}

// FetchSleep reads sleep logs. Where a date has several logs the main sleep
// wins, else the first.
func (c *Client) FetchSleep(ctx context.Context, r model.DateRange) ([]model.SleepRecord, error) {
	endpoint := fmt.Sprintf("/1.2/user/-/sleep/date/%s/%s.json", r.StartDate(), r.EndDate())

	var resp struct {
		Sleep []sleepLog `json:"sleep"`
	}
	if err := c.api.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	chosen := make(map[string]sleepLog)
	var order []string
	for _, s := range resp.Sleep {
		cur, ok := chosen[s.DateOfSleep]
		if !ok {
			order = append(order, s.DateOfSleep)
		}
		if !ok || (s.IsMainSleep && !cur.IsMainSleep) {
			chosen[s.DateOfSleep] = s
		}
	}

	out := make([]model.SleepRecord, 0, len(order))
	for _, date := range order {
		s := chosen[date]
		start, err := time.Parse(fitbitTimeLayout, s.StartTime)
		if err != nil {
			return nil, &model.ParseError{Provider: model.ProviderFitbit, Endpoint: endpoint, Err: err}
		}
		end, err := time.Parse(fitbitTimeLayout, s.EndTime)
		if err != nil {
			return nil, &model.ParseError{Provider: model.ProviderFitbit, Endpoint: endpoint, Err: err}
		}

		rec := model.SleepRecord{
			Date:              date,
			StartTime:         start,
			EndTime:           end,
			DurationMinutes:   api.MillisToMinutes(s.Duration),
			EfficiencyPercent: model.ClampPercent(s.Efficiency),
			Source:            model.ProviderFitbit,
		}
		// Classic logs (short naps) carry asleep/restless/awake instead of
		// stages; only staged logs get a breakdown.
		if s.Levels != nil {
			if _, staged := s.Levels.Summary["deep"]; staged {
				rec.Stages = &model.SleepStages{
					Deep:  s.Levels.Summary["deep"].Minutes,
					Light: s.Levels.Summary["light"].Minutes,
					REM:   s.Levels.Summary["rem"].Minutes,
					Awake: s.Levels.Summary["wake"].Minutes,
				}
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// FetchHeartRate reads daily resting heart rate. Days without a resting
// value are skipped.
func (c *Client) FetchHeartRate(ctx context.Context, r model.DateRange) ([]model.HeartRateRecord, error) {
	endpoint := fmt.Sprintf("/1/user/-/activities/heart/date/%s/%s.json", r.StartDate(), r.EndDate())

	var resp struct {
		Days []struct {
			DateTime string `json:"dateTime"`
			Value    struct {
				RestingHeartRate *int `json:"restingHeartRate"`
			} `json:"value"`
		} `json:"activities-heart"`
	}
	if err := c.api.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	var out []model.HeartRateRecord
	for _, d := range resp.Days {
		if d.Value.RestingHeartRate == nil {
			continue
		}
		resting := *d.Value.RestingHeartRate
		out = append(out, model.HeartRateRecord{
			Date:             d.DateTime,
			HeartRate:        resting,
			RestingHeartRate: &resting,
			Source:           model.ProviderFitbit,
		})
	}
	return out, nil
}

// FetchWeight reads logged body weight. The API answers in kilograms when no
// locale is requested; the last entry of a day wins.
func (c *Client) FetchWeight(ctx context.Context, r model.DateRange) ([]model.WeightRecord, error) {
	endpoint := fmt.Sprintf("/1/user/-/body/log/weight/date/%s/%s.json", r.StartDate(), r.EndDate())

	var resp struct {
		Weight []struct {
			Date   string  `json:"date"`
			Time   string  `json:"time"`
			Weight float64 `json:"weight"`
		} `json:"weight"`
	}
	if err := c.api.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	byDate := make(map[string]float64)
	var order []string
	for _, w := range resp.Weight {
		if _, seen := byDate[w.Date]; !seen {
			order = append(order, w.Date)
		}
		byDate[w.Date] = w.Weight
	}

	out := make([]model.WeightRecord, 0, len(order))
	for _, date := range order {
		out = append(out, model.WeightRecord{
			Date:     date,
			WeightKg: api.Round1(byDate[date]),
			Source:   model.ProviderFitbit,
		})
	}
	return out, nil
}
