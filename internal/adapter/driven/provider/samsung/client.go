// Package samsung reads activity, sleep and heart-rate data from the Samsung
// Health partner API.
package samsung

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/api"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

const (
	DefaultBaseURL = "https://api.samsunghealth.com/v1"
	AuthURL        = "https://account.samsung.com/accounts/v1/oauth2/authorize"
)

// Scopes requested on authorization.
var Scopes = []string{"activity.read", "sleep.read", "heart_rate.read"}

// Compile-time interface satisfaction checks.
var (
	_ driven.ActivityFetcher  = (*Client)(nil)
	_ driven.SleepFetcher     = (*Client)(nil)
	_ driven.HeartRateFetcher = (*Client)(nil)
)

// Sleep stage codes.
const (
	stageAwake = 40001
	stageLight = 40002
	stageDeep  = 40003
	stageREM   = 40004
)

// Client is the Samsung Health data client.
type Client struct {
	api *api.Client
	loc *time.Location
}

// NewClient creates a Samsung Health client. A zero opts.BaseURL selects the
// production API.
func NewClient(creds driven.CredentialSource, opts api.Options) (*Client, error) {
	c, err := api.New(api.Config{
		Provider:    model.ProviderSamsungHealth,
		BaseURL:     opts.BaseURLOr(DefaultBaseURL),
		Credentials: creds,
		HTTPClient:  opts.HTTPClient,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{api: c, loc: opts.Loc()}, nil
}

// Provider returns model.ProviderSamsungHealth.
func (c *Client) Provider() model.Provider { return model.ProviderSamsungHealth }

func rangeQuery(r model.DateRange) url.Values {
	return url.Values{
		"start_date": {r.StartDate()},
		"end_date":   {r.EndDate()},
	}
}

// FetchActivity reads daily step summaries. Active time arrives in
// milliseconds and distance in metres.
func (c *Client) FetchActivity(ctx context.Context, r model.DateRange) ([]model.ActivityRecord, error) {
	var resp struct {
		Data []struct {
			Date       string  `json:"date"`
			Count      int     `json:"count"`
			Distance   float64 `json:"distance"`
			Calories   float64 `json:"calories"`
			ActiveTime int64   `json:"active_time"`
		} `json:"data"`
	}
	if err := c.api.GetJSON(ctx, "/users/me/steps", rangeQuery(r), &resp); err != nil {
		return nil, err
	}

	out := make([]model.ActivityRecord, 0, len(resp.Data))
	for _, d := range resp.Data {
		if !r.Contains(d.Date) {
			continue
		}
		out = append(out, model.ActivityRecord{
			Date:           d.Date,
			Steps:          d.Count,
			DistanceMeters: api.Round1(d.Distance),
			ActiveMinutes:  api.MillisToMinutes(d.ActiveTime),
			Calories:       int(d.Calories),
			Source:         model.ProviderSamsungHealth,
		})
	}
	return out, nil
}

type sleepStage struct {
	Stage     int       `json:"stage"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// FetchSleep reads sleep sessions keyed by the local date they ended. When
// several sessions end on one date the longest is kept.
func (c *Client) FetchSleep(ctx context.Context, r model.DateRange) ([]model.SleepRecord, error) {
	var resp struct {
		Data []struct {
			StartTime  time.Time    `json:"start_time"`
			EndTime    time.Time    `json:"end_time"`
			Efficiency float64      `json:"efficiency"`
			Stages     []sleepStage `json:"stages"`
		} `json:"data"`
	}
	if err := c.api.GetJSON(ctx, "/users/me/sleep", rangeQuery(r), &resp); err != nil {
		return nil, err
	}

	byDate := make(map[string]model.SleepRecord, len(resp.Data))
	for _, s := range resp.Data {
		date := api.DateOf(s.EndTime, c.loc)
		if !r.Contains(date) {
			continue
		}
		rec := model.SleepRecord{
			Date:              date,
			StartTime:         s.StartTime.UTC(),
			EndTime:           s.EndTime.UTC(),
			DurationMinutes:   int(s.EndTime.Sub(s.StartTime) / time.Minute),
			EfficiencyPercent: model.ClampPercent(int(s.Efficiency)),
			Source:            model.ProviderSamsungHealth,
		}
		if len(s.Stages) > 0 {
			var st model.SleepStages
			for _, stage := range s.Stages {
				minutes := int(stage.EndTime.Sub(stage.StartTime) / time.Minute)
				switch stage.Stage {
				case stageAwake:
					st.Awake += minutes
				case stageLight:
					st.Light += minutes
				case stageDeep:
					st.Deep += minutes
				case stageREM:
					st.REM += minutes
				}
			}
			rec.Stages = &st
		}
		if cur, ok := byDate[date]; !ok || rec.DurationMinutes > cur.DurationMinutes {
			byDate[date] = rec
		}
	}

	out := make([]model.SleepRecord, 0, len(byDate))
	for _, rec := range byDate {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// FetchHeartRate reads individual heart-rate samples; each becomes a record
// keyed by date and minute.
func (c *Client) FetchHeartRate(ctx context.Context, r model.DateRange) ([]model.HeartRateRecord, error) {
	var resp struct {
		Data []struct {
			Timestamp time.Time `json:"timestamp"`
			HeartRate float64   `json:"heart_rate"`
		} `json:"data"`
	}
	if err := c.api.GetJSON(ctx, "/users/me/heart-rate", rangeQuery(r), &resp); err != nil {
		return nil, err
	}

	out := make([]model.HeartRateRecord, 0, len(resp.Data))
	for _, d := range resp.Data {
		date := api.DateOf(d.Timestamp, c.loc)
		if !r.Contains(date) {
			continue
		}
		out = append(out, model.HeartRateRecord{
			Date:      date,
			Time:      api.TimeOf(d.Timestamp, c.loc),
			HeartRate: int(d.HeartRate),
			Source:    model.ProviderSamsungHealth,
		})
	}
	return out, nil
}
