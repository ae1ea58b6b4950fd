// Package googlefit reads activity, sleep and heart-rate data from the
// Google Fit REST API.
package googlefit

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/api"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/fitness/v1/users/me"
	AuthURL        = "https://accounts.google.com/o/oauth2/v2/auth"
)

// Scopes requested on authorization.
var Scopes = []string{
	"https://www.googleapis.com/auth/fitness.activity.read",
	"https://www.googleapis.com/auth/fitness.sleep.read",
	"https://www.googleapis.com/auth/fitness.heart_rate.read",
	"https://www.googleapis.com/auth/fitness.location.read",
}

// AuthParams makes Google issue a refresh token on every consent.
var AuthParams = map[string]string{
	"access_type": "offline",
	"prompt":      "consent",
}

// Compile-time interface satisfaction checks.
var (
	_ driven.ActivityFetcher  = (*Client)(nil)
	_ driven.SleepFetcher     = (*Client)(nil)
	_ driven.HeartRateFetcher = (*Client)(nil)
)

const (
	typeSteps         = "com.google.step_count.delta"
	typeCalories      = "com.google.calories.expended"
	typeDistance      = "com.google.distance.delta"
	typeActiveMinutes = "com.google.active_minutes"
	typeHeartRate     = "com.google.heart_rate.bpm"
	typeHeartSummary  = "com.google.heart_rate.summary"

	sleepActivityType = 72
	sleepSegmentSrc   = "derived:com.google.sleep.segment:com.google.android.gms:merged"
)

// Sleep segment stage codes.
const (
	stageAwake    = 1
	stageSleep    = 2
	stageOutOfBed = 3
	stageLight    = 4
	stageDeep     = 5
	stageREM      = 6
)

// Client is the Google Fit data client.
type Client struct {
	api *api.Client
	loc *time.Location
}

// NewClient creates a Google Fit client. A zero opts.BaseURL selects the
// production API.
func NewClient(creds driven.CredentialSource, opts api.Options) (*Client, error) {
	c, err := api.New(api.Config{
		Provider:    model.ProviderGoogleFit,
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

// Provider returns model.ProviderGoogleFit.
func (c *Client) Provider() model.Provider { return model.ProviderGoogleFit }

type aggregateRequest struct {
	AggregateBy     []aggregateBy `json:"aggregateBy"`
	BucketByTime    bucketByTime  `json:"bucketByTime"`
	StartTimeMillis int64         `json:"startTimeMillis"`
	EndTimeMillis   int64         `json:"endTimeMillis"`
}

type aggregateBy struct {
	DataTypeName string `json:"dataTypeName"`
}

// bucketByTime asks for calendar-day buckets in the user's zone, so DST
// days come back as 23 or 25 hour buckets instead of drifting.
type bucketByTime struct {
	Period bucketPeriod `json:"period"`
}

type bucketPeriod struct {
	Type       string `json:"type"`
	Value      int    `json:"value"`
	TimeZoneID string `json:"timeZoneId"`
}

type pointValue struct {
	IntVal *int64   `json:"intVal"`
	FpVal  *float64 `json:"fpVal"`
}

func (v pointValue) number() float64 {
	switch {
	case v.FpVal != nil:
		return *v.FpVal
	case v.IntVal != nil:
		return float64(*v.IntVal)
	default:
		return 0
	}
}

type aggregateResponse struct {
	Bucket []struct {
		StartTimeMillis string `json:"startTimeMillis"`
		Dataset         []struct {
			Point []struct {
				DataTypeName string       `json:"dataTypeName"`
				Value        []pointValue `json:"value"`
			} `json:"point"`
		} `json:"dataset"`
	} `json:"bucket"`
}

// dailyAggregate runs one aggregate query bucketed per day and returns
// date -> data type -> point values, summed across points.
func (c *Client) dailyAggregate(ctx context.Context, r model.DateRange, types ...string) (map[string]map[string][]float64, error) {
	const endpoint = "/dataset:aggregate"

	req := aggregateRequest{
		BucketByTime:    bucketByTime{Period: bucketPeriod{Type: "day", Value: 1, TimeZoneID: c.loc.String()}},
		StartTimeMillis: r.StartIn(c.loc).UnixMilli(),
		EndTimeMillis:   r.EndIn(c.loc).UnixMilli(),
	}
	for _, t := range types {
		req.AggregateBy = append(req.AggregateBy, aggregateBy{DataTypeName: t})
	}

	var resp aggregateResponse
	if err := c.api.PostJSON(ctx, endpoint, req, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]map[string][]float64, len(resp.Bucket))
	for _, b := range resp.Bucket {
		ms, err := strconv.ParseInt(b.StartTimeMillis, 10, 64)
		if err != nil {
			return nil, &model.ParseError{Provider: model.ProviderGoogleFit, Endpoint: endpoint, Err: err}
		}
		date := api.DateOf(api.FromMillis(ms), c.loc)

		values := make(map[string][]float64)
		for _, ds := range b.Dataset {
			for _, p := range ds.Point {
				nums := make([]float64, len(p.Value))
				for i, v := range p.Value {
					nums[i] = v.number()
				}
				if prev, ok := values[p.DataTypeName]; ok && len(prev) == len(nums) {
					for i := range nums {
						nums[i] += prev[i]
					}
				}
				values[p.DataTypeName] = nums
			}
		}
		if len(values) > 0 {
			out[date] = values
		}
	}
	return out, nil
}

func first(values map[string][]float64, dataType string) float64 {
	v := values[dataType]
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// FetchActivity reads steps, calories, distance and active minutes in one
// aggregate query bucketed per day.
func (c *Client) FetchActivity(ctx context.Context, r model.DateRange) ([]model.ActivityRecord, error) {
	days, err := c.dailyAggregate(ctx, r, typeSteps, typeCalories, typeDistance, typeActiveMinutes)
	if err != nil {
		return nil, err
	}

	var out []model.ActivityRecord
	for _, date := range r.Dates() {
		values, ok := days[date]
		if !ok {
			continue
		}
		out = append(out, model.ActivityRecord{
			Date:           date,
			Steps:          int(first(values, typeSteps)),
			DistanceMeters: api.Round1(first(values, typeDistance)),
			ActiveMinutes:  int(first(values, typeActiveMinutes)),
			Calories:       int(math.Round(first(values, typeCalories))),
			Source:         model.ProviderGoogleFit,
		})
	}
	return out, nil
}

// FetchHeartRate reads the daily average heart rate. The aggregate comes
// back as a summary point of average, max and min.
func (c *Client) FetchHeartRate(ctx context.Context, r model.DateRange) ([]model.HeartRateRecord, error) {
	days, err := c.dailyAggregate(ctx, r, typeHeartRate)
	if err != nil {
		return nil, err
	}

	var out []model.HeartRateRecord
	for _, date := range r.Dates() {
		values, ok := days[date]
		if !ok {
			continue
		}
		avg := first(values, typeHeartSummary)
		if avg == 0 {
			avg = first(values, typeHeartRate)
		}
		if avg == 0 {
			continue
		}
		out = append(out, model.HeartRateRecord{
			Date:      date,
			HeartRate: int(math.Round(avg)),
			Source:    model.ProviderGoogleFit,
		})
	}
	return out, nil
}

type session struct {
	StartTimeMillis string `json:"startTimeMillis"`
	EndTimeMillis   string `json:"endTimeMillis"`
	ActivityType    int    `json:"activityType"`
}

type segment struct {
	start, end time.Time
	stage      int64
}

// FetchSleep reads sleep sessions and the merged sleep-segment stream in
// parallel, then attributes segments to the session that contains them.
func (c *Client) FetchSleep(ctx context.Context, r model.DateRange) ([]model.SleepRecord, error) {
	// Nights that end on the first day of the range start the evening before.
	from := r.StartIn(c.loc).Add(-12 * time.Hour)
	to := r.EndIn(c.loc)

	var sessions []session
	var segments []segment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var resp struct {
			Session []session `json:"session"`
		}
		q := url.Values{
			"startTime":    {from.Format(time.RFC3339)},
			"endTime":      {to.Format(time.RFC3339)},
			"activityType": {strconv.Itoa(sleepActivityType)},
		}
		if err := c.api.GetJSON(gctx, "/sessions", q, &resp); err != nil {
			return err
		}
		sessions = resp.Session
		return nil
	})
	g.Go(func() error {
		endpoint := fmt.Sprintf("/dataSources/%s/datasets/%d-%d", sleepSegmentSrc, from.UnixNano(), to.UnixNano())
		var resp struct {
			Point []struct {
				StartTimeNanos string       `json:"startTimeNanos"`
				EndTimeNanos   string       `json:"endTimeNanos"`
				Value          []pointValue `json:"value"`
			} `json:"point"`
		}
		if err := c.api.GetJSON(gctx, endpoint, nil, &resp); err != nil {
			return err
		}
		for _, p := range resp.Point {
			start, err1 := strconv.ParseInt(p.StartTimeNanos, 10, 64)
			end, err2 := strconv.ParseInt(p.EndTimeNanos, 10, 64)
			if err1 != nil || err2 != nil || len(p.Value) == 0 {
				return &model.ParseError{Provider: model.ProviderGoogleFit, Endpoint: endpoint, Err: fmt.Errorf("malformed sleep segment")}
			}
			segments = append(segments, segment{
				start: api.FromNanos(start),
				end:   api.FromNanos(end),
				stage: int64(p.Value[0].number()),
			})
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byDate := make(map[string]model.SleepRecord)
	for _, s := range sessions {
		startMs, err1 := strconv.ParseInt(s.StartTimeMillis, 10, 64)
		endMs, err2 := strconv.ParseInt(s.EndTimeMillis, 10, 64)
		if err1 != nil || err2 != nil {
			return nil, &model.ParseError{Provider: model.ProviderGoogleFit, Endpoint: "/sessions", Err: fmt.Errorf("malformed session times")}
		}
		start, end := api.FromMillis(startMs), api.FromMillis(endMs)
		date := api.DateOf(end, c.loc)
		if !r.Contains(date) {
			continue
		}

		rec := model.SleepRecord{
			Date:            date,
			StartTime:       start,
			EndTime:         end,
			DurationMinutes: int(end.Sub(start) / time.Minute),
			Source:          model.ProviderGoogleFit,
		}
		if stages, ok := stagesWithin(segments, start, end); ok {
			rec.Stages = &stages
			if rec.DurationMinutes > 0 {
				asleep := rec.DurationMinutes - stages.Awake
				rec.EfficiencyPercent = model.ClampPercent(asleep * 100 / rec.DurationMinutes)
			}
		}

		// Keep the longest session per night.
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

func stagesWithin(segments []segment, start, end time.Time) (model.SleepStages, bool) {
	var st model.SleepStages
	found := false
	for _, seg := range segments {
		if seg.start.Before(start) || seg.end.After(end) {
			continue
		}
		found = true
		minutes := int(seg.end.Sub(seg.start) / time.Minute)
		switch seg.stage {
		case stageAwake, stageOutOfBed:
			st.Awake += minutes
		case stageSleep, stageLight:
			st.Light += minutes
		case stageDeep:
			st.Deep += minutes
		case stageREM:
			st.REM += minutes
		}
	}
	return st, found
}
