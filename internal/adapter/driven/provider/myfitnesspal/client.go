// Package myfitnesspal reads food diary, water and weight entries from the
// MyFitnessPal API.
package myfitnesspal

import (
	"context"
	"net/url"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/api"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

const (
	DefaultBaseURL = "https://api.myfitnesspal.com/v2"
	AuthURL        = "https://www.myfitnesspal.com/oauth2/authorize"
)

// Scopes requested on authorization.
var Scopes = []string{"diary", "measurements"}

// Compile-time interface satisfaction checks.
var (
	_ driven.NutritionFetcher = (*Client)(nil)
	_ driven.WaterFetcher     = (*Client)(nil)
	_ driven.WeightFetcher    = (*Client)(nil)
)

// Client is the MyFitnessPal data client.
type Client struct {
	api *api.Client
}

// NewClient creates a MyFitnessPal client. A zero opts.BaseURL selects the
// production API.
func NewClient(creds driven.CredentialSource, opts api.Options) (*Client, error) {
	c, err := api.New(api.Config{
		Provider:    model.ProviderMyFitnessPal,
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

// Provider returns model.ProviderMyFitnessPal.
func (c *Client) Provider() model.Provider { return model.ProviderMyFitnessPal }

func rangeQuery(r model.DateRange) url.Values {
	return url.Values{
		"from": {r.StartDate()},
		"to":   {r.EndDate()},
	}
}

type diaryEntry struct {
	Meal     string  `json:"meal"`
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbohydrates"`
	Fat      float64 `json:"fat"`
}

type diaryResponse struct {
	Days []struct {
		Date    string       `json:"date"`
		Entries []diaryEntry `json:"entries"`
	} `json:"days"`
}

type goalsResponse struct {
	Goals []struct {
		Date     string  `json:"date"`
		Calories float64 `json:"calories"`
	} `json:"goals"`
}

// FetchNutrition joins the food diary with the daily calorie goals. Only
// days with at least one diary entry produce a record.
func (c *Client) FetchNutrition(ctx context.Context, r model.DateRange) ([]model.NutritionRecord, error) {
	var (
		diary diaryResponse
		goals goalsResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.api.GetJSON(gctx, "/diary", rangeQuery(r), &diary) })
	g.Go(func() error { return c.api.GetJSON(gctx, "/nutrient-goals", rangeQuery(r), &goals) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	goalByDate := make(map[string]int, len(goals.Goals))
	for _, goal := range goals.Goals {
		goalByDate[goal.Date] = int(goal.Calories)
	}

	byDate := make(map[string]*model.NutritionRecord)
	for _, day := range diary.Days {
		if !r.Contains(day.Date) || len(day.Entries) == 0 {
			continue
		}
		rec, ok := byDate[day.Date]
		if !ok {
			rec = &model.NutritionRecord{
				Date:         day.Date,
				GoalCalories: goalByDate[day.Date],
				Source:       model.ProviderMyFitnessPal,
			}
			byDate[day.Date] = rec
		}
		for _, e := range day.Entries {
			rec.TotalCalories += int(e.Calories)
			rec.Macros.ProteinG += e.Protein
			rec.Macros.CarbsG += e.Carbs
			rec.Macros.FatG += e.Fat
			rec.Meals.Add(e.Meal, model.FoodEntry{Name: e.Name, Calories: int(e.Calories)})
		}
	}

	out := make([]model.NutritionRecord, 0, len(byDate))
	for _, rec := range byDate {
		rec.Macros = model.Macros{
			ProteinG: api.Round1(rec.Macros.ProteinG),
			CarbsG:   api.Round1(rec.Macros.CarbsG),
			FatG:     api.Round1(rec.Macros.FatG),
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// FetchWater sums the day's water entries in millilitres.
func (c *Client) FetchWater(ctx context.Context, r model.DateRange) ([]model.WaterRecord, error) {
	var resp struct {
		Items []struct {
			Date     string  `json:"date"`
			Amount   float64 `json:"amount"`
			Unit     string  `json:"unit"`
			Goal     float64 `json:"goal"`
			GoalUnit string  `json:"goal_unit"`
		} `json:"items"`
	}
	if err := c.api.GetJSON(ctx, "/water", rangeQuery(r), &resp); err != nil {
		return nil, err
	}

	byDate := make(map[string]*model.WaterRecord)
	var dates []string
	for _, it := range resp.Items {
		if !r.Contains(it.Date) {
			continue
		}
		rec, ok := byDate[it.Date]
		if !ok {
			rec = &model.WaterRecord{Date: it.Date, Source: model.ProviderMyFitnessPal}
			byDate[it.Date] = rec
			dates = append(dates, it.Date)
		}
		rec.AmountML += api.WaterToML(it.Amount, it.Unit)
		if it.Goal > 0 {
			unit := it.GoalUnit
			if unit == "" {
				unit = it.Unit
			}
			rec.GoalML = api.WaterToML(it.Goal, unit)
		}
	}
	sort.Strings(dates)

	out := make([]model.WaterRecord, 0, len(dates))
	for _, d := range dates {
		out = append(out, *byDate[d])
	}
	return out, nil
}

// FetchWeight reads weight measurements; the last entry of a day wins.
func (c *Client) FetchWeight(ctx context.Context, r model.DateRange) ([]model.WeightRecord, error) {
	q := rangeQuery(r)
	q.Set("type", "weight")

	var resp struct {
		Items []struct {
			Date  string  `json:"date"`
			Value float64 `json:"value"`
			Unit  string  `json:"unit"`
		} `json:"items"`
	}
	if err := c.api.GetJSON(ctx, "/measurements", q, &resp); err != nil {
		return nil, err
	}

	latest := make(map[string]float64)
	for _, it := range resp.Items {
		if r.Contains(it.Date) {
			latest[it.Date] = api.Round1(api.WeightToKg(it.Value, it.Unit))
		}
	}

	out := make([]model.WeightRecord, 0, len(latest))
	for date, kg := range latest {
		out = append(out, model.WeightRecord{Date: date, WeightKg: kg, Source: model.ProviderMyFitnessPal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
