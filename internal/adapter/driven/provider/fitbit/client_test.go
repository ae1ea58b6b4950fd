package fitbit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/api"
	"github.com/ericfisherdev/fitsync/internal/adapter/driven/provider/fitbit"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

type staticCreds struct{}

func (staticCreds) Provider() model.Provider { return model.ProviderFitbit }

func (staticCreds) EnsureValidToken(context.Context) (model.Credential, error) {
	return model.Credential{Provider: model.ProviderFitbit, AccessToken: "tok"}, nil
}

func newTestClient(t *testing.T, handler http.Handler) *fitbit.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := fitbit.NewClient(staticCreds{}, api.Options{BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	return client
}

func twoDays(t *testing.T) model.DateRange {
	t.Helper()
	r, err := model.NewDateRange("2024-03-01", "2024-03-02")
	require.NoError(t, err)
	return r
}

func activityMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /1/user/-/activities/steps/date/2024-03-01/2024-03-02.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activities-steps":[{"dateTime":"2024-03-01","value":"8500"},{"dateTime":"2024-03-02","value":"0"}]}`))
	})
	mux.HandleFunc("GET /1/user/-/activities/calories/date/2024-03-01/2024-03-02.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activities-calories":[{"dateTime":"2024-03-01","value":"2400"},{"dateTime":"2024-03-02","value":"1800"}]}`))
	})
	mux.HandleFunc("GET /1/user/-/activities/distance/date/2024-03-01/2024-03-02.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activities-distance":[{"dateTime":"2024-03-01","value":"5.23"},{"dateTime":"2024-03-02","value":"0"}]}`))
	})
	mux.HandleFunc("GET /1/user/-/activities/minutesVeryActive/date/2024-03-01/2024-03-02.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activities-minutesVeryActive":[{"dateTime":"2024-03-01","value":"35"},{"dateTime":"2024-03-02","value":"0"}]}`))
	})
	return mux
}

func TestFetchActivity(t *testing.T) {
	client := newTestClient(t, activityMux())

	got, err := client.FetchActivity(context.Background(), twoDays(t))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "2024-03-01", got[0].Date)
	assert.Equal(t, 8500, got[0].Steps)
	assert.InDelta(t, 5230.0, got[0].DistanceMeters, 1e-6)
	assert.Equal(t, 35, got[0].ActiveMinutes)
	assert.Equal(t, 2400, got[0].Calories)
	assert.Equal(t, model.ProviderFitbit, got[0].Source)
}

func TestFetchActivity_DistanceKilometresToMetres(t *testing.T) {
	series := func(resource, value string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"activities-` + resource + `":[{"dateTime":"2024-03-01","value":"` + value + `"}]}`))
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /1/user/-/activities/steps/date/2024-03-01/2024-03-01.json", series("steps", "9000"))
	mux.HandleFunc("GET /1/user/-/activities/calories/date/2024-03-01/2024-03-01.json", series("calories", "2200"))
	mux.HandleFunc("GET /1/user/-/activities/distance/date/2024-03-01/2024-03-01.json", series("distance", "6.5"))
	mux.HandleFunc("GET /1/user/-/activities/minutesVeryActive/date/2024-03-01/2024-03-01.json", series("minutesVeryActive", "20"))
	client := newTestClient(t, mux)

	r, err := model.NewDateRange("2024-03-01", "2024-03-01")
	require.NoError(t, err)

	got, err := client.FetchActivity(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 6500.0, got[0].DistanceMeters, 1e-9)
}

func TestFetchActivity_OneFailingSeriesFailsAll(t *testing.T) {
	mux := activityMux()
	failing := http.NewServeMux()
	failing.HandleFunc("/1/user/-/activities/calories/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	failing.Handle("/", mux)
	client := newTestClient(t, failing)

	_, err := client.FetchActivity(context.Background(), twoDays(t))
	var apiErr *model.ProviderAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestFetchSleep(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1.2/user/-/sleep/date/2024-03-01/2024-03-02.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"sleep":[
			{"dateOfSleep":"2024-03-01","startTime":"2024-03-01T13:00:00.000","endTime":"2024-03-01T13:40:00.000",
			 "duration":2400000,"efficiency":90,"isMainSleep":false,
			 "levels":{"summary":{"asleep":{"minutes":35},"awake":{"minutes":5}}}},
			{"dateOfSleep":"2024-03-01","startTime":"2024-02-29T23:10:00.000","endTime":"2024-03-01T07:02:00.000",
			 "duration":28320000,"efficiency":93,"isMainSleep":true,
			 "levels":{"summary":{"deep":{"minutes":80},"light":{"minutes":250},"rem":{"minutes":90},"wake":{"minutes":52}}}},
			{"dateOfSleep":"2024-03-02","startTime":"2024-03-02T00:30:00.000","endTime":"2024-03-02T01:30:00.000",
			 "duration":3600000,"efficiency":70,"isMainSleep":false,
			 "levels":{"summary":{"asleep":{"minutes":50}}}}
		]}`))
	}))

	got, err := client.FetchSleep(context.Background(), twoDays(t))
	require.NoError(t, err)
	require.Len(t, got, 2)

	main := got[0]
	assert.Equal(t, "2024-03-01", main.Date)
	assert.Equal(t, 472, main.DurationMinutes)
	assert.Equal(t, 93, main.EfficiencyPercent)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 10, 0, 0, time.UTC), main.StartTime)
	require.NotNil(t, main.Stages)
	assert.Equal(t, model.SleepStages{Deep: 80, Light: 250, REM: 90, Awake: 52}, *main.Stages)

	assert.Equal(t, 60, got[1].DurationMinutes)
	assert.Nil(t, got[1].Stages, "classic logs have no stage breakdown")
}

func TestFetchSleep_ClampsEfficiency(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sleep":[
			{"dateOfSleep":"2024-03-01","startTime":"2024-02-29T23:00:00.000","endTime":"2024-03-01T07:00:00.000",
			 "duration":28800000,"efficiency":130,"isMainSleep":true},
			{"dateOfSleep":"2024-03-02","startTime":"2024-03-01T23:00:00.000","endTime":"2024-03-02T07:00:00.000",
			 "duration":28800000,"efficiency":-5,"isMainSleep":true}
		]}`))
	}))

	got, err := client.FetchSleep(context.Background(), twoDays(t))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100, got[0].EfficiencyPercent)
	assert.Equal(t, 0, got[1].EfficiencyPercent)
}

func TestFetchHeartRate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activities-heart":[
			{"dateTime":"2024-03-01","value":{"restingHeartRate":58}},
			{"dateTime":"2024-03-02","value":{}}
		]}`))
	}))

	got, err := client.FetchHeartRate(context.Background(), twoDays(t))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 58, got[0].HeartRate)
	require.NotNil(t, got[0].RestingHeartRate)
	assert.Equal(t, 58, *got[0].RestingHeartRate)
}

func TestFetchWeight(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"weight":[
			{"date":"2024-03-01","time":"07:00:00","weight":80.54},
			{"date":"2024-03-01","time":"21:00:00","weight":81.02},
			{"date":"2024-03-02","time":"07:00:00","weight":80.3}
		]}`))
	}))

	got, err := client.FetchWeight(context.Background(), twoDays(t))
	require.NoError(t, err)
	assert.Equal(t, []model.WeightRecord{
		{Date: "2024-03-01", WeightKg: 81.0, Source: model.ProviderFitbit},
		{Date: "2024-03-02", WeightKg: 80.3, Source: model.ProviderFitbit},
	}, got)
}

func TestFetchActivity_MalformedValue(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"activities-steps":[{"dateTime":"2024-03-01","value":"many"}],
			"activities-calories":[],"activities-distance":[],"activities-minutesVeryActive":[]}`))
	}))

	_, err := client.FetchActivity(context.Background(), twoDays(t))
	var parseErr *model.ParseError
	assert.True(t, errors.As(err, &parseErr))
}
