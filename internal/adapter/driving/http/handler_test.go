package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/fitsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/fitsync/internal/application"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// --- Mock implementations ---

type mockHub struct {
	status         func(ctx context.Context) map[model.Provider]application.ProviderStatus
	authURLs       func(ctx context.Context) map[model.Provider]*string
	handleCallback func(ctx context.Context, p model.Provider, params model.CallbackParams) error
	logout         func(ctx context.Context, p model.Provider) error
	logoutAll      func(ctx context.Context) error
	importSnapshot func(ctx context.Context, p model.Provider, snap model.Snapshot) (int, error)
	data           func(ctx context.Context, c model.Category, r model.DateRange) (any, error)
}

func (m *mockHub) Status(ctx context.Context) map[model.Provider]application.ProviderStatus {
	return m.status(ctx)
}

func (m *mockHub) AuthorizationURLs(ctx context.Context) map[model.Provider]*string {
	return m.authURLs(ctx)
}

func (m *mockHub) HandleCallback(ctx context.Context, p model.Provider, params model.CallbackParams) error {
	return m.handleCallback(ctx, p, params)
}

func (m *mockHub) Logout(ctx context.Context, p model.Provider) error { return m.logout(ctx, p) }

func (m *mockHub) LogoutAll(ctx context.Context) error { return m.logoutAll(ctx) }

func (m *mockHub) ImportSnapshot(ctx context.Context, p model.Provider, snap model.Snapshot) (int, error) {
	return m.importSnapshot(ctx, p, snap)
}

func (m *mockHub) Data(ctx context.Context, c model.Category, r model.DateRange) (any, error) {
	return m.data(ctx, c, r)
}

type recordedRequest struct {
	method, route string
	status        int
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, recordedRequest{method, route, status})
}

// --- Test helpers ---

const dashboard = "https://fit.example.com/fitness-tracker"

func setupMux(t *testing.T, hub *mockHub) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := httphandler.NewHandler(hub, dashboard, logger)
	return httphandler.NewServeMux(h, logger, httphandler.ServerOptions{})
}

func do(t *testing.T, mux http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, body))
	return rec
}

func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/fitness-tracker", loc.Path)
	return loc.Query()
}

// --- Tests ---

func TestCallback_Success(t *testing.T) {
	var got model.CallbackParams
	hub := &mockHub{handleCallback: func(_ context.Context, p model.Provider, params model.CallbackParams) error {
		assert.Equal(t, model.ProviderFitbit, p)
		got = params
		return nil
	}}
	mux := setupMux(t, hub)

	rec := do(t, mux, http.MethodGet, "/fitness-tracker/fitbit/callback?code=abc&state=n1", nil)

	q := redirectQuery(t, rec)
	assert.Equal(t, "fitbit", q.Get("connected"))
	assert.Equal(t, model.CallbackParams{Code: "abc", State: "n1"}, got)
}

func TestCallback_TwoStepParams(t *testing.T) {
	var got model.CallbackParams
	hub := &mockHub{handleCallback: func(_ context.Context, _ model.Provider, params model.CallbackParams) error {
		got = params
		return nil
	}}
	mux := setupMux(t, hub)

	do(t, mux, http.MethodGet, "/fitness-tracker/garmin/callback?oauth_token=rt&oauth_verifier=v&state=n2", nil)

	assert.Equal(t, model.CallbackParams{OAuthToken: "rt", OAuthVerifier: "v", State: "n2"}, got)
}

func TestCallback_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		wantCode string
	}{
		{"state mismatch", "/fitness-tracker/fitbit/callback?state=x", fmt.Errorf("fitbit: %w", model.ErrOAuthStateMismatch), "state_mismatch"},
		{"exchange failed", "/fitness-tracker/fitbit/callback?code=c&state=s", model.ErrTokenExchangeFailed, "exchange_failed"},
		{"other", "/fitness-tracker/fitbit/callback", errors.New("disk full"), "callback_failed"},
		{"unknown provider", "/fitness-tracker/strava/callback", nil, "unknown_provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &mockHub{handleCallback: func(context.Context, model.Provider, model.CallbackParams) error {
				return tt.err
			}}
			mux := setupMux(t, hub)

			q := redirectQuery(t, do(t, mux, http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantCode, q.Get("error"))
			assert.Empty(t, q.Get("connected"))
		})
	}
}

func TestStatus(t *testing.T) {
	synced := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	hub := &mockHub{status: func(context.Context) map[model.Provider]application.ProviderStatus {
		return map[model.Provider]application.ProviderStatus{
			model.ProviderFitbit: {
				Provider: model.ProviderFitbit, Dialect: model.DialectAuthCode,
				Configured: true, Authenticated: true, State: model.AuthStateAuthorized,
			},
			model.ProviderAppleHealth: {
				Provider: model.ProviderAppleHealth, Dialect: model.DialectNone,
				Supported: true, LastSynced: &synced,
			},
		}
	}}
	mux := setupMux(t, hub)

	rec := do(t, mux, http.MethodGet, "/api/v1/fitness/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"fitbit": {"configured": true, "authenticated": true, "state": "authorized"},
		"applehealth": {"supported": true, "last_synced": "2024-03-10T08:00:00Z"}
	}`, rec.Body.String())
}

func TestAuthURLs(t *testing.T) {
	u := "https://www.fitbit.com/oauth2/authorize?state=n"
	hub := &mockHub{authURLs: func(context.Context) map[model.Provider]*string {
		return map[model.Provider]*string{model.ProviderFitbit: &u, model.ProviderGarmin: nil}
	}}
	mux := setupMux(t, hub)

	rec := do(t, mux, http.MethodGet, "/api/v1/fitness/auth-urls", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fitbit": "https://www.fitbit.com/oauth2/authorize?state=n", "garmin": null}`, rec.Body.String())
}

func TestGetData(t *testing.T) {
	hub := &mockHub{data: func(_ context.Context, c model.Category, r model.DateRange) (any, error) {
		assert.Equal(t, model.CategoryHeartRate, c)
		assert.Equal(t, "2024-03-01", r.StartDate())
		assert.Equal(t, "2024-03-02", r.EndDate())
		return []model.HeartRateRecord{{Date: "2024-03-01", HeartRate: 61, Source: model.ProviderFitbit}}, nil
	}}
	mux := setupMux(t, hub)

	rec := do(t, mux, http.MethodGet, "/api/v1/fitness/heart-rate?start=2024-03-01&end=2024-03-02", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Category string                  `json:"category"`
		Records  []model.HeartRateRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "heart_rate", resp.Category)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, 61, resp.Records[0].HeartRate)
}

func TestGetData_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		hubErr     error
		wantStatus int
	}{
		{"unknown category", "/api/v1/fitness/steps?start=2024-03-01&end=2024-03-01", nil, http.StatusNotFound},
		{"missing range", "/api/v1/fitness/sleep", nil, http.StatusBadRequest},
		{"reversed range", "/api/v1/fitness/sleep?start=2024-03-02&end=2024-03-01", nil, http.StatusBadRequest},
		{"deadline", "/api/v1/fitness/sleep?start=2024-03-01&end=2024-03-01", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"internal", "/api/v1/fitness/sleep?start=2024-03-01&end=2024-03-01", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := &mockHub{data: func(context.Context, model.Category, model.DateRange) (any, error) {
				return nil, tt.hubErr
			}}
			mux := setupMux(t, hub)

			rec := do(t, mux, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
			}
		})
	}
}

func TestLogout(t *testing.T) {
	var loggedOut []model.Provider
	hub := &mockHub{
		logout: func(_ context.Context, p model.Provider) error {
			loggedOut = append(loggedOut, p)
			return nil
		},
		logoutAll: func(context.Context) error {
			loggedOut = append(loggedOut, "*")
			return nil
		},
	}
	mux := setupMux(t, hub)

	assert.Equal(t, http.StatusNoContent, do(t, mux, http.MethodPost, "/api/v1/fitness/garmin/logout", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, mux, http.MethodPost, "/api/v1/fitness/logout", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodPost, "/api/v1/fitness/strava/logout", nil).Code)
	assert.Equal(t, []model.Provider{model.ProviderGarmin, "*"}, loggedOut)
}

func TestImport(t *testing.T) {
	var got model.Snapshot
	hub := &mockHub{importSnapshot: func(_ context.Context, p model.Provider, snap model.Snapshot) (int, error) {
		if p != model.ProviderAppleHealth {
			return 0, model.ErrSnapshotNotSupported
		}
		got = snap
		return snap.Len(), nil
	}}
	mux := setupMux(t, hub)

	body := `{"activity":[{"date":"2024-03-01","steps":9000}],"weight":[{"date":"2024-03-01","weight_kg":72.5}]}`
	rec := do(t, mux, http.MethodPost, "/api/v1/fitness/applehealth/import", strings.NewReader(body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"provider":"applehealth","imported":2}`, rec.Body.String())
	require.Len(t, got.Activity, 1)
	assert.Equal(t, 9000, got.Activity[0].Steps)

	rec = do(t, mux, http.MethodPost, "/api/v1/fitness/fitbit/import", strings.NewReader(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/v1/fitness/applehealth/import", strings.NewReader(`{"steps":1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	mux := setupMux(t, &mockHub{})

	rec := do(t, mux, http.MethodGet, "/api/v1/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRecoveryMiddleware(t *testing.T) {
	hub := &mockHub{status: func(context.Context) map[model.Provider]application.ProviderStatus {
		panic("status exploded")
	}}
	mux := setupMux(t, hub)

	rec := do(t, mux, http.MethodGet, "/api/v1/fitness/status", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestServeMux_MetricsAndObserver(t *testing.T) {
	obs := &recordingObserver{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := httphandler.NewHandler(&mockHub{}, dashboard, logger)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	mux := httphandler.NewServeMux(h, logger, httphandler.ServerOptions{Metrics: metrics, Observer: obs})

	rec := do(t, mux, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())

	do(t, mux, http.MethodGet, "/api/v1/health", nil)
	do(t, mux, http.MethodGet, "/nowhere", nil)

	assert.Equal(t, []recordedRequest{
		{http.MethodGet, "GET /metrics", http.StatusOK},
		{http.MethodGet, "GET /api/v1/health", http.StatusOK},
		{http.MethodGet, "unmatched", http.StatusNotFound},
	}, obs.seen)
}

func TestServeMux_RequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	hub := &mockHub{status: func(context.Context) map[model.Provider]application.ProviderStatus {
		panic("status exploded")
	}}
	mux := httphandler.NewServeMux(httphandler.NewHandler(hub, dashboard, logger), logger, httphandler.ServerOptions{})

	do(t, mux, http.MethodGet, "/api/v1/health", nil)
	do(t, mux, http.MethodGet, "/api/v1/fitness/status", nil)

	var served []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "request served" {
			served = append(served, entry)
		}
	}

	require.Len(t, served, 1, "health checks log below info")
	assert.Equal(t, "WARN", served[0]["level"])
	assert.Equal(t, "GET /api/v1/fitness/status", served[0]["route"])
	assert.EqualValues(t, http.StatusInternalServerError, served[0]["status"])
	assert.Positive(t, served[0]["bytes"])
	assert.Contains(t, served[0], "duration_ms")
	assert.Contains(t, buf.String(), `"msg":"handler panicked"`)
}
