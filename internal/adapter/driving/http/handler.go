package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ericfisherdev/fitsync/internal/application"
	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// maxImportBytes caps the body of a snapshot import.
const maxImportBytes = 16 << 20

// HubService is the slice of application.Hub the HTTP adapter drives.
type HubService interface {
	Status(ctx context.Context) map[model.Provider]application.ProviderStatus
	AuthorizationURLs(ctx context.Context) map[model.Provider]*string
	HandleCallback(ctx context.Context, p model.Provider, params model.CallbackParams) error
	Logout(ctx context.Context, p model.Provider) error
	LogoutAll(ctx context.Context) error
	ImportSnapshot(ctx context.Context, p model.Provider, snap model.Snapshot) (int, error)
	Data(ctx context.Context, c model.Category, r model.DateRange) (any, error)
}

var _ HubService = (*application.Hub)(nil)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	hub          HubService
	dashboardURL string
	logger       *slog.Logger
}

// NewHandler creates a Handler. dashboardURL is where OAuth callbacks
// redirect the browser once handled.
func NewHandler(hub HubService, dashboardURL string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:          hub,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// RequestObserver records served requests, typically into Prometheus.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// ServerOptions are the optional parts of the route table.
type ServerOptions struct {
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// Observer receives one observation per request when set.
	Observer RequestObserver
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// so each request is logged, observed and shielded from handler panics.
func NewServeMux(h *Handler, logger *slog.Logger, opts ServerOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /fitness-tracker/{provider}/callback", h.Callback)

	mux.HandleFunc("GET /api/v1/fitness/status", h.Status)
	mux.HandleFunc("GET /api/v1/fitness/auth-urls", h.AuthURLs)
	mux.HandleFunc("GET /api/v1/fitness/{category}", h.GetData)
	mux.HandleFunc("POST /api/v1/fitness/logout", h.LogoutAll)
	mux.HandleFunc("POST /api/v1/fitness/{provider}/logout", h.Logout)
	mux.HandleFunc("POST /api/v1/fitness/{provider}/import", h.Import)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Panics are recovered inside instrument so the 500 is still logged.
	return instrument(logger, opts.Observer, recoverPanics(logger, mux))
}

// Callback completes an authorization attempt and sends the browser back to
// the dashboard with either ?connected=<provider> or ?error=<code>.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("provider")
	p, err := model.ParseProvider(raw)
	if err != nil {
		h.redirect(w, r, url.Values{"error": {callbackErrorCode(err)}})
		return
	}

	q := r.URL.Query()
	params := model.CallbackParams{
		Code:          q.Get("code"),
		State:         q.Get("state"),
		OAuthToken:    q.Get("oauth_token"),
		OAuthVerifier: q.Get("oauth_verifier"),
		Error:         q.Get("error"),
	}

	if err := h.hub.HandleCallback(r.Context(), p, params); err != nil {
		h.logger.Warn("oauth callback rejected", "provider", p, "error", err)
		h.redirect(w, r, url.Values{"error": {callbackErrorCode(err)}, "provider": {string(p)}})
		return
	}
	h.redirect(w, r, url.Values{"connected": {string(p)}})
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, q url.Values) {
	target := h.dashboardURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target+"?"+q.Encode(), http.StatusFound)
}

// Status returns every provider's connection status keyed by provider.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Status(r.Context()))
}

// AuthURLs returns a consent URL per redirect-based provider; unconfigured
// providers map to null.
func (h *Handler) AuthURLs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.AuthorizationURLs(r.Context()))
}

// GetData returns the unified records of one category for ?start=&end=.
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request) {
	c, err := model.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	q := r.URL.Query()
	rng, err := model.NewDateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.hub.Data(r.Context(), c, rng)
	if err != nil {
		h.writeHubError(w, "failed to read unified data", err, "category", c)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{
		Category: c,
		Start:    rng.StartDate(),
		End:      rng.EndDate(),
		Records:  records,
	})
}

// Logout disconnects one provider.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, err := model.ParseProvider(r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := h.hub.Logout(r.Context(), p); err != nil {
		h.writeHubError(w, "failed to log out provider", err, "provider", p)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll disconnects every provider.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.LogoutAll(r.Context()); err != nil {
		h.writeHubError(w, "failed to log out providers", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import stores a snapshot for a source without an API (applehealth, manual).
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	p, err := model.ParseProvider(r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var snap model.Snapshot
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.hub.ImportSnapshot(r.Context(), p, snap)
	if err != nil {
		h.writeHubError(w, "failed to import snapshot", err, "provider", p)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Provider: p, Imported: n})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeHubError maps domain errors to status codes. Anything unmapped is
// logged and reported as a 500 without detail.
func (h *Handler) writeHubError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(attrs, "error", err)...)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidDateRange), errors.Is(err, model.ErrSnapshotNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownProvider), errors.Is(err, model.ErrUnsupportedCategory):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotConfigured):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// callbackErrorCode is the short code the dashboard shows after a failed
// authorization attempt.
func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrOAuthStateMismatch):
		return "state_mismatch"
	case errors.Is(err, model.ErrTokenExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, model.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, model.ErrUnknownProvider):
		return "unknown_provider"
	default:
		return "callback_failed"
	}
}
