package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ppv-trustcore/pkg/errutil"
	"ppv-trustcore/pkg/health"
	"ppv-trustcore/services/event"
	"ppv-trustcore/services/stats"
	"ppv-trustcore/services/validation"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fakeRecorder struct {
	click     validation.ClickInput
	view      validation.ViewInput
	clickErr  error
	viewErr   error
	viewCalls int
}

func (f *fakeRecorder) RecordClick(_ context.Context, in validation.ClickInput) (*validation.ClickResult, error) {
	f.click = in
	if f.clickErr != nil {
		return nil, f.clickErr
	}
	return &validation.ClickResult{Valid: true, RedirectURL: "https://example.com/watch"}, nil
}

func (f *fakeRecorder) RecordView(_ context.Context, in validation.ViewInput) (*validation.ViewResult, error) {
	f.view = in
	f.viewCalls++
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	return &validation.ViewResult{
		Event: &event.ViewEvent{ID: "v1", RiskScore: 0.2},
		Valid: true,
	}, nil
}

type fakeReporter struct{}

func (fakeReporter) Summary(context.Context) (*stats.Summary, error) {
	return &stats.Summary{ActiveAccounts: 4, ValidViews: 7}, nil
}

func (fakeReporter) Dashboard(_ context.Context, accountID string) (*stats.Dashboard, error) {
	if accountID != "acc" {
		return nil, errutil.NotFound("account not found", nil)
	}
	return &stats.Dashboard{AccountID: accountID, Balance: decimal.NewFromInt(12)}, nil
}

func newRouter(rec *fakeRecorder) http.Handler {
	return NewRouter(Params{
		Recorder: rec,
		Reporter: fakeReporter{},
		Health:   health.ProvideHealth(health.HealthParams{}),
	})
}

func TestClickRedirects(t *testing.T) {
	rec := &fakeRecorder{}
	router := newRouter(rec)

	req := httptest.NewRequest(http.MethodGet, "/r/abc123", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("Referer", "https://social.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://example.com/watch", w.Header().Get("Location"))
	require.Equal(t, "abc123", rec.click.Token)
	require.Equal(t, "192.0.2.1", rec.click.Request.Address)
	require.Equal(t, "Mozilla/5.0", rec.click.Request.UserAgent)
	require.Equal(t, "en", rec.click.Request.AcceptLanguage)
	require.Equal(t, "https://social.example", rec.click.Request.Referrer)
}

func TestClickRateLimited(t *testing.T) {
	rec := &fakeRecorder{clickErr: validation.ErrClickRateLimited}
	router := newRouter(rec)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r/abc123", nil))

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "too many clicks for this link", body["error"]["message"])
}

func TestClickInactiveCampaign(t *testing.T) {
	rec := &fakeRecorder{clickErr: validation.ErrCampaignInactive}

	w := httptest.NewRecorder()
	newRouter(rec).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r/abc123", nil))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRecordView(t *testing.T) {
	rec := &fakeRecorder{}
	router := newRouter(rec)

	req := httptest.NewRequest(http.MethodPost, "/v1/views", strings.NewReader(`{"link_id":"l1","watch_time":45}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "l1", rec.view.LinkID)
	require.Equal(t, 45, rec.view.WatchTime)

	var out viewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, viewResponse{ID: "v1", Valid: true, RiskScore: 0.2}, out)
}

func TestRecordViewRejectsBadPayload(t *testing.T) {
	rec := &fakeRecorder{}
	router := newRouter(rec)

	for _, body := range []string{`{`, `{"watch_time":45}`, `{"link_id":"l1"}`, `{"link_id":"l1","watch_time":-1}`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/views", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	require.Zero(t, rec.viewCalls)
}

func TestRecordViewRateLimited(t *testing.T) {
	rec := &fakeRecorder{viewErr: validation.ErrViewRateLimited}

	req := httptest.NewRequest(http.MethodPost, "/v1/views", strings.NewReader(`{"link_id":"l1","watch_time":90}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(rec).ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestOperationalRoutes(t *testing.T) {
	router := newRouter(&fakeRecorder{})

	for _, path := range []string{"/healthz", "/healthz/ready", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestStatsRoutes(t *testing.T) {
	router := newRouter(&fakeRecorder{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var summary stats.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Equal(t, int64(7), summary.ValidViews)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/acc/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/ghost/dashboard", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
