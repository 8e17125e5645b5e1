package uiapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/solar-run/internal/engine"
	"github.com/awaistahir/solar-run/internal/planner"
	"github.com/awaistahir/solar-run/internal/prices"
	"github.com/awaistahir/solar-run/internal/store"
	"github.com/awaistahir/solar-run/internal/weather"
)

var edt = time.FixedZone("EDT", -4*3600)

const siteBody = `{"location":{"latitude":40.7128,"longitude":-74.006},
	"panel":{"watts_per_panel":300,"panel_count":20,"efficiency":0.18,"tilt_deg":30,"azimuth_deg":180}}`

func newTestServer(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	model, err := engine.NewModel(engine.DefaultModelConfig())
	require.NoError(t, err)
	opt, err := engine.NewOptimizer(engine.DefaultOptimizerConfig())
	require.NoError(t, err)
	p := planner.New(planner.StoreSite{Store: st}, weather.NewSynthetic(weather.ProfileSunny), prices.Fixed(0.12),
		model, opt, time.Hour, planner.WithZone(edt), planner.WithRecorders(st))

	srv := NewServer(st, p, edt, nil, "test")
	srv.now = func() time.Time { return time.Date(2024, 6, 21, 8, 0, 0, 0, edt) }
	return srv.Handler(), st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func seed(t *testing.T, h http.Handler) {
	t.Helper()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/api/site", siteBody).Code)
	for _, body := range []string{
		`{"name":"Dishwasher","power_kw":1.5,"duration_hours":1.5,"flexibility":8,"priority":"medium"}`,
		`{"name":"EV Charging","power_kw":7.2,"duration_hours":6,"flexibility":6,"priority":"high"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/appliances", body).Code)
	}
}

func TestStatus(t *testing.T) {
	h, _ := newTestServer(t)

	var status statusResponse
	rec := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.Equal(t, "ok", status.Status)
	assert.False(t, status.SiteConfigured)

	seed(t, h)
	decode(t, do(t, h, http.MethodGet, "/api/status", ""), &status)
	assert.True(t, status.SiteConfigured)
	assert.Equal(t, 2, status.Appliances)
}

func TestSite(t *testing.T) {
	h, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/site", "").Code)

	rec := do(t, h, http.MethodPut, "/api/site", `{"location":{"latitude":120,"longitude":0},"panel":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/site", "{").Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/api/site", siteBody).Code)
	var site store.Site
	rec = do(t, h, http.MethodGet, "/api/site", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &site)
	assert.Equal(t, 20, site.Panel.PanelCount)
	assert.Equal(t, 40.7128, site.Location.Latitude)
}

func TestApplianceCRUD(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/appliances",
		`{"name":"Dryer","power_kw":3,"duration_hours":1.5,"flexibility":7,"priority":"medium"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created store.ApplianceRecord
	decode(t, rec, &created)
	require.NotEmpty(t, created.ID)

	rec = do(t, h, http.MethodPost, "/api/appliances", `{"name":"Dryer","power_kw":0,"duration_hours":1,"priority":"low"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/appliances", `{"name":"Dryer","power_kw":1,"duration_hours":1,"priority":"urgent"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/appliances/"+created.ID, `{"power_kw":2.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got store.ApplianceRecord
	decode(t, do(t, h, http.MethodGet, "/api/appliances/"+created.ID, ""), &got)
	assert.Equal(t, "Dryer", got.Name, "fields missing from the body are kept")
	assert.Equal(t, 2.5, got.PowerKW)

	var list []store.ApplianceRecord
	decode(t, do(t, h, http.MethodGet, "/api/appliances", ""), &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/appliances/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/appliances/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/appliances/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/api/appliances/nope", `{}`).Code)
}

func TestForecast(t *testing.T) {
	h, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/forecast", "").Code, "no site yet")

	seed(t, h)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/forecast?date=21/06/2024", "").Code)

	rec := do(t, h, http.MethodGet, "/api/forecast?date=2024-06-22", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fc planner.Forecast
	decode(t, rec, &fc)
	assert.True(t, fc.Curve.Date.Equal(time.Date(2024, 6, 22, 0, 0, 0, 0, edt)))
	assert.Len(t, fc.Curve.Points, 24)
	assert.NotEmpty(t, fc.Windows)
}

func TestPlanAndLatestSchedule(t *testing.T) {
	h, _ := newTestServer(t)
	seed(t, h)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/schedules/latest", "").Code)

	rec := do(t, h, http.MethodPost, "/api/plan", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var plan PlanResponse
	decode(t, rec, &plan)
	require.Len(t, plan.Schedule.Items, 2)
	assert.True(t, plan.Schedule.Date.Equal(time.Date(2024, 6, 21, 0, 0, 0, 0, edt)))
	assert.Greater(t, plan.Schedule.SolarCoverage, 0.0)

	rec = do(t, h, http.MethodGet, "/api/schedules/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest store.ScheduleRecord
	decode(t, rec, &latest)
	assert.Len(t, latest.Schedule.Items, 2)

	rec = do(t, h, http.MethodPost, "/api/plan", `{"date":"2024-06-23"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &plan)
	assert.Equal(t, 23, plan.Schedule.Date.Day())
}

func TestPlanInfeasibleIsConflict(t *testing.T) {
	h, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/api/site", siteBody).Code)
	for _, body := range []string{
		`{"name":"Kiln","power_kw":5,"duration_hours":13,"flexibility":2,"priority":"high"}`,
		`{"name":"Heat Pump","power_kw":2,"duration_hours":12,"flexibility":2,"priority":"low"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/appliances", body).Code)
	}

	rec := do(t, h, http.MethodPost, "/api/plan", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot fit")
}

func TestOutlook(t *testing.T) {
	h, _ := newTestServer(t)
	seed(t, h)

	for _, q := range []string{"0", "17", "abc"} {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/outlook?days="+q, "").Code, q)
	}

	rec := do(t, h, http.MethodGet, "/api/outlook?days=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out planner.Outlook
	decode(t, rec, &out)
	assert.Len(t, out.Days, 5)
	assert.Len(t, out.BestDays, 3)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t)
	rec := do(t, h, http.MethodOptions, "/api/plan", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{engine.ErrInvalidConfiguration, http.StatusBadRequest},
		{engine.ErrInsufficientData, http.StatusUnprocessableEntity},
		{engine.ErrNoFeasibleSchedule, http.StatusConflict},
		{store.ErrNotFound, http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
