package modules

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"sitekit_datastore/internal/api"
	"sitekit_datastore/internal/fetch"
	"sitekit_datastore/internal/metrics"
	"sitekit_datastore/internal/report"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSite serves module settings and reports the way the plugin does
type fakeSite struct {
	mu       sync.Mutex
	settings map[string]map[string]any
	hits     map[string]int
}

func newFakeSite(t *testing.T) (*fakeSite, *api.Client) {
	t.Helper()
	site := &fakeSite{
		settings: map[string]map[string]any{
			SlugAnalytics: {"accountID": "100", "propertyID": "UA-100-1", "useSnippet": true, "ownerID": 1},
		},
		hits: map[string]int{},
	}
	srv := httptest.NewServer(http.HandlerFunc(site.serve))
	t.Cleanup(srv.Close)
	return site, api.NewClient(srv.URL)
}

func (f *fakeSite) serve(w http.ResponseWriter, r *http.Request) {
	// /google-site-kit/v1/modules/<slug>/data/<datapoint>
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 6 || parts[2] != "modules" || parts[4] != "data" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"rest_no_route","message":"No route","data":{"status":404}}`)
		return
	}
	slug, datapoint := parts[3], parts[5]

	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[r.Method+" "+slug+"/"+datapoint]++

	switch {
	case datapoint == "settings" && r.Method == http.MethodGet:
		body, _ := sonic.Marshal(f.settings[slug])
		_, _ = w.Write(body)
	case datapoint == "settings" && r.Method == http.MethodPost:
		var req struct {
			Data map[string]any `json:"data"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(raw, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.settings[slug] = req.Data
		body, _ := sonic.Marshal(req.Data)
		_, _ = w.Write(body)
	default:
		_, _ = io.WriteString(w, `{"rows":[{"metric":"`+r.URL.Query().Get("metrics")+`"}]}`)
	}
}

func (f *fakeSite) hitCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func TestRegistryBuildsEveryModule(t *testing.T) {
	_, client := newFakeSite(t)
	r, err := NewRegistry(client)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{
		SlugSearchConsole, SlugAnalytics, SlugAdSense, SlugPageSpeed,
		SlugTagManager, SlugIdeaHub, SlugSubscribeWithGo,
	}, r.Slugs())

	for _, slug := range r.Slugs() {
		m, err := r.Module(slug)
		require.NoError(t, err)
		assert.Contains(t, m.Settings.Fields(), OwnerID.Name(), slug)
	}

	tm, _ := r.Module(SlugTagManager)
	assert.Nil(t, tm.Report)
	sc, _ := r.Module(SlugSearchConsole)
	assert.NotNil(t, sc.Report)

	_, err = r.Module("nope")
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicateSlugs(t *testing.T) {
	_, client := newFakeSite(t)
	def := Definition{Slug: "x", Name: "X", Settings: []string{"a"}}
	_, err := NewRegistry(client, WithDefinitions(def, def))
	assert.ErrorContains(t, err, "registered twice")
}

func TestAnalyticsSettingsRoundTrip(t *testing.T) {
	site, client := newFakeSite(t)
	r, err := NewRegistry(client)
	require.NoError(t, err)
	defer r.Close()

	m, err := r.Module(SlugAnalytics)
	require.NoError(t, err)
	store := m.Settings

	_, err = store.ResolveSettings(context.Background())
	require.NoError(t, err)

	account, ok := AnalyticsAccountID.Get(store)
	require.True(t, ok)
	assert.Equal(t, "100", account)
	owner, ok := OwnerID.Get(store)
	require.True(t, ok)
	assert.Equal(t, 1, owner)

	require.NoError(t, AnalyticsUseSnippet.Set(store, false))
	require.NoError(t, AnalyticsTrackingDisabled.Set(store, []string{"loggedinUsers"}))
	assert.True(t, store.HaveSettingsChanged())

	require.NoError(t, store.SaveSettings(context.Background()))
	assert.False(t, store.HaveSettingsChanged())

	disabled, ok := AnalyticsTrackingDisabled.Get(store)
	require.True(t, ok)
	assert.Equal(t, []string{"loggedinUsers"}, disabled)

	assert.Equal(t, 1, site.hitCount("GET analytics/settings"))
	assert.Equal(t, 1, site.hitCount("POST analytics/settings"))
	site.mu.Lock()
	assert.Equal(t, false, site.settings[SlugAnalytics]["useSnippet"])
	site.mu.Unlock()
}

func TestSettingsNotFoundIsRecorded(t *testing.T) {
	_, client := newFakeSite(t)
	r, err := NewRegistry(client, WithDefinitions(Definition{Slug: "missing/extra", Name: "Broken", Settings: []string{"a"}}))
	require.NoError(t, err)
	defer r.Close()

	m, _ := r.Module("missing/extra")
	_, err = m.Settings.ResolveSettings(context.Background())
	assert.True(t, api.IsNotFound(err))
	assert.True(t, api.IsNotFound(m.Settings.ErrorForGet()))
}

func TestReportsShareMetricsAndCache(t *testing.T) {
	site, client := newFakeSite(t)
	collectors := metrics.New()
	cache := report.NewMemoryCache()

	r, err := NewRegistry(client, WithMetrics(collectors), WithReportCache(cache))
	require.NoError(t, err)
	defer r.Close()

	m, _ := r.Module(SlugAnalytics)
	options := report.Options{"metrics": "ga:users", "dateRange": "last-28-days"}

	got, err := m.Report.ResolveReport(context.Background(), options)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": []any{map[string]any{"metric": "ga:users"}}}, got)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, site.hitCount("GET analytics/report"))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.FetchTotal.WithLabelValues("modules/analytics:getReport", metrics.OutcomeSuccess)))

	// a second registry, as in another process, is served from the cache
	other, err := NewRegistry(client, WithMetrics(collectors), WithReportCache(cache))
	require.NoError(t, err)
	defer other.Close()
	om, _ := other.Module(SlugAnalytics)
	_, err = om.Report.ResolveReport(context.Background(), options)
	require.NoError(t, err)
	assert.Equal(t, 1, site.hitCount("GET analytics/report"))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.FetchTotal.WithLabelValues("modules/analytics:getReport", metrics.OutcomeCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.FetchTotal.WithLabelValues("modules/analytics:getReport", metrics.OutcomeSuccess)))
}

func TestReportValidation(t *testing.T) {
	_, client := newFakeSite(t)
	r, err := NewRegistry(client)
	require.NoError(t, err)
	defer r.Close()

	tests := []struct {
		slug    string
		options report.Options
		wantErr bool
	}{
		{SlugAnalytics, report.Options{"metrics": "ga:users"}, true},
		{SlugAnalytics, report.Options{"startDate": "2021-01-01", "endDate": "2021-01-31"}, true},
		{SlugAnalytics, report.Options{"metrics": "ga:users", "startDate": "2021-01-01", "endDate": "2021-01-31"}, false},
		{SlugSearchConsole, report.Options{"dateRange": "last-7-days"}, false},
		{SlugSearchConsole, report.Options{"startDate": "2021-01-01"}, true},
		{SlugAdSense, report.Options{"dateRange": "last-7-days"}, true},
		{SlugPageSpeed, report.Options{"url": "https://example.com", "strategy": "mobile"}, false},
		{SlugPageSpeed, report.Options{"url": "https://example.com", "strategy": "tablet"}, true},
		{SlugPageSpeed, report.Options{"url": "", "strategy": "desktop"}, true},
	}
	for _, tt := range tests {
		m, err := r.Module(tt.slug)
		require.NoError(t, err)
		_, _, err = m.Report.GetReport(tt.options)
		if tt.wantErr {
			assert.ErrorIs(t, err, fetch.ErrPrecondition, "%s %v", tt.slug, tt.options)
		} else {
			assert.NoError(t, err, "%s %v", tt.slug, tt.options)
		}
	}
	for _, slug := range r.Slugs() {
		if m, _ := r.Module(slug); m.Report != nil {
			m.Report.Wait()
		}
	}
}
