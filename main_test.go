package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"useSnippet=false", "ownerID=3", "accountID=pub-123", "products=[\"basic\"]", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"useSnippet": false,
		"ownerID":    float64(3),
		"accountID":  "pub-123",
		"products":   []any{"basic"},
		"empty":      "",
	}, values)

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

// wpServer is a minimal stand-in for the plugin's REST routes
type wpServer struct {
	mu       sync.Mutex
	settings map[string]any
	posts    int
}

func (s *wpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case r.URL.Path == "/google-site-kit/v1/modules/adsense/data/settings" && r.Method == http.MethodGet:
		b, _ := sonic.Marshal(s.settings)
		_, _ = w.Write(b)
	case r.URL.Path == "/google-site-kit/v1/modules/adsense/data/settings" && r.Method == http.MethodPost:
		s.posts++
		var req struct {
			Data map[string]any `json:"data"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(raw, &req)
		s.settings = req.Data
		b, _ := sonic.Marshal(s.settings)
		_, _ = w.Write(b)
	case r.URL.Path == "/google-site-kit/v1/modules/adsense/data/earnings":
		_, _ = io.WriteString(w, `{"totals":["`+r.URL.Query().Get("metrics")+`"]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"rest_no_route","message":"No route was found","data":{"status":404}}`)
	}
}

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("SITEKIT_API_BASE_URL", srv.URL)
	t.Setenv("SITEKIT_LOG_LEVEL", "error")
	t.Setenv("REDIS_URL", "")

	var out bytes.Buffer
	cmd, a := newRootCmd()
	defer a.close()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSettingsGetCommand(t *testing.T) {
	wp := &wpServer{settings: map[string]any{"accountID": "pub-1", "useSnippet": true}}
	srv := httptest.NewServer(wp)
	defer srv.Close()

	out, err := runCLI(t, srv, "settings", "get", "adsense")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accountID":"pub-1","useSnippet":true}`, out)
}

func TestSettingsSetCommandSaves(t *testing.T) {
	wp := &wpServer{settings: map[string]any{"accountID": "pub-1", "useSnippet": true}}
	srv := httptest.NewServer(wp)
	defer srv.Close()

	out, err := runCLI(t, srv, "settings", "set", "adsense", "useSnippet=false")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "changing useSnippet\n"))

	wp.mu.Lock()
	defer wp.mu.Unlock()
	assert.Equal(t, 1, wp.posts)
	assert.Equal(t, false, wp.settings["useSnippet"])
	assert.Equal(t, "pub-1", wp.settings["accountID"])
}

func TestSettingsSetCommandDryRun(t *testing.T) {
	wp := &wpServer{settings: map[string]any{"accountID": "pub-1"}}
	srv := httptest.NewServer(wp)
	defer srv.Close()

	out, err := runCLI(t, srv, "settings", "set", "adsense", "accountID=pub-2", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "changing accountID\n", out)

	out, err = runCLI(t, srv, "settings", "set", "adsense", "accountID=pub-1")
	require.NoError(t, err)
	assert.Equal(t, "no changes\n", out)

	wp.mu.Lock()
	defer wp.mu.Unlock()
	assert.Zero(t, wp.posts)
}

func TestSettingsSetCommandRejectsUnknownField(t *testing.T) {
	wp := &wpServer{settings: map[string]any{}}
	srv := httptest.NewServer(wp)
	defer srv.Close()

	_, err := runCLI(t, srv, "settings", "set", "adsense", "bogus=1")
	assert.ErrorContains(t, err, "bogus is not a adsense setting")
}

func TestReportCommand(t *testing.T) {
	srv := httptest.NewServer(&wpServer{})
	defer srv.Close()

	out, err := runCLI(t, srv, "report", "adsense", "-o", "metrics=EARNINGS", "-o", "dateRange=last-7-days")
	require.NoError(t, err)
	assert.JSONEq(t, `{"totals":["EARNINGS"]}`, out)

	_, err = runCLI(t, srv, "report", "tagmanager")
	assert.ErrorContains(t, err, "has no report")

	_, err = runCLI(t, srv, "report", "adsense", "-o", "metrics=EARNINGS")
	assert.ErrorContains(t, err, "dateRange")
}

func TestModulesCommand(t *testing.T) {
	srv := httptest.NewServer(&wpServer{})
	defer srv.Close()

	out, err := runCLI(t, srv, "modules")
	require.NoError(t, err)
	assert.Contains(t, out, "search-console")
	assert.Contains(t, out, "subscribe-with-google")
}
