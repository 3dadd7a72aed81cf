package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/waveworm/pfsense-toggle/internal/audit"
	"github.com/waveworm/pfsense-toggle/internal/clock"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/engine"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/state"
)

// Monday afternoon, inside the test schedule's 14:00-21:00 window.
var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type testServer struct {
	srv *Server
	eng *engine.Engine
	fw  *engine.MockFirewall
	aud *audit.Store
	clk *clock.MockClock
}

// newTestServer builds a server over a real engine backed by stateful
// mocks and in-memory stores. mutate tweaks the config before wiring.
func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := &config.Config{
		Subjects: []config.SubjectConfig{
			{Name: "kid1", DisplayName: "Kid One", RuleTracker: 100},
			{Name: "kid2", RuleTracker: 200},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := state.NewSQLiteStore(state.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := clock.NewMockClock(testNow)
	aud, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"), 100, clk)
	require.NoError(t, err)
	t.Cleanup(func() { aud.Close() })

	fw := engine.NewMockFirewall(
		pfsense.Rule{Tracker: 100, Description: "block kid1", Source: pfsense.AddressSpec{Address: "10.0.9.0/24"}},
		pfsense.Rule{Tracker: 200, Description: "block kid2", Disabled: true},
	)
	fw.On("ListRules").Return(nil, nil)
	fw.On("PatchRuleDisabled", mock.Anything, mock.Anything).Return(nil)
	fw.On("Apply").Return(nil)
	fw.On("ResolveSource", mock.Anything).Return(nil, nil)
	fw.On("KillStatesForAddress", mock.Anything).Return(nil)

	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Firewall: fw,
		Store:    store,
		Audit:    aud,
		Clock:    clk,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	srv, err := NewServer(ServerOptions{
		Config: cfg,
		Engine: eng,
		Audit:  aud,
		Clock:  clk,
	})
	require.NoError(t, err)

	return &testServer{srv: srv, eng: eng, fw: fw, aud: aud, clk: clk}
}

func (ts *testServer) request(t *testing.T, method, target string, body io.Reader, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonUnmarshal(rec *httptest.ResponseRecorder, v interface{}) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerOptions{})
	require.Error(t, err)

	_, err = NewServer(ServerOptions{Config: &config.Config{}})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "online", body["status"])
	assert.EqualValues(t, 2, body["subjects"])
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "events")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	ch := ts.eng.Hub().Subscribe(4)
	defer ts.eng.Hub().Unsubscribe(ch)

	rec := ts.request(t, http.MethodPost, "/api/reconcile", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case evt := <-ch:
		assert.NotEmpty(t, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published by kicked reconcile")
	}
}

func TestAuditEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := ts.eng.ToggleManual(context.Background(), "kid1")
	require.NoError(t, err)
	ts.clk.Advance(time.Minute)
	_, err = ts.eng.ToggleManual(context.Background(), "kid2")
	require.NoError(t, err)

	rec := ts.request(t, http.MethodGet, "/api/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])

	rec = ts.request(t, http.MethodGet, "/api/audit?subject=kid1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])

	rec = ts.request(t, http.MethodGet, "/api/audit?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllowAllBlockAll(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodPost, "/api/all/allow", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.fw.Rule(100).Disabled)
	assert.True(t, ts.fw.Rule(200).Disabled)

	rec = ts.request(t, http.MethodPost, "/api/all/block", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.fw.Rule(100).Disabled)
	assert.False(t, ts.fw.Rule(200).Disabled)
}
