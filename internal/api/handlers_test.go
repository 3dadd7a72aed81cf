package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveworm/pfsense-toggle/internal/engine"
)

func TestSubjectList(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/subjects", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var states []engine.SubjectStatus
	require.NoError(t, jsonUnmarshal(rec, &states))
	require.Len(t, states, 2)
	assert.Equal(t, "kid1", states[0].Name)
	assert.Equal(t, "Kid One", states[0].DisplayName)
	assert.False(t, states[0].Allowed)
	assert.True(t, states[1].Allowed, "disabled rule means traffic passes")
}

func TestSubjectGet(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/subjects/kid1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st engine.SubjectStatus
	require.NoError(t, jsonUnmarshal(rec, &st))
	assert.Equal(t, "kid1", st.Name)
	assert.True(t, st.RuleFound)

	rec = ts.request(t, http.MethodGet, "/api/subjects/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodPost, "/api/subjects/kid1/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["allowed"])
	assert.True(t, ts.fw.Rule(100).Disabled)

	ts.clk.Advance(time.Minute)
	rec = ts.request(t, http.MethodPost, "/api/subjects/kid1/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["allowed"])
	assert.False(t, ts.fw.Rule(100).Disabled)

	rec = ts.request(t, http.MethodPost, "/api/subjects/ghost/toggle", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimedAllowEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodPost, "/api/subjects/kid1/allow?minutes=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 30, body["minutes"])
	assert.Equal(t, "2026-03-02T15:30:00Z", body["until"])
	assert.True(t, ts.fw.Rule(100).Disabled)

	ts.clk.Advance(time.Minute)
	rec = ts.request(t, http.MethodDelete, "/api/subjects/kid1/allow", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodDelete, "/api/subjects/kid1/allow", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no timer left to cancel")
}

func TestTimedAllowValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, q := range []string{"", "?minutes=abc", "?minutes=0", "?minutes=121", "?minutes=-5"} {
		rec := ts.request(t, http.MethodPost, "/api/subjects/kid1/allow"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %q", q)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Contains(t, body, "kid1")
	require.Contains(t, body, "kid2")

	payload := `{"kid1": {"enabled": true, "windows": [{"days": [1], "start": "14:00", "end": "21:00"}]}}`
	rec = ts.request(t, http.MethodPut, "/api/schedules", strings.NewReader(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, rec)["saved"])

	rec = ts.request(t, http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decodeBody(t, rec)["kid1"].(map[string]interface{})
	assert.Equal(t, true, saved["enabled"])
}

func TestSchedulePutRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name    string
		payload string
		code    int
	}{
		{"malformed json", `{"kid1": `, http.StatusBadRequest},
		{"empty map", `{}`, http.StatusBadRequest},
		{"null schedule", `{"kid1": null}`, http.StatusBadRequest},
		{"bad window", `{"kid1": {"enabled": true, "windows": [{"days": [1], "start": "21:00", "end": "14:00"}]}}`, http.StatusBadRequest},
		{"unknown subject", `{"ghost": {"enabled": true, "windows": []}}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.request(t, http.MethodPut, "/api/schedules", strings.NewReader(tc.payload))
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestScheduleEnableDisable(t *testing.T) {
	ts := newTestServer(t, nil)

	payload := `{"kid1": {"enabled": true, "windows": [{"days": [1], "start": "14:00", "end": "21:00"}]}}`
	rec := ts.request(t, http.MethodPut, "/api/schedules", strings.NewReader(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/subjects/kid1/schedule/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["enabled"])

	rec = ts.request(t, http.MethodPost, "/api/subjects/kid1/schedule/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["enabled"])
}

func TestSkipEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	// No enabled schedule yet, so there is nothing to skip.
	rec := ts.request(t, http.MethodPost, "/api/subjects/kid1/skip", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	payload := `{"kid1": {"enabled": true, "windows": [{"days": [1], "start": "14:00", "end": "21:00"}]}}`
	rec = ts.request(t, http.MethodPut, "/api/schedules", strings.NewReader(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	ts.clk.Advance(time.Minute)
	rec = ts.request(t, http.MethodPost, "/api/subjects/kid1/skip", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-03-02T21:00:00Z", decodeBody(t, rec)["until"], "skip runs to the end of the active window")

	ts.clk.Advance(time.Minute)
	rec = ts.request(t, http.MethodDelete, "/api/subjects/kid1/skip", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodDelete, "/api/subjects/kid1/skip", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no skip left to cancel")
}
