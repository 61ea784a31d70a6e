package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectTikTok(t *testing.T, env *testEnv, userID string) {
	t.Helper()
	body, cookies := initiate(t, env, userID)
	rec := env.do(callbackRequest(t, url.Values{"code": {"abc123"}, "state": {body.State}}, cookies, userID))
	require.Equal(t, "tiktok_connected", redirectQuery(t, rec).Get("success"))
}

func authed(t *testing.T, method, path, userID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+signSession(t, testJWTSecret, userID, time.Hour))
	return req
}

func TestGetConnections(t *testing.T) {
	env := newTestEnv(t, nil)
	connectTikTok(t, env, "user-1")

	rec := env.do(authed(t, http.MethodGet, "/api/connections", "user-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var conns []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conns))
	require.Len(t, conns, 1)
	assert.Equal(t, "tiktok", conns[0]["platform"])
	assert.Equal(t, "Jane", conns[0]["platform_username"])

	rec = env.do(authed(t, http.MethodGet, "/api/connections", "user-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetConnections_RequiresSession(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/connections", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeleteConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	connectTikTok(t, env, "user-1")

	rec := env.do(authed(t, http.MethodDelete, "/api/connections/tiktok", "user-2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 2, env.secrets.Len())

	rec = env.do(authed(t, http.MethodDelete, "/api/connections/tiktok", "user-1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, env.secrets.Len())

	rec = env.do(authed(t, http.MethodDelete, "/api/connections/tiktok", "user-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
