package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionForm(ts *testServer) url.Values {
	return url.Values{
		"auth":        {ts.devAuth(firstPartyDevID)},
		"email":       {seedEmail},
		"password":    {seedPassword},
		"api_key":     {"thirdkey"},
		"app_id":      {"5"},
		"device_name": {"Pixel 9"},
		"device_type": {"phone"},
		"device_os":   {"android"},
	}
}

func TestCreateSessionEndpoint(t *testing.T) {
	t.Run("creates a session and binds the token to it", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodPost, "/v1/sessions?"+sessionForm(ts).Encode(), "", nil)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp sessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Session)
		assert.Equal(t, "Pixel 9", resp.Session.DeviceName)

		claims, errs := ts.issuer.Parse(resp.JWT)
		require.True(t, errs.Empty())
		assert.Equal(t, resp.Session.ID, claims.SessionID)
		assert.Equal(t, thirdPartyDevID, claims.DevID)
	})

	t.Run("collects the whole missing device block", func(t *testing.T) {
		ts := newTestServer(t)

		form := sessionForm(ts)
		form.Del("device_name")
		form.Del("device_type")
		form.Del("device_os")
		rec := ts.do(http.MethodPost, "/v1/sessions?"+form.Encode(), "", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "2125")
		assert.Contains(t, body, "2126")
		assert.Contains(t, body, "2127")
	})

	t.Run("rejects non-json bodies", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodPost, "/v1/sessions", "device_name=Pixel",
			map[string]string{"Content-Type": "application/x-www-form-urlencoded"})

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.Contains(t, rec.Body.String(), "1104")
	})

	t.Run("third-party dev cannot mint sessions", func(t *testing.T) {
		ts := newTestServer(t)

		form := sessionForm(ts)
		form.Set("auth", ts.devAuth(thirdPartyDevID))
		rec := ts.do(http.MethodPost, "/v1/sessions?"+form.Encode(), "", nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "1102")
	})
}

func TestGetSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/sessions?"+sessionForm(ts).Encode(), "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	target := "/v1/sessions/" + strconv.FormatInt(created.Session.ID, 10)

	t.Run("owner reads the session", func(t *testing.T) {
		token := ts.userJWT(t, firstPartyDevID)
		rec := ts.do(http.MethodGet, target, "", bearer(token))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"device_name":"Pixel 9"`)
	})

	t.Run("unknown session", func(t *testing.T) {
		token := ts.userJWT(t, firstPartyDevID)
		rec := ts.do(http.MethodGet, "/v1/sessions/99999", "", bearer(token))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "2814")
	})
}

func TestDeleteSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/sessions?"+sessionForm(ts).Encode(), "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	target := "/v1/sessions/" + strconv.FormatInt(created.Session.ID, 10)

	token := ts.userJWT(t, firstPartyDevID)
	del := ts.do(http.MethodDelete, target, "", bearer(token))
	require.Equal(t, http.StatusNoContent, del.Code, del.Body.String())

	_, ok := ts.store.sessions[created.Session.ID]
	assert.False(t, ok)
}
