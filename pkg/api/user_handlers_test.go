package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmantle/appmantle/pkg/model"
)

func TestSignupEndpoint(t *testing.T) {
	t.Run("collects every missing field before touching credentials", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodPost, "/v1/users", "", nil)

		// The missing-credential 401 outranks the field 400s.
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "2101")
		assert.Contains(t, body, "2105")
		assert.Contains(t, body, "2106")
		assert.Contains(t, body, "2107")
	})

	t.Run("creates the account through a first-party client", func(t *testing.T) {
		ts := newTestServer(t)

		form := url.Values{
			"auth":     {ts.devAuth(firstPartyDevID)},
			"email":    {"new@example.com"},
			"username": {"newuser"},
			"password": {"longenoughpass"},
		}
		rec := ts.do(http.MethodPost, "/v1/users?"+form.Encode(), "", nil)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp signupResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "new@example.com", resp.User.Email)
		assert.NotEmpty(t, resp.JWT)
		assert.Zero(t, resp.SessionID)
	})

	t.Run("rejects a bad signature with 1101", func(t *testing.T) {
		ts := newTestServer(t)

		form := url.Values{
			"auth":     {"firstkey,notthesignature"},
			"email":    {"new@example.com"},
			"username": {"newuser"},
			"password": {"longenoughpass"},
		}
		rec := ts.do(http.MethodPost, "/v1/users?"+form.Encode(), "", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "1101")
	})

	t.Run("requires the full device block once any device field appears", func(t *testing.T) {
		ts := newTestServer(t)

		form := url.Values{
			"auth":        {ts.devAuth(firstPartyDevID)},
			"email":       {"new@example.com"},
			"username":    {"newuser"},
			"password":    {"longenoughpass"},
			"device_name": {"Pixel"},
		}
		rec := ts.do(http.MethodPost, "/v1/users?"+form.Encode(), "", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "2110")
		assert.Contains(t, body, "2118")
		assert.Contains(t, body, "2126")
		assert.Contains(t, body, "2127")
	})
}

func TestLoginEndpoint(t *testing.T) {
	t.Run("issues a token", func(t *testing.T) {
		ts := newTestServer(t)

		body := `{"auth":"` + ts.devAuth(firstPartyDevID) + `","email":"` + seedEmail + `","password":"` + seedPassword + `"}`
		rec := ts.do(http.MethodPost, "/v1/users/login", body, jsonHeader())

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp tokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		claims, errs := ts.issuer.Parse(resp.JWT)
		require.True(t, errs.Empty())
		assert.Equal(t, seedUserID, claims.UserID)
	})

	t.Run("wrong password", func(t *testing.T) {
		ts := newTestServer(t)

		body := `{"auth":"` + ts.devAuth(firstPartyDevID) + `","email":"` + seedEmail + `","password":"wrong"}`
		rec := ts.do(http.MethodPost, "/v1/users/login", body, jsonHeader())

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "1201")
	})

	t.Run("query parameters win over body values", func(t *testing.T) {
		ts := newTestServer(t)

		form := url.Values{
			"auth":     {ts.devAuth(firstPartyDevID)},
			"email":    {seedEmail},
			"password": {seedPassword},
		}
		body := `{"password":"bodyvaluethatiswrong"}`
		rec := ts.do(http.MethodPost, "/v1/users/login?"+form.Encode(), body, jsonHeader())

		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestLoginByJWTEndpoint(t *testing.T) {
	t.Run("reissues under the named dev", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.userJWT(t, firstPartyDevID)

		rec := ts.do(http.MethodPost, "/v1/users/login_by_jwt?api_key=thirdkey", "", bearer(token))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp tokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		claims, errs := ts.issuer.Parse(resp.JWT)
		require.True(t, errs.Empty())
		assert.Equal(t, thirdPartyDevID, claims.DevID)
	})

	t.Run("missing token and api_key collect together", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodPost, "/v1/users/login_by_jwt", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "2102")
		assert.Contains(t, body, "2118")
	})
}

func TestGetUserEndpoint(t *testing.T) {
	t.Run("owner reads the profile", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.userJWT(t, thirdPartyDevID)

		rec := ts.do(http.MethodGet, "/v1/users/10", "", bearer(token))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), seedEmail)
	})

	t.Run("me resolves the token holder", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.userJWT(t, thirdPartyDevID)

		rec := ts.do(http.MethodGet, "/v1/users/me", "", bearer(token))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"username":"franz"`)
	})

	t.Run("no token", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodGet, "/v1/users/10", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "2102")
	})

	t.Run("expired token", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodGet, "/v1/users/10", "", bearer("not-a-jwt"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "1302")
	})
}

func TestUpdateUserEndpoint(t *testing.T) {
	t.Run("rejects non-json bodies", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.userJWT(t, firstPartyDevID)

		header := bearer(token)
		header["Content-Type"] = "text/plain"
		rec := ts.do(http.MethodPut, "/v1/users", "username=other", header)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.Contains(t, rec.Body.String(), "1104")
	})

	t.Run("updates the username", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.userJWT(t, firstPartyDevID)

		header := bearer(token)
		header["Content-Type"] = "application/json"
		rec := ts.do(http.MethodPut, "/v1/users", `{"username":"renamed"}`, header)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "renamed", ts.store.users[seedUserID].Username)
	})

	t.Run("omitted plan leaves the plan untouched", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.userJWT(t, firstPartyDevID)

		header := bearer(token)
		header["Content-Type"] = "application/json"
		rec := ts.do(http.MethodPut, "/v1/users", `{"username":"renamed"}`, header)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, model.PlanFree, ts.store.users[seedUserID].Plan)
	})

	t.Run("empty plan value is rejected", func(t *testing.T) {
		ts := newTestServer(t)
		token := ts.userJWT(t, firstPartyDevID)

		header := bearer(token)
		header["Content-Type"] = "application/json"
		rec := ts.do(http.MethodPut, "/v1/users", `{"plan":""}`, header)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "1108")
	})
}

func TestDeleteUserEndpoint(t *testing.T) {
	t.Run("requires both confirmation tokens", func(t *testing.T) {
		ts := newTestServer(t)

		form := url.Values{
			"auth":  {ts.devAuth(firstPartyDevID)},
			"email": {seedEmail},
		}
		rec := ts.do(http.MethodDelete, "/v1/users?"+form.Encode(), "", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "2108")
		assert.Contains(t, body, "2109")
	})

	t.Run("destroys the account with valid tokens", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.users[seedUserID].EmailConfirmationToken = "email-tok"
		ts.store.users[seedUserID].PasswordConfirmationToken = "pass-tok"

		form := url.Values{
			"auth":                        {ts.devAuth(firstPartyDevID)},
			"email":                       {seedEmail},
			"email_confirmation_token":    {"email-tok"},
			"password_confirmation_token": {"pass-tok"},
		}
		rec := ts.do(http.MethodDelete, "/v1/users?"+form.Encode(), "", nil)

		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		_, ok := ts.store.users[seedUserID]
		assert.False(t, ok)
	})
}

func TestConfirmEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.store.users[seedUserID].Confirmed = false
	ts.store.users[seedUserID].EmailConfirmationToken = "confirm-me"

	form := url.Values{
		"auth":                     {ts.devAuth(firstPartyDevID)},
		"email":                    {seedEmail},
		"email_confirmation_token": {"confirm-me"},
	}
	rec := ts.do(http.MethodPost, "/v1/users/confirm?"+form.Encode(), "", nil)

	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.True(t, ts.store.users[seedUserID].Confirmed)
}

func TestRemoveAppEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.store.userApps[[2]int64{seedUserID, 5}] = &model.UserApp{
		UserID: seedUserID, AppID: 5, UsedStorage: 100,
	}
	token := ts.userJWT(t, firstPartyDevID)

	rec := ts.do(http.MethodPost, "/v1/users/remove_app?id=5", "", bearer(token))

	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	_, ok := ts.store.userApps[[2]int64{seedUserID, 5}]
	assert.False(t, ok)
}
