package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/httputil"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/user"
)

// UserHandlers serves the account lifecycle endpoints.
type UserHandlers struct {
	users *user.Service
	guard *guard
}

// NewUserHandlers creates user handlers.
func NewUserHandlers(users *user.Service, g *guard) *UserHandlers {
	return &UserHandlers{users: users, guard: g}
}

// RegisterRoutes registers the user routes on the router.
func (h *UserHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/users", h.signup).Methods(http.MethodPost)
	r.HandleFunc("/v1/users", h.update).Methods(http.MethodPut)
	r.HandleFunc("/v1/users", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/v1/users/me", h.getMe).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{id:[0-9]+}", h.getUser).Methods(http.MethodGet)

	r.HandleFunc("/v1/users/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/login_by_jwt", h.loginByJWT).Methods(http.MethodPost)

	r.HandleFunc("/v1/users/confirm", h.confirm).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/send_verification_email", h.sendVerificationEmail).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/send_reset_password_email", h.sendResetPasswordEmail).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/send_delete_account_email", h.sendDeleteAccountEmail).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/set_password", h.setPassword).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/save_new_password", h.saveNewPassword).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/save_new_email", h.saveNewEmail).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/reset_new_email", h.resetNewEmail).Methods(http.MethodPost)
}

type signupResponse struct {
	User      *model.User `json:"user"`
	JWT       string      `json:"jwt"`
	SessionID int64       `json:"session_id,omitempty"`
}

type tokenResponse struct {
	JWT string `json:"jwt"`
}

func (h *UserHandlers) signup(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasDevCredential(r, p) {
		errs.Add(apierr.MissingAuth)
	}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !p.Has("username") {
		errs.Add(apierr.MissingUsername)
	}
	if !p.Has("password") {
		errs.Add(apierr.MissingPassword)
	}

	in := user.SignupInput{
		Email:      p.Get("email"),
		Username:   p.Get("username"),
		Password:   p.Get("password"),
		APIKey:     p.Get("api_key"),
		AppID:      p.GetInt64("app_id"),
		DeviceName: p.Get("device_name"),
		DeviceType: p.Get("device_type"),
		DeviceOS:   p.Get("device_os"),
	}
	if in.WithDevice() {
		collectDeviceFields(errs, p)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	actingDev, errs := h.guard.dev(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	result, errs := h.users.Signup(r.Context(), actingDev, in)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteCreated(w, signupResponse{
		User:      result.User,
		JWT:       result.JWT,
		SessionID: result.SessionID,
	})
}

func (h *UserHandlers) login(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasDevCredential(r, p) {
		errs.Add(apierr.MissingAuth)
	}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !p.Has("password") {
		errs.Add(apierr.MissingPassword)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	actingDev, errs := h.guard.dev(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	result, errs := h.users.Login(r.Context(), actingDev, p.Get("email"), p.Get("password"))
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, tokenResponse{JWT: result.JWT})
}

func (h *UserHandlers) loginByJWT(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasToken(r, p) {
		errs.Add(apierr.MissingToken)
	}
	if !p.Has("api_key") {
		errs.Add(apierr.MissingAPIKey)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	result, errs := h.users.LoginByJWT(r.Context(), claims, p.Get("api_key"))
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, tokenResponse{JWT: result.JWT})
}

func (h *UserHandlers) getMe(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)
	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	profile, errs := h.users.GetUserByJWT(r.Context(), claims)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, profile)
}

func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)
	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteCode(w, apierr.MissingID)
		return
	}

	profile, errs := h.users.GetUser(r.Context(), claims, id)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, profile)
}

func (h *UserHandlers) update(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength != 0 && !httputil.IsJSON(r) {
		httputil.WriteCode(w, apierr.ContentTypeNotSupported)
		return
	}
	p := httputil.ParseParams(r)

	claims, errs := h.guard.token(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	in := user.UpdateInput{
		Email:        p.Get("email"),
		Username:     p.Get("username"),
		Password:     p.Get("password"),
		Avatar:       p.Get("avatar"),
		PaymentToken: p.Get("payment_token"),
	}
	// Plan distinguishes absent from empty; an empty plan value is a
	// validation error.
	if p.Present("plan") {
		plan := p.Get("plan")
		in.Plan = &plan
	}

	profile, errs := h.users.UpdateUser(r.Context(), claims, in)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// delete destroys an account. It is authenticated by the dev credential
// plus the two confirmation tokens from the delete-account email, never
// by a JWT, so a stolen token alone cannot destroy an account.
func (h *UserHandlers) delete(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasDevCredential(r, p) {
		errs.Add(apierr.MissingAuth)
	}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !p.Has("email_confirmation_token") {
		errs.Add(apierr.MissingEmailConfirmationToken)
	}
	if !p.Has("password_confirmation_token") {
		errs.Add(apierr.MissingPasswordConfirmationToken)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if _, errs := h.guard.dev(r, p); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	errs = h.users.Delete(r.Context(), p.Get("email"),
		p.Get("email_confirmation_token"), p.Get("password_confirmation_token"))
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *UserHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasDevCredential(r, p) {
		errs.Add(apierr.MissingAuth)
	}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !p.Has("email_confirmation_token") {
		errs.Add(apierr.MissingEmailConfirmationToken)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if _, errs := h.guard.dev(r, p); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if errs := h.users.Confirm(r.Context(), p.Get("email"), p.Get("email_confirmation_token")); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *UserHandlers) sendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	h.emailFlow(w, r, h.users.SendVerificationEmail)
}

func (h *UserHandlers) sendResetPasswordEmail(w http.ResponseWriter, r *http.Request) {
	h.emailFlow(w, r, h.users.SendResetPasswordEmail)
}

func (h *UserHandlers) saveNewEmail(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !p.Has("email_confirmation_token") {
		errs.Add(apierr.MissingEmailConfirmationToken)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if errs := h.users.SaveNewEmail(r.Context(), p.Get("email"), p.Get("email_confirmation_token")); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *UserHandlers) saveNewPassword(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !p.Has("password_confirmation_token") {
		errs.Add(apierr.MissingPasswordConfirmationToken)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if errs := h.users.SaveNewPassword(r.Context(), p.Get("email"), p.Get("password_confirmation_token")); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *UserHandlers) resetNewEmail(w http.ResponseWriter, r *http.Request) {
	h.emailFlow(w, r, h.users.ResetNewEmail)
}

func (h *UserHandlers) setPassword(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !p.Has("password_confirmation_token") {
		errs.Add(apierr.MissingPasswordConfirmationToken)
	}
	if !p.Has("password") {
		errs.Add(apierr.MissingPassword)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if errs := h.users.SetPassword(r.Context(), p.Get("password_confirmation_token"), p.Get("password")); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *UserHandlers) sendDeleteAccountEmail(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParseParams(r)

	errs := &apierr.List{}
	if !hasDevCredential(r, p) {
		errs.Add(apierr.MissingAuth)
	}
	if !p.Has("email") {
		errs.Add(apierr.MissingEmail)
	}
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	actingDev, errs := h.guard.dev(r, p)
	if !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}

	if errs := h.users.SendDeleteAccountEmail(r.Context(), actingDev, p.Get("email")); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

// emailFlow handles the unauthenticated email-only endpoints.
func (h *UserHandlers) emailFlow(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, email string) *apierr.List) {
	p := httputil.ParseParams(r)
	if !p.Has("email") {
		httputil.WriteCode(w, apierr.MissingEmail)
		return
	}
	if errs := fn(r.Context(), p.Get("email")); !errs.Empty() {
		httputil.WriteErrors(w, errs)
		return
	}
	httputil.WriteNoContent(w)
}

// collectDeviceFields requires the complete device block once any of its
// fields is present.
func collectDeviceFields(errs *apierr.List, p *httputil.Params) {
	if !p.Has("api_key") {
		errs.Add(apierr.MissingAPIKey)
	}
	if !p.Has("app_id") {
		errs.Add(apierr.MissingAppID)
	}
	if !p.Has("device_name") {
		errs.Add(apierr.MissingDeviceName)
	}
	if !p.Has("device_type") {
		errs.Add(apierr.MissingDeviceType)
	}
	if !p.Has("device_os") {
		errs.Add(apierr.MissingDeviceOS)
	}
}
