package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/audit"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/httputil"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/store"
)

// guard verifies request credentials and records every decision in the
// audit log and the auth metrics. Handlers run it after the structural
// field checks so missing-field errors are collected before any
// credential work.
type guard struct {
	devs    store.DevStore
	issuer  *auth.TokenIssuer
	audit   *audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
}

// dev resolves and verifies the HMAC credential from the auth parameter
// or the Authorization header. Every failure maps to the single 1101
// response; the distinction between a malformed credential, an unknown
// key, and a bad signature lives only in the audit log.
func (g *guard) dev(r *http.Request, p *httputil.Params) (*model.Dev, *apierr.List) {
	raw := devCredentialValue(r, p)
	if raw == "" {
		return nil, apierr.New(apierr.MissingAuth)
	}

	cred, ok := auth.ParseDevCredential(raw)
	if !ok {
		g.record(r, audit.KindCredential, audit.ResultDenied, 0, 0, apierr.AuthenticationFailed)
		g.metrics.AuthAttemptsTotal.WithLabelValues("hmac", "denied").Inc()
		return nil, apierr.New(apierr.AuthenticationFailed)
	}

	dev, err := g.devs.GetDevByAPIKey(r.Context(), cred.APIKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.WithError(err).Error("dev lookup failed")
		}
		g.record(r, audit.KindCredential, audit.ResultDenied, 0, 0, apierr.AuthenticationFailed)
		g.metrics.AuthAttemptsTotal.WithLabelValues("hmac", "denied").Inc()
		return nil, apierr.New(apierr.AuthenticationFailed)
	}

	if !auth.VerifySignature(cred.Signature, dev.SecretKey, dev.UUID) {
		g.record(r, audit.KindCredential, audit.ResultDenied, dev.ID, 0, apierr.AuthenticationFailed)
		g.metrics.AuthAttemptsTotal.WithLabelValues("hmac", "denied").Inc()
		return nil, apierr.New(apierr.AuthenticationFailed)
	}

	g.record(r, audit.KindCredential, audit.ResultAllowed, dev.ID, 0, 0)
	g.metrics.AuthAttemptsTotal.WithLabelValues("hmac", "allowed").Inc()
	return dev, nil
}

// token parses the JWT from the jwt parameter, falling back to the
// Authorization header.
func (g *guard) token(r *http.Request, p *httputil.Params) (*auth.Claims, *apierr.List) {
	raw := p.Get("jwt")
	if raw == "" {
		raw = httputil.BearerToken(r)
	}
	if raw == "" {
		return nil, apierr.New(apierr.MissingToken)
	}

	claims, errs := g.issuer.Parse(raw)
	if !errs.Empty() {
		code := apierr.TokenUnknownError
		if items := errs.Items(); len(items) > 0 {
			code = items[0].Code
		}
		g.record(r, audit.KindToken, audit.ResultDenied, 0, 0, code)
		g.metrics.AuthAttemptsTotal.WithLabelValues("jwt", "denied").Inc()
		return nil, errs
	}

	g.record(r, audit.KindToken, audit.ResultAllowed, claims.DevID, claims.UserID, 0)
	g.metrics.AuthAttemptsTotal.WithLabelValues("jwt", "allowed").Inc()
	return claims, nil
}

// hasToken reports whether the request carries a token at all, for the
// structural stage.
func hasToken(r *http.Request, p *httputil.Params) bool {
	return p.Has("jwt") || httputil.BearerToken(r) != ""
}

// devCredentialValue extracts the raw HMAC credential. The auth parameter
// wins; the Authorization header is accepted when it carries the comma
// form, which a JWT never contains.
func devCredentialValue(r *http.Request, p *httputil.Params) string {
	if raw := p.Get("auth"); raw != "" {
		return raw
	}
	if header := httputil.BearerToken(r); strings.Contains(header, ",") {
		return header
	}
	return ""
}

func hasDevCredential(r *http.Request, p *httputil.Params) bool {
	return devCredentialValue(r, p) != ""
}

func (g *guard) record(r *http.Request, kind, result string, devID, userID int64, code apierr.Code) {
	if g.audit == nil {
		return
	}
	event := &audit.Event{
		Kind:      kind,
		Result:    result,
		DevID:     devID,
		UserID:    userID,
		Code:      int(code),
		RequestID: observability.GetRequestID(r.Context()),
		Path:      r.URL.Path,
	}
	if err := g.audit.Log(r.Context(), event); err != nil {
		g.logger.WithError(err).Warn("audit write failed")
	}
}
