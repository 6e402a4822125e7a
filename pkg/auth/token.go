package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/model"
)

// Claims is the signed payload of a platform JWT. SessionID is zero for
// plain logins and set for device sessions created through a first-party
// client; it is a normal signed claim, never an unsigned suffix.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Username  string `json:"username"`
	UserID    int64  `json:"user_id"`
	DevID     int64  `json:"dev_id"`
	SessionID int64  `json:"session_id,omitempty"`
}

// TokenIssuer signs and parses platform JWTs with a process-wide secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer. The TTL differs between
// production and non-production deployments and comes from config.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for the user acting through the given dev.
// A sessionID of zero omits the session claim.
func (t *TokenIssuer) Issue(user *model.User, devID int64, sessionID int64) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:     user.Email,
		Username:  user.Username,
		UserID:    user.ID,
		DevID:     devID,
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies a token and returns its claims. Failures map onto the
// token error codes: expired, invalid, or unknown.
func (t *TokenIssuer) Parse(tokenString string) (*Claims, *apierr.List) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apierr.New(apierr.TokenExpired)
		case errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrSignatureInvalid),
			errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, apierr.New(apierr.TokenInvalid)
		default:
			return nil, apierr.New(apierr.TokenUnknownError)
		}
	}
	if !token.Valid {
		return nil, apierr.New(apierr.TokenInvalid)
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}
