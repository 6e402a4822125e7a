// Package auth implements the platform's dual-credential scheme: per-dev
// HMAC-signed requests and per-user signed JWTs.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	apiKeyBytes    = 30
	secretKeyBytes = 40
)

// KeySet is the credential material issued to a dev. Generated exactly once
// at registration; changes only through an explicit rotation.
type KeySet struct {
	APIKey    string
	SecretKey string
	UUID      string
}

// GenerateKeySet creates fresh dev credentials.
func GenerateKeySet() (KeySet, error) {
	apiKey, err := randomToken(apiKeyBytes)
	if err != nil {
		return KeySet{}, fmt.Errorf("failed to generate api key: %w", err)
	}
	secretKey, err := randomToken(secretKeyBytes)
	if err != nil {
		return KeySet{}, fmt.Errorf("failed to generate secret key: %w", err)
	}
	return KeySet{
		APIKey:    apiKey,
		SecretKey: secretKey,
		UUID:      uuid.NewString(),
	}, nil
}

// randomToken returns a URL-safe base64 token from n random bytes.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Signature computes the request signature for a dev: the base64 encoding
// of the hex HMAC-SHA256 digest of the dev's UUID under its secret key.
// The hex-then-base64 shape is part of the wire contract.
func Signature(secretKey, devUUID string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(devUUID))
	hexDigest := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(hexDigest))
}

// DevCredential is a parsed "api_key,signature" authorization header.
type DevCredential struct {
	APIKey    string
	Signature string
}

// ParseDevCredential splits the credential header. Malformed input (missing
// comma, empty segment) fails closed.
func ParseDevCredential(header string) (DevCredential, bool) {
	parts := strings.SplitN(header, ",", 2)
	if len(parts) != 2 {
		return DevCredential{}, false
	}
	cred := DevCredential{
		APIKey:    strings.TrimSpace(parts[0]),
		Signature: strings.TrimSpace(parts[1]),
	}
	if cred.APIKey == "" || cred.Signature == "" {
		return DevCredential{}, false
	}
	return cred, true
}

// VerifySignature checks a presented signature against the dev's key
// material in constant time.
func VerifySignature(presented, secretKey, devUUID string) bool {
	expected := Signature(secretKey, devUUID)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
