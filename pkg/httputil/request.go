package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// Params exposes request parameters with the platform's merge contract:
// query string values win over JSON body values. Body parsing is lenient;
// a missing or non-object body simply contributes no values.
type Params struct {
	query map[string][]string
	body  map[string]interface{}
}

// ParseParams reads the query string and, for JSON requests, the body.
func ParseParams(r *http.Request) *Params {
	p := &Params{query: r.URL.Query()}

	if r.Body == nil {
		return p
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return p
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(raw) == 0 {
		return p
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err == nil {
		p.body = body
	}
	return p
}

// Get returns the string value for a key, or "" when absent.
func (p *Params) Get(key string) string {
	if vals, ok := p.query[key]; ok && len(vals) > 0 && vals[0] != "" {
		return vals[0]
	}
	if p.body != nil {
		switch v := p.body[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// Has reports whether a non-empty value exists for the key.
func (p *Params) Has(key string) bool {
	return p.Get(key) != ""
}

// Present reports whether the key was supplied at all, even with an empty
// value. Has treats empty as missing, which is what required-field checks
// want; Present is for fields where an empty value is itself an input.
func (p *Params) Present(key string) bool {
	if vals, ok := p.query[key]; ok && len(vals) > 0 {
		return true
	}
	if p.body != nil {
		if _, ok := p.body[key]; ok {
			return true
		}
	}
	return false
}

// GetInt64 returns the integer value for a key, or 0 when absent or
// unparseable.
func (p *Params) GetInt64(key string) int64 {
	raw := p.Get(key)
	if raw == "" {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return val
}

// GetBool returns the boolean value for a key.
func (p *Params) GetBool(key string) bool {
	return strings.EqualFold(p.Get(key), "true")
}

// IsJSON reports whether the request carries a JSON content type,
// with or without a charset parameter.
func IsJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// BearerToken extracts a bearer token from the Authorization header.
// Headers without the Bearer prefix are returned as-is, matching clients
// that send the raw token.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return header
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	vars := mux.Vars(r)
	str := vars[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	vars := mux.Vars(r)
	str := vars[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// GetPathVars returns all path variables from the request
func GetPathVars(r *http.Request) map[string]string {
	return mux.Vars(r)
}
