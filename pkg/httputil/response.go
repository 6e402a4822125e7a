// Package httputil provides HTTP handler utilities for the platform's
// response contract: JSON bodies on success and a sorted errors array on
// failure.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/appmantle/appmantle/pkg/apierr"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteAccepted writes a 202 Accepted response with JSON data
func WriteAccepted(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusAccepted, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse is the error body shape: a list of [code, message] pairs
// sorted ascending by code.
type ErrorResponse struct {
	Errors [][]interface{} `json:"errors"`
}

// WriteErrors writes the collected error list. The status is the numeric
// maximum of the statuses attached to the collected errors.
func WriteErrors(w http.ResponseWriter, errs *apierr.List) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errs.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{Errors: errs.Pairs()})
}

// WriteCode writes a single-error response using the code's default status.
func WriteCode(w http.ResponseWriter, code apierr.Code) {
	WriteErrors(w, apierr.New(code))
}

// WriteInternalError writes the catch-all 1103 response for unexpected
// failures. The underlying error is never exposed to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteCode(w, apierr.UnknownValidationError)
}
