package apierr

import (
	"net/http"
	"testing"
)

func TestListSortsByCode(t *testing.T) {
	l := &List{}
	l.Add(MissingEmail)
	l.Add(MissingPassword)
	l.Add(MissingUsername)
	l.Add(MissingAuth)

	items := l.Items()
	expected := []Code{MissingAuth, MissingUsername, MissingEmail, MissingPassword}
	if len(items) != len(expected) {
		t.Fatalf("expected %d items, got %d", len(expected), len(items))
	}
	for i, code := range expected {
		if items[i].Code != code {
			t.Errorf("item %d: expected code %d, got %d", i, code, items[i].Code)
		}
	}
}

func TestListHTTPStatusTakesMaximum(t *testing.T) {
	l := &List{}
	l.Add(MissingEmail)    // 400
	l.Add(MissingAuth)     // 401
	l.Add(MissingPassword) // 400

	if status := l.HTTPStatus(); status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", status)
	}
}

func TestListHTTPStatusEmpty(t *testing.T) {
	l := &List{}
	if status := l.HTTPStatus(); status != http.StatusOK {
		t.Errorf("expected 200 for empty list, got %d", status)
	}
}

func TestStatusOverride(t *testing.T) {
	// Dangling dev reference during login surfaces as 404 even though the
	// default for most business errors is 400.
	l := NewStatus(DevNotFound, http.StatusNotFound)
	if status := l.HTTPStatus(); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestPairs(t *testing.T) {
	l := New(AuthenticationFailed)
	pairs := l.Pairs()
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0][0] != 1101 {
		t.Errorf("expected code 1101, got %v", pairs[0][0])
	}
	if pairs[0][1] != "Authentication failed" {
		t.Errorf("unexpected message: %v", pairs[0][1])
	}
}

func TestDefaultStatuses(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{AuthenticationFailed, http.StatusUnauthorized},
		{ActionNotAllowed, http.StatusForbidden},
		{ContentTypeNotSupported, http.StatusUnsupportedMediaType},
		{UnknownValidationError, http.StatusInternalServerError},
		{TokenExpired, http.StatusUnauthorized},
		{MissingAuth, http.StatusUnauthorized},
		{MissingEmail, http.StatusBadRequest},
		{UsernameTaken, http.StatusBadRequest},
		{UserNotFound, http.StatusNotFound},
		{SessionNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := tc.code.Status(); got != tc.status {
			t.Errorf("code %d: expected status %d, got %d", tc.code, tc.status, got)
		}
	}
}

func TestHas(t *testing.T) {
	l := New(MissingEmail)
	if !l.Has(MissingEmail) {
		t.Error("expected Has(MissingEmail) to be true")
	}
	if l.Has(MissingPassword) {
		t.Error("expected Has(MissingPassword) to be false")
	}
}

func TestMergeAndEmpty(t *testing.T) {
	var nilList *List
	if !nilList.Empty() {
		t.Error("nil list should be empty")
	}

	l := &List{}
	other := New(MissingEmail)
	l.Merge(other)
	l.Merge(nil)
	if l.Len() != 1 {
		t.Errorf("expected 1 item after merge, got %d", l.Len())
	}
}
