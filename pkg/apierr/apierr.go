// Package apierr defines the platform's numeric error code taxonomy and the
// multi-error list returned by every API endpoint.
//
// Codes are grouped by family: 11xx general request failures, 12xx credential
// failures, 13xx token failures, 21xx missing fields, 22xx/23xx length
// violations, 24xx format violations, 26xx empty pending fields, 27xx
// uniqueness conflicts, 28xx missing resources.
package apierr

import (
	"fmt"
	"net/http"
	"sort"
)

// Code is a numeric API error code.
type Code int

const (
	AuthenticationFailed     Code = 1101
	ActionNotAllowed         Code = 1102
	UnknownValidationError   Code = 1103
	ContentTypeNotSupported  Code = 1104
	UserAlreadyConfirmed     Code = 1106
	PlanDoesNotExist         Code = 1108
	FileExtensionNotAllowed  Code = 1109
	PaymentInformationMissing Code = 1113
	AppNotInUse              Code = 1114
	TooManyRequests          Code = 1115

	PasswordIncorrect                  Code = 1201
	UserNotConfirmed                   Code = 1202
	PasswordConfirmationTokenIncorrect Code = 1203
	EmailConfirmationTokenIncorrect    Code = 1204

	TokenExpired      Code = 1301
	TokenInvalid      Code = 1302
	TokenUnknownError Code = 1303

	MissingAuth                      Code = 2101
	MissingToken                     Code = 2102
	MissingID                        Code = 2103
	MissingUserID                    Code = 2104
	MissingUsername                  Code = 2105
	MissingEmail                     Code = 2106
	MissingPassword                  Code = 2107
	MissingEmailConfirmationToken    Code = 2108
	MissingPasswordConfirmationToken Code = 2109
	MissingAppID                     Code = 2110
	MissingAPIKey                    Code = 2118
	MissingDeviceName                Code = 2125
	MissingDeviceType                Code = 2126
	MissingDeviceOS                  Code = 2127

	UsernameTooShort Code = 2201
	PasswordTooShort Code = 2202
	UsernameTooLong  Code = 2301
	PasswordTooLong  Code = 2302

	EmailInvalid        Code = 2401
	PaymentTokenInvalid Code = 2405

	NewEmailEmpty    Code = 2601
	OldEmailEmpty    Code = 2602
	NewPasswordEmpty Code = 2603

	UsernameTaken Code = 2701
	EmailTaken    Code = 2702

	UserNotFound        Code = 2801
	DevNotFound         Code = 2802
	AppNotFound         Code = 2803
	ArchiveNotFound     Code = 2810
	ArchivePartNotFound Code = 2811
	SessionNotFound     Code = 2814
)

var messages = map[Code]string{
	AuthenticationFailed:      "Authentication failed",
	ActionNotAllowed:          "Action not allowed",
	UnknownValidationError:    "Unknown validation error",
	ContentTypeNotSupported:   "Content-type not supported",
	UserAlreadyConfirmed:      "User is already confirmed",
	PlanDoesNotExist:          "Plan does not exist",
	FileExtensionNotAllowed:   "File extension not supported",
	PaymentInformationMissing: "Payment information missing",
	AppNotInUse:               "App is not in use",
	TooManyRequests:           "Too many requests",

	PasswordIncorrect:                  "Password is incorrect",
	UserNotConfirmed:                   "User is not confirmed",
	PasswordConfirmationTokenIncorrect: "Password confirmation token is incorrect",
	EmailConfirmationTokenIncorrect:    "Email confirmation token is incorrect",

	TokenExpired:      "JWT expired",
	TokenInvalid:      "JWT invalid",
	TokenUnknownError: "JWT unknown error",

	MissingAuth:                      "Missing field: auth",
	MissingToken:                     "Missing field: jwt",
	MissingID:                        "Missing field: id",
	MissingUserID:                    "Missing field: user_id",
	MissingUsername:                  "Missing field: username",
	MissingEmail:                     "Missing field: email",
	MissingPassword:                  "Missing field: password",
	MissingEmailConfirmationToken:    "Missing field: email_confirmation_token",
	MissingPasswordConfirmationToken: "Missing field: password_confirmation_token",
	MissingAppID:                     "Missing field: app_id",
	MissingAPIKey:                    "Missing field: api_key",
	MissingDeviceName:                "Missing field: device_name",
	MissingDeviceType:                "Missing field: device_type",
	MissingDeviceOS:                  "Missing field: device_os",

	UsernameTooShort: "Field too short: username",
	PasswordTooShort: "Field too short: password",
	UsernameTooLong:  "Field too long: username",
	PasswordTooLong:  "Field too long: password",

	EmailInvalid:        "Field not valid: email",
	PaymentTokenInvalid: "Field not valid: payment_token",

	NewEmailEmpty:    "Field empty: new_email",
	OldEmailEmpty:    "Field empty: old_email",
	NewPasswordEmpty: "Field empty: new_password",

	UsernameTaken: "Field already taken: username",
	EmailTaken:    "Field already taken: email",

	UserNotFound:        "Resource does not exist: User",
	DevNotFound:         "Resource does not exist: Dev",
	AppNotFound:         "Resource does not exist: App",
	ArchiveNotFound:     "Resource does not exist: Archive",
	ArchivePartNotFound: "Resource does not exist: ArchivePart",
	SessionNotFound:     "Resource does not exist: Session",
}

// Message returns the canonical message for the code.
func (c Code) Message() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Status returns the default HTTP status for the code.
func (c Code) Status() int {
	switch c {
	case AuthenticationFailed, PasswordIncorrect,
		TokenExpired, TokenInvalid, TokenUnknownError,
		MissingAuth, MissingToken:
		return http.StatusUnauthorized
	case ActionNotAllowed:
		return http.StatusForbidden
	case ContentTypeNotSupported:
		return http.StatusUnsupportedMediaType
	case TooManyRequests:
		return http.StatusTooManyRequests
	case UnknownValidationError:
		return http.StatusInternalServerError
	case AppNotInUse,
		UserNotFound, DevNotFound, AppNotFound,
		ArchiveNotFound, ArchivePartNotFound, SessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// Item is a single collected error with the status it was raised under.
// Resource-lookup codes default to 404 but some flows raise them as 400
// (e.g. a dangling dev reference during login), so the status travels with
// the item rather than being derived at render time.
type Item struct {
	Code   Code
	Status int
}

// List collects errors across a request's validation pipeline.
// The zero value is ready to use.
type List struct {
	items []Item
}

// New returns a list containing a single error with its default status.
func New(code Code) *List {
	l := &List{}
	l.Add(code)
	return l
}

// NewStatus returns a list containing a single error with an explicit status.
func NewStatus(code Code, status int) *List {
	l := &List{}
	l.AddStatus(code, status)
	return l
}

// Add appends an error using the code's default status.
func (l *List) Add(code Code) {
	l.AddStatus(code, code.Status())
}

// AddStatus appends an error with an explicit status override.
func (l *List) AddStatus(code Code, status int) {
	l.items = append(l.items, Item{Code: code, Status: status})
}

// Merge appends all items from other.
func (l *List) Merge(other *List) {
	if other == nil {
		return
	}
	l.items = append(l.items, other.items...)
}

// Empty reports whether no errors were collected.
func (l *List) Empty() bool {
	return l == nil || len(l.items) == 0
}

// Len returns the number of collected errors.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Items returns the collected errors sorted ascending by code.
func (l *List) Items() []Item {
	if l == nil {
		return nil
	}
	out := make([]Item, len(l.items))
	copy(out, l.items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// HTTPStatus returns the response status for the list: the numeric maximum
// of the collected statuses, so a 401 credential failure outranks field
// 400s collected in the same pass. An empty list maps to 200.
func (l *List) HTTPStatus() int {
	if l.Empty() {
		return http.StatusOK
	}
	status := 0
	for _, item := range l.items {
		if item.Status > status {
			status = item.Status
		}
	}
	return status
}

// Pairs renders the sorted [code, message] tuples used in response bodies.
func (l *List) Pairs() [][]interface{} {
	items := l.Items()
	pairs := make([][]interface{}, 0, len(items))
	for _, item := range items {
		pairs = append(pairs, []interface{}{int(item.Code), item.Code.Message()})
	}
	return pairs
}

// Error implements the error interface.
func (l *List) Error() string {
	if l.Empty() {
		return "no errors"
	}
	items := l.Items()
	if len(items) == 1 {
		return fmt.Sprintf("api error %d: %s", items[0].Code, items[0].Code.Message())
	}
	return fmt.Sprintf("api errors (%d): first %d: %s", len(items), items[0].Code, items[0].Code.Message())
}

// Has reports whether the list contains the given code.
func (l *List) Has(code Code) bool {
	if l == nil {
		return false
	}
	for _, item := range l.items {
		if item.Code == code {
			return true
		}
	}
	return false
}
